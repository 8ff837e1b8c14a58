package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/commune-io/relay/internal/common/cnst"
	"github.com/commune-io/relay/internal/storage"
	"github.com/commune-io/relay/pkg/metrics"
)

// syncTimeout bounds the persisted-store sync on connect/disconnect
const syncTimeout = 10 * time.Second

// Hub owns the connection lifecycle and the two change-feed
// subscriptions, fanning decoded domain events out through its Router.
type Hub struct {
	logger        *zap.Logger
	registry      *Registry
	router        *Router
	reporter      *Reporter
	sessions      storage.SessionStore
	notifications storage.NotificationStore
	metrics       *metrics.Metrics
}

// NewHub creates a hub over the given registry and persisted stores
func NewHub(logger *zap.Logger, registry *Registry, sessions storage.SessionStore, notifications storage.NotificationStore, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:        logger.Named("relay.hub"),
		registry:      registry,
		router:        NewRouter(logger, registry, m),
		reporter:      NewReporter(logger),
		sessions:      sessions,
		notifications: notifications,
		metrics:       m,
	}
}

// Registry returns the hub's connection registry
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run establishes both change-feed subscriptions. Each feed is
// consumed by its own goroutine until ctx is cancelled; an error on
// one feed never stops the other.
func (h *Hub) Run(ctx context.Context) error {
	sessCh, err := h.sessions.Watch(ctx)
	if err != nil {
		return err
	}
	notifCh, err := h.notifications.Watch(ctx)
	if err != nil {
		return err
	}

	go h.listenSessionChanges(ctx, sessCh)
	go h.listenNotifications(notifCh)

	h.logger.Info("change-feed listeners started")
	return nil
}

// HandleConnection takes ownership of a socket that passed the gate:
// it starts the connection's pumps, binds the session record to the
// new connection and registers it for fanout.
func (h *Hub) HandleConnection(ws *websocket.Conn, meta Meta) *Conn {
	conn := newConn(ws, meta, h.logger)

	go conn.writePump()
	go conn.readPump(func() { h.handleDisconnect(conn) })
	h.handleConnect(conn)

	return conn
}

func (h *Hub) handleConnect(conn *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	sess, err := h.sessions.UpdateSocketID(ctx, conn.Meta().SessionID, conn.ID())
	if err != nil {
		h.reporter.Report(conn, cnst.SubjectCreateSession, "error creating session entry", err)
		conn.Close()
		h.metrics.ConnRefused("session_sync_failed")
		h.logger.Warn("refusing connection, session sync failed",
			zap.String("socketId", conn.ID()),
			zap.String("sid", conn.Meta().SessionID),
			zap.Error(err))
		return
	}

	if !h.registry.Register(conn) {
		// the client disconnected while the store sync was in flight;
		// the disconnect path owns the cleanup
		h.logger.Debug("connection closed before registration",
			zap.String("socketId", conn.ID()))
		return
	}

	h.metrics.ConnOpened()
	h.logger.Info("connection registered",
		zap.String("socketId", conn.ID()),
		zap.String("uid", conn.Meta().UID),
		zap.String("status", sess.Status))
}

func (h *Hub) handleDisconnect(conn *Conn) {
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	if _, err := h.sessions.UpdateSocketID(ctx, conn.Meta().SessionID, ""); err != nil {
		// best effort: the connection is usually gone already. The
		// stale socketId is overwritten by the session's next connect.
		h.reporter.Report(conn, cnst.SubjectDeleteSession, "error deleting the session entry", err)
		h.logger.Error("session sync failed on disconnect",
			zap.String("socketId", conn.ID()),
			zap.String("sid", conn.Meta().SessionID),
			zap.Error(err))
	}

	// registry consistency takes priority over persisted consistency
	if h.registry.Unregister(conn) {
		h.metrics.ConnClosed()
		h.logger.Info("connection unregistered",
			zap.String("socketId", conn.ID()),
			zap.String("uid", conn.Meta().UID))
	}
}

func (h *Hub) listenSessionChanges(ctx context.Context, ch <-chan storage.SessionEvent) {
	for ev := range ch {
		if ev.Err != nil {
			h.metrics.FeedError("session")
			h.logger.Error("session change feed error",
				zap.String("subject", cnst.SubjectListenSession),
				zap.Error(ev.Err))
			continue
		}

		switch ev.Op {
		case storage.OpInsert:
			if ev.Session == nil {
				h.metrics.FeedError("session")
				h.logger.Error("session insert event without document",
					zap.String("subject", cnst.SubjectListenSession),
					zap.String("id", ev.ID))
				continue
			}
			h.router.RouteSessionChange(&SessionChange{
				UID:        ev.Session.UID,
				ChangeType: cnst.ChangeTypeInsert,
			})
		case storage.OpUpdate:
			// the change event may carry only a partial delta, re-read
			// the full record
			sess, err := h.sessions.Get(ctx, ev.ID)
			if err != nil {
				h.metrics.FeedError("session")
				h.logger.Error("failed to re-read changed session",
					zap.String("subject", cnst.SubjectListenSession),
					zap.String("id", ev.ID),
					zap.Error(err))
				continue
			}
			h.router.RouteSessionChange(&SessionChange{
				UID:        sess.UID,
				Status:     sess.Status,
				ChangeType: cnst.ChangeTypeUpdate,
			})
		case storage.OpDelete:
			// deletions are observed but intentionally not propagated
			h.logger.Debug("session deleted", zap.String("id", ev.ID))
		}
	}
	h.logger.Info("session change feed closed")
}

func (h *Hub) listenNotifications(ch <-chan storage.NotificationEvent) {
	for ev := range ch {
		if ev.Err != nil {
			h.metrics.FeedError("notification")
			h.logger.Error("notification feed error",
				zap.String("subject", cnst.SubjectListenNotification),
				zap.Error(ev.Err))
			continue
		}
		if ev.Op != storage.OpInsert || ev.Notification == nil {
			// notifications are immutable, only inserts matter
			continue
		}
		h.router.RouteNotification(ev.Notification)
	}
	h.logger.Info("notification feed closed")
}
