package relay

import (
	"go.uber.org/zap"

	"github.com/commune-io/relay/internal/common/cnst"
	"github.com/commune-io/relay/internal/storage"
	"github.com/commune-io/relay/pkg/metrics"
)

// Router fans decoded domain events out to the live connections that
// should receive them.
type Router struct {
	logger   *zap.Logger
	registry *Registry
	metrics  *metrics.Metrics
}

// NewRouter creates a fanout router over the given registry
func NewRouter(logger *zap.Logger, registry *Registry, m *metrics.Metrics) *Router {
	return &Router{
		logger:   logger.Named("relay.fanout"),
		registry: registry,
		metrics:  m,
	}
}

// RouteNotification delivers a notification to each recipient's
// connections, or to every registered connection when the recipient
// set is empty.
func (f *Router) RouteNotification(n *storage.Notification) {
	if len(n.Recipients) == 0 {
		f.deliver(f.registry.All(), cnst.EventNotification, n)
		return
	}
	for _, uid := range n.Recipients {
		f.deliver(f.registry.LookupByUID(uid), cnst.EventNotification, n)
	}
}

// RouteSessionChange broadcasts a presence change to every registered
// connection; presence is a shared view, not a private one.
func (f *Router) RouteSessionChange(ev *SessionChange) {
	f.deliver(f.registry.All(), cnst.EventSessionChange, ev)
}

func (f *Router) deliver(conns []*Conn, event string, data interface{}) {
	for _, c := range conns {
		if err := c.Send(&Envelope{Event: event, Data: data}); err != nil {
			f.logger.Warn("dropping event for slow connection",
				zap.String("socketId", c.ID()),
				zap.String("event", event),
				zap.Error(err))
			continue
		}
		f.metrics.EventDelivered(event)
	}
}
