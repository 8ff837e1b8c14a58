package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemorySessionStore implements SessionStore using in-memory storage
type MemorySessionStore struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
	byUID    map[string]string // uid -> session id
	watchers []chan SessionEvent
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates a new in-memory session store
func NewMemorySessionStore(logger *zap.Logger) *MemorySessionStore {
	return &MemorySessionStore{
		logger:   logger.Named("storage.session.memory"),
		sessions: make(map[string]*Session),
		byUID:    make(map[string]string),
	}
}

// Create implements SessionStore.Create
func (s *MemorySessionStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUID[sess.UID]; exists {
		return ErrUIDTaken
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = StatusOnline
	}
	if sess.ExpiresAt == 0 {
		sess.ExpiresAt = NeverExpires
	}
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	cp := *sess
	s.sessions[sess.ID] = &cp
	s.byUID[sess.UID] = sess.ID

	s.publish(SessionEvent{Op: OpInsert, ID: sess.ID, Session: &cp})
	return nil
}

// Get implements SessionStore.Get
func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// GetByUID implements SessionStore.GetByUID
func (s *MemorySessionStore) GetByUID(ctx context.Context, uid string) (*Session, error) {
	s.mu.RLock()
	id, ok := s.byUID[uid]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Get(ctx, id)
}

// UpdateSocketID implements SessionStore.UpdateSocketID
func (s *MemorySessionStore) UpdateSocketID(_ context.Context, id, socketID string) (*Session, error) {
	return s.update(id, func(sess *Session) {
		sess.SocketID = socketID
	})
}

// UpdateStatus implements SessionStore.UpdateStatus
func (s *MemorySessionStore) UpdateStatus(_ context.Context, id, status string) (*Session, error) {
	return s.update(id, func(sess *Session) {
		sess.Status = status
	})
}

func (s *MemorySessionStore) update(id string, mutate func(*Session)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	mutate(sess)
	sess.UpdatedAt = time.Now()
	cp := *sess

	// update events carry only the document key; readers re-fetch
	s.publish(SessionEvent{Op: OpUpdate, ID: id})
	return &cp, nil
}

// Delete implements SessionStore.Delete
func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	delete(s.byUID, sess.UID)
	delete(s.sessions, id)

	s.publish(SessionEvent{Op: OpDelete, ID: id})
	return nil
}

// Watch implements SessionStore.Watch
func (s *MemorySessionStore) Watch(ctx context.Context) (<-chan SessionEvent, error) {
	ch := make(chan SessionEvent, 16)

	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// publish delivers an event to all watchers. Callers hold s.mu.
func (s *MemorySessionStore) publish(ev SessionEvent) {
	for _, w := range s.watchers {
		select {
		case w <- ev:
		default:
			s.logger.Warn("session feed watcher is full, dropping event",
				zap.String("op", string(ev.Op)),
				zap.String("id", ev.ID))
		}
	}
}

// MemoryNotificationStore implements NotificationStore using in-memory storage
type MemoryNotificationStore struct {
	logger        *zap.Logger
	mu            sync.RWMutex
	notifications map[string]*Notification
	watchers      []chan NotificationEvent
}

var _ NotificationStore = (*MemoryNotificationStore)(nil)

// NewMemoryNotificationStore creates a new in-memory notification store
func NewMemoryNotificationStore(logger *zap.Logger) *MemoryNotificationStore {
	return &MemoryNotificationStore{
		logger:        logger.Named("storage.notification.memory"),
		notifications: make(map[string]*Notification),
	}
}

// Create implements NotificationStore.Create
func (s *MemoryNotificationStore) Create(_ context.Context, n *Notification) error {
	if n.Message == "" {
		return ErrNotificationInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now()

	cp := *n
	s.notifications[n.ID] = &cp

	for _, w := range s.watchers {
		select {
		case w <- NotificationEvent{Op: OpInsert, Notification: &cp}:
		default:
			s.logger.Warn("notification feed watcher is full, dropping event",
				zap.String("id", n.ID))
		}
	}
	return nil
}

// Watch implements NotificationStore.Watch
func (s *MemoryNotificationStore) Watch(ctx context.Context) (<-chan NotificationEvent, error) {
	ch := make(chan NotificationEvent, 16)

	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
