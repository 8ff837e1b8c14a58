package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSessionStore implements SessionStore on Redis. Records are
// stored as JSON values; the change feed is a Redis stream that every
// mutation appends to.
type RedisSessionStore struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore creates a Redis-backed session store
func NewRedisSessionStore(logger *zap.Logger, client *redis.Client, prefix string, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{
		logger: logger.Named("storage.session.redis"),
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisSessionStore) key(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *RedisSessionStore) uidKey(uid string) string {
	return fmt.Sprintf("%s:session:uid:%s", s.prefix, uid)
}

func (s *RedisSessionStore) stream() string {
	return fmt.Sprintf("%s:sessions:stream", s.prefix)
}

// Create implements SessionStore.Create
func (s *RedisSessionStore) Create(ctx context.Context, sess *Session) error {
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

	// UID uniqueness via an index key; SetNX loses the race cleanly
	ok, err := s.client.SetNX(ctx, s.uidKey(sess.UID), sess.ID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve uid index: %w", err)
	}
	if !ok {
		return ErrUIDTaken
	}

	if err := s.write(ctx, sess); err != nil {
		return err
	}
	return s.append(ctx, OpInsert, sess)
}

// Get implements SessionStore.Get
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// GetByUID implements SessionStore.GetByUID
func (s *RedisSessionStore) GetByUID(ctx context.Context, uid string) (*Session, error) {
	id, err := s.client.Get(ctx, s.uidKey(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read uid index: %w", err)
	}
	return s.Get(ctx, id)
}

// UpdateSocketID implements SessionStore.UpdateSocketID
func (s *RedisSessionStore) UpdateSocketID(ctx context.Context, id, socketID string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) {
		sess.SocketID = socketID
	})
}

// UpdateStatus implements SessionStore.UpdateStatus
func (s *RedisSessionStore) UpdateStatus(ctx context.Context, id, status string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) {
		sess.Status = status
	})
}

func (s *RedisSessionStore) update(ctx context.Context, id string, mutate func(*Session)) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(sess)
	sess.UpdatedAt = time.Now()

	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.append(ctx, OpUpdate, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete implements SessionStore.Delete
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(id), s.uidKey(sess.UID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return s.append(ctx, OpDelete, sess)
}

func (s *RedisSessionStore) write(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) append(ctx context.Context, op Op, sess *Session) error {
	values := map[string]interface{}{
		"op": string(op),
		"id": sess.ID,
	}
	if op == OpInsert {
		doc, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("failed to marshal change document: %w", err)
		}
		values["doc"] = string(doc)
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: s.stream(), Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to append change event: %w", err)
	}
	return nil
}

// Watch implements SessionStore.Watch
func (s *RedisSessionStore) Watch(ctx context.Context) (<-chan SessionEvent, error) {
	ch := make(chan SessionEvent, 16)

	go func() {
		defer close(ch)

		// Start from the latest entry ($ means read only new messages)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
				streams, err := s.client.XRead(ctx, &redis.XReadArgs{
					Streams: []string{s.stream(), lastID},
					Count:   16,
					Block:   1 * time.Second,
				}).Result()

				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					if !errors.Is(err, redis.Nil) {
						s.logger.Error("failed to read session stream", zap.Error(err))
					}
					continue
				}

				for _, stream := range streams {
					for _, message := range stream.Messages {
						lastID = message.ID
						ch <- decodeSessionMessage(message)
					}
				}
			}
		}
	}()

	return ch, nil
}

func decodeSessionMessage(msg redis.XMessage) SessionEvent {
	op, _ := msg.Values["op"].(string)
	id, _ := msg.Values["id"].(string)
	if op == "" || id == "" {
		return SessionEvent{Err: fmt.Errorf("malformed session change entry %s", msg.ID)}
	}

	ev := SessionEvent{Op: Op(op), ID: id}
	if doc, ok := msg.Values["doc"].(string); ok {
		var sess Session
		if err := json.Unmarshal([]byte(doc), &sess); err != nil {
			return SessionEvent{Err: fmt.Errorf("malformed session change document %s: %w", msg.ID, err)}
		}
		ev.Session = &sess
	}
	return ev
}

// RedisNotificationStore implements NotificationStore on Redis.
type RedisNotificationStore struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
}

var _ NotificationStore = (*RedisNotificationStore)(nil)

// NewRedisNotificationStore creates a Redis-backed notification store
func NewRedisNotificationStore(logger *zap.Logger, client *redis.Client, prefix string) *RedisNotificationStore {
	return &RedisNotificationStore{
		logger: logger.Named("storage.notification.redis"),
		client: client,
		prefix: prefix,
	}
}

func (s *RedisNotificationStore) key(id string) string {
	return fmt.Sprintf("%s:notification:%s", s.prefix, id)
}

func (s *RedisNotificationStore) stream() string {
	return fmt.Sprintf("%s:notifications:stream", s.prefix)
}

// Create implements NotificationStore.Create
func (s *RedisNotificationStore) Create(ctx context.Context, n *Notification) error {
	if n.Message == "" {
		return ErrNotificationInvalid
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now()

	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.client.Set(ctx, s.key(n.ID), doc, 0).Err(); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}

	values := map[string]interface{}{
		"op":  string(OpInsert),
		"doc": string(doc),
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: s.stream(), Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to append change event: %w", err)
	}
	return nil
}

// Watch implements NotificationStore.Watch
func (s *RedisNotificationStore) Watch(ctx context.Context) (<-chan NotificationEvent, error) {
	ch := make(chan NotificationEvent, 16)

	go func() {
		defer close(ch)

		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
				streams, err := s.client.XRead(ctx, &redis.XReadArgs{
					Streams: []string{s.stream(), lastID},
					Count:   16,
					Block:   1 * time.Second,
				}).Result()

				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					if !errors.Is(err, redis.Nil) {
						s.logger.Error("failed to read notification stream", zap.Error(err))
					}
					continue
				}

				for _, stream := range streams {
					for _, message := range stream.Messages {
						lastID = message.ID
						ch <- decodeNotificationMessage(message)
					}
				}
			}
		}
	}()

	return ch, nil
}

func decodeNotificationMessage(msg redis.XMessage) NotificationEvent {
	op, _ := msg.Values["op"].(string)
	doc, _ := msg.Values["doc"].(string)
	if op == "" || doc == "" {
		return NotificationEvent{Err: fmt.Errorf("malformed notification change entry %s", msg.ID)}
	}

	var n Notification
	if err := json.Unmarshal([]byte(doc), &n); err != nil {
		return NotificationEvent{Err: fmt.Errorf("malformed notification change document %s: %w", msg.ID, err)}
	}
	return NotificationEvent{Op: Op(op), Notification: &n}
}
