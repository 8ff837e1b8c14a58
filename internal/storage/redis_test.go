package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisSessionStore_CRUD(t *testing.T) {
	client := newTestRedis(t)
	s := NewRedisSessionStore(zap.NewNop(), client, "relay", 0)
	ctx := context.Background()

	sess := &Session{ID: "sid-1", UID: "u1"}
	require.NoError(t, s.Create(ctx, sess))
	assert.Equal(t, StatusOnline, sess.Status)

	// one active session per user
	assert.ErrorIs(t, s.Create(ctx, &Session{ID: "sid-2", UID: "u1"}), ErrUIDTaken)

	got, err := s.Get(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UID)

	got, err = s.GetByUID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sid-1", got.ID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	got, err = s.UpdateSocketID(ctx, "sid-1", "conn-9")
	require.NoError(t, err)
	assert.Equal(t, "conn-9", got.SocketID)

	got, err = s.UpdateSocketID(ctx, "sid-1", "")
	require.NoError(t, err)
	assert.Empty(t, got.SocketID)

	got, err = s.UpdateStatus(ctx, "sid-1", "away")
	require.NoError(t, err)
	assert.Equal(t, "away", got.Status)

	require.NoError(t, s.Delete(ctx, "sid-1"))
	_, err = s.Get(ctx, "sid-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	// uid index is released with the record
	assert.NoError(t, s.Create(ctx, &Session{ID: "sid-3", UID: "u1"}))
}

func TestRedisSessionStore_Watch(t *testing.T) {
	client := newTestRedis(t)
	s := NewRedisSessionStore(zap.NewNop(), client, "relay", 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx)
	require.NoError(t, err)
	// give the stream reader a moment to reach its first blocking read
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, s.Create(ctx, &Session{ID: "sid-1", UID: "u1"}))

	select {
	case ev := <-ch:
		assert.NoError(t, ev.Err)
		assert.Equal(t, OpInsert, ev.Op)
		assert.Equal(t, "sid-1", ev.ID)
		if assert.NotNil(t, ev.Session) {
			assert.Equal(t, "u1", ev.Session.UID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for insert event")
	}

	_, err = s.UpdateStatus(ctx, "sid-1", "away")
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.NoError(t, ev.Err)
		assert.Equal(t, OpUpdate, ev.Op)
		assert.Equal(t, "sid-1", ev.ID)
		assert.Nil(t, ev.Session)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for update event")
	}
}

func TestRedisNotificationStore_CreateAndWatch(t *testing.T) {
	client := newTestRedis(t)
	s := NewRedisNotificationStore(zap.NewNop(), client, "relay")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.ErrorIs(t, s.Create(ctx, &Notification{}), ErrNotificationInvalid)

	ch, err := s.Watch(ctx)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	n := &Notification{Message: "hello", Recipients: []string{"u1", "u3"}, Priority: 1}
	require.NoError(t, s.Create(ctx, n))

	select {
	case ev := <-ch:
		assert.NoError(t, ev.Err)
		assert.Equal(t, OpInsert, ev.Op)
		if assert.NotNil(t, ev.Notification) {
			assert.Equal(t, "hello", ev.Notification.Message)
			assert.Equal(t, []string{"u1", "u3"}, ev.Notification.Recipients)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for insert event")
	}
}

func TestDecodeSessionMessage_Malformed(t *testing.T) {
	ev := decodeSessionMessage(redis.XMessage{ID: "1-0", Values: map[string]interface{}{}})
	assert.Error(t, ev.Err)

	ev = decodeSessionMessage(redis.XMessage{ID: "1-1", Values: map[string]interface{}{
		"op": "insert", "id": "sid-1", "doc": "{not json",
	}})
	assert.Error(t, ev.Err)
}

func TestDecodeNotificationMessage_Malformed(t *testing.T) {
	ev := decodeNotificationMessage(redis.XMessage{ID: "1-0", Values: map[string]interface{}{}})
	assert.Error(t, ev.Err)

	ev = decodeNotificationMessage(redis.XMessage{ID: "1-1", Values: map[string]interface{}{
		"op": "insert", "doc": "{not json",
	}})
	assert.Error(t, ev.Err)
}
