package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testConn(uid string) *Conn {
	return newConn(nil, Meta{SessionID: "sid-" + uid, UID: uid}, zap.NewNop())
}

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	c1 := testConn("u1")
	c2 := testConn("u2")
	assert.True(t, r.Register(c1))
	assert.True(t, r.Register(c2))
	assert.Equal(t, 2, r.Size())

	got := r.LookupByUID("u1")
	if assert.Len(t, got, 1) {
		assert.Equal(t, c1.ID(), got[0].ID())
	}
	assert.Empty(t, r.LookupByUID("unknown"))
	assert.Len(t, r.All(), 2)

	assert.True(t, r.Unregister(c1))
	assert.Equal(t, 1, r.Size())
	assert.Empty(t, r.LookupByUID("u1"))

	// unregistering twice is a no-op
	assert.False(t, r.Unregister(c1))
}

func TestRegistry_MultiDevice(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	phone := testConn("u1")
	laptop := testConn("u1")
	assert.True(t, r.Register(phone))
	assert.True(t, r.Register(laptop))

	assert.Len(t, r.LookupByUID("u1"), 2)
}

func TestRegistry_RegisterClosedConnIsNoOp(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	c := testConn("u1")
	c.Close()

	// a disconnect that raced ahead of registration must win
	assert.False(t, r.Register(c))
	assert.Equal(t, 0, r.Size())
	assert.Empty(t, r.LookupByUID("u1"))
}
