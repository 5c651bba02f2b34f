package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/store"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

type fakeConn struct {
	id     types.ClientIDType
	closed string
}

func (c *fakeConn) ID() types.ClientIDType { return c.id }
func (c *fakeConn) Send([]byte) error      { return nil }
func (c *fakeConn) Close(reason string)    { c.closed = reason }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := store.NewService(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return New(svc)
}

func TestRegisterReturnsPrevious(t *testing.T) {
	reg := newTestRegistry(t)

	first := &fakeConn{id: "c1"}
	prev := reg.RegisterConnection("c1", first)
	assert.Nil(t, prev)

	second := &fakeConn{id: "c1"}
	prev = reg.RegisterConnection("c1", second)
	assert.Same(t, first, prev)

	current, ok := reg.Connection("c1")
	require.True(t, ok)
	assert.Same(t, second, current)
}

func TestDropConnectionOnlyIfCurrent(t *testing.T) {
	reg := newTestRegistry(t)

	old := &fakeConn{id: "c1"}
	replacement := &fakeConn{id: "c1"}
	reg.RegisterConnection("c1", old)
	reg.RegisterConnection("c1", replacement)

	// Dropping the superseded handle must not evict the replacement.
	reg.DropConnection("c1", old)
	current, ok := reg.Connection("c1")
	require.True(t, ok)
	assert.Same(t, replacement, current)

	reg.DropConnection("c1", replacement)
	_, ok = reg.Connection("c1")
	assert.False(t, ok)
}

func TestLocalConnections(t *testing.T) {
	reg := newTestRegistry(t)
	reg.RegisterConnection("a", &fakeConn{id: "a"})
	reg.RegisterConnection("b", &fakeConn{id: "b"})

	conns := reg.LocalConnections()
	assert.Len(t, conns, 2)
}

func TestBindLookupUnbind(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, ok, err := reg.LookupRoom(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.Bind(ctx, "c1", "123456"))
	roomID, ok, err := reg.LookupRoom(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.RoomIDType("123456"), roomID)

	require.NoError(t, reg.Unbind(ctx, "c1"))
	_, ok, err = reg.LookupRoom(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Unbind keeps the record alive for reconnect routing.
	rec, exists, err := reg.Record(ctx, "c1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Empty(t, rec.RoomID)
	assert.NotZero(t, rec.LastSeen)
}

func TestRemoveDeletesRecord(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Bind(ctx, "c1", "123456"))
	require.NoError(t, reg.Remove(ctx, "c1"))

	_, exists, err := reg.Record(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTouchSeenAdvances(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	early := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	reg.now = func() time.Time { return early }
	require.NoError(t, reg.TouchSeen(ctx, "c1"))
	rec, _, err := reg.Record(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, early.UnixMilli(), rec.LastSeen)

	reg.now = func() time.Time { return late }
	require.NoError(t, reg.TouchSeen(ctx, "c1"))
	rec, _, err = reg.Record(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, late.UnixMilli(), rec.LastSeen)
}
