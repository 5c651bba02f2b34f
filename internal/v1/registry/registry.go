// Package registry maps connection identities to rooms. It keeps two
// surfaces in sync: a process-local table of live connection handles used
// by the broadcast bus, and a persisted reverse-index (client:<id> hashes)
// used for reconnect routing and orphan cleanup.
package registry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/store"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

const (
	// KeyPrefix is the shared-store namespace for client records.
	KeyPrefix = "client:"

	// Hash fields of a client record.
	FieldRoomID   = "roomId"
	FieldLastSeen = "lastSeen"
)

// Key returns the shared-store key for a connection identity.
func Key(id types.ClientIDType) string {
	return KeyPrefix + string(id)
}

// Registry tracks connections for this process and their persisted room
// bindings across the fleet.
type Registry struct {
	mu    sync.RWMutex
	conns map[types.ClientIDType]types.Conn

	store *store.Service
	now   func() time.Time
}

// New returns an empty registry backed by the shared state store.
func New(s *store.Service) *Registry {
	return &Registry{
		conns: make(map[types.ClientIDType]types.Conn),
		store: s,
		now:   time.Now,
	}
}

// --- Process-local surface ---

// RegisterConnection installs the live handle for id. A previous handle
// under the same identity is returned so the caller can retire it.
func (reg *Registry) RegisterConnection(id types.ClientIDType, conn types.Conn) types.Conn {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	prev := reg.conns[id]
	reg.conns[id] = conn
	return prev
}

// DropConnection removes the live handle for id, but only if it still maps
// to conn: a reconnect may have replaced it already.
func (reg *Registry) DropConnection(id types.ClientIDType, conn types.Conn) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if current, ok := reg.conns[id]; ok && current == conn {
		delete(reg.conns, id)
	}
}

// Connection returns the live handle for id on this process, if any.
func (reg *Registry) Connection(id types.ClientIDType) (types.Conn, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	conn, ok := reg.conns[id]
	return conn, ok
}

// LocalConnections snapshots every live handle on this process.
func (reg *Registry) LocalConnections() []types.Conn {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	conns := make([]types.Conn, 0, len(reg.conns))
	for _, c := range reg.conns {
		conns = append(conns, c)
	}
	return conns
}

// --- Persisted surface ---

// Bind records that id belongs to roomID.
func (reg *Registry) Bind(ctx context.Context, id types.ClientIDType, roomID types.RoomIDType) error {
	return reg.store.HashSet(ctx, Key(id), map[string]string{
		FieldRoomID:   string(roomID),
		FieldLastSeen: strconv.FormatInt(reg.now().UnixMilli(), 10),
	})
}

// Unbind clears the room binding but keeps the record so reconnect routing
// still sees a recently-active client. Fully orphaned records are purged
// by the lifecycle worker.
func (reg *Registry) Unbind(ctx context.Context, id types.ClientIDType) error {
	if err := reg.store.HashDelete(ctx, Key(id), FieldRoomID); err != nil {
		return err
	}
	return reg.TouchSeen(ctx, id)
}

// Remove deletes the persisted record entirely.
func (reg *Registry) Remove(ctx context.Context, id types.ClientIDType) error {
	return reg.store.Delete(ctx, Key(id))
}

// TouchSeen refreshes the lastSeen timestamp of the record.
func (reg *Registry) TouchSeen(ctx context.Context, id types.ClientIDType) error {
	return reg.store.HashSet(ctx, Key(id), map[string]string{
		FieldLastSeen: strconv.FormatInt(reg.now().UnixMilli(), 10),
	})
}

// LookupRoom returns the room id currently bound to the connection
// identity, if any.
func (reg *Registry) LookupRoom(ctx context.Context, id types.ClientIDType) (types.RoomIDType, bool, error) {
	fields, err := reg.store.HashGetAll(ctx, Key(id))
	if err != nil {
		return "", false, err
	}
	roomID, ok := fields[FieldRoomID]
	if !ok || roomID == "" {
		return "", false, nil
	}
	return types.RoomIDType(roomID), true, nil
}

// Record decodes the full persisted record for id. The second return is
// false when no record exists.
func (reg *Registry) Record(ctx context.Context, id types.ClientIDType) (types.ClientRecord, bool, error) {
	fields, err := reg.store.HashGetAll(ctx, Key(id))
	if err != nil {
		return types.ClientRecord{}, false, err
	}
	if len(fields) == 0 {
		return types.ClientRecord{}, false, nil
	}
	rec := types.ClientRecord{RoomID: types.RoomIDType(fields[FieldRoomID])}
	if raw, ok := fields[FieldLastSeen]; ok {
		rec.LastSeen, _ = strconv.ParseInt(raw, 10, 64)
	}
	return rec, true, nil
}
