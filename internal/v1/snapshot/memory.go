package snapshot

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/room"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

// Memory is an in-process Store used by tests and by deployments that run
// without a durable backend.
type Memory struct {
	mu    sync.Mutex
	rooms map[types.RoomIDType][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{rooms: make(map[types.RoomIDType][]byte)}
}

func (m *Memory) SaveRooms(_ context.Context, rooms []*room.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rooms {
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		m.rooms[r.ID] = payload
	}
	return nil
}

func (m *Memory) ForEachRoom(_ context.Context, fn func(*room.Room) error) error {
	m.mu.Lock()
	snapshots := make([][]byte, 0, len(m.rooms))
	for _, payload := range m.rooms {
		snapshots = append(snapshots, payload)
	}
	m.mu.Unlock()

	for _, payload := range snapshots {
		var r room.Room
		if err := json.Unmarshal(payload, &r); err != nil {
			return err
		}
		if err := fn(&r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) DeleteRooms(_ context.Context, ids []types.RoomIDType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.rooms, id)
	}
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

// Len reports how many rooms are persisted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
