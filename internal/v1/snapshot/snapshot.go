// Package snapshot persists room records in a durable secondary store so
// the shared store can be rebuilt after a wipe.
package snapshot

import (
	"context"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/room"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

// Store is the durable-store contract the lifecycle worker drives.
type Store interface {
	// SaveRooms upserts the given rooms. Partial failure may leave some
	// batches written; callers rely on idempotence, not atomicity.
	SaveRooms(ctx context.Context, rooms []*room.Room) error
	// ForEachRoom streams every persisted room through fn. An error from
	// fn aborts the stream.
	ForEachRoom(ctx context.Context, fn func(*room.Room) error) error
	// DeleteRooms removes persisted records by id.
	DeleteRooms(ctx context.Context, ids []types.RoomIDType) error
	// Ping answers the readiness probe.
	Ping(ctx context.Context) error
}
