// Package bus fans room events out to every member connection in the
// fleet. Events are published once on a single well-known pub/sub channel;
// every process subscribes and forwards each event to the local
// connections of the room's members.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/metrics"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/registry"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/store"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

// Channel is the pub/sub channel carrying all room events.
const Channel = "room-notifications"

// Payload is the cross-instance envelope for one room event.
type Payload struct {
	RoomID   types.RoomIDType     `json:"roomId"`
	SenderID types.ClientIDType   `json:"senderId,omitempty"`
	Targets  []types.ClientIDType `json:"targets,omitempty"` // empty = every member
	Frame    json.RawMessage      `json:"frame"`
}

// MemberLister resolves the current member set of a room. Implemented by
// the room repository.
type MemberLister interface {
	ListMembers(ctx context.Context, id types.RoomIDType) ([]types.ClientIDType, error)
}

// Bus publishes room events through the shared store and delivers inbound
// events to local connections.
type Bus struct {
	store    *store.Service
	registry *registry.Registry
	members  MemberLister
	wg       sync.WaitGroup
}

// New wires a bus over the shared store's pub/sub channel.
func New(s *store.Service, reg *registry.Registry, members MemberLister) *Bus {
	return &Bus{
		store:    s,
		registry: reg,
		members:  members,
	}
}

// Start subscribes to the room event channel and delivers events until ctx
// is cancelled. Events are processed serially so per-room publish order is
// preserved at every receiver.
func (b *Bus) Start(ctx context.Context) {
	b.store.Subscribe(ctx, Channel, &b.wg, func(raw []byte) {
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			logging.Error(ctx, "Dropping malformed bus payload", zap.Error(err))
			return
		}
		b.deliver(ctx, p)
	})
}

// Wait blocks until the subscription loop has drained after cancellation.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Broadcast publishes event to every member of roomID across the fleet.
func (b *Bus) Broadcast(ctx context.Context, roomID types.RoomIDType, senderID types.ClientIDType, event any) error {
	return b.publish(ctx, roomID, senderID, nil, event)
}

// SendTo publishes event only to the given member identities, wherever in
// the fleet they are connected.
func (b *Bus) SendTo(ctx context.Context, roomID types.RoomIDType, targets []types.ClientIDType, event any) error {
	if len(targets) == 0 {
		return nil
	}
	return b.publish(ctx, roomID, "", targets, event)
}

func (b *Bus) publish(ctx context.Context, roomID types.RoomIDType, senderID types.ClientIDType, targets []types.ClientIDType, event any) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for room %s: %w", roomID, err)
	}
	payload, err := json.Marshal(Payload{
		RoomID:   roomID,
		SenderID: senderID,
		Targets:  targets,
		Frame:    frame,
	})
	if err != nil {
		return fmt.Errorf("marshal bus payload for room %s: %w", roomID, err)
	}
	if err := b.store.Publish(ctx, Channel, payload); err != nil {
		return err
	}
	metrics.BroadcastsPublished.Inc()
	return nil
}

// deliver forwards one event to every targeted connection registered on
// this process. A failing connection does not affect the others.
func (b *Bus) deliver(ctx context.Context, p Payload) {
	ids := p.Targets
	if len(ids) == 0 {
		members, err := b.members.ListMembers(ctx, p.RoomID)
		if err != nil {
			logging.Error(ctx, "Cannot resolve room members for delivery",
				zap.String("room_id", string(p.RoomID)), zap.Error(err))
			return
		}
		ids = members
	}

	for _, id := range ids {
		conn, ok := b.registry.Connection(id)
		if !ok {
			continue // connected to another instance, or already gone
		}
		if err := conn.Send(p.Frame); err != nil {
			// One retry, then the connection is flagged for cleanup.
			if err := conn.Send(p.Frame); err != nil {
				metrics.DroppedSends.Inc()
				logging.Warn(ctx, "Dropping broadcast to slow connection",
					zap.String("client_id", string(id)), zap.Error(err))
				conn.Close("slow consumer")
			}
		}
	}
}
