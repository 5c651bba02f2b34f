// Package session implements the command state machine: every inbound
// frame is validated, dispatched against the sender's current room, applied
// as an atomic mutation through the room repository, and broadcast through
// the bus.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/bus"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/metrics"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/password"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/registry"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/room"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

const (
	// importMax bounds how many playlist entries a single import may add.
	importMax = 200
	// importBatchSize is how many candidates are processed per batch.
	importBatchSize = 50
	// importBatchPause is the breather between playlist import batches.
	importBatchPause = 100 * time.Millisecond
)

// Assets is the contract of the external video-catalog adapter the
// dispatcher consumes. Both operations are slow and may fail; an
// embeddability probe that cannot complete reports false.
type Assets interface {
	IsEmbeddable(ctx context.Context, videoID string) (bool, error)
	ExpandPlaylist(ctx context.Context, ref string) ([]types.Video, error)
}

// Dispatcher routes client commands onto room state.
type Dispatcher struct {
	repo      *room.Repository
	registry  *registry.Registry
	bus       *bus.Bus
	assets    Assets
	passwords *password.Scheme

	importPause time.Duration
}

// NewDispatcher wires the command state machine.
func NewDispatcher(repo *room.Repository, reg *registry.Registry, b *bus.Bus, assets Assets, passwords *password.Scheme) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		registry:    reg,
		bus:         b,
		assets:      assets,
		passwords:   passwords,
		importPause: importBatchPause,
	}
}

// HandleConnect runs once per accepted connection, after the transport has
// registered the handle: it refreshes the persisted client record and emits
// the ready acknowledgement.
func (d *Dispatcher) HandleConnect(ctx context.Context, conn types.Conn) {
	if err := d.registry.TouchSeen(ctx, conn.ID()); err != nil {
		logging.Warn(ctx, "Could not persist client record on connect", zap.Error(err))
	}
	d.send(ctx, conn, newAck("connected"))
}

// HandleDisconnect performs the leaveRoom side-effects for a connection
// that is going away, then retires the local handle. Safe to call for
// connections that never joined a room.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, conn types.Conn) {
	if err := d.leaveCurrentRoom(ctx, conn.ID()); err != nil {
		logging.Warn(ctx, "Leave-on-disconnect failed",
			zap.String("client_id", string(conn.ID())), zap.Error(err))
	}
	d.registry.DropConnection(conn.ID(), conn)
}

// Dispatch processes one inbound frame from conn. Errors never terminate
// the connection: domain failures become errorWithCode events, everything
// else becomes a generic error event and a log entry.
func (d *Dispatcher) Dispatch(ctx context.Context, conn types.Conn, raw []byte) {
	ctx = logging.WithClient(ctx, string(conn.ID()))

	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		d.sendCode(ctx, conn, CodeInvalidMessage, "malformed message envelope")
		return
	}

	if env.RequiresAck && env.ID != "" {
		d.send(ctx, conn, newAck(env.ID))
	}

	start := time.Now()
	err := d.route(ctx, conn, env.Type, raw)
	metrics.CommandDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.Commands.WithLabelValues(env.Type, "ok").Inc()
		return
	}

	metrics.Commands.WithLabelValues(env.Type, "error").Inc()
	if derr, ok := asDomain(err); ok {
		d.send(ctx, conn, newErrorWithCode(derr.Code, derr.Message))
		return
	}
	logging.Error(ctx, "Command failed", zap.String("command", env.Type), zap.Error(err))
	d.send(ctx, conn, newError("something went wrong"))
}

func (d *Dispatcher) route(ctx context.Context, conn types.Conn, cmd string, raw []byte) error {
	switch cmd {
	case types.CmdPing:
		d.send(ctx, conn, newPong())
		return nil
	case types.CmdCreateRoom:
		return d.handleCreateRoom(ctx, conn, raw)
	case types.CmdJoinRoom:
		return d.handleJoinRoom(ctx, conn, raw, false)
	case types.CmdReJoinRoom:
		return d.handleJoinRoom(ctx, conn, raw, true)
	case types.CmdLeaveRoom:
		return d.handleLeaveRoom(ctx, conn)
	case types.CmdCloseRoom:
		return d.handleCloseRoom(ctx, conn)
	case types.CmdSendMessage:
		return d.handleSendMessage(ctx, conn, raw)
	case types.CmdAddVideo:
		return d.handleAddVideo(ctx, conn, raw)
	case types.CmdAddVideoToTop:
		return d.handleAddVideoToTop(ctx, conn, raw)
	case types.CmdRemoveVideo:
		return d.handleRemoveVideo(ctx, conn, raw)
	case types.CmdMoveToTop:
		return d.handleMoveToTop(ctx, conn, raw)
	case types.CmdShuffleQueue:
		return d.handleShuffleQueue(ctx, conn)
	case types.CmdClearQueue:
		return d.handleClearQueue(ctx, conn)
	case types.CmdClearHistory:
		return d.handleClearHistory(ctx, conn)
	case types.CmdPlayNow:
		return d.handlePlayNow(ctx, conn, raw)
	case types.CmdNextVideo, types.CmdVideoFinished:
		return d.handleNextVideo(ctx, conn)
	case types.CmdPlay:
		return d.handleSetPlaying(ctx, conn, true)
	case types.CmdPause:
		return d.handleSetPlaying(ctx, conn, false)
	case types.CmdReplay:
		return d.handleReplay(ctx, conn)
	case types.CmdSeek:
		return d.handleSeek(ctx, conn, raw)
	case types.CmdSetVolume:
		return d.handleSetVolume(ctx, conn, raw)
	case types.CmdImportPlaylist:
		return d.handleImportPlaylist(ctx, conn, raw)
	default:
		return fail(CodeInvalidMessage, "unknown message type")
	}
}

// send marshals event and queues it on conn. Delivery failures here mean
// the connection is on its way out; the transport cleans it up.
func (d *Dispatcher) send(ctx context.Context, conn types.Conn, event any) {
	frame, err := json.Marshal(event)
	if err != nil {
		logging.Error(ctx, "Could not marshal event", zap.Error(err))
		return
	}
	if err := conn.Send(frame); err != nil {
		metrics.DroppedSends.Inc()
		logging.Warn(ctx, "Could not queue event for delivery",
			zap.String("client_id", string(conn.ID())), zap.Error(err))
	}
}

func (d *Dispatcher) sendCode(ctx context.Context, conn types.Conn, code Code, message string) {
	d.send(ctx, conn, newErrorWithCode(code, message))
}

// currentRoom resolves the sender's room binding or fails with notInRoom.
func (d *Dispatcher) currentRoom(ctx context.Context, clientID types.ClientIDType) (types.RoomIDType, error) {
	roomID, ok, err := d.registry.LookupRoom(ctx, clientID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fail(CodeNotInRoom, "join a room first")
	}
	return roomID, nil
}

// leaveCurrentRoom removes the client from whatever room it is bound to
// and clears the binding. A vanished room is not an error.
func (d *Dispatcher) leaveCurrentRoom(ctx context.Context, clientID types.ClientIDType) error {
	roomID, ok, err := d.registry.LookupRoom(ctx, clientID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	_, err = d.repo.Mutate(ctx, roomID, func(r *room.Room) error {
		r.RemoveClient(clientID)
		return nil
	})
	if err != nil && !errors.Is(err, room.ErrNotFound) {
		return err
	}
	return d.registry.Unbind(ctx, clientID)
}

// CloseRoom tears a room down: every member gets a roomClosed event, loses
// its binding, and the room record is deleted. Shared by the closeRoom
// command and the lifecycle worker's eviction sweep.
func (d *Dispatcher) CloseRoom(ctx context.Context, roomID types.RoomIDType, reason string) error {
	ctx = logging.WithRoom(ctx, string(roomID))

	r, err := d.repo.Load(ctx, roomID)
	if errors.Is(err, room.ErrNotFound) {
		return fail(CodeRoomNotFound, "no such room")
	}
	if err != nil {
		return err
	}

	if len(r.Clients) > 0 {
		if err := d.bus.SendTo(ctx, roomID, r.Clients, newRoomClosed(reason)); err != nil {
			logging.Warn(ctx, "Could not notify members of room close", zap.Error(err))
		}
	}
	for _, member := range r.Clients {
		if err := d.registry.Remove(ctx, member); err != nil {
			logging.Warn(ctx, "Could not remove member record",
				zap.String("client_id", string(member)), zap.Error(err))
		}
	}
	if err := d.repo.Delete(ctx, roomID); err != nil {
		return err
	}
	logging.Info(ctx, "Room closed", zap.String("reason", reason))
	return nil
}

// mutateAndBroadcast is the common shape of most member commands: resolve
// the sender's room, apply fn atomically, and broadcast the given event
// built from the updated room.
func (d *Dispatcher) mutateAndBroadcast(ctx context.Context, conn types.Conn, fn func(*room.Room) error, event func(*room.Room) any) error {
	roomID, err := d.currentRoom(ctx, conn.ID())
	if err != nil {
		return err
	}
	ctx = logging.WithRoom(ctx, string(roomID))

	updated, err := d.repo.Mutate(ctx, roomID, fn)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			return fail(CodeRoomNotFound, "no such room")
		}
		return err
	}
	return d.bus.Broadcast(ctx, roomID, conn.ID(), event(updated))
}
