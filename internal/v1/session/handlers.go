package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/room"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

// --- Command payloads ---

type createRoomPayload struct {
	Password string `json:"password,omitempty"`
}

type joinRoomPayload struct {
	RoomID   types.RoomIDType `json:"roomId"`
	Password string           `json:"password,omitempty"`
}

type sendMessagePayload struct {
	Content string `json:"content"`
}

type videoPayload struct {
	Video types.Video `json:"video"`
}

type videoIDPayload struct {
	VideoID string `json:"videoId"`
}

type seekPayload struct {
	Time *float64 `json:"time"`
}

type setVolumePayload struct {
	Volume *float64 `json:"volume"`
}

type importPlaylistPayload struct {
	Playlist string `json:"playlist"`
}

// decodePayload parses the command-specific fields of a frame. A type
// mismatch anywhere in the frame is an invalidMessage, not an internal
// error.
func decodePayload(raw []byte, into any) error {
	if err := json.Unmarshal(raw, into); err != nil {
		return fail(CodeInvalidMessage, "malformed command payload")
	}
	return nil
}

// --- Room membership commands ---

func (d *Dispatcher) handleCreateRoom(ctx context.Context, conn types.Conn, raw []byte) error {
	var p createRoomPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}

	id, err := d.repo.GenerateID(ctx)
	if err != nil {
		return err
	}
	encoded, err := d.passwords.Encode(p.Password)
	if err != nil {
		return fmt.Errorf("encode room password: %w", err)
	}

	r := room.New(id, conn.ID(), encoded)
	if err := d.repo.Create(ctx, r); err != nil {
		return err
	}
	ctx = logging.WithRoom(ctx, string(id))
	logging.Info(ctx, "Room created", zap.String("creator", string(conn.ID())))

	d.send(ctx, conn, newRoomCreated(id))
	return d.joinExisting(ctx, conn, id)
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, conn types.Conn, raw []byte, rejoin bool) error {
	var p joinRoomPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return fail(CodeInvalidMessage, "roomId is required")
	}

	notFound := CodeRoomNotFound
	if rejoin {
		notFound = CodeRejoinRoomNotFound
	}

	target, err := d.repo.Load(ctx, p.RoomID)
	if errors.Is(err, room.ErrNotFound) {
		return fail(notFound, "no such room")
	}
	if err != nil {
		return err
	}

	if !d.passwords.Verify(target.Password, p.Password) {
		return fail(CodeIncorrectPassword, "wrong room password")
	}

	return d.joinExisting(ctx, conn, p.RoomID)
}

// joinExisting performs the join side-effects against a room that has
// already passed validation: leave the current room, enter the new one,
// persist the binding, and reply to the joiner. Other members learn about
// the join on the next room mutation.
func (d *Dispatcher) joinExisting(ctx context.Context, conn types.Conn, roomID types.RoomIDType) error {
	if err := d.leaveCurrentRoom(ctx, conn.ID()); err != nil {
		return err
	}

	updated, err := d.repo.Mutate(ctx, roomID, func(r *room.Room) error {
		r.AddClient(conn.ID())
		return nil
	})
	if errors.Is(err, room.ErrNotFound) {
		return fail(CodeRoomNotFound, "no such room")
	}
	if err != nil {
		return err
	}

	if err := d.registry.Bind(ctx, conn.ID(), roomID); err != nil {
		return err
	}
	d.send(ctx, conn, newRoomJoined(conn.ID(), updated))
	return nil
}

func (d *Dispatcher) handleLeaveRoom(ctx context.Context, conn types.Conn) error {
	if _, err := d.currentRoom(ctx, conn.ID()); err != nil {
		return err
	}
	if err := d.leaveCurrentRoom(ctx, conn.ID()); err != nil {
		return err
	}
	d.send(ctx, conn, newLeftRoom())
	return nil
}

func (d *Dispatcher) handleCloseRoom(ctx context.Context, conn types.Conn) error {
	roomID, err := d.currentRoom(ctx, conn.ID())
	if err != nil {
		return err
	}

	r, err := d.repo.Load(ctx, roomID)
	if errors.Is(err, room.ErrNotFound) {
		return fail(CodeRoomNotFound, "no such room")
	}
	if err != nil {
		return err
	}
	if r.CreatorID != conn.ID() {
		return fail(CodeNotCreatorOfRoom, "only the creator may close the room")
	}

	return d.CloseRoom(ctx, roomID, "Room closed by creator")
}

// --- Chat ---

func (d *Dispatcher) handleSendMessage(ctx context.Context, conn types.Conn, raw []byte) error {
	var p sendMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	// A chat message counts as activity so busy rooms stay alive.
	return d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { return nil },
		func(*room.Room) any { return newMessage(conn.ID(), p.Content) })
}

// --- Queue commands ---

// requireEmbeddable aborts the command before any state is written when
// the asset adapter reports the video cannot be embedded.
func (d *Dispatcher) requireEmbeddable(ctx context.Context, videoID string) error {
	if videoID == "" {
		return fail(CodeInvalidMessage, "video id is required")
	}
	ok, err := d.assets.IsEmbeddable(ctx, videoID)
	if err != nil {
		return fmt.Errorf("embeddability probe for %s: %w", videoID, err)
	}
	if !ok {
		return fail(CodeVideoNotEmbeddable, "video cannot be embedded")
	}
	return nil
}

func (d *Dispatcher) handleAddVideo(ctx context.Context, conn types.Conn, raw []byte) error {
	var p videoPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}

	// Fast reject before the slow probe; the mutation re-checks atomically.
	roomID, err := d.currentRoom(ctx, conn.ID())
	if err != nil {
		return err
	}
	current, err := d.repo.Load(ctx, roomID)
	if errors.Is(err, room.ErrNotFound) {
		return fail(CodeRoomNotFound, "no such room")
	}
	if err != nil {
		return err
	}
	if current.QueueHas(p.Video.ID) {
		return fail(CodeAlreadyInQueue, "video already queued")
	}

	if err := d.requireEmbeddable(ctx, p.Video.ID); err != nil {
		return err
	}

	err = d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { return r.AddVideo(p.Video) },
		func(r *room.Room) any { return newRoomUpdate(r) })
	if errors.Is(err, room.ErrAlreadyQueued) {
		return fail(CodeAlreadyInQueue, "video already queued")
	}
	return err
}

func (d *Dispatcher) handleAddVideoToTop(ctx context.Context, conn types.Conn, raw []byte) error {
	var p videoPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if err := d.requireEmbeddable(ctx, p.Video.ID); err != nil {
		return err
	}
	return d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { r.AddVideoToTop(p.Video); return nil },
		func(r *room.Room) any { return newRoomUpdate(r) })
}

func (d *Dispatcher) handleRemoveVideo(ctx context.Context, conn types.Conn, raw []byte) error {
	var p videoIDPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	return d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { r.RemoveFromQueue(p.VideoID); return nil },
		func(r *room.Room) any { return newRoomUpdate(r) })
}

func (d *Dispatcher) handleMoveToTop(ctx context.Context, conn types.Conn, raw []byte) error {
	var p videoIDPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	err := d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { return r.MoveToTop(p.VideoID) },
		func(r *room.Room) any { return newRoomUpdate(r) })
	if errors.Is(err, room.ErrVideoNotFound) {
		return fail(CodeVideoNotFound, "video is not in the queue")
	}
	return err
}

func (d *Dispatcher) handleShuffleQueue(ctx context.Context, conn types.Conn) error {
	return d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { r.Shuffle(); return nil },
		func(r *room.Room) any { return newRoomUpdate(r) })
}

func (d *Dispatcher) handleClearQueue(ctx context.Context, conn types.Conn) error {
	return d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { r.ClearQueue(); return nil },
		func(r *room.Room) any { return newRoomUpdate(r) })
}

func (d *Dispatcher) handleClearHistory(ctx context.Context, conn types.Conn) error {
	return d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { r.ClearHistory(); return nil },
		func(r *room.Room) any { return newRoomUpdate(r) })
}

// --- Playback commands ---

func (d *Dispatcher) handlePlayNow(ctx context.Context, conn types.Conn, raw []byte) error {
	var p videoPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if err := d.requireEmbeddable(ctx, p.Video.ID); err != nil {
		return err
	}
	return d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { r.PlayNow(p.Video, d.repo.HistoryMax()); return nil },
		func(r *room.Room) any { return newRoomUpdate(r) })
}

func (d *Dispatcher) handleNextVideo(ctx context.Context, conn types.Conn) error {
	return d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { r.Advance(d.repo.HistoryMax()); return nil },
		func(r *room.Room) any { return newRoomUpdate(r) })
}

func (d *Dispatcher) handleSetPlaying(ctx context.Context, conn types.Conn, playing bool) error {
	tag := types.EventPause
	if playing {
		tag = types.EventPlay
	}
	return d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { r.SetPlaying(playing); return nil },
		func(*room.Room) any { return newPlayback(tag) })
}

func (d *Dispatcher) handleReplay(ctx context.Context, conn types.Conn) error {
	err := d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { return r.Replay() },
		func(*room.Room) any { return newPlayback(types.EventReplay) })
	if errors.Is(err, room.ErrNothingPlaying) {
		return fail(CodeInvalidMessage, "nothing is playing")
	}
	return err
}

func (d *Dispatcher) handleSeek(ctx context.Context, conn types.Conn, raw []byte) error {
	var p seekPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.Time == nil {
		return fail(CodeInvalidMessage, "time must be a number")
	}
	err := d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { return r.Seek(*p.Time) },
		func(r *room.Room) any { return newCurrentTimeChanged(r.CurrentTime) })
	if errors.Is(err, room.ErrNothingPlaying) {
		return fail(CodeInvalidMessage, "nothing is playing")
	}
	return err
}

func (d *Dispatcher) handleSetVolume(ctx context.Context, conn types.Conn, raw []byte) error {
	var p setVolumePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.Volume == nil {
		return fail(CodeInvalidMessage, "volume must be a number")
	}
	return d.mutateAndBroadcast(ctx, conn,
		func(r *room.Room) error { r.SetVolume(int(*p.Volume)); return nil },
		func(r *room.Room) any { return newVolumeChanged(r.Volume) })
}

// --- Playlist import ---

func (d *Dispatcher) handleImportPlaylist(ctx context.Context, conn types.Conn, raw []byte) error {
	var p importPlaylistPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.Playlist == "" {
		return fail(CodeInvalidMessage, "playlist is required")
	}

	roomID, err := d.currentRoom(ctx, conn.ID())
	if err != nil {
		return err
	}
	ctx = logging.WithRoom(ctx, string(roomID))

	candidates, err := d.assets.ExpandPlaylist(ctx, p.Playlist)
	if err != nil {
		logging.Error(ctx, "Playlist expansion failed", zap.String("playlist", p.Playlist), zap.Error(err))
		return fail(CodeInternalError, "could not expand playlist")
	}
	if len(candidates) > importMax {
		candidates = candidates[:importMax]
	}

	for start := 0; start < len(candidates); start += importBatchSize {
		if start > 0 {
			time.Sleep(d.importPause)
		}
		end := start + importBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		survivors := make([]types.Video, 0, end-start)
		for _, candidate := range candidates[start:end] {
			ok, err := d.assets.IsEmbeddable(ctx, candidate.ID)
			if err != nil {
				logging.Warn(ctx, "Skipping playlist entry, probe failed",
					zap.String("video_id", candidate.ID), zap.Error(err))
				continue
			}
			if ok {
				survivors = append(survivors, candidate)
			}
		}
		if len(survivors) == 0 {
			continue
		}

		updated, err := d.repo.Mutate(ctx, roomID, func(r *room.Room) error {
			for _, v := range survivors {
				// AddVideo starts the first entry when nothing is playing
				// and dedups everything else.
				if err := r.AddVideo(v); err != nil && !errors.Is(err, room.ErrAlreadyQueued) {
					return err
				}
			}
			return nil
		})
		if errors.Is(err, room.ErrNotFound) {
			return fail(CodeRoomNotFound, "no such room")
		}
		if err != nil {
			return err
		}
		if err := d.bus.Broadcast(ctx, roomID, conn.ID(), newRoomUpdate(updated)); err != nil {
			return err
		}
	}
	return nil
}
