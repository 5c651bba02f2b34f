// Package room holds the authoritative room state: the model, its pure
// state transitions, and the repository that persists rooms in the shared
// store with serialized mutations.
package room

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

var (
	// ErrAlreadyQueued is returned when a video id is already present in
	// the queue.
	ErrAlreadyQueued = errors.New("video already in queue")

	// ErrVideoNotFound is returned when a queue operation references a
	// video id that is not queued.
	ErrVideoNotFound = errors.New("video not found in queue")

	// ErrNothingPlaying is returned by operations that require a current
	// video.
	ErrNothingPlaying = errors.New("nothing is playing")
)

// Room is the unit of shared playback state. Mutations happen on a working
// copy inside Repository.Mutate; nothing outside the repository writes a
// Room back to the store.
type Room struct {
	ID           types.RoomIDType     `json:"id"`
	Password     string               `json:"password,omitempty"`
	CreatorID    types.ClientIDType   `json:"creatorId"`
	Clients      []types.ClientIDType `json:"clients,omitempty"`
	VideoQueue   []types.Video        `json:"videoQueue"`
	HistoryQueue []types.Video        `json:"historyQueue"`
	PlayingNow   *types.Video         `json:"playingNow"`
	IsPlaying    bool                 `json:"isPlaying"`
	CurrentTime  float64              `json:"currentTime"`
	Volume       int                  `json:"volume"`
	LastActivity int64                `json:"lastActivity"` // unix milliseconds
}

// New returns a freshly created room owned by creator. The password is
// stored in whatever form the caller already encoded it to.
func New(id types.RoomIDType, creator types.ClientIDType, encodedPassword string) *Room {
	return &Room{
		ID:           id,
		Password:     encodedPassword,
		CreatorID:    creator,
		Clients:      []types.ClientIDType{},
		VideoQueue:   []types.Video{},
		HistoryQueue: []types.Video{},
		Volume:       100,
		LastActivity: time.Now().UnixMilli(),
	}
}

// Touch records a successful mutation at now.
func (r *Room) Touch(now time.Time) {
	r.LastActivity = now.UnixMilli()
}

// HasClient reports whether id is currently a member.
func (r *Room) HasClient(id types.ClientIDType) bool {
	for _, c := range r.Clients {
		if c == id {
			return true
		}
	}
	return false
}

// AddClient appends id to the member list if not already present.
func (r *Room) AddClient(id types.ClientIDType) {
	if !r.HasClient(id) {
		r.Clients = append(r.Clients, id)
	}
}

// RemoveClient drops id from the member list.
func (r *Room) RemoveClient(id types.ClientIDType) {
	for i, c := range r.Clients {
		if c == id {
			r.Clients = append(r.Clients[:i], r.Clients[i+1:]...)
			return
		}
	}
}

// QueueHas reports whether a video with videoID is queued.
func (r *Room) QueueHas(videoID string) bool {
	for _, v := range r.VideoQueue {
		if v.ID == videoID {
			return true
		}
	}
	return false
}

// startVideo makes v the current video from position zero.
func (r *Room) startVideo(v types.Video) {
	r.PlayingNow = &v
	r.IsPlaying = true
	r.CurrentTime = 0
}

// stopPlayback clears the current video and resets playback state.
func (r *Room) stopPlayback() {
	r.PlayingNow = nil
	r.IsPlaying = false
	r.CurrentTime = 0
}

// AddVideo appends v to the queue, or starts it immediately when nothing
// is playing and the queue is empty. Duplicate ids are rejected.
func (r *Room) AddVideo(v types.Video) error {
	if r.QueueHas(v.ID) {
		return ErrAlreadyQueued
	}
	if r.PlayingNow == nil && len(r.VideoQueue) == 0 {
		r.startVideo(v)
		return nil
	}
	r.VideoQueue = append(r.VideoQueue, v)
	return nil
}

// AddVideoToTop removes any queued occurrence of v's id and prepends v, or
// starts it immediately when nothing is playing and the queue is empty.
func (r *Room) AddVideoToTop(v types.Video) {
	r.RemoveFromQueue(v.ID)
	if r.PlayingNow == nil && len(r.VideoQueue) == 0 {
		r.startVideo(v)
		return
	}
	r.VideoQueue = append([]types.Video{v}, r.VideoQueue...)
}

// RemoveFromQueue drops the entry with videoID, if any.
func (r *Room) RemoveFromQueue(videoID string) {
	for i, v := range r.VideoQueue {
		if v.ID == videoID {
			r.VideoQueue = append(r.VideoQueue[:i], r.VideoQueue[i+1:]...)
			return
		}
	}
}

// MoveToTop moves the entry with videoID to position zero. Idempotent for
// an entry already at the head.
func (r *Room) MoveToTop(videoID string) error {
	for i, v := range r.VideoQueue {
		if v.ID == videoID {
			if i > 0 {
				entry := r.VideoQueue[i]
				r.VideoQueue = append(r.VideoQueue[:i], r.VideoQueue[i+1:]...)
				r.VideoQueue = append([]types.Video{entry}, r.VideoQueue...)
			}
			return nil
		}
	}
	return ErrVideoNotFound
}

// Shuffle applies a uniform random permutation to the queue.
func (r *Room) Shuffle() {
	rand.Shuffle(len(r.VideoQueue), func(i, j int) {
		r.VideoQueue[i], r.VideoQueue[j] = r.VideoQueue[j], r.VideoQueue[i]
	})
}

// ClearQueue empties the video queue.
func (r *Room) ClearQueue() {
	r.VideoQueue = []types.Video{}
}

// ClearHistory empties the history queue.
func (r *Room) ClearHistory() {
	r.HistoryQueue = []types.Video{}
}

// pushHistory prepends v to the history, removing any earlier occurrence
// of the same id first so the head is always the most recent. historyMax
// caps the list; zero means unbounded.
func (r *Room) pushHistory(v types.Video, historyMax int) {
	for i, h := range r.HistoryQueue {
		if h.ID == v.ID {
			r.HistoryQueue = append(r.HistoryQueue[:i], r.HistoryQueue[i+1:]...)
			break
		}
	}
	r.HistoryQueue = append([]types.Video{v}, r.HistoryQueue...)
	if historyMax > 0 && len(r.HistoryQueue) > historyMax {
		r.HistoryQueue = r.HistoryQueue[:historyMax]
	}
}

// removeHistory drops any history entry with videoID.
func (r *Room) removeHistory(videoID string) {
	for i, h := range r.HistoryQueue {
		if h.ID == videoID {
			r.HistoryQueue = append(r.HistoryQueue[:i], r.HistoryQueue[i+1:]...)
			return
		}
	}
}

// PlayNow replaces the current video with v. The previous video, if any,
// moves to the head of the history. v is removed from both queues first so
// it never appears twice.
func (r *Room) PlayNow(v types.Video, historyMax int) {
	r.RemoveFromQueue(v.ID)
	r.removeHistory(v.ID)
	if r.PlayingNow != nil {
		r.pushHistory(*r.PlayingNow, historyMax)
	}
	r.startVideo(v)
}

// Advance finishes the current video and starts the next queued one. With
// an empty queue, playback stops.
func (r *Room) Advance(historyMax int) {
	if r.PlayingNow != nil {
		r.pushHistory(*r.PlayingNow, historyMax)
	}
	if len(r.VideoQueue) > 0 {
		next := r.VideoQueue[0]
		r.VideoQueue = r.VideoQueue[1:]
		r.startVideo(next)
		return
	}
	r.stopPlayback()
}

// SetPlaying flips the play/pause flag. Meaningless without a current
// video, so it is ignored in that case.
func (r *Room) SetPlaying(playing bool) {
	if r.PlayingNow == nil {
		return
	}
	r.IsPlaying = playing
}

// Replay restarts the current video from position zero.
func (r *Room) Replay() error {
	if r.PlayingNow == nil {
		return ErrNothingPlaying
	}
	r.CurrentTime = 0
	r.IsPlaying = true
	return nil
}

// Seek stores the advisory playback position. Negative values clamp to 0.
// Without a current video there is no position to move.
func (r *Room) Seek(t float64) error {
	if r.PlayingNow == nil {
		return ErrNothingPlaying
	}
	if t < 0 {
		t = 0
	}
	r.CurrentTime = t
	return nil
}

// SetVolume stores v clamped to [0, 100].
func (r *Room) SetVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	r.Volume = v
}

// Public returns a copy safe for emission to clients: the member list and
// the stored password never leave the server.
func (r *Room) Public() *Room {
	pub := *r
	pub.Clients = nil
	pub.Password = ""
	pub.VideoQueue = append([]types.Video(nil), r.VideoQueue...)
	pub.HistoryQueue = append([]types.Video(nil), r.HistoryQueue...)
	if r.PlayingNow != nil {
		v := *r.PlayingNow
		pub.PlayingNow = &v
	}
	return &pub
}
