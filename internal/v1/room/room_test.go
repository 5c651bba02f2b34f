package room

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

func vid(id string) types.Video {
	return types.Video{ID: id, Title: "video " + id, Duration: 120}
}

func TestNewRoomDefaults(t *testing.T) {
	r := New("123456", "creator", "secret")

	assert.Equal(t, types.RoomIDType("123456"), r.ID)
	assert.Equal(t, types.ClientIDType("creator"), r.CreatorID)
	assert.Equal(t, "secret", r.Password)
	assert.Equal(t, 100, r.Volume)
	assert.Empty(t, r.Clients)
	assert.Empty(t, r.VideoQueue)
	assert.Nil(t, r.PlayingNow)
	assert.False(t, r.IsPlaying)
	assert.NotZero(t, r.LastActivity)
}

func TestAddRemoveClient(t *testing.T) {
	r := New("123456", "a", "")

	r.AddClient("a")
	r.AddClient("b")
	r.AddClient("a") // no duplicates
	assert.Equal(t, []types.ClientIDType{"a", "b"}, r.Clients)

	r.RemoveClient("a")
	assert.Equal(t, []types.ClientIDType{"b"}, r.Clients)
	r.RemoveClient("ghost")
	assert.Equal(t, []types.ClientIDType{"b"}, r.Clients)
}

func TestAddVideoStartsWhenIdle(t *testing.T) {
	r := New("123456", "a", "")

	require.NoError(t, r.AddVideo(vid("v1")))
	require.NotNil(t, r.PlayingNow)
	assert.Equal(t, "v1", r.PlayingNow.ID)
	assert.True(t, r.IsPlaying)
	assert.Zero(t, r.CurrentTime)
	assert.Empty(t, r.VideoQueue)

	require.NoError(t, r.AddVideo(vid("v2")))
	assert.Len(t, r.VideoQueue, 1)
}

func TestAddVideoRejectsDuplicateID(t *testing.T) {
	r := New("123456", "a", "")
	require.NoError(t, r.AddVideo(vid("v1"))) // starts playing
	require.NoError(t, r.AddVideo(vid("v2")))

	err := r.AddVideo(vid("v2"))
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Len(t, r.VideoQueue, 1)
}

func TestAddVideoToTopPrependsAndDedups(t *testing.T) {
	r := New("123456", "a", "")
	require.NoError(t, r.AddVideo(vid("v1")))
	require.NoError(t, r.AddVideo(vid("v2")))
	require.NoError(t, r.AddVideo(vid("v3")))

	r.AddVideoToTop(vid("v3"))
	assert.Equal(t, "v3", r.VideoQueue[0].ID)
	assert.Len(t, r.VideoQueue, 2)

	r.AddVideoToTop(vid("v4"))
	assert.Equal(t, "v4", r.VideoQueue[0].ID)
	assert.Len(t, r.VideoQueue, 3)
}

func TestMoveToTop(t *testing.T) {
	r := New("123456", "a", "")
	require.NoError(t, r.AddVideo(vid("playing")))
	for _, id := range []string{"v1", "v2", "v3"} {
		require.NoError(t, r.AddVideo(vid(id)))
	}

	require.NoError(t, r.MoveToTop("v3"))
	assert.Equal(t, "v3", r.VideoQueue[0].ID)
	assert.Len(t, r.VideoQueue, 3)

	// Already at the head: idempotent.
	require.NoError(t, r.MoveToTop("v3"))
	assert.Equal(t, "v3", r.VideoQueue[0].ID)

	assert.ErrorIs(t, r.MoveToTop("ghost"), ErrVideoNotFound)
}

func TestShuffleKeepsMultiset(t *testing.T) {
	r := New("123456", "a", "")
	require.NoError(t, r.AddVideo(vid("playing")))
	ids := []string{"v1", "v2", "v3", "v4", "v5", "v6", "v7", "v8"}
	for _, id := range ids {
		require.NoError(t, r.AddVideo(vid(id)))
	}

	r.Shuffle()

	got := make([]string, 0, len(r.VideoQueue))
	for _, v := range r.VideoQueue {
		got = append(got, v.ID)
	}
	sort.Strings(got)
	assert.Equal(t, ids, got)
	assert.Equal(t, "playing", r.PlayingNow.ID)
}

func TestAdvanceRotation(t *testing.T) {
	r := New("123456", "a", "")
	require.NoError(t, r.AddVideo(vid("v1")))
	require.NoError(t, r.AddVideo(vid("v2")))

	r.Advance(0)
	require.NotNil(t, r.PlayingNow)
	assert.Equal(t, "v2", r.PlayingNow.ID)
	assert.True(t, r.IsPlaying)
	require.Len(t, r.HistoryQueue, 1)
	assert.Equal(t, "v1", r.HistoryQueue[0].ID)

	// Empty queue: playback stops and the invariant holds.
	r.Advance(0)
	assert.Nil(t, r.PlayingNow)
	assert.False(t, r.IsPlaying)
	assert.Zero(t, r.CurrentTime)
	assert.Equal(t, "v2", r.HistoryQueue[0].ID)
}

func TestHistoryDedupAndCap(t *testing.T) {
	r := New("123456", "a", "")

	r.pushHistory(vid("v1"), 0)
	r.pushHistory(vid("v2"), 0)
	r.pushHistory(vid("v1"), 0) // moves to head, not duplicated
	require.Len(t, r.HistoryQueue, 2)
	assert.Equal(t, "v1", r.HistoryQueue[0].ID)

	capped := New("123456", "a", "")
	for _, id := range []string{"a", "b", "c", "d"} {
		capped.pushHistory(vid(id), 3)
	}
	require.Len(t, capped.HistoryQueue, 3)
	assert.Equal(t, "d", capped.HistoryQueue[0].ID)
}

func TestPlayNowMovesCurrentToHistory(t *testing.T) {
	r := New("123456", "a", "")
	require.NoError(t, r.AddVideo(vid("v1")))
	require.NoError(t, r.AddVideo(vid("v2")))
	require.NoError(t, r.Seek(55))

	r.PlayNow(vid("v2"), 0)
	assert.Equal(t, "v2", r.PlayingNow.ID)
	assert.True(t, r.IsPlaying)
	assert.Zero(t, r.CurrentTime)
	assert.Empty(t, r.VideoQueue) // v2 left the queue
	require.Len(t, r.HistoryQueue, 1)
	assert.Equal(t, "v1", r.HistoryQueue[0].ID)

	// Replaying a history entry removes it from history first.
	r.PlayNow(vid("v1"), 0)
	assert.Equal(t, "v1", r.PlayingNow.ID)
	require.Len(t, r.HistoryQueue, 1)
	assert.Equal(t, "v2", r.HistoryQueue[0].ID)
}

func TestSetPlayingRequiresCurrentVideo(t *testing.T) {
	r := New("123456", "a", "")
	r.SetPlaying(true)
	assert.False(t, r.IsPlaying)

	require.NoError(t, r.AddVideo(vid("v1")))
	r.SetPlaying(false)
	assert.False(t, r.IsPlaying)
	r.SetPlaying(true)
	assert.True(t, r.IsPlaying)
}

func TestReplay(t *testing.T) {
	r := New("123456", "a", "")
	assert.ErrorIs(t, r.Replay(), ErrNothingPlaying)

	require.NoError(t, r.AddVideo(vid("v1")))
	require.NoError(t, r.Seek(90))
	r.SetPlaying(false)

	require.NoError(t, r.Replay())
	assert.Zero(t, r.CurrentTime)
	assert.True(t, r.IsPlaying)
}

func TestSeekClampsNegative(t *testing.T) {
	r := New("123456", "a", "")
	require.NoError(t, r.AddVideo(vid("v1")))

	require.NoError(t, r.Seek(-5))
	assert.Zero(t, r.CurrentTime)
	require.NoError(t, r.Seek(42.5))
	assert.Equal(t, 42.5, r.CurrentTime)
}

func TestSeekRequiresCurrentVideo(t *testing.T) {
	r := New("123456", "a", "")

	assert.ErrorIs(t, r.Seek(42), ErrNothingPlaying)
	assert.Zero(t, r.CurrentTime)
	assert.Nil(t, r.PlayingNow)
	assert.False(t, r.IsPlaying)
}

func TestSetVolumeClamps(t *testing.T) {
	r := New("123456", "a", "")

	r.SetVolume(-10)
	assert.Equal(t, 0, r.Volume)
	r.SetVolume(250)
	assert.Equal(t, 100, r.Volume)
	r.SetVolume(55)
	assert.Equal(t, 55, r.Volume)
}

func TestTouch(t *testing.T) {
	r := New("123456", "a", "")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.Touch(now)
	assert.Equal(t, now.UnixMilli(), r.LastActivity)
}

func TestPublicStripsClientsAndPassword(t *testing.T) {
	r := New("123456", "a", "hunter2")
	r.AddClient("a")
	r.AddClient("b")
	require.NoError(t, r.AddVideo(vid("v1")))
	require.NoError(t, r.AddVideo(vid("v2")))

	pub := r.Public()
	assert.Nil(t, pub.Clients)
	assert.Empty(t, pub.Password)
	assert.Equal(t, r.ID, pub.ID)
	require.NotNil(t, pub.PlayingNow)

	// The copy is detached from the original.
	pub.VideoQueue[0].Title = "changed"
	assert.NotEqual(t, pub.VideoQueue[0].Title, r.VideoQueue[0].Title)
	assert.Len(t, r.Clients, 2)
}

func TestPublicWireShapeOmitsClientsAndPassword(t *testing.T) {
	r := New("123456", "a", "hunter2")
	r.AddClient("a")

	frame, err := json.Marshal(r.Public())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.NotContains(t, decoded, "clients")
	assert.NotContains(t, decoded, "password")
	assert.Contains(t, decoded, "videoQueue")
}
