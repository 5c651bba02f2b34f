package room

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/store"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := store.NewService(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return NewRepository(svc, 0)
}

func TestCreateAndLoad(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	r := New("123456", "creator", "")
	require.NoError(t, repo.Create(ctx, r))

	loaded, err := repo.Load(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, r.ID, loaded.ID)
	assert.Equal(t, r.CreatorID, loaded.CreatorID)
	assert.Equal(t, 100, loaded.Volume)
}

func TestCreateConflict(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, New("123456", "a", "")))
	err := repo.Create(ctx, New("123456", "b", ""))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLoadNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Load(context.Background(), "999999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMutatePersistsAndTouches(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	frozen := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return frozen }

	require.NoError(t, repo.Create(ctx, New("123456", "a", "")))

	updated, err := repo.Mutate(ctx, "123456", func(r *Room) error {
		r.AddClient("a")
		return r.AddVideo(types.Video{ID: "v1"})
	})
	require.NoError(t, err)
	assert.Equal(t, frozen.UnixMilli(), updated.LastActivity)
	require.NotNil(t, updated.PlayingNow)

	loaded, err := repo.Load(ctx, "123456")
	require.NoError(t, err)
	assert.True(t, loaded.HasClient("a"))
	assert.Equal(t, "v1", loaded.PlayingNow.ID)
	assert.Equal(t, frozen.UnixMilli(), loaded.LastActivity)
}

func TestMutateNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Mutate(context.Background(), "999999", func(*Room) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMutateFnErrorAbortsWithoutWriting(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	r := New("123456", "a", "")
	require.NoError(t, repo.Create(ctx, r))
	before, err := repo.Load(ctx, "123456")
	require.NoError(t, err)

	_, err = repo.Mutate(ctx, "123456", func(room *Room) error {
		room.AddClient("sneaky")
		return ErrAlreadyQueued
	})
	require.ErrorIs(t, err, ErrAlreadyQueued)

	after, err := repo.Load(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, before.Clients, after.Clients)
	assert.Equal(t, before.LastActivity, after.LastActivity)
}

func TestListMembers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, New("123456", "a", "")))
	_, err := repo.Mutate(ctx, "123456", func(r *Room) error {
		r.AddClient("a")
		r.AddClient("b")
		return nil
	})
	require.NoError(t, err)

	members, err := repo.ListMembers(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, []types.ClientIDType{"a", "b"}, members)

	// Vanished room yields an empty list, not an error.
	members, err = repo.ListMembers(ctx, "999999")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestDeleteAndExists(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, New("123456", "a", "")))
	ok, err := repo.ExistsID(ctx, "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.Delete(ctx, "123456"))
	ok, err = repo.ExistsID(ctx, "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerateIDFormat(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pattern := regexp.MustCompile(`^[1-9]\d{5}$`)
	for i := 0; i < 20; i++ {
		id, err := repo.GenerateID(ctx)
		require.NoError(t, err)
		assert.Regexp(t, pattern, string(id))
	}
}
