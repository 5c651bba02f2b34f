package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/store"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

const (
	// KeyPrefix is the shared-store namespace for room records.
	KeyPrefix = "room:"

	// idAttempts bounds the 6-digit id re-roll loop.
	idAttempts = 50
)

var (
	// ErrNotFound means no room exists with that id.
	ErrNotFound = errors.New("room not found")

	// ErrConflict means a room with that id already exists.
	ErrConflict = errors.New("room id already exists")
)

// Key returns the shared-store key for a room id.
func Key(id types.RoomIDType) string {
	return KeyPrefix + string(id)
}

// Repository owns room records in the shared store. All mutations flow
// through Mutate so concurrent writers on the same room serialize.
type Repository struct {
	store      *store.Service
	historyMax int
	now        func() time.Time
}

// NewRepository returns a repository on top of the shared state store.
// historyMax caps the history queue; zero means unbounded.
func NewRepository(s *store.Service, historyMax int) *Repository {
	return &Repository{
		store:      s,
		historyMax: historyMax,
		now:        time.Now,
	}
}

// HistoryMax exposes the configured history cap to transition callers.
func (repo *Repository) HistoryMax() int {
	return repo.historyMax
}

// Create persists a new room. Fails with ErrConflict when the id is taken.
func (repo *Repository) Create(ctx context.Context, r *Room) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", r.ID, err)
	}
	ok, err := repo.store.SetNX(ctx, Key(r.ID), string(data))
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// Load reads and decodes the room with the given id.
func (repo *Repository) Load(ctx context.Context, id types.RoomIDType) (*Room, error) {
	raw, exists, err := repo.store.Get(ctx, Key(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return decode(id, raw)
}

// Mutate applies fn to the room inside a serialized read-modify-write. fn
// must be pure and idempotent; the store retries it on write contention.
// An error from fn aborts without writing. On success the updated room is
// returned with LastActivity already touched.
func (repo *Repository) Mutate(ctx context.Context, id types.RoomIDType, fn func(*Room) error) (*Room, error) {
	var updated *Room

	err := repo.store.AtomicUpdate(ctx, Key(id), func(current string, exists bool) (string, error) {
		if !exists {
			return "", ErrNotFound
		}
		r, err := decode(id, current)
		if err != nil {
			return "", err
		}
		if err := fn(r); err != nil {
			return "", err
		}
		r.Touch(repo.now())
		data, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("encode room %s: %w", id, err)
		}
		updated = r
		return string(data), nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListMembers returns the current member identities of a room. A missing
// room yields an empty list rather than an error: broadcast delivery races
// with room deletion by design.
func (repo *Repository) ListMembers(ctx context.Context, id types.RoomIDType) ([]types.ClientIDType, error) {
	r, err := repo.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.Clients, nil
}

// Delete removes the room record.
func (repo *Repository) Delete(ctx context.Context, id types.RoomIDType) error {
	return repo.store.Delete(ctx, Key(id))
}

// ExistsID reports whether a room with id is persisted.
func (repo *Repository) ExistsID(ctx context.Context, id types.RoomIDType) (bool, error) {
	return repo.store.Exists(ctx, Key(id))
}

// GenerateID rolls uniform random 6-digit ids until one is free.
func (repo *Repository) GenerateID(ctx context.Context) (types.RoomIDType, error) {
	for i := 0; i < idAttempts; i++ {
		id := types.RoomIDType(fmt.Sprintf("%06d", 100000+rand.IntN(900000)))
		exists, err := repo.ExistsID(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", errors.New("could not generate a free room id")
}

func decode(id types.RoomIDType, raw string) (*Room, error) {
	var r Room
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &r, nil
}
