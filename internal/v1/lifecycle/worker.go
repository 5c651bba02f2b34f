// Package lifecycle runs the scheduled maintenance jobs: inactivity
// eviction, orphan cleanup, durable snapshots, reverse sync and the daily
// integrity pass.
package lifecycle

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/metrics"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/registry"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/room"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/snapshot"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/store"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

const (
	sweepSchedule     = "@every 10m"
	syncSchedule      = "@every 1h"
	integritySchedule = "0 3 * * *"

	// orphanAge is how long an unbound client record may linger.
	orphanAge = 24 * time.Hour

	// Job retry policy: base 1 s exponential backoff, 3 attempts total.
	retryBase     = time.Second
	retryAttempts = 3
)

// RoomCloser performs the full closeRoom side-effect (notify members,
// clear bindings, delete the record).
type RoomCloser interface {
	CloseRoom(ctx context.Context, roomID types.RoomIDType, reason string) error
}

// Policy carries the eviction tuning knobs.
type Policy struct {
	InactiveTimeout         time.Duration
	MinVideoTimeout         time.Duration
	VideoDurationMultiplier float64
}

// Worker owns the cron schedule. All jobs are idempotent and safe to run
// on several instances at once; the shared store serializes the writes.
type Worker struct {
	store   *store.Service
	repo    *room.Repository
	closer  RoomCloser
	durable snapshot.Store // nil disables snapshotting and sync
	policy  Policy

	cron *cron.Cron
	now  func() time.Time
}

// New builds the worker. durable may be nil when no durable store is
// configured.
func New(s *store.Service, repo *room.Repository, closer RoomCloser, durable snapshot.Store, policy Policy) *Worker {
	return &Worker{
		store:   s,
		repo:    repo,
		closer:  closer,
		durable: durable,
		policy:  policy,
		cron:    cron.New(),
		now:     time.Now,
	}
}

// Start runs one reverse sync so a fresh shared store is repopulated
// before traffic arrives, then begins the schedule.
func (w *Worker) Start(ctx context.Context) error {
	if w.durable != nil {
		if err := w.runJob(ctx, "reverse_sync", w.reverseSync); err != nil {
			logging.Error(ctx, "Boot-time reverse sync failed", zap.Error(err))
		}
	}

	schedule := func(spec, name string, job func(context.Context) error) error {
		_, err := w.cron.AddFunc(spec, func() {
			_ = w.runJob(context.Background(), name, job)
		})
		return err
	}

	if err := schedule(sweepSchedule, "sweep", w.sweep); err != nil {
		return err
	}
	if w.durable != nil {
		if err := schedule(syncSchedule, "reverse_sync", w.reverseSync); err != nil {
			return err
		}
	}
	if err := schedule(integritySchedule, "integrity", w.integrity); err != nil {
		return err
	}

	w.cron.Start()
	return nil
}

// Stop halts the schedule and waits for running jobs.
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
}

// SnapshotNow flushes every room to the durable store, used by the sweep
// and by graceful shutdown.
func (w *Worker) SnapshotNow(ctx context.Context) error {
	if w.durable == nil {
		return nil
	}
	rooms, _, err := w.loadAllRooms(ctx)
	if err != nil {
		return err
	}
	return w.durable.SaveRooms(ctx, rooms)
}

// runJob wraps a job with retries and metrics. Persistent failure is
// logged and swallowed; the schedule keeps running.
func (w *Worker) runJob(ctx context.Context, name string, job func(context.Context) error) error {
	op := func() error { return job(ctx) }
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(retryBase)), retryAttempts-1), ctx)

	err := backoff.Retry(op, policy)
	if err != nil {
		metrics.WorkerRuns.WithLabelValues(name, "error").Inc()
		logging.Error(ctx, "Worker job failed", zap.String("job", name), zap.Error(err))
		return err
	}
	metrics.WorkerRuns.WithLabelValues(name, "ok").Inc()
	return nil
}

// --- Jobs ---

// sweep closes empty and inactive rooms, purges orphaned client records,
// and takes the periodic snapshot.
func (w *Worker) sweep(ctx context.Context) error {
	rooms, ids, err := w.loadAllRooms(ctx)
	if err != nil {
		return err
	}
	metrics.ActiveRooms.Set(float64(len(rooms)))

	survivors := rooms[:0]
	for _, r := range rooms {
		reason := w.evictionReason(r)
		if reason == "" {
			survivors = append(survivors, r)
			continue
		}
		if err := w.closer.CloseRoom(ctx, r.ID, reason); err != nil {
			logging.Warn(ctx, "Could not evict room",
				zap.String("room_id", string(r.ID)), zap.String("reason", reason), zap.Error(err))
			continue
		}
		metrics.RoomsEvicted.WithLabelValues(reason).Inc()
	}

	if err := w.cleanOrphanClients(ctx, toSet(ids)); err != nil {
		return err
	}

	if w.durable != nil {
		if err := w.durable.SaveRooms(ctx, survivors); err != nil {
			return err
		}
	}
	return nil
}

// evictionReason decides whether a room should be closed now. Empty
// string means it survives.
func (w *Worker) evictionReason(r *room.Room) string {
	if len(r.Clients) == 0 {
		return "empty room"
	}

	timeout := w.policy.InactiveTimeout
	if r.PlayingNow != nil && r.IsPlaying {
		extended := time.Duration(w.policy.VideoDurationMultiplier * r.PlayingNow.Duration * float64(time.Second))
		if extended < w.policy.MinVideoTimeout {
			extended = w.policy.MinVideoTimeout
		}
		timeout = extended
	}

	idle := w.now().Sub(time.UnixMilli(r.LastActivity))
	if idle > timeout {
		return "inactivity"
	}
	return ""
}

// cleanOrphanClients walks client:* records. Unbound records older than
// 24 h and records pointing at vanished rooms are deleted.
func (w *Worker) cleanOrphanClients(ctx context.Context, liveRooms map[types.RoomIDType]bool) error {
	keys, err := w.store.ScanKeys(ctx, registry.KeyPrefix)
	if err != nil {
		return err
	}

	cutoff := w.now().Add(-orphanAge).UnixMilli()
	for _, key := range keys {
		fields, err := w.store.HashGetAll(ctx, key)
		if err != nil {
			return err
		}
		roomID := types.RoomIDType(fields[registry.FieldRoomID])
		lastSeen, _ := strconv.ParseInt(fields[registry.FieldLastSeen], 10, 64)

		drop := false
		switch {
		case roomID == "":
			drop = lastSeen < cutoff
		case !liveRooms[roomID]:
			drop = true
		}
		if drop {
			if err := w.store.Delete(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// reverseSync restores rooms from the durable store that are missing from
// the shared store. Rooms present in both keep the shared-store copy: it
// is never older than the snapshot.
func (w *Worker) reverseSync(ctx context.Context) error {
	restored := 0
	err := w.durable.ForEachRoom(ctx, func(r *room.Room) error {
		exists, err := w.repo.ExistsID(ctx, r.ID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if err := w.repo.Create(ctx, r); err != nil && !errors.Is(err, room.ErrConflict) {
			return err
		}
		restored++
		return nil
	})
	if err != nil {
		return err
	}
	if restored > 0 {
		logging.Info(ctx, "Reverse sync restored rooms", zap.Int("count", restored))
	}
	return nil
}

// integrity cross-checks the two client/room indexes: client records must
// point at live rooms, and room member lists must only contain identities
// with a client record. Stale durable snapshots are dropped as well.
func (w *Worker) integrity(ctx context.Context) error {
	_, ids, err := w.loadAllRooms(ctx)
	if err != nil {
		return err
	}
	liveRooms := toSet(ids)

	if err := w.cleanOrphanClients(ctx, liveRooms); err != nil {
		return err
	}

	clientKeys, err := w.store.ScanKeys(ctx, registry.KeyPrefix)
	if err != nil {
		return err
	}
	liveClients := make(map[types.ClientIDType]bool, len(clientKeys))
	for _, key := range clientKeys {
		liveClients[types.ClientIDType(strings.TrimPrefix(key, registry.KeyPrefix))] = true
	}

	for _, id := range ids {
		_, err := w.repo.Mutate(ctx, id, func(r *room.Room) error {
			kept := r.Clients[:0]
			for _, member := range r.Clients {
				if liveClients[member] {
					kept = append(kept, member)
				}
			}
			r.Clients = kept
			return nil
		})
		if err != nil && !errors.Is(err, room.ErrNotFound) {
			return err
		}
	}

	if w.durable != nil {
		var stale []types.RoomIDType
		err := w.durable.ForEachRoom(ctx, func(r *room.Room) error {
			if !liveRooms[r.ID] {
				stale = append(stale, r.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := w.durable.DeleteRooms(ctx, stale); err != nil {
			return err
		}
	}
	return nil
}

// --- Helpers ---

func (w *Worker) loadAllRooms(ctx context.Context) ([]*room.Room, []types.RoomIDType, error) {
	keys, err := w.store.ScanKeys(ctx, room.KeyPrefix)
	if err != nil {
		return nil, nil, err
	}

	rooms := make([]*room.Room, 0, len(keys))
	ids := make([]types.RoomIDType, 0, len(keys))
	for _, key := range keys {
		id := types.RoomIDType(strings.TrimPrefix(key, room.KeyPrefix))
		r, err := w.repo.Load(ctx, id)
		if errors.Is(err, room.ErrNotFound) {
			continue // deleted between scan and load
		}
		if err != nil {
			return nil, nil, err
		}
		rooms = append(rooms, r)
		ids = append(ids, id)
	}
	return rooms, ids, nil
}

func toSet(ids []types.RoomIDType) map[types.RoomIDType]bool {
	set := make(map[types.RoomIDType]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
