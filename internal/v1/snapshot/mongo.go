package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/room"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

const (
	databaseName   = "syncroom"
	collectionName = "rooms"

	// batchSize is how many upserts go into one bulk write.
	batchSize = 100
	// batchAttempts and batchRetryDelay govern per-batch retries.
	batchAttempts   = 3
	batchRetryDelay = 2 * time.Second

	connectTimeout = 10 * time.Second
)

// document is the persisted shape. The room itself travels as its JSON
// encoding so the wire format and the durable format never diverge.
type document struct {
	ID        string    `bson:"_id"`
	Payload   []byte    `bson:"payload"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// Mongo is the MongoDB-backed durable store.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// NewMongo connects to the durable store and verifies connectivity.
func NewMongo(ctx context.Context, uri string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to durable store: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping durable store: %w", err)
	}

	return &Mongo{
		client: client,
		coll:   client.Database(databaseName).Collection(collectionName),
		now:    time.Now,
	}, nil
}

// SaveRooms upserts rooms in batches. Each batch retries independently;
// a batch that keeps failing fails the whole save but leaves earlier
// batches written, which is fine since the operation is idempotent.
func (m *Mongo) SaveRooms(ctx context.Context, rooms []*room.Room) error {
	for start := 0; start < len(rooms); start += batchSize {
		end := start + batchSize
		if end > len(rooms) {
			end = len(rooms)
		}
		models, err := m.buildBatch(rooms[start:end])
		if err != nil {
			return err
		}
		if len(models) == 0 {
			continue
		}

		op := func() error {
			_, err := m.coll.BulkWrite(ctx, models)
			return err
		}
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(batchRetryDelay), batchAttempts-1), ctx)
		if err := backoff.Retry(op, policy); err != nil {
			return fmt.Errorf("snapshot batch upsert: %w", err)
		}
	}
	return nil
}

func (m *Mongo) buildBatch(rooms []*room.Room) ([]mongo.WriteModel, error) {
	models := make([]mongo.WriteModel, 0, len(rooms))
	for _, r := range rooms {
		payload, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode room %s for snapshot: %w", r.ID, err)
		}
		doc := document{ID: string(r.ID), Payload: payload, UpdatedAt: m.now()}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: doc.ID}}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	return models, nil
}

// ForEachRoom streams every snapshot through fn. Records that no longer
// decode are skipped with a log line rather than poisoning the sync.
func (m *Mongo) ForEachRoom(ctx context.Context, fn func(*room.Room) error) error {
	cursor, err := m.coll.Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("open snapshot cursor: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("decode snapshot document: %w", err)
		}
		var r room.Room
		if err := json.Unmarshal(doc.Payload, &r); err != nil {
			logging.Warn(ctx, "Skipping undecodable snapshot", zap.String("room_id", doc.ID), zap.Error(err))
			continue
		}
		if err := fn(&r); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// DeleteRooms removes snapshots by room id.
func (m *Mongo) DeleteRooms(ctx context.Context, ids []types.RoomIDType) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	_, err := m.coll.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: raw}}}})
	return err
}

// Ping answers the readiness probe.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from the durable store.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
