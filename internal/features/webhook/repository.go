package webhook

import (
	"context"
	"time"

	"go-freight/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// dedupRetention is how long processed event ids are remembered. Providers
// redeliver within minutes; a week covers replayed backfills comfortably.
const dedupRetention = 7 * 24 * time.Hour

type DedupRepository interface {
	// Seen reports whether key has already been recorded.
	Seen(ctx context.Context, key string) (bool, error)
	// Record remembers key after a delivery's effects are durable; recording
	// an existing key is not an error. The unique _id still makes the insert
	// the check across restarts.
	Record(ctx context.Context, key string, at time.Time) error
	EnsureIndexes(ctx context.Context) error
}

type DedupRepositoryImpl struct {
	collection *mongo.Collection
}

func NewDedupRepository(db *database.MongodbDB) DedupRepository {
	return &DedupRepositoryImpl{
		collection: db.DB.Collection("webhook_dedup"),
	}
}

func (r *DedupRepositoryImpl) Seen(ctx context.Context, key string) (bool, error) {
	err := r.collection.FindOne(ctx, bson.M{"_id": key}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *DedupRepositoryImpl) Record(ctx context.Context, key string, at time.Time) error {
	_, err := r.collection.InsertOne(ctx, DedupRecord{Key: key, ReceivedAt: at.UTC()})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *DedupRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "received_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(dedupRetention.Seconds())),
	})
	return err
}
