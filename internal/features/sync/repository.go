package sync

import (
	"context"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type SyncOperationRepository interface {
	Create(ctx context.Context, op *SyncOperation) error
	Get(ctx context.Context, id string) (*SyncOperation, error)
	List(ctx context.Context, connectionID string, limit int64) ([]SyncOperation, error)
	Update(ctx context.Context, op *SyncOperation) error
	EnsureIndexes(ctx context.Context) error
}

type SyncOperationRepositoryImpl struct {
	collection *mongo.Collection
}

func NewSyncOperationRepository(db *database.MongodbDB) SyncOperationRepository {
	return &SyncOperationRepositoryImpl{
		collection: db.DB.Collection("sync_operations"),
	}
}

func (r *SyncOperationRepositoryImpl) Create(ctx context.Context, op *SyncOperation) error {
	_, err := r.collection.InsertOne(ctx, op)
	return err
}

func (r *SyncOperationRepositoryImpl) Get(ctx context.Context, id string) (*SyncOperation, error) {
	var op SyncOperation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&op)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.NotFound("sync operation %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *SyncOperationRepositoryImpl) List(ctx context.Context, connectionID string, limit int64) ([]SyncOperation, error) {
	opts := options.Find().
		SetSort(bson.M{"started_at": -1}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{"connection_id": connectionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ops []SyncOperation
	if err := cursor.All(ctx, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (r *SyncOperationRepositoryImpl) Update(ctx context.Context, op *SyncOperation) error {
	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": op.ID}, op)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("sync operation %s not found", op.ID)
	}
	return nil
}

func (r *SyncOperationRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "connection_id", Value: 1}, {Key: "started_at", Value: -1}}},
	})
	return err
}
