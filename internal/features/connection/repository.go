package connection

import (
	"context"
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/database"
	"go-freight/internal/providers"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ConnectionRepository interface {
	Create(ctx context.Context, conn *Connection) error
	Get(ctx context.Context, id string) (*Connection, error)
	FindByOwner(ctx context.Context, owner Owner) ([]Connection, error)
	// GetActiveByOwnerProvider returns the ACTIVE connection for an
	// (owner, provider) pair, nil when there is none.
	GetActiveByOwnerProvider(ctx context.Context, owner Owner, provider providers.ProviderType) (*Connection, error)
	// FindByProviderAccount resolves the connection owning a webhook by the
	// provider-side account identifier.
	FindByProviderAccount(ctx context.Context, provider providers.ProviderType, accountID string) (*Connection, error)
	// ListActive returns every ACTIVE connection; the scheduler walks this to
	// find due syncs.
	ListActive(ctx context.Context) ([]Connection, error)
	Update(ctx context.Context, id string, updates bson.M) error
	// UpdateCAS applies updates only when updated_at still equals
	// prevUpdatedAt, failing with a conflict otherwise. Credential-bearing
	// writes go through this to avoid lost updates.
	UpdateCAS(ctx context.Context, id string, updates bson.M, prevUpdatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	EnsureIndexes(ctx context.Context) error
}

type ConnectionRepositoryImpl struct {
	collection *mongo.Collection
}

func NewConnectionRepository(db *database.MongodbDB) ConnectionRepository {
	return &ConnectionRepositoryImpl{
		collection: db.DB.Collection("connections"),
	}
}

func (r *ConnectionRepositoryImpl) Create(ctx context.Context, conn *Connection) error {
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	_, err := r.collection.InsertOne(ctx, conn)
	if mongo.IsDuplicateKeyError(err) {
		// The partial unique index catches creates that raced past the
		// service's pre-check.
		return apperrors.Conflict("an active %s connection already exists for %s %s",
			conn.ProviderType, conn.Owner.Type, conn.Owner.ID)
	}
	return err
}

func (r *ConnectionRepositoryImpl) Get(ctx context.Context, id string) (*Connection, error) {
	var conn Connection
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&conn)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.NotFound("connection %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *ConnectionRepositoryImpl) FindByOwner(ctx context.Context, owner Owner) ([]Connection, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"owner.type": owner.Type, "owner.id": owner.ID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var conns []Connection
	if err := cursor.All(ctx, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *ConnectionRepositoryImpl) GetActiveByOwnerProvider(ctx context.Context, owner Owner, provider providers.ProviderType) (*Connection, error) {
	var conn Connection
	err := r.collection.FindOne(ctx, bson.M{
		"owner.type":    owner.Type,
		"owner.id":      owner.ID,
		"provider_type": provider,
		"status":        StatusActive,
	}).Decode(&conn)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *ConnectionRepositoryImpl) FindByProviderAccount(ctx context.Context, provider providers.ProviderType, accountID string) (*Connection, error) {
	var conn Connection
	err := r.collection.FindOne(ctx, bson.M{
		"provider_type":                provider,
		"settings.provider_account_id": accountID,
	}).Decode(&conn)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.NotFound("no %s connection for account %s", provider, accountID)
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *ConnectionRepositoryImpl) ListActive(ctx context.Context) ([]Connection, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"status": StatusActive})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var conns []Connection
	if err := cursor.All(ctx, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *ConnectionRepositoryImpl) Update(ctx context.Context, id string, updates bson.M) error {
	updates["updated_at"] = time.Now().UTC()
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": updates})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("connection %s not found", id)
	}
	return nil
}

func (r *ConnectionRepositoryImpl) UpdateCAS(ctx context.Context, id string, updates bson.M, prevUpdatedAt time.Time) error {
	updates["updated_at"] = time.Now().UTC()
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "updated_at": prevUpdatedAt},
		bson.M{"$set": updates})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Either the row is gone or someone won the race.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return apperrors.Conflict("connection %s was modified concurrently", id)
	}
	return nil
}

func (r *ConnectionRepositoryImpl) Delete(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound("connection %s not found", id)
	}
	return nil
}

func (r *ConnectionRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// At most one ACTIVE connection per (owner, provider); inactive
			// rows may repeat.
			Keys: bson.D{{Key: "owner.type", Value: 1}, {Key: "owner.id", Value: 1}, {Key: "provider_type", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": string(StatusActive)}),
		},
		{
			Keys:    bson.D{{Key: "provider_type", Value: 1}, {Key: "settings.provider_account_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	})
	return err
}
