package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"time"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/config"
	"go-freight/internal/database"
	"go-freight/internal/providers"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Vault stores per-connection secret material. Callers get credentials in
// and out; nothing in here ever logs or returns raw secret bytes except
// through Read.
type Vault interface {
	Read(ctx context.Context, connectionID string) (*providers.Credential, error)
	Write(ctx context.Context, connectionID string, cred *providers.Credential) error
	Delete(ctx context.Context, connectionID string) error
}

type sealedCredential struct {
	ConnectionID string    `bson:"connection_id"`
	Nonce        []byte    `bson:"nonce"`
	Ciphertext   []byte    `bson:"ciphertext"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// MongoVault seals credential documents with AES-GCM under a key derived
// from config before they touch disk.
type MongoVault struct {
	collection *mongo.Collection
	aead       cipher.AEAD
}

func NewVault(cfg *config.Config, db *database.MongodbDB) (Vault, error) {
	// Key is derived rather than used raw so short dev keys still work.
	key := sha256.Sum256([]byte(cfg.VaultKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &MongoVault{
		collection: db.DB.Collection("credentials"),
		aead:       aead,
	}, nil
}

func (v *MongoVault) Read(ctx context.Context, connectionID string) (*providers.Credential, error) {
	var sealed sealedCredential
	err := v.collection.FindOne(ctx, bson.M{"connection_id": connectionID}).Decode(&sealed)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.NotFound("no credential for connection %s", connectionID)
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := v.aead.Open(nil, sealed.Nonce, sealed.Ciphertext, []byte(connectionID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ClassAuthentication, err, "credential for connection %s cannot be unsealed", connectionID)
	}

	var cred providers.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

func (v *MongoVault) Write(ctx context.Context, connectionID string, cred *providers.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	plaintext, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}

	sealed := sealedCredential{
		ConnectionID: connectionID,
		Nonce:        nonce,
		Ciphertext:   v.aead.Seal(nil, nonce, plaintext, []byte(connectionID)),
		UpdatedAt:    time.Now().UTC(),
	}

	_, err = v.collection.ReplaceOne(ctx,
		bson.M{"connection_id": connectionID},
		sealed,
		options.Replace().SetUpsert(true))
	return err
}

func (v *MongoVault) Delete(ctx context.Context, connectionID string) error {
	_, err := v.collection.DeleteOne(ctx, bson.M{"connection_id": connectionID})
	return err
}
