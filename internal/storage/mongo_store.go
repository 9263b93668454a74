package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/annel0/voxel-stream/internal/world"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for the chunk collection.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. voxelstream
	Collection string // e.g. chunks
}

type chunkDoc struct {
	Level     string    `bson:"level"`
	X         int       `bson:"x"`
	Y         int       `bson:"y"`
	Z         int       `bson:"z"`
	Blob      []byte    `bson:"blob"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore implements ChunkStore on MongoDB.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects, pings and ensures the unique chunk index.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "voxelstream"
	}
	if cfg.Collection == "" {
		cfg.Collection = "chunks"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	store := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}

	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "level", Value: 1}, {Key: "x", Value: 1}, {Key: "y", Value: 1}, {Key: "z", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("chunk_unique"),
	}
	if _, err := store.collection.Indexes().CreateOne(connectCtx, idx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	logging.GetStorageLogger().Info("🍃 MongoDB chunk store ready (%s/%s)", cfg.Database, cfg.Collection)
	return store, nil
}

func chunkFilter(id world.ChunkID, level string) bson.M {
	return bson.M{"level": level, "x": id.X, "y": id.Y, "z": id.Z}
}

func (m *MongoStore) Exists(ctx context.Context, id world.ChunkID, level string) (bool, error) {
	n, err := m.collection.CountDocuments(ctx, chunkFilter(id, level), options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *MongoStore) Load(ctx context.Context, id world.ChunkID, level string) ([]byte, int, error) {
	var doc chunkDoc
	err := m.collection.FindOne(ctx, chunkFilter(id, level)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, 0, fmt.Errorf("load %s: %w", id, ErrChunkNotFound)
	}
	if err != nil {
		return nil, 0, err
	}
	return DecodeVoxels(doc.Blob)
}

func (m *MongoStore) Save(ctx context.Context, id world.ChunkID, level string, voxels []byte, solidCount int) error {
	blob, err := EncodeVoxels(voxels, solidCount)
	if err != nil {
		return err
	}
	doc := chunkDoc{Level: level, X: id.X, Y: id.Y, Z: id.Z, Blob: blob, UpdatedAt: time.Now()}
	_, err = m.collection.ReplaceOne(ctx, chunkFilter(id, level), doc, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
