package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB database/collection names for the durable cache tier
const (
	MongoCacheDBName    = "stocklens"
	MongoCacheColl      = "cache_entries"
	mongoOpTimeout      = 5 * time.Second
	mongoConnectTimeout = 30 * time.Second
)

// MongoStore is an alternate durable cache tier backed by MongoDB Atlas,
// selected when MONGODB_URI is configured.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to MongoDB and prepares the cache collection.
func NewMongoStore(uri string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(mongoConnectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := &MongoStore{
		client:     client,
		collection: client.Database(MongoCacheDBName).Collection(MongoCacheColl),
	}
	store.createIndexes()

	log.Println("MongoDB cache store connected")
	return store, nil
}

func (m *MongoStore) createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	}
	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Printf("Warning: failed to create cache indexes: %v", err)
	}
}

// Put upserts an entry keyed by its cache key.
func (m *MongoStore) Put(entry StoredEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	filter := bson.M{"_id": entry.Key}
	update := bson.M{"$set": entry}
	opts := options.Update().SetUpsert(true)

	_, err := m.collection.UpdateOne(ctx, filter, update, opts)
	return err
}

// Get returns the entry for key, or nil when absent.
func (m *MongoStore) Get(key string) (*StoredEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	var entry StoredEntry
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Delete removes a single entry.
func (m *MongoStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

// DeleteByCategory bulk-deletes all entries in a category.
func (m *MongoStore) DeleteByCategory(category string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	res, err := m.collection.DeleteMany(ctx, bson.M{"category": category})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteByTag bulk-deletes all entries carrying the tag.
func (m *MongoStore) DeleteByTag(tag string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	res, err := m.collection.DeleteMany(ctx, bson.M{"tags": tag})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// PurgeExpired removes entries whose expiry has passed.
func (m *MongoStore) PurgeExpired() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	res, err := m.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": time.Now()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Close disconnects the client.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
