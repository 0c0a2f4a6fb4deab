// Package mongodb keeps objects as documents in a MongoDB collection.
package mongodb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/s3ftp/s3ftp-go/internal/listing"
	"github.com/s3ftp/s3ftp-go/internal/storage/types"
)

// ObjectDocument represents an object document in MongoDB
type ObjectDocument struct {
	ID        string    `bson:"_id"`
	Bucket    string    `bson:"bucket"`
	Key       string    `bson:"key"`
	Data      []byte    `bson:"data"`
	Size      int64     `bson:"size"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Store implements types.ObjectStore using MongoDB
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	bucket     string
}

// Open connects to MongoDB and prepares the collection
func Open(ctx context.Context, uri, database, collection, bucket string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	indexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "bucket", Value: 1},
			{Key: "key", Value: 1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &Store{client: client, collection: coll, bucket: bucket}, nil
}

// docID scopes a key to the bucket so several buckets can share a collection
func (m *Store) docID(key string) string {
	return m.bucket + "/" + key
}

func (m *Store) find(ctx context.Context, key string, projection bson.M) (*ObjectDocument, error) {
	opts := options.FindOne()
	if projection != nil {
		opts.SetProjection(projection)
	}
	var doc ObjectDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": m.docID(key)}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return &doc, nil
}

// Get reads object data
func (m *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	doc, err := m.find(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(doc.Data)), nil
}

// Put writes object data, replacing an existing document
func (m *Store) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	return m.replace(ctx, key, data)
}

func (m *Store) replace(ctx context.Context, key string, data []byte) error {
	doc := ObjectDocument{
		ID:        m.docID(key),
		Bucket:    m.bucket,
		Key:       key,
		Data:      data,
		Size:      int64(len(data)),
		UpdatedAt: time.Now(),
	}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// Head gets object metadata without loading the data
func (m *Store) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	doc, err := m.find(ctx, key, bson.M{"data": 0})
	if err != nil {
		return types.ObjectInfo{}, err
	}
	return types.ObjectInfo{Key: key, Size: doc.Size, ModTime: doc.UpdatedAt}, nil
}

// Delete deletes an object
func (m *Store) Delete(ctx context.Context, key string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"_id": m.docID(key)})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("delete %s: %w", key, types.ErrNotFound)
	}
	return nil
}

// Copy duplicates an object
func (m *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	doc, err := m.find(ctx, srcKey, nil)
	if err != nil {
		return err
	}
	return m.replace(ctx, dstKey, doc.Data)
}

// List lists objects under prefix
func (m *Store) List(ctx context.Context, prefix, delimiter string) (*listing.Result, error) {
	filter := bson.M{
		"bucket": m.bucket,
		"key":    bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)},
	}
	opts := options.Find().
		SetSort(bson.M{"key": 1}).
		SetProjection(bson.M{"key": 1, "size": 1})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer cursor.Close(ctx)

	var objects []listing.Object
	for cursor.Next(ctx) {
		var doc ObjectDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		objects = append(objects, listing.Object{Key: doc.Key, Size: doc.Size})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return listing.Build(prefix, delimiter, objects), nil
}

// Close closes the MongoDB connection
func (m *Store) Close() error {
	return m.client.Disconnect(context.Background())
}

var _ types.ObjectStore = (*Store)(nil)
