// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package mongo stores records as documents in a MongoDB collection.
package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	DefaultCollection = "records"
	DefaultBatchSize  = 100
)

var (
	ErrURIRequired      = errors.New("mongo uri required")
	ErrDatabaseRequired = errors.New("mongo database required")
)

// Config holds the connection settings of a MongoDB-backed repository.
type Config struct {
	URI        string
	Database   string
	Collection string
	// BatchSize is the number of documents fetched per cursor round trip.
	BatchSize int32
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
	}
}

// Repository stores each record as one document.
//
// The duplicate check and the insert in Save are separate round trips, so
// two processes saving the same content concurrently may both store it.
type Repository struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	client     *mongo.Client
	collection *mongo.Collection
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a MongoDB-backed repository. Call Initialize to connect.
func NewRepository(cfg Config, opts ...Option) (storage.Repository, error) {
	r, err := newRepository(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func newRepository(cfg Config, opts ...Option) (*Repository, error) {
	if cfg.URI == "" {
		return nil, ErrURIRequired
	}
	if cfg.Database == "" {
		return nil, ErrDatabaseRequired
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	r := &Repository{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Initialize connects, checks the server responds and ensures the lineage index.
func (r *Repository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, err := mongo.Connect(options.Client().ApplyURI(r.cfg.URI))
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return fmt.Errorf("ping mongodb: %w", err)
	}

	collection := client.Database(r.cfg.Database).Collection(r.cfg.Collection)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "service_id", Value: 1},
			{Key: "document_type", Value: 1},
			{Key: "fetch_date", Value: 1},
		},
	})
	if err != nil {
		client.Disconnect(ctx)
		return fmt.Errorf("create lineage index: %w", err)
	}

	r.client = client
	r.collection = collection
	r.logger.Debug("connected to mongodb", "database", r.cfg.Database, "collection", r.cfg.Collection)
	return nil
}

// Finalize disconnects from the server.
func (r *Repository) Finalize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Disconnect(ctx)
	r.client = nil
	r.collection = nil
	return err
}

func (r *Repository) getCollection() (*mongo.Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.collection == nil {
		return nil, storage.ErrNotInitialized
	}
	return r.collection, nil
}

func lineageFilter(serviceID, documentType string) bson.D {
	return bson.D{
		{Key: "service_id", Value: serviceID},
		{Key: "document_type", Value: documentType},
	}
}

// Save inserts record unless the latest document of its lineage has the same content.
func (r *Repository) Save(ctx context.Context, record *core.Record) (*core.Record, error) {
	if err := core.ValidateRecord(record); err != nil {
		return nil, err
	}
	coll, err := r.getCollection()
	if err != nil {
		return nil, err
	}

	content := record.Content
	if content == nil {
		content = []byte{}
	}

	latest, err := r.findLatest(ctx, coll, record.ServiceID, record.DocumentType, true)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.MimeType == record.MimeType && bytes.Equal(latest.Content, content) {
		r.logger.Debug("content unchanged, skipping", "lineage", record.Lineage(), "fetchDate", record.FetchDate)
		return nil, nil
	}

	candidate := record.Clone()
	candidate.Content = content
	candidate.IsFirstRecord = record.IsFirstRecord || latest == nil

	doc := toDocument(candidate)
	doc.ID = bson.NewObjectID()
	doc.CreatedAt = time.Now().UTC()

	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	candidate.ID = core.ID(doc.ID.Hex())
	return candidate, nil
}

func (r *Repository) findLatest(ctx context.Context, coll *mongo.Collection, serviceID, documentType string, withContent bool) (*core.Record, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "fetch_date", Value: -1}, {Key: "_id", Value: -1}})
	if !withContent {
		opts.SetProjection(bson.D{{Key: "content", Value: 0}})
	}

	var doc recordDocument
	err := coll.FindOne(ctx, lineageFilter(serviceID, documentType), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest record: %w", err)
	}
	return toRecord(&doc, withContent), nil
}

// FindLatestByServiceIDAndDocumentType returns the lineage document with the latest fetch date.
func (r *Repository) FindLatestByServiceIDAndDocumentType(ctx context.Context, serviceID, documentType string, opts ...storage.ReadOption) (*core.Record, error) {
	o := storage.ApplyReadOptions(opts...)
	coll, err := r.getCollection()
	if err != nil {
		return nil, err
	}
	return r.findLatest(ctx, coll, serviceID, documentType, !o.DeferContent)
}

// FindByID returns the record with the given ID, or nil. IDs that are not
// ObjectIDs never match.
func (r *Repository) FindByID(ctx context.Context, id core.ID, opts ...storage.ReadOption) (*core.Record, error) {
	o := storage.ApplyReadOptions(opts...)
	coll, err := r.getCollection()
	if err != nil {
		return nil, err
	}
	oid, err := bson.ObjectIDFromHex(id.String())
	if err != nil {
		return nil, nil
	}

	findOpts := options.FindOne()
	if o.DeferContent {
		findOpts.SetProjection(bson.D{{Key: "content", Value: 0}})
	}

	var doc recordDocument
	err = coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}, findOpts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find record %s: %w", id, err)
	}
	return toRecord(&doc, !o.DeferContent), nil
}

// FindAll returns every record ordered by fetch date.
func (r *Repository) FindAll(ctx context.Context, opts ...storage.ReadOption) ([]*core.Record, error) {
	return storage.Collect(r.Iterate(ctx, opts...))
}

// Count returns the number of documents.
func (r *Repository) Count(ctx context.Context) (int, error) {
	coll, err := r.getCollection()
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return int(n), nil
}

// Iterate streams documents from a cursor sorted by fetch date.
func (r *Repository) Iterate(ctx context.Context, opts ...storage.ReadOption) iter.Seq2[*core.Record, error] {
	o := storage.ApplyReadOptions(opts...)

	return func(yield func(*core.Record, error) bool) {
		coll, err := r.getCollection()
		if err != nil {
			yield(nil, err)
			return
		}

		findOpts := options.Find().
			SetSort(bson.D{{Key: "fetch_date", Value: 1}, {Key: "_id", Value: 1}}).
			SetBatchSize(r.cfg.BatchSize)
		if o.DeferContent {
			findOpts.SetProjection(bson.D{{Key: "content", Value: 0}})
		}

		cursor, err := coll.Find(ctx, bson.D{}, findOpts)
		if err != nil {
			yield(nil, fmt.Errorf("iterate records: %w", err))
			return
		}
		defer cursor.Close(context.WithoutCancel(ctx))

		for cursor.Next(ctx) {
			var doc recordDocument
			if err := cursor.Decode(&doc); err != nil {
				yield(nil, fmt.Errorf("decode record: %w", err))
				return
			}
			if !yield(toRecord(&doc, !o.DeferContent), nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(nil, fmt.Errorf("iterate records: %w", err))
		}
	}
}

// RemoveAll deletes every document of the collection.
func (r *Repository) RemoveAll(ctx context.Context) error {
	coll, err := r.getCollection()
	if err != nil {
		return err
	}
	if _, err := coll.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("remove records: %w", err)
	}
	r.logger.Info("mongo repository reset", "collection", r.cfg.Collection)
	return nil
}

// LoadRecordContent returns a copy of record with its stored content.
func (r *Repository) LoadRecordContent(ctx context.Context, record *core.Record) (*core.Record, error) {
	if record == nil || record.ID.IsZero() {
		return nil, storage.ErrMissingID
	}
	coll, err := r.getCollection()
	if err != nil {
		return nil, err
	}
	oid, err := bson.ObjectIDFromHex(record.ID.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, record.ID)
	}

	var doc contentDocument
	err = coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}},
		options.FindOne().SetProjection(bson.D{{Key: "content", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, record.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("load content of %s: %w", record.ID, err)
	}
	return record.WithLoadedContent(decodeContent(doc.Content)), nil
}
