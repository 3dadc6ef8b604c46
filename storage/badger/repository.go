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


package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/storage"
)

const defaultConflictRetries = 3

var errStopIteration = errors.New("stop iteration")

// Config holds the settings of a BadgerDB-backed repository.
type Config struct {
	// Path is the database directory. An empty path keeps data in memory.
	Path string
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

// WithConflictRetries sets how many times Save retries after a transaction
// conflict with a concurrent save.
func WithConflictRetries(n int) Option {
	return func(r *Repository) {
		if n < 0 {
			n = 0
		}
		r.conflictRetries = n
	}
}

// Repository stores records in an embedded BadgerDB database.
//
// Record attributes and content live under separate keys so deferred reads
// never load content. A lineage index keyed by fetch date, with the content
// digest as value, serves latest lookups and deduplication.
//
// Save runs its duplicate check and insert in one serializable transaction,
// so two concurrent saves of the same content cannot both be stored.
type Repository struct {
	cfg             Config
	logger          *slog.Logger
	conflictRetries int

	mu      sync.RWMutex
	backend *Backend
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a BadgerDB-backed repository. Call Initialize before use.
func NewRepository(cfg Config, opts ...Option) (storage.Repository, error) {
	return newRepository(cfg, opts...), nil
}

func newRepository(cfg Config, opts ...Option) *Repository {
	r := &Repository{
		cfg:             cfg,
		logger:          slog.Default(),
		conflictRetries: defaultConflictRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize opens the database.
func (r *Repository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	backend, err := OpenBackend(r.cfg.Path, r.cfg.Path == "", r.logger)
	if err != nil {
		return fmt.Errorf("open badger database %q: %w", r.cfg.Path, err)
	}
	r.backend = backend
	return nil
}

// Finalize closes the database.
func (r *Repository) Finalize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backend == nil {
		return nil
	}
	err := r.backend.Close()
	r.backend = nil
	if err != nil {
		r.logger.Error("error closing backend storage", "err", err)
	}
	return err
}

func (r *Repository) getBackend() (*Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.backend == nil {
		return nil, storage.ErrNotInitialized
	}
	return r.backend, nil
}

// Save stores record unless the latest record of its lineage has the same content.
func (r *Repository) Save(ctx context.Context, record *core.Record) (*core.Record, error) {
	if err := core.ValidateRecord(record); err != nil {
		return nil, err
	}
	backend, err := r.getBackend()
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		saved, err := r.save(backend, record)
		if !errors.Is(err, badger.ErrConflict) || attempt >= r.conflictRetries {
			return saved, err
		}
		r.logger.Debug("save conflict, retrying", "lineage", record.Lineage(), "attempt", attempt+1)
	}
}

func (r *Repository) save(backend *Backend, record *core.Record) (*core.Record, error) {
	content := record.Content
	if content == nil {
		content = []byte{}
	}
	digest := core.DigestOf(content)

	var saved *core.Record
	headKey := makeHeadKey(record.ServiceID, record.DocumentType)
	err := backend.WithTx(func(tx *badger.Txn) error {
		if _, err := tx.Get(headKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		latestID, latestDigest, err := latestInLineage(tx, record.ServiceID, record.DocumentType)
		if err != nil {
			return err
		}

		if !latestID.IsZero() && latestDigest == digest {
			dup, err := isDuplicate(tx, latestID, record.MimeType, content)
			if err != nil {
				return err
			}
			if dup {
				r.logger.Debug("content unchanged, skipping", "lineage", record.Lineage(), "fetchDate", record.FetchDate)
				return nil
			}
		}

		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		candidate := record.Clone()
		candidate.ID = core.ID(id.String())
		candidate.Content = content
		candidate.IsFirstRecord = record.IsFirstRecord || latestID.IsZero()

		if err := tx.Set(makeRecordKey(candidate.ID), storage.MarshalRecord(candidate)); err != nil {
			return err
		}
		if err := tx.Set(makeContentKey(candidate.ID), content); err != nil {
			return err
		}
		if err := tx.Set(makeDateKey(candidate.FetchDate, candidate.ID), nil); err != nil {
			return err
		}
		lineageKey := makeLineageKey(candidate.ServiceID, candidate.DocumentType, candidate.FetchDate, candidate.ID)
		if err := tx.Set(lineageKey, digest[:]); err != nil {
			return err
		}
		if err := tx.Set(headKey, []byte(candidate.ID)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		saved = candidate
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// latestInLineage returns the ID and content digest of the latest record of a
// lineage, or a zero ID when the lineage is empty.
func latestInLineage(tx *badger.Txn, serviceID, documentType string) (core.ID, core.Digest, error) {
	prefix := makeLineagePrefix(serviceID, documentType)

	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := tx.NewIterator(opts)
	defer it.Close()

	// Seek past the last possible key of the lineage
	it.Seek(append(bytes.Clone(prefix), 0xFF))
	if !it.Valid() {
		return "", core.Digest{}, nil
	}

	item := it.Item()
	var digest core.Digest
	err := item.Value(func(val []byte) error {
		if len(val) != len(digest) {
			return fmt.Errorf("%w: lineage digest of %d bytes", storage.ErrTruncatedData, len(val))
		}
		copy(digest[:], val)
		return nil
	})
	return idFromIndexKey(item.Key()), digest, err
}

// isDuplicate confirms a digest match by comparing MIME type and bytes.
func isDuplicate(tx *badger.Txn, id core.ID, mimeType string, content []byte) (bool, error) {
	latest, err := readRecord(tx, id)
	if err != nil || latest == nil {
		return false, err
	}
	if latest.MimeType != mimeType {
		return false, nil
	}
	current, err := readContent(tx, id)
	if err != nil {
		return false, err
	}
	return bytes.Equal(current, content), nil
}

// FindLatestByServiceIDAndDocumentType returns the lineage record with the latest fetch date.
func (r *Repository) FindLatestByServiceIDAndDocumentType(ctx context.Context, serviceID, documentType string, opts ...storage.ReadOption) (*core.Record, error) {
	o := storage.ApplyReadOptions(opts...)
	backend, err := r.getBackend()
	if err != nil {
		return nil, err
	}

	var record *core.Record
	err = backend.WithTx(func(tx *badger.Txn) error {
		id, _, err := latestInLineage(tx, serviceID, documentType)
		if err != nil || id.IsZero() {
			return err
		}
		record, err = loadRecord(tx, id, !o.DeferContent)
		return err
	}, false)
	return record, err
}

// FindByID returns the record with the given ID, or nil.
func (r *Repository) FindByID(ctx context.Context, id core.ID, opts ...storage.ReadOption) (*core.Record, error) {
	o := storage.ApplyReadOptions(opts...)
	backend, err := r.getBackend()
	if err != nil {
		return nil, err
	}

	var record *core.Record
	err = backend.WithTx(func(tx *badger.Txn) error {
		var err error
		record, err = loadRecord(tx, id, !o.DeferContent)
		return err
	}, false)
	return record, err
}

// FindAll returns every record ordered by fetch date.
func (r *Repository) FindAll(ctx context.Context, opts ...storage.ReadOption) ([]*core.Record, error) {
	return storage.Collect(r.Iterate(ctx, opts...))
}

// Count returns the number of records.
func (r *Repository) Count(ctx context.Context) (int, error) {
	backend, err := r.getBackend()
	if err != nil {
		return 0, err
	}

	count := 0
	err = backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Iterate walks the fetch date index inside a read transaction, loading each
// record as it is yielded.
func (r *Repository) Iterate(ctx context.Context, opts ...storage.ReadOption) iter.Seq2[*core.Record, error] {
	o := storage.ApplyReadOptions(opts...)

	return func(yield func(*core.Record, error) bool) {
		backend, err := r.getBackend()
		if err != nil {
			yield(nil, err)
			return
		}

		err = backend.WithTx(func(tx *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = []byte(datePrefix)
			iterOpts.PrefetchValues = false
			it := tx.NewIterator(iterOpts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				id := idFromIndexKey(it.Item().Key())
				record, err := loadRecord(tx, id, !o.DeferContent)
				if err != nil {
					return err
				}
				if record == nil {
					return fmt.Errorf("%w: date index references %s", storage.ErrNotFound, id)
				}
				if !yield(record, nil) {
					return errStopIteration
				}
			}
			return nil
		}, false)

		if err != nil && !errors.Is(err, errStopIteration) {
			yield(nil, err)
		}
	}
}

// RemoveAll drops every key of the database.
func (r *Repository) RemoveAll(ctx context.Context) error {
	backend, err := r.getBackend()
	if err != nil {
		return err
	}
	if err := backend.DropAll(); err != nil {
		return err
	}
	r.logger.Info("badger repository reset", "path", r.cfg.Path)
	return nil
}

// LoadRecordContent returns a copy of record with its stored content.
func (r *Repository) LoadRecordContent(ctx context.Context, record *core.Record) (*core.Record, error) {
	if record == nil || record.ID.IsZero() {
		return nil, storage.ErrMissingID
	}
	backend, err := r.getBackend()
	if err != nil {
		return nil, err
	}

	var content []byte
	err = backend.WithTx(func(tx *badger.Txn) error {
		var err error
		content, err = readContent(tx, record.ID)
		return err
	}, false)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, record.ID)
	}
	if err != nil {
		return nil, err
	}
	return record.WithLoadedContent(content), nil
}

// loadRecord reads a record and, when withContent is set, its content.
// Returns nil when the record doesn't exist.
func loadRecord(tx *badger.Txn, id core.ID, withContent bool) (*core.Record, error) {
	record, err := readRecord(tx, id)
	if err != nil || record == nil {
		return nil, err
	}
	if withContent {
		content, err := readContent(tx, id)
		if err != nil {
			return nil, err
		}
		record.Content = content
	}
	return record, nil
}

func readRecord(tx *badger.Txn, id core.ID) (*core.Record, error) {
	item, err := tx.Get(makeRecordKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var record *core.Record
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		record, unmarshalErr = storage.UnmarshalRecord(val)
		return unmarshalErr
	})
	return record, err
}

// readContent returns badger.ErrKeyNotFound when the content is missing.
func readContent(tx *badger.Txn, id core.ID) ([]byte, error) {
	item, err := tx.Get(makeContentKey(id))
	if err != nil {
		return nil, err
	}
	content, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	if content == nil {
		content = []byte{}
	}
	return content, nil
}
