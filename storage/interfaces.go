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


package storage

import (
	"context"
	"iter"

	"github.com/poiesic/archivist/core"
)

// Repository is the contract shared by every storage backend.
type Repository interface {
	// Initialize connects to the backend and prepares it for use.
	// Connection failures are returned and the repository must not be used.
	Initialize(ctx context.Context) error

	// Finalize releases backend resources.
	Finalize(ctx context.Context) error

	// Save persists record unless its content equals the content of the
	// latest record of the same lineage, in which case it returns nil, nil.
	// IsFirstRecord is computed when not set by the caller.
	// The returned record carries the backend-assigned ID.
	Save(ctx context.Context, record *core.Record) (*core.Record, error)

	// FindLatestByServiceIDAndDocumentType returns the most recent record of
	// the lineage, or nil when the lineage has no records.
	FindLatestByServiceIDAndDocumentType(ctx context.Context, serviceID, documentType string, opts ...ReadOption) (*core.Record, error)

	// FindByID returns the record with the given ID, or nil when it doesn't exist.
	FindByID(ctx context.Context, id core.ID, opts ...ReadOption) (*core.Record, error)

	// FindAll returns every record ordered by fetch date ascending.
	FindAll(ctx context.Context, opts ...ReadOption) ([]*core.Record, error)

	// Count returns the number of records.
	Count(ctx context.Context) (int, error)

	// Iterate lazily yields every record ordered by fetch date ascending.
	// Each call starts a new traversal. A non-nil error ends the sequence.
	Iterate(ctx context.Context, opts ...ReadOption) iter.Seq2[*core.Record, error]

	// RemoveAll deletes every record.
	RemoveAll(ctx context.Context) error

	// LoadRecordContent returns a copy of record with its content loaded.
	// Returns an error wrapping ErrNotFound when the record doesn't exist.
	LoadRecordContent(ctx context.Context, record *core.Record) (*core.Record, error)
}
