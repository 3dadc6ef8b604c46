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


package core

//go:generate go run ../cmd/musgen

import (
	"bytes"
	"maps"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is an opaque identifier assigned by a repository when a record is persisted.
// Its format depends on the backend: a commit hash, an ObjectID or a UUID.
type ID string

// String returns the ID as a string.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == ""
}

// Digest is a BLAKE2b-256 sum of a record's content.
type Digest [32]byte

// DigestOf computes the digest of content.
// Identical content always produces identical digests.
func DigestOf(content []byte) Digest {
	return Digest(blake2b.Sum256(content))
}

// Lineage identifies the sequence of records sharing a service and document type.
type Lineage struct {
	ServiceID    string
	DocumentType string
}

// String returns the lineage as "serviceID/documentType".
func (l Lineage) String() string {
	return l.ServiceID + "/" + l.DocumentType
}

// Record is one observed state of a legal document.
// A snapshot record holds the raw fetched content, a version record holds
// the extracted content and references its source snapshot.
type Record struct {
	ID            ID                `json:"id,omitempty"`
	ServiceID     string            `json:"serviceId" validate:"required"`
	DocumentType  string            `json:"documentType" validate:"required"`
	MimeType      string            `json:"mimeType" validate:"required"`
	FetchDate     time.Time         `json:"fetchDate" validate:"required"`
	Content       []byte            `json:"content,omitempty"`       // nil when loading was deferred
	IsFirstRecord bool              `json:"isFirstRecord,omitempty"` // computed at save time when unset
	IsRefilter    bool              `json:"isRefilter,omitempty"`    // produced by reprocessing a stored snapshot
	SnapshotID    ID                `json:"snapshotId,omitempty"`    // source snapshot of a version
	Metadata      map[string]string `json:"metadata,omitempty"`      // extra descriptive attributes, e.g. "fetcher"
}

// RecordOption sets an optional attribute on a Record.
type RecordOption func(*Record)

// WithID sets the record ID. Repositories assign IDs on save, so this is
// only useful when rebuilding records read from a backend.
func WithID(id ID) RecordOption {
	return func(r *Record) {
		r.ID = id
	}
}

// WithContent sets the record content.
func WithContent(content []byte) RecordOption {
	return func(r *Record) {
		r.Content = content
	}
}

// WithTextContent sets the record content from a string.
func WithTextContent(content string) RecordOption {
	return func(r *Record) {
		r.Content = []byte(content)
	}
}

// WithFirstRecord marks the record as the first of its lineage.
func WithFirstRecord(first bool) RecordOption {
	return func(r *Record) {
		r.IsFirstRecord = first
	}
}

// WithRefilter marks the record as produced by reprocessing a snapshot.
func WithRefilter(refilter bool) RecordOption {
	return func(r *Record) {
		r.IsRefilter = refilter
	}
}

// WithSnapshotID sets the source snapshot of a version record.
func WithSnapshotID(id ID) RecordOption {
	return func(r *Record) {
		r.SnapshotID = id
	}
}

// WithMetadata adds a descriptive attribute to the record.
func WithMetadata(key, value string) RecordOption {
	return func(r *Record) {
		if r.Metadata == nil {
			r.Metadata = make(map[string]string)
		}
		r.Metadata[key] = value
	}
}

// NewRecord builds and validates a Record.
// The four arguments are required; a missing one fails with ErrMissingField.
func NewRecord(serviceID, documentType, mimeType string, fetchDate time.Time, opts ...RecordOption) (*Record, error) {
	r := &Record{
		ServiceID:    serviceID,
		DocumentType: documentType,
		MimeType:     mimeType,
		FetchDate:    fetchDate,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := ValidateRecord(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Lineage returns the (service, document type) pair of the record.
func (r *Record) Lineage() Lineage {
	return Lineage{ServiceID: r.ServiceID, DocumentType: r.DocumentType}
}

// HasContent reports whether the content is loaded.
func (r *Record) HasContent() bool {
	return r.Content != nil
}

// SameContent reports whether the record holds exactly the given content.
func (r *Record) SameContent(content []byte) bool {
	return bytes.Equal(r.Content, content)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Content != nil {
		c.Content = bytes.Clone(r.Content)
	}
	if r.Metadata != nil {
		c.Metadata = maps.Clone(r.Metadata)
	}
	return &c
}

// WithLoadedContent returns a copy of the record carrying content.
// The receiver is left untouched.
func (r *Record) WithLoadedContent(content []byte) *Record {
	c := r.Clone()
	c.Content = content
	if c.Content == nil {
		c.Content = []byte{}
	}
	return c
}
