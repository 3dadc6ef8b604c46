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


// Package storage provides the storage abstraction layer for archivist.
//
// This package defines the Repository contract that every backend satisfies
// with identical semantics. A repository holds one dataset (snapshots or
// versions) as an append-only history of records.
//
// # Constructor Return Type Pattern
//
// Public backend constructors return the storage.Repository interface:
//
//	repo, err := git.NewRepository(git.Config{Path: "/data/snapshots"})
//	repo, err := mongo.NewRepository(mongo.Config{URI: uri, Database: "archive", Collection: "snapshots"})
//	repo, err := badger.NewRepository(badger.Config{Path: "/data/snapshots.db"})
//
// # Deduplication
//
// Save compares the candidate content with the latest record of the same
// (serviceId, documentType) lineage. Identical content is not stored again
// and Save returns a nil record with a nil error.
//
// # Deferred Content
//
// Reads accept WithDeferredContent to skip loading record payloads. The
// returned records have nil Content; LoadRecordContent returns a copy with
// the payload populated:
//
//	for record, err := range repo.Iterate(ctx, storage.WithDeferredContent()) {
//	    if err != nil {
//	        return err
//	    }
//	    full, err := repo.LoadRecordContent(ctx, record)
//	    ...
//	}
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support. Pass context.Background() for operations
// without specific timeout requirements.
package storage
