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
	"iter"

	"github.com/poiesic/archivist/core"
)

// ReadOptions holds options accepted by repository read operations.
type ReadOptions struct {
	// DeferContent skips loading record content.
	DeferContent bool
}

// ReadOption configures a read operation.
type ReadOption func(*ReadOptions)

// WithDeferredContent returns records without content. Use
// Repository.LoadRecordContent to fetch it later.
func WithDeferredContent() ReadOption {
	return func(o *ReadOptions) {
		o.DeferContent = true
	}
}

// ApplyReadOptions resolves opts into a ReadOptions value.
func ApplyReadOptions(opts ...ReadOption) ReadOptions {
	var o ReadOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Collect drains a record sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[*core.Record, error]) ([]*core.Record, error) {
	var records []*core.Record
	for record, err := range seq {
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Fail returns a sequence that yields err once.
func Fail(err error) iter.Seq2[*core.Record, error] {
	return func(yield func(*core.Record, error) bool) {
		yield(nil, err)
	}
}
