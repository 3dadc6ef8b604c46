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
	"fmt"

	"github.com/poiesic/archivist/core"
)

// MarshalRecord serializes the attributes of a Record, without its content.
// Backends store content under its own key so deferred reads never touch it.
func MarshalRecord(record *core.Record) []byte {
	attrs := *record
	attrs.Content = nil
	buf := make([]byte, core.RecordMUS.Size(attrs))
	core.RecordMUS.Marshal(attrs, buf)
	return buf
}

// UnmarshalRecord deserializes a Record. The returned record has no content.
func UnmarshalRecord(data []byte) (*core.Record, error) {
	record, n, err := core.RecordMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSerializationFailed, len(data)-n)
	}
	record.Content = nil
	if len(record.Metadata) == 0 {
		record.Metadata = nil
	}
	return &record, nil
}
