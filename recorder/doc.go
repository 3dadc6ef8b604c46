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


// Package recorder is the write path used by fetch and extract pipelines.
//
// A Recorder saves snapshots and versions into their repositories, retrying
// transient backend failures with a fixed sequence of delays. Validation
// errors are returned at once. Submit fans a batch of jobs out over a
// bounded worker pool; each job records a snapshot and, when the snapshot
// was new, the version extracted from it.
//
// Example:
//
//	rec, err := recorder.New(snapshots, versions, recorder.WithPoolSize(4))
//	if err != nil {
//	    return err
//	}
//	defer rec.Release()
//
//	results := rec.Submit(ctx, recorder.Job{Snapshot: snapshot, Extract: extract})
package recorder
