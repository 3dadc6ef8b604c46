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


// Package refilter regenerates versions from the snapshots already stored,
// typically after the extraction rules of some documents changed.
package refilter

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/retry"
	"github.com/poiesic/archivist/storage"
)

var (
	ErrSnapshotRepositoryRequired = errors.New("snapshot repository required")
	ErrVersionRepositoryRequired  = errors.New("version repository required")
	ErrExtractorRequired          = errors.New("extractor required")
)

// Extractor derives a version from a snapshot. Returning nil skips the snapshot.
type Extractor interface {
	Extract(ctx context.Context, snapshot *core.Record) (*core.Record, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, snapshot *core.Record) (*core.Record, error)

func (f ExtractorFunc) Extract(ctx context.Context, snapshot *core.Record) (*core.Record, error) {
	return f(ctx, snapshot)
}

// Config holds configuration for a refilter pass.
type Config struct {
	// ServiceIDs restricts the pass to these services. Empty means all.
	ServiceIDs []string

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each save
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReportInterval: 10,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Summary counts the outcomes of a pass.
type Summary struct {
	Documents int
	Recorded  int
	Unchanged int
	Skipped   int
	Failed    int
}

// Refilterer extracts a version from the latest snapshot of every document
// and records it as a refilter.
type Refilterer struct {
	snapshots storage.Repository
	versions  storage.Repository
	extractor Extractor
	config    *Config
	progress  io.Writer
	logger    *slog.Logger
}

// New creates a Refilterer. progress receives human-readable progress and
// may be nil.
func New(snapshots, versions storage.Repository, extractor Extractor, config *Config, progress io.Writer) (*Refilterer, error) {
	if snapshots == nil {
		return nil, ErrSnapshotRepositoryRequired
	}
	if versions == nil {
		return nil, ErrVersionRepositoryRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Refilterer{
		snapshots: snapshots,
		versions:  versions,
		extractor: extractor,
		config:    config,
		progress:  progress,
		logger:    slog.Default(),
	}, nil
}

// Run refilters every selected document. Failures of single documents are
// logged, counted and returned joined once the pass is over.
func (r *Refilterer) Run(ctx context.Context) (Summary, error) {
	latest, err := r.latestSnapshots(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to scan snapshots: %w", err)
	}

	summary := Summary{Documents: len(latest)}
	if len(latest) == 0 {
		fmt.Fprintf(r.progress, "No snapshots found (0 documents)\n")
		return summary, nil
	}

	fmt.Fprintf(r.progress, "Starting refilter of %d documents\n", len(latest))
	pass := newPassLog(r.progress, len(latest), r.config.ReportInterval)

	var errs []error
	for _, snapshot := range latest {
		if err := ctx.Err(); err != nil {
			return pass.summary, err
		}

		result, err := r.refilter(ctx, snapshot)
		if err != nil {
			r.logger.Error("refilter failed", "lineage", snapshot.Lineage(), "snapshot", snapshot.ID, "err", err)
			result = outcomeFailed
			errs = append(errs, fmt.Errorf("%s: %w", snapshot.Lineage(), err))
		}
		pass.observe(snapshot.Lineage(), result)
	}

	return pass.finish(), errors.Join(errs...)
}

func (r *Refilterer) refilter(ctx context.Context, snapshot *core.Record) (outcome, error) {
	loaded, err := r.snapshots.LoadRecordContent(ctx, snapshot)
	if err != nil {
		return outcomeFailed, err
	}

	version, err := r.extractor.Extract(ctx, loaded)
	if err != nil {
		return outcomeFailed, err
	}
	if version == nil {
		return outcomeSkipped, nil
	}

	version = version.Clone()
	version.IsRefilter = true
	version.SnapshotID = snapshot.ID
	version.FetchDate = snapshot.FetchDate

	var saved *core.Record
	err = retry.WithBackoff(ctx, func() error {
		var err error
		saved, err = r.versions.Save(ctx, version)
		if errors.Is(err, core.ErrInvalidRecord) {
			return retry.Permanent(err)
		}
		return err
	}, max(r.config.MaxRetries, 1), r.config.RetryDelay)
	switch {
	case err != nil:
		return outcomeFailed, err
	case saved == nil:
		return outcomeUnchanged, nil
	default:
		r.logger.Debug("recorded refilter", "lineage", saved.Lineage(), "id", saved.ID, "snapshot", snapshot.ID)
		return outcomeRecorded, nil
	}
}

// latestSnapshots returns the latest snapshot of each selected lineage,
// ordered by lineage. Content is not loaded.
func (r *Refilterer) latestSnapshots(ctx context.Context) ([]*core.Record, error) {
	latest := make(map[core.Lineage]*core.Record)
	for record, err := range r.snapshots.Iterate(ctx, storage.WithDeferredContent()) {
		if err != nil {
			return nil, err
		}
		if len(r.config.ServiceIDs) > 0 && !slices.Contains(r.config.ServiceIDs, record.ServiceID) {
			continue
		}
		// Iteration is ordered by fetch date so the last one seen wins.
		latest[record.Lineage()] = record
	}

	records := slices.Collect(maps.Values(latest))
	slices.SortFunc(records, func(a, b *core.Record) int {
		return cmp.Compare(a.Lineage().String(), b.Lineage().String())
	})
	return records, nil
}
