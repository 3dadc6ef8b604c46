// Package transfer copies the history of an archive into another one,
// possibly stored on a different backend.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/storage"
)

var ErrRepositoryRequired = errors.New("transfer: snapshot and version repositories required")

// Pair is the snapshot and version repositories of one archive.
type Pair struct {
	Snapshots storage.Repository
	Versions  storage.Repository
}

func (p Pair) valid() bool {
	return p.Snapshots != nil && p.Versions != nil
}

// Stats counts what a transfer did.
type Stats struct {
	Snapshots int
	Versions  int
	// Skipped counts records identical to the latest record already in the
	// destination lineage.
	Skipped int
}

// Option configures a transfer.
type Option func(*transfer)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *transfer) {
		if logger == nil {
			logger = slog.Default()
		}
		t.logger = logger
	}
}

type transfer struct {
	from, to Pair
	logger   *slog.Logger
	// snapshotIDs maps source snapshot IDs to destination IDs.
	snapshotIDs map[core.ID]core.ID
	stats       Stats
}

// Run copies every snapshot and then every version from one archive to the
// other in fetch date order. Versions keep pointing at their snapshot: the
// snapshot ID of each version is rewritten to the ID its snapshot received
// in the destination.
func Run(ctx context.Context, from, to Pair, opts ...Option) (Stats, error) {
	if !from.valid() || !to.valid() {
		return Stats{}, ErrRepositoryRequired
	}

	t := &transfer{
		from:        from,
		to:          to,
		logger:      slog.Default(),
		snapshotIDs: make(map[core.ID]core.ID),
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := t.copySnapshots(ctx); err != nil {
		return t.stats, fmt.Errorf("transfer snapshots: %w", err)
	}
	if err := t.copyVersions(ctx); err != nil {
		return t.stats, fmt.Errorf("transfer versions: %w", err)
	}

	t.logger.Info("transfer complete", "snapshots", t.stats.Snapshots, "versions", t.stats.Versions, "skipped", t.stats.Skipped)
	return t.stats, nil
}

func (t *transfer) copySnapshots(ctx context.Context) error {
	for record, err := range t.from.Snapshots.Iterate(ctx) {
		if err != nil {
			return err
		}

		saved, err := t.to.Snapshots.Save(ctx, detach(record))
		if err != nil {
			return fmt.Errorf("save %s: %w", record.ID, err)
		}
		if saved == nil {
			t.stats.Skipped++
			// Point versions at the identical snapshot already stored.
			existing, err := t.to.Snapshots.FindLatestByServiceIDAndDocumentType(ctx, record.ServiceID, record.DocumentType, storage.WithDeferredContent())
			if err != nil {
				return err
			}
			if existing != nil {
				t.snapshotIDs[record.ID] = existing.ID
			}
			continue
		}
		t.snapshotIDs[record.ID] = saved.ID
		t.stats.Snapshots++
	}
	return nil
}

func (t *transfer) copyVersions(ctx context.Context) error {
	for record, err := range t.from.Versions.Iterate(ctx) {
		if err != nil {
			return err
		}

		version := detach(record)
		if !version.SnapshotID.IsZero() {
			if id, ok := t.snapshotIDs[version.SnapshotID]; ok {
				version.SnapshotID = id
			} else {
				t.logger.Warn("version references unknown snapshot", "version", record.ID, "snapshot", record.SnapshotID)
			}
		}

		saved, err := t.to.Versions.Save(ctx, version)
		if err != nil {
			return fmt.Errorf("save %s: %w", record.ID, err)
		}
		if saved == nil {
			t.stats.Skipped++
			continue
		}
		t.stats.Versions++
	}
	return nil
}

// detach copies record without its source identifier. The first record flag
// is cleared so the destination computes it against its own history.
func detach(record *core.Record) *core.Record {
	c := record.Clone()
	c.ID = ""
	c.IsFirstRecord = false
	return c
}
