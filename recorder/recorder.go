package recorder

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/retry"
	"github.com/poiesic/archivist/storage"
)

// Recorder saves snapshots and versions with retries.
type Recorder struct {
	snapshots   storage.Repository
	versions    storage.Repository
	pool        *ants.Pool
	retryDelays []time.Duration
	logger      *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder) error

// WithPoolSize sets the number of jobs Submit runs concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(r *Recorder) error {
		if size < 1 {
			size = 1
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if r.pool != nil {
			r.pool.Release()
		}
		r.pool = pool
		return nil
	}
}

// WithRetryDelays sets the waits between save attempts. No delays means a
// single attempt.
// Default is retry.DefaultDelays.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(r *Recorder) error {
		r.retryDelays = delays
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// New creates a Recorder writing to the given repositories.
func New(snapshots, versions storage.Repository, opts ...Option) (*Recorder, error) {
	if snapshots == nil {
		return nil, ErrSnapshotRepositoryRequired
	}
	if versions == nil {
		return nil, ErrVersionRepositoryRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		snapshots:   snapshots,
		versions:    versions,
		pool:        pool,
		retryDelays: retry.DefaultDelays,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(r); optErr != nil {
			r.Release()
			return nil, optErr
		}
	}
	return r, nil
}

// RecordSnapshot saves a snapshot. It returns nil, nil when the content is
// identical to the latest snapshot of the lineage.
func (r *Recorder) RecordSnapshot(ctx context.Context, snapshot *core.Record) (*core.Record, error) {
	saved, err := r.save(ctx, r.snapshots, snapshot)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		r.logger.Info("snapshot unchanged", "lineage", snapshot.Lineage(), "fetchDate", snapshot.FetchDate)
		return nil, nil
	}
	r.logger.Info("recorded snapshot", "lineage", saved.Lineage(), "id", saved.ID, "first", saved.IsFirstRecord)
	return saved, nil
}

// RecordVersion saves a version extracted from snapshot, linking the two.
// version is not modified. It returns nil, nil when the content is
// identical to the latest version of the lineage.
func (r *Recorder) RecordVersion(ctx context.Context, snapshot, version *core.Record) (*core.Record, error) {
	if version != nil && snapshot != nil && !snapshot.ID.IsZero() {
		version = version.Clone()
		version.SnapshotID = snapshot.ID
	}

	saved, err := r.save(ctx, r.versions, version)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		r.logger.Info("version unchanged", "lineage", version.Lineage(), "fetchDate", version.FetchDate)
		return nil, nil
	}
	r.logger.Info("recorded version", "lineage", saved.Lineage(), "id", saved.ID, "snapshot", saved.SnapshotID, "refilter", saved.IsRefilter)
	return saved, nil
}

func (r *Recorder) save(ctx context.Context, repo storage.Repository, record *core.Record) (*core.Record, error) {
	var saved *core.Record
	err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		saved, err = repo.Save(ctx, record)
		if errors.Is(err, core.ErrInvalidRecord) {
			return retry.Permanent(err)
		}
		return err
	}, r.retryDelays...)
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ExtractFunc derives a version from a freshly recorded snapshot.
type ExtractFunc func(ctx context.Context, snapshot *core.Record) (*core.Record, error)

// Job records one snapshot and, when Extract is set and the snapshot was
// new, the version derived from it.
type Job struct {
	Snapshot *core.Record
	Extract  ExtractFunc
}

// Result is the outcome of a Job. Snapshot is nil when the content was
// unchanged. Version is nil when nothing was extracted or it was unchanged.
type Result struct {
	Snapshot *core.Record
	Version  *core.Record
	Err      error
}

// Submit runs jobs on the worker pool and waits for all of them. Results
// are in job order.
func (r *Recorder) Submit(ctx context.Context, jobs ...Job) []Result {
	results := make([]Result, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			results[i] = r.run(ctx, job)
		})
		if err != nil {
			wg.Done()
			results[i] = Result{Err: err}
		}
	}
	wg.Wait()

	return results
}

func (r *Recorder) run(ctx context.Context, job Job) Result {
	snapshot, err := r.RecordSnapshot(ctx, job.Snapshot)
	if err != nil {
		r.logger.Error("error recording snapshot", "err", err)
		return Result{Err: err}
	}
	if snapshot == nil || job.Extract == nil {
		return Result{Snapshot: snapshot}
	}

	version, err := job.Extract(ctx, snapshot)
	if err != nil {
		r.logger.Error("error extracting version", "lineage", snapshot.Lineage(), "snapshot", snapshot.ID, "err", err)
		return Result{Snapshot: snapshot, Err: err}
	}
	if version == nil {
		return Result{Snapshot: snapshot}
	}

	saved, err := r.RecordVersion(ctx, snapshot, version)
	if err != nil {
		r.logger.Error("error recording version", "err", err)
	}
	return Result{Snapshot: snapshot, Version: saved, Err: err}
}

// Release releases the worker pool.
// The recorder should not be used after calling Release.
func (r *Recorder) Release() {
	if r.pool != nil {
		r.pool.Release()
	}
}
