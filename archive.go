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


// Package archivist keeps the history of documents tracked over time: raw
// snapshots as fetched and the versions extracted from them, each in its own
// repository.
package archivist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/archivist/config"
	"github.com/poiesic/archivist/recorder"
	"github.com/poiesic/archivist/refilter"
	"github.com/poiesic/archivist/storage"
	"github.com/poiesic/archivist/storage/badger"
	"github.com/poiesic/archivist/storage/git"
	"github.com/poiesic/archivist/storage/mongo"
	"github.com/poiesic/archivist/transfer"
)

// Archive holds the snapshot and version repositories of a dataset.
type Archive struct {
	cfg       *config.Config
	snapshots storage.Repository
	versions  storage.Repository
	logger    *slog.Logger
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets a custom logger, also handed to the repositories.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger
	}
}

// NewRepository creates the repository selected by cfg.Type. The repository
// still needs to be initialized.
func NewRepository(cfg config.RepositoryConfig) (storage.Repository, error) {
	return newRepository(cfg, slog.Default())
}

func newRepository(cfg config.RepositoryConfig, logger *slog.Logger) (storage.Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case config.TypeGit:
		return git.NewRepository(git.Config{
			Path:          cfg.Path,
			AuthorName:    cfg.AuthorName,
			AuthorEmail:   cfg.AuthorEmail,
			DefaultBranch: cfg.DefaultBranch,
		}, git.WithLogger(logger))
	case config.TypeMongo:
		return mongo.NewRepository(mongo.Config{
			URI:        cfg.URI,
			Database:   cfg.Database,
			Collection: cfg.Collection,
			BatchSize:  int32(cfg.BatchSize),
		}, mongo.WithLogger(logger))
	case config.TypeBadger:
		return badger.NewRepository(badger.Config{Path: cfg.Path}, badger.WithLogger(logger))
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownRepositoryType, cfg.Type)
	}
}

// Open creates and initializes both repositories described by cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Archive, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Archive{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	snapshots, err := a.open(ctx, "snapshots", cfg.Snapshots)
	if err != nil {
		return nil, err
	}

	versions, err := a.open(ctx, "versions", cfg.Versions)
	if err != nil {
		if finErr := snapshots.Finalize(ctx); finErr != nil {
			a.logger.Error("error closing snapshot repository", "err", finErr)
		}
		return nil, err
	}

	a.snapshots = snapshots
	a.versions = versions
	return a, nil
}

func (a *Archive) open(ctx context.Context, name string, cfg config.RepositoryConfig) (storage.Repository, error) {
	repo, err := newRepository(cfg, a.logger.With("dataset", name))
	if err != nil {
		return nil, fmt.Errorf("%s repository: %w", name, err)
	}
	if err := repo.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %s repository: %w", name, err)
	}
	a.logger.Debug("opened repository", "dataset", name, "type", cfg.Type, "path", cfg.Path)
	return repo, nil
}

// Close finalizes both repositories.
func (a *Archive) Close(ctx context.Context) error {
	var errs []error
	if err := a.versions.Finalize(ctx); err != nil {
		a.logger.Error("error closing version repository", "err", err)
		errs = append(errs, err)
	}
	if err := a.snapshots.Finalize(ctx); err != nil {
		a.logger.Error("error closing snapshot repository", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Config returns the configuration the archive was opened with.
func (a *Archive) Config() *config.Config {
	return a.cfg
}

// Snapshots returns the repository of raw fetched documents.
func (a *Archive) Snapshots() storage.Repository {
	return a.snapshots
}

// Versions returns the repository of extracted versions.
func (a *Archive) Versions() storage.Repository {
	return a.versions
}

// NewRecorder creates a recorder writing into the archive, using the pool
// size and retry delays of the configuration unless opts override them.
func (a *Archive) NewRecorder(opts ...recorder.Option) (*recorder.Recorder, error) {
	defaults := []recorder.Option{
		recorder.WithPoolSize(a.cfg.PoolSize),
		recorder.WithRetryDelays(a.cfg.RetryDelays...),
		recorder.WithLogger(a.logger),
	}
	return recorder.New(a.snapshots, a.versions, append(defaults, opts...)...)
}

// NewRefilterer creates a refilterer regenerating the versions of the
// archive from its snapshots.
func (a *Archive) NewRefilterer(extractor refilter.Extractor, cfg *refilter.Config, progress io.Writer) (*refilter.Refilterer, error) {
	return refilter.New(a.snapshots, a.versions, extractor, cfg, progress)
}

// TransferTo copies the whole history of the archive into dst.
func (a *Archive) TransferTo(ctx context.Context, dst *Archive) (transfer.Stats, error) {
	return transfer.Run(ctx,
		transfer.Pair{Snapshots: a.snapshots, Versions: a.versions},
		transfer.Pair{Snapshots: dst.snapshots, Versions: dst.versions},
		transfer.WithLogger(a.logger),
	)
}
