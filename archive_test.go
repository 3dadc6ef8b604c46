package archivist

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/archivist/config"
	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/recorder"
	"github.com/poiesic/archivist/refilter"
	"github.com/poiesic/archivist/storage/badger"
	"github.com/poiesic/archivist/storage/git"
	"github.com/poiesic/archivist/storage/mongo"
	"github.com/poiesic/archivist/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestArchive(t *testing.T, snapshots, versions config.RepositoryConfig) *Archive {
	t.Helper()
	cfg := config.NewConfig(
		config.WithSnapshots(snapshots),
		config.WithVersions(versions),
		config.WithRetryDelays(),
		config.WithPoolSize(2),
	)
	a, err := Open(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close(context.Background())
	})
	return a
}

func TestNewRepository(t *testing.T) {
	repo, err := NewRepository(config.RepositoryConfig{Type: config.TypeGit})
	require.NoError(t, err)
	assert.IsType(t, &git.Repository{}, repo)

	repo, err = NewRepository(config.RepositoryConfig{Type: "BADGER"})
	require.NoError(t, err)
	assert.IsType(t, &badger.Repository{}, repo)

	repo, err = NewRepository(config.RepositoryConfig{Type: config.TypeMongo, URI: "mongodb://localhost:27017", Database: "ota"})
	require.NoError(t, err)
	assert.IsType(t, &mongo.Repository{}, repo)

	_, err = NewRepository(config.RepositoryConfig{Type: "s3"})
	assert.ErrorIs(t, err, config.ErrUnknownRepositoryType)

	_, err = NewRepository(config.RepositoryConfig{Type: config.TypeMongo})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	a := openTestArchive(t,
		config.RepositoryConfig{Type: config.TypeGit, Path: filepath.Join(dir, "snapshots")},
		config.RepositoryConfig{Type: config.TypeBadger, Path: filepath.Join(dir, "versions")},
	)

	assert.NotNil(t, a.Snapshots())
	assert.NotNil(t, a.Versions())
	assert.Equal(t, 2, a.Config().PoolSize)

	_, err := os.Stat(filepath.Join(dir, "snapshots", ".git"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "versions"))
	assert.NoError(t, err)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(t.Context(), config.NewConfig(config.WithLogLevel("loud")))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	file := filepath.Join(t.TempDir(), "not_a_dir")
	require.NoError(t, os.WriteFile(file, []byte("test"), 0644))

	a, err := Open(t.Context(), config.NewConfig(
		config.WithSnapshots(config.RepositoryConfig{Type: config.TypeGit}),
		config.WithVersions(config.RepositoryConfig{Type: config.TypeBadger, Path: file}),
	))
	assert.Error(t, err)
	assert.Nil(t, a)
}

func TestArchive_RecordRefilterTransfer(t *testing.T) {
	a := openTestArchive(t,
		config.RepositoryConfig{Type: config.TypeGit},
		config.RepositoryConfig{Type: config.TypeGit},
	)

	rec, err := a.NewRecorder()
	require.NoError(t, err)
	defer rec.Release()

	extract := func(ctx context.Context, snapshot *core.Record) (*core.Record, error) {
		return core.NewRecord(snapshot.ServiceID, snapshot.DocumentType, "text/markdown", snapshot.FetchDate,
			core.WithTextContent(strings.TrimSuffix(strings.TrimPrefix(string(snapshot.Content), "<p>"), "</p>")))
	}

	results := rec.Submit(t.Context(),
		recorder.Job{Snapshot: storagetest.NewRecord(t, "Acme", "Terms", "<p>v1</p>", storagetest.Date(1)), Extract: extract},
		recorder.Job{Snapshot: storagetest.NewRecord(t, "Acme", "Privacy", "<p>p1</p>", storagetest.Date(1)), Extract: extract},
	)
	for _, result := range results {
		require.NoError(t, result.Err)
		require.NotNil(t, result.Version)
	}

	r, err := a.NewRefilterer(refilter.ExtractorFunc(func(ctx context.Context, snapshot *core.Record) (*core.Record, error) {
		version, err := extract(ctx, snapshot)
		if err != nil {
			return nil, err
		}
		version.Content = append(version.Content, []byte("\n")...)
		return version, nil
	}), nil, nil)
	require.NoError(t, err)

	summary, err := r.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Recorded)

	dst := openTestArchive(t,
		config.RepositoryConfig{Type: config.TypeBadger},
		config.RepositoryConfig{Type: config.TypeBadger},
	)
	stats, err := a.TransferTo(t.Context(), dst)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Snapshots)
	assert.Equal(t, 4, stats.Versions)

	latest, err := dst.Versions().FindLatestByServiceIDAndDocumentType(t.Context(), "Acme", "Terms")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.IsRefilter)
	assert.Equal(t, "v1\n", string(latest.Content))
}
