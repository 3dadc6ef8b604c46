package transfer

import (
	"context"
	"testing"

	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/storage"
	"github.com/poiesic/archivist/storage/badger"
	"github.com/poiesic/archivist/storage/git"
	"github.com/poiesic/archivist/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitPair(t *testing.T) Pair {
	t.Helper()
	return Pair{
		Snapshots: initialize(t, func() (storage.Repository, error) { return git.NewRepository(git.Config{}) }),
		Versions:  initialize(t, func() (storage.Repository, error) { return git.NewRepository(git.Config{}) }),
	}
}

func badgerPair(t *testing.T) Pair {
	t.Helper()
	return Pair{
		Snapshots: initialize(t, func() (storage.Repository, error) { return badger.NewRepository(badger.Config{}) }),
		Versions:  initialize(t, func() (storage.Repository, error) { return badger.NewRepository(badger.Config{}) }),
	}
}

func initialize(t *testing.T, newRepo func() (storage.Repository, error)) storage.Repository {
	t.Helper()
	repo, err := newRepo()
	require.NoError(t, err)
	require.NoError(t, repo.Initialize(t.Context()))
	t.Cleanup(func() {
		repo.Finalize(context.Background())
	})
	return repo
}

func TestRun_RequiresRepositories(t *testing.T) {
	_, err := Run(t.Context(), Pair{}, badgerPair(t))
	assert.ErrorIs(t, err, ErrRepositoryRequired)
}

func TestRun_CopiesHistoryAndRemapsSnapshots(t *testing.T) {
	from := gitPair(t)
	to := badgerPair(t)

	s1 := storagetest.Save(t, from.Snapshots, storagetest.NewRecord(t, "Acme", "Terms", "<p>v1</p>", storagetest.Date(1),
		core.WithMetadata("fetcher", "htmlOnly")))
	s2 := storagetest.Save(t, from.Snapshots, storagetest.NewRecord(t, "Acme", "Terms", "<p>v2</p>", storagetest.Date(2)))
	storagetest.Save(t, from.Versions, storagetest.NewRecord(t, "Acme", "Terms", "v1", storagetest.Date(1), core.WithSnapshotID(s1.ID)))
	storagetest.Save(t, from.Versions, storagetest.NewRecord(t, "Acme", "Terms", "v2", storagetest.Date(2), core.WithSnapshotID(s2.ID)))

	stats, err := Run(t.Context(), from, to)
	require.NoError(t, err)
	assert.Equal(t, Stats{Snapshots: 2, Versions: 2}, stats)

	snapshots, err := to.Snapshots.FindAll(t.Context())
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "<p>v1</p>", string(snapshots[0].Content))
	assert.True(t, snapshots[0].IsFirstRecord)
	assert.Equal(t, map[string]string{"fetcher": "htmlOnly"}, snapshots[0].Metadata)
	assert.NotEqual(t, s1.ID, snapshots[0].ID)

	versions, err := to.Versions.FindAll(t.Context())
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, snapshots[0].ID, versions[0].SnapshotID)
	assert.Equal(t, snapshots[1].ID, versions[1].SnapshotID)
	assert.True(t, versions[1].FetchDate.Equal(storagetest.Date(2)))
}

func TestRun_SkipsExistingHistory(t *testing.T) {
	from := badgerPair(t)
	to := badgerPair(t)

	snapshot := storagetest.Save(t, from.Snapshots, storagetest.NewRecord(t, "Acme", "Terms", "<p>v1</p>", storagetest.Date(1)))
	storagetest.Save(t, from.Versions, storagetest.NewRecord(t, "Acme", "Terms", "v1", storagetest.Date(1), core.WithSnapshotID(snapshot.ID)))

	_, err := Run(t.Context(), from, to)
	require.NoError(t, err)

	stats, err := Run(t.Context(), from, to)
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 2}, stats)

	count, err := to.Versions.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRun_IntoExistingLineage(t *testing.T) {
	from := gitPair(t)
	to := badgerPair(t)

	storagetest.Save(t, to.Snapshots, storagetest.NewRecord(t, "Acme", "Terms", "<p>v0</p>", storagetest.Date(0)))
	storagetest.Save(t, from.Snapshots, storagetest.NewRecord(t, "Acme", "Terms", "<p>v1</p>", storagetest.Date(1)))

	stats, err := Run(t.Context(), from, to)
	require.NoError(t, err)
	assert.Equal(t, Stats{Snapshots: 1}, stats)

	snapshots, err := to.Snapshots.FindAll(t.Context())
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.True(t, snapshots[0].IsFirstRecord)
	assert.False(t, snapshots[1].IsFirstRecord, "transferred record follows an existing one")
	assert.Equal(t, "<p>v1</p>", string(snapshots[1].Content))
}
