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


// Package storagetest holds the behavior every storage.Repository must share,
// expressed as a test suite that backend packages run against themselves.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty, initialized repository.
// Implementations register their own cleanup with t.Cleanup.
type Factory func(t *testing.T) storage.Repository

// BaseDate is the fetch date of the first record saved by the suite.
// Dates keep millisecond precision so every backend stores them exactly.
var BaseDate = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

// Date returns BaseDate shifted by n hours.
func Date(n int) time.Time {
	return BaseDate.Add(time.Duration(n) * time.Hour)
}

// NewRecord builds a valid record or fails the test.
func NewRecord(t *testing.T, serviceID, documentType, content string, fetchDate time.Time, opts ...core.RecordOption) *core.Record {
	t.Helper()
	opts = append([]core.RecordOption{core.WithTextContent(content)}, opts...)
	record, err := core.NewRecord(serviceID, documentType, "text/html", fetchDate, opts...)
	require.NoError(t, err)
	return record
}

// Save saves record and requires it to be stored.
func Save(t *testing.T, repo storage.Repository, record *core.Record) *core.Record {
	t.Helper()
	saved, err := repo.Save(t.Context(), record)
	require.NoError(t, err)
	require.NotNil(t, saved, "record unexpectedly deduplicated")
	require.False(t, saved.ID.IsZero())
	return saved
}

// Run runs the repository contract suite.
func Run(t *testing.T, newRepo Factory) {
	t.Run("SaveDeduplicatesAgainstLatest", func(t *testing.T) {
		testSaveDeduplicates(t, newRepo(t))
	})
	t.Run("SaveValidatesRecord", func(t *testing.T) {
		testSaveValidates(t, newRepo(t))
	})
	t.Run("SaveDoesNotMutateInput", func(t *testing.T) {
		testSaveDoesNotMutate(t, newRepo(t))
	})
	t.Run("LatestIsGreatestFetchDate", func(t *testing.T) {
		testLatestByFetchDate(t, newRepo(t))
	})
	t.Run("NamesWithPathCharacters", func(t *testing.T) {
		testPathCharacterNames(t, newRepo(t))
	})
	t.Run("LineagesAreIndependent", func(t *testing.T) {
		testLineagesIndependent(t, newRepo(t))
	})
	t.Run("FirstRecordIsUniquePerLineage", func(t *testing.T) {
		testFirstRecordUnique(t, newRepo(t))
	})
	t.Run("FindLatestEmpty", func(t *testing.T) {
		testFindLatestEmpty(t, newRepo(t))
	})
	t.Run("FindByID", func(t *testing.T) {
		testFindByID(t, newRepo(t))
	})
	t.Run("FindByIDUnknown", func(t *testing.T) {
		testFindByIDUnknown(t, newRepo(t))
	})
	t.Run("FindAllOrdersByFetchDate", func(t *testing.T) {
		testFindAllOrder(t, newRepo(t))
	})
	t.Run("IterateDeferredContent", func(t *testing.T) {
		testIterateDeferred(t, newRepo(t))
	})
	t.Run("IterateRestartsAndStops", func(t *testing.T) {
		testIterateRestart(t, newRepo(t))
	})
	t.Run("LoadRecordContentErrors", func(t *testing.T) {
		testLoadRecordContentErrors(t, newRepo(t))
	})
	t.Run("VersionAttributes", func(t *testing.T) {
		testVersionAttributes(t, newRepo(t))
	})
	t.Run("BinaryContent", func(t *testing.T) {
		testBinaryContent(t, newRepo(t))
	})
	t.Run("RemoveAll", func(t *testing.T) {
		testRemoveAll(t, newRepo(t))
	})
	t.Run("ConcurrentSaves", func(t *testing.T) {
		testConcurrentSaves(t, newRepo(t))
	})
}

func testSaveDeduplicates(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	first := Save(t, repo, NewRecord(t, "Acme", "Terms", "v1", Date(1)))
	assert.True(t, first.IsFirstRecord)
	assert.Equal(t, "v1", string(first.Content))

	dup, err := repo.Save(ctx, NewRecord(t, "Acme", "Terms", "v1", Date(2)))
	require.NoError(t, err)
	assert.Nil(t, dup)

	second := Save(t, repo, NewRecord(t, "Acme", "Terms", "v2", Date(3)))
	assert.False(t, second.IsFirstRecord)
	assert.NotEqual(t, first.ID, second.ID)

	latest, err := repo.FindLatestByServiceIDAndDocumentType(ctx, "Acme", "Terms")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "v2", string(latest.Content))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Dedup compares with the latest record only.
	back := Save(t, repo, NewRecord(t, "Acme", "Terms", "v1", Date(4)))
	assert.False(t, back.IsFirstRecord)
}

func testLatestByFetchDate(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	newer := Save(t, repo, NewRecord(t, "Acme", "Terms", "newer", Date(3)))
	older := Save(t, repo, NewRecord(t, "Acme", "Terms", "older", Date(1)))
	assert.True(t, newer.IsFirstRecord)
	assert.False(t, older.IsFirstRecord)

	latest, err := repo.FindLatestByServiceIDAndDocumentType(ctx, "Acme", "Terms")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newer.ID, latest.ID)
	assert.Equal(t, "newer", string(latest.Content))

	records, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, latest.ID, records[len(records)-1].ID)

	// Dedup compares with the record of the greatest fetch date.
	dup, err := repo.Save(ctx, NewRecord(t, "Acme", "Terms", "newer", Date(2)))
	require.NoError(t, err)
	assert.Nil(t, dup)

	again := Save(t, repo, NewRecord(t, "Acme", "Terms", "older", Date(4)))
	assert.False(t, again.IsFirstRecord)

	latest, err = repo.FindLatestByServiceIDAndDocumentType(ctx, "Acme", "Terms")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, again.ID, latest.ID)
}

func testPathCharacterNames(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	first := Save(t, repo, NewRecord(t, "Acme", "Terms/EU", "v1", Date(1)))
	assert.True(t, first.IsFirstRecord)

	dup, err := repo.Save(ctx, NewRecord(t, "Acme", "Terms/EU", "v1", Date(2)))
	require.NoError(t, err)
	assert.Nil(t, dup)

	second := Save(t, repo, NewRecord(t, "Acme", "Terms/EU", "v2", Date(3)))
	assert.False(t, second.IsFirstRecord)

	for _, lineage := range []core.Lineage{
		{ServiceID: "Acme/Terms", DocumentType: "EU"},
		{ServiceID: "Acme", DocumentType: "Terms"},
		{ServiceID: "..", DocumentType: "."},
		{ServiceID: ".git", DocumentType: "50% off"},
	} {
		saved := Save(t, repo, NewRecord(t, lineage.ServiceID, lineage.DocumentType, "v1", Date(4)))
		assert.True(t, saved.IsFirstRecord, lineage.String())

		latest, err := repo.FindLatestByServiceIDAndDocumentType(ctx, lineage.ServiceID, lineage.DocumentType)
		require.NoError(t, err, lineage.String())
		require.NotNil(t, latest, lineage.String())
		assert.Equal(t, saved.ID, latest.ID, lineage.String())
		assert.Equal(t, "v1", string(latest.Content), lineage.String())
	}

	latest, err := repo.FindLatestByServiceIDAndDocumentType(ctx, "Acme", "Terms/EU")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "v2", string(latest.Content))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func testSaveValidates(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	_, err := repo.Save(ctx, &core.Record{
		DocumentType: "Terms",
		MimeType:     "text/html",
		FetchDate:    Date(1),
		Content:      []byte("v1"),
	})
	require.ErrorIs(t, err, core.ErrInvalidRecord)
	assert.ErrorIs(t, err, core.ErrMissingField)
	assert.Contains(t, err.Error(), "serviceId")

	_, err = repo.Save(ctx, nil)
	assert.ErrorIs(t, err, core.ErrInvalidRecord)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testSaveDoesNotMutate(t *testing.T, repo storage.Repository) {
	record := NewRecord(t, "Acme", "Terms", "v1", Date(1))
	saved := Save(t, repo, record)

	assert.True(t, record.ID.IsZero())
	assert.False(t, record.IsFirstRecord)
	assert.True(t, saved.IsFirstRecord)
}

func testLineagesIndependent(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	a := Save(t, repo, NewRecord(t, "Acme", "Terms", "same", Date(1)))
	b := Save(t, repo, NewRecord(t, "Acme", "Privacy Policy", "same", Date(2)))
	c := Save(t, repo, NewRecord(t, "Globex", "Terms", "same", Date(3)))

	assert.True(t, a.IsFirstRecord)
	assert.True(t, b.IsFirstRecord)
	assert.True(t, c.IsFirstRecord)

	latest, err := repo.FindLatestByServiceIDAndDocumentType(ctx, "Acme", "Privacy Policy")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, b.ID, latest.ID)
}

func testFirstRecordUnique(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	for i := range 5 {
		Save(t, repo, NewRecord(t, "Acme", "Terms", fmt.Sprintf("v%d", i), Date(i)))
		Save(t, repo, NewRecord(t, "Globex", "Terms", fmt.Sprintf("v%d", i), Date(i)))
	}

	records, err := repo.FindAll(ctx, storage.WithDeferredContent())
	require.NoError(t, err)
	require.Len(t, records, 10)

	firsts := map[core.Lineage][]*core.Record{}
	for _, r := range records {
		if r.IsFirstRecord {
			firsts[r.Lineage()] = append(firsts[r.Lineage()], r)
		}
	}
	require.Len(t, firsts, 2)
	for lineage, rs := range firsts {
		require.Len(t, rs, 1, lineage.String())
		assert.True(t, rs[0].FetchDate.Equal(Date(0)), lineage.String())
	}
}

func testFindLatestEmpty(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	latest, err := repo.FindLatestByServiceIDAndDocumentType(ctx, "Acme", "Terms")
	require.NoError(t, err)
	assert.Nil(t, latest)

	Save(t, repo, NewRecord(t, "Acme", "Terms", "v1", Date(1)))

	latest, err = repo.FindLatestByServiceIDAndDocumentType(ctx, "Acme", "Privacy Policy")
	require.NoError(t, err)
	assert.Nil(t, latest)

	latest, err = repo.FindLatestByServiceIDAndDocumentType(ctx, "Acme", "Terms", storage.WithDeferredContent())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Nil(t, latest.Content)
}

func testFindByID(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	saved := Save(t, repo, NewRecord(t, "Acme", "Terms", "<p>terms</p>", Date(1),
		core.WithMetadata("fetcher", "htmlOnly")))

	found, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, saved.ID, found.ID)
	assert.Equal(t, "Acme", found.ServiceID)
	assert.Equal(t, "Terms", found.DocumentType)
	assert.Equal(t, "text/html", found.MimeType)
	assert.True(t, found.FetchDate.Equal(Date(1)), "fetch date %s", found.FetchDate)
	assert.True(t, found.IsFirstRecord)
	assert.False(t, found.IsRefilter)
	assert.True(t, found.SnapshotID.IsZero())
	assert.Equal(t, "<p>terms</p>", string(found.Content))
	assert.Equal(t, map[string]string{"fetcher": "htmlOnly"}, found.Metadata)

	deferred, err := repo.FindByID(ctx, saved.ID, storage.WithDeferredContent())
	require.NoError(t, err)
	require.NotNil(t, deferred)
	assert.Nil(t, deferred.Content)
}

func testFindByIDUnknown(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	Save(t, repo, NewRecord(t, "Acme", "Terms", "v1", Date(1)))

	for _, id := range []core.ID{
		"does-not-exist",
		"0123456789abcdef01234567",
		"0123456789abcdef0123456789abcdef01234567",
		"0192f1c4-5a3b-7cde-8f00-112233445566",
	} {
		found, err := repo.FindByID(ctx, id)
		require.NoError(t, err, id)
		assert.Nil(t, found, id)
	}
}

func testFindAllOrder(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	Save(t, repo, NewRecord(t, "Acme", "Terms", "a3", Date(3)))
	Save(t, repo, NewRecord(t, "Globex", "Terms", "g1", Date(1)))
	Save(t, repo, NewRecord(t, "Initech", "Privacy Policy", "i2", Date(2)))
	Save(t, repo, NewRecord(t, "Globex", "Terms", "g5", Date(5)))
	Save(t, repo, NewRecord(t, "Acme", "Terms", "a4", Date(4)))

	records, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 5)

	var contents []string
	for i, r := range records {
		contents = append(contents, string(r.Content))
		if i > 0 {
			assert.False(t, r.FetchDate.Before(records[i-1].FetchDate))
		}
	}
	assert.Equal(t, []string{"g1", "i2", "a3", "a4", "g5"}, contents)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func testIterateDeferred(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	Save(t, repo, NewRecord(t, "Acme", "Terms", "v1", Date(1)))
	Save(t, repo, NewRecord(t, "Acme", "Terms", "v2", Date(2)))
	Save(t, repo, NewRecord(t, "Globex", "Terms", "", Date(3)))

	n := 0
	for record, err := range repo.Iterate(ctx, storage.WithDeferredContent()) {
		require.NoError(t, err)
		n++
		assert.Nil(t, record.Content)

		loaded, err := repo.LoadRecordContent(ctx, record)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Nil(t, record.Content, "LoadRecordContent must not mutate its argument")
		assert.Equal(t, record.ID, loaded.ID)

		direct, err := repo.FindByID(ctx, record.ID)
		require.NoError(t, err)
		require.NotNil(t, direct)
		assert.Equal(t, string(direct.Content), string(loaded.Content))
		assert.True(t, loaded.HasContent())
	}
	assert.Equal(t, 3, n)
}

func testIterateRestart(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	for i := range 4 {
		Save(t, repo, NewRecord(t, "Acme", "Terms", fmt.Sprintf("v%d", i), Date(i)))
	}

	seq := repo.Iterate(ctx)
	for range 2 {
		records, err := storage.Collect(seq)
		require.NoError(t, err)
		assert.Len(t, records, 4)
	}

	n := 0
	for _, err := range repo.Iterate(ctx) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)

	empty := 0
	require.NoError(t, repo.RemoveAll(ctx))
	for range repo.Iterate(ctx) {
		empty++
	}
	assert.Zero(t, empty)
}

func testLoadRecordContentErrors(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	_, err := repo.LoadRecordContent(ctx, NewRecord(t, "Acme", "Terms", "", Date(1)))
	assert.Error(t, err)

	saved := Save(t, repo, NewRecord(t, "Acme", "Terms", "v1", Date(1)))
	require.NoError(t, repo.RemoveAll(ctx))

	_, err = repo.LoadRecordContent(ctx, &core.Record{
		ID:           saved.ID,
		ServiceID:    saved.ServiceID,
		DocumentType: saved.DocumentType,
		MimeType:     saved.MimeType,
		FetchDate:    saved.FetchDate,
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testVersionAttributes(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	snapshot := Save(t, repo, NewRecord(t, "Acme", "Terms", "<html>v1</html>", Date(1)))

	version, err := core.NewRecord("Acme", "Privacy Policy", "text/markdown", Date(2),
		core.WithTextContent("# Privacy"),
		core.WithSnapshotID(snapshot.ID),
		core.WithRefilter(true))
	require.NoError(t, err)
	saved := Save(t, repo, version)
	assert.True(t, saved.IsFirstRecord)
	assert.True(t, saved.IsRefilter)

	found, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, snapshot.ID, found.SnapshotID)
	assert.True(t, found.IsRefilter)
	assert.True(t, found.IsFirstRecord)
	assert.Equal(t, "text/markdown", found.MimeType)
	assert.Equal(t, "# Privacy", string(found.Content))
}

func testBinaryContent(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	pdf := []byte{'%', 'P', 'D', 'F', '-', '1', '.', '7', 0x00, 0xff, 0x10, '\n', 0x00}
	record, err := core.NewRecord("Acme", "Terms", "application/pdf", Date(1), core.WithContent(pdf))
	require.NoError(t, err)
	saved := Save(t, repo, record)

	found, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, pdf, found.Content)

	deferred, err := repo.FindByID(ctx, saved.ID, storage.WithDeferredContent())
	require.NoError(t, err)
	loaded, err := repo.LoadRecordContent(ctx, deferred)
	require.NoError(t, err)
	assert.Equal(t, pdf, loaded.Content)

	dup, err := repo.Save(ctx, &core.Record{
		ServiceID:    "Acme",
		DocumentType: "Terms",
		MimeType:     "application/pdf",
		FetchDate:    Date(2),
		Content:      append([]byte{}, pdf...),
	})
	require.NoError(t, err)
	assert.Nil(t, dup)

	// A new MIME type is a change even for a lineage with history.
	html := Save(t, repo, NewRecord(t, "Acme", "Terms", "<p>terms</p>", Date(3)))
	assert.False(t, html.IsFirstRecord)
	latest, err := repo.FindLatestByServiceIDAndDocumentType(ctx, "Acme", "Terms")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "text/html", latest.MimeType)
	assert.Equal(t, "<p>terms</p>", string(latest.Content))

	old, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, pdf, old.Content)
}

func testRemoveAll(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	Save(t, repo, NewRecord(t, "Acme", "Terms", "v1", Date(1)))
	Save(t, repo, NewRecord(t, "Acme", "Terms", "v2", Date(2)))

	require.NoError(t, repo.RemoveAll(ctx))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	records, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	again := Save(t, repo, NewRecord(t, "Acme", "Terms", "v2", Date(3)))
	assert.True(t, again.IsFirstRecord)
}

func testConcurrentSaves(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	const services = 8
	const versions = 3

	var wg sync.WaitGroup
	errs := make(chan error, services)
	for s := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serviceID := fmt.Sprintf("service-%d", s)
			for v := range versions {
				record, err := core.NewRecord(serviceID, "Terms", "text/html", Date(v),
					core.WithTextContent(fmt.Sprintf("%s v%d", serviceID, v)))
				if err != nil {
					errs <- err
					return
				}
				saved, err := repo.Save(ctx, record)
				if err != nil {
					errs <- err
					return
				}
				if saved == nil {
					errs <- fmt.Errorf("%s v%d deduplicated", serviceID, v)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, services*versions)

	for s := range services {
		serviceID := fmt.Sprintf("service-%d", s)
		latest, err := repo.FindLatestByServiceIDAndDocumentType(ctx, serviceID, "Terms")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, fmt.Sprintf("%s v%d", serviceID, versions-1), string(latest.Content))
	}
	for _, r := range records {
		assert.Equal(t, r.FetchDate.Equal(Date(0)), r.IsFirstRecord, "%s %s", r.ServiceID, r.FetchDate)
		assert.Contains(t, string(r.Content), r.ServiceID)
	}
}
