package mongo

import (
	"testing"
	"time"

	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestEncodeContent(t *testing.T) {
	assert.Equal(t, "<p>hi</p>", encodeContent("text/html", []byte("<p>hi</p>")))
	assert.Equal(t, "hi", encodeContent("TEXT/markdown; charset=utf-8", []byte("hi")))
	assert.Nil(t, encodeContent("text/html", nil))
	assert.Nil(t, encodeContent("application/pdf", []byte{}))

	pdf := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff}
	assert.Equal(t, bson.Binary{Subtype: bson.TypeBinaryGeneric, Data: pdf}, encodeContent("application/pdf", pdf))
}

func TestDecodeContent(t *testing.T) {
	assert.Equal(t, []byte("hi"), decodeContent("hi"))
	assert.Equal(t, []byte{0x00, 0x01}, decodeContent(bson.Binary{Data: []byte{0x00, 0x01}}))
	assert.Equal(t, []byte{0x02}, decodeContent([]byte{0x02}))

	missing := decodeContent(nil)
	assert.NotNil(t, missing)
	assert.Empty(t, missing)
}

func TestSnapshotID(t *testing.T) {
	oid := bson.NewObjectID()

	encoded := encodeSnapshotID(core.ID(oid.Hex()))
	assert.Equal(t, oid, encoded)
	assert.Equal(t, core.ID(oid.Hex()), decodeSnapshotID(encoded))

	gitHash := core.ID("0123456789abcdef0123456789abcdef01234567")
	assert.Equal(t, gitHash.String(), encodeSnapshotID(gitHash))
	assert.Equal(t, gitHash, decodeSnapshotID(encodeSnapshotID(gitHash)))

	assert.Nil(t, encodeSnapshotID(""))
	assert.Equal(t, core.ID(""), decodeSnapshotID(nil))
}

func TestDocumentMapping(t *testing.T) {
	fetchDate := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	snapshotID := bson.NewObjectID()
	record := &core.Record{
		ServiceID:     "Acme",
		DocumentType:  "Terms of Service",
		MimeType:      "text/markdown",
		FetchDate:     fetchDate,
		Content:       []byte("# Terms"),
		IsFirstRecord: true,
		IsRefilter:    true,
		SnapshotID:    core.ID(snapshotID.Hex()),
		Metadata:      map[string]string{"fetcher": "htmlOnly"},
	}

	doc := toDocument(record)
	assert.True(t, doc.ID.IsZero())
	assert.Equal(t, "# Terms", doc.Content)
	assert.Equal(t, snapshotID, doc.SnapshotID)

	doc.ID = bson.NewObjectID()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var decoded recordDocument
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	got := toRecord(&decoded, true)
	assert.Equal(t, core.ID(doc.ID.Hex()), got.ID)
	assert.Equal(t, record.ServiceID, got.ServiceID)
	assert.Equal(t, record.DocumentType, got.DocumentType)
	assert.Equal(t, record.MimeType, got.MimeType)
	assert.True(t, fetchDate.Equal(got.FetchDate))
	assert.Equal(t, record.Content, got.Content)
	assert.True(t, got.IsFirstRecord)
	assert.True(t, got.IsRefilter)
	assert.Equal(t, record.SnapshotID, got.SnapshotID)
	assert.Equal(t, record.Metadata, got.Metadata)

	deferred := toRecord(&decoded, false)
	assert.Nil(t, deferred.Content)
}

func TestDocumentMapping_OmitsFalsyFields(t *testing.T) {
	record := &core.Record{
		ServiceID:    "Acme",
		DocumentType: "Terms",
		MimeType:     "application/pdf",
		FetchDate:    time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Content:      []byte{0x00, 0x01},
	}

	raw, err := bson.Marshal(toDocument(record))
	require.NoError(t, err)

	var fields bson.M
	require.NoError(t, bson.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "_id")
	assert.NotContains(t, fields, "is_first_record")
	assert.NotContains(t, fields, "is_refilter")
	assert.NotContains(t, fields, "snapshot_id")
	assert.NotContains(t, fields, "metadata")
	assert.NotContains(t, fields, "created_at")
	assert.Contains(t, fields, "content")

	var decoded recordDocument
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	assert.Equal(t, []byte{0x00, 0x01}, toRecord(&decoded, true).Content)
}

func TestNewRepository_RequiresConnectionSettings(t *testing.T) {
	_, err := NewRepository(Config{Database: "archivist"})
	assert.ErrorIs(t, err, ErrURIRequired)

	_, err = NewRepository(Config{URI: "mongodb://localhost:27017"})
	assert.ErrorIs(t, err, ErrDatabaseRequired)

	repo, err := newRepository(Config{URI: "mongodb://localhost:27017", Database: "archivist"})
	require.NoError(t, err)
	assert.Equal(t, DefaultCollection, repo.cfg.Collection)
	assert.Equal(t, int32(DefaultBatchSize), repo.cfg.BatchSize)

	_, err = repo.Count(t.Context())
	assert.ErrorIs(t, err, storage.ErrNotInitialized)
}
