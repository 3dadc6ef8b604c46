package mongo

import (
	"strings"
	"time"

	"github.com/poiesic/archivist/core"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// recordDocument is the stored form of a record.
type recordDocument struct {
	ID            bson.ObjectID     `bson:"_id,omitempty"`
	ServiceID     string            `bson:"service_id"`
	DocumentType  string            `bson:"document_type"`
	MimeType      string            `bson:"mime_type"`
	FetchDate     time.Time         `bson:"fetch_date"`
	Content       any               `bson:"content,omitempty"`
	IsFirstRecord bool              `bson:"is_first_record,omitempty"`
	IsRefilter    bool              `bson:"is_refilter,omitempty"`
	SnapshotID    any               `bson:"snapshot_id,omitempty"`
	Metadata      map[string]string `bson:"metadata,omitempty"`
	CreatedAt     time.Time         `bson:"created_at,omitempty"`
}

// contentDocument holds only the content of a record.
type contentDocument struct {
	Content any `bson:"content,omitempty"`
}

func isTextMimeType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "text/")
}

// encodeContent stores text as a string and everything else as generic binary.
func encodeContent(mimeType string, content []byte) any {
	if len(content) == 0 {
		return nil
	}
	if isTextMimeType(mimeType) {
		return string(content)
	}
	return bson.Binary{Subtype: bson.TypeBinaryGeneric, Data: content}
}

// decodeContent unwraps stored content into raw bytes. Missing content is empty.
func decodeContent(value any) []byte {
	switch v := value.(type) {
	case string:
		return []byte(v)
	case bson.Binary:
		return v.Data
	case []byte:
		return v
	default:
		return []byte{}
	}
}

// encodeSnapshotID keeps references to Mongo documents as ObjectIDs and any
// other identifier as a string.
func encodeSnapshotID(id core.ID) any {
	if id.IsZero() {
		return nil
	}
	if oid, err := bson.ObjectIDFromHex(id.String()); err == nil {
		return oid
	}
	return id.String()
}

func decodeSnapshotID(value any) core.ID {
	switch v := value.(type) {
	case bson.ObjectID:
		return core.ID(v.Hex())
	case string:
		return core.ID(v)
	default:
		return ""
	}
}

// toDocument maps a record to its stored form.
func toDocument(record *core.Record) recordDocument {
	return recordDocument{
		ServiceID:     record.ServiceID,
		DocumentType:  record.DocumentType,
		MimeType:      record.MimeType,
		FetchDate:     record.FetchDate.UTC(),
		Content:       encodeContent(record.MimeType, record.Content),
		IsFirstRecord: record.IsFirstRecord,
		IsRefilter:    record.IsRefilter,
		SnapshotID:    encodeSnapshotID(record.SnapshotID),
		Metadata:      record.Metadata,
	}
}

// toRecord maps a stored document back to a record. Content stays nil when
// withContent is false.
func toRecord(doc *recordDocument, withContent bool) *core.Record {
	record := &core.Record{
		ID:            core.ID(doc.ID.Hex()),
		ServiceID:     doc.ServiceID,
		DocumentType:  doc.DocumentType,
		MimeType:      doc.MimeType,
		FetchDate:     doc.FetchDate.UTC(),
		IsFirstRecord: doc.IsFirstRecord,
		IsRefilter:    doc.IsRefilter,
		SnapshotID:    decodeSnapshotID(doc.SnapshotID),
	}
	if len(doc.Metadata) > 0 {
		record.Metadata = doc.Metadata
	}
	if withContent {
		record.Content = decodeContent(doc.Content)
	}
	return record
}
