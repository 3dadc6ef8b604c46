package git

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/trailer"
)

// Trailer keys carrying record attributes.
const (
	keyServiceID     = "service-id"
	keyDocumentType  = "document-type"
	keyMimeType      = "mime-type"
	keyFetchDate     = "fetch-date"
	keyIsFirstRecord = "is-first-record"
	keyIsRefilter    = "is-refilter"
	keySnapshotID    = "snapshot-id"
)

var reservedKeys = map[string]bool{
	keyServiceID:     true,
	keyDocumentType:  true,
	keyMimeType:      true,
	keyFetchDate:     true,
	keyIsFirstRecord: true,
	keyIsRefilter:    true,
	keySnapshotID:    true,
}

// commitMessage builds the message of the commit storing record.
// The last paragraph holds the record attributes as trailers.
func commitMessage(record *core.Record) string {
	var subject string
	switch {
	case record.IsFirstRecord:
		subject = fmt.Sprintf("First record of %s %s", record.ServiceID, record.DocumentType)
	case record.IsRefilter:
		subject = fmt.Sprintf("Refilter %s %s", record.ServiceID, record.DocumentType)
	default:
		subject = fmt.Sprintf("Record new changes of %s %s", record.ServiceID, record.DocumentType)
	}

	var sb strings.Builder
	sb.WriteString(subject)
	if !record.SnapshotID.IsZero() {
		sb.WriteString("\n\nExtracted from snapshot ")
		sb.WriteString(record.SnapshotID.String())
	}
	sb.WriteString("\n\n")
	sb.WriteString(trailer.Format(recordTrailers(record)))
	sb.WriteString("\n")
	return sb.String()
}

func recordTrailers(record *core.Record) trailer.Set {
	var set trailer.Set
	set.Add(keyServiceID, record.ServiceID)
	set.Add(keyDocumentType, record.DocumentType)
	set.Add(keyMimeType, record.MimeType)
	set.Add(keyFetchDate, record.FetchDate.UTC().Format(time.RFC3339Nano))
	if record.IsFirstRecord {
		set.Add(keyIsFirstRecord, "true")
	}
	if record.IsRefilter {
		set.Add(keyIsRefilter, "true")
	}
	set.Add(keySnapshotID, record.SnapshotID.String())
	for _, key := range slices.Sorted(maps.Keys(record.Metadata)) {
		lower := strings.ToLower(key)
		value := record.Metadata[key]
		if reservedKeys[lower] || !trailer.IsValidKey(key) || strings.ContainsAny(value, "\r\n") {
			continue
		}
		set.Add(lower, value)
	}
	return set
}

// parseCommitMessage rebuilds a record, without ID and content, from a
// commit message. It returns false when the message carries no record.
func parseCommitMessage(message string) (*core.Record, bool, error) {
	set := trailer.Parse(message)

	serviceID := set.Value(keyServiceID)
	documentType := set.Value(keyDocumentType)
	mimeType := set.Value(keyMimeType)
	if serviceID == "" || documentType == "" || mimeType == "" {
		return nil, false, nil
	}

	fetchDate, err := time.Parse(time.RFC3339Nano, set.Value(keyFetchDate))
	if err != nil {
		return nil, false, fmt.Errorf("invalid %s trailer: %w", keyFetchDate, err)
	}

	record := &core.Record{
		ServiceID:     serviceID,
		DocumentType:  documentType,
		MimeType:      mimeType,
		FetchDate:     fetchDate.UTC(),
		IsFirstRecord: parseBool(set.Value(keyIsFirstRecord)),
		IsRefilter:    parseBool(set.Value(keyIsRefilter)),
		SnapshotID:    core.ID(set.Value(keySnapshotID)),
	}
	for _, t := range set {
		if reservedKeys[t.Key] {
			continue
		}
		if record.Metadata == nil {
			record.Metadata = make(map[string]string)
		}
		record.Metadata[t.Key] = t.Value
	}
	return record, true, nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
