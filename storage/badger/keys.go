package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/archivist/core"
)

// Key prefixes for different data types
const (
	recordPrefix  = "rec:"  // rec:<id> -> record attributes
	contentPrefix = "recc:" // recc:<id> -> record content
	datePrefix    = "recd:" // recd:<fetchDate><id> -> nil
	lineagePrefix = "recl:" // recl:<service>\x00<type>\x00<fetchDate><id> -> content digest
	headPrefix    = "rech:" // rech:<service>\x00<type> -> last saved id
)

// idLength is the length of a record ID: a canonical UUID string.
const idLength = 36

// makeRecordKey generates a key for a record by ID.
func makeRecordKey(id core.ID) []byte {
	return append([]byte(recordPrefix), id...)
}

// makeContentKey generates a key for a record's content by ID.
func makeContentKey(id core.ID) []byte {
	return append([]byte(contentPrefix), id...)
}

// makeDateKey generates a composite key for the fetch date index.
// Format: prefix:timestamp:id
func makeDateKey(fetchDate time.Time, id core.ID) []byte {
	buf := make([]byte, 0, len(datePrefix)+8+len(id))
	buf = append(buf, datePrefix...)
	buf = appendTimestamp(buf, fetchDate)
	return append(buf, id...)
}

// makeLineagePrefix generates the key prefix shared by every record of a lineage.
// Format: prefix:service\x00type\x00
func makeLineagePrefix(serviceID, documentType string) []byte {
	buf := make([]byte, 0, len(lineagePrefix)+len(serviceID)+len(documentType)+2)
	buf = append(buf, lineagePrefix...)
	buf = append(buf, serviceID...)
	buf = append(buf, 0)
	buf = append(buf, documentType...)
	return append(buf, 0)
}

// makeLineageKey generates a composite key for the lineage index.
// Format: prefix:service\x00type\x00timestamp:id
func makeLineageKey(serviceID, documentType string, fetchDate time.Time, id core.ID) []byte {
	buf := makeLineagePrefix(serviceID, documentType)
	buf = appendTimestamp(buf, fetchDate)
	return append(buf, id...)
}

// makeHeadKey generates the key every save of a lineage reads and writes,
// so concurrent saves to one lineage conflict even when it is empty.
func makeHeadKey(serviceID, documentType string) []byte {
	buf := make([]byte, 0, len(headPrefix)+len(serviceID)+len(documentType)+1)
	buf = append(buf, headPrefix...)
	buf = append(buf, serviceID...)
	buf = append(buf, 0)
	return append(buf, documentType...)
}

// idFromIndexKey extracts the record ID at the end of a date or lineage key.
func idFromIndexKey(key []byte) core.ID {
	if len(key) < idLength {
		return ""
	}
	return core.ID(key[len(key)-idLength:])
}

// appendTimestamp writes t in BigEndian order with the sign bit flipped so
// lexicographic order matches chronological order, including before 1970.
func appendTimestamp(buf []byte, t time.Time) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(t.UnixNano())^(1<<63))
}
