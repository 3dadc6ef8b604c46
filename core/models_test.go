package core

import (
	"testing"
	"time"
)

func TestDigestOf(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "same content produces same digest", content: "test content"},
		{name: "empty content", content: ""},
		{name: "long content", content: "These Terms of Service govern your use of the service and any content you upload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d1 := DigestOf([]byte(tt.content))
			d2 := DigestOf([]byte(tt.content))
			if d1 != d2 {
				t.Errorf("DigestOf() produced different digests for same content: %x vs %x", d1, d2)
			}
		})
	}
}

func TestDigestOf_Different(t *testing.T) {
	if DigestOf([]byte("content1")) == DigestOf([]byte("content2")) {
		t.Errorf("DigestOf() produced same digest for different content")
	}
}

func TestRecord_Clone(t *testing.T) {
	r := &Record{
		ServiceID:    "ServiceA",
		DocumentType: "Terms of Service",
		MimeType:     "text/html",
		FetchDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Content:      []byte("abc"),
		Metadata:     map[string]string{"fetcher": "htmlOnly"},
	}

	c := r.Clone()
	c.Content[0] = 'x'
	c.Metadata["fetcher"] = "fullDom"

	if string(r.Content) != "abc" {
		t.Errorf("Clone() shares content with original")
	}
	if r.Metadata["fetcher"] != "htmlOnly" {
		t.Errorf("Clone() shares metadata with original")
	}
}

func TestRecord_WithLoadedContent(t *testing.T) {
	r := &Record{
		ID:           "abc",
		ServiceID:    "ServiceA",
		DocumentType: "Terms of Service",
		MimeType:     "text/html",
		FetchDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	loaded := r.WithLoadedContent([]byte("<p>terms</p>"))

	if r.HasContent() {
		t.Errorf("WithLoadedContent() mutated the receiver")
	}
	if !loaded.HasContent() || string(loaded.Content) != "<p>terms</p>" {
		t.Errorf("WithLoadedContent() content = %q", loaded.Content)
	}
	if loaded.ID != r.ID {
		t.Errorf("WithLoadedContent() ID = %q, want %q", loaded.ID, r.ID)
	}

	empty := r.WithLoadedContent(nil)
	if !empty.HasContent() || len(empty.Content) != 0 {
		t.Errorf("WithLoadedContent(nil) should produce loaded empty content")
	}
}

func TestLineage_String(t *testing.T) {
	r := &Record{ServiceID: "ServiceA", DocumentType: "Privacy Policy"}
	if got := r.Lineage().String(); got != "ServiceA/Privacy Policy" {
		t.Errorf("Lineage().String() = %q", got)
	}
}

func TestRecordMUS(t *testing.T) {
	r := Record{
		ID:            "0192f1c4-5a3b-7cde-8f00-112233445566",
		ServiceID:     "ServiceA",
		DocumentType:  "Terms of Service",
		MimeType:      "application/pdf",
		FetchDate:     time.Date(2024, 3, 14, 15, 9, 26, 535897932, time.UTC),
		Content:       []byte{'%', 'P', 'D', 'F', 0x00, 0xff},
		IsFirstRecord: true,
		SnapshotID:    "snap-1",
		Metadata:      map[string]string{"fetcher": "fullDom"},
	}

	bs := make([]byte, RecordMUS.Size(r))
	n := RecordMUS.Marshal(r, bs)
	if n != len(bs) {
		t.Fatalf("Marshal() wrote %d bytes, Size() = %d", n, len(bs))
	}

	decoded, n, err := RecordMUS.Unmarshal(bs)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if n != len(bs) {
		t.Errorf("Unmarshal() read %d bytes, want %d", n, len(bs))
	}
	if !decoded.FetchDate.Equal(r.FetchDate) {
		t.Errorf("FetchDate = %v, want %v", decoded.FetchDate, r.FetchDate)
	}
	if !decoded.SameContent(r.Content) {
		t.Errorf("Content = %v, want %v", decoded.Content, r.Content)
	}
	if decoded.ID != r.ID || decoded.SnapshotID != r.SnapshotID || !decoded.IsFirstRecord || decoded.IsRefilter {
		t.Errorf("Unmarshal() = %+v", decoded)
	}
	if decoded.Metadata["fetcher"] != "fullDom" {
		t.Errorf("Metadata = %v", decoded.Metadata)
	}

	if _, _, err := RecordMUS.Unmarshal(bs[:len(bs)/2]); err == nil {
		t.Errorf("Unmarshal() of truncated data should fail")
	}
}
