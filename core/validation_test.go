package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateRecord(t *testing.T) {
	fetchDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		record    *Record
		wantErr   error
		wantField string
	}{
		{
			name: "valid record",
			record: &Record{
				ServiceID:    "ServiceA",
				DocumentType: "Terms of Service",
				MimeType:     "text/html",
				FetchDate:    fetchDate,
			},
		},
		{
			name: "valid record with content and flags",
			record: &Record{
				ServiceID:     "ServiceA",
				DocumentType:  "Terms of Service",
				MimeType:      "text/markdown",
				FetchDate:     fetchDate,
				Content:       []byte("# Terms"),
				IsRefilter:    true,
				IsFirstRecord: true,
				SnapshotID:    "snap",
			},
		},
		{
			name:    "nil record",
			record:  nil,
			wantErr: ErrInvalidRecord,
		},
		{
			name: "missing service id",
			record: &Record{
				DocumentType: "Terms of Service",
				MimeType:     "text/html",
				FetchDate:    fetchDate,
			},
			wantErr:   ErrMissingField,
			wantField: "serviceId",
		},
		{
			name: "missing document type",
			record: &Record{
				ServiceID: "ServiceA",
				MimeType:  "text/html",
				FetchDate: fetchDate,
			},
			wantErr:   ErrMissingField,
			wantField: "documentType",
		},
		{
			name: "missing mime type",
			record: &Record{
				ServiceID:    "ServiceA",
				DocumentType: "Terms of Service",
				FetchDate:    fetchDate,
			},
			wantErr:   ErrMissingField,
			wantField: "mimeType",
		},
		{
			name: "missing fetch date",
			record: &Record{
				ServiceID:    "ServiceA",
				DocumentType: "Terms of Service",
				MimeType:     "text/html",
			},
			wantErr:   ErrMissingField,
			wantField: "fetchDate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord(tt.record)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateRecord() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateRecord() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("ValidateRecord() error = %v, should wrap ErrInvalidRecord", err)
			}
			if tt.wantField != "" && !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("ValidateRecord() error = %v, should name field %q", err, tt.wantField)
			}
		})
	}
}

func TestNewRecord(t *testing.T) {
	fetchDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	r, err := NewRecord("ServiceA", "Terms of Service", "text/html", fetchDate,
		WithTextContent("<p>terms</p>"),
		WithSnapshotID("snap-1"),
		WithRefilter(true),
		WithMetadata("fetcher", "htmlOnly"))
	if err != nil {
		t.Fatalf("NewRecord() unexpected error = %v", err)
	}
	if r.ID != "" {
		t.Errorf("NewRecord() should not assign an ID, got %q", r.ID)
	}
	if string(r.Content) != "<p>terms</p>" || r.SnapshotID != "snap-1" || !r.IsRefilter {
		t.Errorf("NewRecord() options not applied: %+v", r)
	}
	if r.Metadata["fetcher"] != "htmlOnly" {
		t.Errorf("NewRecord() metadata = %v", r.Metadata)
	}

	_, err = NewRecord("", "Terms of Service", "text/html", fetchDate)
	if !errors.Is(err, ErrMissingField) || !strings.Contains(err.Error(), "serviceId") {
		t.Errorf("NewRecord() error = %v, want missing serviceId", err)
	}

	_, err = NewRecord("ServiceA", "Terms of Service", "text/html", time.Time{})
	if !errors.Is(err, ErrMissingField) || !strings.Contains(err.Error(), "fetchDate") {
		t.Errorf("NewRecord() error = %v, want missing fetchDate", err)
	}
}
