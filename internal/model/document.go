package model

import (
	"maps"
	"time"
)

// DocumentStatus is the pipeline state of an uploaded document.
type DocumentStatus string

const (
	DocumentStatusUploading  DocumentStatus = "uploading"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusError      DocumentStatus = "error"
)

// Valid reports whether s is one of the four defined statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentStatusUploading, DocumentStatusProcessing, DocumentStatusCompleted, DocumentStatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further status transition is expected.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocumentStatusCompleted, DocumentStatusError:
		return true
	case DocumentStatusUploading, DocumentStatusProcessing:
		return false
	default:
		return false
	}
}

// Term is one extracted value with provenance. A nil Value means extraction
// ran and found nothing; Excerpt may still be present in that case.
type Term struct {
	Value      *string  `json:"value"`
	Excerpt    *string  `json:"excerpt,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ValueString returns the value or "" when null.
func (t Term) ValueString() string {
	if t.Value == nil {
		return ""
	}
	return *t.Value
}

// HasValue reports whether the term carries a non-empty value. An empty
// string displays the same as null.
func (t Term) HasValue() bool {
	return t.Value != nil && *t.Value != ""
}

// HasExcerpt reports whether the term carries a non-empty source excerpt.
func (t Term) HasExcerpt() bool {
	return t.Excerpt != nil && *t.Excerpt != ""
}

// Equal compares two terms by value, excerpt and confidence.
func (t Term) Equal(o Term) bool {
	return eqPtr(t.Value, o.Value) && eqPtr(t.Excerpt, o.Excerpt) && eqPtr(t.Confidence, o.Confidence)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Terms maps column id to extracted term. A missing key means "not yet
// extracted for this document".
type Terms map[string]Term

// Equal reports whether both maps hold the same keys with equal terms.
func (t Terms) Equal(o Terms) bool {
	return maps.EqualFunc(t, o, Term.Equal)
}

// Clone returns a copy of the map. Term pointers are shared; terms are
// treated as immutable once stored.
func (t Terms) Clone() Terms {
	if t == nil {
		return Terms{}
	}
	return maps.Clone(t)
}

// Document is an uploaded contract and its extraction state.
type Document struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id,omitempty"`
	DisplayName string         `json:"display_name"`
	MimeType    string         `json:"mime_type,omitempty"`
	SizeBytes   int64          `json:"size_bytes,omitempty"`
	StoragePath string         `json:"storage_path,omitempty"`
	UploadedAt  time.Time      `json:"uploaded_at"`
	Status      DocumentStatus `json:"status"`
	ErrorDetail *string        `json:"error_detail,omitempty"`
	Terms       Terms          `json:"terms"`
}

// Clone returns a deep-enough copy safe to hand out of a store.
func (d Document) Clone() Document {
	c := d
	c.Terms = d.Terms.Clone()
	if d.ErrorDetail != nil {
		c.ErrorDetail = StringPtr(*d.ErrorDetail)
	}
	return c
}
