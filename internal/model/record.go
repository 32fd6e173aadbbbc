package model

import "time"

// DurableRecord is the persisted form of a document.
type DurableRecord struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	DisplayName    string    `json:"display_name"`
	StoragePath    string    `json:"storage_path"`
	SizeBytes      int64     `json:"size_bytes"`
	MimeType       string    `json:"mime_type"`
	ExtractedTerms Terms     `json:"extracted_terms"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Document maps a durable record to a completed in-memory document.
func (r DurableRecord) Document() Document {
	return Document{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		DisplayName: r.DisplayName,
		MimeType:    r.MimeType,
		SizeBytes:   r.SizeBytes,
		StoragePath: r.StoragePath,
		UploadedAt:  r.CreatedAt,
		Status:      DocumentStatusCompleted,
		Terms:       r.ExtractedTerms.Clone(),
	}
}

// FileInput is one uploaded file handed to the extraction pipeline.
type FileInput struct {
	Name     string
	MimeType string
	Data     []byte
}

// RecordOf maps a document to its persisted form.
func RecordOf(d Document, updatedAt time.Time) DurableRecord {
	return DurableRecord{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		DisplayName:    d.DisplayName,
		StoragePath:    d.StoragePath,
		SizeBytes:      d.SizeBytes,
		MimeType:       d.MimeType,
		ExtractedTerms: d.Terms.Clone(),
		CreatedAt:      d.UploadedAt,
		UpdatedAt:      updatedAt,
	}
}
