// Package docstore holds uploaded documents and their extracted terms.
package docstore

import (
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contract-cli/internal/model"
)

// Store is the in-memory document store. All mutations are atomic under a
// single mutex; callers must not hold it across collaborator calls, which is
// guaranteed because no method calls out.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]*model.Document
	arrival []string
	version uint64
	nowFunc func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		docs:    make(map[string]*model.Document),
		nowFunc: time.Now,
	}
}

// CreatePending inserts a new document. A document submitted without a
// status starts in processing; only uploading and processing are accepted.
func (s *Store) CreatePending(doc model.Document) error {
	if doc.ID == "" {
		return eris.Wrap(model.ErrValidation, "docstore: document id is required")
	}
	switch doc.Status {
	case "":
		doc.Status = model.DocumentStatusProcessing
	case model.DocumentStatusUploading, model.DocumentStatusProcessing:
	case model.DocumentStatusCompleted, model.DocumentStatusError:
		return eris.Wrapf(model.ErrValidation, "docstore: new document cannot start in %s", doc.Status)
	default:
		return eris.Wrapf(model.ErrValidation, "docstore: unknown status %q", doc.Status)
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = s.nowFunc().UTC()
	}
	doc.ErrorDetail = nil
	doc.Terms = model.Terms{}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return eris.Wrapf(model.ErrDuplicateDocumentID, "docstore: %s", doc.ID)
	}
	s.docs[doc.ID] = &doc
	s.arrival = append(s.arrival, doc.ID)
	s.version++
	return nil
}

// MarkProcessing moves an uploading document to processing. It is a no-op
// for documents already past uploading.
func (s *Store) MarkProcessing(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return eris.Wrapf(model.ErrUnknownDocument, "docstore: %s", id)
	}
	if d.Status == model.DocumentStatusUploading {
		d.Status = model.DocumentStatusProcessing
		s.version++
	}
	return nil
}

// RecordSuccess marks the document completed and replaces its full terms
// map. Replaying identical terms is a no-op. A document in error cannot be
// completed.
func (s *Store) RecordSuccess(id string, terms model.Terms) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return eris.Wrapf(model.ErrUnknownDocument, "docstore: %s", id)
	}

	switch d.Status {
	case model.DocumentStatusUploading, model.DocumentStatusProcessing:
	case model.DocumentStatusCompleted:
		if d.Terms.Equal(terms) {
			return nil
		}
	case model.DocumentStatusError:
		return eris.Wrapf(model.ErrInvalidTransition, "docstore: %s is in error", id)
	default:
		return eris.Wrapf(model.ErrInvalidTransition, "docstore: %s has unknown status %q", id, d.Status)
	}

	d.Status = model.DocumentStatusCompleted
	d.ErrorDetail = nil
	d.Terms = terms.Clone()
	s.version++

	zap.L().Debug("docstore: document completed",
		zap.String("document_id", id),
		zap.Int("terms", len(terms)),
	)
	return nil
}

// RecordFailure marks the document as failed with the given detail. A
// completed document cannot regress to error.
func (s *Store) RecordFailure(id, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return eris.Wrapf(model.ErrUnknownDocument, "docstore: %s", id)
	}

	switch d.Status {
	case model.DocumentStatusUploading, model.DocumentStatusProcessing:
	case model.DocumentStatusError:
		if d.ErrorDetail != nil && *d.ErrorDetail == detail {
			return nil
		}
	case model.DocumentStatusCompleted:
		return eris.Wrapf(model.ErrInvalidTransition, "docstore: %s is completed", id)
	default:
		return eris.Wrapf(model.ErrInvalidTransition, "docstore: %s has unknown status %q", id, d.Status)
	}

	d.Status = model.DocumentStatusError
	d.ErrorDetail = model.StringPtr(detail)
	s.version++

	zap.L().Debug("docstore: document failed",
		zap.String("document_id", id),
		zap.String("detail", detail),
	)
	return nil
}

// MergeTerm sets exactly one entry of the document's terms without touching
// status or other entries.
func (s *Store) MergeTerm(id, columnID string, term model.Term) error {
	if columnID == "" {
		return eris.Wrap(model.ErrValidation, "docstore: column id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return eris.Wrapf(model.ErrUnknownDocument, "docstore: %s", id)
	}
	if existing, ok := d.Terms[columnID]; ok && existing.Equal(term) {
		return nil
	}
	if d.Terms == nil {
		d.Terms = model.Terms{}
	}
	d.Terms[columnID] = term
	s.version++
	return nil
}

// SetStoragePath records where the document's original file was stored.
func (s *Store) SetStoragePath(id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return eris.Wrapf(model.ErrUnknownDocument, "docstore: %s", id)
	}
	if d.StoragePath == path {
		return nil
	}
	d.StoragePath = path
	s.version++
	return nil
}

// Get returns a copy of the document with the given id.
func (s *Store) Get(id string) (model.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return model.Document{}, false
	}
	return d.Clone(), true
}

// List returns copies of all documents in arrival order.
func (s *Store) List() []model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Document, 0, len(s.arrival))
	for _, id := range s.arrival {
		out = append(out, s.docs[id].Clone())
	}
	return out
}

// WithStatus returns copies of all documents currently in the given status,
// in arrival order. The result is a snapshot.
func (s *Store) WithStatus(status model.DocumentStatus) []model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Document
	for _, id := range s.arrival {
		if d := s.docs[id]; d.Status == status {
			out = append(out, d.Clone())
		}
	}
	return out
}

// Completed returns a snapshot of all completed documents.
func (s *Store) Completed() []model.Document {
	return s.WithStatus(model.DocumentStatusCompleted)
}

// Rehydrate loads durable records as completed documents. Records whose id
// is already present are skipped. Records arrive in the order given.
func (s *Store) Rehydrate(records []model.DurableRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, r := range records {
		if r.ID == "" {
			return eris.Wrap(model.ErrValidation, "docstore: rehydrate record without id")
		}
		if _, ok := s.docs[r.ID]; ok {
			continue
		}
		d := r.Document()
		s.docs[d.ID] = &d
		s.arrival = append(s.arrival, d.ID)
		loaded++
	}
	if loaded > 0 {
		s.version++
	}
	zap.L().Info("docstore: rehydrated", zap.Int("documents", loaded))
	return nil
}

// Len returns the number of documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arrival)
}

// Version increases on every observable mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Stats counts documents per status.
type Stats struct {
	Total      int `json:"total"`
	Uploading  int `json:"uploading"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
}

// Stats returns per-status counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Total: len(s.arrival)}
	for _, d := range s.docs {
		switch d.Status {
		case model.DocumentStatusUploading:
			st.Uploading++
		case model.DocumentStatusProcessing:
			st.Processing++
		case model.DocumentStatusCompleted:
			st.Completed++
		case model.DocumentStatusError:
			st.Error++
		}
	}
	return st
}

// IDs returns all document ids in arrival order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.arrival)
}
