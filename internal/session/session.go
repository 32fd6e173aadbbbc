// Package session wires one owner's schema, documents, extraction pipeline,
// suggestion coordinator and table view into a single explicit object.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/contract-cli/internal/blob"
	"github.com/sells-group/contract-cli/internal/config"
	"github.com/sells-group/contract-cli/internal/docstore"
	"github.com/sells-group/contract-cli/internal/evolution"
	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/orchestrator"
	"github.com/sells-group/contract-cli/internal/registry"
	"github.com/sells-group/contract-cli/internal/store"
	"github.com/sells-group/contract-cli/internal/termextract"
	"github.com/sells-group/contract-cli/internal/view"
)

// Collaborators are the process-wide services shared by every session.
// Blobs and Store are optional.
type Collaborators struct {
	Text  orchestrator.TextExtractor
	Terms termextract.Extractor
	Blobs blob.Store
	Store store.Store
}

// Session holds all mutable state of one owner. Every exported field is safe
// for concurrent use.
type Session struct {
	OwnerID      string
	Registry     *registry.Registry
	Documents    *docstore.Store
	Orchestrator *orchestrator.Orchestrator
	Evolution    *evolution.Coordinator
	View         *view.Engine

	persist *store.Owner
}

// New builds an empty session seeded with the configured column set. Call
// Rehydrate to load persisted state.
func New(cfg *config.Config, ownerID string, c Collaborators) (*Session, error) {
	if ownerID == "" {
		return nil, eris.Wrap(model.ErrValidation, "session: owner id is required")
	}
	seed, err := registry.SeedColumns(cfg.Schema.SeedFile)
	if err != nil {
		return nil, eris.Wrap(err, "session: seed columns")
	}

	s := &Session{
		OwnerID:   ownerID,
		Registry:  registry.New(seed...),
		Documents: docstore.New(),
	}

	deps := orchestrator.Deps{
		OwnerID:     ownerID,
		Registry:    s.Registry,
		Documents:   s.Documents,
		Text:        c.Text,
		Terms:       c.Terms,
		Blobs:       c.Blobs,
		Suggestions: s,
	}
	var persister evolution.Persister
	if c.Store != nil {
		s.persist = store.ForOwner(c.Store, ownerID)
		deps.Records = s.persist
		persister = s.persist
	}

	s.Orchestrator = orchestrator.New(deps, cfg.Extraction)
	s.Evolution = evolution.New(s.Registry, s.Documents, s.Orchestrator, persister, cfg.Evolution)
	s.View = view.New(s.Registry, s.Documents, language.English)
	return s, nil
}

// Offer forwards a suggestion from the pipeline to the coordinator.
func (s *Session) Offer(sug model.Suggestion) bool {
	return s.Evolution.Offer(sug)
}

// Rehydrate loads persisted columns, then persisted records. Persisted
// columns override the visibility and order of seeded ones.
func (s *Session) Rehydrate(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	log := zap.L().With(zap.String("owner_id", s.OwnerID))

	cols, err := s.persist.ListColumns(ctx)
	if err != nil {
		return eris.Wrap(err, "session: load columns")
	}
	s.Registry.Restore(cols)

	recs, err := s.persist.ListRecords(ctx)
	if err != nil {
		return eris.Wrap(err, "session: load records")
	}
	if err := s.Documents.Rehydrate(recs); err != nil {
		return eris.Wrap(err, "session: rehydrate documents")
	}

	log.Info("session: rehydrated",
		zap.Int("columns", s.Registry.Len()),
		zap.Int("documents", s.Documents.Len()),
	)
	return nil
}

// Upload processes a batch of files through the extraction pipeline.
func (s *Session) Upload(ctx context.Context, files []model.FileInput) []orchestrator.Outcome {
	return s.Orchestrator.ProcessBatch(ctx, files)
}

// SetColumnVisibility shows or hides a column and persists the result.
func (s *Session) SetColumnVisibility(ctx context.Context, id string, visible bool) (model.Column, error) {
	if err := s.Registry.SetVisibility(id, visible); err != nil {
		return model.Column{}, err
	}
	return s.saveColumn(ctx, id)
}

// SetColumnOrder moves a column and persists the result.
func (s *Session) SetColumnOrder(ctx context.Context, id string, order int) (model.Column, error) {
	if err := s.Registry.SetOrder(id, order); err != nil {
		return model.Column{}, err
	}
	return s.saveColumn(ctx, id)
}

func (s *Session) saveColumn(ctx context.Context, id string) (model.Column, error) {
	col, ok := s.Registry.Get(id)
	if !ok {
		return model.Column{}, eris.Wrapf(model.ErrUnknownColumn, "session: %s", id)
	}
	if s.persist != nil {
		if err := s.persist.SaveColumn(ctx, col); err != nil {
			return col, eris.Wrapf(err, "session: persist column %s", id)
		}
	}
	return col, nil
}

// Stats returns per-status document counts.
func (s *Session) Stats() docstore.Stats {
	return s.Documents.Stats()
}

// Activity is the health-relevant state of one session over a window.
type Activity struct {
	OwnerID            string
	Documents          []model.Document
	Backfills          []evolution.BackfillSummary
	PendingSuggestions int
}

// Activity summarizes the documents uploaded and backfills finished at or
// after since, plus the suggestions currently waiting.
func (s *Session) Activity(since time.Time) Activity {
	var docs []model.Document
	for _, d := range s.Documents.List() {
		if !d.UploadedAt.Before(since) {
			docs = append(docs, d)
		}
	}
	pending := len(s.Evolution.Queued())
	if s.Evolution.State() != evolution.StateIdle {
		pending++
	}
	return Activity{
		OwnerID:            s.OwnerID,
		Documents:          docs,
		Backfills:          s.Evolution.Backfills(since),
		PendingSuggestions: pending,
	}
}

// IsNotFound reports whether err refers to a missing document, column or
// record.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrUnknownDocument) ||
		errors.Is(err, model.ErrUnknownColumn) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, view.ErrNoExcerpt)
}
