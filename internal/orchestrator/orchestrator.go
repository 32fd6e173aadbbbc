// Package orchestrator runs the per-document extraction pipeline: text
// extraction, then term extraction, then a single status change in the
// document store.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contract-cli/internal/blob"
	"github.com/sells-group/contract-cli/internal/config"
	"github.com/sells-group/contract-cli/internal/docstore"
	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/registry"
	"github.com/sells-group/contract-cli/internal/resilience"
	"github.com/sells-group/contract-cli/internal/termextract"
	"github.com/sells-group/contract-cli/internal/textextract"
)

// TextExtractor is the text-extraction collaborator.
type TextExtractor interface {
	textextract.Extractor
	Supports(mimeType string) bool
}

// Recorder persists completed documents.
type Recorder interface {
	SaveRecord(ctx context.Context, rec model.DurableRecord) error
}

// SuggestionSink receives new-column suggestions. Offer reports whether the
// suggestion was kept.
type SuggestionSink interface {
	Offer(s model.Suggestion) bool
}

// Deps are the collaborators of an Orchestrator. Blobs, Records and
// Suggestions are optional.
type Deps struct {
	OwnerID     string
	Registry    *registry.Registry
	Documents   *docstore.Store
	Text        TextExtractor
	Terms       termextract.Extractor
	Blobs       blob.Store
	Records     Recorder
	Suggestions SuggestionSink
}

// Outcome is the observable result of processing one file. Err is a
// validation error (nothing was stored) or the *model.CollaboratorError the
// document failed with.
type Outcome struct {
	DocumentID string
	FileName   string
	Status     model.DocumentStatus
	Err        error
	Terms      model.Terms
	Suggestion *model.Suggestion
}

// Orchestrator drives documents through extraction. It is safe for
// concurrent use.
type Orchestrator struct {
	deps        Deps
	textGuard   resilience.Guard
	termGuard   resilience.Guard
	concurrency int

	mu    sync.RWMutex
	texts map[string]string

	nowFunc func() time.Time
}

// New creates an Orchestrator with the configured deadline, retry policy and
// batch concurrency. Each collaborator gets its own circuit breaker.
func New(deps Deps, cfg config.ExtractionConfig) *Orchestrator {
	retry := resilience.RetryFromConfig(cfg)
	cbCfg := resilience.DefaultCircuitBreakerConfig()
	concurrency := cfg.MaxConcurrentDocuments
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Orchestrator{
		deps: deps,
		textGuard: resilience.Guard{
			Stage:   model.StageText,
			Timeout: cfg.Timeout(),
			Retry:   retry,
			Breaker: resilience.NewCircuitBreaker("text-extraction", model.StageText, cbCfg),
		},
		termGuard: resilience.Guard{
			Stage:   model.StageTerms,
			Timeout: cfg.Timeout(),
			Retry:   retry,
			Breaker: resilience.NewCircuitBreaker("term-extraction", model.StageTerms, cbCfg),
		},
		concurrency: concurrency,
		texts:       make(map[string]string),
		nowFunc:     time.Now,
	}
}

// ProcessBatch processes every file independently with bounded concurrency.
// Outcomes are returned in input order; one file's failure never affects
// another.
func (o *Orchestrator) ProcessBatch(ctx context.Context, files []model.FileInput) []Outcome {
	outcomes := make([]Outcome, len(files))
	if len(files) == 0 {
		return outcomes
	}

	zap.L().Info("orchestrator: processing batch",
		zap.Int("files", len(files)),
		zap.Int("concurrency", o.concurrency),
	)

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, f := range files {
		g.Go(func() error {
			outcomes[i] = o.ProcessDocument(ctx, f, nil)
			return nil
		})
	}
	_ = g.Wait()

	var completed, failed int
	for _, out := range outcomes {
		if out.Status == model.DocumentStatusCompleted {
			completed++
		} else {
			failed++
		}
	}
	zap.L().Info("orchestrator: batch complete",
		zap.Int("completed", completed),
		zap.Int("failed", failed),
	)
	return outcomes
}

// ProcessDocument runs the full pipeline for one file. existingColumnIDs is
// the column set known to the caller; nil means the registry's current ids.
// Collaborator failures never escape: they end in a document in error and
// are reported through Outcome.Err.
func (o *Orchestrator) ProcessDocument(ctx context.Context, file model.FileInput, existingColumnIDs []string) Outcome {
	out := Outcome{FileName: file.Name}

	if file.Name == "" {
		out.Err = eris.Wrap(model.ErrValidation, "orchestrator: file name is required")
		return out
	}
	mimeType := textextract.NormalizeMimeType(file.MimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = textextract.DetectMimeType(file.Name, file.Data)
	}
	if !o.deps.Text.Supports(mimeType) {
		out.Err = eris.Wrapf(model.ErrUnsupportedMimeType, "orchestrator: %s (%s)", file.Name, mimeType)
		zap.L().Warn("orchestrator: rejected upload", zap.String("file", file.Name), zap.String("mime_type", mimeType))
		return out
	}
	file.MimeType = mimeType

	id := uuid.NewString()
	out.DocumentID = id
	log := zap.L().With(zap.String("document_id", id), zap.String("file", file.Name))

	doc := model.Document{
		ID:          id,
		OwnerID:     o.deps.OwnerID,
		DisplayName: file.Name,
		MimeType:    mimeType,
		SizeBytes:   int64(len(file.Data)),
		UploadedAt:  o.nowFunc().UTC(),
		Status:      model.DocumentStatusUploading,
	}
	if err := o.deps.Documents.CreatePending(doc); err != nil {
		out.Err = err
		return out
	}
	out.Status = model.DocumentStatusUploading

	o.storeBlob(ctx, log, id, file)

	if err := o.deps.Documents.MarkProcessing(id); err != nil {
		return o.fail(log, out, model.NewCollaboratorError(model.StageText, model.KindTextExtractionFailed, err))
	}
	log.Info("orchestrator: document processing")

	text, err := o.extractText(ctx, id, file)
	if err != nil {
		return o.fail(log, out, asFailure(model.StageText, err))
	}
	o.cacheText(id, text)

	columns := o.deps.Registry.ListColumns()
	res, err := resilience.Call(ctx, o.guard(o.termGuard, id), func(ctx context.Context) (termextract.Result, error) {
		return o.deps.Terms.ExtractTerms(ctx, termextract.Request{
			DocumentID: id,
			FileName:   file.Name,
			Text:       text,
			Columns:    columns,
		})
	})
	if err != nil {
		return o.fail(log, out, asFailure(model.StageTerms, err))
	}

	if err := o.deps.Documents.RecordSuccess(id, res.Terms); err != nil {
		out.Err = err
		log.Error("orchestrator: record success failed", zap.Error(err))
		if d, ok := o.deps.Documents.Get(id); ok {
			out.Status = d.Status
		}
		return out
	}
	o.catchUp(ctx, log, id, file.Name, text, columns)

	stored, _ := o.deps.Documents.Get(id)
	out.Status = model.DocumentStatusCompleted
	out.Terms = stored.Terms
	log.Info("orchestrator: document completed", zap.Int("terms", len(stored.Terms)))

	o.persist(ctx, log, stored)

	if s, ok := o.firstNovel(res.Suggestions, existingColumnIDs); ok {
		s.OriginDocumentID = id
		s.OriginDocument = file.Name
		out.Suggestion = &s
		if o.deps.Suggestions != nil && !o.deps.Suggestions.Offer(s) {
			log.Info("orchestrator: suggestion not queued", zap.String("candidate_id", s.CandidateID))
		}
	}
	return out
}

// ExtractColumn runs single-column extraction for an already processed
// document. It is used by the backfill sweep.
func (o *Orchestrator) ExtractColumn(ctx context.Context, doc model.Document, column model.Column) (model.Term, error) {
	text, err := o.LoadText(ctx, doc)
	if err != nil {
		return model.Term{}, err
	}
	term, err := resilience.Call(ctx, o.guard(o.termGuard, doc.ID), func(ctx context.Context) (model.Term, error) {
		return o.deps.Terms.ExtractColumn(ctx, termextract.Request{
			DocumentID: doc.ID,
			FileName:   doc.DisplayName,
			Text:       text,
		}, column)
	})
	if err != nil {
		return model.Term{}, asFailure(model.StageTerms, err)
	}
	return term, nil
}

// LoadText returns the document's extracted text from the cache, or
// re-extracts it from the stored original file.
func (o *Orchestrator) LoadText(ctx context.Context, doc model.Document) (string, error) {
	o.mu.RLock()
	text, ok := o.texts[doc.ID]
	o.mu.RUnlock()
	if ok {
		return text, nil
	}

	if o.deps.Blobs == nil || doc.StoragePath == "" {
		return "", &model.CollaboratorError{
			Stage:  model.StageText,
			Kind:   model.KindTextExtractionFailed,
			Detail: "original file of " + doc.DisplayName + " is not available",
		}
	}
	data, err := o.deps.Blobs.Get(ctx, doc.StoragePath)
	if err != nil {
		return "", model.NewCollaboratorError(model.StageText, model.KindTextExtractionFailed, err)
	}

	text, err = o.extractText(ctx, doc.ID, model.FileInput{Name: doc.DisplayName, MimeType: doc.MimeType, Data: data})
	if err != nil {
		return "", asFailure(model.StageText, err)
	}
	o.cacheText(doc.ID, text)
	return text, nil
}

func (o *Orchestrator) extractText(ctx context.Context, id string, file model.FileInput) (string, error) {
	return resilience.Call(ctx, o.guard(o.textGuard, id), func(ctx context.Context) (string, error) {
		return o.deps.Text.ExtractText(ctx, file)
	})
}

func (o *Orchestrator) guard(g resilience.Guard, documentID string) resilience.Guard {
	g.Retry.OnRetry = resilience.RetryLogger(g.Stage, documentID)
	return g
}

func (o *Orchestrator) cacheText(id, text string) {
	o.mu.Lock()
	o.texts[id] = text
	o.mu.Unlock()
}

// storeBlob keeps the original file. Failure is logged; extraction does not
// depend on it.
func (o *Orchestrator) storeBlob(ctx context.Context, log *zap.Logger, id string, file model.FileInput) {
	if o.deps.Blobs == nil {
		return
	}
	key := blob.Key(o.deps.OwnerID, file.Name)
	if err := o.deps.Blobs.Put(ctx, key, file.MimeType, file.Data); err != nil {
		log.Warn("orchestrator: store original file failed", zap.Error(err))
		return
	}
	if err := o.deps.Documents.SetStoragePath(id, key); err != nil {
		log.Warn("orchestrator: set storage path failed", zap.Error(err))
	}
}

// catchUp extracts columns added to the registry while the document was in
// flight, since the backfill sweep only sees documents completed before it
// started.
func (o *Orchestrator) catchUp(ctx context.Context, log *zap.Logger, id, fileName, text string, requested []model.Column) {
	seen := make(map[string]bool, len(requested))
	for _, c := range requested {
		seen[c.ID] = true
	}
	for _, col := range o.deps.Registry.ListColumns() {
		if seen[col.ID] {
			continue
		}
		term, err := resilience.Call(ctx, o.guard(o.termGuard, id), func(ctx context.Context) (model.Term, error) {
			return o.deps.Terms.ExtractColumn(ctx, termextract.Request{DocumentID: id, FileName: fileName, Text: text}, col)
		})
		if err != nil {
			log.Warn("orchestrator: late column extraction failed", zap.String("column_id", col.ID), zap.Error(err))
			continue
		}
		if err := o.deps.Documents.MergeTerm(id, col.ID, term); err != nil {
			log.Warn("orchestrator: merge late column failed", zap.String("column_id", col.ID), zap.Error(err))
		}
	}
}

func (o *Orchestrator) persist(ctx context.Context, log *zap.Logger, doc model.Document) {
	if o.deps.Records == nil {
		return
	}
	if err := o.deps.Records.SaveRecord(ctx, model.RecordOf(doc, o.nowFunc().UTC())); err != nil {
		log.Error("orchestrator: persist record failed", zap.Error(err))
	}
}

// firstNovel returns the first suggestion whose candidate id is neither in
// known nor in the registry.
func (o *Orchestrator) firstNovel(suggestions []model.Suggestion, known []string) (model.Suggestion, bool) {
	if known == nil {
		known = o.deps.Registry.IDs()
	}
	skip := make(map[string]bool, len(known))
	for _, id := range known {
		skip[id] = true
	}
	for _, s := range suggestions {
		if s.CandidateID == "" || skip[s.CandidateID] || o.deps.Registry.Has(s.CandidateID) {
			continue
		}
		return s, true
	}
	return model.Suggestion{}, false
}

// fail moves the document to error. The failure is recorded even if the
// caller's context is already cancelled.
func (o *Orchestrator) fail(log *zap.Logger, out Outcome, ce *model.CollaboratorError) Outcome {
	out.Err = ce
	out.Status = model.DocumentStatusError
	if err := o.deps.Documents.RecordFailure(out.DocumentID, ce.Error()); err != nil {
		log.Error("orchestrator: record failure failed", zap.Error(err))
		if d, ok := o.deps.Documents.Get(out.DocumentID); ok {
			out.Status = d.Status
		}
		return out
	}
	log.Warn("orchestrator: document failed",
		zap.String("stage", string(ce.Stage)),
		zap.String("kind", string(ce.Kind)),
		zap.String("detail", ce.Detail),
	)
	return out
}

// asFailure normalizes any pipeline error into a CollaboratorError for the
// given stage.
func asFailure(stage model.CollaboratorStage, err error) *model.CollaboratorError {
	if ce, ok := model.AsCollaborator(err); ok {
		return ce
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewCollaboratorError(stage, model.KindTimeout, err)
	case stage == model.StageText:
		return model.NewCollaboratorError(stage, model.KindTextExtractionFailed, err)
	default:
		return model.NewCollaboratorError(stage, model.KindTermExtractionFailed, err)
	}
}
