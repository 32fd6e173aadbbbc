// Package evolution governs suggested new columns: the bounded suggestion
// queue, accept and dismiss, and the backfill sweep that fills an accepted
// column for documents completed before it existed.
package evolution

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contract-cli/internal/config"
	"github.com/sells-group/contract-cli/internal/docstore"
	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/registry"
)

// State is the coordinator state.
type State int

const (
	StateIdle State = iota
	StateSuggested
	StateAccepting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSuggested:
		return "suggested"
	case StateAccepting:
		return "accepting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ColumnExtractor extracts one column for an already processed document.
type ColumnExtractor interface {
	ExtractColumn(ctx context.Context, doc model.Document, column model.Column) (model.Term, error)
}

// Persister saves accepted columns and backfilled terms. Optional.
type Persister interface {
	SaveColumn(ctx context.Context, col model.Column) error
	UpdateExtractedTerms(ctx context.Context, documentID string, terms model.Terms) error
}

// BackfillFailure is one document whose backfill failed.
type BackfillFailure struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	Error        string `json:"error"`
}

// BackfillReport summarizes an accepted suggestion.
type BackfillReport struct {
	Column    model.Column      `json:"column"`
	Attempted int               `json:"attempted"`
	Succeeded int               `json:"succeeded"`
	Failures  []BackfillFailure `json:"failures,omitempty"`
	Duration  time.Duration     `json:"duration_ns"`
}

// BackfillSummary records one finished backfill for health reporting.
type BackfillSummary struct {
	ColumnID   string    `json:"column_id"`
	Attempted  int       `json:"attempted"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

const maxBackfillHistory = 100

// Coordinator holds at most capacity suggestions: the current one plus a
// waiting queue. Only the current suggestion can be accepted or dismissed.
//
// A resolution is only valid once. After an accept or dismiss, an unpinned
// claim fails with ErrSuggestionAlreadyResolved until Pending is called
// again, so a repeated submission never resolves a suggestion its caller
// did not see.
type Coordinator struct {
	reg         *registry.Registry
	docs        *docstore.Store
	extractor   ColumnExtractor
	persist     Persister
	capacity    int
	concurrency int

	mu      sync.Mutex
	state   State
	current *model.Suggestion
	queue   []model.Suggestion

	resolved   map[string]struct{}
	unobserved bool
	history    []BackfillSummary
}

// New creates an idle Coordinator. persist may be nil.
func New(reg *registry.Registry, docs *docstore.Store, extractor ColumnExtractor, persist Persister, cfg config.EvolutionConfig) *Coordinator {
	capacity := cfg.SuggestionQueueCapacity
	if capacity <= 0 {
		capacity = 1
	}
	concurrency := cfg.BackfillConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Coordinator{
		reg:         reg,
		docs:        docs,
		extractor:   extractor,
		persist:     persist,
		capacity:    capacity,
		concurrency: concurrency,
		resolved:    make(map[string]struct{}),
	}
}

// Offer submits a suggestion. It reports false when the suggestion was
// dropped: its column already exists, the same candidate is already held, or
// the queue is full.
func (c *Coordinator) Offer(s model.Suggestion) bool {
	log := zap.L().With(zap.String("candidate_id", s.CandidateID))
	if s.CandidateID == "" || c.reg.Has(s.CandidateID) {
		log.Debug("evolution: ignoring suggestion for known column")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holdsLocked(s.CandidateID) {
		log.Debug("evolution: duplicate suggestion")
		return false
	}
	if c.current == nil {
		c.current = &s
		c.state = StateSuggested
		log.Info("evolution: suggestion pending", zap.String("origin_document_id", s.OriginDocumentID))
		return true
	}
	if 1+len(c.queue) >= c.capacity {
		log.Warn("evolution: suggestion queue full, dropping suggestion", zap.Int("capacity", c.capacity))
		return false
	}
	c.queue = append(c.queue, s)
	log.Info("evolution: suggestion queued", zap.Int("waiting", len(c.queue)))
	return true
}

// Pending returns the current suggestion and state. The suggestion is zero
// when the coordinator is idle. Calling Pending re-arms unpinned Accept and
// Dismiss after a resolution.
func (c *Coordinator) Pending() (model.Suggestion, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unobserved = false
	if c.current == nil {
		return model.Suggestion{}, c.state
	}
	return *c.current, c.state
}

// Queued returns the suggestions waiting behind the current one.
func (c *Coordinator) Queued() []model.Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.queue)
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dismiss discards the current suggestion.
func (c *Coordinator) Dismiss() error {
	return c.DismissCandidate("")
}

// DismissCandidate discards the current suggestion if its candidate id is
// candidateID. An empty candidateID matches any current suggestion.
func (c *Coordinator) DismissCandidate(candidateID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.claimLocked(candidateID)
	if err != nil {
		return err
	}
	zap.L().Info("evolution: suggestion dismissed", zap.String("candidate_id", s.CandidateID))
	c.resolveLocked(s)
	return nil
}

// Accept commits the current suggestion as a column and backfills it.
func (c *Coordinator) Accept(ctx context.Context) (BackfillReport, error) {
	return c.AcceptCandidate(ctx, "")
}

// AcceptCandidate adds the suggested column to the registry, then extracts
// that column for every document completed at entry. Per-document failures
// are reported, never returned, and never undo the column. The column
// addition itself failing ends the suggestion with that error.
func (c *Coordinator) AcceptCandidate(ctx context.Context, candidateID string) (BackfillReport, error) {
	c.mu.Lock()
	s, err := c.claimLocked(candidateID)
	if err != nil {
		c.mu.Unlock()
		return BackfillReport{}, err
	}
	c.state = StateAccepting
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.resolveLocked(s)
		c.mu.Unlock()
	}()

	log := zap.L().With(zap.String("candidate_id", s.CandidateID))
	col, err := c.reg.AddColumn(s.ColumnDef())
	if err != nil {
		log.Warn("evolution: add column failed", zap.Error(err))
		return BackfillReport{}, eris.Wrap(err, "evolution: accept suggestion")
	}
	log.Info("evolution: suggestion accepted", zap.String("column_id", col.ID))

	if c.persist != nil {
		if err := c.persist.SaveColumn(ctx, col); err != nil {
			log.Error("evolution: persist column failed", zap.Error(err))
		}
	}

	report := c.backfill(ctx, col)
	c.recordBackfill(report)
	return report, nil
}

func (c *Coordinator) recordBackfill(report BackfillReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, BackfillSummary{
		ColumnID:   report.Column.ID,
		Attempted:  report.Attempted,
		Failed:     len(report.Failures),
		FinishedAt: time.Now().UTC(),
	})
	if n := len(c.history); n > maxBackfillHistory {
		c.history = slices.Clone(c.history[n-maxBackfillHistory:])
	}
}

// Backfills returns the backfills that finished at or after since, oldest
// first. Only the most recent ones are kept.
func (c *Coordinator) Backfills(since time.Time) []BackfillSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []BackfillSummary
	for _, b := range c.history {
		if !b.FinishedAt.Before(since) {
			out = append(out, b)
		}
	}
	return out
}

// backfill snapshots the completed documents once and extracts col for each
// with bounded concurrency. Only the new column's entry is written.
func (c *Coordinator) backfill(ctx context.Context, col model.Column) BackfillReport {
	start := time.Now()
	docs := c.docs.Completed()
	report := BackfillReport{Column: col, Attempted: len(docs)}

	zap.L().Info("evolution: backfill started",
		zap.String("column_id", col.ID),
		zap.Int("documents", len(docs)),
		zap.Int("concurrency", c.concurrency),
	)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, doc := range docs {
		g.Go(func() error {
			err := c.backfillOne(ctx, doc, col)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Warn("evolution: backfill failed",
					zap.String("document_id", doc.ID),
					zap.String("column_id", col.ID),
					zap.Error(err),
				)
				report.Failures = append(report.Failures, BackfillFailure{
					DocumentID:   doc.ID,
					DocumentName: doc.DisplayName,
					Error:        err.Error(),
				})
				return nil
			}
			report.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(report.Failures, func(a, b BackfillFailure) int {
		switch {
		case a.DocumentID < b.DocumentID:
			return -1
		case a.DocumentID > b.DocumentID:
			return 1
		}
		return 0
	})
	report.Duration = time.Since(start)

	zap.L().Info("evolution: backfill complete",
		zap.String("column_id", col.ID),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", len(report.Failures)),
		zap.Duration("duration", report.Duration),
	)
	return report
}

func (c *Coordinator) backfillOne(ctx context.Context, doc model.Document, col model.Column) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "evolution: backfill cancelled")
	}
	term, err := c.extractor.ExtractColumn(ctx, doc, col)
	if err != nil {
		return err
	}
	if err := c.docs.MergeTerm(doc.ID, col.ID, term); err != nil {
		return err
	}
	if c.persist == nil {
		return nil
	}
	stored, ok := c.docs.Get(doc.ID)
	if !ok {
		return nil
	}
	if err := c.persist.UpdateExtractedTerms(ctx, doc.ID, stored.Terms); err != nil {
		zap.L().Error("evolution: persist backfilled terms failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
	return nil
}

// claimLocked takes the current suggestion out of Suggested. Only the first
// caller to observe Suggested succeeds. A pinned claim matches by candidate
// id; an unpinned one is refused while a resolution has not been observed.
func (c *Coordinator) claimLocked(candidateID string) (model.Suggestion, error) {
	if c.state == StateAccepting {
		return model.Suggestion{}, eris.Wrapf(model.ErrSuggestionAlreadyResolved, "evolution: %s is being accepted", c.current.CandidateID)
	}

	if candidateID != "" {
		if c.state == StateSuggested && c.current.CandidateID == candidateID {
			return *c.current, nil
		}
		if _, ok := c.resolved[candidateID]; ok || c.state == StateSuggested {
			return model.Suggestion{}, eris.Wrapf(model.ErrSuggestionAlreadyResolved, "evolution: %s", candidateID)
		}
		return model.Suggestion{}, model.ErrNoPendingSuggestion
	}

	if c.unobserved {
		return model.Suggestion{}, eris.Wrap(model.ErrSuggestionAlreadyResolved, "evolution: suggestion changed since last seen")
	}
	if c.state == StateIdle {
		return model.Suggestion{}, model.ErrNoPendingSuggestion
	}
	return *c.current, nil
}

// resolveLocked records s as resolved and advances the queue.
func (c *Coordinator) resolveLocked(s model.Suggestion) {
	c.resolved[s.CandidateID] = struct{}{}
	c.unobserved = true
	c.advanceLocked()
}

// advanceLocked clears the current suggestion and promotes the next waiting
// one whose column still does not exist.
func (c *Coordinator) advanceLocked() {
	c.current = nil
	c.state = StateIdle
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		if c.reg.Has(next.CandidateID) {
			continue
		}
		c.current = &next
		c.state = StateSuggested
		zap.L().Info("evolution: suggestion pending", zap.String("candidate_id", next.CandidateID))
		return
	}
}

func (c *Coordinator) holdsLocked(candidateID string) bool {
	if c.current != nil && c.current.CandidateID == candidateID {
		return true
	}
	return slices.ContainsFunc(c.queue, func(s model.Suggestion) bool {
		return s.CandidateID == candidateID
	})
}
