package evolution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/contract-cli/internal/config"
	"github.com/sells-group/contract-cli/internal/docstore"
	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	block chan struct{}
}

func (f *fakeExtractor) ExtractColumn(ctx context.Context, doc model.Document, col model.Column) (model.Term, error) {
	f.mu.Lock()
	f.calls = append(f.calls, doc.ID)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return model.Term{}, ctx.Err()
		}
	}
	if err := f.fail[doc.ID]; err != nil {
		return model.Term{}, err
	}
	return model.Term{Value: model.StringPtr(col.ID + "@" + doc.ID), Excerpt: model.StringPtr("excerpt")}, nil
}

func (f *fakeExtractor) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakePersister struct {
	mu      sync.Mutex
	columns []model.Column
	terms   map[string]model.Terms
}

func (f *fakePersister) SaveColumn(_ context.Context, col model.Column) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.columns = append(f.columns, col)
	return nil
}

func (f *fakePersister) UpdateExtractedTerms(_ context.Context, id string, terms model.Terms) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terms == nil {
		f.terms = map[string]model.Terms{}
	}
	f.terms[id] = terms
	return nil
}

type fixture struct {
	coord   *Coordinator
	reg     *registry.Registry
	docs    *docstore.Store
	ext     *fakeExtractor
	persist *fakePersister
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	f := &fixture{
		reg:     registry.New(model.Column{ID: "salary", Label: "Salary", Visible: true}),
		docs:    docstore.New(),
		ext:     &fakeExtractor{fail: map[string]error{}},
		persist: &fakePersister{},
	}
	f.coord = New(f.reg, f.docs, f.ext, f.persist, config.EvolutionConfig{
		SuggestionQueueCapacity: capacity,
		BackfillConcurrency:     2,
	})
	return f
}

func (f *fixture) addDoc(t *testing.T, id string, status model.DocumentStatus) {
	t.Helper()
	require.NoError(t, f.docs.CreatePending(model.Document{ID: id, DisplayName: id + ".pdf"}))
	switch status {
	case model.DocumentStatusCompleted:
		require.NoError(t, f.docs.RecordSuccess(id, model.Terms{"salary": {Value: model.StringPtr("$" + id)}}))
	case model.DocumentStatusError:
		require.NoError(t, f.docs.RecordFailure(id, "rate_limited"))
	}
}

func suggestion(id string) model.Suggestion {
	return model.Suggestion{CandidateID: id, Label: "Label " + id, Description: "desc " + id, OriginDocumentID: "d1", SampleValue: "x"}
}

func TestOffer_SingleSlotDropsExtra(t *testing.T) {
	f := newFixture(t, 1)

	assert.True(t, f.coord.Offer(suggestion("bonus")))
	assert.False(t, f.coord.Offer(suggestion("equity")))

	s, state := f.coord.Pending()
	assert.Equal(t, StateSuggested, state)
	assert.Equal(t, "bonus", s.CandidateID)
	assert.Empty(t, f.coord.Queued())
}

func TestOffer_QueueCapacity(t *testing.T) {
	f := newFixture(t, 3)

	assert.True(t, f.coord.Offer(suggestion("a")))
	assert.True(t, f.coord.Offer(suggestion("b")))
	assert.False(t, f.coord.Offer(suggestion("b")), "duplicate")
	assert.False(t, f.coord.Offer(suggestion("a")), "duplicate of current")
	assert.True(t, f.coord.Offer(suggestion("c")))
	assert.False(t, f.coord.Offer(suggestion("d")), "full")

	require.NoError(t, f.coord.Dismiss())
	s, state := f.coord.Pending()
	assert.Equal(t, StateSuggested, state)
	assert.Equal(t, "b", s.CandidateID)
	assert.Len(t, f.coord.Queued(), 1)
}

func TestOffer_KnownColumnIgnored(t *testing.T) {
	f := newFixture(t, 1)
	assert.False(t, f.coord.Offer(suggestion("salary")))
	assert.False(t, f.coord.Offer(model.Suggestion{}))
	assert.Equal(t, StateIdle, f.coord.State())
}

func TestDismiss(t *testing.T) {
	f := newFixture(t, 1)
	f.addDoc(t, "d1", model.DocumentStatusCompleted)
	require.True(t, f.coord.Offer(suggestion("bonus")))
	regVersion := f.reg.Version()
	docVersion := f.docs.Version()

	require.NoError(t, f.coord.Dismiss())

	assert.Equal(t, StateIdle, f.coord.State())
	assert.Equal(t, regVersion, f.reg.Version())
	assert.Equal(t, docVersion, f.docs.Version())
	assert.Empty(t, f.ext.called())

	assert.True(t, errors.Is(f.coord.Dismiss(), model.ErrSuggestionAlreadyResolved))
	_, err := f.coord.Accept(context.Background())
	assert.True(t, errors.Is(err, model.ErrSuggestionAlreadyResolved))
	assert.False(t, f.reg.Has("bonus"))

	_, state := f.coord.Pending()
	assert.Equal(t, StateIdle, state)
	assert.True(t, errors.Is(f.coord.Dismiss(), model.ErrNoPendingSuggestion))
	assert.True(t, f.coord.Offer(suggestion("bonus")), "a dismissed candidate can be suggested again")
	require.NoError(t, f.coord.DismissCandidate("bonus"))
}

func TestAccept_BackfillsOnlyCompletedDocuments(t *testing.T) {
	f := newFixture(t, 1)
	f.addDoc(t, "d1", model.DocumentStatusCompleted)
	f.addDoc(t, "d2", model.DocumentStatusError)
	f.addDoc(t, "d3", model.DocumentStatusCompleted)
	f.addDoc(t, "d4", model.DocumentStatusProcessing)
	require.True(t, f.coord.Offer(suggestion("bonus")))

	report, err := f.coord.Accept(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "bonus", report.Column.ID)
	assert.Equal(t, "Label bonus", report.Column.Label)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 2, report.Succeeded)
	assert.Empty(t, report.Failures)
	assert.ElementsMatch(t, []string{"d1", "d3"}, f.ext.called())

	col, ok := f.reg.Get("bonus")
	require.True(t, ok)
	assert.True(t, col.Visible)
	assert.Equal(t, "desc bonus", col.DescriptionText())

	d1, _ := f.docs.Get("d1")
	assert.Equal(t, model.DocumentStatusCompleted, d1.Status)
	assert.Equal(t, "bonus@d1", d1.Terms["bonus"].ValueString())
	assert.Equal(t, "$d1", d1.Terms["salary"].ValueString(), "other terms untouched")

	d4, _ := f.docs.Get("d4")
	assert.NotContains(t, d4.Terms, "bonus")

	assert.Equal(t, StateIdle, f.coord.State())
	require.Len(t, f.persist.columns, 1)
	assert.Equal(t, "bonus@d3", f.persist.terms["d3"]["bonus"].ValueString())
}

func TestAccept_PartialFailureKeepsColumn(t *testing.T) {
	f := newFixture(t, 1)
	f.addDoc(t, "d1", model.DocumentStatusCompleted)
	f.addDoc(t, "d2", model.DocumentStatusCompleted)
	f.ext.fail["d2"] = &model.CollaboratorError{Stage: model.StageTerms, Kind: model.KindRateLimited, Detail: "slow down"}
	require.True(t, f.coord.Offer(suggestion("bonus")))

	report, err := f.coord.Accept(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "d2", report.Failures[0].DocumentID)
	assert.Equal(t, "d2.pdf", report.Failures[0].DocumentName)
	assert.Contains(t, report.Failures[0].Error, "rate_limited")

	assert.True(t, f.reg.Has("bonus"))
	d2, _ := f.docs.Get("d2")
	assert.NotContains(t, d2.Terms, "bonus")
	assert.Equal(t, model.DocumentStatusCompleted, d2.Status)
}

func TestAccept_DuplicateColumn(t *testing.T) {
	f := newFixture(t, 1)
	require.True(t, f.coord.Offer(suggestion("bonus")))
	_, err := f.reg.AddColumn(model.ColumnDef{ID: "bonus"})
	require.NoError(t, err)

	_, err = f.coord.Accept(context.Background())
	assert.True(t, errors.Is(err, model.ErrDuplicateColumnID))
	assert.Equal(t, StateIdle, f.coord.State())
}

func TestAccept_NoPending(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.coord.Accept(context.Background())
	assert.True(t, errors.Is(err, model.ErrNoPendingSuggestion))
}

func TestAccept_PromotesNextAndSkipsKnown(t *testing.T) {
	f := newFixture(t, 3)
	require.True(t, f.coord.Offer(suggestion("bonus")))
	require.True(t, f.coord.Offer(suggestion("equity")))
	require.True(t, f.coord.Offer(suggestion("relocation")))
	_, err := f.reg.AddColumn(model.ColumnDef{ID: "equity"})
	require.NoError(t, err)

	_, err = f.coord.Accept(context.Background())
	require.NoError(t, err)

	s, state := f.coord.Pending()
	assert.Equal(t, StateSuggested, state)
	assert.Equal(t, "relocation", s.CandidateID)

	_, err = f.coord.Accept(context.Background())
	require.NoError(t, err, "accepting after observing the promoted suggestion")
	assert.True(t, f.reg.Has("relocation"))
}

func TestRepeatedSubmitDoesNotResolvePromotedSuggestion(t *testing.T) {
	f := newFixture(t, 2)
	require.True(t, f.coord.Offer(suggestion("bonus")))
	require.True(t, f.coord.Offer(suggestion("equity")))

	require.NoError(t, f.coord.Dismiss())
	_, err := f.coord.Accept(context.Background())
	assert.True(t, errors.Is(err, model.ErrSuggestionAlreadyResolved))
	assert.True(t, errors.Is(f.coord.Dismiss(), model.ErrSuggestionAlreadyResolved))
	assert.False(t, f.reg.Has("equity"))

	s, state := f.coord.Pending()
	assert.Equal(t, StateSuggested, state)
	assert.Equal(t, "equity", s.CandidateID)
	assert.Empty(t, f.ext.called())
}

func TestRepeatedSubmitDoesNotResolveFreshOffer(t *testing.T) {
	f := newFixture(t, 1)
	require.True(t, f.coord.Offer(suggestion("bonus")))
	_, err := f.coord.Accept(context.Background())
	require.NoError(t, err)

	require.True(t, f.coord.Offer(suggestion("equity")))
	_, err = f.coord.Accept(context.Background())
	assert.True(t, errors.Is(err, model.ErrSuggestionAlreadyResolved))
	assert.False(t, f.reg.Has("equity"))

	_, err = f.coord.AcceptCandidate(context.Background(), "equity")
	require.NoError(t, err, "a pinned claim names what the caller saw")
	assert.True(t, f.reg.Has("equity"))
}

func TestAcceptCandidate_StaleID(t *testing.T) {
	f := newFixture(t, 2)
	require.True(t, f.coord.Offer(suggestion("bonus")))
	require.True(t, f.coord.Offer(suggestion("equity")))
	require.NoError(t, f.coord.DismissCandidate("bonus"))

	_, err := f.coord.AcceptCandidate(context.Background(), "bonus")
	assert.True(t, errors.Is(err, model.ErrSuggestionAlreadyResolved))
	assert.False(t, f.reg.Has("bonus"))

	_, err = f.coord.AcceptCandidate(context.Background(), "equity")
	require.NoError(t, err)
	assert.True(t, f.reg.Has("equity"))
}

func TestAcceptDismissRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, 1)
		f.addDoc(t, "d1", model.DocumentStatusCompleted)
		require.True(t, f.coord.Offer(suggestion("bonus")))

		var acceptErr, dismissErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = f.coord.AcceptCandidate(context.Background(), "bonus")
		}()
		go func() {
			defer wg.Done()
			dismissErr = f.coord.DismissCandidate("bonus")
		}()
		wg.Wait()

		if acceptErr == nil {
			require.Error(t, dismissErr)
			assert.ErrorIs(t, dismissErr, model.ErrSuggestionAlreadyResolved)
			assert.True(t, f.reg.Has("bonus"))
		} else {
			require.NoError(t, dismissErr)
			assert.ErrorIs(t, acceptErr, model.ErrSuggestionAlreadyResolved)
			assert.False(t, f.reg.Has("bonus"))
		}
		assert.Equal(t, StateIdle, f.coord.State())
	}
}

func TestAcceptDismissRace_Unpinned(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, 1)
		require.True(t, f.coord.Offer(suggestion("bonus")))

		var acceptErr, dismissErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = f.coord.Accept(context.Background())
		}()
		go func() {
			defer wg.Done()
			dismissErr = f.coord.Dismiss()
		}()
		wg.Wait()

		if acceptErr == nil {
			assert.ErrorIs(t, dismissErr, model.ErrSuggestionAlreadyResolved)
		} else {
			require.NoError(t, dismissErr)
			assert.ErrorIs(t, acceptErr, model.ErrSuggestionAlreadyResolved)
		}
	}
}

func TestAccept_DismissWhileAccepting(t *testing.T) {
	f := newFixture(t, 1)
	f.addDoc(t, "d1", model.DocumentStatusCompleted)
	f.ext.block = make(chan struct{})
	require.True(t, f.coord.Offer(suggestion("bonus")))

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Accept(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return len(f.ext.called()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateAccepting, f.coord.State())
	assert.True(t, errors.Is(f.coord.Dismiss(), model.ErrSuggestionAlreadyResolved))
	_, err := f.coord.Accept(context.Background())
	assert.True(t, errors.Is(err, model.ErrSuggestionAlreadyResolved))

	close(f.ext.block)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, f.coord.State())
}

func TestBackfills_RecordsFinishedSweeps(t *testing.T) {
	f := newFixture(t, 1)
	f.addDoc(t, "d1", model.DocumentStatusCompleted)
	f.addDoc(t, "d2", model.DocumentStatusCompleted)
	f.ext.fail["d2"] = errors.New("boom")
	start := time.Now().UTC().Add(-time.Second)

	assert.Empty(t, f.coord.Backfills(start))
	require.True(t, f.coord.Offer(suggestion("bonus")))
	_, err := f.coord.Accept(context.Background())
	require.NoError(t, err)

	got := f.coord.Backfills(start)
	require.Len(t, got, 1)
	assert.Equal(t, "bonus", got[0].ColumnID)
	assert.Equal(t, 2, got[0].Attempted)
	assert.Equal(t, 1, got[0].Failed)
	assert.Empty(t, f.coord.Backfills(time.Now().UTC().Add(time.Hour)))
}

func TestAccept_SnapshotExcludesLateCompletions(t *testing.T) {
	f := newFixture(t, 1)
	f.addDoc(t, "d1", model.DocumentStatusCompleted)
	f.addDoc(t, "late", model.DocumentStatusProcessing)
	f.ext.block = make(chan struct{})
	require.True(t, f.coord.Offer(suggestion("bonus")))

	done := make(chan BackfillReport, 1)
	go func() {
		r, _ := f.coord.Accept(context.Background())
		done <- r
	}()
	require.Eventually(t, func() bool { return len(f.ext.called()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.docs.RecordSuccess("late", model.Terms{}))
	close(f.ext.block)

	report := <-done
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, []string{"d1"}, f.ext.called())
}

func TestAccept_BoundedConcurrency(t *testing.T) {
	f := newFixture(t, 1)
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		f.addDoc(t, id, model.DocumentStatusCompleted)
	}
	var inFlight, peak atomic.Int32
	f.coord.extractor = extractorFunc(func(context.Context, model.Document, model.Column) (model.Term, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return model.Term{}, nil
	})
	require.True(t, f.coord.Offer(suggestion("bonus")))

	report, err := f.coord.Accept(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAccept_CancelledContextReportsFailures(t *testing.T) {
	f := newFixture(t, 1)
	f.addDoc(t, "d1", model.DocumentStatusCompleted)
	require.True(t, f.coord.Offer(suggestion("bonus")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.coord.Accept(ctx)
	require.NoError(t, err)
	assert.True(t, f.reg.Has("bonus"))
	assert.Len(t, report.Failures, 1)
	assert.Equal(t, StateIdle, f.coord.State())
}

func TestState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "suggested", StateSuggested.String())
	assert.Equal(t, "accepting", StateAccepting.String())
	assert.Equal(t, "unknown", State(7).String())
	b, err := StateAccepting.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "accepting", string(b))
}

type extractorFunc func(context.Context, model.Document, model.Column) (model.Term, error)

func (f extractorFunc) ExtractColumn(ctx context.Context, doc model.Document, col model.Column) (model.Term, error) {
	return f(ctx, doc, col)
}
