package orchestrator

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/termextract"
)

type mockTerms struct {
	mock.Mock
}

func (m *mockTerms) ExtractTerms(ctx context.Context, req termextract.Request) (termextract.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(termextract.Result), args.Error(1)
}

func (m *mockTerms) ExtractColumn(ctx context.Context, req termextract.Request, column model.Column) (model.Term, error) {
	args := m.Called(ctx, req, column)
	return args.Get(0).(model.Term), args.Error(1)
}

// fakeText extracts the file body as text unless fn overrides it.
type fakeText struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, file model.FileInput) (string, error)
}

func (f *fakeText) Supports(mimeType string) bool {
	return mimeType == "text/plain" || mimeType == "application/pdf"
}

func (f *fakeText) ExtractText(ctx context.Context, file model.FileInput) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, file.Name)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, file)
	}
	return string(file.Data), nil
}

func (f *fakeText) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu      sync.Mutex
	offered []model.Suggestion
	reject  bool
}

func (f *fakeSink) Offer(s model.Suggestion) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offered = append(f.offered, s)
	return !f.reject
}

type memRecorder struct {
	mu      sync.Mutex
	records map[string]model.DurableRecord
	err     error
}

func (m *memRecorder) SaveRecord(_ context.Context, rec model.DurableRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.records == nil {
		m.records = map[string]model.DurableRecord{}
	}
	m.records[rec.ID] = rec
	return nil
}
