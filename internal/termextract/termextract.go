// Package termextract asks the Anthropic Messages API for contract terms.
package termextract

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/contract-cli/internal/config"
	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/resilience"
	"github.com/sells-group/contract-cli/pkg/anthropic"
)

// Request describes one document to analyze against a column set.
type Request struct {
	DocumentID string
	FileName   string
	Text       string
	Columns    []model.Column
}

// Result is the outcome of a full-document extraction.
type Result struct {
	Terms       model.Terms
	Suggestions []model.Suggestion
}

// Extractor is the term-extraction collaborator. All errors are
// *model.CollaboratorError with stage "terms".
type Extractor interface {
	ExtractTerms(ctx context.Context, req Request) (Result, error)
	ExtractColumn(ctx context.Context, req Request, column model.Column) (model.Term, error)
}

// Claude implements Extractor on the Anthropic Messages API.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

// New creates a Claude extractor. ratePerSec <= 0 disables client-side rate
// limiting.
func New(client anthropic.Client, cfg config.AnthropicConfig, ratePerSec float64) *Claude {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Claude{
		client:    client,
		model:     cfg.Model,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// ExtractTerms extracts every column in req.Columns and collects new-term
// suggestions.
func (c *Claude) ExtractTerms(ctx context.Context, req Request) (Result, error) {
	text, err := c.call(ctx, "extract_terms", req.DocumentID, buildDocumentPrompt(req))
	if err != nil {
		return Result{}, err
	}
	res, err := parseDocument(text, req.Columns)
	if err != nil {
		return Result{}, model.NewCollaboratorError(model.StageTerms, model.KindMalformedResponse, err)
	}

	zap.L().Info("termextract: document analyzed",
		zap.String("document_id", req.DocumentID),
		zap.Int("terms", len(res.Terms)),
		zap.Int("suggestions", len(res.Suggestions)),
	)
	return res, nil
}

// ExtractColumn extracts a single column, as used by backfill.
func (c *Claude) ExtractColumn(ctx context.Context, req Request, column model.Column) (model.Term, error) {
	text, err := c.call(ctx, "extract_column", req.DocumentID, buildColumnPrompt(req, column))
	if err != nil {
		return model.Term{}, err
	}
	term, err := parseColumn(text)
	if err != nil {
		return model.Term{}, model.NewCollaboratorError(model.StageTerms, model.KindMalformedResponse, err)
	}
	return term, nil
}

func (c *Claude) call(ctx context.Context, operation, documentID, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", classify(eris.Wrap(err, "termextract: rate limiter"))
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", classify(err)
	}
	resp.Usage.LogCost(c.model, operation, documentID)

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &model.CollaboratorError{
			Stage:  model.StageTerms,
			Kind:   model.KindMalformedResponse,
			Detail: "empty response (stop reason " + resp.StopReason + ")",
		}
	}
	return text, nil
}

// classify maps an API or transport failure onto a collaborator error kind.
func classify(err error) error {
	if _, ok := model.AsCollaborator(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewCollaboratorError(model.StageTerms, model.KindTimeout, err)
	}

	status, ok := anthropic.APIStatus(err)
	if !ok {
		return model.NewCollaboratorError(model.StageTerms, model.KindExtractionServiceError, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case status == http.StatusTooManyRequests:
		return model.NewCollaboratorError(model.StageTerms, model.KindRateLimited, err)
	case status == http.StatusPaymentRequired,
		strings.Contains(msg, "credit balance"), strings.Contains(msg, "billing"):
		return model.NewCollaboratorError(model.StageTerms, model.KindQuotaExceeded, err)
	case resilience.IsTransientHTTPStatus(status), status == 529:
		return model.NewCollaboratorError(model.StageTerms, model.KindExtractionServiceError,
			resilience.NewTransientError(err, status))
	default:
		return model.NewCollaboratorError(model.StageTerms, model.KindTermExtractionFailed, err)
	}
}
