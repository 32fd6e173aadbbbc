// Package textextract turns uploaded files into plain text for term
// extraction.
package textextract

import (
	"context"
	"errors"
	"mime"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contract-cli/internal/config"
	"github.com/sells-group/contract-cli/internal/model"
)

// Extractor extracts text content from one file.
type Extractor interface {
	ExtractText(ctx context.Context, file model.FileInput) (string, error)
}

// Accepted MIME types.
const (
	MimePlain = "text/plain"
	MimePDF   = "application/pdf"
	MimeDOCX  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC   = "application/msword"
	MimePNG   = "image/png"
	MimeJPEG  = "image/jpeg"
	MimeWebP  = "image/webp"
	MimeGIF   = "image/gif"
)

// Router dispatches a file to the extractor registered for its MIME type.
type Router struct {
	byMime map[string]Extractor
}

// NewRouter builds the router for the configured OCR provider. Plain text
// and DOCX are always handled locally; PDFs go to pdftotext or Mistral, and
// images and legacy Word files are only accepted with Mistral.
func NewRouter(cfg config.OCRConfig) (*Router, error) {
	r := &Router{byMime: map[string]Extractor{
		MimePlain: PlainText{},
		MimeDOCX:  DOCX{},
	}}

	switch cfg.Provider {
	case "local", "":
		r.byMime[MimePDF] = NewPdfToText(cfg.PdfToTextPath)
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("textextract: mistral provider requires ocr.mistral_key")
		}
		m := NewMistralOCR(cfg.MistralKey, cfg.MistralModel)
		for _, mt := range []string{MimePDF, MimeDOC, MimePNG, MimeJPEG, MimeWebP, MimeGIF} {
			r.byMime[mt] = m
		}
	default:
		return nil, eris.Errorf("textextract: unknown provider %q", cfg.Provider)
	}
	return r, nil
}

// NewRouterWith builds a router from an explicit MIME table.
func NewRouterWith(byMime map[string]Extractor) *Router {
	r := &Router{byMime: make(map[string]Extractor, len(byMime))}
	for k, v := range byMime {
		r.byMime[NormalizeMimeType(k)] = v
	}
	return r
}

// Supports reports whether files of the given MIME type can be extracted.
func (r *Router) Supports(mimeType string) bool {
	_, ok := r.byMime[NormalizeMimeType(mimeType)]
	return ok
}

// ExtractText extracts the file's text. Every failure is a
// *model.CollaboratorError with stage "text".
func (r *Router) ExtractText(ctx context.Context, file model.FileInput) (string, error) {
	mt := NormalizeMimeType(file.MimeType)
	ext, ok := r.byMime[mt]
	if !ok {
		return "", model.NewCollaboratorError(model.StageText, model.KindUnsupportedMimeType,
			eris.Wrapf(model.ErrUnsupportedMimeType, "%q", file.MimeType))
	}

	text, err := ext.ExtractText(ctx, file)
	if err != nil {
		return "", classify(err)
	}
	if strings.TrimSpace(text) == "" {
		return "", &model.CollaboratorError{
			Stage:  model.StageText,
			Kind:   model.KindTextExtractionFailed,
			Detail: "no text found in " + file.Name,
		}
	}

	zap.L().Debug("textextract: extracted",
		zap.String("file", file.Name),
		zap.String("mime_type", mt),
		zap.Int("chars", len(text)),
	)
	return text, nil
}

func classify(err error) error {
	if _, ok := model.AsCollaborator(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewCollaboratorError(model.StageText, model.KindTimeout, err)
	}
	return model.NewCollaboratorError(model.StageText, model.KindTextExtractionFailed, err)
}

// NormalizeMimeType lowercases the type and strips parameters such as
// charset.
func NormalizeMimeType(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mt
}
