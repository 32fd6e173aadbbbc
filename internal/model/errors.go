package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Validation errors: rejected before any state mutation.
var (
	ErrValidation          = eris.New("validation error")
	ErrUnsupportedMimeType = eris.New("unsupported mime type")
	ErrDuplicateDocumentID = eris.New("duplicate document id")
	ErrDuplicateColumnID   = eris.New("duplicate column id")
)

// Consistency errors: should not occur under correct orchestration.
var (
	ErrUnknownDocument   = eris.New("unknown document")
	ErrUnknownColumn     = eris.New("unknown column")
	ErrInvalidTransition = eris.New("invalid status transition")
)

// Suggestion resolution errors, surfaced directly to the caller.
var (
	ErrSuggestionAlreadyResolved = eris.New("suggestion already resolved")
	ErrNoPendingSuggestion       = eris.New("no pending suggestion")
)

// CollaboratorStage identifies which external collaborator failed.
type CollaboratorStage string

const (
	StageText  CollaboratorStage = "text"
	StageTerms CollaboratorStage = "terms"
)

// CollaboratorErrorKind classifies a collaborator failure.
type CollaboratorErrorKind string

const (
	KindTextExtractionFailed   CollaboratorErrorKind = "text_extraction_failed"
	KindTermExtractionFailed   CollaboratorErrorKind = "term_extraction_failed"
	KindUnsupportedMimeType    CollaboratorErrorKind = "unsupported_mime_type"
	KindExtractionServiceError CollaboratorErrorKind = "extraction_service_error"
	KindRateLimited            CollaboratorErrorKind = "rate_limited"
	KindQuotaExceeded          CollaboratorErrorKind = "quota_exceeded"
	KindMalformedResponse      CollaboratorErrorKind = "malformed_response"
	KindTimeout                CollaboratorErrorKind = "timeout"
)

// CollaboratorError is a failure reported by (or on the way to) the text or
// term extraction collaborator.
type CollaboratorError struct {
	Stage  CollaboratorStage
	Kind   CollaboratorErrorKind
	Detail string
	Err    error
}

func (e *CollaboratorError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	return string(e.Kind)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// NewCollaboratorError builds a CollaboratorError whose detail is taken from err.
func NewCollaboratorError(stage CollaboratorStage, kind CollaboratorErrorKind, err error) *CollaboratorError {
	ce := &CollaboratorError{Stage: stage, Kind: kind, Err: err}
	if err != nil {
		ce.Detail = err.Error()
	}
	return ce
}

// AsCollaborator returns the CollaboratorError in err's chain, if any.
func AsCollaborator(err error) (*CollaboratorError, bool) {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsCollaborator reports whether err originates from an external collaborator.
func IsCollaborator(err error) bool {
	_, ok := AsCollaborator(err)
	return ok
}

// IsValidation reports whether err should be rejected before state mutation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnsupportedMimeType) ||
		errors.Is(err, ErrDuplicateDocumentID) ||
		errors.Is(err, ErrDuplicateColumnID)
}

// IsConsistency reports whether err indicates an integration fault.
func IsConsistency(err error) bool {
	return errors.Is(err, ErrUnknownDocument) ||
		errors.Is(err, ErrUnknownColumn) ||
		errors.Is(err, ErrDuplicateColumnID) ||
		errors.Is(err, ErrInvalidTransition)
}
