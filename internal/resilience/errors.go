package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/sells-group/contract-cli/internal/model"
)

// TransientError marks an error as safe to retry, e.g. an HTTP 5xx from a
// collaborator.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err is worth another attempt. Rate limits are
// retried; quota exhaustion, malformed responses, unsupported input and
// timeouts are not. Service errors are retried when caused by a transient
// transport or HTTP failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if ce, ok := model.AsCollaborator(err); ok {
		switch ce.Kind {
		case model.KindRateLimited:
			return true
		case model.KindQuotaExceeded, model.KindMalformedResponse, model.KindUnsupportedMimeType,
			model.KindTimeout, model.KindTextExtractionFailed, model.KindTermExtractionFailed:
			return false
		case model.KindExtractionServiceError:
			// Retried only when the cause is a transient transport failure.
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status code is a retryable
// server-side condition.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
