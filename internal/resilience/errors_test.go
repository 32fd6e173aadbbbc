package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/sells-group/contract-cli/internal/model"
)

func TestIsTransient(t *testing.T) {
	collab := func(kind model.CollaboratorErrorKind) error {
		return fmt.Errorf("wrapped: %w", &model.CollaboratorError{Stage: model.StageTerms, Kind: kind, Detail: "x"})
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid input"), false},
		{"explicit transient", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped transient", fmt.Errorf("call: %w", NewTransientError(errors.New("slow down"), 429)), true},
		{"rate limited", collab(model.KindRateLimited), true},
		{"service error", collab(model.KindExtractionServiceError), false},
		{"service error over 503", &model.CollaboratorError{Kind: model.KindExtractionServiceError, Err: NewTransientError(errors.New("503"), 503)}, true},
		{"quota exceeded", collab(model.KindQuotaExceeded), false},
		{"malformed", collab(model.KindMalformedResponse), false},
		{"timeout", collab(model.KindTimeout), false},
		{"unsupported", collab(model.KindUnsupportedMimeType), false},
		{"circuit open", &model.CollaboratorError{Kind: model.KindExtractionServiceError, Err: ErrCircuitOpen}, false},
		{"conn reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"broken pipe text", errors.New("write: broken pipe"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 402, 403, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be permanent", code)
		}
	}
}
