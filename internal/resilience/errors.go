package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/sells-group/apm-cli/internal/model"
)

// TransientError marks an error as safe to retry (429, 5xx, network blips).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"overloaded",
}

// IsTransient reports whether err is worth retrying. Malformed provider
// output and validation failures never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var mre *model.MalformedResponseError
	if errors.As(err, &mre) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is retryable. 529 is
// the Anthropic API's overloaded status.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}

// Kind classifies an error for per-item reporting.
type Kind string

// Error kinds.
const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindMalformed   Kind = "malformed_response"
	KindTransient   Kind = "transient"
	KindUnavailable Kind = "unavailable"
	KindStore       Kind = "store"
	KindCanceled    Kind = "canceled"
	KindInternal    Kind = "internal"
)

// KindOf returns the classification of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var ve *model.ValidationError
	var mre *model.MalformedResponseError
	var se *model.StoreError
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return KindUnavailable
	case errors.As(err, &mre):
		return KindMalformed
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, model.ErrNotFound):
		return KindNotFound
	case errors.As(err, &se):
		return KindStore
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case IsTransient(err):
		return KindTransient
	default:
		return KindInternal
	}
}
