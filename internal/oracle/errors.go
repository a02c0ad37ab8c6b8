package oracle

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable marks a source that could not answer (non-2xx, timeout, missing data).
	ErrUnavailable = errors.New("oracle: source unavailable")
	// ErrDecode marks a 2xx response whose payload could not be decoded.
	ErrDecode = errors.New("oracle: malformed response")
)

// SourceError is a transport-level failure. Verifiers recover from it locally.
type SourceError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *SourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrUnavailable }

// Retryable reports whether the status is worth another attempt next cycle.
func (e *SourceError) Retryable() bool {
	switch e.StatusCode {
	case 0, http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// DecodeError is a malformed-payload failure. It propagates to the caller as a
// retryable error distinct from an Unverifiable verdict.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// IsDecode reports whether err carries a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

func unavailable(source, format string, args ...any) error {
	return &SourceError{Source: source, Err: fmt.Errorf(format, args...)}
}
