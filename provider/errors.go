package provider

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrTransient marks a fetch failure worth retrying (timeouts)
	ErrTransient = errors.New("transient fetch error")

	// ErrStructural marks a malformed source response, retrying will not help
	ErrStructural = errors.New("structural fetch error")
)

const (
	CodeTimeout         = "timeout"
	CodeRequestFailed   = "request_failed"
	CodeInvalidResponse = "invalid_response"
	CodeRenderFailed    = "render_failed"
	CodeCancelled       = "cancelled"
)

// FetchError is a source-level fetch failure
type FetchError struct {
	Kind error  // ErrTransient, ErrStructural or nil
	Err  error  // underlying cause
	Code string // one of the Code* constants
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return e.Code
	}

	return e.Code + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() []error {
	out := make([]error, 0, 2)

	if e.Kind != nil {
		out = append(out, e.Kind)
	}

	if e.Err != nil {
		out = append(out, e.Err)
	}

	return out
}

// NewTimeoutError wraps a timeout-class failure
func NewTimeoutError(err error) *FetchError {
	return &FetchError{
		Code: CodeTimeout,
		Kind: ErrTransient,
		Err:  err,
	}
}

// NewStructuralError wraps a malformed-response failure
func NewStructuralError(err error) *FetchError {
	return &FetchError{
		Code: CodeInvalidResponse,
		Kind: ErrStructural,
		Err:  err,
	}
}

// NewRequestError wraps a non-retryable transport failure
func NewRequestError(err error) *FetchError {
	return &FetchError{
		Code: CodeRequestFailed,
		Err:  err,
	}
}

// IsTransient reports whether the error is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Code extracts the fetch error code, if any
func Code(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code
	}

	return ""
}

// IsTimeout reports whether the transport error is a timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewRenderError wraps a failure of the rendering collaborator
func NewRenderError(err error) *FetchError {
	return &FetchError{
		Code: CodeRenderFailed,
		Err:  err,
	}
}

// NewCancelledError wraps a fetch aborted by its caller
func NewCancelledError(err error) *FetchError {
	return &FetchError{
		Code: CodeCancelled,
		Err:  err,
	}
}
