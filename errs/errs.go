// Package errs provides structured error types and helpers for wgg services.
package errs

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Code identifies a vendor-agnostic error category.
type Code string

const (
	// CodeUnreachable indicates a network or upstream 5xx failure; retry-eligible.
	CodeUnreachable Code = "unreachable"
	// CodeAuthExpired indicates the vendor session is no longer accepted.
	CodeAuthExpired Code = "auth_expired"
	// CodeUninitialized indicates the vendor is not enabled in this process.
	CodeUninitialized Code = "uninitialized"
	// CodeNothingFound indicates an empty aggregate result across all vendors.
	CodeNothingFound Code = "nothing_found"
	// CodeRateLimited indicates the vendor rejected the request due to rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeNotFound indicates a missing resource on the vendor side.
	CodeNotFound Code = "not_found"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeFatal indicates a non-retryable vendor failure.
	CodeFatal Code = "fatal"
)

// E captures structured error information produced across the wgg stack.
type E struct {
	Vendor  string
	Op      string
	Code    Code
	HTTP    int
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the vendor and error code.
func New(vendor string, code Code, opts ...Option) *E {
	e := &E{
		Vendor:  strings.TrimSpace(vendor),
		Op:      "",
		Code:    code,
		HTTP:    0,
		Message: "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithOp records the vendor operation that failed (e.g. product, promotions).
func WithOp(op string) Option {
	trimmed := strings.TrimSpace(op)
	return func(e *E) {
		e.Op = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 6)

	vendor := e.Vendor
	if vendor == "" {
		vendor = "unknown"
	}
	parts = append(parts, "vendor="+vendor)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the code of the outermost envelope in the chain.
func CodeOf(err error) (Code, bool) {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code, true
	}
	return "", false
}

// Is reports whether err carries the provided code.
func Is(err error, code Code) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}

// Retryable reports whether the failure is worth retrying or falling back to stale data.
func Retryable(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case CodeUnreachable, CodeRateLimited, CodeAuthExpired:
		return true
	default:
		return false
	}
}

// FromStatus maps an HTTP status returned by a vendor to an error code.
func FromStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuthExpired
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return CodeInvalid
	case status >= 500:
		return CodeUnreachable
	default:
		return CodeFatal
	}
}

// Classify wraps an arbitrary vendor failure into an envelope. Envelopes pass through
// untouched apart from filling in a missing vendor or op.
func Classify(vendor, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *E
	if errors.As(err, &e) && e != nil {
		if e.Vendor == "" {
			e.Vendor = vendor
		}
		if e.Op == "" {
			e.Op = op
		}
		return e
	}
	code := CodeFatal
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		code = CodeUnreachable
	}
	return New(vendor, code, WithOp(op), WithCause(err))
}
