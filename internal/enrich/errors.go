package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Failure codes reported for symbols that could not be enriched.
const (
	CodeTimeout      = "ETIMEDOUT"
	CodeUnauthorized = "401"
	CodeForbidden    = "403"
	CodeRateLimited  = "429"
	CodeNoPrice      = "NO_PRICE"
	CodeOther        = "OTHER"
)

// ProviderError is a failed provider call. Status is the upstream HTTP
// status when one is known, 0 otherwise.
type ProviderError struct {
	Code   string
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider error %s", e.Code)
	}
	return fmt.Sprintf("provider error %s: %v", e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the call may be retried: 429 and 5xx only.
func (e *ProviderError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// NewStatusError builds a ProviderError from an upstream HTTP status.
func NewStatusError(status int, err error) *ProviderError {
	return &ProviderError{Code: codeForStatus(status), Status: status, Err: err}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusTooManyRequests:
		return CodeRateLimited
	default:
		return CodeOther
	}
}

// asProviderError normalizes any provider failure into a *ProviderError.
func asProviderError(err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Code: CodeTimeout, Err: err}
	}
	return &ProviderError{Code: CodeOther, Err: err}
}

// CodeOf returns the failure code carried by err.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return asProviderError(err).Code
}
