package screener

import (
	"fmt"
	"strings"
	"time"

	"squeeze-discovery/internal/domain"
)

// ProcessExitError is returned when the scan process could not be started
// or exited non-zero.
type ProcessExitError struct {
	ExitCode      int
	StderrExcerpt string
	Err           error // start failure, nil for a plain non-zero exit
}

func (e *ProcessExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("screener process failed to start: %v", e.Err)
	}
	return fmt.Sprintf("screener process exited with code %d: %s", e.ExitCode, e.StderrExcerpt)
}

func (e *ProcessExitError) Unwrap() error { return e.Err }

// TimeoutError is returned when the process exceeded its budget and was killed.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("screener process exceeded budget %s and was terminated", e.Budget)
}

// NoOutputError is returned when the artifact is missing or empty.
type NoOutputError struct {
	Path string
}

func (e *NoOutputError) Error() string {
	return fmt.Sprintf("screener produced no output at %s", e.Path)
}

// SchemaViolationError is returned when the artifact does not match {items[], count}.
type SchemaViolationError struct {
	Path    string
	Missing []string
	Detail  string
}

func (e *SchemaViolationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "screener output %s violates schema", e.Path)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing or invalid %s", strings.Join(e.Missing, ", "))
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	return b.String()
}

// CircuitOpenError is returned without spawning while the circuit is open.
type CircuitOpenError struct {
	Class domain.FailureClass
	Until time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("screener circuit open (%s failure) until %s", e.Class, e.Until.Format(time.RFC3339))
}
