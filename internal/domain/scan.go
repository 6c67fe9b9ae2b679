package domain

import (
	"encoding/json"
	"time"
)

// FailureClass classifies a failed external scan for the circuit breaker.
type FailureClass string

const (
	FailureNone   FailureClass = ""
	FailureAuth   FailureClass = "auth"
	FailureServer FailureClass = "server"
)

// ScreenerRunResult is the result of one external scan invocation.
type ScreenerRunResult struct {
	RunID         string
	Caller        string
	ExitCode      int
	StartedAt     time.Time
	Duration      time.Duration
	StdoutExcerpt string
	StderrExcerpt string
	FailureClass  FailureClass

	// Parsed artifact.
	Items         []json.RawMessage
	Count         int
	ArtifactRunID string
	SnapshotTS    string
}

// CircuitState is the process-wide scan circuit breaker state.
type CircuitState struct {
	Open          bool
	CooldownUntil time.Time
	FailureClass  FailureClass
	ForcedCache   bool
}

// ScoreSnapshot is one scored candidate observation for analytics.
type ScoreSnapshot struct {
	Symbol     string
	Timestamp  int64 // unix milliseconds
	Score      int
	RawScore   int
	Tier       Tier
	ColdTape   bool
	Synthetic  bool
	Components SubScores
}
