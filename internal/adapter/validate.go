package adapter

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"squeeze-discovery/internal/domain"
)

// ErrInvalidRecord marks a record that violates the canonical constraints.
var ErrInvalidRecord = errors.New("invalid record")

// ItemError is one rejected item of a batch.
type ItemError struct {
	Index   int    `json:"index"`
	Ticker  string `json:"ticker,omitempty"`
	Item    any    `json:"item,omitempty"`
	Message string `json:"message"`
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %s", e.Index, e.Message)
}

// Validate checks a record against the canonical schema constraints.
// All violations are reported together.
func Validate(r *domain.DiscoveryRecord) error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}

	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch {
	case len(r.Ticker) < 1 || len(r.Ticker) > 10:
		add("ticker must be 1-10 characters, got %q", r.Ticker)
	case r.Ticker != strings.ToUpper(r.Ticker):
		add("ticker must be uppercase, got %q", r.Ticker)
	case strings.IndexFunc(r.Ticker, unicode.IsSpace) >= 0:
		add("ticker must not contain whitespace, got %q", r.Ticker)
	}

	if math.IsNaN(r.Score) || r.Score < 0 || r.Score > 100 {
		add("score must be within 0-100, got %v", r.Score)
	}
	if r.Price != nil && !(*r.Price > 0) {
		add("price must be > 0, got %v", *r.Price)
	}
	if !r.Confidence.IsValid() {
		add("confidence must be low or high, got %q", r.Confidence)
	}

	nonNegative := func(name string, v *float64) {
		if v != nil && !(*v >= 0) {
			add("%s must be >= 0, got %v", name, *v)
		}
	}
	within := func(name string, v *float64, lo, hi float64) {
		if v != nil && !(*v >= lo && *v <= hi) {
			add("%s must be within %v..%v, got %v", name, lo, hi, *v)
		}
	}

	nonNegative("relVol", r.RelVol)
	nonNegative("atrPct", r.ATRPct)
	within("rsi", r.RSI, 0, 100)
	nonNegative("shortInterestPct", r.ShortInterestPct)
	nonNegative("borrowFeePct", r.BorrowFeePct)
	within("utilizationPct", r.UtilizationPct, 0, 100)
	within("ivPercentile", r.IVPercentile, 0, 100)
	nonNegative("callPutRatio", r.CallPutRatio)
	within("sentimentScore", r.SentimentScore, -1, 1)

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(problems, "; "))
}
