package domain

import (
	"encoding/json"
	"time"
)

// Confidence is the signal confidence of a discovery.
type Confidence string

const (
	ConfidenceLow  Confidence = "low"
	ConfidenceHigh Confidence = "high"
)

// IsValid checks if the confidence is a known value.
func (c Confidence) IsValid() bool {
	return c == ConfidenceLow || c == ConfidenceHigh
}

// DefaultHorizonDays is the holding horizon used for outcome labeling.
const DefaultHorizonDays = 5

// DiscoveryRecord is the canonical persisted discovery.
// Corresponds to the discoveries table; unique per (Ticker, Day).
type DiscoveryRecord struct {
	ID         string
	Ticker     string
	Day        time.Time // UTC midnight of the discovery day
	Score      float64
	Price      *float64
	Confidence Confidence
	Action     string

	RelVol           *float64
	ATRPct           *float64
	RSI              *float64
	VWAPDistPct      *float64
	ShortInterestPct *float64
	BorrowFeePct     *float64
	UtilizationPct   *float64
	IVPercentile     *float64
	CallPutRatio     *float64
	Catalyst         *string
	SentimentScore   *float64

	Reasons   []string
	Meta      map[string]any
	Source    Source
	Synthetic bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	EntryAt     time.Time
	HorizonDays int

	Outcome        *Outcome
	RealizedReturn *float64
	LabelError     *string
}

// Labeled reports whether the record carries a terminal outcome.
func (r *DiscoveryRecord) Labeled() bool {
	return r.Outcome != nil
}

// HorizonEnd returns the time at which the holding horizon elapses.
func (r *DiscoveryRecord) HorizonEnd() time.Time {
	return r.EntryAt.AddDate(0, 0, r.HorizonDays)
}

// RankingEntry is the compact ranking representation of a discovery.
// Corresponds to discovery_rankings; shares its ID with the audit row.
type RankingEntry struct {
	ID         string
	Symbol     string
	Day        time.Time
	Score      float64
	Price      *float64
	Action     string
	Components SubScores
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MetaComponents is the meta key under which sub-scores are carried.
const MetaComponents = "components"

// Components returns the sub-scores carried in Meta, or zero values.
func (r *DiscoveryRecord) Components() SubScores {
	var sub SubScores
	raw, ok := r.Meta[MetaComponents]
	if !ok {
		return sub
	}
	switch v := raw.(type) {
	case SubScores:
		return v
	case *SubScores:
		if v != nil {
			return *v
		}
	default:
		// Values decoded from JSON arrive as map[string]any.
		if b, err := json.Marshal(v); err == nil {
			_ = json.Unmarshal(b, &sub)
		}
	}
	return sub
}
