package domain

// Tier is the action tier assigned to a scored candidate.
type Tier string

const (
	TierTradeReady Tier = "TRADE_READY"
	TierEarlyReady Tier = "EARLY_READY"
	TierWatch      Tier = "WATCH"
	TierMonitor    Tier = "MONITOR"
	TierDrop       Tier = "DROP"
)

// String returns the string representation of Tier.
func (t Tier) String() string {
	return string(t)
}

// Action maps the tier to the dashboard action label.
func (t Tier) Action() string {
	switch t {
	case TierTradeReady:
		return "BUY"
	case TierEarlyReady:
		return "EARLY_READY"
	case TierWatch:
		return "WATCHLIST"
	case TierMonitor:
		return "MONITOR"
	default:
		return "DROP"
	}
}

// IsValid checks if the tier is a known value.
func (t Tier) IsValid() bool {
	switch t {
	case TierTradeReady, TierEarlyReady, TierWatch, TierMonitor, TierDrop:
		return true
	}
	return false
}

// SubScores are normalized component scores, each in [0, 1].
type SubScores struct {
	VolumeMomentum float64 `json:"volume_momentum"`
	FloatShort     float64 `json:"float_short"`
	Catalyst       float64 `json:"catalyst"`
	Sentiment      float64 `json:"sentiment"`
	Options        float64 `json:"options"`
	Technical      float64 `json:"technical"`
}

// ScoredCandidate is an enriched candidate after composite scoring.
type ScoredCandidate struct {
	Enriched  *EnrichedCandidate
	SubScores SubScores
	Score     int
	Tier      Tier

	ColdTape  bool // scored while cold-tape relaxation was active
	Capped    bool // score was lowered to the cold-tape ceiling
	RawScore  int  // score before any cap
	Synthetic bool // produced by the cold-tape seeding fallback
	Rationale string
}

// Symbol returns the candidate symbol.
func (s *ScoredCandidate) Symbol() string {
	if s.Enriched == nil {
		return ""
	}
	return s.Enriched.Symbol
}
