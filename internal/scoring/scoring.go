// Package scoring turns enriched candidates into deterministic composite
// scores and action tiers.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"squeeze-discovery/internal/domain"
)

// Weights are the composite blend weights. Base applies to the external
// scan score; the rest apply to sub-scores.
type Weights struct {
	Base           float64
	VolumeMomentum float64
	FloatShort     float64
	Catalyst       float64
	Sentiment      float64
	Options        float64
	Technical      float64
}

// DefaultWeights returns the default blend. Sub-score weights sum to 0.80.
func DefaultWeights() Weights {
	return Weights{
		Base:           0.20,
		VolumeMomentum: 0.20,
		FloatShort:     0.16,
		Catalyst:       0.16,
		Sentiment:      0.12,
		Options:        0.08,
		Technical:      0.08,
	}
}

// TierThresholds are the inclusive score cut-offs per tier.
type TierThresholds struct {
	TradeReady int
	EarlyReady int
	Monitor    int
}

// DefaultTierThresholds returns 75/65/50.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{TradeReady: 75, EarlyReady: 65, Monitor: 50}
}

// Thresholds are the floors and ceilings used to normalize readings.
// RSIMin, ATRPctMin and RelVolMin are the floors relaxed under cold tape.
type Thresholds struct {
	RelVolMin  float64
	RelVolCeil float64
	ATRPctMin  float64
	ATRPctCeil float64
	RSIMin     float64
	RSIMax     float64

	ShortPctFloor float64
	ShortPctCeil  float64
	UtilPctFloor  float64
	UtilPctCeil   float64
	FeePctFloor   float64
	FeePctCeil    float64
	FloatMBest    float64
	FloatMWorst   float64

	CatalystFreshHours float64
	CatalystMaxHours   float64

	SentimentCeil float64
	BuzzFloor     float64
	BuzzCeil      float64

	CallPutFloor float64
	CallPutCeil  float64
	IVPctFloor   float64
	IVPctCeil    float64

	EMASpreadCeilPct float64
}

// DefaultThresholds returns the base normalization thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RelVolMin:  1.5,
		RelVolCeil: 5,
		ATRPctMin:  3,
		ATRPctCeil: 10,
		RSIMin:     60,
		RSIMax:     80,

		ShortPctFloor: 10,
		ShortPctCeil:  40,
		UtilPctFloor:  70,
		UtilPctCeil:   100,
		FeePctFloor:   5,
		FeePctCeil:    50,
		FloatMBest:    10,
		FloatMWorst:   100,

		CatalystFreshHours: 24,
		CatalystMaxHours:   168,

		SentimentCeil: 0.8,
		BuzzFloor:     1,
		BuzzCeil:      5,

		CallPutFloor: 1,
		CallPutCeil:  3,
		IVPctFloor:   50,
		IVPctCeil:    95,

		EMASpreadCeilPct: 5,
	}
}

// SubScoresFor normalizes the candidate's sections into [0, 1] sub-scores.
// Missing sections score 0.
func SubScoresFor(c *domain.EnrichedCandidate, th Thresholds) domain.SubScores {
	var s domain.SubScores
	if c == nil {
		return s
	}

	if m := c.Momentum; m != nil {
		s.VolumeMomentum = 0.5*Ramp(m.RelVol, th.RelVolMin, th.RelVolCeil) +
			0.25*Ramp(m.ATRPct, th.ATRPctMin, th.ATRPctCeil) +
			0.25*Band(m.RSI, th.RSIMin, th.RSIMax)
	}

	if q := c.Squeeze; q != nil {
		floatScore := 0.0
		if q.FloatM > 0 {
			floatScore = InverseRamp(q.FloatM, th.FloatMBest, th.FloatMWorst)
		}
		s.FloatShort = 0.4*Ramp(q.ShortPct, th.ShortPctFloor, th.ShortPctCeil) +
			0.2*Ramp(q.UtilPct, th.UtilPctFloor, th.UtilPctCeil) +
			0.2*Ramp(q.FeePct, th.FeePctFloor, th.FeePctCeil) +
			0.2*floatScore
	}

	if c.HasCatalyst() {
		s.Catalyst = InverseRamp(c.Catalyst.AgeHours, th.CatalystFreshHours, th.CatalystMaxHours)
	}

	if so := c.Social; so != nil {
		s.Sentiment = 0.6*Ramp(so.Sentiment, 0, th.SentimentCeil) +
			0.4*Ramp(so.Buzz, th.BuzzFloor, th.BuzzCeil)
	}

	if o := c.Options; o != nil {
		s.Options = 0.5*Ramp(o.CallPutRatio, th.CallPutFloor, th.CallPutCeil) +
			0.5*Ramp(o.IVPercentile, th.IVPctFloor, th.IVPctCeil)
	}

	if t := c.Technical; t != nil {
		if t.EMA9 > t.EMA20 {
			s.Technical += 0.4
			if t.EMA20 > 0 {
				s.Technical += 0.3 * Ramp((t.EMA9/t.EMA20-1)*100, 0, th.EMASpreadCeilPct)
			}
		}
		if t.AboveVWAP {
			s.Technical += 0.3
		}
	}

	s.VolumeMomentum = clamp(s.VolumeMomentum, 0, 1)
	s.FloatShort = clamp(s.FloatShort, 0, 1)
	s.Catalyst = clamp(s.Catalyst, 0, 1)
	s.Sentiment = clamp(s.Sentiment, 0, 1)
	s.Options = clamp(s.Options, 0, 1)
	s.Technical = clamp(s.Technical, 0, 1)
	return s
}

// Composite blends the base score (0-100) and sub-scores into an integer
// score in [0, 100].
func Composite(base float64, s domain.SubScores, w Weights) int {
	raw := base/100*w.Base +
		s.VolumeMomentum*w.VolumeMomentum +
		s.FloatShort*w.FloatShort +
		s.Catalyst*w.Catalyst +
		s.Sentiment*w.Sentiment +
		s.Options*w.Options +
		s.Technical*w.Technical
	if math.IsNaN(raw) {
		return 0
	}
	return int(math.Round(clamp(raw*100, 0, 100)))
}

// Classify maps a score to a tier. WATCH is never returned here; only the
// cold-tape controller assigns it.
func Classify(score int, t TierThresholds) domain.Tier {
	switch {
	case score >= t.TradeReady:
		return domain.TierTradeReady
	case score >= t.EarlyReady:
		return domain.TierEarlyReady
	case score >= t.Monitor:
		return domain.TierMonitor
	default:
		return domain.TierDrop
	}
}

// Scorer scores enriched candidates with fixed weights and tiers.
type Scorer struct {
	Weights Weights
	Tiers   TierThresholds
}

// NewScorer creates a Scorer.
func NewScorer(w Weights, t TierThresholds) *Scorer {
	return &Scorer{Weights: w, Tiers: t}
}

// Score computes sub-scores, composite and tier for one candidate.
func (s *Scorer) Score(c *domain.EnrichedCandidate, th Thresholds) *domain.ScoredCandidate {
	sub := SubScoresFor(c, th)
	score := Composite(c.BaseScore, sub, s.Weights)
	return &domain.ScoredCandidate{
		Enriched:  c,
		SubScores: sub,
		Score:     score,
		RawScore:  score,
		Tier:      Classify(score, s.Tiers),
		Rationale: Rationale(sub),
	}
}

// ScoreAll scores candidates and orders them by score descending, then symbol.
func (s *Scorer) ScoreAll(cands []*domain.EnrichedCandidate, th Thresholds) []*domain.ScoredCandidate {
	out := make([]*domain.ScoredCandidate, 0, len(cands))
	for _, c := range cands {
		if c == nil {
			continue
		}
		out = append(out, s.Score(c, th))
	}
	SortScored(out)
	return out
}

// SortScored orders by score descending, ties by symbol ascending.
func SortScored(out []*domain.ScoredCandidate) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Symbol() < out[j].Symbol()
	})
}

// Rationale lists the strongest sub-scores, e.g. "volume_momentum 0.82, catalyst 0.50".
func Rationale(s domain.SubScores) string {
	parts := []struct {
		name string
		v    float64
	}{
		{"volume_momentum", s.VolumeMomentum},
		{"float_short", s.FloatShort},
		{"catalyst", s.Catalyst},
		{"sentiment", s.Sentiment},
		{"options", s.Options},
		{"technical", s.Technical},
	}
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].v > parts[j].v })

	var b strings.Builder
	for _, p := range parts {
		if p.v < 0.5 {
			break
		}
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %.2f", p.name, p.v)
	}
	if b.Len() == 0 {
		return "no strong components"
	}
	return b.String()
}
