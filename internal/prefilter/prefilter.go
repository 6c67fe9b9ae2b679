// Package prefilter narrows a scan universe to a short ranked list using
// only the fields present on the raw snapshot.
package prefilter

import (
	"math"
	"sort"
	"strings"

	"squeeze-discovery/internal/domain"
)

// Config holds gate thresholds. Fractions are 0..1 (0.2 = 20%).
type Config struct {
	MinPrice     float64
	MaxPrice     float64
	MinRVOL      float64
	MinLiquidity float64 // minimum share volume
	TopK         int

	// Enhanced path only.
	MinShortInterest float64
	FloatCap         float64 // shares
	MinUtilization   float64
	MinBorrowFee     float64
}

// DefaultConfig returns the default prefilter configuration.
func DefaultConfig() Config {
	return Config{
		MinPrice:         1,
		MaxPrice:         100,
		MinRVOL:          1.5,
		MinLiquidity:     500_000,
		TopK:             15,
		MinShortInterest: 0.15,
		FloatCap:         50_000_000,
		MinUtilization:   0.85,
		MinBorrowFee:     0.20,
	}
}

// Metrics counts how the universe was narrowed.
type Metrics struct {
	UniverseSize    int
	RejectedPrice   int
	RejectedRVOL    int
	RejectedVolume  int
	RejectedSqueeze int
	Qualified       int // passed every gate
	Passed          int // returned after top-K
}

// Result is the ranked short list.
type Result struct {
	Ranked     []string
	Candidates []domain.PrefilteredCandidate
	Metrics    Metrics
}

// Prefilter ranks by relVol*(1+|change|) after the price, RVOL and volume gates.
func Prefilter(universe []domain.CandidateSnapshot, cfg Config) Result {
	return run(universe, cfg, false)
}

// PrefilterEnhanced also requires a squeeze signal and folds short interest
// into the rank: relVol*(1+|change|)*(1+shortInterest).
func PrefilterEnhanced(universe []domain.CandidateSnapshot, cfg Config) Result {
	return run(universe, cfg, true)
}

func run(universe []domain.CandidateSnapshot, cfg Config, enhanced bool) Result {
	m := Metrics{UniverseSize: len(universe)}
	var passed []domain.PrefilteredCandidate

	for _, s := range universe {
		symbol := strings.ToUpper(strings.TrimSpace(s.Symbol))
		if symbol == "" || !finite(s.Price) || !finite(s.Volume) {
			m.RejectedPrice++
			continue
		}

		relVol := RelativeVolume(s.Volume, s.PrevVolume)
		change := ChangePercent(s.Price, s.PrevClose)

		if s.Price < cfg.MinPrice || s.Price > cfg.MaxPrice {
			m.RejectedPrice++
			continue
		}
		if relVol < cfg.MinRVOL {
			m.RejectedRVOL++
			continue
		}
		if s.Volume < cfg.MinLiquidity {
			m.RejectedVolume++
			continue
		}

		short := deref(s.ShortInterest)
		rank := relVol * (1 + change)
		if enhanced {
			if !squeezeQualified(s, cfg) {
				m.RejectedSqueeze++
				continue
			}
			rank *= 1 + short
		}

		passed = append(passed, domain.PrefilteredCandidate{
			Symbol:         symbol,
			Price:          s.Price,
			Volume:         s.Volume,
			RelativeVolume: relVol,
			ChangePercent:  change,
			ShortInterest:  short,
			RankScore:      rank,
		})
	}
	m.Qualified = len(passed)

	sort.SliceStable(passed, func(i, j int) bool {
		if passed[i].RankScore != passed[j].RankScore {
			return passed[i].RankScore > passed[j].RankScore
		}
		return passed[i].Symbol < passed[j].Symbol
	})

	if cfg.TopK > 0 && len(passed) > cfg.TopK {
		passed = passed[:cfg.TopK]
	}
	m.Passed = len(passed)

	ranked := make([]string, len(passed))
	for i, c := range passed {
		ranked[i] = c.Symbol
	}
	return Result{Ranked: ranked, Candidates: passed, Metrics: m}
}

// squeezeQualified accepts a strict short-interest minimum or the alternate
// path: small float, or high utilization together with a high borrow fee.
func squeezeQualified(s domain.CandidateSnapshot, cfg Config) bool {
	if s.ShortInterest != nil && *s.ShortInterest >= cfg.MinShortInterest {
		return true
	}
	if s.FloatShares != nil && *s.FloatShares > 0 && *s.FloatShares <= cfg.FloatCap {
		return true
	}
	return s.Utilization != nil && s.BorrowFee != nil &&
		*s.Utilization >= cfg.MinUtilization && *s.BorrowFee >= cfg.MinBorrowFee
}

// RelativeVolume is volume/prevVolume, or 1 when there is no prior volume.
func RelativeVolume(volume, prevVolume float64) float64 {
	if prevVolume <= 0 || !finite(prevVolume) {
		return 1
	}
	return volume / prevVolume
}

// ChangePercent is |price-prevClose|/prevClose as a fraction, or 0 without a prior close.
func ChangePercent(price, prevClose float64) float64 {
	if prevClose <= 0 || !finite(prevClose) {
		return 0
	}
	return math.Abs(price-prevClose) / prevClose
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func deref(p *float64) float64 {
	if p == nil || !finite(*p) {
		return 0
	}
	return *p
}
