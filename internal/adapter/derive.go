package adapter

import (
	"fmt"
	"strings"

	"squeeze-discovery/internal/domain"
)

// Reason thresholds. Squeeze readings are percentages.
const (
	reasonShortPct     = 20
	reasonRelVol       = 2
	reasonIVPercentile = 80
	reasonUtilPct      = 85
	reasonBorrowFeePct = 20
	reasonCallPut      = 2
	reasonRSILow       = 50
	reasonRSIHigh      = 70
)

// richSections is the section count at which derived confidence is high.
const richSections = 3

// DeriveConfidence returns the record confidence. An explicit valid value
// wins; synthetic records are always low; otherwise confidence is high when
// at least three enrichment sections are present and at most one provider
// failed.
func DeriveConfidence(explicit string, sections, enrichErrors int, synthetic bool) domain.Confidence {
	if synthetic {
		return domain.ConfidenceLow
	}
	if c := domain.Confidence(strings.ToLower(strings.TrimSpace(explicit))); c.IsValid() {
		return c
	}
	if sections >= richSections && enrichErrors <= 1 {
		return domain.ConfidenceHigh
	}
	return domain.ConfidenceLow
}

// recordSections counts the enrichment groups present on a record.
func recordSections(r *domain.DiscoveryRecord) int {
	n := 0
	if r.RelVol != nil || r.ATRPct != nil || r.RSI != nil || r.VWAPDistPct != nil {
		n++
	}
	if r.ShortInterestPct != nil || r.BorrowFeePct != nil || r.UtilizationPct != nil {
		n++
	}
	if r.IVPercentile != nil || r.CallPutRatio != nil {
		n++
	}
	if r.SentimentScore != nil {
		n++
	}
	if r.Catalyst != nil {
		n++
	}
	return n
}

// Reasons lists human-readable signals that cleared their thresholds.
func Reasons(r *domain.DiscoveryRecord) []string {
	var out []string
	if v := r.ShortInterestPct; v != nil && *v >= reasonShortPct {
		out = append(out, fmt.Sprintf("High short interest %.1f%%", *v))
	}
	if v := r.RelVol; v != nil && *v >= reasonRelVol {
		out = append(out, fmt.Sprintf("Volume spike %.1fx", *v))
	}
	if v := r.IVPercentile; v != nil && *v >= reasonIVPercentile {
		out = append(out, fmt.Sprintf("IV percentile %.0f", *v))
	}
	if v := r.UtilizationPct; v != nil && *v >= reasonUtilPct {
		out = append(out, fmt.Sprintf("Borrow utilization %.0f%%", *v))
	}
	if v := r.BorrowFeePct; v != nil && *v >= reasonBorrowFeePct {
		out = append(out, fmt.Sprintf("Borrow fee %.0f%%", *v))
	}
	if v := r.CallPutRatio; v != nil && *v >= reasonCallPut {
		out = append(out, fmt.Sprintf("Call/put ratio %.1f", *v))
	}
	if v := r.RSI; v != nil && *v >= reasonRSILow && *v <= reasonRSIHigh {
		out = append(out, fmt.Sprintf("RSI %.0f in momentum band", *v))
	}
	if v := r.VWAPDistPct; v != nil && *v > 0 {
		out = append(out, fmt.Sprintf("Above VWAP +%.1f%%", *v))
	}
	if r.Catalyst != nil && *r.Catalyst != "" {
		out = append(out, "Catalyst: "+*r.Catalyst)
	}
	return out
}

var catalystKeywords = []struct {
	label    string
	keywords []string
}{
	{"fda", []string{"fda", "phase", "trial", "approval", "drug"}},
	{"mna", []string{"acquire", "acquisition", "merger", "m&a", "takeover", "buyout"}},
	{"earnings", []string{"earnings", "guidance", "revenue", "beat", "eps"}},
	{"insider", []string{"insider", "form 4", "buys shares"}},
	{"contract", []string{"contract", "partnership", "deal", "agreement"}},
}

// InferCatalyst returns a coarse catalyst label from free text, or "".
// Labels are tried in a fixed order so the result is deterministic.
func InferCatalyst(texts ...string) string {
	joined := strings.ToLower(strings.Join(texts, " "))
	if strings.TrimSpace(joined) == "" {
		return ""
	}
	for _, c := range catalystKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(joined, kw) {
				return c.label
			}
		}
	}
	return ""
}
