package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"squeeze-discovery/internal/domain"
)

// Input is one upstream item awaiting adaptation. The concrete variants are
// *ScreenerItem, *EnrichmentItem and *CanonicalItem.
type Input interface {
	Source() domain.Source
	isInput()
}

// ScreenerIndicators is the indicator block of an external scan item.
type ScreenerIndicators struct {
	RelVol    *float64 `json:"relvol,omitempty"`
	Ret5d     *float64 `json:"ret_5d,omitempty"`
	Ret21d    *float64 `json:"ret_21d,omitempty"`
	ATRPct    *float64 `json:"atr_pct,omitempty"`
	AvgDollar *float64 `json:"avg_dollar,omitempty"`
}

// ScreenerItem is one item of the external scan artifact. Squeeze readings
// are percentages.
type ScreenerItem struct {
	Ticker     string              `json:"ticker,omitempty"`
	Symbol     string              `json:"symbol,omitempty"`
	Price      *float64            `json:"price,omitempty"`
	Score      float64             `json:"score"`
	Action     string              `json:"action,omitempty"`
	Confidence string              `json:"confidence,omitempty"`
	Thesis     json.RawMessage     `json:"thesis,omitempty"` // string or {"summary": ...}
	RelVol30m  *float64            `json:"rel_vol_30m,omitempty"`
	Indicators *ScreenerIndicators `json:"indicators,omitempty"`

	RSI            *float64 `json:"rsi,omitempty"`
	VWAPDistPct    *float64 `json:"vwap_dist_pct,omitempty"`
	ShortInterest  *float64 `json:"short_interest,omitempty"`
	BorrowFee      *float64 `json:"borrow_fee,omitempty"`
	Utilization    *float64 `json:"utilization,omitempty"`
	IVPercentile   *float64 `json:"iv_percentile,omitempty"`
	CallPutRatio   *float64 `json:"call_put_ratio,omitempty"`
	SentimentScore *float64 `json:"sentiment_score,omitempty"`
	Catalyst       string   `json:"catalyst,omitempty"`

	Targets   json.RawMessage `json:"targets,omitempty"`
	Timestamp float64         `json:"timestamp,omitempty"` // unix seconds
	Synthetic bool            `json:"synthetic,omitempty"`
}

func (*ScreenerItem) Source() domain.Source { return domain.SourceScreener }
func (*ScreenerItem) isInput() {}

// ThesisText returns the thesis as plain text.
func (s *ScreenerItem) ThesisText() string {
	return thesisText(s.Thesis)
}

// EnrichmentItem is a scored enrichment result.
type EnrichmentItem struct {
	Symbol       string                `json:"symbol"`
	Price        float64               `json:"price"`
	Score        int                   `json:"score"`
	RawScore     int                   `json:"rawScore,omitempty"`
	BaseScore    float64               `json:"baseScore,omitempty"`
	Tier         domain.Tier           `json:"tier,omitempty"`
	Confidence   string                `json:"confidence,omitempty"`
	Momentum     *domain.MomentumData  `json:"momentum,omitempty"`
	Squeeze      *domain.SqueezeData   `json:"squeeze,omitempty"`
	Options      *domain.OptionsData   `json:"options,omitempty"`
	Social       *domain.SocialData    `json:"social,omitempty"`
	Catalyst     *domain.CatalystData  `json:"catalyst,omitempty"`
	Technical    *domain.TechnicalData `json:"technical,omitempty"`
	Components   *domain.SubScores     `json:"components,omitempty"`
	EnrichErrors map[string]string     `json:"enrichErrors,omitempty"`
	Prefiltered  bool                  `json:"prefiltered,omitempty"`
	FromCache    bool                  `json:"fromCache,omitempty"`
	ColdTape     bool                  `json:"coldTape,omitempty"`
	Capped       bool                  `json:"capped,omitempty"`
	Synthetic    bool                  `json:"synthetic"`
	Thesis       string                `json:"thesis,omitempty"`
	Rationale    string                `json:"rationale,omitempty"`
}

func (*EnrichmentItem) Source() domain.Source { return domain.SourceEnrichment }
func (*EnrichmentItem) isInput() {}

// EnrichmentFromScored builds the typed input for a scored candidate.
// Cold-tape seeds keep their explicit synthetic flag.
func EnrichmentFromScored(sc *domain.ScoredCandidate) *EnrichmentItem {
	item := &EnrichmentItem{
		Symbol:      sc.Symbol(),
		Score:       sc.Score,
		RawScore:    sc.RawScore,
		Tier:        sc.Tier,
		Prefiltered: true,
		ColdTape:    sc.ColdTape,
		Capped:      sc.Capped,
		Synthetic:   sc.Synthetic,
		Rationale:   sc.Rationale,
	}
	sub := sc.SubScores
	item.Components = &sub
	if e := sc.Enriched; e != nil {
		item.Price = e.Price
		item.BaseScore = e.BaseScore
		item.Momentum = e.Momentum
		item.Squeeze = e.Squeeze
		item.Options = e.Options
		item.Social = e.Social
		item.Catalyst = e.Catalyst
		item.Technical = e.Technical
		item.EnrichErrors = e.EnrichErrors
		item.FromCache = e.FromCache
		item.Thesis = e.Thesis
	}
	return item
}

// CanonicalItem is a record already in the canonical schema.
type CanonicalItem struct {
	Ticker           string         `json:"ticker"`
	Symbol           string         `json:"symbol,omitempty"`
	Day              string         `json:"day,omitempty"` // YYYY-MM-DD
	Score            float64        `json:"score"`
	Price            *float64       `json:"price,omitempty"`
	Confidence       string         `json:"confidence,omitempty"`
	Action           string         `json:"action,omitempty"`
	RelVol           *float64       `json:"relVol,omitempty"`
	ATRPct           *float64       `json:"atrPct,omitempty"`
	RSI              *float64       `json:"rsi,omitempty"`
	VWAPDistPct      *float64       `json:"vwapDistPct,omitempty"`
	ShortInterestPct *float64       `json:"shortInterestPct,omitempty"`
	BorrowFeePct     *float64       `json:"borrowFeePct,omitempty"`
	UtilizationPct   *float64       `json:"utilizationPct,omitempty"`
	IVPercentile     *float64       `json:"ivPercentile,omitempty"`
	CallPutRatio     *float64       `json:"callPutRatio,omitempty"`
	Catalyst         *string        `json:"catalyst,omitempty"`
	SentimentScore   *float64       `json:"sentimentScore,omitempty"`
	Reasons          []string       `json:"reasons,omitempty"`
	Meta             map[string]any `json:"meta,omitempty"`
	Synthetic        bool           `json:"synthetic,omitempty"`
}

func (*CanonicalItem) Source() domain.Source { return domain.SourceCanonical }
func (*CanonicalItem) isInput() {}

// Detect sniffs the shape of a raw item. It is the fallback used when no
// source hint is given: indicators plus thesis means an external scan
// item, enrichErrors or prefiltered means an enrichment item, anything
// else is treated as canonical.
func Detect(raw json.RawMessage) domain.Source {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return domain.SourceCanonical
	}
	_, hasIndicators := keys["indicators"]
	_, hasThesis := keys["thesis"]
	if hasIndicators && hasThesis {
		return domain.SourceScreener
	}
	if _, ok := keys["enrichErrors"]; ok {
		return domain.SourceEnrichment
	}
	if _, ok := keys["prefiltered"]; ok {
		return domain.SourceEnrichment
	}
	return domain.SourceCanonical
}

// Decode parses raw into the variant for src, sniffing when src is SourceAuto.
func Decode(raw json.RawMessage, src domain.Source) (Input, error) {
	if src == domain.SourceAuto {
		src = Detect(raw)
	}

	var in Input
	switch src {
	case domain.SourceScreener:
		in = &ScreenerItem{}
	case domain.SourceEnrichment, domain.SourceColdTape:
		in = &EnrichmentItem{}
	case domain.SourceCanonical:
		in = &CanonicalItem{}
	default:
		return nil, fmt.Errorf("unknown source %q", src)
	}
	if err := json.Unmarshal(raw, in); err != nil {
		return nil, fmt.Errorf("decode %s item: %w", src, err)
	}
	return in, nil
}

// ErrBadBatch is returned by DecodeBatch for payloads of any other shape.
var ErrBadBatch = errors.New(`payload must be a JSON array or {"items": [...]}`)

// DecodeBatch splits a JSON array or an {"items": [...]} envelope into raw items.
func DecodeBatch(body []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}
	var envelope struct {
		Items *[]json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Items == nil {
		return nil, ErrBadBatch
	}
	return *envelope.Items, nil
}

func thesisText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Summary)
	}
	return ""
}
