// Package adapter normalizes heterogeneous upstream payloads into canonical
// discovery records.
package adapter

import (
	"fmt"
	"strings"
	"time"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/idhash"
	"squeeze-discovery/internal/scoring"
)

// Meta keys set on every adapted record.
const (
	MetaSource    = "source"
	MetaAdaptedAt = "adapted_at"
	MetaSynthetic = "synthetic"
)

// Options configures an Adapter.
type Options struct {
	Tiers       scoring.TierThresholds // used when an item carries no action
	HorizonDays int
	Clock       func() time.Time
}

// Adapter converts typed inputs into validated discovery records.
type Adapter struct {
	opts Options
}

// New creates an Adapter with defaults for unset options.
func New(opts Options) *Adapter {
	if opts.Tiers == (scoring.TierThresholds{}) {
		opts.Tiers = scoring.DefaultTierThresholds()
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = domain.DefaultHorizonDays
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Adapter{opts: opts}
}

// Adapt converts in and validates the result.
func (a *Adapter) Adapt(in Input) (*domain.DiscoveryRecord, error) {
	var (
		rec *domain.DiscoveryRecord
		err error
	)
	switch v := in.(type) {
	case *ScreenerItem:
		rec, err = a.FromScreener(v)
	case *EnrichmentItem:
		rec, err = a.FromEnrichment(v)
	case *CanonicalItem:
		rec, err = a.FromCanonical(v)
	case nil:
		return nil, fmt.Errorf("%w: nil input", ErrInvalidRecord)
	default:
		return nil, fmt.Errorf("%w: unsupported input %T", ErrInvalidRecord, in)
	}
	if err != nil {
		return nil, err
	}
	if err := Validate(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// FromScreener converts an external scan item.
func (a *Adapter) FromScreener(item *ScreenerItem) (*domain.DiscoveryRecord, error) {
	now := a.opts.Clock()
	at := now
	if item.Timestamp > 0 {
		sec := int64(item.Timestamp)
		at = time.Unix(sec, int64((item.Timestamp-float64(sec))*1e9)).UTC()
	}

	rec := a.base(pick(item.Ticker, item.Symbol), item.Score, at, now)
	rec.Source = domain.SourceScreener
	rec.Synthetic = item.Synthetic
	rec.Price = item.Price

	if ind := item.Indicators; ind != nil {
		rec.RelVol = ind.RelVol
		rec.ATRPct = ind.ATRPct
	}
	if rec.RelVol == nil {
		rec.RelVol = item.RelVol30m
	}
	rec.RSI = item.RSI
	rec.VWAPDistPct = item.VWAPDistPct
	rec.ShortInterestPct = item.ShortInterest
	rec.BorrowFeePct = item.BorrowFee
	rec.UtilizationPct = item.Utilization
	rec.IVPercentile = item.IVPercentile
	rec.CallPutRatio = item.CallPutRatio
	rec.SentimentScore = item.SentimentScore

	thesis := item.ThesisText()
	rec.Catalyst = catalyst(item.Catalyst, thesis)
	rec.Action = a.action(item.Action, rec.Score)
	rec.Confidence = DeriveConfidence(item.Confidence, recordSections(rec), 0, rec.Synthetic)
	rec.Reasons = Reasons(rec)

	if thesis != "" {
		rec.Meta["thesis"] = thesis
	}
	if ind := item.Indicators; ind != nil {
		if ind.Ret5d != nil {
			rec.Meta["ret_5d"] = *ind.Ret5d
		}
		if ind.Ret21d != nil {
			rec.Meta["ret_21d"] = *ind.Ret21d
		}
		if ind.AvgDollar != nil {
			rec.Meta["avg_dollar"] = *ind.AvgDollar
		}
	}
	if len(item.Targets) > 0 {
		rec.Meta["targets"] = item.Targets
	}
	a.finish(rec, now)
	return rec, nil
}

// FromEnrichment converts a scored enrichment result.
func (a *Adapter) FromEnrichment(item *EnrichmentItem) (*domain.DiscoveryRecord, error) {
	now := a.opts.Clock()
	rec := a.base(item.Symbol, float64(item.Score), now, now)
	rec.Source = domain.SourceEnrichment
	if item.Synthetic {
		rec.Source = domain.SourceColdTape
	}
	rec.Synthetic = item.Synthetic
	if item.Price != 0 {
		rec.Price = ptr(item.Price)
	}

	if m := item.Momentum; m != nil {
		rec.RelVol = ptr(m.RelVol)
		rec.ATRPct = ptr(m.ATRPct)
		rec.RSI = ptr(m.RSI)
		rec.VWAPDistPct = ptr(m.VWAPDistPct)
	}
	if q := item.Squeeze; q != nil {
		rec.ShortInterestPct = ptr(q.ShortPct)
		rec.BorrowFeePct = ptr(q.FeePct)
		rec.UtilizationPct = ptr(q.UtilPct)
	}
	if o := item.Options; o != nil {
		rec.IVPercentile = ptr(o.IVPercentile)
		rec.CallPutRatio = ptr(o.CallPutRatio)
	}
	if s := item.Social; s != nil {
		rec.SentimentScore = ptr(s.Sentiment)
	}

	structured := ""
	headline := ""
	if c := item.Catalyst; c != nil {
		structured = c.Type
		headline = c.Headline
	}
	rec.Catalyst = catalyst(structured, item.Thesis, headline)

	switch {
	case item.Tier.IsValid():
		rec.Action = item.Tier.Action()
	default:
		rec.Action = a.action("", rec.Score)
	}

	sections := countSections(item)
	rec.Confidence = DeriveConfidence(item.Confidence, sections, len(item.EnrichErrors), rec.Synthetic)

	rec.Reasons = Reasons(rec)
	if item.Synthetic && item.Rationale != "" {
		rec.Reasons = append([]string{item.Rationale}, rec.Reasons...)
	}

	if item.Components != nil {
		rec.Meta[domain.MetaComponents] = *item.Components
	}
	if len(item.EnrichErrors) > 0 {
		rec.Meta["enrich_errors"] = item.EnrichErrors
	}
	if item.Tier != "" {
		rec.Meta["tier"] = string(item.Tier)
	}
	if item.Rationale != "" {
		rec.Meta["rationale"] = item.Rationale
	}
	if item.ColdTape {
		rec.Meta["cold_tape"] = true
		rec.Meta["raw_score"] = item.RawScore
		rec.Meta["capped"] = item.Capped
	}
	if item.FromCache {
		rec.Meta["from_cache"] = true
	}
	if item.BaseScore != 0 {
		rec.Meta["base_score"] = item.BaseScore
	}
	if item.Thesis != "" {
		rec.Meta["thesis"] = item.Thesis
	}
	if q := item.Squeeze; q != nil {
		rec.Meta["squeeze_risk"] = scoring.SqueezeRisk(q.ShortPct, q.FeePct, q.UtilPct, q.FloatM)
	}
	if t := scoring.EntryTargets(item.Price, item.Score, 0); t != nil {
		rec.Meta["targets"] = t
	}
	a.finish(rec, now)
	return rec, nil
}

// FromCanonical converts an item already in canonical shape.
func (a *Adapter) FromCanonical(item *CanonicalItem) (*domain.DiscoveryRecord, error) {
	now := a.opts.Clock()
	at := now
	if item.Day != "" {
		d, err := time.Parse(time.DateOnly, item.Day)
		if err != nil {
			return nil, fmt.Errorf("%w: day %q: %v", ErrInvalidRecord, item.Day, err)
		}
		at = d
	}

	rec := a.base(pick(item.Ticker, item.Symbol), item.Score, at, now)
	rec.Source = domain.SourceCanonical
	rec.Synthetic = item.Synthetic
	rec.Price = item.Price
	rec.RelVol = item.RelVol
	rec.ATRPct = item.ATRPct
	rec.RSI = item.RSI
	rec.VWAPDistPct = item.VWAPDistPct
	rec.ShortInterestPct = item.ShortInterestPct
	rec.BorrowFeePct = item.BorrowFeePct
	rec.UtilizationPct = item.UtilizationPct
	rec.IVPercentile = item.IVPercentile
	rec.CallPutRatio = item.CallPutRatio
	rec.SentimentScore = item.SentimentScore
	rec.Catalyst = item.Catalyst
	rec.Action = a.action(item.Action, rec.Score)

	if item.Confidence != "" && !item.Synthetic {
		// Explicit values are validated as given rather than coerced.
		rec.Confidence = domain.Confidence(item.Confidence)
	} else {
		rec.Confidence = DeriveConfidence("", recordSections(rec), 0, rec.Synthetic)
	}

	rec.Reasons = item.Reasons
	if len(rec.Reasons) == 0 {
		rec.Reasons = Reasons(rec)
	}
	for k, v := range item.Meta {
		rec.Meta[k] = v
	}
	a.finish(rec, now)
	return rec, nil
}

// base fills identity and bookkeeping fields.
func (a *Adapter) base(ticker string, score float64, at, now time.Time) *domain.DiscoveryRecord {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	day := domain.DayOf(at)
	return &domain.DiscoveryRecord{
		ID:          idhash.ComputeDiscoveryID(ticker, day),
		Ticker:      ticker,
		Day:         day,
		Score:       score,
		EntryAt:     now.UTC(),
		HorizonDays: a.opts.HorizonDays,
		Meta:        make(map[string]any),
	}
}

// finish stamps the meta keys every record carries.
func (a *Adapter) finish(rec *domain.DiscoveryRecord, now time.Time) {
	rec.Meta[MetaSource] = string(rec.Source)
	rec.Meta[MetaAdaptedAt] = now.UTC().Format(time.RFC3339)
	rec.Meta[MetaSynthetic] = rec.Synthetic
	if rec.Reasons == nil {
		rec.Reasons = []string{}
	}
}

func (a *Adapter) action(explicit string, score float64) string {
	if s := strings.ToUpper(strings.TrimSpace(explicit)); s != "" {
		return s
	}
	return scoring.Classify(int(score+0.5), a.opts.Tiers).Action()
}

// catalyst prefers the structured label and falls back to keyword inference.
func catalyst(structured string, texts ...string) *string {
	if s := strings.TrimSpace(structured); s != "" {
		return &s
	}
	if s := InferCatalyst(texts...); s != "" {
		return &s
	}
	return nil
}

func countSections(item *EnrichmentItem) int {
	c := domain.EnrichedCandidate{
		Momentum:  item.Momentum,
		Squeeze:   item.Squeeze,
		Options:   item.Options,
		Social:    item.Social,
		Catalyst:  item.Catalyst,
		Technical: item.Technical,
	}
	return c.SectionCount()
}

func pick(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func ptr(v float64) *float64 { return &v }
