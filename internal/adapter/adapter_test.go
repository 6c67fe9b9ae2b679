package adapter

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/idhash"
)

var fixedNow = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func newTestAdapter() *Adapter {
	return New(Options{Clock: func() time.Time { return fixedNow }})
}

func f64(v float64) *float64 { return &v }

const screenerJSON = `{
	"ticker": "abcd",
	"symbol": "abcd",
	"price": 4.12,
	"score": 82,
	"action": "",
	"thesis": "Micro-cap $4.12. strong momentum (+12.0% 5d). FDA approval expected",
	"rel_vol_30m": 3.4,
	"indicators": {"relvol": 3.4, "ret_5d": 12.0, "ret_21d": 30.5, "atr_pct": 7.5, "avg_dollar": 2500000},
	"short_interest": 24.5,
	"timestamp": 1772460000
}`

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want domain.Source
	}{
		{"screener", screenerJSON, domain.SourceScreener},
		{"indicators only", `{"symbol":"X","indicators":{}}`, domain.SourceCanonical},
		{"enrich errors", `{"symbol":"X","enrichErrors":{}}`, domain.SourceEnrichment},
		{"prefiltered", `{"symbol":"X","prefiltered":true}`, domain.SourceEnrichment},
		{"canonical", `{"ticker":"X","score":50}`, domain.SourceCanonical},
		{"not an object", `[1,2]`, domain.SourceCanonical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(json.RawMessage(tt.raw)))
		})
	}
}

func TestDecode_HintOverridesSniffing(t *testing.T) {
	in, err := Decode(json.RawMessage(`{"ticker":"AAA","score":10,"prefiltered":true}`), domain.SourceCanonical)
	require.NoError(t, err)
	_, ok := in.(*CanonicalItem)
	assert.True(t, ok)

	in, err = Decode(json.RawMessage(screenerJSON), domain.SourceAuto)
	require.NoError(t, err)
	_, ok = in.(*ScreenerItem)
	assert.True(t, ok)

	_, err = Decode(json.RawMessage(`{"ticker": 5}`), domain.SourceCanonical)
	assert.Error(t, err)
}

func TestFromScreener(t *testing.T) {
	in, err := Decode(json.RawMessage(screenerJSON), domain.SourceAuto)
	require.NoError(t, err)

	rec, err := newTestAdapter().Adapt(in)
	require.NoError(t, err)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "ABCD", rec.Ticker)
	assert.Equal(t, day, rec.Day)
	assert.Equal(t, idhash.ComputeDiscoveryID("ABCD", day), rec.ID)
	assert.Equal(t, 82.0, rec.Score)
	assert.Equal(t, "BUY", rec.Action)
	assert.Equal(t, domain.SourceScreener, rec.Source)
	require.NotNil(t, rec.RelVol)
	assert.Equal(t, 3.4, *rec.RelVol)
	require.NotNil(t, rec.ATRPct)
	assert.Equal(t, 7.5, *rec.ATRPct)
	require.NotNil(t, rec.Catalyst)
	assert.Equal(t, "fda", *rec.Catalyst)

	// momentum, squeeze and catalyst groups are present
	assert.Equal(t, domain.ConfidenceHigh, rec.Confidence)
	assert.Contains(t, rec.Reasons, "High short interest 24.5%")
	assert.Contains(t, rec.Reasons, "Volume spike 3.4x")
	assert.Contains(t, rec.Reasons, "Catalyst: fda")

	assert.Equal(t, "screener", rec.Meta[MetaSource])
	assert.Equal(t, false, rec.Meta[MetaSynthetic])
	assert.Equal(t, fixedNow.Format(time.RFC3339), rec.Meta[MetaAdaptedAt])
	assert.Equal(t, 12.0, rec.Meta["ret_5d"])
}

func TestFromEnrichment_Confidence(t *testing.T) {
	a := newTestAdapter()
	rich := &EnrichmentItem{
		Symbol:     "rich",
		Price:      6,
		Score:      70,
		Tier:       domain.TierEarlyReady,
		Momentum:   &domain.MomentumData{RelVol: 2.5, RSI: 60},
		Squeeze:    &domain.SqueezeData{ShortPct: 30, FeePct: 25, UtilPct: 90},
		Options:    &domain.OptionsData{CallPutRatio: 2.2, IVPercentile: 85},
		Components: &domain.SubScores{VolumeMomentum: 0.7},
	}

	rec, err := a.Adapt(rich)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceHigh, rec.Confidence)
	assert.Equal(t, "EARLY_READY", rec.Action)
	assert.Equal(t, 0.7, rec.Components().VolumeMomentum)
	assert.NotNil(t, rec.Meta["targets"])
	assert.Equal(t, 80, rec.Meta["squeeze_risk"])

	noisy := *rich
	noisy.EnrichErrors = map[string]string{"sentiment": "429", "catalyst": "ETIMEDOUT"}
	rec, err = a.Adapt(&noisy)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceLow, rec.Confidence, "two provider failures")

	sparse := &EnrichmentItem{Symbol: "THIN", Price: 2, Score: 55, Momentum: &domain.MomentumData{RelVol: 1.1}}
	rec, err = a.Adapt(sparse)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceLow, rec.Confidence)
	assert.Equal(t, "MONITOR", rec.Action)

	explicit := *sparse
	explicit.Confidence = "HIGH"
	rec, err = a.Adapt(&explicit)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceHigh, rec.Confidence, "explicit confidence wins")
}

func TestFromEnrichment_SyntheticIsAlwaysLow(t *testing.T) {
	seed := &EnrichmentItem{
		Symbol:     "SEED",
		Price:      3,
		Score:      60,
		Tier:       domain.TierWatch,
		Confidence: "high",
		Momentum:   &domain.MomentumData{RelVol: 2},
		Squeeze:    &domain.SqueezeData{ShortPct: 25},
		Options:    &domain.OptionsData{IVPercentile: 90},
		Synthetic:  true,
		ColdTape:   true,
		Rationale:  "cold-tape seed: best raw volume signal",
	}
	rec, err := newTestAdapter().Adapt(seed)
	require.NoError(t, err)
	assert.True(t, rec.Synthetic)
	assert.Equal(t, domain.ConfidenceLow, rec.Confidence)
	assert.Equal(t, domain.SourceColdTape, rec.Source)
	assert.Equal(t, "WATCHLIST", rec.Action)
	assert.Equal(t, true, rec.Meta[MetaSynthetic])
	require.NotEmpty(t, rec.Reasons)
	assert.Equal(t, seed.Rationale, rec.Reasons[0])
}

func TestFromCanonical(t *testing.T) {
	a := newTestAdapter()
	item := &CanonicalItem{
		Ticker:     " xyz ",
		Day:        "2026-02-27",
		Score:      66,
		Price:      f64(12),
		Confidence: "high",
		RSI:        f64(55),
		Reasons:    []string{"manual pick"},
		Meta:       map[string]any{"desk": "alpha"},
	}
	rec, err := a.Adapt(item)
	require.NoError(t, err)
	assert.Equal(t, "XYZ", rec.Ticker)
	assert.Equal(t, time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC), rec.Day)
	assert.Equal(t, []string{"manual pick"}, rec.Reasons)
	assert.Equal(t, "alpha", rec.Meta["desk"])
	assert.Equal(t, "canonical", rec.Meta[MetaSource])
	assert.Equal(t, "EARLY_READY", rec.Action)

	_, err = a.Adapt(&CanonicalItem{Ticker: "BAD", Day: "27/02/2026", Score: 1})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = a.Adapt(&CanonicalItem{Ticker: "BAD", Score: 1, Confidence: "medium"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestAdapt_RejectsInvalid(t *testing.T) {
	a := newTestAdapter()

	_, err := a.Adapt(&CanonicalItem{Ticker: "", Score: 50})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRecord))
	assert.Contains(t, err.Error(), "ticker")

	_, err = a.Adapt(&CanonicalItem{Ticker: "ABC", Score: 150})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "score")

	_, err = a.Adapt(nil)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestValidate(t *testing.T) {
	valid := func() *domain.DiscoveryRecord {
		return &domain.DiscoveryRecord{Ticker: "ABC", Score: 50, Confidence: domain.ConfidenceLow}
	}
	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(r *domain.DiscoveryRecord)
		want   string
	}{
		{"long ticker", func(r *domain.DiscoveryRecord) { r.Ticker = "ABCDEFGHIJK" }, "ticker"},
		{"lower ticker", func(r *domain.DiscoveryRecord) { r.Ticker = "abc" }, "uppercase"},
		{"space in ticker", func(r *domain.DiscoveryRecord) { r.Ticker = "A B" }, "whitespace"},
		{"negative score", func(r *domain.DiscoveryRecord) { r.Score = -1 }, "score"},
		{"zero price", func(r *domain.DiscoveryRecord) { r.Price = f64(0) }, "price"},
		{"confidence", func(r *domain.DiscoveryRecord) { r.Confidence = "" }, "confidence"},
		{"rel vol", func(r *domain.DiscoveryRecord) { r.RelVol = f64(-0.1) }, "relVol"},
		{"rsi", func(r *domain.DiscoveryRecord) { r.RSI = f64(101) }, "rsi"},
		{"utilization", func(r *domain.DiscoveryRecord) { r.UtilizationPct = f64(120) }, "utilizationPct"},
		{"iv", func(r *domain.DiscoveryRecord) { r.IVPercentile = f64(-5) }, "ivPercentile"},
		{"call put", func(r *domain.DiscoveryRecord) { r.CallPutRatio = f64(-1) }, "callPutRatio"},
		{"sentiment", func(r *domain.DiscoveryRecord) { r.SentimentScore = f64(1.5) }, "sentimentScore"},
		{"fee", func(r *domain.DiscoveryRecord) { r.BorrowFeePct = f64(-3) }, "borrowFeePct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := Validate(r)
			require.ErrorIs(t, err, ErrInvalidRecord)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	r := valid()
	r.VWAPDistPct = f64(-40)
	assert.NoError(t, Validate(r), "vwap distance is unconstrained")
}

func TestInferCatalyst(t *testing.T) {
	assert.Equal(t, "fda", InferCatalyst("Phase 3 trial readout"))
	assert.Equal(t, "mna", InferCatalyst("", "Company agrees to merger"))
	assert.Equal(t, "earnings", InferCatalyst("Q3 EPS beat"))
	assert.Equal(t, "insider", InferCatalyst("CEO buys shares"))
	assert.Equal(t, "contract", InferCatalyst("wins defense contract"))
	assert.Equal(t, "", InferCatalyst("quiet tape"))
	assert.Equal(t, "", InferCatalyst())
}

func TestDeriveConfidence(t *testing.T) {
	assert.Equal(t, domain.ConfidenceHigh, DeriveConfidence("", 3, 1, false))
	assert.Equal(t, domain.ConfidenceLow, DeriveConfidence("", 3, 2, false))
	assert.Equal(t, domain.ConfidenceLow, DeriveConfidence("", 2, 0, false))
	assert.Equal(t, domain.ConfidenceLow, DeriveConfidence("high", 6, 0, true))
	assert.Equal(t, domain.ConfidenceLow, DeriveConfidence("low", 6, 0, false))
	assert.Equal(t, domain.ConfidenceHigh, DeriveConfidence("bogus", 4, 0, false))
}

func TestEnrichmentFromScored(t *testing.T) {
	sc := &domain.ScoredCandidate{
		Enriched:  &domain.EnrichedCandidate{Symbol: "QQQ", Price: 400, BaseScore: 30, EnrichErrors: map[string]string{"options": "OTHER"}},
		SubScores: domain.SubScores{Catalyst: 1},
		Score:     74,
		RawScore:  81,
		Tier:      domain.TierEarlyReady,
		ColdTape:  true,
		Capped:    true,
	}
	item := EnrichmentFromScored(sc)
	assert.Equal(t, "QQQ", item.Symbol)
	assert.Equal(t, 74, item.Score)
	assert.Equal(t, 81, item.RawScore)
	assert.True(t, item.Prefiltered)
	assert.Equal(t, 1.0, item.Components.Catalyst)
	assert.Equal(t, "OTHER", item.EnrichErrors["options"])

	raw, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceEnrichment, Detect(raw))
}

func TestDecodeBatch(t *testing.T) {
	items, err := DecodeBatch([]byte(`[{"ticker":"A"},{"ticker":"B"}]`))
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = DecodeBatch([]byte(`{"items":[{"ticker":"A"}],"count":1}`))
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = DecodeBatch([]byte(`{"items":[]}`))
	require.NoError(t, err)
	assert.Empty(t, items)

	for _, body := range []string{`{"ticker":"A"}`, `"x"`, `not json`} {
		_, err := DecodeBatch([]byte(body))
		assert.ErrorIs(t, err, ErrBadBatch, body)
	}
}
