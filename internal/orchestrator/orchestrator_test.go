package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squeeze-discovery/internal/adapter"
	"squeeze-discovery/internal/coldtape"
	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/enrich"
	"squeeze-discovery/internal/ingestion"
	"squeeze-discovery/internal/scoring"
	"squeeze-discovery/internal/screener"
	"squeeze-discovery/internal/storage"
	"squeeze-discovery/internal/storage/memory"
)

var now = time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu     sync.Mutex
	items  []json.RawMessage
	err    error
	forced bool
	calls  int
}

func (g *fakeGateway) RunSingleton(_ context.Context, _ screener.RunOptions) (*domain.ScreenerRunResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &domain.ScreenerRunResult{RunID: "run-1", Items: g.items, Count: len(g.items)}, nil
}

func (g *fakeGateway) ForcedCacheMode() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.forced
}

type fakeEnricher struct {
	mu         sync.Mutex
	candidates map[string]*domain.EnrichedCandidate
	requested  []string
	lastReq    enrich.Request
	block      chan struct{}
	started    chan struct{}
}

func (e *fakeEnricher) Enrich(_ context.Context, symbols []string, req enrich.Request) *enrich.Result {
	if e.started != nil {
		close(e.started)
	}
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requested = append([]string(nil), symbols...)
	e.lastReq = req
	res := &enrich.Result{Telemetry: enrich.Telemetry{Requested: len(symbols)}}
	for _, s := range symbols {
		if c, ok := e.candidates[s]; ok {
			cp := *c
			cp.BaseScore = req.BaseScores[s]
			res.Candidates = append(res.Candidates, &cp)
			res.Telemetry.Succeeded++
		}
	}
	return res
}

func scanItem(t *testing.T, symbol string, price, volume, prevVolume, score float64) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"symbol":      symbol,
		"price":       price,
		"volume":      volume,
		"prev_volume": prevVolume,
		"prev_close":  price * 0.9,
		"score":       score,
		"thesis":      symbol + " breaking out",
		"indicators":  map[string]any{"relvol": volume / prevVolume},
	})
	require.NoError(t, err)
	return raw
}

func strong(symbol string) *domain.EnrichedCandidate {
	return &domain.EnrichedCandidate{
		Symbol:    symbol,
		Price:     8.4,
		Momentum:  &domain.MomentumData{RelVol: 5, ATRPct: 10, RSI: 80},
		Squeeze:   &domain.SqueezeData{ShortPct: 40, UtilPct: 100, FeePct: 50, FloatM: 8},
		Options:   &domain.OptionsData{CallPutRatio: 3, IVPercentile: 95},
		Social:    &domain.SocialData{Buzz: 5, Sentiment: 0.8},
		Catalyst:  &domain.CatalystData{Type: "fda", AgeHours: 2},
		Technical: &domain.TechnicalData{EMA9: 10.5, EMA20: 10, AboveVWAP: true},
	}
}

type harness struct {
	gateway     *fakeGateway
	enricher    *fakeEnricher
	discoveries *memory.DiscoveryStore
	snapshots   *memory.ScoreSnapshotStore
	checkpoints *memory.ScanCheckpointStore
	coldTape    *coldtape.Controller
	clock       *time.Time
	orch        *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := now
	h := &harness{
		gateway:     &fakeGateway{},
		enricher:    &fakeEnricher{candidates: map[string]*domain.EnrichedCandidate{}},
		discoveries: memory.NewDiscoveryStore(),
		snapshots:   memory.NewScoreSnapshotStore(),
		checkpoints: memory.NewScanCheckpointStore(),
		clock:       &clock,
	}
	clockFn := func() time.Time { return *h.clock }
	h.coldTape = coldtape.NewController(coldtape.Options{Enabled: true, Clock: clockFn})

	svc := ingestion.NewService(ingestion.Options{
		Store:   h.discoveries,
		Adapter: adapter.New(adapter.Options{Clock: clockFn}),
	})
	h.orch = New(Options{
		Sources: []UniverseSource{
			&LiveScanSource{Gateway: h.gateway, Checkpoints: h.checkpoints, Clock: clockFn},
			&LastGoodSource{Checkpoints: h.checkpoints, MaxAge: time.Hour, Clock: clockFn},
		},
		Gateway:     h.gateway,
		Enricher:    h.enricher,
		ColdTape:    h.coldTape,
		Ingester:    svc,
		Discoveries: h.discoveries,
		Snapshots:   h.snapshots,
		Clock:       clockFn,
	})
	return h
}

func TestTick_LiveScan(t *testing.T) {
	h := newHarness(t)
	h.gateway.items = []json.RawMessage{
		scanItem(t, "SQZ", 8.4, 3_000_000, 1_000_000, 90),
		scanItem(t, "LOW", 0.5, 3_000_000, 1_000_000, 50), // price gate
		scanItem(t, "MEH", 20, 1_200_000, 1_000_000, 40),  // rvol gate
		json.RawMessage(`{"symbol":"NOPRICE"}`),
	}
	h.enricher.candidates["SQZ"] = strong("SQZ")

	res, err := h.orch.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceLiveScan, res.ServedBy)
	assert.Equal(t, 3, res.Universe)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Prefilter.Passed)
	assert.Equal(t, []string{"SQZ"}, h.enricher.requested)
	assert.Equal(t, 90.0, h.enricher.lastReq.BaseScores["SQZ"])
	assert.Equal(t, "SQZ breaking out", h.enricher.lastReq.Theses["SQZ"])

	require.Len(t, res.Scored, 1)
	assert.Equal(t, domain.TierTradeReady, res.Scored[0].Tier)
	assert.Equal(t, 1, res.Tiers[domain.TierTradeReady])
	assert.False(t, res.ColdTape)

	require.NotNil(t, res.Ingest)
	assert.True(t, res.Ingest.Success)
	assert.Equal(t, 1, res.Ingest.Inserted)
	assert.Equal(t, 1, res.Snapshots)

	rec, err := h.discoveries.GetBySymbolDay(context.Background(), "SQZ", now)
	require.NoError(t, err)
	assert.Equal(t, "BUY", rec.Action)
	assert.Equal(t, domain.SourceEnrichment, rec.Source)

	snaps, err := h.snapshots.GetBySymbol(context.Background(), "SQZ", 0, now.Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, domain.TierTradeReady, snaps[0].Tier)

	cp, err := h.checkpoints.GetLastGood(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", cp.RunID)
	assert.Len(t, cp.Items, 4)
}

func TestTick_FallsBackToLastGood(t *testing.T) {
	h := newHarness(t)
	h.enricher.candidates["SQZ"] = strong("SQZ")
	require.NoError(t, h.checkpoints.SaveLastGood(context.Background(), &storage.ScanCheckpoint{
		RunID:   "prev",
		Items:   []json.RawMessage{scanItem(t, "SQZ", 8.4, 3_000_000, 1_000_000, 90)},
		SavedAt: now.Add(-10 * time.Minute),
	}))
	h.gateway.err = &screener.CircuitOpenError{Class: domain.FailureAuth, Until: now.Add(5 * time.Minute)}
	h.gateway.forced = true

	res, err := h.orch.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceLastGood, res.ServedBy)
	assert.Contains(t, res.SourceErrors, SourceLiveScan)
	assert.True(t, h.enricher.lastReq.ForcedCache)
	require.Len(t, res.Scored, 1)
}

func TestTick_StaleCheckpointFallsThroughToEmpty(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.checkpoints.SaveLastGood(context.Background(), &storage.ScanCheckpoint{
		RunID:   "old",
		Items:   []json.RawMessage{scanItem(t, "SQZ", 8.4, 3_000_000, 1_000_000, 90)},
		SavedAt: now.Add(-2 * time.Hour),
	}))
	h.gateway.err = errors.New("exit 1")

	res, err := h.orch.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceEmpty, res.ServedBy)
	assert.Contains(t, res.SourceErrors, SourceLiveScan)
	assert.Contains(t, res.SourceErrors, SourceLastGood)
	assert.Zero(t, res.Universe)
	assert.Nil(t, h.enricher.requested)
}

func TestTick_ColdTapeSeedsWhenEmpty(t *testing.T) {
	h := newHarness(t)

	// Idle for longer than the window.
	*h.clock = now.Add(601 * time.Second)
	res, err := h.orch.Tick(context.Background())
	require.NoError(t, err)

	assert.True(t, res.ColdTape)
	assert.Equal(t, 10, res.Seeds)
	require.Len(t, res.Scored, 10)
	for _, sc := range res.Scored {
		assert.True(t, sc.Synthetic)
		assert.LessOrEqual(t, sc.Score, 74)
	}

	require.NotNil(t, res.Ingest)
	assert.Equal(t, 10, res.Ingest.Inserted)
	rec, err := h.discoveries.GetBySymbolDay(context.Background(), "SPY", *h.clock)
	require.NoError(t, err)
	assert.True(t, rec.Synthetic)
	assert.Equal(t, domain.SourceColdTape, rec.Source)
	assert.Equal(t, domain.ConfidenceLow, rec.Confidence)
}

func TestTick_ColdTapeRetiersUntilTradeReady(t *testing.T) {
	h := newHarness(t)
	h.gateway.items = []json.RawMessage{scanItem(t, "SQZ", 8.4, 3_000_000, 1_000_000, 90)}

	// Nothing trade-ready for longer than the window.
	*h.clock = now.Add(601 * time.Second)
	_, err := h.orch.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, h.coldTape.Active())

	full := strong("SQZ")
	h.enricher.candidates["SQZ"] = &domain.EnrichedCandidate{
		Symbol:   "SQZ",
		Price:    8.4,
		Momentum: full.Momentum,
		Catalyst: full.Catalyst,
	}
	res, err := h.orch.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Scored, 1)
	assert.True(t, res.ColdTape)
	assert.True(t, res.Scored[0].ColdTape)
	assert.LessOrEqual(t, res.Scored[0].Score, 74)
	assert.Equal(t, domain.TierEarlyReady, res.Scored[0].Tier)
	assert.Zero(t, res.Seeds)

	h.enricher.candidates["SQZ"] = full
	res, err = h.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, res.ColdTape)
	assert.Equal(t, domain.TierTradeReady, res.Scored[0].Tier)
	assert.False(t, res.Scored[0].Capped)
}

func TestTick_ColdTapeRelaxedFloorsNeverTradeReady(t *testing.T) {
	h := newHarness(t)
	h.gateway.items = []json.RawMessage{scanItem(t, "SQZ", 8.4, 3_000_000, 1_000_000, 90)}

	*h.clock = now.Add(601 * time.Second)
	_, err := h.orch.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, h.coldTape.Active())

	// Short of the base ATR and RSI floors, above the relaxed ones.
	cand := strong("SQZ")
	cand.Momentum = &domain.MomentumData{RelVol: 5, ATRPct: 2.5, RSI: 59}
	h.enricher.candidates["SQZ"] = cand

	scorer := scoring.NewScorer(scoring.DefaultWeights(), scoring.DefaultTierThresholds())
	withBase := *cand
	withBase.BaseScore = 90
	require.NotEqual(t, domain.TierTradeReady, scorer.Score(&withBase, scoring.DefaultThresholds()).Tier)
	require.Equal(t, domain.TierTradeReady, scorer.Score(&withBase, h.coldTape.Thresholds(scoring.DefaultThresholds())).Tier)

	res, err := h.orch.Tick(context.Background())
	require.NoError(t, err)

	assert.True(t, res.ColdTape)
	assert.True(t, h.coldTape.Active())
	require.Len(t, res.Scored, 1)
	sc := res.Scored[0]
	assert.True(t, sc.ColdTape)
	assert.True(t, sc.Capped)
	assert.LessOrEqual(t, sc.Score, 74)
	assert.NotEqual(t, domain.TierTradeReady, sc.Tier)
	assert.Zero(t, res.Tiers[domain.TierTradeReady])

	rec, err := h.discoveries.GetBySymbolDay(context.Background(), "SQZ", *h.clock)
	require.NoError(t, err)
	assert.NotEqual(t, "BUY", rec.Action)
	assert.LessOrEqual(t, rec.Score, 74.0)
}

func TestTick_SingleRunGuard(t *testing.T) {
	h := newHarness(t)
	h.gateway.items = []json.RawMessage{scanItem(t, "SQZ", 8.4, 3_000_000, 1_000_000, 90)}
	h.enricher.candidates["SQZ"] = strong("SQZ")
	h.enricher.block = make(chan struct{})
	h.enricher.started = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Tick(context.Background())
		done <- err
	}()
	<-h.enricher.started

	_, err := h.orch.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)
	assert.True(t, h.orch.Status().Running)

	close(h.enricher.block)
	require.NoError(t, <-done)

	st := h.orch.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 1, st.Ticks)
	assert.Equal(t, 1, h.gateway.calls)
}

func TestCandidates_FallbackChain(t *testing.T) {
	h := newHarness(t)

	list := h.orch.Candidates(context.Background())
	assert.Equal(t, CandidatesEmpty, list.Source)
	assert.NotEmpty(t, list.Reason)
	assert.NotNil(t, list.Items)

	h.gateway.items = []json.RawMessage{scanItem(t, "SQZ", 8.4, 3_000_000, 1_000_000, 90)}
	h.enricher.candidates["SQZ"] = strong("SQZ")
	_, err := h.orch.Tick(context.Background())
	require.NoError(t, err)

	list = h.orch.Candidates(context.Background())
	assert.Equal(t, CandidatesFromRanking, list.Source)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "SQZ", list.Items[0].Symbol)
	assert.Equal(t, "2026-03-03", list.Day)
}

func TestCandidates_LastTickWithoutStore(t *testing.T) {
	gw := &fakeGateway{items: []json.RawMessage{scanItem(t, "SQZ", 8.4, 3_000_000, 1_000_000, 90)}}
	orch := New(Options{
		Sources:  []UniverseSource{&LiveScanSource{Gateway: gw}},
		Enricher: &fakeEnricher{candidates: map[string]*domain.EnrichedCandidate{"SQZ": strong("SQZ")}},
		Clock:    func() time.Time { return now },
	})

	_, err := orch.Tick(context.Background())
	require.NoError(t, err)

	list := orch.Candidates(context.Background())
	assert.Equal(t, CandidatesFromLastTick, list.Source)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "BUY", list.Items[0].Action)
	require.NotNil(t, list.Items[0].Price)
	assert.Equal(t, 8.4, *list.Items[0].Price)
}

func TestDecodeUniverse(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`{"ticker":"abc","price":4,"short_interest":25,"utilization":90,"indicators":{"relvol":3,"avg_dollar":4000000}}`),
		json.RawMessage(`{"symbol":"XYZ","price":10,"volume":900000,"avg_volume":300000,"prev_close":8}`),
		json.RawMessage(`not json`),
	}
	items, skipped := decodeUniverse(raw)
	require.Len(t, items, 2)
	assert.Equal(t, 1, skipped)

	abc := items[0].snapshot
	assert.Equal(t, "ABC", abc.Symbol)
	assert.InDelta(t, 1_000_000, abc.PrevVolume, 1e-6)
	assert.InDelta(t, 3_000_000, abc.Volume, 1e-6)
	require.NotNil(t, abc.ShortInterest)
	assert.InDelta(t, 0.25, *abc.ShortInterest, 1e-9)
	assert.InDelta(t, 0.90, *abc.Utilization, 1e-9)

	xyz := items[1].snapshot
	assert.Equal(t, 900_000.0, xyz.Volume)
	assert.Equal(t, 300_000.0, xyz.PrevVolume)
	assert.Equal(t, 8.0, xyz.PrevClose)
}
