package coldtape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/scoring"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestController(clock *fakeClock) *Controller {
	opts := DefaultOptions()
	opts.Clock = clock.Now
	return NewController(opts)
}

func scored(symbol string, score int, tier domain.Tier, relVol float64, catalyst string) *domain.ScoredCandidate {
	c := &domain.EnrichedCandidate{Symbol: symbol, Price: 10, Momentum: &domain.MomentumData{RelVol: relVol}}
	if catalyst != "" {
		c.Catalyst = &domain.CatalystData{Type: catalyst}
	}
	return &domain.ScoredCandidate{Enriched: c, Score: score, RawScore: score, Tier: tier}
}

func TestController_ActivatesAfterWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)}
	c := newTestController(clock)

	clock.Advance(600 * time.Second)
	assert.False(t, c.Observe(nil), "exactly the window is not enough")
	assert.False(t, c.Active())

	clock.Advance(time.Second)
	assert.True(t, c.Observe(nil))
	require.True(t, c.Active())

	st := c.State()
	assert.Equal(t, clock.now, st.ActiveSince)
	assert.Equal(t, 1, st.Activations)
	require.NotNil(t, st.RelaxedThresholds)
	assert.Equal(t, 50.0, st.RelaxedThresholds.RSIMin)
	assert.Equal(t, 2.0, st.RelaxedThresholds.ATRPctMin)
	assert.Equal(t, 1.2, st.RelaxedThresholds.RelVolMin)
}

func TestController_CapsScoresWhileActive(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)}
	c := newTestController(clock)
	clock.Advance(601 * time.Second)
	c.Observe(nil)
	require.True(t, c.Active())

	out := c.Apply([]*domain.ScoredCandidate{
		scored("HOT", 88, domain.TierTradeReady, 2.0, "fda"),
		scored("WARM", 80, domain.TierTradeReady, 1.0, "fda"),
		scored("COOL", 60, domain.TierMonitor, 3.0, ""),
	})
	require.Len(t, out, 3)
	for _, s := range out {
		assert.LessOrEqual(t, s.Score, 74, s.Symbol())
		assert.NotEqual(t, domain.TierTradeReady, s.Tier, s.Symbol())
		assert.True(t, s.ColdTape)
	}

	bySym := map[string]*domain.ScoredCandidate{}
	for _, s := range out {
		bySym[s.Symbol()] = s
	}
	assert.Equal(t, domain.TierEarlyReady, bySym["HOT"].Tier)
	assert.True(t, bySym["HOT"].Capped)
	assert.Equal(t, 88, bySym["HOT"].RawScore)
	assert.Equal(t, domain.TierWatch, bySym["WARM"].Tier, "relVol below relaxed floor")
	assert.Equal(t, domain.TierWatch, bySym["COOL"].Tier, "no catalyst")
	assert.False(t, bySym["COOL"].Capped)
}

func TestController_InactivePassesThrough(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestController(clock)
	in := []*domain.ScoredCandidate{scored("HOT", 88, domain.TierTradeReady, 2.0, "fda")}
	out := c.Apply(in)
	assert.Equal(t, 88, out[0].Score)
	assert.Equal(t, domain.TierTradeReady, out[0].Tier)
	assert.False(t, out[0].ColdTape)
}

func TestController_DeactivatesOnTradeReady(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)}
	c := newTestController(clock)
	clock.Advance(700 * time.Second)
	c.Observe(nil)
	require.True(t, c.Active())

	clock.Advance(30 * time.Second)
	assert.True(t, c.Observe([]*domain.ScoredCandidate{scored("GO", 80, domain.TierTradeReady, 3, "")}))
	assert.False(t, c.Active())
	st := c.State()
	assert.Nil(t, st.RelaxedThresholds)
	assert.True(t, st.ActiveSince.IsZero())
	assert.Equal(t, clock.now, st.LastTradeReadyAt)

	// The window restarts from the last trade-ready sighting.
	clock.Advance(599 * time.Second)
	assert.False(t, c.Observe(nil))
	clock.Advance(2 * time.Second)
	assert.True(t, c.Observe(nil))
	assert.Equal(t, 2, c.State().Activations)
}

func TestController_Disabled(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	opts := DefaultOptions()
	opts.Enabled = false
	opts.Clock = clock.Now
	c := NewController(opts)

	clock.Advance(time.Hour)
	assert.False(t, c.Observe(nil))
	assert.False(t, c.Active())
}

func TestController_Thresholds(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestController(clock)
	base := scoring.DefaultThresholds()

	assert.Equal(t, base, c.Thresholds(base))
	assert.Equal(t, 1.5, c.PrefilterRVOL(1.5))

	clock.Advance(11 * time.Minute)
	c.Observe(nil)

	got := c.Thresholds(base)
	assert.Equal(t, 50.0, got.RSIMin)
	assert.Equal(t, 2.0, got.ATRPctMin)
	assert.Equal(t, 1.2, got.RelVolMin)
	assert.Equal(t, base.RelVolCeil, got.RelVolCeil)
	assert.Equal(t, 1.2, c.PrefilterRVOL(1.5))
	assert.Equal(t, 1.0, c.PrefilterRVOL(1.0))
}

func activeController(t *testing.T) *Controller {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)}
	c := newTestController(clock)
	clock.Advance(601 * time.Second)
	c.Observe(nil)
	require.True(t, c.Active())
	return c
}

func TestSeed_FromUniverseSignal(t *testing.T) {
	c := activeController(t)
	universe := []domain.CandidateSnapshot{
		{Symbol: "AAA", Price: 3, Volume: 3_000_000, PrevVolume: 1_000_000, PrevClose: 2.5},
		{Symbol: "BBB", Price: 20, Volume: 1_100_000, PrevVolume: 1_000_000, PrevClose: 20},
		{Symbol: "aaa", Price: 3, Volume: 3_000_000, PrevVolume: 1_000_000, PrevClose: 2.5},
		{Symbol: "ZERO", Price: 0, Volume: 1_000_000},
	}

	seeds := c.Seed(nil, universe)
	require.Len(t, seeds, 2)
	assert.Equal(t, "AAA", seeds[0].Symbol())
	for _, s := range seeds {
		assert.True(t, s.Synthetic)
		assert.True(t, s.ColdTape)
		assert.LessOrEqual(t, s.Score, 74)
		assert.Equal(t, domain.TierWatch, s.Tier)
		assert.Contains(t, s.Rationale, "cold-tape seed")
	}
	// relVol 3.0 and price under 5 earn both bonuses
	assert.Equal(t, 60+5+3+Jitter("AAA"), seeds[0].Score)
}

func TestSeed_FallbackTickers(t *testing.T) {
	c := activeController(t)
	seeds := c.Seed(nil, nil)
	require.Len(t, seeds, 10)

	seen := map[string]bool{}
	for _, s := range seeds {
		assert.False(t, seen[s.Symbol()], "duplicate seed %s", s.Symbol())
		seen[s.Symbol()] = true
		assert.True(t, s.Synthetic)
		assert.Equal(t, 55+Jitter(s.Symbol()), s.Score)
		assert.Contains(t, s.Rationale, "fallback ticker")
	}
	assert.True(t, seen["SPY"])
}

func TestSeed_OnlyWhenColdAndEmpty(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	inactive := newTestController(clock)
	assert.Nil(t, inactive.Seed(nil, nil))

	c := activeController(t)
	present := []*domain.ScoredCandidate{scored("X", 60, domain.TierWatch, 1, "")}
	assert.Nil(t, c.Seed(present, nil))
}

func TestJitter_Deterministic(t *testing.T) {
	for _, sym := range []string{"AAPL", "TSLA", "GME"} {
		j := Jitter(sym)
		assert.Equal(t, j, Jitter(sym))
		assert.GreaterOrEqual(t, j, 0)
		assert.Less(t, j, 5)
	}
}
