// Package coldtape relaxes discovery thresholds when no trade-ready
// candidate has been seen for a while, without letting relaxed candidates
// reach the trade-ready tier.
package coldtape

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/logging"
	"squeeze-discovery/internal/observability"
	"squeeze-discovery/internal/prefilter"
	"squeeze-discovery/internal/scoring"
)

// Seed scoring. Signal seeds earn the cold-tape bonuses; every seed gets a
// small per-symbol jitter so seeds do not tie.
const (
	signalSeedBase   = 60
	fallbackSeedBase = 55
	relVolBonus      = 5
	lowPriceBonus    = 3
	lowPrice         = 5.0
	jitterSpan       = 5
)

// Options configures a Controller.
type Options struct {
	Enabled         bool
	Window          time.Duration
	Ceiling         int
	Relaxed         domain.RelaxedThresholds
	MinSeeds        int
	FallbackTickers []string

	Clock  func() time.Time
	Logger *zap.Logger
}

// DefaultOptions returns default controller options.
func DefaultOptions() Options {
	return Options{
		Enabled:  true,
		Window:   600 * time.Second,
		Ceiling:  74,
		Relaxed:  domain.RelaxedThresholds{RSIMin: 50, ATRPctMin: 2.0, RelVolMin: 1.2},
		MinSeeds: 10,
		FallbackTickers: []string{
			"SPY", "QQQ", "IWM", "AAPL", "TSLA", "AMD", "NVDA", "PLTR", "SOFI", "F",
		},
	}
}

// Controller is the INACTIVE/ACTIVE cold-tape state machine. It is safe
// for concurrent use.
type Controller struct {
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	state domain.ColdTapeState
}

// NewController creates a Controller. The window starts counting at creation.
func NewController(opts Options) *Controller {
	def := DefaultOptions()
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = def.Ceiling
	}
	if opts.Relaxed == (domain.RelaxedThresholds{}) {
		opts.Relaxed = def.Relaxed
	}
	if opts.MinSeeds <= 0 {
		opts.MinSeeds = def.MinSeeds
	}
	if len(opts.FallbackTickers) == 0 {
		opts.FallbackTickers = def.FallbackTickers
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	c := &Controller{opts: opts, logger: logging.OrNop(opts.Logger)}
	c.state.LastTradeReadyAt = opts.Clock()
	return c
}

// Observe feeds the tick's candidates into the state machine and reports
// whether the state changed. They must be scored with the base thresholds,
// never the relaxed ones, and before any cap.
func (c *Controller) Observe(scored []*domain.ScoredCandidate) bool {
	now := c.opts.Clock()
	tradeReady := false
	for _, s := range scored {
		if s != nil && s.Tier == domain.TierTradeReady {
			tradeReady = true
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if tradeReady {
		c.state.LastTradeReadyAt = now
		if c.state.Active {
			c.state.Active = false
			c.state.ActiveSince = time.Time{}
			c.state.RelaxedThresholds = nil
			observability.SetColdTape(false, false)
			c.logger.Info("cold tape cleared, trade-ready candidate observed")
			return true
		}
		return false
	}

	if !c.opts.Enabled || c.state.Active {
		return false
	}
	if idle := now.Sub(c.state.LastTradeReadyAt); idle > c.opts.Window {
		relaxed := c.opts.Relaxed
		c.state.Active = true
		c.state.ActiveSince = now
		c.state.RelaxedThresholds = &relaxed
		c.state.Activations++
		observability.SetColdTape(true, true)
		c.logger.Info("cold tape activated",
			zap.Duration("idle", idle),
			zap.Float64("rsi_min", relaxed.RSIMin),
			zap.Float64("atr_pct_min", relaxed.ATRPctMin),
			zap.Float64("rel_vol_min", relaxed.RelVolMin))
		return true
	}
	return false
}

// Active reports whether relaxation is in effect.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Active
}

// State returns a snapshot of the controller state.
func (c *Controller) State() domain.ColdTapeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	if st.RelaxedThresholds != nil {
		r := *st.RelaxedThresholds
		st.RelaxedThresholds = &r
	}
	return st
}

// Thresholds returns base with the relaxed floors overlaid while active.
func (c *Controller) Thresholds(base scoring.Thresholds) scoring.Thresholds {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active || c.state.RelaxedThresholds == nil {
		return base
	}
	r := c.state.RelaxedThresholds
	base.RSIMin = r.RSIMin
	base.ATRPctMin = r.ATRPctMin
	base.RelVolMin = r.RelVolMin
	return base
}

// PrefilterRVOL returns the relative-volume gate for the prefilter: the
// relaxed floor while active if it is lower, else base.
func (c *Controller) PrefilterRVOL(base float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Active && c.state.RelaxedThresholds != nil && c.state.RelaxedThresholds.RelVolMin < base {
		return c.state.RelaxedThresholds.RelVolMin
	}
	return base
}

// Apply caps scores at the ceiling and reassigns tiers while active.
// A capped candidate becomes EARLY_READY only with enough relative volume
// and a known catalyst, otherwise WATCH. Inactive, it returns scored as is.
func (c *Controller) Apply(scored []*domain.ScoredCandidate) []*domain.ScoredCandidate {
	c.mu.Lock()
	active := c.state.Active
	relaxed := c.opts.Relaxed
	if c.state.RelaxedThresholds != nil {
		relaxed = *c.state.RelaxedThresholds
	}
	c.mu.Unlock()

	if !active {
		return scored
	}
	for _, s := range scored {
		if s == nil {
			continue
		}
		s.ColdTape = true
		if s.Score > c.opts.Ceiling {
			s.Score = c.opts.Ceiling
			s.Capped = true
		}
		s.Tier = c.tier(s, relaxed)
	}
	scoring.SortScored(scored)
	return scored
}

func (c *Controller) tier(s *domain.ScoredCandidate, relaxed domain.RelaxedThresholds) domain.Tier {
	if s.Enriched != nil && s.Enriched.RelVol() >= relaxed.RelVolMin && s.Enriched.HasCatalyst() {
		return domain.TierEarlyReady
	}
	return domain.TierWatch
}

// Seed synthesizes up to MinSeeds candidates when the tape is cold and the
// tick produced nothing. Seeds come from the strongest raw volume and price
// signals in universe, or from the fallback tickers when no usable signal
// exists. Symbols already present are never seeded.
func (c *Controller) Seed(present []*domain.ScoredCandidate, universe []domain.CandidateSnapshot) []*domain.ScoredCandidate {
	if !c.Active() || len(present) > 0 {
		return nil
	}

	seen := make(map[string]bool, len(present))
	for _, p := range present {
		seen[p.Symbol()] = true
	}

	type signal struct {
		snap   domain.CandidateSnapshot
		relVol float64
		change float64
		rank   float64
	}
	var signals []signal
	for _, s := range universe {
		if s.Price <= 0 || s.Volume <= 0 || strings.TrimSpace(s.Symbol) == "" {
			continue
		}
		rv := prefilter.RelativeVolume(s.Volume, s.PrevVolume)
		ch := prefilter.ChangePercent(s.Price, s.PrevClose)
		signals = append(signals, signal{snap: s, relVol: rv, change: ch, rank: rv * (1 + ch)})
	}
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].rank != signals[j].rank {
			return signals[i].rank > signals[j].rank
		}
		return signals[i].snap.Symbol < signals[j].snap.Symbol
	})

	var seeds []*domain.ScoredCandidate
	for _, sig := range signals {
		if len(seeds) >= c.opts.MinSeeds {
			break
		}
		sym := strings.ToUpper(strings.TrimSpace(sig.snap.Symbol))
		if seen[sym] {
			continue
		}
		seen[sym] = true

		score := signalSeedBase
		if sig.relVol >= c.opts.Relaxed.RelVolMin {
			score += relVolBonus
		}
		if sig.snap.Price < lowPrice {
			score += lowPriceBonus
		}
		jitter := Jitter(sym)
		seeds = append(seeds, c.seed(sym, sig.snap.Price, &domain.MomentumData{RelVol: sig.relVol}, score+jitter,
			fmt.Sprintf("cold-tape seed: relVol %.2fx, change %.1f%%, jitter +%d", sig.relVol, sig.change*100, jitter)))
	}

	if len(seeds) == 0 {
		for _, t := range c.opts.FallbackTickers {
			if len(seeds) >= c.opts.MinSeeds {
				break
			}
			sym := strings.ToUpper(strings.TrimSpace(t))
			if sym == "" || seen[sym] {
				continue
			}
			seen[sym] = true
			jitter := Jitter(sym)
			seeds = append(seeds, c.seed(sym, 0, nil, fallbackSeedBase+jitter,
				fmt.Sprintf("cold-tape seed: fallback ticker, no live signal, jitter +%d", jitter)))
		}
	}

	scoring.SortScored(seeds)
	observability.RecordSeeds(len(seeds))
	if len(seeds) > 0 {
		c.logger.Info("cold tape seeded candidates", zap.Int("seeds", len(seeds)))
	}
	return seeds
}

func (c *Controller) seed(symbol string, price float64, momentum *domain.MomentumData, score int, rationale string) *domain.ScoredCandidate {
	if score > c.opts.Ceiling {
		score = c.opts.Ceiling
	}
	s := &domain.ScoredCandidate{
		Enriched: &domain.EnrichedCandidate{
			Symbol:   symbol,
			Price:    price,
			Momentum: momentum,
		},
		Score:     score,
		RawScore:  score,
		ColdTape:  true,
		Synthetic: true,
		Rationale: rationale,
	}
	s.Tier = c.tier(s, c.opts.Relaxed)
	return s
}

// Jitter returns a deterministic per-symbol offset in [0, jitterSpan).
func Jitter(symbol string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % jitterSpan)
}
