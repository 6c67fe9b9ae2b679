// Package orchestrator runs the discovery tick.
// It coordinates: universe source chain → prefilter → enrich → score →
// cold tape → ingest → score snapshots.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"squeeze-discovery/internal/adapter"
	"squeeze-discovery/internal/coldtape"
	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/enrich"
	"squeeze-discovery/internal/ingestion"
	"squeeze-discovery/internal/logging"
	"squeeze-discovery/internal/observability"
	"squeeze-discovery/internal/prefilter"
	"squeeze-discovery/internal/scoring"
	"squeeze-discovery/internal/storage"
)

// ErrTickInProgress is returned when a tick is requested while one runs.
var ErrTickInProgress = errors.New("tick already in progress")

// Enricher enriches a ranked symbol list.
type Enricher interface {
	Enrich(ctx context.Context, symbols []string, req enrich.Request) *enrich.Result
}

// Ingester persists adapted inputs.
type Ingester interface {
	Ingest(ctx context.Context, inputs []adapter.Input) *ingestion.Result
}

// Options for creating Orchestrator.
type Options struct {
	// Universe sources, tried in order. EmptySource is appended if absent.
	Sources []UniverseSource

	// Optional; forced cached enrichment follows the scan circuit.
	Gateway ScanGateway

	Prefilter  prefilter.Config
	Enhanced   bool // use the squeeze-aware prefilter
	Enricher   Enricher
	Scorer     *scoring.Scorer
	Thresholds scoring.Thresholds
	ColdTape   *coldtape.Controller
	Ingester   Ingester

	// Optional stores.
	Discoveries storage.DiscoveryStore
	Snapshots   storage.ScoreSnapshotStore

	CandidateLimit int
	Clock          func() time.Time
	Logger         *zap.Logger
}

// TickResult summarizes one discovery tick.
type TickResult struct {
	TickID       string            `json:"tick_id"`
	StartedAt    time.Time         `json:"started_at"`
	Duration     time.Duration     `json:"duration"`
	ServedBy     string            `json:"served_by"`
	SourceErrors map[string]string `json:"source_errors,omitempty"`
	Universe     int               `json:"universe"`
	Skipped      int               `json:"skipped"` // undecodable universe items

	Prefilter       prefilter.Metrics   `json:"prefilter"`
	Enrich          enrich.Telemetry    `json:"enrich"`
	BudgetExhausted bool                `json:"budget_exhausted"`
	Tiers           map[domain.Tier]int `json:"tiers"`
	ColdTape        bool                `json:"cold_tape"`
	Seeds           int                 `json:"seeds"`
	Ingest          *ingestion.Result   `json:"ingest,omitempty"`
	Snapshots       int                 `json:"snapshots"`
	Errors          []string            `json:"errors,omitempty"`

	Scored []*domain.ScoredCandidate `json:"-"`
}

// Status reports scheduler state for the ops surface.
type Status struct {
	Running  bool        `json:"running"`
	Ticks    int         `json:"ticks"`
	LastTick *TickResult `json:"last_tick,omitempty"`
	LastRun  time.Time   `json:"last_run,omitzero"`
}

// Orchestrator coordinates the discovery tick.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	running  bool
	ticks    int
	lastRun  time.Time
	lastTick *TickResult
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Scorer == nil {
		opts.Scorer = scoring.NewScorer(scoring.DefaultWeights(), scoring.DefaultTierThresholds())
	}
	if opts.Thresholds == (scoring.Thresholds{}) {
		opts.Thresholds = scoring.DefaultThresholds()
	}
	if opts.Prefilter == (prefilter.Config{}) {
		opts.Prefilter = prefilter.DefaultConfig()
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 50
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	hasEmpty := false
	for _, s := range opts.Sources {
		if s.Name() == SourceEmpty {
			hasEmpty = true
		}
	}
	if !hasEmpty {
		opts.Sources = append(opts.Sources, EmptySource{})
	}
	return &Orchestrator{opts: opts, logger: logging.OrNop(opts.Logger)}
}

// Tick performs one discovery cycle. Stage failures are collected on the
// result; an error is returned only when the tick could not run at all.
func (o *Orchestrator) Tick(ctx context.Context) (*TickResult, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrTickInProgress
	}
	o.running = true
	o.mu.Unlock()

	res, err := o.tick(ctx)

	o.mu.Lock()
	o.running = false
	o.lastRun = o.opts.Clock()
	if res != nil {
		o.ticks++
		o.lastTick = res
	}
	o.mu.Unlock()
	return res, err
}

func (o *Orchestrator) tick(ctx context.Context) (*TickResult, error) {
	ctx, span := observability.StartSpan(ctx, "orchestrator.tick")
	defer span.End()

	start := time.Now()
	res := &TickResult{
		TickID:    uuid.NewString(),
		StartedAt: o.opts.Clock(),
		Tiers:     make(map[domain.Tier]int),
	}
	log := o.logger.With(zap.String("tick_id", res.TickID))

	// Phase 1: universe
	raw := o.universe(ctx, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, skipped := decodeUniverse(raw)
	res.Universe = len(items)
	res.Skipped = skipped

	snapshots := make([]domain.CandidateSnapshot, len(items))
	baseScores := make(map[string]float64, len(items))
	theses := make(map[string]string, len(items))
	for i, it := range items {
		snapshots[i] = it.snapshot
		baseScores[it.snapshot.Symbol] = it.score
		if it.thesis != "" {
			theses[it.snapshot.Symbol] = it.thesis
		}
	}

	// Phase 2: prefilter
	cfg := o.opts.Prefilter
	if o.opts.ColdTape != nil {
		cfg.MinRVOL = o.opts.ColdTape.PrefilterRVOL(cfg.MinRVOL)
	}
	var pre prefilter.Result
	if o.opts.Enhanced {
		pre = prefilter.PrefilterEnhanced(snapshots, cfg)
	} else {
		pre = prefilter.Prefilter(snapshots, cfg)
	}
	res.Prefilter = pre.Metrics

	// Phase 3: enrich
	var enriched []*domain.EnrichedCandidate
	if o.opts.Enricher != nil && len(pre.Ranked) > 0 {
		req := enrich.Request{BaseScores: baseScores, Theses: theses}
		if o.opts.Gateway != nil {
			req.ForcedCache = o.opts.Gateway.ForcedCacheMode()
		}
		er := o.opts.Enricher.Enrich(ctx, pre.Ranked, req)
		enriched = er.Candidates
		res.Enrich = er.Telemetry
		res.BudgetExhausted = er.BudgetExhausted
	}

	// Phase 4: score and cold tape
	// Trade-readiness is judged on base floors only. Relaxed scores are used
	// while cold tape stays active, and those are always capped.
	scored := o.opts.Scorer.ScoreAll(enriched, o.opts.Thresholds)
	if ct := o.opts.ColdTape; ct != nil {
		ct.Observe(scored)
		if ct.Active() {
			scored = o.opts.Scorer.ScoreAll(enriched, ct.Thresholds(o.opts.Thresholds))
		}
		scored = ct.Apply(scored)
		seeds := ct.Seed(scored, snapshots)
		res.Seeds = len(seeds)
		scored = append(scored, seeds...)
		scoring.SortScored(scored)
		res.ColdTape = ct.Active()
	}
	res.Scored = scored

	inputs := make([]adapter.Input, 0, len(scored))
	for _, sc := range scored {
		res.Tiers[sc.Tier]++
		observability.RecordScored(string(sc.Tier))
		if sc.Tier == domain.TierDrop {
			continue
		}
		inputs = append(inputs, adapter.EnrichmentFromScored(sc))
	}

	// Phase 5: persist
	if o.opts.Ingester != nil && len(inputs) > 0 {
		res.Ingest = o.opts.Ingester.Ingest(ctx, inputs)
		if !res.Ingest.Success {
			res.Errors = append(res.Errors, fmt.Sprintf("ingest: %d of %d items failed",
				res.Ingest.Invalid+res.Ingest.Failed, res.Ingest.Total))
		}
	}
	if o.opts.Snapshots != nil && len(scored) > 0 {
		if err := o.opts.Snapshots.InsertBulk(ctx, scoreSnapshots(scored, res.StartedAt)); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("score snapshots: %v", err))
			log.Warn("score snapshot insert failed", zap.Error(err))
		} else {
			res.Snapshots = len(scored)
		}
	}

	res.Duration = time.Since(start)
	status := "success"
	if len(res.Errors) > 0 {
		status = "degraded"
	}
	observability.RecordTick(status, res.ServedBy, res.Duration.Seconds())
	if status == "success" {
		observability.MarkTickSuccess(res.StartedAt)
	}
	span.SetAttributes(
		attribute.String("served_by", res.ServedBy),
		attribute.Int("universe", res.Universe),
		attribute.Int("scored", len(scored)),
	)

	log.Info("tick complete",
		zap.String("served_by", res.ServedBy),
		zap.Int("universe", res.Universe),
		zap.Int("prefiltered", res.Prefilter.Passed),
		zap.Int("enriched", res.Enrich.Succeeded),
		zap.Int("scored", len(scored)),
		zap.Int("seeds", res.Seeds),
		zap.Bool("cold_tape", res.ColdTape),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// universe walks the source chain; the first source yielding data wins.
func (o *Orchestrator) universe(ctx context.Context, res *TickResult) []json.RawMessage {
	for _, src := range o.opts.Sources {
		items, ok, err := src.Universe(ctx)
		if err != nil {
			if res.SourceErrors == nil {
				res.SourceErrors = make(map[string]string)
			}
			res.SourceErrors[src.Name()] = err.Error()
			o.logger.Warn("universe source failed", zap.String("source", src.Name()), zap.Error(err))
		}
		if ok {
			res.ServedBy = src.Name()
			return items
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	res.ServedBy = SourceEmpty
	return nil
}

func scoreSnapshots(scored []*domain.ScoredCandidate, at time.Time) []*domain.ScoreSnapshot {
	ts := at.UnixMilli()
	out := make([]*domain.ScoreSnapshot, 0, len(scored))
	for _, sc := range scored {
		out = append(out, &domain.ScoreSnapshot{
			Symbol:     sc.Symbol(),
			Timestamp:  ts,
			Score:      sc.Score,
			RawScore:   sc.RawScore,
			Tier:       sc.Tier,
			ColdTape:   sc.ColdTape,
			Synthetic:  sc.Synthetic,
			Components: sc.SubScores,
		})
	}
	return out
}

// Run ticks immediately and then on every interval until ctx is done.
// A tick that is still running when the next one is due is skipped.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	o.logger.Info("starting discovery scheduler", zap.Duration("interval", interval))

	o.runTick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.runTick(ctx)
		}
	}
}

func (o *Orchestrator) runTick(ctx context.Context) {
	if _, err := o.Tick(ctx); err != nil {
		if errors.Is(err, ErrTickInProgress) {
			o.logger.Info("tick already running, skipping")
			return
		}
		if ctx.Err() == nil {
			observability.RecordTick("error", "", 0)
			o.logger.Error("tick failed", zap.Error(err))
		}
	}
}

// Status returns the scheduler state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{Running: o.running, Ticks: o.ticks, LastTick: o.lastTick, LastRun: o.lastRun}
}

// LastTick returns the most recent completed tick, or nil.
func (o *Orchestrator) LastTick() *TickResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastTick
}
