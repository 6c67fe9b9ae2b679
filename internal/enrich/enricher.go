// Package enrich attaches provider data to prefiltered symbols under a
// concurrency cap and a wall-clock cycle budget. Partial results are normal.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/logging"
	"squeeze-discovery/internal/observability"
)

const maxSamples = 3

// Options configures an Enricher.
type Options struct {
	Concurrency  int
	Budget       time.Duration
	SafetyMargin time.Duration
	CallTimeout  time.Duration
	MaxAttempts  int
	BackoffMin   time.Duration
	CacheTTL     time.Duration

	Providers Providers

	// ForcedCache reports the process-wide cached-only mode, typically
	// screener.Gateway.ForcedCacheMode.
	ForcedCache func() bool

	Clock  func() time.Time
	Logger *zap.Logger
}

// DefaultOptions returns default enricher options.
func DefaultOptions() Options {
	return Options{
		Concurrency:  4,
		Budget:       12 * time.Second,
		SafetyMargin: 300 * time.Millisecond,
		CallTimeout:  4 * time.Second,
		MaxAttempts:  2,
		BackoffMin:   300 * time.Millisecond,
		CacheTTL:     15 * time.Minute,
	}
}

// Request carries per-batch inputs.
type Request struct {
	BaseScores  map[string]float64 // external scan score per symbol
	Theses      map[string]string
	ForcedCache bool // cached-only for this batch, in addition to Options.ForcedCache
}

// Failure is one symbol that could not be enriched.
type Failure struct {
	Symbol  string `json:"symbol"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Telemetry summarizes a batch for observability.
type Telemetry struct {
	Requested      int            `json:"requested"`
	Succeeded      int            `json:"succeeded"`
	CacheHits      int            `json:"cache_hits"`
	FailuresByCode map[string]int `json:"failures_by_code"`
	Samples        []Failure      `json:"samples"`
}

// Result is the outcome of one enrichment batch.
type Result struct {
	Candidates      []*domain.EnrichedCandidate
	Failures        []Failure
	Telemetry       Telemetry
	BudgetExhausted bool
	Duration        time.Duration
}

// Enricher enriches symbols from the configured providers.
type Enricher struct {
	opts   Options
	cache  *cache
	logger *zap.Logger
}

// NewEnricher creates a new Enricher. A quote provider is required.
func NewEnricher(opts Options) (*Enricher, error) {
	if opts.Providers.Quote == nil {
		return nil, errors.New("enrich: quote provider is required")
	}
	def := DefaultOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.Budget <= 0 {
		opts.Budget = def.Budget
	}
	if opts.SafetyMargin < 0 {
		opts.SafetyMargin = def.SafetyMargin
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = def.BackoffMin
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Enricher{
		opts:   opts,
		cache:  newCache(opts.CacheTTL),
		logger: logging.OrNop(opts.Logger),
	}, nil
}

// batch accumulates results from concurrent symbol workers.
type batch struct {
	mu        sync.Mutex
	res       *Result
	cacheHits int
}

func (b *batch) ok(c *domain.EnrichedCandidate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.res.Candidates = append(b.res.Candidates, c)
	if c.FromCache {
		b.cacheHits++
	}
}

func (b *batch) fail(symbol, code, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := Failure{Symbol: symbol, Code: code, Message: msg}
	b.res.Failures = append(b.res.Failures, f)
	b.res.Telemetry.FailuresByCode[code]++
	if len(b.res.Telemetry.Samples) < maxSamples {
		b.res.Telemetry.Samples = append(b.res.Telemetry.Samples, f)
	}
}

// Enrich enriches symbols. It returns by Budget+SafetyMargin at the latest.
// No new symbol starts after Budget-SafetyMargin; symbols that never started
// fail with ETIMEDOUT. Cache hits are served even after the budget is spent.
func (e *Enricher) Enrich(ctx context.Context, symbols []string, req Request) *Result {
	ctx, span := observability.StartSpan(ctx, "enrich.batch", attribute.Int("symbols", len(symbols)))
	defer span.End()

	start := time.Now()
	startCutoff := start.Add(e.opts.Budget - e.opts.SafetyMargin)
	cycleCtx, cancel := context.WithDeadline(ctx, start.Add(e.opts.Budget+e.opts.SafetyMargin))
	defer cancel()

	forced := req.ForcedCache || (e.opts.ForcedCache != nil && e.opts.ForcedCache())
	now := e.opts.Clock()
	e.cache.sweep(now)

	b := &batch{res: &Result{Telemetry: Telemetry{FailuresByCode: make(map[string]int)}}}
	sem := semaphore.NewWeighted(int64(e.opts.Concurrency))
	var wg sync.WaitGroup
	exhausted := false
	seen := make(map[string]bool, len(symbols))

	for _, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		b.res.Telemetry.Requested++

		if c := e.cache.get(symbol, now); c != nil {
			c.FromCache = true
			applyRequest(c, req)
			b.ok(c)
			continue
		}
		if forced {
			b.fail(symbol, CodeOther, "live calls suspended")
			continue
		}
		if !exhausted && !time.Now().Before(startCutoff) {
			exhausted = true
		}
		if !exhausted {
			acqCtx, acqCancel := context.WithDeadline(cycleCtx, startCutoff)
			err := sem.Acquire(acqCtx, 1)
			acqCancel()
			if err != nil {
				exhausted = true
			}
		}
		if exhausted {
			b.fail(symbol, CodeTimeout, "cycle budget exhausted before start")
			continue
		}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer sem.Release(1)
			c, err := e.enrichOne(cycleCtx, symbol)
			if err != nil {
				pe := asProviderError(err)
				b.fail(symbol, pe.Code, err.Error())
				return
			}
			e.cache.put(c, now)
			applyRequest(c, req)
			b.ok(c)
		}(symbol)
	}
	wg.Wait()

	res := b.res
	res.BudgetExhausted = exhausted
	res.Duration = time.Since(start)
	res.Telemetry.Succeeded = len(res.Candidates)
	res.Telemetry.CacheHits = b.cacheHits

	observability.RecordEnrichBatch(res.Telemetry.Succeeded, res.Telemetry.CacheHits,
		res.Telemetry.FailuresByCode, res.Duration.Seconds(), exhausted)
	span.SetAttributes(
		attribute.Int("succeeded", res.Telemetry.Succeeded),
		attribute.Int("failed", len(res.Failures)),
		attribute.Bool("budget_exhausted", exhausted),
	)
	e.logger.Info("enrichment batch complete",
		zap.Int("requested", res.Telemetry.Requested),
		zap.Int("succeeded", res.Telemetry.Succeeded),
		zap.Int("cache_hits", res.Telemetry.CacheHits),
		zap.Any("failures_by_code", res.Telemetry.FailuresByCode),
		zap.Bool("budget_exhausted", exhausted),
		zap.Bool("forced_cache", forced),
		zap.Duration("duration", res.Duration))
	return res
}

func applyRequest(c *domain.EnrichedCandidate, req Request) {
	if s, ok := req.BaseScores[c.Symbol]; ok {
		c.BaseScore = s
	}
	if t, ok := req.Theses[c.Symbol]; ok && t != "" {
		c.Thesis = t
	}
}

// enrichOne calls every configured provider concurrently. Only the quote is
// required; other failures are recorded in EnrichErrors.
func (e *Enricher) enrichOne(ctx context.Context, symbol string) (*domain.EnrichedCandidate, error) {
	c := &domain.EnrichedCandidate{Symbol: symbol}
	p := e.opts.Providers

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		quote    *domain.Quote
		quoteErr error
	)
	sectionErr := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if c.EnrichErrors == nil {
			c.EnrichErrors = make(map[string]string)
		}
		c.EnrichErrors[name] = CodeOf(err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		quote, quoteErr = call(ctx, e, ProviderQuote, symbol, p.Quote.Quote)
	}()

	if p.RelVolume != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := call(ctx, e, ProviderRelVolume, symbol, p.RelVolume.Momentum)
			if err != nil {
				sectionErr(ProviderRelVolume, err)
				return
			}
			c.Momentum = v
		}()
	}
	if p.ShortInterest != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := call(ctx, e, ProviderShortInterest, symbol, p.ShortInterest.ShortInterest)
			if err != nil {
				sectionErr(ProviderShortInterest, err)
				return
			}
			c.Squeeze = v
		}()
	}
	if p.Options != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := call(ctx, e, ProviderOptions, symbol, p.Options.Options)
			if err != nil {
				sectionErr(ProviderOptions, err)
				return
			}
			c.Options = v
		}()
	}
	if p.Sentiment != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := call(ctx, e, ProviderSentiment, symbol, p.Sentiment.Sentiment)
			if err != nil {
				sectionErr(ProviderSentiment, err)
				return
			}
			c.Social = v
		}()
	}
	if p.Catalyst != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := call(ctx, e, ProviderCatalyst, symbol, p.Catalyst.Catalyst)
			if err != nil {
				sectionErr(ProviderCatalyst, err)
				return
			}
			c.Catalyst = v
		}()
	}
	if p.Technical != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := call(ctx, e, ProviderTechnical, symbol, p.Technical.Technical)
			if err != nil {
				sectionErr(ProviderTechnical, err)
				return
			}
			c.Technical = v
		}()
	}
	wg.Wait()

	if quoteErr != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, quoteErr)
	}
	if quote == nil || math.IsNaN(quote.Price) || math.IsInf(quote.Price, 0) || quote.Price <= 0 {
		return nil, &ProviderError{Code: CodeNoPrice, Err: fmt.Errorf("no usable price for %s", symbol)}
	}
	c.Price = quote.Price
	return c, nil
}

// call runs one provider function with a per-call timeout and bounded retry
// on 429/5xx. The call is abandoned when its context ends even if the
// provider ignores cancellation.
func call[T any](ctx context.Context, e *Enricher, provider, symbol string, fn func(context.Context, string) (T, error)) (T, error) {
	var zero T
	b := &backoff.Backoff{
		Min:    e.opts.BackoffMin,
		Max:    4 * e.opts.BackoffMin,
		Factor: 2,
		Jitter: true,
	}

	var lastErr *ProviderError
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return zero, &ProviderError{Code: CodeTimeout, Err: ctx.Err()}
			case <-time.After(b.Duration()):
			}
		}

		start := time.Now()
		v, err := callOnce(ctx, e.opts.CallTimeout, symbol, fn)
		observability.RecordProviderLatency(provider, time.Since(start).Seconds())
		if err == nil {
			return v, nil
		}

		lastErr = asProviderError(err)
		if !lastErr.Retryable() {
			break
		}
		e.logger.Debug("provider call failed, retrying",
			zap.String("provider", provider),
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return zero, lastErr
}

func callOnce[T any](ctx context.Context, timeout time.Duration, symbol string, fn func(context.Context, string) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(callCtx, symbol)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && callCtx.Err() != nil && !errors.As(r.err, new(*ProviderError)) {
			var zero T
			return zero, &ProviderError{Code: CodeTimeout, Err: r.err}
		}
		return r.v, r.err
	case <-callCtx.Done():
		var zero T
		return zero, &ProviderError{Code: CodeTimeout, Err: callCtx.Err()}
	}
}
