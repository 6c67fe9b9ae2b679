// Package yahoo serves quotes, daily bars and bar-derived readings from the
// Yahoo Finance chart and quote endpoints.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/enrich"
	"squeeze-discovery/internal/indicators"
	"squeeze-discovery/internal/logging"
	"squeeze-discovery/internal/outcome"
)

const (
	// lookbackDays covers enough trading sessions for the slow EMA and ATR.
	lookbackDays = 60

	// defaultBarsTTL keeps one history download per symbol per discovery
	// cycle, shared by the momentum and technical sections.
	defaultBarsTTL = 2 * time.Minute
)

// Fetcher retrieves raw data from Yahoo.
type Fetcher interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
}

// Options configures a Provider.
type Options struct {
	Fetcher Fetcher       // defaults to the finance-go client
	BarsTTL time.Duration // how long a lookback download is reused
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Provider adapts Yahoo data to the enrichment and outcome interfaces.
type Provider struct {
	fetcher Fetcher
	ttl     time.Duration
	clock   func() time.Time
	logger  *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	memo  map[string]memoBars
}

type memoBars struct {
	bars      []domain.Bar
	fetchedAt time.Time
}

var (
	_ enrich.QuoteProvider     = (*Provider)(nil)
	_ enrich.RelVolumeProvider = (*Provider)(nil)
	_ enrich.TechnicalProvider = (*Provider)(nil)
	_ outcome.BarsProvider     = (*Provider)(nil)
)

// New creates a new Provider.
func New(opts Options) *Provider {
	if opts.Fetcher == nil {
		opts.Fetcher = FinanceFetcher{}
	}
	if opts.BarsTTL <= 0 {
		opts.BarsTTL = defaultBarsTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Provider{
		fetcher: opts.Fetcher,
		ttl:     opts.BarsTTL,
		clock:   opts.Clock,
		logger:  logging.OrNop(opts.Logger),
		memo:    make(map[string]memoBars),
	}
}

// Quote returns the regular-market quote.
func (p *Provider) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	return p.fetcher.Quote(ctx, normalize(symbol))
}

// DailyBars returns daily bars in [start, end], oldest first.
func (p *Provider) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	// The chart end bound is exclusive; ask for one extra day.
	bars, err := p.fetcher.Bars(ctx, normalize(symbol), domain.DayOf(start), domain.DayOf(end).AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp < bars[j].Timestamp })
	return bars, nil
}

// Momentum derives relative volume, ATR%, RSI and VWAP distance from the
// recent daily bars.
func (p *Provider) Momentum(ctx context.Context, symbol string) (*domain.MomentumData, error) {
	r, err := p.readings(ctx, symbol)
	if err != nil {
		return nil, err
	}
	m := r.Momentum
	return &m, nil
}

// Technical derives the EMA pair and VWAP position from the recent daily bars.
func (p *Provider) Technical(ctx context.Context, symbol string) (*domain.TechnicalData, error) {
	r, err := p.readings(ctx, symbol)
	if err != nil {
		return nil, err
	}
	t := r.Technical
	return &t, nil
}

func (p *Provider) readings(ctx context.Context, symbol string) (*indicators.Readings, error) {
	bars, err := p.recentBars(ctx, symbol)
	if err != nil {
		return nil, err
	}
	r, err := indicators.Compute(usable(bars))
	if err != nil {
		p.logger.Debug("not enough history for readings",
			zap.String("symbol", symbol), zap.Int("bars", len(bars)), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	return r, nil
}

// recentBars returns the lookback history for symbol, downloading it at most
// once per (symbol, day) within the TTL. Failures are not remembered.
func (p *Provider) recentBars(ctx context.Context, symbol string) ([]domain.Bar, error) {
	now := p.clock()
	key := normalize(symbol) + "|" + domain.DayOf(now).Format("2006-01-02")

	p.mu.Lock()
	if m, ok := p.memo[key]; ok && now.Sub(m.fetchedAt) < p.ttl {
		p.mu.Unlock()
		return m.bars, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(key, func() (any, error) {
		bars, err := p.DailyBars(ctx, symbol, now.AddDate(0, 0, -lookbackDays), now)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		for k, m := range p.memo {
			if now.Sub(m.fetchedAt) >= p.ttl {
				delete(p.memo, k)
			}
		}
		p.memo[key] = memoBars{bars: bars, fetchedAt: now}
		p.mu.Unlock()
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Bar), nil
}

// usable drops bars Yahoo reports with no close, typically the live session.
func usable(bars []domain.Bar) []domain.Bar {
	out := bars[:0:0]
	for _, b := range bars {
		if b.Close > 0 {
			out = append(out, b)
		}
	}
	return out
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// FinanceFetcher is the default Fetcher backed by piquette/finance-go.
type FinanceFetcher struct{}

// Bars fetches daily chart bars for [start, end).
func (FinanceFetcher) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	params := &chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}
	params.Context = &ctx

	iter := chart.Get(params)
	var bars []domain.Bar
	for iter.Next() {
		b := iter.Bar()
		bars = append(bars, domain.Bar{
			Timestamp: int64(b.Timestamp),
			Open:      b.Open.InexactFloat64(),
			High:      b.High.InexactFloat64(),
			Low:       b.Low.InexactFloat64(),
			Close:     b.Close.InexactFloat64(),
			Volume:    float64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(ctx, fmt.Errorf("chart %s: %w", symbol, err))
	}
	return bars, nil
}

// Quote fetches the regular-market quote.
func (FinanceFetcher) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return nil, mapError(ctx, fmt.Errorf("quote %s: %w", symbol, err))
	}
	if q == nil {
		return nil, &enrich.ProviderError{Code: enrich.CodeNoPrice, Err: fmt.Errorf("quote %s: no data", symbol)}
	}
	return &domain.Quote{
		Symbol:    symbol,
		Price:     q.RegularMarketPrice,
		Volume:    float64(q.RegularMarketVolume),
		PrevClose: q.RegularMarketPreviousClose,
	}, nil
}

// mapError keeps the caller's deadline visible and tags remote failures.
func mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	var ferr *finance.Error
	if errors.As(err, &ferr) && ferr.HTTPStatusCode != 0 {
		return enrich.NewStatusError(ferr.HTTPStatusCode, err)
	}
	return err
}
