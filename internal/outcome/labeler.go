// Package outcome labels past discoveries with their realized return once
// the holding horizon has elapsed.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/logging"
	"squeeze-discovery/internal/observability"
	"squeeze-discovery/internal/storage"
)

// ErrInsufficientData is returned when fewer than two usable closes cover
// the horizon. It is recorded as the insufficient_data outcome.
var ErrInsufficientData = errors.New("insufficient data")

// Bucket edges on realized return.
var (
	bigWinMin  = decimal.RequireFromString("0.15")
	winMin     = decimal.RequireFromString("0.05")
	lossMax    = decimal.RequireFromString("-0.05")
	bigLossMax = decimal.RequireFromString("-0.15")
)

// BarsProvider returns daily bars covering [start, end], oldest first.
type BarsProvider interface {
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// Options configures a Labeler.
type Options struct {
	Store     storage.DiscoveryStore
	Bars      BarsProvider
	BatchSize int
	Pace      time.Duration // minimum delay between provider calls

	Clock  func() time.Time
	Logger *zap.Logger
}

// Summary reports one labeler run.
type Summary struct {
	Due          int                    `json:"due"`
	Labeled      int                    `json:"labeled"`
	Insufficient int                    `json:"insufficient"`
	Errors       int                    `json:"errors"`
	Skipped      int                    `json:"skipped"` // labeled concurrently
	ByOutcome    map[domain.Outcome]int `json:"by_outcome"`
	Duration     time.Duration          `json:"duration"`
}

// Labeler assigns outcomes to discoveries whose horizon has elapsed.
type Labeler struct {
	opts   Options
	logger *zap.Logger
}

// NewLabeler creates a new Labeler.
func NewLabeler(opts Options) *Labeler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.Pace <= 0 {
		opts.Pace = 100 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Labeler{opts: opts, logger: logging.OrNop(opts.Logger)}
}

// Run labels every due, unlabeled record in one batch. Provider failures
// are recorded on the record and retried on a later run; terminal outcomes
// are never revisited.
func (l *Labeler) Run(ctx context.Context) (*Summary, error) {
	ctx, span := observability.StartSpan(ctx, "outcome.run")
	defer span.End()

	start := time.Now()
	now := l.opts.Clock()
	sum := &Summary{ByOutcome: make(map[domain.Outcome]int)}

	due, err := l.opts.Store.ListDueForLabel(ctx, now, l.opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list due discoveries: %w", err)
	}
	sum.Due = len(due)
	span.SetAttributes(attribute.Int("due", len(due)))

	limiter := rate.NewLimiter(rate.Every(l.opts.Pace), 1)
	for _, rec := range due {
		if err := limiter.Wait(ctx); err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}
		l.labelOne(ctx, rec, sum)
	}

	sum.Duration = time.Since(start)
	observability.MarkLabelSuccess(now)
	l.logger.Info("outcome labeling complete",
		zap.Int("due", sum.Due),
		zap.Int("labeled", sum.Labeled),
		zap.Int("insufficient", sum.Insufficient),
		zap.Int("errors", sum.Errors),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("duration", sum.Duration))
	return sum, nil
}

func (l *Labeler) labelOne(ctx context.Context, rec *domain.DiscoveryRecord, sum *Summary) {
	entryDay := domain.DayOf(rec.EntryAt)
	horizonEnd := rec.HorizonEnd()

	bars, err := l.opts.Bars.DailyBars(ctx, rec.Ticker, entryDay, horizonEnd)
	if err != nil {
		sum.Errors++
		observability.RecordLabelError()
		l.logger.Warn("bars fetch failed",
			zap.String("ticker", rec.Ticker), zap.String("id", rec.ID), zap.Error(err))
		l.markError(ctx, rec.ID, err)
		return
	}

	var (
		outcome domain.Outcome
		ret     *float64
	)
	r, err := RealizedReturn(bars, rec.EntryAt, horizonEnd)
	switch {
	case errors.Is(err, ErrInsufficientData):
		outcome = domain.OutcomeInsufficientData
	case err != nil:
		sum.Errors++
		observability.RecordLabelError()
		l.logger.Warn("realized return failed",
			zap.String("ticker", rec.Ticker), zap.String("id", rec.ID), zap.Error(err))
		l.markError(ctx, rec.ID, err)
		return
	default:
		outcome = Classify(r)
		f := r.InexactFloat64()
		ret = &f
	}

	if err := l.opts.Store.SetOutcome(ctx, rec.ID, ret, outcome); err != nil {
		if errors.Is(err, storage.ErrOutcomeAlreadySet) {
			sum.Skipped++
			return
		}
		sum.Errors++
		observability.RecordLabelError()
		l.logger.Error("set outcome failed", zap.String("id", rec.ID), zap.Error(err))
		return
	}

	sum.ByOutcome[outcome]++
	if outcome == domain.OutcomeInsufficientData {
		sum.Insufficient++
	} else {
		sum.Labeled++
	}
	observability.RecordOutcome(string(outcome))
}

func (l *Labeler) markError(ctx context.Context, id string, cause error) {
	err := l.opts.Store.MarkLabelError(ctx, id, cause.Error())
	if err != nil && !errors.Is(err, storage.ErrOutcomeAlreadySet) {
		l.logger.Error("mark label error failed", zap.String("id", id), zap.Error(err))
	}
}

// RealizedReturn computes (exit-entry)/entry where entry is the first usable
// close on or after the entry day and exit the last usable close on or
// before the horizon day.
func RealizedReturn(bars []domain.Bar, entryAt, horizonEnd time.Time) (decimal.Decimal, error) {
	from := domain.DayOf(entryAt)
	to := domain.DayOf(horizonEnd)

	var usable []domain.Bar
	for _, b := range bars {
		if b.Close <= 0 || math.IsNaN(b.Close) || math.IsInf(b.Close, 0) {
			continue
		}
		day := domain.DayOf(time.Unix(b.Timestamp, 0))
		if day.Before(from) || day.After(to) {
			continue
		}
		usable = append(usable, b)
	}
	if len(usable) < 2 {
		return decimal.Zero, fmt.Errorf("%d usable bars: %w", len(usable), ErrInsufficientData)
	}

	entry, exit := usable[0], usable[0]
	for _, b := range usable[1:] {
		if b.Timestamp < entry.Timestamp {
			entry = b
		}
		if b.Timestamp > exit.Timestamp {
			exit = b
		}
	}

	e := decimal.NewFromFloat(entry.Close)
	x := decimal.NewFromFloat(exit.Close)
	return x.Sub(e).Div(e), nil
}

// Classify buckets a realized return.
func Classify(r decimal.Decimal) domain.Outcome {
	switch {
	case r.GreaterThanOrEqual(bigWinMin):
		return domain.OutcomeBigWin
	case r.GreaterThanOrEqual(winMin):
		return domain.OutcomeWin
	case r.LessThanOrEqual(bigLossMax):
		return domain.OutcomeBigLoss
	case r.LessThanOrEqual(lossMax):
		return domain.OutcomeLoss
	default:
		return domain.OutcomeNeutral
	}
}
