package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"squeeze-discovery/internal/adapter"
	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/logging"
	"squeeze-discovery/internal/observability"
	"squeeze-discovery/internal/storage"
)

const maxSample = 3

// Publisher receives every record persisted by the service.
type Publisher interface {
	Publish(rec *domain.DiscoveryRecord)
}

// Options configures a Service.
type Options struct {
	Store     storage.DiscoveryStore
	Adapter   *adapter.Adapter
	Publisher Publisher // optional
	Logger    *zap.Logger
}

// SampleEntry is one persisted ticker reported back to the caller.
type SampleEntry struct {
	Ticker string  `json:"ticker"`
	Score  float64 `json:"score"`
}

// Result aggregates one ingestion batch. Per-item failures never abort the
// batch; they are collected in Errors.
type Result struct {
	Success  bool                `json:"success"`
	Total    int                 `json:"total"`
	Inserted int                 `json:"inserted"`
	Updated  int                 `json:"updated"`
	Invalid  int                 `json:"invalid"`
	Failed   int                 `json:"failed"` // store errors
	Sample   []SampleEntry       `json:"sample"`
	Errors   []adapter.ItemError `json:"errors"`

	Records []*domain.DiscoveryRecord `json:"-"`
}

// Service validates adapted records and persists them idempotently.
type Service struct {
	store     storage.DiscoveryStore
	adapter   *adapter.Adapter
	publisher Publisher
	logger    *zap.Logger
}

// NewService creates a new ingestion service.
func NewService(opts Options) *Service {
	a := opts.Adapter
	if a == nil {
		a = adapter.New(adapter.Options{})
	}
	return &Service{
		store:     opts.Store,
		adapter:   a,
		publisher: opts.Publisher,
		logger:    logging.OrNop(opts.Logger),
	}
}

// Ingest adapts and persists typed inputs.
func (s *Service) Ingest(ctx context.Context, inputs []adapter.Input) *Result {
	ctx, span := observability.StartSpan(ctx, "ingestion.batch", attribute.Int("items", len(inputs)))
	defer span.End()

	start := time.Now()
	res := newResult(len(inputs))
	for i, in := range inputs {
		s.ingestOne(ctx, res, i, in, in)
	}
	s.finish(res, "typed", start)
	return res
}

// IngestRaw decodes raw items as hint and ingests them. With
// domain.SourceAuto each item's shape is sniffed individually.
func (s *Service) IngestRaw(ctx context.Context, items []json.RawMessage, hint domain.Source) *Result {
	ctx, span := observability.StartSpan(ctx, "ingestion.batch_raw",
		attribute.Int("items", len(items)), attribute.String("hint", string(hint)))
	defer span.End()

	start := time.Now()
	res := newResult(len(items))
	for i, raw := range items {
		in, err := adapter.Decode(raw, hint)
		if err != nil {
			res.Invalid++
			res.Errors = append(res.Errors, adapter.ItemError{Index: i, Item: raw, Message: err.Error()})
			continue
		}
		s.ingestOne(ctx, res, i, in, raw)
	}

	label := string(hint)
	if hint == domain.SourceAuto {
		label = "auto"
	}
	s.finish(res, label, start)
	return res
}

func newResult(total int) *Result {
	return &Result{
		Total:  total,
		Sample: []SampleEntry{},
		Errors: []adapter.ItemError{},
	}
}

func (s *Service) ingestOne(ctx context.Context, res *Result, i int, in adapter.Input, item any) {
	rec, err := s.adapter.Adapt(in)
	if err != nil {
		res.Invalid++
		res.Errors = append(res.Errors, itemError(i, rec, item, err))
		return
	}

	inserted, err := s.store.Upsert(ctx, rec)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			res.Invalid++
		} else {
			res.Failed++
		}
		res.Errors = append(res.Errors, itemError(i, rec, item, fmt.Errorf("persist: %w", err)))
		s.logger.Warn("discovery persist failed",
			zap.String("ticker", rec.Ticker), zap.Error(err))
		return
	}

	if inserted {
		res.Inserted++
	} else {
		res.Updated++
	}
	if len(res.Sample) < maxSample {
		res.Sample = append(res.Sample, SampleEntry{Ticker: rec.Ticker, Score: rec.Score})
	}
	res.Records = append(res.Records, rec)
	if s.publisher != nil {
		s.publisher.Publish(rec)
	}
}

func itemError(i int, rec *domain.DiscoveryRecord, item any, err error) adapter.ItemError {
	e := adapter.ItemError{Index: i, Item: item, Message: err.Error()}
	if rec != nil {
		e.Ticker = rec.Ticker
	}
	return e
}

// finish applies the batch rule: success while fewer than half the items
// failed. An empty batch succeeds.
func (s *Service) finish(res *Result, source string, start time.Time) {
	failed := res.Invalid + res.Failed
	res.Success = res.Total == 0 || failed*2 < res.Total

	observability.RecordIngest(source, res.Success, res.Inserted, res.Updated, res.Invalid, res.Failed)
	s.logger.Info("ingestion batch complete",
		zap.String("source", source),
		zap.Bool("success", res.Success),
		zap.Int("total", res.Total),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("invalid", res.Invalid),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", time.Since(start)))
}
