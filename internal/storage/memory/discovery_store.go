package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/idhash"
	"squeeze-discovery/internal/storage"
)

// DiscoveryStore is an in-memory implementation of storage.DiscoveryStore.
// Rankings are kept alongside records and share their id.
type DiscoveryStore struct {
	mu       sync.RWMutex
	records  map[string]*domain.DiscoveryRecord // keyed by discovery id
	rankings map[string]*domain.RankingEntry    // keyed by discovery id
	now      func() time.Time
}

// NewDiscoveryStore creates a new in-memory discovery store.
func NewDiscoveryStore() *DiscoveryStore {
	return &DiscoveryStore{
		records:  make(map[string]*domain.DiscoveryRecord),
		rankings: make(map[string]*domain.RankingEntry),
		now:      time.Now,
	}
}

// Compile-time interface check.
var _ storage.DiscoveryStore = (*DiscoveryStore)(nil)

// Upsert writes the record and its ranking entry. Outcome fields of an
// existing record are preserved.
func (s *DiscoveryStore) Upsert(_ context.Context, rec *domain.DiscoveryRecord) (bool, error) {
	if rec == nil || strings.TrimSpace(rec.Ticker) == "" {
		return false, storage.ErrInvalidInput
	}
	// Mirror the table CHECK constraints.
	if rec.Score < 0 || rec.Score > 100 || !rec.Confidence.IsValid() {
		return false, storage.ErrInvalidInput
	}

	now := s.now().UTC()
	rec.Ticker = strings.ToUpper(strings.TrimSpace(rec.Ticker))
	rec.Day = domain.DayOf(rec.Day)
	rec.ID = idhash.ComputeDiscoveryID(rec.Ticker, rec.Day)
	if rec.HorizonDays <= 0 {
		rec.HorizonDays = domain.DefaultHorizonDays
	}
	if rec.EntryAt.IsZero() {
		rec.EntryAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneRecord(rec)
	existing, exists := s.records[rec.ID]
	if exists {
		stored.CreatedAt = existing.CreatedAt
		stored.EntryAt = existing.EntryAt
		stored.HorizonDays = existing.HorizonDays
		stored.Outcome = existing.Outcome
		stored.RealizedReturn = existing.RealizedReturn
		stored.LabelError = existing.LabelError
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.records[rec.ID] = stored

	entry, ok := s.rankings[rec.ID]
	if !ok {
		entry = &domain.RankingEntry{ID: rec.ID, Symbol: rec.Ticker, Day: rec.Day, CreatedAt: now}
		s.rankings[rec.ID] = entry
	}
	entry.Score = rec.Score
	entry.Price = copyFloat(rec.Price)
	entry.Action = rec.Action
	entry.Components = rec.Components()
	entry.UpdatedAt = now

	rec.CreatedAt = stored.CreatedAt
	rec.UpdatedAt = stored.UpdatedAt
	rec.EntryAt = stored.EntryAt

	return !exists, nil
}

// GetByID retrieves a record by id. Returns ErrNotFound if not exists.
func (s *DiscoveryStore) GetByID(_ context.Context, id string) (*domain.DiscoveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// GetBySymbolDay retrieves the record for a ticker on a day.
func (s *DiscoveryStore) GetBySymbolDay(ctx context.Context, ticker string, day time.Time) (*domain.DiscoveryRecord, error) {
	return s.GetByID(ctx, idhash.ComputeDiscoveryID(ticker, day))
}

// GetRanking returns ranking entries for a day ordered by score DESC, symbol ASC.
func (s *DiscoveryStore) GetRanking(_ context.Context, day time.Time, limit int) ([]*domain.RankingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day = domain.DayOf(day)
	var result []*domain.RankingEntry
	for _, e := range s.rankings {
		if e.Day.Equal(day) {
			entryCopy := *e
			entryCopy.Price = copyFloat(e.Price)
			result = append(result, &entryCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].Symbol < result[j].Symbol
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListDueForLabel returns unlabeled records whose horizon has elapsed.
func (s *DiscoveryStore) ListDueForLabel(_ context.Context, now time.Time, limit int) ([]*domain.DiscoveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DiscoveryRecord
	for _, rec := range s.records {
		if rec.Outcome != nil || rec.HorizonEnd().After(now) {
			continue
		}
		result = append(result, cloneRecord(rec))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].EntryAt.Equal(result[j].EntryAt) {
			return result[i].EntryAt.Before(result[j].EntryAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SetOutcome stores a terminal outcome once.
func (s *DiscoveryStore) SetOutcome(_ context.Context, id string, realizedReturn *float64, outcome domain.Outcome) error {
	if id == "" || !outcome.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return storage.ErrNotFound
	}
	if rec.Outcome != nil {
		return storage.ErrOutcomeAlreadySet
	}

	o := outcome
	rec.Outcome = &o
	rec.RealizedReturn = copyFloat(realizedReturn)
	rec.LabelError = nil
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// MarkLabelError records a transient labeling failure on an unlabeled record.
func (s *DiscoveryStore) MarkLabelError(_ context.Context, id string, message string) error {
	if id == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return storage.ErrNotFound
	}
	if rec.Outcome != nil {
		return storage.ErrOutcomeAlreadySet
	}

	msg := message
	rec.LabelError = &msg
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// Count returns the number of stored records.
func (s *DiscoveryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// cloneRecord copies a record so callers cannot mutate stored state.
func cloneRecord(r *domain.DiscoveryRecord) *domain.DiscoveryRecord {
	c := *r
	c.Price = copyFloat(r.Price)
	c.RelVol = copyFloat(r.RelVol)
	c.ATRPct = copyFloat(r.ATRPct)
	c.RSI = copyFloat(r.RSI)
	c.VWAPDistPct = copyFloat(r.VWAPDistPct)
	c.ShortInterestPct = copyFloat(r.ShortInterestPct)
	c.BorrowFeePct = copyFloat(r.BorrowFeePct)
	c.UtilizationPct = copyFloat(r.UtilizationPct)
	c.IVPercentile = copyFloat(r.IVPercentile)
	c.CallPutRatio = copyFloat(r.CallPutRatio)
	c.SentimentScore = copyFloat(r.SentimentScore)
	c.RealizedReturn = copyFloat(r.RealizedReturn)
	if r.Catalyst != nil {
		v := *r.Catalyst
		c.Catalyst = &v
	}
	if r.LabelError != nil {
		v := *r.LabelError
		c.LabelError = &v
	}
	if r.Outcome != nil {
		v := *r.Outcome
		c.Outcome = &v
	}
	if r.Reasons != nil {
		c.Reasons = append([]string(nil), r.Reasons...)
	}
	if r.Meta != nil {
		c.Meta = make(map[string]any, len(r.Meta))
		for k, v := range r.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
