package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/idhash"
	"squeeze-discovery/internal/storage"
)

// DiscoveryStore implements storage.DiscoveryStore using PostgreSQL.
// Uses two tables:
//   - discoveries: audit row with the full canonical record and outcome
//   - discovery_rankings: compact ranking row keyed by (symbol, day)
type DiscoveryStore struct {
	pool *Pool
}

// NewDiscoveryStore creates a new DiscoveryStore.
func NewDiscoveryStore(pool *Pool) *DiscoveryStore {
	return &DiscoveryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DiscoveryStore = (*DiscoveryStore)(nil)

const discoveryColumns = `
	id, ticker, day, score, price, confidence, action,
	rel_vol, atr_pct, rsi, vwap_dist_pct, short_interest_pct, borrow_fee_pct,
	utilization_pct, iv_percentile, call_put_ratio, catalyst, sentiment_score,
	reasons, meta, source, synthetic, entry_at, horizon_days,
	outcome, realized_return, label_error, created_at, updated_at
`

// Upsert writes the audit and ranking rows in one transaction.
// Outcome columns are never part of the update set.
func (s *DiscoveryStore) Upsert(ctx context.Context, rec *domain.DiscoveryRecord) (bool, error) {
	if rec == nil || strings.TrimSpace(rec.Ticker) == "" {
		return false, storage.ErrInvalidInput
	}

	rec.Ticker = strings.ToUpper(strings.TrimSpace(rec.Ticker))
	rec.Day = domain.DayOf(rec.Day)
	rec.ID = idhash.ComputeDiscoveryID(rec.Ticker, rec.Day)
	if rec.HorizonDays <= 0 {
		rec.HorizonDays = domain.DefaultHorizonDays
	}
	if rec.EntryAt.IsZero() {
		rec.EntryAt = time.Now().UTC()
	}

	reasons, err := json.Marshal(nonNilReasons(rec.Reasons))
	if err != nil {
		return false, fmt.Errorf("marshal reasons: %w", err)
	}
	meta, err := json.Marshal(nonNilMeta(rec.Meta))
	if err != nil {
		return false, fmt.Errorf("marshal meta: %w", err)
	}
	components, err := json.Marshal(rec.Components())
	if err != nil {
		return false, fmt.Errorf("marshal components: %w", err)
	}

	start := time.Now()
	var inserted bool
	err = s.pool.withTx(ctx, func(tx pgx.Tx) error {
		return upsertRows(ctx, tx, rec, string(reasons), string(meta), string(components), &inserted)
	})
	observeQuery("upsert", start, err)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func upsertRows(ctx context.Context, tx pgx.Tx, rec *domain.DiscoveryRecord, reasons, meta, components string, inserted *bool) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO discoveries (
			id, ticker, day, score, price, confidence, action,
			rel_vol, atr_pct, rsi, vwap_dist_pct, short_interest_pct, borrow_fee_pct,
			utilization_pct, iv_percentile, call_put_ratio, catalyst, sentiment_score,
			reasons, meta, source, synthetic, entry_at, horizon_days
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24
		)
		ON CONFLICT (id) DO UPDATE
		SET score = EXCLUDED.score,
		    price = EXCLUDED.price,
		    confidence = EXCLUDED.confidence,
		    action = EXCLUDED.action,
		    rel_vol = EXCLUDED.rel_vol,
		    atr_pct = EXCLUDED.atr_pct,
		    rsi = EXCLUDED.rsi,
		    vwap_dist_pct = EXCLUDED.vwap_dist_pct,
		    short_interest_pct = EXCLUDED.short_interest_pct,
		    borrow_fee_pct = EXCLUDED.borrow_fee_pct,
		    utilization_pct = EXCLUDED.utilization_pct,
		    iv_percentile = EXCLUDED.iv_percentile,
		    call_put_ratio = EXCLUDED.call_put_ratio,
		    catalyst = EXCLUDED.catalyst,
		    sentiment_score = EXCLUDED.sentiment_score,
		    reasons = EXCLUDED.reasons,
		    meta = EXCLUDED.meta,
		    source = EXCLUDED.source,
		    synthetic = EXCLUDED.synthetic,
		    updated_at = NOW()
		RETURNING (xmax = 0), created_at, updated_at, entry_at
	`,
		rec.ID, rec.Ticker, rec.Day, rec.Score, rec.Price, string(rec.Confidence), rec.Action,
		rec.RelVol, rec.ATRPct, rec.RSI, rec.VWAPDistPct, rec.ShortInterestPct, rec.BorrowFeePct,
		rec.UtilizationPct, rec.IVPercentile, rec.CallPutRatio, rec.Catalyst, rec.SentimentScore,
		reasons, meta, string(rec.Source), rec.Synthetic, rec.EntryAt, rec.HorizonDays,
	).Scan(inserted, &rec.CreatedAt, &rec.UpdatedAt, &rec.EntryAt)
	if err != nil {
		if isCheckViolationError(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		// A (ticker, day) row under a different id.
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", storage.ErrDuplicateKey, err)
		}
		return fmt.Errorf("upsert discovery: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO discovery_rankings (id, symbol, day, score, price, action, components)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, day) DO UPDATE
		SET score = EXCLUDED.score,
		    price = EXCLUDED.price,
		    action = EXCLUDED.action,
		    components = EXCLUDED.components,
		    updated_at = NOW()
	`, rec.ID, rec.Ticker, rec.Day, rec.Score, rec.Price, rec.Action, components)
	if err != nil {
		return fmt.Errorf("upsert ranking: %w", err)
	}
	return nil
}

// GetByID retrieves a record by id. Returns ErrNotFound if not exists.
func (s *DiscoveryStore) GetByID(ctx context.Context, id string) (*domain.DiscoveryRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+discoveryColumns+` FROM discoveries WHERE id = $1`, id)
	rec, err := scanDiscovery(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get discovery by id: %w", err)
	}
	return rec, nil
}

// GetBySymbolDay retrieves the record for a ticker on a day.
func (s *DiscoveryStore) GetBySymbolDay(ctx context.Context, ticker string, day time.Time) (*domain.DiscoveryRecord, error) {
	return s.GetByID(ctx, idhash.ComputeDiscoveryID(ticker, day))
}

// GetRanking returns ranking rows for a day ordered by score DESC, symbol ASC.
func (s *DiscoveryStore) GetRanking(ctx context.Context, day time.Time, limit int) ([]*domain.RankingEntry, error) {
	query := `
		SELECT id, symbol, day, score, price, action, components, created_at, updated_at
		FROM discovery_rankings
		WHERE day = $1
		ORDER BY score DESC, symbol ASC
	`
	args := []any{domain.DayOf(day)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	observeQuery("get_ranking", start, err)
	if err != nil {
		return nil, fmt.Errorf("get ranking: %w", err)
	}
	defer rows.Close()

	var entries []*domain.RankingEntry
	for rows.Next() {
		var e domain.RankingEntry
		var components []byte
		if err := rows.Scan(&e.ID, &e.Symbol, &e.Day, &e.Score, &e.Price, &e.Action,
			&components, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ranking row: %w", err)
		}
		if len(components) > 0 {
			if err := json.Unmarshal(components, &e.Components); err != nil {
				return nil, fmt.Errorf("decode ranking components: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranking rows: %w", err)
	}

	return entries, nil
}

// ListDueForLabel returns unlabeled records whose horizon has elapsed.
func (s *DiscoveryStore) ListDueForLabel(ctx context.Context, now time.Time, limit int) ([]*domain.DiscoveryRecord, error) {
	query := `SELECT ` + discoveryColumns + `
		FROM discoveries
		WHERE outcome IS NULL
		  AND entry_at + make_interval(days => horizon_days) <= $1
		ORDER BY entry_at ASC, id ASC
	`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	observeQuery("list_due", start, err)
	if err != nil {
		return nil, fmt.Errorf("list due for label: %w", err)
	}
	defer rows.Close()

	var recs []*domain.DiscoveryRecord
	for rows.Next() {
		rec, err := scanDiscovery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discovery row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discovery rows: %w", err)
	}

	return recs, nil
}

// SetOutcome stores a terminal outcome, guarded by outcome IS NULL.
func (s *DiscoveryStore) SetOutcome(ctx context.Context, id string, realizedReturn *float64, outcome domain.Outcome) error {
	if id == "" || !outcome.IsValid() {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE discoveries
		SET outcome = $2,
		    realized_return = $3,
		    labeled_at = NOW(),
		    label_error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND outcome IS NULL
	`, id, string(outcome), realizedReturn)
	observeQuery("set_outcome", start, err)
	if err != nil {
		return fmt.Errorf("set outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrLabeled(ctx, id)
	}
	return nil
}

// MarkLabelError records a transient labeling failure on an unlabeled record.
func (s *DiscoveryStore) MarkLabelError(ctx context.Context, id string, message string) error {
	if id == "" {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE discoveries
		SET label_error = $2, updated_at = NOW()
		WHERE id = $1 AND outcome IS NULL
	`, id, message)
	if err != nil {
		return fmt.Errorf("mark label error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrLabeled(ctx, id)
	}
	return nil
}

// missOrLabeled explains a guarded update that touched no rows.
func (s *DiscoveryStore) missOrLabeled(ctx context.Context, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM discoveries WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check discovery exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrOutcomeAlreadySet
}

// scanDiscovery scans a single row into a DiscoveryRecord.
func scanDiscovery(row pgx.Row) (*domain.DiscoveryRecord, error) {
	var rec domain.DiscoveryRecord
	var confidence, source string
	var outcome *string
	var reasons, meta []byte

	err := row.Scan(
		&rec.ID, &rec.Ticker, &rec.Day, &rec.Score, &rec.Price, &confidence, &rec.Action,
		&rec.RelVol, &rec.ATRPct, &rec.RSI, &rec.VWAPDistPct, &rec.ShortInterestPct, &rec.BorrowFeePct,
		&rec.UtilizationPct, &rec.IVPercentile, &rec.CallPutRatio, &rec.Catalyst, &rec.SentimentScore,
		&reasons, &meta, &source, &rec.Synthetic, &rec.EntryAt, &rec.HorizonDays,
		&outcome, &rec.RealizedReturn, &rec.LabelError, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Confidence = domain.Confidence(confidence)
	rec.Source = domain.Source(source)
	if outcome != nil {
		o := domain.Outcome(*outcome)
		rec.Outcome = &o
	}
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &rec.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Meta); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
	}

	return &rec, nil
}

func nonNilReasons(r []string) []string {
	if r == nil {
		return []string{}
	}
	return r
}

func nonNilMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
