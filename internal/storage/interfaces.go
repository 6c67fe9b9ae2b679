package storage

import (
	"context"
	"time"

	"squeeze-discovery/internal/domain"
)

// DiscoveryStore provides access to the discoveries audit table and the
// discovery_rankings table. Both rows share the same discovery id.
type DiscoveryStore interface {
	// Upsert writes the audit row and the ranking row for a record atomically.
	// The id is derived from (ticker, day). Existing outcome fields are never
	// modified. Returns inserted=true when the (ticker, day) pair was new.
	Upsert(ctx context.Context, rec *domain.DiscoveryRecord) (inserted bool, err error)

	// GetByID retrieves a record by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.DiscoveryRecord, error)

	// GetBySymbolDay retrieves the record for a ticker on a day. Returns ErrNotFound if not exists.
	GetBySymbolDay(ctx context.Context, ticker string, day time.Time) (*domain.DiscoveryRecord, error)

	// GetRanking returns ranking rows for a day ordered by score DESC, symbol ASC.
	// limit <= 0 means no limit.
	GetRanking(ctx context.Context, day time.Time, limit int) ([]*domain.RankingEntry, error)

	// ListDueForLabel returns unlabeled records whose horizon elapsed at or before now,
	// ordered by entry time ASC.
	ListDueForLabel(ctx context.Context, now time.Time, limit int) ([]*domain.DiscoveryRecord, error)

	// SetOutcome stores a terminal outcome. Returns ErrOutcomeAlreadySet if an
	// outcome already exists and ErrNotFound if the id is unknown.
	SetOutcome(ctx context.Context, id string, realizedReturn *float64, outcome domain.Outcome) error

	// MarkLabelError records a transient labeling failure. The outcome stays unset.
	MarkLabelError(ctx context.Context, id string, message string) error
}

// ScoreSnapshotStore provides access to score_snapshots analytics storage.
type ScoreSnapshotStore interface {
	// InsertBulk adds multiple snapshots. Rows already present are skipped.
	InsertBulk(ctx context.Context, snapshots []*domain.ScoreSnapshot) error

	// GetBySymbol retrieves snapshots for a symbol within [start, end] (inclusive, ms),
	// ordered by timestamp ASC.
	GetBySymbol(ctx context.Context, symbol string, start, end int64) ([]*domain.ScoreSnapshot, error)
}
