package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/idhash"
	"squeeze-discovery/internal/observability"
	"squeeze-discovery/internal/storage"
)

// ScoreSnapshotStore implements storage.ScoreSnapshotStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by snapshot_id, so re-inserts collapse.
type ScoreSnapshotStore struct {
	conn *Conn
}

// NewScoreSnapshotStore creates a new ScoreSnapshotStore.
func NewScoreSnapshotStore(conn *Conn) *ScoreSnapshotStore {
	return &ScoreSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ScoreSnapshotStore = (*ScoreSnapshotStore)(nil)

// InsertBulk adds multiple snapshots in one batch.
func (s *ScoreSnapshotStore) InsertBulk(ctx context.Context, snapshots []*domain.ScoreSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	for _, snap := range snapshots {
		if snap == nil || snap.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO score_snapshots (
			snapshot_id, symbol, timestamp_ms, score, raw_score, tier, cold_tape, synthetic,
			volume_momentum, float_short, catalyst, sentiment, options, technical
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		c := snap.Components
		err = batch.Append(
			idhash.ComputeSnapshotID(snap.Symbol, snap.Timestamp, snap.Synthetic),
			strings.ToUpper(snap.Symbol), uint64(snap.Timestamp),
			uint8(snap.Score), uint8(snap.RawScore), string(snap.Tier),
			boolToUInt8(snap.ColdTape), boolToUInt8(snap.Synthetic),
			c.VolumeMomentum, c.FloatShort, c.Catalyst, c.Sentiment, c.Options, c.Technical,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	start := time.Now()
	err = batch.Send()
	observability.RecordDBQuery("clickhouse", "insert_snapshots", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySymbol retrieves snapshots for a symbol within [start, end] (inclusive).
func (s *ScoreSnapshotStore) GetBySymbol(ctx context.Context, symbol string, start, end int64) ([]*domain.ScoreSnapshot, error) {
	query := `
		SELECT symbol, timestamp_ms, score, raw_score, tier, cold_tape, synthetic,
			volume_momentum, float_short, catalyst, sentiment, options, technical
		FROM score_snapshots FINAL
		WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, synthetic ASC
	`

	rows, err := s.conn.Query(ctx, query, strings.ToUpper(symbol), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by symbol: %w", err)
	}
	defer rows.Close()

	return scanScoreSnapshots(rows)
}

// scanScoreSnapshots scans multiple rows.
func scanScoreSnapshots(rows chRows) ([]*domain.ScoreSnapshot, error) {
	var snaps []*domain.ScoreSnapshot

	for rows.Next() {
		var snap domain.ScoreSnapshot
		var timestampMs uint64
		var score, rawScore, coldTape, synthetic uint8
		var tier string
		c := &snap.Components

		err := rows.Scan(
			&snap.Symbol, &timestampMs, &score, &rawScore, &tier, &coldTape, &synthetic,
			&c.VolumeMomentum, &c.FloatShort, &c.Catalyst, &c.Sentiment, &c.Options, &c.Technical,
		)
		if err != nil {
			return nil, fmt.Errorf("scan score snapshot row: %w", err)
		}

		snap.Timestamp = int64(timestampMs)
		snap.Score = int(score)
		snap.RawScore = int(rawScore)
		snap.Tier = domain.Tier(tier)
		snap.ColdTape = coldTape == 1
		snap.Synthetic = synthetic == 1
		snaps = append(snaps, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate score snapshot rows: %w", err)
	}

	return snaps, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
