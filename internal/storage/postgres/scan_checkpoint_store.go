package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"squeeze-discovery/internal/storage"
)

// ScanCheckpointStore is a PostgreSQL implementation of storage.ScanCheckpointStore.
// Uses the single-row scan_checkpoint table.
type ScanCheckpointStore struct {
	pool *Pool
}

// NewScanCheckpointStore creates a new PostgreSQL scan checkpoint store.
func NewScanCheckpointStore(pool *Pool) *ScanCheckpointStore {
	return &ScanCheckpointStore{pool: pool}
}

var _ storage.ScanCheckpointStore = (*ScanCheckpointStore)(nil)

// GetLastGood returns the last saved checkpoint.
func (s *ScanCheckpointStore) GetLastGood(ctx context.Context) (*storage.ScanCheckpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, snapshot_ts, items, saved_at
		FROM scan_checkpoint
		WHERE id = 1
	`)

	var cp storage.ScanCheckpoint
	var items []byte
	if err := row.Scan(&cp.RunID, &cp.SnapshotTS, &items, &cp.SavedAt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get scan checkpoint: %w", err)
	}
	if err := json.Unmarshal(items, &cp.Items); err != nil {
		return nil, fmt.Errorf("decode checkpoint items: %w", err)
	}

	return &cp, nil
}

// SaveLastGood saves the checkpoint.
// Uses upsert to handle initial insert and subsequent updates.
func (s *ScanCheckpointStore) SaveLastGood(ctx context.Context, cp *storage.ScanCheckpoint) error {
	if cp == nil || cp.RunID == "" {
		return storage.ErrInvalidInput
	}

	items := cp.Items
	if items == nil {
		items = []json.RawMessage{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode checkpoint items: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO scan_checkpoint (id, run_id, snapshot_ts, items, saved_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET run_id = EXCLUDED.run_id,
		    snapshot_ts = EXCLUDED.snapshot_ts,
		    items = EXCLUDED.items,
		    saved_at = EXCLUDED.saved_at
	`, cp.RunID, cp.SnapshotTS, string(data), cp.SavedAt)
	if err != nil {
		return fmt.Errorf("save scan checkpoint: %w", err)
	}

	return nil
}
