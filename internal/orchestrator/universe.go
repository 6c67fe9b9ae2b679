package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"squeeze-discovery/internal/adapter"
	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/screener"
	"squeeze-discovery/internal/storage"
)

// Universe source names, reported as TickResult.ServedBy.
const (
	SourceLiveScan = "live_scan"
	SourceLastGood = "last_good"
	SourceEmpty    = "empty"
)

// UniverseSource yields the raw scan items for a tick. ok=false means the
// source had nothing to offer and the next source should be tried.
type UniverseSource interface {
	Name() string
	Universe(ctx context.Context) (items []json.RawMessage, ok bool, err error)
}

// ScanGateway is the subset of the scan gateway used by the orchestrator.
type ScanGateway interface {
	RunSingleton(ctx context.Context, opts screener.RunOptions) (*domain.ScreenerRunResult, error)
	ForcedCacheMode() bool
}

// LiveScanSource runs the external scan and checkpoints every good artifact.
type LiveScanSource struct {
	Gateway     ScanGateway
	Run         screener.RunOptions
	Checkpoints storage.ScanCheckpointStore // optional
	Clock       func() time.Time
}

func (s *LiveScanSource) Name() string { return SourceLiveScan }

// Universe runs one scan. A scan with zero items is a valid empty universe.
func (s *LiveScanSource) Universe(ctx context.Context) ([]json.RawMessage, bool, error) {
	res, err := s.Gateway.RunSingleton(ctx, s.Run)
	if err != nil {
		return nil, false, err
	}
	if s.Checkpoints != nil && len(res.Items) > 0 {
		now := time.Now
		if s.Clock != nil {
			now = s.Clock
		}
		cp := &storage.ScanCheckpoint{
			RunID:      res.RunID,
			SnapshotTS: res.SnapshotTS,
			Items:      res.Items,
			SavedAt:    now(),
		}
		if err := s.Checkpoints.SaveLastGood(ctx, cp); err != nil {
			return res.Items, true, fmt.Errorf("save scan checkpoint: %w", err)
		}
	}
	return res.Items, true, nil
}

// LastGoodSource replays the last checkpointed scan if it is fresh enough.
type LastGoodSource struct {
	Checkpoints storage.ScanCheckpointStore
	MaxAge      time.Duration // 0 disables the age check
	Clock       func() time.Time
}

func (s *LastGoodSource) Name() string { return SourceLastGood }

func (s *LastGoodSource) Universe(ctx context.Context) ([]json.RawMessage, bool, error) {
	cp, err := s.Checkpoints.GetLastGood(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if s.MaxAge > 0 {
		now := time.Now
		if s.Clock != nil {
			now = s.Clock
		}
		if age := now().Sub(cp.SavedAt); age > s.MaxAge {
			return nil, false, fmt.Errorf("last good scan %s is %s old", cp.RunID, age.Round(time.Second))
		}
	}
	return cp.Items, len(cp.Items) > 0, nil
}

// EmptySource always answers with an empty universe.
type EmptySource struct{}

func (EmptySource) Name() string { return SourceEmpty }

func (EmptySource) Universe(context.Context) ([]json.RawMessage, bool, error) {
	return nil, true, nil
}

// marketFields are the raw bar fields a scan item may carry next to the
// screener payload.
type marketFields struct {
	Volume      *float64 `json:"volume,omitempty"`
	PrevVolume  *float64 `json:"prev_volume,omitempty"`
	AvgVolume   *float64 `json:"avg_volume,omitempty"`
	PrevClose   *float64 `json:"prev_close,omitempty"`
	FloatShares *float64 `json:"float_shares,omitempty"`
}

// universeItem is one decoded scan item.
type universeItem struct {
	snapshot domain.CandidateSnapshot
	score    float64
	thesis   string
}

// decodeUniverse turns raw scan items into snapshots. Items without a symbol
// or a price are skipped. Screener squeeze readings are percentages and are
// converted to fractions; volume falls back to average dollar volume scaled
// by the reported relative volume.
func decodeUniverse(raw []json.RawMessage) ([]universeItem, int) {
	items := make([]universeItem, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		var si adapter.ScreenerItem
		var mf marketFields
		if json.Unmarshal(r, &si) != nil || json.Unmarshal(r, &mf) != nil {
			skipped++
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(si.Symbol))
		if symbol == "" {
			symbol = strings.ToUpper(strings.TrimSpace(si.Ticker))
		}
		if symbol == "" || si.Price == nil || *si.Price <= 0 {
			skipped++
			continue
		}

		snap := domain.CandidateSnapshot{
			Symbol:        symbol,
			Price:         *si.Price,
			ShortInterest: fraction(si.ShortInterest),
			Utilization:   fraction(si.Utilization),
			BorrowFee:     fraction(si.BorrowFee),
			FloatShares:   mf.FloatShares,
		}
		snap.PrevVolume = first(mf.PrevVolume, mf.AvgVolume)
		snap.Volume = first(mf.Volume)
		snap.PrevClose = first(mf.PrevClose)

		if snap.Volume == 0 && si.Indicators != nil && si.Indicators.AvgDollar != nil {
			avg := *si.Indicators.AvgDollar / snap.Price
			rv := 1.0
			if si.Indicators.RelVol != nil && *si.Indicators.RelVol > 0 {
				rv = *si.Indicators.RelVol
			} else if si.RelVol30m != nil && *si.RelVol30m > 0 {
				rv = *si.RelVol30m
			}
			snap.Volume = avg * rv
			if snap.PrevVolume == 0 {
				snap.PrevVolume = avg
			}
		}

		items = append(items, universeItem{snapshot: snap, score: si.Score, thesis: si.ThesisText()})
	}
	return items, skipped
}

func fraction(pct *float64) *float64 {
	if pct == nil {
		return nil
	}
	v := *pct / 100
	return &v
}

func first(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil && *v > 0 {
			return *v
		}
	}
	return 0
}
