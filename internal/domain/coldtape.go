package domain

import "time"

// RelaxedThresholds is the floor overlay applied while the tape is cold.
type RelaxedThresholds struct {
	RSIMin    float64 `json:"rsi_min"`
	ATRPctMin float64 `json:"atr_pct_min"`
	RelVolMin float64 `json:"rel_vol_min"`
}

// ColdTapeState is a snapshot of the cold-tape controller.
type ColdTapeState struct {
	Active            bool               `json:"active"`
	ActiveSince       time.Time          `json:"active_since,omitzero"`
	LastTradeReadyAt  time.Time          `json:"last_trade_ready_at"`
	RelaxedThresholds *RelaxedThresholds `json:"relaxed_thresholds,omitempty"`
	Activations       int                `json:"activations"`
}
