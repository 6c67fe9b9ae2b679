package domain

// Outcome is the realized-return classification of a discovery.
type Outcome string

const (
	OutcomeBigWin           Outcome = "big_win"
	OutcomeWin              Outcome = "win"
	OutcomeNeutral          Outcome = "neutral"
	OutcomeLoss             Outcome = "loss"
	OutcomeBigLoss          Outcome = "big_loss"
	OutcomeInsufficientData Outcome = "insufficient_data"
)

// IsValid checks if the outcome is a known value.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeBigWin, OutcomeWin, OutcomeNeutral, OutcomeLoss, OutcomeBigLoss, OutcomeInsufficientData:
		return true
	}
	return false
}

// Bar is a daily OHLCV bar.
type Bar struct {
	Timestamp int64 // unix seconds, start of the bar
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
