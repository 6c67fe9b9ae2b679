// Package indicators computes momentum and trend readings from daily bars.
package indicators

import (
	"errors"
	"fmt"

	"github.com/markcheno/go-talib"

	"squeeze-discovery/internal/domain"
)

// ErrInsufficientBars is returned when there are too few bars for a period.
var ErrInsufficientBars = errors.New("insufficient bars")

// Default periods.
const (
	RSIPeriod = 14
	ATRPeriod = 14
	EMAFast   = 9
	EMASlow   = 20
	VWAPBars  = 20 // rolling window for the daily VWAP approximation
)

// RSI returns the last RSI value for closes.
func RSI(closes []float64, period int) (float64, error) {
	if len(closes) <= period {
		return 0, fmt.Errorf("rsi(%d) over %d closes: %w", period, len(closes), ErrInsufficientBars)
	}
	out := talib.Rsi(closes, period)
	return out[len(out)-1], nil
}

// EMA returns the last exponential moving average value for closes.
func EMA(closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, fmt.Errorf("ema(%d) over %d closes: %w", period, len(closes), ErrInsufficientBars)
	}
	out := talib.Ema(closes, period)
	return out[len(out)-1], nil
}

// ATRPct returns the last average true range as a percentage of the last close.
func ATRPct(highs, lows, closes []float64, period int) (float64, error) {
	if len(closes) <= period || len(highs) != len(closes) || len(lows) != len(closes) {
		return 0, fmt.Errorf("atr(%d) over %d bars: %w", period, len(closes), ErrInsufficientBars)
	}
	last := closes[len(closes)-1]
	if last <= 0 {
		return 0, fmt.Errorf("atr: non-positive close %v", last)
	}
	out := talib.Atr(highs, lows, closes, period)
	return out[len(out)-1] / last * 100, nil
}

// VWAP returns the volume-weighted typical price over the last n bars.
func VWAP(bars []domain.Bar, n int) (float64, error) {
	if len(bars) == 0 {
		return 0, fmt.Errorf("vwap: %w", ErrInsufficientBars)
	}
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	var pv, vol float64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * b.Volume
		vol += b.Volume
	}
	if vol <= 0 {
		return 0, errors.New("vwap: zero volume")
	}
	return pv / vol, nil
}

// Readings is everything derived from one bar series.
type Readings struct {
	Momentum  domain.MomentumData
	Technical domain.TechnicalData
}

// Compute derives momentum and technical readings from daily bars, oldest first.
// RelVol compares the last bar volume with the mean of the preceding 20 bars.
func Compute(bars []domain.Bar) (*Readings, error) {
	if len(bars) <= EMASlow {
		return nil, fmt.Errorf("compute over %d bars: %w", len(bars), ErrInsufficientBars)
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}

	rsi, err := RSI(closes, RSIPeriod)
	if err != nil {
		return nil, err
	}
	atrPct, err := ATRPct(highs, lows, closes, ATRPeriod)
	if err != nil {
		return nil, err
	}
	ema9, err := EMA(closes, EMAFast)
	if err != nil {
		return nil, err
	}
	ema20, err := EMA(closes, EMASlow)
	if err != nil {
		return nil, err
	}
	vwap, err := VWAP(bars, VWAPBars)
	if err != nil {
		return nil, err
	}

	last := closes[len(closes)-1]
	return &Readings{
		Momentum: domain.MomentumData{
			RelVol:      relVol(bars, 20),
			ATRPct:      atrPct,
			RSI:         rsi,
			VWAPDistPct: (last - vwap) / vwap * 100,
		},
		Technical: domain.TechnicalData{
			EMA9:      ema9,
			EMA20:     ema20,
			AboveVWAP: last > vwap,
		},
	}, nil
}

func relVol(bars []domain.Bar, lookback int) float64 {
	last := bars[len(bars)-1].Volume
	prior := bars[:len(bars)-1]
	if len(prior) > lookback {
		prior = prior[len(prior)-lookback:]
	}
	var sum float64
	for _, b := range prior {
		sum += b.Volume
	}
	if len(prior) == 0 || sum <= 0 {
		return 1
	}
	return last / (sum / float64(len(prior)))
}
