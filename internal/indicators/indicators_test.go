package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squeeze-discovery/internal/domain"
)

// risingBars builds n bars with a steady uptrend and constant volume.
func risingBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 10 + float64(i)*0.5
		bars[i] = domain.Bar{
			Timestamp: int64(i) * 86400,
			Open:      c - 0.2,
			High:      c + 0.3,
			Low:       c - 0.3,
			Close:     c,
			Volume:    1_000_000,
		}
	}
	return bars
}

func TestRSI_Uptrend(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(10 + i)
	}
	rsi, err := RSI(closes, 14)
	require.NoError(t, err)
	assert.InDelta(t, 100, rsi, 1e-6)
}

func TestRSI_Insufficient(t *testing.T) {
	_, err := RSI([]float64{1, 2, 3}, 14)
	assert.ErrorIs(t, err, ErrInsufficientBars)
}

func TestEMA_Constant(t *testing.T) {
	closes := []float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	ema, err := EMA(closes, 9)
	require.NoError(t, err)
	assert.InDelta(t, 5, ema, 1e-9)
}

func TestATRPct(t *testing.T) {
	bars := risingBars(30)
	h := make([]float64, len(bars))
	l := make([]float64, len(bars))
	c := make([]float64, len(bars))
	for i, b := range bars {
		h[i], l[i], c[i] = b.High, b.Low, b.Close
	}
	atr, err := ATRPct(h, l, c, 14)
	require.NoError(t, err)
	// True range is 0.8 each bar (gap of 0.5 plus 0.3 above the prior close).
	assert.InDelta(t, 0.8/c[len(c)-1]*100, atr, 0.05)
}

func TestVWAP(t *testing.T) {
	bars := []domain.Bar{
		{High: 11, Low: 9, Close: 10, Volume: 100},
		{High: 21, Low: 19, Close: 20, Volume: 300},
	}
	v, err := VWAP(bars, 0)
	require.NoError(t, err)
	assert.InDelta(t, 17.5, v, 1e-9)

	v, err = VWAP(bars, 1)
	require.NoError(t, err)
	assert.InDelta(t, 20, v, 1e-9)

	_, err = VWAP([]domain.Bar{{High: 1, Low: 1, Close: 1}}, 0)
	assert.Error(t, err)
}

func TestCompute(t *testing.T) {
	bars := risingBars(40)
	bars[len(bars)-1].Volume = 3_000_000

	r, err := Compute(bars)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, r.Momentum.RelVol, 1e-9)
	assert.Greater(t, r.Momentum.RSI, 70.0)
	assert.Greater(t, r.Momentum.ATRPct, 0.0)
	assert.Greater(t, r.Technical.EMA9, r.Technical.EMA20, "uptrend puts the fast EMA above the slow one")
	assert.True(t, r.Technical.AboveVWAP)
	assert.Greater(t, r.Momentum.VWAPDistPct, 0.0)
}

func TestCompute_Insufficient(t *testing.T) {
	_, err := Compute(risingBars(10))
	assert.ErrorIs(t, err, ErrInsufficientBars)
}
