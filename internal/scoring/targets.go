package scoring

import "github.com/shopspring/decimal"

// Targets are suggested price levels for a candidate.
type Targets struct {
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	Target1    float64 `json:"target_1"`
	Target2    float64 `json:"target_2"`
	RiskReward float64 `json:"risk_reward_ratio"`
}

// EntryTargets derives entry, stop and targets from price and score.
// Volatility is an annualized fraction; when positive it scales the bands
// around a 30% norm, bounded to [0.5x, 2x]. Returns nil for price <= 0.
func EntryTargets(price float64, score int, volatility float64) *Targets {
	if price <= 0 {
		return nil
	}

	var stop, t1, t2 float64
	switch {
	case score >= 85:
		stop, t1, t2 = 0.08, 0.25, 0.50
	case score >= 75:
		stop, t1, t2 = 0.10, 0.20, 0.40
	case score >= 70:
		stop, t1, t2 = 0.12, 0.15, 0.30
	default:
		stop, t1, t2 = 0.15, 0.10, 0.20
	}

	if volatility > 0 {
		mult := clamp(volatility/0.3, 0.5, 2.0)
		stop *= mult
		t1 *= mult
		t2 *= mult
	}

	return &Targets{
		Entry:      round2(price * 0.98),
		StopLoss:   round2(price * (1 - stop)),
		Target1:    round2(price * (1 + t1)),
		Target2:    round2(price * (1 + t2)),
		RiskReward: round2(t1 / stop),
	}
}

func round2(x float64) float64 {
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}

// SqueezeRisk scores squeeze pressure from 0 to 100. Short interest, fee
// and utilization are percentages; floatM is the float in millions of
// shares. Zero readings are treated as unknown and contribute nothing.
func SqueezeRisk(shortPct, feePct, utilPct, floatM float64) int {
	risk := 0

	if shortPct > 0 {
		switch {
		case shortPct >= 30:
			risk += 40
		case shortPct >= 20:
			risk += 30
		case shortPct >= 10:
			risk += 20
		default:
			risk += 10
		}
	}

	if feePct > 0 {
		switch {
		case feePct >= 50:
			risk += 30
		case feePct >= 30:
			risk += 25
		case feePct >= 20:
			risk += 20
		case feePct >= 10:
			risk += 15
		default:
			risk += 5
		}
	}

	if utilPct > 0 {
		switch {
		case utilPct >= 90:
			risk += 20
		case utilPct >= 80:
			risk += 15
		case utilPct >= 70:
			risk += 10
		default:
			risk += 5
		}
	}

	if floatM > 0 {
		switch {
		case floatM <= 10:
			risk += 10
		case floatM <= 50:
			risk += 5
		}
	}

	if risk > 100 {
		return 100
	}
	return risk
}
