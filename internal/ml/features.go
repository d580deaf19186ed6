// Package ml holds the bot's learning components: an online direction
// classifier updated one trade at a time, a recovery model for the ML stop
// loss, a fixed-weight ensemble over offline model artifacts, and the
// snapshot store that versions their state on disk.
package ml

import (
	"math"
	"time"

	"deriv-trading-bot/internal/market"
)

// CandleFeatureDim is the length of vectors produced by CandleFeatures.
const CandleFeatureDim = 8

// PositionFeatureDim is the length of vectors produced by PositionFeatures.
const PositionFeatureDim = 6

// CandleFeatures builds the direction-model input from recent candles:
// short-horizon returns, the shape of the last candle, relative volume and
// the time of day encoded cyclically. Needs at least 4 candles.
func CandleFeatures(candles []market.Candle) []float64 {
	if len(candles) < 4 {
		return nil
	}

	closes := market.Closes(candles)
	last := candles[len(candles)-1]

	features := make([]float64, 0, CandleFeatureDim)
	features = append(features,
		pctChange(closes, 1),
		pctChange(closes, 2),
		pctChange(closes, 3),
	)

	// Candle body as a percentage of the open.
	body := 0.0
	if last.Open != 0 {
		body = (last.Close - last.Open) / last.Open * 100
	}
	features = append(features, body)

	// Where the close sits inside the candle range, 0.5 when flat.
	rangePos := 0.5
	if last.High > last.Low {
		rangePos = (last.Close - last.Low) / (last.High - last.Low)
	}
	features = append(features, rangePos)

	// Last volume against the average of the last 10 candles.
	features = append(features, volumeRatio(candles, 10))

	// Time of day on the unit circle.
	sin, cos := timeOfDay(last.OpenTime)
	features = append(features, sin, cos)

	return features
}

// PositionFeatures builds the recovery-model input for an open position:
// loss depth relative to stake, minutes held, time of day and the current
// indicator regime.
func PositionFeatures(profit, stake float64, elapsed time.Duration, now time.Time, rsi, adx float64) []float64 {
	profitPct := 0.0
	if stake > 0 {
		profitPct = profit / stake
	}

	sin, cos := timeOfDay(now.Unix())
	return []float64{
		profitPct,
		elapsed.Minutes(),
		sin,
		cos,
		rsi / 100,
		adx / 100,
	}
}

func pctChange(closes []float64, lag int) float64 {
	n := len(closes)
	if lag >= n {
		return 0
	}
	prev := closes[n-1-lag]
	if prev == 0 {
		return 0
	}
	return (closes[n-1] - prev) / prev * 100
}

func volumeRatio(candles []market.Candle, window int) float64 {
	n := len(candles)
	if window > n {
		window = n
	}
	sum := 0.0
	for _, c := range candles[n-window:] {
		sum += float64(c.Volume)
	}
	avg := sum / float64(window)
	if avg == 0 {
		return 1
	}
	return float64(candles[n-1].Volume) / avg
}

func timeOfDay(epoch int64) (float64, float64) {
	frac := float64(epoch%86400) / 86400
	return math.Sin(2 * math.Pi * frac), math.Cos(2 * math.Pi * frac)
}

func sigmoid(z float64) float64 {
	if z > 35 {
		return 1
	}
	if z < -35 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}

// clampProb maps NaN and infinite scores back to the neutral 0.5 and keeps
// probabilities inside [0, 1].
func clampProb(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0.5
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
