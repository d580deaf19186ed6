package engine

import (
	"fmt"
	"math"

	"deriv-trading-bot/internal/indicator"
	"deriv-trading-bot/internal/strategy"
)

// volatilityWindow is the close window the spike check inspects.
const volatilityWindow = 20

// divergenceWindow is how far back the MACD/price comparison reaches.
const divergenceWindow = 5

// divergenceEps filters out flat moves so numeric noise in a sideways
// series never reads as divergence.
const divergenceEps = 1e-6

// volatilitySpike reports whether the last-vs-first relative move over
// the recent close window exceeds the threshold percentage. The window's
// dispersion comes back for the log line.
func volatilitySpike(closes []float64, thresholdPct float64) (bool, float64, float64) {
	if thresholdPct <= 0 || len(closes) < volatilityWindow {
		return false, 0, 0
	}
	window := closes[len(closes)-volatilityWindow:]
	first, last := window[0], window[len(window)-1]
	if first == 0 {
		return false, 0, 0
	}
	movePct := math.Abs(last-first) / math.Abs(first) * 100
	dispersion, _ := indicator.LastValid(indicator.CalculateStdDev(window, len(window)))
	return movePct > thresholdPct, movePct, dispersion
}

// technicalBlock returns why signal generation must be skipped this
// iteration, or "" when the indicator state allows trading. The ADX
// reading is computed by the caller because the regime needs it too.
func technicalBlock(closes []float64, adx, adxMin float64) string {
	if adx < adxMin {
		return fmt.Sprintf("adx %.1f below minimum %.1f, no trend to trade", adx, adxMin)
	}

	rsi, ok := indicator.LastValid(indicator.CalculateRSI(closes, 14))
	if !ok {
		return "rsi not defined yet"
	}
	if rsi > 85 || rsi < 15 {
		return fmt.Sprintf("rsi %.1f in an extreme zone", rsi)
	}

	if macdPriceDivergence(closes) {
		return "macd and price diverge over the last candles"
	}
	return ""
}

// macdPriceDivergence reports price pushing one way over the last few
// candles while the macd line pushes the other, a momentum fade that
// precedes reversals.
func macdPriceDivergence(closes []float64) bool {
	if len(closes) < divergenceWindow {
		return false
	}
	macd := indicator.CalculateMACD(closes, 12, 26, 9)
	if macd == nil || len(macd.MACD) < divergenceWindow {
		return false
	}

	priceMove := closes[len(closes)-1] - closes[len(closes)-divergenceWindow]
	cur := macd.MACD[len(macd.MACD)-1]
	prev := macd.MACD[len(macd.MACD)-divergenceWindow]
	if math.IsNaN(cur) || math.IsNaN(prev) {
		return false
	}
	macdMove := cur - prev

	return (priceMove > divergenceEps && macdMove < -divergenceEps) ||
		(priceMove < -divergenceEps && macdMove > divergenceEps)
}

// confidenceBar is the regime-dependent acceptance threshold: a weak
// trend demands more conviction from the classifier, a strong one
// admits signals at a lower bar.
func confidenceBar(base float64, regime strategy.Regime) float64 {
	switch regime.Label {
	case strategy.RegimeStrongTrend:
		return base - 0.05
	case strategy.RegimeRange:
		return base + 0.05
	}
	return base
}
