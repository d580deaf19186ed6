// Package indicator provides the numeric series used by the signal
// evaluators and gates. Every function returns a slice the same length as
// its input, with math.NaN() in positions where the lookback window is not
// yet satisfied.
package indicator

import (
	"math"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates the Simple Moving Average series
func CalculateSMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// CalculateEMA calculates the Exponential Moving Average series, seeded
// with an SMA over the first period values.
func CalculateEMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out[i] = ema
	}
	return out
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// CalculateRSI calculates the Relative Strength Index series using Wilder
// smoothing. The first defined value sits at index period.
func CalculateRSI(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period+1 {
		return out
	}

	gains := 0.0
	losses := 0.0
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// MACDResult holds the MACD line, signal line, and histogram series
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// CalculateMACD calculates MACD, signal line (EMA of the MACD line), and
// histogram series.
func CalculateMACD(values []float64, fastPeriod, slowPeriod, signalPeriod int) *MACDResult {
	n := len(values)
	result := &MACDResult{
		MACD:      nanSeries(n),
		Signal:    nanSeries(n),
		Histogram: nanSeries(n),
	}
	if n < slowPeriod+signalPeriod {
		return result
	}

	fast := CalculateEMA(values, fastPeriod)
	slow := CalculateEMA(values, slowPeriod)
	for i := slowPeriod - 1; i < n; i++ {
		result.MACD[i] = fast[i] - slow[i]
	}

	// Signal line is an EMA over the defined portion of the MACD line.
	defined := result.MACD[slowPeriod-1:]
	signal := CalculateEMA(defined, signalPeriod)
	for i, v := range signal {
		idx := slowPeriod - 1 + i
		result.Signal[idx] = v
		if !math.IsNaN(v) {
			result.Histogram[idx] = result.MACD[idx] - v
		}
	}
	return result
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerBandsResult holds the band series
type BollingerBandsResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// CalculateBollingerBands calculates Bollinger Bands over any numeric
// series (price or an oscillator such as RSI).
func CalculateBollingerBands(values []float64, period int, stdDevMultiplier float64) *BollingerBandsResult {
	n := len(values)
	result := &BollingerBandsResult{
		Upper:  nanSeries(n),
		Middle: CalculateSMA(values, period),
		Lower:  nanSeries(n),
	}
	if period <= 0 || n < period {
		return result
	}

	std := CalculateStdDev(values, period)
	for i := period - 1; i < n; i++ {
		if math.IsNaN(result.Middle[i]) || math.IsNaN(std[i]) {
			continue
		}
		result.Upper[i] = result.Middle[i] + std[i]*stdDevMultiplier
		result.Lower[i] = result.Middle[i] - std[i]*stdDevMultiplier
	}
	return result
}

// CalculateStdDev calculates the rolling population standard deviation.
func CalculateStdDev(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)

		variance := 0.0
		for _, v := range window {
			diff := v - mean
			variance += diff * diff
		}
		out[i] = math.Sqrt(variance / float64(period))
	}
	return out
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// CalculateATR calculates the Average True Range series with Wilder
// smoothing. Defined from index period onward.
func CalculateATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSeries(n)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return out
	}

	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = trueRange(highs[i], lows[i], closes[i-1])
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period] = atr

	for i := period + 1; i < n; i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ============================================================================
// ADX (Average Directional Index)
// ============================================================================

// CalculateADX calculates the Average Directional Index series from
// Wilder-smoothed +DI/-DI. The first defined value sits at index 2*period.
func CalculateADX(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSeries(n)
	if period <= 0 || n < 2*period+1 || len(highs) != n || len(lows) != n {
		return out
	}

	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(highs[i], lows[i], closes[i-1])
	}

	// Wilder-smoothed sums
	smTR, smPlus, smMinus := 0.0, 0.0, 0.0
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := nanSeries(n)
	dx[period] = dxValue(smPlus, smMinus, smTR)
	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		dx[i] = dxValue(smPlus, smMinus, smTR)
	}

	// ADX is a Wilder average of DX.
	sum := 0.0
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	adx := sum / float64(period)
	out[2*period] = adx
	for i := 2*period + 1; i < n; i++ {
		adx = (adx*float64(period-1) + dx[i]) / float64(period)
		out[i] = adx
	}
	return out
}

func dxValue(smPlus, smMinus, smTR float64) float64 {
	if smTR == 0 {
		return 0
	}
	plusDI := 100 * smPlus / smTR
	minusDI := 100 * smMinus / smTR
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

// ============================================================================
// STOCHASTIC OSCILLATOR
// ============================================================================

// StochasticResult holds the %K and %D series
type StochasticResult struct {
	K []float64
	D []float64
}

// CalculateStochastic calculates the Stochastic Oscillator series; %D is an
// SMA of %K.
func CalculateStochastic(highs, lows, closes []float64, kPeriod, dPeriod int) *StochasticResult {
	n := len(closes)
	result := &StochasticResult{K: nanSeries(n), D: nanSeries(n)}
	if kPeriod <= 0 || n < kPeriod || len(highs) != n || len(lows) != n {
		return result
	}

	for i := kPeriod - 1; i < n; i++ {
		hh := highs[i-kPeriod+1]
		ll := lows[i-kPeriod+1]
		for j := i - kPeriod + 2; j <= i; j++ {
			if highs[j] > hh {
				hh = highs[j]
			}
			if lows[j] < ll {
				ll = lows[j]
			}
		}
		if hh == ll {
			result.K[i] = 50
		} else {
			result.K[i] = (closes[i] - ll) / (hh - ll) * 100
		}
	}

	defined := result.K[kPeriod-1:]
	d := CalculateSMA(defined, dPeriod)
	for i, v := range d {
		result.D[kPeriod-1+i] = v
	}
	return result
}

// ============================================================================
// HELPERS
// ============================================================================

// LastValid returns the most recent non-NaN value of a series.
func LastValid(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i], true
		}
	}
	return 0, false
}

// ForwardFill replaces NaN entries with the last defined value before them.
// Leading NaNs remain.
func ForwardFill(series []float64) []float64 {
	out := make([]float64, len(series))
	last := math.NaN()
	for i, v := range series {
		if !math.IsNaN(v) {
			last = v
		}
		out[i] = last
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
