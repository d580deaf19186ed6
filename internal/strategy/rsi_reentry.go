package strategy

import (
	"fmt"
	"math"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/indicator"
	"deriv-trading-bot/internal/market"
)

// RSIReentry signals mean reversion when the RSI leaves its own
// Bollinger band and closes back inside it on the current bar. A
// higher-timeframe RSI must agree with the reversal direction, and the
// band must be wide enough to mean anything.
type RSIReentry struct {
	rsiPeriod  int
	bandPeriod int
	bandStdDev float64
	htfFactor  int
	minWidth   float64
	minMidDist float64
	base       float64
}

// NewRSIReentry builds the RSI band reentry evaluator from configuration.
func NewRSIReentry(cfg config.StrategyConfig) *RSIReentry {
	r := &RSIReentry{
		rsiPeriod:  cfg.RSIPeriod,
		bandPeriod: cfg.RSIBandPeriod,
		bandStdDev: cfg.RSIBandStdDev,
		htfFactor:  cfg.HigherTFFactor,
		minWidth:   cfg.MinBandWidth,
		minMidDist: cfg.MinMidlineDistance,
		base:       cfg.BaseConfidence,
	}
	if r.rsiPeriod <= 0 {
		r.rsiPeriod = 14
	}
	if r.bandPeriod <= 0 {
		r.bandPeriod = 20
	}
	if r.bandStdDev <= 0 {
		r.bandStdDev = 2.0
	}
	if r.htfFactor <= 1 {
		r.htfFactor = 4
	}
	if r.base <= 0 {
		r.base = 0.55
	}
	return r
}

func (r *RSIReentry) Name() string { return "rsi_reentry" }

// minBars covers RSI plus its band on the base timeframe and a defined
// RSI on the higher timeframe.
func (r *RSIReentry) minBars() int {
	baseBars := r.rsiPeriod + r.bandPeriod + 2
	htfBars := r.htfFactor * (r.rsiPeriod + 2)
	if htfBars > baseBars {
		return htfBars
	}
	return baseBars
}

func (r *RSIReentry) Decide(candles []market.Candle, ctx Context) (Signal, error) {
	if len(candles) < r.minBars() {
		return Neutral(fmt.Sprintf("need %d candles, have %d", r.minBars(), len(candles))), nil
	}

	closes := market.Closes(candles)
	rsi := indicator.CalculateRSI(closes, r.rsiPeriod)
	bands := indicator.CalculateBollingerBands(rsi, r.bandPeriod, r.bandStdDev)

	last := len(rsi) - 1
	prev := last - 1
	if math.IsNaN(rsi[last]) || math.IsNaN(rsi[prev]) ||
		math.IsNaN(bands.Lower[last]) || math.IsNaN(bands.Lower[prev]) ||
		math.IsNaN(bands.Upper[last]) || math.IsNaN(bands.Upper[prev]) {
		return Neutral("rsi bands not defined yet"), nil
	}

	width := bands.Upper[last] - bands.Lower[last]
	if width < r.minWidth {
		return Neutral(fmt.Sprintf("rsi band too narrow (%.1f < %.1f)", width, r.minWidth)), nil
	}

	side := reentrySide(rsi[prev], rsi[last], bands.Lower[prev], bands.Upper[prev], bands.Lower[last], bands.Upper[last])
	if side == "" {
		return Neutral("no band reentry"), nil
	}

	mid := bands.Middle[last]
	if dist := math.Abs(mid - rsi[last]); dist < r.minMidDist {
		return Neutral(fmt.Sprintf("reentry too close to band midline (%.1f < %.1f)", dist, r.minMidDist)), nil
	}

	htfRSI, htfSlope, ok := r.higherTimeframeRSI(candles)
	if !ok {
		return Neutral("higher timeframe rsi not defined yet"), nil
	}
	if side == market.DirectionRise && !(htfRSI > 50 || htfSlope > 0) {
		return Neutral("higher timeframe rsi disagrees with rise"), nil
	}
	if side == market.DirectionFall && !(htfRSI < 50 || htfSlope < 0) {
		return Neutral("higher timeframe rsi disagrees with fall"), nil
	}

	// Deeper excursions outside the band carry more reversal weight.
	depth := 0.0
	if side == market.DirectionRise {
		depth = bands.Lower[prev] - rsi[prev]
	} else {
		depth = rsi[prev] - bands.Upper[prev]
	}
	conf := clampConfidence(ctx.Override("base_confidence", r.base) + math.Min(depth/20, 0.15))

	return Signal{
		Side:       side,
		Confidence: conf,
		Reason:     "rsi re-entered its bollinger band with higher timeframe agreement",
		Metadata: map[string]interface{}{
			"rsi":        rsi[last],
			"band_upper": bands.Upper[last],
			"band_lower": bands.Lower[last],
			"band_mid":   mid,
			"band_width": width,
			"htf_rsi":    htfRSI,
			"htf_slope":  htfSlope,
			"depth":      depth,
		},
	}, nil
}

// reentrySide classifies the prev-to-current RSI transition against the
// band edges. The previous bar must close strictly outside the band; a
// bar that merely touched an edge does not arm the signal. The current
// bar counts as back inside when it reaches the edge or beyond.
func reentrySide(prevRSI, curRSI, prevLower, prevUpper, curLower, curUpper float64) string {
	if prevRSI < prevLower && curRSI >= curLower && curRSI <= curUpper {
		return market.DirectionRise
	}
	if prevRSI > prevUpper && curRSI <= curUpper && curRSI >= curLower {
		return market.DirectionFall
	}
	return ""
}

// higherTimeframeRSI aggregates the window by the configured factor,
// computes RSI there, and forward-fills it back to base granularity.
// The slope comes from the last two defined higher-timeframe values.
func (r *RSIReentry) higherTimeframeRSI(candles []market.Candle) (value, slope float64, ok bool) {
	htf := market.AggregateCandles(candles, r.htfFactor)
	htfRSI := indicator.CalculateRSI(market.Closes(htf), r.rsiPeriod)

	// Stretch each higher-timeframe value across the base bars it covers,
	// then forward-fill so every base bar sees the latest defined value.
	aligned := make([]float64, len(candles))
	for i := range aligned {
		hi := i / r.htfFactor
		if hi >= len(htfRSI) {
			hi = len(htfRSI) - 1
		}
		aligned[i] = htfRSI[hi]
	}
	aligned = indicator.ForwardFill(aligned)

	value = aligned[len(aligned)-1]
	if math.IsNaN(value) {
		return 0, 0, false
	}

	// Slope over the last two defined higher-timeframe bars.
	lastIdx := -1
	for i := len(htfRSI) - 1; i >= 0; i-- {
		if !math.IsNaN(htfRSI[i]) {
			lastIdx = i
			break
		}
	}
	if lastIdx > 0 && !math.IsNaN(htfRSI[lastIdx-1]) {
		slope = htfRSI[lastIdx] - htfRSI[lastIdx-1]
	}
	return value, slope, true
}
