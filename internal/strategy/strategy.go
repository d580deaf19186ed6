// Package strategy holds the signal evaluators that decide whether the
// bot should enter a trade. Evaluators are pure with respect to market
// data: they receive a candle window plus an evaluation context and
// return a directional signal with a confidence score, or a neutral
// signal explaining why no trade is warranted.
package strategy

import (
	"fmt"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/market"
	"deriv-trading-bot/internal/ml"
)

// SideNeutral marks a signal that does not call for a trade.
const SideNeutral = "NEUTRAL"

// Market regimes derived from trend strength.
const (
	RegimeRange       = "range"
	RegimeTrend       = "trend"
	RegimeStrongTrend = "strong_trend"
)

// Signal is the outcome of one evaluator pass.
type Signal struct {
	Side       string                 `json:"side"` // RISE, FALL or NEUTRAL
	Confidence float64                `json:"confidence"`
	Reason     string                 `json:"reason"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Neutral builds a no-trade signal with the given reason.
func Neutral(reason string) Signal {
	return Signal{Side: SideNeutral, Reason: reason}
}

// IsNeutral reports whether the signal calls for no trade.
func (s Signal) IsNeutral() bool {
	return s.Side == SideNeutral || s.Side == ""
}

// Regime describes the current market character as seen by the engine.
type Regime struct {
	Label         string  `json:"label"`
	TrendStrength float64 `json:"trend_strength"`
	ADX           float64 `json:"adx"`
}

// ClassifyRegime buckets an ADX reading into a regime label.
func ClassifyRegime(adx float64) Regime {
	r := Regime{TrendStrength: adx, ADX: adx}
	switch {
	case adx >= 40:
		r.Label = RegimeStrongTrend
	case adx >= 20:
		r.Label = RegimeTrend
	default:
		r.Label = RegimeRange
	}
	return r
}

// Context carries per-evaluation inputs that are not part of the candle
// window itself.
type Context struct {
	Symbol    string
	Timeframe int // candle size in seconds
	Regime    Regime
	// Overrides lets the engine tune evaluator parameters per call
	// without rebuilding the evaluator.
	Overrides map[string]float64
}

// Override returns the named override value, or fallback when unset.
func (c Context) Override(key string, fallback float64) float64 {
	if v, ok := c.Overrides[key]; ok {
		return v
	}
	return fallback
}

// Evaluator turns a candle window into a trade signal. An error return
// is reserved for internal failures; "no trade right now" is expressed
// as a neutral signal, not an error.
type Evaluator interface {
	// Name returns the evaluator name as used in configuration.
	Name() string

	// Decide evaluates the candle window and returns a signal.
	Decide(candles []market.Candle, ctx Context) (Signal, error)
}

// New builds an evaluator by configured name. The set of names is
// closed; unknown names are an error rather than a silent fallback.
func New(name string, cfg config.StrategyConfig, classifier *ml.OnlineClassifier, ensemble *ml.Ensemble) (Evaluator, error) {
	switch name {
	case "crossover":
		return NewCrossover(cfg), nil
	case "rsi_reentry":
		return NewRSIReentry(cfg), nil
	case "online":
		return NewOnlineEvaluator(classifier), nil
	case "ensemble":
		return NewEnsembleEvaluator(ensemble), nil
	case "hybrid":
		return NewHybrid(cfg), nil
	default:
		return nil, fmt.Errorf("unknown evaluator %q", name)
	}
}

// clampConfidence keeps confidence values inside [0, 1].
func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// regimeNudge shifts confidence with the regime: trending markets make
// directional signals slightly more credible, ranging markets less.
func regimeNudge(regime Regime) float64 {
	switch regime.Label {
	case RegimeStrongTrend:
		return 0.1
	case RegimeRange:
		return -0.1
	default:
		return 0
	}
}
