package strategy

import (
	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/market"
)

// hybridBoost is added to the chosen child's confidence because the
// child was picked for matching the current regime.
const hybridBoost = 0.05

// Hybrid dispatches between a trend-following and a mean-reversion
// child evaluator based on the current regime.
type Hybrid struct {
	trending Evaluator
	ranging  Evaluator
}

// NewHybrid builds the regime dispatcher over crossover and rsi_reentry.
func NewHybrid(cfg config.StrategyConfig) *Hybrid {
	return &Hybrid{
		trending: NewCrossover(cfg),
		ranging:  NewRSIReentry(cfg),
	}
}

func (h *Hybrid) Name() string { return "hybrid" }

func (h *Hybrid) Decide(candles []market.Candle, ctx Context) (Signal, error) {
	child := h.trending
	if ctx.Regime.Label == RegimeRange {
		child = h.ranging
	}

	sig, err := child.Decide(candles, ctx)
	if err != nil {
		return Neutral(""), err
	}
	if sig.IsNeutral() {
		return sig, nil
	}

	sig.Confidence = clampConfidence(sig.Confidence + hybridBoost)
	if sig.Metadata == nil {
		sig.Metadata = map[string]interface{}{}
	}
	sig.Metadata["dispatched_to"] = child.Name()
	sig.Metadata["regime"] = ctx.Regime.Label
	return sig, nil
}
