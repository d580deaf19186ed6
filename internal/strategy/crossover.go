package strategy

import (
	"fmt"
	"math"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/indicator"
	"deriv-trading-bot/internal/market"
)

// Crossover signals when the fast EMA crosses the slow EMA on the most
// recent bar and the MACD line agrees with the cross direction. Works
// best in trending markets; the regime nudge reflects that.
type Crossover struct {
	fast int
	slow int
	base float64
}

// NewCrossover builds the EMA crossover evaluator from configuration.
func NewCrossover(cfg config.StrategyConfig) *Crossover {
	c := &Crossover{
		fast: cfg.FastEMA,
		slow: cfg.SlowEMA,
		base: cfg.BaseConfidence,
	}
	if c.fast <= 0 {
		c.fast = 9
	}
	if c.slow <= c.fast {
		c.slow = c.fast + 12
	}
	if c.base <= 0 {
		c.base = 0.55
	}
	return c
}

func (c *Crossover) Name() string { return "crossover" }

// minBars is the window needed for a defined MACD signal line plus the
// two EMA bars used for cross detection.
func (c *Crossover) minBars() int {
	macdBars := 26 + 9 + 1
	if c.slow+2 > macdBars {
		return c.slow + 2
	}
	return macdBars
}

func (c *Crossover) Decide(candles []market.Candle, ctx Context) (Signal, error) {
	if len(candles) < c.minBars() {
		return Neutral(fmt.Sprintf("need %d candles, have %d", c.minBars(), len(candles))), nil
	}

	closes := market.Closes(candles)
	fast := indicator.CalculateEMA(closes, c.fast)
	slow := indicator.CalculateEMA(closes, c.slow)

	last := len(closes) - 1
	curFast, prevFast := fast[last], fast[last-1]
	curSlow, prevSlow := slow[last], slow[last-1]
	if math.IsNaN(curFast) || math.IsNaN(prevFast) || math.IsNaN(curSlow) || math.IsNaN(prevSlow) {
		return Neutral("ema series not defined yet"), nil
	}

	crossedUp := prevFast <= prevSlow && curFast > curSlow
	crossedDown := prevFast >= prevSlow && curFast < curSlow
	if !crossedUp && !crossedDown {
		return Neutral("no crossover in last bar"), nil
	}

	macd := indicator.CalculateMACD(closes, 12, 26, 9)
	macdLine, macdSignal := macd.MACD[last], macd.Signal[last]
	if math.IsNaN(macdLine) || math.IsNaN(macdSignal) {
		return Neutral("macd not defined yet"), nil
	}

	side := market.DirectionRise
	confirmed := macdLine > macdSignal
	if crossedDown {
		side = market.DirectionFall
		confirmed = macdLine < macdSignal
	}
	if !confirmed {
		return Neutral("crossover without macd confirmation"), nil
	}

	conf := clampConfidence(ctx.Override("base_confidence", c.base) + regimeNudge(ctx.Regime))
	return Signal{
		Side:       side,
		Confidence: conf,
		Reason:     fmt.Sprintf("ema %d/%d crossover with macd confirmation", c.fast, c.slow),
		Metadata: map[string]interface{}{
			"fast_ema":    curFast,
			"slow_ema":    curSlow,
			"macd":        macdLine,
			"macd_signal": macdSignal,
			"regime":      ctx.Regime.Label,
		},
	}, nil
}
