package market

// Candle is an OHLCV aggregate over a tick-count or time-bucketed window.
// Volume counts the ticks that formed the candle.
type Candle struct {
	OpenTime int64   `json:"open_time"` // epoch seconds
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   uint    `json:"volume"`
}

// AggregateByCount groups ticks into candles of exactly window ticks each.
// A trailing partial group is discarded; candles inherit the openTime of
// their first tick.
func AggregateByCount(ticks []Tick, window int) []Candle {
	if window <= 0 || len(ticks) < window {
		return nil
	}

	candles := make([]Candle, 0, len(ticks)/window)
	for i := 0; i+window <= len(ticks); i += window {
		group := ticks[i : i+window]
		c := Candle{
			OpenTime: group[0].Timestamp,
			Open:     group[0].Price,
			High:     group[0].Price,
			Low:      group[0].Price,
			Close:    group[window-1].Price,
			Volume:   uint(window),
		}
		for _, t := range group[1:] {
			if t.Price > c.High {
				c.High = t.Price
			}
			if t.Price < c.Low {
				c.Low = t.Price
			}
		}
		candles = append(candles, c)
	}
	return candles
}

// AggregateByTime buckets ticks into wall-clock candles of period seconds.
// Each tick lands in the bucket floor(ts/period)*period. Ticks older than
// the bucket currently being built are dropped so the output stays strictly
// ordered.
func AggregateByTime(ticks []Tick, period int64) []Candle {
	if period <= 0 || len(ticks) == 0 {
		return nil
	}

	var candles []Candle
	var cur *Candle
	for _, t := range ticks {
		bucket := (t.Timestamp / period) * period
		switch {
		case cur == nil || bucket > cur.OpenTime:
			if cur != nil {
				candles = append(candles, *cur)
			}
			cur = &Candle{
				OpenTime: bucket,
				Open:     t.Price,
				High:     t.Price,
				Low:      t.Price,
				Close:    t.Price,
				Volume:   1,
			}
		case bucket == cur.OpenTime:
			if t.Price > cur.High {
				cur.High = t.Price
			}
			if t.Price < cur.Low {
				cur.Low = t.Price
			}
			cur.Close = t.Price
			cur.Volume++
		default:
			// out-of-order tick for an already-closed bucket
			continue
		}
	}
	if cur != nil {
		candles = append(candles, *cur)
	}
	return candles
}

// AggregateCandles resamples base-granularity candles into a coarser
// timeframe by grouping factor candles at a time. A trailing partial group
// is kept so the latest market state is visible at the higher timeframe.
func AggregateCandles(candles []Candle, factor int) []Candle {
	if factor <= 1 || len(candles) == 0 {
		return candles
	}

	out := make([]Candle, 0, (len(candles)+factor-1)/factor)
	for i := 0; i < len(candles); i += factor {
		end := i + factor
		if end > len(candles) {
			end = len(candles)
		}
		group := candles[i:end]
		c := Candle{
			OpenTime: group[0].OpenTime,
			Open:     group[0].Open,
			High:     group[0].High,
			Low:      group[0].Low,
			Close:    group[len(group)-1].Close,
		}
		for _, g := range group {
			if g.High > c.High {
				c.High = g.High
			}
			if g.Low < c.Low {
				c.Low = g.Low
			}
			c.Volume += g.Volume
		}
		out = append(out, c)
	}
	return out
}

// Closes extracts the close series from a candle window.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts the high series from a candle window.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low series from a candle window.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes extracts the tick-count series from a candle window.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = float64(c.Volume)
	}
	return out
}
