package market

import (
	"testing"
)

// Test tick-count aggregation produces first/last/min/max per group
func TestAggregateByCount(t *testing.T) {
	ticks := []Tick{
		{Symbol: "R_100", Price: 100, Timestamp: 0},
		{Symbol: "R_100", Price: 101, Timestamp: 1},
		{Symbol: "R_100", Price: 99, Timestamp: 2},
		{Symbol: "R_100", Price: 102, Timestamp: 3},
	}

	candles := AggregateByCount(ticks, 2)
	if len(candles) != 2 {
		t.Fatalf("Expected 2 candles, got %d", len(candles))
	}

	first := Candle{OpenTime: 0, Open: 100, High: 101, Low: 100, Close: 101, Volume: 2}
	second := Candle{OpenTime: 2, Open: 99, High: 102, Low: 99, Close: 102, Volume: 2}
	if candles[0] != first {
		t.Errorf("First candle mismatch: got %+v", candles[0])
	}
	if candles[1] != second {
		t.Errorf("Second candle mismatch: got %+v", candles[1])
	}
}

// Test trailing partial group is not emitted as a candle
func TestAggregateByCountDropsPartialGroup(t *testing.T) {
	ticks := []Tick{
		{Price: 100, Timestamp: 0},
		{Price: 101, Timestamp: 1},
		{Price: 102, Timestamp: 2},
	}

	candles := AggregateByCount(ticks, 2)
	if len(candles) != 1 {
		t.Fatalf("Expected 1 complete candle, got %d", len(candles))
	}
	if candles[0].Close != 101 {
		t.Errorf("Candle should close on the 2nd tick, got close %v", candles[0].Close)
	}
}

// Test time bucketing puts each tick in floor(ts/period)*period
func TestAggregateByTime(t *testing.T) {
	ticks := []Tick{
		{Price: 10, Timestamp: 59},
		{Price: 11, Timestamp: 60},
		{Price: 9, Timestamp: 65},
		{Price: 12, Timestamp: 119},
		{Price: 13, Timestamp: 120},
	}

	candles := AggregateByTime(ticks, 60)
	if len(candles) != 3 {
		t.Fatalf("Expected 3 buckets, got %d", len(candles))
	}

	if candles[0].OpenTime != 0 || candles[0].Volume != 1 {
		t.Errorf("Bucket 0 wrong: %+v", candles[0])
	}
	if candles[1].OpenTime != 60 {
		t.Errorf("Bucket 60 expected, got openTime %d", candles[1].OpenTime)
	}
	if candles[1].Open != 11 || candles[1].High != 12 || candles[1].Low != 9 || candles[1].Close != 12 {
		t.Errorf("Bucket 60 OHLC wrong: %+v", candles[1])
	}
	if candles[1].Volume != 3 {
		t.Errorf("Bucket 60 should hold 3 ticks, got %d", candles[1].Volume)
	}
	if candles[2].OpenTime != 120 || candles[2].Open != 13 {
		t.Errorf("Bucket 120 wrong: %+v", candles[2])
	}
}

// Test buckets stay strictly increasing when a stale tick arrives
func TestAggregateByTimeDropsOutOfOrderTick(t *testing.T) {
	ticks := []Tick{
		{Price: 10, Timestamp: 10},
		{Price: 11, Timestamp: 70},
		{Price: 99, Timestamp: 20}, // stale, bucket already closed
		{Price: 12, Timestamp: 80},
	}

	candles := AggregateByTime(ticks, 60)
	if len(candles) != 2 {
		t.Fatalf("Expected 2 buckets, got %d", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime <= candles[i-1].OpenTime {
			t.Errorf("Buckets not strictly increasing: %d then %d", candles[i-1].OpenTime, candles[i].OpenTime)
		}
	}
	if candles[1].Low == 99 {
		t.Error("Stale tick leaked into a later bucket")
	}
}

// Test every aggregate keeps low <= open,close <= high
func TestCandleInvariant(t *testing.T) {
	ticks := []Tick{
		{Price: 5, Timestamp: 0}, {Price: 9, Timestamp: 1}, {Price: 3, Timestamp: 2},
		{Price: 7, Timestamp: 3}, {Price: 6, Timestamp: 4}, {Price: 8, Timestamp: 5},
	}

	for _, candles := range [][]Candle{AggregateByCount(ticks, 3), AggregateByTime(ticks, 2)} {
		for _, c := range candles {
			if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
				t.Errorf("OHLC invariant violated: %+v", c)
			}
		}
	}
}

// Test higher-timeframe resampling merges OHLCV correctly
func TestAggregateCandles(t *testing.T) {
	base := []Candle{
		{OpenTime: 0, Open: 10, High: 12, Low: 9, Close: 11, Volume: 5},
		{OpenTime: 60, Open: 11, High: 15, Low: 10, Close: 14, Volume: 4},
		{OpenTime: 120, Open: 14, High: 14, Low: 8, Close: 9, Volume: 6},
	}

	out := AggregateCandles(base, 2)
	if len(out) != 2 {
		t.Fatalf("Expected 2 aggregated candles, got %d", len(out))
	}
	if out[0].Open != 10 || out[0].Close != 14 || out[0].High != 15 || out[0].Low != 9 || out[0].Volume != 9 {
		t.Errorf("First aggregate wrong: %+v", out[0])
	}
	if out[1].Open != 14 || out[1].Close != 9 {
		t.Errorf("Partial trailing aggregate should survive: %+v", out[1])
	}
}
