package indicator

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// Test SMA lead-in is NaN and window values are exact
func TestCalculateSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	sma := CalculateSMA(values, 3)

	if len(sma) != len(values) {
		t.Fatalf("Series length mismatch: %d vs %d", len(sma), len(values))
	}
	if !math.IsNaN(sma[0]) || !math.IsNaN(sma[1]) {
		t.Error("Lead-in values should be NaN")
	}
	if sma[2] != 2 || sma[3] != 3 || sma[4] != 4 {
		t.Errorf("SMA values wrong: %v", sma[2:])
	}
}

// Test EMA seeds from SMA and reacts to later values
func TestCalculateEMA(t *testing.T) {
	values := []float64{2, 2, 2, 2, 10}
	ema := CalculateEMA(values, 4)

	if !math.IsNaN(ema[2]) {
		t.Error("EMA before the seed index should be NaN")
	}
	if ema[3] != 2 {
		t.Errorf("EMA seed should equal SMA of first window, got %v", ema[3])
	}
	// multiplier = 2/5; 10*0.4 + 2*0.6 = 5.2
	if !almostEqual(ema[4], 5.2, 1e-9) {
		t.Errorf("Expected EMA 5.2, got %v", ema[4])
	}
}

// Test RSI is 100 on an all-gain series and 50 on alternating equal moves
func TestCalculateRSI(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	rsi := CalculateRSI(rising, 4)
	if !math.IsNaN(rsi[3]) {
		t.Error("RSI before period should be NaN")
	}
	if rsi[len(rsi)-1] != 100 {
		t.Errorf("All-gain RSI should be 100, got %v", rsi[len(rsi)-1])
	}

	alternating := []float64{10, 11, 10, 11, 10, 11, 10, 11, 10}
	rsi2 := CalculateRSI(alternating, 4)
	last := rsi2[len(rsi2)-1]
	if last < 40 || last > 60 {
		t.Errorf("Alternating series RSI should hover near 50, got %v", last)
	}
}

// Test MACD histogram equals line minus signal where defined
func TestCalculateMACD(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100 + float64(i) // steady uptrend
	}

	m := CalculateMACD(values, 12, 26, 9)
	last := len(values) - 1
	if math.IsNaN(m.MACD[last]) || math.IsNaN(m.Signal[last]) {
		t.Fatal("MACD/Signal should be defined at the end of a 60-bar series")
	}
	if m.MACD[last] <= 0 {
		t.Errorf("Uptrend MACD line should be positive, got %v", m.MACD[last])
	}
	if !almostEqual(m.Histogram[last], m.MACD[last]-m.Signal[last], 1e-9) {
		t.Errorf("Histogram should be MACD-Signal, got %v", m.Histogram[last])
	}
}

// Test Bollinger bands straddle the midline symmetrically
func TestCalculateBollingerBands(t *testing.T) {
	values := []float64{10, 12, 11, 13, 12, 14, 13, 15, 14, 16}
	bb := CalculateBollingerBands(values, 5, 2.0)

	last := len(values) - 1
	if math.IsNaN(bb.Upper[last]) || math.IsNaN(bb.Lower[last]) {
		t.Fatal("Bands should be defined at the end")
	}
	if bb.Upper[last] <= bb.Middle[last] || bb.Lower[last] >= bb.Middle[last] {
		t.Errorf("Band ordering wrong: %v %v %v", bb.Lower[last], bb.Middle[last], bb.Upper[last])
	}
	up := bb.Upper[last] - bb.Middle[last]
	down := bb.Middle[last] - bb.Lower[last]
	if !almostEqual(up, down, 1e-9) {
		t.Errorf("Bands should be symmetric: +%v -%v", up, down)
	}
}

// Test ADX rises on a strong one-way move
func TestCalculateADXTrend(t *testing.T) {
	n := 60
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)*2
		highs[i] = base + 1
		lows[i] = base - 1
		closes[i] = base
	}

	adx := CalculateADX(highs, lows, closes, 14)
	last, ok := LastValid(adx)
	if !ok {
		t.Fatal("ADX should be defined on a 60-bar series")
	}
	if last < 25 {
		t.Errorf("Persistent trend should give a high ADX, got %v", last)
	}
	if !math.IsNaN(adx[2*14-1]) {
		t.Error("ADX before 2*period should be NaN")
	}
}

// Test ATR matches the constant bar range on a uniform series
func TestCalculateATR(t *testing.T) {
	n := 20
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i] = 102
		lows[i] = 100
		closes[i] = 101
	}

	atr := CalculateATR(highs, lows, closes, 5)
	last, ok := LastValid(atr)
	if !ok || !almostEqual(last, 2.0, 1e-9) {
		t.Errorf("Uniform 2-point ranges should give ATR 2, got %v", last)
	}
}

// Test forward fill carries values over NaN gaps but keeps the lead-in
func TestForwardFill(t *testing.T) {
	series := []float64{math.NaN(), 1, math.NaN(), math.NaN(), 4}
	filled := ForwardFill(series)

	if !math.IsNaN(filled[0]) {
		t.Error("Leading NaN should remain")
	}
	if filled[1] != 1 || filled[2] != 1 || filled[3] != 1 || filled[4] != 4 {
		t.Errorf("Forward fill wrong: %v", filled)
	}
}

// Test stochastic sits at the top of the range after new highs
func TestCalculateStochastic(t *testing.T) {
	n := 20
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i] = float64(10 + i)
		lows[i] = float64(8 + i)
		closes[i] = highs[i]
	}

	st := CalculateStochastic(highs, lows, closes, 5, 3)
	last, ok := LastValid(st.K)
	if !ok || last < 90 {
		t.Errorf("Closing on the high should give %%K near 100, got %v", last)
	}
}
