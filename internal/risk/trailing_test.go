package risk

import "testing"

// TestTrailingStopArmsAndFires walks profit up past activation, lets the
// peak ratchet and checks the stop fires once the pullback reaches the
// configured distance.
func TestTrailingStopArmsAndFires(t *testing.T) {
	s := NewTrailingState(0.05, 0.02)

	steps := []struct {
		profit float64
		fire   bool
	}{
		{0.01, false},
		{-0.03, false},
		{0.05, false}, // arms here
		{0.04, false}, // pullback of 0.01, inside the distance
		{0.08, false}, // new peak
		{0.07, false},
		{0.06, true}, // 0.08 - 0.02 reached
	}
	for i, step := range steps {
		if got := s.Update(step.profit); got != step.fire {
			t.Errorf("step %d profit %v: fire = %v, want %v", i, step.profit, got, step.fire)
		}
	}
	if s.Peak != 0.08 {
		t.Errorf("peak = %v, want 0.08", s.Peak)
	}
}

// TestTrailingStopNeverFiresBeforeActivation checks a stop that never
// armed stays silent through any drawdown.
func TestTrailingStopNeverFiresBeforeActivation(t *testing.T) {
	s := NewTrailingState(0.10, 0.02)

	for _, profit := range []float64{0.05, 0.09, 0.01, -0.50} {
		if s.Update(profit) {
			t.Errorf("stop fired at profit %v before activation", profit)
		}
	}
	if s.Activated {
		t.Error("stop armed without reaching activation")
	}
}

// TestTrailingPeakNeverFalls checks the peak only ratchets upward.
func TestTrailingPeakNeverFalls(t *testing.T) {
	s := NewTrailingState(0.02, 0.10)

	s.Update(0.06)
	s.Update(0.03)
	if s.Peak != 0.06 {
		t.Errorf("peak = %v, want 0.06 after a pullback", s.Peak)
	}
	s.Update(0.09)
	if s.Peak != 0.09 {
		t.Errorf("peak = %v, want 0.09 after a new high", s.Peak)
	}
}
