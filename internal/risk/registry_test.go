package risk

import "testing"

// TestRegistryTakeProfitOnly checks a take-profit-only registration never
// closes a losing position, however deep the loss.
func TestRegistryTakeProfitOnly(t *testing.T) {
	r := NewRegistry()
	r.Register(1, 0.05, 0)

	cases := []struct {
		profit float64
		want   string
	}{
		{-0.50, ""},
		{-0.01, ""},
		{0.049, ""},
		{0.05, TriggerTakeProfit},
		{0.30, TriggerTakeProfit},
	}
	for _, tc := range cases {
		if got := r.Triggered(1, tc.profit); got != tc.want {
			t.Errorf("Triggered(%v) = %q, want %q", tc.profit, got, tc.want)
		}
	}
}

// TestRegistryStopLossOnly checks a stop-loss-only registration never
// closes a winning position.
func TestRegistryStopLossOnly(t *testing.T) {
	r := NewRegistry()
	r.Register(2, 0, 0.10)

	cases := []struct {
		profit float64
		want   string
	}{
		{5.00, ""},
		{0.01, ""},
		{-0.099, ""},
		{-0.10, TriggerStopLoss},
		{-0.50, TriggerStopLoss},
	}
	for _, tc := range cases {
		if got := r.Triggered(2, tc.profit); got != tc.want {
			t.Errorf("Triggered(%v) = %q, want %q", tc.profit, got, tc.want)
		}
	}
}

// TestRegistryBothThresholds checks each side fires only past its own
// threshold when both are configured.
func TestRegistryBothThresholds(t *testing.T) {
	r := NewRegistry()
	r.Register(3, 0.05, 0.10)

	cases := []struct {
		profit float64
		want   string
	}{
		{0.06, TriggerTakeProfit},
		{-0.12, TriggerStopLoss},
		{0.0, ""},
		{0.049, ""},
		{-0.099, ""},
	}
	for _, tc := range cases {
		if got := r.Triggered(3, tc.profit); got != tc.want {
			t.Errorf("Triggered(%v) = %q, want %q", tc.profit, got, tc.want)
		}
	}
}

// TestRegistryDisabledThresholds checks registrations with nothing to
// watch are dropped, and negative inputs are treated as disabled.
func TestRegistryDisabledThresholds(t *testing.T) {
	r := NewRegistry()

	r.Register(4, 0, 0)
	if _, ok := r.Lookup(4); ok {
		t.Error("registration with both thresholds disabled was kept")
	}
	r.Register(5, -1, -1)
	if _, ok := r.Lookup(5); ok {
		t.Error("registration with negative thresholds was kept")
	}
	if got := r.Triggered(4, 100); got != "" {
		t.Errorf("unregistered contract triggered %q", got)
	}
}

// TestRegistrySellingMarker checks the marker admits one seller at a time
// and is wiped by Unregister.
func TestRegistrySellingMarker(t *testing.T) {
	r := NewRegistry()
	r.Register(7, 0.05, 0)

	if !r.TryMarkSelling(7) {
		t.Fatal("first claim of the selling marker failed")
	}
	if r.TryMarkSelling(7) {
		t.Error("second claim succeeded while the first was still held")
	}
	r.ClearSelling(7)
	if !r.TryMarkSelling(7) {
		t.Error("claim failed after the marker was cleared")
	}

	r.Unregister(7)
	if _, ok := r.Lookup(7); ok {
		t.Error("registration survived Unregister")
	}
	if !r.TryMarkSelling(7) {
		t.Error("selling marker survived Unregister")
	}
}
