package risk

// TrailingState tracks the running profit peak for one position. The
// stop arms once profit reaches the activation level, then fires when
// profit falls back by the configured distance from the peak.
type TrailingState struct {
	Activation float64 `json:"activation"`
	Distance   float64 `json:"distance"`
	Peak       float64 `json:"peak"`
	Activated  bool    `json:"activated"`
}

// NewTrailingState builds a trailing stop that arms at the activation
// profit and fires at peak minus distance.
func NewTrailingState(activation, distance float64) *TrailingState {
	return &TrailingState{Activation: activation, Distance: distance}
}

// Update feeds the latest profit and reports whether the stop fired.
// The peak only ever rises, so the stop level never loosens.
func (t *TrailingState) Update(profit float64) bool {
	if profit > t.Peak {
		t.Peak = profit
	}
	if !t.Activated && profit >= t.Activation {
		t.Activated = true
	}
	return t.Activated && profit <= t.Peak-t.Distance
}
