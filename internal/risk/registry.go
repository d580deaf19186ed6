package risk

import (
	"sync"
)

// Close triggers, used as the sell reason in logs, events and metrics.
const (
	TriggerTakeProfit = "take_profit"
	TriggerStopLoss   = "stop_loss"
	TriggerTrailing   = "trailing"
	TriggerMLStop     = "ml_stop"
	TriggerFixedStop  = "fixed_stop"
	TriggerMaxLoss    = "max_loss"
	TriggerManual     = "manual"
)

// Registration holds the fixed USD take-profit and stop-loss thresholds
// for one contract. Either side can be disabled; they are independent
// toggles, not a symmetric band.
type Registration struct {
	ContractID int64   `json:"contract_id"`
	TakeProfit float64 `json:"take_profit"` // close at profit >= this; 0 = disabled
	StopLoss   float64 `json:"stop_loss"`   // close at loss >= this magnitude; 0 = disabled
}

// Registry keeps the fixed TP/SL registrations and the per-contract
// "currently selling" markers. Both are touched from the poll loop and
// the per-position update watchers, so everything here is mutex-guarded.
type Registry struct {
	mu      sync.Mutex
	regs    map[int64]Registration
	selling map[int64]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		regs:    make(map[int64]Registration),
		selling: make(map[int64]bool),
	}
}

// Register stores thresholds for a contract. Non-positive values
// disable that side; registering with both sides disabled is a no-op.
func (r *Registry) Register(contractID int64, takeProfit, stopLoss float64) {
	if takeProfit < 0 {
		takeProfit = 0
	}
	if stopLoss < 0 {
		stopLoss = 0
	}
	if takeProfit == 0 && stopLoss == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[contractID] = Registration{ContractID: contractID, TakeProfit: takeProfit, StopLoss: stopLoss}
}

// Unregister drops a contract's thresholds and its selling marker.
func (r *Registry) Unregister(contractID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.regs, contractID)
	delete(r.selling, contractID)
}

// Lookup returns the registration for a contract, if any.
func (r *Registry) Lookup(contractID int64) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[contractID]
	return reg, ok
}

// Triggered reports which fixed threshold the given profit crosses.
// Take-profit is checked first and wins when both could fire. A
// take-profit only fires on a gain and a stop-loss only on a loss, so a
// TP-only position is never closed negative and an SL-only position is
// never closed positive.
func (r *Registry) Triggered(contractID int64, profit float64) string {
	reg, ok := r.Lookup(contractID)
	if !ok {
		return ""
	}
	if reg.TakeProfit > 0 && profit >= reg.TakeProfit {
		return TriggerTakeProfit
	}
	if reg.StopLoss > 0 && profit <= -reg.StopLoss {
		return TriggerStopLoss
	}
	return ""
}

// TryMarkSelling claims the selling marker for a contract. It returns
// false when another trigger path already holds it, which is how a
// second path in the same cycle knows to back off.
func (r *Registry) TryMarkSelling(contractID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.selling[contractID] {
		return false
	}
	r.selling[contractID] = true
	return true
}

// ClearSelling releases the marker after the sell attempt resolves,
// whether it succeeded or gave up.
func (r *Registry) ClearSelling(contractID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.selling, contractID)
}

// Registrations returns a snapshot of all active registrations.
func (r *Registry) Registrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Registration, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg)
	}
	return out
}
