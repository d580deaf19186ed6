package feed

import (
	"sync"

	"deriv-trading-bot/internal/market"
	"deriv-trading-bot/internal/metrics"
)

// TickSub is a local tick subscription handle. Ticks arrive on C; when the
// queue is full the newest tick is dropped so slow consumers fall behind
// instead of blocking the dispatcher.
type TickSub struct {
	C      <-chan market.Tick
	ch     chan market.Tick
	symbol string
	id     int
}

// Symbol returns the symbol this handle receives ticks for.
func (s *TickSub) Symbol() string { return s.symbol }

// ContractSub is a local contract update subscription handle.
type ContractSub struct {
	C          <-chan ContractState
	ch         chan ContractState
	contractID int64
	id         int
}

// ContractID returns the contract this handle receives updates for.
func (s *ContractSub) ContractID() int64 { return s.contractID }

// subRegistry tracks local subscriber queues and which upstream
// subscriptions have been requested, so repeat subscribe calls add a queue
// without sending a second upstream frame.
type subRegistry struct {
	mu        sync.Mutex
	nextID    int
	queueSize int

	ticks        map[string][]*TickSub
	contracts    map[int64][]*ContractSub
	tickSent     map[string]bool
	contractSent map[int64]bool
}

func newSubRegistry(queueSize int) *subRegistry {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &subRegistry{
		queueSize:    queueSize,
		ticks:        make(map[string][]*TickSub),
		contracts:    make(map[int64][]*ContractSub),
		tickSent:     make(map[string]bool),
		contractSent: make(map[int64]bool),
	}
}

// addTick registers a local tick queue and reports whether an upstream
// subscribe frame is still needed for the symbol.
func (r *subRegistry) addTick(symbol string) (*TickSub, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	ch := make(chan market.Tick, r.queueSize)
	sub := &TickSub{C: ch, ch: ch, symbol: symbol, id: r.nextID}
	r.ticks[symbol] = append(r.ticks[symbol], sub)

	needUpstream := !r.tickSent[symbol]
	r.tickSent[symbol] = true
	return sub, needUpstream
}

// addContract registers a local contract queue and reports whether an
// upstream subscribe frame is still needed for the contract.
func (r *subRegistry) addContract(contractID int64) (*ContractSub, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	ch := make(chan ContractState, r.queueSize)
	sub := &ContractSub{C: ch, ch: ch, contractID: contractID, id: r.nextID}
	r.contracts[contractID] = append(r.contracts[contractID], sub)

	needUpstream := !r.contractSent[contractID]
	r.contractSent[contractID] = true
	return sub, needUpstream
}

// removeTick drops one local queue. The upstream subscription stays active;
// later subscribers reuse it.
func (r *subRegistry) removeTick(sub *TickSub) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.ticks[sub.symbol]
	for i, s := range subs {
		if s.id == sub.id {
			r.ticks[sub.symbol] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

func (r *subRegistry) removeContract(sub *ContractSub) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.contracts[sub.contractID]
	for i, s := range subs {
		if s.id == sub.id {
			r.contracts[sub.contractID] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// fanOutTick delivers a tick to every local queue for its symbol.
func (r *subRegistry) fanOutTick(tick market.Tick) {
	r.mu.Lock()
	subs := r.ticks[tick.Symbol]
	targets := make([]*TickSub, len(subs))
	copy(targets, subs)
	r.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- tick:
		default:
			metrics.DroppedMessagesTotal.WithLabelValues("tick").Inc()
		}
	}
}

// fanOutContract delivers a contract update to every local queue for its id.
func (r *subRegistry) fanOutContract(state ContractState) {
	r.mu.Lock()
	subs := r.contracts[state.ContractID]
	targets := make([]*ContractSub, len(subs))
	copy(targets, subs)
	r.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- state:
		default:
			metrics.DroppedMessagesTotal.WithLabelValues("contract").Inc()
		}
	}
}

// desired returns the upstream subscriptions that must be replayed after a
// reconnect.
func (r *subRegistry) desired() (symbols []string, contractIDs []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for symbol := range r.tickSent {
		symbols = append(symbols, symbol)
	}
	for id := range r.contractSent {
		contractIDs = append(contractIDs, id)
	}
	return symbols, contractIDs
}

// closeAll closes every local queue, used on manager shutdown.
func (r *subRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for symbol, subs := range r.ticks {
		for _, s := range subs {
			close(s.ch)
		}
		delete(r.ticks, symbol)
	}
	for id, subs := range r.contracts {
		for _, s := range subs {
			close(s.ch)
		}
		delete(r.contracts, id)
	}
}
