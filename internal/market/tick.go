// Package market holds the in-memory market data model: ticks, bounded
// per-symbol ring buffers, and candle aggregation.
package market

import (
	"sync"
)

// Trade directions used across the bot. RISE wins when the exit spot is
// above the entry spot, FALL when it is below.
const (
	DirectionRise = "RISE"
	DirectionFall = "FALL"
)

// Tick is a single timestamped price observation from the feed.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // epoch seconds
	Bid       float64 `json:"bid,omitempty"`
	Ask       float64 `json:"ask,omitempty"`
}

// TickBuffer is a fixed-capacity ring buffer of ticks. Oldest entries are
// overwritten once the buffer is full.
type TickBuffer struct {
	mu    sync.RWMutex
	ticks []Tick
	head  int
	size  int
}

// NewTickBuffer creates a buffer holding at most capacity ticks.
func NewTickBuffer(capacity int) *TickBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &TickBuffer{
		ticks: make([]Tick, capacity),
	}
}

// Push appends a tick, evicting the oldest when full.
func (b *TickBuffer) Push(t Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ticks[b.head] = t
	b.head = (b.head + 1) % len(b.ticks)
	if b.size < len(b.ticks) {
		b.size++
	}
}

// Len returns the number of ticks currently held.
func (b *TickBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Last returns up to n most recent ticks in arrival order (oldest first).
func (b *TickBuffer) Last(n int) []Tick {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}

	out := make([]Tick, n)
	start := b.head - n
	if start < 0 {
		start += len(b.ticks)
	}
	for i := 0; i < n; i++ {
		out[i] = b.ticks[(start+i)%len(b.ticks)]
	}
	return out
}

// Latest returns the most recent tick, if any.
func (b *TickBuffer) Latest() (Tick, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return Tick{}, false
	}
	idx := b.head - 1
	if idx < 0 {
		idx += len(b.ticks)
	}
	return b.ticks[idx], true
}

// Store keeps one ring buffer per symbol.
type Store struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[string]*TickBuffer
}

// NewStore creates a store whose per-symbol buffers hold capacity ticks.
func NewStore(capacity int) *Store {
	return &Store{
		capacity: capacity,
		buffers:  make(map[string]*TickBuffer),
	}
}

// Capacity reports how many ticks each per-symbol buffer can hold.
func (s *Store) Capacity() int {
	return s.capacity
}

// Record appends a tick to its symbol's buffer, creating it on first use.
func (s *Store) Record(t Tick) {
	s.mu.RLock()
	buf, ok := s.buffers[t.Symbol]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		buf, ok = s.buffers[t.Symbol]
		if !ok {
			buf = NewTickBuffer(s.capacity)
			s.buffers[t.Symbol] = buf
		}
		s.mu.Unlock()
	}
	buf.Push(t)
}

// Recent returns up to n most recent ticks for symbol.
func (s *Store) Recent(symbol string, n int) []Tick {
	s.mu.RLock()
	buf, ok := s.buffers[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.Last(n)
}

// LastPrice returns the latest known price for symbol.
func (s *Store) LastPrice(symbol string) (float64, bool) {
	s.mu.RLock()
	buf, ok := s.buffers[symbol]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	t, ok := buf.Latest()
	if !ok {
		return 0, false
	}
	return t.Price, true
}
