// Package risk watches open positions and closes them when a stop
// fires, and keeps the settlement ledger the decision loop's hard
// stops are driven by.
package risk

import (
	"math"
	"sync"
	"time"

	"deriv-trading-bot/internal/metrics"
)

// Ledger is the settlement book: daily P&L, win/loss counts and the
// consecutive-loss streak. It is written by both the decision loop and
// the position monitor, so each contract id is booked exactly once.
type Ledger struct {
	mu                sync.Mutex
	day               string // UTC date of the current daily window
	dailyPnl          float64
	totalPnl          float64
	wins              int
	losses            int
	trades            int
	consecutiveLosses int
	lastLossAt        time.Time
	recorded          map[int64]bool
}

// NewLedger creates an empty settlement ledger.
func NewLedger() *Ledger {
	return &Ledger{
		day:      time.Now().UTC().Format("2006-01-02"),
		recorded: make(map[int64]bool),
	}
}

// RecordSettlement books a settled contract. Returns false when the
// contract was already booked (two paths can observe one settlement)
// or the profit value is unusable.
func (l *Ledger) RecordSettlement(contractID int64, profit float64) bool {
	return l.recordAt(time.Now().UTC(), contractID, profit)
}

func (l *Ledger) recordAt(now time.Time, contractID int64, profit float64) bool {
	if math.IsNaN(profit) || math.IsInf(profit, 0) {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollDayLocked(now)
	if l.recorded[contractID] {
		return false
	}
	l.recorded[contractID] = true

	l.trades++
	l.dailyPnl += profit
	l.totalPnl += profit

	outcome := "won"
	if profit > 0 {
		l.wins++
		l.consecutiveLosses = 0
	} else {
		// A zero-profit settlement counts as a loss: the stake earned
		// nothing, so the streak must not reset.
		outcome = "lost"
		l.losses++
		l.consecutiveLosses++
		l.lastLossAt = now
	}

	metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
	metrics.DailyPnl.Set(l.dailyPnl)
	metrics.ConsecutiveLosses.Set(float64(l.consecutiveLosses))
	return true
}

// DailyPnl returns the P&L accumulated in the current UTC day.
func (l *Ledger) DailyPnl() float64 {
	return l.dailyPnlAt(time.Now().UTC())
}

func (l *Ledger) dailyPnlAt(now time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked(now)
	return l.dailyPnl
}

// ConsecutiveLosses returns the current loss streak.
func (l *Ledger) ConsecutiveLosses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consecutiveLosses
}

// LastLossAt returns when the streak last grew; zero time if never.
func (l *Ledger) LastLossAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLossAt
}

// rollDayLocked resets the daily window on a UTC date change. Win/loss
// totals and the loss streak carry across days; only the daily P&L is a
// per-day figure.
func (l *Ledger) rollDayLocked(now time.Time) {
	d := now.Format("2006-01-02")
	if d != l.day {
		l.day = d
		l.dailyPnl = 0
		metrics.DailyPnl.Set(0)
	}
}

// GetStats returns current ledger statistics.
func (l *Ledger) GetStats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	winRate := 0.0
	if l.trades > 0 {
		winRate = float64(l.wins) / float64(l.trades)
	}
	return map[string]interface{}{
		"day":                l.day,
		"daily_pnl":          l.dailyPnl,
		"total_pnl":          l.totalPnl,
		"trades":             l.trades,
		"wins":               l.wins,
		"losses":             l.losses,
		"win_rate":           winRate,
		"consecutive_losses": l.consecutiveLosses,
		"last_loss_at":       l.lastLossAt,
	}
}
