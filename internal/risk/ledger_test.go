package risk

import (
	"math"
	"testing"
	"time"
)

// TestLedgerStreakAndTotals records a loss, a break-even settlement and a
// win, checking the streak grows on anything non-positive and resets on
// the win.
func TestLedgerStreakAndTotals(t *testing.T) {
	l := NewLedger()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	if !l.recordAt(now, 1, -0.40) {
		t.Fatal("first settlement was not recorded")
	}
	if got := l.ConsecutiveLosses(); got != 1 {
		t.Errorf("streak after a loss = %d, want 1", got)
	}

	l.recordAt(now, 2, 0)
	if got := l.ConsecutiveLosses(); got != 2 {
		t.Errorf("streak after a break-even settlement = %d, want 2", got)
	}
	if l.LastLossAt() != now {
		t.Errorf("last loss time = %v, want %v", l.LastLossAt(), now)
	}

	l.recordAt(now, 3, 0.95)
	if got := l.ConsecutiveLosses(); got != 0 {
		t.Errorf("streak after a win = %d, want 0", got)
	}

	stats := l.GetStats()
	if stats["trades"].(int) != 3 || stats["wins"].(int) != 1 || stats["losses"].(int) != 2 {
		t.Errorf("totals = %v trades / %v wins / %v losses, want 3/1/2",
			stats["trades"], stats["wins"], stats["losses"])
	}
	if got := l.dailyPnlAt(now); math.Abs(got-0.55) > 1e-9 {
		t.Errorf("daily pnl = %v, want 0.55", got)
	}
}

// TestLedgerDeduplicatesSettlements checks one contract can only settle once.
func TestLedgerDeduplicatesSettlements(t *testing.T) {
	l := NewLedger()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	if !l.recordAt(now, 42, 1.0) {
		t.Fatal("first settlement was not recorded")
	}
	if l.recordAt(now, 42, 1.0) {
		t.Error("second settlement for the same contract was recorded")
	}
	if got := l.GetStats()["trades"].(int); got != 1 {
		t.Errorf("trades = %d, want 1", got)
	}
}

// TestLedgerDayRollover checks daily P&L resets at the UTC date change
// while totals and the loss streak carry over.
func TestLedgerDayRollover(t *testing.T) {
	l := NewLedger()
	day1 := time.Date(2024, 3, 1, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC)

	l.recordAt(day1, 1, -2.5)
	if got := l.dailyPnlAt(day1); got != -2.5 {
		t.Errorf("daily pnl before rollover = %v, want -2.5", got)
	}
	if got := l.dailyPnlAt(day2); got != 0 {
		t.Errorf("daily pnl after rollover = %v, want 0", got)
	}
	if got := l.ConsecutiveLosses(); got != 1 {
		t.Errorf("loss streak did not survive the rollover, got %d", got)
	}

	l.recordAt(day2, 2, -1.0)
	if got := l.dailyPnlAt(day2); got != -1.0 {
		t.Errorf("daily pnl in the new day = %v, want -1.0", got)
	}
	if got := l.GetStats()["total_pnl"].(float64); math.Abs(got+3.5) > 1e-9 {
		t.Errorf("total pnl = %v, want -3.5", got)
	}
}

// TestLedgerRejectsNonFiniteProfit checks NaN and Inf never reach the books.
func TestLedgerRejectsNonFiniteProfit(t *testing.T) {
	l := NewLedger()

	if l.RecordSettlement(1, math.NaN()) {
		t.Error("NaN profit was recorded")
	}
	if l.RecordSettlement(2, math.Inf(1)) {
		t.Error("infinite profit was recorded")
	}
	if got := l.GetStats()["trades"].(int); got != 0 {
		t.Errorf("trades = %d, want 0", got)
	}
}
