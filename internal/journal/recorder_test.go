package journal

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"deriv-trading-bot/internal/events"
)

// TestTradeFromEvent maps a trade opened event into a row.
func TestTradeFromEvent(t *testing.T) {
	opened := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	e := events.Event{
		Type:      events.EventTradeOpened,
		Timestamp: opened,
		Data: map[string]interface{}{
			"contract_id": int64(123456789),
			"symbol":      "R_100",
			"direction":   "RISE",
			"stake":       1.5,
			"buy_price":   1.5,
		},
	}

	trade, err := tradeFromEvent(e, "paper")
	if err != nil {
		t.Fatalf("tradeFromEvent returned error: %v", err)
	}
	if trade.ContractID != 123456789 {
		t.Errorf("contract id = %d, want 123456789", trade.ContractID)
	}
	if trade.Symbol != "R_100" || trade.Direction != "RISE" {
		t.Errorf("symbol/direction = %s/%s, want R_100/RISE", trade.Symbol, trade.Direction)
	}
	if trade.Stake != 1.5 || trade.BuyPrice != 1.5 {
		t.Errorf("stake/buy price = %v/%v, want 1.5/1.5", trade.Stake, trade.BuyPrice)
	}
	if trade.Mode != "paper" {
		t.Errorf("mode = %s, want paper", trade.Mode)
	}
	if trade.Status != "open" {
		t.Errorf("status = %s, want open", trade.Status)
	}
	if !trade.OpenedAt.Equal(opened) {
		t.Errorf("opened at = %v, want event timestamp %v", trade.OpenedAt, opened)
	}
	if _, err := uuid.Parse(trade.ID); err != nil {
		t.Errorf("row id %q is not a uuid: %v", trade.ID, err)
	}
}

// TestTradeFromEventNumericCoercion accepts ids that arrive as other
// numeric types, as they do after a JSON round trip.
func TestTradeFromEventNumericCoercion(t *testing.T) {
	cases := []struct {
		name string
		id   interface{}
	}{
		{"int", int(42)},
		{"float64", float64(42)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := events.Event{
				Type:      events.EventTradeOpened,
				Timestamp: time.Now(),
				Data:      map[string]interface{}{"contract_id": tc.id, "symbol": "R_50"},
			}
			trade, err := tradeFromEvent(e, "live")
			if err != nil {
				t.Fatalf("tradeFromEvent returned error: %v", err)
			}
			if trade.ContractID != 42 {
				t.Errorf("contract id = %d, want 42", trade.ContractID)
			}
		})
	}
}

// TestTradeFromEventRequiresContractID rejects events without an id.
func TestTradeFromEventRequiresContractID(t *testing.T) {
	e := events.Event{
		Type:      events.EventTradeOpened,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"symbol": "R_100"},
	}
	if _, err := tradeFromEvent(e, "paper"); err == nil {
		t.Error("expected an error for an event without a contract id")
	}
}

// TestSettlementFromEvent maps a trade closed event into an update.
func TestSettlementFromEvent(t *testing.T) {
	e := events.Event{
		Type:      events.EventTradeClosed,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"contract_id": int64(555),
			"symbol":      "R_100",
			"profit":      -1.5,
			"status":      "lost",
			"trigger":     "stop_loss",
		},
	}

	s, err := settlementFromEvent(e)
	if err != nil {
		t.Fatalf("settlementFromEvent returned error: %v", err)
	}
	if s.contractID != 555 {
		t.Errorf("contract id = %d, want 555", s.contractID)
	}
	if s.profit != -1.5 {
		t.Errorf("profit = %v, want -1.5", s.profit)
	}
	if s.status != "lost" || s.trigger != "stop_loss" {
		t.Errorf("status/trigger = %s/%s, want lost/stop_loss", s.status, s.trigger)
	}
}

// TestSignalFromEvent maps both accepted and rejected signal events.
func TestSignalFromEvent(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		e := events.Event{
			Type:      events.EventSignalGenerated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"evaluator":  "sma_cross",
				"symbol":     "R_100",
				"side":       "RISE",
				"reason":     "fast above slow",
				"confidence": 0.72,
			},
		}
		signal, err := signalFromEvent(e)
		if err != nil {
			t.Fatalf("signalFromEvent returned error: %v", err)
		}
		if !signal.Accepted {
			t.Error("generated signal should be marked accepted")
		}
		if signal.Evaluator != "sma_cross" || signal.Side != "RISE" {
			t.Errorf("evaluator/side = %s/%s, want sma_cross/RISE", signal.Evaluator, signal.Side)
		}
		if signal.Confidence != 0.72 {
			t.Errorf("confidence = %v, want 0.72", signal.Confidence)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		e := events.Event{
			Type:      events.EventSignalRejected,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"symbol": "R_100",
				"gate":   "daily_loss_limit",
				"reason": "daily loss limit reached",
			},
		}
		signal, err := signalFromEvent(e)
		if err != nil {
			t.Fatalf("signalFromEvent returned error: %v", err)
		}
		if signal.Accepted {
			t.Error("rejected signal should not be marked accepted")
		}
		if signal.Gate != "daily_loss_limit" {
			t.Errorf("gate = %s, want daily_loss_limit", signal.Gate)
		}
	})

	t.Run("missing symbol", func(t *testing.T) {
		e := events.Event{Type: events.EventSignalGenerated, Data: map[string]interface{}{}}
		if _, err := signalFromEvent(e); err == nil {
			t.Error("expected an error for a signal event without a symbol")
		}
	})
}

// TestTradeToMap omits settlement columns until they are filled in.
func TestTradeToMap(t *testing.T) {
	open := &Trade{
		ID:         uuid.New().String(),
		ContractID: 99,
		Symbol:     "R_75",
		Direction:  "FALL",
		Stake:      2,
		BuyPrice:   2,
		Mode:       "paper",
		Status:     "open",
		OpenedAt:   time.Now(),
	}

	row := tradeToMap(open)
	if _, ok := row["profit"]; ok {
		t.Error("open trade should not expose a profit column")
	}
	if _, ok := row["closed_at"]; ok {
		t.Error("open trade should not expose a closed_at column")
	}
	if row["contract_id"] != int64(99) {
		t.Errorf("contract_id = %v, want 99", row["contract_id"])
	}

	profit := 1.9
	trigger := "expired"
	closedAt := time.Now()
	settled := *open
	settled.Profit = &profit
	settled.Trigger = &trigger
	settled.ClosedAt = &closedAt
	settled.Status = "won"

	row = tradeToMap(&settled)
	if row["profit"] != 1.9 {
		t.Errorf("profit = %v, want 1.9", row["profit"])
	}
	if row["close_trigger"] != "expired" {
		t.Errorf("close_trigger = %v, want expired", row["close_trigger"])
	}
	if row["status"] != "won" {
		t.Errorf("status = %v, want won", row["status"])
	}
}

// TestRecorderDrainsQueueOnStop keeps queued events from being lost when
// the recorder shuts down.
func TestRecorderDrainsQueueOnStop(t *testing.T) {
	recorder := &Recorder{
		mode:     "paper",
		queue:    make(chan events.Event, 8),
		stopChan: make(chan struct{}),
	}

	// No repository is attached, so feed events only; the default branch
	// in handle ignores them without touching the database.
	recorder.queue <- events.Event{Type: events.EventFeedStatus}
	recorder.queue <- events.Event{Type: events.EventError}

	recorder.wg.Add(1)
	go recorder.worker()
	recorder.Stop()

	if len(recorder.queue) != 0 {
		t.Errorf("queue still holds %d events after Stop", len(recorder.queue))
	}
}
