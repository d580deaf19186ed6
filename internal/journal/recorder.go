package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/metrics"
)

const writeTimeout = 5 * time.Second

// Recorder bridges the event bus into the journal tables. Writes happen on
// a single worker behind a bounded queue so a slow database never backs up
// into publishers.
type Recorder struct {
	repo   *Repository
	mode   string
	logger zerolog.Logger

	queue    chan events.Event
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRecorder subscribes to trade and signal events and starts the write
// worker. mode stamps every trade row with the gateway that produced it.
func NewRecorder(repo *Repository, bus *events.EventBus, mode string, logger zerolog.Logger) *Recorder {
	r := &Recorder{
		repo:     repo,
		mode:     mode,
		logger:   logger.With().Str("component", "journal").Logger(),
		queue:    make(chan events.Event, 256),
		stopChan: make(chan struct{}),
	}

	for _, eventType := range []events.EventType{
		events.EventTradeOpened,
		events.EventTradeClosed,
		events.EventSignalGenerated,
		events.EventSignalRejected,
	} {
		bus.Subscribe(eventType, r.enqueue)
	}

	r.wg.Add(1)
	go r.worker()
	return r
}

// Stop drains the queue and waits for the worker to finish.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

// RecentTrades serves the API's trade history endpoint.
func (r *Recorder) RecentTrades(ctx context.Context, limit int) ([]map[string]interface{}, error) {
	trades, err := r.repo.RecentTrades(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(trades))
	for _, trade := range trades {
		out = append(out, tradeToMap(trade))
	}
	return out, nil
}

func (r *Recorder) enqueue(e events.Event) {
	select {
	case r.queue <- e:
	default:
		metrics.DroppedMessagesTotal.WithLabelValues("journal").Inc()
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.queue:
			r.handle(e)
		case <-r.stopChan:
			for {
				select {
				case e := <-r.queue:
					r.handle(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) handle(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch e.Type {
	case events.EventTradeOpened:
		var trade *Trade
		if trade, err = tradeFromEvent(e, r.mode); err == nil {
			err = r.repo.RecordOpen(ctx, trade)
		}
	case events.EventTradeClosed:
		var s settlement
		if s, err = settlementFromEvent(e); err == nil {
			err = r.repo.RecordSettlement(ctx, s.contractID, s.profit, s.status, s.trigger)
		}
	case events.EventSignalGenerated, events.EventSignalRejected:
		var signal *Signal
		if signal, err = signalFromEvent(e); err == nil {
			err = r.repo.RecordSignal(ctx, signal)
		}
	default:
		return
	}

	if err != nil {
		r.logger.Warn().Err(err).Str("event", string(e.Type)).Msg("Journal write failed")
	}
}

// ============================================================================
// EVENT MAPPING
// ============================================================================

type settlement struct {
	contractID int64
	profit     float64
	status     string
	trigger    string
}

func tradeFromEvent(e events.Event, mode string) (*Trade, error) {
	contractID, ok := asInt64(e.Data["contract_id"])
	if !ok {
		return nil, fmt.Errorf("trade opened event carries no contract id")
	}
	return &Trade{
		ID:         uuid.New().String(),
		ContractID: contractID,
		Symbol:     asString(e.Data["symbol"]),
		Direction:  asString(e.Data["direction"]),
		Stake:      asFloat(e.Data["stake"]),
		BuyPrice:   asFloat(e.Data["buy_price"]),
		Mode:       mode,
		OpenedAt:   e.Timestamp,
		Status:     "open",
	}, nil
}

func settlementFromEvent(e events.Event) (settlement, error) {
	contractID, ok := asInt64(e.Data["contract_id"])
	if !ok {
		return settlement{}, fmt.Errorf("trade closed event carries no contract id")
	}
	return settlement{
		contractID: contractID,
		profit:     asFloat(e.Data["profit"]),
		status:     asString(e.Data["status"]),
		trigger:    asString(e.Data["trigger"]),
	}, nil
}

func signalFromEvent(e events.Event) (*Signal, error) {
	symbol := asString(e.Data["symbol"])
	if symbol == "" {
		return nil, fmt.Errorf("signal event carries no symbol")
	}
	return &Signal{
		ID:         uuid.New().String(),
		Evaluator:  asString(e.Data["evaluator"]),
		Symbol:     symbol,
		Side:       asString(e.Data["side"]),
		Confidence: asFloat(e.Data["confidence"]),
		Reason:     asString(e.Data["reason"]),
		Accepted:   e.Type == events.EventSignalGenerated,
		Gate:       asString(e.Data["gate"]),
	}, nil
}

func tradeToMap(t *Trade) map[string]interface{} {
	row := map[string]interface{}{
		"id":          t.ID,
		"contract_id": t.ContractID,
		"symbol":      t.Symbol,
		"direction":   t.Direction,
		"stake":       t.Stake,
		"buy_price":   t.BuyPrice,
		"mode":        t.Mode,
		"status":      t.Status,
		"opened_at":   t.OpenedAt,
	}
	if t.Profit != nil {
		row["profit"] = *t.Profit
	}
	if t.Trigger != nil {
		row["close_trigger"] = *t.Trigger
	}
	if t.ClosedAt != nil {
		row["closed_at"] = *t.ClosedAt
	}
	return row
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
