package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deriv-trading-bot/internal/feed"
)

// scriptedFeed answers requests by their top-level key and records every
// payload for inspection.
type scriptedFeed struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage
	requests  []map[string]interface{}
}

func (s *scriptedFeed) SendAndAwait(ctx context.Context, payload map[string]interface{}, timeout time.Duration) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, payload)
	for key, resp := range s.responses {
		if _, ok := payload[key]; ok {
			return resp, nil
		}
	}
	return nil, errors.New("no scripted response for payload")
}

func callParams() OrderParams {
	return OrderParams{
		Symbol:       "R_100",
		ContractType: ContractCall,
		Duration:     5,
		DurationUnit: "t",
		Stake:        1.0,
		Currency:     "USD",
	}
}

// Test that a live order runs the proposal step first and buys the
// returned proposal id.
func TestLivePlaceOrderProposalThenBuy(t *testing.T) {
	script := &scriptedFeed{responses: map[string]json.RawMessage{
		"proposal": json.RawMessage(`{"msg_type":"proposal","proposal":{"id":"prop-abc","ask_price":1.0,"payout":1.95}}`),
		"buy":      json.RawMessage(`{"msg_type":"buy","buy":{"contract_id":8001,"buy_price":1.0,"payout":1.95,"transaction_id":555}}`),
	}}
	g := &LiveGateway{rq: script, logger: zerolog.Nop()}

	result, err := g.PlaceOrder(context.Background(), callParams())
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if result.ContractID != 8001 || result.Payout != 1.95 || result.TransactionID != 555 {
		t.Errorf("unexpected order result: %+v", result)
	}

	if len(script.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(script.requests))
	}
	if _, ok := script.requests[0]["proposal"]; !ok {
		t.Error("first request was not a proposal")
	}
	if got := script.requests[1]["buy"]; got != "prop-abc" {
		t.Errorf("buy did not reference the proposal id, got %v", got)
	}
}

// Test that a broker rejection is surfaced with its message untouched.
func TestLivePlaceOrderRejectionVerbatim(t *testing.T) {
	script := &scriptedFeed{responses: map[string]json.RawMessage{
		"proposal": json.RawMessage(`{"msg_type":"proposal","error":{"code":"InvalidOffering","message":"Stake too low."}}`),
	}}
	g := &LiveGateway{rq: script, logger: zerolog.Nop()}

	_, err := g.PlaceOrder(context.Background(), callParams())
	if err == nil {
		t.Fatal("expected rejection error")
	}

	var apiErr *feed.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *feed.APIError, got %T", err)
	}
	if apiErr.Message != "Stake too low." {
		t.Errorf("broker message was altered: %q", apiErr.Message)
	}
}

// Test client-side order validation.
func TestOrderParamsValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*OrderParams)
	}{
		{"empty symbol", func(p *OrderParams) { p.Symbol = "" }},
		{"bad contract type", func(p *OrderParams) { p.ContractType = "HIGHER" }},
		{"zero stake", func(p *OrderParams) { p.Stake = 0 }},
		{"negative stake", func(p *OrderParams) { p.Stake = -1 }},
		{"zero duration", func(p *OrderParams) { p.Duration = 0 }},
		{"bad duration unit", func(p *OrderParams) { p.DurationUnit = "h" }},
	}

	for _, tc := range cases {
		params := callParams()
		tc.mutate(&params)
		if err := params.Validate(); !errors.Is(err, ErrInvalidOrder) {
			t.Errorf("%s: expected ErrInvalidOrder, got %v", tc.name, err)
		}
	}

	if err := callParams().Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
}

// Test that candle history is parsed oldest-first with the open time from
// the epoch field.
func TestLiveHistoryParsesCandles(t *testing.T) {
	script := &scriptedFeed{responses: map[string]json.RawMessage{
		"ticks_history": json.RawMessage(`{"msg_type":"candles","candles":[
			{"open":100,"high":102,"low":99,"close":101,"epoch":1700000000},
			{"open":101,"high":103,"low":100,"close":102,"epoch":1700000060}
		]}`),
	}}
	g := &LiveGateway{rq: script, logger: zerolog.Nop()}

	candles, err := g.History(context.Background(), "R_100", 60, 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].OpenTime != 1700000000 || candles[0].Close != 101 {
		t.Errorf("first candle wrong: %+v", candles[0])
	}
	if candles[1].OpenTime != 1700000060 || candles[1].High != 103 {
		t.Errorf("second candle wrong: %+v", candles[1])
	}
}

// Test that a sell rejection keeps the broker's message.
func TestLiveSellRejection(t *testing.T) {
	script := &scriptedFeed{responses: map[string]json.RawMessage{
		"sell": json.RawMessage(`{"msg_type":"sell","error":{"code":"InvalidSellContractProposal","message":"Resale of this contract is not offered."}}`),
	}}
	g := &LiveGateway{rq: script, logger: zerolog.Nop()}

	_, err := g.Sell(context.Background(), 8001)
	var apiErr *feed.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *feed.APIError, got %v", err)
	}
	if apiErr.Message != "Resale of this contract is not offered." {
		t.Errorf("sell rejection message altered: %q", apiErr.Message)
	}
}
