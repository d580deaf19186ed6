package broker

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deriv-trading-bot/internal/feed"
	"deriv-trading-bot/internal/market"
)

// fakeTickFeed hands out subscriptions backed by plain channels so tests
// can script the tick stream.
type fakeTickFeed struct {
	mu    sync.Mutex
	chans []chan market.Tick
}

func (f *fakeTickFeed) SubscribeTicks(symbol string) *feed.TickSub {
	ch := make(chan market.Tick, 64)
	f.mu.Lock()
	f.chans = append(f.chans, ch)
	f.mu.Unlock()
	return &feed.TickSub{C: ch}
}

func (f *fakeTickFeed) UnsubscribeTicks(sub *feed.TickSub) {}

func (f *fakeTickFeed) SendAndAwait(ctx context.Context, payload map[string]interface{}, timeout time.Duration) (json.RawMessage, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeTickFeed) push(price float64, epoch int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.chans {
		ch <- market.Tick{Symbol: "R_100", Price: price, Timestamp: epoch}
	}
}

func paperSetup(t *testing.T) (*PaperGateway, *fakeTickFeed) {
	t.Helper()

	store := market.NewStore(64)
	store.Record(market.Tick{Symbol: "R_100", Price: 100.0, Timestamp: 1})
	fake := &fakeTickFeed{}
	g := newPaperGateway(fake, store, 0.95, zerolog.Nop())
	t.Cleanup(g.Close)
	return g, fake
}

// waitClosed polls until the contract reports expired or sold.
func waitClosed(t *testing.T, g *PaperGateway, id int64) *feed.ContractState {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		state, err := g.ContractStatus(context.Background(), id)
		if err != nil {
			t.Fatalf("ContractStatus failed: %v", err)
		}
		if state.Closed() {
			return state
		}
		select {
		case <-deadline:
			t.Fatal("contract never settled")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Test that a rise contract settles as won when the exit spot is above the
// entry spot after the tick countdown.
func TestPaperContractWinsOnRise(t *testing.T) {
	g, fake := paperSetup(t)

	result, err := g.PlaceOrder(context.Background(), callParams())
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if result.BuyPrice != 1.0 || result.ContractID == 0 {
		t.Errorf("unexpected order result: %+v", result)
	}

	for i := 0; i < 5; i++ {
		fake.push(101.0+float64(i), int64(10+i))
	}

	state := waitClosed(t, g, result.ContractID)
	if state.Status != "won" {
		t.Errorf("expected won, got %s", state.Status)
	}
	if math.Abs(state.Profit-0.95) > 1e-9 {
		t.Errorf("expected profit 0.95, got %f", state.Profit)
	}
	if state.EntrySpot != 100.0 || state.CurrentSpot != 105.0 {
		t.Errorf("unexpected spots: entry %f exit %f", state.EntrySpot, state.CurrentSpot)
	}
}

// Test that a rise contract settles as lost when the market falls, losing
// exactly the stake.
func TestPaperContractLosesOnFall(t *testing.T) {
	g, fake := paperSetup(t)

	result, err := g.PlaceOrder(context.Background(), callParams())
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		fake.push(99.0-float64(i), int64(10+i))
	}

	state := waitClosed(t, g, result.ContractID)
	if state.Status != "lost" {
		t.Errorf("expected lost, got %s", state.Status)
	}
	if math.Abs(state.Profit+1.0) > 1e-9 {
		t.Errorf("expected profit -1.0, got %f", state.Profit)
	}
}

// Test that a put contract wins when the market falls.
func TestPaperPutWinsOnFall(t *testing.T) {
	g, fake := paperSetup(t)

	params := callParams()
	params.ContractType = ContractPut
	result, err := g.PlaceOrder(context.Background(), params)
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		fake.push(98.0, int64(10+i))
	}

	state := waitClosed(t, g, result.ContractID)
	if state.Status != "won" {
		t.Errorf("expected won, got %s", state.Status)
	}
}

// Test that selling before expiry closes at the current mark and a second
// sell is rejected like a closed contract.
func TestPaperSellBeforeExpiry(t *testing.T) {
	g, fake := paperSetup(t)

	params := callParams()
	params.Duration = 10
	result, err := g.PlaceOrder(context.Background(), params)
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		fake.push(104.0, int64(10+i))
	}

	// Wait until the marks are applied.
	deadline := time.After(3 * time.Second)
	for {
		state, _ := g.ContractStatus(context.Background(), result.ContractID)
		if state != nil && state.Profit > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("contract mark never moved")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sellResult, err := g.Sell(context.Background(), result.ContractID)
	if err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if sellResult.SoldFor <= result.BuyPrice {
		t.Errorf("in-the-money sale should return more than the stake, got %f", sellResult.SoldFor)
	}

	if _, err := g.Sell(context.Background(), result.ContractID); err == nil {
		t.Error("second sell of a closed contract should fail")
	}

	state, err := g.ContractStatus(context.Background(), result.ContractID)
	if err != nil {
		t.Fatalf("ContractStatus failed: %v", err)
	}
	if state.Status != "sold" || state.IsSold != 1 {
		t.Errorf("expected sold state, got %+v", state)
	}
}

// Test that orders without any seen market price are refused.
func TestPaperOrderNeedsMarketPrice(t *testing.T) {
	store := market.NewStore(64)
	g := newPaperGateway(&fakeTickFeed{}, store, 0.95, zerolog.Nop())
	t.Cleanup(g.Close)

	if _, err := g.PlaceOrder(context.Background(), callParams()); err == nil {
		t.Error("expected an error when no market price was seen")
	}
}

// Test that unknown contract ids are rejected with a broker-style error.
func TestPaperUnknownContract(t *testing.T) {
	g, _ := paperSetup(t)

	_, err := g.ContractStatus(context.Background(), 424242)
	var apiErr *feed.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *feed.APIError, got %v", err)
	}
}
