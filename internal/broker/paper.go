package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"deriv-trading-bot/internal/feed"
	"deriv-trading-bot/internal/market"
	"deriv-trading-bot/internal/metrics"
)

// paperFeed is the slice of the feed manager the paper gateway needs: real
// ticks drive simulated contracts, and history requests pass through.
type paperFeed interface {
	SubscribeTicks(symbol string) *feed.TickSub
	UnsubscribeTicks(sub *feed.TickSub)
	SendAndAwait(ctx context.Context, payload map[string]interface{}, timeout time.Duration) (json.RawMessage, error)
}

type paperContract struct {
	id            int64
	params        OrderParams
	entrySpot     float64
	currentSpot   float64
	buyPrice      float64
	payout        float64
	dateStart     int64
	ticksSeen     int
	durationTicks int
	expiresAt     time.Time
	profit        float64
	status        string
	isExpired     bool
	isSold        bool
}

// PaperGateway simulates contract purchases against live market ticks.
// Entry and exit spots come from the real tick stream; only the fill and
// the payout are simulated.
type PaperGateway struct {
	feed        paperFeed
	store       *market.Store
	logger      zerolog.Logger
	payoutRatio float64

	mu        sync.Mutex
	contracts map[int64]*paperContract
	seq       int64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPaperGateway creates a simulated gateway. payoutRatio is the profit
// fraction of the stake paid on a winning contract.
func NewPaperGateway(f *feed.Manager, store *market.Store, payoutRatio float64, logger zerolog.Logger) *PaperGateway {
	return newPaperGateway(f, store, payoutRatio, logger)
}

func newPaperGateway(f paperFeed, store *market.Store, payoutRatio float64, logger zerolog.Logger) *PaperGateway {
	if payoutRatio <= 0 {
		payoutRatio = 0.95
	}
	return &PaperGateway{
		feed:        f,
		store:       store,
		logger:      logger.With().Str("component", "broker").Str("mode", "paper").Logger(),
		payoutRatio: payoutRatio,
		contracts:   make(map[int64]*paperContract),
		seq:         1000000,
		stopChan:    make(chan struct{}),
	}
}

func (g *PaperGateway) Mode() string { return "paper" }

// PlaceOrder opens a simulated contract at the last seen market price.
func (g *PaperGateway) PlaceOrder(ctx context.Context, params OrderParams) (*OrderResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	entry, ok := g.store.LastPrice(params.Symbol)
	if !ok {
		return nil, fmt.Errorf("paper: no market price seen for %s yet", params.Symbol)
	}

	g.mu.Lock()
	g.seq++
	c := &paperContract{
		id:          g.seq,
		params:      params,
		entrySpot:   entry,
		currentSpot: entry,
		buyPrice:    params.Stake,
		payout:      params.Stake * (1 + g.payoutRatio),
		dateStart:   time.Now().Unix(),
		status:      "open",
	}
	switch params.DurationUnit {
	case "t":
		c.durationTicks = params.Duration
	case "s":
		c.expiresAt = time.Now().Add(time.Duration(params.Duration) * time.Second)
	case "m":
		c.expiresAt = time.Now().Add(time.Duration(params.Duration) * time.Minute)
	}
	g.contracts[c.id] = c
	g.mu.Unlock()

	sub := g.feed.SubscribeTicks(params.Symbol)
	g.wg.Add(1)
	go g.runContract(c, sub)

	metrics.OrdersTotal.WithLabelValues(params.Symbol, DirectionForContractType(params.ContractType), "paper").Inc()
	g.logger.Info().
		Int64("contract_id", c.id).
		Str("symbol", params.Symbol).
		Str("contract_type", params.ContractType).
		Float64("stake", params.Stake).
		Float64("entry_spot", entry).
		Msg("Paper order placed")

	return &OrderResult{
		ContractID:    c.id,
		BuyPrice:      c.buyPrice,
		Payout:        c.payout,
		TransactionID: c.id,
	}, nil
}

// runContract marks the contract on every tick and settles it when the
// tick countdown or the expiry timer runs out.
func (g *PaperGateway) runContract(c *paperContract, sub *feed.TickSub) {
	defer g.wg.Done()
	defer g.feed.UnsubscribeTicks(sub)

	var expiry <-chan time.Time
	if c.durationTicks == 0 {
		timer := time.NewTimer(time.Until(c.expiresAt))
		defer timer.Stop()
		expiry = timer.C
	}

	for {
		select {
		case tick, ok := <-sub.C:
			if !ok {
				return
			}
			g.mu.Lock()
			if c.isSold || c.isExpired {
				g.mu.Unlock()
				return
			}
			c.ticksSeen++
			g.markLocked(c, tick.Price)
			if c.durationTicks > 0 && c.ticksSeen >= c.durationTicks {
				g.settleLocked(c)
				g.mu.Unlock()
				return
			}
			g.mu.Unlock()

		case <-expiry:
			g.mu.Lock()
			if !c.isSold && !c.isExpired {
				g.settleLocked(c)
			}
			g.mu.Unlock()
			return

		case <-g.stopChan:
			return
		}
	}
}

// markLocked re-prices the open contract: the mark accrues toward full
// payout while in the money and toward full loss while out.
func (g *PaperGateway) markLocked(c *paperContract, spot float64) {
	c.currentSpot = spot

	progress := 1.0
	if c.durationTicks > 0 {
		progress = float64(c.ticksSeen) / float64(c.durationTicks)
	} else if !c.expiresAt.IsZero() {
		total := c.expiresAt.Unix() - c.dateStart
		if total > 0 {
			progress = float64(time.Now().Unix()-c.dateStart) / float64(total)
		}
	}
	if progress > 1 {
		progress = 1
	}

	if g.inTheMoneyLocked(c) {
		c.profit = c.params.Stake * g.payoutRatio * progress
	} else {
		c.profit = -c.params.Stake * progress
	}
}

func (g *PaperGateway) inTheMoneyLocked(c *paperContract) bool {
	if c.params.ContractType == ContractPut {
		return c.currentSpot < c.entrySpot
	}
	return c.currentSpot > c.entrySpot
}

func (g *PaperGateway) settleLocked(c *paperContract) {
	c.isExpired = true
	if g.inTheMoneyLocked(c) {
		c.status = "won"
		c.profit = c.params.Stake * g.payoutRatio
	} else {
		c.status = "lost"
		c.profit = -c.params.Stake
	}
	g.logger.Info().
		Int64("contract_id", c.id).
		Str("status", c.status).
		Float64("profit", c.profit).
		Float64("entry_spot", c.entrySpot).
		Float64("exit_spot", c.currentSpot).
		Msg("Paper contract settled")
}

// Sell closes an open simulated contract at its current mark.
func (g *PaperGateway) Sell(ctx context.Context, contractID int64) (*SellResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.contracts[contractID]
	if !ok {
		return nil, &feed.APIError{Code: "ContractNotFound", Message: fmt.Sprintf("contract %d not found", contractID)}
	}
	if c.isExpired || c.isSold {
		return nil, &feed.APIError{Code: "ContractClosed", Message: fmt.Sprintf("contract %d is already closed", contractID)}
	}

	c.isSold = true
	c.status = "sold"
	soldFor := c.buyPrice + c.profit
	if soldFor < 0 {
		soldFor = 0
	}

	g.logger.Info().
		Int64("contract_id", contractID).
		Float64("sold_for", soldFor).
		Float64("profit", c.profit).
		Msg("Paper contract sold")

	return &SellResult{SoldFor: soldFor, TransactionID: contractID}, nil
}

// ContractStatus answers status requests for simulated contracts; the risk
// monitor lands here when the feed's shared map has no entry.
func (g *PaperGateway) ContractStatus(ctx context.Context, contractID int64) (*feed.ContractState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.contracts[contractID]
	if !ok {
		return nil, &feed.APIError{Code: "ContractNotFound", Message: fmt.Sprintf("contract %d not found", contractID)}
	}

	state := &feed.ContractState{
		ContractID:  c.id,
		Underlying:  c.params.Symbol,
		Profit:      c.profit,
		BuyPrice:    c.buyPrice,
		BidPrice:    c.buyPrice + c.profit,
		Payout:      c.payout,
		Status:      c.status,
		EntrySpot:   c.entrySpot,
		CurrentSpot: c.currentSpot,
		DateStart:   c.dateStart,
	}
	if c.isExpired {
		state.IsExpired = 1
	}
	if c.isSold {
		state.IsSold = 1
	}
	return state, nil
}

// History passes through to the real feed so paper trading decides on real
// candles.
func (g *PaperGateway) History(ctx context.Context, symbol string, granularity, count int) ([]market.Candle, error) {
	return fetchHistory(ctx, g.feed, symbol, granularity, count)
}

// Close stops all open contract goroutines.
func (g *PaperGateway) Close() {
	g.stopOnce.Do(func() {
		close(g.stopChan)
		g.wg.Wait()
	})
}
