package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"deriv-trading-bot/internal/feed"
	"deriv-trading-bot/internal/market"
	"deriv-trading-bot/internal/metrics"
)

// LiveGateway places real orders over the feed connection. A buy is a two
// step exchange: a proposal request prices the contract, then the buy
// references the proposal id.
type LiveGateway struct {
	rq     requester
	logger zerolog.Logger
}

// NewLiveGateway wires the gateway to the feed manager.
func NewLiveGateway(f *feed.Manager, logger zerolog.Logger) *LiveGateway {
	return &LiveGateway{
		rq:     f,
		logger: logger.With().Str("component", "broker").Str("mode", "live").Logger(),
	}
}

func (g *LiveGateway) Mode() string { return "live" }

// PlaceOrder requests a proposal and buys it. Broker rejections from either
// step are returned as *feed.APIError with the message untouched.
func (g *LiveGateway) PlaceOrder(ctx context.Context, params OrderParams) (*OrderResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	propReq := feed.ProposalRequest(params.Symbol, params.ContractType, params.Currency, params.Stake, params.Duration, params.DurationUnit)
	resp, err := g.rq.SendAndAwait(ctx, propReq, 0)
	if err != nil {
		return nil, fmt.Errorf("error requesting proposal: %w", err)
	}

	var prop proposalResponse
	if err := json.Unmarshal(resp, &prop); err != nil {
		return nil, fmt.Errorf("error parsing proposal response: %w", err)
	}
	if prop.Error != nil {
		g.logger.Warn().Str("code", prop.Error.Code).Str("message", prop.Error.Message).Msg("Proposal rejected")
		return nil, prop.Error
	}
	if prop.Proposal.ID == "" {
		return nil, fmt.Errorf("proposal response missing id")
	}

	buyReq := feed.BuyRequest(prop.Proposal.ID, prop.Proposal.AskPrice)
	resp, err = g.rq.SendAndAwait(ctx, buyReq, 0)
	if err != nil {
		return nil, fmt.Errorf("error buying contract: %w", err)
	}

	var buy buyResponse
	if err := json.Unmarshal(resp, &buy); err != nil {
		return nil, fmt.Errorf("error parsing buy response: %w", err)
	}
	if buy.Error != nil {
		g.logger.Warn().Str("code", buy.Error.Code).Str("message", buy.Error.Message).Msg("Buy rejected")
		return nil, buy.Error
	}

	metrics.OrdersTotal.WithLabelValues(params.Symbol, DirectionForContractType(params.ContractType), "live").Inc()
	g.logger.Info().
		Int64("contract_id", buy.Buy.ContractID).
		Str("symbol", params.Symbol).
		Str("contract_type", params.ContractType).
		Float64("stake", params.Stake).
		Float64("payout", buy.Buy.Payout).
		Msg("Order placed")

	return &OrderResult{
		ContractID:    buy.Buy.ContractID,
		BuyPrice:      buy.Buy.BuyPrice,
		Payout:        buy.Buy.Payout,
		TransactionID: buy.Buy.TransactionID,
	}, nil
}

// Sell closes a contract at market price.
func (g *LiveGateway) Sell(ctx context.Context, contractID int64) (*SellResult, error) {
	resp, err := g.rq.SendAndAwait(ctx, feed.SellRequest(contractID, 0), 0)
	if err != nil {
		return nil, fmt.Errorf("error selling contract %d: %w", contractID, err)
	}

	var sell sellResponse
	if err := json.Unmarshal(resp, &sell); err != nil {
		return nil, fmt.Errorf("error parsing sell response: %w", err)
	}
	if sell.Error != nil {
		g.logger.Warn().Int64("contract_id", contractID).Str("message", sell.Error.Message).Msg("Sell rejected")
		return nil, sell.Error
	}

	g.logger.Info().Int64("contract_id", contractID).Float64("sold_for", sell.Sell.SoldFor).Msg("Contract sold")
	return &SellResult{
		SoldFor:       sell.Sell.SoldFor,
		TransactionID: sell.Sell.TransactionID,
	}, nil
}

// ContractStatus runs a one-off status request, used when no update frame
// has been seen recently.
func (g *LiveGateway) ContractStatus(ctx context.Context, contractID int64) (*feed.ContractState, error) {
	resp, err := g.rq.SendAndAwait(ctx, feed.ContractStatusRequest(contractID), 0)
	if err != nil {
		return nil, fmt.Errorf("error fetching contract %d: %w", contractID, err)
	}

	var parsed contractResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("error parsing contract response: %w", err)
	}
	if parsed.Error != nil {
		return nil, parsed.Error
	}
	if parsed.Contract == nil {
		return nil, fmt.Errorf("contract response missing body")
	}
	return parsed.Contract, nil
}

// History returns the latest candles, oldest first.
func (g *LiveGateway) History(ctx context.Context, symbol string, granularity, count int) ([]market.Candle, error) {
	return fetchHistory(ctx, g.rq, symbol, granularity, count)
}
