// Package broker is the order surface: the live gateway speaks the broker
// protocol over the feed connection, the paper gateway simulates fills
// against real market ticks.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"deriv-trading-bot/internal/feed"
	"deriv-trading-bot/internal/market"
)

const (
	ContractCall = "CALL"
	ContractPut  = "PUT"
)

// ErrInvalidOrder marks client-side parameter validation failures.
var ErrInvalidOrder = errors.New("broker: invalid order")

// ContractTypeForDirection maps a trade direction onto the contract type
// the broker protocol expects.
func ContractTypeForDirection(direction string) string {
	if direction == market.DirectionFall {
		return ContractPut
	}
	return ContractCall
}

// DirectionForContractType is the inverse mapping, used when reporting.
func DirectionForContractType(contractType string) string {
	if contractType == ContractPut {
		return market.DirectionFall
	}
	return market.DirectionRise
}

// OrderParams describes one binary contract purchase.
type OrderParams struct {
	Symbol        string  `json:"symbol"`
	ContractType  string  `json:"contractType"`
	Duration      int     `json:"duration"`
	DurationUnit  string  `json:"durationUnit"`
	Stake         float64 `json:"stake"`
	Currency      string  `json:"currency"`
	TakeProfitUSD float64 `json:"takeProfitUsd,omitempty"`
	StopLossUSD   float64 `json:"stopLossUsd,omitempty"`
}

// Validate rejects malformed orders before they reach the broker.
func (p OrderParams) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if p.ContractType != ContractCall && p.ContractType != ContractPut {
		return fmt.Errorf("%w: contract type must be CALL or PUT, got %q", ErrInvalidOrder, p.ContractType)
	}
	if p.Stake <= 0 {
		return fmt.Errorf("%w: stake must be positive", ErrInvalidOrder)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidOrder)
	}
	switch p.DurationUnit {
	case "t", "s", "m":
	default:
		return fmt.Errorf("%w: duration unit must be t, s or m, got %q", ErrInvalidOrder, p.DurationUnit)
	}
	return nil
}

// OrderResult is the acknowledged purchase.
type OrderResult struct {
	ContractID    int64   `json:"contractId"`
	BuyPrice      float64 `json:"buyPrice"`
	Payout        float64 `json:"payout"`
	TransactionID int64   `json:"transactionId"`
}

// SellResult is the acknowledged early close.
type SellResult struct {
	SoldFor       float64 `json:"soldFor"`
	TransactionID int64   `json:"transactionId"`
}

// Gateway is the order surface the engine and risk monitor trade through.
type Gateway interface {
	// PlaceOrder buys one contract. Broker rejections come back as
	// *feed.APIError with the broker's message intact.
	PlaceOrder(ctx context.Context, params OrderParams) (*OrderResult, error)

	// Sell closes an open contract at the current market price.
	Sell(ctx context.Context, contractID int64) (*SellResult, error)

	// ContractStatus fetches the current state of one contract without
	// subscribing to its update stream.
	ContractStatus(ctx context.Context, contractID int64) (*feed.ContractState, error)

	// History returns the latest count candles at the given granularity
	// in seconds, oldest first.
	History(ctx context.Context, symbol string, granularity, count int) ([]market.Candle, error)

	// Mode reports "live" or "paper".
	Mode() string
}

// requester is the slice of the feed manager the gateways use.
type requester interface {
	SendAndAwait(ctx context.Context, payload map[string]interface{}, timeout time.Duration) (json.RawMessage, error)
}

type proposalResponse struct {
	Proposal struct {
		ID       string  `json:"id"`
		AskPrice float64 `json:"ask_price"`
		Payout   float64 `json:"payout"`
	} `json:"proposal"`
	Error *feed.APIError `json:"error"`
}

type buyResponse struct {
	Buy struct {
		ContractID    int64   `json:"contract_id"`
		BuyPrice      float64 `json:"buy_price"`
		Payout        float64 `json:"payout"`
		TransactionID int64   `json:"transaction_id"`
	} `json:"buy"`
	Error *feed.APIError `json:"error"`
}

type sellResponse struct {
	Sell struct {
		SoldFor       float64 `json:"sold_for"`
		TransactionID int64   `json:"transaction_id"`
	} `json:"sell"`
	Error *feed.APIError `json:"error"`
}

type contractResponse struct {
	Contract *feed.ContractState `json:"proposal_open_contract"`
	Error    *feed.APIError      `json:"error"`
}

type historyResponse struct {
	Candles []struct {
		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
		Epoch int64   `json:"epoch"`
	} `json:"candles"`
	Error *feed.APIError `json:"error"`
}

// fetchHistory is shared by both gateways; paper trading still works on
// real candles.
func fetchHistory(ctx context.Context, rq requester, symbol string, granularity, count int) ([]market.Candle, error) {
	resp, err := rq.SendAndAwait(ctx, feed.TicksHistoryRequest(symbol, granularity, count), 0)
	if err != nil {
		return nil, fmt.Errorf("error fetching history: %w", err)
	}

	var parsed historyResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("error parsing history response: %w", err)
	}
	if parsed.Error != nil {
		return nil, parsed.Error
	}

	candles := make([]market.Candle, 0, len(parsed.Candles))
	for _, c := range parsed.Candles {
		candles = append(candles, market.Candle{
			OpenTime: c.Epoch,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
		})
	}
	return candles, nil
}
