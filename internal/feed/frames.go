package feed

import (
	"encoding/json"
)

// APIError is the error object embedded in broker error frames.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// tickPayload mirrors the broker's tick frame body.
type tickPayload struct {
	Symbol string  `json:"symbol"`
	Quote  float64 `json:"quote"`
	Epoch  int64   `json:"epoch"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// ContractState is the broker's view of one contract, updated by every
// proposal_open_contract frame. IsExpired is 0/1 on the wire.
type ContractState struct {
	ContractID  int64   `json:"contract_id"`
	Underlying  string  `json:"underlying"`
	Profit      float64 `json:"profit"`
	BuyPrice    float64 `json:"buy_price"`
	BidPrice    float64 `json:"bid_price"`
	Payout      float64 `json:"payout"`
	Status      string  `json:"status"` // open, sold, won, lost
	IsExpired   int     `json:"is_expired"`
	IsSold      int     `json:"is_sold"`
	EntrySpot   float64 `json:"entry_spot"`
	CurrentSpot float64 `json:"current_spot"`
	DateStart   int64   `json:"date_start"`
}

// Closed reports whether the contract has finished by expiry or sale.
func (c ContractState) Closed() bool {
	return c.IsExpired == 1 || c.IsSold == 1 || c.Status == "sold" || c.Status == "won" || c.Status == "lost"
}

// authorizePayload mirrors the body of a successful authorize frame.
type authorizePayload struct {
	LoginID            string  `json:"loginid"`
	Currency           string  `json:"currency"`
	LandingCompanyName string  `json:"landing_company_name"`
	Balance            float64 `json:"balance"`
}

// inboundFrame is the envelope every broker frame is first decoded into.
// Only the fields the dispatcher branches on are parsed here; correlated
// callers unmarshal the raw frame themselves.
type inboundFrame struct {
	MsgType   string            `json:"msg_type"`
	ReqID     int64             `json:"req_id"`
	Error     *APIError         `json:"error"`
	Tick      *tickPayload      `json:"tick"`
	Contract  *ContractState    `json:"proposal_open_contract"`
	Authorize *authorizePayload `json:"authorize"`
}

func parseFrame(data []byte) (*inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ============================================================================
// OUTBOUND FRAME BUILDERS
// ============================================================================

func authorizeRequest(token string) map[string]interface{} {
	return map[string]interface{}{"authorize": token}
}

func ticksRequest(symbol string) map[string]interface{} {
	return map[string]interface{}{"ticks": symbol, "subscribe": 1}
}

func contractSubscribeRequest(contractID int64) map[string]interface{} {
	return map[string]interface{}{
		"proposal_open_contract": 1,
		"contract_id":            contractID,
		"subscribe":              1,
	}
}

// ContractStatusRequest builds a one-off (non-subscribing) contract status
// request, used as the polling fallback when update frames stop arriving.
func ContractStatusRequest(contractID int64) map[string]interface{} {
	return map[string]interface{}{
		"proposal_open_contract": 1,
		"contract_id":            contractID,
	}
}

// SellRequest builds a sell frame; price 0 accepts the market price.
func SellRequest(contractID int64, price float64) map[string]interface{} {
	return map[string]interface{}{"sell": contractID, "price": price}
}

// BuyRequest builds a buy frame referencing a proposal id.
func BuyRequest(proposalID string, price float64) map[string]interface{} {
	return map[string]interface{}{"buy": proposalID, "price": price}
}

// ProposalRequest builds the price quotation request a buy must reference.
func ProposalRequest(symbol, contractType, currency string, stake float64, duration int, durationUnit string) map[string]interface{} {
	return map[string]interface{}{
		"proposal":      1,
		"amount":        stake,
		"basis":         "stake",
		"contract_type": contractType,
		"currency":      currency,
		"duration":      duration,
		"duration_unit": durationUnit,
		"symbol":        symbol,
	}
}

// TicksHistoryRequest builds a candle history request for the latest count
// candles at the given granularity.
func TicksHistoryRequest(symbol string, granularity, count int) map[string]interface{} {
	return map[string]interface{}{
		"ticks_history": symbol,
		"style":         "candles",
		"granularity":   granularity,
		"count":         count,
		"end":           "latest",
	}
}
