package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trade is one journal row for a bought contract.
type Trade struct {
	ID         string     `json:"id"`
	ContractID int64      `json:"contract_id"`
	Symbol     string     `json:"symbol"`
	Direction  string     `json:"direction"`
	Stake      float64    `json:"stake"`
	BuyPrice   float64    `json:"buy_price"`
	Mode       string     `json:"mode"`
	OpenedAt   time.Time  `json:"opened_at"`
	Profit     *float64   `json:"profit,omitempty"`
	Status     string     `json:"status"`
	Trigger    *string    `json:"close_trigger,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Signal is one evaluated entry decision, accepted or rejected.
type Signal struct {
	ID         string    `json:"id"`
	Evaluator  string    `json:"evaluator,omitempty"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Accepted   bool      `json:"accepted"`
	Gate       string    `json:"gate,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository reads and writes journal rows.
type Repository struct {
	db *DB
}

// NewRepository creates a repository on top of the pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// ============================================================================
// TRADES
// ============================================================================

// RecordOpen inserts a newly bought contract. Replayed opens for a contract
// already on file are ignored.
func (r *Repository) RecordOpen(ctx context.Context, trade *Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.New().String()
	}
	if trade.Status == "" {
		trade.Status = "open"
	}

	query := `
		INSERT INTO trades (id, contract_id, symbol, direction, stake, buy_price, mode, opened_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (contract_id) DO NOTHING
	`

	_, err := r.db.Pool.Exec(ctx, query,
		trade.ID,
		trade.ContractID,
		trade.Symbol,
		trade.Direction,
		trade.Stake,
		trade.BuyPrice,
		trade.Mode,
		trade.OpenedAt,
		trade.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to record open for contract %d: %w", trade.ContractID, err)
	}
	return nil
}

// RecordSettlement fills in the outcome columns for a contract.
func (r *Repository) RecordSettlement(ctx context.Context, contractID int64, profit float64, status, trigger string) error {
	query := `
		UPDATE trades
		SET profit = $2, status = $3, close_trigger = $4, closed_at = NOW()
		WHERE contract_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, contractID, profit, status, trigger)
	if err != nil {
		return fmt.Errorf("failed to record settlement for contract %d: %w", contractID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no trade on file for contract %d", contractID)
	}
	return nil
}

// RecentTrades returns the newest trades first.
func (r *Repository) RecentTrades(ctx context.Context, limit int) ([]*Trade, error) {
	query := `
		SELECT id, contract_id, symbol, direction, stake, buy_price, mode, opened_at,
		       profit, status, close_trigger, closed_at, created_at, updated_at
		FROM trades
		ORDER BY opened_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		trade := &Trade{}
		err := rows.Scan(
			&trade.ID,
			&trade.ContractID,
			&trade.Symbol,
			&trade.Direction,
			&trade.Stake,
			&trade.BuyPrice,
			&trade.Mode,
			&trade.OpenedAt,
			&trade.Profit,
			&trade.Status,
			&trade.Trigger,
			&trade.ClosedAt,
			&trade.CreatedAt,
			&trade.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// OpenTrades returns contracts the journal has not seen settle yet. Used on
// startup to resume risk tracking after a crash.
func (r *Repository) OpenTrades(ctx context.Context) ([]*Trade, error) {
	query := `
		SELECT id, contract_id, symbol, direction, stake, buy_price, mode, opened_at,
		       profit, status, close_trigger, closed_at, created_at, updated_at
		FROM trades
		WHERE status = 'open'
		ORDER BY opened_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		trade := &Trade{}
		err := rows.Scan(
			&trade.ID,
			&trade.ContractID,
			&trade.Symbol,
			&trade.Direction,
			&trade.Stake,
			&trade.BuyPrice,
			&trade.Mode,
			&trade.OpenedAt,
			&trade.Profit,
			&trade.Status,
			&trade.Trigger,
			&trade.ClosedAt,
			&trade.CreatedAt,
			&trade.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// ============================================================================
// SIGNALS
// ============================================================================

// RecordSignal inserts one signal decision.
func (r *Repository) RecordSignal(ctx context.Context, signal *Signal) error {
	if signal.ID == "" {
		signal.ID = uuid.New().String()
	}

	query := `
		INSERT INTO signals (id, evaluator, symbol, side, confidence, reason, accepted, gate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		signal.ID,
		signal.Evaluator,
		signal.Symbol,
		signal.Side,
		signal.Confidence,
		signal.Reason,
		signal.Accepted,
		signal.Gate,
	)
	if err != nil {
		return fmt.Errorf("failed to record signal for %s: %w", signal.Symbol, err)
	}
	return nil
}
