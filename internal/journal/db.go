// Package journal persists placed orders, settlements, and signal
// decisions to PostgreSQL so trading history survives restarts.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB builds the pool and verifies it with a ping.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "journal").Logger()
	log.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations applies the schema. Every statement is idempotent so the
// list can run on every startup.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			contract_id BIGINT NOT NULL UNIQUE,
			symbol VARCHAR(32) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			stake DECIMAL(20, 8) NOT NULL,
			buy_price DECIMAL(20, 8) NOT NULL,
			mode VARCHAR(8) NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			profit DECIMAL(20, 8),
			status VARCHAR(10) NOT NULL DEFAULT 'open',
			close_trigger VARCHAR(32),
			closed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades(opened_at)`,

		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			evaluator VARCHAR(64) NOT NULL DEFAULT '',
			symbol VARCHAR(32) NOT NULL,
			side VARCHAR(8) NOT NULL DEFAULT '',
			confidence DECIMAL(6, 4) NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			accepted BOOLEAN NOT NULL,
			gate VARCHAR(32) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_accepted ON signals(accepted)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,

		`CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = CURRENT_TIMESTAMP;
			RETURN NEW;
		END;
		$$ language 'plpgsql'`,

		`DROP TRIGGER IF EXISTS update_trades_updated_at ON trades`,
		`CREATE TRIGGER update_trades_updated_at BEFORE UPDATE ON trades
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("Database migrations completed")
	return nil
}
