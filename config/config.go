package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	FeedConfig     FeedConfig     `json:"feed"`
	TradingConfig  TradingConfig  `json:"trading"`
	StrategyConfig StrategyConfig `json:"strategy"`
	RiskConfig     RiskConfig     `json:"risk"`
	MLConfig       MLConfig       `json:"ml"`
	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// FeedConfig holds the broker streaming connection configuration
type FeedConfig struct {
	Endpoint          string        `json:"endpoint"`            // wss:// URL of the broker feed
	AppID             string        `json:"app_id"`              // application id appended to the endpoint
	Token             string        `json:"token"`               // API token; empty = unauthenticated (ticks only)
	MaxConnectRetries int           `json:"max_connect_retries"` // attempts before Connect gives up
	BackoffBase       time.Duration `json:"backoff_base"`        // initial reconnect delay
	BackoffCap        time.Duration `json:"backoff_cap"`         // maximum reconnect delay
	RequestTimeout    time.Duration `json:"request_timeout"`     // default SendAndAwait deadline
	QueueSize         int           `json:"queue_size"`          // per-subscriber queue capacity
	TickBufferSize    int           `json:"tick_buffer_size"`    // per-symbol ring buffer capacity
}

// TradingConfig holds order placement and decision loop configuration
type TradingConfig struct {
	Symbol               string        `json:"symbol"`        // e.g. "R_100"
	Granularity          int           `json:"granularity"`   // candle period in seconds
	CandleCount          int           `json:"candle_count"`  // history window fetched per iteration
	Paper                bool          `json:"paper"`         // simulated fills instead of real orders
	Stake                float64       `json:"stake"`
	Currency             string        `json:"currency"`
	Duration             int           `json:"duration"`
	DurationUnit         string        `json:"duration_unit"` // "t" ticks, "s" seconds, "m" minutes
	PaperPayoutRatio     float64       `json:"paper_payout_ratio"`
	TakeProfitUSD        float64       `json:"take_profit_usd"` // <=0 disables
	StopLossUSD          float64       `json:"stop_loss_usd"`   // <=0 disables
	DailyLossLimit       float64       `json:"daily_loss_limit"`
	MaxConsecutiveLosses int           `json:"max_consecutive_losses"`
	LossCooldownIters    int           `json:"loss_cooldown_iters"` // blocked iterations after a loss streak
	IterationCooldown    time.Duration `json:"iteration_cooldown"`
	SettlementTimeout    time.Duration `json:"settlement_timeout"` // bounded wait for live expiry
}

// StrategyConfig holds evaluator selection and gate thresholds
type StrategyConfig struct {
	Evaluator           string  `json:"evaluator"` // crossover, rsi_reentry, online, ensemble, hybrid
	FastEMA             int     `json:"fast_ema"`
	SlowEMA             int     `json:"slow_ema"`
	RSIPeriod           int     `json:"rsi_period"`
	RSIBandPeriod       int     `json:"rsi_band_period"`
	RSIBandStdDev       float64 `json:"rsi_band_std_dev"`
	HigherTFFactor      int     `json:"higher_tf_factor"` // higher-timeframe aggregation multiple
	MinBandWidth        float64 `json:"min_band_width"`
	MinMidlineDistance  float64 `json:"min_midline_distance"`
	BaseConfidence      float64 `json:"base_confidence"`       // regime-adjusted acceptance bar
	ADXMin              float64 `json:"adx_min"`               // below this no trend, no trades
	VolatilitySpikePct  float64 `json:"volatility_spike_pct"`  // last-vs-first move that opens a block
	VolatilityBlockIter int     `json:"volatility_block_iter"` // iterations a spike block lasts
	EnsembleEnabled     bool    `json:"ensemble_enabled"`
	EnsembleGBTWeight   float64 `json:"ensemble_gbt_weight"`
	EnsembleSeqWeight   float64 `json:"ensemble_seq_weight"`
	EnsembleMinConf     float64 `json:"ensemble_min_conf"`
}

// RiskConfig holds position monitor configuration
type RiskConfig struct {
	PollInterval       time.Duration `json:"poll_interval"`
	TrailingEnabled    bool          `json:"trailing_enabled"`
	TrailingActivation float64       `json:"trailing_activation"` // profit that arms the trail
	TrailingDistance   float64       `json:"trailing_distance"`   // give-back from peak that fires it
	MLStopEnabled      bool          `json:"ml_stop_enabled"`
	RecoveryWaitProb   float64       `json:"recovery_wait_prob"` // hold when recovery >= this
	RecoverySellProb   float64       `json:"recovery_sell_prob"` // sell when continued-loss > this
	FixedLossPct       float64       `json:"fixed_loss_pct"`     // fallback percentage-loss rule
	MaxLossPctOfStake  float64       `json:"max_loss_pct_of_stake"`
	SellRetries        int           `json:"sell_retries"`
	SellRetryDelay     time.Duration `json:"sell_retry_delay"`
}

// MLConfig holds online model persistence configuration
type MLConfig struct {
	ModelDir     string  `json:"model_dir"`
	SnapshotKeep int     `json:"snapshot_keep"`
	LearningRate float64 `json:"learning_rate"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `json:"port"`
	Host            string        `json:"host"`
	AllowedOrigins  string        `json:"allowed_origins"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// AuthConfig holds operator authentication configuration
type AuthConfig struct {
	Enabled       bool          `json:"enabled"`
	JWTSecret     string        `json:"jwt_secret"`
	PasswordHash  string        `json:"password_hash"` // bcrypt hash of the operator password
	TokenDuration time.Duration `json:"token_duration"`
}

// DatabaseConfig holds trade journal configuration
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds the external state mirror configuration
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration for the feed token
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV v2 mount
	SecretPath string `json:"secret_path"` // path holding the feed token
	TokenField string `json:"token_field"` // field name inside the secret
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // JSON output; false = console writer
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Feed config
	cfg.FeedConfig.Endpoint = getEnvOrDefault("FEED_ENDPOINT", cfg.FeedConfig.Endpoint)
	if cfg.FeedConfig.Endpoint == "" {
		cfg.FeedConfig.Endpoint = "wss://ws.binaryws.com/websockets/v3"
	}
	cfg.FeedConfig.AppID = getEnvOrDefault("FEED_APP_ID", cfg.FeedConfig.AppID)
	cfg.FeedConfig.Token = getEnvOrDefault("FEED_API_TOKEN", cfg.FeedConfig.Token)
	cfg.FeedConfig.MaxConnectRetries = getEnvIntOrDefault("FEED_MAX_CONNECT_RETRIES", defaultInt(cfg.FeedConfig.MaxConnectRetries, 10))
	cfg.FeedConfig.BackoffBase = getEnvDurationOrDefault("FEED_BACKOFF_BASE", defaultDuration(cfg.FeedConfig.BackoffBase, 2*time.Second))
	cfg.FeedConfig.BackoffCap = getEnvDurationOrDefault("FEED_BACKOFF_CAP", defaultDuration(cfg.FeedConfig.BackoffCap, 20*time.Second))
	cfg.FeedConfig.RequestTimeout = getEnvDurationOrDefault("FEED_REQUEST_TIMEOUT", defaultDuration(cfg.FeedConfig.RequestTimeout, 15*time.Second))
	cfg.FeedConfig.QueueSize = getEnvIntOrDefault("FEED_QUEUE_SIZE", defaultInt(cfg.FeedConfig.QueueSize, 100))
	cfg.FeedConfig.TickBufferSize = getEnvIntOrDefault("FEED_TICK_BUFFER_SIZE", defaultInt(cfg.FeedConfig.TickBufferSize, 20000))

	// Trading config
	cfg.TradingConfig.Symbol = getEnvOrDefault("TRADING_SYMBOL", defaultString(cfg.TradingConfig.Symbol, "R_100"))
	cfg.TradingConfig.Granularity = getEnvIntOrDefault("TRADING_GRANULARITY", defaultInt(cfg.TradingConfig.Granularity, 60))
	cfg.TradingConfig.CandleCount = getEnvIntOrDefault("TRADING_CANDLE_COUNT", defaultInt(cfg.TradingConfig.CandleCount, 100))
	cfg.TradingConfig.Paper = getEnvOrDefault("TRADING_PAPER", boolString(cfg.TradingConfig.Paper, "true")) == "true"
	cfg.TradingConfig.Stake = getEnvFloatOrDefault("TRADING_STAKE", defaultFloat(cfg.TradingConfig.Stake, 1.0))
	cfg.TradingConfig.Currency = getEnvOrDefault("TRADING_CURRENCY", defaultString(cfg.TradingConfig.Currency, "USD"))
	cfg.TradingConfig.Duration = getEnvIntOrDefault("TRADING_DURATION", defaultInt(cfg.TradingConfig.Duration, 5))
	cfg.TradingConfig.DurationUnit = getEnvOrDefault("TRADING_DURATION_UNIT", defaultString(cfg.TradingConfig.DurationUnit, "t"))
	cfg.TradingConfig.PaperPayoutRatio = getEnvFloatOrDefault("TRADING_PAPER_PAYOUT_RATIO", defaultFloat(cfg.TradingConfig.PaperPayoutRatio, 0.95))
	cfg.TradingConfig.TakeProfitUSD = getEnvFloatOrDefault("TRADING_TAKE_PROFIT_USD", cfg.TradingConfig.TakeProfitUSD)
	cfg.TradingConfig.StopLossUSD = getEnvFloatOrDefault("TRADING_STOP_LOSS_USD", cfg.TradingConfig.StopLossUSD)
	cfg.TradingConfig.DailyLossLimit = getEnvFloatOrDefault("TRADING_DAILY_LOSS_LIMIT", defaultFloat(cfg.TradingConfig.DailyLossLimit, 50.0))
	cfg.TradingConfig.MaxConsecutiveLosses = getEnvIntOrDefault("TRADING_MAX_CONSECUTIVE_LOSSES", defaultInt(cfg.TradingConfig.MaxConsecutiveLosses, 6))
	cfg.TradingConfig.LossCooldownIters = getEnvIntOrDefault("TRADING_LOSS_COOLDOWN_ITERS", defaultInt(cfg.TradingConfig.LossCooldownIters, 10))
	cfg.TradingConfig.IterationCooldown = getEnvDurationOrDefault("TRADING_ITERATION_COOLDOWN", defaultDuration(cfg.TradingConfig.IterationCooldown, 5*time.Second))
	cfg.TradingConfig.SettlementTimeout = getEnvDurationOrDefault("TRADING_SETTLEMENT_TIMEOUT", defaultDuration(cfg.TradingConfig.SettlementTimeout, 10*time.Minute))

	// Strategy config
	cfg.StrategyConfig.Evaluator = getEnvOrDefault("STRATEGY_EVALUATOR", defaultString(cfg.StrategyConfig.Evaluator, "hybrid"))
	cfg.StrategyConfig.FastEMA = getEnvIntOrDefault("STRATEGY_FAST_EMA", defaultInt(cfg.StrategyConfig.FastEMA, 9))
	cfg.StrategyConfig.SlowEMA = getEnvIntOrDefault("STRATEGY_SLOW_EMA", defaultInt(cfg.StrategyConfig.SlowEMA, 21))
	cfg.StrategyConfig.RSIPeriod = getEnvIntOrDefault("STRATEGY_RSI_PERIOD", defaultInt(cfg.StrategyConfig.RSIPeriod, 14))
	cfg.StrategyConfig.RSIBandPeriod = getEnvIntOrDefault("STRATEGY_RSI_BAND_PERIOD", defaultInt(cfg.StrategyConfig.RSIBandPeriod, 20))
	cfg.StrategyConfig.RSIBandStdDev = getEnvFloatOrDefault("STRATEGY_RSI_BAND_STD_DEV", defaultFloat(cfg.StrategyConfig.RSIBandStdDev, 2.0))
	cfg.StrategyConfig.HigherTFFactor = getEnvIntOrDefault("STRATEGY_HIGHER_TF_FACTOR", defaultInt(cfg.StrategyConfig.HigherTFFactor, 4))
	cfg.StrategyConfig.MinBandWidth = getEnvFloatOrDefault("STRATEGY_MIN_BAND_WIDTH", defaultFloat(cfg.StrategyConfig.MinBandWidth, 8.0))
	cfg.StrategyConfig.MinMidlineDistance = getEnvFloatOrDefault("STRATEGY_MIN_MIDLINE_DISTANCE", defaultFloat(cfg.StrategyConfig.MinMidlineDistance, 3.0))
	cfg.StrategyConfig.BaseConfidence = getEnvFloatOrDefault("STRATEGY_BASE_CONFIDENCE", defaultFloat(cfg.StrategyConfig.BaseConfidence, 0.55))
	cfg.StrategyConfig.ADXMin = getEnvFloatOrDefault("STRATEGY_ADX_MIN", defaultFloat(cfg.StrategyConfig.ADXMin, 20.0))
	cfg.StrategyConfig.VolatilitySpikePct = getEnvFloatOrDefault("STRATEGY_VOLATILITY_SPIKE_PCT", defaultFloat(cfg.StrategyConfig.VolatilitySpikePct, 1.0))
	cfg.StrategyConfig.VolatilityBlockIter = getEnvIntOrDefault("STRATEGY_VOLATILITY_BLOCK_ITER", defaultInt(cfg.StrategyConfig.VolatilityBlockIter, 5))
	cfg.StrategyConfig.EnsembleEnabled = getEnvOrDefault("STRATEGY_ENSEMBLE_ENABLED", boolString(cfg.StrategyConfig.EnsembleEnabled, "false")) == "true"
	cfg.StrategyConfig.EnsembleGBTWeight = getEnvFloatOrDefault("STRATEGY_ENSEMBLE_GBT_WEIGHT", defaultFloat(cfg.StrategyConfig.EnsembleGBTWeight, 0.6))
	cfg.StrategyConfig.EnsembleSeqWeight = getEnvFloatOrDefault("STRATEGY_ENSEMBLE_SEQ_WEIGHT", defaultFloat(cfg.StrategyConfig.EnsembleSeqWeight, 0.4))
	cfg.StrategyConfig.EnsembleMinConf = getEnvFloatOrDefault("STRATEGY_ENSEMBLE_MIN_CONF", defaultFloat(cfg.StrategyConfig.EnsembleMinConf, 0.6))

	// Risk config
	cfg.RiskConfig.PollInterval = getEnvDurationOrDefault("RISK_POLL_INTERVAL", defaultDuration(cfg.RiskConfig.PollInterval, 2*time.Second))
	cfg.RiskConfig.TrailingEnabled = getEnvOrDefault("RISK_TRAILING_ENABLED", boolString(cfg.RiskConfig.TrailingEnabled, "true")) == "true"
	cfg.RiskConfig.TrailingActivation = getEnvFloatOrDefault("RISK_TRAILING_ACTIVATION", defaultFloat(cfg.RiskConfig.TrailingActivation, 0.10))
	cfg.RiskConfig.TrailingDistance = getEnvFloatOrDefault("RISK_TRAILING_DISTANCE", defaultFloat(cfg.RiskConfig.TrailingDistance, 0.05))
	cfg.RiskConfig.MLStopEnabled = getEnvOrDefault("RISK_ML_STOP_ENABLED", boolString(cfg.RiskConfig.MLStopEnabled, "true")) == "true"
	cfg.RiskConfig.RecoveryWaitProb = getEnvFloatOrDefault("RISK_RECOVERY_WAIT_PROB", defaultFloat(cfg.RiskConfig.RecoveryWaitProb, 0.60))
	cfg.RiskConfig.RecoverySellProb = getEnvFloatOrDefault("RISK_RECOVERY_SELL_PROB", defaultFloat(cfg.RiskConfig.RecoverySellProb, 0.70))
	cfg.RiskConfig.FixedLossPct = getEnvFloatOrDefault("RISK_FIXED_LOSS_PCT", defaultFloat(cfg.RiskConfig.FixedLossPct, 0.50))
	cfg.RiskConfig.MaxLossPctOfStake = getEnvFloatOrDefault("RISK_MAX_LOSS_PCT_OF_STAKE", defaultFloat(cfg.RiskConfig.MaxLossPctOfStake, 0.80))
	cfg.RiskConfig.SellRetries = getEnvIntOrDefault("RISK_SELL_RETRIES", defaultInt(cfg.RiskConfig.SellRetries, 12))
	cfg.RiskConfig.SellRetryDelay = getEnvDurationOrDefault("RISK_SELL_RETRY_DELAY", defaultDuration(cfg.RiskConfig.SellRetryDelay, time.Second))

	// ML config
	cfg.MLConfig.ModelDir = getEnvOrDefault("ML_MODEL_DIR", defaultString(cfg.MLConfig.ModelDir, "models"))
	cfg.MLConfig.SnapshotKeep = getEnvIntOrDefault("ML_SNAPSHOT_KEEP", defaultInt(cfg.MLConfig.SnapshotKeep, 10))
	cfg.MLConfig.LearningRate = getEnvFloatOrDefault("ML_LEARNING_RATE", defaultFloat(cfg.MLConfig.LearningRate, 0.02))

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvDurationOrDefault("SERVER_READ_TIMEOUT", defaultDuration(cfg.ServerConfig.ReadTimeout, 30*time.Second))
	cfg.ServerConfig.WriteTimeout = getEnvDurationOrDefault("SERVER_WRITE_TIMEOUT", defaultDuration(cfg.ServerConfig.WriteTimeout, 30*time.Second))
	cfg.ServerConfig.ShutdownTimeout = getEnvDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultDuration(cfg.ServerConfig.ShutdownTimeout, 10*time.Second))

	// Auth config
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", boolString(cfg.AuthConfig.Enabled, "false")) == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.PasswordHash = getEnvOrDefault("AUTH_PASSWORD_HASH", cfg.AuthConfig.PasswordHash)
	cfg.AuthConfig.TokenDuration = getEnvDurationOrDefault("AUTH_TOKEN_DURATION", defaultDuration(cfg.AuthConfig.TokenDuration, 12*time.Hour))

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DB_ENABLED", boolString(cfg.DatabaseConfig.Enabled, "false")) == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "deriv_bot"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled, "false")) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolString(cfg.VaultConfig.Enabled, "false")) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultString(cfg.VaultConfig.SecretPath, "deriv-bot/feed"))
	cfg.VaultConfig.TokenField = getEnvOrDefault("VAULT_TOKEN_FIELD", defaultString(cfg.VaultConfig.TokenField, "token"))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat, "true")) == "true"
}

// Validate checks cross-field constraints that would otherwise surface as
// runtime misbehavior deep inside a loop.
func (c *Config) Validate() error {
	if c.TradingConfig.Stake <= 0 {
		return fmt.Errorf("config: trading stake must be positive, got %v", c.TradingConfig.Stake)
	}
	if c.TradingConfig.Granularity <= 0 {
		return fmt.Errorf("config: granularity must be positive, got %d", c.TradingConfig.Granularity)
	}
	if c.TradingConfig.CandleCount < 30 {
		return fmt.Errorf("config: candle count %d too small for indicator lookbacks", c.TradingConfig.CandleCount)
	}
	if c.StrategyConfig.FastEMA >= c.StrategyConfig.SlowEMA {
		return fmt.Errorf("config: fast EMA %d must be below slow EMA %d", c.StrategyConfig.FastEMA, c.StrategyConfig.SlowEMA)
	}
	if c.FeedConfig.QueueSize <= 0 {
		return fmt.Errorf("config: feed queue size must be positive, got %d", c.FeedConfig.QueueSize)
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("config: auth enabled but AUTH_JWT_SECRET is empty")
	}
	if c.AuthConfig.Enabled && c.AuthConfig.PasswordHash == "" {
		return fmt.Errorf("config: auth enabled but AUTH_PASSWORD_HASH is empty")
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// defaultString keeps a file-provided value unless it is empty.
func defaultString(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

func defaultInt(current, fallback int) int {
	if current != 0 {
		return current
	}
	return fallback
}

func defaultFloat(current, fallback float64) float64 {
	if current != 0 {
		return current
	}
	return fallback
}

func defaultDuration(current, fallback time.Duration) time.Duration {
	if current != 0 {
		return current
	}
	return fallback
}

// boolString renders a bool already set from file so the env override
// comparison can keep it when the variable is unset.
func boolString(current bool, fallback string) string {
	if current {
		return "true"
	}
	return fallback
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		FeedConfig: FeedConfig{
			Endpoint:          "wss://ws.binaryws.com/websockets/v3",
			AppID:             "1089",
			Token:             "",
			MaxConnectRetries: 10,
			BackoffBase:       2 * time.Second,
			BackoffCap:        20 * time.Second,
			RequestTimeout:    15 * time.Second,
			QueueSize:         100,
			TickBufferSize:    20000,
		},
		TradingConfig: TradingConfig{
			Symbol:               "R_100",
			Granularity:          60,
			CandleCount:          100,
			Paper:                true,
			Stake:                1.0,
			Currency:             "USD",
			Duration:             5,
			DurationUnit:         "t",
			PaperPayoutRatio:     0.95,
			DailyLossLimit:       50.0,
			MaxConsecutiveLosses: 6,
			LossCooldownIters:    10,
			IterationCooldown:    5 * time.Second,
			SettlementTimeout:    10 * time.Minute,
		},
		StrategyConfig: StrategyConfig{
			Evaluator:           "hybrid",
			FastEMA:             9,
			SlowEMA:             21,
			RSIPeriod:           14,
			RSIBandPeriod:       20,
			RSIBandStdDev:       2.0,
			HigherTFFactor:      4,
			MinBandWidth:        8.0,
			MinMidlineDistance:  3.0,
			BaseConfidence:      0.55,
			ADXMin:              20.0,
			VolatilitySpikePct:  1.0,
			VolatilityBlockIter: 5,
		},
		RiskConfig: RiskConfig{
			PollInterval:       2 * time.Second,
			TrailingEnabled:    true,
			TrailingActivation: 0.10,
			TrailingDistance:   0.05,
			MLStopEnabled:      true,
			RecoveryWaitProb:   0.60,
			RecoverySellProb:   0.70,
			FixedLossPct:       0.50,
			MaxLossPctOfStake:  0.80,
			SellRetries:        12,
			SellRetryDelay:     time.Second,
		},
		MLConfig: MLConfig{
			ModelDir:     "models",
			SnapshotKeep: 10,
			LearningRate: 0.02,
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
