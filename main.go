package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/api"
	"deriv-trading-bot/internal/auth"
	"deriv-trading-bot/internal/broker"
	"deriv-trading-bot/internal/engine"
	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/feed"
	"deriv-trading-bot/internal/journal"
	"deriv-trading-bot/internal/logging"
	"deriv-trading-bot/internal/market"
	"deriv-trading-bot/internal/ml"
	"deriv-trading-bot/internal/risk"
	"deriv-trading-bot/internal/secrets"
	"deriv-trading-bot/internal/statestore"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init-config" {
		if err := config.GenerateSampleConfig("config.json"); err != nil {
			log.Fatalf("Failed to write config.json: %v", err)
		}
		log.Println("Wrote config.json")
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	instanceID := uuid.NewString()[:8]
	logger := logging.New(cfg.LoggingConfig, instanceID)
	logger.Info().
		Str("symbol", cfg.TradingConfig.Symbol).
		Bool("paper", cfg.TradingConfig.Paper).
		Msg("Starting trading bot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize event bus
	bus := events.NewEventBus()

	// Resolve the feed token, from Vault when enabled
	provider, err := secrets.NewProvider(cfg.VaultConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize secrets provider")
	}
	tokenCtx, cancelToken := context.WithTimeout(ctx, 10*time.Second)
	token, err := provider.FeedToken(tokenCtx, cfg.FeedConfig.Token)
	cancelToken()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve feed token")
	}
	cfg.FeedConfig.Token = token

	// Connect the market feed
	tickStore := market.NewStore(cfg.FeedConfig.TickBufferSize)
	feedManager := feed.NewManager(cfg.FeedConfig, tickStore, bus, logger)
	if err := feedManager.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect market feed")
	}

	// Pick the order gateway
	var gateway broker.Gateway
	if cfg.TradingConfig.Paper {
		gateway = broker.NewPaperGateway(feedManager, tickStore, cfg.TradingConfig.PaperPayoutRatio, logger)
	} else {
		gateway = broker.NewLiveGateway(feedManager, logger)
	}

	// Build the models and restore persisted state
	snapshots := ml.NewSnapshotStore(cfg.MLConfig.ModelDir, cfg.MLConfig.SnapshotKeep)
	classifier := ml.NewOnlineClassifier(ml.CandleFeatureDim, cfg.MLConfig.LearningRate)
	var savedClassifier ml.OnlineClassifier
	if err := snapshots.LoadLatest("classifier", &savedClassifier); err == nil {
		classifier.Restore(savedClassifier)
		logger.Info().Msg("Classifier state restored from snapshot")
	}
	recovery := ml.NewRecoveryModel(cfg.MLConfig.LearningRate)
	var savedRecovery ml.RecoveryModel
	if err := snapshots.LoadLatest("recovery", &savedRecovery); err == nil {
		recovery.Restore(savedRecovery)
		logger.Info().Msg("Recovery model state restored from snapshot")
	}
	ensemble := ml.LoadEnsemble(cfg.MLConfig.ModelDir, cfg.StrategyConfig.EnsembleGBTWeight, cfg.StrategyConfig.EnsembleSeqWeight)

	// Initialize risk tracking
	ledger := risk.NewLedger()
	registry := risk.NewRegistry()
	monitor := risk.NewMonitor(cfg.RiskConfig, cfg.TradingConfig.Granularity, gateway, feedManager, tickStore, recovery, ledger, registry, bus, logger)
	monitor.Start()

	// Initialize the decision loop
	eng, err := engine.NewEngine(cfg.TradingConfig, cfg.StrategyConfig, gateway, feedManager, monitor, ledger, classifier, ensemble, snapshots, bus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build engine")
	}

	// Initialize the trade journal
	var db *journal.DB
	var recorder *journal.Recorder
	var trades api.TradeLog
	if cfg.DatabaseConfig.Enabled {
		db, err = journal.NewDB(ctx, cfg.DatabaseConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect trade journal database")
		}
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run journal migrations")
		}
		repo := journal.NewRepository(db)
		recorder = journal.NewRecorder(repo, bus, gateway.Mode(), logger)
		trades = recorder

		// Live contracts bought before a restart are still running at the
		// broker; put them back under risk management.
		if !cfg.TradingConfig.Paper {
			resumeOpenTrades(ctx, repo, monitor, logger)
		}
	}

	// Initialize the external state mirror
	stateStore := statestore.New(cfg.RedisConfig, logger)
	var mirror *statestore.Mirror
	if cfg.RedisConfig.Enabled {
		mirror = statestore.NewMirror(stateStore, monitor, ledger, bus, logger)
	}

	// Initialize operator auth
	authService, err := auth.NewService(cfg.AuthConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize auth")
	}

	// Start the control API
	server := api.NewServer(cfg.ServerConfig, api.Deps{
		Engine:    eng,
		Positions: monitor,
		Gateway:   gateway,
		Feed:      feedManager,
		Ledger:    ledger,
		Bus:       bus,
		Auth:      authService,
		Trades:    trades,
	}, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("API server failed")
		}
	}()
	logger.Info().
		Str("host", cfg.ServerConfig.Host).
		Int("port", cfg.ServerConfig.Port).
		Msg("Control API listening")

	// Start trading
	if err := eng.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start engine")
	}

	<-ctx.Done()
	stop()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerConfig.ShutdownTimeout)
	defer cancel()

	// The API stops taking orders first. The sinks that drain what the
	// teardown publishes go last.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API shutdown error")
	}
	eng.Stop()
	monitor.Close()
	feedManager.Close()
	if mirror != nil {
		mirror.Stop()
	}
	if recorder != nil {
		recorder.Stop()
	}
	if db != nil {
		db.Close()
	}
	if err := stateStore.Close(); err != nil {
		logger.Debug().Err(err).Msg("State mirror close error")
	}

	if err := snapshots.Save("recovery", recovery.Snapshot()); err != nil {
		logger.Warn().Err(err).Msg("Recovery model snapshot failed")
	}

	logger.Info().Msg("Shutdown complete")
}

// resumeOpenTrades replays journal rows that never settled into the
// monitor. Contracts that actually finished while the bot was down settle
// on the first status poll and get their rows closed out.
func resumeOpenTrades(ctx context.Context, repo *journal.Repository, monitor *risk.Monitor, logger zerolog.Logger) {
	open, err := repo.OpenTrades(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not load open trades from journal")
		return
	}

	for _, trade := range open {
		monitor.Track(
			&broker.OrderResult{ContractID: trade.ContractID, BuyPrice: trade.BuyPrice},
			broker.OrderParams{
				Symbol:       trade.Symbol,
				ContractType: broker.ContractTypeForDirection(trade.Direction),
				Stake:        trade.Stake,
			},
		)
	}

	if len(open) > 0 {
		logger.Info().Int("count", len(open)).Msg("Resumed tracking open contracts")
	}
}
