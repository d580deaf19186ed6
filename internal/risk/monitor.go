package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/broker"
	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/feed"
	"deriv-trading-bot/internal/indicator"
	"deriv-trading-bot/internal/market"
	"deriv-trading-bot/internal/metrics"
	"deriv-trading-bot/internal/ml"
)

// sellRequestTimeout bounds a single sell round trip.
const sellRequestTimeout = 10 * time.Second

// ErrNotTracked marks close requests for contracts the monitor is not
// watching.
var ErrNotTracked = errors.New("position is not tracked")

// ErrCloseInFlight marks close requests for contracts that already have a
// sell attempt running.
var ErrCloseInFlight = errors.New("close already in flight")

// feedSource is the slice of the feed manager the monitor reads
// position state through.
type feedSource interface {
	LastPosition(contractID int64) (feed.ContractState, bool)
	SubscribeContract(contractID int64) *feed.ContractSub
	UnsubscribeContract(sub *feed.ContractSub)
}

// trackedPosition is the monitor's view of one open contract.
type trackedPosition struct {
	contractID int64
	symbol     string
	direction  string
	stake      float64
	buyPrice   float64
	openedAt   time.Time
	trail      *TrailingState
	sub        *feed.ContractSub

	// guarded by Monitor.mu
	lastProfit   float64
	lastFeatures []float64
}

// PositionInfo is a read-only snapshot of a tracked position.
type PositionInfo struct {
	ContractID     int64     `json:"contract_id"`
	Symbol         string    `json:"symbol"`
	Direction      string    `json:"direction"`
	Stake          float64   `json:"stake"`
	BuyPrice       float64   `json:"buy_price"`
	OpenedAt       time.Time `json:"opened_at"`
	Profit         float64   `json:"profit"`
	TrailPeak      float64   `json:"trail_peak"`
	TrailActivated bool      `json:"trail_activated"`
}

// Monitor polls tracked positions on a fixed interval for trailing and
// model-based stops, and reacts to every position update frame for the
// fixed TP/SL thresholds. All close paths share the registry's selling
// marker so one contract never gets two concurrent sell attempts.
type Monitor struct {
	cfg         config.RiskConfig
	granularity int
	gateway     broker.Gateway
	feed        feedSource
	store       *market.Store
	recovery    *ml.RecoveryModel
	ledger      *Ledger
	registry    *Registry
	bus         *events.EventBus
	logger      zerolog.Logger

	mu        sync.Mutex
	positions map[int64]*trackedPosition

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor wires the position monitor. granularity is the candle
// period used when deriving indicator features for the ML stop.
func NewMonitor(cfg config.RiskConfig, granularity int, gateway broker.Gateway, fd feedSource, store *market.Store, recovery *ml.RecoveryModel, ledger *Ledger, registry *Registry, bus *events.EventBus, logger zerolog.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.SellRetries <= 0 {
		cfg.SellRetries = 12
	}
	if cfg.SellRetryDelay <= 0 {
		cfg.SellRetryDelay = time.Second
	}
	if cfg.FixedLossPct <= 0 {
		cfg.FixedLossPct = 0.5
	}
	if cfg.MaxLossPctOfStake <= 0 {
		cfg.MaxLossPctOfStake = 0.8
	}
	if granularity <= 0 {
		granularity = 60
	}
	return &Monitor{
		cfg:         cfg,
		granularity: granularity,
		gateway:     gateway,
		feed:        fd,
		store:       store,
		recovery:    recovery,
		ledger:      ledger,
		registry:    registry,
		bus:         bus,
		logger:      logger.With().Str("component", "risk").Logger(),
		positions:   make(map[int64]*trackedPosition),
		stopChan:    make(chan struct{}),
	}
}

// Start launches the poll loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
	m.logger.Info().Dur("poll_interval", m.cfg.PollInterval).Msg("position monitor started")
}

// Track begins watching a freshly opened position: registers its fixed
// TP/SL thresholds, subscribes to its update stream and adds it to the
// poll set.
func (m *Monitor) Track(result *broker.OrderResult, params broker.OrderParams) {
	pos := &trackedPosition{
		contractID: result.ContractID,
		symbol:     params.Symbol,
		direction:  broker.DirectionForContractType(params.ContractType),
		stake:      params.Stake,
		buyPrice:   result.BuyPrice,
		openedAt:   time.Now(),
	}
	if m.cfg.TrailingEnabled {
		pos.trail = NewTrailingState(m.cfg.TrailingActivation, m.cfg.TrailingDistance)
	}

	m.registry.Register(pos.contractID, params.TakeProfitUSD, params.StopLossUSD)
	pos.sub = m.feed.SubscribeContract(pos.contractID)

	m.mu.Lock()
	m.positions[pos.contractID] = pos
	open := len(m.positions)
	m.mu.Unlock()
	metrics.OpenPositions.Set(float64(open))

	m.wg.Add(1)
	go m.watchUpdates(pos)

	m.logger.Info().
		Int64("contract_id", pos.contractID).
		Str("symbol", pos.symbol).
		Float64("stake", pos.stake).
		Float64("take_profit", params.TakeProfitUSD).
		Float64("stop_loss", params.StopLossUSD).
		Msg("tracking position")
}

// CloseNow requests a manual close of a tracked position, going through
// the same selling marker as every automatic path.
func (m *Monitor) CloseNow(contractID int64) error {
	m.mu.Lock()
	pos, ok := m.positions[contractID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("position %d: %w", contractID, ErrNotTracked)
	}
	if !m.closePosition(pos, TriggerManual, false) {
		return fmt.Errorf("position %d: %w", contractID, ErrCloseInFlight)
	}
	return nil
}

// Positions returns snapshots of every tracked position.
func (m *Monitor) Positions() []PositionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PositionInfo, 0, len(m.positions))
	for _, pos := range m.positions {
		info := PositionInfo{
			ContractID: pos.contractID,
			Symbol:     pos.symbol,
			Direction:  pos.direction,
			Stake:      pos.stake,
			BuyPrice:   pos.buyPrice,
			OpenedAt:   pos.openedAt,
			Profit:     pos.lastProfit,
		}
		if pos.trail != nil {
			info.TrailPeak = pos.trail.Peak
			info.TrailActivated = pos.trail.Activated
		}
		out = append(out, info)
	}
	return out
}

// loop is the fixed-interval sweep over tracked positions.
func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep runs the trailing, model and ceiling stops over every position.
func (m *Monitor) sweep() {
	m.mu.Lock()
	positions := make([]*trackedPosition, 0, len(m.positions))
	for _, pos := range m.positions {
		positions = append(positions, pos)
	}
	m.mu.Unlock()

	for _, pos := range positions {
		select {
		case <-m.stopChan:
			return
		default:
		}
		m.checkPosition(pos)
	}
}

func (m *Monitor) checkPosition(pos *trackedPosition) {
	profit, state, ok := m.currentProfit(pos)
	if !ok {
		return
	}

	m.mu.Lock()
	pos.lastProfit = profit
	m.mu.Unlock()

	if state.Closed() {
		m.settle(pos, profit, "expired")
		return
	}

	if pos.trail != nil && pos.trail.Update(profit) {
		m.closePosition(pos, TriggerTrailing, false)
		return
	}

	if profit < 0 {
		if trigger := m.lossStop(pos, profit); trigger != "" {
			m.closePosition(pos, trigger, false)
			return
		}
		// Absolute ceiling applies no matter what the model said.
		if -profit >= pos.stake*m.cfg.MaxLossPctOfStake {
			m.closePosition(pos, TriggerMaxLoss, false)
		}
	}
}

// watchUpdates reacts to every position update frame: fixed TP/SL
// thresholds are event-driven rather than polled, and a closed frame
// settles the position immediately.
func (m *Monitor) watchUpdates(pos *trackedPosition) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopChan:
			return
		case state, ok := <-pos.sub.C:
			if !ok {
				return
			}

			m.mu.Lock()
			pos.lastProfit = state.Profit
			m.mu.Unlock()

			if state.Closed() {
				m.settle(pos, state.Profit, "expired")
				return
			}
			if trigger := m.registry.Triggered(pos.contractID, state.Profit); trigger != "" {
				m.closePosition(pos, trigger, true)
			}
		}
	}
}

// currentProfit reads the shared position map first and falls back to a
// one-off status request when no cached state exists yet.
func (m *Monitor) currentProfit(pos *trackedPosition) (float64, feed.ContractState, bool) {
	if state, ok := m.feed.LastPosition(pos.contractID); ok {
		return state.Profit, state, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), sellRequestTimeout)
	defer cancel()
	state, err := m.gateway.ContractStatus(ctx, pos.contractID)
	if err != nil || state == nil {
		m.logger.Debug().Int64("contract_id", pos.contractID).Err(err).Msg("no position state this cycle")
		return 0, feed.ContractState{}, false
	}
	return state.Profit, *state, true
}

// lossStop decides whether a losing position should be closed. The
// recovery model gets the first word; the ambiguous middle band and
// every failure path fall back to the fixed percentage-loss rule.
func (m *Monitor) lossStop(pos *trackedPosition, profit float64) string {
	if !m.cfg.MLStopEnabled || m.recovery == nil {
		return m.fixedRule(pos, profit)
	}

	features, err := m.positionFeatures(pos, profit)
	if err != nil {
		m.logger.Debug().Int64("contract_id", pos.contractID).Err(err).Msg("ml stop unavailable, using fixed rule")
		return m.fixedRule(pos, profit)
	}

	m.mu.Lock()
	pos.lastFeatures = features
	m.mu.Unlock()

	recovery := m.recovery.RecoveryProbability(features)
	if recovery >= m.cfg.RecoveryWaitProb {
		return ""
	}
	if 1-recovery > m.cfg.RecoverySellProb {
		return TriggerMLStop
	}
	return m.fixedRule(pos, profit)
}

// fixedRule is the percentage-loss stop used when the model abstains.
func (m *Monitor) fixedRule(pos *trackedPosition, profit float64) string {
	if pos.stake <= 0 {
		return ""
	}
	if -profit/pos.stake >= m.cfg.FixedLossPct {
		return TriggerFixedStop
	}
	return ""
}

// positionFeatures builds the recovery-model input from the position
// and recent market state.
func (m *Monitor) positionFeatures(pos *trackedPosition, profit float64) ([]float64, error) {
	ticks := m.store.Recent(pos.symbol, m.store.Capacity())
	candles := market.AggregateByTime(ticks, int64(m.granularity))
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s yet", pos.symbol)
	}

	closes := market.Closes(candles)
	rsi, ok := indicator.LastValid(indicator.CalculateRSI(closes, 14))
	if !ok {
		return nil, fmt.Errorf("rsi not defined over %d candles", len(candles))
	}
	adx, ok := indicator.LastValid(indicator.CalculateADX(market.Highs(candles), market.Lows(candles), closes, 14))
	if !ok {
		return nil, fmt.Errorf("adx not defined over %d candles", len(candles))
	}

	now := time.Now()
	return ml.PositionFeatures(profit, pos.stake, now.Sub(pos.openedAt), now, rsi, adx), nil
}

// closePosition issues the sell for a fired trigger. The selling marker
// is claimed before the request and released when the attempt resolves;
// a second trigger path finding the marker set backs off. When
// revalidate is set (the fixed TP/SL path), every retry re-reads the
// profit and abandons the sell if the trigger no longer holds.
func (m *Monitor) closePosition(pos *trackedPosition, trigger string, revalidate bool) bool {
	if !m.registry.TryMarkSelling(pos.contractID) {
		return false
	}
	defer m.registry.ClearSelling(pos.contractID)

	attempts := 1
	if revalidate {
		attempts = m.cfg.SellRetries
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if revalidate {
			profit, _, ok := m.currentProfit(pos)
			if !ok || m.registry.Triggered(pos.contractID, profit) != trigger {
				m.logger.Info().
					Int64("contract_id", pos.contractID).
					Str("trigger", trigger).
					Float64("profit", profit).
					Msg("sell abandoned, trigger no longer holds")
				return true
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), sellRequestTimeout)
		res, err := m.gateway.Sell(ctx, pos.contractID)
		cancel()
		if err == nil {
			realized := res.SoldFor - pos.buyPrice
			metrics.SellsTotal.WithLabelValues(trigger).Inc()
			m.logger.Info().
				Int64("contract_id", pos.contractID).
				Str("trigger", trigger).
				Float64("sold_for", res.SoldFor).
				Float64("realized", realized).
				Msg("position closed")
			m.settle(pos, realized, trigger)
			return true
		}

		m.logger.Warn().
			Int64("contract_id", pos.contractID).
			Str("trigger", trigger).
			Int("attempt", attempt).
			Err(err).
			Msg("sell attempt failed")

		if attempt == attempts {
			break
		}
		select {
		case <-m.stopChan:
			return true
		case <-time.After(m.cfg.SellRetryDelay):
		}
	}

	m.logger.Error().Int64("contract_id", pos.contractID).Str("trigger", trigger).Msg("giving up on close, will re-evaluate next cycle")
	return true
}

// settle removes a finished position from tracking, books the outcome
// once and trains the recovery model with what actually happened.
func (m *Monitor) settle(pos *trackedPosition, profit float64, trigger string) {
	m.mu.Lock()
	if _, still := m.positions[pos.contractID]; !still {
		m.mu.Unlock()
		return
	}
	delete(m.positions, pos.contractID)
	open := len(m.positions)
	features := pos.lastFeatures
	m.mu.Unlock()

	metrics.OpenPositions.Set(float64(open))
	m.registry.Unregister(pos.contractID)
	m.feed.UnsubscribeContract(pos.sub)

	status := "lost"
	if profit > 0 {
		status = "won"
	}
	if m.ledger.RecordSettlement(pos.contractID, profit) {
		m.bus.PublishTradeClosed(pos.contractID, pos.symbol, profit, status, trigger)
	}

	// Positions that ever entered the loss-stop evaluation become
	// training examples: did they recover or not.
	if features != nil && m.recovery != nil {
		m.recovery.Update(features, profit > 0)
	}

	m.logger.Info().
		Int64("contract_id", pos.contractID).
		Str("status", status).
		Str("trigger", trigger).
		Float64("profit", profit).
		Msg("position settled")
}

// Close stops the poll loop and the per-position watchers.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pos := range m.positions {
		m.feed.UnsubscribeContract(pos.sub)
		delete(m.positions, id)
	}
}
