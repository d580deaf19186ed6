// Package engine runs the strategy decision loop: one iteration per
// cooldown interval, each walking the gate chain (daily loss, volatility
// spike, technical stops, layered signal agreement, ensemble check)
// before placing an order and blocking until it settles.
package engine

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
	"deriv-trading-bot/internal/risk"
	"deriv-trading-bot/internal/strategy"
)

// Loop states as surfaced by Status.
const (
	StateIdle       = "idle"
	StateEvaluating = "evaluating"
	StateBlocked    = "blocked"
	StateSettling   = "settling"
	StateStopped    = "stopped"
)

const (
	historyTimeout = 15 * time.Second
	orderTimeout   = 20 * time.Second
	statusTimeout  = 5 * time.Second

	recentSignalCap = 50
)

// errSettlementTimeout marks a settlement wait that ran out the bounded
// window; the caller books the best-known profit instead of hanging.
var errSettlementTimeout = errors.New("settlement wait timed out")

// errHalted marks a settlement wait cut short by engine shutdown.
var errHalted = errors.New("engine stopping")

// settlementFeed is the slice of the feed manager the engine watches
// contract expiry through.
type settlementFeed interface {
	SubscribeContract(contractID int64) *feed.ContractSub
	UnsubscribeContract(sub *feed.ContractSub)
}

// positionTracker is the slice of the risk monitor the engine hands
// opened positions to.
type positionTracker interface {
	Track(result *broker.OrderResult, params broker.OrderParams)
	Positions() []risk.PositionInfo
}

// SignalRecord is one loop decision kept for the recent-signals view.
type SignalRecord struct {
	Time       time.Time `json:"time"`
	Side       string    `json:"side,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Reason     string    `json:"reason"`
	Accepted   bool      `json:"accepted"`
}

// Engine is the decision loop. One engine trades one symbol.
type Engine struct {
	cfg        config.TradingConfig
	strat      config.StrategyConfig
	gateway    broker.Gateway
	feed       settlementFeed
	tracker    positionTracker
	ledger     *risk.Ledger
	classifier *ml.OnlineClassifier
	ensemble   *ml.Ensemble
	snapshots  *ml.SnapshotStore
	evaluator  strategy.Evaluator
	bus        *events.EventBus
	logger     zerolog.Logger

	settlePoll time.Duration

	mu         sync.Mutex
	state      string
	lastReason string
	iterations int
	volBlock   int
	cooldown   int
	recent     []SignalRecord
	running    bool
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// NewEngine wires the decision loop. The evaluator named in the strategy
// config is built here; unknown names fail construction rather than
// falling back silently.
func NewEngine(cfg config.TradingConfig, strat config.StrategyConfig, gateway broker.Gateway, fd settlementFeed, tracker positionTracker, ledger *risk.Ledger, classifier *ml.OnlineClassifier, ensemble *ml.Ensemble, snapshots *ml.SnapshotStore, bus *events.EventBus, logger zerolog.Logger) (*Engine, error) {
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = 60
	}
	if cfg.Granularity <= 0 {
		cfg.Granularity = 60
	}
	if cfg.IterationCooldown <= 0 {
		cfg.IterationCooldown = 5 * time.Second
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = 5 * time.Minute
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = 5
	}
	if strat.VolatilityBlockIter <= 0 {
		strat.VolatilityBlockIter = 3
	}
	if strat.BaseConfidence <= 0 {
		strat.BaseConfidence = 0.55
	}
	if strat.EnsembleMinConf <= 0 {
		strat.EnsembleMinConf = 0.6
	}

	name := strat.Evaluator
	if name == "" {
		name = "hybrid"
	}
	evaluator, err := strategy.New(name, strat, classifier, ensemble)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		strat:      strat,
		gateway:    gateway,
		feed:       fd,
		tracker:    tracker,
		ledger:     ledger,
		classifier: classifier,
		ensemble:   ensemble,
		snapshots:  snapshots,
		evaluator:  evaluator,
		bus:        bus,
		logger:     logger.With().Str("component", "engine").Logger(),
		settlePoll: 2 * time.Second,
		state:      StateIdle,
	}, nil
}

// Start launches the decision loop. A hard-stopped engine can be started
// again; that is the external restart the stop states call for.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.running = true
	e.state = StateIdle
	e.lastReason = ""
	e.stopChan = make(chan struct{})
	stop := e.stopChan
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(stop)
	e.logger.Info().
		Str("symbol", e.cfg.Symbol).
		Str("evaluator", e.evaluator.Name()).
		Bool("paper", e.cfg.Paper).
		Msg("decision loop started")
	return nil
}

// Stop halts the loop and waits for the current iteration to unwind.
func (e *Engine) Stop() {
	e.mu.Lock()
	stop := e.stopChan
	e.stopChan = nil
	e.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	e.wg.Wait()
}

// Running reports whether the loop goroutine is alive.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status returns the loop's externally visible state. Always best-effort,
// valid whether or not the loop is running.
func (e *Engine) Status() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]interface{}{
		"state":       e.state,
		"last_reason": e.lastReason,
		"iterations":  e.iterations,
		"running":     e.running,
		"symbol":      e.cfg.Symbol,
		"evaluator":   e.evaluator.Name(),
		"paper":       e.cfg.Paper,
	}
}

// RecentSignals returns up to n of the newest decisions, most recent first.
func (e *Engine) RecentSignals(n int) []SignalRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.recent) {
		n = len(e.recent)
	}
	out := make([]SignalRecord, 0, n)
	for i := len(e.recent) - 1; i >= len(e.recent)-n; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

func (e *Engine) run(stop <-chan struct{}) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	for {
		select {
		case <-stop:
			e.setState(StateStopped, "stopped by operator")
			return
		default:
		}

		if halted := e.runIteration(stop); halted {
			return
		}

		select {
		case <-stop:
			e.setState(StateStopped, "stopped by operator")
			return
		case <-time.After(e.cfg.IterationCooldown):
		}
	}
}

// runIteration executes one loop pass, absorbing panics and errors so a
// bad candle fetch or evaluator bug never kills the loop. It reports
// whether the loop hit a terminal stop.
func (e *Engine) runIteration(stop <-chan struct{}) (halted bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("iteration panicked")
			e.setReason(fmt.Sprintf("iteration panic: %v", r))
		}
	}()

	halted, err := e.iterate(stop)
	if err != nil {
		e.logger.Warn().Err(err).Msg("iteration failed, retrying next cycle")
		e.bus.PublishError("engine", "iteration failed", err)
		e.setReason(err.Error())
	}
	return halted
}

func (e *Engine) iterate(stop <-chan struct{}) (bool, error) {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return true, nil
	}
	e.iterations++
	e.mu.Unlock()

	if e.cfg.DailyLossLimit > 0 {
		if pnl := e.ledger.DailyPnl(); pnl <= -e.cfg.DailyLossLimit {
			e.terminalStop(fmt.Sprintf("daily loss limit reached, pnl %.2f", pnl), "daily_loss_limit")
			return true, nil
		}
	}

	e.setState(StateEvaluating, "")

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	candles, err := e.gateway.History(ctx, e.cfg.Symbol, e.cfg.Granularity, e.cfg.CandleCount)
	cancel()
	if err != nil {
		e.setState(StateIdle, "")
		return false, fmt.Errorf("candle history: %w", err)
	}
	if len(candles) == 0 {
		e.setState(StateIdle, "")
		return false, errors.New("candle history came back empty")
	}
	closes := market.Closes(candles)

	if spike, movePct, dispersion := volatilitySpike(closes, e.strat.VolatilitySpikePct); spike {
		e.mu.Lock()
		e.volBlock = e.strat.VolatilityBlockIter
		e.mu.Unlock()
		reason := fmt.Sprintf("volatility spike, %.2f%% move over %d closes (stddev %.3f), blocking %d iterations",
			movePct, volatilityWindow, dispersion, e.strat.VolatilityBlockIter)
		e.reject("volatility", reason)
		e.setState(StateBlocked, reason)
		return false, nil
	}

	if gate, reason, blocked := e.consumeBlock(); blocked {
		e.reject(gate, reason)
		e.setState(StateBlocked, reason)
		return false, nil
	}

	adx, ok := indicator.LastValid(indicator.CalculateADX(market.Highs(candles), market.Lows(candles), closes, 14))
	if !ok {
		reason := "adx not defined yet"
		e.reject("technical", reason)
		e.setState(StateIdle, reason)
		return false, nil
	}
	if reason := technicalBlock(closes, adx, e.strat.ADXMin); reason != "" {
		e.reject("technical", reason)
		e.setState(StateBlocked, reason)
		return false, nil
	}

	features := ml.CandleFeatures(candles)
	if features == nil {
		e.reject("confidence", "not enough candles for a feature vector")
		e.setState(StateIdle, "")
		return false, nil
	}

	direction, confidence, sigReason, rejected := e.evaluateSignal(candles, features, adx)
	if rejected {
		e.setState(StateIdle, "")
		return false, nil
	}

	if len(e.tracker.Positions()) > 0 {
		e.reject("position_open", "a position is already open, holding")
		e.setState(StateIdle, "")
		return false, nil
	}

	e.recordSignal(SignalRecord{Time: time.Now(), Side: direction, Confidence: confidence, Reason: sigReason, Accepted: true})
	e.bus.PublishSignal(e.evaluator.Name(), e.cfg.Symbol, direction, sigReason, confidence)

	halted, err := e.placeAndSettle(stop, direction, features)
	if !halted {
		e.setState(StateIdle, "")
	}
	return halted, err
}

// consumeBlock burns one iteration off any active no-trade window and
// reports whether the loop is still blocked.
func (e *Engine) consumeBlock() (gate, reason string, blocked bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.volBlock > 0 {
		e.volBlock--
		return "volatility", fmt.Sprintf("volatility block active, %d iterations left", e.volBlock), true
	}
	if e.cooldown > 0 {
		e.cooldown--
		return "cooldown", fmt.Sprintf("loss cooldown active, %d iterations left", e.cooldown), true
	}
	return "", "", false
}

// evaluateSignal runs the layered signal chain: the online classifier
// proposes a direction over a regime-dependent confidence bar, the
// configured technical evaluator must independently agree, and the
// optional ensemble gate gets the last word. rejected=true means no
// trade this iteration (the reason is already booked).
func (e *Engine) evaluateSignal(candles []market.Candle, features []float64, adx float64) (direction string, confidence float64, reason string, rejected bool) {
	regime := strategy.ClassifyRegime(adx)

	direction, confidence = e.classifier.Predict(features)
	bar := confidenceBar(e.strat.BaseConfidence, regime)
	if confidence < bar {
		e.reject("confidence", fmt.Sprintf("classifier confidence %.2f below the %s bar %.2f", confidence, regime.Label, bar))
		return "", 0, "", true
	}

	sig, err := e.evaluator.Decide(candles, strategy.Context{
		Symbol:    e.cfg.Symbol,
		Timeframe: e.cfg.Granularity,
		Regime:    regime,
	})
	if err != nil {
		e.reject("corroboration", fmt.Sprintf("evaluator %s failed: %v", e.evaluator.Name(), err))
		return "", 0, "", true
	}
	if sig.IsNeutral() {
		e.reject("corroboration", "no technical corroboration: "+sig.Reason)
		return "", 0, "", true
	}
	if sig.Side != direction {
		e.reject("agreement", fmt.Sprintf("classifier says %s, technical check says %s, standing down", direction, sig.Side))
		return "", 0, "", true
	}

	if e.strat.EnsembleEnabled && e.ensemble != nil {
		score := e.ensemble.Score(features)
		if score.Direction != direction {
			e.reject("ensemble", fmt.Sprintf("ensemble direction %s disagrees with %s", score.Direction, direction))
			return "", 0, "", true
		}
		prob := score.ProbRise
		if direction == market.DirectionFall {
			prob = 1 - prob
		}
		minConf := confidenceBar(e.strat.EnsembleMinConf, regime)
		if prob < minConf {
			e.reject("ensemble", fmt.Sprintf("ensemble confidence %.2f below the %s bar %.2f", prob, regime.Label, minConf))
			return "", 0, "", true
		}
	}

	return direction, confidence, sig.Reason, false
}

// placeAndSettle buys one contract, hands it to the risk monitor and
// blocks until it settles or the bounded wait runs out.
func (e *Engine) placeAndSettle(stop <-chan struct{}, direction string, features []float64) (bool, error) {
	params := broker.OrderParams{
		Symbol:        e.cfg.Symbol,
		ContractType:  broker.ContractTypeForDirection(direction),
		Duration:      e.cfg.Duration,
		DurationUnit:  e.cfg.DurationUnit,
		Stake:         e.cfg.Stake,
		Currency:      e.cfg.Currency,
		TakeProfitUSD: e.cfg.TakeProfitUSD,
		StopLossUSD:   e.cfg.StopLossUSD,
	}

	ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	result, err := e.gateway.PlaceOrder(ctx, params)
	cancel()
	if err != nil {
		return false, fmt.Errorf("order rejected: %w", err)
	}

	metrics.OrdersTotal.WithLabelValues(e.cfg.Symbol, direction, e.gateway.Mode()).Inc()
	e.bus.PublishTradeOpened(result.ContractID, e.cfg.Symbol, direction, params.Stake, result.BuyPrice)
	e.tracker.Track(result, params)
	e.logger.Info().
		Int64("contract_id", result.ContractID).
		Str("direction", direction).
		Float64("stake", params.Stake).
		Float64("buy_price", result.BuyPrice).
		Msg("order placed")

	e.setState(StateSettling, "")
	profit, err := e.awaitSettlement(stop, result.ContractID)
	switch {
	case errors.Is(err, errHalted):
		// Shutdown mid-wait: the monitor still tracks the position and
		// books it when it closes.
		return false, nil
	case errors.Is(err, errSettlementTimeout):
		e.logger.Warn().
			Int64("contract_id", result.ContractID).
			Float64("best_known_profit", profit).
			Msg("settlement wait timed out, booking best-known profit")
	}

	return e.settle(result.ContractID, direction, profit, features), nil
}

// awaitSettlement waits for the contract to close: update frames first,
// a polling fallback when frames stop arriving, and a bounded total wait
// so settlement ambiguity can never hang the loop.
func (e *Engine) awaitSettlement(stop <-chan struct{}, contractID int64) (float64, error) {
	sub := e.feed.SubscribeContract(contractID)
	defer e.feed.UnsubscribeContract(sub)

	deadline := time.NewTimer(e.cfg.SettlementTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(e.settlePoll)
	defer poll.Stop()

	frames := sub.C
	best := 0.0
	for {
		select {
		case <-stop:
			return best, errHalted
		case state, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			best = state.Profit
			if state.Closed() {
				return state.Profit, nil
			}
		case <-poll.C:
			ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
			state, err := e.gateway.ContractStatus(ctx, contractID)
			cancel()
			if err != nil || state == nil {
				continue
			}
			best = state.Profit
			if state.Closed() {
				return state.Profit, nil
			}
		case <-deadline.C:
			return best, errSettlementTimeout
		}
	}
}

// settle books one finished trade, feeds the outcome to the online
// classifier and applies the hard-stop policy. Returns true when the
// consecutive-loss limit was hit and the loop must terminate.
func (e *Engine) settle(contractID int64, direction string, profit float64, features []float64) bool {
	if e.ledger.RecordSettlement(contractID, profit) {
		status := "lost"
		if profit > 0 {
			status = "won"
		}
		e.bus.PublishTradeClosed(contractID, e.cfg.Symbol, profit, status, "expired")
	}

	// The training label is the direction the market actually went,
	// learned one trade at a time.
	if features != nil {
		actual := direction
		if profit <= 0 {
			actual = oppositeDirection(direction)
		}
		e.classifier.Update(features, actual)
		if e.snapshots != nil {
			if err := e.snapshots.Save("classifier", e.classifier.Snapshot()); err != nil {
				e.logger.Warn().Err(err).Msg("classifier snapshot failed")
			}
		}
	}

	streak := e.ledger.ConsecutiveLosses()
	if profit <= 0 && e.cfg.LossCooldownIters > 0 {
		e.mu.Lock()
		e.cooldown = e.cfg.LossCooldownIters
		e.mu.Unlock()
	}

	e.setReason(fmt.Sprintf("settled contract %d, profit %.2f", contractID, profit))
	e.logger.Info().
		Int64("contract_id", contractID).
		Float64("profit", profit).
		Int("loss_streak", streak).
		Msg("trade settled")

	if streak >= e.cfg.MaxConsecutiveLosses {
		e.terminalStop(fmt.Sprintf("%d consecutive losses", streak), "max_consecutive_losses")
		return true
	}
	return false
}

// terminalStop parks the loop in the stopped state; only an external
// Start call resumes trading.
func (e *Engine) terminalStop(reason, cause string) {
	e.setState(StateStopped, reason)
	e.bus.PublishEngineStopped(e.cfg.Symbol, cause)
	e.logger.Error().Str("cause", cause).Msg(reason)
}

// reject books one gate rejection: counted, published, kept in the
// recent-signals ring and surfaced as lastReason.
func (e *Engine) reject(gate, reason string) {
	metrics.GateRejectionsTotal.WithLabelValues(gate).Inc()
	e.bus.PublishSignalRejected(e.cfg.Symbol, gate, reason)
	e.recordSignal(SignalRecord{Time: time.Now(), Reason: reason, Accepted: false})
	e.setReason(reason)
	e.logger.Debug().Str("gate", gate).Msg(reason)
}

func (e *Engine) recordSignal(rec SignalRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent = append(e.recent, rec)
	if len(e.recent) > recentSignalCap {
		e.recent = e.recent[len(e.recent)-recentSignalCap:]
	}
}

func (e *Engine) setState(state, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	if reason != "" {
		e.lastReason = reason
	}
}

func (e *Engine) setReason(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastReason = reason
}

func oppositeDirection(direction string) string {
	if direction == market.DirectionRise {
		return market.DirectionFall
	}
	return market.DirectionRise
}
