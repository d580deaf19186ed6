package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/market"
	"deriv-trading-bot/internal/metrics"
)

var (
	// ErrTimeout is returned when a correlated request gets no response
	// within its deadline. The pending slot is always released.
	ErrTimeout = errors.New("feed: request timed out")

	// ErrNotConnected is returned when a request is attempted while the
	// socket is down.
	ErrNotConnected = errors.New("feed: not connected")

	// ErrShutdown is returned to callers blocked in SendAndAwait when the
	// manager is closed.
	ErrShutdown = errors.New("feed: manager is shut down")
)

// staleAfter is how long the socket may stay silent before the watchdog
// forces a reconnect.
const staleAfter = 90 * time.Second

// wsConn is the subset of *websocket.Conn the manager uses. Tests inject a
// scripted implementation through the dial hook.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, endpoint string) (wsConn, error)

func gorillaDial(ctx context.Context, endpoint string) (wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// AccountInfo holds the metadata returned by a successful authorization.
type AccountInfo struct {
	LoginID        string  `json:"loginid"`
	Currency       string  `json:"currency"`
	LandingCompany string  `json:"landing_company"`
	Balance        float64 `json:"balance"`
}

// Status is a point-in-time snapshot of the connection state.
type Status struct {
	Connected     bool        `json:"connected"`
	Authenticated bool        `json:"authenticated"`
	Endpoint      string      `json:"endpoint"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	TerminalError string      `json:"terminal_error,omitempty"`
	Account       AccountInfo `json:"account"`
}

// Manager owns the single broker socket: it dials with backoff, runs the
// one reader goroutine that dispatches every inbound frame, correlates
// request/response pairs by req_id, fans ticks and contract updates out to
// local subscribers, and re-establishes session state after a reconnect.
type Manager struct {
	cfg    config.FeedConfig
	logger zerolog.Logger
	bus    *events.EventBus
	store  *market.Store

	dial dialFunc

	mu            sync.RWMutex
	conn          wsConn
	connected     bool
	authenticated bool
	terminalErr   error
	lastFrame     time.Time
	lastHeartbeat time.Time
	account       AccountInfo

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan json.RawMessage

	subs *subRegistry

	posMu     sync.RWMutex
	positions map[int64]ContractState

	reqSeq   atomic.Int64
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a feed manager. Ticks for subscribed symbols are also
// recorded into store when one is provided.
func NewManager(cfg config.FeedConfig, store *market.Store, bus *events.EventBus, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger.With().Str("component", "feed").Logger(),
		bus:       bus,
		store:     store,
		dial:      gorillaDial,
		pending:   make(map[int64]chan json.RawMessage),
		subs:      newSubRegistry(cfg.QueueSize),
		positions: make(map[int64]ContractState),
		stopChan:  make(chan struct{}),
	}
}

func (m *Manager) endpointURL() string {
	if m.cfg.AppID == "" {
		return m.cfg.Endpoint
	}
	return m.cfg.Endpoint + "?app_id=" + m.cfg.AppID
}

// Connect dials the broker, starts the reader and watchdog goroutines and,
// when a token is configured, authorizes the session. Dial attempts use
// exponential backoff with jitter up to the configured attempt bound; an
// exhausted bound is recorded as the terminal error and returned.
func (m *Manager) Connect(ctx context.Context) error {
	conn, err := m.dialWithBackoff(ctx)
	if err != nil {
		m.mu.Lock()
		m.terminalErr = err
		m.mu.Unlock()
		return err
	}

	m.adopt(conn)
	m.wg.Add(2)
	go m.run(ctx, conn)
	go m.watchdog()

	if err := m.establishSession(ctx); err != nil {
		m.Close()
		return fmt.Errorf("feed: session setup failed: %w", err)
	}
	m.logger.Info().Str("endpoint", m.cfg.Endpoint).Msg("Feed connected")
	return nil
}

// run keeps the connection alive: it blocks in the read loop and, whenever
// the loop exits, tears the session down and dials again. It only returns
// on shutdown or when a reconnect exhausts its attempt bound.
func (m *Manager) run(ctx context.Context, conn wsConn) {
	defer m.wg.Done()

	current := conn
	for {
		m.readLoop(current)
		m.dropConn("read loop exited")

		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.BackoffBase):
		}

		metrics.ReconnectsTotal.Inc()
		next, err := m.dialWithBackoff(ctx)
		if err != nil {
			m.mu.Lock()
			m.terminalErr = err
			m.mu.Unlock()
			m.logger.Error().Err(err).Msg("Feed reconnect attempts exhausted")
			if m.bus != nil {
				m.bus.PublishFeedStatus(false, "reconnect attempts exhausted")
			}
			return
		}

		m.adopt(next)
		if err := m.establishSession(ctx); err != nil {
			// Transient failures resolve on the next cycle; a revoked
			// token keeps the manager cycling with connected=false.
			m.logger.Error().Err(err).Msg("Feed session setup failed after reconnect")
			next.Close()
		} else {
			m.logger.Info().Msg("Feed reconnected")
		}
		current = next
	}
}

func (m *Manager) dialWithBackoff(ctx context.Context) (wsConn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.BackoffBase
	policy.MaxInterval = m.cfg.BackoffCap
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0.2
	policy.MaxElapsedTime = 0

	var conn wsConn
	attempts := 0
	operation := func() error {
		select {
		case <-m.stopChan:
			return backoff.Permanent(ErrShutdown)
		default:
		}

		attempts++
		c, err := m.dial(ctx, m.endpointURL())
		if err != nil {
			m.logger.Warn().Err(err).Int("attempt", attempts).Msg("Feed dial failed")
			if m.cfg.MaxConnectRetries > 0 && attempts >= m.cfg.MaxConnectRetries {
				return backoff.Permanent(fmt.Errorf("feed: %d dial attempts failed: %w", attempts, err))
			}
			return err
		}
		conn = c
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

// establishSession authorizes when a token is configured and replays the
// desired upstream subscriptions. Called after every successful dial.
func (m *Manager) establishSession(ctx context.Context) error {
	if m.cfg.Token != "" {
		if err := m.authenticate(ctx); err != nil {
			return err
		}
	}
	m.replaySubscriptions()
	return nil
}

func (m *Manager) authenticate(ctx context.Context) error {
	resp, err := m.SendAndAwait(ctx, authorizeRequest(m.cfg.Token), m.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	frame, err := parseFrame(resp)
	if err != nil {
		return err
	}
	if frame.Error != nil {
		return frame.Error
	}
	m.applyAuthorize(frame.Authorize)
	return nil
}

func (m *Manager) applyAuthorize(auth *authorizePayload) {
	if auth == nil {
		return
	}
	m.mu.Lock()
	m.authenticated = true
	m.account = AccountInfo{
		LoginID:        auth.LoginID,
		Currency:       auth.Currency,
		LandingCompany: auth.LandingCompanyName,
		Balance:        auth.Balance,
	}
	m.mu.Unlock()
	m.logger.Info().
		Str("loginid", auth.LoginID).
		Str("currency", auth.Currency).
		Str("landing_company", auth.LandingCompanyName).
		Msg("Feed authorized")
}

func (m *Manager) replaySubscriptions() {
	symbols, contracts := m.subs.desired()
	for _, symbol := range symbols {
		if err := m.writeJSON(ticksRequest(symbol)); err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("Tick resubscribe failed")
		}
	}
	for _, id := range contracts {
		if err := m.writeJSON(contractSubscribeRequest(id)); err != nil {
			m.logger.Warn().Err(err).Int64("contract_id", id).Msg("Contract resubscribe failed")
		}
	}
}

func (m *Manager) adopt(conn wsConn) {
	m.mu.Lock()
	m.conn = conn
	m.connected = true
	m.terminalErr = nil
	m.lastFrame = time.Now()
	m.mu.Unlock()
	metrics.FeedConnected.Set(1)
	if m.bus != nil {
		m.bus.PublishFeedStatus(true, "connected")
	}
}

func (m *Manager) dropConn(reason string) {
	m.mu.Lock()
	wasConnected := m.connected
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.conn = nil
	m.connected = false
	m.authenticated = false
	m.mu.Unlock()

	if !wasConnected {
		return
	}
	metrics.FeedConnected.Set(0)
	if m.bus != nil {
		m.bus.PublishFeedStatus(false, reason)
	}
}

// readLoop is the single reader. It returns when the socket errors, which
// includes the watchdog or shutdown closing it.
func (m *Manager) readLoop(conn wsConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-m.stopChan:
			default:
				m.logger.Warn().Err(err).Msg("Feed read failed")
			}
			return
		}
		m.dispatch(data)
	}
}

// dispatch guards frame handling: a panic while handling one frame closes
// the socket so the run loop reconnects, instead of killing the reader.
func (m *Manager) dispatch(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("Feed dispatch panicked, forcing reconnect")
			m.forceClose()
		}
	}()
	m.handleFrame(data)
}

func (m *Manager) forceClose() {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) handleFrame(data []byte) {
	frame, err := parseFrame(data)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Feed frame parse failed")
		metrics.DroppedMessagesTotal.WithLabelValues("unparseable").Inc()
		return
	}

	m.mu.Lock()
	m.lastFrame = time.Now()
	m.mu.Unlock()
	metrics.FramesTotal.WithLabelValues(frame.MsgType).Inc()

	// Correlated responses resolve their waiting caller and are not
	// broadcast. A late duplicate finds no slot and falls through to the
	// msg_type branches, where nothing claims it.
	if frame.ReqID != 0 {
		if ch, ok := m.takePending(frame.ReqID); ok {
			ch <- json.RawMessage(data)
			return
		}
	}

	switch frame.MsgType {
	case "tick":
		if frame.Tick == nil {
			return
		}
		tick := market.Tick{
			Symbol:    frame.Tick.Symbol,
			Price:     frame.Tick.Quote,
			Timestamp: frame.Tick.Epoch,
			Bid:       frame.Tick.Bid,
			Ask:       frame.Tick.Ask,
		}
		metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
		if m.store != nil {
			m.store.Record(tick)
		}
		m.subs.fanOutTick(tick)

	case "proposal_open_contract":
		if frame.Contract == nil || frame.Contract.ContractID == 0 {
			return
		}
		state := *frame.Contract
		m.posMu.Lock()
		m.positions[state.ContractID] = state
		m.posMu.Unlock()
		m.subs.fanOutContract(state)

	case "heartbeat":
		m.mu.Lock()
		m.lastHeartbeat = time.Now()
		m.mu.Unlock()

	case "authorize":
		if frame.Error != nil {
			m.logger.Error().Str("code", frame.Error.Code).Str("message", frame.Error.Message).Msg("Feed authorization rejected")
			return
		}
		m.applyAuthorize(frame.Authorize)

	default:
		if frame.Error != nil {
			m.logger.Error().Str("code", frame.Error.Code).Str("message", frame.Error.Message).Msg("Feed error frame")
			return
		}
		m.logger.Debug().Str("msg_type", frame.MsgType).Msg("Feed frame unhandled")
		metrics.DroppedMessagesTotal.WithLabelValues("unhandled").Inc()
	}
}

func (m *Manager) takePending(reqID int64) (chan json.RawMessage, bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	ch, ok := m.pending[reqID]
	if ok {
		delete(m.pending, reqID)
	}
	return ch, ok
}

// SendAndAwait stamps the payload with a fresh req_id, sends it and blocks
// until the matching response, the timeout, context cancellation or
// shutdown. The pending slot is released on every path.
func (m *Manager) SendAndAwait(ctx context.Context, payload map[string]interface{}, timeout time.Duration) (json.RawMessage, error) {
	select {
	case <-m.stopChan:
		return nil, ErrShutdown
	default:
	}
	if !m.IsConnected() {
		return nil, ErrNotConnected
	}
	if timeout <= 0 {
		timeout = m.cfg.RequestTimeout
	}

	reqID := m.reqSeq.Add(1)
	payload["req_id"] = reqID
	ch := make(chan json.RawMessage, 1)

	m.pendingMu.Lock()
	m.pending[reqID] = ch
	m.pendingMu.Unlock()
	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, reqID)
		m.pendingMu.Unlock()
	}()

	if err := m.writeJSON(payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		metrics.RequestTimeoutsTotal.Inc()
		return nil, fmt.Errorf("%w after %s (req_id %d)", ErrTimeout, timeout, reqID)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.stopChan:
		return nil, ErrShutdown
	}
}

func (m *Manager) writeJSON(payload interface{}) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SubscribeTicks registers a local tick queue for symbol. The first local
// subscriber triggers the upstream subscribe frame; later ones share it.
// When the socket is down the desired subscription is still recorded and
// replayed after reconnect.
func (m *Manager) SubscribeTicks(symbol string) *TickSub {
	sub, needUpstream := m.subs.addTick(symbol)
	if needUpstream {
		if err := m.writeJSON(ticksRequest(symbol)); err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("Tick subscribe deferred until reconnect")
		}
	}
	return sub
}

// SubscribeContract registers a local queue for contract update frames.
func (m *Manager) SubscribeContract(contractID int64) *ContractSub {
	sub, needUpstream := m.subs.addContract(contractID)
	if needUpstream {
		if err := m.writeJSON(contractSubscribeRequest(contractID)); err != nil {
			m.logger.Warn().Err(err).Int64("contract_id", contractID).Msg("Contract subscribe deferred until reconnect")
		}
	}
	return sub
}

// UnsubscribeTicks removes one local queue. The upstream subscription stays
// active for future subscribers.
func (m *Manager) UnsubscribeTicks(sub *TickSub) {
	m.subs.removeTick(sub)
}

// UnsubscribeContract removes one local contract queue.
func (m *Manager) UnsubscribeContract(sub *ContractSub) {
	m.subs.removeContract(sub)
}

// LastPosition returns the most recent contract state seen for the id.
func (m *Manager) LastPosition(contractID int64) (ContractState, bool) {
	m.posMu.RLock()
	defer m.posMu.RUnlock()
	state, ok := m.positions[contractID]
	return state, ok
}

// IsConnected reports whether the socket is currently up.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Account returns the authorized account metadata.
func (m *Manager) Account() AccountInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		Connected:     m.connected,
		Authenticated: m.authenticated,
		Endpoint:      m.cfg.Endpoint,
		LastHeartbeat: m.lastHeartbeat,
		Account:       m.account,
	}
	if m.terminalErr != nil {
		status.TerminalError = m.terminalErr.Error()
	}
	return status
}

// GetStats returns connection statistics for the status API.
func (m *Manager) GetStats() map[string]interface{} {
	m.pendingMu.Lock()
	pending := len(m.pending)
	m.pendingMu.Unlock()

	m.posMu.RLock()
	tracked := len(m.positions)
	m.posMu.RUnlock()

	status := m.Status()
	return map[string]interface{}{
		"connected":         status.Connected,
		"authenticated":     status.Authenticated,
		"endpoint":          status.Endpoint,
		"last_heartbeat":    status.LastHeartbeat,
		"terminal_error":    status.TerminalError,
		"pending_requests":  pending,
		"tracked_contracts": tracked,
	}
}

// watchdog forces a reconnect when the socket goes silent.
func (m *Manager) watchdog() {
	defer m.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.mu.RLock()
			connected := m.connected
			stale := time.Since(m.lastFrame) > staleAfter
			conn := m.conn
			m.mu.RUnlock()

			if connected && stale && conn != nil {
				m.logger.Warn().Dur("stale_for", staleAfter).Msg("Feed silent, forcing reconnect")
				_ = conn.Close()
			}
		}
	}
}

// Close shuts the manager down: blocked SendAndAwait callers receive
// ErrShutdown, the socket is closed and local queues are closed.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.dropConn("shutdown")
		m.subs.closeAll()
		m.wg.Wait()
		m.logger.Info().Msg("Feed closed")
	})
}
