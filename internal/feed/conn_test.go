package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/market"
)

// fakeConn is a scripted socket: frames pushed to in are delivered to the
// read loop, writes are recorded for inspection.
type fakeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errors.New("fake conn closed")
	}
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("fake conn closed")
	default:
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.mu.Lock()
	f.writes = append(f.writes, buf)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// framesWithKey counts recorded writes that carry the given top-level key.
func (f *fakeConn) framesWithKey(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, w := range f.writes {
		var payload map[string]interface{}
		if err := json.Unmarshal(w, &payload); err != nil {
			continue
		}
		if _, ok := payload[key]; ok {
			count++
		}
	}
	return count
}

func testFeedConfig() config.FeedConfig {
	return config.FeedConfig{
		Endpoint:          "wss://example.test/ws",
		MaxConnectRetries: 3,
		BackoffBase:       10 * time.Millisecond,
		BackoffCap:        20 * time.Millisecond,
		RequestTimeout:    200 * time.Millisecond,
		QueueSize:         8,
		TickBufferSize:    64,
	}
}

// connectedManager wires a manager to a sequence of fake conns. Each
// disconnect consumes the next conn from the list.
func connectedManager(t *testing.T, conns ...*fakeConn) *Manager {
	t.Helper()

	m := NewManager(testFeedConfig(), market.NewStore(64), nil, zerolog.Nop())
	var mu sync.Mutex
	next := 0
	m.dial = func(ctx context.Context, endpoint string) (wsConn, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(conns) {
			return nil, errors.New("no more fake conns")
		}
		c := conns[next]
		next++
		return c, nil
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

// Test that a correlated response resolves exactly one waiting caller and a
// late duplicate of the same frame is dropped without being re-delivered.
func TestDispatchResolvesPendingOnce(t *testing.T) {
	m := NewManager(testFeedConfig(), nil, nil, zerolog.Nop())

	ch := make(chan json.RawMessage, 1)
	m.pendingMu.Lock()
	m.pending[42] = ch
	m.pendingMu.Unlock()

	frame := []byte(`{"msg_type":"buy","req_id":42,"buy":{"contract_id":901,"buy_price":1.0}}`)
	m.handleFrame(frame)

	select {
	case resp := <-ch:
		var parsed map[string]interface{}
		if err := json.Unmarshal(resp, &parsed); err != nil {
			t.Fatalf("response not valid JSON: %v", err)
		}
		if parsed["msg_type"] != "buy" {
			t.Errorf("expected buy response, got %v", parsed["msg_type"])
		}
	default:
		t.Fatal("pending request was not resolved")
	}

	m.pendingMu.Lock()
	remaining := len(m.pending)
	m.pendingMu.Unlock()
	if remaining != 0 {
		t.Errorf("expected pending map to be empty, have %d entries", remaining)
	}

	// The duplicate must not panic and must not deliver again.
	m.handleFrame(frame)
	select {
	case <-ch:
		t.Error("late duplicate was delivered to the resolved slot")
	default:
	}
}

// Test that SendAndAwait times out with ErrTimeout and releases its slot.
func TestSendAndAwaitTimeout(t *testing.T) {
	conn := newFakeConn()
	m := connectedManager(t, conn)

	_, err := m.SendAndAwait(context.Background(), map[string]interface{}{"ping": 1}, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	m.pendingMu.Lock()
	remaining := len(m.pending)
	m.pendingMu.Unlock()
	if remaining != 0 {
		t.Errorf("timed-out request left %d pending slots", remaining)
	}
}

// Test that repeated local subscriptions to one symbol send a single
// upstream frame while every local queue receives the ticks.
func TestSubscribeTicksIdempotentUpstream(t *testing.T) {
	conn := newFakeConn()
	m := connectedManager(t, conn)

	subA := m.SubscribeTicks("R_100")
	subB := m.SubscribeTicks("R_100")
	subC := m.SubscribeTicks("R_100")

	if got := conn.framesWithKey("ticks"); got != 1 {
		t.Fatalf("expected 1 upstream ticks frame, got %d", got)
	}

	conn.in <- []byte(`{"msg_type":"tick","tick":{"symbol":"R_100","quote":101.5,"epoch":1700000000,"bid":101.4,"ask":101.6}}`)

	for i, sub := range []*TickSub{subA, subB, subC} {
		select {
		case tick := <-sub.C:
			if tick.Price != 101.5 || tick.Symbol != "R_100" {
				t.Errorf("subscriber %d got wrong tick: %+v", i, tick)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the tick", i)
		}
	}
}

// Test that unsubscribing one local queue keeps the upstream subscription
// and the remaining queues working.
func TestUnsubscribeKeepsUpstream(t *testing.T) {
	conn := newFakeConn()
	m := connectedManager(t, conn)

	subA := m.SubscribeTicks("R_50")
	subB := m.SubscribeTicks("R_50")
	m.UnsubscribeTicks(subA)

	symbols, _ := m.subs.desired()
	if len(symbols) != 1 || symbols[0] != "R_50" {
		t.Fatalf("upstream subscription lost after local unsubscribe: %v", symbols)
	}

	conn.in <- []byte(`{"msg_type":"tick","tick":{"symbol":"R_50","quote":99.0,"epoch":1700000001}}`)
	select {
	case tick := <-subB.C:
		if tick.Price != 99.0 {
			t.Errorf("remaining subscriber got wrong tick: %+v", tick)
		}
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber never received the tick")
	}
}

// Test that a full local queue drops the newest message instead of
// blocking the dispatcher.
func TestFullQueueDropsNewest(t *testing.T) {
	reg := newSubRegistry(2)
	sub, _ := reg.addTick("R_10")

	for i := 0; i < 3; i++ {
		reg.fanOutTick(market.Tick{Symbol: "R_10", Price: float64(100 + i), Timestamp: int64(i)})
	}

	first := <-sub.C
	second := <-sub.C
	if first.Price != 100 || second.Price != 101 {
		t.Errorf("expected oldest ticks to survive, got %.0f and %.0f", first.Price, second.Price)
	}
	select {
	case tick := <-sub.C:
		t.Errorf("expected newest tick dropped, but received %.0f", tick.Price)
	default:
	}
}

// Test that a dropped connection is re-dialed and desired subscriptions are
// replayed on the new socket.
func TestReconnectReplaysSubscriptions(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	m := connectedManager(t, first, second)

	sub := m.SubscribeTicks("R_100")
	if got := first.framesWithKey("ticks"); got != 1 {
		t.Fatalf("expected subscribe frame on first conn, got %d", got)
	}

	first.Close()

	deadline := time.After(3 * time.Second)
	for second.framesWithKey("ticks") == 0 {
		select {
		case <-deadline:
			t.Fatal("subscription was not replayed on the new connection")
		case <-time.After(10 * time.Millisecond):
		}
	}

	second.in <- []byte(`{"msg_type":"tick","tick":{"symbol":"R_100","quote":102.0,"epoch":1700000002}}`)
	select {
	case tick := <-sub.C:
		if tick.Price != 102.0 {
			t.Errorf("tick after reconnect has wrong price: %+v", tick)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received a tick after reconnect")
	}
}

// Test that contract update frames refresh the shared last-known map.
func TestContractUpdateSharedMap(t *testing.T) {
	m := NewManager(testFeedConfig(), nil, nil, zerolog.Nop())

	m.handleFrame([]byte(`{"msg_type":"proposal_open_contract","proposal_open_contract":{"contract_id":7001,"profit":0.42,"buy_price":1.0,"status":"open"}}`))

	state, ok := m.LastPosition(7001)
	if !ok {
		t.Fatal("contract state missing from shared map")
	}
	if state.Profit != 0.42 || state.Status != "open" {
		t.Errorf("unexpected contract state: %+v", state)
	}

	if _, ok := m.LastPosition(9999); ok {
		t.Error("unknown contract id should not resolve")
	}
}

// Test that Close unblocks callers waiting in SendAndAwait.
func TestCloseFailsPendingRequests(t *testing.T) {
	conn := newFakeConn()
	m := connectedManager(t, conn)

	result := make(chan error, 1)
	go func() {
		_, err := m.SendAndAwait(context.Background(), map[string]interface{}{"ping": 1}, 5*time.Second)
		result <- err
	}()

	time.Sleep(50 * time.Millisecond)
	m.Close()

	select {
	case err := <-result:
		if !errors.Is(err, ErrShutdown) {
			t.Errorf("expected ErrShutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SendAndAwait still blocked after Close")
	}
}

// Test that error and heartbeat frames are absorbed by the dispatcher.
func TestDispatchAbsorbsErrorAndHeartbeat(t *testing.T) {
	m := NewManager(testFeedConfig(), nil, nil, zerolog.Nop())

	m.handleFrame([]byte(`{"msg_type":"error","error":{"code":"RateLimit","message":"too many requests"}}`))
	m.handleFrame([]byte(`not json at all`))
	m.handleFrame([]byte(`{"msg_type":"heartbeat"}`))

	m.mu.RLock()
	heartbeat := m.lastHeartbeat
	m.mu.RUnlock()
	if heartbeat.IsZero() {
		t.Error("heartbeat frame did not record a timestamp")
	}
}

// Test that an uncorrelated authorize frame records account metadata.
func TestAuthorizeFrameRecordsAccount(t *testing.T) {
	m := NewManager(testFeedConfig(), nil, nil, zerolog.Nop())

	m.handleFrame([]byte(`{"msg_type":"authorize","authorize":{"loginid":"CR123","currency":"USD","landing_company_name":"svg","balance":250.5}}`))

	account := m.Account()
	if account.Currency != "USD" || account.LoginID != "CR123" {
		t.Errorf("unexpected account metadata: %+v", account)
	}
	if !m.Status().Authenticated {
		t.Error("authorize frame did not mark the session authenticated")
	}
}
