package api

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"deriv-trading-bot/internal/feed"
	"deriv-trading-bot/internal/market"
)

func dialWS(t *testing.T, rig *testRig, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(rig.http.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading websocket message: %v", err)
	}
	return msg
}

func waitForCondition(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// The tick stream acknowledges the subscription, dedupes symbols, relays
// ticks with their quote fields, and unsubscribes when the client leaves.
func TestTickSocketStreamsSubscribedSymbols(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := dialWS(t, rig, "/ws/ticks")

	if err := conn.WriteJSON(map[string]interface{}{
		"symbols": []string{"R_100", "R_100", ""},
	}); err != nil {
		t.Fatalf("sending subscription: %v", err)
	}

	ack := readWS(t, conn)
	if ack["type"] != "subscribed" {
		t.Fatalf("first message type = %v, want subscribed", ack["type"])
	}
	symbols, ok := ack["symbols"].([]interface{})
	if !ok || len(symbols) != 1 || symbols[0] != "R_100" {
		t.Errorf("acknowledged symbols = %v, want [R_100]", ack["symbols"])
	}

	rig.feed.mu.Lock()
	subs := rig.feed.tickSubs
	rig.feed.mu.Unlock()
	if subs != 1 {
		t.Errorf("feed subscriptions = %d, want 1 after dedupe", subs)
	}

	rig.feed.tickCh <- market.Tick{Symbol: "R_100", Price: 123.45, Timestamp: 1700000000, Bid: 123.4, Ask: 123.5}

	tick := readWS(t, conn)
	if tick["type"] != "tick" {
		t.Fatalf("message type = %v, want tick", tick["type"])
	}
	if tick["symbol"] != "R_100" {
		t.Errorf("tick symbol = %v, want R_100", tick["symbol"])
	}
	if tick["price"] != float64(123.45) {
		t.Errorf("tick price = %v, want 123.45", tick["price"])
	}
	if tick["ask"] != float64(123.5) {
		t.Errorf("tick ask = %v, want 123.5", tick["ask"])
	}
	if tick["timestamp"] != float64(1700000000) {
		t.Errorf("tick timestamp = %v, want 1700000000", tick["timestamp"])
	}

	conn.Close()
	waitForCondition(t, "tick unsubscribe", func() bool {
		rig.feed.mu.Lock()
		defer rig.feed.mu.Unlock()
		return rig.feed.tickUnsubs == 1
	})
}

// A subscription without symbols is a policy violation close, not a hang.
func TestTickSocketRejectsEmptySubscription(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := dialWS(t, rig, "/ws/ticks")

	if err := conn.WriteJSON(map[string]interface{}{"symbols": []string{}}); err != nil {
		t.Fatalf("sending subscription: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("read error = %v, want a policy violation close", err)
	}
}

// The contract stream replays the last known state on connect, relays
// updates, and ends with a normal closure once the contract is closed.
func TestContractSocketReplaysSnapshotAndCloses(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.feed.mu.Lock()
	rig.feed.last[42] = feed.ContractState{ContractID: 42, Status: "open", Profit: 0.10, BuyPrice: 1.0}
	rig.feed.mu.Unlock()

	conn := dialWS(t, rig, "/ws/contract/42")

	snapshot := readWS(t, conn)
	if snapshot["type"] != "contract" {
		t.Fatalf("first message type = %v, want contract", snapshot["type"])
	}
	if snapshot["contract_id"] != float64(42) {
		t.Errorf("snapshot contract_id = %v, want 42", snapshot["contract_id"])
	}
	if snapshot["status"] != "open" {
		t.Errorf("snapshot status = %v, want open", snapshot["status"])
	}

	rig.feed.contractCh <- feed.ContractState{ContractID: 42, Status: "won", Profit: 0.95, IsExpired: 1}

	final := readWS(t, conn)
	if final["status"] != "won" {
		t.Errorf("final status = %v, want won", final["status"])
	}
	if final["is_expired"] != float64(1) {
		t.Errorf("final is_expired = %v, want 1", final["is_expired"])
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read error = %v, want a normal closure after the contract closed", err)
	}
}

// Non-numeric contract ids fail the handshake with a client error.
func TestContractSocketRejectsBadID(t *testing.T) {
	rig := newTestRig(t, nil)

	url := "ws" + strings.TrimPrefix(rig.http.URL, "http") + "/ws/contract/abc"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("handshake succeeded for a non-numeric contract id")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Errorf("handshake response = %v, want status 400", resp)
	}
}

// Bus events reach /ws/events clients after the connected greeting.
func TestEventSocketReceivesBusEvents(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := dialWS(t, rig, "/ws/events")

	greeting := readWS(t, conn)
	if greeting["type"] != "connected" {
		t.Fatalf("greeting type = %v, want connected", greeting["type"])
	}

	rig.bus.PublishTradeClosed(7, "R_100", 0.95, "won", "expired")

	event := readWS(t, conn)
	if event["type"] != "TRADE_CLOSED" {
		t.Fatalf("event type = %v, want TRADE_CLOSED", event["type"])
	}
	data, ok := event["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("event carries no data object: %v", event)
	}
	if data["contract_id"] != float64(7) {
		t.Errorf("event contract_id = %v, want 7", data["contract_id"])
	}
	if data["profit"] != float64(0.95) {
		t.Errorf("event profit = %v, want 0.95", data["profit"])
	}
	if data["trigger"] != "expired" {
		t.Errorf("event trigger = %v, want expired", data["trigger"])
	}
}
