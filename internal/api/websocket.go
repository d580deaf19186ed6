package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/feed"
	"deriv-trading-bot/internal/market"
	"deriv-trading-bot/internal/metrics"
)

const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second

	// wsPingPeriod is the idle heartbeat interval on the stream sockets.
	wsPingPeriod = 15 * time.Second

	// wsPongWait is how long an event hub client may stay silent.
	wsPongWait = 60 * time.Second

	// wsSendQueue bounds every per-client outbound queue. When it is full
	// the newest frame is dropped so one slow browser tab cannot stall
	// the producers.
	wsSendQueue = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local operator surface, origin checks add nothing here.
		return true
	},
}

// ============================================================================
// EVENT HUB
// ============================================================================

// wsClient is one /ws/events subscriber.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// eventHub fans bus events out to every connected /ws/events client. The
// run goroutine owns the client set; handlers talk to it over channels.
type eventHub struct {
	logger zerolog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	done       chan struct{}
	stopOnce   sync.Once

	clients map[*wsClient]struct{}
}

func newEventHub(bus *events.EventBus, logger zerolog.Logger) *eventHub {
	h := &eventHub{
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 4096),
		done:       make(chan struct{}),
		clients:    make(map[*wsClient]struct{}),
	}

	bus.SubscribeAll(func(e events.Event) {
		payload, err := json.Marshal(e)
		if err != nil {
			return
		}
		select {
		case h.broadcast <- payload:
		case <-h.done:
		default:
			metrics.DroppedMessagesTotal.WithLabelValues("ws_event").Inc()
		}
	})

	go h.run()
	return h
}

func (h *eventHub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			if welcome, err := json.Marshal(gin.H{"type": "connected"}); err == nil {
				select {
				case client.send <- welcome:
				default:
				}
			}
			h.logger.Debug().Int("clients", len(h.clients)).Msg("Event stream client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug().Int("clients", len(h.clients)).Msg("Event stream client disconnected")
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					metrics.DroppedMessagesTotal.WithLabelValues("ws_event").Inc()
				}
			}

		case <-h.done:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

func (h *eventHub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// add hands a client to the run goroutine, failing when the hub is
// already stopped.
func (h *eventHub) add(client *wsClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *eventHub) drop(client *wsClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// writePump drains the send queue to the socket and keeps the connection
// alive with pings. Closing the send channel ends it.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames until the client goes away, keeping the
// pong-based read deadline fresh.
func (c *wsClient) readPump(h *eventHub) {
	defer func() {
		h.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleEventSocket attaches the client to the bus broadcast hub.
func (s *Server) handleEventSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendQueue),
	}
	if !s.events.add(client) {
		conn.Close()
		return
	}
	go client.writePump()
	client.readPump(s.events)
}

// ============================================================================
// TICK STREAM
// ============================================================================

// tickMessage is the wire form of one tick frame.
type tickMessage struct {
	Type string `json:"type"`
	market.Tick
}

// handleTickSocket upgrades the connection, reads one subscription message
// naming the symbols, and streams their ticks until the client goes away.
func (s *Server) handleTickSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var req struct {
		Symbols []string `json:"symbols"`
	}
	if err := conn.ReadJSON(&req); err != nil {
		closeSocket(conn, websocket.ClosePolicyViolation, "expected a subscription message")
		return
	}
	symbols := dedupeSymbols(req.Symbols)
	if len(symbols) == 0 {
		closeSocket(conn, websocket.ClosePolicyViolation, "at least one symbol is required")
		return
	}

	merged := make(chan market.Tick, wsSendQueue)
	done := make(chan struct{})
	subs := make([]*feed.TickSub, 0, len(symbols))
	for _, symbol := range symbols {
		sub := s.feed.SubscribeTicks(symbol)
		subs = append(subs, sub)
		go forwardTicks(sub, merged, done)
	}
	defer func() {
		close(done)
		for _, sub := range subs {
			s.feed.UnsubscribeTicks(sub)
		}
	}()

	if err := writeJSON(conn, gin.H{"type": "subscribed", "symbols": symbols}); err != nil {
		return
	}

	closed := watchSocket(conn)
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case tick := <-merged:
			if err := writeJSON(conn, tickMessage{Type: "tick", Tick: tick}); err != nil {
				return
			}
			ping.Reset(wsPingPeriod)

		case <-ping.C:
			if err := writeJSON(conn, gin.H{"type": "ping"}); err != nil {
				return
			}

		case <-closed:
			return
		}
	}
}

// forwardTicks drains one subscription into the socket's shared queue,
// dropping the newest tick when the socket cannot keep up.
func forwardTicks(sub *feed.TickSub, merged chan<- market.Tick, done <-chan struct{}) {
	for {
		select {
		case tick, ok := <-sub.C:
			if !ok {
				return
			}
			select {
			case merged <- tick:
			default:
				metrics.DroppedMessagesTotal.WithLabelValues("ws_tick").Inc()
			}

		case <-done:
			return
		}
	}
}

func dedupeSymbols(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	symbols := make([]string, 0, len(raw))
	for _, symbol := range raw {
		if symbol == "" {
			continue
		}
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		symbols = append(symbols, symbol)
	}
	return symbols
}

// ============================================================================
// CONTRACT STREAM
// ============================================================================

// contractMessage is the wire form of one contract update frame.
type contractMessage struct {
	Type string `json:"type"`
	feed.ContractState
}

// handleContractSocket streams state updates for one contract. The stream
// ends with a normal closure once the contract itself is closed.
func (s *Server) handleContractSocket(c *gin.Context) {
	contractID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "contract id must be an integer")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.feed.SubscribeContract(contractID)
	defer s.feed.UnsubscribeContract(sub)

	if state, ok := s.feed.LastPosition(contractID); ok {
		if err := writeJSON(conn, contractMessage{Type: "contract", ContractState: state}); err != nil {
			return
		}
		if state.Closed() {
			closeSocket(conn, websocket.CloseNormalClosure, "contract closed")
			return
		}
	}

	closed := watchSocket(conn)
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case state, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeJSON(conn, contractMessage{Type: "contract", ContractState: state}); err != nil {
				return
			}
			if state.Closed() {
				closeSocket(conn, websocket.CloseNormalClosure, "contract closed")
				return
			}
			ping.Reset(wsPingPeriod)

		case <-ping.C:
			if err := writeJSON(conn, gin.H{"type": "ping"}); err != nil {
				return
			}

		case <-closed:
			return
		}
	}
}

// ============================================================================
// SOCKET HELPERS
// ============================================================================

func writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// watchSocket consumes inbound frames on a stream socket so the peer
// closing shows up as a signal. Stream clients are not required to speak
// after their initial message.
func watchSocket(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}
