// Package api exposes the local control surface: a JSON HTTP API over gin,
// the Prometheus metrics endpoint, and websocket streams for ticks,
// contract updates, and bus events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
	"deriv-trading-bot/internal/auth"
	"deriv-trading-bot/internal/broker"
	"deriv-trading-bot/internal/engine"
	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/feed"
	"deriv-trading-bot/internal/risk"
)

// orderRequestTimeout bounds a manual order round trip. It sits under the
// server write timeout so the client gets the rejection, not a cut socket.
const orderRequestTimeout = 10 * time.Second

// EngineControl is the slice of the decision loop the API drives.
type EngineControl interface {
	Start() error
	Stop()
	Running() bool
	Status() map[string]interface{}
	RecentSignals(n int) []engine.SignalRecord
}

// PositionSource exposes tracked positions, manual tracking, and the
// manual close path.
type PositionSource interface {
	Track(result *broker.OrderResult, params broker.OrderParams)
	Positions() []risk.PositionInfo
	CloseNow(contractID int64) error
}

// FeedSource is the feed surface the API reports on and streams from.
type FeedSource interface {
	IsConnected() bool
	GetStats() map[string]interface{}
	SubscribeTicks(symbol string) *feed.TickSub
	UnsubscribeTicks(sub *feed.TickSub)
	SubscribeContract(contractID int64) *feed.ContractSub
	UnsubscribeContract(sub *feed.ContractSub)
	LastPosition(contractID int64) (feed.ContractState, bool)
}

// TradeLog is the journal surface the trade history endpoint reads.
// Nil when persistence is disabled.
type TradeLog interface {
	RecentTrades(ctx context.Context, limit int) ([]map[string]interface{}, error)
}

// Deps collects the components the server serves from. Everything except
// Auth and Trades is required.
type Deps struct {
	Engine    EngineControl
	Positions PositionSource
	Gateway   broker.Gateway
	Feed      FeedSource
	Ledger    *risk.Ledger
	Bus       *events.EventBus
	Auth      *auth.Service
	Trades    TradeLog
}

// Server is the HTTP control surface.
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger

	engine    EngineControl
	positions PositionSource
	gateway   broker.Gateway
	feed      FeedSource
	ledger    *risk.Ledger
	bus       *events.EventBus
	authSvc   *auth.Service
	trades    TradeLog

	events  *eventHub
	limiter *rateLimiter

	started time.Time
}

// NewServer wires the router, middleware, and routes. The event hub starts
// immediately; Shutdown stops it again.
func NewServer(cfg config.ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg.AllowedOrigins)
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:       cfg,
		router:    router,
		logger:    logger.With().Str("component", "api").Logger(),
		engine:    deps.Engine,
		positions: deps.Positions,
		gateway:   deps.Gateway,
		feed:      deps.Feed,
		ledger:    deps.Ledger,
		bus:       deps.Bus,
		authSvc:   deps.Auth,
		trades:    deps.Trades,
		limiter:   newRateLimiter(10, time.Minute),
		started:   time.Now(),
	}
	s.events = newEventHub(deps.Bus, s.logger)
	s.setupRoutes()
	return s
}

func allowedOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:5173", "http://localhost:8080"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.POST("/auth/login", s.rateLimitMiddleware(), s.handleLogin)
	api.GET("/health", s.handleHealth)

	protected := api.Group("")
	if s.authSvc != nil && s.authSvc.Enabled() {
		protected.Use(auth.Middleware(s.authSvc))
	}
	protected.GET("/status", s.handleStatus)
	protected.GET("/positions", s.handlePositions)
	protected.POST("/orders", s.handlePlaceOrder)
	protected.POST("/positions/:id/close", s.handleClosePosition)
	protected.GET("/ledger", s.handleLedger)
	protected.GET("/trades", s.handleTrades)
	protected.POST("/engine/start", s.handleEngineStart)
	protected.POST("/engine/stop", s.handleEngineStop)
	protected.GET("/signals/recent", s.handleRecentSignals)

	// Websocket upgrades cannot carry an Authorization header from a
	// browser, so the streams stay open like the metrics endpoint.
	ws := s.router.Group("/ws")
	ws.GET("/ticks", s.handleTickSocket)
	ws.GET("/contract/:id", s.handleContractSocket)
	ws.GET("/events", s.handleEventSocket)
}

// Start blocks serving HTTP until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := s.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops the event hub and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.events.stop()
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// rateLimiter is a small in-memory limiter keyed by client IP, used to
// slow down password guessing on the login endpoint.
type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	recent := rl.requests[key][:0]
	for _, ts := range rl.requests[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow(c.ClientIP()) {
			errorResponse(c, http.StatusTooManyRequests, "too many requests, slow down")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
