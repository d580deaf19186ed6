package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"deriv-trading-bot/internal/auth"
	"deriv-trading-bot/internal/broker"
	"deriv-trading-bot/internal/feed"
	"deriv-trading-bot/internal/market"
	"deriv-trading-bot/internal/metrics"
	"deriv-trading-bot/internal/risk"
)

// ============================================================================
// AUTH
// ============================================================================

// handleLogin exchanges the operator password for a session token.
func (s *Server) handleLogin(c *gin.Context) {
	if s.authSvc == nil || !s.authSvc.Enabled() {
		errorResponse(c, http.StatusNotFound, "authentication is disabled")
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		errorResponse(c, http.StatusBadRequest, "password is required")
		return
	}

	token, err := s.authSvc.Login(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			errorResponse(c, http.StatusUnauthorized, "bad credentials")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "login failed")
		return
	}
	successResponse(c, token)
}

// ============================================================================
// HEALTH AND STATUS
// ============================================================================

// handleHealth is the liveness probe. It always answers 200; component
// problems show up as fields, not status codes.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"feed_connected": s.feed.IsConnected(),
		"mode":           s.gateway.Mode(),
	})
}

// handleStatus reports a best-effort snapshot of every component. It must
// answer even when the feed is down, so the operator can see why nothing
// is trading.
func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, gin.H{
		"mode":           s.gateway.Mode(),
		"feed":           s.feed.GetStats(),
		"engine":         s.engine.Status(),
		"ledger":         s.ledger.GetStats(),
		"open_positions": len(s.positions.Positions()),
	})
}

// ============================================================================
// POSITIONS AND ORDERS
// ============================================================================

// handlePositions lists every position the risk monitor is tracking.
func (s *Server) handlePositions(c *gin.Context) {
	positions := s.positions.Positions()
	successResponse(c, gin.H{
		"positions": positions,
		"count":     len(positions),
	})
}

// handlePlaceOrder places a manual order through the gateway and hands the
// result to the risk monitor, so manual trades get the same stop handling
// as engine trades. Broker rejections come back verbatim as client errors.
func (s *Server) handlePlaceOrder(c *gin.Context) {
	var params broker.OrderParams
	if err := c.ShouldBindJSON(&params); err != nil {
		errorResponse(c, http.StatusBadRequest, "malformed order request: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), orderRequestTimeout)
	defer cancel()

	result, err := s.gateway.PlaceOrder(ctx, params)
	if err != nil {
		var apiErr *feed.APIError
		switch {
		case errors.Is(err, broker.ErrInvalidOrder):
			errorResponse(c, http.StatusBadRequest, err.Error())
		case errors.As(err, &apiErr):
			errorResponse(c, http.StatusBadRequest, apiErr.Error())
		default:
			errorResponse(c, http.StatusBadGateway, err.Error())
		}
		return
	}

	direction := market.DirectionRise
	if params.ContractType == broker.ContractPut {
		direction = market.DirectionFall
	}
	metrics.OrdersTotal.WithLabelValues(params.Symbol, direction, s.gateway.Mode()).Inc()
	s.bus.PublishTradeOpened(result.ContractID, params.Symbol, direction, params.Stake, result.BuyPrice)
	s.positions.Track(result, params)

	s.logger.Info().
		Int64("contract_id", result.ContractID).
		Str("symbol", params.Symbol).
		Str("contract_type", params.ContractType).
		Float64("stake", params.Stake).
		Msg("Manual order placed")

	c.JSON(http.StatusOK, result)
}

// handleClosePosition sells one tracked position at the current market
// price.
func (s *Server) handleClosePosition(c *gin.Context) {
	contractID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "contract id must be an integer")
		return
	}

	if err := s.positions.CloseNow(contractID); err != nil {
		switch {
		case errors.Is(err, risk.ErrNotTracked):
			errorResponse(c, http.StatusNotFound, err.Error())
		case errors.Is(err, risk.ErrCloseInFlight):
			errorResponse(c, http.StatusConflict, err.Error())
		default:
			errorResponse(c, http.StatusInternalServerError, err.Error())
		}
		return
	}
	successResponse(c, gin.H{
		"contract_id": contractID,
		"closing":     true,
	})
}

// ============================================================================
// LEDGER AND JOURNAL
// ============================================================================

// handleLedger reports the in-memory P&L ledger.
func (s *Server) handleLedger(c *gin.Context) {
	successResponse(c, s.ledger.GetStats())
}

// handleTrades reads recent settled trades from the journal.
func (s *Server) handleTrades(c *gin.Context) {
	if s.trades == nil {
		errorResponse(c, http.StatusServiceUnavailable, "trade journal is not enabled")
		return
	}

	limit := queryInt(c, "limit", 50, 500)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	trades, err := s.trades.RecentTrades(ctx, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Trade history query failed")
		errorResponse(c, http.StatusInternalServerError, "trade history query failed")
		return
	}
	successResponse(c, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// ============================================================================
// ENGINE CONTROL
// ============================================================================

// handleEngineStart starts the decision loop.
func (s *Server) handleEngineStart(c *gin.Context) {
	if err := s.engine.Start(); err != nil {
		errorResponse(c, http.StatusConflict, err.Error())
		return
	}
	s.logger.Info().Msg("Engine started by operator")
	successResponse(c, gin.H{"running": true})
}

// handleEngineStop stops the decision loop and waits for the current
// iteration to finish.
func (s *Server) handleEngineStop(c *gin.Context) {
	s.engine.Stop()
	s.logger.Info().Msg("Engine stopped by operator")
	successResponse(c, gin.H{"running": false})
}

// handleRecentSignals lists the latest accepted and rejected signals, most
// recent first.
func (s *Server) handleRecentSignals(c *gin.Context) {
	limit := queryInt(c, "limit", 20, 50)
	successResponse(c, gin.H{
		"signals": s.engine.RecentSignals(limit),
		"running": s.engine.Running(),
	})
}

// queryInt parses an optional positive integer query parameter with a
// default and an upper cap.
func queryInt(c *gin.Context, name string, def, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
