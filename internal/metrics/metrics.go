// Package metrics exposes the bot's Prometheus collectors. The /metrics
// endpoint itself is mounted by the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_ticks_total", Help: "Count of market ticks dispatched"},
		[]string{"symbol"},
	)
	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_frames_total", Help: "Inbound feed frames by message type"},
		[]string{"type"},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "feed_reconnects_total", Help: "Feed reconnect attempts"},
	)
	RequestTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "feed_request_timeouts_total", Help: "Correlated requests that timed out"},
	)
	DroppedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_dropped_messages_total", Help: "Messages dropped on full subscriber queues"},
		[]string{"kind"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders placed"},
		[]string{"symbol", "direction", "mode"},
	)
	SellsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sells_total", Help: "Position closes by trigger path"},
		[]string{"trigger"},
	)
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "settlements_total", Help: "Settled contracts by outcome"},
		[]string{"outcome"},
	)
	GateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gate_rejections_total", Help: "Signals rejected per gate"},
		[]string{"gate"},
	)
	FeedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "feed_connected", Help: "1 when the feed socket is up"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "open_positions", Help: "Currently tracked open positions"},
	)
	DailyPnl = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "daily_pnl", Help: "Realized P&L for the current UTC day"},
	)
	ConsecutiveLosses = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "consecutive_losses", Help: "Current losing streak length"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		FramesTotal,
		ReconnectsTotal,
		RequestTimeoutsTotal,
		DroppedMessagesTotal,
		OrdersTotal,
		SellsTotal,
		SettlementsTotal,
		GateRejectionsTotal,
		FeedConnected,
		OpenPositions,
		DailyPnl,
		ConsecutiveLosses,
	)
}
