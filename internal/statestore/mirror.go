package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"deriv-trading-bot/internal/events"
	"deriv-trading-bot/internal/risk"
)

const refreshTimeout = 3 * time.Second

// PositionLister is the slice of the risk monitor the mirror reads.
type PositionLister interface {
	Positions() []risk.PositionInfo
}

// Mirror refreshes the Redis snapshot whenever a trade opens or settles.
// Triggers coalesce through a one-slot channel, so a burst of settlements
// produces a single refresh with the latest state.
type Mirror struct {
	store     *Store
	positions PositionLister
	ledger    *risk.Ledger
	logger    zerolog.Logger

	trigger  chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMirror subscribes to trade events and starts the refresh worker with
// one initial snapshot.
func NewMirror(store *Store, positions PositionLister, ledger *risk.Ledger, bus *events.EventBus, logger zerolog.Logger) *Mirror {
	m := &Mirror{
		store:     store,
		positions: positions,
		ledger:    ledger,
		logger:    logger.With().Str("component", "statestore").Logger(),
		trigger:   make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}

	bus.Subscribe(events.EventTradeOpened, m.onTradeEvent)
	bus.Subscribe(events.EventTradeClosed, m.onTradeEvent)

	m.kick()
	m.wg.Add(1)
	go m.worker()
	return m
}

// Stop halts the refresh worker.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

func (m *Mirror) onTradeEvent(events.Event) {
	m.kick()
}

func (m *Mirror) kick() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.trigger:
			m.refresh()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Mirror) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := m.store.SetPositions(ctx, m.positions.Positions()); err != nil {
		m.logger.Debug().Err(err).Msg("Position mirror write skipped")
	}
	if err := m.store.SetLedger(ctx, m.ledger.GetStats()); err != nil {
		m.logger.Debug().Err(err).Msg("Ledger mirror write skipped")
	}
}
