package monitor

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"signal-core/internal/events"
	"signal-core/internal/logger"
	"signal-core/internal/state"
)

// Counters accumulate lifetime totals from the event bus.
type Counters struct {
	signals         uint64
	orders          uint64
	fills           uint64
	protectiveMoves uint64
	closes          uint64
}

// Monitor logs a periodic status line: open positions, phases and
// lifetime counters. Useful when the process runs headless and the only
// window into it is the log stream.
type Monitor struct {
	store    *state.Store
	bus      *events.Bus
	log      *logger.Logger
	interval time.Duration
	started  time.Time
	counters Counters
}

func New(store *state.Store, bus *events.Bus, log *logger.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		store:    store,
		bus:      bus,
		log:      log.WithComponent("monitor"),
		interval: interval,
	}
}

// Run counts bus events and emits the status line until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.started = time.Now()

	signals, unsubSignals := m.bus.Subscribe(events.TopicSignalReceived, 64)
	placed, unsubPlaced := m.bus.Subscribe(events.TopicOrderPlaced, 64)
	filled, unsubFilled := m.bus.Subscribe(events.TopicOrderFilled, 64)
	moved, unsubMoved := m.bus.Subscribe(events.TopicProtectiveMoved, 64)
	closed, unsubClosed := m.bus.Subscribe(events.TopicPositionClosed, 64)
	defer unsubSignals()
	defer unsubPlaced()
	defer unsubFilled()
	defer unsubMoved()
	defer unsubClosed()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			atomic.AddUint64(&m.counters.signals, 1)
		case _, ok := <-placed:
			if !ok {
				return
			}
			atomic.AddUint64(&m.counters.orders, 1)
		case _, ok := <-filled:
			if !ok {
				return
			}
			atomic.AddUint64(&m.counters.fills, 1)
		case _, ok := <-moved:
			if !ok {
				return
			}
			atomic.AddUint64(&m.counters.protectiveMoves, 1)
		case _, ok := <-closed:
			if !ok {
				return
			}
			atomic.AddUint64(&m.counters.closes, 1)
		case <-ticker.C:
			m.report()
		}
	}
}

func (m *Monitor) report() {
	snap := m.store.Snapshot()
	open := 0
	trailing := 0
	for _, s := range snap {
		if s.Position.Amount != 0 {
			open++
		}
		if s.Phase == state.PhaseTrailing || s.Phase == state.PhaseArmed {
			trailing++
		}
	}
	m.log.WithFields(map[string]any{
		"uptime":           time.Since(m.started).Round(time.Second).String(),
		"open_positions":   open,
		"trailing":         trailing,
		"signals":          atomic.LoadUint64(&m.counters.signals),
		"orders":           atomic.LoadUint64(&m.counters.orders),
		"fills":            atomic.LoadUint64(&m.counters.fills),
		"protective_moves": atomic.LoadUint64(&m.counters.protectiveMoves),
		"closes":           atomic.LoadUint64(&m.counters.closes),
		"goroutines":       runtime.NumGoroutine(),
	}).Info("status")
}
