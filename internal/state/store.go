package state

import (
	"sync"
	"time"

	"signal-core/internal/signal"
)

// Phase is the trailing-stop lifecycle for one symbol.
type Phase string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseArmed    Phase = "ARMED"
	PhaseTrailing Phase = "TRAILING"
	PhaseClosed   Phase = "CLOSED"
)

// Position is the live view of one symbol's exposure.
type Position struct {
	Amount            float64 // signed; 0 means flat
	EntryPrice        float64
	TakeProfitPercent float64
	StopLossPercent   float64
	TargetPrice       float64 // take-profit target derived from entry
	BestPrice         float64 // most favorable price seen since entry
}

// Protective tracks the live protective order IDs for a symbol.
// At most one stop and one take-profit may be live at any time; a
// replace transitions through the empty string ("none active").
type Protective struct {
	StopOrderID       string
	StopPrice         float64 // trigger price of the live stop, 0 when none
	TakeProfitOrderID string
}

// LastSignal remembers the entry signal so a subsequent EXIT can be
// classified as instant (arm trailing) or normal (close). Removed once
// an EXIT consumes it.
type LastSignal struct {
	Intent     signal.TradeIntent
	EntryOrder string
	ReceivedAt time.Time
}

// Symbol is all mutable per-symbol state. Access only through Store.With.
type Symbol struct {
	Position Position
	Orders   Protective
	Last     *LastSignal
	Phase    Phase
}

// Flatten clears everything tied to an open position. Called when the
// exchange reports the symbol back at zero, so stale protective order
// IDs never survive a flat position.
func (s *Symbol) Flatten() {
	s.Position = Position{}
	s.Orders = Protective{}
	s.Phase = PhaseIdle
}

type entry struct {
	mu  sync.Mutex
	sym Symbol
}

// Store holds per-symbol state behind per-symbol locks. The inbound
// signal handler, the stream consumer and background timers all mutate
// the same symbols; every read-modify-write goes through With so the
// whole sequence is atomic for that symbol while other symbols proceed
// in parallel.
type Store struct {
	mu      sync.Mutex
	symbols map[string]*entry
}

func NewStore() *Store {
	return &Store{symbols: make(map[string]*entry)}
}

func (st *Store) entryFor(symbol string) *entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.symbols[symbol]
	if !ok {
		e = &entry{sym: Symbol{Phase: PhaseIdle}}
		st.symbols[symbol] = e
	}
	return e
}

// With runs fn while holding the symbol's lock. fn may perform blocking
// calls; only callers touching the same symbol wait.
func (st *Store) With(symbol string, fn func(*Symbol)) {
	e := st.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.sym)
}

// Snapshot returns a copy of every tracked symbol's state.
func (st *Store) Snapshot() map[string]Symbol {
	st.mu.Lock()
	entries := make(map[string]*entry, len(st.symbols))
	for k, v := range st.symbols {
		entries[k] = v
	}
	st.mu.Unlock()

	out := make(map[string]Symbol, len(entries))
	for k, e := range entries {
		e.mu.Lock()
		s := e.sym
		if s.Last != nil {
			last := *s.Last
			s.Last = &last
		}
		e.mu.Unlock()
		out[k] = s
	}
	return out
}

// Symbols returns the symbols that currently hold an open position or a
// live protective order.
func (st *Store) Symbols() []string {
	snap := st.Snapshot()
	out := make([]string, 0, len(snap))
	for sym, s := range snap {
		if s.Position.Amount != 0 || s.Orders.StopOrderID != "" || s.Orders.TakeProfitOrderID != "" || s.Phase == PhaseArmed || s.Phase == PhaseTrailing {
			out = append(out, sym)
		}
	}
	return out
}
