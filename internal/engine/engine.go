package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signal-core/internal/events"
	"signal-core/internal/logger"
	"signal-core/internal/signal"
	"signal-core/internal/state"
	"signal-core/pkg/binance/futures"
	"signal-core/pkg/config"
)

// Exchange is the REST surface the engine drives. Implemented by
// pkg/binance/futures.Client; faked in tests.
type Exchange interface {
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64, leverage int) (futures.OrderAck, error)
	PlaceStopLoss(ctx context.Context, symbol, side string, qty, stopPrice float64) (futures.OrderAck, error)
	PlaceTakeProfit(ctx context.Context, symbol, side string, qty, stopPrice float64) (futures.OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	ClosePosition(ctx context.Context, symbol string) (futures.CloseResult, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
	OpenPositions(ctx context.Context) ([]futures.PositionSnapshot, error)
}

// Config tunes signal handling and the trailing-stop policy.
type Config struct {
	DefaultStopLossPercent    float64
	DefaultTakeProfitPercent  float64
	TrailingStopPercent       float64
	TrailingActivationPercent float64 // progress toward target, 0-100
	ExitDedupWindow           time.Duration
	Workers                   int
	SymbolOverrides           map[string]config.SymbolOverride
}

// Result is the caller-visible outcome of one processed signal.
type Result struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Engine converts trade intents into exchange orders and maintains
// protective orders from stream events. All per-symbol read-modify-write
// sequences run under the state store's symbol lock; blocking REST work
// triggered by stream events is dispatched to a bounded worker pool so a
// slow exchange response never stalls the stream consumer.
type Engine struct {
	ex    Exchange
	store *state.Store
	bus   *events.Bus
	log   *logger.Logger
	cfg   Config

	workers chan struct{}
	wg      sync.WaitGroup

	queueMu sync.Mutex
	queues  map[string]chan func()
}

func New(ex Exchange, store *state.Store, bus *events.Bus, log *logger.Logger, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Engine{
		ex:      ex,
		store:   store,
		bus:     bus,
		log:     log,
		cfg:     cfg,
		workers: make(chan struct{}, cfg.Workers),
		queues:  make(map[string]chan func()),
	}
}

// dispatch runs fn on the worker pool, keeping blocking I/O away from
// the caller's goroutine.
func (e *Engine) dispatch(fn func()) {
	e.wg.Add(1)
	e.workers <- struct{}{}
	go func() {
		defer e.wg.Done()
		defer func() { <-e.workers }()
		fn()
	}()
}

// applyOrdered queues fn on the symbol's event queue. Events for one
// symbol run in arrival order; a symbol whose lock is held by a slow
// exchange call never blocks the stream consumer or other symbols.
func (e *Engine) applyOrdered(symbol string, fn func()) {
	e.queueMu.Lock()
	q, ok := e.queues[symbol]
	if !ok {
		q = make(chan func(), 64)
		e.queues[symbol] = q
		go func() {
			for f := range q {
				f()
				e.wg.Done()
			}
		}()
	}
	e.queueMu.Unlock()
	e.wg.Add(1)
	q <- fn
}

// WaitIdle blocks until all dispatched and queued work has finished.
// Used during shutdown and in tests.
func (e *Engine) WaitIdle() {
	e.wg.Wait()
}

// HandleIntent processes one normalized signal. Entries and exits for
// the same symbol are serialized by the symbol lock; different symbols
// proceed in parallel.
func (e *Engine) HandleIntent(ctx context.Context, intent signal.TradeIntent) (Result, error) {
	e.bus.Publish(events.TopicSignalReceived, events.SignalReceived{
		Symbol:            intent.Symbol,
		TradeType:         string(intent.Type),
		Side:              intent.Side,
		Quantity:          intent.Quantity,
		Leverage:          intent.Leverage,
		TakeProfitPercent: intent.TakeProfitPercent,
		SignalTime:        intent.SignalTime,
	})

	switch intent.Type {
	case signal.TradeBuy, signal.TradeSell:
		return e.handleEntry(ctx, intent)
	case signal.TradeExit:
		return e.handleExit(ctx, intent)
	default:
		return Result{}, fmt.Errorf("%w: unknown trade type %q", signal.ErrMalformedSignal, intent.Type)
	}
}

// effective returns the SL/TP percents and leverage for an intent after
// applying per-symbol overrides and global defaults. The TP percent is
// carried into PositionState so later trailing math uses the value from
// the originating signal, not a re-read default.
func (e *Engine) effective(intent signal.TradeIntent) (slPct, tpPct float64, leverage int) {
	slPct = e.cfg.DefaultStopLossPercent
	tpPct = e.cfg.DefaultTakeProfitPercent
	leverage = intent.Leverage

	if ov, ok := e.cfg.SymbolOverrides[intent.Symbol]; ok {
		if ov.StopLossPercent > 0 {
			slPct = ov.StopLossPercent
		}
		if ov.TakeProfitPercent > 0 {
			tpPct = ov.TakeProfitPercent
		}
		if leverage == 0 && ov.Leverage > 0 {
			leverage = ov.Leverage
		}
	}
	if intent.TakeProfitPercent > 0 {
		tpPct = intent.TakeProfitPercent
	}
	return slPct, tpPct, leverage
}

func (e *Engine) handleEntry(ctx context.Context, intent signal.TradeIntent) (Result, error) {
	slPct, tpPct, leverage := e.effective(intent)
	symbol := intent.Symbol
	entry := e.log.WithComponent("engine").WithSymbol(symbol)

	var res Result
	var outErr error
	e.store.With(symbol, func(s *state.Symbol) {
		ack, err := e.ex.PlaceMarketOrder(ctx, symbol, intent.Side, intent.Quantity, leverage)
		if err != nil {
			outErr = classify(err)
			return
		}
		// The exchange may fill a step-rounded quantity; size the
		// protective orders from what actually executed.
		qty := intent.Quantity
		if ack.ExecutedQty > 0 {
			qty = ack.ExecutedQty
		}
		entry.WithOrderID(ack.OrderID).WithFields(map[string]any{
			"side": intent.Side, "qty": qty,
		}).Info("entry order placed")

		s.Last = &state.LastSignal{
			Intent:     intent,
			EntryOrder: ack.OrderID,
			ReceivedAt: time.Now(),
		}
		s.Phase = state.PhaseIdle
		s.Position.TakeProfitPercent = tpPct
		s.Position.StopLossPercent = slPct

		e.bus.Publish(events.TopicOrderPlaced, events.OrderPlaced{
			OrderID:  ack.OrderID,
			ClientID: ack.ClientOrderID,
			Symbol:   symbol,
			Side:     intent.Side,
			Type:     "MARKET",
			Purpose:  "entry",
			Qty:      qty,
			AvgPrice: ack.AvgPrice,
			Status:   ack.Status,
		})

		// A market ack may not carry the fill price yet; fall back to the
		// last traded price rather than treating zero as an error.
		avg := ack.AvgPrice
		if avg == 0 {
			if lp, err := e.ex.LastPrice(ctx, symbol); err != nil {
				entry.WithError(err).Warn("last price query failed, deferring protective orders to fill event")
			} else {
				avg = lp
			}
		}
		if avg <= 0 {
			res = Result{Message: fmt.Sprintf("entry placed for %s, protective orders pending fill", symbol), Status: "success"}
			return
		}

		s.Position.EntryPrice = avg
		s.Position.BestPrice = avg
		s.Position.TargetPrice = TargetPrice(intent.Side, avg, tpPct)

		e.placeProtective(ctx, s, symbol, intent.Side, qty, avg, slPct, tpPct)
		res = Result{Message: fmt.Sprintf("entry placed for %s at %.6f", symbol, avg), Status: "success"}
	})
	return res, outErr
}

// placeProtective places the initial stop-loss and take-profit orders.
// Each failure is logged and propagates no further: a failed protective
// placement must not undo an already-filled entry.
func (e *Engine) placeProtective(ctx context.Context, s *state.Symbol, symbol, side string, qty, avg, slPct, tpPct float64) {
	exitSide := opposite(side)
	entry := e.log.WithComponent("engine").WithSymbol(symbol)

	slPrice := StopLossPrice(side, avg, slPct)
	if ack, err := e.ex.PlaceStopLoss(ctx, symbol, exitSide, qty, slPrice); err != nil {
		entry.WithError(classify(err)).Error("stop-loss placement failed")
	} else {
		s.Orders.StopOrderID = ack.OrderID
		entry.WithOrderID(ack.OrderID).WithFields(map[string]any{"stop_price": slPrice}).Info("stop-loss placed")
		e.bus.Publish(events.TopicOrderPlaced, events.OrderPlaced{
			OrderID: ack.OrderID, ClientID: ack.ClientOrderID, Symbol: symbol,
			Side: exitSide, Type: "STOP_MARKET", Purpose: "stop_loss",
			Qty: qty, StopPrice: slPrice, Status: ack.Status,
		})
	}

	tpPrice := TargetPrice(side, avg, tpPct)
	if ack, err := e.ex.PlaceTakeProfit(ctx, symbol, exitSide, qty, tpPrice); err != nil {
		entry.WithError(classify(err)).Error("take-profit placement failed")
	} else {
		s.Orders.TakeProfitOrderID = ack.OrderID
		entry.WithOrderID(ack.OrderID).WithFields(map[string]any{"stop_price": tpPrice}).Info("take-profit placed")
		e.bus.Publish(events.TopicOrderPlaced, events.OrderPlaced{
			OrderID: ack.OrderID, ClientID: ack.ClientOrderID, Symbol: symbol,
			Side: exitSide, Type: "TAKE_PROFIT_MARKET", Purpose: "take_profit",
			Qty: qty, StopPrice: tpPrice, Status: ack.Status,
		})
	}
}

func (e *Engine) handleExit(ctx context.Context, intent signal.TradeIntent) (Result, error) {
	symbol := intent.Symbol
	entry := e.log.WithComponent("engine").WithSymbol(symbol)

	var res Result
	var outErr error
	e.store.With(symbol, func(s *state.Symbol) {
		if s.Last != nil {
			diff := intent.SignalTime.Sub(s.Last.Intent.SignalTime)
			age := time.Since(s.Last.ReceivedAt)
			s.Last = nil // an EXIT consumes the record either way
			if diff >= 0 && diff < e.cfg.ExitDedupWindow {
				// Instant EXIT: do not close; convert to trailing.
				s.Phase = state.PhaseArmed
				entry.WithFields(map[string]any{"diff": diff.Seconds(), "entry_age": age.Seconds()}).Info("instant exit, trailing armed")
				res = Result{Message: fmt.Sprintf("trailing stop armed for %s", symbol), Status: "trailing_pending"}
				return
			}
		}

		if err := e.ex.CancelAllOrders(ctx, symbol); err != nil {
			entry.WithError(err).Warn("cancel all orders failed")
		}
		closed, err := e.ex.ClosePosition(ctx, symbol)
		if err != nil {
			outErr = classify(err)
			return
		}
		s.Orders = state.Protective{}
		s.Phase = state.PhaseClosed

		if closed.Closed {
			entry.WithFields(map[string]any{"qty": closed.Qty, "side": closed.Side}).Info("position closed on exit signal")
			res = Result{Message: fmt.Sprintf("position closed for %s", symbol), Status: "closed"}
		} else {
			res = Result{Message: fmt.Sprintf("no open position for %s", symbol), Status: "flat"}
		}
		e.bus.Publish(events.TopicPositionClosed, events.PositionClosed{Symbol: symbol, Reason: "exit_signal"})
	})
	return res, outErr
}

// SyncPositions seeds the state store from the exchange on startup so a
// restart with open positions does not lose track of exposure.
func (e *Engine) SyncPositions(ctx context.Context) error {
	positions, err := e.ex.OpenPositions(ctx)
	if err != nil {
		return classify(err)
	}
	for _, p := range positions {
		side := "BUY"
		if p.Amount < 0 {
			side = "SELL"
		}
		e.store.With(p.Symbol, func(s *state.Symbol) {
			s.Position.Amount = p.Amount
			s.Position.EntryPrice = p.EntryPrice
			s.Position.BestPrice = p.EntryPrice
			s.Position.TakeProfitPercent = e.cfg.DefaultTakeProfitPercent
			s.Position.StopLossPercent = e.cfg.DefaultStopLossPercent
			s.Position.TargetPrice = TargetPrice(side, p.EntryPrice, e.cfg.DefaultTakeProfitPercent)
			s.Phase = state.PhaseIdle
		})
		e.log.WithComponent("engine").WithSymbol(p.Symbol).WithFields(map[string]any{
			"amount": p.Amount, "entry_price": p.EntryPrice,
		}).Info("restored open position from exchange")
	}
	return nil
}

func opposite(side string) string {
	if side == "BUY" {
		return "SELL"
	}
	return "BUY"
}

// TargetPrice computes the take-profit target: above entry for a long,
// below for a short.
func TargetPrice(side string, entry, tpPct float64) float64 {
	if side == "BUY" {
		return entry * (1 + tpPct/100)
	}
	return entry * (1 - tpPct/100)
}

// StopLossPrice mirrors TargetPrice on the losing side.
func StopLossPrice(side string, entry, slPct float64) float64 {
	if side == "BUY" {
		return entry * (1 - slPct/100)
	}
	return entry * (1 + slPct/100)
}
