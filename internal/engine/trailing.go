package engine

import (
	"context"
	"time"

	"signal-core/internal/events"
	"signal-core/internal/state"
)

// RunTrailing polls prices for armed and trailing symbols until ctx is
// cancelled. The user data stream carries order and position updates but
// no mark prices, so trailing progress is driven by this REST poll.
func (e *Engine) RunTrailing(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	lg := e.log.WithComponent("trailing")
	lg.WithFields(map[string]any{"interval": interval.String()}).Info("trailing monitor started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			lg.Info("trailing monitor stopped")
			return
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	for _, symbol := range e.store.Symbols() {
		var active bool
		e.store.With(symbol, func(s *state.Symbol) {
			active = s.Phase == state.PhaseArmed || s.Phase == state.PhaseTrailing
		})
		if !active {
			continue
		}
		price, err := e.ex.LastPrice(ctx, symbol)
		if err != nil {
			e.log.WithComponent("trailing").WithSymbol(symbol).WithError(err).Warn("price poll failed")
			continue
		}
		e.store.With(symbol, func(s *state.Symbol) {
			e.evaluatePrice(ctx, s, symbol, price)
		})
	}
}

// evaluatePrice advances the trailing state machine for one observed
// price. Caller holds the symbol lock.
func (e *Engine) evaluatePrice(ctx context.Context, s *state.Symbol, symbol string, price float64) {
	if price <= 0 || s.Position.EntryPrice <= 0 || s.Position.Amount == 0 {
		return
	}
	long := s.Position.Amount > 0

	// Track the most favorable price seen since entry.
	if long {
		if price > s.Position.BestPrice {
			s.Position.BestPrice = price
		}
	} else {
		if s.Position.BestPrice == 0 || price < s.Position.BestPrice {
			s.Position.BestPrice = price
		}
	}

	switch s.Phase {
	case state.PhaseArmed:
		if progress(s) < e.cfg.TrailingActivationPercent {
			return
		}
		e.moveStop(ctx, s, symbol, long)
		if s.Orders.StopOrderID != "" {
			s.Phase = state.PhaseTrailing
		}
	case state.PhaseTrailing:
		want := trailingStopPrice(long, s.Position.BestPrice, e.cfg.TrailingStopPercent)
		if s.Orders.StopOrderID != "" && !improves(long, want, s.Orders.StopPrice) {
			return
		}
		e.moveStop(ctx, s, symbol, long)
	}
}

// progress is how far the price has travelled from entry toward the
// take-profit target, in percent of the full distance. Span and movement
// are both negative for a short, so the ratio works for either side.
func progress(s *state.Symbol) float64 {
	span := s.Position.TargetPrice - s.Position.EntryPrice
	if span == 0 {
		return 0
	}
	return (s.Position.BestPrice - s.Position.EntryPrice) / span * 100
}

// moveStop cancels the live stop (if any) and places a new one at the
// trailing distance below (long) or above (short) the best price. The
// tracker transitions through "" so a placement failure never leaves a
// stale order ID behind.
func (e *Engine) moveStop(ctx context.Context, s *state.Symbol, symbol string, long bool) {
	lg := e.log.WithComponent("trailing").WithSymbol(symbol)

	old := s.Orders.StopOrderID
	if old != "" {
		if err := e.ex.CancelOrder(ctx, symbol, old); err != nil {
			lg.WithOrderID(old).WithError(classify(err)).Error("stop cancel failed, keeping current stop")
			return
		}
		s.Orders.StopOrderID = ""
		s.Orders.StopPrice = 0
	}

	stopPrice := trailingStopPrice(long, s.Position.BestPrice, e.cfg.TrailingStopPercent)
	qty := s.Position.Amount
	side := "SELL"
	if !long {
		qty = -qty
		side = "BUY"
	}
	ack, err := e.ex.PlaceStopLoss(ctx, symbol, side, qty, stopPrice)
	if err != nil {
		lg.WithError(classify(err)).Error("trailing stop placement failed")
		return
	}
	s.Orders.StopOrderID = ack.OrderID
	s.Orders.StopPrice = stopPrice
	lg.WithOrderID(ack.OrderID).WithFields(map[string]any{
		"stop_price": stopPrice, "best_price": s.Position.BestPrice,
	}).Info("trailing stop moved")

	e.bus.Publish(events.TopicProtectiveMoved, events.ProtectiveMoved{
		Symbol:     symbol,
		OldOrderID: old,
		NewOrderID: ack.OrderID,
		StopPrice:  stopPrice,
		BestPrice:  s.Position.BestPrice,
	})
	e.bus.Publish(events.TopicOrderPlaced, events.OrderPlaced{
		OrderID: ack.OrderID, ClientID: ack.ClientOrderID, Symbol: symbol,
		Side: side, Type: "STOP_MARKET", Purpose: "stop_loss",
		Qty: qty, StopPrice: stopPrice, Status: ack.Status,
	})
}

func trailingStopPrice(long bool, best, trailPct float64) float64 {
	if long {
		return best * (1 - trailPct/100)
	}
	return best * (1 + trailPct/100)
}

// improves reports whether a candidate stop price tightens the stop in
// the position's favor.
func improves(long bool, candidate, current float64) bool {
	if current == 0 {
		return true
	}
	if long {
		return candidate > current
	}
	return candidate < current
}
