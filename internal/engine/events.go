package engine

import (
	"context"

	"signal-core/internal/events"
	"signal-core/internal/logger"
	"signal-core/internal/state"
	"signal-core/internal/stream"
)

// Run consumes the user data stream until the channel closes or ctx is
// cancelled. The consumer itself never touches symbol locks: each event
// is queued on its symbol's ordered queue, so a symbol lock held across
// a slow exchange call stalls only that symbol's events, not the stream.
func (e *Engine) Run(ctx context.Context, evs <-chan stream.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			switch ev.Type {
			case stream.EventOrderTradeUpdate:
				u := *ev.Order
				e.applyOrdered(u.Symbol, func() { e.onOrderUpdate(ctx, u) })
			case stream.EventAccountUpdate:
				for _, p := range ev.Account.Positions {
					p := p
					e.applyOrdered(p.Symbol, func() { e.onPositionUpdate(ctx, p) })
				}
			}
		}
	}
}

func (e *Engine) onOrderUpdate(ctx context.Context, u stream.OrderUpdate) {
	lg := e.log.WithComponent("engine").WithSymbol(u.Symbol).WithOrderID(u.OrderID)

	switch u.Status {
	case "FILLED":
	case "CANCELED", "EXPIRED":
		// A protective order the exchange dropped must not stay tracked.
		e.store.With(u.Symbol, func(s *state.Symbol) {
			if s.Orders.StopOrderID == u.OrderID {
				s.Orders.StopOrderID = ""
				s.Orders.StopPrice = 0
				lg.WithFields(map[string]any{"status": u.Status}).Warn("tracked stop order dropped by exchange")
			}
			if s.Orders.TakeProfitOrderID == u.OrderID {
				s.Orders.TakeProfitOrderID = ""
				lg.WithFields(map[string]any{"status": u.Status}).Warn("tracked take-profit order dropped by exchange")
			}
		})
		return
	default:
		return
	}

	e.bus.Publish(events.TopicOrderFilled, events.OrderFilled{
		OrderID:  u.OrderID,
		Symbol:   u.Symbol,
		Side:     u.Side,
		Type:     u.OrderType,
		AvgPrice: u.AvgPrice,
		Qty:      u.FilledQty,
	})

	switch {
	case u.OrderType == "MARKET" && !u.ReduceOnly:
		e.onEntryFill(ctx, u, lg)
	case u.OrderType == "STOP_MARKET":
		e.onProtectiveFill(ctx, u, "stop_fill", lg)
	case u.OrderType == "TAKE_PROFIT_MARKET":
		e.onProtectiveFill(ctx, u, "tp_fill", lg)
	}
}

// onEntryFill records the authoritative fill price from the stream. The
// REST ack may have carried a zero average price; this is where the
// position's entry, best and target prices become final. When the ack
// had no usable price at all, protective placement was deferred to this
// event, so place the stop-loss and take-profit here.
func (e *Engine) onEntryFill(ctx context.Context, u stream.OrderUpdate, lg *logger.Logger) {
	e.store.With(u.Symbol, func(s *state.Symbol) {
		amount := u.FilledQty
		if u.Side == "SELL" {
			amount = -amount
		}
		s.Position.Amount = amount
		if u.AvgPrice > 0 {
			deferred := s.Position.EntryPrice == 0
			s.Position.EntryPrice = u.AvgPrice
			s.Position.BestPrice = u.AvgPrice
			if s.Position.TakeProfitPercent > 0 {
				s.Position.TargetPrice = TargetPrice(u.Side, u.AvgPrice, s.Position.TakeProfitPercent)
			}
			if deferred && s.Last != nil && s.Last.EntryOrder == u.OrderID &&
				s.Orders.StopOrderID == "" && s.Orders.TakeProfitOrderID == "" {
				lg.Info("placing protective orders deferred to fill event")
				e.placeProtective(ctx, s, u.Symbol, u.Side, u.FilledQty, u.AvgPrice,
					s.Position.StopLossPercent, s.Position.TakeProfitPercent)
			}
		}
		lg.WithFields(map[string]any{
			"avg_price": u.AvgPrice, "qty": u.FilledQty, "side": u.Side,
		}).Info("entry filled")
	})
}

// onProtectiveFill handles a stop or take-profit execution: the position
// is gone, so drop all tracked state and sweep any sibling protective
// order that is still resting.
func (e *Engine) onProtectiveFill(ctx context.Context, u stream.OrderUpdate, reason string, lg *logger.Logger) {
	var sweep bool
	e.store.With(u.Symbol, func(s *state.Symbol) {
		sweep = s.Orders.StopOrderID != "" || s.Orders.TakeProfitOrderID != ""
		if s.Orders.StopOrderID == u.OrderID || s.Orders.TakeProfitOrderID == u.OrderID {
			lg.WithFields(map[string]any{"avg_price": u.AvgPrice}).Info("protective order filled, position closed")
		}
		s.Flatten()
		s.Phase = state.PhaseClosed
	})
	e.bus.Publish(events.TopicPositionClosed, events.PositionClosed{Symbol: u.Symbol, Reason: reason})

	symbol := u.Symbol
	if reason == "stop_fill" {
		// A stop fill must leave no residual exposure; close whatever
		// the exchange still holds for the symbol.
		e.dispatch(func() {
			if _, err := e.ex.ClosePosition(ctx, symbol); err != nil {
				lg.WithError(err).Warn("safety close after stop fill failed")
			}
		})
	}
	if !sweep {
		return
	}
	e.dispatch(func() {
		if err := e.ex.CancelAllOrders(ctx, symbol); err != nil {
			lg.WithError(err).Warn("sweep of remaining protective orders failed")
		}
	})
}

// onAccountUpdate reconciles tracked position sizes with the exchange's
// view, one symbol at a time.
func (e *Engine) onAccountUpdate(ctx context.Context, a stream.AccountUpdate) {
	for _, p := range a.Positions {
		e.onPositionUpdate(ctx, p)
	}
}

// onPositionUpdate applies one symbol's reported amount. A symbol
// reported back at zero clears everything for it.
func (e *Engine) onPositionUpdate(ctx context.Context, p stream.PositionUpdate) {
	lg := e.log.WithComponent("engine").WithSymbol(p.Symbol)
	var sweep bool
	e.store.With(p.Symbol, func(s *state.Symbol) {
		if p.Amount == 0 {
			if s.Position.Amount == 0 && s.Orders.StopOrderID == "" && s.Orders.TakeProfitOrderID == "" {
				return
			}
			sweep = s.Orders.StopOrderID != "" || s.Orders.TakeProfitOrderID != ""
			s.Flatten()
			lg.Info("exchange reports flat, state cleared")
			e.bus.Publish(events.TopicPositionClosed, events.PositionClosed{Symbol: p.Symbol, Reason: "flat_update"})
			return
		}
		s.Position.Amount = p.Amount
	})
	if sweep {
		symbol := p.Symbol
		e.dispatch(func() {
			if err := e.ex.CancelAllOrders(ctx, symbol); err != nil {
				lg.WithError(err).Warn("cancel of orphaned protective orders failed")
			}
		})
	}
}
