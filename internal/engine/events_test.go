package engine

import (
	"context"
	"testing"
	"time"

	"signal-core/internal/state"
	"signal-core/internal/stream"
)

func TestOnOrderUpdateEntryFill(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	store.With("BTCUSDT", func(s *state.Symbol) {
		s.Position.TakeProfitPercent = 0.5
	})

	eng.onOrderUpdate(context.Background(), stream.OrderUpdate{
		Symbol:    "BTCUSDT",
		Side:      "BUY",
		OrderType: "MARKET",
		Status:    "FILLED",
		OrderID:   "42",
		AvgPrice:  100,
		FilledQty: 0.5,
	})

	store.With("BTCUSDT", func(s *state.Symbol) {
		if s.Position.Amount != 0.5 {
			t.Errorf("amount = %v, want 0.5", s.Position.Amount)
		}
		if s.Position.EntryPrice != 100 || s.Position.BestPrice != 100 {
			t.Errorf("entry/best = %v/%v, want 100/100", s.Position.EntryPrice, s.Position.BestPrice)
		}
		if s.Position.TargetPrice != 100.5 {
			t.Errorf("target = %v, want 100.5", s.Position.TargetPrice)
		}
	})
}

func TestOnOrderUpdateSellEntryFillIsNegative(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)

	eng.onOrderUpdate(context.Background(), stream.OrderUpdate{
		Symbol:    "ETHUSDT",
		Side:      "SELL",
		OrderType: "MARKET",
		Status:    "FILLED",
		OrderID:   "7",
		AvgPrice:  200,
		FilledQty: 2,
	})
	store.With("ETHUSDT", func(s *state.Symbol) {
		if s.Position.Amount != -2 {
			t.Errorf("amount = %v, want -2", s.Position.Amount)
		}
	})
}

func TestOnOrderUpdateStopFillFlattensAndSweeps(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	store.With("BTCUSDT", func(s *state.Symbol) {
		s.Position.Amount = 0.5
		s.Position.EntryPrice = 100
		s.Orders.StopOrderID = "10"
		s.Orders.TakeProfitOrderID = "11"
		s.Phase = state.PhaseTrailing
	})

	eng.onOrderUpdate(context.Background(), stream.OrderUpdate{
		Symbol:     "BTCUSDT",
		Side:       "SELL",
		OrderType:  "STOP_MARKET",
		Status:     "FILLED",
		OrderID:    "10",
		AvgPrice:   99,
		FilledQty:  0.5,
		ReduceOnly: true,
	})
	eng.WaitIdle()

	store.With("BTCUSDT", func(s *state.Symbol) {
		if s.Position.Amount != 0 {
			t.Errorf("amount = %v, want 0 after stop fill", s.Position.Amount)
		}
		if s.Orders.StopOrderID != "" || s.Orders.TakeProfitOrderID != "" {
			t.Error("protective ids survived stop fill")
		}
		if s.Phase != state.PhaseClosed {
			t.Errorf("phase = %v, want CLOSED", s.Phase)
		}
	})
	if len(fx.canceledAll) != 1 || fx.canceledAll[0] != "BTCUSDT" {
		t.Errorf("sweep calls = %v, want [BTCUSDT]", fx.canceledAll)
	}
	if len(fx.closedSyms) != 1 || fx.closedSyms[0] != "BTCUSDT" {
		t.Errorf("close calls = %v, want safety close of BTCUSDT", fx.closedSyms)
	}
}

func TestOnOrderUpdateTakeProfitFillDoesNotClose(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	store.With("BTCUSDT", func(s *state.Symbol) {
		s.Position.Amount = 0.5
		s.Orders.StopOrderID = "10"
		s.Orders.TakeProfitOrderID = "11"
	})

	eng.onOrderUpdate(context.Background(), stream.OrderUpdate{
		Symbol:     "BTCUSDT",
		Side:       "SELL",
		OrderType:  "TAKE_PROFIT_MARKET",
		Status:     "FILLED",
		OrderID:    "11",
		AvgPrice:   101,
		FilledQty:  0.5,
		ReduceOnly: true,
	})
	eng.WaitIdle()

	if len(fx.closedSyms) != 0 {
		t.Errorf("close calls = %v, want none for a take-profit fill", fx.closedSyms)
	}
	if len(fx.canceledAll) != 1 {
		t.Errorf("sweep calls = %v, want one", fx.canceledAll)
	}
}

func TestOnOrderUpdateEntryFillPlacesDeferredProtectives(t *testing.T) {
	// Ack carries no average price and the last-price query fails, so
	// the entry is placed with protective orders deferred.
	fx := &fakeExchange{marketAvg: 0, lastPrice: 0}
	eng, store := newTestEngine(fx)

	res, err := eng.HandleIntent(context.Background(), buyIntent(time.Now()))
	if err != nil {
		t.Fatalf("HandleIntent: %v", err)
	}
	if res.Status != "success" {
		t.Fatalf("status = %q, want success", res.Status)
	}
	if n := len(fx.ordersOfType("STOP_MARKET")); n != 0 {
		t.Fatalf("stop orders before fill = %d, want 0", n)
	}

	eng.onOrderUpdate(context.Background(), stream.OrderUpdate{
		Symbol:    "BTCUSDT",
		Side:      "BUY",
		OrderType: "MARKET",
		Status:    "FILLED",
		OrderID:   "1",
		AvgPrice:  100,
		FilledQty: 0.5,
	})

	stops := fx.ordersOfType("STOP_MARKET")
	if len(stops) != 1 {
		t.Fatalf("stop orders after fill = %d, want 1", len(stops))
	}
	if got, want := stops[0].StopPrice, 99.0; got != want {
		t.Errorf("stop price = %v, want %v", got, want)
	}
	tps := fx.ordersOfType("TAKE_PROFIT_MARKET")
	if len(tps) != 1 {
		t.Fatalf("take-profit orders after fill = %d, want 1", len(tps))
	}
	if got, want := tps[0].StopPrice, 100.5; got != want {
		t.Errorf("take-profit price = %v, want %v", got, want)
	}
	store.With("BTCUSDT", func(s *state.Symbol) {
		if s.Position.EntryPrice != 100 {
			t.Errorf("entry price = %v, want 100 from fill", s.Position.EntryPrice)
		}
		if s.Orders.StopOrderID == "" || s.Orders.TakeProfitOrderID == "" {
			t.Error("deferred protective order ids not tracked")
		}
	})
}

func TestOnOrderUpdateEntryFillDoesNotDuplicateProtectives(t *testing.T) {
	fx := &fakeExchange{marketAvg: 100}
	eng, _ := newTestEngine(fx)

	if _, err := eng.HandleIntent(context.Background(), buyIntent(time.Now())); err != nil {
		t.Fatalf("HandleIntent: %v", err)
	}
	eng.onOrderUpdate(context.Background(), stream.OrderUpdate{
		Symbol:    "BTCUSDT",
		Side:      "BUY",
		OrderType: "MARKET",
		Status:    "FILLED",
		OrderID:   "1",
		AvgPrice:  100.1,
		FilledQty: 0.5,
	})

	if n := len(fx.ordersOfType("STOP_MARKET")); n != 1 {
		t.Errorf("stop orders = %d, want 1 after fill of an already protected entry", n)
	}
	if n := len(fx.ordersOfType("TAKE_PROFIT_MARKET")); n != 1 {
		t.Errorf("take-profit orders = %d, want 1 after fill of an already protected entry", n)
	}
}

func TestOnOrderUpdateCanceledClearsTrackedID(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	store.With("BTCUSDT", func(s *state.Symbol) {
		s.Orders.StopOrderID = "10"
		s.Orders.StopPrice = 99
	})

	eng.onOrderUpdate(context.Background(), stream.OrderUpdate{
		Symbol:    "BTCUSDT",
		OrderType: "STOP_MARKET",
		Status:    "CANCELED",
		OrderID:   "10",
	})
	store.With("BTCUSDT", func(s *state.Symbol) {
		if s.Orders.StopOrderID != "" || s.Orders.StopPrice != 0 {
			t.Errorf("orders = %+v, want stop cleared", s.Orders)
		}
	})
}

func TestOnOrderUpdateCanceledUnknownIDIgnored(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	store.With("BTCUSDT", func(s *state.Symbol) {
		s.Orders.StopOrderID = "10"
	})

	eng.onOrderUpdate(context.Background(), stream.OrderUpdate{
		Symbol:    "BTCUSDT",
		OrderType: "STOP_MARKET",
		Status:    "CANCELED",
		OrderID:   "999",
	})
	store.With("BTCUSDT", func(s *state.Symbol) {
		if s.Orders.StopOrderID != "10" {
			t.Errorf("stop id = %q, want untouched 10", s.Orders.StopOrderID)
		}
	})
}

func TestOnAccountUpdateZeroAmountClearsState(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	store.With("BTCUSDT", func(s *state.Symbol) {
		s.Position.Amount = 0.5
		s.Orders.StopOrderID = "10"
		s.Phase = state.PhaseTrailing
	})

	eng.onAccountUpdate(context.Background(), stream.AccountUpdate{
		Positions: []stream.PositionUpdate{{Symbol: "BTCUSDT", Amount: 0}},
	})
	eng.WaitIdle()

	store.With("BTCUSDT", func(s *state.Symbol) {
		if s.Position.Amount != 0 || s.Orders.StopOrderID != "" {
			t.Errorf("state not cleared: %+v / %+v", s.Position, s.Orders)
		}
		if s.Phase != state.PhaseIdle {
			t.Errorf("phase = %v, want IDLE", s.Phase)
		}
	})
	if len(fx.canceledAll) != 1 {
		t.Errorf("sweep calls = %v, want one", fx.canceledAll)
	}
}

func TestOnAccountUpdateRefreshesAmount(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	store.With("BTCUSDT", func(s *state.Symbol) {
		s.Position.Amount = 0.5
	})

	eng.onAccountUpdate(context.Background(), stream.AccountUpdate{
		Positions: []stream.PositionUpdate{{Symbol: "BTCUSDT", Amount: 0.3}},
	})
	store.With("BTCUSDT", func(s *state.Symbol) {
		if s.Position.Amount != 0.3 {
			t.Errorf("amount = %v, want 0.3", s.Position.Amount)
		}
	})
}

func TestRunDoesNotStallOnBusySymbol(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)

	// Hold BTCUSDT's lock as a slow entry in flight would.
	held := make(chan struct{})
	release := make(chan struct{})
	go store.With("BTCUSDT", func(s *state.Symbol) {
		close(held)
		<-release
	})
	<-held

	evs := make(chan stream.Event, 2)
	evs <- stream.Event{Type: stream.EventOrderTradeUpdate, Order: &stream.OrderUpdate{
		Symbol: "BTCUSDT", Side: "BUY", OrderType: "MARKET", Status: "FILLED",
		OrderID: "1", AvgPrice: 100, FilledQty: 1,
	}}
	evs <- stream.Event{Type: stream.EventOrderTradeUpdate, Order: &stream.OrderUpdate{
		Symbol: "ETHUSDT", Side: "BUY", OrderType: "MARKET", Status: "FILLED",
		OrderID: "2", AvgPrice: 200, FilledQty: 2,
	}}
	close(evs)

	consumed := make(chan struct{})
	go func() {
		eng.Run(context.Background(), evs)
		close(consumed)
	}()

	// The consumer must drain both events while BTCUSDT stays locked.
	select {
	case <-consumed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream consumer stalled behind a busy symbol")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var amt float64
		store.With("ETHUSDT", func(s *state.Symbol) { amt = s.Position.Amount })
		if amt == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ETHUSDT fill not applied while BTCUSDT busy")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	eng.WaitIdle()
	store.With("BTCUSDT", func(s *state.Symbol) {
		if s.Position.Amount != 1 {
			t.Errorf("BTCUSDT amount = %v, want 1 once the lock freed", s.Position.Amount)
		}
	})
}

func TestOnAccountUpdateUntrackedFlatSymbolIsNoop(t *testing.T) {
	fx := &fakeExchange{}
	eng, _ := newTestEngine(fx)

	eng.onAccountUpdate(context.Background(), stream.AccountUpdate{
		Positions: []stream.PositionUpdate{{Symbol: "XRPUSDT", Amount: 0}},
	})
	eng.WaitIdle()
	if len(fx.canceledAll) != 0 {
		t.Errorf("cancel-all for untracked symbol: %v", fx.canceledAll)
	}
}
