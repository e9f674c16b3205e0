package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"signal-core/internal/state"
)

func withinTick(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// armedLong seeds a long position that entered at 100 with a 0.5% target
// and an armed trailing stop.
func armedLong(store *state.Store) {
	store.With("BTCUSDT", func(s *state.Symbol) {
		s.Position.Amount = 0.5
		s.Position.EntryPrice = 100
		s.Position.BestPrice = 100
		s.Position.TakeProfitPercent = 0.5
		s.Position.TargetPrice = 100.5
		s.Phase = state.PhaseArmed
	})
}

func TestTrailingStaysArmedBelowActivation(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	armedLong(store)

	// 100.2 is 40% of the way to the 100.5 target; activation is 50%.
	store.With("BTCUSDT", func(s *state.Symbol) {
		eng.evaluatePrice(context.Background(), s, "BTCUSDT", 100.2)
		if s.Phase != state.PhaseArmed {
			t.Errorf("phase = %v, want ARMED", s.Phase)
		}
		if s.Orders.StopOrderID != "" {
			t.Error("stop placed before activation threshold")
		}
	})
	if len(fx.placed) != 0 {
		t.Errorf("orders placed: %+v", fx.placed)
	}
}

func TestTrailingActivatesAtThreshold(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	armedLong(store)

	// 100.3 is 60% of the way to target.
	store.With("BTCUSDT", func(s *state.Symbol) {
		eng.evaluatePrice(context.Background(), s, "BTCUSDT", 100.3)
		if s.Phase != state.PhaseTrailing {
			t.Fatalf("phase = %v, want TRAILING", s.Phase)
		}
		if s.Orders.StopOrderID == "" {
			t.Fatal("no stop tracked after activation")
		}
		want := 100.3 * (1 - 0.3/100)
		if !withinTick(s.Orders.StopPrice, want) {
			t.Errorf("stop price = %v, want %v", s.Orders.StopPrice, want)
		}
	})
}

func TestTrailingMovesStopOnNewBest(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	armedLong(store)

	ctx := context.Background()
	store.With("BTCUSDT", func(s *state.Symbol) {
		eng.evaluatePrice(ctx, s, "BTCUSDT", 100.4)
		firstID := s.Orders.StopOrderID
		firstPrice := s.Orders.StopPrice

		eng.evaluatePrice(ctx, s, "BTCUSDT", 101.0)
		if s.Orders.StopOrderID == firstID {
			t.Error("stop order not replaced after best price improved")
		}
		if s.Orders.StopPrice <= firstPrice {
			t.Errorf("stop did not tighten: %v -> %v", firstPrice, s.Orders.StopPrice)
		}
		if len(fx.canceled) != 1 || fx.canceled[0] != firstID {
			t.Errorf("canceled = %v, want [%s]", fx.canceled, firstID)
		}
	})
}

func TestTrailingIgnoresWorsePrice(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	armedLong(store)

	ctx := context.Background()
	store.With("BTCUSDT", func(s *state.Symbol) {
		eng.evaluatePrice(ctx, s, "BTCUSDT", 101.0)
		id := s.Orders.StopOrderID
		price := s.Orders.StopPrice

		eng.evaluatePrice(ctx, s, "BTCUSDT", 100.6)
		if s.Orders.StopOrderID != id || !withinTick(s.Orders.StopPrice, price) {
			t.Errorf("stop moved on a worse price: id %s -> %s, price %v -> %v",
				id, s.Orders.StopOrderID, price, s.Orders.StopPrice)
		}
	})
	if len(fx.canceled) != 0 {
		t.Errorf("canceled = %v, want none", fx.canceled)
	}
}

func TestTrailingCancelFailureKeepsCurrentStop(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	armedLong(store)

	ctx := context.Background()
	store.With("BTCUSDT", func(s *state.Symbol) {
		eng.evaluatePrice(ctx, s, "BTCUSDT", 101.0)
		id := s.Orders.StopOrderID

		fx.cancelErr = errors.New("exchange down")
		eng.evaluatePrice(ctx, s, "BTCUSDT", 102.0)
		if s.Orders.StopOrderID != id {
			t.Errorf("stop id = %s, want unchanged %s when cancel fails", s.Orders.StopOrderID, id)
		}
	})
}

func TestTrailingPlaceFailureLeavesNoTrackedStop(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	armedLong(store)

	ctx := context.Background()
	store.With("BTCUSDT", func(s *state.Symbol) {
		eng.evaluatePrice(ctx, s, "BTCUSDT", 101.0)

		fx.stopErr = errors.New("placement refused")
		eng.evaluatePrice(ctx, s, "BTCUSDT", 102.0)
		if s.Orders.StopOrderID != "" {
			t.Errorf("stop id = %q, want empty after cancel succeeded but place failed", s.Orders.StopOrderID)
		}
	})
}

func TestTrailingShortSide(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	store.With("ETHUSDT", func(s *state.Symbol) {
		s.Position.Amount = -2
		s.Position.EntryPrice = 200
		s.Position.BestPrice = 200
		s.Position.TakeProfitPercent = 0.5
		s.Position.TargetPrice = 199
		s.Phase = state.PhaseArmed
	})

	ctx := context.Background()
	store.With("ETHUSDT", func(s *state.Symbol) {
		// 199.4 is 60% of the way down to 199.
		eng.evaluatePrice(ctx, s, "ETHUSDT", 199.4)
		if s.Phase != state.PhaseTrailing {
			t.Fatalf("phase = %v, want TRAILING", s.Phase)
		}
		want := 199.4 * (1 + 0.3/100)
		if !withinTick(s.Orders.StopPrice, want) {
			t.Errorf("short stop price = %v, want %v above best", s.Orders.StopPrice, want)
		}
	})
	stops := fx.ordersOfType("STOP_MARKET")
	if len(stops) != 1 || stops[0].Side != "BUY" || stops[0].Qty != 2 {
		t.Errorf("short trailing stop = %+v, want BUY qty 2", stops)
	}
}

func TestTrailingIgnoresFlatSymbol(t *testing.T) {
	fx := &fakeExchange{}
	eng, store := newTestEngine(fx)
	store.With("BTCUSDT", func(s *state.Symbol) {
		s.Phase = state.PhaseArmed
		eng.evaluatePrice(context.Background(), s, "BTCUSDT", 100)
	})
	if len(fx.placed) != 0 {
		t.Errorf("orders placed for flat symbol: %+v", fx.placed)
	}
}
