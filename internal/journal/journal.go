package journal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"signal-core/internal/events"
	"signal-core/internal/logger"
	"signal-core/internal/state"
	"signal-core/pkg/db"
)

// Recorder subscribes to the event bus and persists signals, orders and
// position snapshots. The bus is lossy under pressure, so the journal is
// an audit trail, not the source of truth; live state lives in the store
// and on the exchange.
type Recorder struct {
	db    *db.Database
	bus   *events.Bus
	store *state.Store
	log   *logger.Logger
}

func NewRecorder(database *db.Database, bus *events.Bus, store *state.Store, log *logger.Logger) *Recorder {
	return &Recorder{
		db:    database,
		bus:   bus,
		store: store,
		log:   log.WithComponent("journal"),
	}
}

// Run consumes bus events until ctx is done or the bus closes.
func (r *Recorder) Run(ctx context.Context) {
	signals, unsubSignals := r.bus.Subscribe(events.TopicSignalReceived, 128)
	placed, unsubPlaced := r.bus.Subscribe(events.TopicOrderPlaced, 128)
	filled, unsubFilled := r.bus.Subscribe(events.TopicOrderFilled, 128)
	closed, unsubClosed := r.bus.Subscribe(events.TopicPositionClosed, 64)
	defer unsubSignals()
	defer unsubPlaced()
	defer unsubFilled()
	defer unsubClosed()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-signals:
			if !ok {
				return
			}
			if p, ok := ev.(events.SignalReceived); ok {
				r.recordSignal(ctx, p)
			}
		case ev, ok := <-placed:
			if !ok {
				return
			}
			if p, ok := ev.(events.OrderPlaced); ok {
				r.recordPlaced(ctx, p)
			}
		case ev, ok := <-filled:
			if !ok {
				return
			}
			if p, ok := ev.(events.OrderFilled); ok {
				r.recordFilled(ctx, p)
			}
		case ev, ok := <-closed:
			if !ok {
				return
			}
			if p, ok := ev.(events.PositionClosed); ok {
				r.recordClosed(ctx, p)
			}
		}
	}
}

func (r *Recorder) recordSignal(ctx context.Context, p events.SignalReceived) {
	err := r.db.InsertSignal(ctx, db.Signal{
		ID:                uuid.NewString(),
		Symbol:            p.Symbol,
		TradeType:         p.TradeType,
		Side:              p.Side,
		Qty:               p.Quantity,
		Leverage:          p.Leverage,
		TakeProfitPercent: p.TakeProfitPercent,
		SignalAt:          p.SignalTime,
		ReceivedAt:        time.Now(),
	})
	if err != nil {
		r.log.WithSymbol(p.Symbol).WithError(err).Error("signal journal write failed")
	}
}

func (r *Recorder) recordPlaced(ctx context.Context, p events.OrderPlaced) {
	now := time.Now()
	err := r.db.InsertOrder(ctx, db.Order{
		ID:        p.OrderID,
		ClientID:  p.ClientID,
		Symbol:    p.Symbol,
		Side:      p.Side,
		Type:      p.Type,
		Purpose:   p.Purpose,
		Qty:       p.Qty,
		StopPrice: p.StopPrice,
		AvgPrice:  p.AvgPrice,
		Status:    p.Status,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		r.log.WithSymbol(p.Symbol).WithOrderID(p.OrderID).WithError(err).Error("order journal write failed")
	}
	r.snapshotPosition(ctx, p.Symbol)
}

func (r *Recorder) recordFilled(ctx context.Context, p events.OrderFilled) {
	if err := r.db.UpdateOrderStatus(ctx, p.OrderID, "FILLED", p.AvgPrice); err != nil {
		r.log.WithSymbol(p.Symbol).WithOrderID(p.OrderID).WithError(err).Error("fill journal write failed")
	}
	r.snapshotPosition(ctx, p.Symbol)
}

func (r *Recorder) recordClosed(ctx context.Context, p events.PositionClosed) {
	r.snapshotPosition(ctx, p.Symbol)
}

func (r *Recorder) snapshotPosition(ctx context.Context, symbol string) {
	var pos db.Position
	r.store.With(symbol, func(s *state.Symbol) {
		pos = db.Position{
			Symbol:      symbol,
			Amount:      s.Position.Amount,
			EntryPrice:  s.Position.EntryPrice,
			TargetPrice: s.Position.TargetPrice,
			Phase:       string(s.Phase),
			UpdatedAt:   time.Now(),
		}
	})
	if err := r.db.UpsertPosition(ctx, pos); err != nil {
		r.log.WithSymbol(symbol).WithError(err).Error("position journal write failed")
	}
}
