package db

import (
	"context"
	"fmt"
	"time"
)

// InsertSignal records an accepted alert.
func (d *Database) InsertSignal(ctx context.Context, s Signal) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (id, symbol, trade_type, side, qty, leverage, tp_percent, signal_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Symbol, s.TradeType, s.Side, s.Qty, s.Leverage, s.TakeProfitPercent, s.SignalAt, s.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// InsertOrder records a placed order.
func (d *Database) InsertOrder(ctx context.Context, o Order) error {
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders (id, client_id, symbol, side, type, purpose, qty, stop_price, avg_price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ClientID, o.Symbol, o.Side, o.Type, o.Purpose, o.Qty, o.StopPrice, o.AvgPrice, o.Status, o.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrderStatus records a status transition from the user data stream.
func (d *Database) UpdateOrderStatus(ctx context.Context, orderID, status string, avgPrice float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET status = ?, avg_price = CASE WHEN ? > 0 THEN ? ELSE avg_price END, updated_at = ?
		WHERE id = ?`,
		status, avgPrice, avgPrice, time.Now(), orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// UpsertPosition writes the latest position snapshot for a symbol.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (symbol, amount, entry_price, target_price, phase, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			amount = excluded.amount,
			entry_price = excluded.entry_price,
			target_price = excluded.target_price,
			phase = excluded.phase,
			updated_at = excluded.updated_at`,
		p.Symbol, p.Amount, p.EntryPrice, p.TargetPrice, p.Phase, time.Now())
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// RecentSignals lists the latest accepted alerts, newest first.
func (d *Database) RecentSignals(ctx context.Context, limit int) ([]Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, trade_type, side, qty, leverage, tp_percent, signal_at, received_at
		FROM signals ORDER BY received_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		var s Signal
		if err := rows.Scan(&s.ID, &s.Symbol, &s.TradeType, &s.Side, &s.Qty, &s.Leverage, &s.TakeProfitPercent, &s.SignalAt, &s.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecentOrders lists the latest placed orders, newest first.
func (d *Database) RecentOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, client_id, symbol, side, type, purpose, qty, stop_price, avg_price, status, created_at, updated_at
		FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.ClientID, &o.Symbol, &o.Side, &o.Type, &o.Purpose, &o.Qty, &o.StopPrice, &o.AvgPrice, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OpenPositions lists journaled positions with non-zero amounts.
func (d *Database) OpenPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, amount, entry_price, target_price, phase, updated_at
		FROM positions WHERE amount != 0 ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Amount, &p.EntryPrice, &p.TargetPrice, &p.Phase, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
