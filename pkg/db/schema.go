package db

import "fmt"

// migrations are applied in order on startup; each must be idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS signals (
		id          TEXT PRIMARY KEY,
		symbol      TEXT NOT NULL,
		trade_type  TEXT NOT NULL,
		side        TEXT,
		qty         REAL,
		leverage    INTEGER,
		tp_percent  REAL,
		signal_at   TIMESTAMP,
		received_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol, received_at)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id         TEXT PRIMARY KEY,
		client_id  TEXT,
		symbol     TEXT NOT NULL,
		side       TEXT NOT NULL,
		type       TEXT NOT NULL,
		purpose    TEXT NOT NULL,
		qty        REAL,
		stop_price REAL,
		avg_price  REAL,
		status     TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol, created_at)`,
	`CREATE TABLE IF NOT EXISTS positions (
		symbol       TEXT PRIMARY KEY,
		amount       REAL NOT NULL,
		entry_price  REAL,
		target_price REAL,
		phase        TEXT,
		updated_at   TIMESTAMP NOT NULL
	)`,
}

// ApplyMigrations creates or upgrades the journal schema.
func ApplyMigrations(d *Database) error {
	for i, stmt := range migrations {
		if _, err := d.DB.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
