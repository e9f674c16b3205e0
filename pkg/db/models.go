package db

import "time"

// Signal is one normalized alert as it was accepted.
type Signal struct {
	ID                string
	Symbol            string
	TradeType         string
	Side              string
	Qty               float64
	Leverage          int
	TakeProfitPercent float64
	SignalAt          time.Time
	ReceivedAt        time.Time
}

// Order is one exchange order this process placed.
type Order struct {
	ID        string // exchange order id
	ClientID  string
	Symbol    string
	Side      string
	Type      string
	Purpose   string // entry, stop_loss, take_profit, close
	Qty       float64
	StopPrice float64
	AvgPrice  float64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Position is the journaled per-symbol position snapshot.
type Position struct {
	Symbol      string
	Amount      float64
	EntryPrice  float64
	TargetPrice float64
	Phase       string
	UpdatedAt   time.Time
}
