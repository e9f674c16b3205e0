package events

import "time"

// Topic enumerates the engine's internal pub/sub topics.
type Topic string

const (
	TopicSignalReceived  Topic = "signal.received"
	TopicOrderPlaced     Topic = "order.placed"
	TopicOrderFilled     Topic = "order.filled"
	TopicProtectiveMoved Topic = "protective.moved"
	TopicPositionClosed  Topic = "position.closed"
)

// SignalReceived is published for every alert that normalizes cleanly.
type SignalReceived struct {
	Symbol            string
	TradeType         string
	Side              string
	Quantity          float64
	Leverage          int
	TakeProfitPercent float64
	SignalTime        time.Time
}

// OrderPlaced is published after the exchange acknowledges an order.
type OrderPlaced struct {
	OrderID   string
	ClientID  string
	Symbol    string
	Side      string
	Type      string // MARKET, STOP_MARKET, TAKE_PROFIT_MARKET
	Purpose   string // entry, stop_loss, take_profit, close
	Qty       float64
	StopPrice float64
	AvgPrice  float64
	Status    string
}

// OrderFilled is published from the user data stream on a full fill.
type OrderFilled struct {
	OrderID  string
	Symbol   string
	Side     string
	Type     string
	AvgPrice float64
	Qty      float64
}

// ProtectiveMoved is published when the trailing controller replaces a stop.
type ProtectiveMoved struct {
	Symbol     string
	OldOrderID string
	NewOrderID string
	StopPrice  float64
	BestPrice  float64
}

// PositionClosed is published when a symbol returns to flat.
type PositionClosed struct {
	Symbol string
	Reason string // stop_fill, tp_fill, exit_signal, flat_update
}
