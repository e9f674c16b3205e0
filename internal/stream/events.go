package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Event is one decoded user data stream message. Exactly one of Order
// and Account is set, matching Type.
type Event struct {
	Type    string
	Order   *OrderUpdate
	Account *AccountUpdate
}

const (
	EventOrderTradeUpdate = "ORDER_TRADE_UPDATE"
	EventAccountUpdate    = "ACCOUNT_UPDATE"
	EventListenKeyExpired = "listenKeyExpired"
)

// OrderUpdate is the order payload of an ORDER_TRADE_UPDATE event.
type OrderUpdate struct {
	Symbol        string
	Side          string
	OrderType     string // MARKET, STOP_MARKET, TAKE_PROFIT_MARKET, ...
	Status        string // NEW, FILLED, CANCELED, EXPIRED, ...
	ExecutionType string
	OrderID       string
	ClientOrderID string
	AvgPrice      float64
	FilledQty     float64 // cumulative
	ReduceOnly    bool
}

// AccountUpdate carries the position rows of an ACCOUNT_UPDATE event.
type AccountUpdate struct {
	Positions []PositionUpdate
}

type PositionUpdate struct {
	Symbol string
	Amount float64 // signed
}

// Parse decodes one raw stream message. Event types the engine does not
// consume come back with only Type set; callers ignore them by name.
func Parse(msg []byte) (Event, error) {
	// e is not always a plain string on this stream, so decode lazily.
	var head map[string]json.RawMessage
	if err := json.Unmarshal(msg, &head); err != nil {
		return Event{}, fmt.Errorf("decode stream message: %w", err)
	}
	raw, ok := head["e"]
	if !ok {
		return Event{}, fmt.Errorf("stream message without event type")
	}
	var eventType string
	if err := json.Unmarshal(raw, &eventType); err != nil {
		return Event{}, fmt.Errorf("decode event type %s: %w", string(raw), err)
	}

	switch eventType {
	case EventOrderTradeUpdate:
		return parseOrderUpdate(msg)
	case EventAccountUpdate:
		return parseAccountUpdate(msg)
	default:
		return Event{Type: eventType}, nil
	}
}

func parseOrderUpdate(msg []byte) (Event, error) {
	var wrap struct {
		Data struct {
			Symbol        string `json:"s"`
			Side          string `json:"S"`
			OrderType     string `json:"o"`
			Status        string `json:"X"`
			ExecutionType string `json:"x"`
			OrderID       int64  `json:"i"`
			ClientOrderID string `json:"c"`
			AvgPrice      string `json:"ap"`
			CumQty        string `json:"z"`
			ReduceOnly    bool   `json:"R"`
		} `json:"o"`
	}
	if err := json.Unmarshal(msg, &wrap); err != nil {
		return Event{}, fmt.Errorf("decode order update: %w", err)
	}
	d := wrap.Data
	return Event{
		Type: EventOrderTradeUpdate,
		Order: &OrderUpdate{
			Symbol:        d.Symbol,
			Side:          strings.ToUpper(d.Side),
			OrderType:     strings.ToUpper(d.OrderType),
			Status:        strings.ToUpper(d.Status),
			ExecutionType: strings.ToUpper(d.ExecutionType),
			OrderID:       strconv.FormatInt(d.OrderID, 10),
			ClientOrderID: d.ClientOrderID,
			AvgPrice:      toFloat(d.AvgPrice),
			FilledQty:     toFloat(d.CumQty),
			ReduceOnly:    d.ReduceOnly,
		},
	}, nil
}

func parseAccountUpdate(msg []byte) (Event, error) {
	var wrap struct {
		Data struct {
			Positions []struct {
				Symbol string `json:"s"`
				Amount string `json:"pa"`
			} `json:"P"`
		} `json:"a"`
	}
	if err := json.Unmarshal(msg, &wrap); err != nil {
		return Event{}, fmt.Errorf("decode account update: %w", err)
	}
	acct := &AccountUpdate{}
	for _, p := range wrap.Data.Positions {
		acct.Positions = append(acct.Positions, PositionUpdate{
			Symbol: p.Symbol,
			Amount: toFloat(p.Amount),
		})
	}
	return Event{Type: EventAccountUpdate, Account: acct}, nil
}

func toFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
