package futures

import "fmt"

// APIError is a non-2xx response from the exchange, carrying the error
// body so callers can propagate the exchange's own explanation.
type APIError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: status %d code %d: %s", e.HTTPStatus, e.Code, e.Message)
}

// Unknown-order responses from cancel endpoints mean the order is already
// gone, which best-effort cancellation treats as success.
const (
	codeUnknownOrder      = -2011
	codeOrderDoesNotExist = -2013
)

// IsUnknownOrder reports whether err means the order no longer exists on
// the exchange.
func IsUnknownOrder(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	return apiErr.HTTPStatus == 404 ||
		apiErr.Code == codeUnknownOrder ||
		apiErr.Code == codeOrderDoesNotExist
}

// OrderAck is the exchange's acknowledgment of a placed order. AvgPrice
// may be zero when the fill price is not yet known; callers must treat
// that as "unknown" and re-query the last trade price, not as an error.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Status        string
	AvgPrice      float64
	ExecutedQty   float64
}

// PositionSnapshot is one open position from the position-risk query.
type PositionSnapshot struct {
	Symbol     string
	Amount     float64 // signed
	EntryPrice float64
}

// CloseResult reports what ClosePosition did.
type CloseResult struct {
	Closed bool    // false when the position was already flat
	Qty    float64 // absolute size closed
	Side   string  // side of the closing order
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

type positionRiskResponse struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}
