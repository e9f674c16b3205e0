package signal

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedSignal marks alerts that cannot be normalized. No exchange
// call is made for these; the webhook surfaces them as a client error.
var ErrMalformedSignal = errors.New("malformed signal")

// Alert is the inbound webhook payload shape (consumed, not owned).
type Alert struct {
	Value     string    `json:"value"`
	TradeInfo TradeInfo `json:"trade_info"`
	Timestamp string    `json:"timestamp"`
}

type TradeInfo struct {
	Ticker     string `json:"ticker"`
	Contracts  string `json:"contracts"`
	Leverage   string `json:"leverage,omitempty"`
	TakeProfit string `json:"take_profit,omitempty"`
}

// TradeType classifies an intent by the parsed position delta.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
	TradeExit TradeType = "EXIT"
)

// TradeIntent is the canonical internal representation of a requested
// trade action. Immutable once produced.
type TradeIntent struct {
	Symbol            string
	Side              string // BUY or SELL; empty for EXIT
	Quantity          float64
	Leverage          int     // 0 = leave account leverage untouched
	TakeProfitPercent float64 // 0 = engine default
	Type              TradeType
	SignalTime        time.Time
}

var positionRe = regexp.MustCompile(`[Nn]ew strategy position is\s*(-?\d+(?:\.\d+)?)`)

// Normalize converts a raw alert into a TradeIntent. The sign of the
// "new strategy position" number in the free text is the single source of
// trade direction; action words elsewhere in the message are ignored
// because they can contradict the position delta.
func Normalize(a Alert) (TradeIntent, error) {
	m := positionRe.FindStringSubmatch(a.Value)
	if m == nil {
		return TradeIntent{}, fmt.Errorf("%w: no position delta in value %q", ErrMalformedSignal, a.Value)
	}
	delta, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return TradeIntent{}, fmt.Errorf("%w: position delta %q: %v", ErrMalformedSignal, m[1], err)
	}

	if strings.TrimSpace(a.Timestamp) == "" {
		return TradeIntent{}, fmt.Errorf("%w: missing timestamp", ErrMalformedSignal)
	}
	tsSec, err := strconv.ParseFloat(a.Timestamp, 64)
	if err != nil {
		return TradeIntent{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformedSignal, a.Timestamp, err)
	}

	if a.TradeInfo.Ticker == "" {
		return TradeIntent{}, fmt.Errorf("%w: missing ticker", ErrMalformedSignal)
	}
	if a.TradeInfo.Contracts == "" {
		return TradeIntent{}, fmt.Errorf("%w: missing contracts", ErrMalformedSignal)
	}
	qty, err := strconv.ParseFloat(a.TradeInfo.Contracts, 64)
	if err != nil || qty <= 0 {
		return TradeIntent{}, fmt.Errorf("%w: contracts %q", ErrMalformedSignal, a.TradeInfo.Contracts)
	}

	intent := TradeIntent{
		Symbol:     strings.ToUpper(a.TradeInfo.Ticker),
		Quantity:   qty,
		SignalTime: floatSecondsToTime(tsSec),
	}

	switch {
	case delta > 0:
		intent.Type = TradeBuy
		intent.Side = "BUY"
	case delta < 0:
		intent.Type = TradeSell
		intent.Side = "SELL"
	default:
		intent.Type = TradeExit
	}

	if a.TradeInfo.Leverage != "" {
		lev, err := strconv.Atoi(strings.TrimSpace(a.TradeInfo.Leverage))
		if err != nil || lev < 0 {
			return TradeIntent{}, fmt.Errorf("%w: leverage %q", ErrMalformedSignal, a.TradeInfo.Leverage)
		}
		intent.Leverage = lev
	}
	if a.TradeInfo.TakeProfit != "" {
		tp, err := strconv.ParseFloat(strings.TrimSpace(a.TradeInfo.TakeProfit), 64)
		if err != nil || tp < 0 {
			return TradeIntent{}, fmt.Errorf("%w: take_profit %q", ErrMalformedSignal, a.TradeInfo.TakeProfit)
		}
		intent.TakeProfitPercent = tp
	}

	return intent, nil
}

func floatSecondsToTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}
