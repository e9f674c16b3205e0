package stream

import (
	"testing"
	"time"
)

func TestParseOrderTradeUpdate(t *testing.T) {
	msg := []byte(`{
		"e": "ORDER_TRADE_UPDATE",
		"E": 1700000001000,
		"o": {
			"s": "BTCUSDT",
			"S": "SELL",
			"o": "STOP_MARKET",
			"X": "FILLED",
			"x": "TRADE",
			"i": 8886774,
			"c": "sig-abc",
			"ap": "99.20",
			"z": "0.500",
			"R": true
		}
	}`)
	ev, err := Parse(msg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Type != EventOrderTradeUpdate || ev.Order == nil {
		t.Fatalf("ev = %+v, want order update", ev)
	}
	o := ev.Order
	if o.Symbol != "BTCUSDT" || o.Side != "SELL" || o.OrderType != "STOP_MARKET" {
		t.Errorf("order header = %+v", o)
	}
	if o.Status != "FILLED" || o.ExecutionType != "TRADE" {
		t.Errorf("order status = %q / %q", o.Status, o.ExecutionType)
	}
	if o.OrderID != "8886774" {
		t.Errorf("order id = %q, want 8886774", o.OrderID)
	}
	if o.AvgPrice != 99.2 || o.FilledQty != 0.5 {
		t.Errorf("avg/qty = %v/%v, want 99.2/0.5", o.AvgPrice, o.FilledQty)
	}
	if !o.ReduceOnly {
		t.Error("reduce-only flag lost")
	}
}

func TestParseAccountUpdate(t *testing.T) {
	msg := []byte(`{
		"e": "ACCOUNT_UPDATE",
		"a": {
			"P": [
				{"s": "BTCUSDT", "pa": "0.500"},
				{"s": "ETHUSDT", "pa": "-2"},
				{"s": "XRPUSDT", "pa": "0"}
			]
		}
	}`)
	ev, err := Parse(msg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Type != EventAccountUpdate || ev.Account == nil {
		t.Fatalf("ev = %+v, want account update", ev)
	}
	got := ev.Account.Positions
	if len(got) != 3 {
		t.Fatalf("positions = %d, want 3", len(got))
	}
	if got[0].Amount != 0.5 || got[1].Amount != -2 || got[2].Amount != 0 {
		t.Errorf("amounts = %v, %v, %v", got[0].Amount, got[1].Amount, got[2].Amount)
	}
}

func TestParseIgnoredEventType(t *testing.T) {
	ev, err := Parse([]byte(`{"e": "MARGIN_CALL", "E": 1}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Type != "MARGIN_CALL" || ev.Order != nil || ev.Account != nil {
		t.Errorf("ev = %+v, want bare MARGIN_CALL", ev)
	}
}

func TestParseListenKeyExpired(t *testing.T) {
	ev, err := Parse([]byte(`{"e": "listenKeyExpired", "E": 1}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Type != EventListenKeyExpired {
		t.Errorf("type = %q, want %q", ev.Type, EventListenKeyExpired)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"not json", `not json`},
		{"no event type", `{"x": 1}`},
		{"non-string event type", `{"e": 42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.msg)); err == nil {
				t.Error("Parse succeeded, want error")
			}
		})
	}
}

func TestBackoffCurve(t *testing.T) {
	tests := []struct {
		attempts int
		wantSec  int
	}{
		{0, 1},
		{1, 2},
		{2, 4},
		{5, 32},
		{6, 60},
		{10, 60},
		{40, 60}, // guard against shift overflow
	}
	for _, tt := range tests {
		got := backoff(tt.attempts, 60*time.Second)
		if int(got.Seconds()) != tt.wantSec {
			t.Errorf("backoff(%d) = %v, want %ds", tt.attempts, got, tt.wantSec)
		}
	}
}
