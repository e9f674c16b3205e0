package futures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"signal-core/internal/logger"
)

// newClientID tags every order we place so fills on the user data stream
// can be attributed to this process.
func newClientID() string {
	return "sig-" + uuid.NewString()
}

// Config holds Binance USDT-M futures credentials and tuning.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64         // ms
	Timeout    time.Duration // per-request bound
}

// Client issues signed REST calls against Binance USDT-M futures.
// All requests run under a bounded timeout and are never retried here:
// a retried market order risks duplicate execution, so retry policy
// belongs to the caller (and only for idempotent best-effort cancels).
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	timeSync   *timeSync
	rate       *rateTracker
	precision  *precisionCache
	log        *logger.Logger
}

// NewClient creates a futures client. Credentials may be empty for
// unauthenticated market-data use; signed calls will then fail.
func NewClient(cfg Config, log *logger.Logger) *Client {
	base := "https://fapi.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		timeSync:   &timeSync{},
		rate:       newRateTracker(2400, time.Minute, log),
		precision:  newPrecisionCache(),
		log:        log,
	}
}

// ServerTime fetches the exchange clock and refreshes the local offset.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	before := time.Now().UnixMilli()
	body, err := c.doPublic(ctx, http.MethodGet, "/fapi/v1/time", "")
	if err != nil {
		return 0, err
	}
	after := time.Now().UnixMilli()

	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	c.timeSync.update(res.ServerTime, before, after)
	return res.ServerTime, nil
}

// timestamp returns a signing timestamp, syncing with the server clock
// when the cached offset is stale.
func (c *Client) timestamp(ctx context.Context) int64 {
	if c.timeSync.stale(30 * time.Minute) {
		if _, err := c.ServerTime(ctx); err != nil {
			c.log.WithComponent("binance").WithError(err).Warn("server time sync failed, using local clock")
		}
	}
	return c.timeSync.now()
}

// SetLeverage applies account leverage for a symbol. Not idempotent in
// effect on the account, but repeated calls simply re-apply the value.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	p := newParams().
		Set("symbol", symbol).
		SetInt("leverage", int64(leverage)).
		SetInt("timestamp", c.timestamp(ctx)).
		SetInt("recvWindow", c.cfg.RecvWindow)
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", p)
	return err
}

// PlaceMarketOrder submits a MARKET order, optionally setting leverage
// first. Quantity is floored to the symbol's step size. A zero AvgPrice
// in the ack means the fill price is not known yet.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64, leverage int) (OrderAck, error) {
	if leverage > 0 {
		if err := c.SetLeverage(ctx, symbol, leverage); err != nil {
			// A leverage failure re-applies on the next signal; the entry
			// itself must still go through.
			c.log.WithSymbol(symbol).WithError(err).Warn("set leverage failed")
		}
	}

	prec, err := c.Precision(ctx, symbol)
	if err != nil {
		return OrderAck{}, err
	}

	p := newParams().
		Set("symbol", symbol).
		Set("side", strings.ToUpper(side)).
		Set("type", "MARKET").
		Set("quantity", prec.FormatQty(qty)).
		Set("newClientOrderId", newClientID()).
		SetInt("timestamp", c.timestamp(ctx)).
		SetInt("recvWindow", c.cfg.RecvWindow)

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", p)
	if err != nil {
		return OrderAck{}, err
	}
	return decodeAck(body)
}

// PlaceStopLoss submits a reduce-only STOP_MARKET order. Price is floored
// to tick size and quantity to step size, so a protective order never
// rounds past what the account can support.
func (c *Client) PlaceStopLoss(ctx context.Context, symbol, side string, qty, stopPrice float64) (OrderAck, error) {
	return c.placeTrigger(ctx, "STOP_MARKET", symbol, side, qty, stopPrice)
}

// PlaceTakeProfit submits a reduce-only TAKE_PROFIT_MARKET order.
func (c *Client) PlaceTakeProfit(ctx context.Context, symbol, side string, qty, stopPrice float64) (OrderAck, error) {
	return c.placeTrigger(ctx, "TAKE_PROFIT_MARKET", symbol, side, qty, stopPrice)
}

func (c *Client) placeTrigger(ctx context.Context, orderType, symbol, side string, qty, stopPrice float64) (OrderAck, error) {
	prec, err := c.Precision(ctx, symbol)
	if err != nil {
		return OrderAck{}, err
	}

	p := newParams().
		Set("symbol", symbol).
		Set("side", strings.ToUpper(side)).
		Set("type", orderType).
		Set("stopPrice", prec.FormatPrice(stopPrice)).
		Set("quantity", prec.FormatQty(qty)).
		Set("reduceOnly", "true").
		Set("newClientOrderId", newClientID()).
		SetInt("timestamp", c.timestamp(ctx)).
		SetInt("recvWindow", c.cfg.RecvWindow)

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", p)
	if err != nil {
		return OrderAck{}, err
	}
	return decodeAck(body)
}

// CancelOrder cancels a single order. An unknown-order response means the
// order is already gone and is treated as success.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p := newParams().
		Set("symbol", symbol).
		Set("orderId", orderID).
		SetInt("timestamp", c.timestamp(ctx)).
		SetInt("recvWindow", c.cfg.RecvWindow)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", p)
	if err != nil && IsUnknownOrder(err) {
		return nil
	}
	return err
}

// CancelAllOrders cancels every open order for a symbol, best effort.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	p := newParams().
		Set("symbol", symbol).
		SetInt("timestamp", c.timestamp(ctx)).
		SetInt("recvWindow", c.cfg.RecvWindow)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", p)
	if err != nil && IsUnknownOrder(err) {
		return nil
	}
	return err
}

// PositionAmount returns the signed open position for a symbol. Zero can
// mean "flat" or "query failed"; callers deciding trade direction must
// not treat a zero from an errored call as a genuine flat position.
func (c *Client) PositionAmount(ctx context.Context, symbol string) (float64, error) {
	p := newParams().
		Set("symbol", symbol).
		SetInt("timestamp", c.timestamp(ctx)).
		SetInt("recvWindow", c.cfg.RecvWindow)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", p)
	if err != nil {
		return 0, err
	}
	var positions []positionRiskResponse
	if err := json.Unmarshal(body, &positions); err != nil {
		return 0, fmt.Errorf("decode position risk: %w", err)
	}
	for _, pos := range positions {
		if pos.Symbol == symbol {
			amt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
			return amt, nil
		}
	}
	return 0, nil
}

// OpenPositions returns every symbol with a non-zero position.
func (c *Client) OpenPositions(ctx context.Context) ([]PositionSnapshot, error) {
	p := newParams().
		SetInt("timestamp", c.timestamp(ctx)).
		SetInt("recvWindow", c.cfg.RecvWindow)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", p)
	if err != nil {
		return nil, err
	}
	var positions []positionRiskResponse
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("decode position risk: %w", err)
	}
	var out []PositionSnapshot
	for _, pos := range positions {
		amt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(pos.EntryPrice, 64)
		out = append(out, PositionSnapshot{Symbol: pos.Symbol, Amount: amt, EntryPrice: entry})
	}
	return out, nil
}

// LastPrice returns the last traded price for a symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := c.doPublic(ctx, http.MethodGet, "/fapi/v1/ticker/price", "symbol="+url.QueryEscape(symbol))
	if err != nil {
		return 0, err
	}
	var res tickerPriceResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode ticker price: %w", err)
	}
	price, err := strconv.ParseFloat(res.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ticker price %q: %w", res.Price, err)
	}
	return price, nil
}

// ClosePosition queries the open position and, if any, submits a
// reduce-only market order for the opposite side and full size. A flat
// position is a successful no-op.
func (c *Client) ClosePosition(ctx context.Context, symbol string) (CloseResult, error) {
	amt, err := c.PositionAmount(ctx, symbol)
	if err != nil {
		return CloseResult{}, err
	}
	if amt == 0 {
		return CloseResult{Closed: false}, nil
	}

	side := "SELL"
	if amt < 0 {
		side = "BUY"
	}
	qty := math.Abs(amt)

	prec, err := c.Precision(ctx, symbol)
	if err != nil {
		return CloseResult{}, err
	}

	p := newParams().
		Set("symbol", symbol).
		Set("side", side).
		Set("type", "MARKET").
		Set("quantity", prec.FormatQty(qty)).
		Set("reduceOnly", "true").
		Set("newClientOrderId", newClientID()).
		SetInt("timestamp", c.timestamp(ctx)).
		SetInt("recvWindow", c.cfg.RecvWindow)

	if _, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", p); err != nil {
		return CloseResult{}, err
	}
	return CloseResult{Closed: true, Qty: qty, Side: side}, nil
}

// CreateListenKey opens a user data stream session.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.doKeyed(ctx, http.MethodPost, "/fapi/v1/listenKey", "")
	if err != nil {
		return "", err
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode listen key: %w", err)
	}
	if out.ListenKey == "" {
		return "", errors.New("empty listen key in response")
	}
	return out.ListenKey, nil
}

// KeepAliveListenKey extends the stream session before it expires.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	_, err := c.doKeyed(ctx, http.MethodPut, "/fapi/v1/listenKey", "listenKey="+url.QueryEscape(listenKey))
	return err
}

// StreamURL builds the websocket endpoint for a listen key.
func (c *Client) StreamURL(listenKey string) string {
	host := "fstream.binance.com"
	if c.cfg.Testnet {
		host = "stream.binancefuture.com"
	}
	u := url.URL{Scheme: "wss", Host: host, Path: "/ws/" + listenKey}
	return u.String()
}

func (c *Client) exchangeInfo(ctx context.Context, symbol string) (*exchangeInfoResponse, error) {
	body, err := c.doPublic(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", "symbol="+url.QueryEscape(symbol))
	if err != nil {
		return nil, err
	}
	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}
	return &info, nil
}

// doSigned appends the request signature and sends the call with the API
// key header. The signature covers the exact encoded string that is sent.
func (c *Client) doSigned(ctx context.Context, method, path string, p *params) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance: API key/secret required")
	}
	payload := p.Encode()
	signed := payload + "&signature=" + sign(payload, c.cfg.APISecret)

	var req *http.Request
	var err error
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+signed, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(signed))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.send(req)
}

// doKeyed sends a request that needs the API key header but no signature
// (the listen key endpoints).
func (c *Client) doKeyed(ctx context.Context, method, path, query string) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.New("binance: API key required")
	}
	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.send(req)
}

func (c *Client) doPublic(ctx context.Context, method, path, query string) ([]byte, error) {
	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()

	c.rate.updateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("binance read body: %w", err)
	}
	if res.StatusCode >= 300 {
		apiErr := &APIError{HTTPStatus: res.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}
	return body, nil
}

func decodeAck(body []byte) (OrderAck, error) {
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderAck{}, fmt.Errorf("decode order ack: %w", err)
	}
	avg, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	executed, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	return OrderAck{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Status:        resp.Status,
		AvgPrice:      avg,
		ExecutedQty:   executed,
	}, nil
}
