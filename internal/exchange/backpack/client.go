package backpack

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backpack-grid/internal/config"
	"backpack-grid/internal/core"
	"backpack-grid/internal/exchange"
)

// Signing instructions per endpoint. The venue verifies that the signed
// instruction matches the route.
const (
	instrBalanceQuery = "balanceQuery"
	instrOrderExecute = "orderExecute"
	instrOrderCancel  = "orderCancel"
	instrOrderQuery   = "orderQuery"
	instrOrderHistory = "orderQueryAll"
	instrFillHistory  = "fillHistoryQueryAll"
)

const maxFillHistoryLimit = 1000

// Client talks to the Backpack exchange REST API. Requests to private
// endpoints are signed with the account's ED25519 key; the api_secret is
// the base64 seed and the api_key is the base64 public key sent verbatim
// in X-API-KEY.
type Client struct {
	apiKey     string
	privateKey ed25519.PrivateKey
	baseURL    string
	wsBaseURL  string
	window     time.Duration
	httpClient *http.Client

	now func() time.Time
}

func New(cfg config.ExchangeConfig) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("api_key/api_secret required")
	}
	seed, err := base64.StdEncoding.DecodeString(cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("api_secret must be base64: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("api_secret must decode to %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	timeout := 30 * time.Second
	if cfg.HTTPTimeoutSec > 0 {
		timeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
	}
	window := 5000 * time.Millisecond
	if cfg.RecvWindowMs > 0 {
		window = time.Duration(cfg.RecvWindowMs) * time.Millisecond
	}
	return &Client{
		apiKey:     cfg.APIKey,
		privateKey: ed25519.NewKeyFromSeed(seed),
		baseURL:    strings.TrimRight(cfg.RestBaseURL, "/"),
		wsBaseURL:  strings.TrimRight(cfg.WSBaseURL, "/"),
		window:     window,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

func (c *Client) Name() string { return "backpack" }

var _ exchange.Exchange = (*Client)(nil)

func (c *Client) FetchTicker(ctx context.Context, symbol string) (core.Ticker, error) {
	if symbol == "" {
		return core.Ticker{}, errors.New("symbol is required")
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/ticker", params, nil, "")
	if err != nil {
		return core.Ticker{}, err
	}
	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	last, err := decimal.NewFromString(resp.LastPrice)
	if err != nil {
		return core.Ticker{}, fmt.Errorf("ticker lastPrice %q: %w", resp.LastPrice, err)
	}
	bid, _ := decimal.NewFromString(resp.BidPrice)
	ask, _ := decimal.NewFromString(resp.AskPrice)
	volume, _ := decimal.NewFromString(resp.Volume)
	high, _ := decimal.NewFromString(resp.High)
	low, _ := decimal.NewFromString(resp.Low)
	change, _ := decimal.NewFromString(resp.PriceChange)
	return core.Ticker{
		Symbol: resp.Symbol,
		Last:   last,
		Bid:    bid,
		Ask:    ask,
		Volume: volume,
		High:   high,
		Low:    low,
		Change: change,
	}, nil
}

func (c *Client) FetchBalance(ctx context.Context) (core.Balances, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/capital", nil, nil, instrBalanceQuery)
	if err != nil {
		return nil, err
	}
	var resp map[string]capitalEntry
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode capital: %w", err)
	}
	balances := make(core.Balances, len(resp))
	for asset, entry := range resp {
		free, _ := decimal.NewFromString(entry.Available)
		used, _ := decimal.NewFromString(entry.Locked)
		balances[asset] = core.Balance{
			Free:  free,
			Used:  used,
			Total: free.Add(used),
		}
	}
	return balances, nil
}

func (c *Client) CreateOrder(ctx context.Context, req exchange.CreateOrderRequest) (core.Order, error) {
	if err := validateCreateOrder(req); err != nil {
		return core.Order{}, err
	}
	clientID := req.ClientID
	if clientID == 0 {
		// Venue clientId is uint32; keep the low digits of the ms clock.
		clientID = c.now().UnixMilli() % 100000000
	}
	payload := map[string]any{
		"symbol":              req.Symbol,
		"side":                string(req.Side),
		"orderType":           string(req.Type),
		"quantity":            req.Amount.String(),
		"timeInForce":         req.TimeInForce,
		"selfTradePrevention": "RejectTaker",
		"clientId":            clientID,
	}
	if req.Type == core.Limit {
		payload["price"] = req.Price.String()
		if req.PostOnly {
			payload["postOnly"] = true
		}
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v1/order", nil, payload, instrOrderExecute)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return parseOrder(resp), nil
}

func validateCreateOrder(req exchange.CreateOrderRequest) error {
	if req.Symbol == "" {
		return errors.New("symbol is required")
	}
	if req.Amount.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("order amount must be > 0, got %s", req.Amount)
	}
	switch req.Side {
	case core.Bid, core.Ask:
	default:
		return fmt.Errorf("invalid order side %q", req.Side)
	}
	switch req.Type {
	case core.Limit:
		if req.Price.Cmp(decimal.Zero) <= 0 {
			return fmt.Errorf("limit order requires price > 0, got %s", req.Price)
		}
	case core.Market:
		if req.Price.Cmp(decimal.Zero) != 0 {
			return errors.New("market order must not set a price")
		}
		if req.PostOnly {
			return errors.New("market order cannot be post-only")
		}
	default:
		return fmt.Errorf("invalid order type %q", req.Type)
	}
	return nil
}

// CancelOrder cancels by venue order id. A response with any status other
// than Cancelled is an error: the caller must not assume the order is gone.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) (core.Order, error) {
	if orderID == "" || symbol == "" {
		return core.Order{}, errors.New("orderID and symbol are required")
	}
	payload := map[string]any{
		"orderId": orderID,
		"symbol":  symbol,
	}
	body, err := c.doRequest(ctx, http.MethodDelete, "/api/v1/order", nil, payload, instrOrderCancel)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, fmt.Errorf("decode cancel response: %w", err)
	}
	if core.OrderStatus(resp.Status) != core.OrderCancelled {
		return core.Order{}, fmt.Errorf("cancel order %s: venue returned status %q: %w",
			orderID, resp.Status, core.ErrOrderNotCancellable)
	}
	return parseOrder(resp), nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marketType", "SPOT")
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/orders", params, nil, instrOrderHistory)
	if err != nil {
		return nil, err
	}
	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	orders := make([]core.Order, 0, len(resp))
	for _, ord := range resp {
		orders = append(orders, parseOrder(ord))
	}
	return orders, nil
}

// FetchOrder queries a single order by venue id.
func (c *Client) FetchOrder(ctx context.Context, orderID, symbol string) (core.Order, error) {
	if orderID == "" || symbol == "" {
		return core.Order{}, errors.New("orderID and symbol are required")
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/order", params, nil, instrOrderQuery)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return parseOrder(resp), nil
}

func (c *Client) FetchMyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]core.Trade, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	if !since.IsZero() {
		params.Set("from", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if limit > 0 {
		if limit > maxFillHistoryLimit {
			limit = maxFillHistoryLimit
		}
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/wapi/v1/history/fills", params, nil, instrFillHistory)
	if err != nil {
		return nil, err
	}
	var resp []fillResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode fills: %w", err)
	}
	trades := make([]core.Trade, 0, len(resp))
	for _, fill := range resp {
		price, _ := decimal.NewFromString(fill.Price)
		qty, _ := decimal.NewFromString(fill.Quantity)
		fee, _ := decimal.NewFromString(fill.Fee)
		trades = append(trades, core.Trade{
			ID:       strconv.FormatInt(fill.TradeID, 10),
			OrderID:  fill.OrderID,
			Symbol:   fill.Symbol,
			Side:     core.Side(fill.Side),
			Price:    price,
			Qty:      qty,
			Fee:      fee,
			FeeAsset: fill.FeeSymbol,
			IsMaker:  fill.IsMaker,
			Time:     parseFillTime(fill.Timestamp),
		})
	}
	return trades, nil
}

func parseOrder(resp orderResponse) core.Order {
	price, _ := decimal.NewFromString(resp.Price)
	qty, _ := decimal.NewFromString(resp.Quantity)
	executedQty, _ := decimal.NewFromString(resp.ExecutedQuantity)
	executedQuote, _ := decimal.NewFromString(resp.ExecutedQuoteQuantity)
	order := core.Order{
		ID:               resp.ID,
		ClientID:         resp.ClientID,
		Symbol:           resp.Symbol,
		Side:             core.Side(resp.Side),
		Type:             core.OrderType(resp.OrderType),
		Price:            price,
		Qty:              qty,
		ExecutedQty:      executedQty,
		ExecutedQuoteQty: executedQuote,
		Status:           core.OrderStatus(resp.Status),
		TimeInForce:      resp.TimeInForce,
		PostOnly:         resp.PostOnly,
	}
	if resp.CreatedAt > 0 {
		order.CreatedAt = time.UnixMilli(resp.CreatedAt).UTC()
	}
	return order
}

// Fill timestamps arrive as ISO 8601 with varying precision and usually no
// zone suffix; the venue clock is UTC.
var fillTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseFillTime(value string) time.Time {
	for _, layout := range fillTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// doRequest sends one REST call. An empty instruction means a public
// endpoint: no signature, no auth headers. Signed requests sign
// "instruction=<i>&<sorted params>&timestamp=<ms>&window=<ms>" where the
// params are the JSON body fields for write calls or the query string for
// reads.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload map[string]any, instruction string) ([]byte, error) {
	urlStr := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		urlStr += "?" + encoded
	}

	var bodyReader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, bodyReader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if instruction != "" {
		timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
		window := strconv.FormatInt(c.window.Milliseconds(), 10)
		signature := c.sign(instruction, query, payload, timestamp, window)
		req.Header.Set("X-API-KEY", c.apiKey)
		req.Header.Set("X-SIGNATURE", signature)
		req.Header.Set("X-TIMESTAMP", timestamp)
		req.Header.Set("X-WINDOW", window)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) sign(instruction string, query url.Values, payload map[string]any, timestamp, window string) string {
	parts := []string{"instruction=" + instruction}
	if len(payload) > 0 {
		parts = append(parts, encodePayload(payload))
	}
	if encoded := query.Encode(); encoded != "" {
		parts = append(parts, encoded)
	}
	parts = append(parts, "timestamp="+timestamp, "window="+window)
	message := strings.Join(parts, "&")
	signature := ed25519.Sign(c.privateKey, []byte(message))
	return base64.StdEncoding.EncodeToString(signature)
}

// encodePayload renders body fields as sorted k=v pairs the way the venue
// expects them in the signing string; booleans render lowercase.
func encodePayload(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	return strings.Join(pairs, "&")
}

func parseAPIError(status int, body []byte) error {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return classifyAPIError(APIError{Status: status, Code: parsed.Code, Message: parsed.Message})
	}
	return classifyAPIError(APIError{Status: status, Message: strings.TrimSpace(string(body))})
}
