// Package upbit implements the exchange broker against the Upbit REST and
// WebSocket APIs: JWT-signed requests, client-side group throttling, typed
// rate-limit signals and the private push stream.
package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"wonbot/internal/gateway/exchange"
	"wonbot/internal/market"
)

const (
	defaultBaseURL      = "https://api.upbit.com"
	maxRateLimitRetries = 3
)

// Config holds the REST client settings. Credentials are read once at
// construction; the client value is built at process start and shared by
// reference for its whole lifetime.
type Config struct {
	AccessKey string
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// RemainingReq is the exchange's parsed Remaining-Req response header.
type RemainingReq struct {
	Group string
	Min   int
	Sec   int
	Raw   string
}

// Client is the live Upbit broker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *authSigner
	throttle   *groupThrottle
	sleepFn    func(context.Context, time.Duration) error

	mu            sync.Mutex
	lastRemaining RemainingReq
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("upbit access/secret key required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse upbit base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
		signer:     newAuthSigner(cfg.AccessKey, cfg.SecretKey),
		throttle:   newGroupThrottle(defaultGroupLimits()),
		sleepFn:    sleepCtx,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) Name() string { return "upbit" }

// LastRemainingReq reports the quota counters from the most recent response.
func (c *Client) LastRemainingReq() RemainingReq {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRemaining
}

func (c *Client) ListMarkets(ctx context.Context) ([]exchange.MarketInfo, error) {
	query := url.Values{"isDetails": {"false"}}
	var out []exchange.MarketInfo
	if err := c.doRequest(ctx, http.MethodGet, "/v1/market/all", query, false, groupDefault, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetAccounts(ctx context.Context) ([]exchange.Account, error) {
	var out []exchange.Account
	if err := c.doRequest(ctx, http.MethodGet, "/v1/accounts", nil, true, groupDefault, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetTicker(ctx context.Context, markets []string) ([]exchange.Ticker, error) {
	if len(markets) == 0 {
		return nil, nil
	}
	query := url.Values{"markets": {strings.Join(markets, ",")}}
	var out []exchange.Ticker
	if err := c.doRequest(ctx, http.MethodGet, "/v1/ticker", query, false, groupDefault, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// minuteCandle is the exchange's minute-candle row, newest first.
type minuteCandle struct {
	DateTimeUTC string  `json:"candle_date_time_utc"`
	Opening     float64 `json:"opening_price"`
	High        float64 `json:"high_price"`
	Low         float64 `json:"low_price"`
	Trade       float64 `json:"trade_price"`
	AccVolume   float64 `json:"candle_acc_trade_volume"`
}

func (c *Client) GetCandles(ctx context.Context, marketCode string, intervalMin, count int) ([]market.Candle, error) {
	query := url.Values{
		"market": {marketCode},
		"count":  {strconv.Itoa(count)},
	}
	path := "/v1/candles/minutes/" + strconv.Itoa(intervalMin)
	var rows []minuteCandle
	if err := c.doRequest(ctx, http.MethodGet, path, query, false, groupDefault, &rows); err != nil {
		return nil, err
	}
	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		ts, err := time.Parse("2006-01-02T15:04:05", row.DateTimeUTC)
		if err != nil {
			return nil, fmt.Errorf("parse candle timestamp %q: %w", row.DateTimeUTC, err)
		}
		candles = append(candles, market.Candle{
			Timestamp: ts.UTC(),
			Open:      row.Opening,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Trade,
			Volume:    row.AccVolume,
		})
	}
	return candles, nil
}

// BuyMarket places a market buy by total spend ("price" order type).
func (c *Client) BuyMarket(ctx context.Context, marketCode string, amountKRW float64, clientID string) (*exchange.OrderResult, error) {
	query := url.Values{
		"market":   {marketCode},
		"side":     {"bid"},
		"ord_type": {"price"},
		"price":    {strconv.FormatFloat(amountKRW, 'f', -1, 64)},
	}
	if clientID != "" {
		query.Set("identifier", clientID)
	}
	return c.placeOrder(ctx, query)
}

// SellMarket places a market sell by volume.
func (c *Client) SellMarket(ctx context.Context, marketCode string, volume float64, clientID string) (*exchange.OrderResult, error) {
	query := url.Values{
		"market":   {marketCode},
		"side":     {"ask"},
		"ord_type": {"market"},
		"volume":   {strconv.FormatFloat(volume, 'f', -1, 64)},
	}
	if clientID != "" {
		query.Set("identifier", clientID)
	}
	return c.placeOrder(ctx, query)
}

func (c *Client) placeOrder(ctx context.Context, query url.Values) (*exchange.OrderResult, error) {
	var out exchange.OrderResult
	if err := c.doRequest(ctx, http.MethodPost, "/v1/orders", query, true, groupOrder, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetOpenOrders(ctx context.Context, marketCode string, states []string) ([]exchange.OrderResult, error) {
	query := url.Values{}
	if marketCode != "" {
		query.Set("market", marketCode)
	}
	if len(states) == 0 {
		states = []string{"wait", "watch"}
	}
	for _, state := range states {
		query.Add("states[]", state)
	}
	var out []exchange.OrderResult
	if err := c.doRequest(ctx, http.MethodGet, "/v1/orders/open", query, true, groupDefault, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// rawQueryString renders the unescaped query in sorted key order, the exact
// string both the URL and the signed query hash are built from.
func rawQueryString(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		for _, value := range query[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(value)
		}
	}
	return b.String()
}

type apiError struct {
	Error struct {
		Name    any    `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, signed bool, group string, out any) error {
	queryString := rawQueryString(query)
	bo := &backoff.Backoff{Min: time.Second, Max: 8 * time.Second, Factor: 2}

	for attempt := 0; ; attempt++ {
		if err := c.throttle.wait(ctx, group); err != nil {
			return err
		}

		endpoint := c.baseURL + path
		if queryString != "" {
			endpoint += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return fmt.Errorf("build %s %s: %w", method, path, err)
		}
		if signed {
			bearer, err := c.signer.bearer(queryString)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", bearer)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("call %s %s: %w", method, path, err)
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read %s %s response: %w", method, path, readErr)
		}

		remaining := parseRemainingReq(resp.Header.Get("Remaining-Req"))
		c.mu.Lock()
		c.lastRemaining = remaining
		c.mu.Unlock()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			if attempt < maxRateLimitRetries {
				delay := retryAfter
				if delay <= 0 {
					delay = bo.Duration()
				}
				if err := c.sleepFn(ctx, delay); err != nil {
					return err
				}
				continue
			}
			return &exchange.RateLimitError{
				StatusCode:   resp.StatusCode,
				Group:        remaining.Group,
				RemainingReq: remaining.Raw,
				RetryAfter:   retryAfter,
				StopLoop:     resp.StatusCode == 418,
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var payload apiError
			if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
				return fmt.Errorf("upbit %s %s: status %d: %s", method, path, resp.StatusCode, payload.Error.Message)
			}
			return fmt.Errorf("upbit %s %s: status %d", method, path, resp.StatusCode)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
		return nil
	}
}

// parseRemainingReq parses headers shaped like "group=order; min=1799; sec=6".
func parseRemainingReq(header string) RemainingReq {
	parsed := RemainingReq{Raw: header}
	for _, token := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(token), "=")
		if !ok {
			continue
		}
		switch key {
		case "group":
			parsed.Group = value
		case "min":
			parsed.Min, _ = strconv.Atoi(value)
		case "sec":
			parsed.Sec, _ = strconv.Atoi(value)
		}
	}
	return parsed
}

func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
