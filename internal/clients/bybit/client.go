// Package bybit provides the Bybit v5 API client, mapping spot executions
// into canonical fills.
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/reliability"
)

const (
	exchangeName = "bybit"
	recvWindow   = "5000"
)

// Client for the Bybit v5 REST API
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
	log       zerolog.Logger
}

// NewClient creates a new Bybit client
func NewClient(apiKey, apiSecret string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   "https://api.bybit.com",
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log.With().Str("client", exchangeName).Logger(),
	}
}

// Name returns the exchange identifier
func (c *Client) Name() string {
	return exchangeName
}

// execution mirrors one entry of GET /v5/execution/list. Unlike Binance,
// Bybit encodes the side as a "Buy"/"Sell" string.
type execution struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	ExecID      string `json:"execId"`
	Side        string `json:"side"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	ExecFee     string `json:"execFee"`
	FeeCurrency string `json:"feeCurrency"`
	ExecTime    string `json:"execTime"`
}

// response is the Bybit v5 envelope
type response struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []execution `json:"list"`
	} `json:"result"`
}

// TradeHistory fetches spot executions for one symbol and normalizes them.
// Malformed records are dropped and logged; the rest of the batch is still
// returned.
func (c *Client) TradeHistory(ctx context.Context, symbol string, limit int) ([]domain.RawFill, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	query := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v5/execution/list?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp+c.apiKey+recvWindow+query))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &reliability.UpstreamError{
			Exchange: exchangeName,
			Kind:     reliability.KindTransient,
			Err:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &reliability.UpstreamError{
			Exchange: exchangeName,
			Kind:     reliability.KindTransient,
			Err:      err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &reliability.UpstreamError{
			Exchange:   exchangeName,
			Kind:       reliability.KindFromStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("bybit returned status %d", resp.StatusCode),
		}
	}

	var envelope response
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse execution list: %w", err)
	}
	if envelope.RetCode != 0 {
		return nil, c.classify(envelope.RetCode, envelope.RetMsg)
	}

	rawFills := make([]domain.RawFill, 0, len(envelope.Result.List))
	for _, exec := range envelope.Result.List {
		raw, err := exec.normalize()
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", exec.Symbol).Str("exec_id", exec.ExecID).
				Msg("Dropping malformed execution")
			continue
		}
		rawFills = append(rawFills, raw)
	}

	c.log.Debug().Str("symbol", symbol).Int("fills", len(rawFills)).Msg("Fetched trade history")
	return rawFills, nil
}

// normalize maps one Bybit execution into the canonical shape
func (e execution) normalize() (domain.RawFill, error) {
	asset, quote, err := domain.SplitSymbol(e.Symbol)
	if err != nil {
		return domain.RawFill{}, &domain.NormalizationError{Exchange: exchangeName, Err: err}
	}

	side, err := domain.SideFromString(e.Side)
	if err != nil {
		return domain.RawFill{}, &domain.NormalizationError{Exchange: exchangeName, Err: err}
	}

	ms, err := strconv.ParseInt(e.ExecTime, 10, 64)
	if err != nil {
		return domain.RawFill{}, &domain.NormalizationError{
			Exchange: exchangeName,
			Err:      fmt.Errorf("%w: %q", domain.ErrUnparseableTimestamp, e.ExecTime),
		}
	}
	timestamp, err := domain.TimeFromMillis(ms)
	if err != nil {
		return domain.RawFill{}, &domain.NormalizationError{Exchange: exchangeName, Err: err}
	}

	qty, err := strconv.ParseFloat(e.ExecQty, 64)
	if err != nil {
		return domain.RawFill{}, &domain.NormalizationError{
			Exchange: exchangeName,
			Err:      fmt.Errorf("bad qty %q: %w", e.ExecQty, err),
		}
	}
	price, err := strconv.ParseFloat(e.ExecPrice, 64)
	if err != nil {
		return domain.RawFill{}, &domain.NormalizationError{
			Exchange: exchangeName,
			Err:      fmt.Errorf("bad price %q: %w", e.ExecPrice, err),
		}
	}

	fee := 0.0
	if e.ExecFee != "" {
		fee, err = strconv.ParseFloat(e.ExecFee, 64)
		if err != nil {
			return domain.RawFill{}, &domain.NormalizationError{
				Exchange: exchangeName,
				Err:      fmt.Errorf("bad fee %q: %w", e.ExecFee, err),
			}
		}
	}

	feeCurrency := e.FeeCurrency
	if feeCurrency == "" {
		// Spot fees default to the quote on sells, the asset on buys
		if side == domain.SideBuy {
			feeCurrency = asset
		} else {
			feeCurrency = quote
		}
	}

	return domain.RawFill{
		Exchange:    exchangeName,
		OrderID:     e.OrderID,
		Symbol:      e.Symbol,
		Asset:       asset,
		Quote:       quote,
		Qty:         qty,
		Price:       price,
		Fee:         fee,
		FeeCurrency: feeCurrency,
		Side:        side,
		Timestamp:   timestamp,
	}, nil
}

// classify maps Bybit retCodes onto the shared error taxonomy
func (c *Client) classify(retCode int, retMsg string) error {
	kind := reliability.KindFatal
	switch retCode {
	case 10003, 10004, 10005, 33004:
		// invalid key / invalid signature / permission denied / key expired
		kind = reliability.KindAuth
	case 10006, 10018:
		kind = reliability.KindRateLimit
	case 10024:
		// compliance restriction
		kind = reliability.KindGeoRestricted
	}

	return &reliability.UpstreamError{
		Exchange:   exchangeName,
		Kind:       kind,
		StatusCode: http.StatusOK,
		Err:        fmt.Errorf("bybit API error %d: %s", retCode, retMsg),
	}
}

// sign computes the HMAC-SHA256 request signature
func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
