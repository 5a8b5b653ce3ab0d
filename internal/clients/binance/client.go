// Package binance provides the Binance spot API client: signed trade-history
// fetches mapped into canonical fills, and a websocket ticker stream that
// keeps the current-price cache warm.
package binance

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

const exchangeName = "binance"

// Client for the Binance spot REST API
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
	log       zerolog.Logger
}

// NewClient creates a new Binance client
func NewClient(apiKey, apiSecret string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   "https://api.binance.com",
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

// fill mirrors the Binance GET /api/v3/myTrades payload
type fill struct {
	Symbol          string `json:"symbol"`
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
}

// apiError mirrors the Binance error envelope
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// TradeHistory fetches the account's fills for one symbol and normalizes
// them into canonical fills. Malformed records are dropped and logged; the
// rest of the batch is still returned.
func (c *Client) TradeHistory(ctx context.Context, symbol string, limit int) ([]domain.RawFill, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	// The signature covers the query string and is appended last
	query := params.Encode()
	reqURL := c.baseURL + "/api/v3/myTrades?" + query + "&signature=" + c.sign(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

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
		return nil, c.classify(resp.StatusCode, body)
	}

	var fills []fill
	if err := json.Unmarshal(body, &fills); err != nil {
		return nil, fmt.Errorf("failed to parse trade history: %w", err)
	}

	rawFills := make([]domain.RawFill, 0, len(fills))
	for _, f := range fills {
		raw, err := f.normalize()
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", f.Symbol).Int64("trade_id", f.ID).
				Msg("Dropping malformed fill")
			continue
		}
		rawFills = append(rawFills, raw)
	}

	c.log.Debug().Str("symbol", symbol).Int("fills", len(rawFills)).Msg("Fetched trade history")
	return rawFills, nil
}

// normalize maps one Binance fill into the canonical shape. The boolean
// isBuyer field carries the side.
func (f fill) normalize() (domain.RawFill, error) {
	asset, quote, err := domain.SplitSymbol(f.Symbol)
	if err != nil {
		return domain.RawFill{}, &domain.NormalizationError{Exchange: exchangeName, Err: err}
	}

	timestamp, err := domain.TimeFromMillis(f.Time)
	if err != nil {
		return domain.RawFill{}, &domain.NormalizationError{Exchange: exchangeName, Err: err}
	}

	qty, err := strconv.ParseFloat(f.Qty, 64)
	if err != nil {
		return domain.RawFill{}, &domain.NormalizationError{
			Exchange: exchangeName,
			Err:      fmt.Errorf("bad qty %q: %w", f.Qty, err),
		}
	}
	price, err := strconv.ParseFloat(f.Price, 64)
	if err != nil {
		return domain.RawFill{}, &domain.NormalizationError{
			Exchange: exchangeName,
			Err:      fmt.Errorf("bad price %q: %w", f.Price, err),
		}
	}

	fee := 0.0
	if f.Commission != "" {
		fee, err = strconv.ParseFloat(f.Commission, 64)
		if err != nil {
			return domain.RawFill{}, &domain.NormalizationError{
				Exchange: exchangeName,
				Err:      fmt.Errorf("bad commission %q: %w", f.Commission, err),
			}
		}
	}

	return domain.RawFill{
		Exchange:    exchangeName,
		OrderID:     strconv.FormatInt(f.OrderID, 10),
		Symbol:      f.Symbol,
		Asset:       asset,
		Quote:       quote,
		Qty:         qty,
		Price:       price,
		Fee:         fee,
		FeeCurrency: f.CommissionAsset,
		Side:        domain.SideFromIsBuyer(f.IsBuyer),
		Timestamp:   timestamp,
	}, nil
}

// classify maps a Binance failure response onto the shared error taxonomy.
// Binance signals invalid keys with code -2014/-2015 under HTTP 400, so the
// body code is checked as well as the status.
func (c *Client) classify(status int, body []byte) error {
	kind := reliability.KindFromStatus(status)

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil {
		switch apiErr.Code {
		case -2014, -2015:
			kind = reliability.KindAuth
		case -1003:
			kind = reliability.KindRateLimit
		}
	}

	return &reliability.UpstreamError{
		Exchange:   exchangeName,
		Kind:       kind,
		StatusCode: status,
		Err:        fmt.Errorf("binance API error %d: %s", apiErr.Code, apiErr.Msg),
	}
}

// sign computes the HMAC-SHA256 request signature
func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
