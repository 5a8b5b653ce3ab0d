// Package nbp provides the National Bank of Poland exchange rate API client.
// Rates are cached persistently: historical FX rates are facts and never need
// refetching once seen.
package nbp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/clientdata"
	"github.com/aristath/folio/internal/reliability"
)

// DefaultBaseURL is the production NBP API endpoint
const DefaultBaseURL = "https://api.nbp.pl"

// Client for the NBP exchange rates table A API
type Client struct {
	baseURL string
	cache   *clientdata.Repository
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new NBP client. If baseURL is empty the production
// endpoint is used.
func NewClient(baseURL string, cache *clientdata.Repository, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		cache:   cache,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "nbp").Logger(),
	}
}

// rateResponse mirrors the NBP table A single-date payload
type rateResponse struct {
	Rates []struct {
		Mid float64 `json:"mid"`
	} `json:"rates"`
}

// cachedRate is the structure stored in the exchange_rates cache table
type cachedRate struct {
	Mid float64 `json:"mid"`
}

// USDToPLNRate fetches the USD/PLN mid rate for one calendar date
// (YYYY-MM-DD). Returns (0, false, nil) when NBP has no rate published for
// that date, which is normal for weekends and Polish holidays.
func (c *Client) USDToPLNRate(ctx context.Context, date string) (float64, bool, error) {
	cacheKey := "usd_pln:" + date
	if cached, err := c.cache.GetIfFresh(clientdata.TableExchangeRates, cacheKey); err == nil && cached != nil {
		var entry cachedRate
		if err := json.Unmarshal(cached, &entry); err == nil {
			return entry.Mid, entry.Mid > 0, nil
		}
	}

	url := fmt.Sprintf("%s/api/exchangerates/rates/a/usd/%s/?format=json", c.baseURL, date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, false, &reliability.UpstreamError{
			Exchange: "nbp",
			Kind:     reliability.KindTransient,
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No rate published for this date. Cache the miss so weekend dates
		// are not refetched on every sync.
		if err := c.cache.Store(clientdata.TableExchangeRates, cacheKey, cachedRate{Mid: 0}, clientdata.TTLHistoricalRate); err != nil {
			c.log.Warn().Err(err).Str("date", date).Msg("Failed to cache rate miss")
		}
		return 0, false, nil
	}

	if resp.StatusCode != http.StatusOK {
		return 0, false, &reliability.UpstreamError{
			Exchange:   "nbp",
			Kind:       reliability.KindFromStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("NBP returned status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed rateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, false, fmt.Errorf("failed to parse rate response: %w", err)
	}
	if len(parsed.Rates) == 0 || parsed.Rates[0].Mid <= 0 {
		return 0, false, fmt.Errorf("NBP response for %s has no usable rate", date)
	}

	mid := parsed.Rates[0].Mid
	if err := c.cache.Store(clientdata.TableExchangeRates, cacheKey, cachedRate{Mid: mid}, clientdata.TTLHistoricalRate); err != nil {
		c.log.Warn().Err(err).Str("date", date).Msg("Failed to cache exchange rate")
	}

	c.log.Debug().Str("date", date).Float64("mid", mid).Msg("Fetched USD/PLN rate")
	return mid, true, nil
}
