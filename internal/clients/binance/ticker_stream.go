package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/folio/internal/clientdata"
	"github.com/aristath/folio/internal/domain"
)

const streamBaseURL = "wss://stream.binance.com:9443/stream"

// Reconnect backoff bounds for the ticker stream
const (
	minStreamBackoff = time.Second
	maxStreamBackoff = 30 * time.Second
)

// TickerStream subscribes to Binance miniTicker streams and keeps the
// current-price cache warm for unrealized P&L. Loss of the stream only
// degrades price freshness, so failures reconnect with backoff instead of
// propagating.
type TickerStream struct {
	url   string
	cache *clientdata.Repository
	log   zerolog.Logger
}

// NewTickerStream creates a new ticker stream
func NewTickerStream(cache *clientdata.Repository, log zerolog.Logger) *TickerStream {
	return &TickerStream{
		url:   streamBaseURL,
		cache: cache,
		log:   log.With().Str("client", "binance_ticker").Logger(),
	}
}

// combinedStreamMessage is the combined-stream envelope
type combinedStreamMessage struct {
	Stream string     `json:"stream"`
	Data   miniTicker `json:"data"`
}

// miniTicker mirrors the <symbol>@miniTicker payload
type miniTicker struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	ClosePx   string `json:"c"`
}

// Run consumes the stream until the context is cancelled, reconnecting with
// exponential backoff on failure.
func (s *TickerStream) Run(ctx context.Context, symbols []string) {
	if len(symbols) == 0 {
		s.log.Info().Msg("No symbols configured, ticker stream disabled")
		return
	}

	streamURL := s.combinedURL(symbols)
	backoff := minStreamBackoff

	for {
		start := time.Now()
		err := s.consume(ctx, streamURL)
		if ctx.Err() != nil {
			return
		}

		// A session that stayed up for a while was healthy; start the
		// backoff ladder over.
		if time.Since(start) > time.Minute {
			backoff = minStreamBackoff
		}

		s.log.Warn().Err(err).Dur("backoff", backoff).Msg("Ticker stream disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxStreamBackoff {
			backoff = maxStreamBackoff
		}
	}
}

// consume runs one websocket session until the connection drops
func (s *TickerStream) consume(ctx context.Context, streamURL string) error {
	conn, _, err := websocket.Dial(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", streamURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutdown")
	conn.SetReadLimit(1 << 20)

	s.log.Info().Str("url", streamURL).Msg("Ticker stream connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		var msg combinedStreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug().Err(err).Msg("Skipping unparseable stream message")
			continue
		}
		if msg.Data.Symbol == "" {
			continue
		}

		price, err := strconv.ParseFloat(msg.Data.ClosePx, 64)
		if err != nil || price <= 0 {
			continue
		}

		asset, _, err := domain.SplitSymbol(msg.Data.Symbol)
		if err != nil {
			continue
		}

		if err := s.cache.StorePrice(exchangeName, asset, price); err != nil {
			s.log.Warn().Err(err).Str("asset", asset).Msg("Failed to cache price")
		}
	}
}

// combinedURL builds the combined-stream URL for the configured symbols
func (s *TickerStream) combinedURL(symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		streams = append(streams, strings.ToLower(symbol)+"@miniTicker")
	}
	return s.url + "?streams=" + strings.Join(streams, "/")
}
