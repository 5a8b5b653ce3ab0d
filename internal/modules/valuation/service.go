// Package valuation converts USD amounts into PLN using official NBP daily
// rates. NBP publishes rates only on Polish business days, so lookups walk
// backwards to the most recent published rate.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// MaxFallbackDays is how far back a rate lookup walks before giving up.
// Polish holidays cluster at most 4 consecutive non-publishing days; 7 gives
// comfortable headroom.
const MaxFallbackDays = 7

// ErrRateUnavailable means no rate was published within the fallback window
var ErrRateUnavailable = errors.New("no exchange rate available within fallback window")

// RateSource provides the USD/PLN mid rate for a single calendar date.
// ok=false means the source has no rate published for that date.
type RateSource interface {
	USDToPLNRate(ctx context.Context, date string) (mid float64, ok bool, err error)
}

// Rate is a resolved USD/PLN rate together with the date it was actually
// published on, which may be earlier than the requested date.
type Rate struct {
	Mid           float64 `json:"mid"`
	EffectiveDate string  `json:"effective_date"`
}

// Service resolves USD/PLN rates with weekend/holiday fallback. Resolved
// rates are memoized for the process lifetime; historical rates never change.
type Service struct {
	source  RateSource
	limiter *rate.Limiter

	mu    sync.Mutex
	rates map[string]Rate

	log zerolog.Logger
}

// NewService creates a valuation service. Upstream lookups are throttled to
// stay well inside NBP's informal limits.
func NewService(source RateSource, log zerolog.Logger) *Service {
	return &Service{
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(2), 2),
		rates:   make(map[string]Rate),
		log:     log.With().Str("service", "valuation").Logger(),
	}
}

// USDToPLN resolves the USD/PLN rate applicable to a calendar date
// (YYYY-MM-DD). When that date has no published rate the lookup walks
// backwards day by day, up to MaxFallbackDays, and returns the most recent
// published rate. ErrRateUnavailable if the whole window is empty.
func (s *Service) USDToPLN(ctx context.Context, date string) (Rate, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return Rate{}, fmt.Errorf("invalid date %q: %w", date, err)
	}

	s.mu.Lock()
	if cached, found := s.rates[date]; found {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	for offset := 0; offset <= MaxFallbackDays; offset++ {
		lookupDate := day.AddDate(0, 0, -offset).Format("2006-01-02")

		if err := s.limiter.Wait(ctx); err != nil {
			return Rate{}, err
		}

		mid, ok, err := s.source.USDToPLNRate(ctx, lookupDate)
		if err != nil {
			return Rate{}, fmt.Errorf("rate lookup for %s: %w", lookupDate, err)
		}
		if !ok {
			continue
		}

		resolved := Rate{Mid: mid, EffectiveDate: lookupDate}
		s.mu.Lock()
		s.rates[date] = resolved
		s.mu.Unlock()

		if offset > 0 {
			s.log.Debug().Str("requested", date).Str("effective", lookupDate).
				Msg("Resolved rate via fallback")
		}
		return resolved, nil
	}

	return Rate{}, fmt.Errorf("%w: %s", ErrRateUnavailable, date)
}

// ConvertUSD converts a USD amount to PLN using the rate for the given date
func (s *Service) ConvertUSD(ctx context.Context, amountUSD float64, date string) (float64, Rate, error) {
	resolved, err := s.USDToPLN(ctx, date)
	if err != nil {
		return 0, Rate{}, err
	}
	return amountUSD * resolved.Mid, resolved, nil
}
