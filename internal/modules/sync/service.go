package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/costbasis"
	"github.com/aristath/folio/internal/modules/ledger"
	"github.com/aristath/folio/internal/modules/valuation"
	"github.com/aristath/folio/internal/reliability"
)

// ExchangeClient fetches trade history for one exchange and normalizes it
// into canonical fills.
type ExchangeClient interface {
	Name() string
	TradeHistory(ctx context.Context, symbol string, limit int) ([]domain.RawFill, error)
}

// Summary is the per-exchange outcome of one sync run
type Summary struct {
	Exchange         string `json:"exchange"`
	Fetched          int    `json:"fetched"`
	Grouped          int    `json:"grouped"`
	Added            int    `json:"added"`
	SkippedDuplicate int    `json:"skipped_duplicate"`
	Failed           int    `json:"failed"`
	Error            string `json:"error,omitempty"`
}

// Report is the outcome of one full sync run across all exchanges
type Report struct {
	RunID     string    `json:"run_id"`
	Summaries []Summary `json:"summaries"`
}

// Service orchestrates the sync pipeline: fetch → aggregate → dedup →
// append → annotate. Exchanges run as parallel tasks; a failure on one never
// blocks another. The run is idempotent and safe to abandon and re-run.
type Service struct {
	clients   []ExchangeClient
	repo      *ledger.Repository
	dedup     *DedupFilter
	valuation *valuation.Service
	costBasis *costbasis.Service
	retry     *reliability.RetryPolicy
	symbols   []string
	limit     int
	log       zerolog.Logger
}

// NewService creates a sync service covering the given symbols on every
// configured exchange.
func NewService(
	clients []ExchangeClient,
	repo *ledger.Repository,
	valuationSvc *valuation.Service,
	costBasisSvc *costbasis.Service,
	retry *reliability.RetryPolicy,
	symbols []string,
	limit int,
	log zerolog.Logger,
) *Service {
	return &Service{
		clients:   clients,
		repo:      repo,
		dedup:     NewDedupFilter(repo),
		valuation: valuationSvc,
		costBasis: costBasisSvc,
		retry:     retry,
		symbols:   symbols,
		limit:     limit,
		log:       log.With().Str("service", "sync").Logger(),
	}
}

// Run executes one sync across all exchanges and returns the per-exchange
// summaries.
func (s *Service) Run(ctx context.Context) Report {
	runID := uuid.NewString()
	runLog := s.log.With().Str("run_id", runID).Logger()
	runLog.Info().Int("exchanges", len(s.clients)).Msg("Starting sync")

	summaries := make([]Summary, len(s.clients))
	var wg sync.WaitGroup
	for i, client := range s.clients {
		wg.Add(1)
		go func(i int, client ExchangeClient) {
			defer wg.Done()
			summaries[i] = s.syncExchange(ctx, client, runLog)
		}(i, client)
	}
	wg.Wait()

	for _, summary := range summaries {
		runLog.Info().
			Str("exchange", summary.Exchange).
			Int("fetched", summary.Fetched).
			Int("grouped", summary.Grouped).
			Int("added", summary.Added).
			Int("skipped_duplicate", summary.SkippedDuplicate).
			Int("failed", summary.Failed).
			Msg("Exchange sync finished")
	}

	SortSummaries(summaries)
	return Report{RunID: runID, Summaries: summaries}
}

// syncExchange runs the pipeline for one exchange. Appends to the ledger are
// serialized by the repository; everything before that point is local state.
func (s *Service) syncExchange(ctx context.Context, client ExchangeClient, log zerolog.Logger) Summary {
	summary := Summary{Exchange: client.Name()}

	var fills []domain.RawFill
	for _, symbol := range s.symbols {
		var batch []domain.RawFill
		err := s.retry.Do(ctx, client.Name()+" "+symbol, func() error {
			var fetchErr error
			batch, fetchErr = client.TradeHistory(ctx, symbol, s.limit)
			return fetchErr
		})
		if err != nil {
			var upstream *reliability.UpstreamError
			if errors.As(err, &upstream) && !upstream.Retryable() {
				// Auth and geo failures abort this exchange outright; the
				// other exchanges keep going.
				log.Error().Err(err).Str("exchange", client.Name()).Msg("Aborting exchange sync")
				summary.Error = err.Error()
				return summary
			}
			log.Warn().Err(err).Str("exchange", client.Name()).Str("symbol", symbol).
				Msg("Trade history fetch failed")
			summary.Failed++
			continue
		}
		fills = append(fills, batch...)
	}
	summary.Fetched = len(fills)

	trades, warnings := AggregateFills(fills)
	summary.Grouped = len(trades)
	for _, warning := range warnings {
		log.Warn().Str("exchange", warning.Exchange).Str("order_id", warning.OrderID).
			Msg(warning.Reason)
	}

	touched := make(map[[2]string]bool)
	for _, trade := range trades {
		added, err := s.appendTrade(ctx, trade, log)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("order_id", trade.OrderID).Msg("Failed to append trade")
			summary.Failed++
		case added:
			summary.Added++
			touched[[2]string{trade.Exchange, trade.Asset}] = true
		default:
			summary.SkippedDuplicate++
		}
	}

	for key := range touched {
		if err := s.costBasis.RelinkSells(key[0], key[1]); err != nil {
			log.Warn().Err(err).Str("exchange", key[0]).Str("asset", key[1]).
				Msg("Failed to relink sells")
		}
	}

	return summary
}

// appendTrade converts one aggregated trade into a ledger transaction,
// annotates PLN valuation, and appends it unless it is a duplicate. Returns
// whether a transaction was added.
func (s *Service) appendTrade(ctx context.Context, trade Trade, log zerolog.Logger) (bool, error) {
	if !domain.IsUSDQuote(trade.Quote) {
		// Fill prices are in the quote currency; only USD-pegged quotes can
		// be recorded as USD without a conversion step.
		return false, fmt.Errorf("unsupported quote currency %s for %s", trade.Quote, trade.OrderID)
	}

	tx := ledger.Transaction{
		Exchange:           trade.Exchange,
		Asset:              trade.Asset,
		Amount:             trade.Amount,
		PriceUSD:           trade.AvgPrice,
		Type:               ledger.TransactionType(trade.Side),
		Date:               trade.Timestamp.UTC().Format(ledger.DateLayout),
		Commission:         trade.Commission,
		CommissionCurrency: trade.CommissionCurrency,
		SourceOrderID:      trade.OrderID,
	}
	if err := tx.Validate(); err != nil {
		return false, err
	}

	duplicate, err := s.dedup.IsDuplicate(tx)
	if err != nil {
		return false, err
	}
	if duplicate {
		return false, nil
	}

	// PLN fields stay null when no rate is available; missing data is never
	// replaced with a guess.
	rate, err := s.valuation.USDToPLN(ctx, tx.Date)
	switch {
	case err == nil:
		mid := rate.Mid
		valuePLN := tx.ValueUSD * mid
		tx.ExchangeRateUSDPLN = &mid
		tx.ValuePLN = &valuePLN
	case errors.Is(err, valuation.ErrRateUnavailable):
		log.Warn().Str("date", tx.Date).Msg("No USD/PLN rate within fallback window")
	default:
		log.Warn().Err(err).Str("date", tx.Date).Msg("USD/PLN rate lookup failed")
	}

	if _, err := s.repo.AddTransaction(tx); err != nil {
		return false, err
	}
	return true, nil
}

// SortSummaries orders summaries by exchange name for stable output
func SortSummaries(summaries []Summary) {
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Exchange < summaries[j].Exchange
	})
}
