package costbasis

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/modules/ledger"
)

// PriceSource supplies current prices for unrealized P&L. Implemented by the
// client data cache, kept warm by the exchange ticker stream.
type PriceSource interface {
	CurrentPrice(exchange, asset string) (float64, bool)
}

// Service replays the ledger through FIFO engines and produces P&L reports.
// Independent (exchange, asset) keys have no shared mutable state, so they
// are computed in parallel and merged once all keys complete.
type Service struct {
	ledgerRepo *ledger.Repository
	prices     PriceSource
	log        zerolog.Logger
}

// NewService creates a new cost basis service
func NewService(ledgerRepo *ledger.Repository, prices PriceSource, log zerolog.Logger) *Service {
	return &Service{
		ledgerRepo: ledgerRepo,
		prices:     prices,
		log:        log.With().Str("service", "costbasis").Logger(),
	}
}

type assetKey struct {
	exchange string
	asset    string
}

// Report computes P&L for every (exchange, asset) in the ledger, sorted by
// exchange then asset.
func (s *Service) Report() ([]PnLResult, error) {
	transactions, err := s.ledgerRepo.GetAllTransactions()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	grouped := groupByKey(transactions)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []PnLResult
	)

	for key, txs := range grouped {
		wg.Add(1)
		go func(key assetKey, txs []ledger.Transaction) {
			defer wg.Done()

			engine := NewEngine(key.exchange, key.asset)
			for _, tx := range txs {
				engine.Record(tx)
			}

			price, known := 0.0, false
			if s.prices != nil {
				price, known = s.prices.CurrentPrice(key.exchange, key.asset)
			}
			result := engine.Result(price, known)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(key, txs)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Exchange != results[j].Exchange {
			return results[i].Exchange < results[j].Exchange
		}
		return results[i].Asset < results[j].Asset
	})

	return results, nil
}

// RelinkSells replays one (exchange, asset) key and records on each sell
// which buy lots it consumed. Called after a sync appends new transactions.
func (s *Service) RelinkSells(exchange, asset string) error {
	transactions, err := s.ledgerRepo.GetTransactionsForKey(exchange, asset)
	if err != nil {
		return fmt.Errorf("failed to load transactions for %s/%s: %w", exchange, asset, err)
	}

	engine := NewEngine(exchange, asset)
	for _, tx := range transactions {
		engine.Record(tx)
	}

	for _, match := range engine.Matches() {
		if len(match.ConsumedLots) == 0 {
			continue
		}
		buyIDs := make([]int64, 0, len(match.ConsumedLots))
		for _, consumed := range match.ConsumedLots {
			buyIDs = append(buyIDs, consumed.SourceTransactionID)
		}
		if err := s.ledgerRepo.SetLinkedBuys(match.TransactionID, buyIDs); err != nil {
			return err
		}
	}

	return nil
}

// groupByKey splits the replay-ordered ledger per (exchange, asset),
// preserving order within each key.
func groupByKey(transactions []ledger.Transaction) map[assetKey][]ledger.Transaction {
	grouped := make(map[assetKey][]ledger.Transaction)
	for _, tx := range transactions {
		key := assetKey{exchange: tx.Exchange, asset: tx.Asset}
		grouped[key] = append(grouped[key], tx)
	}
	return grouped
}
