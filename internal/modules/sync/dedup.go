package sync

import (
	"github.com/aristath/folio/internal/modules/ledger"
)

// DedupFilter decides whether an aggregated trade is already in the ledger.
// The upstream order id is the preferred identity: it is exact and immune to
// rounding drift. The fingerprint heuristic (same economic shape on the same
// calendar day, amounts within tolerance) covers sources without order ids,
// such as manually entered transactions.
type DedupFilter struct {
	repo *ledger.Repository
}

// NewDedupFilter creates a dedup filter over the ledger repository
func NewDedupFilter(repo *ledger.Repository) *DedupFilter {
	return &DedupFilter{repo: repo}
}

// IsDuplicate reports whether the candidate transaction is already recorded
func (f *DedupFilter) IsDuplicate(candidate ledger.Transaction) (bool, error) {
	if candidate.SourceOrderID != "" {
		exists, err := f.repo.ExistsOrderID(candidate.Exchange, candidate.SourceOrderID)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
		// A trade first entered manually and later re-fetched with its order
		// id would slip past the exact check, so the heuristic still runs.
	}

	return f.repo.FindDuplicate(candidate)
}
