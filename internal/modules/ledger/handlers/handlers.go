// Package handlers provides HTTP handlers for ledger operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/modules/ledger"
)

// Handler handles ledger HTTP requests
type Handler struct {
	repo *ledger.Repository
	log  zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(repo *ledger.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "ledger").Logger(),
	}
}

// RegisterRoutes mounts the ledger routes on a router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/transactions", h.HandleGetTransactions)
	r.Post("/api/transactions", h.HandleAddTransaction)
	r.Delete("/api/transactions/{id}", h.HandleDeleteTransaction)
}

// HandleGetTransactions handles GET /api/transactions
func (h *Handler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := h.repo.GetAllTransactions()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		http.Error(w, "Failed to query transactions", http.StatusInternalServerError)
		return
	}

	if transactions == nil {
		transactions = []ledger.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(transactions)
}

// addTransactionRequest is the manual-entry payload
type addTransactionRequest struct {
	Exchange           string  `json:"exchange"`
	Asset              string  `json:"asset"`
	Amount             float64 `json:"amount"`
	PriceUSD           float64 `json:"price_usd"`
	Type               string  `json:"type"`
	Date               string  `json:"date"`
	Commission         float64 `json:"commission"`
	CommissionCurrency string  `json:"commission_currency"`
}

// HandleAddTransaction handles POST /api/transactions.
// Manually entered transactions have no upstream order id, so the heuristic
// fingerprint is the only dedup guard here.
func (h *Handler) HandleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var req addTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tx := ledger.Transaction{
		Exchange:           req.Exchange,
		Asset:              req.Asset,
		Amount:             req.Amount,
		PriceUSD:           req.PriceUSD,
		Type:               ledger.TransactionType(req.Type),
		Date:               req.Date,
		Commission:         req.Commission,
		CommissionCurrency: req.CommissionCurrency,
	}

	if err := tx.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	dup, err := h.repo.FindDuplicate(tx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to check for duplicate")
		http.Error(w, "Failed to check for duplicate", http.StatusInternalServerError)
		return
	}
	if dup {
		http.Error(w, "Transaction already recorded", http.StatusConflict)
		return
	}

	created, err := h.repo.AddTransaction(tx)
	if err != nil {
		var vErr *ledger.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Msg("Failed to add transaction")
		http.Error(w, "Failed to add transaction", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(created)
}

// HandleDeleteTransaction handles DELETE /api/transactions/{id}
func (h *Handler) HandleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid transaction id", http.StatusBadRequest)
		return
	}

	if err := h.repo.DeleteTransaction(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
