// Package handlers provides HTTP handlers for P&L reports.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/modules/costbasis"
)

// Handler handles cost basis HTTP requests
type Handler struct {
	service *costbasis.Service
	log     zerolog.Logger
}

// NewHandler creates a new cost basis handler
func NewHandler(service *costbasis.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "costbasis").Logger(),
	}
}

// RegisterRoutes mounts the P&L routes on a router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/pnl", h.HandleGetPnL)
}

// HandleGetPnL handles GET /api/pnl
func (h *Handler) HandleGetPnL(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.Report()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute P&L report")
		http.Error(w, "Failed to compute P&L report", http.StatusInternalServerError)
		return
	}

	if results == nil {
		results = []costbasis.PnLResult{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}
