package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/folio/internal/modules/valuation"
)

// handleGetRate resolves the USD/PLN rate for a date
// GET /api/rates/{date}
func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	rate, err := s.cfg.Valuation.USDToPLN(r.Context(), date)
	if errors.Is(err, valuation.ErrRateUnavailable) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no rate available for " + date,
		})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("date", date).Msg("Rate lookup failed")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, rate)
}

// handleTriggerSync runs a full exchange sync immediately
// POST /api/sync
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	report := s.cfg.SyncService.Run(r.Context())
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
