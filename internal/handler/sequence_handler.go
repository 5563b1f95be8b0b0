// internal/handler/sequence_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-engine/internal/service"
)

// SequenceHandler serves the read-side dashboard views.
type SequenceHandler struct {
	Service *service.SequenceService
}

// GetSequenceWithStats returns a sequence definition together with aggregate
// execution counts per status.
func (h *SequenceHandler) GetSequenceWithStats(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid sequence id", http.StatusBadRequest)
		return
	}

	details, err := h.Service.GetSequenceDetails(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Int("sequence_id", id).Msg("failed to fetch sequence details")
		http.Error(w, "failed to fetch sequence: "+err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}

// GetSequenceStats returns only the aggregate execution counts.
func (h *SequenceHandler) GetSequenceStats(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid sequence id", http.StatusBadRequest)
		return
	}

	details, err := h.Service.GetSequenceDetails(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to fetch sequence: "+err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sequence_id": id,
		"stats":       details.Stats,
	})
}
