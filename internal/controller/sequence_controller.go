// internal/controller/sequence_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type SequenceController struct {
	SequenceService *service.SequenceService
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var seqNF *appErrors.ErrSequenceNotFound
	var execNF *appErrors.ErrExecutionNotFound
	if errors.As(err, &seqNF) || errors.As(err, &execNF) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func sequenceID(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "id"))
}

func executionID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (c *SequenceController) CreateSequence(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID  int              `json:"tenant_id"`
		Name      string           `json:"name"`
		Platforms []model.Platform `json:"platforms"`
		Steps     []model.Step     `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	seq := &model.Sequence{
		TenantID:  body.TenantID,
		Name:      body.Name,
		Platforms: body.Platforms,
		Steps:     body.Steps,
	}
	if err := c.SequenceService.CreateSequence(r.Context(), seq); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, seq)
}

func (c *SequenceController) UpdateSteps(w http.ResponseWriter, r *http.Request) {
	id, err := sequenceID(r)
	if err != nil {
		http.Error(w, "invalid sequence id", http.StatusBadRequest)
		return
	}
	var body struct {
		Platforms []model.Platform `json:"platforms"`
		Steps     []model.Step     `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	seq, err := c.SequenceService.UpdateSteps(r.Context(), id, body.Platforms, body.Steps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (c *SequenceController) ActivateSequence(w http.ResponseWriter, r *http.Request) {
	id, err := sequenceID(r)
	if err != nil {
		http.Error(w, "invalid sequence id", http.StatusBadRequest)
		return
	}
	if err := c.SequenceService.Activate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequence_id": id,
		"status":      model.SequenceActive,
	})
}

func (c *SequenceController) EnrollContacts(w http.ResponseWriter, r *http.Request) {
	id, err := sequenceID(r)
	if err != nil {
		http.Error(w, "invalid sequence id", http.StatusBadRequest)
		return
	}
	var body struct {
		ContactIDs []int `json:"contact_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	result, err := c.SequenceService.EnrollContacts(r.Context(), id, body.ContactIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *SequenceController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	id, err := sequenceID(r)
	if err != nil {
		http.Error(w, "invalid sequence id", http.StatusBadRequest)
		return
	}
	var body struct {
		ContactID        int     `json:"contact_id"`
		StepID           string  `json:"step_id"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, err := c.SequenceService.RenderPreview(r.Context(), id, body.StepID, body.ContactID, body.OverrideTemplate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"step_id":          body.StepID,
		"contact_id":       body.ContactID,
	})
}

func (c *SequenceController) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id, err := executionID(r)
	if err != nil {
		http.Error(w, "invalid execution id", http.StatusBadRequest)
		return
	}
	if err := c.SequenceService.CancelExecution(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"execution_id": id.String(),
		"status":       model.ExecutionCancelled,
	})
}

func (c *SequenceController) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := executionID(r)
	if err != nil {
		http.Error(w, "invalid execution id", http.StatusBadRequest)
		return
	}
	exec, err := c.SequenceService.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
