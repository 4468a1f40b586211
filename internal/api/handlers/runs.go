package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/internal/strategy"
	"github.com/wonny/newstrace/backend/internal/tracking"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

// RunHandler triggers the batch entry points on demand
type RunHandler struct {
	manager *tracking.Manager
	updater *strategy.Updater
	logger  *logger.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(manager *tracking.Manager, updater *strategy.Updater, log *logger.Logger) *RunHandler {
	return &RunHandler{
		manager: manager,
		updater: updater,
		logger:  log,
	}
}

// SweepRequest optionally pins the sweep reference time
type SweepRequest struct {
	AsOf string `json:"as_of,omitempty"` // YYYY-MM-DD
}

// Sweep runs one checkpoint sweep over all active tasks
// POST /api/v1/sweep/run
func (h *RunHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	asOf := time.Now()
	var req SweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid 'as_of' date format (expected YYYY-MM-DD)")
			return
		}
		asOf = parsed
	}

	result, err := h.manager.RunSweep(ctx, asOf)
	if err != nil {
		h.logger.WithError(err).Error("Sweep failed")
		respondError(w, http.StatusInternalServerError, "Sweep failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Evolution runs one weight evolution cycle
// POST /api/v1/evolution/run
func (h *RunHandler) Evolution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.updater.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, contracts.ErrVersionConflict) {
			respondError(w, http.StatusConflict, "A concurrent cycle won the version check, retry")
			return
		}
		h.logger.WithError(err).Error("Evolution cycle failed")
		respondError(w, http.StatusInternalServerError, "Evolution cycle failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}
