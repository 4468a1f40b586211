package handlers

import (
	"errors"
	"net/http"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

// WeightHandler serves the current weight snapshot
type WeightHandler struct {
	weights contracts.WeightRepository
	logger  *logger.Logger
}

// NewWeightHandler creates a new weight handler
func NewWeightHandler(weights contracts.WeightRepository, log *logger.Logger) *WeightHandler {
	return &WeightHandler{
		weights: weights,
		logger:  log,
	}
}

// Get returns the committed weight set and its rendered instruction
// GET /api/v1/weights
func (h *WeightHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snapshot, err := h.weights.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Weight store not seeded")
			return
		}
		h.logger.WithError(err).Error("Failed to get weight snapshot")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve weights")
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}

// Log returns the most recent evolution log entries
// GET /api/v1/weights/log?limit=100
func (h *WeightHandler) Log(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r.URL.Query().Get("limit"), 100)

	entries, err := h.weights.Log(ctx, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get evolution log")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve evolution log")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// Cycles returns the most recent evolution cycle audit rows
// GET /api/v1/evolution/cycles?limit=20
func (h *WeightHandler) Cycles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r.URL.Query().Get("limit"), 20)

	cycles, err := h.weights.Cycles(ctx, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get evolution cycles")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve evolution cycles")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(cycles),
		"cycles": cycles,
	})
}
