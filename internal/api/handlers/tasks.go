package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/internal/tracking"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

// TaskHandler handles tracking task API endpoints
// ⭐ SSOT: the task API handler lives in this struct only
type TaskHandler struct {
	manager *tracking.Manager
	repo    contracts.TaskRepository
	logger  *logger.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(manager *tracking.Manager, repo contracts.TaskRepository, log *logger.Logger) *TaskHandler {
	return &TaskHandler{
		manager: manager,
		repo:    repo,
		logger:  log,
	}
}

// OpenTaskRequest represents a task open request. When t0_prices is
// present the snapshot is taken as given; otherwise the market is
// queried for the current closes.
type OpenTaskRequest struct {
	NewsID   string                  `json:"news_id"`
	Source   string                  `json:"source"`
	Tickers  []string                `json:"tickers"`
	Features contracts.FeatureVector `json:"features"`
	Regime   contracts.MarketRegime  `json:"regime"`
	T0Prices map[string]float64      `json:"t0_prices,omitempty"`
	T0At     *time.Time              `json:"t0_at,omitempty"`
}

// Open opens a tracking task for a scored news item
// POST /api/v1/tasks
func (h *TaskHandler) Open(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req OpenTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	open := tracking.OpenRequest{
		NewsID:   req.NewsID,
		Source:   req.Source,
		Tickers:  req.Tickers,
		Features: req.Features,
		Regime:   req.Regime,
		T0Prices: req.T0Prices,
	}
	if req.T0At != nil {
		open.T0At = *req.T0At
	}

	var task *contracts.TrackingTask
	var err error
	if len(req.T0Prices) > 0 {
		task, err = h.manager.Open(ctx, open)
	} else {
		task, err = h.manager.OpenFromMarket(ctx, open)
	}
	if err != nil {
		if contracts.IsInvalidInput(err) || contracts.IsSchemaMismatch(err) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if contracts.IsDataUnavailable(err) {
			// The task is persisted as failed so the gap is auditable
			h.logger.WithError(err).Warn("T0 snapshot unavailable")
			respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to open task")
		respondError(w, http.StatusInternalServerError, "Failed to open task")
		return
	}

	respondJSON(w, http.StatusCreated, task)
}

// Get returns one task with its checkpoints
// GET /api/v1/tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	task, err := h.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.WithError(err).Error("Failed to get task")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve task")
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// List returns tasks filtered by news id or status
// GET /api/v1/tasks?news_id=NEWS-001&status=open&limit=50
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	newsID := r.URL.Query().Get("news_id")
	status := r.URL.Query().Get("status")
	limit := parseLimit(r.URL.Query().Get("limit"), 50)

	var tasks []*contracts.TrackingTask
	var err error

	switch {
	case newsID != "":
		tasks, err = h.repo.ListByNews(ctx, newsID)
	case status != "":
		tasks, err = h.repo.ListByStatus(ctx, contracts.TaskStatus(status), limit)
	default:
		tasks, err = h.repo.ListActive(ctx)
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tasks")
		respondError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(tasks),
		"tasks": tasks,
	})
}

// CancelTaskRequest carries the audit reason for a cancellation
type CancelTaskRequest struct {
	Reason string `json:"reason"`
}

// Cancel withdraws a task from tracking
// POST /api/v1/tasks/{id}/cancel
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var req CancelTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Reason == "" {
		respondError(w, http.StatusBadRequest, "Cancellation reason is required")
		return
	}

	if err := h.manager.Cancel(ctx, id, req.Reason, time.Now()); err != nil {
		switch {
		case errors.Is(err, contracts.ErrNotFound):
			respondError(w, http.StatusNotFound, "Task not found")
		case contracts.IsInvalidTaskState(err):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, contracts.ErrVersionConflict):
			respondError(w, http.StatusConflict, "Task was modified concurrently, retry")
		default:
			h.logger.WithError(err).Error("Failed to cancel task")
			respondError(w, http.StatusInternalServerError, "Failed to cancel task")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "cancelled",
		"id":     id,
	})
}

// Helper functions

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
