package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/pkg/logger"
	"github.com/wonny/newstrace/backend/pkg/redis"
)

// RatingHandler serves the source credibility leaderboard
type RatingHandler struct {
	ratings contracts.RatingRepository
	cache   *redis.Cache
	logger  *logger.Logger
}

// NewRatingHandler creates a new rating handler
func NewRatingHandler(ratings contracts.RatingRepository, cache *redis.Cache, log *logger.Logger) *RatingHandler {
	return &RatingHandler{
		ratings: ratings,
		cache:   cache,
		logger:  log,
	}
}

// Board returns the full leaderboard, best score first. The board only
// changes on a rating pass, so reads go through the cache.
// GET /api/v1/ratings
func (h *RatingHandler) Board(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var board []*contracts.SourceRating
	err := h.cache.GetOrSet(ctx, redis.BoardKey(), &board, redis.TTLMedium, func() (interface{}, error) {
		return h.ratings.Board(ctx)
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to get rating board")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve ratings")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(board),
		"ratings": board,
	})
}

// Get returns one source's rating plus the credibility points the
// scoring side feeds back in as the source_credibility input
// GET /api/v1/ratings/{source}
func (h *RatingHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := mux.Vars(r)["source"]

	rating, err := h.ratings.Get(ctx, source)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Source not rated")
			return
		}
		h.logger.WithError(err).Error("Failed to get source rating")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve rating")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rating":             rating,
		"credibility_points": rating.Grade.Points(),
	})
}
