package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/newstrace/backend/internal/api/handlers"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: route configuration happens in this function only
func NewRouter(
	taskHandler *handlers.TaskHandler,
	weightHandler *handlers.WeightHandler,
	ratingHandler *handlers.RatingHandler,
	runHandler *handlers.RunHandler,
	log *logger.Logger,
) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	// Tracking tasks
	api.HandleFunc("/tasks", taskHandler.Open).Methods("POST")
	api.HandleFunc("/tasks", taskHandler.List).Methods("GET")
	api.HandleFunc("/tasks/{id}", taskHandler.Get).Methods("GET")
	api.HandleFunc("/tasks/{id}/cancel", taskHandler.Cancel).Methods("POST")

	// Weights and evolution log
	api.HandleFunc("/weights", weightHandler.Get).Methods("GET")
	api.HandleFunc("/weights/log", weightHandler.Log).Methods("GET")

	// Source ratings
	api.HandleFunc("/ratings", ratingHandler.Board).Methods("GET")
	api.HandleFunc("/ratings/{source}", ratingHandler.Get).Methods("GET")

	// Batch triggers and cycle audit
	api.HandleFunc("/sweep/run", runHandler.Sweep).Methods("POST")
	api.HandleFunc("/evolution/run", runHandler.Evolution).Methods("POST")
	api.HandleFunc("/evolution/cycles", weightHandler.Cycles).Methods("GET")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "newstrace-api",
	})
}

// loggingMiddleware logs each request with its outcome. The sweep and
// evolution triggers run inline, so the duration here is the batch time.
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// statusRecorder captures the response code for the request log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// recoveryMiddleware turns a handler panic into a 500 instead of
// taking the process down
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Handler panicked")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
