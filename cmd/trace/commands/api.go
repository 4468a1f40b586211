package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/newstrace/backend/internal/api"
	"github.com/wonny/newstrace/backend/internal/api/handlers"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the REST API server",
	Long: `Starts the REST API server.

This command:
- serves task, weight, and rating read endpoints
- accepts task opens and cancels
- exposes manual sweep and evolution triggers

Endpoints:
  GET  /health                    - Health check
  POST /api/v1/tasks              - Open a tracking task
  GET  /api/v1/tasks              - List tasks (news_id, status filters)
  GET  /api/v1/tasks/{id}         - Task detail with checkpoints
  POST /api/v1/tasks/{id}/cancel  - Cancel an active task
  GET  /api/v1/weights            - Current weight set + instruction
  GET  /api/v1/weights/log        - Recent evolution log entries
  GET  /api/v1/ratings            - Source rating board
  GET  /api/v1/ratings/{source}   - Single source rating
  POST /api/v1/sweep/run          - Run a checkpoint sweep now
  POST /api/v1/evolution/run      - Run an evolution cycle now

Example:
  go run ./cmd/trace api
  go run ./cmd/trace api --port 8090`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port (default from PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== NewsTrace API Server ===")

	// 1. Wire the tracking stack
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	// Override port if flag is set
	if apiPort != "" {
		rt.cfg.Port = apiPort
	}

	log := rt.log
	log.WithFields(map[string]interface{}{
		"port":   rt.cfg.Port,
		"env":    rt.cfg.Env,
		"policy": rt.policy.Meta.PolicyID,
	}).Info("Initializing API server")

	// 2. Seed the weight store and record the active policy
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.updater.Seed(ctx); err != nil {
		return fmt.Errorf("seed weight store: %w", err)
	}
	if err := rt.audits.SaveSnapshot(ctx, rt.policySnap); err != nil {
		return fmt.Errorf("record policy snapshot: %w", err)
	}

	// 3. Create handlers
	taskHandler := handlers.NewTaskHandler(rt.manager, rt.tasks, log)
	weightHandler := handlers.NewWeightHandler(rt.weights, log)
	ratingHandler := handlers.NewRatingHandler(rt.ratings, rt.cache, log)
	runHandler := handlers.NewRunHandler(rt.manager, rt.updater, log)

	// 4. Create router
	router := api.NewRouter(taskHandler, weightHandler, ratingHandler, runHandler, log)

	// 5. Create server
	server := api.New(rt.cfg, log, router)

	// 6. Start metrics endpoint
	if rt.cfg.MetricsEnabled {
		go func() {
			if err := rt.reg.Serve(ctx, rt.cfg.MetricsPort, log); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// 7. Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.Info("API server started successfully")
	fmt.Printf("\n✅ Server running on http://localhost:%s\n", rt.cfg.Port)
	fmt.Println("\nAvailable endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /api/v1/tasks")
	fmt.Println("  GET  /api/v1/tasks/{id}")
	fmt.Println("  POST /api/v1/tasks/{id}/cancel")
	fmt.Println("  GET  /api/v1/weights")
	fmt.Println("  GET  /api/v1/ratings")
	fmt.Println("  POST /api/v1/sweep/run")
	fmt.Println("  POST /api/v1/evolution/run")
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
