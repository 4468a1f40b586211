package logger_test

import (
	"errors"

	"github.com/wonny/newstrace/backend/pkg/config"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

// Example_basic demonstrates basic logger usage
func Example_basic() {
	cfg := &config.Config{
		Env:       "development",
		LogLevel:  "info",
		LogFormat: "console",
	}

	// Create logger (SSOT)
	log := logger.New(cfg)

	log.Debug("This won't appear (level is info)")
	log.Info("Tracking loop online")
	log.Warn("Quote provider slow")
	log.Error("Sweep aborted")
}

// Example_withFields demonstrates structured logging with fields
func Example_withFields() {
	cfg := &config.Config{
		Env:       "production",
		LogLevel:  "info",
		LogFormat: "json",
	}

	log := logger.New(cfg)

	taskLog := log.WithField("task_id", "TRK-8f2a")
	taskLog.Info("Checkpoint recorded")

	log.WithFields(map[string]interface{}{
		"ticker":     "600519.SH",
		"horizon":    "t+7",
		"return_pct": 4.05,
		"status":     "final_closed",
	}).Info("Task closed")
}

// Example_withError demonstrates error logging
func Example_withError() {
	cfg := &config.Config{
		Env:       "production",
		LogLevel:  "error",
		LogFormat: "json",
	}

	log := logger.New(cfg)

	err := errors.New("quote provider timeout")
	log.WithError(err).Error("Failed to fetch close price")

	log.WithError(err).
		WithFields(map[string]interface{}{
			"retry_count": 3,
			"timeout_ms":  5000,
		}).
		Error("Checkpoint degraded to stale fill")
}

// Example_componentLogger shows handing the raw zerolog instance to a
// package that derives its own component logger from it
func Example_componentLogger() {
	cfg := &config.Config{
		Env:       "production",
		LogLevel:  "info",
		LogFormat: "json",
	}

	log := logger.New(cfg)

	zl := log.Zerolog()
	child := zl.With().Str("component", "strategy.updater").Logger()
	child.Info().Int("changed", 2).Msg("Evolution cycle applied")
}
