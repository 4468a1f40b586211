package strategyconfig

import (
	"fmt"
	"math"
	"time"
)

// ValidationError is a hard violation: the program refuses to start.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning is a recommended-constraint violation: logged, not fatal.
type Warning struct {
	Code    string
	Message string
}

// Validate checks all required constraints
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.PolicyID == "" {
		return ValidationError{"meta.policy_id", "required"}
	}
	if cfg.Meta.Timezone == "" {
		return ValidationError{"meta.timezone", "required"}
	}
	if _, err := time.LoadLocation(cfg.Meta.Timezone); err != nil {
		return ValidationError{"meta.timezone", fmt.Sprintf("unknown timezone %q", cfg.Meta.Timezone)}
	}

	// === Tracking ===
	if cfg.Tracking.RetryBudget < 1 {
		return ValidationError{"tracking.retry_budget", "must be >= 1"}
	}
	if cfg.Tracking.RetryInitialDelayMS <= 0 {
		return ValidationError{"tracking.retry_initial_delay_ms", "must be > 0"}
	}
	if cfg.Tracking.RetryMaxDelayMS < cfg.Tracking.RetryInitialDelayMS {
		return ValidationError{"tracking.retry_max_delay_ms", "must be >= retry_initial_delay_ms"}
	}
	if cfg.Tracking.FetchTimeoutSec <= 0 {
		return ValidationError{"tracking.fetch_timeout_sec", "must be > 0"}
	}
	if cfg.Tracking.SweepWorkers < 1 {
		return ValidationError{"tracking.sweep_workers", "must be >= 1"}
	}
	if cfg.Tracking.Alerts.T1DrawdownPct >= 0 {
		return ValidationError{"tracking.alerts.t1_drawdown_pct", "must be negative"}
	}
	if cfg.Tracking.Alerts.T3DrawdownPct > cfg.Tracking.Alerts.T1DrawdownPct {
		return ValidationError{"tracking.alerts.t3_drawdown_pct", "must be at or below t1_drawdown_pct"}
	}

	// === Reward ===
	if cfg.Reward.MagnitudeCapPct <= 0 {
		return ValidationError{"reward.magnitude_cap_pct", "must be > 0"}
	}

	// === Evolution ===
	if cfg.Evolution.LearningRateInitial <= 0 {
		return ValidationError{"evolution.learning_rate_initial", "must be > 0"}
	}
	if cfg.Evolution.LearningRateDecay < 0 {
		return ValidationError{"evolution.learning_rate_decay", "must be >= 0"}
	}
	if cfg.Evolution.WeightMin >= cfg.Evolution.WeightMax {
		return ValidationError{"evolution", "weight_min must be < weight_max"}
	}
	if cfg.Evolution.SignificanceThreshold < 0 {
		return ValidationError{"evolution.significance_threshold", "must be >= 0"}
	}
	if cfg.Evolution.BatchLimit < 1 {
		return ValidationError{"evolution.batch_limit", "must be >= 1"}
	}
	if len(cfg.Evolution.Features) == 0 {
		return ValidationError{"evolution.features", "required"}
	}
	seen := make(map[string]bool, len(cfg.Evolution.Features))
	for i, f := range cfg.Evolution.Features {
		if f.Name == "" {
			return ValidationError{
				Field:   fmt.Sprintf("evolution.features[%d].name", i),
				Message: "required",
			}
		}
		if seen[f.Name] {
			return ValidationError{
				Field:   fmt.Sprintf("evolution.features[%d]", i),
				Message: fmt.Sprintf("duplicate feature %q", f.Name),
			}
		}
		seen[f.Name] = true
		if f.InitialWeight < cfg.Evolution.WeightMin || f.InitialWeight > cfg.Evolution.WeightMax {
			return ValidationError{
				Field:   fmt.Sprintf("evolution.features[%d].initial_weight", i),
				Message: fmt.Sprintf("%.2f outside [%.1f, %.1f]", f.InitialWeight, cfg.Evolution.WeightMin, cfg.Evolution.WeightMax),
			}
		}
	}

	// === Rating ===
	if cfg.Rating.WindowDays < 1 {
		return ValidationError{"rating.window_days", "must be >= 1"}
	}
	if cfg.Rating.MinTasks < 1 {
		return ValidationError{"rating.min_tasks", "must be >= 1"}
	}
	if math.Abs(cfg.Rating.Weights.Sum()-1.0) > 1e-6 {
		return ValidationError{"rating.weights", fmt.Sprintf("must sum to 1.0, got %.4f", cfg.Rating.Weights.Sum())}
	}
	b := cfg.Rating.Bands
	if !(b.A > b.B && b.B > b.C) {
		return ValidationError{"rating.bands", "must satisfy a > b > c"}
	}
	if b.A > 100 || b.C <= 0 {
		return ValidationError{"rating.bands", "must lie in (0, 100]"}
	}

	// === Schedules ===
	if cfg.Schedules.Sweep == "" {
		return ValidationError{"schedules.sweep", "required"}
	}
	if cfg.Schedules.Evolution == "" {
		return ValidationError{"schedules.evolution", "required"}
	}
	if cfg.Schedules.Rating == "" {
		return ValidationError{"schedules.rating", "required"}
	}
	if cfg.Schedules.CacheCleanup == "" {
		return ValidationError{"schedules.cache_cleanup", "required"}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	// An aggressive initial learning rate lets one closing batch swing
	// every weight it touches
	if cfg.Evolution.LearningRateInitial > 2 {
		warnings = append(warnings, Warning{
			Code:    "HIGH_LEARNING_RATE",
			Message: fmt.Sprintf("learning_rate_initial=%.2f: early feedback will dominate the store", cfg.Evolution.LearningRateInitial),
		})
	}

	// A high magnitude cap lets a single outlier move dominate the reward
	if cfg.Reward.MagnitudeCapPct > 20 {
		warnings = append(warnings, Warning{
			Code:    "WIDE_MAGNITUDE_CAP",
			Message: fmt.Sprintf("magnitude_cap_pct=%.1f: single-task outliers carry outsized reward", cfg.Reward.MagnitudeCapPct),
		})
	}

	// Short windows rate sources on thin samples
	if cfg.Rating.WindowDays < 14 {
		warnings = append(warnings, Warning{
			Code:    "SHORT_RATING_WINDOW",
			Message: fmt.Sprintf("window_days=%d: grades will be noisy", cfg.Rating.WindowDays),
		})
	}

	if cfg.Rating.MinTasks < 5 {
		warnings = append(warnings, Warning{
			Code:    "LOW_MIN_TASKS",
			Message: fmt.Sprintf("min_tasks=%d: sources get graded on very few closes", cfg.Rating.MinTasks),
		})
	}

	return warnings
}
