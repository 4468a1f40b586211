package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/newstrace/backend/internal/contracts"
)

// SweepResult summarizes one sweep batch
type SweepResult struct {
	AsOf        time.Time `json:"as_of"`
	Scanned     int       `json:"scanned"`
	Applied     int       `json:"applied"`
	StaleFills  int       `json:"stale_fills"`
	ShortCloses int       `json:"short_closes"`
	FinalCloses int       `json:"final_closes"`
	Conflicts   int       `json:"conflicts"`
	Errors      int       `json:"errors"`
	Duration    string    `json:"duration"`
}

type sweepOutcome struct {
	applied     int
	staleFills  int
	shortCloses int
	finalCloses int
	conflict    bool
	err         error
}

// RunSweep advances every active task to where the calendar says it
// should be: due checkpoints are applied oldest first, then the short
// and final closes fire once their horizons have passed. A task that
// was dormant past several deadlines catches up in a single pass.
// Per-task failures are counted, logged, and never stop the batch.
func (m *Manager) RunSweep(ctx context.Context, asOf time.Time) (*SweepResult, error) {
	start := time.Now()

	tasks, err := m.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}

	workers := m.policy.Tracking.SweepWorkers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string, len(tasks))
	results := make(chan sweepOutcome, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for taskID := range jobs {
				results <- m.sweepTask(ctx, taskID, asOf)
			}
		}()
	}
	for _, task := range tasks {
		jobs <- task.ID
	}
	close(jobs)
	wg.Wait()
	close(results)

	res := &SweepResult{AsOf: asOf, Scanned: len(tasks)}
	for out := range results {
		res.Applied += out.applied
		res.StaleFills += out.staleFills
		res.ShortCloses += out.shortCloses
		res.FinalCloses += out.finalCloses

		outcome := "idle"
		switch {
		case out.err != nil:
			res.Errors++
			outcome = "error"
		case out.conflict:
			res.Conflicts++
			outcome = "conflict"
		case out.applied+out.shortCloses+out.finalCloses > 0:
			outcome = "advanced"
		}
		m.metrics.SweepTasks.WithLabelValues(outcome).Inc()
	}

	elapsed := time.Since(start)
	res.Duration = elapsed.Round(time.Millisecond).String()
	m.metrics.SweepDuration.Observe(elapsed.Seconds())

	m.logger.WithFields(map[string]interface{}{
		"scanned":      res.Scanned,
		"applied":      res.Applied,
		"stale_fills":  res.StaleFills,
		"short_closes": res.ShortCloses,
		"final_closes": res.FinalCloses,
		"conflicts":    res.Conflicts,
		"errors":       res.Errors,
		"duration":     res.Duration,
	}).Info("Sweep completed")
	return res, nil
}

// sweepTask advances a single task. The task is reloaded after every
// mutation so one worker's view never goes stale against its own
// writes; a version conflict means another actor won the race, and the
// task is left for the next sweep.
func (m *Manager) sweepTask(ctx context.Context, taskID string, asOf time.Time) sweepOutcome {
	var out sweepOutcome

	select {
	case <-ctx.Done():
		out.err = ctx.Err()
		return out
	default:
	}

	task, err := m.repo.Get(ctx, taskID)
	if err != nil {
		out.err = err
		m.logger.WithError(err).WithField("task_id", taskID).Warn("Sweep could not load task")
		return out
	}
	// Cancelled or closed between the listing and this load
	if task.Status.Terminal() {
		return out
	}

	offset := m.dayOffset(task.T0At, asOf)

	for _, horizon := range contracts.Horizons() {
		if horizon.Days() > offset {
			break
		}
		if task.HasCheckpoint(horizon) {
			continue
		}
		if !task.Status.AcceptsCheckpoint() {
			break
		}

		cp, err := m.ApplyCheckpoint(ctx, taskID, horizon, asOf)
		if err != nil {
			if errIsConflict(err) {
				out.conflict = true
				return out
			}
			out.err = err
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"task_id": taskID,
				"horizon": string(horizon),
			}).Warn("Sweep checkpoint failed")
			return out
		}
		out.applied++
		if cp.Stale {
			out.staleFills++
		}

		if task, err = m.repo.Get(ctx, taskID); err != nil {
			out.err = err
			return out
		}
	}

	if offset >= contracts.HorizonT3.Days() && task.Status == contracts.StatusOpen {
		if err := m.CloseShort(ctx, taskID, asOf); err != nil {
			if errIsConflict(err) {
				out.conflict = true
				return out
			}
			out.err = err
			m.logger.WithError(err).WithField("task_id", taskID).Warn("Sweep short close failed")
			return out
		}
		out.shortCloses++

		if task, err = m.repo.Get(ctx, taskID); err != nil {
			out.err = err
			return out
		}
	}

	if offset >= contracts.HorizonT7.Days() && task.Status.AcceptsCheckpoint() {
		if err := m.CloseFinal(ctx, taskID, asOf); err != nil {
			if errIsConflict(err) {
				out.conflict = true
				return out
			}
			out.err = err
			m.logger.WithError(err).WithField("task_id", taskID).Warn("Sweep final close failed")
			return out
		}
		out.finalCloses++
	}

	return out
}
