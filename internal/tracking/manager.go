package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/internal/metrics"
	"github.com/wonny/newstrace/backend/internal/strategyconfig"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

// FeedbackBuilder turns a closing task into its reward record
type FeedbackBuilder interface {
	Build(ctx context.Context, task *contracts.TrackingTask, horizon contracts.Horizon, closedAt time.Time) (*contracts.MarketFeedback, error)
}

// Manager owns the tracking task lifecycle
// ⭐ SSOT: task state transitions happen in this manager only
type Manager struct {
	repo    contracts.TaskRepository
	prices  contracts.PriceSource
	builder FeedbackBuilder
	policy  *strategyconfig.Config
	loc     *time.Location
	logger  *logger.Logger
	metrics *metrics.Registry
}

// NewManager creates a tracking manager. The policy timezone selects the
// trading calendar used for horizon offsets.
func NewManager(repo contracts.TaskRepository, prices contracts.PriceSource, builder FeedbackBuilder, policy *strategyconfig.Config, log *logger.Logger, m *metrics.Registry) (*Manager, error) {
	loc, err := policy.Meta.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve policy timezone: %w", err)
	}
	return &Manager{
		repo:    repo,
		prices:  prices,
		builder: builder,
		policy:  policy,
		loc:     loc,
		logger:  log,
		metrics: m,
	}, nil
}

// OpenRequest carries everything needed to open a task. T0Prices is the
// caller-supplied snapshot for Open and ignored by OpenFromMarket; a
// zero T0At means now.
type OpenRequest struct {
	NewsID   string
	Source   string
	Tickers  []string
	Features contracts.FeatureVector
	Regime   contracts.MarketRegime
	T0Prices map[string]float64
	T0At     time.Time
}

// Open creates a task from a caller-supplied T0 snapshot. Malformed
// input is rejected before anything is persisted.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*contracts.TrackingTask, error) {
	if err := m.validateOpen(req, true); err != nil {
		return nil, err
	}

	now := time.Now()
	t0At := req.T0At
	if t0At.IsZero() {
		t0At = now
	}

	prices := make(map[string]float64, len(req.Tickers))
	for _, ticker := range req.Tickers {
		prices[ticker] = req.T0Prices[ticker]
	}

	task := m.newTask(req, prices, t0At, now)
	if err := m.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	m.metrics.TasksOpened.Inc()
	m.logger.WithFields(map[string]interface{}{
		"task_id": task.ID,
		"news_id": task.NewsID,
		"tickers": task.Tickers,
		"regime":  string(task.Regime),
	}).Info("Tracking task opened")
	return task, nil
}

// OpenFromMarket creates a task with the engine establishing T0 itself
// through the price source. Exhausting the retry budget persists the
// task as Failed so the miss stays auditable, and the fetch error is
// returned alongside the failed task.
func (m *Manager) OpenFromMarket(ctx context.Context, req OpenRequest) (*contracts.TrackingTask, error) {
	if err := m.validateOpen(req, false); err != nil {
		return nil, err
	}

	now := time.Now()
	t0At := req.T0At
	if t0At.IsZero() {
		t0At = now
	}
	date := dateOf(t0At.In(m.loc))

	prices := make(map[string]float64, len(req.Tickers))
	var fetchErr error
	for _, ticker := range req.Tickers {
		price, err := m.fetchWithRetry(ctx, ticker, date)
		if err != nil {
			fetchErr = fmt.Errorf("t0 snapshot for %s: %w", ticker, err)
			break
		}
		prices[ticker] = price
	}

	task := m.newTask(req, prices, t0At, now)
	if fetchErr != nil {
		task.Status = contracts.StatusFailed
		task.ClosedAt = &now
	}

	if err := m.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	if fetchErr != nil {
		m.metrics.TasksFailed.Inc()
		m.logger.WithError(fetchErr).WithFields(map[string]interface{}{
			"task_id": task.ID,
			"news_id": task.NewsID,
		}).Warn("Task failed, T0 snapshot could not be established")
		return task, fetchErr
	}

	m.metrics.TasksOpened.Inc()
	m.logger.WithFields(map[string]interface{}{
		"task_id": task.ID,
		"news_id": task.NewsID,
		"tickers": task.Tickers,
	}).Info("Tracking task opened from market snapshot")
	return task, nil
}

// ApplyCheckpoint records the price observation for one horizon. A
// horizon already recorded is a no-op returning the existing
// checkpoint; a horizon earlier than one recorded is rejected. When the
// retry budget runs out the checkpoint is forward-filled from the last
// known prices, flagged stale, and the task degrades to Stale.
func (m *Manager) ApplyCheckpoint(ctx context.Context, taskID string, horizon contracts.Horizon, now time.Time) (*contracts.Checkpoint, error) {
	if !horizon.Valid() {
		return nil, &contracts.InvalidInputError{Field: "horizon", Message: fmt.Sprintf("unknown horizon %q", horizon)}
	}

	task, err := m.repo.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}

	if task.HasCheckpoint(horizon) {
		return task.Checkpoints[horizon], nil
	}
	if !task.Status.AcceptsCheckpoint() {
		return nil, &contracts.InvalidTaskStateError{TaskID: taskID, Status: task.Status, Op: "apply_checkpoint"}
	}
	if last, ok := task.LastHorizon(); ok && horizon.Days() < last.Days() {
		return nil, &contracts.InvalidTaskStateError{TaskID: taskID, Status: task.Status, Op: fmt.Sprintf("apply_%s_after_%s", horizon, last)}
	}
	if m.dayOffset(task.T0At, now) < horizon.Days() {
		return nil, &contracts.InvalidInputError{Field: "horizon", Message: fmt.Sprintf("%s not due yet", horizon)}
	}

	date := m.checkpointDate(task.T0At, horizon)
	prices := make(map[string]float64, len(task.Tickers))
	stale := false
	for _, ticker := range task.Tickers {
		price, err := m.fetchWithRetry(ctx, ticker, date)
		if err == nil {
			prices[ticker] = price
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		stale = true
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"task_id": taskID,
			"ticker":  ticker,
			"horizon": string(horizon),
		}).Warn("Checkpoint price unavailable, forward-filling")
	}
	if stale {
		filled := task.LatestPrices(horizon)
		for _, ticker := range task.Tickers {
			if _, ok := prices[ticker]; !ok {
				prices[ticker] = filled[ticker]
			}
		}
	}

	cp := &contracts.Checkpoint{
		Horizon:    horizon,
		Prices:     prices,
		ReturnPct:  BasketReturnPct(task.T0Prices, prices),
		Stale:      stale,
		RecordedAt: now,
	}

	if task.Checkpoints == nil {
		task.Checkpoints = make(map[contracts.Horizon]*contracts.Checkpoint)
	}
	task.Checkpoints[horizon] = cp
	task.MaxDrawdownPct = UpdateDrawdown(task.MaxDrawdownPct, cp.ReturnPct)
	if stale {
		task.Status = contracts.StatusStale
	}
	task.UpdatedAt = now

	if err := m.repo.Update(ctx, task); err != nil {
		return nil, err
	}

	fill := "fresh"
	if stale {
		fill = "stale"
	}
	m.metrics.CheckpointsApplied.WithLabelValues(string(horizon), fill).Inc()
	m.checkAlert(task, cp)

	m.logger.WithFields(map[string]interface{}{
		"task_id":    taskID,
		"horizon":    string(horizon),
		"return_pct": cp.ReturnPct,
		"stale":      stale,
	}).Info("Checkpoint recorded")
	return cp, nil
}

// CloseShort closes an Open task at the T+3 horizon and emits its
// feedback record
func (m *Manager) CloseShort(ctx context.Context, taskID string, now time.Time) error {
	task, err := m.repo.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status != contracts.StatusOpen {
		return &contracts.InvalidTaskStateError{TaskID: taskID, Status: task.Status, Op: "close_short"}
	}

	fb, err := m.builder.Build(ctx, task, contracts.HorizonT3, now)
	if err != nil {
		return fmt.Errorf("build T3 feedback for %s: %w", taskID, err)
	}

	task.Status = contracts.StatusShortClosed
	task.UpdatedAt = now
	if err := m.repo.CloseTask(ctx, task, fb); err != nil {
		return err
	}

	m.metrics.TasksClosed.WithLabelValues(string(contracts.HorizonT3)).Inc()
	m.metrics.FeedbackEmitted.Inc()
	m.logger.WithFields(map[string]interface{}{
		"task_id":      taskID,
		"return_pct":   fb.ReturnPct,
		"adjusted_pct": fb.AdjustedPct,
	}).Info("Task short-closed")
	return nil
}

// CloseFinal closes a task at the T+7 horizon, emits its feedback
// record, and makes the task terminal. Stale tasks close with whatever
// real prices were recovered by then.
func (m *Manager) CloseFinal(ctx context.Context, taskID string, now time.Time) error {
	task, err := m.repo.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if !task.Status.AcceptsCheckpoint() {
		return &contracts.InvalidTaskStateError{TaskID: taskID, Status: task.Status, Op: "close_final"}
	}

	fb, err := m.builder.Build(ctx, task, contracts.HorizonT7, now)
	if err != nil {
		return fmt.Errorf("build T7 feedback for %s: %w", taskID, err)
	}

	task.Status = contracts.StatusFinalClosed
	task.UpdatedAt = now
	task.ClosedAt = &now
	if err := m.repo.CloseTask(ctx, task, fb); err != nil {
		return err
	}

	m.metrics.TasksClosed.WithLabelValues(string(contracts.HorizonT7)).Inc()
	m.metrics.FeedbackEmitted.Inc()
	m.logger.WithFields(map[string]interface{}{
		"task_id":      taskID,
		"return_pct":   fb.ReturnPct,
		"adjusted_pct": fb.AdjustedPct,
		"drawdown_pct": fb.DrawdownPct,
	}).Info("Task final-closed")
	return nil
}

// Cancel terminates an Open or ShortClosed task without feedback
func (m *Manager) Cancel(ctx context.Context, taskID, reason string, now time.Time) error {
	task, err := m.repo.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status != contracts.StatusOpen && task.Status != contracts.StatusShortClosed {
		return &contracts.InvalidTaskStateError{TaskID: taskID, Status: task.Status, Op: "cancel"}
	}

	task.Status = contracts.StatusCancelled
	task.CancelReason = reason
	task.UpdatedAt = now
	task.ClosedAt = &now
	if err := m.repo.Update(ctx, task); err != nil {
		return err
	}

	m.metrics.TasksCancelled.Inc()
	m.logger.WithFields(map[string]interface{}{
		"task_id": taskID,
		"reason":  reason,
	}).Info("Task cancelled")
	return nil
}

// fetchWithRetry resolves one close with the policy retry budget and
// exponential backoff. Each attempt gets its own timeout.
func (m *Manager) fetchWithRetry(ctx context.Context, ticker string, date time.Time) (float64, error) {
	budget := m.policy.Tracking.RetryBudget
	if budget < 1 {
		budget = 1
	}
	delay := m.policy.Tracking.InitialDelay()
	maxDelay := m.policy.Tracking.MaxDelay()

	var lastErr error
	for attempt := 0; attempt < budget; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, m.policy.Tracking.FetchTimeout())
		price, err := m.prices.Fetch(fetchCtx, ticker, date)
		cancel()
		if err == nil {
			return price, nil
		}
		lastErr = err

		if attempt == budget-1 {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return 0, lastErr
}

// checkAlert raises the early-warning drawdown alert for T1/T3
// checkpoints at or below the policy thresholds
func (m *Manager) checkAlert(task *contracts.TrackingTask, cp *contracts.Checkpoint) {
	var threshold float64
	switch cp.Horizon {
	case contracts.HorizonT1:
		threshold = m.policy.Tracking.Alerts.T1DrawdownPct
	case contracts.HorizonT3:
		threshold = m.policy.Tracking.Alerts.T3DrawdownPct
	default:
		return
	}
	if cp.ReturnPct > threshold {
		return
	}

	m.metrics.DrawdownAlerts.WithLabelValues(string(cp.Horizon)).Inc()
	m.logger.WithFields(map[string]interface{}{
		"task_id":    task.ID,
		"news_id":    task.NewsID,
		"horizon":    string(cp.Horizon),
		"return_pct": cp.ReturnPct,
		"threshold":  threshold,
	}).Warn("Drawdown alert")
}

func (m *Manager) validateOpen(req OpenRequest, withPrices bool) error {
	if req.NewsID == "" {
		return &contracts.InvalidInputError{Field: "news_id", Message: "must not be empty"}
	}
	if req.Source == "" {
		return &contracts.InvalidInputError{Field: "source", Message: "must not be empty"}
	}
	if len(req.Tickers) == 0 {
		return &contracts.InvalidInputError{Field: "tickers", Message: "must not be empty"}
	}
	seen := make(map[string]struct{}, len(req.Tickers))
	for _, ticker := range req.Tickers {
		if ticker == "" {
			return &contracts.InvalidInputError{Field: "tickers", Message: "empty ticker"}
		}
		if _, ok := seen[ticker]; ok {
			return &contracts.InvalidInputError{Field: "tickers", Message: fmt.Sprintf("duplicate ticker %s", ticker)}
		}
		seen[ticker] = struct{}{}
	}
	if !req.Regime.Valid() {
		return &contracts.InvalidInputError{Field: "regime", Message: fmt.Sprintf("unknown regime %q", req.Regime)}
	}
	if err := req.Features.Validate(m.policy.Evolution.FeatureNames()); err != nil {
		return err
	}

	if !withPrices {
		return nil
	}
	for _, ticker := range req.Tickers {
		price, ok := req.T0Prices[ticker]
		if !ok {
			return &contracts.InvalidInputError{Field: "t0_prices", Message: fmt.Sprintf("missing price for %s", ticker)}
		}
		if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			return &contracts.InvalidInputError{Field: "t0_prices", Message: fmt.Sprintf("non-positive price for %s", ticker)}
		}
	}
	return nil
}

func (m *Manager) newTask(req OpenRequest, prices map[string]float64, t0At, now time.Time) *contracts.TrackingTask {
	return &contracts.TrackingTask{
		ID:          "TRK-" + uuid.NewString(),
		NewsID:      req.NewsID,
		Source:      req.Source,
		Tickers:     append([]string(nil), req.Tickers...),
		T0Prices:    prices,
		T0At:        t0At,
		Status:      contracts.StatusOpen,
		Regime:      req.Regime,
		Features:    req.Features,
		Checkpoints: make(map[contracts.Horizon]*contracts.Checkpoint),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// dayOffset returns whole calendar days from t0 to asOf in the market
// timezone
func (m *Manager) dayOffset(t0, asOf time.Time) int {
	from := dateOf(t0.In(m.loc))
	to := dateOf(asOf.In(m.loc))
	return int(to.Sub(from).Hours() / 24)
}

// checkpointDate is the calendar date the horizon's close belongs to
func (m *Manager) checkpointDate(t0 time.Time, h contracts.Horizon) time.Time {
	return dateOf(t0.In(m.loc)).AddDate(0, 0, h.Days())
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// errIsConflict reports whether err is the optimistic-concurrency loss
func errIsConflict(err error) bool {
	return errors.Is(err, contracts.ErrVersionConflict)
}
