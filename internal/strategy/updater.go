// Package strategy owns the versioned feature-weight store and the
// evolution cycle that folds market feedback into it.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/internal/metrics"
	"github.com/wonny/newstrace/backend/internal/strategyconfig"
)

// Updater runs evolution cycles over pending feedback
// ⭐ SSOT: weight mutations happen in this cycle only
type Updater struct {
	weights    contracts.WeightRepository
	feedback   contracts.FeedbackRepository
	policy     *strategyconfig.Config
	policyHash string
	log        zerolog.Logger
	metrics    *metrics.Registry
}

// NewUpdater creates a strategy updater. The policy hash is recorded on
// every cycle row so results stay explainable after policy changes.
func NewUpdater(weights contracts.WeightRepository, feedback contracts.FeedbackRepository, policy *strategyconfig.Config, policyHash string, log zerolog.Logger, m *metrics.Registry) *Updater {
	return &Updater{
		weights:    weights,
		feedback:   feedback,
		policy:     policy,
		policyHash: policyHash,
		log:        log.With().Str("component", "strategy.updater").Logger(),
		metrics:    m,
	}
}

// CycleResult summarizes one evolution cycle
type CycleResult struct {
	CycleID         string             `json:"cycle_id"`
	FromVersion     int64              `json:"from_version"`
	ToVersion       int64              `json:"to_version"`
	FeedbackCount   int                `json:"feedback_count"`
	RejectedCount   int                `json:"rejected_count"`
	ChangedFeatures int                `json:"changed_features"`
	NetChanges      map[string]float64 `json:"net_changes"`
	Instruction     string             `json:"instruction"`
	NoOp            bool               `json:"no_op"`
}

// RunCycle consumes pending feedback in (closed_at, task_id) order and
// commits the resulting weight set, log entries, consumption marks, and
// cycle audit row in one transaction under the store's version check.
// Records that fail schema validation are consumed and surfaced in the
// rejected count rather than wedging the queue. No pending records means
// no writes at all.
func (u *Updater) RunCycle(ctx context.Context) (*CycleResult, error) {
	started := time.Now()

	snap, err := u.weights.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load weight snapshot: %w", err)
	}

	pending, err := u.feedback.ListPending(ctx, u.policy.Evolution.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list pending feedback: %w", err)
	}

	if len(pending) == 0 {
		u.metrics.EvolutionCycles.WithLabelValues("empty").Inc()
		u.log.Info().Int64("version", snap.Version).Msg("no pending feedback, store unchanged")
		return &CycleResult{
			FromVersion: snap.Version,
			ToVersion:   snap.Version,
			Instruction: snap.Instruction,
			NoOp:        true,
		}, nil
	}

	// The repository orders the batch; sorting again keeps replay
	// deterministic even against a nondeterministic source
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].ClosedAt.Equal(pending[j].ClosedAt) {
			return pending[i].ClosedAt.Before(pending[j].ClosedAt)
		}
		return pending[i].TaskID < pending[j].TaskID
	})

	now := time.Now()
	cycleID := "EVO-" + uuid.NewString()
	next := snap.Clone()
	known := u.policy.Evolution.FeatureNames()

	entries := make([]contracts.EvolutionEntry, 0)
	consumed := make([]contracts.FeedbackKey, 0, len(pending))
	netChanges := make(map[string]float64)
	rejected := 0

	for _, fb := range pending {
		if err := fb.Features.Validate(known); err != nil {
			rejected++
			consumed = append(consumed, fb.Key())
			u.metrics.FeedbackRejected.Inc()
			u.log.Warn().Err(err).
				Str("task_id", fb.TaskID).
				Str("horizon", string(fb.Horizon)).
				Msg("feedback rejected by schema validation")
			continue
		}

		for _, feature := range sortedFeatures(fb.Contributions) {
			contribution := fb.Contributions[feature]
			if contribution == 0 {
				continue
			}

			w := next.Weights[feature]
			w.Feature = feature

			lr := u.policy.Evolution.LearningRate(w.SampleCount)
			raw := w.Weight + lr*contribution

			clamped := false
			if raw > u.policy.Evolution.WeightMax {
				u.logClamp(feature, raw, u.policy.Evolution.WeightMax)
				raw = u.policy.Evolution.WeightMax
				clamped = true
			} else if raw < u.policy.Evolution.WeightMin {
				u.logClamp(feature, raw, u.policy.Evolution.WeightMin)
				raw = u.policy.Evolution.WeightMin
				clamped = true
			}

			entries = append(entries, contracts.EvolutionEntry{
				CycleID:       cycleID,
				TaskID:        fb.TaskID,
				Horizon:       fb.Horizon,
				Feature:       feature,
				OldWeight:     w.Weight,
				NewWeight:     raw,
				Contribution:  contribution,
				SampleCount:   w.SampleCount + 1,
				Clamped:       clamped,
				Justification: fmt.Sprintf("%s adjusted move %+.2f%%, contribution %+.4f at lr %.4f", fb.Horizon, fb.AdjustedPct, contribution, lr),
				CreatedAt:     now,
			})

			netChanges[feature] += raw - w.Weight
			next.Weights[feature] = contracts.FeatureWeight{
				Feature:     feature,
				Weight:      raw,
				SampleCount: w.SampleCount + 1,
				UpdatedAt:   now,
			}
		}

		consumed = append(consumed, fb.Key())
	}

	changed := 0
	for _, delta := range netChanges {
		if delta != 0 {
			changed++
		}
	}

	next.Version = snap.Version + 1
	next.UpdatedAt = now
	next.Instruction = RenderInstruction(next, netChanges, u.policy.Evolution.SignificanceThreshold)

	cycle := &contracts.EvolutionCycle{
		ID:              cycleID,
		StartedAt:       started,
		FinishedAt:      time.Now(),
		FeedbackCount:   len(pending),
		RejectedCount:   rejected,
		ChangedFeatures: changed,
		StoreVersion:    next.Version,
		PolicyHash:      u.policyHash,
	}

	if err := u.weights.ApplyCycle(ctx, snap.Version, next, entries, consumed, cycle); err != nil {
		u.metrics.EvolutionCycles.WithLabelValues("conflict").Inc()
		return nil, fmt.Errorf("apply cycle %s: %w", cycleID, err)
	}

	u.metrics.EvolutionCycles.WithLabelValues("applied").Inc()
	u.metrics.FeedbackConsumed.Add(float64(len(consumed)))
	u.publishGauges(next)

	u.log.Info().
		Str("cycle_id", cycleID).
		Int64("from_version", snap.Version).
		Int64("to_version", next.Version).
		Int("feedback", len(pending)).
		Int("rejected", rejected).
		Int("changed_features", changed).
		Msg("evolution cycle applied")

	return &CycleResult{
		CycleID:         cycleID,
		FromVersion:     snap.Version,
		ToVersion:       next.Version,
		FeedbackCount:   len(pending),
		RejectedCount:   rejected,
		ChangedFeatures: changed,
		NetChanges:      netChanges,
		Instruction:     next.Instruction,
	}, nil
}

// Seed writes the policy's initial weights for any feature the store
// does not know yet. Existing weights are never touched.
func (u *Updater) Seed(ctx context.Context) error {
	return u.weights.Seed(ctx, u.policy.Evolution.InitialWeights())
}

func (u *Updater) logClamp(feature string, attempted, bound float64) {
	violation := &contracts.WeightBoundsViolation{Feature: feature, Attempted: attempted, Bound: bound}
	u.metrics.WeightClamps.Inc()
	u.log.Warn().Err(violation).Str("feature", feature).Msg("weight clamped to bounds")
}

func (u *Updater) publishGauges(ws *contracts.WeightSet) {
	weights := make(map[string]float64, len(ws.Weights))
	for name, w := range ws.Weights {
		weights[name] = w.Weight
	}
	u.metrics.SetWeights(ws.Version, weights)
}

func sortedFeatures(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
