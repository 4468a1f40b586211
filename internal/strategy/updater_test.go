package strategy

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/internal/metrics"
	"github.com/wonny/newstrace/backend/internal/strategyconfig"
)

// fakeStore backs both the weight and feedback repositories so a cycle's
// consumption marks are visible to the next ListPending call, the way
// the shared database makes them in production
type fakeStore struct {
	set      *contracts.WeightSet
	pending  []*contracts.MarketFeedback
	entries  []contracts.EvolutionEntry
	cycles   []contracts.EvolutionCycle
	applyErr error
}

func newFakeStore(weights map[string]float64) *fakeStore {
	ws := &contracts.WeightSet{
		Version:   1,
		Weights:   make(map[string]contracts.FeatureWeight, len(weights)),
		UpdatedAt: time.Now(),
	}
	for name, w := range weights {
		ws.Weights[name] = contracts.FeatureWeight{Feature: name, Weight: w}
	}
	return &fakeStore{set: ws}
}

func (f *fakeStore) Snapshot(ctx context.Context) (*contracts.WeightSet, error) {
	if f.set == nil {
		return nil, contracts.ErrNotFound
	}
	return f.set.Clone(), nil
}

func (f *fakeStore) Seed(ctx context.Context, initial map[string]float64) error {
	if f.set == nil {
		f.set = &contracts.WeightSet{Version: 1, Weights: make(map[string]contracts.FeatureWeight)}
	}
	for name, w := range initial {
		if _, ok := f.set.Weights[name]; !ok {
			f.set.Weights[name] = contracts.FeatureWeight{Feature: name, Weight: w}
		}
	}
	return nil
}

func (f *fakeStore) ApplyCycle(ctx context.Context, fromVersion int64, next *contracts.WeightSet, entries []contracts.EvolutionEntry, consumed []contracts.FeedbackKey, cycle *contracts.EvolutionCycle) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	if f.set.Version != fromVersion {
		return contracts.ErrVersionConflict
	}
	f.set = next.Clone()
	f.entries = append(f.entries, entries...)
	for _, key := range consumed {
		for _, fb := range f.pending {
			if fb.Key() == key {
				at := cycle.FinishedAt
				fb.ConsumedAt = &at
			}
		}
	}
	f.cycles = append(f.cycles, *cycle)
	return nil
}

func (f *fakeStore) Log(ctx context.Context, limit int) ([]contracts.EvolutionEntry, error) {
	return f.entries, nil
}

func (f *fakeStore) Cycles(ctx context.Context, limit int) ([]contracts.EvolutionCycle, error) {
	return f.cycles, nil
}

func (f *fakeStore) Get(ctx context.Context, key contracts.FeedbackKey) (*contracts.MarketFeedback, error) {
	for _, fb := range f.pending {
		if fb.Key() == key {
			return fb, nil
		}
	}
	return nil, contracts.ErrNotFound
}

func (f *fakeStore) ListPending(ctx context.Context, limit int) ([]*contracts.MarketFeedback, error) {
	out := make([]*contracts.MarketFeedback, 0)
	for _, fb := range f.pending {
		if fb.ConsumedAt == nil {
			out = append(out, fb)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ListClosedSince(ctx context.Context, horizon contracts.Horizon, since time.Time) ([]*contracts.MarketFeedback, error) {
	return nil, nil
}

func (f *fakeStore) CountPending(ctx context.Context) (int, error) {
	n := 0
	for _, fb := range f.pending {
		if fb.ConsumedAt == nil {
			n++
		}
	}
	return n, nil
}

func testPolicy() *strategyconfig.Config {
	return &strategyconfig.Config{
		Meta: strategyconfig.Meta{
			PolicyID: "newstrace_feedback_v1",
			Timezone: "Asia/Shanghai",
		},
		Evolution: strategyconfig.Evolution{
			LearningRateInitial:   1.0,
			LearningRateDecay:     1.0,
			WeightMin:             -50,
			WeightMax:             50,
			SignificanceThreshold: 0.1,
			BatchLimit:            500,
			Features: []strategyconfig.FeatureSeed{
				{Name: "hype_language", InitialWeight: -15},
				{Name: "policy_demand", InitialWeight: 10},
				{Name: "data_support", InitialWeight: 20},
			},
		},
	}
}

func newTestUpdater(store *fakeStore) *Updater {
	return NewUpdater(store, store, testPolicy(), "test-hash", zerolog.Nop(), metrics.NewRegistry())
}

func pendingFeedback(taskID string, closedAt time.Time, contributions map[string]float64) *contracts.MarketFeedback {
	return &contracts.MarketFeedback{
		TaskID:  taskID,
		NewsID:  "NEWS-" + taskID,
		Source:  "caijing_daily",
		Horizon: contracts.HorizonT7,
		Regime:  contracts.RegimeBull,
		Features: contracts.FeatureVector{
			Activations: map[string]float64{"hype_language": 0.8, "data_support": -0.4},
			Risk:        contracts.RiskMedium,
		},
		ReturnPct:     4.05,
		BenchmarkPct:  0.8,
		AdjustedPct:   3.25,
		Contributions: contributions,
		ClosedAt:      closedAt,
	}
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRunCycle(t *testing.T) {
	store := newFakeStore(map[string]float64{
		"hype_language": -15,
		"policy_demand": 10,
		"data_support":  20,
	})
	closedAt := time.Date(2026, 3, 9, 16, 30, 0, 0, time.UTC)
	store.pending = []*contracts.MarketFeedback{
		pendingFeedback("TRK-a", closedAt, map[string]float64{"hype_language": 2.6, "data_support": -1.3}),
	}

	u := newTestUpdater(store)
	res, err := u.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if res.NoOp {
		t.Fatal("Cycle with pending feedback must not be a no-op")
	}
	if res.FromVersion != 1 || res.ToVersion != 2 {
		t.Errorf("Expected version 1 -> 2, got %d -> %d", res.FromVersion, res.ToVersion)
	}
	if res.FeedbackCount != 1 || res.RejectedCount != 0 {
		t.Errorf("Expected 1 consumed 0 rejected, got %d/%d", res.FeedbackCount, res.RejectedCount)
	}
	if res.ChangedFeatures != 2 {
		t.Errorf("Expected 2 changed features, got %d", res.ChangedFeatures)
	}

	// First sample moves by the full contribution: lr(0) = 1.0
	if got := store.set.Weights["hype_language"]; !almost(got.Weight, -12.4) || got.SampleCount != 1 {
		t.Errorf("Expected hype_language -12.4 n=1, got %.4f n=%d", got.Weight, got.SampleCount)
	}
	if got := store.set.Weights["data_support"]; !almost(got.Weight, 18.7) || got.SampleCount != 1 {
		t.Errorf("Expected data_support 18.7 n=1, got %.4f n=%d", got.Weight, got.SampleCount)
	}
	if got := store.set.Weights["policy_demand"]; got.Weight != 10 || got.SampleCount != 0 {
		t.Errorf("Untouched feature must not change, got %.4f n=%d", got.Weight, got.SampleCount)
	}

	// Entries are per applied contribution, features in sorted order
	if len(store.entries) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(store.entries))
	}
	first := store.entries[0]
	if first.Feature != "data_support" || first.OldWeight != 20 || !almost(first.NewWeight, 18.7) {
		t.Errorf("Unexpected first entry: %+v", first)
	}
	if first.CycleID != res.CycleID || first.Clamped {
		t.Errorf("Entry bookkeeping wrong: %+v", first)
	}

	if store.pending[0].ConsumedAt == nil {
		t.Error("Consumed feedback must be marked")
	}

	if len(store.cycles) != 1 {
		t.Fatalf("Expected 1 cycle row, got %d", len(store.cycles))
	}
	cycle := store.cycles[0]
	if cycle.StoreVersion != 2 || cycle.PolicyHash != "test-hash" {
		t.Errorf("Unexpected cycle row: %+v", cycle)
	}
}

func TestRunCycle_LearningRateDecay(t *testing.T) {
	store := newFakeStore(map[string]float64{
		"hype_language": -15,
		"policy_demand": 10,
		"data_support":  20,
	})
	// data_support has seen 4 samples already: lr = 1/(1+4) = 0.2
	w := store.set.Weights["data_support"]
	w.SampleCount = 4
	store.set.Weights["data_support"] = w

	store.pending = []*contracts.MarketFeedback{
		pendingFeedback("TRK-a", time.Now(), map[string]float64{"data_support": 2.6}),
	}

	u := newTestUpdater(store)
	if _, err := u.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	got := store.set.Weights["data_support"]
	if !almost(got.Weight, 20.52) {
		t.Errorf("Expected 20 + 0.2*2.6 = 20.52, got %.4f", got.Weight)
	}
	if got.SampleCount != 5 {
		t.Errorf("Expected sample count 5, got %d", got.SampleCount)
	}
}

func TestRunCycle_Clamp(t *testing.T) {
	store := newFakeStore(map[string]float64{
		"hype_language": 49,
		"policy_demand": 10,
		"data_support":  20,
	})
	store.pending = []*contracts.MarketFeedback{
		pendingFeedback("TRK-a", time.Now(), map[string]float64{"hype_language": 2.6}),
	}

	u := newTestUpdater(store)
	if _, err := u.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if got := store.set.Weights["hype_language"].Weight; got != 50 {
		t.Errorf("Expected weight clamped to 50, got %.4f", got)
	}
	if len(store.entries) != 1 || !store.entries[0].Clamped {
		t.Errorf("Expected one clamped entry, got %+v", store.entries)
	}
}

func TestRunCycle_RejectsSchemaMismatch(t *testing.T) {
	store := newFakeStore(map[string]float64{
		"hype_language": -15,
		"policy_demand": 10,
		"data_support":  20,
	})
	bad := pendingFeedback("TRK-bad", time.Now(), map[string]float64{"insider_buzz": 1.2})
	bad.Features.Activations = map[string]float64{"insider_buzz": 0.5}
	store.pending = []*contracts.MarketFeedback{bad}

	u := newTestUpdater(store)
	res, err := u.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if res.RejectedCount != 1 {
		t.Errorf("Expected 1 rejected, got %d", res.RejectedCount)
	}
	if res.ChangedFeatures != 0 {
		t.Errorf("Rejected record must not move weights, got %d changed", res.ChangedFeatures)
	}
	if got := store.set.Weights["hype_language"].Weight; got != -15 {
		t.Errorf("Weights must be unchanged, got %.4f", got)
	}
	// The bad record is consumed so it cannot wedge the queue
	if store.pending[0].ConsumedAt == nil {
		t.Error("Rejected feedback must still be consumed")
	}
	if len(store.entries) != 0 {
		t.Errorf("Expected no log entries, got %d", len(store.entries))
	}
	if store.cycles[0].RejectedCount != 1 {
		t.Errorf("Cycle row must surface the rejection: %+v", store.cycles[0])
	}
}

func TestRunCycle_NoPending(t *testing.T) {
	store := newFakeStore(map[string]float64{"hype_language": -15})

	u := newTestUpdater(store)
	res, err := u.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if !res.NoOp {
		t.Error("Expected no-op cycle")
	}
	if store.set.Version != 1 {
		t.Errorf("Empty cycle must not bump the version, got %d", store.set.Version)
	}
	if len(store.cycles) != 0 {
		t.Errorf("Empty cycle must not append a cycle row, got %d", len(store.cycles))
	}
}

func TestRunCycle_DeterministicOrder(t *testing.T) {
	store := newFakeStore(map[string]float64{
		"hype_language": -15,
		"policy_demand": 10,
		"data_support":  20,
	})

	// Inserted newest first; the cycle must replay oldest first, so the
	// later record sees the decayed learning rate
	later := pendingFeedback("TRK-a", time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC), map[string]float64{"policy_demand": 4})
	earlier := pendingFeedback("TRK-b", time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), map[string]float64{"policy_demand": 2})
	store.pending = []*contracts.MarketFeedback{later, earlier}

	u := newTestUpdater(store)
	if _, err := u.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	// TRK-b first: 10 + 1.0*2 = 12. Then TRK-a: 12 + 0.5*4 = 14.
	if got := store.set.Weights["policy_demand"].Weight; got != 14 {
		t.Errorf("Expected 14 from oldest-first replay, got %.4f", got)
	}
	if store.entries[0].TaskID != "TRK-b" || store.entries[1].TaskID != "TRK-a" {
		t.Errorf("Entries out of order: %s then %s", store.entries[0].TaskID, store.entries[1].TaskID)
	}
}

func TestRunCycle_VersionConflict(t *testing.T) {
	store := newFakeStore(map[string]float64{"hype_language": -15})
	store.pending = []*contracts.MarketFeedback{
		pendingFeedback("TRK-a", time.Now(), map[string]float64{"hype_language": 2.6}),
	}
	store.applyErr = contracts.ErrVersionConflict

	u := newTestUpdater(store)
	_, err := u.RunCycle(context.Background())
	if !errors.Is(err, contracts.ErrVersionConflict) {
		t.Fatalf("Expected version conflict, got %v", err)
	}
}

func TestRunCycle_RerunIsNoOp(t *testing.T) {
	store := newFakeStore(map[string]float64{
		"hype_language": -15,
		"policy_demand": 10,
		"data_support":  20,
	})
	store.pending = []*contracts.MarketFeedback{
		pendingFeedback("TRK-a", time.Now(), map[string]float64{"hype_language": 2.6}),
	}

	u := newTestUpdater(store)
	if _, err := u.RunCycle(context.Background()); err != nil {
		t.Fatalf("First cycle failed: %v", err)
	}

	res, err := u.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("Second cycle failed: %v", err)
	}
	if !res.NoOp {
		t.Error("Rerun over consumed feedback must be a no-op")
	}
	if store.set.Version != 2 {
		t.Errorf("Expected version to stay at 2, got %d", store.set.Version)
	}
}
