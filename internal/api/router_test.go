package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/newstrace/backend/internal/api/handlers"
	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/internal/metrics"
	"github.com/wonny/newstrace/backend/internal/strategy"
	"github.com/wonny/newstrace/backend/internal/strategyconfig"
	"github.com/wonny/newstrace/backend/internal/tracking"
	"github.com/wonny/newstrace/backend/pkg/config"
	"github.com/wonny/newstrace/backend/pkg/logger"
	"github.com/wonny/newstrace/backend/pkg/redis"
)

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*contracts.TrackingTask
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[string]*contracts.TrackingTask)}
}

func (f *fakeTaskRepo) Create(ctx context.Context, task *contracts.TrackingTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeTaskRepo) Get(ctx context.Context, id string) (*contracts.TrackingTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, contracts.ErrNotFound)
	}
	return task, nil
}

func (f *fakeTaskRepo) Update(ctx context.Context, task *contracts.TrackingTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.ID] = task
	task.Version++
	return nil
}

func (f *fakeTaskRepo) CloseTask(ctx context.Context, task *contracts.TrackingTask, fb *contracts.MarketFeedback) error {
	return f.Update(ctx, task)
}

func (f *fakeTaskRepo) ListActive(ctx context.Context) ([]*contracts.TrackingTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*contracts.TrackingTask, 0)
	for _, task := range f.tasks {
		if task.Status.AcceptsCheckpoint() {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTaskRepo) ListByNews(ctx context.Context, newsID string) ([]*contracts.TrackingTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*contracts.TrackingTask, 0)
	for _, task := range f.tasks {
		if task.NewsID == newsID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) ListByStatus(ctx context.Context, status contracts.TaskStatus, limit int) ([]*contracts.TrackingTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*contracts.TrackingTask, 0)
	for _, task := range f.tasks {
		if task.Status == status && len(out) < limit {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) ListFinalClosedSince(ctx context.Context, since time.Time) ([]*contracts.TrackingTask, error) {
	return nil, nil
}

type fakePrices struct{}

func (f *fakePrices) Fetch(ctx context.Context, ticker string, date time.Time) (float64, error) {
	return 1850, nil
}

type stubBuilder struct{}

func (s *stubBuilder) Build(ctx context.Context, task *contracts.TrackingTask, horizon contracts.Horizon, closedAt time.Time) (*contracts.MarketFeedback, error) {
	return &contracts.MarketFeedback{
		TaskID:   task.ID,
		NewsID:   task.NewsID,
		Source:   task.Source,
		Horizon:  horizon,
		Regime:   task.Regime,
		ClosedAt: closedAt,
	}, nil
}

// fakeEvoStore backs both sides of the evolution cycle
type fakeEvoStore struct {
	set     *contracts.WeightSet
	entries []contracts.EvolutionEntry
	cycles  []contracts.EvolutionCycle
	pending []*contracts.MarketFeedback
}

func (f *fakeEvoStore) Snapshot(ctx context.Context) (*contracts.WeightSet, error) {
	if f.set == nil {
		return nil, contracts.ErrNotFound
	}
	return f.set.Clone(), nil
}

func (f *fakeEvoStore) Seed(ctx context.Context, initial map[string]float64) error { return nil }

func (f *fakeEvoStore) ApplyCycle(ctx context.Context, fromVersion int64, next *contracts.WeightSet, entries []contracts.EvolutionEntry, consumed []contracts.FeedbackKey, cycle *contracts.EvolutionCycle) error {
	f.set = next.Clone()
	f.entries = append(f.entries, entries...)
	if cycle != nil {
		f.cycles = append(f.cycles, *cycle)
	}
	return nil
}

func (f *fakeEvoStore) Log(ctx context.Context, limit int) ([]contracts.EvolutionEntry, error) {
	return f.entries, nil
}

func (f *fakeEvoStore) Cycles(ctx context.Context, limit int) ([]contracts.EvolutionCycle, error) {
	return f.cycles, nil
}

func (f *fakeEvoStore) Get(ctx context.Context, key contracts.FeedbackKey) (*contracts.MarketFeedback, error) {
	return nil, contracts.ErrNotFound
}

func (f *fakeEvoStore) ListPending(ctx context.Context, limit int) ([]*contracts.MarketFeedback, error) {
	return f.pending, nil
}

func (f *fakeEvoStore) ListClosedSince(ctx context.Context, horizon contracts.Horizon, since time.Time) ([]*contracts.MarketFeedback, error) {
	return nil, nil
}

func (f *fakeEvoStore) CountPending(ctx context.Context) (int, error) {
	return len(f.pending), nil
}

type fakeRatings struct {
	board []*contracts.SourceRating
}

func (f *fakeRatings) ReplaceBoard(ctx context.Context, ratings []*contracts.SourceRating) error {
	f.board = ratings
	return nil
}

func (f *fakeRatings) Board(ctx context.Context) ([]*contracts.SourceRating, error) {
	return f.board, nil
}

func (f *fakeRatings) Get(ctx context.Context, source string) (*contracts.SourceRating, error) {
	for _, r := range f.board {
		if r.Source == source {
			return r, nil
		}
	}
	return nil, fmt.Errorf("source %s: %w", source, contracts.ErrNotFound)
}

func testPolicy() *strategyconfig.Config {
	return &strategyconfig.Config{
		Meta: strategyconfig.Meta{
			PolicyID: "newstrace_feedback_v1",
			Timezone: "Asia/Shanghai",
		},
		Tracking: strategyconfig.Tracking{
			RetryBudget:         2,
			RetryInitialDelayMS: 1,
			RetryMaxDelayMS:     2,
			FetchTimeoutSec:     1,
			SweepWorkers:        2,
			Alerts:              strategyconfig.Alerts{T1DrawdownPct: -3, T3DrawdownPct: -5},
		},
		Reward: strategyconfig.Reward{MagnitudeCapPct: 10},
		Evolution: strategyconfig.Evolution{
			LearningRateInitial:   1.0,
			LearningRateDecay:     1.0,
			WeightMin:             -50,
			WeightMax:             50,
			SignificanceThreshold: 0.1,
			BatchLimit:            500,
			Features: []strategyconfig.FeatureSeed{
				{Name: "hype_language", InitialWeight: -15},
				{Name: "data_support", InitialWeight: 20},
			},
		},
	}
}

type testEnv struct {
	router http.Handler
	repo   *fakeTaskRepo
	evo    *fakeEvoStore
	rate   *fakeRatings
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{Env: "test", LogLevel: "error"}
	log := logger.New(cfg)
	policy := testPolicy()
	reg := metrics.NewRegistry()

	repo := newFakeTaskRepo()
	manager, err := tracking.NewManager(repo, &fakePrices{}, &stubBuilder{}, policy, log, reg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	evo := &fakeEvoStore{
		set: &contracts.WeightSet{
			Version: 1,
			Weights: map[string]contracts.FeatureWeight{
				"hype_language": {Feature: "hype_language", Weight: -15},
				"data_support":  {Feature: "data_support", Weight: 20},
			},
			Instruction: "Feature weighting guidance (store v1)",
		},
	}
	updater := strategy.NewUpdater(evo, evo, policy, "test-hash", zerolog.Nop(), reg)

	rate := &fakeRatings{}

	rdb, err := redis.New(cfg)
	if err != nil {
		t.Fatalf("redis.New failed: %v", err)
	}
	boardCache := redis.NewCache(rdb, "test")

	router := NewRouter(
		handlers.NewTaskHandler(manager, repo, log),
		handlers.NewWeightHandler(evo, log),
		handlers.NewRatingHandler(rate, boardCache, log),
		handlers.NewRunHandler(manager, updater, log),
		log,
	)

	return &testEnv{router: router, repo: repo, evo: evo, rate: rate}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func openBody() handlers.OpenTaskRequest {
	return handlers.OpenTaskRequest{
		NewsID:  "NEWS-001",
		Source:  "caijing_daily",
		Tickers: []string{"600519.SH"},
		Features: contracts.FeatureVector{
			Activations: map[string]float64{"hype_language": 0.8},
			Risk:        contracts.RiskMedium,
		},
		Regime:   contracts.RegimeNeutral,
		T0Prices: map[string]float64{"600519.SH": 1850},
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
}

func TestOpenTask(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/tasks", openBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var task contracts.TrackingTask
	if err := json.NewDecoder(rec.Body).Decode(&task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ID == "" || task.Status != contracts.StatusOpen {
		t.Errorf("Unexpected task: %+v", task)
	}
	if _, ok := env.repo.tasks[task.ID]; !ok {
		t.Error("Task must be persisted")
	}
}

func TestOpenTask_FromMarket(t *testing.T) {
	env := newTestEnv(t)

	body := openBody()
	body.T0Prices = nil

	rec := env.do(t, "POST", "/api/v1/tasks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var task contracts.TrackingTask
	if err := json.NewDecoder(rec.Body).Decode(&task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.T0Prices["600519.SH"] != 1850 {
		t.Errorf("Expected fetched T0 price, got %+v", task.T0Prices)
	}
}

func TestOpenTask_Validation(t *testing.T) {
	env := newTestEnv(t)

	body := openBody()
	body.NewsID = ""

	rec := env.do(t, "POST", "/api/v1/tasks", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["error"] == "" {
		t.Error("Expected an error message")
	}
	if len(env.repo.tasks) != 0 {
		t.Error("Nothing may be persisted on validation failure")
	}
}

func TestGetTask(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/tasks", openBody())
	var created contracts.TrackingTask
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = env.do(t, "GET", "/api/v1/tasks/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var task contracts.TrackingTask
	if err := json.NewDecoder(rec.Body).Decode(&task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ID != created.ID || task.NewsID != "NEWS-001" {
		t.Errorf("Unexpected task: %+v", task)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/v1/tasks/TRK-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestListTasks(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/api/v1/tasks", openBody())
	second := openBody()
	second.NewsID = "NEWS-002"
	env.do(t, "POST", "/api/v1/tasks", second)

	rec := env.do(t, "GET", "/api/v1/tasks?news_id=NEWS-002", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Count int                       `json:"count"`
		Tasks []*contracts.TrackingTask `json:"tasks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Tasks[0].NewsID != "NEWS-002" {
		t.Errorf("Unexpected list: %+v", resp)
	}

	// Status filter and the default active listing
	rec = env.do(t, "GET", "/api/v1/tasks?status=open", nil)
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Expected 2 open tasks, got %d", resp.Count)
	}

	rec = env.do(t, "GET", "/api/v1/tasks", nil)
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Expected 2 active tasks, got %d", resp.Count)
	}
}

func TestCancelTask(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/tasks", openBody())
	var created contracts.TrackingTask
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = env.do(t, "POST", "/api/v1/tasks/"+created.ID+"/cancel", handlers.CancelTaskRequest{Reason: "analysis retracted"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := env.repo.tasks[created.ID].Status; got != contracts.StatusCancelled {
		t.Errorf("Expected cancelled, got %s", got)
	}

	// Terminal states reject a second cancel
	rec = env.do(t, "POST", "/api/v1/tasks/"+created.ID+"/cancel", handlers.CancelTaskRequest{Reason: "again"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", rec.Code)
	}
}

func TestCancelTask_RequiresReason(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/tasks", openBody())
	var created contracts.TrackingTask
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = env.do(t, "POST", "/api/v1/tasks/"+created.ID+"/cancel", handlers.CancelTaskRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestGetWeights(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/v1/weights", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var ws contracts.WeightSet
	if err := json.NewDecoder(rec.Body).Decode(&ws); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ws.Version != 1 || ws.Weights["hype_language"].Weight != -15 {
		t.Errorf("Unexpected snapshot: %+v", ws)
	}
}

func TestGetWeights_NotSeeded(t *testing.T) {
	env := newTestEnv(t)
	env.evo.set = nil

	rec := env.do(t, "GET", "/api/v1/weights", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestGetRatings(t *testing.T) {
	env := newTestEnv(t)
	env.rate.board = []*contracts.SourceRating{
		{Source: "caijing_daily", Score: 72.5, Grade: contracts.GradeB, TaskCount: 12},
	}

	rec := env.do(t, "GET", "/api/v1/ratings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Count   int                       `json:"count"`
		Ratings []*contracts.SourceRating `json:"ratings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Ratings[0].Grade != contracts.GradeB {
		t.Errorf("Unexpected board: %+v", resp)
	}

	rec = env.do(t, "GET", "/api/v1/ratings/caijing_daily", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var single struct {
		Rating            *contracts.SourceRating `json:"rating"`
		CredibilityPoints int                     `json:"credibility_points"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&single); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if single.Rating.Source != "caijing_daily" || single.CredibilityPoints != 75 {
		t.Errorf("Unexpected rating payload: %+v", single)
	}

	rec = env.do(t, "GET", "/api/v1/ratings/unknown_blog", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestRunSweep(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/sweep/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result tracking.SweepResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Scanned != 0 {
		t.Errorf("Expected empty sweep, got %+v", result)
	}
}

func TestRunSweep_BadDate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/sweep/run", handlers.SweepRequest{AsOf: "03/15/2026"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestRunEvolution(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/evolution/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result strategy.CycleResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.NoOp {
		t.Errorf("Expected no-op with no pending feedback, got %+v", result)
	}
}

func TestWeightsLog(t *testing.T) {
	env := newTestEnv(t)
	env.evo.entries = []contracts.EvolutionEntry{
		{CycleID: "EVO-1", Feature: "hype_language", OldWeight: -15, NewWeight: -12.4},
	}

	rec := env.do(t, "GET", "/api/v1/weights/log", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Count   int                        `json:"count"`
		Entries []contracts.EvolutionEntry `json:"entries"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Entries[0].Feature != "hype_language" {
		t.Errorf("Unexpected log: %+v", resp)
	}
}

func TestEvolutionCycles(t *testing.T) {
	env := newTestEnv(t)
	env.evo.cycles = []contracts.EvolutionCycle{
		{ID: "EVO-1", FeedbackCount: 4, ChangedFeatures: 2, StoreVersion: 2, PolicyHash: "test-hash"},
	}

	rec := env.do(t, "GET", "/api/v1/evolution/cycles", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Count  int                        `json:"count"`
		Cycles []contracts.EvolutionCycle `json:"cycles"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Cycles[0].StoreVersion != 2 {
		t.Errorf("Unexpected cycles: %+v", resp)
	}
}
