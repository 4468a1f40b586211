package strategyconfig

import "time"

// Config is the full evolution policy for the news tracking loop. It is
// loaded from YAML once at startup and treated as immutable; every
// evolution cycle records the hash of the policy it ran under.
type Config struct {
	Meta      Meta      `yaml:"meta" json:"meta"`
	Tracking  Tracking  `yaml:"tracking" json:"tracking"`
	Reward    Reward    `yaml:"reward" json:"reward"`
	Evolution Evolution `yaml:"evolution" json:"evolution"`
	Rating    Rating    `yaml:"rating" json:"rating"`
	Schedules Schedules `yaml:"schedules" json:"schedules"`
}

// Meta policy identity
type Meta struct {
	PolicyID string `yaml:"policy_id" json:"policy_id"`
	Version  string `yaml:"version" json:"version"`
	Timezone string `yaml:"timezone" json:"timezone"` // trading calendar, e.g. Asia/Shanghai
}

// Location resolves the policy timezone. Validate guarantees it loads.
func (m Meta) Location() (*time.Location, error) {
	return time.LoadLocation(m.Timezone)
}

// Tracking controls checkpoint fetching and the sweep
type Tracking struct {
	RetryBudget         int    `yaml:"retry_budget" json:"retry_budget"`
	RetryInitialDelayMS int    `yaml:"retry_initial_delay_ms" json:"retry_initial_delay_ms"`
	RetryMaxDelayMS     int    `yaml:"retry_max_delay_ms" json:"retry_max_delay_ms"`
	FetchTimeoutSec     int    `yaml:"fetch_timeout_sec" json:"fetch_timeout_sec"`
	SweepWorkers        int    `yaml:"sweep_workers" json:"sweep_workers"`
	Alerts              Alerts `yaml:"alerts" json:"alerts"`
}

// InitialDelay returns the first retry backoff
func (t Tracking) InitialDelay() time.Duration {
	return time.Duration(t.RetryInitialDelayMS) * time.Millisecond
}

// MaxDelay returns the backoff ceiling
func (t Tracking) MaxDelay() time.Duration {
	return time.Duration(t.RetryMaxDelayMS) * time.Millisecond
}

// FetchTimeout returns the per-fetch deadline
func (t Tracking) FetchTimeout() time.Duration {
	return time.Duration(t.FetchTimeoutSec) * time.Second
}

// Alerts holds the early-warning thresholds. A checkpoint return at or
// below the threshold raises a drawdown alert for the horizon.
type Alerts struct {
	T1DrawdownPct float64 `yaml:"t1_drawdown_pct" json:"t1_drawdown_pct"`
	T3DrawdownPct float64 `yaml:"t3_drawdown_pct" json:"t3_drawdown_pct"`
}

// Reward controls how a closed task turns into per-feature rewards
type Reward struct {
	MagnitudeCapPct float64   `yaml:"magnitude_cap_pct" json:"magnitude_cap_pct"`
	Benchmark       Benchmark `yaml:"benchmark" json:"benchmark"`
}

// Benchmark is the drift table used when the index itself cannot be
// fetched: expected benchmark move per calendar day under each regime.
type Benchmark struct {
	BullDriftPctPerDay    float64 `yaml:"bull_drift_pct_per_day" json:"bull_drift_pct_per_day"`
	BearDriftPctPerDay    float64 `yaml:"bear_drift_pct_per_day" json:"bear_drift_pct_per_day"`
	NeutralDriftPctPerDay float64 `yaml:"neutral_drift_pct_per_day" json:"neutral_drift_pct_per_day"`
}

// Evolution controls the weight update rule
type Evolution struct {
	LearningRateInitial   float64       `yaml:"learning_rate_initial" json:"learning_rate_initial"`
	LearningRateDecay     float64       `yaml:"learning_rate_decay" json:"learning_rate_decay"`
	WeightMin             float64       `yaml:"weight_min" json:"weight_min"`
	WeightMax             float64       `yaml:"weight_max" json:"weight_max"`
	SignificanceThreshold float64       `yaml:"significance_threshold" json:"significance_threshold"`
	BatchLimit            int           `yaml:"batch_limit" json:"batch_limit"`
	Features              []FeatureSeed `yaml:"features" json:"features"`
}

// FeatureSeed declares one known feature and its starting weight
type FeatureSeed struct {
	Name          string  `yaml:"name" json:"name"`
	InitialWeight float64 `yaml:"initial_weight" json:"initial_weight"`
}

// LearningRate returns the decayed step size after n samples:
// initial / (1 + decay*n). With the defaults this is the harmonic 1/(1+n).
func (e Evolution) LearningRate(sampleCount int) float64 {
	return e.LearningRateInitial / (1 + e.LearningRateDecay*float64(sampleCount))
}

// FeatureNames returns the declared feature names in file order
func (e Evolution) FeatureNames() []string {
	names := make([]string, 0, len(e.Features))
	for _, f := range e.Features {
		names = append(names, f.Name)
	}
	return names
}

// InitialWeights returns the seed weights keyed by feature name
func (e Evolution) InitialWeights() map[string]float64 {
	out := make(map[string]float64, len(e.Features))
	for _, f := range e.Features {
		out[f.Name] = f.InitialWeight
	}
	return out
}

// Rating controls the source leaderboard pass
type Rating struct {
	WindowDays int           `yaml:"window_days" json:"window_days"`
	MinTasks   int           `yaml:"min_tasks" json:"min_tasks"`
	Weights    RatingWeights `yaml:"weights" json:"weights"`
	Bands      Bands         `yaml:"bands" json:"bands"`
}

// RatingWeights are the composite score weights, sum = 1.0
type RatingWeights struct {
	AvgReturn float64 `yaml:"avg_return" json:"avg_return"`
	RumorRate float64 `yaml:"rumor_rate" json:"rumor_rate"`
	Accuracy  float64 `yaml:"accuracy" json:"accuracy"`
}

// Sum returns the sum of all weights
func (w RatingWeights) Sum() float64 {
	return w.AvgReturn + w.RumorRate + w.Accuracy
}

// Bands are the grade cutoffs: score >= A is grade A, >= B grade B,
// >= C grade C, below C grade D
type Bands struct {
	A float64 `yaml:"a" json:"a"`
	B float64 `yaml:"b" json:"b"`
	C float64 `yaml:"c" json:"c"`
}

// Schedules holds the cron specs (with seconds field) for the periodic jobs
type Schedules struct {
	Sweep        string `yaml:"sweep" json:"sweep"`
	Evolution    string `yaml:"evolution" json:"evolution"`
	Rating       string `yaml:"rating" json:"rating"`
	CacheCleanup string `yaml:"cache_cleanup" json:"cache_cleanup"`
}

// PolicySnapshot pins the exact policy a run executed under (for audit)
type PolicySnapshot struct {
	ConfigHash string    `json:"config_hash"`
	ConfigYAML string    `json:"config_yaml"`
	PolicyID   string    `json:"policy_id"`
	GitCommit  string    `json:"git_commit"`
	CreatedAt  time.Time `json:"created_at"`
}
