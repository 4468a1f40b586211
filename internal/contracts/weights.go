package contracts

import (
	"sort"
	"time"
)

// FeatureWeight is one learned weight with its per-feature sample count.
// The count drives learning-rate decay, so it only grows.
type FeatureWeight struct {
	Feature     string    `json:"feature"`
	Weight      float64   `json:"weight"`
	SampleCount int       `json:"sample_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WeightSet is a versioned snapshot of the full weight store plus the
// analysis instruction rendered from it. Readers always see one version;
// evolution replaces the whole set atomically.
type WeightSet struct {
	Version     int64                    `json:"version"`
	Weights     map[string]FeatureWeight `json:"weights"`
	Instruction string                   `json:"instruction"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// Clone returns a deep copy safe to mutate during a cycle.
func (ws *WeightSet) Clone() *WeightSet {
	out := &WeightSet{
		Version:     ws.Version,
		Instruction: ws.Instruction,
		UpdatedAt:   ws.UpdatedAt,
		Weights:     make(map[string]FeatureWeight, len(ws.Weights)),
	}
	for name, w := range ws.Weights {
		out.Weights[name] = w
	}
	return out
}

// FeatureNames returns the store's feature names in sorted order.
func (ws *WeightSet) FeatureNames() []string {
	names := make([]string, 0, len(ws.Weights))
	for name := range ws.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EvolutionEntry is one append-only log row recording a single weight
// change: which feedback drove it, the old and new values, and whether
// the bounds clamp fired.
type EvolutionEntry struct {
	Seq           int64     `json:"seq"`
	CycleID       string    `json:"cycle_id"`
	TaskID        string    `json:"task_id"`
	Horizon       Horizon   `json:"horizon"`
	Feature       string    `json:"feature"`
	OldWeight     float64   `json:"old_weight"`
	NewWeight     float64   `json:"new_weight"`
	Contribution  float64   `json:"contribution"`
	SampleCount   int       `json:"sample_count"`
	Clamped       bool      `json:"clamped"`
	Justification string    `json:"justification"`
	CreatedAt     time.Time `json:"created_at"`
}

// EvolutionCycle is the audit row for one evolution run. PolicyHash pins
// the policy file the cycle ran under so results stay explainable.
type EvolutionCycle struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	FeedbackCount   int       `json:"feedback_count"`
	RejectedCount   int       `json:"rejected_count"`
	ChangedFeatures int       `json:"changed_features"`
	StoreVersion    int64     `json:"store_version"`
	PolicyHash      string    `json:"policy_hash"`
}
