// Package contracts holds the domain types, ports, and repository
// interfaces shared across the tracking, feedback, strategy, and rating
// modules. Keeping them here avoids import cycles between modules that
// produce and consume the same records.
package contracts

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Horizon identifies a checkpoint offset from task open, in trading-calendar days.
type Horizon string

const (
	HorizonT1 Horizon = "T1"
	HorizonT3 Horizon = "T3"
	HorizonT7 Horizon = "T7"
)

// Horizons returns all checkpoint horizons in ascending day order.
func Horizons() []Horizon {
	return []Horizon{HorizonT1, HorizonT3, HorizonT7}
}

// Days returns the calendar-day offset of the horizon from T0.
func (h Horizon) Days() int {
	switch h {
	case HorizonT1:
		return 1
	case HorizonT3:
		return 3
	case HorizonT7:
		return 7
	}
	return 0
}

// Valid reports whether h is one of the supported horizons.
func (h Horizon) Valid() bool {
	return h == HorizonT1 || h == HorizonT3 || h == HorizonT7
}

// TaskStatus is the lifecycle state of a tracking task.
type TaskStatus string

const (
	StatusOpen        TaskStatus = "open"
	StatusShortClosed TaskStatus = "short_closed"
	StatusFinalClosed TaskStatus = "final_closed"
	StatusStale       TaskStatus = "stale"
	StatusFailed      TaskStatus = "failed"
	StatusCancelled   TaskStatus = "cancelled"
)

// Terminal reports whether the task can never change state again.
func (s TaskStatus) Terminal() bool {
	return s == StatusFinalClosed || s == StatusFailed || s == StatusCancelled
}

// AcceptsCheckpoint reports whether a checkpoint may still be recorded
// in this state. Stale tasks keep accepting checkpoints so that the
// final close can use a real price once the source recovers.
func (s TaskStatus) AcceptsCheckpoint() bool {
	return s == StatusOpen || s == StatusShortClosed || s == StatusStale
}

// MarketRegime labels the broad market condition a task was opened under.
// It selects the benchmark window used to isolate news-specific moves.
type MarketRegime string

const (
	RegimeBull    MarketRegime = "bull"
	RegimeBear    MarketRegime = "bear"
	RegimeNeutral MarketRegime = "neutral"
)

func (r MarketRegime) Valid() bool {
	return r == RegimeBull || r == RegimeBear || r == RegimeNeutral
}

// RiskLevel is the analyst-assigned risk flag on the original feature vector.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

func (r RiskLevel) Valid() bool {
	return r == RiskHigh || r == RiskMedium || r == RiskLow
}

// FeatureVector is the frozen analysis snapshot a task carries from open
// to close. Activations are signed feature strengths in [-1, 1]; the sign
// encodes the predicted direction of the move.
type FeatureVector struct {
	Activations map[string]float64 `json:"activations"`
	Risk        RiskLevel          `json:"risk"`
}

// Validate checks the vector against the known feature names. An empty
// known set skips the name check. Violations come back as
// *SchemaMismatchError so callers can reject the record instead of
// silently dropping fields.
func (v FeatureVector) Validate(known []string) error {
	if len(v.Activations) == 0 {
		return &SchemaMismatchError{Field: "activations", Message: "empty feature vector"}
	}
	if !v.Risk.Valid() {
		return &SchemaMismatchError{Field: "risk", Message: fmt.Sprintf("unknown risk level %q", v.Risk)}
	}
	for name, act := range v.Activations {
		if math.IsNaN(act) || math.IsInf(act, 0) {
			return &SchemaMismatchError{Field: name, Message: "activation is not a finite number"}
		}
		if act < -1 || act > 1 {
			return &SchemaMismatchError{Field: name, Message: fmt.Sprintf("activation %.4f outside [-1, 1]", act)}
		}
	}
	if len(known) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(known))
	for _, name := range known {
		allowed[name] = struct{}{}
	}
	for name := range v.Activations {
		if _, ok := allowed[name]; !ok {
			return &SchemaMismatchError{Field: name, Message: "feature not in policy schema"}
		}
	}
	return nil
}

// FeatureNames returns the activation keys in sorted order.
func (v FeatureVector) FeatureNames() []string {
	names := make([]string, 0, len(v.Activations))
	for name := range v.Activations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Checkpoint is one recorded price observation for a task. Prices hold
// the close per ticker on the checkpoint date; ReturnPct is the basket
// return versus T0 at that point. Stale marks forward-filled prices
// recorded after the fetch budget ran out.
type Checkpoint struct {
	Horizon    Horizon            `json:"horizon"`
	Prices     map[string]float64 `json:"prices"`
	ReturnPct  float64            `json:"return_pct"`
	Stale      bool               `json:"stale"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// TrackingTask follows the tickers recommended by one news analysis from
// the moment of publication through the T+7 final close. The version
// column backs optimistic concurrency: every state transition bumps it,
// and stale writers lose.
type TrackingTask struct {
	ID             string                  `json:"id"`
	NewsID         string                  `json:"news_id"`
	Source         string                  `json:"source"`
	Tickers        []string                `json:"tickers"`
	T0Prices       map[string]float64      `json:"t0_prices"`
	T0At           time.Time               `json:"t0_at"`
	Status         TaskStatus              `json:"status"`
	Regime         MarketRegime            `json:"regime"`
	Features       FeatureVector           `json:"features"`
	Checkpoints    map[Horizon]*Checkpoint `json:"checkpoints"`
	MaxDrawdownPct float64                 `json:"max_drawdown_pct"`
	CancelReason   string                  `json:"cancel_reason,omitempty"`
	Version        int64                   `json:"version"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
	ClosedAt       *time.Time              `json:"closed_at,omitempty"`
}

// HasCheckpoint reports whether the horizon has already been recorded.
func (t *TrackingTask) HasCheckpoint(h Horizon) bool {
	if t.Checkpoints == nil {
		return false
	}
	_, ok := t.Checkpoints[h]
	return ok
}

// LastHorizon returns the latest recorded horizon, if any.
func (t *TrackingTask) LastHorizon() (Horizon, bool) {
	var last Horizon
	found := false
	for _, h := range Horizons() {
		if t.HasCheckpoint(h) {
			last = h
			found = true
		}
	}
	return last, found
}

// LatestPrices returns the most recent known close per ticker strictly
// before the given horizon, falling back to T0. This is the forward-fill
// source for stale checkpoints.
func (t *TrackingTask) LatestPrices(before Horizon) map[string]float64 {
	prices := make(map[string]float64, len(t.T0Prices))
	for ticker, p := range t.T0Prices {
		prices[ticker] = p
	}
	for _, h := range Horizons() {
		if h.Days() >= before.Days() {
			break
		}
		cp, ok := t.Checkpoints[h]
		if !ok {
			continue
		}
		for ticker, p := range cp.Prices {
			prices[ticker] = p
		}
	}
	return prices
}

// LatestReturn returns the basket return at the latest recorded horizon
// at or before the given one, or 0 when nothing has been recorded yet.
func (t *TrackingTask) LatestReturn(upTo Horizon) float64 {
	ret := 0.0
	for _, h := range Horizons() {
		if h.Days() > upTo.Days() {
			break
		}
		if cp, ok := t.Checkpoints[h]; ok {
			ret = cp.ReturnPct
		}
	}
	return ret
}
