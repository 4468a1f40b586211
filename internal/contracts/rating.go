package contracts

import "time"

// Grade is the letter band a source lands in after a rating pass.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// Points maps the letter grade to the credibility score downstream
// analysis feeds back in as the source_credibility activation input.
func (g Grade) Points() int {
	switch g {
	case GradeA:
		return 90
	case GradeB:
		return 75
	case GradeC:
		return 55
	case GradeD:
		return 30
	}
	return 0
}

// SourceRating is one row of the source leaderboard: the windowed track
// record of a news source and the grade derived from it. RumorRate is
// the share of tasks flagged high risk at open that still moved
// favorably; Accuracy is the share of recommended tickers with a
// positive T+7 return.
type SourceRating struct {
	Source         string    `json:"source"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	TaskCount      int       `json:"task_count"`
	AvgReturnPct   float64   `json:"avg_return_pct"`
	RumorRate      float64   `json:"rumor_rate"`
	Accuracy       float64   `json:"accuracy"`
	Score          float64   `json:"score"`
	Grade          Grade     `json:"grade"`
	Recommendation string    `json:"recommendation"`
	ComputedAt     time.Time `json:"computed_at"`
}
