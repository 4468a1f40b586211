package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wonny/newstrace/backend/pkg/config"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

type stubJob struct {
	name     string
	schedule string
	runs     int
	err      error
}

func (j *stubJob) Name() string     { return j.name }
func (j *stubJob) Schedule() string { return j.schedule }
func (j *stubJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

func newTestScheduler() *Scheduler {
	s := New(logger.New(&config.Config{Env: "test", LogLevel: "error"}))
	s.retryDelay = 0
	return s
}

func TestAddJob(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{name: "checkpoint_sweep", schedule: "0 30 16 * * *"}

	if err := s.AddJob(job); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	if err := s.AddJob(job); err == nil {
		t.Error("expected error on duplicate job name")
	}

	jobs := s.GetAllJobs()
	if len(jobs) != 1 || jobs[0] != "checkpoint_sweep" {
		t.Errorf("GetAllJobs = %v, want [checkpoint_sweep]", jobs)
	}
}

func TestAddJob_BadSchedule(t *testing.T) {
	s := newTestScheduler()

	err := s.AddJob(&stubJob{name: "broken", schedule: "every day at noon"})
	if err == nil {
		t.Fatal("expected error for unparseable cron spec")
	}
}

func TestRunJobNow(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{name: "weight_evolution", schedule: "0 0 17 * * *"}
	s.AddJob(job)

	if err := s.RunJobNow("weight_evolution"); err != nil {
		t.Fatalf("RunJobNow failed: %v", err)
	}
	if job.runs != 1 {
		t.Errorf("job ran %d times, want 1", job.runs)
	}

	stats := s.GetJobStats()["weight_evolution"]
	if stats.TotalRuns != 1 || stats.SuccessCount != 1 {
		t.Errorf("stats = %+v, want 1 run, 1 success", stats)
	}
	if stats.LastSuccess == nil {
		t.Error("expected LastSuccess to be set")
	}
}

func TestRunJobNow_Failure(t *testing.T) {
	s := newTestScheduler()
	job := &stubJob{name: "source_rating", schedule: "0 0 18 * * 0", err: errors.New("window query failed")}
	s.AddJob(job)

	err := s.RunJobNow("source_rating")
	if err == nil {
		t.Fatal("expected failure to surface")
	}

	// Initial attempt plus the full retry budget
	if job.runs != 4 {
		t.Errorf("job ran %d times, want 4", job.runs)
	}

	stats := s.GetJobStats()["source_rating"]
	if stats.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", stats.FailureCount)
	}
	if stats.LastFailure == nil {
		t.Error("expected LastFailure to be set")
	}
}

func TestRunJobNow_Unknown(t *testing.T) {
	s := newTestScheduler()

	if err := s.RunJobNow("no_such_job"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestJobHistory_Cap(t *testing.T) {
	h := &JobHistory{}

	for i := 0; i < 105; i++ {
		h.AddResult(JobResult{JobName: fmt.Sprintf("r%d", i), Success: i%2 == 0})
	}

	if len(h.Results) != 100 {
		t.Errorf("history length = %d, want 100", len(h.Results))
	}
	if h.Results[0].JobName != "r5" {
		t.Errorf("oldest kept result = %s, want r5", h.Results[0].JobName)
	}

	latest := h.GetLatestResults(3)
	if len(latest) != 3 || latest[2].JobName != "r104" {
		t.Errorf("GetLatestResults(3) tail = %v", latest)
	}
}

func TestJobHistory_SuccessRate(t *testing.T) {
	h := &JobHistory{}
	if rate := h.GetSuccessRate(); rate != 0 {
		t.Errorf("empty history rate = %v, want 0", rate)
	}

	h.AddResult(JobResult{Success: true})
	h.AddResult(JobResult{Success: true})
	h.AddResult(JobResult{Success: false})

	if rate := h.GetSuccessRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("rate = %v, want ~0.667", rate)
	}
	if failed := h.GetFailedResults(); len(failed) != 1 {
		t.Errorf("failed count = %d, want 1", len(failed))
	}
}
