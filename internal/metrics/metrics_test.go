package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistry_Repeatable(t *testing.T) {
	// Private registries must not collide across constructions
	a := NewRegistry()
	b := NewRegistry()
	if a == nil || b == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	a.TasksOpened.Inc()
	a.CheckpointsApplied.WithLabelValues("T1", "fresh").Inc()
	b.TasksOpened.Inc()
}

func TestHandler_Scrape(t *testing.T) {
	r := NewRegistry()
	r.TasksOpened.Inc()
	r.CheckpointsApplied.WithLabelValues("T3", "stale").Inc()
	r.SetWeights(4, map[string]float64{"hype_language": -15.5})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	out := string(body)

	for _, want := range []string{
		"trace_tasks_opened_total 1",
		`trace_checkpoints_applied_total{fill="stale",horizon="T3"} 1`,
		"trace_weight_store_version 4",
		`trace_feature_weight{feature="hype_language"} -15.5`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}
