package strategy

import (
	"strings"
	"testing"
	"time"

	"github.com/wonny/newstrace/backend/internal/contracts"
)

func instructionSet() *contracts.WeightSet {
	return &contracts.WeightSet{
		Version: 2,
		Weights: map[string]contracts.FeatureWeight{
			"hype_language": {Feature: "hype_language", Weight: -12.4, SampleCount: 1},
			"policy_demand": {Feature: "policy_demand", Weight: 10, SampleCount: 0},
			"data_support":  {Feature: "data_support", Weight: 18.7, SampleCount: 1},
		},
		UpdatedAt: time.Now(),
	}
}

func TestRenderInstruction(t *testing.T) {
	net := map[string]float64{
		"hype_language": 2.6,
		"data_support":  -1.3,
	}
	got := RenderInstruction(instructionSet(), net, 0.1)

	if !strings.Contains(got, "store v2") {
		t.Errorf("Instruction must carry the store version:\n%s", got)
	}
	if !strings.Contains(got, "Emphasize hype_language") {
		t.Errorf("Positive shift must emphasize:\n%s", got)
	}
	if !strings.Contains(got, "De-emphasize data_support") {
		t.Errorf("Negative shift must de-emphasize:\n%s", got)
	}
	for _, line := range []string{
		"- data_support: 18.70 (n=1)",
		"- hype_language: -12.40 (n=1)",
		"- policy_demand: 10.00 (n=0)",
	} {
		if !strings.Contains(got, line) {
			t.Errorf("Weight block missing %q:\n%s", line, got)
		}
	}
}

func TestRenderInstruction_BelowThreshold(t *testing.T) {
	net := map[string]float64{"policy_demand": 0.05}
	got := RenderInstruction(instructionSet(), net, 0.1)

	if strings.Contains(got, "Directives:") {
		t.Errorf("Insignificant shifts must not produce directives:\n%s", got)
	}
	if !strings.Contains(got, "- policy_demand: 10.00 (n=0)") {
		t.Errorf("Weight block must still list every feature:\n%s", got)
	}
}

func TestRenderInstruction_Deterministic(t *testing.T) {
	a := map[string]float64{"hype_language": 2.6, "data_support": -1.3, "policy_demand": 0.4}
	b := map[string]float64{"policy_demand": 0.4, "data_support": -1.3, "hype_language": 2.6}

	first := RenderInstruction(instructionSet(), a, 0.1)
	second := RenderInstruction(instructionSet(), b, 0.1)
	if first != second {
		t.Errorf("Rendering must not depend on map order:\n%s\nvs\n%s", first, second)
	}

	// Directives come out sorted by feature name
	dataIdx := strings.Index(first, "De-emphasize data_support")
	hypeIdx := strings.Index(first, "Emphasize hype_language")
	policyIdx := strings.Index(first, "Emphasize policy_demand")
	if dataIdx < 0 || hypeIdx < 0 || policyIdx < 0 || !(dataIdx < hypeIdx && hypeIdx < policyIdx) {
		t.Errorf("Directives out of order:\n%s", first)
	}
}
