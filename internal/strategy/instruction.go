package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wonny/newstrace/backend/internal/contracts"
)

// RenderInstruction turns the weight set into the guidance text the news
// analyzer consumes. Features whose net change this cycle cleared the
// significance threshold become explicit directives; the full weight
// block always follows. Output depends only on the final set and the net
// changes, never on iteration order.
func RenderInstruction(ws *contracts.WeightSet, netChanges map[string]float64, significance float64) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Feature weighting guidance (store v%d)\n", ws.Version)

	significant := make([]string, 0, len(netChanges))
	for feature, delta := range netChanges {
		if delta > significance || delta < -significance {
			significant = append(significant, feature)
		}
	}
	sort.Strings(significant)

	if len(significant) > 0 {
		b.WriteString("\nDirectives:\n")
		for _, feature := range significant {
			delta := netChanges[feature]
			weight := ws.Weights[feature].Weight
			if delta > 0 {
				fmt.Fprintf(&b, "- Emphasize %s: weight %.2f (%+.2f this cycle)\n", feature, weight, delta)
			} else {
				fmt.Fprintf(&b, "- De-emphasize %s: weight %.2f (%+.2f this cycle)\n", feature, weight, delta)
			}
		}
	}

	b.WriteString("\nWeights:\n")
	for _, feature := range ws.FeatureNames() {
		w := ws.Weights[feature]
		fmt.Fprintf(&b, "- %s: %.2f (n=%d)\n", feature, w.Weight, w.SampleCount)
	}

	return b.String()
}
