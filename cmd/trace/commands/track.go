package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/internal/tracking"
)

// trackCmd represents the track command
var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Open, inspect, or cancel tracking tasks",
	Long: `Manages individual tracking tasks from the command line.

Subcommands:
  open    - Open a task for a scored news item (T0 from the market)
  show    - Print one task with its checkpoints
  cancel  - Cancel an active task

Example:
  go run ./cmd/trace track open --news-id NEWS-001 --source caijing_daily \
    --tickers 600519.SH --feature hype_language=0.8 --risk medium
  go run ./cmd/trace track show TRK-0c9b3a
  go run ./cmd/trace track cancel TRK-0c9b3a --reason "duplicate item"`,
}

var trackOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a tracking task",
	RunE:  runTrackOpen,
}

var trackShowCmd = &cobra.Command{
	Use:   "show [task_id]",
	Short: "Print one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrackShow,
}

var trackCancelCmd = &cobra.Command{
	Use:   "cancel [task_id]",
	Short: "Cancel an active task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrackCancel,
}

var (
	trackNewsID   string
	trackSource   string
	trackTickers  []string
	trackFeatures []string
	trackRisk     string
	trackRegime   string
	cancelReason  string
)

func init() {
	rootCmd.AddCommand(trackCmd)
	trackCmd.AddCommand(trackOpenCmd)
	trackCmd.AddCommand(trackShowCmd)
	trackCmd.AddCommand(trackCancelCmd)

	// Flags
	trackOpenCmd.Flags().StringVar(&trackNewsID, "news-id", "", "news item id (required)")
	trackOpenCmd.Flags().StringVar(&trackSource, "source", "", "news source name (required)")
	trackOpenCmd.Flags().StringSliceVar(&trackTickers, "tickers", nil, "affected tickers, comma separated (required)")
	trackOpenCmd.Flags().StringArrayVar(&trackFeatures, "feature", nil, "feature activation name=value (repeatable)")
	trackOpenCmd.Flags().StringVar(&trackRisk, "risk", "medium", "risk flag (low|medium|high)")
	trackOpenCmd.Flags().StringVar(&trackRegime, "regime", "neutral", "market regime (bull|bear|neutral)")

	trackCancelCmd.Flags().StringVar(&cancelReason, "reason", "", "cancellation reason (required)")
}

func runTrackOpen(cmd *cobra.Command, args []string) error {
	activations, err := parseActivations(trackFeatures)
	if err != nil {
		return err
	}

	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	req := tracking.OpenRequest{
		NewsID:  trackNewsID,
		Source:  trackSource,
		Tickers: trackTickers,
		Features: contracts.FeatureVector{
			Activations: activations,
			Risk:        contracts.RiskLevel(trackRisk),
		},
		Regime: contracts.MarketRegime(trackRegime),
	}

	task, err := rt.manager.OpenFromMarket(context.Background(), req)
	if err != nil {
		return fmt.Errorf("open task: %w", err)
	}

	fmt.Printf("✅ Opened task %s\n", task.ID)
	fmt.Printf("   News:   %s (%s)\n", task.NewsID, task.Source)
	fmt.Printf("   T0:     %s\n", task.T0At.Format("2006-01-02"))
	for ticker, price := range task.T0Prices {
		fmt.Printf("   %s: %.2f\n", ticker, price)
	}

	return nil
}

func runTrackShow(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	task, err := rt.tasks.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	out, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	fmt.Println(string(out))

	// Reward trail, once closes have emitted it
	for _, horizon := range []contracts.Horizon{contracts.HorizonT3, contracts.HorizonT7} {
		fb, err := rt.feedback.Get(ctx, contracts.FeedbackKey{TaskID: task.ID, Horizon: horizon})
		if err != nil {
			if errors.Is(err, contracts.ErrNotFound) {
				continue
			}
			return fmt.Errorf("get feedback: %w", err)
		}
		consumed := "pending"
		if fb.ConsumedAt != nil {
			consumed = "consumed"
		}
		fmt.Printf("Feedback %s: return %+.2f%%, adjusted %+.2f%% (benchmark %+.2f%%), %s\n",
			horizon, fb.ReturnPct, fb.AdjustedPct, fb.BenchmarkPct, consumed)
	}

	return nil
}

func runTrackCancel(cmd *cobra.Command, args []string) error {
	if cancelReason == "" {
		return fmt.Errorf("--reason is required")
	}

	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.manager.Cancel(context.Background(), args[0], cancelReason, time.Now()); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}

	fmt.Printf("✅ Cancelled task %s\n", args[0])
	return nil
}

// parseActivations turns repeated name=value flags into a feature map.
func parseActivations(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one --feature name=value is required")
	}

	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --feature %q (expected name=value)", pair)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --feature %q: %w", pair, err)
		}
		out[name] = value
	}
	return out, nil
}
