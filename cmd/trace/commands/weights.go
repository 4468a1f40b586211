package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/wonny/newstrace/backend/internal/contracts"
)

// weightsCmd represents the weights command
var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Show the current feature weight set",
	Long: `Prints the versioned feature weight snapshot and the analysis
instruction rendered from it.

Use "weights log" for the append-only evolution log.

Example:
  go run ./cmd/trace weights
  go run ./cmd/trace weights log --limit 20`,
	RunE: showWeights,
}

var weightsLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent evolution log entries",
	RunE:  showWeightsLog,
}

var (
	weightsLogLimit int
)

func init() {
	rootCmd.AddCommand(weightsCmd)
	weightsCmd.AddCommand(weightsLogCmd)

	// Flags
	weightsLogCmd.Flags().IntVar(&weightsLogLimit, "limit", 50, "max entries to show")
}

func showWeights(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	set, err := rt.weights.Snapshot(context.Background())
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			fmt.Println("Weight store is not seeded yet (run evolve or start the api)")
			return nil
		}
		return fmt.Errorf("load weight snapshot: %w", err)
	}

	fmt.Printf("Weight store v%d (updated %s)\n\n",
		set.Version, set.UpdatedAt.Format("2006-01-02 15:04:05"))

	features := make([]string, 0, len(set.Weights))
	for name := range set.Weights {
		features = append(features, name)
	}
	sort.Strings(features)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Feature", "Weight", "Samples", "Updated")

	for _, name := range features {
		fw := set.Weights[name]
		table.Append(
			fw.Feature,
			fmt.Sprintf("%+.2f", fw.Weight),
			fmt.Sprintf("%d", fw.SampleCount),
			fw.UpdatedAt.Format("2006-01-02"),
		)
	}

	table.Render()

	fmt.Println("\n" + set.Instruction)
	return nil
}

func showWeightsLog(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	entries, err := rt.weights.Log(context.Background(), weightsLogLimit)
	if err != nil {
		return fmt.Errorf("load evolution log: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Evolution log is empty")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Seq", "Feature", "Old", "New", "Contrib", "Task", "Horizon", "Clamped", "When")

	for _, e := range entries {
		clamped := ""
		if e.Clamped {
			clamped = "yes"
		}
		table.Append(
			fmt.Sprintf("%d", e.Seq),
			e.Feature,
			fmt.Sprintf("%+.2f", e.OldWeight),
			fmt.Sprintf("%+.2f", e.NewWeight),
			fmt.Sprintf("%+.3f", e.Contribution),
			e.TaskID,
			string(e.Horizon),
			clamped,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
	return nil
}
