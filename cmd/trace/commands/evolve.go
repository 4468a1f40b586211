package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// evolveCmd represents the evolve command
var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Run one weight evolution cycle",
	Long: `Consumes all pending market feedback and updates the feature
weight store in one transactional cycle. Prints the resulting version
bump and the re-rendered analysis instruction.

With no pending feedback the cycle is a no-op and the store version
does not change.

Example:
  go run ./cmd/trace evolve`,
	RunE: runEvolve,
}

func init() {
	rootCmd.AddCommand(evolveCmd)
}

func runEvolve(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()

	// Seed first so a fresh database can run its first cycle, and
	// record the policy the cycle's hash will point at
	if err := rt.updater.Seed(ctx); err != nil {
		return fmt.Errorf("seed weight store: %w", err)
	}
	if err := rt.audits.SaveSnapshot(ctx, rt.policySnap); err != nil {
		return fmt.Errorf("record policy snapshot: %w", err)
	}

	fmt.Println("Running weight evolution cycle")

	result, err := rt.updater.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("run evolution cycle: %w", err)
	}

	if result.NoOp {
		fmt.Println("\nNo pending feedback, weights unchanged")
		return nil
	}

	fmt.Println("\n✅ Evolution cycle completed")
	fmt.Printf("   Cycle:            %s\n", result.CycleID)
	fmt.Printf("   Version:          %d -> %d\n", result.FromVersion, result.ToVersion)
	fmt.Printf("   Feedback:         %d (%d rejected)\n", result.FeedbackCount, result.RejectedCount)
	fmt.Printf("   Changed features: %d\n", result.ChangedFeatures)

	fmt.Println("\n" + result.Instruction)

	return nil
}
