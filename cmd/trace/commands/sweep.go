package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one checkpoint sweep",
	Long: `Scans every active tracking task and applies all checkpoints due
at the as-of date: fetches prices, forward-fills gaps as stale, closes
tasks whose horizons are exhausted, and emits market feedback.

The sweep is idempotent per day; re-running it applies nothing new.

Example:
  go run ./cmd/trace sweep
  go run ./cmd/trace sweep --as-of 2026-03-15`,
	RunE: runSweep,
}

var (
	sweepAsOf string
)

func init() {
	rootCmd.AddCommand(sweepCmd)

	// Flags
	sweepCmd.Flags().StringVar(&sweepAsOf, "as-of", "", "sweep date YYYY-MM-DD (default today)")
}

func runSweep(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	asOf := time.Now()
	if sweepAsOf != "" {
		loc, err := rt.policy.Meta.Location()
		if err != nil {
			return fmt.Errorf("resolve market timezone: %w", err)
		}
		asOf, err = time.ParseInLocation("2006-01-02", sweepAsOf, loc)
		if err != nil {
			return fmt.Errorf("parse --as-of (expected YYYY-MM-DD): %w", err)
		}
	}

	fmt.Printf("Running checkpoint sweep as of %s\n", asOf.Format("2006-01-02"))

	result, err := rt.manager.RunSweep(context.Background(), asOf)
	if err != nil {
		return fmt.Errorf("run sweep: %w", err)
	}

	fmt.Println("\n✅ Sweep completed")
	fmt.Printf("   Scanned:      %d\n", result.Scanned)
	fmt.Printf("   Applied:      %d\n", result.Applied)
	fmt.Printf("   Stale fills:  %d\n", result.StaleFills)
	fmt.Printf("   Short closes: %d\n", result.ShortCloses)
	fmt.Printf("   Final closes: %d\n", result.FinalCloses)
	fmt.Printf("   Conflicts:    %d\n", result.Conflicts)
	fmt.Printf("   Errors:       %d\n", result.Errors)
	fmt.Printf("   Duration:     %s\n", result.Duration)

	return nil
}
