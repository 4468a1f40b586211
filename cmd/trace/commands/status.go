package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/newstrace/backend/internal/contracts"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracking system status",
	Long: `Prints a one-shot status summary:

- database pool health and cache state
- active tracking tasks by state
- pending (unconsumed) market feedback
- weight store version
- rating board size

Example:
  go run ./cmd/trace status`,
	RunE: showSystemStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showSystemStatus(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()

	fmt.Println("=== NewsTrace Status ===")
	fmt.Println()

	// Database
	health, err := rt.db.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("database health check: %w", err)
	}

	fmt.Printf("📊 Database\n")
	fmt.Printf("   Ping:        %v\n", health.ResponseTime)
	fmt.Printf("   Connections: %d/%d (idle %d)\n",
		health.Stats.AcquiredConns, health.Stats.MaxConns, health.Stats.IdleConns)
	if rt.rdb.Enabled() {
		fmt.Printf("   Cache:       redis\n")
	} else {
		fmt.Printf("   Cache:       disabled\n")
	}
	fmt.Println()

	// Active tasks
	active, err := rt.tasks.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active tasks: %w", err)
	}

	byStatus := make(map[contracts.TaskStatus]int)
	for _, task := range active {
		byStatus[task.Status]++
	}

	fmt.Printf("📊 Tracking tasks (active: %d)\n", len(active))
	fmt.Printf("   Open:         %d\n", byStatus[contracts.StatusOpen])
	fmt.Printf("   Short closed: %d\n", byStatus[contracts.StatusShortClosed])
	fmt.Printf("   Stale:        %d\n", byStatus[contracts.StatusStale])
	fmt.Println()

	// Pending feedback
	pending, err := rt.feedback.CountPending(ctx)
	if err != nil {
		return fmt.Errorf("count pending feedback: %w", err)
	}

	fmt.Printf("📊 Market feedback\n")
	fmt.Printf("   Pending: %d\n", pending)
	fmt.Println()

	// Weight store
	fmt.Printf("📊 Weight store\n")
	set, err := rt.weights.Snapshot(ctx)
	switch {
	case errors.Is(err, contracts.ErrNotFound):
		fmt.Println("   Not seeded")
	case err != nil:
		return fmt.Errorf("load weight snapshot: %w", err)
	default:
		fmt.Printf("   Version:  %d\n", set.Version)
		fmt.Printf("   Features: %d\n", len(set.Weights))
		fmt.Printf("   Updated:  %s\n", set.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	cycles, err := rt.weights.Cycles(ctx, 1)
	if err != nil {
		return fmt.Errorf("load evolution cycles: %w", err)
	}
	if len(cycles) > 0 {
		last := cycles[0]
		fmt.Printf("   Last cycle: %s (%d feedback, %d features changed, %s)\n",
			last.ID, last.FeedbackCount, last.ChangedFeatures,
			last.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()

	// Rating board
	board, err := rt.ratings.Board(ctx)
	if err != nil {
		return fmt.Errorf("load rating board: %w", err)
	}

	fmt.Printf("📊 Rating board\n")
	fmt.Printf("   Sources: %d\n", len(board))
	if len(board) > 0 {
		top := board[0]
		fmt.Printf("   Top:     %s (%s, %.2f)\n", top.Source, top.Grade, top.Score)
	}

	return nil
}
