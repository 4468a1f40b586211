package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/wonny/newstrace/backend/internal/contracts"
)

// ratingCmd represents the rating command
var ratingCmd = &cobra.Command{
	Use:   "rating",
	Short: "Show the source rating board",
	Long: `Prints the current source credibility board, ordered by score.

Use "rating run" to recompute the board from the trailing window of
finished tracking tasks before printing it.

Example:
  go run ./cmd/trace rating
  go run ./cmd/trace rating run`,
	RunE: showRatingBoard,
}

var ratingRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Recompute the board, then show it",
	RunE:  runRatingPass,
}

func init() {
	rootCmd.AddCommand(ratingCmd)
	ratingCmd.AddCommand(ratingRunCmd)
}

func showRatingBoard(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	board, err := rt.ratings.Board(context.Background())
	if err != nil {
		return fmt.Errorf("load rating board: %w", err)
	}

	printRatingBoard(board)
	return nil
}

func runRatingPass(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Println("Running source rating pass")

	board, err := rt.rater.RunPass(context.Background(), time.Now())
	if err != nil {
		return fmt.Errorf("run rating pass: %w", err)
	}

	fmt.Printf("\n✅ Rated %d sources\n\n", len(board))
	printRatingBoard(board)
	return nil
}

func printRatingBoard(board []*contracts.SourceRating) {
	if len(board) == 0 {
		fmt.Println("Rating board is empty (no source met the minimum task count)")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Source", "Grade", "Score", "Tasks", "Avg Ret%", "Rumor", "Accuracy", "Recommendation")

	for i, r := range board {
		table.Append(
			fmt.Sprintf("%d", i+1),
			r.Source,
			string(r.Grade),
			fmt.Sprintf("%.2f", r.Score),
			fmt.Sprintf("%d", r.TaskCount),
			fmt.Sprintf("%+.2f", r.AvgReturnPct),
			fmt.Sprintf("%.2f", r.RumorRate),
			fmt.Sprintf("%.2f", r.Accuracy),
			r.Recommendation,
		)
	}

	table.Render()

	window := board[0]
	fmt.Printf("\nWindow: %s .. %s\n",
		window.WindowStart.Format("2006-01-02"),
		window.WindowEnd.Format("2006-01-02"))
}
