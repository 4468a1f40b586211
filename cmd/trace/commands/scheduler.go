package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/newstrace/backend/internal/scheduler"
	"github.com/wonny/newstrace/backend/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Manage the job scheduler",
	Long: `Starts the scheduler daemon or manages its jobs.

This command:
- starts the scheduler daemon
- lists registered jobs
- shows job run history

Subcommands:
  start   - Start the scheduler
  list    - List registered jobs
  run     - Run one job immediately
  status  - Show job run statistics

Example:
  go run ./cmd/trace scheduler start
  go run ./cmd/trace scheduler list
  go run ./cmd/trace scheduler run checkpoint_sweep`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler",
		Long: `Starts the scheduler and schedules all registered jobs.

Registered jobs (cron specs come from the policy file):
- checkpoint_sweep: daily after market close (checkpoints, closes)
- weight_evolution: daily after the sweep (consume feedback)
- source_rating: daily after evolution (trailing-window grades)
- cache_cleanup: periodic snapshot cache expiry

The scheduler stops on Ctrl+C.`,
		RunE: runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "Run one job immediately",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}

	schedulerStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show job run statistics",
		RunE:  showJobStatus,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
	schedulerCmd.AddCommand(schedulerStatusCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== NewsTrace Scheduler ===")

	// Initialize dependencies
	sched, rt, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer rt.Close()

	// Start scheduler
	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	fmt.Println("\nRegistered jobs:")
	for _, jobName := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", jobName)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")

	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	sched, rt, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer rt.Close()

	fmt.Println("Registered jobs:")
	for _, jobName := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", jobName)
	}

	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	fmt.Printf("Running job: %s\n", jobName)

	sched, rt, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer rt.Close()

	if err := sched.RunJobNow(jobName); err != nil {
		return fmt.Errorf("run job: %w", err)
	}

	fmt.Println("✅ Job completed")
	return nil
}

func showJobStatus(cmd *cobra.Command, args []string) error {
	sched, rt, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer rt.Close()

	stats := sched.GetJobStats()

	fmt.Println("Job Statistics:")
	fmt.Println()

	for jobName, stat := range stats {
		fmt.Printf("📊 %s\n", jobName)
		fmt.Printf("   Schedule: %s\n", stat.Schedule)
		fmt.Printf("   Total Runs: %d\n", stat.TotalRuns)
		fmt.Printf("   Success: %d (%.1f%%)\n", stat.SuccessCount, stat.SuccessRate*100)
		fmt.Printf("   Failures: %d\n", stat.FailureCount)

		if stat.LastRun != nil {
			fmt.Printf("   Last Run: %s\n", stat.LastRun.Format("2006-01-02 15:04:05"))
		}

		if stat.LastSuccess != nil {
			fmt.Printf("   Last Success: %s\n", stat.LastSuccess.Format("2006-01-02 15:04:05"))
		}

		if stat.LastFailure != nil {
			fmt.Printf("   Last Failure: %s\n", stat.LastFailure.Format("2006-01-02 15:04:05"))
		}

		fmt.Println()
	}

	return nil
}

func initScheduler() (*scheduler.Scheduler, *runtime, error) {
	// 1. Wire the tracking stack
	rt, err := initRuntime()
	if err != nil {
		return nil, nil, err
	}

	// 2. Seed the weight store and record the active policy
	ctx := context.Background()
	if err := rt.updater.Seed(ctx); err != nil {
		return nil, nil, fmt.Errorf("seed weight store: %w", err)
	}
	if err := rt.audits.SaveSnapshot(ctx, rt.policySnap); err != nil {
		return nil, nil, fmt.Errorf("record policy snapshot: %w", err)
	}

	// 3. Create scheduler
	sched := scheduler.New(rt.log)

	// 4. Register jobs (cron specs come from the policy, so a bad spec
	// must fail startup instead of silently not scheduling)
	for _, job := range []scheduler.Job{
		jobs.NewSweepJob(rt.manager, rt.policy, rt.log),
		jobs.NewEvolutionJob(rt.updater, rt.policy, rt.log),
		jobs.NewRatingJob(rt.rater, rt.policy, rt.log),
		jobs.NewCacheCleanupJob(rt.snapshots, rt.policy, rt.log),
	} {
		if err := sched.AddJob(job); err != nil {
			return nil, nil, fmt.Errorf("register job: %w", err)
		}
	}

	return sched, rt, nil
}
