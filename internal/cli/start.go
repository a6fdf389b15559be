package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/recast/internal/models"
)

var (
	startDryRun bool
	startWatch  bool
)

var startCmd = &cobra.Command{
	Use:   "start <instance-id>",
	Short: "Start a job for an instance",
	Long: `Start a full execution for an instance. The job runs on the server in
the background; use --watch to follow its progress.

A dry run rewrites a single record without writing it back and prints the
preview when it finishes.

Examples:
  recast start docs               # Queue a full execution
  recast start docs --watch       # Queue and follow progress
  recast start docs --dry-run     # Preview one record`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startDryRun, "dry-run", false, "process one record without writing it back")
	startCmd.Flags().BoolVarP(&startWatch, "watch", "w", false, "follow progress until the job finishes")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	kind := models.JobKindFull
	if startDryRun {
		kind = models.JobKindDryRun
	}

	job, err := apiClient.StartJob(ctx, args[0], kind)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}

	if kind == models.JobKindDryRun {
		printJob(job)
		if job.Status == models.JobStatusFailed {
			return fmt.Errorf("dry run failed")
		}
		return nil
	}

	fmt.Printf("Started job %s for instance %s\n", job.ID, job.InstanceID)
	if !startWatch {
		fmt.Printf("Use 'recast jobs %s' to check status.\n", job.ID)
		return nil
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		return RunJobProgress(apiClient, job)
	}
	return watchPlain(ctx, job.ID)
}

// watchPlain polls without a TTY and prints one line per change.
func watchPlain(ctx context.Context, id string) error {
	var last string
	final, err := apiClient.WatchJob(ctx, id, pollInterval, func(job *models.Job) {
		line := fmt.Sprintf("[%s] %s failed=%d", job.Status, progressLabel(job), job.FailedRecords)
		if line != last {
			fmt.Println(line)
			last = line
		}
	})
	if err != nil {
		return fmt.Errorf("watch job: %w", err)
	}
	if final.Status == models.JobStatusFailed {
		return fmt.Errorf("job failed: %s", final.Details)
	}
	return nil
}
