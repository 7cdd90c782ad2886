/*
Copyright © 2024 Dean
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"rageval/src/core/accuracy"
	jobctrl "rageval/src/infrastructure/job"
)

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score the AI track of a test in the foreground",
	Long: `Runs the AI judge over every item of a test that has no AI score yet and
submits results sub-batch by sub-batch, without going through the job queue.

  rageval evaluate --test-id 1812345678901234567 --start`,
	RunE: Evaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().Int64("test-id", 0, "Accuracy test id")
	evaluateCmd.MarkFlagRequired("test-id")
	evaluateCmd.Flags().Bool("start", false, "Start the test first when it is created or failed")
	evaluateCmd.Flags().Bool("retry-failed", false, "Rescore items whose previous AI attempt failed")
}

func Evaluate(cmd *cobra.Command, args []string) error {
	testID, _ := cmd.Flags().GetInt64("test-id")
	start, _ := cmd.Flags().GetBool("start")
	retryFailed, _ := cmd.Flags().GetBool("retry-failed")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer e.close()

	sc, err := e.newScorer()
	if err != nil {
		return err
	}

	if start {
		test, err := e.service.GetTest(ctx, testID)
		if err != nil {
			return err
		}
		if test.Status == accuracy.TestStatusCreated || test.Status == accuracy.TestStatusFailed {
			if _, err := e.service.StartTest(ctx, testID); err != nil {
				return fmt.Errorf("failed to start test %d: %w", testID, err)
			}
		}
	}

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription(fmt.Sprintf("scoring test %d", testID)),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Set(done)
	}

	task := jobctrl.NewEvaluationTask(e.service, e.dataset, e.dataset, sc)
	report, err := task.Run(ctx, jobctrl.EvaluationPayload{TestID: testID, RetryFailed: retryFailed}, progress)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "queued=%d scored=%d failed=%d skipped=%d stopped=%t\n",
		report.Queued, report.Scored, report.Failed, report.Skipped, report.Stopped)

	p, err := e.service.GetProgress(ctx, testID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "test %d is %s (%d/%d processed, %.1f%%)\n",
		p.TestID, p.Status, p.Processed, p.Total, p.ProgressPercent)
	return nil
}
