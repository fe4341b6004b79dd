package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crosspost/internal/eventbus"
	"crosspost/internal/queue"
	"crosspost/internal/watcher"
	logx "crosspost/pkg/logx"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a directory and post markdown files as they change",
	Long: `Watch a directory for new or modified markdown files and queue a crosspost
for each published file. Drafts are ignored. Runs until interrupted.

Example:
  crosspost watch content/`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	qcfg, err := a.cfg.QueueConfig()
	if err != nil {
		return err
	}
	wcfg, err := a.cfg.WatcherConfig(args[0])
	if err != nil {
		return err
	}

	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()

	w, err := watcher.New(wcfg, qcfg, a.poster, a.log, bus)
	if err != nil {
		return fmt.Errorf("watch %s: %w", args[0], err)
	}
	defer w.Stop()

	fmt.Fprintf(os.Stdout, "watching %s (ctrl-c to stop)\n", args[0])

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			st := w.QueueStatus()
			a.log.Info("shutting down",
				logx.Int("completed", st.CompletedJobs),
				logx.Int("failed", st.FailedJobs),
			)
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			je, ok := ev.Data.(queue.JobEvent)
			if !ok {
				continue
			}
			switch ev.Type {
			case eventbus.EventJobCompleted:
				printResults(je.Job.Result)
			case eventbus.EventJobFailed:
				fmt.Fprintf(os.Stdout, "job failed after %d attempt(s): %s\n", je.Job.Attempts, je.Error)
			}
		}
	}
}
