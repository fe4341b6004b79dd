package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crosspost/internal/eventbus"
	"crosspost/internal/markdown"
	"crosspost/internal/poster"
	"crosspost/internal/queue"
)

var postCmd = &cobra.Command{
	Use:   "post <file>",
	Short: "Post a single markdown file",
	Long: `Post one markdown file to every configured platform, or to a single
platform with --platform. Failed platform calls are retried with exponential
backoff before the job is declared failed.

Examples:
  crosspost post content/hello-world.md
  crosspost post content/hello-world.md --platform devto
  crosspost post content/hello-world.md --force`,
	Args: cobra.ExactArgs(1),
	RunE: runPost,
}

var (
	postPlatform string
	postForce    bool
)

func init() {
	rootCmd.AddCommand(postCmd)

	postCmd.Flags().StringVarP(&postPlatform, "platform", "p", "", "Target a single platform (devto|hashnode)")
	postCmd.Flags().BoolVar(&postForce, "force", false, "Post even if the frontmatter marks the file as draft")
}

func runPost(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	doc, err := markdown.ParseFile(args[0])
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}
	post := markdown.ToPost(doc)
	if post.Draft() && !postForce {
		fmt.Fprintf(os.Stdout, "%s is a draft; use --force to post anyway\n", args[0])
		return nil
	}

	qcfg, err := a.cfg.QueueConfig()
	if err != nil {
		return err
	}

	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()

	q := queue.New(qcfg, a.poster, a.log, bus)
	defer q.Stop()

	data := queue.JobData{Type: queue.TypeCrosspost, Post: post}
	if postPlatform != "" {
		data.Type = queue.TypeCrosspostPlatform
		data.Platform = postPlatform
	}
	id := q.Add(data)

	return waitForJob(cmd.Context(), events, id)
}

// waitForJob streams queue events for the given job until it reaches a
// terminal state.
func waitForJob(ctx context.Context, events <-chan eventbus.Event, id string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("event stream closed before job finished")
			}
			je, ok := ev.Data.(queue.JobEvent)
			if !ok || je.Job.ID != id {
				continue
			}
			switch ev.Type {
			case eventbus.EventJobStarted:
				fmt.Fprintf(os.Stdout, "posting (attempt %d)...\n", je.Job.Attempts)
			case eventbus.EventJobRetry:
				at := "soon"
				if je.Job.RetryAt != nil {
					at = je.Job.RetryAt.Format("15:04:05")
				}
				fmt.Fprintf(os.Stdout, "attempt %d failed: %s; retrying at %s\n", je.Job.Attempts, je.Error, at)
			case eventbus.EventJobCompleted:
				printResults(je.Job.Result)
				return nil
			case eventbus.EventJobFailed:
				printResults(je.Job.Result)
				return fmt.Errorf("post failed after %d attempt(s): %s", je.Job.Attempts, je.Error)
			}
		}
	}
}

func printResults(results []poster.Result) {
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(os.Stdout, "  %-10s %-7s ok  %s\n", r.Platform, r.Action, r.URL)
		} else {
			fmt.Fprintf(os.Stdout, "  %-10s %-7s FAILED  %s\n", r.Platform, r.Action, r.Error)
		}
	}
}
