package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"crosspost/internal/batch"
	"crosspost/internal/scheduler"
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir | file...>",
	Short: "Post many markdown files concurrently",
	Long: `Post a directory of markdown files (or an explicit file list) with bounded
concurrency. Per-file results are reported in the order the files were given;
one bad file never aborts the rest.

Examples:
  crosspost batch content/
  crosspost batch a.md b.md c.md --concurrency 5
  crosspost batch content/ --delay 2s`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

var (
	batchConcurrency   int
	batchDelay         time.Duration
	batchIncludeDrafts bool
)

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "Max files processed at once (0=config default)")
	batchCmd.Flags().DurationVar(&batchDelay, "delay", 0, "Pause between posts per concurrency slot")
	batchCmd.Flags().BoolVar(&batchIncludeDrafts, "include-drafts", false, "Also post files marked draft")
}

func runBatch(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	paths, err := expandArgs(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stdout, "no markdown files found")
		return nil
	}

	bcfg, err := a.cfg.BatchConfig()
	if err != nil {
		return err
	}
	if batchConcurrency > 0 {
		bcfg.Concurrency = batchConcurrency
	}
	if batchDelay > 0 {
		bcfg.Delay = batchDelay
	}
	if batchIncludeDrafts {
		bcfg.SkipDrafts = false
	}

	results := batch.New(bcfg, a.poster, a.log).ProcessFiles(cmd.Context(), paths)
	return printBatchResults(results)
}

// expandArgs turns a single directory argument into its markdown listing;
// anything else is treated as explicit file paths.
func expandArgs(args []string) ([]string, error) {
	if len(args) == 1 {
		info, err := os.Stat(args[0])
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return scheduler.ListMarkdown(args[0])
		}
	}
	return args, nil
}

func printBatchResults(results []batch.Result) error {
	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATUS\tTOOK\tDETAIL")

	var failed int
	for _, r := range results {
		status, detail := "ok", ""
		switch {
		case r.Skipped():
			status = "skipped"
			detail = "draft"
		case !r.Success:
			status = "FAILED"
			detail = r.Error
			failed++
		default:
			for _, pr := range r.Results {
				if pr.URL != "" {
					detail = pr.URL
					break
				}
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.File, status, r.Duration.Round(time.Millisecond), detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
	}
	return nil
}
