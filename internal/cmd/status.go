package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured platforms and recent posting history",
	RunE:  runStatus,
}

var statusLimit int

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "Max history entries to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Fprintf(os.Stdout, "platforms: %s\n", strings.Join(a.poster.Platforms(), ", "))

	if a.store == nil {
		fmt.Fprintln(os.Stdout, "storage: disabled (no history)")
		return nil
	}

	runs, err := a.store.RecentRuns(cmd.Context(), statusLimit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no posting history yet")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSLUG\tPLATFORM\tACTION\tRESULT\tTOOK")
	for _, r := range runs {
		result := "ok"
		if !r.OK {
			result = "FAILED: " + r.Error
		} else if r.URL != "" {
			result = r.URL
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dms\n",
			r.At.Format("2006-01-02 15:04"), r.Slug, r.Platform, r.Action, result, r.TookMS)
	}
	return tw.Flush()
}
