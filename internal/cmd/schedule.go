package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"crosspost/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <dir>",
	Short: "Post a directory on a recurring schedule",
	Long: `Run batch posting for a directory on a schedule. Exactly one of --daily,
--weekly or --cron selects the trigger. Runs until interrupted; a failed run
is logged and the schedule keeps going.

Examples:
  crosspost schedule content/ --daily 09:30
  crosspost schedule content/ --weekly 1@08:00     # Monday 08:00
  crosspost schedule content/ --cron "0 */6 * * *"`,
	Args: cobra.ExactArgs(1),
	RunE: runSchedule,
}

var (
	scheduleDaily  string
	scheduleWeekly string
	scheduleCron   string
)

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().StringVar(&scheduleDaily, "daily", "", "Post every day at HH:MM")
	scheduleCmd.Flags().StringVar(&scheduleWeekly, "weekly", "", "Post weekly as D@HH:MM (D: 0=Sunday..6=Saturday)")
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "Post on a 5-field cron expression")
	scheduleCmd.MarkFlagsOneRequired("daily", "weekly", "cron")
	scheduleCmd.MarkFlagsMutuallyExclusive("daily", "weekly", "cron")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	bcfg, err := a.cfg.BatchConfig()
	if err != nil {
		return err
	}
	sched, err := scheduler.New(scheduler.Config{
		Timezone:    a.cfg.Scheduler.Timezone,
		Concurrency: bcfg.Concurrency,
		Delay:       bcfg.Delay,
	}, a.poster, a.log)
	if err != nil {
		return err
	}

	dir := args[0]
	var id string
	switch {
	case scheduleDaily != "":
		id, err = sched.ScheduleDaily(scheduleDaily, dir)
	case scheduleWeekly != "":
		var dow int
		var at string
		if _, perr := fmt.Sscanf(scheduleWeekly, "%d@%s", &dow, &at); perr != nil {
			return fmt.Errorf("--weekly: want D@HH:MM, got %q", scheduleWeekly)
		}
		id, err = sched.ScheduleWeekly(dow, at, dir)
	default:
		id, err = sched.ScheduleCustom(scheduleCron, dir)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "scheduled %s for %s (ctrl-c to stop)\n", id, dir)
	<-cmd.Context().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Close(shutdownCtx)
	return nil
}
