package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fentz26/taskhive/internal/client"
	"github.com/fentz26/taskhive/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the scheduler summary",
	RunE:  runStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all tasks, workers and leases on the master",
	RunE:  runReset,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query the event journal",
	RunE:  runEvents,
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Maintain the event journal file directly",
}

var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journal events older than --older-than",
	RunE:  runJournalPrune,
}

var (
	resetYes bool

	eventTask   string
	eventWorker string
	eventAction string
	eventLimit  int

	journalPath      string
	journalOlderThan time.Duration
)

func init() {
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "Print JSON")

	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")

	eventsCmd.Flags().StringVar(&eventTask, "task", "", "Filter by task id")
	eventsCmd.Flags().StringVar(&eventWorker, "worker", "", "Filter by worker id")
	eventsCmd.Flags().StringVar(&eventAction, "action", "", "Filter by action, e.g. task.requeue")
	eventsCmd.Flags().IntVar(&eventLimit, "limit", 20, "Maximum number of events")
	eventsCmd.Flags().BoolVar(&outputJSON, "json", false, "Print JSON")

	journalCmd.PersistentFlags().StringVar(&journalPath, "db", "", "Path to the journal (default from config)")
	journalPruneCmd.Flags().DurationVar(&journalOlderThan, "older-than", 7*24*time.Hour, "Age threshold")
	journalCmd.AddCommand(journalPruneCmd)
	rootCmd.AddCommand(journalCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	ctx, cancel := commandContext()
	defer cancel()

	sum, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(sum)
	}

	fmt.Printf("Tasks:     %d total, %d queued, %d leased, %d done, %d failed\n",
		sum.Total, sum.Queued, sum.Leased, sum.Done, sum.Failed)
	fmt.Printf("Rates:     %.1f%% success, %.1f%% failure, %d requeues\n",
		sum.SuccessRate, sum.FailureRate, sum.Requeues)
	fmt.Printf("Latency:   avg %.3fs, p50 %.3fs, p95 %.3fs, max %.3fs\n",
		sum.AvgLatencySec, sum.LatencyP50Sec, sum.LatencyP95Sec, sum.LatencyMaxSec)
	fmt.Printf("Makespan:  %.3fs\n", sum.MakespanSec)
	fmt.Printf("Workers:   %d alive of %d\n", sum.AliveWorkers, len(sum.Workers))

	if len(sum.Workers) == 0 {
		return nil
	}
	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nWORKER\tALIVE\tLAST SEEN\tLEASES")
	for _, wk := range sum.Workers {
		fmt.Fprintf(w, "%s\t%t\t%.1fs ago\t%d\n", wk.ID, wk.Alive, now.Sub(wk.LastHeartbeatAt).Seconds(), wk.ActiveLeases)
	}
	return w.Flush()
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		fmt.Print("This clears every task and worker on the master. Continue? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	c := newAPIClient()
	ctx, cancel := commandContext()
	defer cancel()
	if err := c.Reset(ctx); err != nil {
		return err
	}
	fmt.Println("Scheduler state cleared")
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	ctx, cancel := commandContext()
	defer cancel()

	events, err := c.ListEvents(ctx, client.EventQuery{
		TaskID:   eventTask,
		WorkerID: eventWorker,
		Action:   eventAction,
		Limit:    eventLimit,
	})
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("No events found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tTASK\tWORKER\tOUTCOME\tDETAILS")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.Local().Format(time.DateTime), ev.Action, truncateID(ev.TaskID),
			ev.WorkerID, ev.Outcome, truncate(ev.Details, 40))
	}
	return w.Flush()
}

func runJournalPrune(cmd *cobra.Command, args []string) error {
	path := journalPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Store.Path
	}

	st, err := store.New(path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	removed, err := st.PruneBefore(ctx, time.Now().Add(-journalOlderThan))
	if err != nil {
		return err
	}
	remaining, err := st.CountEvents(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d events, %d remaining\n", removed, remaining)
	return nil
}
