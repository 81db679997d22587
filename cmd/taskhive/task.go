package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fentz26/taskhive/internal/client"
	"github.com/fentz26/taskhive/internal/controlplane"
	"github.com/fentz26/taskhive/internal/models"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new task",
	RunE:  runTaskSubmit,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var (
	taskID       string
	taskType     string
	taskPayload  string
	taskPriority int
	taskCount    int

	listState  string
	listType   string
	listWorker string
	listLimit  int
	outputJSON bool
)

func init() {
	taskCmd.AddCommand(taskSubmitCmd, taskListCmd, taskShowCmd)

	taskSubmitCmd.Flags().StringVar(&taskID, "id", "", "Task id (generated if empty)")
	taskSubmitCmd.Flags().StringVar(&taskType, "type", "", "Task type, e.g. sum, sort, sleep (required)")
	taskSubmitCmd.Flags().StringVar(&taskPayload, "payload", "{}", "Task payload as JSON")
	taskSubmitCmd.Flags().IntVar(&taskPriority, "priority", 0, "Priority, higher runs first (default from master config)")
	taskSubmitCmd.Flags().IntVar(&taskCount, "count", 1, "Submit this many copies of the task")
	taskSubmitCmd.MarkFlagRequired("type")

	taskListCmd.Flags().StringVar(&listState, "state", "", "Filter by state (queued, leased, done, failed)")
	taskListCmd.Flags().StringVar(&listType, "type", "", "Filter by task type")
	taskListCmd.Flags().StringVar(&listWorker, "worker", "", "Filter by assigned worker")
	taskListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of tasks")
	taskListCmd.Flags().BoolVar(&outputJSON, "json", false, "Print JSON")

	taskShowCmd.Flags().BoolVar(&outputJSON, "json", false, "Print JSON")
}

func runTaskSubmit(cmd *cobra.Command, args []string) error {
	if !json.Valid([]byte(taskPayload)) {
		return fmt.Errorf("--payload is not valid JSON")
	}
	if taskCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	if taskID != "" && taskCount > 1 {
		return fmt.Errorf("--id cannot be combined with --count")
	}

	req := controlplane.SubmitRequest{
		ID:      taskID,
		Type:    taskType,
		Payload: json.RawMessage(taskPayload),
	}
	if cmd.Flags().Changed("priority") {
		req.Priority = &taskPriority
	}

	c := newAPIClient()
	ctx, cancel := commandContext()
	defer cancel()

	for i := 0; i < taskCount; i++ {
		id, err := c.Submit(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("Submitted task: %s\n", id)
	}
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	ctx, cancel := commandContext()
	defer cancel()

	tasks, err := c.ListTasks(ctx, client.TaskQuery{
		State:  models.TaskState(listState),
		Type:   listType,
		Worker: listWorker,
		Limit:  listLimit,
	})
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(tasks)
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tPRIORITY\tSTATE\tWORKER\tATTEMPTS\tCREATED")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
			truncateID(t.ID), truncate(t.Type, 20), t.Priority, t.State,
			t.AssignedWorker, t.Attempts, t.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	ctx, cancel := commandContext()
	defer cancel()

	t, err := c.GetTask(ctx, args[0])
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("task %s not found", args[0])
		}
		return err
	}
	if outputJSON {
		return printJSON(t)
	}

	fmt.Printf("ID:        %s\n", t.ID)
	fmt.Printf("Type:      %s\n", t.Type)
	fmt.Printf("State:     %s\n", t.State)
	fmt.Printf("Priority:  %d\n", t.Priority)
	fmt.Printf("Attempts:  %d\n", t.Attempts)
	fmt.Printf("Created:   %s\n", t.CreatedAt.Local().Format(time.DateTime))
	if t.AssignedWorker != "" {
		fmt.Printf("Worker:    %s\n", t.AssignedWorker)
	}
	if t.LeaseStartedAt != nil {
		fmt.Printf("Leased:    %s\n", t.LeaseStartedAt.Local().Format(time.DateTime))
	}
	if d, ok := t.Latency(); ok {
		fmt.Printf("Latency:   %.3fs\n", d.Seconds())
	}
	fmt.Printf("Payload:   %s\n", t.Payload)
	if len(t.Result) > 0 {
		fmt.Printf("Result:    %s\n", t.Result)
	}
	return nil
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
