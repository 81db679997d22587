package tui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/taskhive/internal/models"
)

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(fgColor).
		Background(primaryColor).
		Bold(false)
	return s
}

func newTaskTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 10},
			{Title: "Type", Width: 14},
			{Title: "Pri", Width: 4},
			{Title: "State", Width: 10},
			{Title: "Worker", Width: 16},
			{Title: "Att", Width: 4},
			{Title: "Latency", Width: 9},
		}),
		table.WithHeight(10),
	)
	t.SetStyles(tableStyles())
	return t
}

func newWorkerTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Worker", Width: 20},
			{Title: "Status", Width: 8},
			{Title: "Last seen", Width: 12},
			{Title: "Leases", Width: 7},
		}),
		table.WithHeight(5),
	)
	t.SetStyles(tableStyles())
	return t
}

func taskRows(tasks []models.Task) []table.Row {
	rows := make([]table.Row, 0, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		latency := "-"
		if d, ok := t.Latency(); ok {
			latency = formatSeconds(d)
		}
		worker := t.AssignedWorker
		if worker == "" {
			worker = "-"
		}
		rows = append(rows, table.Row{
			shortID(t.ID),
			t.Type,
			strconv.Itoa(t.Priority),
			stateLabel(t.State),
			worker,
			strconv.Itoa(t.Attempts),
			latency,
		})
	}
	return rows
}

func workerRows(workers []models.WorkerInfo, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(workers))
	for _, w := range workers {
		status := "● alive"
		if !w.Alive {
			status = "○ silent"
		}
		rows = append(rows, table.Row{
			w.ID,
			status,
			formatSeconds(now.Sub(w.LastHeartbeatAt)) + " ago",
			strconv.Itoa(w.ActiveLeases),
		})
	}
	return rows
}

func stateLabel(s models.TaskState) string {
	switch s {
	case models.TaskStateQueued:
		return "○ queued"
	case models.TaskStateLeased:
		return "◐ leased"
	case models.TaskStateDone:
		return "● done"
	case models.TaskStateFailed:
		return "✗ failed"
	default:
		return string(s)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatSeconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
