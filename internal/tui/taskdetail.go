package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/taskhive/internal/models"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// maxJSONLines caps how much of a payload or result is rendered.
const maxJSONLines = 12

func renderTaskDetail(t *models.Task, now time.Time) string {
	if t == nil {
		return "Loading..."
	}

	var b strings.Builder
	field := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-12s", label)) + value + "\n")
	}

	b.WriteString(lipgloss.NewStyle().Bold(true).Render(t.ID) + "\n")
	field("Type", t.Type)
	field("State", stateLabel(t.State))
	field("Priority", fmt.Sprintf("%d", t.Priority))
	field("Attempts", fmt.Sprintf("%d", t.Attempts))
	field("Created", fmt.Sprintf("%s (%s ago)", t.CreatedAt.Format(time.RFC3339), formatSeconds(now.Sub(t.CreatedAt))))
	if t.AssignedWorker != "" {
		field("Worker", t.AssignedWorker)
	}
	if t.LeaseStartedAt != nil {
		field("Leased", t.LeaseStartedAt.Format(time.RFC3339))
	}
	if d, ok := t.Latency(); ok {
		field("Latency", formatSeconds(d))
	}

	b.WriteString(sectionStyle.Render("Payload") + "\n")
	b.WriteString(prettyJSON(t.Payload) + "\n")
	if len(t.Result) > 0 {
		b.WriteString(sectionStyle.Render("Result") + "\n")
		b.WriteString(prettyJSON(t.Result) + "\n")
	}
	return b.String()
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "  ", "  "); err != nil {
		return "  " + string(raw)
	}
	lines := strings.Split("  "+buf.String(), "\n")
	if len(lines) > maxJSONLines {
		lines = append(lines[:maxJSONLines], fmt.Sprintf("  ... (%d more lines)", len(lines)-maxJSONLines))
	}
	return strings.Join(lines, "\n")
}
