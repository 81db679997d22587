package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/taskhive/internal/controlplane"
	"github.com/fentz26/taskhive/internal/models"
)

// parseSubmit parses "submit <type> [payload-json] [priority]". A missing
// payload defaults to {}.
func parseSubmit(args []string) (controlplane.SubmitRequest, error) {
	if len(args) < 1 {
		return controlplane.SubmitRequest{}, fmt.Errorf("usage: submit <type> [payload] [priority]")
	}
	req := controlplane.SubmitRequest{Type: args[0], Payload: json.RawMessage(`{}`)}
	rest := args[1:]
	if len(rest) > 0 {
		if p, err := strconv.Atoi(rest[len(rest)-1]); err == nil && !json.Valid([]byte(strings.Join(rest, " "))) {
			req.Priority = &p
			rest = rest[:len(rest)-1]
		}
	}
	if len(rest) > 0 {
		payload := strings.Join(rest, " ")
		if !json.Valid([]byte(payload)) {
			return controlplane.SubmitRequest{}, fmt.Errorf("payload is not valid JSON: %s", payload)
		}
		req.Payload = json.RawMessage(payload)
	}
	return req, nil
}

func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "q", "quit", "exit":
		return tea.Quit

	case "filter":
		if len(args) != 1 {
			return result("Usage: filter <all|queued|leased|done|failed>")
		}
		for i, f := range filters {
			if strings.EqualFold(args[0], filterNames[i]) || (f != "" && models.TaskState(args[0]) == f) {
				a.filterIdx = i
				return a.refresh()
			}
		}
		return result("Error: unknown state " + args[0])
	}

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		switch cmd {
		case "submit", "add":
			req, err := parseSubmit(args)
			if err != nil {
				return cmdResultMsg{"Error: " + err.Error()}
			}
			id, err := a.api.Submit(ctx, req)
			if err != nil {
				return cmdResultMsg{"Error: " + err.Error()}
			}
			return cmdResultMsg{fmt.Sprintf("✓ Submitted %s task %s", req.Type, shortID(id))}

		case "reset":
			if err := a.api.Reset(ctx); err != nil {
				return cmdResultMsg{"Error: " + err.Error()}
			}
			return cmdResultMsg{"✓ Scheduler state cleared"}

		default:
			return cmdResultMsg{fmt.Sprintf("Unknown: %s (try: submit, reset, filter, quit)", cmd)}
		}
	}
}

func result(message string) tea.Cmd {
	return func() tea.Msg { return cmdResultMsg{message} }
}
