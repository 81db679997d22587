// Package localexec runs allowlisted local commands as "exec" tasks.
package localexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fentz26/taskhive/internal/connectors"
)

// TaskType is the task type this connector handles.
const TaskType = "exec"

// DefaultAllowlist maps each executable command to its allowed subcommands.
var DefaultAllowlist = map[string][]string{
	"go":  {"version", "env"},
	"git": {"diff", "status", "log"},
}

// Payload is the payload of an exec task.
type Payload struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
}

// Result is the result of an exec task.
type Result struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// LocalExec implements connectors.Connector for local command execution.
type LocalExec struct {
	workDir   string
	allowlist map[string][]string
}

var _ connectors.Connector = (*LocalExec)(nil)

// New creates a connector running commands in workDir. A nil allowlist
// selects DefaultAllowlist.
func New(workDir string, allowlist map[string][]string) *LocalExec {
	if allowlist == nil {
		allowlist = DefaultAllowlist
	}
	return &LocalExec{workDir: workDir, allowlist: allowlist}
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed reports whether taskType is the exec type.
func (l *LocalExec) IsAllowed(taskType string) bool {
	return taskType == TaskType
}

// CommandAllowed checks a command and its subcommand against the allowlist.
func (l *LocalExec) CommandAllowed(cmd string, args []string) bool {
	allowedSubcmds, ok := l.allowlist[cmd]
	if !ok || len(args) == 0 {
		return false
	}
	for _, allowed := range allowedSubcmds {
		if args[0] == allowed {
			return true
		}
	}
	return false
}

// Execute runs the command in payload if it is allowlisted. A non-zero exit
// status fails the task.
func (l *LocalExec) Execute(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, error) {
	if !l.IsAllowed(taskType) {
		return nil, fmt.Errorf("%w: %s", connectors.ErrUnsupportedType, taskType)
	}
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode exec payload: %w", err)
	}
	if !l.CommandAllowed(p.Cmd, p.Args) {
		return nil, fmt.Errorf("command not allowed: %s %s", p.Cmd, strings.Join(p.Args, " "))
	}

	execCmd := exec.CommandContext(ctx, p.Cmd, p.Args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	exitCode := 0
	if err := execCmd.Run(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("exec error: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	res := Result{
		Command:  p.Cmd,
		Args:     p.Args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%s exited with code %d: %s", p.Cmd, exitCode, strings.TrimSpace(res.Stderr))
	}
	return json.Marshal(res)
}
