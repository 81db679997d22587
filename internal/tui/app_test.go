package tui

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/taskhive/internal/client"
	"github.com/fentz26/taskhive/internal/controlplane"
	"github.com/fentz26/taskhive/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	summary   models.StatusSummary
	tasks     []models.Task
	statusErr error
	lastQuery client.TaskQuery
	submitted []controlplane.SubmitRequest
	resets    int
}

func (f *fakeAPI) Status(context.Context) (*models.StatusSummary, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	sum := f.summary
	return &sum, nil
}

func (f *fakeAPI) ListTasks(_ context.Context, q client.TaskQuery) ([]models.Task, error) {
	f.lastQuery = q
	return f.tasks, nil
}

func (f *fakeAPI) GetTask(_ context.Context, id string) (*models.Task, error) {
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			t := f.tasks[i]
			return &t, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeAPI) Submit(_ context.Context, req controlplane.SubmitRequest) (string, error) {
	f.submitted = append(f.submitted, req)
	return "0123456789abcdef", nil
}

func (f *fakeAPI) Reset(context.Context) error {
	f.resets++
	return nil
}

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestApp(api *fakeAPI) *App {
	a := New(api, time.Second)
	a.now = func() time.Time { return testNow }
	return a
}

// apply feeds msg to the app and runs the returned command once if it is a
// plain function, returning the message it produced.
func apply(t *testing.T, a *App, msg tea.Msg) tea.Msg {
	t.Helper()
	_, cmd := a.Update(msg)
	if cmd == nil {
		return nil
	}
	return cmd()
}

func sampleTasks() []models.Task {
	leased := testNow.Add(-3 * time.Second)
	done := testNow.Add(-time.Second)
	return []models.Task{
		{ID: "task-aaaaaaaaaaaa", Type: "sum", Priority: 10, State: models.TaskStateDone, Attempts: 1,
			AssignedWorker: "w1", LeaseStartedAt: &leased, CompletedAt: &done,
			Payload: json.RawMessage(`{"numbers":[1,2]}`), Result: json.RawMessage(`3`), CreatedAt: testNow.Add(-time.Minute)},
		{ID: "q1", Type: "sleep", Priority: 50, State: models.TaskStateQueued,
			Payload: json.RawMessage(`{}`), CreatedAt: testNow},
	}
}

func TestTaskRows(t *testing.T) {
	rows := taskRows(sampleTasks())
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"task-aaa", "sum", "10", "● done", "w1", "1", "2.0s"}, []string(rows[0]))
	assert.Equal(t, []string{"q1", "sleep", "50", "○ queued", "-", "0", "-"}, []string(rows[1]))
}

func TestWorkerRows(t *testing.T) {
	rows := workerRows([]models.WorkerInfo{
		{ID: "w1", Alive: true, LastHeartbeatAt: testNow.Add(-2500 * time.Millisecond), ActiveLeases: 2},
		{ID: "w2", LastHeartbeatAt: testNow.Add(-12 * time.Second)},
	}, testNow)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"w1", "● alive", "2.5s ago", "2"}, []string(rows[0]))
	assert.Equal(t, []string{"w2", "○ silent", "12.0s ago", "0"}, []string(rows[1]))
}

func TestParseSubmit(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		typ      string
		payload  string
		priority *int
		wantErr  bool
	}{
		{name: "type only", args: []string{"sleep"}, typ: "sleep", payload: `{}`},
		{name: "payload", args: []string{"sum", `{"numbers":`, `[1,2]}`}, typ: "sum", payload: `{"numbers": [1,2]}`},
		{name: "payload and priority", args: []string{"sum", `{"numbers":[1]}`, "5"}, typ: "sum", payload: `{"numbers":[1]}`, priority: intPtr(5)},
		{name: "bare number is payload", args: []string{"factorial", "7"}, typ: "factorial", payload: `7`},
		{name: "invalid payload", args: []string{"sum", "{nope"}, wantErr: true},
		{name: "missing type", args: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseSubmit(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.typ, req.Type)
			assert.JSONEq(t, tt.payload, string(req.Payload))
			assert.Equal(t, tt.priority, req.Priority)
		})
	}
}

func intPtr(v int) *int { return &v }

func TestRefreshPopulatesTables(t *testing.T) {
	api := &fakeAPI{
		summary: models.StatusSummary{Total: 2, Done: 1, Queued: 1, SuccessRate: 50, AliveWorkers: 1,
			Workers: []models.WorkerInfo{{ID: "w1", Alive: true, LastHeartbeatAt: testNow}}},
		tasks: sampleTasks(),
	}
	a := newTestApp(api)

	msg := a.refresh()()
	require.IsType(t, snapshotMsg{}, msg)
	a.Update(msg)

	assert.True(t, a.online)
	assert.Equal(t, recentTaskLimit, api.lastQuery.Limit)
	assert.Len(t, a.taskTable.Rows(), 2)
	assert.Len(t, a.workerTable.Rows(), 1)

	view := a.View()
	assert.Contains(t, view, "success 50.0%")
	assert.Contains(t, view, "workers 1/1 alive")
}

func TestRefreshErrorMarksOffline(t *testing.T) {
	api := &fakeAPI{statusErr: errors.New("connection refused")}
	a := newTestApp(api)
	a.online = true

	a.Update(a.refresh()())
	assert.False(t, a.online)
	assert.Contains(t, a.message, "connection refused")
	assert.Contains(t, a.View(), "○ MASTER")
}

func TestFilterCyclesState(t *testing.T) {
	api := &fakeAPI{}
	a := newTestApp(api)

	msg := apply(t, a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
	require.IsType(t, snapshotMsg{}, msg)
	assert.Equal(t, models.TaskStateQueued, api.lastQuery.State)

	a.executeCommand("filter failed")()
	assert.Equal(t, models.TaskStateFailed, api.lastQuery.State)

	res := a.executeCommand("filter lost")()
	assert.Contains(t, res.(cmdResultMsg).message, "unknown state")
}

func TestEnterOpensDetail(t *testing.T) {
	api := &fakeAPI{tasks: sampleTasks()}
	a := newTestApp(api)
	a.Update(a.refresh()())

	msg := apply(t, a, tea.KeyMsg{Type: tea.KeyEnter})
	require.IsType(t, detailMsg{}, msg)
	assert.Equal(t, modeDetail, a.mode)
	a.Update(msg)

	view := a.View()
	assert.Contains(t, view, "task-aaaaaaaaaaaa")
	assert.Contains(t, view, `"numbers"`)
	assert.Contains(t, view, "Result")

	a.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeDashboard, a.mode)
	assert.Nil(t, a.detail)
}

func TestCommandBar(t *testing.T) {
	api := &fakeAPI{}
	a := newTestApp(api)

	a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(":")})
	require.True(t, a.input.Focused())
	a.input.SetValue(`submit sum {"numbers":[4]} 9`)

	msg := apply(t, a, tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, a.input.Focused())
	require.IsType(t, cmdResultMsg{}, msg)
	assert.True(t, strings.HasPrefix(msg.(cmdResultMsg).message, "✓ Submitted sum task 01234567"))
	require.Len(t, api.submitted, 1)
	assert.Equal(t, 9, *api.submitted[0].Priority)

	res := a.executeCommand("reset")()
	assert.Equal(t, "✓ Scheduler state cleared", res.(cmdResultMsg).message)
	assert.Equal(t, 1, api.resets)

	res = a.executeCommand("launch")()
	assert.Contains(t, res.(cmdResultMsg).message, "Unknown: launch")
}

func TestTabSwitchesFocus(t *testing.T) {
	a := newTestApp(&fakeAPI{})
	assert.True(t, a.taskTable.Focused())

	a.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusWorkers, a.focus)
	assert.True(t, a.workerTable.Focused())
	assert.False(t, a.taskTable.Focused())
}
