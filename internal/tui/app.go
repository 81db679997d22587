// Package tui provides the terminal dashboard for taskhive.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/taskhive/internal/client"
	"github.com/fentz26/taskhive/internal/controlplane"
	"github.com/fentz26/taskhive/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	focusedPanelStyle = panelStyle.Copy().
				BorderForeground(primaryColor)

	onlineStyle  = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(errorColor)
)

const (
	// DefaultRefreshInterval is how often the dashboard polls the master.
	DefaultRefreshInterval = time.Second

	recentTaskLimit = 30
	requestTimeout  = 5 * time.Second
)

// API is the master API the dashboard reads. *client.Client satisfies it.
type API interface {
	Status(ctx context.Context) (*models.StatusSummary, error)
	ListTasks(ctx context.Context, q client.TaskQuery) ([]models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	Submit(ctx context.Context, req controlplane.SubmitRequest) (string, error)
	Reset(ctx context.Context) error
}

type viewMode int

const (
	modeDashboard viewMode = iota
	modeDetail
)

type focusPane int

const (
	focusTasks focusPane = iota
	focusWorkers
)

var filters = []models.TaskState{"", models.TaskStateQueued, models.TaskStateLeased, models.TaskStateDone, models.TaskStateFailed}
var filterNames = []string{"ALL", "QUEUED", "LEASED", "DONE", "FAILED"}

// App is the main TUI application model.
type App struct {
	api      API
	interval time.Duration
	now      func() time.Time

	summary *models.StatusSummary
	tasks   []models.Task
	detail  *models.Task

	taskTable   table.Model
	workerTable table.Model
	input       textinput.Model

	mode      viewMode
	focus     focusPane
	filterIdx int
	online    bool
	message   string
	width     int
	height    int
}

// New creates a dashboard polling api every interval.
func New(api API, interval time.Duration) *App {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ti := textinput.New()
	ti.Placeholder = "submit <type> [payload] [priority] | reset | filter <state> | quit"
	ti.CharLimit = 512
	ti.Width = 80

	a := &App{
		api:         api,
		interval:    interval,
		now:         time.Now,
		taskTable:   newTaskTable(),
		workerTable: newWorkerTable(),
		input:       ti,
	}
	a.setFocus(focusTasks)
	return a
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.refresh(), a.tick())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6
		a.resizeTables()
		return a, nil

	case snapshotMsg:
		a.online = true
		a.summary = msg.summary
		a.tasks = msg.tasks
		a.taskTable.SetRows(taskRows(a.tasks))
		a.workerTable.SetRows(workerRows(a.summary.Workers, a.now()))
		return a, nil

	case tickMsg:
		return a, tea.Batch(a.refresh(), a.tick())

	case detailMsg:
		a.detail = msg.task
		return a, nil

	case cmdResultMsg:
		a.message = msg.message
		return a, a.refresh()

	case errMsg:
		a.online = false
		a.message = "Error: " + msg.err.Error()
		return a, nil
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}

	if a.input.Focused() {
		switch msg.String() {
		case "esc":
			a.input.Blur()
			a.input.SetValue("")
			return a, nil
		case "enter":
			line := strings.TrimSpace(a.input.Value())
			a.input.SetValue("")
			a.input.Blur()
			return a, a.executeCommand(line)
		}
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}

	switch msg.String() {
	case "q":
		return a, tea.Quit

	case "esc":
		if a.mode == modeDetail {
			a.mode = modeDashboard
			a.detail = nil
		}
		return a, nil

	case ":", "/":
		a.message = ""
		return a, a.input.Focus()

	case "tab":
		if a.focus == focusTasks {
			a.setFocus(focusWorkers)
		} else {
			a.setFocus(focusTasks)
		}
		return a, nil

	case "f":
		a.filterIdx = (a.filterIdx + 1) % len(filters)
		return a, a.refresh()

	case "r":
		return a, a.refresh()

	case "enter":
		if a.mode == modeDashboard && a.focus == focusTasks {
			if id := a.selectedTaskID(); id != "" {
				a.mode = modeDetail
				return a, a.fetchDetail(id)
			}
		}
		return a, nil
	}

	var cmd tea.Cmd
	if a.focus == focusTasks {
		a.taskTable, cmd = a.taskTable.Update(msg)
	} else {
		a.workerTable, cmd = a.workerTable.Update(msg)
	}
	return a, cmd
}

func (a *App) setFocus(f focusPane) {
	a.focus = f
	if f == focusTasks {
		a.taskTable.Focus()
		a.workerTable.Blur()
	} else {
		a.workerTable.Focus()
		a.taskTable.Blur()
	}
}

func (a *App) selectedTaskID() string {
	i := a.taskTable.Cursor()
	if i < 0 || i >= len(a.tasks) {
		return ""
	}
	return a.tasks[i].ID
}

func (a *App) resizeTables() {
	// Header, summary, panel borders, message, input and status bar.
	avail := a.height - 14
	if avail < 6 {
		avail = 6
	}
	a.taskTable.SetHeight(avail * 3 / 5)
	a.workerTable.SetHeight(avail - avail*3/5)
	if a.width > 4 {
		a.taskTable.SetWidth(a.width - 4)
		a.workerTable.SetWidth(a.width - 4)
	}
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	masterStatus := onlineStyle.Render("● MASTER")
	if !a.online {
		masterStatus = offlineStyle.Render("○ MASTER")
	}
	header := titleStyle.Render("taskhive scheduler") + "  " + masterStatus
	b.WriteString(header + "\n")
	b.WriteString(renderSummary(a.summary) + "\n")

	switch a.mode {
	case modeDetail:
		b.WriteString(panelStyle.Render(renderTaskDetail(a.detail, a.now())))
	default:
		taskStyle, workerStyle := focusedPanelStyle, panelStyle
		if a.focus == focusWorkers {
			taskStyle, workerStyle = panelStyle, focusedPanelStyle
		}
		filterLabel := lipgloss.NewStyle().Foreground(mutedColor).
			Render(fmt.Sprintf(" Recent tasks [%s]", filterNames[a.filterIdx]))
		b.WriteString(filterLabel + "\n")
		b.WriteString(taskStyle.Render(a.taskTable.View()) + "\n")
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(" Workers") + "\n")
		b.WriteString(workerStyle.Render(a.workerTable.View()))
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	}

	if a.input.Focused() {
		b.WriteString("\n" + inputBoxStyle.Render(a.input.View()))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeDetail:
		status = " Esc:back | :command | q:quit"
	default:
		status = fmt.Sprintf(" Tasks: %d | ↑↓:nav | Tab:switch | Enter:detail | f:filter | r:refresh | :command | q:quit", len(a.tasks))
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))
	return b.String()
}

func renderSummary(sum *models.StatusSummary) string {
	if sum == nil {
		return lipgloss.NewStyle().Foreground(mutedColor).Render(" waiting for master...")
	}
	muted := lipgloss.NewStyle().Foreground(mutedColor)
	counts := fmt.Sprintf(" total %d  %s  %s  %s  %s",
		sum.Total,
		lipgloss.NewStyle().Foreground(warningColor).Render(fmt.Sprintf("queued %d", sum.Queued)),
		lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("leased %d", sum.Leased)),
		lipgloss.NewStyle().Foreground(successColor).Render(fmt.Sprintf("done %d", sum.Done)),
		lipgloss.NewStyle().Foreground(errorColor).Render(fmt.Sprintf("failed %d", sum.Failed)),
	)
	rates := muted.Render(fmt.Sprintf(" workers %d/%d alive  success %.1f%%  failure %.1f%%  requeues %d",
		sum.AliveWorkers, len(sum.Workers), sum.SuccessRate, sum.FailureRate, sum.Requeues))
	timing := muted.Render(fmt.Sprintf(" latency avg %.2fs p50 %.2fs p95 %.2fs max %.2fs  makespan %.2fs",
		sum.AvgLatencySec, sum.LatencyP50Sec, sum.LatencyP95Sec, sum.LatencyMaxSec, sum.MakespanSec))
	return counts + "\n" + rates + "\n" + timing
}

// --- Commands ---

type snapshotMsg struct {
	summary *models.StatusSummary
	tasks   []models.Task
}

type detailMsg struct {
	task *models.Task
}

type tickMsg time.Time

type cmdResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) refresh() tea.Cmd {
	state := filters[a.filterIdx]
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		sum, err := a.api.Status(ctx)
		if err != nil {
			return errMsg{err}
		}
		tasks, err := a.api.ListTasks(ctx, client.TaskQuery{State: state, Limit: recentTaskLimit})
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg{summary: sum, tasks: tasks}
	}
}

func (a *App) fetchDetail(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		task, err := a.api.GetTask(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return detailMsg{task}
	}
}
