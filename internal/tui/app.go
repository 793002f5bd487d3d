package tui

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/execwatch/internal/logger"
	"github.com/mpataki/execwatch/internal/models"
	"github.com/mpataki/execwatch/internal/selection"
	"github.com/mpataki/execwatch/internal/spec"
)

// Backend is what the TUI needs from the executor.
type Backend interface {
	ListReplicas() ([]*models.Replica, error)
	ListExecutions(replicaID string) ([]*models.Execution, error)
	StartExecution(replica *models.Replica, def *spec.Definition) (*models.Execution, error)
	Execute(ctx context.Context, execution *models.Execution, def *spec.Definition) (models.ExecStatus, error)
	CancelExecution(id string) error
	DeleteExecution(id string) error
	TaskLog(executionID, taskName string) (string, error)
}

type View int

const (
	ViewReplicaList View = iota
	ViewReplicaDetail
	ViewOutput
)

// detailReserve is the number of rows kept below the timeline for the
// execution info, its tasks and the help line.
const detailReserve = 12

type App struct {
	backend Backend
	defs    map[string]*spec.Definition
	log     *logger.Logger
	refresh time.Duration

	view        View
	replicas    []*models.Replica
	selectedIdx int
	replica     *models.Replica
	executions  *selection.Controller
	confirm     selection.Action
	confirmID   string

	outputContent string
	notice        string

	keys keyMap
	help help.Model

	width  int
	height int
	err    error
}

func NewApp(backend Backend, defs map[string]*spec.Definition, refresh time.Duration, log *logger.Logger) *App {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{
		backend:    backend,
		defs:       defs,
		log:        log,
		refresh:    refresh,
		view:       ViewReplicaList,
		executions: selection.NewController(),
		keys:       newKeyMap(),
		help:       help.New(),
	}
	a.executions.OnChange = func(from, to string) {
		a.log.Debug("selection changed", "from", from, "to", to)
	}
	return a
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadReplicas, a.tickCmd())
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(a.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.MouseMsg:
		return a.handleMouse(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		return a, nil

	case replicasLoadedMsg:
		a.replicas = msg.replicas
		a.err = msg.err
		if a.selectedIdx >= len(a.replicas) {
			a.selectedIdx = max(len(a.replicas)-1, 0)
		}
		return a, nil

	case tickMsg:
		// Only the detail view polls; the tick keeps running regardless.
		if a.view == ViewReplicaDetail && a.replica != nil {
			return a, tea.Batch(a.loadExecutions(a.replica.ID), a.tickCmd())
		}
		return a, a.tickCmd()

	case executionsLoadedMsg:
		if a.replica == nil || msg.replicaID != a.replica.ID {
			// Stale refresh for a replica we already left.
			return a, nil
		}
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		if err := a.executions.Observe(msg.executions); err != nil {
			a.log.Error("rejected execution snapshot", "replica", a.replica.Name, "error", err)
			a.err = err
			return a, nil
		}
		a.err = nil
		if a.confirm != selection.ActionNone && !a.confirmStillValid() {
			// The selection moved or changed state under the prompt.
			a.confirm = selection.ActionNone
		}
		return a, nil

	case executionStartedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.notice = fmt.Sprintf("Execution #%d started", msg.execution.Number)
		return a, tea.Batch(a.loadExecutions(msg.execution.ReplicaID), a.runExecution(msg.execution, msg.def))

	case executionFinishedMsg:
		if msg.err != nil {
			a.err = msg.err
		}
		a.notice = fmt.Sprintf("Execution #%d finished: %s", msg.execution.Number, msg.status)
		return a, a.loadExecutions(msg.execution.ReplicaID)

	case executionCanceledMsg:
		a.err = msg.err
		if a.replica != nil {
			return a, a.loadExecutions(a.replica.ID)
		}
		return a, nil

	case executionDeletedMsg:
		a.err = msg.err
		if msg.err == nil {
			a.notice = "Execution deleted"
		}
		if a.replica != nil {
			return a, a.loadExecutions(a.replica.ID)
		}
		return a, nil

	case outputLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
		} else {
			a.outputContent = msg.content
			a.view = ViewOutput
		}
		return a, nil
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, a.keys.Quit) {
		return a, tea.Quit
	}

	switch a.view {
	case ViewReplicaList:
		return a.handleReplicaListKey(msg)
	case ViewReplicaDetail:
		if a.confirm != selection.ActionNone {
			return a.handleConfirmKey(msg)
		}
		return a.handleReplicaDetailKey(msg)
	case ViewOutput:
		if key.Matches(msg, a.keys.Back) {
			a.view = ViewReplicaDetail
			a.outputContent = ""
		}
	}
	return a, nil
}

func (a *App) handleReplicaListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Back):
		return a, tea.Quit

	case key.Matches(msg, a.keys.Up):
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case key.Matches(msg, a.keys.Down):
		if a.selectedIdx < len(a.replicas)-1 {
			a.selectedIdx++
		}

	case key.Matches(msg, a.keys.Open):
		if len(a.replicas) > 0 && a.selectedIdx < len(a.replicas) {
			return a, a.openReplica(a.replicas[a.selectedIdx])
		}

	case key.Matches(msg, a.keys.Refresh):
		return a, a.loadReplicas
	}

	return a, nil
}

func (a *App) openReplica(r *models.Replica) tea.Cmd {
	a.replica = r
	a.executions.Reset()
	a.confirm = selection.ActionNone
	a.notice = ""
	a.err = nil
	a.view = ViewReplicaDetail
	return a.loadExecutions(r.ID)
}

func (a *App) handleReplicaDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Back):
		a.view = ViewReplicaList
		a.replica = nil
		a.executions.Reset()
		return a, a.loadReplicas

	case key.Matches(msg, a.keys.Prev):
		a.executions.SelectPrevious()

	case key.Matches(msg, a.keys.Next):
		a.executions.SelectNext()

	case key.Matches(msg, a.keys.Cancel):
		a.askConfirm(selection.ActionCancel)

	case key.Matches(msg, a.keys.Delete):
		a.askConfirm(selection.ActionDelete)

	case key.Matches(msg, a.keys.Execute):
		return a, a.startExecution()

	case key.Matches(msg, a.keys.Output):
		if sel := a.executions.Selected(); sel != nil {
			return a, a.loadOutput(sel)
		}

	case key.Matches(msg, a.keys.Refresh):
		return a, a.loadExecutions(a.replica.ID)
	}

	return a, nil
}

func (a *App) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Confirm):
		action, id := a.confirm, a.confirmID
		valid := a.confirmStillValid()
		a.confirm = selection.ActionNone
		if !valid {
			return a, nil
		}
		if action == selection.ActionCancel {
			return a, a.cancelExecution(id)
		}
		return a, a.deleteExecution(id)

	case key.Matches(msg, a.keys.Deny):
		a.confirm = selection.ActionNone
	}
	return a, nil
}

// askConfirm opens the prompt for action when the selection allows it.
func (a *App) askConfirm(action selection.Action) {
	if a.executions.Action() != action {
		return
	}
	a.confirm = action
	a.confirmID = a.executions.SelectedID()
}

func (a *App) confirmStillValid() bool {
	return a.executions.SelectedID() == a.confirmID && a.executions.Action() == a.confirm
}

func (a *App) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if a.view != ViewReplicaDetail || a.confirm != selection.ActionNone {
		return a, nil
	}
	if msg.Action != tea.MouseActionPress || msg.Button != tea.MouseButtonLeft {
		return a, nil
	}

	list := a.executions.List()
	start, end := a.timelineWindow(len(list))
	row := msg.Y - strings.Count(a.detailHeader(start, end, len(list)), "\n")
	if row < 0 || start+row >= end {
		return a, nil
	}
	if err := a.executions.SelectByID(list[start+row].ID); err != nil {
		a.log.Error("timeline pick failed", "error", err)
	}
	return a, nil
}

func (a *App) View() string {
	switch a.view {
	case ViewReplicaList:
		return a.viewReplicaList()
	case ViewReplicaDetail:
		return a.viewReplicaDetail()
	case ViewOutput:
		return a.viewOutput()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	infoStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Background(lipgloss.Color("236"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusCanceled = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	statusPending  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	confirmStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewReplicaList() string {
	s := titleStyle.Render("execwatch") + "\n\n"

	if len(a.replicas) == 0 {
		s += "No replicas found. Add a definition under .execwatch/replicas.\n"
	} else {
		s += "Replicas\n"
		s += "────────\n"

		for i, r := range a.replicas {
			line := fmt.Sprintf("%-24s %s", r.Name, dimStyle.Render(truncate(r.Description, 40)))
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += a.footer()
	s += "\n" + a.help.ShortHelpView([]key.Binding{a.keys.Up, a.keys.Down, a.keys.Open, a.keys.Refresh, a.keys.Back})

	return s
}

func (a *App) viewReplicaDetail() string {
	if a.replica == nil {
		return "No replica selected"
	}

	list := a.executions.List()
	selectedID := a.executions.SelectedID()
	start, end := a.timelineWindow(len(list))

	s := a.detailHeader(start, end, len(list))

	if len(list) == 0 {
		s += "It looks like there are no executions in this replica.\n"
		s += dimStyle.Render("This replica has not been executed yet. Press [e] to execute now.") + "\n"
	} else {
		for _, e := range list[start:end] {
			line := fmt.Sprintf("#%-4d %s  %s", e.Number, a.formatStatus(e.Status), dimStyle.Render(models.FormatAge(e.CreatedAt)))
			if e.ID == selectedID {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
		if a.executions.HasSelection() {
			s += "\n" + a.viewExecutionInfo()
		} else {
			s += "\n" + dimStyle.Render("(no execution selected)") + "\n"
		}
	}

	s += a.footer()

	keys := a.keys
	action := a.executions.Action()
	keys.Cancel.SetEnabled(a.executions.SelectedIsRunning())
	keys.Delete.SetEnabled(action == selection.ActionDelete)
	keys.Output.SetEnabled(a.executions.HasSelection())
	keys.Prev.SetEnabled(a.executions.HasAnyExecutions())
	keys.Next.SetEnabled(a.executions.HasAnyExecutions())
	s += "\n" + a.help.ShortHelpView([]key.Binding{
		keys.Prev, keys.Next, keys.Cancel, keys.Delete, keys.Execute, keys.Output, keys.Back,
	})

	return s
}

// detailHeader renders everything above the first timeline row. Mouse
// hit-testing counts its lines.
func (a *App) detailHeader(start, end, total int) string {
	s := titleStyle.Render("Replica: " + a.replica.Name)
	if desc := strings.Join(strings.Fields(a.replica.Description), " "); desc != "" {
		s += "  " + dimStyle.Render(truncate(desc, 60))
	}
	s += "\n\n"

	heading := "Executions"
	if start > 0 || end < total {
		heading += fmt.Sprintf(" (%d-%d of %d)", start+1, end, total)
	}
	return s + heading + "\n" + strings.Repeat("─", len("Executions")) + "\n"
}

// timelineWindow picks the slice of the timeline that fits on screen,
// keeping the selected execution visible.
func (a *App) timelineWindow(total int) (start, end int) {
	if a.height <= 0 {
		return 0, total
	}
	rows := max(a.height-4-detailReserve, 3)
	if total <= rows {
		return 0, total
	}
	sel := a.executions.SelectedIndex()
	if sel < 0 {
		sel = total - 1
	}
	start = min(max(sel-rows/2, 0), total-rows)
	return start, start + rows
}

func (a *App) viewExecutionInfo() string {
	sel := a.executions.Selected()
	if sel == nil {
		return ""
	}

	info := fmt.Sprintf("Execution #%d  %s  %s  %s%s",
		sel.Number,
		a.formatStatus(sel.Status),
		models.FormatCreated(sel.CreatedAt),
		labelStyle.Render("ID: "),
		sel.ID,
	)
	s := infoStyle.Render(info) + "\n"

	switch a.confirm {
	case selection.ActionCancel:
		s += confirmStyle.Render(fmt.Sprintf("Cancel execution #%d? [y/n]", sel.Number)) + "\n"
	case selection.ActionDelete:
		s += confirmStyle.Render(fmt.Sprintf("Delete execution #%d? [y/n]", sel.Number)) + "\n"
	}

	if len(sel.Tasks) == 0 {
		return s
	}

	s += "\nTasks\n"
	for i, t := range sel.Tasks {
		line := fmt.Sprintf("%d. %-16s %s", i+1, t.Name, a.formatTaskStatus(t.Status))

		if t.ExitCode != nil {
			if *t.ExitCode == 0 {
				line += "  " + dimStyle.Render("exit:0")
			} else {
				line += "  " + statusFailed.Render(fmt.Sprintf("exit:%d", *t.ExitCode))
			}
		}

		if t.StartedAt != nil && t.CompletedAt != nil {
			line += "  " + dimStyle.Render(formatDuration(t.CompletedAt.Sub(*t.StartedAt)))
		} else if t.StartedAt != nil && t.Status == models.ExecStatusRunning {
			line += "  " + statusRunning.Render(formatDuration(time.Since(*t.StartedAt))+"...")
		}

		s += "  " + line + "\n"
	}
	return s
}

func (a *App) footer() string {
	s := ""
	if a.notice != "" {
		s += "\n" + dimStyle.Render(a.notice)
	}
	if a.err != nil {
		s += "\n" + statusFailed.Render(fmt.Sprintf("Error: %v", a.err))
	}
	return s + "\n"
}

func (a *App) formatStatus(status models.ExecStatus) string {
	switch status {
	case models.ExecStatusRunning:
		return statusRunning.Render("● RUNNING")
	case models.ExecStatusCompleted:
		return statusComplete.Render("✓ COMPLETED")
	case models.ExecStatusError:
		return statusFailed.Render("✗ ERROR")
	case models.ExecStatusCanceled:
		return statusCanceled.Render("⊘ CANCELED")
	case models.ExecStatusCancelling:
		return statusCanceled.Render("… CANCELLING")
	default:
		return statusPending.Render("○ " + string(status))
	}
}

func (a *App) formatTaskStatus(status models.ExecStatus) string {
	switch status {
	case models.ExecStatusCompleted:
		return statusComplete.Render("✓")
	case models.ExecStatusRunning:
		return statusRunning.Render("●")
	case models.ExecStatusError:
		return statusFailed.Render("✗")
	case models.ExecStatusCanceled:
		return statusCanceled.Render("⊘")
	default:
		return statusPending.Render("○")
	}
}

func (a *App) viewOutput() string {
	s := titleStyle.Render("Output") + "\n\n"

	if a.outputContent == "" {
		s += "(no output)\n"
	} else {
		s += a.outputContent + "\n"
	}

	s += "\n" + a.help.ShortHelpView([]key.Binding{a.keys.Back, a.keys.Quit})

	return s
}

// Messages

type replicasLoadedMsg struct {
	replicas []*models.Replica
	err      error
}

type executionsLoadedMsg struct {
	replicaID  string
	executions []*models.Execution
	err        error
}

type executionStartedMsg struct {
	execution *models.Execution
	def       *spec.Definition
	err       error
}

type executionFinishedMsg struct {
	execution *models.Execution
	status    models.ExecStatus
	err       error
}

type executionCanceledMsg struct {
	id  string
	err error
}

type executionDeletedMsg struct {
	id  string
	err error
}

type outputLoadedMsg struct {
	content string
	err     error
}

// Commands

func (a *App) loadReplicas() tea.Msg {
	replicas, err := a.backend.ListReplicas()
	return replicasLoadedMsg{replicas: replicas, err: err}
}

func (a *App) loadExecutions(replicaID string) tea.Cmd {
	return func() tea.Msg {
		execs, err := a.backend.ListExecutions(replicaID)
		return executionsLoadedMsg{replicaID: replicaID, executions: execs, err: err}
	}
}

func (a *App) startExecution() tea.Cmd {
	r := a.replica
	def, ok := a.defs[r.Name]
	if !ok {
		a.err = fmt.Errorf("no definition found for replica %q", r.Name)
		return nil
	}
	return func() tea.Msg {
		execution, err := a.backend.StartExecution(r, def)
		return executionStartedMsg{execution: execution, def: def, err: err}
	}
}

func (a *App) runExecution(execution *models.Execution, def *spec.Definition) tea.Cmd {
	return func() tea.Msg {
		status, err := a.backend.Execute(context.Background(), execution, def)
		return executionFinishedMsg{execution: execution, status: status, err: err}
	}
}

func (a *App) cancelExecution(id string) tea.Cmd {
	return func() tea.Msg {
		return executionCanceledMsg{id: id, err: a.backend.CancelExecution(id)}
	}
}

func (a *App) deleteExecution(id string) tea.Cmd {
	return func() tea.Msg {
		return executionDeletedMsg{id: id, err: a.backend.DeleteExecution(id)}
	}
}

func (a *App) loadOutput(execution *models.Execution) tea.Cmd {
	return func() tea.Msg {
		var b strings.Builder
		for _, t := range execution.Tasks {
			out, err := a.backend.TaskLog(execution.ID, t.Name)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return outputLoadedMsg{err: err}
			}
			fmt.Fprintf(&b, "── %s ──\n%s\n", t.Name, strings.TrimRight(out, "\n"))
		}
		return outputLoadedMsg{content: strings.TrimRight(b.String(), "\n")}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
