// Package tui renders the current project as an interactive three-column
// board fed by the state store.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"boardline/internal/authz"
	"boardline/internal/domain"
	"boardline/internal/effects"
	"boardline/internal/state"
)

// StateMsg carries a store snapshot into the program.
type StateMsg struct {
	State state.State
}

type moveDoneMsg struct {
	err error
}

type Model struct {
	ctx     context.Context
	actions *effects.Actions
	project domain.Project

	state  state.State
	column int
	row    int
	notice string

	keys   keyMap
	styles styles
	width  int
	height int
}

// NewModel returns a board for project. The caller feeds store updates with
// StateMsg; Run does this automatically.
func NewModel(ctx context.Context, actions *effects.Actions, project domain.Project) Model {
	return Model{
		ctx:     ctx,
		actions: actions,
		project: project,
		state:   actions.Store.Snapshot(),
		keys:    defaultKeys(),
		styles:  newStyles(),
	}
}

func (m Model) Init() tea.Cmd {
	return m.refresh()
}

func (m Model) refresh() tea.Cmd {
	actions, ctx, id := m.actions, m.ctx, m.project.ID
	return func() tea.Msg {
		actions.FetchTasksByProject(ctx, id)
		return StateMsg{State: actions.Store.Snapshot()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StateMsg:
		m.state = msg.State
		m.clampRow()
	case moveDoneMsg:
		if msg.err == nil {
			m.notice = ""
		}
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.MoveLeft):
		return m.move(-1)
	case key.Matches(msg, m.keys.MoveRight):
		return m.move(1)
	case key.Matches(msg, m.keys.Left):
		if m.column > 0 {
			m.column--
			m.clampRow()
		}
	case key.Matches(msg, m.keys.Right):
		if m.column < len(domain.Statuses)-1 {
			m.column++
			m.clampRow()
		}
	case key.Matches(msg, m.keys.Up):
		if m.row > 0 {
			m.row--
		}
	case key.Matches(msg, m.keys.Down):
		if m.row < len(m.columnTasks(m.column))-1 {
			m.row++
		}
	case key.Matches(msg, m.keys.Refresh):
		m.notice = ""
		return m, m.refresh()
	case key.Matches(msg, m.keys.Dismiss):
		m.notice = ""
		actions := m.actions
		return m, func() tea.Msg {
			actions.ClearError()
			return StateMsg{State: actions.Store.Snapshot()}
		}
	}
	return m, nil
}

// move shifts the selected task one column in dir. The permission check runs
// before any request is made.
func (m Model) move(dir int) (tea.Model, tea.Cmd) {
	task, ok := m.selected()
	if !ok {
		return m, nil
	}
	target := m.column + dir
	if target < 0 || target >= len(domain.Statuses) {
		return m, nil
	}
	if !authz.FromState(m.state).CanUpdateTask(&task) {
		m.notice = authz.DeniedError{Action: "move task"}.Error()
		return m, nil
	}
	status := domain.Statuses[target]
	m.column = target
	m.row = 0
	m.notice = ""
	actions, ctx := m.actions, m.ctx
	return m, func() tea.Msg {
		_, err := actions.UpdateTaskStatus(ctx, task.ID, status)
		return moveDoneMsg{err: err}
	}
}

func (m Model) columnTasks(col int) []domain.Task {
	return m.state.TasksByStatus(domain.Statuses[col])
}

func (m Model) selected() (domain.Task, bool) {
	tasks := m.columnTasks(m.column)
	if m.row < 0 || m.row >= len(tasks) {
		return domain.Task{}, false
	}
	return tasks[m.row], true
}

func (m *Model) clampRow() {
	n := len(m.columnTasks(m.column))
	if m.row >= n {
		m.row = n - 1
	}
	if m.row < 0 {
		m.row = 0
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render(m.project.Name))
	if u := m.state.User; u != nil {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf("  %s · %s", u.DisplayName(), authz.RoleDisplayName(u.Role))))
	}
	b.WriteString("\n")
	if m.state.IsImpersonating && m.state.OriginalUser != nil && m.state.User != nil {
		b.WriteString(m.styles.Banner.Render(fmt.Sprintf("Acting as %s (signed in as %s)", m.state.User.DisplayName(), m.state.OriginalUser.DisplayName())))
		b.WriteString("\n")
	}
	if m.state.Loading {
		b.WriteString(m.styles.Muted.Render("loading…"))
		b.WriteString("\n")
	}
	if m.state.Error != nil {
		b.WriteString(m.styles.Error.Render("error: " + *m.state.Error))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(m.styles.Notice.Render(m.notice))
		b.WriteString("\n")
	}

	colWidth := 28
	if m.width > 0 {
		if w := m.width/len(domain.Statuses) - 4; w > 12 {
			colWidth = w
		}
	}
	cols := make([]string, 0, len(domain.Statuses))
	for i, status := range domain.Statuses {
		cols = append(cols, m.renderColumn(i, status, colWidth))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cols...))
	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderColumn(col int, status domain.Status, width int) string {
	tasks := m.columnTasks(col)
	lines := []string{m.styles.ColumnTitle.Render(fmt.Sprintf("%s (%d)", status, len(tasks)))}
	for i, t := range tasks {
		line := truncate(t.Title, width-4)
		switch t.Priority {
		case domain.PriorityHigh:
			line = m.styles.PriorityHigh.Render("!") + " " + line
		case domain.PriorityLow:
			line = m.styles.PriorityLow.Render("·") + " " + line
		default:
			line = "  " + line
		}
		if col == m.column && i == m.row {
			lines = append(lines, m.styles.TaskSelected.Render("> "+line))
		} else {
			lines = append(lines, m.styles.Task.Render("  "+line))
		}
	}
	if len(tasks) == 0 {
		lines = append(lines, m.styles.Muted.Render("  (empty)"))
	}
	style := m.styles.Column
	if col == m.column {
		style = m.styles.ColumnActive
	}
	return style.Width(width).Render(strings.Join(lines, "\n"))
}

func (m Model) renderHelp() string {
	parts := make([]string, 0, len(m.keys.help()))
	for _, k := range m.keys.help() {
		h := k.Help()
		parts = append(parts, m.styles.HelpKey.Render(h.Key)+" "+m.styles.HelpDesc.Render(h.Desc))
	}
	return strings.Join(parts, "  ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run shows the board until the user quits. Store updates are forwarded to
// the program for the lifetime of the call; dispatches must therefore happen
// in commands, never inside Update.
func Run(ctx context.Context, actions *effects.Actions, project domain.Project) error {
	p := tea.NewProgram(NewModel(ctx, actions, project), tea.WithAltScreen(), tea.WithContext(ctx))
	unsubscribe := actions.Store.Subscribe(func(s state.State) {
		p.Send(StateMsg{State: s})
	})
	defer unsubscribe()
	_, err := p.Run()
	return err
}
