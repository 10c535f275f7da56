package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"boardline/internal/domain"
	"boardline/internal/effects"
	"boardline/internal/slots"
	"boardline/internal/state"
)

var errBoom = errors.New("boom")

type boardRemote struct {
	effects.Remote
	tasks []domain.Task
	moved []domain.Status
}

func (r *boardRemote) TasksByProject(_ context.Context, _ int64) ([]domain.Task, error) {
	return r.tasks, nil
}

func (r *boardRemote) UpdateTaskStatus(_ context.Context, id int64, status domain.Status) (domain.Task, error) {
	r.moved = append(r.moved, status)
	for _, t := range r.tasks {
		if t.ID == id {
			t.Status = status
			return t, nil
		}
	}
	return domain.Task{}, nil
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newBoard(t *testing.T, user domain.User) (Model, *boardRemote) {
	t.Helper()
	remote := &boardRemote{tasks: []domain.Task{
		{ID: 1, ProjectID: 7, Title: "Design", Status: domain.StatusTodo, Priority: domain.PriorityHigh, AssigneeID: domain.Int64Ptr(2)},
		{ID: 2, ProjectID: 7, Title: "Build", Status: domain.StatusTodo, Priority: domain.PriorityLow},
		{ID: 3, ProjectID: 7, Title: "Ship", Status: domain.StatusDoing, Priority: domain.PriorityMedium},
	}}
	store := state.NewStore(nil)
	store.Dispatch(state.SetUser{User: &user})
	actions := effects.New(store, remote, slots.NewMemory(), nil)
	m := NewModel(context.Background(), actions, domain.Project{ID: 7, Name: "Launch"})
	msg := m.Init()()
	next, _ := m.Update(msg)
	return next.(Model), remote
}

func press(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(keyMsg(k))
	return next.(Model), cmd
}

func TestBoardLoadsTasksIntoColumns(t *testing.T) {
	m, _ := newBoard(t, domain.User{ID: 2, Email: "a@example.com", Role: domain.RoleUser})
	require.Len(t, m.columnTasks(0), 2)
	require.Len(t, m.columnTasks(1), 1)
	require.Empty(t, m.columnTasks(2))

	view := m.View()
	require.Contains(t, view, "Launch")
	require.Contains(t, view, "TODO (2)")
	require.Contains(t, view, "Design")
}

func TestBoardNavigationClampsToColumn(t *testing.T) {
	m, _ := newBoard(t, domain.User{ID: 2, Email: "a@example.com"})
	m, _ = press(t, m, "j")
	require.Equal(t, 1, m.row)
	m, _ = press(t, m, "j")
	require.Equal(t, 1, m.row)
	m, _ = press(t, m, "l")
	require.Equal(t, 1, m.column)
	require.Equal(t, 0, m.row)
	m, _ = press(t, m, "l")
	m, _ = press(t, m, "l")
	require.Equal(t, 2, m.column)
	_, ok := m.selected()
	require.False(t, ok)
}

func TestBoardMoveByAssignee(t *testing.T) {
	m, remote := newBoard(t, domain.User{ID: 2, Email: "a@example.com"})
	m, cmd := press(t, m, "L")
	require.NotNil(t, cmd)
	require.Equal(t, 1, m.column)
	next, _ := m.Update(cmd())
	m = next.(Model)
	require.Equal(t, []domain.Status{domain.StatusDoing}, remote.moved)

	task, ok := m.actions.Store.Snapshot().FindTask(1)
	require.True(t, ok)
	require.Equal(t, domain.StatusDoing, task.Status)
}

func TestBoardMoveDeniedWithoutRequest(t *testing.T) {
	m, remote := newBoard(t, domain.User{ID: 9, Email: "b@example.com"})
	m, cmd := press(t, m, "L")
	require.Nil(t, cmd)
	require.Empty(t, remote.moved)
	require.Contains(t, m.notice, "permission denied")
	require.Equal(t, 0, m.column)

	m, _ = press(t, m, "H")
	require.Empty(t, remote.moved)
}

func TestBoardAdminMovesAnyTask(t *testing.T) {
	m, remote := newBoard(t, domain.User{ID: 1, Email: "root@example.com", Role: domain.RoleAdmin})
	m, _ = press(t, m, "j")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyShiftRight})
	require.NotNil(t, cmd)
	cmd()
	require.Equal(t, []domain.Status{domain.StatusDoing}, remote.moved)
}

func TestBoardDismissClearsError(t *testing.T) {
	m, _ := newBoard(t, domain.User{ID: 2, Email: "a@example.com"})
	m.actions.Store.Dispatch(state.ErrorMessage(errBoom))
	next, _ := m.Update(StateMsg{State: m.actions.Store.Snapshot()})
	m = next.(Model)
	require.Contains(t, m.View(), "boom")

	m, cmd := press(t, m, "x")
	require.NotNil(t, cmd)
	next, _ = m.Update(cmd())
	m = next.(Model)
	require.Nil(t, m.state.Error)
	require.False(t, strings.Contains(m.View(), "boom"))
}

func TestBoardImpersonationBannerAndQuit(t *testing.T) {
	m, _ := newBoard(t, domain.User{ID: 1, Email: "root@example.com", Role: domain.RoleAdmin})
	m.actions.Store.Dispatch(state.StartImpersonation{User: domain.User{ID: 2, Email: "a@example.com", Name: domain.StringPtr("Alice")}})
	next, _ := m.Update(StateMsg{State: m.actions.Store.Snapshot()})
	m = next.(Model)
	require.Contains(t, m.View(), "Acting as Alice")

	_, cmd := press(t, m, "q")
	require.NotNil(t, cmd)
	_, isQuit := cmd().(tea.QuitMsg)
	require.True(t, isQuit)
}
