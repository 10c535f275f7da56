// Package effects performs remote calls and funnels their outcomes into the
// state store. Each operation follows one of two shapes: fetch-many
// operations toggle the loading flag and record failures in state, while
// single-entity mutations record the failure and also return it.
package effects

import (
	"context"
	"fmt"
	"log/slog"

	"boardline/internal/domain"
	"boardline/internal/slots"
	"boardline/internal/state"
)

// Remote is the backend surface the effects depend on. boardlinesdk.Client
// satisfies it.
type Remote interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUser(ctx context.Context, id int64, in domain.UserUpdate) (domain.User, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	CreateProject(ctx context.Context, in domain.ProjectInput) (domain.Project, error)
	UpdateProject(ctx context.Context, id int64, in domain.ProjectInput) (domain.Project, error)
	DeleteProject(ctx context.Context, id int64) error
	TasksByProject(ctx context.Context, projectID int64) ([]domain.Task, error)
	CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, id int64, in domain.TaskInput) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status domain.Status) (domain.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	ProjectMembers(ctx context.Context, projectID int64) ([]domain.User, error)
	AddProjectMember(ctx context.Context, projectID, userID int64) (domain.Membership, error)
	RemoveProjectMember(ctx context.Context, projectID, userID int64) error
	UserForImpersonation(ctx context.Context, id int64) (domain.User, error)
	StartImpersonationSession(ctx context.Context, userID int64) error
	StopImpersonationSession(ctx context.Context) error
}

type Actions struct {
	Store  *state.Store
	Remote Remote
	Slots  slots.Store
	Logger *slog.Logger
}

func New(store *state.Store, remote Remote, slotStore slots.Store, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actions{Store: store, Remote: remote, Slots: slotStore, Logger: logger}
}

func (a *Actions) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// fetch runs call bracketed by the loading flag. The flag is cleared on every
// exit path, including a failed call.
func (a *Actions) fetch(call func() (state.Action, error)) error {
	a.Store.Dispatch(state.SetLoading{Loading: true})
	defer a.Store.Dispatch(state.SetLoading{Loading: false})
	act, err := call()
	if err != nil {
		a.Store.Dispatch(state.ErrorMessage(err))
		return err
	}
	a.Store.Dispatch(act)
	return nil
}

func (a *Actions) fail(op string, err error) error {
	a.Store.Dispatch(state.ErrorMessage(err))
	return fmt.Errorf("%s: %w", op, err)
}

func (a *Actions) FetchUsers(ctx context.Context) {
	_ = a.fetch(func() (state.Action, error) {
		users, err := a.Remote.ListUsers(ctx)
		return state.SetUsers{Users: users}, err
	})
}

func (a *Actions) FetchProjects(ctx context.Context) {
	_ = a.fetch(func() (state.Action, error) {
		projects, err := a.Remote.ListProjects(ctx)
		return state.SetProjects{Projects: projects}, err
	})
}

func (a *Actions) FetchTasksByProject(ctx context.Context, projectID int64) {
	_ = a.fetch(func() (state.Action, error) {
		tasks, err := a.Remote.TasksByProject(ctx, projectID)
		return state.SetTasks{Tasks: tasks}, err
	})
}

// FetchProjectMembers returns the member list without caching it in state.
// Unlike the other fetches it hands the failure back to the caller.
func (a *Actions) FetchProjectMembers(ctx context.Context, projectID int64) ([]domain.User, error) {
	a.Store.Dispatch(state.SetLoading{Loading: true})
	defer a.Store.Dispatch(state.SetLoading{Loading: false})
	members, err := a.Remote.ProjectMembers(ctx, projectID)
	if err != nil {
		return nil, a.fail("fetch project members", err)
	}
	return members, nil
}

func (a *Actions) CreateProject(ctx context.Context, in domain.ProjectInput) (domain.Project, error) {
	p, err := a.Remote.CreateProject(ctx, in)
	if err != nil {
		return domain.Project{}, a.fail("create project", err)
	}
	a.Store.Dispatch(state.AddProject{Project: p})
	return p, nil
}

func (a *Actions) UpdateProject(ctx context.Context, id int64, in domain.ProjectInput) (domain.Project, error) {
	p, err := a.Remote.UpdateProject(ctx, id, in)
	if err != nil {
		return domain.Project{}, a.fail("update project", err)
	}
	a.Store.Dispatch(state.UpdateProject{Project: p})
	return p, nil
}

func (a *Actions) DeleteProject(ctx context.Context, id int64) error {
	if err := a.Remote.DeleteProject(ctx, id); err != nil {
		return a.fail("delete project", err)
	}
	a.Store.Dispatch(state.DeleteProject{ID: id})
	return nil
}

func (a *Actions) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	t, err := a.Remote.CreateTask(ctx, in)
	if err != nil {
		return domain.Task{}, a.fail("create task", err)
	}
	a.Store.Dispatch(state.AddTask{Task: t})
	return t, nil
}

func (a *Actions) UpdateTask(ctx context.Context, id int64, in domain.TaskInput) (domain.Task, error) {
	t, err := a.Remote.UpdateTask(ctx, id, in)
	if err != nil {
		return domain.Task{}, a.fail("update task", err)
	}
	a.Store.Dispatch(state.UpdateTask{Task: t})
	return t, nil
}

func (a *Actions) UpdateTaskStatus(ctx context.Context, id int64, status domain.Status) (domain.Task, error) {
	t, err := a.Remote.UpdateTaskStatus(ctx, id, status)
	if err != nil {
		return domain.Task{}, a.fail("update task status", err)
	}
	a.Store.Dispatch(state.UpdateTask{Task: t})
	return t, nil
}

func (a *Actions) DeleteTask(ctx context.Context, id int64) error {
	if err := a.Remote.DeleteTask(ctx, id); err != nil {
		return a.fail("delete task", err)
	}
	a.Store.Dispatch(state.DeleteTask{ID: id})
	return nil
}

func (a *Actions) AddProjectMember(ctx context.Context, projectID, userID int64) (domain.Membership, error) {
	m, err := a.Remote.AddProjectMember(ctx, projectID, userID)
	if err != nil {
		return domain.Membership{}, a.fail("add project member", err)
	}
	return m, nil
}

func (a *Actions) RemoveProjectMember(ctx context.Context, projectID, userID int64) error {
	if err := a.Remote.RemoveProjectMember(ctx, projectID, userID); err != nil {
		return a.fail("remove project member", err)
	}
	return nil
}

// UpdateProfile saves profile fields and refreshes every place the user
// appears in state. Renaming the impersonated user rewrites the persisted
// record too.
func (a *Actions) UpdateProfile(ctx context.Context, id int64, in domain.UserUpdate) (domain.User, error) {
	u, err := a.Remote.UpdateUser(ctx, id, in)
	if err != nil {
		return domain.User{}, a.fail("update profile", err)
	}
	snap := a.Store.Snapshot()
	var persistErr error
	if snap.User != nil && snap.User.ID == u.ID {
		if snap.IsImpersonating {
			// re-target onto the fresh copy so the original identity is kept
			next := a.Store.Dispatch(state.StartImpersonation{User: u})
			persistErr = a.persistImpersonation(ctx, next)
		} else {
			a.Store.Dispatch(state.SetUser{User: &u})
		}
	}
	users := make([]domain.User, 0, len(snap.Users))
	replaced := false
	for _, existing := range snap.Users {
		if existing.ID == u.ID {
			existing = u
			replaced = true
		}
		users = append(users, existing)
	}
	if replaced {
		a.Store.Dispatch(state.SetUsers{Users: users})
	}
	if persistErr != nil {
		return u, a.fail("update profile", persistErr)
	}
	return u, nil
}

// SelectProject makes p current and loads its tasks. A nil project clears the
// selection and the task list.
func (a *Actions) SelectProject(ctx context.Context, p *domain.Project) {
	a.SetCurrentProject(p)
	if p == nil {
		a.Store.Dispatch(state.SetTasks{})
		return
	}
	a.FetchTasksByProject(ctx, p.ID)
}

func (a *Actions) SetCurrentProject(p *domain.Project) {
	a.Store.Dispatch(state.SetCurrentProject{Project: p})
}

func (a *Actions) ClearError() {
	a.Store.Dispatch(state.SetError{})
}

func (a *Actions) ClearState() {
	a.Store.Dispatch(state.ClearState{})
}
