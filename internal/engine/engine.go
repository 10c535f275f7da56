package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"boardline/internal/authz"
	"boardline/internal/config"
	"boardline/internal/domain"
	"boardline/internal/engine/auth"
	"boardline/internal/events"
	"boardline/internal/repo"
)

// ErrInvalid marks a request the caller must fix.
var ErrInvalid = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type Engine struct {
	DB     *sqlx.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sqlx.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{},
		Auth:   auth.Service{Repo: r},
		Config: cfg,
		Now:    time.Now,
	}
}

// SetClock pins the clock used for timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.Now = now
	e.Repo.Now = now
	e.Events.Now = now
	e.Auth.Repo.Now = now
}

// Actor is the identity a request runs as. Real is the authenticated user;
// User differs from it while an administrator impersonates someone.
type Actor struct {
	User      domain.User
	Real      domain.User
	SessionID string
}

func (a Actor) Impersonating() bool {
	return a.SessionID != "" && a.User.ID != a.Real.ID
}

func (a Actor) checker() authz.Checker {
	u := a.User
	return authz.For(&u)
}

func (a Actor) event() events.Actor {
	ev := events.Actor{ID: a.User.ID}
	if a.Impersonating() {
		ev.OnBehalfOf = a.Real.ID
	}
	return ev
}

func (e Engine) tx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Profile

// SyncProfile upserts the token's identity. When the token asserts roles they
// are authoritative; otherwise new users get ADMIN only if listed in
// server.admins.
func (e Engine) SyncProfile(ctx context.Context, subject string, claimed domain.User, rolesAsserted bool) (domain.User, error) {
	if strings.TrimSpace(subject) == "" {
		return domain.User{}, invalid("subject is required")
	}
	if claimed.Email == "" {
		claimed.Email = subject
	}
	if !rolesAsserted {
		claimed.Role = domain.RoleUser
		if e.Config != nil && e.Config.IsAdminEmail(claimed.Email) {
			claimed.Role = domain.RoleAdmin
		}
	}
	var out domain.User
	err := e.tx(ctx, func(tx *sqlx.Tx) error {
		u, err := e.Repo.UpsertUserBySubject(ctx, tx, subject, claimed)
		if err != nil {
			return err
		}
		if rolesAsserted && u.Role != claimed.Role {
			if err := e.Repo.SetUserRole(ctx, tx, u.ID, claimed.Role); err != nil {
				return err
			}
			u.Role = claimed.Role
		}
		out = u
		return e.Events.Append(ctx, tx, "user.synced", "user", u.ID, events.Actor{ID: u.ID}, events.EventPayload{"role": u.Role})
	})
	return out, err
}

// ResolveActor loads the user behind subject and applies an open
// impersonation session.
func (e Engine) ResolveActor(ctx context.Context, subject string) (Actor, error) {
	realUser, err := e.Repo.GetUserBySubject(ctx, subject)
	if err != nil {
		return Actor{}, err
	}
	actor := Actor{User: realUser, Real: realUser}
	if realUser.Role != domain.RoleAdmin {
		return actor, nil
	}
	sess, err := e.Repo.ActiveImpersonation(ctx, realUser.ID)
	if err != nil || sess == nil {
		return actor, err
	}
	target, err := e.Repo.GetUser(ctx, sess.TargetID)
	if errors.Is(err, repo.ErrNotFound) {
		return actor, nil
	}
	if err != nil {
		return Actor{}, err
	}
	actor.User = target
	actor.SessionID = sess.ID
	return actor, nil
}

// Users

func (e Engine) ListUsers(ctx context.Context, _ Actor) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx)
}

func (e Engine) GetUser(ctx context.Context, _ Actor, id int64) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

func (e Engine) UpdateUser(ctx context.Context, actor Actor, id int64, in domain.UserUpdate) (domain.User, error) {
	if actor.User.ID != id && !actor.checker().IsAdmin() {
		return domain.User{}, auth.ForbiddenError{Permission: auth.PermUserUpdate}
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return domain.User{}, invalid("name must not be blank")
	}
	var out domain.User
	err := e.tx(ctx, func(tx *sqlx.Tx) error {
		u, err := e.Repo.UpdateUser(ctx, tx, id, in)
		if err != nil {
			return err
		}
		out = u
		return e.Events.Append(ctx, tx, "user.updated", "user", id, actor.event(), nil)
	})
	return out, err
}

// Projects

func (e Engine) ListProjects(ctx context.Context, actor Actor) ([]domain.Project, error) {
	if actor.checker().IsAdmin() {
		return e.Repo.ListProjects(ctx)
	}
	return e.Repo.ListProjectsForUser(ctx, actor.User.ID)
}

func (e Engine) GetProject(ctx context.Context, actor Actor, id int64) (domain.Project, error) {
	if err := e.Auth.RequireView(ctx, actor.User, id); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, id)
}

func validProjectInput(in *domain.ProjectInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("name is required")
	}
	return nil
}

func (e Engine) CreateProject(ctx context.Context, actor Actor, in domain.ProjectInput) (domain.Project, error) {
	if err := auth.Require(actor.checker().CanCreateProject(), auth.PermProjectCreate); err != nil {
		return domain.Project{}, err
	}
	if err := validProjectInput(&in); err != nil {
		return domain.Project{}, err
	}
	var out domain.Project
	err := e.tx(ctx, func(tx *sqlx.Tx) error {
		p, err := e.Repo.InsertProject(ctx, tx, in, actor.User.ID)
		if err != nil {
			return err
		}
		out = p
		return e.Events.Append(ctx, tx, "project.created", "project", p.ID, actor.event(), events.EventPayload{"name": p.Name})
	})
	return out, err
}

func (e Engine) UpdateProject(ctx context.Context, actor Actor, id int64, in domain.ProjectInput) (domain.Project, error) {
	if err := auth.Require(actor.checker().CanUpdateProject(), auth.PermProjectUpdate); err != nil {
		return domain.Project{}, err
	}
	if err := validProjectInput(&in); err != nil {
		return domain.Project{}, err
	}
	var out domain.Project
	err := e.tx(ctx, func(tx *sqlx.Tx) error {
		p, err := e.Repo.UpdateProject(ctx, tx, id, in)
		if err != nil {
			return err
		}
		out = p
		return e.Events.Append(ctx, tx, "project.updated", "project", id, actor.event(), events.EventPayload{"name": p.Name})
	})
	return out, err
}

func (e Engine) DeleteProject(ctx context.Context, actor Actor, id int64) error {
	if err := auth.Require(actor.checker().CanDeleteProject(), auth.PermProjectDelete); err != nil {
		return err
	}
	return e.tx(ctx, func(tx *sqlx.Tx) error {
		if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "project.deleted", "project", id, actor.event(), nil)
	})
}

// Tasks

func (e Engine) ListTasks(ctx context.Context, actor Actor, projectID int64) ([]domain.Task, error) {
	if err := e.Auth.RequireView(ctx, actor.User, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, projectID)
}

func (e Engine) GetTask(ctx context.Context, actor Actor, id int64) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Auth.RequireView(ctx, actor.User, t.ProjectID); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) normalizeTaskInput(ctx context.Context, in *domain.TaskInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return invalid("title is required")
	}
	if in.Status == "" {
		in.Status = domain.StatusTodo
	}
	status, err := domain.ParseStatus(string(in.Status))
	if err != nil {
		return invalid("%v", err)
	}
	in.Status = status
	priority, err := domain.ParsePriority(string(in.Priority))
	if err != nil {
		return invalid("%v", err)
	}
	in.Priority = priority
	if in.AssigneeID != nil {
		if _, err := e.Repo.GetUser(ctx, *in.AssigneeID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return invalid("assignee %d does not exist", *in.AssigneeID)
			}
			return err
		}
	}
	return nil
}

func (e Engine) CreateTask(ctx context.Context, actor Actor, in domain.TaskInput) (domain.Task, error) {
	if in.ProjectID == 0 {
		return domain.Task{}, invalid("projectId is required")
	}
	c, err := e.Auth.Checker(ctx, actor.User, in.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.Require(c.CanCreateTask(in.ProjectID), auth.PermTaskCreate); err != nil {
		return domain.Task{}, err
	}
	if err := e.normalizeTaskInput(ctx, &in); err != nil {
		return domain.Task{}, err
	}
	var out domain.Task
	err = e.tx(ctx, func(tx *sqlx.Tx) error {
		t, err := e.Repo.InsertTask(ctx, tx, in)
		if err != nil {
			return err
		}
		out = t
		return e.Events.Append(ctx, tx, "task.created", "task", t.ID, actor.event(), events.EventPayload{"project_id": t.ProjectID, "title": t.Title})
	})
	return out, err
}

// UpdateTask replaces the task's fields. Omitted status and priority keep
// their current values; a nil assignee unassigns.
func (e Engine) UpdateTask(ctx context.Context, actor Actor, id int64, in domain.TaskInput) (domain.Task, error) {
	current, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.Require(actor.checker().CanUpdateTask(&current), auth.PermTaskUpdate); err != nil {
		return domain.Task{}, err
	}
	in.ProjectID = current.ProjectID
	if in.Status == "" {
		in.Status = current.Status
	}
	if in.Priority == "" {
		in.Priority = current.Priority
	}
	if err := e.normalizeTaskInput(ctx, &in); err != nil {
		return domain.Task{}, err
	}
	var out domain.Task
	err = e.tx(ctx, func(tx *sqlx.Tx) error {
		t, err := e.Repo.UpdateTask(ctx, tx, id, in)
		if err != nil {
			return err
		}
		out = t
		return e.Events.Append(ctx, tx, "task.updated", "task", id, actor.event(), nil)
	})
	return out, err
}

func (e Engine) UpdateTaskStatus(ctx context.Context, actor Actor, id int64, status domain.Status) (domain.Task, error) {
	current, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.Require(actor.checker().CanUpdateTask(&current), auth.PermTaskUpdate); err != nil {
		return domain.Task{}, err
	}
	parsed, err := domain.ParseStatus(string(status))
	if err != nil {
		return domain.Task{}, invalid("%v", err)
	}
	var out domain.Task
	err = e.tx(ctx, func(tx *sqlx.Tx) error {
		t, err := e.Repo.UpdateTaskStatus(ctx, tx, id, parsed)
		if err != nil {
			return err
		}
		out = t
		return e.Events.Append(ctx, tx, "task.status_changed", "task", id, actor.event(),
			events.EventPayload{"from": current.Status, "to": parsed})
	})
	return out, err
}

func (e Engine) DeleteTask(ctx context.Context, actor Actor, id int64) error {
	current, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.Require(actor.checker().CanDeleteTask(&current), auth.PermTaskDelete); err != nil {
		return err
	}
	return e.tx(ctx, func(tx *sqlx.Tx) error {
		if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.deleted", "task", id, actor.event(), nil)
	})
}

// Members

func (e Engine) ListMembers(ctx context.Context, actor Actor, projectID int64) ([]domain.User, error) {
	if err := e.Auth.RequireView(ctx, actor.User, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListMembers(ctx, projectID)
}

func (e Engine) AddMember(ctx context.Context, actor Actor, projectID, userID int64) (domain.Membership, error) {
	if err := auth.Require(actor.checker().CanManageProjectMembers(), auth.PermMembersManage); err != nil {
		return domain.Membership{}, err
	}
	if userID == 0 {
		return domain.Membership{}, invalid("userId is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Membership{}, err
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.Membership{}, err
	}
	var out domain.Membership
	err := e.tx(ctx, func(tx *sqlx.Tx) error {
		m, err := e.Repo.AddMember(ctx, tx, projectID, userID)
		if err != nil {
			return err
		}
		out = m
		return e.Events.Append(ctx, tx, "member.added", "project", projectID, actor.event(), events.EventPayload{"user_id": userID})
	})
	return out, err
}

func (e Engine) RemoveMember(ctx context.Context, actor Actor, projectID, userID int64) error {
	if err := auth.Require(actor.checker().CanManageProjectMembers(), auth.PermMembersManage); err != nil {
		return err
	}
	return e.tx(ctx, func(tx *sqlx.Tx) error {
		if err := e.Repo.RemoveMember(ctx, tx, projectID, userID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "member.removed", "project", projectID, actor.event(), events.EventPayload{"user_id": userID})
	})
}

// Impersonation

// StartImpersonation opens a session for the authenticated administrator. The
// check uses the real identity so an admin can re-target mid-session.
func (e Engine) StartImpersonation(ctx context.Context, actor Actor, targetID int64) (string, error) {
	realUser := actor.Real
	if err := auth.Require(authz.For(&realUser).IsAdmin(), auth.PermImpersonate); err != nil {
		return "", err
	}
	if targetID == realUser.ID {
		return "", invalid("cannot impersonate yourself")
	}
	if _, err := e.Repo.GetUser(ctx, targetID); err != nil {
		return "", err
	}
	id := uuid.NewString()
	err := e.tx(ctx, func(tx *sqlx.Tx) error {
		if err := e.Repo.StartImpersonation(ctx, tx, id, realUser.ID, targetID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "impersonation.started", "user", targetID, events.Actor{ID: realUser.ID}, events.EventPayload{"session_id": id})
	})
	return id, err
}

// StopImpersonation ends the administrator's open session. Stopping without a
// session is not an error.
func (e Engine) StopImpersonation(ctx context.Context, actor Actor) error {
	return e.tx(ctx, func(tx *sqlx.Tx) error {
		stopped, err := e.Repo.StopImpersonation(ctx, tx, actor.Real.ID)
		if err != nil || !stopped {
			return err
		}
		return e.Events.Append(ctx, tx, "impersonation.stopped", "user", actor.User.ID, events.Actor{ID: actor.Real.ID}, events.EventPayload{"session_id": actor.SessionID})
	})
}

// Events

func (e Engine) LatestEvents(ctx context.Context, actor Actor, limit int, evtType string) ([]events.Event, error) {
	if err := auth.Require(actor.checker().IsAdmin(), auth.PermEventsRead); err != nil {
		return nil, err
	}
	return events.Latest(ctx, e.DB, limit, evtType)
}
