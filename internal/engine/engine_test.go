package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"boardline/internal/config"
	"boardline/internal/db"
	"boardline/internal/domain"
	"boardline/internal/engine"
	"boardline/internal/engine/auth"
	"boardline/internal/migrate"
	"boardline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Admin  engine.Actor
	Alice  engine.Actor
	Bob    engine.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir(), Name: "server.db"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, migrate.Server); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Server.Admins = []string{"admin@example.com"}
	eng := engine.New(conn, cfg)
	eng.SetClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })
	env := testEnv{Engine: eng, Ctx: context.Background()}
	env.Admin = env.sync(t, "admin-sub", "admin@example.com")
	env.Alice = env.sync(t, "alice-sub", "alice@example.com")
	env.Bob = env.sync(t, "bob-sub", "bob@example.com")
	return env
}

func (env testEnv) sync(t *testing.T, subject, email string) engine.Actor {
	t.Helper()
	if _, err := env.Engine.SyncProfile(env.Ctx, subject, domain.User{Email: email}, false); err != nil {
		t.Fatalf("sync %s: %v", subject, err)
	}
	actor, err := env.Engine.ResolveActor(env.Ctx, subject)
	if err != nil {
		t.Fatalf("resolve %s: %v", subject, err)
	}
	return actor
}

func isForbidden(err error) bool {
	var fe auth.ForbiddenError
	return errors.As(err, &fe)
}

func TestSyncProfileAssignsRoles(t *testing.T) {
	env := newTestEnv(t)
	if env.Admin.User.Role != domain.RoleAdmin {
		t.Fatalf("admin role=%s", env.Admin.User.Role)
	}
	if env.Alice.User.Role != domain.RoleUser {
		t.Fatalf("alice role=%s", env.Alice.User.Role)
	}
	again, err := env.Engine.SyncProfile(env.Ctx, "alice-sub", domain.User{Email: "alice@example.com", Name: domain.StringPtr("Alice")}, false)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if again.ID != env.Alice.User.ID || again.DisplayName() != "Alice" {
		t.Fatalf("resync changed identity: %+v", again)
	}
	promoted, err := env.Engine.SyncProfile(env.Ctx, "bob-sub", domain.User{Email: "bob@example.com", Role: domain.RoleAdmin}, true)
	if err != nil || promoted.Role != domain.RoleAdmin {
		t.Fatalf("asserted role not applied: %+v %v", promoted, err)
	}
}

func TestProjectVisibilityFollowsMembership(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, env.Admin, domain.ProjectInput{Name: "Apollo"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := env.Engine.CreateProject(env.Ctx, env.Alice, domain.ProjectInput{Name: "nope"}); !isForbidden(err) {
		t.Fatalf("expected forbidden for user create, got %v", err)
	}
	list, err := env.Engine.ListProjects(env.Ctx, env.Alice)
	if err != nil || len(list) != 0 {
		t.Fatalf("alice should see nothing yet: %v %v", list, err)
	}
	if _, err := env.Engine.GetProject(env.Ctx, env.Alice, p.ID); !isForbidden(err) {
		t.Fatalf("expected forbidden get, got %v", err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, env.Alice, p.ID, env.Alice.User.ID); !isForbidden(err) {
		t.Fatalf("user must not manage members, got %v", err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, env.Admin, p.ID, env.Alice.User.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	list, err = env.Engine.ListProjects(env.Ctx, env.Alice)
	if err != nil || len(list) != 1 || list[0].ID != p.ID {
		t.Fatalf("alice should see project: %v %v", list, err)
	}
	members, err := env.Engine.ListMembers(env.Ctx, env.Alice, p.ID)
	if err != nil || len(members) != 1 {
		t.Fatalf("members: %v %v", members, err)
	}
	if err := env.Engine.RemoveMember(env.Ctx, env.Admin, p.ID, env.Alice.User.ID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if err := env.Engine.RemoveMember(env.Ctx, env.Admin, p.ID, env.Alice.User.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second remove should be not found, got %v", err)
	}
}

func TestTaskPermissions(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, env.Admin, domain.ProjectInput{Name: "Apollo"})
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range []engine.Actor{env.Alice, env.Bob} {
		if _, err := env.Engine.AddMember(env.Ctx, env.Admin, p.ID, a.User.ID); err != nil {
			t.Fatal(err)
		}
	}
	task, err := env.Engine.CreateTask(env.Ctx, env.Bob, domain.TaskInput{ProjectID: p.ID, Title: "  write docs ", AssigneeID: &env.Alice.User.ID})
	if err != nil {
		t.Fatalf("member create task: %v", err)
	}
	if task.Title != "write docs" || task.Status != domain.StatusTodo || task.Priority != domain.PriorityMedium {
		t.Fatalf("defaults not applied: %+v", task)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, env.Bob, task.ID, domain.StatusDoing); !isForbidden(err) {
		t.Fatalf("non-assignee must not move task, got %v", err)
	}
	moved, err := env.Engine.UpdateTaskStatus(env.Ctx, env.Alice, task.ID, domain.StatusDone)
	if err != nil || moved.Status != domain.StatusDone {
		t.Fatalf("assignee move: %+v %v", moved, err)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, env.Alice, task.ID, "LATER"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Bob, task.ID); !isForbidden(err) {
		t.Fatalf("non-assignee delete, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, env.Alice, domain.TaskInput{ProjectID: p.ID, Title: ""}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected title validation, got %v", err)
	}
	ghost := int64(999)
	if _, err := env.Engine.CreateTask(env.Ctx, env.Alice, domain.TaskInput{ProjectID: p.ID, Title: "x", AssigneeID: &ghost}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected assignee validation, got %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Admin, task.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, env.Alice, p.ID)
	if err != nil || len(tasks) != 0 {
		t.Fatalf("tasks after delete: %v %v", tasks, err)
	}
}

func TestImpersonationSessionSwitchesActor(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartImpersonation(env.Ctx, env.Alice, env.Bob.User.ID); !isForbidden(err) {
		t.Fatalf("user must not impersonate, got %v", err)
	}
	if _, err := env.Engine.StartImpersonation(env.Ctx, env.Admin, env.Admin.User.ID); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("self impersonation, got %v", err)
	}
	id, err := env.Engine.StartImpersonation(env.Ctx, env.Admin, env.Alice.User.ID)
	if err != nil || id == "" {
		t.Fatalf("start: %q %v", id, err)
	}
	actor, err := env.Engine.ResolveActor(env.Ctx, "admin-sub")
	if err != nil {
		t.Fatal(err)
	}
	if !actor.Impersonating() || actor.User.ID != env.Alice.User.ID || actor.Real.ID != env.Admin.User.ID {
		t.Fatalf("unexpected actor: %+v", actor)
	}
	if _, err := env.Engine.CreateProject(env.Ctx, actor, domain.ProjectInput{Name: "x"}); !isForbidden(err) {
		t.Fatalf("impersonated user role must apply, got %v", err)
	}
	// re-target while acting as a non-admin
	if _, err := env.Engine.StartImpersonation(env.Ctx, actor, env.Bob.User.ID); err != nil {
		t.Fatalf("re-target: %v", err)
	}
	actor, _ = env.Engine.ResolveActor(env.Ctx, "admin-sub")
	if actor.User.ID != env.Bob.User.ID {
		t.Fatalf("expected bob, got %+v", actor.User)
	}
	if err := env.Engine.StopImpersonation(env.Ctx, actor); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := env.Engine.StopImpersonation(env.Ctx, actor); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	actor, _ = env.Engine.ResolveActor(env.Ctx, "admin-sub")
	if actor.Impersonating() || actor.User.ID != env.Admin.User.ID {
		t.Fatalf("expected admin back, got %+v", actor)
	}
	evts, err := env.Engine.LatestEvents(env.Ctx, actor, 10, "impersonation.started")
	if err != nil || len(evts) != 2 {
		t.Fatalf("events: %v %v", evts, err)
	}
}

func TestUpdateUserSelfOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpdateUser(env.Ctx, env.Alice, env.Bob.User.ID, domain.UserUpdate{Name: domain.StringPtr("x")}); !isForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	u, err := env.Engine.UpdateUser(env.Ctx, env.Alice, env.Alice.User.ID, domain.UserUpdate{Name: domain.StringPtr("Alice")})
	if err != nil || u.DisplayName() != "Alice" {
		t.Fatalf("self update: %+v %v", u, err)
	}
	if _, err := env.Engine.UpdateUser(env.Ctx, env.Admin, env.Bob.User.ID, domain.UserUpdate{PictureURL: domain.StringPtr("http://p")}); err != nil {
		t.Fatalf("admin update: %v", err)
	}
}
