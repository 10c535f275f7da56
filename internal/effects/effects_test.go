package effects_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"boardline/internal/authz"
	"boardline/internal/domain"
	"boardline/internal/effects"
	"boardline/internal/slots"
	"boardline/internal/state"
)

var (
	admin = domain.User{ID: 1, Email: "admin@example.com", Role: domain.RoleAdmin}
	alice = domain.User{ID: 2, Email: "alice@example.com", Role: domain.RoleUser}
	bob   = domain.User{ID: 3, Email: "bob@example.com", Role: domain.RoleUser}
)

type harness struct {
	store  *state.Store
	remote *fakeRemote
	slots  *slots.Memory
	acts   *effects.Actions
}

func newHarness(t *testing.T, signedIn *domain.User) *harness {
	t.Helper()
	h := &harness{
		store:  state.NewStore(nil),
		remote: newFakeRemote(),
		slots:  slots.NewMemory(),
	}
	h.remote.users = []domain.User{admin, alice, bob}
	h.acts = effects.New(h.store, h.remote, h.slots, nil)
	if signedIn != nil {
		u := *signedIn
		h.store.Dispatch(state.SetUser{User: &u})
	}
	return h
}

// recordLoading captures every loading value the store publishes.
func recordLoading(s *state.Store) func() []bool {
	var mu sync.Mutex
	var seen []bool
	s.Subscribe(func(st state.State) {
		mu.Lock()
		seen = append(seen, st.Loading)
		mu.Unlock()
	})
	return func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), seen...)
	}
}

func TestFetchProjectsFailureIsRecorded(t *testing.T) {
	h := newHarness(t, &admin)
	before := []domain.Project{{ID: 1, Name: "kept"}}
	h.store.Dispatch(state.SetProjects{Projects: before})
	h.remote.errs["ListProjects"] = errServer
	loading := recordLoading(h.store)

	h.acts.FetchProjects(context.Background())

	s := h.store.Snapshot()
	require.NotNil(t, s.Error)
	require.NotEmpty(t, *s.Error)
	require.False(t, s.Loading)
	require.Equal(t, before, s.Projects)
	seen := loading()
	require.True(t, seen[0])
	require.False(t, seen[len(seen)-1])
}

func TestFetchesPopulateState(t *testing.T) {
	h := newHarness(t, &admin)
	h.remote.projects = []domain.Project{{ID: 4, Name: "p"}}
	h.remote.tasks[4] = []domain.Task{{ID: 9, ProjectID: 4, Status: domain.StatusTodo}}
	ctx := context.Background()

	h.acts.FetchUsers(ctx)
	h.acts.FetchProjects(ctx)
	p := h.remote.projects[0]
	h.acts.SelectProject(ctx, &p)

	s := h.store.Snapshot()
	require.Len(t, s.Users, 3)
	require.Len(t, s.Projects, 1)
	require.Equal(t, int64(4), s.CurrentProject.ID)
	require.Len(t, s.Tasks, 1)
	require.False(t, s.Loading)
	require.Nil(t, s.Error)

	h.acts.SelectProject(ctx, nil)
	s = h.store.Snapshot()
	require.Nil(t, s.CurrentProject)
	require.Empty(t, s.Tasks)
}

func TestFetchProjectMembersReturnsError(t *testing.T) {
	h := newHarness(t, &admin)
	h.remote.members[4] = []domain.User{alice}
	members, err := h.acts.FetchProjectMembers(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, []domain.User{alice}, members)

	h.remote.errs["ProjectMembers"] = errServer
	_, err = h.acts.FetchProjectMembers(context.Background(), 4)
	require.Error(t, err)
	s := h.store.Snapshot()
	require.NotNil(t, s.Error)
	require.False(t, s.Loading)
}

func TestMutationsDispatchAndReturn(t *testing.T) {
	h := newHarness(t, &admin)
	ctx := context.Background()

	p, err := h.acts.CreateProject(ctx, domain.ProjectInput{Name: "new"})
	require.NoError(t, err)
	require.Len(t, h.store.Snapshot().Projects, 1)

	_, err = h.acts.UpdateProject(ctx, p.ID, domain.ProjectInput{Name: "renamed"})
	require.NoError(t, err)
	require.Equal(t, "renamed", h.store.Snapshot().Projects[0].Name)

	task, err := h.acts.CreateTask(ctx, domain.TaskInput{ProjectID: p.ID, Title: "t", Status: domain.StatusTodo})
	require.NoError(t, err)
	h.remote.tasks[p.ID] = []domain.Task{task}

	moved, err := h.acts.UpdateTaskStatus(ctx, task.ID, domain.StatusDone)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDone, moved.Status)
	got, ok := h.store.Snapshot().FindTask(task.ID)
	require.True(t, ok)
	require.Equal(t, domain.StatusDone, got.Status)

	require.NoError(t, h.acts.DeleteTask(ctx, task.ID))
	require.Empty(t, h.store.Snapshot().Tasks)

	h.acts.SetCurrentProject(&p)
	require.NoError(t, h.acts.DeleteProject(ctx, p.ID))
	require.Nil(t, h.store.Snapshot().CurrentProject)
	require.Nil(t, h.store.Snapshot().Error)
}

func TestMutationFailureRecordsAndWraps(t *testing.T) {
	h := newHarness(t, &admin)
	h.remote.errs["CreateTask"] = errServer
	_, err := h.acts.CreateTask(context.Background(), domain.TaskInput{ProjectID: 1, Title: "x"})
	require.ErrorIs(t, err, errServer)
	require.Contains(t, err.Error(), "create task")
	s := h.store.Snapshot()
	require.NotNil(t, s.Error)
	require.Empty(t, s.Tasks)

	h.acts.ClearError()
	require.Nil(t, h.store.Snapshot().Error)
}

func TestMembershipMutationsLeaveStateAlone(t *testing.T) {
	h := newHarness(t, &admin)
	before := h.store.Snapshot()
	m, err := h.acts.AddProjectMember(context.Background(), 4, 2)
	require.NoError(t, err)
	require.Equal(t, domain.Membership{ProjectID: 4, UserID: 2}, m)
	require.NoError(t, h.acts.RemoveProjectMember(context.Background(), 4, 2))
	require.Equal(t, before, h.store.Snapshot())
}

func TestUpdateProfileRefreshesUser(t *testing.T) {
	h := newHarness(t, &alice)
	h.acts.FetchUsers(context.Background())
	u, err := h.acts.UpdateProfile(context.Background(), alice.ID, domain.UserUpdate{Name: domain.StringPtr("Alice A")})
	require.NoError(t, err)
	require.Equal(t, "Alice A", u.DisplayName())
	s := h.store.Snapshot()
	require.Equal(t, "Alice A", s.User.DisplayName())
	require.Equal(t, "Alice A", s.Users[1].DisplayName())
}

func TestUpdateProfileWhileImpersonatingKeepsOriginal(t *testing.T) {
	h := newHarness(t, &admin)
	ctx := context.Background()
	require.NoError(t, h.acts.StartImpersonation(ctx, alice.ID))
	_, err := h.acts.UpdateProfile(ctx, alice.ID, domain.UserUpdate{Name: domain.StringPtr("Renamed")})
	require.NoError(t, err)
	s := h.store.Snapshot()
	require.NoError(t, state.CheckInvariants(s))
	require.Equal(t, "Renamed", s.User.DisplayName())
	require.Equal(t, admin.ID, s.OriginalUser.ID)
}

func TestStartImpersonation(t *testing.T) {
	h := newHarness(t, &admin)
	h.remote.projects = []domain.Project{{ID: 7, Name: "alice's"}}
	ctx := context.Background()

	require.NoError(t, h.acts.StartImpersonation(ctx, alice.ID))

	s := h.store.Snapshot()
	require.True(t, s.IsImpersonating)
	require.Equal(t, alice.ID, s.User.ID)
	require.Equal(t, admin.ID, s.OriginalUser.ID)
	require.Len(t, s.Projects, 1)
	require.False(t, authz.FromState(s).IsAdmin())

	rec, err := slots.LoadImpersonation(ctx, h.slots)
	require.NoError(t, err)
	require.Equal(t, admin.ID, rec.OriginalUser.ID)
	require.Equal(t, alice.ID, rec.ImpersonatedUser.ID)

	// re-target while acting as a non-admin is judged by the original identity
	require.NoError(t, h.acts.StartImpersonation(ctx, bob.ID))
	s = h.store.Snapshot()
	require.Equal(t, bob.ID, s.User.ID)
	require.Equal(t, admin.ID, s.OriginalUser.ID)
	rec, _ = slots.LoadImpersonation(ctx, h.slots)
	require.Equal(t, admin.ID, rec.OriginalUser.ID)
	require.Equal(t, bob.ID, rec.ImpersonatedUser.ID)
}

func TestUpdateProfileWhileImpersonatingRewritesRecord(t *testing.T) {
	h := newHarness(t, &admin)
	ctx := context.Background()
	require.NoError(t, h.acts.StartImpersonation(ctx, alice.ID))
	_, err := h.acts.UpdateProfile(ctx, alice.ID, domain.UserUpdate{Name: domain.StringPtr("Renamed")})
	require.NoError(t, err)

	rec, err := slots.LoadImpersonation(ctx, h.slots)
	require.NoError(t, err)
	require.Equal(t, admin.ID, rec.OriginalUser.ID)
	require.Equal(t, "Renamed", rec.ImpersonatedUser.DisplayName())
}

// brokenSlots accepts reads and deletes but refuses writes.
type brokenSlots struct{ *slots.Memory }

var errDiskFull = errors.New("disk full")

func (brokenSlots) Set(context.Context, string, string) error { return errDiskFull }

func TestStartImpersonationReportsUnsavedRecord(t *testing.T) {
	h := newHarness(t, &admin)
	h.acts.Slots = brokenSlots{slots.NewMemory()}
	err := h.acts.StartImpersonation(context.Background(), alice.ID)
	require.ErrorIs(t, err, effects.ErrNotPersisted)
	require.ErrorIs(t, err, errDiskFull)

	s := h.store.Snapshot()
	require.True(t, s.IsImpersonating)
	require.Equal(t, alice.ID, s.User.ID)
	require.NotNil(t, s.Error)
}

func TestUpdateProfileReportsUnsavedRecord(t *testing.T) {
	h := newHarness(t, &admin)
	ctx := context.Background()
	require.NoError(t, h.acts.StartImpersonation(ctx, alice.ID))
	h.acts.Slots = brokenSlots{slots.NewMemory()}
	u, err := h.acts.UpdateProfile(ctx, alice.ID, domain.UserUpdate{Name: domain.StringPtr("Renamed")})
	require.ErrorIs(t, err, effects.ErrNotPersisted)
	require.Equal(t, "Renamed", u.DisplayName())
	require.Equal(t, "Renamed", h.store.Snapshot().User.DisplayName())
}

func TestCloseRemoteImpersonation(t *testing.T) {
	h := newHarness(t, &admin)
	require.NoError(t, h.acts.CloseRemoteImpersonation(context.Background()))
	require.Equal(t, 1, h.remote.called("StopImpersonationSession"))
	require.Equal(t, admin, *h.store.Snapshot().User)

	h.remote.errs["StopImpersonationSession"] = statusErr(404)
	require.NoError(t, h.acts.CloseRemoteImpersonation(context.Background()))
	h.remote.errs["StopImpersonationSession"] = errServer
	require.ErrorIs(t, h.acts.CloseRemoteImpersonation(context.Background()), errServer)
	require.Nil(t, h.store.Snapshot().Error)
}

func TestStartImpersonationToleratesMissingEndpoint(t *testing.T) {
	h := newHarness(t, &admin)
	h.remote.errs["StartImpersonationSession"] = statusErr(404)
	require.NoError(t, h.acts.StartImpersonation(context.Background(), alice.ID))
	require.True(t, h.store.Snapshot().IsImpersonating)
	require.Nil(t, h.store.Snapshot().Error)
}

func TestStartImpersonationFailuresLeaveIdentity(t *testing.T) {
	cases := map[string]string{
		"target fetch":   "UserForImpersonation",
		"backend refuse": "StartImpersonationSession",
	}
	for name, method := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, &admin)
			h.remote.errs[method] = errServer
			err := h.acts.StartImpersonation(context.Background(), alice.ID)
			require.Error(t, err)
			s := h.store.Snapshot()
			require.False(t, s.IsImpersonating)
			require.Equal(t, admin.ID, s.User.ID)
			require.NotNil(t, s.Error)
			_, ok, _ := h.slots.Get(context.Background(), slots.KeyImpersonation)
			require.False(t, ok)
		})
	}
}

func TestStartImpersonationRefreshFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, &admin)
	h.remote.errs["ListProjects"] = errServer
	require.NoError(t, h.acts.StartImpersonation(context.Background(), alice.ID))
	s := h.store.Snapshot()
	require.True(t, s.IsImpersonating)
	require.Nil(t, s.Error)
}

func TestStartImpersonationRequiresAdmin(t *testing.T) {
	h := newHarness(t, &alice)
	err := h.acts.StartImpersonation(context.Background(), bob.ID)
	var denied authz.DeniedError
	require.True(t, errors.As(err, &denied))
	require.Zero(t, h.remote.called("UserForImpersonation"))
	require.False(t, h.store.Snapshot().IsImpersonating)

	h = newHarness(t, nil)
	require.ErrorIs(t, h.acts.StartImpersonation(context.Background(), bob.ID), effects.ErrNotSignedIn)

	h = newHarness(t, &admin)
	require.ErrorIs(t, h.acts.StartImpersonation(context.Background(), admin.ID), effects.ErrImpersonateSelf)
}

func TestStopImpersonation(t *testing.T) {
	h := newHarness(t, &admin)
	ctx := context.Background()
	require.NoError(t, h.acts.StopImpersonation(ctx))
	require.Zero(t, h.remote.called("StopImpersonationSession"))

	require.NoError(t, h.acts.StartImpersonation(ctx, alice.ID))
	h.remote.errs["StopImpersonationSession"] = statusErr(404)
	require.NoError(t, h.acts.StopImpersonation(ctx))

	s := h.store.Snapshot()
	require.False(t, s.IsImpersonating)
	require.Equal(t, admin.ID, s.User.ID)
	require.Len(t, s.Users, 3)
	_, ok, _ := h.slots.Get(ctx, slots.KeyImpersonation)
	require.False(t, ok)
}

func TestStopImpersonationBackendFailureKeepsImpersonating(t *testing.T) {
	h := newHarness(t, &admin)
	ctx := context.Background()
	require.NoError(t, h.acts.StartImpersonation(ctx, alice.ID))
	h.remote.errs["StopImpersonationSession"] = errServer
	require.Error(t, h.acts.StopImpersonation(ctx))
	require.True(t, h.store.Snapshot().IsImpersonating)
	_, ok, _ := h.slots.Get(ctx, slots.KeyImpersonation)
	require.True(t, ok)
}
