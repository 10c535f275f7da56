package effects_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"boardline/internal/domain"
	boardlinesdk "boardline/sdk/go"
)

// fakeRemote serves canned data and fails any method listed in errs.
type fakeRemote struct {
	mu       sync.Mutex
	users    []domain.User
	projects []domain.Project
	tasks    map[int64][]domain.Task
	members  map[int64][]domain.User
	errs     map[string]error
	calls    []string
	nextID   int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tasks:   map[int64][]domain.Task{},
		members: map[int64][]domain.User{},
		errs:    map[string]error{},
		nextID:  100,
	}
}

func statusErr(code int) error {
	return &boardlinesdk.APIError{StatusCode: code, Body: fmt.Sprintf(`{"message":"status %d"}`, code)}
}

var errServer = statusErr(http.StatusInternalServerError)

func (f *fakeRemote) call(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.errs[name]
}

func (f *fakeRemote) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeRemote) ListUsers(context.Context) ([]domain.User, error) {
	if err := f.call("ListUsers"); err != nil {
		return nil, err
	}
	return f.users, nil
}

func (f *fakeRemote) UpdateUser(_ context.Context, id int64, in domain.UserUpdate) (domain.User, error) {
	if err := f.call("UpdateUser"); err != nil {
		return domain.User{}, err
	}
	for _, u := range f.users {
		if u.ID == id {
			if in.Name != nil {
				u.Name = in.Name
			}
			if in.PictureURL != nil {
				u.PictureURL = in.PictureURL
			}
			return u, nil
		}
	}
	return domain.User{}, statusErr(http.StatusNotFound)
}

func (f *fakeRemote) ListProjects(context.Context) ([]domain.Project, error) {
	if err := f.call("ListProjects"); err != nil {
		return nil, err
	}
	return f.projects, nil
}

func (f *fakeRemote) CreateProject(_ context.Context, in domain.ProjectInput) (domain.Project, error) {
	if err := f.call("CreateProject"); err != nil {
		return domain.Project{}, err
	}
	f.nextID++
	return domain.Project{ID: f.nextID, Name: in.Name, Description: in.Description}, nil
}

func (f *fakeRemote) UpdateProject(_ context.Context, id int64, in domain.ProjectInput) (domain.Project, error) {
	if err := f.call("UpdateProject"); err != nil {
		return domain.Project{}, err
	}
	return domain.Project{ID: id, Name: in.Name, Description: in.Description}, nil
}

func (f *fakeRemote) DeleteProject(context.Context, int64) error {
	return f.call("DeleteProject")
}

func (f *fakeRemote) TasksByProject(_ context.Context, projectID int64) ([]domain.Task, error) {
	if err := f.call("TasksByProject"); err != nil {
		return nil, err
	}
	return f.tasks[projectID], nil
}

func (f *fakeRemote) CreateTask(_ context.Context, in domain.TaskInput) (domain.Task, error) {
	if err := f.call("CreateTask"); err != nil {
		return domain.Task{}, err
	}
	f.nextID++
	return domain.Task{ID: f.nextID, ProjectID: in.ProjectID, Title: in.Title, Status: in.Status, Priority: in.Priority, AssigneeID: in.AssigneeID}, nil
}

func (f *fakeRemote) UpdateTask(_ context.Context, id int64, in domain.TaskInput) (domain.Task, error) {
	if err := f.call("UpdateTask"); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{ID: id, ProjectID: in.ProjectID, Title: in.Title, Status: in.Status, Priority: in.Priority, AssigneeID: in.AssigneeID}, nil
}

func (f *fakeRemote) UpdateTaskStatus(_ context.Context, id int64, status domain.Status) (domain.Task, error) {
	if err := f.call("UpdateTaskStatus"); err != nil {
		return domain.Task{}, err
	}
	for _, list := range f.tasks {
		for _, t := range list {
			if t.ID == id {
				t.Status = status
				return t, nil
			}
		}
	}
	return domain.Task{}, statusErr(http.StatusNotFound)
}

func (f *fakeRemote) DeleteTask(context.Context, int64) error {
	return f.call("DeleteTask")
}

func (f *fakeRemote) ProjectMembers(_ context.Context, projectID int64) ([]domain.User, error) {
	if err := f.call("ProjectMembers"); err != nil {
		return nil, err
	}
	return f.members[projectID], nil
}

func (f *fakeRemote) AddProjectMember(_ context.Context, projectID, userID int64) (domain.Membership, error) {
	if err := f.call("AddProjectMember"); err != nil {
		return domain.Membership{}, err
	}
	return domain.Membership{ProjectID: projectID, UserID: userID}, nil
}

func (f *fakeRemote) RemoveProjectMember(context.Context, int64, int64) error {
	return f.call("RemoveProjectMember")
}

func (f *fakeRemote) UserForImpersonation(_ context.Context, id int64) (domain.User, error) {
	if err := f.call("UserForImpersonation"); err != nil {
		return domain.User{}, err
	}
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, statusErr(http.StatusNotFound)
}

func (f *fakeRemote) StartImpersonationSession(context.Context, int64) error {
	return f.call("StartImpersonationSession")
}

func (f *fakeRemote) StopImpersonationSession(context.Context) error {
	return f.call("StopImpersonationSession")
}
