package state

import (
	"errors"
	"fmt"

	"boardline/internal/domain"
)

// State is the session aggregate. Values handed out by Store are snapshots:
// transitions never modify a slice or pointee in place, they build new ones.
type State struct {
	User             *domain.User     `json:"user"`
	OriginalUser     *domain.User     `json:"originalUser"`
	ImpersonatedUser *domain.User     `json:"impersonatedUser"`
	IsImpersonating  bool             `json:"isImpersonating"`
	Users            []domain.User    `json:"users"`
	Projects         []domain.Project `json:"projects"`
	Tasks            []domain.Task    `json:"tasks"`
	CurrentProject   *domain.Project  `json:"currentProject"`
	Loading          bool             `json:"loading"`
	Error            *string          `json:"error"`
}

// Initial returns the empty state used at sign-in and after CLEAR_STATE.
func Initial() State {
	return State{
		Users:    []domain.User{},
		Projects: []domain.Project{},
		Tasks:    []domain.Task{},
	}
}

// Reduce applies a single transition. It performs no I/O.
func Reduce(s State, a Action) State {
	if a == nil {
		return s
	}
	return a.apply(s)
}

func (a SetLoading) apply(s State) State {
	s.Loading = a.Loading
	return s
}

func (a SetError) apply(s State) State {
	s.Error = copyString(a.Message)
	s.Loading = false
	return s
}

func (a SetUser) apply(s State) State {
	s.User = copyUser(a.User)
	return s
}

func (a SetUsers) apply(s State) State {
	s.Users = append([]domain.User{}, a.Users...)
	return s
}

func (a SetProjects) apply(s State) State {
	s.Projects = append([]domain.Project{}, a.Projects...)
	return s
}

func (a SetTasks) apply(s State) State {
	s.Tasks = append([]domain.Task{}, a.Tasks...)
	return s
}

func (a SetCurrentProject) apply(s State) State {
	s.CurrentProject = copyProject(a.Project)
	return s
}

func (a AddProject) apply(s State) State {
	s.Projects = append(append(make([]domain.Project, 0, len(s.Projects)+1), s.Projects...), a.Project)
	return s
}

func (a UpdateProject) apply(s State) State {
	replaced := false
	next := make([]domain.Project, len(s.Projects))
	for i, p := range s.Projects {
		if p.ID == a.Project.ID {
			next[i] = a.Project
			replaced = true
			continue
		}
		next[i] = p
	}
	if replaced {
		s.Projects = next
	}
	if s.CurrentProject != nil && s.CurrentProject.ID == a.Project.ID {
		s.CurrentProject = copyProject(&a.Project)
	}
	return s
}

func (a DeleteProject) apply(s State) State {
	next := make([]domain.Project, 0, len(s.Projects))
	for _, p := range s.Projects {
		if p.ID != a.ID {
			next = append(next, p)
		}
	}
	if len(next) != len(s.Projects) {
		s.Projects = next
	}
	if s.CurrentProject != nil && s.CurrentProject.ID == a.ID {
		s.CurrentProject = nil
	}
	return s
}

func (a AddTask) apply(s State) State {
	s.Tasks = append(append(make([]domain.Task, 0, len(s.Tasks)+1), s.Tasks...), a.Task)
	return s
}

func (a UpdateTask) apply(s State) State {
	idx := -1
	for i, t := range s.Tasks {
		if t.ID == a.Task.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s
	}
	next := append([]domain.Task{}, s.Tasks...)
	next[idx] = a.Task
	s.Tasks = next
	return s
}

func (a DeleteTask) apply(s State) State {
	next := make([]domain.Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		if t.ID != a.ID {
			next = append(next, t)
		}
	}
	if len(next) != len(s.Tasks) {
		s.Tasks = next
	}
	return s
}

// START_IMPERSONATION captures the original identity once; re-targeting keeps it.
func (a StartImpersonation) apply(s State) State {
	if s.User == nil {
		return s
	}
	original := s.OriginalUser
	if original == nil {
		original = s.User
	}
	target := a.User
	s.OriginalUser = copyUser(original)
	s.ImpersonatedUser = &target
	s.User = copyUser(&target)
	s.IsImpersonating = true
	return s
}

func (a StopImpersonation) apply(s State) State {
	if !s.IsImpersonating {
		return s
	}
	s.User = s.OriginalUser
	s.OriginalUser = nil
	s.ImpersonatedUser = nil
	s.IsImpersonating = false
	return s
}

func (ClearState) apply(State) State {
	return Initial()
}

// CheckInvariants reports the first structural violation in s.
func CheckInvariants(s State) error {
	switch {
	case s.IsImpersonating && (s.OriginalUser == nil || s.ImpersonatedUser == nil):
		return errors.New("impersonating without original and impersonated user")
	case !s.IsImpersonating && (s.OriginalUser != nil || s.ImpersonatedUser != nil):
		return errors.New("impersonation identities set while not impersonating")
	case s.IsImpersonating && !SameUser(s.User, s.ImpersonatedUser):
		return errors.New("acting user differs from impersonated user")
	}
	seen := map[int64]bool{}
	for _, u := range s.Users {
		if seen[u.ID] {
			return fmt.Errorf("duplicate user id %d", u.ID)
		}
		seen[u.ID] = true
	}
	seen = map[int64]bool{}
	for _, p := range s.Projects {
		if seen[p.ID] {
			return fmt.Errorf("duplicate project id %d", p.ID)
		}
		seen[p.ID] = true
	}
	seen = map[int64]bool{}
	var scope *int64
	for _, t := range s.Tasks {
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %d", t.ID)
		}
		seen[t.ID] = true
		if scope == nil {
			pid := t.ProjectID
			scope = &pid
		} else if *scope != t.ProjectID {
			return fmt.Errorf("tasks span projects %d and %d", *scope, t.ProjectID)
		}
	}
	return nil
}

// FindTask returns the task with the given id from the snapshot.
func (s State) FindTask(id int64) (domain.Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

// FindProject returns the project with the given id from the snapshot.
func (s State) FindProject(id int64) (domain.Project, bool) {
	for _, p := range s.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Project{}, false
}

// TasksByStatus returns the tasks in one board column, in state order.
func (s State) TasksByStatus(status domain.Status) []domain.Task {
	var out []domain.Task
	for _, t := range s.Tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// SameUser compares two users field by field.
func SameUser(a, b *domain.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Email == b.Email && a.Role == b.Role &&
		derefString(a.Name) == derefString(b.Name) &&
		derefString(a.PictureURL) == derefString(b.PictureURL)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func copyUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func copyProject(p *domain.Project) *domain.Project {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
