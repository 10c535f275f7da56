// Package authz answers "may the acting user do this" from a state snapshot.
// The acting user is whatever sits in the state's User slot, so while an
// administrator impersonates someone every predicate applies the impersonated
// user's role.
package authz

import (
	"fmt"
	"strings"

	"boardline/internal/domain"
	"boardline/internal/state"
)

// MemberSet reports project membership for the acting user. Known is false when
// no membership data has been loaded for the project.
type MemberSet interface {
	IsMember(projectID, userID int64) (member bool, known bool)
}

// Members is a MemberSet backed by fetched member lists, keyed by project.
type Members map[int64][]domain.User

func (m Members) IsMember(projectID, userID int64) (bool, bool) {
	list, ok := m[projectID]
	if !ok {
		return false, false
	}
	for _, u := range list {
		if u.ID == userID {
			return true, true
		}
	}
	return false, true
}

// Checker evaluates predicates for one acting user.
type Checker struct {
	user    *domain.User
	members MemberSet
}

// For returns a checker for the given acting user (nil when signed out).
func For(user *domain.User) Checker {
	return Checker{user: user}
}

// FromState returns a checker for the snapshot's acting user.
func FromState(s state.State) Checker {
	return For(s.User)
}

// WithMembers attaches membership data to the project-scoped predicates.
func (c Checker) WithMembers(m MemberSet) Checker {
	c.members = m
	return c
}

func (c Checker) IsAdmin() bool {
	return c.user != nil && c.user.Role == domain.RoleAdmin
}

func (c Checker) CanUpdateTask(task *domain.Task) bool {
	return c.ownsOrAdmin(task)
}

func (c Checker) CanDeleteTask(task *domain.Task) bool {
	return c.ownsOrAdmin(task)
}

func (c Checker) ownsOrAdmin(task *domain.Task) bool {
	if task == nil || c.user == nil {
		return false
	}
	if c.IsAdmin() {
		return true
	}
	return task.AssigneeID != nil && *task.AssigneeID == c.user.ID
}

func (c Checker) CanCreateProject() bool        { return c.IsAdmin() }
func (c Checker) CanUpdateProject() bool        { return c.IsAdmin() }
func (c Checker) CanDeleteProject() bool        { return c.IsAdmin() }
func (c Checker) CanManageProjectMembers() bool { return c.IsAdmin() }

func (c Checker) CanCreateTask(projectID int64) bool {
	return c.IsAdmin() || c.IsProjectMember(projectID)
}

func (c Checker) CanViewProject(projectID int64) bool {
	return c.IsAdmin() || c.IsProjectMember(projectID)
}

// IsProjectMember is permissive until membership for the project is known;
// the backend remains the authority for unknown projects.
func (c Checker) IsProjectMember(projectID int64) bool {
	if c.user == nil {
		return false
	}
	if c.members == nil {
		return true
	}
	member, known := c.members.IsMember(projectID, c.user.ID)
	if !known {
		return true
	}
	return member
}

// Role returns the acting role, USER when signed out.
func (c Checker) Role() domain.Role {
	if c.user == nil || c.user.Role == "" {
		return domain.RoleUser
	}
	return c.user.Role
}

func RoleDisplayName(role domain.Role) string {
	if strings.EqualFold(string(role), string(domain.RoleAdmin)) {
		return "Administrator"
	}
	return "User"
}

// DeniedError is returned by presentation code refusing an action up front.
type DeniedError struct {
	Action string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Action)
}
