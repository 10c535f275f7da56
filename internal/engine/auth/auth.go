package auth

import (
	"context"
	"fmt"

	"boardline/internal/authz"
	"boardline/internal/domain"
	"boardline/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

const (
	PermProjectCreate = "project.create"
	PermProjectUpdate = "project.update"
	PermProjectDelete = "project.delete"
	PermProjectRead   = "project.read"
	PermMembersManage = "project.members.manage"
	PermTaskCreate    = "task.create"
	PermTaskUpdate    = "task.update"
	PermTaskDelete    = "task.delete"
	PermUserUpdate    = "user.update"
	PermImpersonate   = "user.impersonate"
	PermEventsRead    = "events.read"
)

// Service evaluates the client's authorization predicates against stored
// membership, so the backend enforces what the client only hides.
type Service struct {
	Repo repo.Repo
}

// Members loads membership for one project. The owner counts as a member.
func (s Service) Members(ctx context.Context, projectID int64) (authz.Members, error) {
	p, err := s.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	members, err := s.Repo.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	members = append(members, domain.User{ID: p.OwnerID})
	return authz.Members{projectID: members}, nil
}

// Checker returns a predicate checker for actor with membership of projectID
// attached.
func (s Service) Checker(ctx context.Context, actor domain.User, projectID int64) (authz.Checker, error) {
	members, err := s.Members(ctx, projectID)
	if err != nil {
		return authz.Checker{}, err
	}
	return authz.For(&actor).WithMembers(members), nil
}

// Require turns a failed predicate into a ForbiddenError.
func Require(ok bool, perm string) error {
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// RequireView fails unless actor can view projectID.
func (s Service) RequireView(ctx context.Context, actor domain.User, projectID int64) error {
	c, err := s.Checker(ctx, actor, projectID)
	if err != nil {
		return err
	}
	return Require(c.CanViewProject(projectID), PermProjectRead)
}
