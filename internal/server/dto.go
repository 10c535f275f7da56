package server

import (
	"boardline/internal/domain"
	"boardline/internal/events"
)

// Request payloads

type ProjectRequest struct {
	Name        string  `json:"name" minLength:"1" maxLength:"200"`
	Description *string `json:"description,omitempty"`
}

type CreateTaskRequest struct {
	ProjectID   int64   `json:"projectId" minimum:"1"`
	Title       string  `json:"title" minLength:"1"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status,omitempty" enum:"TODO,DOING,DONE"`
	Priority    string  `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH"`
	AssigneeID  *int64  `json:"assigneeId,omitempty"`
}

// UpdateTaskRequest replaces the task's mutable fields. projectId is accepted
// and ignored; a task never changes project.
type UpdateTaskRequest struct {
	ProjectID   int64   `json:"projectId,omitempty"`
	Title       string  `json:"title" minLength:"1"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status,omitempty" enum:"TODO,DOING,DONE"`
	Priority    string  `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH"`
	AssigneeID  *int64  `json:"assigneeId,omitempty"`
}

type TaskStatusRequest struct {
	Status string `json:"status" enum:"TODO,DOING,DONE"`
}

type MemberRequest struct {
	UserID int64 `json:"userId" minimum:"1"`
}

type UserUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	PictureURL *string `json:"pictureUrl,omitempty"`
}

type DevLoginRequest struct {
	Subject string   `json:"sub" minLength:"1"`
	Email   string   `json:"email,omitempty"`
	Name    string   `json:"name,omitempty"`
	Picture string   `json:"picture,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ImpersonationResponse struct {
	SessionID string      `json:"sessionId"`
	User      domain.User `json:"user"`
}

type MeResponse struct {
	User          domain.User  `json:"user"`
	RealUser      *domain.User `json:"realUser,omitempty"`
	Impersonating bool         `json:"impersonating"`
	SessionID     string       `json:"sessionId,omitempty"`
}

func (r CreateTaskRequest) input() domain.TaskInput {
	return domain.TaskInput{
		ProjectID:   r.ProjectID,
		Title:       r.Title,
		Description: r.Description,
		Status:      domain.Status(r.Status),
		Priority:    domain.Priority(r.Priority),
		AssigneeID:  r.AssigneeID,
	}
}

func (r UpdateTaskRequest) input() domain.TaskInput {
	return domain.TaskInput{
		Title:       r.Title,
		Description: r.Description,
		Status:      domain.Status(r.Status),
		Priority:    domain.Priority(r.Priority),
		AssigneeID:  r.AssigneeID,
	}
}

func (r ProjectRequest) input() domain.ProjectInput {
	return domain.ProjectInput{Name: r.Name, Description: r.Description}
}

func nonNilEvents(items []events.Event) []events.Event {
	if items == nil {
		return []events.Event{}
	}
	return items
}
