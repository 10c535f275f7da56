package boardlinesdk

import (
	"encoding/json"
	"strings"
	"time"

	"boardline/internal/domain"
)

// Backends disagree on field casing. The wire types accept both camelCase and
// snake_case and normalize to the domain shape.

type wireUser struct {
	ID          int64   `json:"id"`
	Name        *string `json:"name"`
	Email       string  `json:"email"`
	Role        string  `json:"role"`
	PictureURL  *string `json:"pictureUrl"`
	PictureURL2 *string `json:"picture_url"`
	Picture     *string `json:"picture"`
}

func (w wireUser) toDomain() domain.User {
	return domain.User{
		ID:         w.ID,
		Name:       w.Name,
		Email:      w.Email,
		Role:       domain.ParseRole(w.Role),
		PictureURL: firstString(w.PictureURL, w.PictureURL2, w.Picture),
	}
}

type wireProject struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	OwnerID     *int64    `json:"ownerId"`
	OwnerID2    *int64    `json:"owner_id"`
	CreatedAt   *wireTime `json:"createdAt"`
	CreatedAt2  *wireTime `json:"created_at"`
}

func (w wireProject) toDomain() domain.Project {
	return domain.Project{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		OwnerID:     firstInt(w.OwnerID, w.OwnerID2),
		CreatedAt:   firstTime(w.CreatedAt, w.CreatedAt2),
	}
}

type wireTask struct {
	ID          int64     `json:"id"`
	ProjectID   *int64    `json:"projectId"`
	ProjectID2  *int64    `json:"project_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	AssigneeID  *int64    `json:"assigneeId"`
	AssigneeID2 *int64    `json:"assignee_id"`
	CreatedAt   *wireTime `json:"createdAt"`
	CreatedAt2  *wireTime `json:"created_at"`
}

func (w wireTask) toDomain() domain.Task {
	status, err := domain.ParseStatus(w.Status)
	if err != nil {
		status = domain.StatusTodo
	}
	priority, err := domain.ParsePriority(w.Priority)
	if err != nil {
		priority = domain.PriorityMedium
	}
	assignee := w.AssigneeID
	if assignee == nil {
		assignee = w.AssigneeID2
	}
	return domain.Task{
		ID:          w.ID,
		ProjectID:   firstInt(w.ProjectID, w.ProjectID2),
		Title:       w.Title,
		Description: w.Description,
		Status:      status,
		Priority:    priority,
		AssigneeID:  assignee,
		CreatedAt:   firstTime(w.CreatedAt, w.CreatedAt2),
	}
}

type wireMembership struct {
	ProjectID  *int64 `json:"projectId"`
	ProjectID2 *int64 `json:"project_id"`
	UserID     *int64 `json:"userId"`
	UserID2    *int64 `json:"user_id"`
}

func (w wireMembership) toDomain() domain.Membership {
	return domain.Membership{
		ProjectID: firstInt(w.ProjectID, w.ProjectID2),
		UserID:    firstInt(w.UserID, w.UserID2),
	}
}

// wireTime tolerates RFC 3339 and SQL-style timestamps. Unparseable values
// decode as absent rather than failing the whole payload.
type wireTime struct {
	t *time.Time
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

func (w *wireTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			w.t = &t
			return nil
		}
	}
	return nil
}

func firstString(vals ...*string) *string {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstInt(vals ...*int64) int64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstTime(vals ...*wireTime) *time.Time {
	for _, v := range vals {
		if v != nil && v.t != nil {
			return v.t
		}
	}
	return nil
}

func mapSlice[W any, D any](in []W, fn func(W) D) []D {
	out := make([]D, 0, len(in))
	for _, w := range in {
		out = append(out, fn(w))
	}
	return out
}
