package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"boardline/internal/domain"
)

type taskRow struct {
	ID          int64   `db:"id"`
	ProjectID   int64   `db:"project_id"`
	Title       string  `db:"title"`
	Description *string `db:"description"`
	Status      string  `db:"status"`
	Priority    string  `db:"priority"`
	AssigneeID  *int64  `db:"assignee_id"`
	CreatedAt   string  `db:"created_at"`
}

func (t taskRow) domain() domain.Task {
	return domain.Task{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Description: t.Description,
		Status:      domain.Status(t.Status),
		Priority:    domain.Priority(t.Priority),
		AssigneeID:  t.AssigneeID,
		CreatedAt:   parseTime(t.CreatedAt),
	}
}

const taskColumns = `id, project_id, title, description, status, priority, assignee_id, created_at`

func (r Repo) ListTasks(ctx context.Context, projectID int64) ([]domain.Task, error) {
	var rows []taskRow
	if err := r.DB.SelectContext(ctx, &rows, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? ORDER BY id`, projectID); err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.domain())
	}
	return out, nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return r.taskTx(ctx, r.DB, id)
}

func (r Repo) InsertTask(ctx context.Context, q Ext, in domain.TaskInput) (domain.Task, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO tasks(project_id, title, description, status, priority, assignee_id, created_at) VALUES (?,?,?,?,?,?,?)`,
		in.ProjectID, in.Title, nullable(in.Description), string(in.Status), string(in.Priority), in.AssigneeID, r.now())
	if err != nil {
		return domain.Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Task{}, err
	}
	return r.taskTx(ctx, q, id)
}

// UpdateTask replaces the mutable fields. The project never changes.
func (r Repo) UpdateTask(ctx context.Context, q Ext, id int64, in domain.TaskInput) (domain.Task, error) {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, priority=?, assignee_id=? WHERE id=?`,
		in.Title, nullable(in.Description), string(in.Status), string(in.Priority), in.AssigneeID, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := affectedOrNotFound(res, "task", id); err != nil {
		return domain.Task{}, err
	}
	return r.taskTx(ctx, q, id)
}

func (r Repo) UpdateTaskStatus(ctx context.Context, q Ext, id int64, status domain.Status) (domain.Task, error) {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET status=? WHERE id=?`, string(status), id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := affectedOrNotFound(res, "task", id); err != nil {
		return domain.Task{}, err
	}
	return r.taskTx(ctx, q, id)
}

func (r Repo) DeleteTask(ctx context.Context, q Ext, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "task", id)
}

func (r Repo) taskTx(ctx context.Context, q sqlx.QueryerContext, id int64) (domain.Task, error) {
	var row taskRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id); err != nil {
		return domain.Task{}, notFound(err, "task", id)
	}
	return row.domain(), nil
}
