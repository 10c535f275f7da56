package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"boardline/internal/domain"
)

type projectRow struct {
	ID          int64   `db:"id"`
	Name        string  `db:"name"`
	Description *string `db:"description"`
	OwnerID     int64   `db:"owner_id"`
	CreatedAt   string  `db:"created_at"`
}

func (p projectRow) domain() domain.Project {
	return domain.Project{ID: p.ID, Name: p.Name, Description: p.Description, OwnerID: p.OwnerID, CreatedAt: parseTime(p.CreatedAt)}
}

func mapProjectRows(rows []projectRow) []domain.Project {
	out := make([]domain.Project, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.domain())
	}
	return out
}

const projectColumns = `p.id, p.name, p.description, p.owner_id, p.created_at`

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var rows []projectRow
	if err := r.DB.SelectContext(ctx, &rows, `SELECT `+projectColumns+` FROM projects p ORDER BY p.id`); err != nil {
		return nil, err
	}
	return mapProjectRows(rows), nil
}

// ListProjectsForUser returns projects the user owns or is a member of.
func (r Repo) ListProjectsForUser(ctx context.Context, userID int64) ([]domain.Project, error) {
	var rows []projectRow
	err := r.DB.SelectContext(ctx, &rows, `SELECT `+projectColumns+` FROM projects p
WHERE p.owner_id=? OR EXISTS (SELECT 1 FROM project_members m WHERE m.project_id=p.id AND m.user_id=?)
ORDER BY p.id`, userID, userID)
	if err != nil {
		return nil, err
	}
	return mapProjectRows(rows), nil
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	var row projectRow
	if err := r.DB.GetContext(ctx, &row, `SELECT `+projectColumns+` FROM projects p WHERE p.id=?`, id); err != nil {
		return domain.Project{}, notFound(err, "project", id)
	}
	return row.domain(), nil
}

func (r Repo) InsertProject(ctx context.Context, q Ext, in domain.ProjectInput, ownerID int64) (domain.Project, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO projects(name, description, owner_id, created_at) VALUES (?,?,?,?)`,
		in.Name, nullable(in.Description), ownerID, r.now())
	if err != nil {
		return domain.Project{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Project{}, err
	}
	return r.projectTx(ctx, q, id)
}

func (r Repo) UpdateProject(ctx context.Context, q Ext, id int64, in domain.ProjectInput) (domain.Project, error) {
	res, err := q.ExecContext(ctx, `UPDATE projects SET name=?, description=? WHERE id=?`, in.Name, nullable(in.Description), id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := affectedOrNotFound(res, "project", id); err != nil {
		return domain.Project{}, err
	}
	return r.projectTx(ctx, q, id)
}

func (r Repo) DeleteProject(ctx context.Context, q Ext, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "project", id)
}

func (r Repo) projectTx(ctx context.Context, q Ext, id int64) (domain.Project, error) {
	var row projectRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+projectColumns+` FROM projects p WHERE p.id=?`, id); err != nil {
		return domain.Project{}, notFound(err, "project", id)
	}
	return row.domain(), nil
}
