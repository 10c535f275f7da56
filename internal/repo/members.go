package repo

import (
	"context"

	"boardline/internal/domain"
)

func (r Repo) ListMembers(ctx context.Context, projectID int64) ([]domain.User, error) {
	var rows []userRow
	err := r.DB.SelectContext(ctx, &rows, `SELECT u.id, u.subject, u.email, u.name, u.role, u.picture_url, u.created_at
FROM project_members m JOIN users u ON u.id=m.user_id
WHERE m.project_id=? ORDER BY u.id`, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.domain())
	}
	return out, nil
}

func (r Repo) IsMember(ctx context.Context, projectID, userID int64) (bool, error) {
	var n int
	err := r.DB.GetContext(ctx, &n, `SELECT COUNT(1) FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	return n > 0, err
}

// AddMember is idempotent.
func (r Repo) AddMember(ctx context.Context, q Ext, projectID, userID int64) (domain.Membership, error) {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO project_members(project_id, user_id, created_at) VALUES (?,?,?)`,
		projectID, userID, r.now())
	if err != nil {
		return domain.Membership{}, err
	}
	return domain.Membership{ProjectID: projectID, UserID: userID}, nil
}

func (r Repo) RemoveMember(ctx context.Context, q Ext, projectID, userID int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "membership", userID)
}
