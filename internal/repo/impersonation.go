package repo

import (
	"context"
	"database/sql"
	"errors"
)

type ImpersonationSession struct {
	ID        string  `db:"id"`
	AdminID   int64   `db:"admin_id"`
	TargetID  int64   `db:"target_id"`
	StartedAt string  `db:"started_at"`
	EndedAt   *string `db:"ended_at"`
}

// ActiveImpersonation returns the admin's open session, if any.
func (r Repo) ActiveImpersonation(ctx context.Context, adminID int64) (*ImpersonationSession, error) {
	var s ImpersonationSession
	err := r.DB.GetContext(ctx, &s, `SELECT id, admin_id, target_id, started_at, ended_at FROM impersonation_sessions
WHERE admin_id=? AND ended_at IS NULL ORDER BY started_at DESC LIMIT 1`, adminID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// StartImpersonation closes any open session for the admin and opens a new one.
func (r Repo) StartImpersonation(ctx context.Context, q Ext, id string, adminID, targetID int64) error {
	now := r.now()
	if _, err := q.ExecContext(ctx, `UPDATE impersonation_sessions SET ended_at=? WHERE admin_id=? AND ended_at IS NULL`, now, adminID); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `INSERT INTO impersonation_sessions(id, admin_id, target_id, started_at) VALUES (?,?,?,?)`,
		id, adminID, targetID, now)
	return err
}

// StopImpersonation closes the admin's open session and reports whether one
// existed.
func (r Repo) StopImpersonation(ctx context.Context, q Ext, adminID int64) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE impersonation_sessions SET ended_at=? WHERE admin_id=? AND ended_at IS NULL`, r.now(), adminID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
