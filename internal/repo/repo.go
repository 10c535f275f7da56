package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"boardline/internal/domain"
)

type Repo struct {
	DB  *sqlx.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

// Ext is satisfied by both *sqlx.DB and *sqlx.Tx.
type Ext = sqlx.ExtContext

func (r Repo) now() string {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return err
}

func affectedOrNotFound(res sql.Result, what string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return nil
}

func nullable(s *string) any {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return *s
}

// Users

type userRow struct {
	ID         int64   `db:"id"`
	Subject    string  `db:"subject"`
	Email      string  `db:"email"`
	Name       *string `db:"name"`
	Role       string  `db:"role"`
	PictureURL *string `db:"picture_url"`
	CreatedAt  string  `db:"created_at"`
}

func (u userRow) domain() domain.User {
	return domain.User{ID: u.ID, Name: u.Name, Email: u.Email, Role: domain.ParseRole(u.Role), PictureURL: u.PictureURL}
}

const userColumns = `id, subject, email, name, role, picture_url, created_at`

// UpsertUserBySubject creates the user on first sight and refreshes email,
// name and picture afterwards. The role is only set on insert.
func (r Repo) UpsertUserBySubject(ctx context.Context, q Ext, subject string, u domain.User) (domain.User, error) {
	_, err := q.ExecContext(ctx, `INSERT INTO users(subject, email, name, role, picture_url, created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(subject) DO UPDATE SET email=excluded.email,
  name=COALESCE(excluded.name, users.name),
  picture_url=COALESCE(excluded.picture_url, users.picture_url)`,
		subject, u.Email, nullable(u.Name), string(u.Role), nullable(u.PictureURL), r.now())
	if err != nil {
		return domain.User{}, err
	}
	var row userRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+userColumns+` FROM users WHERE subject=?`, subject); err != nil {
		return domain.User{}, err
	}
	return row.domain(), nil
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var row userRow
	if err := r.DB.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id=?`, id); err != nil {
		return domain.User{}, notFound(err, "user", id)
	}
	return row.domain(), nil
}

func (r Repo) GetUserBySubject(ctx context.Context, subject string) (domain.User, error) {
	var row userRow
	if err := r.DB.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE subject=?`, subject); err != nil {
		return domain.User{}, notFound(err, "user", subject)
	}
	return row.domain(), nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	var rows []userRow
	if err := r.DB.SelectContext(ctx, &rows, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.domain())
	}
	return out, nil
}

func (r Repo) UpdateUser(ctx context.Context, q Ext, id int64, in domain.UserUpdate) (domain.User, error) {
	var (
		fields []string
		args   []any
	)
	if in.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, nullable(in.Name))
	}
	if in.PictureURL != nil {
		fields = append(fields, "picture_url=?")
		args = append(args, nullable(in.PictureURL))
	}
	if len(fields) > 0 {
		args = append(args, id)
		res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE users SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
		if err != nil {
			return domain.User{}, err
		}
		if err := affectedOrNotFound(res, "user", id); err != nil {
			return domain.User{}, err
		}
	}
	var row userRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+userColumns+` FROM users WHERE id=?`, id); err != nil {
		return domain.User{}, notFound(err, "user", id)
	}
	return row.domain(), nil
}

func (r Repo) SetUserRole(ctx context.Context, q Ext, id int64, role domain.Role) error {
	res, err := q.ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, string(role), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, "user", id)
}
