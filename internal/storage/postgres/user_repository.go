package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

const userColumns = `
	id, organization_id, email, full_name, password_hash, role, is_active,
	failed_logins, locked_until, last_login_at, version, created_at, updated_at`

type userRepository struct {
	c conn
}

func (r *userRepository) Create(ctx context.Context, u domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.c.q().ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		u.ID, u.OrganizationID, u.Email, u.FullName, u.PasswordHash, string(u.Role), u.IsActive,
		u.FailedLogins, nullTime(u.LockedUntil), nullTime(u.LastLoginAt), u.Version, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", mapError(err))
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.User, error) {
	return r.one(ctx, `WHERE id = $1`, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.one(ctx, `WHERE email = $1`, email)
}

func (r *userRepository) one(ctx context.Context, where string, args ...any) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	u, err := scanUser(r.c.q().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", mapError(err))
	}
	return u, nil
}

func (r *userRepository) List(ctx context.Context, organizationID string, offset, limit int) ([]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	args := []any{organizationID}
	query := `SELECT ` + userColumns + ` FROM users WHERE organization_id = $1 ORDER BY email ASC`
	query += paginationClause(&args, offset, limit)

	rows, err := r.c.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", mapError(err))
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (r *userRepository) Save(ctx context.Context, u domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := r.c.q()
	res, err := q.ExecContext(ctx, `
		UPDATE users
		SET full_name = $1,
		    password_hash = $2,
		    role = $3,
		    is_active = $4,
		    failed_logins = $5,
		    locked_until = $6,
		    last_login_at = $7,
		    updated_at = $8,
		    version = version + 1
		WHERE id = $9
		  AND version = $10
	`,
		u.FullName, u.PasswordHash, string(u.Role), u.IsActive, u.FailedLogins,
		nullTime(u.LockedUntil), nullTime(u.LastLoginAt), u.UpdatedAt,
		u.ID, u.Version,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", mapError(err))
	}
	return checkAffected(ctx, q, res, "users", u.ID, domain.ErrUserNotFound)
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u                   domain.User
		role                string
		lockedUntil, lastAt sql.NullTime
	)
	if err := row.Scan(
		&u.ID, &u.OrganizationID, &u.Email, &u.FullName, &u.PasswordHash, &role, &u.IsActive,
		&u.FailedLogins, &lockedUntil, &lastAt, &u.Version, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return domain.User{}, err
	}
	u.Role = domain.UserRole(role)
	u.LockedUntil = timeFromNull(lockedUntil)
	u.LastLoginAt = timeFromNull(lastAt)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

var _ domain.UserRepository = (*userRepository)(nil)
