package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-music-auth/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-music-auth/pkg/utilities"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = pq.ErrorCode("23505")

// UserRepo provides data access for the users table using sqlx. Schema lives
// in pkg/database/migrations.
type UserRepo struct {
	db    *sqlx.DB
	newID func() string
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db, newID: utilities.NewSnowflakeID}
}

// Create inserts a user. The unique index on email makes the insert itself
// the check-and-insert; a violation surfaces as ErrDuplicate.
func (r *UserRepo) Create(ctx context.Context, email, secret string) (*entity.User, error) {
	const q = `INSERT INTO users (id, email, secret) VALUES ($1, $2, $3)
		RETURNING id, email, secret, created_at, updated_at`
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, r.newID(), email, secret); err != nil {
		return nil, mapPQError(err)
	}
	return &u, nil
}

// GetByEmail matches email exactly (case-sensitive).
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	const q = `SELECT id, email, secret, created_at, updated_at FROM users WHERE email=$1`
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, email); err != nil {
		return nil, mapPQError(err)
	}
	return &u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	if !utilities.IsSnowflakeID(id) {
		return nil, ErrInvalidID
	}
	const q = `SELECT id, email, secret, created_at, updated_at FROM users WHERE id=$1`
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, id); err != nil {
		return nil, mapPQError(err)
	}
	return &u, nil
}

func (r *UserRepo) List(ctx context.Context) ([]*entity.User, error) {
	const q = `SELECT id, email, secret, created_at, updated_at FROM users ORDER BY created_at, id`
	var rows []*entity.User
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, mapPQError(err)
	}
	return rows, nil
}

// Update applies the non-nil fields of ch and returns the updated row.
func (r *UserRepo) Update(ctx context.Context, id string, ch entity.Changes) (*entity.User, error) {
	if !utilities.IsSnowflakeID(id) {
		return nil, ErrInvalidID
	}
	sets := []string{"updated_at=NOW()"}
	args := []any{id}
	if ch.Email != nil {
		args = append(args, *ch.Email)
		sets = append(sets, fmt.Sprintf("email=$%d", len(args)))
	}
	if ch.Secret != nil {
		args = append(args, *ch.Secret)
		sets = append(sets, fmt.Sprintf("secret=$%d", len(args)))
	}
	q := `UPDATE users SET ` + strings.Join(sets, ", ") +
		` WHERE id=$1 RETURNING id, email, secret, created_at, updated_at`
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, args...); err != nil {
		return nil, mapPQError(err)
	}
	return &u, nil
}

func (r *UserRepo) Delete(ctx context.Context, id string) (*entity.User, error) {
	if !utilities.IsSnowflakeID(id) {
		return nil, ErrInvalidID
	}
	const q = `DELETE FROM users WHERE id=$1 RETURNING id, email, secret, created_at, updated_at`
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, id); err != nil {
		return nil, mapPQError(err)
	}
	return &u, nil
}

func mapPQError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}
