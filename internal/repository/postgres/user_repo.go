package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, tx pgx.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, username, display_name, email, pwd_hash, salt_auth)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at`
	err := tx.QueryRow(ctx, q, u.ID, u.Username, u.DisplayName, u.Email, bytesOrEmpty(u.PwdHash), bytesOrEmpty(u.SaltAuth)).Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `
SELECT id, username, display_name, email, pwd_hash, salt_auth, created_at
FROM users WHERE id=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `
SELECT id, username, display_name, email, pwd_hash, salt_auth, created_at
FROM users WHERE username=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, username))
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.PwdHash, &u.SaltAuth, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// bytesOrEmpty keeps NOT NULL bytea columns from receiving NULL for a nil slice.
func bytesOrEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
