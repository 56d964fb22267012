package service

import (
	"context"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/audit"
	pkgcrypto "github.com/and161185/dataservice/internal/crypto"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/policy"
	"github.com/and161185/dataservice/internal/repository"
)

const minPasswordLen = 8

// UserService provisions user accounts.
type UserService interface {
	// Create registers a user. An empty password leaves password login
	// disabled for the account.
	Create(ctx context.Context, actor model.Actor, username, displayName, email, password string) (*model.User, error)
}

type UserServiceImpl struct {
	mut    *Mutator
	engine *policy.Engine
	users  repository.UserRepository
}

// NewUserService constructs UserService.
func NewUserService(mut *Mutator, engine *policy.Engine, users repository.UserRepository) *UserServiceImpl {
	return &UserServiceImpl{mut: mut, engine: engine, users: users}
}

// Create inserts the user. Requires manage_users.
func (s *UserServiceImpl) Create(ctx context.Context, actor model.Actor, username, displayName, email, password string) (*model.User, error) {
	if err := s.engine.Authorize(ctx, actor, model.Ref{Kind: model.KindUser}, model.ActionCreate); err != nil {
		return nil, err
	}
	u, err := newUser(username, displayName, email, password)
	if err != nil {
		return nil, err
	}
	_, err = s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		if err := s.users.Create(ctx, tx, u); err != nil {
			return nil, err
		}
		return []audit.Change{userCreated(u)}, nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// newUser validates the account fields and hashes password when one is given.
func newUser(username, displayName, email, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errs.Invalid("username", "must not be blank")
	}
	if password != "" && len(password) < minPasswordLen {
		return nil, errs.Invalid("password", "must be at least 8 characters")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	u := &model.User{ID: id, Username: username, DisplayName: displayName, Email: email}
	if password != "" {
		if u.SaltAuth, u.PwdHash, err = pkgcrypto.HashPassword(password); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// userCreated never carries the password hash.
func userCreated(u *model.User) audit.Change {
	return audit.Change{
		Action: audit.ActionCreate, Kind: model.KindUser, ID: u.ID,
		Changes: map[string]any{"username": u.Username, "display_name": u.DisplayName, "email": u.Email},
		Comment: audit.Created(),
	}
}
