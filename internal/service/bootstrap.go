package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/repository"
)

// SystemAdminRole is granted by Bootstrap.
const SystemAdminRole = "system_admin"

// Bootstrapper creates the first administrator of an empty installation.
type Bootstrapper struct {
	mut    *Mutator
	users  repository.UserRepository
	writer repository.GrantWriter
	roles  repository.RoleRepository
}

// NewBootstrapper constructs a Bootstrapper.
func NewBootstrapper(mut *Mutator, users repository.UserRepository, writer repository.GrantWriter, roles repository.RoleRepository) *Bootstrapper {
	return &Bootstrapper{mut: mut, users: users, writer: writer, roles: roles}
}

// Admin creates username (if missing) and grants it system_admin. Both
// writes are audited as performed by the new user. A non-empty password
// enables password login for a newly created user; an existing user keeps its
// credentials. Running it twice for the same user returns ErrAlreadyExists.
func (b *Bootstrapper) Admin(ctx context.Context, username, displayName, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errs.Invalid("username", "must not be blank")
	}
	role, err := b.roles.AuthRole(ctx, SystemAdminRole)
	if err != nil {
		return nil, fmt.Errorf("load %s role: %w", SystemAdminRole, err)
	}

	u, err := b.users.GetByUsername(ctx, username)
	existing := err == nil
	if err != nil && !errs.IsNotFound(err) {
		return nil, err
	}
	if !existing {
		if u, err = newUser(username, displayName, "", password); err != nil {
			return nil, err
		}
	}
	permID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	_, err = b.mut.Record(ctx, model.Actor{User: *u}, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		var changes []audit.Change
		if !existing {
			if err := b.users.Create(ctx, tx, u); err != nil {
				return nil, err
			}
			changes = append(changes, userCreated(u))
		}
		perm := &model.SystemPermission{ID: permID, UserID: u.ID, Role: role}
		if err := b.writer.InsertSystemPermission(ctx, tx, perm); err != nil {
			return nil, err
		}
		return append(changes, audit.Change{
			Action: audit.ActionCreate, Kind: model.KindSystemPermission, ID: perm.ID,
			Changes: map[string]any{"user_id": u.ID.String(), "auth_role_id": role.ID},
			Comment: audit.Created(),
		}), nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}
