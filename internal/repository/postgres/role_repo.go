package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/and161185/dataservice/internal/model"
)

// RoleRepo implements RoleRepository using PostgreSQL.
type RoleRepo struct{ db *DB }

// NewRoleRepo constructs a role repository.
func NewRoleRepo(db *DB) *RoleRepo { return &RoleRepo{db: db} }

// AuthRole loads an auth role by id.
func (r *RoleRepo) AuthRole(ctx context.Context, id string) (model.AuthRole, error) {
	const q = `
SELECT id, name, description, permissions, contexts, is_deprecated
FROM auth_roles WHERE id=$1`
	var (
		role         model.AuthRole
		perms, ctxts []byte
	)
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&role.ID, &role.Name, &role.Description, &perms, &ctxts, &role.IsDeprecated)
	if err != nil {
		return model.AuthRole{}, notFound(err)
	}
	if err := decodeRoleSets(&role, perms, ctxts); err != nil {
		return model.AuthRole{}, err
	}
	return role, nil
}

// ProjectRole loads a project role by id.
func (r *RoleRepo) ProjectRole(ctx context.Context, id string) (model.ProjectRole, error) {
	const q = `SELECT id, name, description, is_deprecated FROM project_roles WHERE id=$1`
	var pr model.ProjectRole
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&pr.ID, &pr.Name, &pr.Description, &pr.IsDeprecated); err != nil {
		return model.ProjectRole{}, notFound(err)
	}
	return pr, nil
}

// UpsertAuthRole inserts or replaces a role definition.
func (r *RoleRepo) UpsertAuthRole(ctx context.Context, role model.AuthRole) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	ctxts, err := json.Marshal(role.Contexts)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO auth_roles (id, name, description, permissions, contexts, is_deprecated)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET name=EXCLUDED.name, description=EXCLUDED.description, permissions=EXCLUDED.permissions,
    contexts=EXCLUDED.contexts, is_deprecated=EXCLUDED.is_deprecated`
	_, err = r.db.Pool.Exec(ctx, q, role.ID, role.Name, role.Description, perms, ctxts, role.IsDeprecated)
	return err
}

// UpsertProjectRole inserts or replaces a project role definition.
func (r *RoleRepo) UpsertProjectRole(ctx context.Context, role model.ProjectRole) error {
	const q = `
INSERT INTO project_roles (id, name, description, is_deprecated)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET name=EXCLUDED.name, description=EXCLUDED.description, is_deprecated=EXCLUDED.is_deprecated`
	_, err := r.db.Pool.Exec(ctx, q, role.ID, role.Name, role.Description, role.IsDeprecated)
	return err
}

func decodeRoleSets(role *model.AuthRole, perms, ctxts []byte) error {
	if err := json.Unmarshal(perms, &role.Permissions); err != nil {
		return fmt.Errorf("role %s permissions: %w", role.ID, err)
	}
	if err := json.Unmarshal(ctxts, &role.Contexts); err != nil {
		return fmt.Errorf("role %s contexts: %w", role.ID, err)
	}
	return nil
}

// roleColumns is the projection used when grants are joined with their role.
const roleColumns = `r.id, r.name, r.description, r.permissions, r.contexts, r.is_deprecated`

func scanRole(role *model.AuthRole, perms, ctxts *[]byte) []any {
	return []any{&role.ID, &role.Name, &role.Description, perms, ctxts, &role.IsDeprecated}
}
