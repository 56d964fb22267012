package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
)

// errNoID rejects grant rows whose primary key was left unset.
var errNoID = errors.New("grant id is not set")

// GrantRepo implements GrantReader and GrantWriter using PostgreSQL.
// Grants on logically deleted projects are not returned.
type GrantRepo struct{ db *DB }

// NewGrantRepo constructs a grant repository.
func NewGrantRepo(db *DB) *GrantRepo { return &GrantRepo{db: db} }

// SystemPermissions returns the user's system grants joined with their role.
func (r *GrantRepo) SystemPermissions(ctx context.Context, userID uuid.UUID) ([]model.SystemPermission, error) {
	const q = `
SELECT sp.id, sp.user_id, ` + roleColumns + `
FROM system_permissions sp
JOIN auth_roles r ON r.id = sp.auth_role_id
WHERE sp.user_id=$1`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SystemPermission
	for rows.Next() {
		var (
			p            model.SystemPermission
			perms, ctxts []byte
		)
		dest := append([]any{&p.ID, &p.UserID}, scanRole(&p.Role, &perms, &ctxts)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if err := decodeRoleSets(&p.Role, perms, ctxts); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProjectPermissions returns the user's project grants joined with their role.
func (r *GrantRepo) ProjectPermissions(ctx context.Context, userID uuid.UUID) ([]model.ProjectPermission, error) {
	const q = `
SELECT pp.id, pp.project_id, pp.user_id, ` + roleColumns + `
FROM project_permissions pp
JOIN auth_roles r ON r.id = pp.auth_role_id
JOIN projects p ON p.id = pp.project_id AND NOT p.is_deleted
WHERE pp.user_id=$1`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProjectPermission
	for rows.Next() {
		var (
			p            model.ProjectPermission
			perms, ctxts []byte
		)
		dest := append([]any{&p.ID, &p.ProjectID, &p.UserID}, scanRole(&p.Role, &perms, &ctxts)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if err := decodeRoleSets(&p.Role, perms, ctxts); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Affiliations returns the user's project affiliations.
func (r *GrantRepo) Affiliations(ctx context.Context, userID uuid.UUID) ([]model.Affiliation, error) {
	const q = `
SELECT a.id, a.project_id, a.user_id, a.project_role_id, a.created_at
FROM affiliations a
JOIN projects p ON p.id = a.project_id AND NOT p.is_deleted
WHERE a.user_id=$1`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Affiliation
	for rows.Next() {
		var a model.Affiliation
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.UserID, &a.ProjectRoleID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertProjectPermission sets the user's role on a project. On conflict the
// existing row keeps its id and only the role changes.
func (r *GrantRepo) UpsertProjectPermission(ctx context.Context, tx pgx.Tx, p *model.ProjectPermission) (bool, error) {
	const q = `
INSERT INTO project_permissions (id, project_id, user_id, auth_role_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (project_id, user_id) DO UPDATE
SET auth_role_id=EXCLUDED.auth_role_id, updated_at=now()
RETURNING id, (xmax = 0) AS inserted`
	if p.ID == uuid.Nil {
		return false, errNoID
	}
	var created bool
	err := tx.QueryRow(ctx, q, p.ID, p.ProjectID, p.UserID, p.Role.ID).Scan(&p.ID, &created)
	if isForeignKeyViolation(err) {
		return false, errs.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return created, nil
}

// DeleteProjectPermission removes the user's grant on a project.
func (r *GrantRepo) DeleteProjectPermission(ctx context.Context, tx pgx.Tx, projectID, userID uuid.UUID) (model.ProjectPermission, error) {
	const q = `
DELETE FROM project_permissions
WHERE project_id=$1 AND user_id=$2
RETURNING id, auth_role_id`
	p := model.ProjectPermission{ProjectID: projectID, UserID: userID}
	if err := tx.QueryRow(ctx, q, projectID, userID).Scan(&p.ID, &p.Role.ID); err != nil {
		return model.ProjectPermission{}, notFound(err)
	}
	return p, nil
}

// InsertSystemPermission adds a system grant.
func (r *GrantRepo) InsertSystemPermission(ctx context.Context, tx pgx.Tx, p *model.SystemPermission) error {
	const q = `INSERT INTO system_permissions (id, user_id, auth_role_id) VALUES ($1, $2, $3)`
	if p.ID == uuid.Nil {
		return errNoID
	}
	_, err := tx.Exec(ctx, q, p.ID, p.UserID, p.Role.ID)
	switch {
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return errs.ErrNotFound
	}
	return err
}

// UpsertAffiliation sets the user's project role on a project.
func (r *GrantRepo) UpsertAffiliation(ctx context.Context, tx pgx.Tx, a *model.Affiliation) (bool, error) {
	const q = `
INSERT INTO affiliations (id, project_id, user_id, project_role_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (project_id, user_id) DO UPDATE
SET project_role_id=EXCLUDED.project_role_id
RETURNING id, created_at, (xmax = 0) AS inserted`
	if a.ID == uuid.Nil {
		return false, errNoID
	}
	var created bool
	err := tx.QueryRow(ctx, q, a.ID, a.ProjectID, a.UserID, a.ProjectRoleID).Scan(&a.ID, &a.CreatedAt, &created)
	if isForeignKeyViolation(err) {
		return false, errs.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return created, nil
}

// DeleteAffiliation removes the user's affiliation with a project.
func (r *GrantRepo) DeleteAffiliation(ctx context.Context, tx pgx.Tx, projectID, userID uuid.UUID) (model.Affiliation, error) {
	const q = `
DELETE FROM affiliations
WHERE project_id=$1 AND user_id=$2
RETURNING id, project_role_id, created_at`
	a := model.Affiliation{ProjectID: projectID, UserID: userID}
	if err := tx.QueryRow(ctx, q, projectID, userID).Scan(&a.ID, &a.ProjectRoleID, &a.CreatedAt); err != nil {
		return model.Affiliation{}, notFound(err)
	}
	return a, nil
}
