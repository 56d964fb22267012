package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/policy"
	"github.com/and161185/dataservice/internal/repository"
)

// GrantService manages project permissions, affiliations and system permissions.
type GrantService interface {
	// GrantProjectPermission sets the user's role on a project, replacing any previous one.
	GrantProjectPermission(ctx context.Context, actor model.Actor, projectID, userID uuid.UUID, roleID string) (*model.ProjectPermission, error)
	RevokeProjectPermission(ctx context.Context, actor model.Actor, projectID, userID uuid.UUID) error
	// Affiliate sets the user's project role on a project.
	Affiliate(ctx context.Context, actor model.Actor, projectID, userID uuid.UUID, projectRoleID string) (*model.Affiliation, error)
	Unaffiliate(ctx context.Context, actor model.Actor, projectID, userID uuid.UUID) error
	GrantSystemPermission(ctx context.Context, actor model.Actor, userID uuid.UUID, roleID string) (*model.SystemPermission, error)
}

type GrantServiceImpl struct {
	mut      *Mutator
	engine   *policy.Engine
	writer   repository.GrantWriter
	roles    repository.RoleRepository
	users    repository.UserRepository
	projects repository.ProjectRepository
}

// NewGrantService constructs GrantService.
func NewGrantService(
	mut *Mutator,
	engine *policy.Engine,
	writer repository.GrantWriter,
	roles repository.RoleRepository,
	users repository.UserRepository,
	projects repository.ProjectRepository,
) *GrantServiceImpl {
	return &GrantServiceImpl{mut: mut, engine: engine, writer: writer, roles: roles, users: users, projects: projects}
}

// GrantProjectPermission upserts the user's project grant.
func (s *GrantServiceImpl) GrantProjectPermission(ctx context.Context, actor model.Actor, projectID, userID uuid.UUID, roleID string) (*model.ProjectPermission, error) {
	if err := s.authorizeOnProject(ctx, actor, model.KindProjectPermission, projectID, userID, model.ActionCreate); err != nil {
		return nil, err
	}
	role, err := s.grantableRole(ctx, roleID, model.ContextProject)
	if err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	perm := &model.ProjectPermission{ID: id, ProjectID: projectID, UserID: userID, Role: role}
	_, err = s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		if err := s.lockLive(ctx, tx, projectID, model.ActionCreate); err != nil {
			return nil, err
		}
		created, err := s.writer.UpsertProjectPermission(ctx, tx, perm)
		if err != nil {
			return nil, err
		}
		c := audit.Change{
			Action: audit.ActionUpdate, Kind: model.KindProjectPermission, ID: perm.ID,
			Changes: permissionChanges(perm), Comment: audit.Updated(""),
		}
		if created {
			c.Action, c.Comment = audit.ActionCreate, audit.Created()
		}
		return []audit.Change{c}, nil
	})
	if err != nil {
		return nil, err
	}
	return perm, nil
}

// RevokeProjectPermission removes the user's project grant.
func (s *GrantServiceImpl) RevokeProjectPermission(ctx context.Context, actor model.Actor, projectID, userID uuid.UUID) error {
	if err := s.authorizeOnProject(ctx, actor, model.KindProjectPermission, projectID, userID, model.ActionDestroy); err != nil {
		return err
	}
	_, err := s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		perm, err := s.writer.DeleteProjectPermission(ctx, tx, projectID, userID)
		if err != nil {
			return nil, hidden(err, model.KindProjectPermission, userID, model.ActionDestroy)
		}
		return []audit.Change{{
			Action: audit.ActionDestroy, Kind: model.KindProjectPermission, ID: perm.ID,
			Changes: permissionChanges(&perm), Comment: audit.Destroyed(),
		}}, nil
	})
	return err
}

// Affiliate upserts the user's affiliation with a project.
func (s *GrantServiceImpl) Affiliate(ctx context.Context, actor model.Actor, projectID, userID uuid.UUID, projectRoleID string) (*model.Affiliation, error) {
	if err := s.authorizeOnProject(ctx, actor, model.KindAffiliation, projectID, userID, model.ActionCreate); err != nil {
		return nil, err
	}
	pr, err := s.roles.ProjectRole(ctx, projectRoleID)
	if errs.IsNotFound(err) || (err == nil && pr.IsDeprecated) {
		return nil, fmt.Errorf("%w: project role %q", errs.ErrInvalidRole, projectRoleID)
	}
	if err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	a := &model.Affiliation{ID: id, ProjectID: projectID, UserID: userID, ProjectRoleID: pr.ID}
	_, err = s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		if err := s.lockLive(ctx, tx, projectID, model.ActionCreate); err != nil {
			return nil, err
		}
		created, err := s.writer.UpsertAffiliation(ctx, tx, a)
		if err != nil {
			return nil, err
		}
		c := audit.Change{
			Action: audit.ActionUpdate, Kind: model.KindAffiliation, ID: a.ID,
			Changes: affiliationChanges(a), Comment: audit.Updated(""),
		}
		if created {
			c.Action, c.Comment = audit.ActionCreate, audit.Created()
		}
		return []audit.Change{c}, nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Unaffiliate removes the user's affiliation with a project.
func (s *GrantServiceImpl) Unaffiliate(ctx context.Context, actor model.Actor, projectID, userID uuid.UUID) error {
	if err := s.authorizeOnProject(ctx, actor, model.KindAffiliation, projectID, userID, model.ActionDestroy); err != nil {
		return err
	}
	_, err := s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		a, err := s.writer.DeleteAffiliation(ctx, tx, projectID, userID)
		if err != nil {
			return nil, hidden(err, model.KindAffiliation, userID, model.ActionDestroy)
		}
		return []audit.Change{{
			Action: audit.ActionDestroy, Kind: model.KindAffiliation, ID: a.ID,
			Changes: affiliationChanges(&a), Comment: audit.Destroyed(),
		}}, nil
	})
	return err
}

// GrantSystemPermission adds a system-wide grant.
func (s *GrantServiceImpl) GrantSystemPermission(ctx context.Context, actor model.Actor, userID uuid.UUID, roleID string) (*model.SystemPermission, error) {
	ref := model.Ref{Kind: model.KindSystemPermission, OwnerID: userID}
	if err := s.engine.Authorize(ctx, actor, ref, model.ActionCreate); err != nil {
		return nil, err
	}
	role, err := s.grantableRole(ctx, roleID, model.ContextSystem)
	if err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	perm := &model.SystemPermission{ID: id, UserID: userID, Role: role}
	_, err = s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		if err := s.writer.InsertSystemPermission(ctx, tx, perm); err != nil {
			return nil, err
		}
		return []audit.Change{{
			Action: audit.ActionCreate, Kind: model.KindSystemPermission, ID: perm.ID,
			Changes: map[string]any{"user_id": userID.String(), "auth_role_id": role.ID},
			Comment: audit.Created(),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return perm, nil
}

// authorizeOnProject checks a on a grant of kind held by userID on a live project.
func (s *GrantServiceImpl) authorizeOnProject(ctx context.Context, actor model.Actor, kind model.Kind, projectID, userID uuid.UUID, a model.Action) error {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return hidden(err, model.KindProject, projectID, a)
	}
	ref := model.Ref{Kind: kind, ProjectID: p.ID, OwnerID: userID, Deleted: p.IsDeleted}
	return s.engine.Authorize(ctx, actor, ref, a)
}

// lockLive locks the project row and fails if it was deleted since it was authorized.
func (s *GrantServiceImpl) lockLive(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, a model.Action) error {
	p, err := s.projects.GetForUpdate(ctx, tx, projectID)
	if err == nil && p.IsDeleted {
		err = errs.ErrNotFound
	}
	return hidden(err, model.KindProject, projectID, a)
}

// grantableRole loads roleID and requires it to be live and grantable in rc.
func (s *GrantServiceImpl) grantableRole(ctx context.Context, roleID string, rc model.RoleContext) (model.AuthRole, error) {
	role, err := s.roles.AuthRole(ctx, roleID)
	if errs.IsNotFound(err) {
		return model.AuthRole{}, fmt.Errorf("%w: unknown role %q", errs.ErrInvalidRole, roleID)
	}
	if err != nil {
		return model.AuthRole{}, err
	}
	if role.IsDeprecated {
		return model.AuthRole{}, fmt.Errorf("%w: role %q is deprecated", errs.ErrInvalidRole, roleID)
	}
	if !role.HasContext(rc) {
		return model.AuthRole{}, fmt.Errorf("%w: role %q cannot be granted in %s context", errs.ErrInvalidRole, roleID, rc)
	}
	return role, nil
}

func (s *GrantServiceImpl) requireUser(ctx context.Context, userID uuid.UUID) error {
	_, err := s.users.GetByID(ctx, userID)
	if errs.IsNotFound(err) {
		return errs.Invalid("user_id", "no such user")
	}
	return err
}

func permissionChanges(p *model.ProjectPermission) map[string]any {
	return map[string]any{
		"project_id":   p.ProjectID.String(),
		"user_id":      p.UserID.String(),
		"auth_role_id": p.Role.ID,
	}
}

func affiliationChanges(a *model.Affiliation) map[string]any {
	return map[string]any{
		"project_id":      a.ProjectID.String(),
		"user_id":         a.UserID.String(),
		"project_role_id": a.ProjectRoleID,
	}
}
