package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/policy"
	"github.com/and161185/dataservice/internal/repository"
)

// ProjectAdminRole is granted to the creator of every new project.
const ProjectAdminRole = "project_admin"

// ProjectService manages projects.
type ProjectService interface {
	Create(ctx context.Context, actor model.Actor, name, description string) (*model.Project, error)
	Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Project, error)
	List(ctx context.Context, actor model.Actor, page repository.Page) ([]model.Project, error)
	Update(ctx context.Context, actor model.Actor, id uuid.UUID, name, description string) (*model.Project, error)
	// Delete marks the project deleted; its row and history are kept.
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
}

type ProjectServiceImpl struct {
	mut      *Mutator
	engine   *policy.Engine
	projects repository.ProjectRepository
	grants   repository.GrantWriter
	roles    repository.RoleRepository
}

// NewProjectService constructs ProjectService.
func NewProjectService(
	mut *Mutator,
	engine *policy.Engine,
	projects repository.ProjectRepository,
	grants repository.GrantWriter,
	roles repository.RoleRepository,
) *ProjectServiceImpl {
	return &ProjectServiceImpl{mut: mut, engine: engine, projects: projects, grants: grants, roles: roles}
}

func projectRef(p *model.Project) model.Ref {
	return model.Ref{Kind: model.KindProject, ID: p.ID, ProjectID: p.ID, OwnerID: p.CreatorID, Deleted: p.IsDeleted}
}

// Create inserts a project and grants its creator project_admin on it.
func (s *ProjectServiceImpl) Create(ctx context.Context, actor model.Actor, name, description string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Invalid("name", "must not be blank")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	p := &model.Project{ID: id, Name: name, Description: description, CreatorID: actor.UserID()}
	if err := s.engine.Authorize(ctx, actor, projectRef(p), model.ActionCreate); err != nil {
		return nil, err
	}
	admin, err := s.roles.AuthRole(ctx, ProjectAdminRole)
	if err != nil {
		return nil, fmt.Errorf("load %s role: %w", ProjectAdminRole, err)
	}
	if p.Etag, err = newEtag(); err != nil {
		return nil, err
	}
	permID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	_, err = s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		if err := s.projects.Insert(ctx, tx, p); err != nil {
			return nil, err
		}
		perm := &model.ProjectPermission{ID: permID, ProjectID: p.ID, UserID: actor.UserID(), Role: admin}
		if _, err := s.grants.UpsertProjectPermission(ctx, tx, perm); err != nil {
			return nil, err
		}
		return []audit.Change{
			{
				Action:  audit.ActionCreate,
				Kind:    model.KindProject,
				ID:      p.ID,
				Changes: map[string]any{"name": p.Name, "description": p.Description, "creator_id": p.CreatorID.String()},
				Comment: audit.Created(),
			},
			{
				Action:  audit.ActionCreate,
				Kind:    model.KindProjectPermission,
				ID:      perm.ID,
				Changes: permissionChanges(perm),
				Comment: audit.Created(),
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get loads a project the actor may see.
func (s *ProjectServiceImpl) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Project, error) {
	p, err := s.load(ctx, actor, id, model.ActionShow)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the projects visible to the actor.
func (s *ProjectServiceImpl) List(ctx context.Context, actor model.Actor, page repository.Page) ([]model.Project, error) {
	pred, err := s.engine.Scope(ctx, actor, model.KindProject, model.ActionShow)
	if err != nil {
		return nil, err
	}
	if pred.Empty() {
		return nil, nil
	}
	return s.projects.List(ctx, pred, page)
}

// Update changes name and description.
func (s *ProjectServiceImpl) Update(ctx context.Context, actor model.Actor, id uuid.UUID, name, description string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Invalid("name", "must not be blank")
	}
	etag, err := newEtag()
	if err != nil {
		return nil, err
	}

	var p *model.Project
	_, err = s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		var err error
		if p, err = s.lock(ctx, tx, actor, id, model.ActionUpdate); err != nil {
			return nil, err
		}
		changes := map[string]any{}
		diff(changes, "name", p.Name, name)
		diff(changes, "description", p.Description, description)
		if len(changes) == 0 {
			return nil, errUnchanged
		}
		p.Name, p.Description, p.Etag = name, description, etag
		if err := s.projects.Update(ctx, tx, p); err != nil {
			return nil, hidden(err, model.KindProject, id, model.ActionUpdate)
		}
		return []audit.Change{{
			Action: audit.ActionUpdate, Kind: model.KindProject, ID: p.ID,
			Changes: changes, Comment: audit.Updated(""),
		}}, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}
	return p, nil
}

// Delete marks the project deleted.
func (s *ProjectServiceImpl) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	_, err := s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		if _, err := s.lock(ctx, tx, actor, id, model.ActionDestroy); err != nil {
			return nil, err
		}
		if err := s.projects.MarkDeleted(ctx, tx, id); err != nil {
			return nil, hidden(err, model.KindProject, id, model.ActionDestroy)
		}
		return []audit.Change{{
			Action: audit.ActionUpdate, Kind: model.KindProject, ID: id,
			Changes: map[string]any{"is_deleted": []any{false, true}}, Comment: audit.Deleted(),
		}}, nil
	})
	return err
}

// lock re-reads the project under a row lock and authorizes a against what
// it finds, so a concurrent delete is seen before anything is written.
func (s *ProjectServiceImpl) lock(ctx context.Context, tx pgx.Tx, actor model.Actor, id uuid.UUID, a model.Action) (*model.Project, error) {
	p, err := s.projects.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, hidden(err, model.KindProject, id, a)
	}
	if err := s.engine.Authorize(ctx, actor, projectRef(p), a); err != nil {
		return nil, err
	}
	return p, nil
}

// load fetches a project and authorizes a on it. A missing project is
// reported exactly like a denial.
func (s *ProjectServiceImpl) load(ctx context.Context, actor model.Actor, id uuid.UUID, a model.Action) (*model.Project, error) {
	p, err := s.projects.Get(ctx, id)
	if err != nil {
		return nil, hidden(err, model.KindProject, id, a)
	}
	if err := s.engine.Authorize(ctx, actor, projectRef(p), a); err != nil {
		return nil, err
	}
	return p, nil
}

// hidden converts ErrNotFound into the AuthorizationError a denial would give.
func hidden(err error, kind model.Kind, id uuid.UUID, a model.Action) error {
	if errs.IsNotFound(err) {
		return &errs.AuthorizationError{Kind: string(kind), ID: id.String(), Action: string(a)}
	}
	return err
}

// diff records key as [old, new] when the value changes.
func diff[T comparable](changes map[string]any, key string, old, new T) {
	if old != new {
		changes[key] = []any{old, new}
	}
}

func newEtag() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
