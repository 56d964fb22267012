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

// FolderService manages the folder hierarchy of projects.
type FolderService interface {
	// Create adds a folder under parentID, or at the project root when parentID is uuid.Nil.
	Create(ctx context.Context, actor model.Actor, projectID, parentID uuid.UUID, name string) (*model.Folder, error)
	Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Folder, error)
	List(ctx context.Context, actor model.Actor, projectID uuid.UUID, page repository.Page) ([]model.Folder, error)
	// Move reparents a folder within its project. Moving a folder below itself fails with ErrCycle.
	Move(ctx context.Context, actor model.Actor, id, parentID uuid.UUID) (*model.Folder, error)
	Rename(ctx context.Context, actor model.Actor, id uuid.UUID, name string) (*model.Folder, error)
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
}

type FolderServiceImpl struct {
	mut      *Mutator
	engine   *policy.Engine
	folders  repository.FolderRepository
	projects repository.ProjectRepository
}

// NewFolderService constructs FolderService.
func NewFolderService(mut *Mutator, engine *policy.Engine, folders repository.FolderRepository, projects repository.ProjectRepository) *FolderServiceImpl {
	return &FolderServiceImpl{mut: mut, engine: engine, folders: folders, projects: projects}
}

func folderRef(f *model.Folder) model.Ref {
	return model.Ref{Kind: model.KindFolder, ID: f.ID, ProjectID: f.ProjectID, OwnerID: f.CreatorID, Deleted: f.IsDeleted}
}

// Create adds a folder. The project row stays locked until the insert commits,
// so the folder cannot land in a project deleted meanwhile.
func (s *FolderServiceImpl) Create(ctx context.Context, actor model.Actor, projectID, parentID uuid.UUID, name string) (*model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Invalid("name", "must not be blank")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	f := &model.Folder{ID: id, Name: name, ProjectID: projectID, ParentID: parentID, CreatorID: actor.UserID()}
	if err := s.engine.Authorize(ctx, actor, folderRef(f), model.ActionCreate); err != nil {
		return nil, err
	}

	_, err = s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		p, err := s.projects.GetForUpdate(ctx, tx, projectID)
		if err != nil {
			return nil, hidden(err, model.KindProject, projectID, model.ActionShow)
		}
		if p.IsDeleted {
			return nil, hidden(errs.ErrNotFound, model.KindProject, projectID, model.ActionShow)
		}
		if err := s.checkParent(ctx, tx, projectID, parentID); err != nil {
			return nil, err
		}
		if err := s.folders.Insert(ctx, tx, f); err != nil {
			return nil, err
		}
		changes := map[string]any{"name": f.Name, "project_id": f.ProjectID.String()}
		if f.ParentID != uuid.Nil {
			changes["parent_id"] = f.ParentID.String()
		}
		return []audit.Change{{
			Action: audit.ActionCreate, Kind: model.KindFolder, ID: f.ID,
			Changes: changes, Comment: audit.Created(),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Get loads a folder the actor may see.
func (s *FolderServiceImpl) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Folder, error) {
	return s.load(ctx, actor, id, model.ActionShow)
}

// List returns the visible folders of a project.
func (s *FolderServiceImpl) List(ctx context.Context, actor model.Actor, projectID uuid.UUID, page repository.Page) ([]model.Folder, error) {
	pred, err := s.engine.Scope(ctx, actor, model.KindFolder, model.ActionShow)
	if err != nil {
		return nil, err
	}
	if pred.Empty() {
		return nil, nil
	}
	return s.folders.List(ctx, projectID, pred, page)
}

// Move reparents the folder. The project row is locked for the duration of
// the move so two concurrent moves cannot together form a cycle.
func (s *FolderServiceImpl) Move(ctx context.Context, actor model.Actor, id, parentID uuid.UUID) (*model.Folder, error) {
	if parentID == id {
		return nil, errs.ErrCycle
	}
	cur, err := s.load(ctx, actor, id, model.ActionMove)
	if err != nil {
		return nil, err
	}

	var f *model.Folder
	_, err = s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		if err := s.folders.LockHierarchy(ctx, tx, cur.ProjectID); err != nil {
			return nil, err
		}
		var err error
		if f, err = s.lock(ctx, tx, actor, id, model.ActionMove); err != nil {
			return nil, err
		}
		old := f.ParentID
		if parentID == old {
			return nil, errUnchanged
		}
		if err := s.checkParent(ctx, tx, f.ProjectID, parentID); err != nil {
			return nil, err
		}
		if parentID != uuid.Nil {
			lineage, err := s.folders.Lineage(ctx, tx, parentID)
			if err != nil {
				return nil, err
			}
			for _, ancestor := range lineage {
				if ancestor == f.ID {
					return nil, errs.ErrCycle
				}
			}
		}
		f.ParentID = parentID
		if err := s.folders.Update(ctx, tx, f); err != nil {
			return nil, hidden(err, model.KindFolder, id, model.ActionMove)
		}
		return []audit.Change{{
			Action: audit.ActionUpdate, Kind: model.KindFolder, ID: f.ID,
			Changes: map[string]any{"parent_id": []any{idOrNil(old), idOrNil(parentID)}},
			Comment: audit.Updated("move"),
		}}, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}
	return f, nil
}

// Rename changes the folder name.
func (s *FolderServiceImpl) Rename(ctx context.Context, actor model.Actor, id uuid.UUID, name string) (*model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Invalid("name", "must not be blank")
	}
	var f *model.Folder
	_, err := s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		var err error
		if f, err = s.lock(ctx, tx, actor, id, model.ActionRename); err != nil {
			return nil, err
		}
		old := f.Name
		if old == name {
			return nil, errUnchanged
		}
		f.Name = name
		if err := s.folders.Update(ctx, tx, f); err != nil {
			return nil, hidden(err, model.KindFolder, id, model.ActionRename)
		}
		return []audit.Change{{
			Action: audit.ActionUpdate, Kind: model.KindFolder, ID: f.ID,
			Changes: map[string]any{"name": []any{old, name}}, Comment: audit.Updated("rename"),
		}}, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}
	return f, nil
}

// Delete marks the folder deleted.
func (s *FolderServiceImpl) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	_, err := s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		if _, err := s.lock(ctx, tx, actor, id, model.ActionDestroy); err != nil {
			return nil, err
		}
		if err := s.folders.MarkDeleted(ctx, tx, id); err != nil {
			return nil, hidden(err, model.KindFolder, id, model.ActionDestroy)
		}
		return []audit.Change{{
			Action: audit.ActionUpdate, Kind: model.KindFolder, ID: id,
			Changes: map[string]any{"is_deleted": []any{false, true}}, Comment: audit.Deleted(),
		}}, nil
	})
	return err
}

// lock re-reads the folder under a row lock and authorizes a against it.
func (s *FolderServiceImpl) lock(ctx context.Context, tx pgx.Tx, actor model.Actor, id uuid.UUID, a model.Action) (*model.Folder, error) {
	f, err := s.folders.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, hidden(err, model.KindFolder, id, a)
	}
	if err := s.engine.Authorize(ctx, actor, folderRef(f), a); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FolderServiceImpl) load(ctx context.Context, actor model.Actor, id uuid.UUID, a model.Action) (*model.Folder, error) {
	f, err := s.folders.Get(ctx, id)
	if err != nil {
		return nil, hidden(err, model.KindFolder, id, a)
	}
	if err := s.engine.Authorize(ctx, actor, folderRef(f), a); err != nil {
		return nil, err
	}
	return f, nil
}

// checkParent requires a live parent folder in the same project and locks it
// so it cannot be deleted before tx commits.
func (s *FolderServiceImpl) checkParent(ctx context.Context, tx pgx.Tx, projectID, parentID uuid.UUID) error {
	if parentID == uuid.Nil {
		return nil
	}
	parent, err := s.folders.GetForUpdate(ctx, tx, parentID)
	if errs.IsNotFound(err) {
		return errs.Invalid("parent_id", "no such folder")
	}
	if err != nil {
		return fmt.Errorf("load parent folder: %w", err)
	}
	if parent.IsDeleted {
		return errs.Invalid("parent_id", "folder is deleted")
	}
	if parent.ProjectID != projectID {
		return errs.Invalid("parent_id", "folder belongs to another project")
	}
	return nil
}

func idOrNil(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}
