package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/policy"
	"github.com/and161185/dataservice/internal/repository"
)

// FolderRepo implements FolderRepository over the containers table.
type FolderRepo struct{ db *DB }

// NewFolderRepo constructs a folder repository.
func NewFolderRepo(db *DB) *FolderRepo { return &FolderRepo{db: db} }

var folderCols = policy.Columns{Project: "project_id", Owner: "creator_id", Deleted: "is_deleted"}

const folderSelect = `
SELECT id, name, project_id, parent_id, creator_id, is_deleted, created_at, updated_at
FROM containers`

// Insert adds a folder row.
func (r *FolderRepo) Insert(ctx context.Context, tx pgx.Tx, f *model.Folder) error {
	const q = `
INSERT INTO containers (id, type, name, parent_id, project_id, creator_id)
VALUES ($1, 'folder', $2, $3, $4, $5)
RETURNING created_at, updated_at`
	return tx.QueryRow(ctx, q, f.ID, f.Name, nullUUID(f.ParentID), f.ProjectID, f.CreatorID).Scan(&f.CreatedAt, &f.UpdatedAt)
}

// Get loads a folder by ID regardless of its deletion flag.
func (r *FolderRepo) Get(ctx context.Context, id uuid.UUID) (*model.Folder, error) {
	f, err := scanFolder(r.db.Pool.QueryRow(ctx, folderSelect+` WHERE id=$1 AND type='folder'`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

// List returns the folders of a project matching pred, ordered by name.
func (r *FolderRepo) List(ctx context.Context, projectID uuid.UUID, pred policy.Predicate, page repository.Page) ([]model.Folder, error) {
	where, args := pred.Where(folderCols, 2)
	args = append([]any{projectID}, args...)
	q := fmt.Sprintf("%s WHERE type='folder' AND project_id=$1 AND %s ORDER BY name, id%s",
		folderSelect, where, pageClause(page, len(args)+1))
	rows, err := r.db.Pool.Query(ctx, q, append(args, pageArgs(page)...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Lineage returns id followed by its ancestors up to the project root.
func (r *FolderRepo) Lineage(ctx context.Context, tx pgx.Tx, id uuid.UUID) ([]uuid.UUID, error) {
	const q = `
WITH RECURSIVE up(id, parent_id, depth) AS (
    SELECT id, parent_id, 0 FROM containers WHERE id=$1
    UNION ALL
    SELECT c.id, c.parent_id, up.depth + 1
    FROM containers c JOIN up ON c.id = up.parent_id
    WHERE up.depth < 10000
)
SELECT id FROM up ORDER BY depth`
	rows, err := tx.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var x uuid.UUID
		if err := rows.Scan(&x); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound(pgx.ErrNoRows)
	}
	return out, nil
}

// LockHierarchy serializes hierarchy changes within one project until tx ends.
func (r *FolderRepo) LockHierarchy(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) error {
	const q = `SELECT id FROM projects WHERE id=$1 FOR UPDATE`
	var id uuid.UUID
	return notFound(tx.QueryRow(ctx, q, projectID).Scan(&id))
}

// GetForUpdate loads a folder and locks its row until tx ends.
func (r *FolderRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Folder, error) {
	f, err := scanFolder(tx.QueryRow(ctx, folderSelect+` WHERE id=$1 AND type='folder' FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

// Update writes name and parent of a live folder.
func (r *FolderRepo) Update(ctx context.Context, tx pgx.Tx, f *model.Folder) error {
	const q = `
UPDATE containers
SET name=$2, parent_id=$3, updated_at=now()
WHERE id=$1 AND type='folder' AND NOT is_deleted
RETURNING updated_at`
	return notFound(tx.QueryRow(ctx, q, f.ID, f.Name, nullUUID(f.ParentID)).Scan(&f.UpdatedAt))
}

// MarkDeleted sets the deletion flag of a live folder.
func (r *FolderRepo) MarkDeleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	const q = `UPDATE containers SET is_deleted=true, updated_at=now() WHERE id=$1 AND type='folder' AND NOT is_deleted`
	return affected(tx.Exec(ctx, q, id))
}

func scanFolder(row pgx.Row) (*model.Folder, error) {
	var (
		f      model.Folder
		parent *uuid.UUID
	)
	if err := row.Scan(&f.ID, &f.Name, &f.ProjectID, &parent, &f.CreatorID, &f.IsDeleted, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if parent != nil {
		f.ParentID = *parent
	}
	return &f, nil
}

// nullUUID maps uuid.Nil to SQL NULL.
func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
