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

// ProjectRepo implements ProjectRepository using PostgreSQL.
type ProjectRepo struct{ db *DB }

// NewProjectRepo constructs a project repository.
func NewProjectRepo(db *DB) *ProjectRepo { return &ProjectRepo{db: db} }

var projectCols = policy.Columns{Project: "id", Owner: "creator_id", Deleted: "is_deleted"}

const projectSelect = `
SELECT id, name, description, creator_id, etag, is_deleted, created_at, updated_at
FROM projects`

// Insert adds a project row.
func (r *ProjectRepo) Insert(ctx context.Context, tx pgx.Tx, p *model.Project) error {
	const q = `
INSERT INTO projects (id, name, description, creator_id, etag)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at, updated_at`
	return tx.QueryRow(ctx, q, p.ID, p.Name, p.Description, p.CreatorID, p.Etag).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// Get loads a project by ID regardless of its deletion flag.
func (r *ProjectRepo) Get(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	p, err := scanProject(r.db.Pool.QueryRow(ctx, projectSelect+` WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// List returns the projects matching pred, ordered by name.
func (r *ProjectRepo) List(ctx context.Context, pred policy.Predicate, page repository.Page) ([]model.Project, error) {
	where, args := pred.Where(projectCols, 1)
	q := fmt.Sprintf("%s WHERE %s ORDER BY name, id%s", projectSelect, where, pageClause(page, len(args)+1))
	rows, err := r.db.Pool.Query(ctx, q, append(args, pageArgs(page)...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetForUpdate loads a project and locks its row until tx ends.
func (r *ProjectRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Project, error) {
	p, err := scanProject(tx.QueryRow(ctx, projectSelect+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// Update writes name, description and etag of a live project.
func (r *ProjectRepo) Update(ctx context.Context, tx pgx.Tx, p *model.Project) error {
	const q = `
UPDATE projects
SET name=$2, description=$3, etag=$4, updated_at=now()
WHERE id=$1 AND NOT is_deleted
RETURNING updated_at`
	return notFound(tx.QueryRow(ctx, q, p.ID, p.Name, p.Description, p.Etag).Scan(&p.UpdatedAt))
}

// MarkDeleted sets the deletion flag of a live project.
func (r *ProjectRepo) MarkDeleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	const q = `UPDATE projects SET is_deleted=true, updated_at=now() WHERE id=$1 AND NOT is_deleted`
	return affected(tx.Exec(ctx, q, id))
}

func scanProject(row pgx.Row) (*model.Project, error) {
	var p model.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatorID, &p.Etag, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// pageClause renders LIMIT/OFFSET placeholders starting at $n.
func pageClause(page repository.Page, n int) string {
	if page.Limit <= 0 {
		return fmt.Sprintf(" OFFSET $%d", n)
	}
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", n, n+1)
}

func pageArgs(page repository.Page) []any {
	off := page.Offset
	if off < 0 {
		off = 0
	}
	if page.Limit <= 0 {
		return []any{off}
	}
	return []any{page.Limit, off}
}
