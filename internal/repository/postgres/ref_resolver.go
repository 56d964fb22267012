package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/dataservice/internal/model"
)

// refQueries select (project_id, owner_id, deleted) per kind. A NULL project
// marks a system-level resource; owner is the user whose ownership the policy
// reads for the kind.
var refQueries = map[model.Kind]string{
	model.KindProject: `SELECT id, creator_id, is_deleted FROM projects WHERE id=$1`,
	model.KindFolder: `
SELECT project_id, creator_id, is_deleted FROM containers WHERE id=$1 AND type='folder'`,
	model.KindDataFile: `
SELECT c.project_id, u.creator_id, c.is_deleted
FROM containers c LEFT JOIN uploads u ON u.id = c.upload_id
WHERE c.id=$1 AND c.type='data_file'`,
	model.KindFileVersion: `
SELECT c.project_id, u.creator_id, (v.is_deleted OR c.is_deleted)
FROM file_versions v
JOIN containers c ON c.id = v.data_file_id
JOIN uploads u ON u.id = v.upload_id
WHERE v.id=$1`,
	model.KindUpload: `SELECT project_id, creator_id, false FROM uploads WHERE id=$1`,
	model.KindChunk: `
SELECT u.project_id, u.creator_id, false
FROM chunks ch JOIN uploads u ON u.id = ch.upload_id
WHERE ch.id=$1`,
	model.KindProjectPermission: `SELECT project_id, user_id, false FROM project_permissions WHERE id=$1`,
	model.KindAffiliation:       `SELECT project_id, user_id, false FROM affiliations WHERE id=$1`,
	model.KindSoftwareAgent:     `SELECT NULL::uuid, creator_id, is_deleted FROM software_agents WHERE id=$1`,
	model.KindApiKey: `
SELECT NULL::uuid, COALESCE(k.user_id, a.creator_id), COALESCE(a.is_deleted, false)
FROM api_keys k LEFT JOIN software_agents a ON a.id = k.software_agent_id
WHERE k.id=$1`,
	model.KindUser:             `SELECT NULL::uuid, id, false FROM users WHERE id=$1`,
	model.KindStorageProvider:  `SELECT NULL::uuid, NULL::uuid, false FROM storage_providers WHERE id=$1`,
	model.KindSystemPermission: `SELECT NULL::uuid, user_id, false FROM system_permissions WHERE id=$1`,
}

// RefResolver resolves stored resources into policy refs.
type RefResolver struct{ db *DB }

// NewRefResolver constructs a resolver.
func NewRefResolver(db *DB) *RefResolver { return &RefResolver{db: db} }

// Resolve loads the effective project, owner and deletion flag of a resource.
func (r *RefResolver) Resolve(ctx context.Context, kind model.Kind, id uuid.UUID) (model.Ref, error) {
	q, ok := refQueries[kind]
	if !ok {
		return model.Ref{}, fmt.Errorf("resolve: unsupported kind %q", kind)
	}
	var (
		project, owner *uuid.UUID
		deleted        bool
	)
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&project, &owner, &deleted); err != nil {
		return model.Ref{}, notFound(err)
	}
	ref := model.Ref{Kind: kind, ID: id, Deleted: deleted}
	if project != nil {
		ref.ProjectID = *project
	}
	if owner != nil {
		ref.OwnerID = *owner
	}
	return ref, nil
}
