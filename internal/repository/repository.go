// Package repository defines storage interfaces implemented by concrete backends.
//
// Read methods run against the pool; write methods take the transaction of the
// mutation they belong to, so a resource write and its audit row commit together.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/policy"
)

// TxRunner runs fn inside one database transaction. The transaction commits
// only if fn returns nil.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Page bounds a listing query.
type Page struct {
	Offset int
	Limit  int
}

// UserRepository provides access to user accounts.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, tx pgx.Tx, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// GrantWriter mutates grants inside a caller-provided transaction.
type GrantWriter interface {
	// UpsertProjectPermission sets the user's role on a project; created is false when an
	// existing grant was replaced. p.ID is filled in either way.
	UpsertProjectPermission(ctx context.Context, tx pgx.Tx, p *model.ProjectPermission) (created bool, err error)
	// DeleteProjectPermission removes the user's grant on a project and returns it.
	DeleteProjectPermission(ctx context.Context, tx pgx.Tx, projectID, userID uuid.UUID) (model.ProjectPermission, error)
	// InsertSystemPermission adds a system grant.
	InsertSystemPermission(ctx context.Context, tx pgx.Tx, p *model.SystemPermission) error
	// UpsertAffiliation sets the user's project role on a project.
	UpsertAffiliation(ctx context.Context, tx pgx.Tx, a *model.Affiliation) (created bool, err error)
	// DeleteAffiliation removes the user's affiliation with a project and returns it.
	DeleteAffiliation(ctx context.Context, tx pgx.Tx, projectID, userID uuid.UUID) (model.Affiliation, error)
}

// RoleRepository provides the persisted role catalog.
type RoleRepository interface {
	// AuthRole loads an auth role, deprecated ones included.
	AuthRole(ctx context.Context, id string) (model.AuthRole, error)
	// ProjectRole loads a project role, deprecated ones included.
	ProjectRole(ctx context.Context, id string) (model.ProjectRole, error)
	// UpsertAuthRole inserts or updates a role definition.
	UpsertAuthRole(ctx context.Context, r model.AuthRole) error
	// UpsertProjectRole inserts or updates a project role definition.
	UpsertProjectRole(ctx context.Context, r model.ProjectRole) error
}

// ProjectRepository provides access to projects.
type ProjectRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, p *model.Project) error
	// Get loads a project by ID regardless of its deletion flag.
	Get(ctx context.Context, id uuid.UUID) (*model.Project, error)
	// List returns the projects matching pred, ordered by name.
	List(ctx context.Context, pred policy.Predicate, page Page) ([]model.Project, error)
	// GetForUpdate loads a project and locks its row until tx ends.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Project, error)
	// Update writes name, description and etag of a live project. A deleted or
	// missing project yields ErrNotFound.
	Update(ctx context.Context, tx pgx.Tx, p *model.Project) error
	// MarkDeleted sets the deletion flag of a live project.
	MarkDeleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// FolderRepository provides access to folders and their hierarchy.
type FolderRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, f *model.Folder) error
	// Get loads a folder by ID regardless of its deletion flag.
	Get(ctx context.Context, id uuid.UUID) (*model.Folder, error)
	// List returns the folders of a project matching pred, ordered by name.
	List(ctx context.Context, projectID uuid.UUID, pred policy.Predicate, page Page) ([]model.Folder, error)
	// Lineage returns id followed by its ancestors up to the project root.
	Lineage(ctx context.Context, tx pgx.Tx, id uuid.UUID) ([]uuid.UUID, error)
	// LockHierarchy serializes hierarchy changes within one project until tx ends.
	LockHierarchy(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) error
	// GetForUpdate loads a folder and locks its row until tx ends.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Folder, error)
	// Update writes name and parent of a live folder. A deleted or missing
	// folder yields ErrNotFound.
	Update(ctx context.Context, tx pgx.Tx, f *model.Folder) error
	// MarkDeleted sets the deletion flag of a live folder.
	MarkDeleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// AgentRepository provides access to software agents.
type AgentRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, a *model.SoftwareAgent) error
	// Get loads an agent by ID regardless of its deletion flag.
	Get(ctx context.Context, id uuid.UUID) (*model.SoftwareAgent, error)
	// GetForUpdate loads an agent and locks its row until tx ends.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.SoftwareAgent, error)
	// MarkDeleted sets the deletion flag of a live agent.
	MarkDeleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// ApiKeyRepository stores hashed API keys.
type ApiKeyRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, k *model.ApiKey) error
	// Get loads a key by its public id.
	Get(ctx context.Context, id uuid.UUID) (*model.ApiKey, error)
	// DeleteForOwner removes every key of a user (agentID == uuid.Nil) or of an agent.
	DeleteForOwner(ctx context.Context, tx pgx.Tx, userID, agentID uuid.UUID) ([]model.ApiKey, error)
}

// RefResolver is the resource-layer boundary: it resolves a stored resource into
// the facts the policy engine reads (effective project, owner, deletion flag).
type RefResolver interface {
	Resolve(ctx context.Context, kind model.Kind, id uuid.UUID) (model.Ref, error)
}
