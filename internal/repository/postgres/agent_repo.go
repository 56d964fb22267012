package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
)

// AgentRepo implements AgentRepository and ApiKeyRepository using PostgreSQL.
type AgentRepo struct{ db *DB }

// NewAgentRepo constructs an agent repository.
func NewAgentRepo(db *DB) *AgentRepo { return &AgentRepo{db: db} }

// Insert adds a software agent.
func (r *AgentRepo) Insert(ctx context.Context, tx pgx.Tx, a *model.SoftwareAgent) error {
	const q = `
INSERT INTO software_agents (id, name, description, repo_url, creator_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`
	return tx.QueryRow(ctx, q, a.ID, a.Name, a.Description, a.RepoURL, a.CreatorID).Scan(&a.CreatedAt)
}

// Get loads an agent by ID regardless of its deletion flag.
func (r *AgentRepo) Get(ctx context.Context, id uuid.UUID) (*model.SoftwareAgent, error) {
	const q = `
SELECT id, name, description, repo_url, creator_id, is_deleted, created_at
FROM software_agents WHERE id=$1`
	var a model.SoftwareAgent
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&a.ID, &a.Name, &a.Description, &a.RepoURL, &a.CreatorID, &a.IsDeleted, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// GetForUpdate loads an agent and locks its row until tx ends.
func (r *AgentRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.SoftwareAgent, error) {
	const q = `
SELECT id, name, description, repo_url, creator_id, is_deleted, created_at
FROM software_agents WHERE id=$1 FOR UPDATE`
	var a model.SoftwareAgent
	err := tx.QueryRow(ctx, q, id).Scan(&a.ID, &a.Name, &a.Description, &a.RepoURL, &a.CreatorID, &a.IsDeleted, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// MarkDeleted sets the deletion flag of a live agent.
func (r *AgentRepo) MarkDeleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	const q = `UPDATE software_agents SET is_deleted=true, updated_at=now() WHERE id=$1 AND NOT is_deleted`
	return affected(tx.Exec(ctx, q, id))
}

// KeyRepo stores hashed API keys.
type KeyRepo struct{ db *DB }

// NewKeyRepo constructs an API key repository.
func NewKeyRepo(db *DB) *KeyRepo { return &KeyRepo{db: db} }

// Insert adds a key. Each user and each agent holds at most one key.
func (r *KeyRepo) Insert(ctx context.Context, tx pgx.Tx, k *model.ApiKey) error {
	const q = `
INSERT INTO api_keys (id, user_id, software_agent_id, salt, hash)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`
	err := tx.QueryRow(ctx, q, k.ID, nullUUID(k.UserID), nullUUID(k.SoftwareAgentID), k.Salt, k.Hash).Scan(&k.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get loads a key by its public id.
func (r *KeyRepo) Get(ctx context.Context, id uuid.UUID) (*model.ApiKey, error) {
	const q = `
SELECT id, user_id, software_agent_id, salt, hash, created_at
FROM api_keys WHERE id=$1`
	k, err := scanKey(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err)
	}
	return k, nil
}

// DeleteForOwner removes every key of a user (agentID == uuid.Nil) or of an agent.
func (r *KeyRepo) DeleteForOwner(ctx context.Context, tx pgx.Tx, userID, agentID uuid.UUID) ([]model.ApiKey, error) {
	var (
		rows pgx.Rows
		err  error
	)
	const cols = `id, user_id, software_agent_id, salt, hash, created_at`
	if agentID != uuid.Nil {
		rows, err = tx.Query(ctx, `DELETE FROM api_keys WHERE software_agent_id=$1 RETURNING `+cols, agentID)
	} else {
		rows, err = tx.Query(ctx, `DELETE FROM api_keys WHERE user_id=$1 RETURNING `+cols, userID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ApiKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

func scanKey(row pgx.Row) (*model.ApiKey, error) {
	var (
		k             model.ApiKey
		user, agentID *uuid.UUID
	)
	if err := row.Scan(&k.ID, &user, &agentID, &k.Salt, &k.Hash, &k.CreatedAt); err != nil {
		return nil, err
	}
	if user != nil {
		k.UserID = *user
	}
	if agentID != nil {
		k.SoftwareAgentID = *agentID
	}
	return &k, nil
}
