package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
)

// AuditRepo implements audit.Store using PostgreSQL.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

var _ audit.Store = (*AuditRepo)(nil)

// Append inserts e with the next version for its auditable. Two writers
// racing on one auditable collide on the version unique key. created_at is
// the wall clock at insert, so entries of one transaction differ.
func (r *AuditRepo) Append(ctx context.Context, tx pgx.Tx, e *audit.Entry) error {
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return fmt.Errorf("encode audited changes: %w", err)
	}
	comment, err := json.Marshal(e.Comment)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO audits (auditable_id, auditable_type, user_id, username, action, audited_changes,
                    version, comment, remote_address, request_uuid, created_at)
SELECT $1::uuid, $2::text, $3::uuid, $4::text, $5::text, $6::jsonb,
       COALESCE(MAX(version), 0) + 1, $7::jsonb, $8::text, $9::text, clock_timestamp()
FROM audits WHERE auditable_type=$2 AND auditable_id=$1
RETURNING id, version, created_at`
	err = tx.QueryRow(ctx, q,
		e.AuditableID, string(e.Kind), nullUUID(e.UserID), e.Username, string(e.Action), changes,
		comment, e.RemoteAddress, e.RequestID,
	).Scan(&e.ID, &e.Version, &e.CreatedAt)
	if isUniqueViolation(err) {
		return &errs.ConsistencyError{Op: "append audit", Err: err}
	}
	return err
}

// SetDelegation stores c on entry id only if no agent is recorded yet.
func (r *AuditRepo) SetDelegation(ctx context.Context, tx pgx.Tx, id uuid.UUID, c audit.Comment) (bool, error) {
	comment, err := json.Marshal(c)
	if err != nil {
		return false, err
	}
	const q = `
UPDATE audits SET comment = comment || $2::jsonb
WHERE id=$1 AND NOT (comment ? 'software_agent_id')`
	tag, err := tx.Exec(ctx, q, id, comment)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// List returns the entries of one auditable with version > after, in version order.
func (r *AuditRepo) List(ctx context.Context, kind model.Kind, id uuid.UUID, after int) ([]audit.Entry, error) {
	const q = `
SELECT id, auditable_id, auditable_type, user_id, username, action, audited_changes,
       version, comment, remote_address, request_uuid, created_at
FROM audits
WHERE auditable_type=$1 AND auditable_id=$2 AND version > $3
ORDER BY version`
	rows, err := r.db.Pool.Query(ctx, q, string(kind), id, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e                    audit.Entry
			user                 *uuid.UUID
			kindStr, action      string
			changes, commentJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.AuditableID, &kindStr, &user, &e.Username, &action, &changes,
			&e.Version, &commentJSON, &e.RemoteAddress, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = model.Kind(kindStr)
		e.Action = audit.Action(action)
		if user != nil {
			e.UserID = *user
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, fmt.Errorf("decode audited changes: %w", err)
			}
		}
		if err := json.Unmarshal(commentJSON, &e.Comment); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
