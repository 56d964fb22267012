// Package audit records an append-only, versioned history of every tracked
// mutation and derives creation, update and deletion attribution from it.
package audit

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/model"
)

// Action is the kind of mutation an entry records.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
)

func (a Action) valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDestroy:
		return true
	}
	return false
}

// Entry is one immutable audit row. Only the comment may change, once, to
// attach the delegating agent.
type Entry struct {
	ID            uuid.UUID
	Kind          model.Kind
	AuditableID   uuid.UUID
	Action        Action
	Changes       map[string]any
	Version       int
	Comment       Comment
	UserID        uuid.UUID // uuid.Nil for rows written without an actor
	Username      string
	RemoteAddress string
	RequestID     string
	CreatedAt     time.Time
}

// Store persists audit rows.
type Store interface {
	// Append inserts e with the next version for its auditable and fills in
	// ID, Version and CreatedAt.
	Append(ctx context.Context, tx pgx.Tx, e *Entry) error
	// SetDelegation stores c on entry id only if no agent is recorded yet.
	// It reports whether a row was updated.
	SetDelegation(ctx context.Context, tx pgx.Tx, id uuid.UUID, c Comment) (bool, error)
	// List returns the entries of one auditable with version > after, in
	// creation order.
	List(ctx context.Context, kind model.Kind, id uuid.UUID, after int) ([]Entry, error)
}
