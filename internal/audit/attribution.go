package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
)

// Skew is the tolerance for comparing audit timestamps with wall-clock reads.
const Skew = time.Second

// SameInstant reports whether a and b are within Skew of each other.
func SameInstant(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= Skew
}

// AgentRef identifies a delegating software agent.
type AgentRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Attributed identifies who performed a mutation.
type Attributed struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	FullName string    `json:"full_name"`
	Agent    *AgentRef `json:"agent,omitempty"`
}

// Summary is the attribution view of a resource's history. A *By field is nil
// when the corresponding entry has no user or the user no longer resolves.
type Summary struct {
	CreatedOn     *time.Time  `json:"created_on"`
	CreatedBy     *Attributed `json:"created_by,omitempty"`
	LastUpdatedOn *time.Time  `json:"last_updated_on"`
	LastUpdatedBy *Attributed `json:"last_updated_by,omitempty"`
	DeletedOn     *time.Time  `json:"deleted_on"`
	DeletedBy     *Attributed `json:"deleted_by,omitempty"`
}

// Attribution derives the creation, last update and deletion attribution of
// a resource. For kinds deleted logically the deletion is the first update
// carrying the delete marker; otherwise it is the destroy entry. Delete-marker
// updates never count as the last update.
func (t *Trail) Attribution(ctx context.Context, kind model.Kind, id uuid.UUID) (Summary, error) {
	entries, err := t.store.List(ctx, kind, id, 0)
	if err != nil {
		return Summary{}, fmt.Errorf("list audits: %w", err)
	}

	var created, updated, deleted *Entry
	for i := range entries {
		e := &entries[i]
		switch {
		case e.Action == ActionCreate:
			if created == nil {
				created = e
			}
		case e.Action == ActionUpdate && e.Comment.IsDelete():
			// A delete-marker update is the deletion event only. It never
			// counts as the last update, so LastUpdated* stays on the last
			// ordinary update even after a logical delete.
			if kind.SoftDeletes() && deleted == nil {
				deleted = e
			}
		case e.Action == ActionUpdate:
			updated = e
		case e.Action == ActionDestroy:
			if !kind.SoftDeletes() && deleted == nil {
				deleted = e
			}
		}
	}

	var s Summary
	if s.CreatedOn, s.CreatedBy, err = t.attribute(ctx, created); err != nil {
		return Summary{}, err
	}
	if s.LastUpdatedOn, s.LastUpdatedBy, err = t.attribute(ctx, updated); err != nil {
		return Summary{}, err
	}
	if s.DeletedOn, s.DeletedBy, err = t.attribute(ctx, deleted); err != nil {
		return Summary{}, err
	}
	return s, nil
}

func (t *Trail) attribute(ctx context.Context, e *Entry) (*time.Time, *Attributed, error) {
	if e == nil {
		return nil, nil, nil
	}
	on := e.CreatedAt
	if e.UserID == uuid.Nil {
		return &on, nil, nil
	}
	u, err := t.users.GetByID(ctx, e.UserID)
	if errors.Is(err, errs.ErrNotFound) {
		t.log.Debug("audit user not resolvable", zap.String("user_id", e.UserID.String()))
		return &on, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve audit user: %w", err)
	}
	by := &Attributed{ID: u.ID, Username: u.Username, FullName: u.DisplayName}
	if agentID, ok := e.Comment.AgentID(); ok {
		a, err := t.agents.Get(ctx, agentID)
		switch {
		case errors.Is(err, errs.ErrNotFound):
		case err != nil:
			return nil, nil, fmt.Errorf("resolve audit agent: %w", err)
		default:
			by.Agent = &AgentRef{ID: a.ID, Name: a.Name}
		}
	}
	return &on, by, nil
}
