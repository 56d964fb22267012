package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/metrics"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/repository"
)

// Change describes one tracked mutation of one auditable resource.
type Change struct {
	Action  Action
	Kind    model.Kind
	ID      uuid.UUID
	Changes map[string]any
	Comment Comment
}

// Trail appends and reads audit entries.
type Trail struct {
	store  Store
	users  repository.UserRepository
	agents repository.AgentRepository
	log    *zap.Logger
}

// NewTrail constructs a Trail. users and agents resolve attribution identities.
func NewTrail(store Store, users repository.UserRepository, agents repository.AgentRepository, log *zap.Logger) *Trail {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trail{store: store, users: users, agents: agents, log: log}
}

// Record appends one entry for c inside tx. The username is snapshotted from
// the actor; request id and remote address come from ctx. A delegating agent
// is not recorded here, see AttachDelegation.
func (t *Trail) Record(ctx context.Context, tx pgx.Tx, actor model.Actor, c Change) (*Entry, error) {
	if !c.Action.valid() {
		return nil, fmt.Errorf("audit: unknown action %q", c.Action)
	}
	if c.Kind == "" || c.ID == uuid.Nil {
		return nil, errors.New("audit: auditable kind and id are required")
	}
	if c.Comment.IsDelete() && (c.Action != ActionUpdate || !c.Kind.SoftDeletes()) {
		return nil, fmt.Errorf("audit: delete marker on %s %s", c.Action, c.Kind)
	}
	if _, ok := c.Comment.AgentID(); ok {
		return nil, errors.New("audit: delegation must be attached after recording")
	}
	e := &Entry{
		Kind:          c.Kind,
		AuditableID:   c.ID,
		Action:        c.Action,
		Changes:       c.Changes,
		Comment:       c.Comment,
		UserID:        actor.UserID(),
		Username:      actor.User.Username,
		RemoteAddress: remoteAddressFromContext(ctx),
		RequestID:     RequestIDFromContext(ctx),
	}
	if e.Changes == nil {
		e.Changes = map[string]any{}
	}
	if err := t.store.Append(ctx, tx, e); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}
	metrics.ObserveAudit(string(e.Kind), string(e.Action))
	return e, nil
}

// AttachDelegation records agent as the delegating caller of e. It may happen
// once per entry; a second attachment is a ConsistencyError.
func (t *Trail) AttachDelegation(ctx context.Context, tx pgx.Tx, e *Entry, agent model.SoftwareAgent) (*Entry, error) {
	if agent.ID == uuid.Nil {
		return nil, errors.New("audit: agent id is required")
	}
	if _, ok := e.Comment.AgentID(); ok {
		return nil, &errs.ConsistencyError{Op: "attach delegation", Err: fmt.Errorf("entry %s already has an agent", e.ID)}
	}
	c := e.Comment.withAgent(agent.ID)
	updated, err := t.store.SetDelegation(ctx, tx, e.ID, c)
	if err != nil {
		return nil, fmt.Errorf("attach delegation: %w", err)
	}
	if !updated {
		return nil, &errs.ConsistencyError{Op: "attach delegation", Err: fmt.Errorf("entry %s not amendable", e.ID)}
	}
	out := *e
	out.Comment = c
	return &out, nil
}

// History returns the entries of one resource with version > after, in
// creation order. Passing the last seen version resumes a previous read.
func (t *Trail) History(ctx context.Context, kind model.Kind, id uuid.UUID, after int) ([]Entry, error) {
	if after < 0 {
		after = 0
	}
	entries, err := t.store.List(ctx, kind, id, after)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	return entries, nil
}
