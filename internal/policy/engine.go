package policy

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/metrics"
	"github.com/and161185/dataservice/internal/model"
)

// GrantReader exposes read-only, strongly typed grant lookups for one user.
// Each call reads the current rows; nothing is cached between requests.
type GrantReader interface {
	// SystemPermissions returns the user's system grants with their roles.
	SystemPermissions(ctx context.Context, userID uuid.UUID) ([]model.SystemPermission, error)
	// ProjectPermissions returns the user's project grants with their roles.
	ProjectPermissions(ctx context.Context, userID uuid.UUID) ([]model.ProjectPermission, error)
	// Affiliations returns the user's project affiliations.
	Affiliations(ctx context.Context, userID uuid.UUID) ([]model.Affiliation, error)
}

// Engine evaluates policies against the actor's current grants. It holds no
// grant state: each call re-reads grants, so revocation applies to the next request.
type Engine struct {
	grants GrantReader
	reg    *Registry
	log    *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(grants GrantReader, reg *Registry, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{grants: grants, reg: reg, log: log}
}

// Grants loads and resolves the acting user's grants. A delegating agent acts
// with the permissions of the user it acts for.
func (e *Engine) Grants(ctx context.Context, actor model.Actor) (*Grants, error) {
	uid := actor.UserID()
	sys, err := e.grants.SystemPermissions(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("load system permissions: %w", err)
	}
	pp, err := e.grants.ProjectPermissions(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("load project permissions: %w", err)
	}
	aff, err := e.grants.Affiliations(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("load affiliations: %w", err)
	}
	return Resolve(uid, sys, pp, aff), nil
}

// Can reports whether actor may perform a on ref.
func (e *Engine) Can(ctx context.Context, actor model.Actor, ref model.Ref, a model.Action) (bool, error) {
	p, err := e.reg.Policy(ref.Kind)
	if err != nil {
		return false, err
	}
	g, err := e.Grants(ctx, actor)
	if err != nil {
		return false, err
	}
	ok := p.Can(g, ref, a)
	metrics.ObserveDecision(string(ref.Kind), string(a), ok)
	return ok, nil
}

// Authorize is Can with denial reported as an AuthorizationError, which callers
// surface exactly like a missing resource.
func (e *Engine) Authorize(ctx context.Context, actor model.Actor, ref model.Ref, a model.Action) error {
	ok, err := e.Can(ctx, actor, ref, a)
	if err != nil {
		return err
	}
	if !ok {
		e.log.Debug("authorization denied",
			zap.String("user_id", actor.UserID().String()),
			zap.String("resource", ref.String()),
			zap.String("action", string(a)))
		return denied(ref, a)
	}
	return nil
}

// AuthorizeHistory authorizes reading the audit history of ref. It applies the
// show rule as if the resource were not deleted, so logically deleted
// resources stay addressable for history.
func (e *Engine) AuthorizeHistory(ctx context.Context, actor model.Actor, ref model.Ref) error {
	live := ref
	live.Deleted = false
	return e.Authorize(ctx, actor, live, model.ActionShow)
}

// Scope returns the predicate of kind resources on which actor may perform a.
func (e *Engine) Scope(ctx context.Context, actor model.Actor, kind model.Kind, a model.Action) (Predicate, error) {
	p, err := e.reg.Policy(kind)
	if err != nil {
		return Predicate{}, err
	}
	g, err := e.Grants(ctx, actor)
	if err != nil {
		return Predicate{}, err
	}
	return p.Scope(g, a), nil
}

func denied(ref model.Ref, a model.Action) error {
	return &errs.AuthorizationError{Kind: string(ref.Kind), ID: ref.ID.String(), Action: string(a)}
}
