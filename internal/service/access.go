package service

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/policy"
	"github.com/and161185/dataservice/internal/repository"
)

// AccessService answers authorization questions about stored resources and
// serves their audit history.
type AccessService interface {
	// Authorize checks action on the resource (kind, id). A denial and a
	// missing resource produce the same AuthorizationError.
	Authorize(ctx context.Context, actor model.Actor, kind model.Kind, id uuid.UUID, a model.Action) error
	// Scope returns the predicate of kind resources the actor may act on.
	Scope(ctx context.Context, actor model.Actor, kind model.Kind, a model.Action) (policy.Predicate, error)
	// History returns audit entries of the resource with version > after.
	History(ctx context.Context, actor model.Actor, kind model.Kind, id uuid.UUID, after int) ([]audit.Entry, error)
	// Attribution summarizes who created, last updated and deleted the resource.
	Attribution(ctx context.Context, actor model.Actor, kind model.Kind, id uuid.UUID) (audit.Summary, error)
}

type AccessServiceImpl struct {
	engine *policy.Engine
	refs   repository.RefResolver
	trail  *audit.Trail
}

// NewAccessService constructs AccessService.
func NewAccessService(engine *policy.Engine, refs repository.RefResolver, trail *audit.Trail) *AccessServiceImpl {
	return &AccessServiceImpl{engine: engine, refs: refs, trail: trail}
}

// Authorize resolves the resource and runs the point check.
func (s *AccessServiceImpl) Authorize(ctx context.Context, actor model.Actor, kind model.Kind, id uuid.UUID, a model.Action) error {
	ref, err := s.resolve(ctx, kind, id, a)
	if err != nil {
		return err
	}
	return s.engine.Authorize(ctx, actor, ref, a)
}

// Scope delegates to the policy engine.
func (s *AccessServiceImpl) Scope(ctx context.Context, actor model.Actor, kind model.Kind, a model.Action) (policy.Predicate, error) {
	return s.engine.Scope(ctx, actor, kind, a)
}

// History authorizes with the show rule and reads the trail. Logically
// deleted resources keep their history readable.
func (s *AccessServiceImpl) History(ctx context.Context, actor model.Actor, kind model.Kind, id uuid.UUID, after int) ([]audit.Entry, error) {
	ref, err := s.resolve(ctx, kind, id, model.ActionShow)
	if err != nil {
		return nil, err
	}
	if err := s.engine.AuthorizeHistory(ctx, actor, ref); err != nil {
		return nil, err
	}
	return s.trail.History(ctx, kind, id, after)
}

// Attribution is authorized like History.
func (s *AccessServiceImpl) Attribution(ctx context.Context, actor model.Actor, kind model.Kind, id uuid.UUID) (audit.Summary, error) {
	ref, err := s.resolve(ctx, kind, id, model.ActionShow)
	if err != nil {
		return audit.Summary{}, err
	}
	if err := s.engine.AuthorizeHistory(ctx, actor, ref); err != nil {
		return audit.Summary{}, err
	}
	return s.trail.Attribution(ctx, kind, id)
}

// resolve maps a missing resource to the same error a denial produces.
func (s *AccessServiceImpl) resolve(ctx context.Context, kind model.Kind, id uuid.UUID, a model.Action) (model.Ref, error) {
	ref, err := s.refs.Resolve(ctx, kind, id)
	if errors.Is(err, errs.ErrNotFound) {
		return model.Ref{}, &errs.AuthorizationError{Kind: string(kind), ID: id.String(), Action: string(a)}
	}
	return ref, err
}
