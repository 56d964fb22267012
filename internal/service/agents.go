package service

import (
	"context"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/dataservice/internal/audit"
	pkgcrypto "github.com/and161185/dataservice/internal/crypto"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/policy"
	"github.com/and161185/dataservice/internal/repository"
)

// AgentService manages software agents and API keys.
type AgentService interface {
	Create(ctx context.Context, actor model.Actor, name, description, repoURL string) (*model.SoftwareAgent, error)
	Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.SoftwareAgent, error)
	// Delete marks the agent deleted and revokes its key.
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
	// GenerateAgentKey replaces the agent's key and returns the new plaintext key.
	GenerateAgentKey(ctx context.Context, actor model.Actor, agentID uuid.UUID) (string, error)
	RevokeAgentKey(ctx context.Context, actor model.Actor, agentID uuid.UUID) error
	// GenerateUserKey replaces the actor's own key and returns the new plaintext key.
	GenerateUserKey(ctx context.Context, actor model.Actor) (string, error)
	RevokeUserKey(ctx context.Context, actor model.Actor) error
}

type AgentServiceImpl struct {
	mut    *Mutator
	engine *policy.Engine
	agents repository.AgentRepository
	keys   repository.ApiKeyRepository
}

// NewAgentService constructs AgentService.
func NewAgentService(mut *Mutator, engine *policy.Engine, agents repository.AgentRepository, keys repository.ApiKeyRepository) *AgentServiceImpl {
	return &AgentServiceImpl{mut: mut, engine: engine, agents: agents, keys: keys}
}

func agentRef(a *model.SoftwareAgent) model.Ref {
	return model.Ref{Kind: model.KindSoftwareAgent, ID: a.ID, OwnerID: a.CreatorID, Deleted: a.IsDeleted}
}

// Create registers an agent owned by the actor.
func (s *AgentServiceImpl) Create(ctx context.Context, actor model.Actor, name, description, repoURL string) (*model.SoftwareAgent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Invalid("name", "must not be blank")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	a := &model.SoftwareAgent{ID: id, Name: name, Description: description, RepoURL: repoURL, CreatorID: actor.UserID()}
	if err := s.engine.Authorize(ctx, actor, agentRef(a), model.ActionCreate); err != nil {
		return nil, err
	}
	_, err = s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		if err := s.agents.Insert(ctx, tx, a); err != nil {
			return nil, err
		}
		return []audit.Change{{
			Action: audit.ActionCreate, Kind: model.KindSoftwareAgent, ID: a.ID,
			Changes: map[string]any{"name": a.Name, "description": a.Description, "repo_url": a.RepoURL},
			Comment: audit.Created(),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Get loads an agent the actor may see.
func (s *AgentServiceImpl) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.SoftwareAgent, error) {
	return s.load(ctx, actor, id, model.ActionShow)
}

// Delete marks the agent deleted and removes its key in the same transaction.
func (s *AgentServiceImpl) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	_, err := s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		a, err := s.agents.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, hidden(err, model.KindSoftwareAgent, id, model.ActionDestroy)
		}
		if err := s.engine.Authorize(ctx, actor, agentRef(a), model.ActionDestroy); err != nil {
			return nil, err
		}
		if err := s.agents.MarkDeleted(ctx, tx, id); err != nil {
			return nil, hidden(err, model.KindSoftwareAgent, id, model.ActionDestroy)
		}
		removed, err := s.keys.DeleteForOwner(ctx, tx, uuid.Nil, id)
		if err != nil {
			return nil, err
		}
		changes := []audit.Change{{
			Action: audit.ActionUpdate, Kind: model.KindSoftwareAgent, ID: id,
			Changes: map[string]any{"is_deleted": []any{false, true}}, Comment: audit.Deleted(),
		}}
		return append(changes, keyDestroyed(removed)...), nil
	})
	return err
}

// keyGuard authorizes a key change from inside its transaction.
type keyGuard func(ctx context.Context, tx pgx.Tx) error

// agentKey locks the agent row and authorizes a on its key, so no key is
// issued to an agent deleted meanwhile.
func (s *AgentServiceImpl) agentKey(actor model.Actor, agentID uuid.UUID, a model.Action) keyGuard {
	return func(ctx context.Context, tx pgx.Tx) error {
		agent, err := s.agents.GetForUpdate(ctx, tx, agentID)
		if err != nil {
			return hidden(err, model.KindSoftwareAgent, agentID, a)
		}
		ref := model.Ref{Kind: model.KindApiKey, OwnerID: agent.CreatorID, Deleted: agent.IsDeleted}
		return s.engine.Authorize(ctx, actor, ref, a)
	}
}

func (s *AgentServiceImpl) userKey(actor model.Actor, a model.Action) keyGuard {
	return func(ctx context.Context, _ pgx.Tx) error {
		return s.engine.Authorize(ctx, actor, model.Ref{Kind: model.KindApiKey, OwnerID: actor.UserID()}, a)
	}
}

// GenerateAgentKey replaces the agent's key.
func (s *AgentServiceImpl) GenerateAgentKey(ctx context.Context, actor model.Actor, agentID uuid.UUID) (string, error) {
	return s.rotate(ctx, actor, uuid.Nil, agentID, s.agentKey(actor, agentID, model.ActionCreate))
}

// RevokeAgentKey removes the agent's key.
func (s *AgentServiceImpl) RevokeAgentKey(ctx context.Context, actor model.Actor, agentID uuid.UUID) error {
	return s.revoke(ctx, actor, uuid.Nil, agentID, s.agentKey(actor, agentID, model.ActionDestroy))
}

// GenerateUserKey replaces the actor's own key.
func (s *AgentServiceImpl) GenerateUserKey(ctx context.Context, actor model.Actor) (string, error) {
	return s.rotate(ctx, actor, actor.UserID(), uuid.Nil, s.userKey(actor, model.ActionCreate))
}

// RevokeUserKey removes the actor's own key.
func (s *AgentServiceImpl) RevokeUserKey(ctx context.Context, actor model.Actor) error {
	return s.revoke(ctx, actor, actor.UserID(), uuid.Nil, s.userKey(actor, model.ActionDestroy))
}

// rotate drops the owner's key, if any, and stores a new one.
func (s *AgentServiceImpl) rotate(ctx context.Context, actor model.Actor, userID, agentID uuid.UUID, guard keyGuard) (string, error) {
	g, err := pkgcrypto.NewKey()
	if err != nil {
		return "", err
	}
	k := &model.ApiKey{ID: g.ID, UserID: userID, SoftwareAgentID: agentID, Salt: g.Salt, Hash: g.Hash}
	_, err = s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		if err := guard(ctx, tx); err != nil {
			return nil, err
		}
		removed, err := s.keys.DeleteForOwner(ctx, tx, userID, agentID)
		if err != nil {
			return nil, err
		}
		if err := s.keys.Insert(ctx, tx, k); err != nil {
			return nil, err
		}
		return append(keyDestroyed(removed), audit.Change{
			Action: audit.ActionCreate, Kind: model.KindApiKey, ID: k.ID,
			Changes: keyOwner(k), Comment: audit.Created(),
		}), nil
	})
	if err != nil {
		return "", err
	}
	return g.Plain, nil
}

func (s *AgentServiceImpl) revoke(ctx context.Context, actor model.Actor, userID, agentID uuid.UUID, guard keyGuard) error {
	_, err := s.mut.Record(ctx, actor, func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error) {
		if err := guard(ctx, tx); err != nil {
			return nil, err
		}
		removed, err := s.keys.DeleteForOwner(ctx, tx, userID, agentID)
		if err != nil {
			return nil, err
		}
		if len(removed) == 0 {
			return nil, &errs.AuthorizationError{Kind: string(model.KindApiKey), ID: "", Action: string(model.ActionDestroy)}
		}
		return keyDestroyed(removed), nil
	})
	return err
}

func (s *AgentServiceImpl) load(ctx context.Context, actor model.Actor, id uuid.UUID, a model.Action) (*model.SoftwareAgent, error) {
	agent, err := s.agents.Get(ctx, id)
	if err != nil {
		return nil, hidden(err, model.KindSoftwareAgent, id, a)
	}
	if err := s.engine.Authorize(ctx, actor, agentRef(agent), a); err != nil {
		return nil, err
	}
	return agent, nil
}

func keyDestroyed(keys []model.ApiKey) []audit.Change {
	out := make([]audit.Change, 0, len(keys))
	for i := range keys {
		out = append(out, audit.Change{
			Action: audit.ActionDestroy, Kind: model.KindApiKey, ID: keys[i].ID,
			Changes: keyOwner(&keys[i]), Comment: audit.Destroyed(),
		})
	}
	return out
}

func keyOwner(k *model.ApiKey) map[string]any {
	if k.SoftwareAgentID != uuid.Nil {
		return map[string]any{"software_agent_id": k.SoftwareAgentID.String()}
	}
	return map[string]any{"user_id": k.UserID.String()}
}
