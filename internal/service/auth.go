package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/dataservice/internal/crypto"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/limiter"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/repository"
)

// AuthService turns bearer tokens into actors and issues access tokens.
type AuthService interface {
	// Authenticate validates token and loads the acting user and, for agent
	// tokens, the delegating software agent.
	Authenticate(ctx context.Context, token string) (model.Actor, error)
	// IssueUserToken signs an access token for a user.
	IssueUserToken(ctx context.Context, userID uuid.UUID) (model.Tokens, error)
	// Login exchanges a username and password for an access token. Failures
	// are rate limited per (username, ip).
	Login(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error)
	// IssueAgentToken exchanges an agent key and a user key for an access
	// token with which the agent acts for the user. Failures are rate limited
	// per (agent key, ip).
	IssueAgentToken(ctx context.Context, agentKey, userKey, ip string) (model.Tokens, error)
}

// accessClaims are the JWT claims of an access token. Agent tokens also pin
// both api keys, so revoking either key invalidates the token.
type accessClaims struct {
	jwt.RegisteredClaims
	AgentID    string `json:"agent_id,omitempty"`
	AgentKeyID string `json:"agent_key_id,omitempty"`
	UserKeyID  string `json:"user_key_id,omitempty"`
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	agents    repository.AgentRepository
	keys      repository.ApiKeyRepository
	signKey   []byte
	accessTTL time.Duration
	agentTTL  time.Duration
	lim       limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	users repository.UserRepository,
	agents repository.AgentRepository,
	keys repository.ApiKeyRepository,
	signKey []byte,
	accessTTL, agentTTL time.Duration,
	lim limiter.Limiter,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		users: users, agents: agents, keys: keys,
		signKey: signKey, accessTTL: accessTTL, agentTTL: agentTTL, lim: lim,
	}
}

// Authenticate parses an HS256 access token. Every call re-reads the user and,
// for agent tokens, checks that the agent is live and both keys still exist.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, token string) (model.Actor, error) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(30*time.Second), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return model.Actor{}, errs.ErrUnauthenticated
	}

	userID, err := uuid.FromString(claims.Subject)
	if err != nil {
		return model.Actor{}, errs.ErrUnauthenticated
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.Actor{}, unauthenticated(err)
	}
	actor := model.Actor{User: *u}
	if claims.AgentID == "" {
		return actor, nil
	}

	agentID, err := uuid.FromString(claims.AgentID)
	if err != nil {
		return model.Actor{}, errs.ErrUnauthenticated
	}
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return model.Actor{}, unauthenticated(err)
	}
	if agent.IsDeleted {
		return model.Actor{}, errs.ErrUnauthenticated
	}
	if err := s.keyStillIssued(ctx, claims.AgentKeyID, uuid.Nil, agent.ID); err != nil {
		return model.Actor{}, err
	}
	if err := s.keyStillIssued(ctx, claims.UserKeyID, u.ID, uuid.Nil); err != nil {
		return model.Actor{}, err
	}
	actor.Agent = agent
	return actor, nil
}

func (s *AuthServiceImpl) keyStillIssued(ctx context.Context, rawID string, userID, agentID uuid.UUID) error {
	id, err := uuid.FromString(rawID)
	if err != nil {
		return errs.ErrUnauthenticated
	}
	k, err := s.keys.Get(ctx, id)
	if err != nil {
		return unauthenticated(err)
	}
	if k.UserID != userID || k.SoftwareAgentID != agentID {
		return errs.ErrUnauthenticated
	}
	return nil
}

// IssueUserToken signs an access token for userID.
func (s *AuthServiceImpl) IssueUserToken(ctx context.Context, userID uuid.UUID) (model.Tokens, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return model.Tokens{}, err
	}
	return s.sign(accessClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()}}, s.accessTTL)
}

// Login authenticates with rate limiting by (username, ip). A missing user and
// a wrong password fail the same way.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	limKey := loginLimitPrefix + username
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, limKey, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errs.IsNotFound(err) {
		return model.Tokens{}, model.User{}, err
	}
	if err != nil || !pkgcrypto.VerifyPassword(password, u.SaltAuth, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, limKey, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		return model.Tokens{}, model.User{}, errs.ErrUnauthenticated
	}

	_ = s.lim.Success(ctx, limKey, ipHash)
	tok, err := s.sign(accessClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: u.ID.String()}}, s.accessTTL)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tok, *u, nil
}

// loginLimitPrefix keeps username limiter keys apart from api key ids.
const loginLimitPrefix = "user:"

// IssueAgentToken verifies both keys and signs a delegated access token.
func (s *AuthServiceImpl) IssueAgentToken(ctx context.Context, agentKey, userKey, ip string) (model.Tokens, error) {
	agentKeyID, agentSecret, err := pkgcrypto.ParseKey(agentKey)
	if err != nil {
		return model.Tokens{}, errs.ErrUnauthenticated
	}
	limKey := agentKeyID.String()
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, limKey, ipHash)
	if err != nil {
		return model.Tokens{}, err
	}
	if !allowed {
		return model.Tokens{}, errs.ErrRateLimited
	}

	claims, err := s.verifyExchange(ctx, agentKeyID, agentSecret, userKey)
	if err != nil {
		if !errors.Is(err, errs.ErrUnauthenticated) {
			return model.Tokens{}, err
		}
		if blocked, _, ferr := s.lim.Failure(ctx, limKey, ipHash); ferr == nil && blocked {
			return model.Tokens{}, errs.ErrRateLimited
		}
		return model.Tokens{}, errs.ErrUnauthenticated
	}

	_ = s.lim.Success(ctx, limKey, ipHash)
	return s.sign(claims, s.agentTTL)
}

func (s *AuthServiceImpl) verifyExchange(ctx context.Context, agentKeyID uuid.UUID, agentSecret []byte, userKey string) (accessClaims, error) {
	ak, err := s.keys.Get(ctx, agentKeyID)
	if err != nil {
		return accessClaims{}, unauthenticated(err)
	}
	if ak.SoftwareAgentID == uuid.Nil || !pkgcrypto.VerifySecret(agentSecret, ak.Salt, ak.Hash) {
		return accessClaims{}, errs.ErrUnauthenticated
	}

	userKeyID, userSecret, err := pkgcrypto.ParseKey(userKey)
	if err != nil {
		return accessClaims{}, errs.ErrUnauthenticated
	}
	uk, err := s.keys.Get(ctx, userKeyID)
	if err != nil {
		return accessClaims{}, unauthenticated(err)
	}
	if uk.UserID == uuid.Nil || !pkgcrypto.VerifySecret(userSecret, uk.Salt, uk.Hash) {
		return accessClaims{}, errs.ErrUnauthenticated
	}

	agent, err := s.agents.Get(ctx, ak.SoftwareAgentID)
	if err != nil {
		return accessClaims{}, unauthenticated(err)
	}
	if agent.IsDeleted {
		return accessClaims{}, errs.ErrUnauthenticated
	}
	return accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uk.UserID.String()},
		AgentID:          agent.ID.String(),
		AgentKeyID:       ak.ID.String(),
		UserKeyID:        uk.ID.String(),
	}, nil
}

// sign stamps iat/exp on claims and signs them with HS256.
func (s *AuthServiceImpl) sign(claims accessClaims, ttl time.Duration) (model.Tokens, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("sign access token: %w", err)
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}

// unauthenticated masks a missing principal; other errors pass through.
func unauthenticated(err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrUnauthenticated
	}
	return err
}
