package service

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/catalog"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/limiter"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/policy"
	"github.com/and161185/dataservice/internal/repository"
)

// state is everything a memDB transaction may roll back.
type state struct {
	users        map[uuid.UUID]model.User
	agents       map[uuid.UUID]model.SoftwareAgent
	keys         map[uuid.UUID]model.ApiKey
	authRoles    map[string]model.AuthRole
	projectRoles map[string]model.ProjectRole
	projects     map[uuid.UUID]model.Project
	folders      map[uuid.UUID]model.Folder
	sysPerms     []model.SystemPermission
	projPerms    []model.ProjectPermission
	affs         []model.Affiliation
	audits       []audit.Entry
}

func (s state) clone() state {
	return state{
		users:        maps.Clone(s.users),
		agents:       maps.Clone(s.agents),
		keys:         maps.Clone(s.keys),
		authRoles:    maps.Clone(s.authRoles),
		projectRoles: maps.Clone(s.projectRoles),
		projects:     maps.Clone(s.projects),
		folders:      maps.Clone(s.folders),
		sysPerms:     slices.Clone(s.sysPerms),
		projPerms:    slices.Clone(s.projPerms),
		affs:         slices.Clone(s.affs),
		audits:       slices.Clone(s.audits),
	}
}

// memDB is an in-memory stand-in for the database. InTx restores the
// previous state when fn fails.
type memDB struct {
	state
	clock time.Time

	appendErr   error
	delegateErr error
	// onBegin runs once at the start of the next transaction, standing in for
	// a concurrent writer that commits just before it.
	onBegin   func()
	locks     int
	commits   int
	rollbacks int
}

var _ repository.TxRunner = (*memDB)(nil)

func newMemDB() *memDB {
	return &memDB{
		state: state{
			users:        map[uuid.UUID]model.User{},
			agents:       map[uuid.UUID]model.SoftwareAgent{},
			keys:         map[uuid.UUID]model.ApiKey{},
			authRoles:    map[string]model.AuthRole{},
			projectRoles: map[string]model.ProjectRole{},
			projects:     map[uuid.UUID]model.Project{},
			folders:      map[uuid.UUID]model.Folder{},
		},
		clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (db *memDB) InTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	if hook := db.onBegin; hook != nil {
		db.onBegin = nil
		hook()
	}
	saved := db.state.clone()
	if err := fn(nil); err != nil {
		db.state = saved
		db.rollbacks++
		return err
	}
	db.commits++
	return nil
}

func (db *memDB) tick() time.Time {
	db.clock = db.clock.Add(time.Second)
	return db.clock
}

func (db *memDB) auditsOf(kind model.Kind, id uuid.UUID) []audit.Entry {
	var out []audit.Entry
	for _, e := range db.audits {
		if e.Kind == kind && e.AuditableID == id {
			out = append(out, e)
		}
	}
	return out
}

type userStore struct{ *memDB }

func (s userStore) Create(_ context.Context, _ pgx.Tx, u *model.User) error {
	for _, x := range s.users {
		if x.Username == u.Username {
			return errs.ErrAlreadyExists
		}
	}
	u.CreatedAt = s.tick()
	s.users[u.ID] = *u
	return nil
}

func (s userStore) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

func (s userStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, errs.ErrNotFound
}

type agentStore struct{ *memDB }

func (s agentStore) Insert(_ context.Context, _ pgx.Tx, a *model.SoftwareAgent) error {
	a.CreatedAt = s.tick()
	s.agents[a.ID] = *a
	return nil
}

func (s agentStore) Get(_ context.Context, id uuid.UUID) (*model.SoftwareAgent, error) {
	a, ok := s.agents[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

func (s agentStore) GetForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*model.SoftwareAgent, error) {
	return s.Get(ctx, id)
}

func (s agentStore) MarkDeleted(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	a, ok := s.agents[id]
	if !ok || a.IsDeleted {
		return errs.ErrNotFound
	}
	a.IsDeleted = true
	s.agents[id] = a
	return nil
}

type keyStore struct{ *memDB }

func (s keyStore) Insert(_ context.Context, _ pgx.Tx, k *model.ApiKey) error {
	for _, x := range s.keys {
		if (k.UserID != uuid.Nil && x.UserID == k.UserID) || (k.SoftwareAgentID != uuid.Nil && x.SoftwareAgentID == k.SoftwareAgentID) {
			return errs.ErrAlreadyExists
		}
	}
	k.CreatedAt = s.tick()
	s.keys[k.ID] = *k
	return nil
}

func (s keyStore) Get(_ context.Context, id uuid.UUID) (*model.ApiKey, error) {
	k, ok := s.keys[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &k, nil
}

func (s keyStore) DeleteForOwner(_ context.Context, _ pgx.Tx, userID, agentID uuid.UUID) ([]model.ApiKey, error) {
	var out []model.ApiKey
	for id, k := range s.keys {
		if (agentID != uuid.Nil && k.SoftwareAgentID == agentID) || (agentID == uuid.Nil && k.UserID == userID) {
			out = append(out, k)
			delete(s.keys, id)
		}
	}
	return out, nil
}

type roleStore struct{ *memDB }

func (s roleStore) AuthRole(_ context.Context, id string) (model.AuthRole, error) {
	r, ok := s.authRoles[id]
	if !ok {
		return model.AuthRole{}, errs.ErrNotFound
	}
	return r, nil
}

func (s roleStore) ProjectRole(_ context.Context, id string) (model.ProjectRole, error) {
	r, ok := s.projectRoles[id]
	if !ok {
		return model.ProjectRole{}, errs.ErrNotFound
	}
	return r, nil
}

func (s roleStore) UpsertAuthRole(_ context.Context, r model.AuthRole) error {
	s.authRoles[r.ID] = r
	return nil
}

func (s roleStore) UpsertProjectRole(_ context.Context, r model.ProjectRole) error {
	s.projectRoles[r.ID] = r
	return nil
}

// errNoGrantID mirrors the postgres repository's rejection of unset grant ids.
var errNoGrantID = errors.New("grant id is not set")

// grantStore reads grants the way the postgres repository does: the role
// definition is joined at read time and grants on deleted projects are skipped.
type grantStore struct{ *memDB }

var (
	_ policy.GrantReader           = grantStore{}
	_ repository.GrantWriter       = grantStore{}
	_ repository.ProjectRepository = projectStore{}
	_ repository.FolderRepository  = folderStore{}
	_ repository.AgentRepository   = agentStore{}
	_ repository.ApiKeyRepository  = keyStore{}
	_ repository.UserRepository    = userStore{}
	_ repository.RoleRepository    = roleStore{}
)

func (s grantStore) SystemPermissions(_ context.Context, userID uuid.UUID) ([]model.SystemPermission, error) {
	var out []model.SystemPermission
	for _, p := range s.sysPerms {
		if p.UserID == userID {
			p.Role = s.authRoles[p.Role.ID]
			out = append(out, p)
		}
	}
	return out, nil
}

func (s grantStore) ProjectPermissions(_ context.Context, userID uuid.UUID) ([]model.ProjectPermission, error) {
	var out []model.ProjectPermission
	for _, p := range s.projPerms {
		if p.UserID == userID && !s.projects[p.ProjectID].IsDeleted {
			p.Role = s.authRoles[p.Role.ID]
			out = append(out, p)
		}
	}
	return out, nil
}

func (s grantStore) Affiliations(_ context.Context, userID uuid.UUID) ([]model.Affiliation, error) {
	var out []model.Affiliation
	for _, a := range s.affs {
		if a.UserID == userID && !s.projects[a.ProjectID].IsDeleted {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s grantStore) UpsertProjectPermission(_ context.Context, _ pgx.Tx, p *model.ProjectPermission) (bool, error) {
	if p.ID == uuid.Nil {
		return false, errNoGrantID
	}
	if _, ok := s.projects[p.ProjectID]; !ok {
		return false, errs.ErrNotFound
	}
	for i, x := range s.projPerms {
		if x.ProjectID == p.ProjectID && x.UserID == p.UserID {
			p.ID = x.ID
			s.projPerms[i] = *p
			return false, nil
		}
	}
	s.projPerms = append(s.projPerms, *p)
	return true, nil
}

func (s grantStore) DeleteProjectPermission(_ context.Context, _ pgx.Tx, projectID, userID uuid.UUID) (model.ProjectPermission, error) {
	for i, x := range s.projPerms {
		if x.ProjectID == projectID && x.UserID == userID {
			s.projPerms = slices.Delete(s.projPerms, i, i+1)
			return x, nil
		}
	}
	return model.ProjectPermission{}, errs.ErrNotFound
}

func (s grantStore) InsertSystemPermission(_ context.Context, _ pgx.Tx, p *model.SystemPermission) error {
	if p.ID == uuid.Nil {
		return errNoGrantID
	}
	for _, x := range s.sysPerms {
		if x.UserID == p.UserID && x.Role.ID == p.Role.ID {
			return errs.ErrAlreadyExists
		}
	}
	s.sysPerms = append(s.sysPerms, *p)
	return nil
}

func (s grantStore) UpsertAffiliation(_ context.Context, _ pgx.Tx, a *model.Affiliation) (bool, error) {
	if a.ID == uuid.Nil {
		return false, errNoGrantID
	}
	for i, x := range s.affs {
		if x.ProjectID == a.ProjectID && x.UserID == a.UserID {
			a.ID = x.ID
			s.affs[i] = *a
			return false, nil
		}
	}
	a.CreatedAt = s.tick()
	s.affs = append(s.affs, *a)
	return true, nil
}

func (s grantStore) DeleteAffiliation(_ context.Context, _ pgx.Tx, projectID, userID uuid.UUID) (model.Affiliation, error) {
	for i, x := range s.affs {
		if x.ProjectID == projectID && x.UserID == userID {
			s.affs = slices.Delete(s.affs, i, i+1)
			return x, nil
		}
	}
	return model.Affiliation{}, errs.ErrNotFound
}

type projectStore struct{ *memDB }

func (s projectStore) Insert(_ context.Context, _ pgx.Tx, p *model.Project) error {
	p.CreatedAt = s.tick()
	p.UpdatedAt = p.CreatedAt
	s.projects[p.ID] = *p
	return nil
}

func (s projectStore) Get(_ context.Context, id uuid.UUID) (*model.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &p, nil
}

func (s projectStore) List(_ context.Context, pred policy.Predicate, page repository.Page) ([]model.Project, error) {
	var out []model.Project
	for _, p := range s.projects {
		if pred.Matches(projectRef(&p)) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, page), nil
}

func (s projectStore) GetForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*model.Project, error) {
	return s.Get(ctx, id)
}

// Update writes only the columns the postgres repository writes, and only to
// live rows.
func (s projectStore) Update(_ context.Context, _ pgx.Tx, p *model.Project) error {
	cur, ok := s.projects[p.ID]
	if !ok || cur.IsDeleted {
		return errs.ErrNotFound
	}
	cur.Name, cur.Description, cur.Etag = p.Name, p.Description, p.Etag
	cur.UpdatedAt = s.tick()
	p.UpdatedAt = cur.UpdatedAt
	s.projects[p.ID] = cur
	return nil
}

func (s projectStore) MarkDeleted(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	cur, ok := s.projects[id]
	if !ok || cur.IsDeleted {
		return errs.ErrNotFound
	}
	cur.IsDeleted = true
	cur.UpdatedAt = s.tick()
	s.projects[id] = cur
	return nil
}

type folderStore struct{ *memDB }

func (s folderStore) Insert(_ context.Context, _ pgx.Tx, f *model.Folder) error {
	f.CreatedAt = s.tick()
	f.UpdatedAt = f.CreatedAt
	s.folders[f.ID] = *f
	return nil
}

func (s folderStore) Get(_ context.Context, id uuid.UUID) (*model.Folder, error) {
	f, ok := s.folders[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &f, nil
}

func (s folderStore) List(_ context.Context, projectID uuid.UUID, pred policy.Predicate, page repository.Page) ([]model.Folder, error) {
	var out []model.Folder
	for _, f := range s.folders {
		if f.ProjectID == projectID && pred.Matches(folderRef(&f)) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, page), nil
}

func (s folderStore) Lineage(_ context.Context, _ pgx.Tx, id uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for cur := id; cur != uuid.Nil; {
		f, ok := s.folders[cur]
		if !ok {
			break
		}
		out = append(out, f.ID)
		cur = f.ParentID
	}
	if len(out) == 0 {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

func (s folderStore) LockHierarchy(_ context.Context, _ pgx.Tx, projectID uuid.UUID) error {
	if _, ok := s.projects[projectID]; !ok {
		return errs.ErrNotFound
	}
	s.locks++
	return nil
}

func (s folderStore) GetForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*model.Folder, error) {
	return s.Get(ctx, id)
}

func (s folderStore) Update(_ context.Context, _ pgx.Tx, f *model.Folder) error {
	cur, ok := s.folders[f.ID]
	if !ok || cur.IsDeleted {
		return errs.ErrNotFound
	}
	cur.Name, cur.ParentID = f.Name, f.ParentID
	cur.UpdatedAt = s.tick()
	f.UpdatedAt = cur.UpdatedAt
	s.folders[f.ID] = cur
	return nil
}

func (s folderStore) MarkDeleted(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	cur, ok := s.folders[id]
	if !ok || cur.IsDeleted {
		return errs.ErrNotFound
	}
	cur.IsDeleted = true
	cur.UpdatedAt = s.tick()
	s.folders[id] = cur
	return nil
}

func paginate[T any](in []T, page repository.Page) []T {
	if page.Offset >= len(in) {
		return nil
	}
	in = in[page.Offset:]
	if page.Limit > 0 && page.Limit < len(in) {
		in = in[:page.Limit]
	}
	return in
}

type auditStore struct{ *memDB }

func (s auditStore) Append(_ context.Context, _ pgx.Tx, e *audit.Entry) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	version := 0
	for _, x := range s.audits {
		if x.Kind == e.Kind && x.AuditableID == e.AuditableID && x.Version > version {
			version = x.Version
		}
	}
	e.ID = uuid.Must(uuid.NewV4())
	e.Version = version + 1
	e.CreatedAt = s.tick()
	s.audits = append(s.audits, *e)
	return nil
}

func (s auditStore) SetDelegation(_ context.Context, _ pgx.Tx, id uuid.UUID, c audit.Comment) (bool, error) {
	if s.delegateErr != nil {
		return false, s.delegateErr
	}
	for i := range s.audits {
		if s.audits[i].ID == id {
			if _, ok := s.audits[i].Comment.AgentID(); ok {
				return false, nil
			}
			s.audits[i].Comment = c
			return true, nil
		}
	}
	return false, nil
}

func (s auditStore) List(_ context.Context, kind model.Kind, id uuid.UUID, after int) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range s.auditsOf(kind, id) {
		if e.Version > after {
			out = append(out, e)
		}
	}
	return out, nil
}

// refStore resolves the kinds the services in this package manage.
type refStore struct{ *memDB }

func (s refStore) Resolve(_ context.Context, kind model.Kind, id uuid.UUID) (model.Ref, error) {
	switch kind {
	case model.KindProject:
		if p, ok := s.projects[id]; ok {
			return projectRef(&p), nil
		}
	case model.KindFolder:
		if f, ok := s.folders[id]; ok {
			return folderRef(&f), nil
		}
	case model.KindSoftwareAgent:
		if a, ok := s.agents[id]; ok {
			return agentRef(&a), nil
		}
	case model.KindUser:
		if _, ok := s.users[id]; ok {
			return model.Ref{Kind: kind, ID: id, OwnerID: id}, nil
		}
	}
	return model.Ref{}, errs.ErrNotFound
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool

	allowCalls   int
	failureCalls int
	successCalls int
	lastKey      string
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, key string, _ []byte) (bool, time.Duration, error) {
	l.allowCalls++
	l.lastKey = key
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return nil
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, nil
}

type harness struct {
	db       *memDB
	engine   *policy.Engine
	mut      *Mutator
	projects *ProjectServiceImpl
	folders  *FolderServiceImpl
	grants   *GrantServiceImpl
	agents   *AgentServiceImpl
	users    *UserServiceImpl
	access   *AccessServiceImpl
	auth     *AuthServiceImpl
	boot     *Bootstrapper
	lim      *fakeLimiter

	admin, alice, bob, carol model.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	db := newMemDB()

	cat, err := catalog.Default()
	require.NoError(t, err)
	require.NoError(t, cat.Seed(context.Background(), roleStore{db}))

	reg, err := policy.DefaultRegistry()
	require.NoError(t, err)
	engine := policy.NewEngine(grantStore{db}, reg, log)
	trail := audit.NewTrail(auditStore{db}, userStore{db}, agentStore{db}, log)
	mut := NewMutator(db, trail, log)
	lim := &fakeLimiter{allowOK: true}

	h := &harness{
		db:       db,
		engine:   engine,
		mut:      mut,
		projects: NewProjectService(mut, engine, projectStore{db}, grantStore{db}, roleStore{db}),
		folders:  NewFolderService(mut, engine, folderStore{db}, projectStore{db}),
		grants:   NewGrantService(mut, engine, grantStore{db}, roleStore{db}, userStore{db}, projectStore{db}),
		agents:   NewAgentService(mut, engine, agentStore{db}, keyStore{db}),
		users:    NewUserService(mut, engine, userStore{db}),
		access:   NewAccessService(engine, refStore{db}, trail),
		auth:     NewAuthService(userStore{db}, agentStore{db}, keyStore{db}, []byte("test-key"), time.Minute, time.Minute, lim),
		boot:     NewBootstrapper(mut, userStore{db}, grantStore{db}, roleStore{db}),
		lim:      lim,
	}
	h.admin = h.user("admin")
	h.alice = h.user("alice")
	h.bob = h.user("bob")
	h.carol = h.user("carol")
	db.sysPerms = append(db.sysPerms, model.SystemPermission{
		ID: uuid.Must(uuid.NewV4()), UserID: h.admin.UserID(), Role: db.authRoles[SystemAdminRole],
	})
	return h
}

func (h *harness) user(name string) model.Actor {
	u := model.User{ID: uuid.Must(uuid.NewV4()), Username: name, DisplayName: "User " + name, CreatedAt: h.db.tick()}
	h.db.users[u.ID] = u
	return model.Actor{User: u}
}

// project creates a project owned by actor.
func (h *harness) project(t *testing.T, actor model.Actor, name string) *model.Project {
	t.Helper()
	p, err := h.projects.Create(context.Background(), actor, name, "")
	require.NoError(t, err)
	return p
}

// grant gives userID roleID on projectID as the project's creator would.
func (h *harness) grant(t *testing.T, by model.Actor, projectID uuid.UUID, to model.Actor, roleID string) {
	t.Helper()
	_, err := h.grants.GrantProjectPermission(context.Background(), by, projectID, to.UserID(), roleID)
	require.NoError(t, err)
}
