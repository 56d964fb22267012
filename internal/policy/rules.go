// Package policy decides whether an actor may perform an action on a resource
// and computes the matching listing predicate.
//
// Every kind has one Policy built from a rule table. Point checks and scope
// predicates are derived from the same Rule, so for every resource R and actor
// A, Can(A, R, show) holds exactly when Scope(A, kind, show).Matches(R).
package policy

import (
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/dataservice/internal/model"
)

// Rule describes who may perform one action on one kind.
//
// A rule allows when the resource is not deleted and any of:
//   - Open is set;
//   - the user holds Capability through a system grant;
//   - Self is set and the user owns the resource;
//   - the user holds Capability on the resource's project (and, with Owner
//     set, owns the resource);
//   - Visible is set and the user has any effective grant on, or an
//     affiliation with, the resource's project.
type Rule struct {
	Capability model.Capability
	Open       bool
	Self       bool
	Owner      bool
	Visible    bool
}

// Policy is the per-kind authorization contract.
type Policy interface {
	Kind() model.Kind
	Can(g *Grants, ref model.Ref, a model.Action) bool
	Scope(g *Grants, a model.Action) Predicate
}

type table struct {
	kind  model.Kind
	rules map[model.Action]Rule
}

func (t *table) Kind() model.Kind { return t.kind }

func (t *table) Can(g *Grants, ref model.Ref, a model.Action) bool {
	if ref.Deleted {
		return false
	}
	r, ok := t.rules[a]
	if !ok {
		return false
	}
	return r.allows(g, ref)
}

func (t *table) Scope(g *Grants, a model.Action) Predicate {
	r, ok := t.rules[a]
	if !ok {
		return Predicate{}
	}
	return r.predicate(g)
}

func (r Rule) allows(g *Grants, ref model.Ref) bool {
	if r.Open {
		return true
	}
	if r.Capability != "" && g.System.Has(r.Capability) {
		return true
	}
	owned := ref.OwnerID != uuid.Nil && ref.OwnerID == g.UserID
	if r.Self && owned {
		return true
	}
	if r.Capability != "" && g.HasProject(ref.ProjectID, r.Capability) && (!r.Owner || owned) {
		return true
	}
	return r.Visible && g.Member(ref.ProjectID)
}

func (r Rule) predicate(g *Grants) Predicate {
	if r.Open || (r.Capability != "" && g.System.Has(r.Capability)) {
		return Predicate{Unrestricted: true}
	}
	var p Predicate
	if r.Self {
		p.OwnerID = g.UserID
	}
	projects := make(map[uuid.UUID]struct{})
	if r.Capability != "" {
		for id, caps := range g.Projects {
			if caps.Has(r.Capability) {
				projects[id] = struct{}{}
			}
		}
		if r.Owner && len(projects) > 0 {
			p.CreatorID = g.UserID
		}
	}
	if r.Visible {
		for id := range g.Projects {
			projects[id] = struct{}{}
		}
		for id := range g.Affiliated {
			projects[id] = struct{}{}
		}
	}
	if len(projects) > 0 {
		p.ProjectIDs = sortedIDs(projects)
	}
	return p
}

// Rules returns the rule table used for every kind.
func Rules() map[model.Kind]map[model.Action]Rule {
	view := Rule{Capability: model.CapViewProject}
	createFile := Rule{Capability: model.CapCreateFile}
	visible := Rule{Capability: model.CapViewProject, Visible: true}
	selfOr := func(c model.Capability) Rule { return Rule{Capability: c, Self: true} }
	sys := func(c model.Capability) Rule { return Rule{Capability: c} }

	return map[model.Kind]map[model.Action]Rule{
		model.KindProject: {
			model.ActionShow:    view,
			model.ActionCreate:  {Open: true},
			model.ActionUpdate:  {Capability: model.CapUpdateProject},
			model.ActionDestroy: {Capability: model.CapDeleteProject},
		},
		model.KindFolder: {
			model.ActionShow:    view,
			model.ActionCreate:  createFile,
			model.ActionUpdate:  {Capability: model.CapUpdateFile},
			model.ActionDestroy: {Capability: model.CapDeleteFile},
			model.ActionMove:    createFile,
			model.ActionRename:  createFile,
		},
		model.KindDataFile: {
			model.ActionShow:     view,
			model.ActionCreate:   {Capability: model.CapCreateFile, Owner: true},
			model.ActionUpdate:   {Capability: model.CapUpdateFile, Owner: true},
			model.ActionDestroy:  {Capability: model.CapDeleteFile},
			model.ActionDownload: {Capability: model.CapDownloadFile},
			model.ActionMove:     createFile,
			model.ActionRename:   createFile,
		},
		model.KindFileVersion: {
			model.ActionShow:     view,
			model.ActionUpdate:   {Capability: model.CapUpdateFile},
			model.ActionDestroy:  {Capability: model.CapDeleteFile},
			model.ActionDownload: {Capability: model.CapDownloadFile},
		},
		model.KindUpload: {
			model.ActionShow:   view,
			model.ActionCreate: createFile,
			model.ActionUpdate: {Capability: model.CapCreateFile, Owner: true},
		},
		model.KindChunk: {
			model.ActionShow:   view,
			model.ActionCreate: {Capability: model.CapCreateFile, Owner: true},
		},
		model.KindProjectPermission: {
			model.ActionShow:    visible,
			model.ActionCreate:  {Capability: model.CapManageProjectPermissions},
			model.ActionUpdate:  {Capability: model.CapManageProjectPermissions},
			model.ActionDestroy: {Capability: model.CapManageProjectPermissions},
		},
		model.KindAffiliation: {
			model.ActionShow:    visible,
			model.ActionCreate:  {Capability: model.CapUpdateProject},
			model.ActionUpdate:  {Capability: model.CapUpdateProject},
			model.ActionDestroy: {Capability: model.CapUpdateProject},
		},
		model.KindSoftwareAgent: {
			model.ActionShow:    selfOr(model.CapManageSoftwareAgents),
			model.ActionCreate:  {Open: true},
			model.ActionUpdate:  selfOr(model.CapManageSoftwareAgents),
			model.ActionDestroy: selfOr(model.CapManageSoftwareAgents),
		},
		model.KindApiKey: {
			model.ActionShow:    selfOr(model.CapManageSoftwareAgents),
			model.ActionCreate:  {Self: true},
			model.ActionDestroy: selfOr(model.CapManageSoftwareAgents),
		},
		model.KindUser: {
			model.ActionShow:   {Open: true},
			model.ActionCreate: sys(model.CapManageUsers),
			model.ActionUpdate: selfOr(model.CapManageUsers),
		},
		model.KindStorageProvider: {
			model.ActionShow:    {Open: true},
			model.ActionCreate:  sys(model.CapManageStorageProviders),
			model.ActionUpdate:  sys(model.CapManageStorageProviders),
			model.ActionDestroy: sys(model.CapManageStorageProviders),
		},
		model.KindSystemPermission: {
			model.ActionShow:    sys(model.CapManageSystemPermissions),
			model.ActionCreate:  sys(model.CapManageSystemPermissions),
			model.ActionUpdate:  sys(model.CapManageSystemPermissions),
			model.ActionDestroy: sys(model.CapManageSystemPermissions),
		},
	}
}

// Registry maps every kind to its policy. It is built once at startup.
type Registry struct {
	policies map[model.Kind]Policy
}

// NewRegistry builds the registry from rules and checks it covers every kind.
func NewRegistry(rules map[model.Kind]map[model.Action]Rule) (*Registry, error) {
	reg := &Registry{policies: make(map[model.Kind]Policy, len(rules))}
	for kind, actions := range rules {
		for a, r := range actions {
			if r.Owner && r.Visible {
				return nil, fmt.Errorf("policy %s/%s: owner refinement cannot combine with visibility", kind, a)
			}
			if r.Owner && r.Capability == "" {
				return nil, fmt.Errorf("policy %s/%s: owner refinement needs a capability", kind, a)
			}
		}
		reg.policies[kind] = &table{kind: kind, rules: actions}
	}
	for _, k := range model.Kinds {
		if _, ok := reg.policies[k]; !ok {
			return nil, fmt.Errorf("policy for kind %s is missing", k)
		}
	}
	return reg, nil
}

// DefaultRegistry builds the registry from Rules.
func DefaultRegistry() (*Registry, error) { return NewRegistry(Rules()) }

// Policy returns the policy for kind.
func (r *Registry) Policy(kind model.Kind) (Policy, error) {
	p, ok := r.policies[kind]
	if !ok {
		return nil, fmt.Errorf("no policy for kind %q", kind)
	}
	return p, nil
}
