package model

import (
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Capability is a single named permission carried by an AuthRole.
type Capability string

// Project-context capabilities.
const (
	CapViewProject              Capability = "view_project"
	CapUpdateProject            Capability = "update_project"
	CapDeleteProject            Capability = "delete_project"
	CapManageProjectPermissions Capability = "manage_project_permissions"
	CapDownloadFile             Capability = "download_file"
	CapCreateFile               Capability = "create_file"
	CapUpdateFile               Capability = "update_file"
	CapDeleteFile               Capability = "delete_file"
)

// System-only capabilities.
const (
	CapManageSoftwareAgents    Capability = "manage_software_agents"
	CapManageStorageProviders  Capability = "manage_storage_providers"
	CapManageUsers             Capability = "manage_users"
	CapManageSystemPermissions Capability = "manage_system_permissions"
)

// RoleContext tags where an AuthRole may be granted.
type RoleContext string

const (
	ContextSystem  RoleContext = "system"
	ContextProject RoleContext = "project"
)

// AuthRole is a named bundle of capabilities.
type AuthRole struct {
	ID           string
	Name         string
	Description  string
	Permissions  []Capability
	Contexts     []RoleContext
	IsDeprecated bool
}

// HasContext reports whether the role may be granted in ctx.
func (r AuthRole) HasContext(ctx RoleContext) bool {
	for _, c := range r.Contexts {
		if c == ctx {
			return true
		}
	}
	return false
}

// ProjectRole labels a user's affiliation with a project. It carries no capability.
type ProjectRole struct {
	ID           string
	Name         string
	Description  string
	IsDeprecated bool
}

// SystemPermission grants an AuthRole globally.
type SystemPermission struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Role   AuthRole
}

// ProjectPermission grants an AuthRole on one project.
type ProjectPermission struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	UserID    uuid.UUID
	Role      AuthRole
}

// Affiliation is a membership marker without capabilities.
type Affiliation struct {
	ID            uuid.UUID
	ProjectID     uuid.UUID
	UserID        uuid.UUID
	ProjectRoleID string
	CreatedAt     time.Time
}

// CapabilitySet is an unordered set of capabilities.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports membership; a nil set has nothing.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Add merges caps into s.
func (s CapabilitySet) Add(caps ...Capability) {
	for _, c := range caps {
		s[c] = struct{}{}
	}
}

// Sorted returns the capabilities in lexical order.
func (s CapabilitySet) Sorted() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
