// Package catalog holds the seeded AuthRole and ProjectRole definitions.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/and161185/dataservice/internal/model"
)

//go:embed roles.yaml
var defaultRoles []byte

type authRoleDoc struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Contexts    []string `yaml:"contexts"`
	Permissions []string `yaml:"permissions"`
	Deprecated  bool     `yaml:"is_deprecated"`
}

type projectRoleDoc struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Deprecated  bool   `yaml:"is_deprecated"`
}

type document struct {
	AuthRoles    []authRoleDoc    `yaml:"auth_roles"`
	ProjectRoles []projectRoleDoc `yaml:"project_roles"`
}

// Catalog is an immutable set of role definitions.
type Catalog struct {
	authRoles    []model.AuthRole
	projectRoles []model.ProjectRole
	byID         map[string]model.AuthRole
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultRoles)
}

// Load reads a catalog from a YAML file; an empty path yields Default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role catalog: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a catalog document.
func Parse(b []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode role catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]model.AuthRole, len(doc.AuthRoles))}
	for _, d := range doc.AuthRoles {
		if d.ID == "" {
			return nil, errors.New("auth role without id")
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate auth role %q", d.ID)
		}
		if len(d.Contexts) == 0 {
			return nil, fmt.Errorf("auth role %q has no contexts", d.ID)
		}
		r := model.AuthRole{
			ID:           d.ID,
			Name:         d.Name,
			Description:  d.Description,
			IsDeprecated: d.Deprecated,
		}
		for _, ctx := range d.Contexts {
			rc := model.RoleContext(ctx)
			if rc != model.ContextSystem && rc != model.ContextProject {
				return nil, fmt.Errorf("auth role %q: unknown context %q", d.ID, ctx)
			}
			r.Contexts = append(r.Contexts, rc)
		}
		for _, p := range d.Permissions {
			r.Permissions = append(r.Permissions, model.Capability(p))
		}
		c.authRoles = append(c.authRoles, r)
		c.byID[r.ID] = r
	}
	seen := map[string]bool{}
	for _, d := range doc.ProjectRoles {
		if d.ID == "" || seen[d.ID] {
			return nil, fmt.Errorf("invalid or duplicate project role %q", d.ID)
		}
		seen[d.ID] = true
		c.projectRoles = append(c.projectRoles, model.ProjectRole{
			ID: d.ID, Name: d.Name, Description: d.Description, IsDeprecated: d.Deprecated,
		})
	}
	return c, nil
}

// AuthRoles returns every auth role, deprecated ones included.
func (c *Catalog) AuthRoles() []model.AuthRole {
	return append([]model.AuthRole(nil), c.authRoles...)
}

// ProjectRoles returns every project role, deprecated ones included.
func (c *Catalog) ProjectRoles() []model.ProjectRole {
	return append([]model.ProjectRole(nil), c.projectRoles...)
}

// AuthRole looks up a role by id.
func (c *Catalog) AuthRole(id string) (model.AuthRole, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// Grantable returns the non-deprecated roles usable in ctx.
func (c *Catalog) Grantable(ctx model.RoleContext) []model.AuthRole {
	var out []model.AuthRole
	for _, r := range c.authRoles {
		if !r.IsDeprecated && r.HasContext(ctx) {
			out = append(out, r)
		}
	}
	return out
}
