package policy

import (
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/dataservice/internal/model"
)

// Grants is the capability view of one user, resolved from current grant rows.
// Grants only add capabilities; deprecated roles and roles granted outside
// their context contribute nothing.
type Grants struct {
	UserID     uuid.UUID
	System     model.CapabilitySet
	Projects   map[uuid.UUID]model.CapabilitySet
	Affiliated map[uuid.UUID]struct{}
}

// Resolve folds grant rows into a Grants value.
func Resolve(
	userID uuid.UUID,
	system []model.SystemPermission,
	projects []model.ProjectPermission,
	affiliations []model.Affiliation,
) *Grants {
	g := &Grants{
		UserID:     userID,
		System:     model.NewCapabilitySet(),
		Projects:   make(map[uuid.UUID]model.CapabilitySet),
		Affiliated: make(map[uuid.UUID]struct{}),
	}
	for _, sp := range system {
		if sp.UserID != userID || !confers(sp.Role, model.ContextSystem) {
			continue
		}
		g.System.Add(sp.Role.Permissions...)
	}
	for _, pp := range projects {
		if pp.UserID != userID || pp.ProjectID == uuid.Nil || !confers(pp.Role, model.ContextProject) {
			continue
		}
		set, ok := g.Projects[pp.ProjectID]
		if !ok {
			set = model.NewCapabilitySet()
			g.Projects[pp.ProjectID] = set
		}
		set.Add(pp.Role.Permissions...)
	}
	for _, a := range affiliations {
		if a.UserID != userID || a.ProjectID == uuid.Nil {
			continue
		}
		g.Affiliated[a.ProjectID] = struct{}{}
	}
	return g
}

func confers(r model.AuthRole, ctx model.RoleContext) bool {
	return !r.IsDeprecated && r.HasContext(ctx) && len(r.Permissions) > 0
}

// HasProject reports whether the user holds cap on the project.
func (g *Grants) HasProject(projectID uuid.UUID, c model.Capability) bool {
	if projectID == uuid.Nil {
		return false
	}
	return g.Projects[projectID].Has(c)
}

// Member reports whether the user can see the project's membership: any
// effective project grant or an affiliation.
func (g *Grants) Member(projectID uuid.UUID) bool {
	if projectID == uuid.Nil {
		return false
	}
	if _, ok := g.Projects[projectID]; ok {
		return true
	}
	_, ok := g.Affiliated[projectID]
	return ok
}
