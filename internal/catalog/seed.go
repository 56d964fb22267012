package catalog

import (
	"context"
	"fmt"

	"github.com/and161185/dataservice/internal/model"
)

// Seeder persists role definitions; implemented by the postgres role repository.
type Seeder interface {
	UpsertAuthRole(ctx context.Context, r model.AuthRole) error
	UpsertProjectRole(ctx context.Context, r model.ProjectRole) error
}

// Seed writes every role of the catalog. Existing rows are updated in place,
// so flipping is_deprecated in the catalog takes effect on the next start.
func (c *Catalog) Seed(ctx context.Context, s Seeder) error {
	for _, r := range c.authRoles {
		if err := s.UpsertAuthRole(ctx, r); err != nil {
			return fmt.Errorf("seed auth role %s: %w", r.ID, err)
		}
	}
	for _, r := range c.projectRoles {
		if err := s.UpsertProjectRole(ctx, r); err != nil {
			return fmt.Errorf("seed project role %s: %w", r.ID, err)
		}
	}
	return nil
}
