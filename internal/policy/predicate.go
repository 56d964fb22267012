package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/dataservice/internal/model"
)

// Predicate describes the set of resources visible to an actor for one action.
// It is a plain value: evaluating it never touches storage, and the same value
// renders the SQL filter used by listing queries.
//
// A resource matches when it is not deleted and one of the following holds:
// Unrestricted; its project is in ProjectIDs (and, when CreatorID is set, it is
// owned by CreatorID); or OwnerID is set and it is owned by OwnerID.
type Predicate struct {
	Unrestricted bool
	ProjectIDs   []uuid.UUID
	CreatorID    uuid.UUID
	OwnerID      uuid.UUID
}

// Columns names the table columns a Predicate filters on. Deleted may be empty
// for tables without a deletion flag.
type Columns struct {
	Project string
	Owner   string
	Deleted string
}

// Empty reports whether the predicate can match nothing.
func (p Predicate) Empty() bool {
	return !p.Unrestricted && len(p.ProjectIDs) == 0 && p.OwnerID == uuid.Nil
}

// Matches evaluates the predicate against a resource.
func (p Predicate) Matches(ref model.Ref) bool {
	if ref.Deleted {
		return false
	}
	if p.Unrestricted {
		return true
	}
	if p.OwnerID != uuid.Nil && ref.OwnerID == p.OwnerID {
		return true
	}
	if ref.ProjectID == uuid.Nil {
		return false
	}
	for _, id := range p.ProjectIDs {
		if id == ref.ProjectID {
			return p.CreatorID == uuid.Nil || ref.OwnerID == p.CreatorID
		}
	}
	return false
}

// Where renders the predicate as a SQL boolean expression using positional
// arguments starting at $first. It returns the expression and its arguments.
func (p Predicate) Where(cols Columns, first int) (string, []any) {
	var (
		conds []string
		args  []any
		n     = first
	)
	next := func(v any) string {
		args = append(args, v)
		s := fmt.Sprintf("$%d", n)
		n++
		return s
	}

	var vis string
	switch {
	case p.Unrestricted:
		vis = "TRUE"
	default:
		var ors []string
		if len(p.ProjectIDs) > 0 {
			c := fmt.Sprintf("%s = ANY(%s::uuid[])", cols.Project, next(uuidStrings(p.ProjectIDs)))
			if p.CreatorID != uuid.Nil {
				c = fmt.Sprintf("(%s AND %s = %s)", c, cols.Owner, next(p.CreatorID.String()))
			}
			ors = append(ors, c)
		}
		if p.OwnerID != uuid.Nil {
			ors = append(ors, fmt.Sprintf("%s = %s", cols.Owner, next(p.OwnerID.String())))
		}
		switch len(ors) {
		case 0:
			vis = "FALSE"
		case 1:
			vis = ors[0]
		default:
			vis = "(" + strings.Join(ors, " OR ") + ")"
		}
	}
	conds = append(conds, vis)
	if cols.Deleted != "" {
		conds = append(conds, cols.Deleted+" = false")
	}
	return strings.Join(conds, " AND "), args
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
