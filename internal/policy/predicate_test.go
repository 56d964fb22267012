package policy

import (
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/dataservice/internal/model"
)

var folderCols = Columns{Project: "c.project_id", Owner: "c.creator_id", Deleted: "c.is_deleted"}

func TestPredicateWhere(t *testing.T) {
	p1 := uuid.FromStringOrNil("11111111-1111-4111-8111-111111111111")
	p2 := uuid.FromStringOrNil("22222222-2222-4222-8222-222222222222")
	u := uuid.FromStringOrNil("33333333-3333-4333-8333-333333333333")

	tests := []struct {
		name     string
		pred     Predicate
		cols     Columns
		first    int
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "empty",
			pred:    Predicate{},
			cols:    folderCols,
			first:   1,
			wantSQL: "FALSE AND c.is_deleted = false",
		},
		{
			name:    "unrestricted",
			pred:    Predicate{Unrestricted: true},
			cols:    folderCols,
			first:   1,
			wantSQL: "TRUE AND c.is_deleted = false",
		},
		{
			name:     "projects",
			pred:     Predicate{ProjectIDs: []uuid.UUID{p1, p2}},
			cols:     folderCols,
			first:    3,
			wantSQL:  "c.project_id = ANY($3::uuid[]) AND c.is_deleted = false",
			wantArgs: []any{[]string{p1.String(), p2.String()}},
		},
		{
			name:     "projects with creator",
			pred:     Predicate{ProjectIDs: []uuid.UUID{p1}, CreatorID: u},
			cols:     folderCols,
			first:    1,
			wantSQL:  "(c.project_id = ANY($1::uuid[]) AND c.creator_id = $2) AND c.is_deleted = false",
			wantArgs: []any{[]string{p1.String()}, u.String()},
		},
		{
			name:     "owner or projects",
			pred:     Predicate{ProjectIDs: []uuid.UUID{p1}, OwnerID: u},
			cols:     folderCols,
			first:    1,
			wantSQL:  "(c.project_id = ANY($1::uuid[]) OR c.creator_id = $2) AND c.is_deleted = false",
			wantArgs: []any{[]string{p1.String()}, u.String()},
		},
		{
			name:     "no deletion column",
			pred:     Predicate{OwnerID: u},
			cols:     Columns{Project: "k.project_id", Owner: "k.user_id"},
			first:    1,
			wantSQL:  "k.user_id = $1",
			wantArgs: []any{u.String()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := tt.pred.Where(tt.cols, tt.first)
			require.Equal(t, tt.wantSQL, sql)
			require.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestPredicateMatches(t *testing.T) {
	p1 := uuid.Must(uuid.NewV4())
	u := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())

	pred := Predicate{ProjectIDs: []uuid.UUID{p1}, CreatorID: u}
	require.True(t, pred.Matches(model.Ref{ProjectID: p1, OwnerID: u}))
	require.False(t, pred.Matches(model.Ref{ProjectID: p1, OwnerID: other}))
	require.False(t, pred.Matches(model.Ref{ProjectID: p1, OwnerID: u, Deleted: true}))
	require.False(t, pred.Matches(model.Ref{OwnerID: u}))

	require.False(t, Predicate{Unrestricted: true}.Matches(model.Ref{Deleted: true}))
	require.True(t, Predicate{OwnerID: u}.Matches(model.Ref{OwnerID: u}))
	require.True(t, Predicate{}.Empty())
}
