package service

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
)

func TestAccess_AuthorizeResolvesResource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.project(t, h.alice, "genomics")

	require.NoError(t, h.access.Authorize(ctx, h.alice, model.KindProject, p.ID, model.ActionUpdate))

	err := h.access.Authorize(ctx, h.bob, model.KindProject, p.ID, model.ActionShow)
	var ae *errs.AuthorizationError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, errs.ReasonNotFoundOrForbidden, ae.Reason())

	err = h.access.Authorize(ctx, h.alice, model.KindProject, uuid.Must(uuid.NewV4()), model.ActionShow)
	require.True(t, errors.As(err, &ae))
}

func TestAccess_ScopeMatchesPointChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mine := h.project(t, h.alice, "mine")
	theirs := h.project(t, h.bob, "theirs")

	pred, err := h.access.Scope(ctx, h.alice, model.KindProject, model.ActionShow)
	require.NoError(t, err)
	for _, p := range []*model.Project{mine, theirs} {
		ok, err := h.engine.Can(ctx, h.alice, projectRef(p), model.ActionShow)
		require.NoError(t, err)
		require.Equal(t, ok, pred.Matches(projectRef(p)), p.Name)
	}

	none, err := h.access.Scope(ctx, h.carol, model.KindProject, model.ActionShow)
	require.NoError(t, err)
	require.True(t, none.Empty())
}

func TestAccess_HistoryResumesAfterVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.project(t, h.alice, "v1")
	_, err := h.projects.Update(ctx, h.alice, p.ID, "v2", "")
	require.NoError(t, err)
	_, err = h.projects.Update(ctx, h.alice, p.ID, "v3", "")
	require.NoError(t, err)

	all, err := h.access.History(ctx, h.alice, model.KindProject, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	rest, err := h.access.History(ctx, h.alice, model.KindProject, p.ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, 2, rest[0].Version)

	_, err = h.access.History(ctx, h.carol, model.KindProject, p.ID, 0)
	require.ErrorIs(t, err, errs.ErrNotFound)

	sum, err := h.access.Attribution(ctx, h.alice, model.KindProject, p.ID)
	require.NoError(t, err)
	require.Equal(t, h.alice.UserID(), sum.LastUpdatedBy.ID)
	require.Nil(t, sum.DeletedOn)
}
