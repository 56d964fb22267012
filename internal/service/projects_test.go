package service

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/repository"
)

func TestProjects_CreatorCanSeeOthersCannot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.project(t, h.alice, "genomics")

	got, err := h.projects.Get(ctx, h.alice, p.ID)
	require.NoError(t, err)
	require.Equal(t, "genomics", got.Name)
	require.NotEmpty(t, got.Etag)

	_, err = h.projects.Get(ctx, h.carol, p.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	var ae *errs.AuthorizationError
	require.True(t, errors.As(err, &ae))

	_, err = h.projects.Get(ctx, h.admin, p.ID)
	require.NoError(t, err)
}

func TestProjects_MissingAndForbiddenLookAlike(t *testing.T) {
	h := newHarness(t)
	p := h.project(t, h.alice, "genomics")

	_, forbidden := h.projects.Get(context.Background(), h.carol, p.ID)
	_, missing := h.projects.Get(context.Background(), h.carol, uuid.Must(uuid.NewV4()))

	var a, b *errs.AuthorizationError
	require.True(t, errors.As(forbidden, &a))
	require.True(t, errors.As(missing, &b))
	require.Equal(t, a.Reason(), b.Reason())
}

func TestProjects_ListIsScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.project(t, h.alice, "b-proj")
	a := h.project(t, h.alice, "a-proj")
	h.project(t, h.bob, "c-proj")

	mine, err := h.projects.List(ctx, h.alice, repository.Page{})
	require.NoError(t, err)
	require.Equal(t, []string{"a-proj", "b-proj"}, projectNames(mine))

	all, err := h.projects.List(ctx, h.admin, repository.Page{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	page, err := h.projects.List(ctx, h.admin, repository.Page{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"b-proj"}, projectNames(page))

	none, err := h.projects.List(ctx, h.carol, repository.Page{})
	require.NoError(t, err)
	require.Empty(t, none)

	require.NoError(t, h.projects.Delete(ctx, h.alice, a.ID))
	mine, err = h.projects.List(ctx, h.alice, repository.Page{})
	require.NoError(t, err)
	require.Equal(t, []string{"b-proj"}, projectNames(mine))

	all, err = h.projects.List(ctx, h.admin, repository.Page{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestProjects_UpdateRecordsOnlyChangedFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.project(t, h.alice, "genomics")

	got, err := h.projects.Update(ctx, h.alice, p.ID, "genomics", "sequencing runs")
	require.NoError(t, err)
	require.NotEqual(t, p.Etag, got.Etag)

	entries := h.db.auditsOf(model.KindProject, p.ID)
	require.Len(t, entries, 2)
	require.Equal(t, audit.ActionUpdate, entries[1].Action)
	require.Equal(t, 2, entries[1].Version)
	require.Equal(t, map[string]any{"description": []any{"", "sequencing runs"}}, entries[1].Changes)

	_, err = h.projects.Update(ctx, h.alice, p.ID, "genomics", "sequencing runs")
	require.NoError(t, err)
	require.Len(t, h.db.auditsOf(model.KindProject, p.ID), 2, "no-op update is not audited")

	h.grant(t, h.alice, p.ID, h.bob, "project_viewer")
	_, err = h.projects.Update(ctx, h.bob, p.ID, "renamed", "")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestProjects_DeleteIsLogicalAndHidesProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.project(t, h.alice, "genomics")

	require.NoError(t, h.projects.Delete(ctx, h.alice, p.ID))
	require.True(t, h.db.projects[p.ID].IsDeleted)

	entries := h.db.auditsOf(model.KindProject, p.ID)
	last := entries[len(entries)-1]
	require.Equal(t, audit.ActionUpdate, last.Action)
	require.True(t, last.Comment.IsDelete())

	for _, a := range []model.Actor{h.alice, h.admin} {
		_, err := h.projects.Get(ctx, a, p.ID)
		require.ErrorIs(t, err, errs.ErrNotFound)
	}
	require.ErrorIs(t, h.projects.Delete(ctx, h.alice, p.ID), errs.ErrNotFound)

	sum, err := h.access.Attribution(ctx, h.admin, model.KindProject, p.ID)
	require.NoError(t, err)
	require.NotNil(t, sum.DeletedBy)
	require.Equal(t, h.alice.UserID(), sum.DeletedBy.ID)
	require.Nil(t, sum.LastUpdatedOn)
}

func projectNames(ps []model.Project) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Name)
	}
	return out
}

func TestProjects_CreatorGrantsGetDistinctIDs(t *testing.T) {
	h := newHarness(t)
	h.project(t, h.alice, "genomics")
	h.project(t, h.alice, "proteomics")

	require.Len(t, h.db.projPerms, 2)
	seen := map[uuid.UUID]bool{}
	for _, perm := range h.db.projPerms {
		require.NotEqual(t, uuid.Nil, perm.ID)
		require.False(t, seen[perm.ID])
		seen[perm.ID] = true
		require.Len(t, h.db.auditsOf(model.KindProjectPermission, perm.ID), 1)
	}
}

func TestProjects_ConcurrentDeleteIsNotUndone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.project(t, h.alice, "genomics")
	deleteNow := func() {
		cur := h.db.projects[p.ID]
		cur.IsDeleted = true
		h.db.projects[p.ID] = cur
	}

	h.db.onBegin = deleteNow
	_, err := h.projects.Update(ctx, h.alice, p.ID, "renamed", "")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.True(t, h.db.projects[p.ID].IsDeleted)
	require.Equal(t, "genomics", h.db.projects[p.ID].Name)
	require.Len(t, h.db.auditsOf(model.KindProject, p.ID), 1)

	h.db.onBegin = deleteNow
	require.ErrorIs(t, h.projects.Delete(ctx, h.alice, p.ID), errs.ErrNotFound)
	require.Len(t, h.db.auditsOf(model.KindProject, p.ID), 1)
}

func TestProjects_UpdateWritesOnlyItsColumns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.project(t, h.alice, "genomics")
	h.db.onBegin = func() {
		cur := h.db.projects[p.ID]
		cur.Description = "written elsewhere"
		h.db.projects[p.ID] = cur
	}

	got, err := h.projects.Update(ctx, h.alice, p.ID, "renamed", "written elsewhere")
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Name)

	entries := h.db.auditsOf(model.KindProject, p.ID)
	require.Len(t, entries, 2)
	require.Equal(t, map[string]any{"name": []any{"genomics", "renamed"}}, entries[1].Changes)
}

func TestProjects_AuditFailureLeavesUpdateUnapplied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.project(t, h.alice, "genomics")
	h.db.appendErr = errors.New("disk full")

	_, err := h.projects.Update(ctx, h.alice, p.ID, "renamed", "")
	require.True(t, errs.IsConsistency(err), "got %v", err)
	require.Equal(t, "genomics", h.db.projects[p.ID].Name)
	require.Equal(t, p.Etag, h.db.projects[p.ID].Etag)

	err = h.projects.Delete(ctx, h.alice, p.ID)
	require.True(t, errs.IsConsistency(err), "got %v", err)
	require.False(t, h.db.projects[p.ID].IsDeleted)
	require.Len(t, h.db.auditsOf(model.KindProject, p.ID), 1)
}
