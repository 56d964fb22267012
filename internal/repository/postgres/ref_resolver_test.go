package postgres

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
)

func TestRefQueries_CoverEveryKind(t *testing.T) {
	for _, k := range model.Kinds {
		_, ok := refQueries[k]
		require.True(t, ok, "no ref query for %s", k)
	}
}

func TestRefResolver_DataFileOwnerIsUploader(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefResolver(db)
	id, pid, uploader := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM containers c LEFT JOIN uploads u ON u.id = c.upload_id`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"project_id", "creator_id", "is_deleted"}).AddRow(&pid, &uploader, false))

	ref, err := r.Resolve(context.Background(), model.KindDataFile, id)
	require.NoError(t, err)
	require.Equal(t, model.Ref{Kind: model.KindDataFile, ID: id, ProjectID: pid, OwnerID: uploader}, ref)
}

func TestRefResolver_SystemKindHasNoProject(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefResolver(db)
	id, owner := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM software_agents WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"project_id", "creator_id", "is_deleted"}).AddRow((*uuid.UUID)(nil), &owner, true))

	ref, err := r.Resolve(context.Background(), model.KindSoftwareAgent, id)
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, ref.ProjectID)
	require.Equal(t, owner, ref.OwnerID)
	require.True(t, ref.Deleted)
}

func TestRefResolver_NotFoundAndUnknownKind(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRefResolver(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM projects WHERE id=\$1`).WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err := r.Resolve(context.Background(), model.KindProject, id)
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = r.Resolve(context.Background(), model.Kind("bogus"), id)
	require.Error(t, err)
}
