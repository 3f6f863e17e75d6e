package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/todo-keeper/internal/errs"
)

func TestTaskRepo_Put(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTaskRepo(db)
	uid := uuid.Must(uuid.NewV4())
	body := []byte(`{"title":"a"}`)

	mock.ExpectExec(`INSERT INTO task_records .* DO UPDATE SET body = EXCLUDED.body`).
		WithArgs(uid, "t1", string(body)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Put(context.Background(), uid, "t1", body))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepo_Patch_MergesAndMapsMissingOwner(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTaskRepo(db)
	uid := uuid.Must(uuid.NewV4())
	patch := []byte(`{"completed":true}`)

	mock.ExpectExec(`DO UPDATE SET body = task_records.body \|\| EXCLUDED.body`).
		WithArgs(uid, "t1", string(patch)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Patch(context.Background(), uid, "t1", patch))

	mock.ExpectExec(`INSERT INTO task_records`).
		WithArgs(uid, "t1", string(patch)).
		WillReturnError(&pgconn.PgError{Code: "23503"})
	err := r.Patch(context.Background(), uid, "t1", patch)
	require.ErrorIs(t, err, errs.ErrNotFound)

	boom := errors.New("boom")
	mock.ExpectExec(`INSERT INTO task_records`).
		WithArgs(uid, "t1", string(patch)).
		WillReturnError(boom)
	require.ErrorIs(t, r.Patch(context.Background(), uid, "t1", patch), boom)
}

func TestTaskRepo_Delete_MissingIsOK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTaskRepo(db)
	uid := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`DELETE FROM task_records WHERE user_id=\$1 AND task_id=\$2`).
		WithArgs(uid, "nope").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.NoError(t, r.Delete(context.Background(), uid, "nope"))
}

func TestTaskRepo_List(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTaskRepo(db)
	uid := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`SELECT task_id, body, updated_at FROM task_records WHERE user_id=\$1`).
		WithArgs(uid).
		WillReturnRows(pgxmock.NewRows([]string{"task_id", "body", "updated_at"}).
			AddRow("a", []byte(`{"title":"A"}`), now).
			AddRow("b", []byte(`{"title":"B"}`), now))
	recs, err := r.List(context.Background(), uid)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "a", recs[0].TaskID)
	require.Equal(t, uid, recs[1].UserID)
	require.JSONEq(t, `{"title":"B"}`, string(recs[1].Body))

	mock.ExpectQuery(`FROM task_records WHERE user_id=\$1`).
		WithArgs(uid).
		WillReturnRows(pgxmock.NewRows([]string{"task_id", "body", "updated_at"}))
	recs, err = r.List(context.Background(), uid)
	require.NoError(t, err)
	require.NotNil(t, recs)
	require.Empty(t, recs)
}
