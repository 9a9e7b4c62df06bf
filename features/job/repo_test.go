package job_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coverscan/features/job"
	"coverscan/internal/apperr"
)

var jobCols = []string{"id", "isbn", "kind", "state", "attempts", "worker_id", "last_error", "enqueued_at", "updated_at", "heartbeat_at"}

const jobID = "0b9f3f4e-5a56-4d0c-9d53-0c1f4a1e2b77"

func jobRow(state job.State, attempts int, workerID string) *sqlmock.Rows {
	now := time.Now()
	var hb interface{}
	if state == job.StateRunning {
		hb = now
	}
	return sqlmock.NewRows(jobCols).
		AddRow(jobID, "9782889539215", "fetch", string(state), attempts, workerID, "", now, now, hb)
}

func TestPostgresRepo_Enqueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO intake_jobs (id, isbn, kind, state)`)).
		WithArgs(sqlmock.AnyArg(), "9782889539215", job.KindFetch).
		WillReturnRows(jobRow(job.StatePending, 0, ""))

	j, err := job.NewPostgresRepo(db).Enqueue(context.Background(), "9782889539215", job.KindFetch)
	require.NoError(t, err)
	assert.Equal(t, job.StatePending, j.State)
	assert.Nil(t, j.HeartbeatAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Enqueue_DuplicateIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO intake_jobs`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err = job.NewPostgresRepo(db).Enqueue(context.Background(), "9782889539215", job.KindFetch)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestPostgresRepo_Claim(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE SKIP LOCKED`)).
		WithArgs("book_worker", job.KindFetch).
		WillReturnRows(jobRow(job.StateRunning, 0, "book_worker"))

	j, err := job.NewPostgresRepo(db).Claim(context.Background(), "book_worker", job.KindFetch)
	require.NoError(t, err)
	assert.Equal(t, "book_worker", j.WorkerID)
	assert.NotNil(t, j.HeartbeatAt)
}

func TestPostgresRepo_Claim_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE SKIP LOCKED`)).
		WillReturnRows(sqlmock.NewRows(jobCols))

	_, err = job.NewPostgresRepo(db).Claim(context.Background(), "book_worker", job.KindFetch)
	assert.ErrorIs(t, err, job.ErrNoJob)
}

func TestPostgresRepo_Complete_LostOwnership(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`SET state = 'done'`)).
		WithArgs(jobID, "book_worker").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = job.NewPostgresRepo(db).Complete(context.Background(), jobID, "book_worker")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestPostgresRepo_Heartbeat(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`SET heartbeat_at = NOW()`)).
		WithArgs(jobID, "book_worker").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, job.NewPostgresRepo(db).Heartbeat(context.Background(), jobID, "book_worker"))
}

func TestPostgresRepo_Fail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`attempts = attempts + 1`)).
		WithArgs(jobID, "book_worker", "upstream 503", true, 3).
		WillReturnRows(jobRow(job.StatePending, 1, ""))

	j, err := job.NewPostgresRepo(db).Fail(context.Background(), jobID, "book_worker", errors.New("upstream 503"), true, 3)
	require.NoError(t, err)
	assert.Equal(t, job.StatePending, j.State)
	assert.Equal(t, 1, j.Attempts)
}

func TestPostgresRepo_ReclaimStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`make_interval(secs => $1)`)).
		WithArgs(float64(30)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := job.NewPostgresRepo(db).ReclaimStale(context.Background(), 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPostgresRepo_Retry_CapReached(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1 AND state = 'failed' AND attempts < $2`)).
		WithArgs(jobID, 3).
		WillReturnRows(sqlmock.NewRows(jobCols))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM intake_jobs WHERE id = $1`)).
		WithArgs(jobID).
		WillReturnRows(jobRow(job.StateFailed, 3, ""))

	_, err = job.NewPostgresRepo(db).Retry(context.Background(), jobID, 3)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "attempt cap")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Retry_UnknownID(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = job.NewPostgresRepo(db).Retry(context.Background(), "not-a-uuid", 3)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresRepo_FindActive_None(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`state IN ('pending', 'running')`)).
		WithArgs("9782889539215", job.KindFetch).
		WillReturnRows(sqlmock.NewRows(jobCols))

	_, err = job.NewPostgresRepo(db).FindActive(context.Background(), "9782889539215", job.KindFetch)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresRepo_CountByState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY state`)).
		WillReturnRows(sqlmock.NewRows([]string{"state", "count"}).AddRow("pending", 4).AddRow("failed", 1))

	counts, err := job.NewPostgresRepo(db).CountByState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[job.State]int{job.StatePending: 4, job.StateRunning: 0, job.StateDone: 0, job.StateFailed: 1}, counts)
}
