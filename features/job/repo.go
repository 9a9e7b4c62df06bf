package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"coverscan/internal/apperr"
)

// Repository is the intake queue. Every transition that names a worker id
// fails with apperr.ErrConflict when that worker no longer owns the job.
type Repository interface {
	Enqueue(ctx context.Context, isbn string, kind Kind) (*Job, error)
	Claim(ctx context.Context, workerID string, kind Kind) (*Job, error)
	Complete(ctx context.Context, id, workerID string) error
	Fail(ctx context.Context, id, workerID string, cause error, retryable bool, maxAttempts int) (*Job, error)
	Release(ctx context.Context, id, workerID string) error
	Heartbeat(ctx context.Context, id, workerID string) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)
	Retry(ctx context.Context, id string, maxAttempts int) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, state State) ([]Job, error)
	FindActive(ctx context.Context, isbn string, kind Kind) (*Job, error)
	CountByState(ctx context.Context) (map[State]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const jobColumns = `id, isbn, kind, state, attempts, worker_id, last_error, enqueued_at, updated_at, heartbeat_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	j := &Job{}
	var hb sql.NullTime
	err := row.Scan(&j.ID, &j.ISBN, &j.Kind, &j.State, &j.Attempts, &j.WorkerID, &j.LastError,
		&j.EnqueuedAt, &j.UpdatedAt, &hb)
	if err != nil {
		return nil, err
	}
	if hb.Valid {
		t := hb.Time
		j.HeartbeatAt = &t
	}
	return j, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (r *PostgresRepo) Enqueue(ctx context.Context, isbn string, kind Kind) (*Job, error) {
	query := `INSERT INTO intake_jobs (id, isbn, kind, state) VALUES ($1, $2, $3, 'pending') RETURNING ` + jobColumns
	j, err := scanJob(r.db.QueryRowContext(ctx, query, uuid.New().String(), isbn, kind))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%s job for %s already active: %w", kind, isbn, apperr.ErrConflict)
	}
	return j, err
}

// Claim takes the oldest pending job of kind. SKIP LOCKED lets concurrent
// claimers pass over a row another transaction is taking.
func (r *PostgresRepo) Claim(ctx context.Context, workerID string, kind Kind) (*Job, error) {
	query := `UPDATE intake_jobs SET state = 'running', worker_id = $1, heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM intake_jobs WHERE state = 'pending' AND kind = $2
			ORDER BY enqueued_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns
	j, err := scanJob(r.db.QueryRowContext(ctx, query, workerID, kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJob
	}
	return j, err
}

func (r *PostgresRepo) owned(ctx context.Context, query, id, workerID string) error {
	res, err := r.db.ExecContext(ctx, query, id, workerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s not running under %s: %w", id, workerID, apperr.ErrConflict)
	}
	return nil
}

func (r *PostgresRepo) Complete(ctx context.Context, id, workerID string) error {
	query := `UPDATE intake_jobs SET state = 'done', last_error = '', heartbeat_at = NULL, updated_at = NOW()
		WHERE id = $1 AND worker_id = $2 AND state = 'running'`
	return r.owned(ctx, query, id, workerID)
}

func (r *PostgresRepo) Release(ctx context.Context, id, workerID string) error {
	query := `UPDATE intake_jobs SET state = 'pending', worker_id = '', heartbeat_at = NULL, updated_at = NOW()
		WHERE id = $1 AND worker_id = $2 AND state = 'running'`
	return r.owned(ctx, query, id, workerID)
}

func (r *PostgresRepo) Heartbeat(ctx context.Context, id, workerID string) error {
	query := `UPDATE intake_jobs SET heartbeat_at = NOW() WHERE id = $1 AND worker_id = $2 AND state = 'running'`
	return r.owned(ctx, query, id, workerID)
}

// Fail records an attempt. Retryable failures go back to pending until the
// attempt cap is reached.
func (r *PostgresRepo) Fail(ctx context.Context, id, workerID string, cause error, retryable bool, maxAttempts int) (*Job, error) {
	query := `UPDATE intake_jobs SET
			attempts = attempts + 1,
			last_error = $3,
			state = CASE WHEN $4::boolean AND attempts + 1 < $5 THEN 'pending' ELSE 'failed' END,
			worker_id = '', heartbeat_at = NULL, updated_at = NOW()
		WHERE id = $1 AND worker_id = $2 AND state = 'running'
		RETURNING ` + jobColumns
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id, workerID, errorText(cause), retryable, maxAttempts))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s not running under %s: %w", id, workerID, apperr.ErrConflict)
	}
	return j, err
}

func (r *PostgresRepo) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `UPDATE intake_jobs SET state = 'pending', worker_id = '', heartbeat_at = NULL, updated_at = NOW()
		WHERE state = 'running' AND heartbeat_at < NOW() - make_interval(secs => $1)`
	res, err := r.db.ExecContext(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Retry moves a failed job back to pending on operator request.
func (r *PostgresRepo) Retry(ctx context.Context, id string, maxAttempts int) (*Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	query := `UPDATE intake_jobs SET state = 'pending', updated_at = NOW()
		WHERE id = $1 AND state = 'failed' AND attempts < $2
		RETURNING ` + jobColumns
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id, maxAttempts))
	switch {
	case isUniqueViolation(err):
		return nil, fmt.Errorf("job %s: an equivalent job is already active: %w", id, apperr.ErrConflict)
	case errors.Is(err, sql.ErrNoRows):
		existing, getErr := r.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, retryRefusal(existing, maxAttempts)
	}
	return j, err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	query := `SELECT ` + jobColumns + ` FROM intake_jobs WHERE id = $1`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	return j, err
}

func (r *PostgresRepo) List(ctx context.Context, state State) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM intake_jobs WHERE ($1::text = '' OR state = $1) ORDER BY enqueued_at DESC LIMIT 500`
	rows, err := r.db.QueryContext(ctx, query, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) FindActive(ctx context.Context, isbn string, kind Kind) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM intake_jobs WHERE isbn = $1 AND kind = $2 AND state IN ('pending', 'running')`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, isbn, kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no active %s job for %s: %w", kind, isbn, apperr.ErrNotFound)
	}
	return j, err
}

func (r *PostgresRepo) CountByState(ctx context.Context) (map[State]int, error) {
	query := `SELECT state, COUNT(*) FROM intake_jobs GROUP BY state`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[State]int{StatePending: 0, StateRunning: 0, StateDone: 0, StateFailed: 0}
	for rows.Next() {
		var s State
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

func retryRefusal(j *Job, maxAttempts int) error {
	if j.State != StateFailed {
		return fmt.Errorf("job %s is %s, only failed jobs can be retried: %w", j.ID, j.State, apperr.ErrConflict)
	}
	return fmt.Errorf("job %s reached the attempt cap (%d/%d): %w", j.ID, j.Attempts, maxAttempts, apperr.ErrConflict)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
