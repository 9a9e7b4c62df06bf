package job

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"coverscan/internal/apperr"
)

var (
	bucketJobs   = []byte("intake_jobs")
	bucketActive = []byte("intake_jobs_active")
)

// BoltRepo is the embedded Repository. bbolt serialises Update transactions,
// which makes every state transition atomic without row locks.
type BoltRepo struct {
	db  *bbolt.DB
	now func() time.Time
}

type boltJob struct {
	Job
	Seq uint64 `json:"seq"`
}

func OpenBolt(path string) (*BoltRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt queue %s: %w", path, err)
	}
	r, err := NewBoltRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func NewBoltRepo(db *bbolt.DB) (*BoltRepo, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketJobs, bucketActive} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create bolt buckets: %w", err)
	}
	return &BoltRepo{db: db, now: time.Now}, nil
}

func (r *BoltRepo) Close() error {
	return r.db.Close()
}

func activeKey(isbn string, kind Kind) []byte {
	return []byte(string(kind) + "/" + isbn)
}

func getBoltJob(tx *bbolt.Tx, id string) (*boltJob, error) {
	v := tx.Bucket(bucketJobs).Get([]byte(id))
	if v == nil {
		return nil, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	var bj boltJob
	if err := json.Unmarshal(v, &bj); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &bj, nil
}

func putBoltJob(tx *bbolt.Tx, bj *boltJob) error {
	data, err := json.Marshal(bj)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketJobs).Put([]byte(bj.ID), data); err != nil {
		return err
	}
	active := tx.Bucket(bucketActive)
	key := activeKey(bj.ISBN, bj.Kind)
	if bj.State.Active() {
		return active.Put(key, []byte(bj.ID))
	}
	if string(active.Get(key)) == bj.ID {
		return active.Delete(key)
	}
	return nil
}

func forEachJob(tx *bbolt.Tx, fn func(bj *boltJob) error) error {
	return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
		var bj boltJob
		if err := json.Unmarshal(v, &bj); err != nil {
			return fmt.Errorf("decode job %s: %w", k, err)
		}
		return fn(&bj)
	})
}

func (r *BoltRepo) Enqueue(_ context.Context, isbn string, kind Kind) (*Job, error) {
	var out Job
	err := r.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketActive).Get(activeKey(isbn, kind)) != nil {
			return fmt.Errorf("%s job for %s already active: %w", kind, isbn, apperr.ErrConflict)
		}
		seq, err := tx.Bucket(bucketJobs).NextSequence()
		if err != nil {
			return err
		}
		now := r.now()
		bj := &boltJob{
			Job: Job{
				ID:         uuid.New().String(),
				ISBN:       isbn,
				Kind:       kind,
				State:      StatePending,
				EnqueuedAt: now,
				UpdatedAt:  now,
			},
			Seq: seq,
		}
		out = bj.Job
		return putBoltJob(tx, bj)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *BoltRepo) Claim(_ context.Context, workerID string, kind Kind) (*Job, error) {
	var out Job
	err := r.db.Update(func(tx *bbolt.Tx) error {
		var oldest *boltJob
		err := forEachJob(tx, func(bj *boltJob) error {
			if bj.State == StatePending && bj.Kind == kind && (oldest == nil || bj.Seq < oldest.Seq) {
				oldest = bj
			}
			return nil
		})
		if err != nil {
			return err
		}
		if oldest == nil {
			return ErrNoJob
		}
		now := r.now()
		oldest.State = StateRunning
		oldest.WorkerID = workerID
		oldest.HeartbeatAt = &now
		oldest.UpdatedAt = now
		out = oldest.Job
		return putBoltJob(tx, oldest)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// mutateOwned applies fn to a job that must be running under workerID.
func (r *BoltRepo) mutateOwned(id, workerID string, fn func(bj *boltJob)) (*Job, error) {
	var out Job
	err := r.db.Update(func(tx *bbolt.Tx) error {
		bj, err := getBoltJob(tx, id)
		if err != nil {
			return err
		}
		if bj.State != StateRunning || bj.WorkerID != workerID {
			return fmt.Errorf("job %s not running under %s: %w", id, workerID, apperr.ErrConflict)
		}
		fn(bj)
		out = bj.Job
		return putBoltJob(tx, bj)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *BoltRepo) Complete(_ context.Context, id, workerID string) error {
	_, err := r.mutateOwned(id, workerID, func(bj *boltJob) {
		bj.State = StateDone
		bj.LastError = ""
		bj.HeartbeatAt = nil
		bj.UpdatedAt = r.now()
	})
	return err
}

func (r *BoltRepo) Release(_ context.Context, id, workerID string) error {
	_, err := r.mutateOwned(id, workerID, func(bj *boltJob) {
		bj.State = StatePending
		bj.WorkerID = ""
		bj.HeartbeatAt = nil
		bj.UpdatedAt = r.now()
	})
	return err
}

func (r *BoltRepo) Heartbeat(_ context.Context, id, workerID string) error {
	_, err := r.mutateOwned(id, workerID, func(bj *boltJob) {
		now := r.now()
		bj.HeartbeatAt = &now
	})
	return err
}

func (r *BoltRepo) Fail(_ context.Context, id, workerID string, cause error, retryable bool, maxAttempts int) (*Job, error) {
	return r.mutateOwned(id, workerID, func(bj *boltJob) {
		bj.Attempts++
		bj.LastError = errorText(cause)
		if retryable && bj.Attempts < maxAttempts {
			bj.State = StatePending
		} else {
			bj.State = StateFailed
		}
		bj.WorkerID = ""
		bj.HeartbeatAt = nil
		bj.UpdatedAt = r.now()
	})
}

func (r *BoltRepo) ReclaimStale(_ context.Context, olderThan time.Duration) (int, error) {
	reclaimed := 0
	err := r.db.Update(func(tx *bbolt.Tx) error {
		now := r.now()
		cutoff := now.Add(-olderThan)
		var stale []*boltJob
		err := forEachJob(tx, func(bj *boltJob) error {
			if bj.State == StateRunning && bj.HeartbeatAt != nil && bj.HeartbeatAt.Before(cutoff) {
				stale = append(stale, bj)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Puts are deferred until after ForEach; bbolt forbids mutating a
		// bucket while iterating it.
		for _, bj := range stale {
			bj.State = StatePending
			bj.WorkerID = ""
			bj.HeartbeatAt = nil
			bj.UpdatedAt = now
			if err := putBoltJob(tx, bj); err != nil {
				return err
			}
		}
		reclaimed = len(stale)
		return nil
	})
	return reclaimed, err
}

func (r *BoltRepo) Retry(_ context.Context, id string, maxAttempts int) (*Job, error) {
	var out Job
	err := r.db.Update(func(tx *bbolt.Tx) error {
		bj, err := getBoltJob(tx, id)
		if err != nil {
			return err
		}
		if bj.State != StateFailed || bj.Attempts >= maxAttempts {
			return retryRefusal(&bj.Job, maxAttempts)
		}
		if tx.Bucket(bucketActive).Get(activeKey(bj.ISBN, bj.Kind)) != nil {
			return fmt.Errorf("job %s: an equivalent job is already active: %w", id, apperr.ErrConflict)
		}
		bj.State = StatePending
		bj.UpdatedAt = r.now()
		out = bj.Job
		return putBoltJob(tx, bj)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *BoltRepo) Get(_ context.Context, id string) (*Job, error) {
	var out Job
	err := r.db.View(func(tx *bbolt.Tx) error {
		bj, err := getBoltJob(tx, id)
		if err != nil {
			return err
		}
		out = bj.Job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *BoltRepo) List(_ context.Context, state State) ([]Job, error) {
	var all []boltJob
	err := r.db.View(func(tx *bbolt.Tx) error {
		return forEachJob(tx, func(bj *boltJob) error {
			if state == "" || bj.State == state {
				all = append(all, *bj)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq > all[j].Seq })
	if len(all) > 500 {
		all = all[:500]
	}
	jobs := make([]Job, len(all))
	for i := range all {
		jobs[i] = all[i].Job
	}
	return jobs, nil
}

func (r *BoltRepo) FindActive(_ context.Context, isbn string, kind Kind) (*Job, error) {
	var out Job
	err := r.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketActive).Get(activeKey(isbn, kind))
		if id == nil {
			return fmt.Errorf("no active %s job for %s: %w", kind, isbn, apperr.ErrNotFound)
		}
		bj, err := getBoltJob(tx, string(id))
		if err != nil {
			return err
		}
		out = bj.Job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *BoltRepo) CountByState(_ context.Context) (map[State]int, error) {
	counts := map[State]int{StatePending: 0, StateRunning: 0, StateDone: 0, StateFailed: 0}
	err := r.db.View(func(tx *bbolt.Tx) error {
		return forEachJob(tx, func(bj *boltJob) error {
			counts[bj.State]++
			return nil
		})
	})
	return counts, err
}
