package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coverscan/features/job"
	"coverscan/internal/apperr"
	"coverscan/internal/config"
	"coverscan/internal/testutils"
)

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := job.NewPostgresRepo(s.DB)
	ctx := context.Background()

	t.Run("concurrent enqueue yields one job", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Enqueue(ctx, "9782889539215", job.KindFetch)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		ok, conflicts := 0, 0
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 9, conflicts)
	})

	t.Run("claims are exclusive", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			_, err := repo.Enqueue(ctx, fmt.Sprintf("978000000%04d", i), job.KindFetch)
			require.NoError(t, err)
		}

		var mu sync.Mutex
		claimed := map[string]bool{}
		var wg sync.WaitGroup
		for w := 0; w < 5; w++ {
			wg.Add(1)
			go func(worker string) {
				defer wg.Done()
				for {
					j, err := repo.Claim(ctx, worker, job.KindFetch)
					if errors.Is(err, job.ErrNoJob) {
						return
					}
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					assert.False(t, claimed[j.ID], "job claimed twice")
					claimed[j.ID] = true
					mu.Unlock()
					assert.NoError(t, repo.Complete(ctx, j.ID, worker))
				}
			}(fmt.Sprintf("worker-%d", w))
		}
		wg.Wait()

		assert.Len(t, claimed, 21)
	})

	t.Run("fail then operator retry", func(t *testing.T) {
		_, err := repo.Enqueue(ctx, "collections", job.KindMerge)
		require.NoError(t, err)
		j, err := repo.Claim(ctx, "merge_collection_worker", job.KindMerge)
		require.NoError(t, err)

		failed, err := repo.Fail(ctx, j.ID, "merge_collection_worker", errors.New("boom"), false, 3)
		require.NoError(t, err)
		assert.Equal(t, job.StateFailed, failed.State)

		list, err := repo.List(ctx, job.StateFailed)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		retried, err := repo.Retry(ctx, j.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, job.StatePending, retried.State)

		counts, err := repo.CountByState(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[job.StatePending])
		assert.Equal(t, 0, counts[job.StateFailed])
	})
	t.Run("enqueue announces on nsq", func(t *testing.T) {
		svc := job.NewService(repo, s.NSQ, nil, 3)
		created, err := svc.Enqueue(ctx, "9780306406157", job.KindFetch)
		require.NoError(t, err)

		m := s.ConsumeOne(config.TopicIntakeEnqueued)
		require.NotNil(t, m, "no message on %s", config.TopicIntakeEnqueued)
		var ev job.Event
		require.NoError(t, json.Unmarshal(m.Body, &ev))
		assert.Equal(t, created.ID, ev.JobID)
		assert.Equal(t, "9780306406157", ev.ISBN)
		assert.Equal(t, job.KindFetch, ev.Kind)
		assert.Equal(t, job.StatePending, ev.State)
	})
}
