package job_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"coverscan/features/job"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) job(args mock.Arguments) (*job.Job, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *MockRepo) Enqueue(ctx context.Context, isbn string, kind job.Kind) (*job.Job, error) {
	return m.job(m.Called(ctx, isbn, kind))
}

func (m *MockRepo) Claim(ctx context.Context, workerID string, kind job.Kind) (*job.Job, error) {
	return m.job(m.Called(ctx, workerID, kind))
}

func (m *MockRepo) Complete(ctx context.Context, id, workerID string) error {
	return m.Called(ctx, id, workerID).Error(0)
}

func (m *MockRepo) Fail(ctx context.Context, id, workerID string, cause error, retryable bool, maxAttempts int) (*job.Job, error) {
	return m.job(m.Called(ctx, id, workerID, cause, retryable, maxAttempts))
}

func (m *MockRepo) Release(ctx context.Context, id, workerID string) error {
	return m.Called(ctx, id, workerID).Error(0)
}

func (m *MockRepo) Heartbeat(ctx context.Context, id, workerID string) error {
	return m.Called(ctx, id, workerID).Error(0)
}

func (m *MockRepo) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}

func (m *MockRepo) Retry(ctx context.Context, id string, maxAttempts int) (*job.Job, error) {
	return m.job(m.Called(ctx, id, maxAttempts))
}

func (m *MockRepo) Get(ctx context.Context, id string) (*job.Job, error) {
	return m.job(m.Called(ctx, id))
}

func (m *MockRepo) List(ctx context.Context, state job.State) ([]job.Job, error) {
	args := m.Called(ctx, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]job.Job), args.Error(1)
}

func (m *MockRepo) FindActive(ctx context.Context, isbn string, kind job.Kind) (*job.Job, error) {
	return m.job(m.Called(ctx, isbn, kind))
}

func (m *MockRepo) CountByState(ctx context.Context) (map[job.State]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[job.State]int), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}
