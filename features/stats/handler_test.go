package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coverscan/features/job"
)

type MockBookRepo struct{ mock.Mock }

func (m *MockBookRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockIndex struct{ mock.Mock }

func (m *MockIndex) Len(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockJobs struct{ mock.Mock }

func (m *MockJobs) Counts(ctx context.Context) (map[job.State]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[job.State]int), args.Error(1)
}

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockBookRepo, *MockIndex, *MockJobs)
		wantStatus int
		checkBody  func(*testing.T, []byte)
	}{
		{
			name: "Success",
			setupMocks: func(b *MockBookRepo, i *MockIndex, j *MockJobs) {
				b.On("Count", mock.Anything).Return(120, nil)
				i.On("Len", mock.Anything).Return(118, nil)
				j.On("Counts", mock.Anything).Return(map[job.State]int{
					job.StatePending: 3, job.StateRunning: 1, job.StateDone: 40, job.StateFailed: 2,
				}, nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body []byte) {
				var resp StatsResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, 120, resp.Books)
				assert.Equal(t, 118, resp.CoversIndexed)
				assert.Equal(t, JobCounts{Pending: 3, Running: 1, Done: 40, Failed: 2}, resp.Jobs)
			},
		},
		{
			name: "BookRepoError",
			setupMocks: func(b *MockBookRepo, i *MockIndex, j *MockJobs) {
				b.On("Count", mock.Anything).Return(0, errors.New("db error"))
			},
			wantStatus: http.StatusInternalServerError,
			checkBody: func(t *testing.T, body []byte) {
				assert.Contains(t, string(body), "failed to count books")
			},
		},
		{
			name: "IndexError",
			setupMocks: func(b *MockBookRepo, i *MockIndex, j *MockJobs) {
				b.On("Count", mock.Anything).Return(1, nil)
				i.On("Len", mock.Anything).Return(0, errors.New("weaviate down"))
			},
			wantStatus: http.StatusInternalServerError,
			checkBody: func(t *testing.T, body []byte) {
				assert.Contains(t, string(body), "INTERNAL_ERROR")
			},
		},
		{
			name: "JobsError",
			setupMocks: func(b *MockBookRepo, i *MockIndex, j *MockJobs) {
				b.On("Count", mock.Anything).Return(1, nil)
				i.On("Len", mock.Anything).Return(1, nil)
				j.On("Counts", mock.Anything).Return(nil, errors.New("bolt closed"))
			},
			wantStatus: http.StatusInternalServerError,
			checkBody: func(t *testing.T, body []byte) {
				assert.Contains(t, string(body), "failed to count jobs")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, i, j := new(MockBookRepo), new(MockIndex), new(MockJobs)
			tt.setupMocks(b, i, j)
			h := NewHandler(b, i, j)

			w := httptest.NewRecorder()
			h.GetStats(w, httptest.NewRequest("GET", "/stats", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			tt.checkBody(t, w.Body.Bytes())
		})
	}
}
