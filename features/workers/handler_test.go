package workers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coverscan/features/job"
	"coverscan/features/workers"
	"coverscan/internal/worker"
)

type idleRunner struct{}

func (idleRunner) Run(ctx context.Context) { <-ctx.Done() }
func (idleRunner) Wake()                   {}
func (idleRunner) Stats() worker.Stats     { return worker.Stats{} }
func (idleRunner) Kind() job.Kind          { return job.KindFetch }

func post(h http.HandlerFunc, path, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, nil)
	req.SetPathValue("id", id)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestHandler_StartStopStatus(t *testing.T) {
	reg := worker.NewRegistry(nil)
	require.NoError(t, reg.Register("book_worker", idleRunner{}))
	h := workers.NewHandler(reg)
	defer reg.StopAll(context.Background())

	w := post(h.Start, "/workers/book_worker/start", "book_worker")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"started"}`, w.Body.String())

	w = httptest.NewRecorder()
	h.Status(w, httptest.NewRequest("GET", "/workers/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]worker.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status["book_worker"].Running)

	w = post(h.Stop, "/workers/book_worker/stop", "book_worker")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"stopped"}`, w.Body.String())

	w = post(h.Stop, "/workers/book_worker/stop", "book_worker")
	assert.JSONEq(t, `{"status":"not_running"}`, w.Body.String())
}

func TestHandler_UnknownWorker(t *testing.T) {
	h := workers.NewHandler(worker.NewRegistry(nil))

	for _, fn := range []http.HandlerFunc{h.Start, h.Stop} {
		w := post(fn, "/workers/ghost/start", "ghost")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "NOT_FOUND")
	}
}
