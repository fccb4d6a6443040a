package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundbridge/transcribe-api/internal/domain"
	"github.com/soundbridge/transcribe-api/internal/tasks"
)

// fakeHandle stands in for a worker process; tests emit its outcome.
type fakeHandle struct {
	outcome chan domain.Outcome

	mu         sync.Mutex
	terminated int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{outcome: make(chan domain.Outcome, 1)}
}

func (h *fakeHandle) Outcome() <-chan domain.Outcome { return h.outcome }

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated++
	return nil
}

func (h *fakeHandle) terminations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// fakeStore is an in-memory tasks.TaskStore.
type fakeStore struct {
	mu       sync.Mutex
	tasks    map[string]domain.Task
	segments map[string][]domain.Segment
	appends  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:    make(map[string]domain.Task),
		segments: make(map[string][]domain.Segment),
	}
}

func (s *fakeStore) CreateTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = *task
	return nil
}

func (s *fakeStore) GetTask(_ context.Context, taskID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return &task, nil
}

func (s *fakeStore) ListTasks(_ context.Context) ([]domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Summary, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, taskID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	task.Status = status
	task.UpdatedAt = time.Now()
	s.tasks[taskID] = task
	return nil
}

func (s *fakeStore) AppendResult(_ context.Context, taskID string, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	task.Status = outcome.Status
	task.Error = outcome.Err
	task.UpdatedAt = time.Now()
	s.tasks[taskID] = task
	if outcome.Status == domain.StatusCompleted {
		s.segments[taskID] = outcome.Segments
	}
	s.appends = append(s.appends, taskID)
	return nil
}

func (s *fakeStore) GetSegments(_ context.Context, taskID string) ([]domain.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments[taskID], nil
}

func (s *fakeStore) appended() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.appends...)
}

// fakeObjects is an in-memory ObjectStore keyed by bucket/key.
type fakeObjects struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{blobs: make(map[string][]byte)}
}

func objectKey(bucket, key string) string { return bucket + "/" + key }

func (o *fakeObjects) Put(_ context.Context, bucket, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blobs[objectKey(bucket, key)] = data
	return nil
}

func (o *fakeObjects) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.blobs[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *fakeObjects) GetRange(_ context.Context, bucket, key string, start, end int64) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.blobs[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data[start : end+1])), nil
}

func (o *fakeObjects) Stat(_ context.Context, bucket, key string) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.blobs[objectKey(bucket, key)]
	if !ok {
		return 0, fmt.Errorf("object %s not found", key)
	}
	return int64(len(data)), nil
}

func (o *fakeObjects) only(t *testing.T) []byte {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.Len(t, o.blobs, 1)
	for _, data := range o.blobs {
		return data
	}
	return nil
}

type testEnv struct {
	store    *fakeStore
	objects  *fakeObjects
	registry *tasks.Registry
	bridge   *tasks.Bridge
	handles  chan *fakeHandle
	handler  *TaskHandler
	engine   *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeStore()
	objects := newFakeObjects()
	registry := tasks.NewRegistry(logger)
	bridge := tasks.NewBridge(registry, store, nil, logger)
	handles := make(chan *fakeHandle, 8)

	h := NewTaskHandler(&Dependencies{
		Logger:   logger,
		Registry: registry,
		Bridge:   bridge,
		Store:    store,
		Objects:  objects,
		Bucket:   "media",
		TempDir:  t.TempDir(),
		Launch: func(taskID, inputPath string) (tasks.Handle, error) {
			fh := newFakeHandle()
			handles <- fh
			return fh, nil
		},
	})

	engine := gin.New()
	engine.POST("/transcribe", h.Transcribe)
	engine.GET("/status/:task_id", h.GetStatus)
	engine.DELETE("/cancel/:task_id", h.Cancel)
	engine.GET("/tasks", h.ListTasks)
	engine.GET("/download/:task_id", h.Download)
	engine.GET("/stream/:task_id", h.Stream)

	return &testEnv{
		store:    store,
		objects:  objects,
		registry: registry,
		bridge:   bridge,
		handles:  handles,
		handler:  h,
		engine:   engine,
	}
}

func (e *testEnv) submit(t *testing.T, filename string, content []byte) (string, *fakeHandle) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)
	require.Equal(t, domain.StatusRunning, resp.Status)

	select {
	case fh := <-e.handles:
		return resp.TaskID, fh
	case <-time.After(time.Second):
		t.Fatal("no worker launched for submitted task")
		return "", nil
	}
}

func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.bridge.Drain(ctx))
}

func (e *testEnv) do(method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) status(t *testing.T, taskID string) (string, any) {
	t.Helper()
	rec := e.do(http.MethodGet, "/status/"+taskID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
		Result any    `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, taskID, resp.TaskID)
	return resp.Status, resp.Result
}

func TestTranscribeLifecycleCompleted(t *testing.T) {
	env := newTestEnv(t)

	audio := []byte("fake wav bytes")
	taskID, fh := env.submit(t, "meeting.wav", audio)

	status, result := env.status(t, taskID)
	assert.Equal(t, domain.StatusRunning, status)
	assert.Nil(t, result)

	fh.outcome <- domain.CompletedOutcome([]domain.Segment{
		{ID: 0, Start: 0, End: 2.5, Text: " hello"},
		{ID: 1, Start: 2.5, End: 4.0, Text: " out"},
		{ID: 2, Start: 4.0, End: 6.1, Text: " there"},
	})
	env.drain(t)

	status, result = env.status(t, taskID)
	assert.Equal(t, domain.StatusCompleted, status)

	segments, ok := result.([]any)
	require.True(t, ok, "completed result should be a segment list")
	require.Len(t, segments, 3)
	for i, raw := range segments {
		seg, ok := raw.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(i), seg["id"])
	}

	assert.Equal(t, []string{taskID}, env.store.appended())
	assert.Equal(t, audio, env.objects.only(t))
}

func TestTranscribeFailedWorker(t *testing.T) {
	env := newTestEnv(t)

	taskID, fh := env.submit(t, "noise.mp3", []byte("mp3"))
	fh.outcome <- domain.FailedOutcome("model load failed")
	env.drain(t)

	status, result := env.status(t, taskID)
	assert.Equal(t, domain.StatusFailed, status)
	assert.Equal(t, "model load failed", result)
}

func TestTranscribeMissingFile(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/transcribe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRunningTask(t *testing.T) {
	env := newTestEnv(t)

	taskID, fh := env.submit(t, "talk.wav", []byte("wav"))

	rec := env.do(http.MethodDelete, "/cancel/"+taskID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.StatusCanceled, resp.Status)
	assert.Equal(t, 1, fh.terminations())

	// A straggling outcome from the dying worker must not overwrite the
	// cancellation.
	fh.outcome <- domain.CompletedOutcome([]domain.Segment{{ID: 0, Text: "late"}})
	env.drain(t)

	status, result := env.status(t, taskID)
	assert.Equal(t, domain.StatusCanceled, status)
	assert.Nil(t, result)
	assert.Empty(t, env.store.appended())

	stored, err := env.store.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, stored.Status)
}

func TestCancelCompletedTaskIsNoOp(t *testing.T) {
	env := newTestEnv(t)

	taskID, fh := env.submit(t, "done.wav", []byte("wav"))
	fh.outcome <- domain.CompletedOutcome(nil)
	env.drain(t)

	rec := env.do(http.MethodDelete, "/cancel/"+taskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, 0, fh.terminations())
}

func TestUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	missing := uuid.New().String()

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/status/"+missing, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/cancel/"+missing, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/stream/"+missing, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/download/"+missing, nil).Code)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/status/not-a-uuid", nil).Code)
}

func TestStatusFromDurableStore(t *testing.T) {
	env := newTestEnv(t)

	// Task known only to the store, as after a process restart.
	taskID := uuid.New().String()
	require.NoError(t, env.store.CreateTask(context.Background(), &domain.Task{
		ID:        taskID,
		Name:      "old.wav",
		Status:    domain.StatusCompleted,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))
	env.store.segments[taskID] = []domain.Segment{{ID: 0, Text: " archived"}}

	status, result := env.status(t, taskID)
	assert.Equal(t, domain.StatusCompleted, status)
	segments, ok := result.([]any)
	require.True(t, ok)
	assert.Len(t, segments, 1)
}

func TestListTasksMergesLiveState(t *testing.T) {
	env := newTestEnv(t)

	doneID, fh := env.submit(t, "a.wav", []byte("a"))
	fh.outcome <- domain.CompletedOutcome(nil)
	env.drain(t)

	runningID, _ := env.submit(t, "b.wav", []byte("b"))

	rec := env.do(http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tasks []domain.Summary `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 2)

	byID := make(map[string]string)
	for _, s := range resp.Tasks {
		byID[s.ID] = s.Status
	}
	assert.Equal(t, domain.StatusCompleted, byID[doneID])
	assert.Equal(t, domain.StatusRunning, byID[runningID])
}

func streamFixture(t *testing.T, env *testEnv, size int) (string, []byte) {
	t.Helper()

	blob := make([]byte, size)
	for i := range blob {
		blob[i] = byte(i % 251)
	}

	taskID := uuid.New().String()
	require.NoError(t, env.objects.Put(context.Background(), "media", "fixture.wav", bytes.NewReader(blob), int64(size), "audio/wav"))
	require.NoError(t, env.store.CreateTask(context.Background(), &domain.Task{
		ID:     taskID,
		Name:   "fixture.wav",
		Status: domain.StatusRunning,
		Object: domain.ObjectRef{Bucket: "media", Key: "fixture.wav"},
	}))
	return taskID, blob
}

func TestStreamWholeObject(t *testing.T) {
	env := newTestEnv(t)
	taskID, blob := streamFixture(t, env, 1000)

	rec := env.do(http.MethodGet, "/stream/"+taskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, blob, rec.Body.Bytes())
}

func TestStreamByteRange(t *testing.T) {
	env := newTestEnv(t)
	taskID, blob := streamFixture(t, env, 1000)

	rec := env.do(http.MethodGet, "/stream/"+taskID, map[string]string{"Range": "bytes=200-299"})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 200-299/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))
	assert.Equal(t, blob[200:300], rec.Body.Bytes())
}

func TestStreamOpenEndedRange(t *testing.T) {
	env := newTestEnv(t)
	taskID, blob := streamFixture(t, env, 1000)

	rec := env.do(http.MethodGet, "/stream/"+taskID, map[string]string{"Range": "bytes=900-"})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 900-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, blob[900:], rec.Body.Bytes())
}

func TestStreamUnsatisfiableRange(t *testing.T) {
	env := newTestEnv(t)
	taskID, _ := streamFixture(t, env, 1000)

	for _, header := range []string{"bytes=500-200", "bytes=0-1000", "bytes=abc-def", "items=0-10"} {
		rec := env.do(http.MethodGet, "/stream/"+taskID, map[string]string{"Range": header})
		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code, "header %q", header)
	}
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	taskID, blob := streamFixture(t, env, 64)

	rec := env.do(http.MethodGet, "/download/"+taskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "fixture.wav")
	assert.Equal(t, blob, rec.Body.Bytes())
}
