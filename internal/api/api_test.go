// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/bus"
	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/health"
)

var signedOut atomic.Bool

type fakeTasks struct {
	mu        sync.Mutex
	tasks     map[string]domain.Task
	order     []string
	createErr error
	submitErr error
	submitted []string
	cancelled []string
}

func newFakeTasks() *fakeTasks { return &fakeTasks{tasks: map[string]domain.Task{}} }

func (f *fakeTasks) CreateTask(_ context.Context, kind domain.Kind, path string, opts domain.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	id := "t" + string(rune('0'+len(f.order)))
	f.tasks[id] = domain.Task{ID: id, Kind: kind, SourcePath: path, Options: opts, Status: domain.StatusPending}
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeTasks) Submit(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	t := f.tasks[id]
	t.Status = domain.StatusQueued
	f.tasks[id] = t
	f.submitted = append(f.submitted, id)
	return nil
}

func (f *fakeTasks) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[id]
	t.Status = domain.StatusCancelled
	f.tasks[id] = t
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeTasks) Get(id string) (domain.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	return t, ok
}

func (f *fakeTasks) List() []domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Task, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.tasks[id])
	}
	return out
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeTasks, *bus.Bus) {
	t.Helper()
	tasks := newFakeTasks()
	b := bus.New()
	checks := health.NewManager("test")
	checks.Register(health.NewFuncChecker("ledger", health.StatusUnhealthy, func(context.Context) error {
		if signedOut.Load() {
			return errors.New("signed out")
		}
		return nil
	}))
	srv := httptest.NewServer(New(Config{Version: "test", Heartbeat: time.Hour}, tasks, b, checks).Handler())
	t.Cleanup(srv.Close)
	return srv, tasks, b
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateTaskSubmitsByDefault(t *testing.T) {
	srv, tasks, _ := newTestServer(t)

	resp := post(t, srv.URL+"/api/tasks", `{"kind":"ASR_TRANS","source_path":"/media/talk.mp4","options":{"target_language":"zh"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	task := decode[domain.Task](t, resp)
	assert.Equal(t, domain.StatusQueued, task.Status)
	assert.Equal(t, domain.KindASRTrans, task.Kind)
	assert.Equal(t, "zh", task.Options.TargetLanguage)
	assert.Equal(t, []string{task.ID}, tasks.submitted)

	resp = post(t, srv.URL+"/api/tasks", `{"kind":"ASR","source_path":"/media/b.mp4","submit":false}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, domain.StatusPending, decode[domain.Task](t, resp).Status)
	assert.Len(t, tasks.submitted, 1)
}

func TestCreateTaskErrors(t *testing.T) {
	srv, tasks, _ := newTestServer(t)

	resp := post(t, srv.URL+"/api/tasks", `{"kind":"ASR","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", decode[errorBody](t, resp).Error)

	tasks.createErr = fault.New(fault.KindInvalidInput, "tasks.create", "source not found")
	resp = post(t, srv.URL+"/api/tasks", `{"kind":"ASR","source_path":"/nope.mp4"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[errorBody](t, resp).Detail, "source not found")

	tasks.createErr = nil
	tasks.submitErr = fault.New(fault.KindInsufficientBalance, "ledger.precheck", "balance 3 < cost 40")
	resp = post(t, srv.URL+"/api/tasks", `{"kind":"ASR","source_path":"/a.mp4"}`)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, "insufficient_balance", body.Error)
	assert.NotEmpty(t, body.TaskID)
}

func TestStatusMapping(t *testing.T) {
	cases := map[fault.Kind]int{
		fault.KindAuthentication:   http.StatusUnauthorized,
		fault.KindAPIKeyMissing:    http.StatusPreconditionFailed,
		fault.KindNetworkTransient: http.StatusServiceUnavailable,
		fault.KindCancelled:        http.StatusConflict,
		fault.KindInternal:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(fault.New(kind, "op", "x")), kind)
	}

	rec := httptest.NewRecorder()
	writeError(rec, fault.New(fault.KindInternal, "op", "stack details"), "")
	assert.NotContains(t, rec.Body.String(), "stack details")
}

func TestGetListAndCancel(t *testing.T) {
	srv, tasks, _ := newTestServer(t)
	post(t, srv.URL+"/api/tasks", `{"kind":"ASR","source_path":"/a.mp4","submit":false}`)
	post(t, srv.URL+"/api/tasks", `{"kind":"ASR","source_path":"/b.mp4"}`)

	resp, err := http.Get(srv.URL + "/api/tasks?status=QUEUED")
	require.NoError(t, err)
	defer resp.Body.Close()
	list := decode[struct{ Tasks []domain.Task }](t, resp)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, "/b.mp4", list.Tasks[0].SourcePath)

	resp, err = http.Get(srv.URL + "/api/tasks/t0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/tasks/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, srv.URL+"/api/tasks/t1/cancel", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, domain.StatusCancelled, decode[domain.Task](t, resp).Status)
	assert.Equal(t, []string{"t1"}, tasks.cancelled)

	resp = post(t, srv.URL+"/api/tasks/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	live := decode[health.Report](t, resp)
	assert.Equal(t, health.StatusHealthy, live.Status)
	assert.Equal(t, "test", live.Version)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	signedOut.Store(true)
	t.Cleanup(func() { signedOut.Store(false) })
	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "signed out", decode[health.Report](t, resp).Checks["ledger"].Error)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStreamFiltersByTask(t *testing.T) {
	srv, _, b := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?task=a&topic=progress&topic=completed", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	b.Publish(bus.Event{Topic: bus.TopicProgress, TaskID: "b", Progress: 10})
	b.Publish(bus.Event{Topic: bus.TopicFailed, TaskID: "a"})
	b.Publish(bus.Event{Topic: bus.TopicProgress, TaskID: "a", Progress: 40})
	b.Publish(bus.Event{Topic: bus.TopicCompleted, TaskID: "a"})

	sc := bufio.NewScanner(resp.Body)
	var names []string
	var first bus.Event
	for len(names) < 2 && sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			names = append(names, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: ") && first.Topic == "":
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &first))
		}
	}
	assert.Equal(t, []string{"progress", "completed"}, names)
	assert.Equal(t, "a", first.TaskID)
	assert.Equal(t, 40.0, first.Progress)

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(Config{}, newFakeTasks(), bus.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
