package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickflow/internal/console"
	"tickflow/internal/faults"
	"tickflow/internal/journal"
	"tickflow/internal/scheduler"
)

type fixture struct {
	srv   *httptest.Server
	sched *scheduler.Scheduler
	reg   *faults.Register
	port  *console.Port
	store *journal.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := zerolog.Nop()
	reg := faults.New()
	sched := scheduler.New(scheduler.Config{Capacity: 7, Source: scheduler.Manual{}, Faults: reg, Logger: &l})
	port := console.NewPort(console.PortConfig{Size: 8, Faults: reg, Logger: &l})

	db, err := journal.Open(filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := journal.NewStore(db)

	srv := httptest.NewServer(NewServer(Deps{Scheduler: sched, Faults: reg, Console: port, Journal: store}))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, sched: sched, reg: reg, port: port, store: store}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
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

func TestHealth(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, "GET", "/health", "").StatusCode)
	f.sched.Init()
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/health", "").StatusCode)
}

func TestListTasks(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sched.Add(func(any) {}, nil, 4, 10, 2, 21))
	f.sched.Init()
	f.sched.Update()

	snap := decode[scheduler.Snapshot](t, f.do(t, "GET", "/api/tasks", ""))
	assert.True(t, snap.Running)
	assert.Equal(t, uint32(1), snap.Tick)
	assert.Equal(t, 7, snap.Capacity)
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, uint8(21), snap.Tasks[0].ID)
	assert.Equal(t, uint32(10), snap.Tasks[0].PeriodTicks)
}

func TestFaults(t *testing.T) {
	f := newFixture(t)
	f.reg.Set(faults.SchedFull)
	f.reg.Set(faults.BufferEmpty)

	got := decode[faultsResp](t, f.do(t, "GET", "/api/faults", ""))
	assert.Equal(t, uint32(1<<faults.SchedFull|1<<faults.BufferEmpty), got.Bits)
	require.Len(t, got.Active, 2)
	assert.Equal(t, faults.BufferEmpty, got.Active[0].Code)
	assert.NotEmpty(t, got.Active[0].Description)

	got = decode[faultsResp](t, f.do(t, "DELETE", "/api/faults/5", ""))
	assert.Equal(t, uint32(1<<faults.BufferEmpty), got.Bits)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "DELETE", "/api/faults/99", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "DELETE", "/api/faults/full", "").StatusCode)

	got = decode[faultsResp](t, f.do(t, "DELETE", "/api/faults", ""))
	assert.Zero(t, got.Bits)
	assert.Empty(t, got.Active)
}

func TestConsoleInput(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/console", "!RST#")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, consoleResp{Accepted: 5}, decode[consoleResp](t, resp))
	assert.Equal(t, 5, f.port.Buffered())

	resp = f.do(t, "POST", "/api/console", "abcdef")
	assert.Equal(t, consoleResp{Accepted: 3, Dropped: 3}, decode[consoleResp](t, resp))
	assert.True(t, f.reg.Check(faults.BufferFull))
}

func TestExecutions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.store.Record(ctx, scheduler.Execution{
			Batch: uuid.New(), TaskID: uint8(i), Started: time.Now().Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	entries := decode[[]journal.Entry](t, f.do(t, "GET", "/api/executions?limit=2", ""))
	require.Len(t, entries, 2)
	assert.Equal(t, uint8(2), entries[0].TaskID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/executions?limit=0", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/executions?limit=x", "").StatusCode)

	sum := decode[[]journal.TaskSummary](t, f.do(t, "GET", "/api/executions/summary", ""))
	assert.Len(t, sum, 3)
}

func TestOptionalDepsDisabled(t *testing.T) {
	l := zerolog.Nop()
	sched := scheduler.New(scheduler.Config{Source: scheduler.Manual{}, Logger: &l})
	srv := httptest.NewServer(NewServer(Deps{Scheduler: sched, Faults: faults.New()}))
	defer srv.Close()

	for _, path := range []string{"/api/executions", "/api/executions/summary"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	resp, err := http.Post(srv.URL+"/api/console", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.sched.Init()
	f.sched.Update()
	f.reg.Set(faults.TaskPanic)

	resp := f.do(t, "GET", "/metrics", "")
	var sb strings.Builder
	_, err := io.Copy(&sb, resp.Body)
	require.NoError(t, err)
	body := sb.String()

	assert.Contains(t, body, "tickflow_up 1\n")
	assert.Contains(t, body, "tickflow_tick 1\n")
	assert.Contains(t, body, "tickflow_capacity 7\n")
	assert.Contains(t, body, `tickflow_fault{code="7"} 1`)
	assert.Contains(t, body, `tickflow_fault{code="0"} 0`)
	assert.Contains(t, body, "tickflow_console_dropped_bytes 0\n")
}
