package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farewatch/internal/config"
	"farewatch/internal/metrics"
	"farewatch/internal/runstate"
	"farewatch/internal/scheduler"
	"farewatch/internal/storage"
)

type stubScheduler struct {
	mode   string
	result scheduler.TriggerResult
	calls  atomic.Int32
}

func (s *stubScheduler) Mode() string { return s.mode }

func (s *stubScheduler) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubScheduler) Trigger(context.Context) scheduler.TriggerResult {
	s.calls.Add(1)
	return s.result
}

type fixture struct {
	cfg   *config.Config
	state *runstate.State
	sched *stubScheduler
	store storage.ResultStore
	srv   *httptest.Server
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := &config.Config{
		Route: config.RouteConfig{
			Origin: "PEK", Destination: "ARN",
			DepartDate: "2026-06-16", ReturnDate: "2026-09-12",
			Currency: "SEK", NonStop: true,
		},
		Scheduler: config.SchedulerConfig{Mode: config.ModePersistent, Interval: 6 * time.Hour},
		Alerting:  config.AlertingConfig{PriceLimit: 8000},
		HTTP:      config.HTTPConfig{BusyPolicy: config.BusyPolicyStatus, StatusHistory: 2},
		Stream:    config.StreamConfig{QueueSize: 20, Heartbeat: 30 * time.Second},
	}
	if mutate != nil {
		mutate(cfg)
	}

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		cfg:   cfg,
		state: runstate.New(runstate.WithQueueSize(cfg.Stream.QueueSize)),
		sched: &stubScheduler{mode: cfg.Scheduler.Mode},
		store: store,
	}
	handler := New(cfg, Deps{
		State:     f.state,
		Scheduler: f.sched,
		Store:     store,
		Metrics:   metrics.New(),
	}, zerolog.Nop()).Handler()

	f.srv = httptest.NewServer(handler)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) getJSON(t *testing.T, method, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStatusEmpty(t *testing.T) {
	f := newFixture(t, nil)

	var body map[string]any
	code := f.getJSON(t, http.MethodGet, "/status", &body)
	require.Equal(t, http.StatusOK, code)

	assert.Nil(t, body["current"])
	assert.Equal(t, []any{}, body["history"])
	assert.Equal(t, false, body["checking"])
	assert.Nil(t, body["next_check_at"])
	assert.Equal(t, 0.0, body["check_count"])

	cfg := body["config"].(map[string]any)
	assert.Equal(t, "PEK", cfg["origin"])
	assert.Equal(t, 8000.0, cfg["price_limit"])
	assert.Equal(t, 6.0, cfg["check_hours"])
	assert.Equal(t, config.ModePersistent, cfg["mode"])
}

func TestStatusReportsStateAndHistoryTail(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.AppendHistory(ctx, storage.HistoryEntry{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Price:     decimal.NewFromInt(int64(9000 + i)),
			Airlines:  "SK",
		}))
	}
	require.NoError(t, f.store.SaveStatus(ctx, storage.CheckResult{Timestamp: base, Price: decimal.NewFromInt(9002)}))

	next := base.Add(6 * time.Hour)
	f.state.SetNextCheckAt(&next)
	f.state.IncrementCheckCount()
	require.True(t, f.state.TryBeginCheck())

	var body StatusResponse
	require.Equal(t, http.StatusOK, f.getJSON(t, http.MethodGet, "/api/status", &body))
	assert.True(t, body.Checking)
	assert.EqualValues(t, 1, body.CheckCount)
	require.NotNil(t, body.NextCheckAt)
	assert.True(t, body.NextCheckAt.Equal(next))
	require.Len(t, body.History, 2)
	assert.True(t, body.History[0].Price.Equal(decimal.NewFromInt(9001)))
	require.NotNil(t, body.Current)
	assert.True(t, body.Current.Price.Equal(decimal.NewFromInt(9002)))
}

func TestCheckStarted(t *testing.T) {
	f := newFixture(t, nil)
	f.sched.result = scheduler.TriggerResult{Status: scheduler.StatusStarted}

	var body map[string]any
	require.Equal(t, http.StatusOK, f.getJSON(t, http.MethodPost, "/check", &body))
	assert.Equal(t, scheduler.StatusStarted, body["status"])

	require.Equal(t, http.StatusOK, f.getJSON(t, http.MethodGet, "/api/check", &body))
	assert.EqualValues(t, 2, f.sched.calls.Load())
}

func TestCheckDone(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Scheduler.Mode = config.ModeTriggered })
	f.sched.result = scheduler.TriggerResult{
		Status: scheduler.StatusDone,
		Result: &storage.CheckResult{Price: decimal.NewFromInt(7000), IsDeal: true},
	}

	var body scheduler.TriggerResult
	require.Equal(t, http.StatusOK, f.getJSON(t, http.MethodPost, "/api/check", &body))
	assert.Equal(t, scheduler.StatusDone, body.Status)
	require.NotNil(t, body.Result)
	assert.True(t, body.Result.IsDeal)
}

func TestCheckBusyReturnsLastStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.sched.result = scheduler.TriggerResult{Status: scheduler.StatusAlreadyRunning}
	require.NoError(t, f.store.SaveStatus(context.Background(), storage.CheckResult{Price: decimal.NewFromInt(8500)}))

	var body scheduler.TriggerResult
	require.Equal(t, http.StatusOK, f.getJSON(t, http.MethodPost, "/check", &body))
	assert.Equal(t, scheduler.StatusAlreadyRunning, body.Status)
	require.NotNil(t, body.Result)
	assert.True(t, body.Result.Price.Equal(decimal.NewFromInt(8500)))
}

func TestCheckBusyRejectPolicy(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.HTTP.BusyPolicy = config.BusyPolicyReject })
	f.sched.result = scheduler.TriggerResult{Status: scheduler.StatusAlreadyRunning}

	resp, err := http.Post(f.srv.URL+"/check", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.AppendHistory(context.Background(), storage.HistoryEntry{Price: decimal.NewFromInt(9100), Airlines: "SK"}))

	var body []storage.HistoryEntry
	require.Equal(t, http.StatusOK, f.getJSON(t, http.MethodGet, "/history", &body))
	require.Len(t, body, 1)
	assert.Equal(t, "SK", body[0].Airlines)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusOK, f.getJSON(t, http.MethodGet, "/healthz", nil))

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamDeliversEvents(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, ": connected\n", readLine(t, reader))
	assert.Equal(t, "\n", readLine(t, reader))

	require.Eventually(t, func() bool { return f.state.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	f.state.Broadcast(runstate.EventChecking, runstate.CheckingPayload{Checking: true})

	assert.Equal(t, "event: checking\n", readLine(t, reader))
	assert.Equal(t, "data: {\"checking\":true}\n", readLine(t, reader))
}

func TestStreamHeartbeat(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Stream.Heartbeat = 20 * time.Millisecond })

	resp, err := http.Get(f.srv.URL + "/api/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readLine(t, reader)
	readLine(t, reader)
	assert.Equal(t, ": heartbeat\n", readLine(t, reader))
}

func TestStreamUnsubscribesOnDisconnect(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.state.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	resp.Body.Close()

	require.Eventually(t, func() bool { return f.state.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketDeliversEvents(t *testing.T) {
	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.state.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	f.state.Broadcast(runstate.EventResult, map[string]any{"price": 7000})

	var msg struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, runstate.EventResult, msg.Event)
	assert.Equal(t, 7000.0, msg.Data["price"])
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading stream")
		return ""
	}
}
