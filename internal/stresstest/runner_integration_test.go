package stresstest

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/studiowebux/poolbench/internal/types"
)

// createTestManager creates a new Manager with in-memory SQLite database for testing
func createTestManager(t *testing.T) *Manager {
	manager, err := NewManager(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test manager: %v", err)
	}
	return manager
}

// configFor returns a small run configuration aimed at server
func configFor(t *testing.T, server *httptest.Server) *Config {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("Failed to parse server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("Failed to parse server port: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Name = t.Name()
	cfg.Host = u.Hostname()
	cfg.Port = port
	cfg.HTTPS = u.Scheme == "https"
	cfg.Iterations = 2
	cfg.PoolCount = 2
	cfg.PoolSize = 2
	cfg.RequestsPerPool = 5
	cfg.MaxRetries = 3
	cfg.TimeoutSec = 5
	return cfg
}

// memorySink keeps every iteration it receives
type memorySink struct {
	mu         sync.Mutex
	iterations []int
	records    [][]types.StatsRecord
}

func (s *memorySink) Write(iteration int, records []types.StatsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations = append(s.iterations, iteration)
	s.records = append(s.records, records)
	return nil
}

func TestRunner_BasicExecution(t *testing.T) {
	var requestCount int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requestCount, 1)
		w.Write([]byte("meow"))
	}))
	defer server.Close()

	manager := createTestManager(t)
	defer manager.Close()

	sink := &memorySink{}
	runner, err := NewRunner(&ExecutionConfig{
		Config:    configFor(t, server),
		Resources: []string{"/cats/1.jpg", "/cats/2.jpg", "/cats/3.jpg"},
		Sinks:     []Sink{sink},
	}, manager)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// 2 iterations x 2 pools x 5 requests
	if got := atomic.LoadInt64(&requestCount); got != 20 {
		t.Errorf("Expected 20 requests on the server, got %d", got)
	}

	stats := runner.GetStats()
	if stats.TotalRecords != 20 || stats.SuccessCount != 20 {
		t.Errorf("Expected 20 successful records, got %d/%d", stats.SuccessCount, stats.TotalRecords)
	}
	if stats.BytesReceived != 20*int64(len("meow")) {
		t.Errorf("Unexpected byte count %d", stats.BytesReceived)
	}

	if len(sink.iterations) != 2 || sink.iterations[0] != 0 || sink.iterations[1] != 1 {
		t.Fatalf("Expected iterations [0 1], got %v", sink.iterations)
	}
	for _, records := range sink.records {
		if len(records) != 10 {
			t.Fatalf("Expected 10 records per iteration, got %d", len(records))
		}
		// records are grouped by pool in pool order
		for i, r := range records {
			if want := i / 5; r.PoolID != want {
				t.Errorf("Record %d: expected pool %d, got %d", i, want, r.PoolID)
			}
		}
	}

	run := runner.GetRun()
	if run.Status != StatusCompleted {
		t.Errorf("Expected status completed, got %s", run.Status)
	}
	if run.IterationsCompleted != 2 {
		t.Errorf("Expected 2 completed iterations, got %d", run.IterationsCompleted)
	}

	stored, err := manager.GetRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to load run: %v", err)
	}
	if stored.TotalRecords != 20 || stored.Status != StatusCompleted || stored.CompletedAt == nil {
		t.Errorf("Stored run does not match: %+v", stored)
	}

	records, err := manager.GetRecords(run.ID)
	if err != nil {
		t.Fatalf("Failed to load records: %v", err)
	}
	if len(records) != 20 {
		t.Errorf("Expected 20 stored records, got %d", len(records))
	}
}

func TestRunner_KeepAliveReuse(t *testing.T) {
	var conns int64
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	server.Config.ConnState = func(c net.Conn, state http.ConnState) {
		if state == http.StateNew {
			atomic.AddInt64(&conns, 1)
		}
	}
	server.Start()
	defer server.Close()

	cfg := configFor(t, server)
	cfg.Iterations = 1
	cfg.PoolCount = 1
	cfg.PoolSize = 1
	cfg.RequestsPerPool = 8

	runner, err := NewRunner(&ExecutionConfig{Config: cfg, Resources: []string{"/a"}}, nil)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// one session per iteration, reopened after the drain closes it
	if got := atomic.LoadInt64(&conns); got != 1 {
		t.Errorf("Expected a single session, got %d", got)
	}
	if stats := runner.GetStats(); stats.Reconnects != 1 {
		t.Errorf("Expected one record with a connect time, got %d", stats.Reconnects)
	}
}

func TestRunner_NetworkErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	cfg := configFor(t, server)
	server.Close()

	cfg.Iterations = 1
	cfg.MaxRetries = 2
	cfg.TimeoutSec = 1

	runner, err := NewRunner(&ExecutionConfig{Config: cfg, Resources: []string{"/a"}}, nil)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Per-request failures must not fail the run: %v", err)
	}

	stats := runner.GetStats()
	if stats.FailureCount != 10 {
		t.Errorf("Expected 10 failed records, got %d", stats.FailureCount)
	}
	if stats.RetryCount != 20 {
		t.Errorf("Expected every record to use its 2 retries, got %d total", stats.RetryCount)
	}
	if stats.SuccessRate() != 0 {
		t.Errorf("Expected 0%% success, got %.1f", stats.SuccessRate())
	}
}

func TestRunner_ContextCancellation(t *testing.T) {
	var requestCount int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requestCount, 1)
		time.Sleep(20 * time.Millisecond)
	}))
	defer server.Close()

	manager := createTestManager(t)
	defer manager.Close()

	cfg := configFor(t, server)
	cfg.Iterations = 1000

	runner, err := NewRunner(&ExecutionConfig{Config: cfg, Resources: []string{"/a"}}, manager)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Expected nil error on cancellation, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	run := runner.GetRun()
	if run.Status != StatusCancelled {
		t.Errorf("Expected status cancelled, got %s", run.Status)
	}
	if run.IterationsCompleted >= cfg.Iterations {
		t.Errorf("Expected the run to stop early, completed %d", run.IterationsCompleted)
	}

	stored, err := manager.GetRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to load run: %v", err)
	}
	if stored.Status != StatusCancelled {
		t.Errorf("Expected stored status cancelled, got %s", stored.Status)
	}
}

func TestRunner_HeadersPropagation(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen["X-Bench"] = r.Header.Get("X-Bench")
		seen["Connection"] = r.Header.Get("Connection")
		mu.Unlock()
	}))
	defer server.Close()

	cfg := configFor(t, server)
	cfg.Iterations = 1
	cfg.Headers = map[string]string{"X-Bench": "poolbench"}

	runner, err := NewRunner(&ExecutionConfig{Config: cfg, Resources: []string{"/a"}}, nil)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen["X-Bench"] != "poolbench" {
		t.Errorf("Expected custom header, got %q", seen["X-Bench"])
	}
	if seen["Connection"] != "Keep-Alive" {
		t.Errorf("Expected keep-alive header, got %q", seen["Connection"])
	}
}

func TestRunner_HTTPStatusIsNotAFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := configFor(t, server)
	cfg.Iterations = 1
	sink := &memorySink{}

	runner, err := NewRunner(&ExecutionConfig{Config: cfg, Resources: []string{"/missing"}, Sinks: []Sink{sink}}, nil)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, r := range sink.records[0] {
		if !r.Success || r.Status != http.StatusNotFound {
			t.Errorf("Expected a successful record with status 404, got %+v", r)
		}
	}
}

func TestNewRunner_Validation(t *testing.T) {
	if _, err := NewRunner(nil, nil); err == nil {
		t.Error("Expected error for nil config")
	}

	cfg := DefaultConfig()
	if _, err := NewRunner(&ExecutionConfig{Config: cfg}, nil); err == nil {
		t.Error("Expected error for empty resource list")
	}

	cfg.PoolSize = 0
	if _, err := NewRunner(&ExecutionConfig{Config: cfg, Resources: []string{"/a"}}, nil); err == nil {
		t.Error("Expected error for invalid config")
	}
}
