package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GoCodeAlone/tasktimer/comms"
	"github.com/GoCodeAlone/tasktimer/config"
	"github.com/GoCodeAlone/tasktimer/kv"
	"github.com/GoCodeAlone/tasktimer/task"
	"github.com/GoCodeAlone/tasktimer/timer"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Addr = ":0"
	cfg.Server.CORSOrigins = []string{"http://localhost:5173"}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := comms.NewInMemoryBus()
	ctrl := timer.NewController(timer.Config{
		Store:  task.NewStore(kv.NewMemoryStore(), task.Options{Logger: logger}),
		Bus:    bus,
		Logger: logger,
	})
	t.Cleanup(ctrl.Close)

	s := New(*cfg, "test", logger, ctrl, bus)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestServer_Routes(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"name":"Write report"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status: %d", rec.Code)
	}
}

func TestServer_CORS(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected Allow-Origin %q for foreign origin", got)
	}
}

func TestServer_HandlerIdempotent(t *testing.T) {
	s := newTestServer(t)
	// Registering routes twice would panic on the duplicate patterns.
	_ = s.Handler()
	_ = s.Handler()
}

func TestServer_StopWithoutStart(t *testing.T) {
	s := newTestServer(t)
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
