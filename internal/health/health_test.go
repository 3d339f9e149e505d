package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/mcpchat/internal/resilience"
)

func okCheck(context.Context) error { return nil }

func serveReadyz(t *testing.T, h *Handler, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" || body.Checks != nil {
		t.Errorf("body = %+v, want bare ok", body)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	t.Parallel()
	h := New(
		Checker{Name: "mcp_servers", Check: okCheck},
		Checker{Name: "model_backends", Check: okCheck},
	)

	code, body := serveReadyz(t, h, context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
	if body.Checks["mcp_servers"] != "ok" || body.Checks["model_backends"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestReadyz_OneCheckerFails(t *testing.T) {
	t.Parallel()
	h := New(
		Checker{Name: "mcp_servers", Check: func(context.Context) error {
			return errors.New(`server "users" is failed`)
		}},
		Checker{Name: "model_backends", Check: okCheck},
	)

	code, body := serveReadyz(t, h, context.Background())
	if code != http.StatusServiceUnavailable || body.Status != "fail" {
		t.Errorf("got %d %q, want 503 fail", code, body.Status)
	}
	if body.Checks["mcp_servers"] != `fail: server "users" is failed` {
		t.Errorf("mcp_servers = %q", body.Checks["mcp_servers"])
	}
	if body.Checks["model_backends"] != "ok" {
		t.Errorf("model_backends = %q", body.Checks["model_backends"])
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	t.Parallel()
	code, body := serveReadyz(t, New(), context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	var running atomic.Int32
	release := make(chan struct{})
	slow := func(ctx context.Context) error {
		if running.Add(1) == 2 {
			close(release)
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, body := serveReadyz(t, h, ctx)
	if code != http.StatusOK {
		t.Errorf("got %d, checks %v; sequential checks would deadlock", code, body.Checks)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code, _ := serveReadyz(t, h, ctx)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: okCheck}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestServersReady(t *testing.T) {
	t.Parallel()
	c := ServersReady(func() error { return nil })
	if c.Name != "mcp_servers" || c.Check(context.Background()) != nil {
		t.Errorf("ready pool reported not ready")
	}

	want := errors.New("mcphost: servers not started")
	c = ServersReady(func() error { return want })
	if err := c.Check(context.Background()); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestBackendsAvailable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		entries []resilience.EntryStatus
		wantErr string
	}{
		{name: "none configured", wantErr: "no model backends"},
		{name: "one closed", entries: []resilience.EntryStatus{
			{Name: "ollama/llama3.2", State: resilience.StateOpen},
			{Name: "ollama/deepseek-r1:8b", State: resilience.StateClosed},
		}},
		{name: "half open counts", entries: []resilience.EntryStatus{
			{Name: "a", State: resilience.StateHalfOpen},
		}},
		{name: "all open", entries: []resilience.EntryStatus{
			{Name: "a", State: resilience.StateOpen},
			{Name: "b", State: resilience.StateOpen},
		}, wantErr: "all circuit breakers open: a, b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := BackendsAvailable(func() []resilience.EntryStatus { return tt.entries })
			err := c.Check(context.Background())
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
