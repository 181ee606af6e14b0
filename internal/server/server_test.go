package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestHandler_Probes(t *testing.T) {
	s := New(":0", logr.Discard())
	h := s.Handler()

	if code, _ := get(t, h, "/healthz"); code != http.StatusOK {
		t.Errorf("expected /healthz 200, got %d", code)
	}
	if code, _ := get(t, h, "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("expected /readyz 503 before ready, got %d", code)
	}

	s.MarkReady()
	if code, _ := get(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("expected /readyz 200 after ready, got %d", code)
	}
}

func TestHandler_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "yk_dns_sync_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := &Server{log: logr.Discard(), gatherer: reg}
	code, body := get(t, s.Handler(), "/metrics")
	if code != http.StatusOK {
		t.Fatalf("expected /metrics 200, got %d", code)
	}
	if !strings.Contains(body, "yk_dns_sync_test_total 1") {
		t.Errorf("expected counter in metrics output, got:\n%s", body)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", logr.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_Disabled(t *testing.T) {
	s := New("0", logr.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
