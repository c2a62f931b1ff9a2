package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewCritical("storage", func(context.Context) error { return nil }))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	response := decode(t, w)
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}
	if len(response.Checks) != 1 || !response.Checks["storage"].Critical {
		t.Errorf("unexpected checks %+v", response.Checks)
	}
}

func TestHealthHandler_OptionalFailureDegrades(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewCritical("storage", func(context.Context) error { return nil }))
	handler.RegisterChecker("redis", NewOptional("redis", func(context.Context) error { return errors.New("connection refused") }))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("degraded must still answer 200, got %d", w.Code)
	}
	response := decode(t, w)
	if response.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", response.Status)
	}
	if response.Checks["redis"].Message != "connection refused" {
		t.Errorf("unexpected redis check %+v", response.Checks["redis"])
	}

	ready := httptest.NewRecorder()
	handler.ReadinessHandler(ready, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if ready.Code != http.StatusOK {
		t.Errorf("optional failure must not block readiness, got %d", ready.Code)
	}
}

func TestHealthHandler_CriticalFailure(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewCritical("storage", func(context.Context) error { return errors.New("db down") }))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if response := decode(t, w); response.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", response.Status)
	}

	ready := httptest.NewRecorder()
	handler.ReadinessHandler(ready, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if ready.Code != http.StatusServiceUnavailable || ready.Body.String() != "not ready" {
		t.Errorf("expected not ready, got %d %q", ready.Code, ready.Body.String())
	}
}

func TestHealthHandler_CheckTimeout(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.SetTimeout(20 * time.Millisecond)
	handler.RegisterChecker("slow", NewCritical("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))

	response := handler.Run(context.Background())
	if response.Status != StatusUnhealthy {
		t.Fatalf("expected timed out check to be unhealthy, got %s", response.Status)
	}
	if response.Checks["slow"].Message != context.DeadlineExceeded.Error() {
		t.Fatalf("unexpected message %q", response.Checks["slow"].Message)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("unexpected liveness answer %d %q", w.Code, w.Body.String())
	}
}

func TestNames(t *testing.T) {
	handler := NewHandler("")
	handler.RegisterChecker("redis", NewOptional("redis", func(context.Context) error { return nil }))
	handler.RegisterChecker("kafka", NewOptional("kafka", func(context.Context) error { return nil }))

	names := handler.Names()
	if len(names) != 2 || names[0] != "kafka" || names[1] != "redis" {
		t.Fatalf("unexpected names %v", names)
	}
}
