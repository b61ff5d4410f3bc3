package routes_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/castellan-io/castellan/internal/infra/config"
	httproutes "github.com/castellan-io/castellan/internal/transport/http/routes"
)

type staticChecker struct {
	err error
}

func (c staticChecker) Ping(ctx context.Context) error { return c.err }

func (c staticChecker) HealthCheck(ctx context.Context) error { return c.err }

func testDependencies(t *testing.T) httproutes.Dependencies {
	t.Helper()

	return httproutes.Dependencies{
		Config: &config.AppConfig{App: config.AppSettings{Env: "test", AllowedOrigins: []string{"*"}}},
		Logger: zaptest.NewLogger(t),
	}
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(testDependencies(t))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestReadinessReportsDegradedDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)

	deps := testDependencies(t)
	deps.Database = staticChecker{}
	deps.Cache = staticChecker{err: errors.New("connection refused")}

	r := httproutes.Register(deps)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/readyz", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
}

func TestReadinessAllHealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	deps := testDependencies(t)
	deps.Database = staticChecker{}
	deps.Cache = staticChecker{}

	r := httproutes.Register(deps)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/readyz", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(testDependencies(t))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin allowed, got %q", got)
	}
}
