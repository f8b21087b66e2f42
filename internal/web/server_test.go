package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nged-substations/internal/app"
	"github.com/nged-substations/internal/config"
	"github.com/nged-substations/internal/logging"
	"github.com/nged-substations/internal/web/middleware"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) http.Handler {
	t.Helper()
	chdir(t, t.TempDir())
	cfg, err := config.LoadWith(config.New(), "")
	require.NoError(t, err)
	cfg.Store.Backend = config.BackendMemory
	if mutate != nil {
		mutate(cfg)
	}

	a, err := app.New(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return NewServer(a).Handler()
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRoutes(t *testing.T) {
	h := newTestServer(t, nil)

	w := serve(h, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(h, httptest.NewRequest("PUT", "/api/overrides/live_primary_flows/deanshanger",
		strings.NewReader(`{"canonical_id": "110417"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(h, httptest.NewRequest("GET", "/api/overrides/live_primary_flows/deanshanger", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"canonical_id":"110417"`)

	// No sources configured and no body
	w = serve(h, httptest.NewRequest("POST", "/api/reconcile", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeatureRoutesDisabled(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.Features.ManualOverrideEnabled = false
		cfg.Features.ExportEnabled = false
	})

	w := serve(h, httptest.NewRequest("PUT", "/api/overrides/live_primary_flows/deanshanger",
		strings.NewReader(`{"canonical_id": "110417"}`)))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = serve(h, httptest.NewRequest("GET", "/api/reconcile/matches", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthOnAPIOnly(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.APIKey = "secret"
	})

	w := serve(h, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(h, httptest.NewRequest("GET", "/api/overrides", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/api/overrides", nil)
	req.Header.Set(middleware.APIKeyHeader, "secret")
	w = serve(h, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPreflight(t *testing.T) {
	h := newTestServer(t, nil)

	req := httptest.NewRequest("OPTIONS", "/api/overrides/live_primary_flows/x", nil)
	req.Header.Set("Origin", "https://curators.example")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	w := serve(h, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
