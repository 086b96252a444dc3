package termexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/termexec/internal/auth"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh commands")
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(RegistryConfig{Retention: -1})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func TestFacadeStartWait(t *testing.T) {
	requireUnix(t)
	r := newTestRegistry(t)
	ctx := context.Background()
	id, err := r.Start(ctx, StartRequest{Command: "echo facade", Timeout: 10})
	require.NoError(t, err)
	snap, err := r.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "facade", strings.TrimSpace(snap.Stdout))
	require.NoError(t, r.Remove(id))
	_, ok := r.Snapshot(id)
	assert.False(t, ok)
}

func TestFacadeCeiling(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Start(context.Background(), StartRequest{Command: "true", Timeout: MaxTimeoutSeconds + 1})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "Timeout cannot exceed 300 seconds", err.Error())
}

func TestMountEchoAndGin(t *testing.T) {
	requireUnix(t)
	r := newTestRegistry(t)
	body := `{"command":"true","timeout":5}`

	e := echo.New()
	MountEcho(e, r, "/api")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	gin.SetMode(gin.TestMode)
	g := gin.New()
	MountGin(g, r, "/api")
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list []Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestNewFromConfig(t *testing.T) {
	requireUnix(t)
	c := DefaultConfig()
	c.Registry.UseOSEnv = false
	c.Registry.Env = []string{"GREETING=hi"}
	c.History.Enabled = true
	c.History.DSN = []string{"sqlite://" + filepath.Join(t.TempDir(), "h.db")}

	r, err := NewFromConfig(&c, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	res, err := r.Exec(context.Background(), StartRequest{Command: "echo $GREETING", Timeout: 10})
	require.NoError(t, err)
	assert.Equal(t, "Success", res.Status)
	assert.Equal(t, "hi", strings.TrimSpace(res.Stdout))

	c.History.DSN = []string{"unknown://x"}
	_, err = NewFromConfig(&c, nil)
	assert.Error(t, err)
}

func TestNewHTTPServerMetricsRoute(t *testing.T) {
	r := newTestRegistry(t)
	c := DefaultConfig()
	c.Metrics.Enabled = true
	srv, err := NewHTTPServer(&c, r, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewHTTPServerAuth(t *testing.T) {
	r := newTestRegistry(t)
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	c := DefaultConfig()
	c.Auth.Enabled = true
	c.Auth.Users = []auth.User{{Username: "admin", PasswordHash: hash, Roles: []string{"admin"}}}
	srv, err := NewHTTPServer(&c, r, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Auth.Users[0].PasswordHash = "plain"
	_, err = NewHTTPServer(&c, r, nil)
	assert.Error(t, err)
}

func TestRegisterMetrics(t *testing.T) {
	require.NoError(t, RegisterMetrics(prometheus.NewRegistry()))
	require.NoError(t, RegisterMetricsDefault())
}
