// Package termexec runs shell commands as asynchronous sessions that can be
// polled, cancelled and timed out, killing the whole process tree.
package termexec

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/termexec/internal/auth"
	cfg "github.com/loykin/termexec/internal/config"
	"github.com/loykin/termexec/internal/history"
	"github.com/loykin/termexec/internal/history/factory"
	"github.com/loykin/termexec/internal/metrics"
	"github.com/loykin/termexec/internal/registry"
	iapi "github.com/loykin/termexec/internal/server"
	"github.com/loykin/termexec/internal/session"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type RegistryConfig = registry.Config

type StartRequest = registry.StartRequest

type StatusRequest = registry.StatusRequest

type StatusResponse = registry.StatusResponse

type CancelResult = registry.CancelResult

type ExecResult = registry.ExecResult

type Snapshot = session.Snapshot

type Status = session.Status

type ValidationError = registry.ValidationError

type HistorySink = history.Sink

const (
	StatusPending   = session.StatusPending
	StatusRunning   = session.StatusRunning
	StatusCompleted = session.StatusCompleted
	StatusFailed    = session.StatusFailed
	StatusTimedOut  = session.StatusTimedOut
	StatusKilled    = session.StatusKilled

	MaxTimeoutSeconds = registry.MaxTimeoutSeconds
)

var (
	ErrNotFound      = registry.ErrNotFound
	ErrSessionActive = registry.ErrSessionActive
	ErrClosed        = registry.ErrClosed
)

// Registry is a thin facade over internal/registry.Registry.
// It provides a stable public API for embedding.
type Registry struct{ inner *registry.Registry }

// New creates a Registry. The zero RegistryConfig is usable.
func New(c RegistryConfig) *Registry { return &Registry{inner: registry.New(c)} }

func (r *Registry) Start(ctx context.Context, req StartRequest) (string, error) {
	return r.inner.Start(ctx, req)
}
func (r *Registry) Status(ctx context.Context, req StatusRequest) StatusResponse {
	return r.inner.Status(ctx, req)
}
func (r *Registry) Exec(ctx context.Context, req StartRequest) (ExecResult, error) {
	return r.inner.Exec(ctx, req)
}
func (r *Registry) Wait(ctx context.Context, id string) (Snapshot, error) {
	return r.inner.Wait(ctx, id)
}
func (r *Registry) Cancel(id string) CancelResult          { return r.inner.Cancel(id) }
func (r *Registry) Snapshot(id string) (Snapshot, bool)    { return r.inner.Snapshot(id) }
func (r *Registry) List() []Snapshot                       { return r.inner.List() }
func (r *Registry) Remove(id string) error                 { return r.inner.Remove(id) }
func (r *Registry) Close(ctx context.Context) error        { return r.inner.Close(ctx) }
func IsValidation(err error) bool                          { return registry.IsValidation(err) }
func LoadConfig(path string) (*Config, error)              { return cfg.LoadConfig(path) }
func NewHistorySinks(dsns []string) ([]HistorySink, error) { return factory.NewSinks(dsns) }
func DefaultConfig() Config                                { return cfg.Default() }
func NewRouter(r *Registry, basePath string) http.Handler {
	return iapi.NewRouter(r.inner, basePath).Handler()
}
func NewMetricsRouter(r *Registry, basePath string) http.Handler {
	return iapi.NewRouter(r.inner, basePath, iapi.WithMetrics(true)).Handler()
}

// NewFromConfig builds a Registry from a loaded configuration: global
// environment, session log files and history sinks included.
func NewFromConfig(c *Config, log *slog.Logger) (*Registry, error) {
	rc, err := RegistryConfigFrom(c)
	if err != nil {
		return nil, err
	}
	rc.Logger = log
	return New(rc), nil
}

// RegistryConfigFrom maps the file configuration onto RegistryConfig.
func RegistryConfigFrom(c *Config) (RegistryConfig, error) {
	e, err := c.GlobalEnv()
	if err != nil {
		return RegistryConfig{}, err
	}
	rc := RegistryConfig{
		Retention:     c.Registry.Retention,
		SweepInterval: c.Registry.SweepInterval,
		OutputLimit:   c.Registry.OutputLimitBytes,
		WaitDelay:     c.Registry.WaitDelay,
		Shell:         c.Registry.Shell,
		Env:           e,
		Log:           c.Log,
	}
	if c.History.Enabled {
		sinks, err := factory.NewSinks(c.History.DSN)
		if err != nil {
			return RegistryConfig{}, fmt.Errorf("history: %w", err)
		}
		rc.Sinks = sinks
	}
	return rc, nil
}

// NewHTTPServer builds (without starting) the API server described by
// c.Server, optionally serving /metrics on the same listener. When
// c.Auth.Enabled every session route requires credentials.
func NewHTTPServer(c *Config, r *Registry, log *slog.Logger) (*http.Server, error) {
	opts := []iapi.Option{
		iapi.WithMetrics(c.Metrics.Enabled && c.Metrics.Listen == ""),
		iapi.WithLogger(log),
	}
	if c.Auth.Enabled {
		svc, err := auth.NewService(c.Auth)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		opts = append(opts, iapi.WithAuth(svc))
	}
	return iapi.NewServer(c.Server, r.inner, opts...)
}

// HashPassword returns a bcrypt hash suitable for auth.users.password_hash.
func HashPassword(password string) (string, error) { return auth.HashPassword(password) }

// ListenAndServe runs srv, using TLS when configured, until Shutdown.
func ListenAndServe(srv *http.Server) error { return iapi.ListenAndServe(srv) }

// MountGin mounts the API under basePath on an existing gin engine.
func MountGin(g *gin.Engine, r *Registry, basePath string) {
	h := gin.WrapH(NewRouter(r, basePath))
	g.Any(basePath, h)
	g.Any(basePath+"/*any", h)
}

// MountEcho mounts the API under basePath on an existing Echo instance.
func MountEcho(e *echo.Echo, r *Registry, basePath string) {
	h := echo.WrapHandler(NewRouter(r, basePath))
	e.Any(basePath, h)
	e.Any(basePath+"/*", h)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics from the default registry on addr until ctx
// is done.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	return iapi.ListenAndServe(srv)
}
