package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/termexec/internal/auth"
	"github.com/loykin/termexec/internal/metrics"
	"github.com/loykin/termexec/internal/registry"
	"github.com/loykin/termexec/internal/session"
)

// Router provides embeddable HTTP handlers over a session registry.
// Endpoints:
//
//	POST   {basePath}/sessions             body: {command, timeout, work_dir?, env?}
//	GET    {basePath}/sessions             list snapshots
//	GET    {basePath}/sessions/:id         one snapshot
//	POST   {basePath}/sessions/:id/cancel  kill the process tree
//	DELETE {basePath}/sessions/:id         forget a finished session
//	POST   {basePath}/exec                 start and wait for the result
//	GET    {basePath}/status               query: session_id, timeout, observer
//	POST   {basePath}/status               body: same fields as JSON
//	POST   {basePath}/auth/login           only when WithAuth is set
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	reg      *registry.Registry
	basePath string
	metrics  bool
	log      *slog.Logger
	auth     *auth.Middleware
}

type Option func(*Router)

// WithMetrics serves the Prometheus handler at /metrics, outside basePath.
func WithMetrics(enabled bool) Option { return func(r *Router) { r.metrics = enabled } }

// WithLogger sets the access logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// WithAuth requires credentials on every session route. Viewers may read;
// operators and admins may also start, cancel and remove.
func WithAuth(svc *auth.Service) Option {
	return func(r *Router) {
		if svc != nil {
			r.auth = auth.NewMiddleware(svc)
		}
	}
}

// NewRouter constructs a Router mounted at basePath.
func NewRouter(reg *registry.Registry, basePath string, opts ...Option) *Router {
	r := &Router{reg: reg, basePath: sanitizeBase(basePath), log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	base := g.Group(r.basePath)
	if r.auth != nil {
		base.POST("/auth/login", r.auth.Login)
	}
	group := base.Group("", r.auth.GinAuth())
	read := r.auth.GinRequire(auth.ActionRead)
	write := r.auth.GinRequire(auth.ActionWrite)
	group.POST("/sessions", write, r.handleStart)
	group.GET("/sessions", read, r.handleList)
	group.GET("/sessions/:id", read, r.handleGet)
	group.POST("/sessions/:id/cancel", write, r.handleCancel)
	group.DELETE("/sessions/:id", write, r.handleRemove)
	group.POST("/exec", write, r.handleExec)
	group.GET("/status", read, r.handleStatus)
	group.POST("/status", read, r.handleStatus)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type startResp struct {
	SessionID string `json:"session_id"`
}

// bindStart decodes and checks the path-like fields of a start body.
func bindStart(c *gin.Context) (registry.StartRequest, bool) {
	var req registry.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return req, false
	}
	if !isSafeAbsPath(req.WorkDir) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid work_dir: must be absolute path without traversal"})
		return req, false
	}
	return req, true
}

func startStatus(err error) int {
	switch {
	case registry.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, registry.ErrDuplicateID):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) handleStart(c *gin.Context) {
	req, ok := bindStart(c)
	if !ok {
		return
	}
	id, err := r.reg.Start(c.Request.Context(), req)
	if err != nil {
		writeJSON(c, startStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, startResp{SessionID: id})
}

func (r *Router) handleExec(c *gin.Context) {
	req, ok := bindStart(c)
	if !ok {
		return
	}
	res, err := r.reg.Exec(c.Request.Context(), req)
	if err != nil && res.SessionID == "" {
		writeJSON(c, startStatus(err), errorResp{Error: err.Error()})
		return
	}
	// A client that went away still gets the cancelled session's result.
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.reg.List())
}

func (r *Router) handleGet(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid session id"})
		return
	}
	snap, ok := r.reg.Snapshot(id)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: registry.ErrNotFound.Error()})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (r *Router) handleCancel(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid session id"})
		return
	}
	writeJSON(c, http.StatusOK, r.reg.Cancel(id))
}

func (r *Router) handleRemove(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid session id"})
		return
	}
	switch err := r.reg.Remove(id); {
	case err == nil:
		writeJSON(c, http.StatusOK, okResp{OK: true})
	case errors.Is(err, registry.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, registry.ErrSessionActive):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

// handleStatus accepts the request either as query parameters or as a JSON
// body. Validation failures keep the StatusResponse shape with a 400.
func (r *Router) handleStatus(c *gin.Context) {
	var req registry.StatusRequest
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, registry.StatusResponse{
				Error: "invalid JSON: " + err.Error(), Terminals: []session.Snapshot{},
			})
			return
		}
	} else {
		req.SessionID = c.Query("session_id")
		req.Observer = c.Query("observer")
		if raw, ok := c.GetQuery("timeout"); ok {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeJSON(c, http.StatusBadRequest, registry.StatusResponse{
					Error: "timeout must be an integer number of seconds", Terminals: []session.Snapshot{},
				})
				return
			}
			req.Timeout = &n
		}
	}
	if (req.SessionID != "" && !isSafeName(req.SessionID)) || (req.Observer != "" && !isSafeName(req.Observer)) {
		writeJSON(c, http.StatusBadRequest, registry.StatusResponse{
			Error: "invalid session_id or observer", Terminals: []session.Snapshot{},
		})
		return
	}
	resp := r.reg.Status(c.Request.Context(), req)
	code := http.StatusOK
	if resp.Error != "" {
		code = http.StatusBadRequest
	}
	writeJSON(c, code, resp)
}
