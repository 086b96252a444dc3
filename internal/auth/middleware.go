package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ResultKey is the gin context key holding the caller's *Result.
const ResultKey = "auth_result"

// Middleware guards gin routes with the Service. A nil Middleware or nil
// Service lets every request through.
type Middleware struct {
	svc *Service
}

func NewMiddleware(svc *Service) *Middleware { return &Middleware{svc: svc} }

func (m *Middleware) enabled() bool { return m != nil && m.svc != nil }

// GinAuth accepts a Bearer token or HTTP basic credentials.
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled() {
			c.Next()
			return
		}
		res, err := m.authenticate(c.Request)
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="termexec"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ResultKey, res)
		c.Next()
	}
}

// GinRequire aborts with 403 unless the authenticated caller may do action.
func (m *Middleware) GinRequire(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled() {
			c.Next()
			return
		}
		v, _ := c.Get(ResultKey)
		res, ok := v.(*Result)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !HasPermission(res.Roles, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}

// Login handles POST /auth/login with a LoginRequest body.
func (m *Middleware) Login(c *gin.Context) {
	if !m.enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication is disabled"})
		return
	}
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	res, err := m.svc.Authenticate(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (m *Middleware) authenticate(r *http.Request) (*Result, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return m.svc.Authenticate(r.Context(), LoginRequest{Method: MethodJWT, Token: strings.TrimSpace(value)})
		}
	}
	if user, pass, ok := r.BasicAuth(); ok {
		res, err := m.svc.Authenticate(r.Context(), LoginRequest{Method: MethodBasic, Username: user, Password: pass})
		if err == nil {
			res.Token = nil
		}
		return res, err
	}
	return nil, ErrInvalidCredentials
}
