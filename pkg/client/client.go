package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"
)

// Client talks to a termexec daemon over its HTTP API.
type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger

	mu       sync.RWMutex
	token    string
	username string
	password string
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration // per request, on top of any server-side wait
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification

	// Credentials for a daemon with auth enabled. Token wins over basic.
	Token    string
	Username string
	Password string
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path, e.g. the daemon's tls_ca.crt
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// ErrNotFound is matched by errors.Is for 404 replies.
var ErrNotFound = errors.New("session not found")

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a client. TLS problems are reported here rather than on the
// first request.
func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL:  config.BaseURL,
		timeout:  config.Timeout,
		logger:   config.Logger,
		client:   &http.Client{Transport: transport},
		token:    config.Token,
		username: config.Username,
		password: config.Password,
	}, nil
}

// Login exchanges username and password for a bearer token and uses it
// for subsequent requests.
func (c *Client) Login(ctx context.Context, username, password string) (Token, error) {
	var out LoginResponse
	req := loginRequest{Method: "basic", Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, 0, &out); err != nil {
		return Token{}, err
	}
	if out.Token == nil {
		return Token{}, errors.New("login response carried no token")
	}
	c.SetToken(out.Token.Value)
	return *out.Token, nil
}

// SetToken replaces the bearer token sent with each request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) authorize(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
}

// Start launches a command and returns its session id.
func (c *Client) Start(ctx context.Context, req StartRequest) (string, error) {
	c.logger.Debug("starting session", "command", req.Command, "timeout", req.Timeout)
	var out startResponse
	if err := c.do(ctx, http.MethodPost, "/sessions", req, 0, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// Exec runs a command to completion on the daemon.
func (c *Client) Exec(ctx context.Context, req StartRequest) (ExecResult, error) {
	var out ExecResult
	err := c.do(ctx, http.MethodPost, "/exec", req, time.Duration(req.Timeout)*time.Second, &out)
	return out, err
}

// Status polls session state. A ceiling violation comes back as an
// *APIError and also in the response's Error field.
func (c *Client) Status(ctx context.Context, req StatusRequest) (StatusResponse, error) {
	q := url.Values{}
	if req.SessionID != "" {
		q.Set("session_id", req.SessionID)
	}
	if req.Observer != "" {
		q.Set("observer", req.Observer)
	}
	var wait time.Duration
	if req.Timeout != nil {
		q.Set("timeout", strconv.Itoa(*req.Timeout))
		wait = time.Duration(*req.Timeout) * time.Second
	}
	path := "/status"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, path, nil, wait, &out)
	return out, err
}

// Get returns one session.
func (c *Client) Get(ctx context.Context, id string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, 0, &out)
	return out, err
}

// List returns every session the daemon still tracks.
func (c *Client) List(ctx context.Context) ([]Session, error) {
	var out []Session
	err := c.do(ctx, http.MethodGet, "/sessions", nil, 0, &out)
	return out, err
}

// Cancel kills a session's process tree.
func (c *Client) Cancel(ctx context.Context, id string) (CancelResult, error) {
	var out CancelResult
	err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+"/cancel", nil, 0, &out)
	return out, err
}

// Remove forgets a finished session.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, 0, nil)
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx, StatusRequest{SessionID: "reachability-probe"})
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
	}
	return err == nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		return tlsConfig, nil
	}

	if t := config.TLS; t != nil {
		tlsConfig.InsecureSkipVerify = t.SkipVerify // #nosec G402 explicit opt-in
		tlsConfig.ServerName = t.ServerName
		if t.CACert != "" {
			if err := loadCACert(tlsConfig, t.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if t.ClientCert != "" && t.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(t.ClientCert, t.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}

func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return errors.New("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}

// do sends body as JSON and decodes the reply into out. wait extends the
// request deadline for calls the server may hold open.
func (c *Client) do(ctx context.Context, method, path string, body any, wait time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout+wait)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "method", method, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// Status replies keep their shape on 400; decode them before failing.
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		var er ErrorResponse
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
