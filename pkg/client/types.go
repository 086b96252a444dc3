package client

import "time"

// StartRequest asks the daemon to run Command in the background. Timeout is
// in seconds and may not exceed 300.
type StartRequest struct {
	Command string   `json:"command"`
	Timeout int      `json:"timeout"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// StatusRequest polls one session (or all when SessionID is empty), waiting
// up to Timeout seconds for a change the Observer has not seen.
type StatusRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Timeout   *int   `json:"timeout,omitempty"`
	Observer  string `json:"observer,omitempty"`
}

// Session is the daemon's view of one command.
type Session struct {
	ID             string     `json:"id"`
	Command        string     `json:"command"`
	Status         string     `json:"status"`
	PID            int        `json:"pid"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	ExitCode       *int       `json:"exit_code,omitempty"`
	Stdout         string     `json:"stdout"`
	Stderr         string     `json:"stderr"`
	Truncated      bool       `json:"truncated,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Terminal reports whether the session reached a final status.
func (s Session) Terminal() bool {
	switch s.Status {
	case "Completed", "Failed", "TimedOut", "Killed":
		return true
	}
	return false
}

type StatusResponse struct {
	StatusChanged bool      `json:"status_changed"`
	Terminals     []Session `json:"terminals"`
	Error         string    `json:"error,omitempty"`
}

type CancelResult struct {
	SessionID string `json:"session_id"`
	Found     bool   `json:"found"`
	Cancelled bool   `json:"cancelled"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ExecResult is the synchronous outcome of Exec. Status is "Success" or "Failure".
type ExecResult struct {
	Status        string `json:"status"`
	SessionStatus string `json:"session_status"`
	Stdout        string `json:"stdout,omitempty"`
	Stderr        string `json:"stderr,omitempty"`
	ExitCode      *int   `json:"exit_code,omitempty"`
	Error         string `json:"error,omitempty"`
	SessionID     string `json:"session_id"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

// Token is a bearer token issued by POST /auth/login.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LoginResponse struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles,omitempty"`
	Token   *Token   `json:"token,omitempty"`
}

type loginRequest struct {
	Method   string `json:"method"`
	Username string `json:"username"`
	Password string `json:"password"`
}
