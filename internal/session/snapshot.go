package session

import "time"

// Snapshot is a point in time, JSON friendly view of a session.
type Snapshot struct {
	ID             string     `json:"id"`
	Command        string     `json:"command"`
	Status         Status     `json:"status"`
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

// Snapshot copies the session state and captured output.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		ID:             s.id,
		Command:        s.command,
		Status:         s.status,
		PID:            s.pid,
		TimeoutSeconds: int(s.timeout / time.Second),
		CreatedAt:      s.createdAt,
		StartedAt:      timePtr(s.startedAt),
		FinishedAt:     timePtr(s.finishedAt),
		Error:          s.errText,
	}
	if s.exitCode != nil {
		code := *s.exitCode
		snap.ExitCode = &code
	}
	s.mu.Unlock()

	snap.Stdout = s.stdout.String()
	snap.Stderr = s.stderr.String()
	snap.Truncated = s.stdout.Truncated() || s.stderr.Truncated()
	return snap
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
