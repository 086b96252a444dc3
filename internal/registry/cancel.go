package registry

import (
	"github.com/loykin/termexec/internal/metrics"
	"github.com/loykin/termexec/internal/session"
	"github.com/loykin/termexec/internal/terminator"
)

// CancelResult describes the outcome of Cancel. Cancelled is true only for
// the call that moved the session to Killed.
type CancelResult struct {
	SessionID string         `json:"session_id"`
	Found     bool           `json:"found"`
	Cancelled bool           `json:"cancelled"`
	Status    session.Status `json:"status,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Cancel kills a session's process tree. It returns once the signal has been
// dispatched. Cancelling an unknown or terminal session is a no-op.
func (r *Registry) Cancel(id string) CancelResult {
	res := CancelResult{SessionID: id}
	s, ok := r.get(id)
	if !ok {
		return res
	}
	res.Found = true
	killed, err := s.Kill()
	res.Cancelled = killed
	if killed {
		metrics.IncTermination(string(terminator.Classify(err)))
		r.log.Info("session cancelled", "session", id)
	}
	if err != nil {
		res.Error = err.Error()
	}
	res.Status = s.Status()
	return res
}
