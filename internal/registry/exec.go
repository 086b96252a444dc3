package registry

import (
	"context"

	"github.com/loykin/termexec/internal/session"
)

const (
	ExecSuccess = "Success"
	ExecFailure = "Failure"
)

// ExecResult is the synchronous form of a finished session.
type ExecResult struct {
	Status        string         `json:"status"`
	SessionStatus session.Status `json:"session_status"`
	Stdout        string         `json:"stdout,omitempty"`
	Stderr        string         `json:"stderr,omitempty"`
	ExitCode      *int           `json:"exit_code,omitempty"`
	Error         string         `json:"error,omitempty"`
	SessionID     string         `json:"session_id"`
}

// Exec starts req and waits for its terminal status. When ctx ends first
// the session is cancelled and ctx's error is returned.
func (r *Registry) Exec(ctx context.Context, req StartRequest) (ExecResult, error) {
	id, err := r.Start(ctx, req)
	if err != nil {
		return ExecResult{}, err
	}
	snap, err := r.Wait(ctx, id)
	if err != nil {
		r.Cancel(id)
		if latest, ok := r.Snapshot(id); ok {
			snap = latest
		}
		return resultOf(snap), err
	}
	return resultOf(snap), nil
}

func resultOf(snap session.Snapshot) ExecResult {
	res := ExecResult{
		Status:        ExecFailure,
		SessionStatus: snap.Status,
		Stdout:        snap.Stdout,
		Stderr:        snap.Stderr,
		ExitCode:      snap.ExitCode,
		Error:         snap.Error,
		SessionID:     snap.ID,
	}
	if snap.Status == session.StatusCompleted {
		res.Status = ExecSuccess
	}
	return res
}
