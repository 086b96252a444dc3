package registry

import (
	"context"
	"time"

	"github.com/loykin/termexec/internal/metrics"
	"github.com/loykin/termexec/internal/session"
)

// StatusRequest polls one session, or every session when SessionID is empty.
// Timeout is the longest the call may wait for a change, in seconds; nil or
// zero returns immediately. Observer names the caller whose previous polls
// define what counts as a change; callers sharing a name share that view.
// An empty Observer is one shared anonymous view: a change reported to one
// anonymous poller is not reported again to another.
type StatusRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Timeout   *int   `json:"timeout,omitempty"`
	Observer  string `json:"observer,omitempty"`
}

// StatusResponse is the result of a status poll. Terminals is never nil.
type StatusResponse struct {
	StatusChanged bool               `json:"status_changed"`
	Terminals     []session.Snapshot `json:"terminals"`
	Error         string             `json:"error,omitempty"`
}

// Status reports the requested sessions, waiting up to req.Timeout for one
// of them to move to a status this observer has not seen yet. Validation
// failures are reported in Error without touching any state.
func (r *Registry) Status(ctx context.Context, req StatusRequest) StatusResponse {
	var wait time.Duration
	if req.Timeout != nil {
		if err := validateTimeout("timeout", *req.Timeout, true); err != nil {
			metrics.IncValidationError("status")
			return StatusResponse{Error: err.Error(), Terminals: []session.Snapshot{}}
		}
		wait = time.Duration(*req.Timeout) * time.Second
	}

	var expired <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		expired = t.C
	}
	for {
		// Grab the channel before observing so no transition is missed.
		ch := r.changes()
		snaps, found := r.collect(req.SessionID)
		changed := r.observe(req.Observer, snaps)
		if changed || !found || wait == 0 {
			return StatusResponse{StatusChanged: changed, Terminals: snaps}
		}
		select {
		case <-ch:
		case <-expired:
			return StatusResponse{Terminals: snaps}
		case <-ctx.Done():
			return StatusResponse{Terminals: snaps}
		}
	}
}

// collect snapshots the requested session or all sessions. found is false
// only when a specific id is unknown.
func (r *Registry) collect(id string) ([]session.Snapshot, bool) {
	if id != "" {
		s, ok := r.get(id)
		if !ok {
			return []session.Snapshot{}, false
		}
		return []session.Snapshot{s.Snapshot()}, true
	}
	return r.List(), true
}

// observe records what observer has now seen and reports whether any
// snapshot differs from its previous view. Sessions never seen before are
// compared against Pending, their initial status.
func (r *Registry) observe(observer string, snaps []session.Snapshot) bool {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	seen := r.observers[observer]
	if seen == nil {
		seen = make(map[string]session.Status)
		r.observers[observer] = seen
	}
	changed := false
	for _, snap := range snaps {
		prev, ok := seen[snap.ID]
		if !ok {
			prev = session.StatusPending
		}
		if prev != snap.Status {
			changed = true
		}
		seen[snap.ID] = snap.Status
	}
	return changed
}

// forget drops a removed session from every observer's view.
func (r *Registry) forget(ids ...string) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for name, seen := range r.observers {
		for _, id := range ids {
			delete(seen, id)
		}
		if len(seen) == 0 {
			delete(r.observers, name)
		}
	}
}
