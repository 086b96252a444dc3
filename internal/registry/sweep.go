package registry

import "time"

func (r *Registry) sweepLoop() {
	defer close(r.sweepDone)
	t := time.NewTicker(r.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-r.stopSweep:
			return
		case now := <-t.C:
			if n := r.sweep(now); n > 0 {
				r.log.Debug("expired finished sessions", "count", n)
			}
		}
	}
}

// sweep removes sessions that finished more than Retention before now.
func (r *Registry) sweep(now time.Time) int {
	cutoff := now.Add(-r.cfg.Retention)
	var removed []string
	r.mu.Lock()
	for id, e := range r.sessions {
		fin := e.s.FinishedAt()
		if !fin.IsZero() && fin.Before(cutoff) {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()
	if len(removed) > 0 {
		r.forget(removed...)
	}
	return len(removed)
}
