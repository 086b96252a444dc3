// Package registry tracks terminal sessions: it validates and starts them,
// enforces their timeouts, answers status polls and cancels them.
package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/termexec/internal/env"
	"github.com/loykin/termexec/internal/history"
	"github.com/loykin/termexec/internal/logger"
	"github.com/loykin/termexec/internal/metrics"
	"github.com/loykin/termexec/internal/session"
	"github.com/loykin/termexec/internal/terminator"
)

const (
	DefaultRetention     = 10 * time.Minute
	DefaultSweepInterval = 30 * time.Second
	DefaultOutputLimit   = 1 << 20
)

// Config configures a Registry. The zero value is usable.
type Config struct {
	// Retention is how long terminal sessions stay queryable. Zero selects
	// DefaultRetention, negative keeps them until Remove.
	Retention     time.Duration
	SweepInterval time.Duration
	// OutputLimit caps each captured stream. Zero selects
	// DefaultOutputLimit, negative is unbounded.
	OutputLimit int
	WaitDelay   time.Duration
	Shell       []string
	// Env is the environment base for commands. Nil inherits the host
	// environment.
	Env *env.Env
	// Log.File.Dir enables per-session stdout/stderr log files.
	Log        logger.Config
	Terminator session.Terminator
	Logger     *slog.Logger
	Sinks      []history.Sink
	NewID      func() string
}

// StartRequest asks for a command to be run in the background.
type StartRequest struct {
	Command string   `json:"command"`
	Timeout int      `json:"timeout"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

type entry struct {
	s   *session.Session
	seq uint64
}

// Registry is the table of active and recently finished sessions.
type Registry struct {
	cfg     Config
	log     *slog.Logger
	env     *env.Env
	term    session.Terminator
	history *history.Dispatcher
	newID   func() string

	mu       sync.RWMutex
	sessions map[string]*entry
	seq      uint64
	closed   bool

	notifyMu sync.Mutex
	notify   chan struct{}

	obsMu     sync.Mutex
	observers map[string]map[string]session.Status

	wg        sync.WaitGroup
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New creates a Registry and starts its retention sweeper.
func New(cfg Config) *Registry {
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	switch {
	case cfg.OutputLimit == 0:
		cfg.OutputLimit = DefaultOutputLimit
	case cfg.OutputLimit < 0:
		cfg.OutputLimit = 0
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		cfg:       cfg,
		log:       log,
		env:       cfg.Env,
		term:      cfg.Terminator,
		newID:     cfg.NewID,
		sessions:  make(map[string]*entry),
		notify:    make(chan struct{}),
		observers: make(map[string]map[string]session.Status),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	if r.env == nil {
		r.env = env.New(true)
	}
	if r.term == nil {
		r.term = terminator.Tree{}
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	if len(cfg.Sinks) > 0 {
		r.history = history.NewDispatcher(cfg.Sinks, 0, log)
	}
	if cfg.Retention > 0 {
		go r.sweepLoop()
	} else {
		close(r.sweepDone)
	}
	return r
}

func validateStart(req StartRequest) error {
	if err := validateTimeout("timeout", req.Timeout, false); err != nil {
		return err
	}
	if strings.TrimSpace(req.Command) == "" {
		return &ValidationError{Field: "command", Message: "Command must not be empty"}
	}
	if err := env.Validate(req.Env); err != nil {
		return &ValidationError{Field: "env", Message: err.Error()}
	}
	return nil
}

// Start validates req, registers a Pending session and spawns its command in
// the background. It returns the session id without waiting for the spawn.
func (r *Registry) Start(ctx context.Context, req StartRequest) (string, error) {
	if err := validateStart(req); err != nil {
		metrics.IncValidationError("start")
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := r.newID()
	var outW, errW io.WriteCloser
	if r.cfg.Log.File.Dir != "" {
		var err error
		if outW, errW, err = r.cfg.Log.SessionWriters(id); err != nil {
			r.log.Warn("session log files unavailable", "session", id, "error", err)
		}
	}
	opts := session.Options{
		OutputLimit:  r.cfg.OutputLimit,
		WaitDelay:    r.cfg.WaitDelay,
		Shell:        r.cfg.Shell,
		Terminator:   r.term,
		Logger:       r.log,
		OnTransition: r.onTransition,
	}
	if outW != nil {
		opts.Stdout = outW
	}
	if errW != nil {
		opts.Stderr = errW
	}
	s := session.New(session.Spec{
		ID:      id,
		Command: req.Command,
		Timeout: time.Duration(req.Timeout) * time.Second,
		WorkDir: req.WorkDir,
		Env:     r.env.Merge(req.Env),
	}, opts)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		closeAll(outW, errW)
		return "", ErrClosed
	}
	if _, taken := r.sessions[id]; taken {
		r.mu.Unlock()
		closeAll(outW, errW)
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.seq++
	r.sessions[id] = &entry{s: s, seq: r.seq}
	r.wg.Add(1)
	r.mu.Unlock()

	metrics.IncStart()
	r.log.Info("session started", "session", id, "command", req.Command, "timeout", req.Timeout)

	go func() {
		defer r.wg.Done()
		defer closeAll(outW, errW)
		s.Run(func() *time.Timer {
			return time.AfterFunc(s.Timeout(), func() { r.expire(s) })
		})
	}()
	return id, nil
}

func closeAll(cs ...io.WriteCloser) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}

func (r *Registry) expire(s *session.Session) {
	ok, err := s.Expire()
	if !ok {
		return
	}
	metrics.IncTermination(string(terminator.Classify(err)))
	r.log.Warn("session timed out", "session", s.ID(), "timeout", s.Timeout())
}

// onTransition runs with the session locked; it only records and notifies.
func (r *Registry) onTransition(tr session.Transition) {
	terminal := tr.To.Terminal()
	seconds := -1.0
	if terminal && !tr.StartedAt.IsZero() {
		seconds = tr.FinishedAt.Sub(tr.StartedAt).Seconds()
	}
	metrics.RecordTransition(string(tr.From), string(tr.To), terminal, seconds)

	if r.history != nil {
		typ := history.EventStart
		at := tr.StartedAt
		if terminal {
			typ = history.EventFinish
			at = tr.FinishedAt
		}
		r.history.Publish(history.Event{Type: typ, OccurredAt: at, Record: recordOf(tr)})
	}
	if terminal {
		r.log.Info("session finished", "session", tr.ID, "status", tr.To, "pid", tr.PID)
	}
	r.broadcast()
}

func recordOf(tr session.Transition) history.Record {
	rec := history.Record{
		SessionID: tr.ID,
		Command:   tr.Command,
		PID:       tr.PID,
		Status:    string(tr.To),
		Error:     tr.Error,
	}
	if tr.ExitCode != nil {
		code := *tr.ExitCode
		rec.ExitCode = &code
	}
	if !tr.StartedAt.IsZero() {
		t := tr.StartedAt
		rec.StartedAt = &t
	}
	if !tr.FinishedAt.IsZero() {
		t := tr.FinishedAt
		rec.FinishedAt = &t
	}
	return rec
}

// broadcast wakes every poller waiting on the current channel.
func (r *Registry) broadcast() {
	r.notifyMu.Lock()
	close(r.notify)
	r.notify = make(chan struct{})
	r.notifyMu.Unlock()
}

func (r *Registry) changes() <-chan struct{} {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	return r.notify
}

func (r *Registry) get(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.s, true
}

// ordered returns the tracked sessions in creation order.
func (r *Registry) ordered() []*session.Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]*session.Session, len(entries))
	for i, e := range entries {
		out[i] = e.s
	}
	return out
}

// Snapshot returns the current view of one session.
func (r *Registry) Snapshot(id string) (session.Snapshot, bool) {
	s, ok := r.get(id)
	if !ok {
		return session.Snapshot{}, false
	}
	return s.Snapshot(), true
}

// List returns snapshots of every tracked session in creation order.
func (r *Registry) List() []session.Snapshot {
	sessions := r.ordered()
	out := make([]session.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Remove forgets a terminal session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if !e.s.Status().Terminal() {
		r.mu.Unlock()
		return ErrSessionActive
	}
	delete(r.sessions, id)
	r.mu.Unlock()
	r.forget(id)
	return nil
}

// Wait blocks until the session is terminal or ctx is done.
func (r *Registry) Wait(ctx context.Context, id string) (session.Snapshot, error) {
	s, ok := r.get(id)
	if !ok {
		return session.Snapshot{}, ErrNotFound
	}
	select {
	case <-s.Done():
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// Close kills every non-terminal session, stops the sweeper and waits for
// background runners and history delivery until ctx is done.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	for _, s := range r.ordered() {
		if ok, err := s.Kill(); ok {
			r.log.Info("session killed on shutdown", "session", s.ID())
			metrics.IncTermination(string(terminator.Classify(err)))
		}
	}
	close(r.stopSweep)
	<-r.sweepDone

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.history.Close(ctx)
}
