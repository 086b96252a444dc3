// Package session runs one external command and tracks it through
//
//	Pending -> Running -> Completed | Failed | TimedOut | Killed
//
// A Session owns its root process until the process exits or is terminated.
// Once a terminal status is recorded the pid is released and never signalled
// again, and further transitions are ignored.
package session

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// DefaultWaitDelay bounds how long output is still collected after the root
// exits while leftover children hold the pipes open.
const DefaultWaitDelay = 2 * time.Second

// Terminator kills a process tree rooted at pid.
type Terminator interface {
	Terminate(pid int) error
}

// Spec describes the command a session runs.
type Spec struct {
	ID      string
	Command string
	Timeout time.Duration
	WorkDir string
	// Env is the complete environment of the command. Nil inherits the
	// current process environment.
	Env []string
}

// Transition describes a status change. It is built while the session is
// locked, so it is consistent with the change it reports.
type Transition struct {
	ID         string
	Command    string
	From       Status
	To         Status
	PID        int
	ExitCode   *int
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// Options tunes how a session runs its command.
type Options struct {
	// OutputLimit caps each captured stream; <= 0 keeps everything.
	OutputLimit int
	// WaitDelay bounds output collection after the root exits. Zero selects
	// DefaultWaitDelay, negative waits for EOF however long it takes.
	WaitDelay time.Duration
	// Shell is the interpreter prefix; the command line is appended as the
	// last argument. Empty selects DefaultShell.
	Shell []string
	// Stdout and Stderr receive a copy of the output, e.g. rotating log files.
	Stdout     io.Writer
	Stderr     io.Writer
	Terminator Terminator
	Logger     *slog.Logger
	// OnTransition is called with the session lock held, in transition
	// order. It must be cheap and must not call back into the session.
	OnTransition func(Transition)
}

// Session is the state machine for one spawned command.
type Session struct {
	id      string
	command string
	timeout time.Duration
	workDir string
	env     []string
	opts    Options
	log     *slog.Logger

	stdout *OutputBuffer
	stderr *OutputBuffer

	mu         sync.Mutex
	status     Status
	pid        int // owned root pid, 0 when not owned
	spawned    int // pid obtained at spawn, kept for reporting
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	exitCode   *int
	errText    string
	timer      *time.Timer
	draining   bool // runner still collects output; done stays open
	released   bool
	done       chan struct{}
}

// New creates a Pending session. Nothing is spawned until Run.
func New(spec Spec, opts Options) *Session {
	if len(opts.Shell) == 0 {
		opts.Shell = DefaultShell
	}
	if opts.WaitDelay == 0 {
		opts.WaitDelay = DefaultWaitDelay
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		id:        spec.ID,
		command:   spec.Command,
		timeout:   spec.Timeout,
		workDir:   spec.WorkDir,
		env:       spec.Env,
		opts:      opts,
		log:       log.With("session", spec.ID),
		stdout:    NewOutputBuffer(opts.OutputLimit),
		stderr:    NewOutputBuffer(opts.OutputLimit),
		status:    StatusPending,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) Command() string        { return s.command }
func (s *Session) Timeout() time.Duration { return s.timeout }

// Done is closed once the session reaches a terminal status and its output
// has been collected.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// FinishedAt returns when the terminal status was recorded, or the zero time.
func (s *Session) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt
}

func (s *Session) buildCmd(p *outputPipes) *exec.Cmd {
	args := append(append([]string{}, s.opts.Shell[1:]...), s.command)
	// #nosec G204
	cmd := exec.Command(s.opts.Shell[0], args...)
	if s.workDir != "" {
		cmd.Dir = s.workDir
	}
	if s.env != nil {
		cmd.Env = s.env
	}
	cmd.Stdout = p.w[0]
	cmd.Stderr = p.w[1]
	configureSysProcAttr(cmd)
	return cmd
}

// Run spawns the command and blocks until it exits and its output has been
// collected. arm is called with the session locked right after the Running
// transition and returns the timeout timer, which is stopped as soon as a
// terminal status is recorded. Run must be called at most once.
func (s *Session) Run(arm func() *time.Timer) {
	defer s.release()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session runner panicked", "panic", r)
			s.fail(fmt.Sprintf("runner panic: %v", r))
		}
	}()

	pipes, err := openPipes()
	if err != nil {
		s.spawnFailed(err)
		return
	}
	cmd := s.buildCmd(pipes)
	if err := cmd.Start(); err != nil {
		pipes.closeWriters()
		pipes.closeReaders()
		s.spawnFailed(err)
		return
	}
	pipes.start(teeTo(s.stdout, s.opts.Stdout), teeTo(s.stderr, s.opts.Stderr))
	pid := cmd.Process.Pid

	s.mu.Lock()
	s.spawned = pid
	s.startedAt = time.Now()
	if s.status != StatusPending {
		// Cancelled before the pid existed.
		s.mu.Unlock()
		_ = s.terminate(pid)
		_ = cmd.Wait()
		pipes.drain(s.opts.WaitDelay)
		return
	}
	s.pid = pid
	s.draining = true
	s.transition(StatusRunning, "")
	if arm != nil {
		s.timer = arm()
	}
	s.mu.Unlock()
	s.log.Debug("session running", "pid", pid)

	// Wait returns when the root is reaped; the pipes are ours, so leftover
	// children holding them do not delay the exit status.
	err = cmd.Wait()
	s.exited(cmd, err)
	if !pipes.drain(s.opts.WaitDelay) {
		s.log.Debug("output still held open after root exit", "pid", pid, "wait_delay", s.opts.WaitDelay)
	}
}

func (s *Session) spawnFailed(err error) {
	serr := &SpawnError{Command: s.command, Err: err}
	s.log.Warn("spawn failed", "error", serr)
	_, _ = s.stderr.Write([]byte(serr.Error()))
	s.mu.Lock()
	s.transition(StatusFailed, serr.Error())
	s.mu.Unlock()
}

// release ends output collection. Once the status is terminal the buffers
// are sealed and Done is closed.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = false
	if s.status.Terminal() {
		s.closeDone()
	}
}

// closeDone must be called with s.mu held.
func (s *Session) closeDone() {
	if s.released {
		return
	}
	s.released = true
	s.stdout.Seal()
	s.stderr.Seal()
	close(s.done)
}

func (s *Session) exited(cmd *exec.Cmd, waitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	to := StatusFailed
	msg := ""
	if ps := cmd.ProcessState; ps != nil {
		code := ps.ExitCode()
		s.exitCode = &code
		if code == 0 {
			to = StatusCompleted
		} else if code < 0 && waitErr != nil {
			msg = waitErr.Error()
		}
	} else if waitErr != nil {
		msg = waitErr.Error()
	}
	s.transition(to, msg)
}

// Expire records Running -> TimedOut and terminates the tree. It reports
// whether this call made the transition.
func (s *Session) Expire() (bool, error) {
	return s.stop(StatusTimedOut, false)
}

// Kill records Killed and terminates the tree. A Pending session is marked
// Killed and its process is terminated as soon as it is spawned. Killing a
// terminal session is a no-op reporting false.
func (s *Session) Kill() (bool, error) {
	return s.stop(StatusKilled, true)
}

func (s *Session) stop(to Status, fromPending bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.status == StatusRunning:
	case s.status == StatusPending && fromPending:
	default:
		return false, nil
	}
	// Signal before publishing so the terminal transition carries any
	// termination failure. A concurrent exit waits on s.mu and then finds
	// the session terminal.
	var err error
	errText := ""
	if s.pid != 0 {
		if err = s.signal(s.pid); err != nil {
			errText = err.Error()
		}
	}
	s.transition(to, errText)
	return true, err
}

// terminate kills the tree of a pid the session no longer tracks as owned.
func (s *Session) terminate(pid int) error {
	err := s.signal(pid)
	if err != nil {
		s.mu.Lock()
		s.errText = err.Error()
		s.mu.Unlock()
	}
	return err
}

func (s *Session) signal(pid int) error {
	t := s.opts.Terminator
	if t == nil {
		return nil
	}
	err := t.Terminate(pid)
	if err != nil {
		s.log.Warn("terminate failed", "pid", pid, "error", err)
	}
	return err
}

// fail forces a non-terminal session to Failed.
func (s *Session) fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.transition(StatusFailed, msg)
}

// transition must be called with s.mu held. Moves out of a terminal status
// are ignored.
func (s *Session) transition(to Status, errText string) {
	from := s.status
	if from.Terminal() || from == to {
		return
	}
	s.status = to
	if errText != "" {
		s.errText = errText
	}
	if to.Terminal() {
		s.pid = 0
		s.finishedAt = time.Now()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		if !s.draining {
			s.closeDone()
		}
	}
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(Transition{
			ID:         s.id,
			Command:    s.command,
			From:       from,
			To:         to,
			PID:        s.spawned,
			ExitCode:   s.exitCode,
			StartedAt:  s.startedAt,
			FinishedAt: s.finishedAt,
			Error:      s.errText,
		})
	}
}
