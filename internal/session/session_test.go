package session

import (
	"bytes"
	"errors"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/termexec/internal/terminator"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// recordingTerminator remembers every pid it was asked to terminate and then
// really kills the tree.
type recordingTerminator struct {
	mu   sync.Mutex
	pids []int
}

func (r *recordingTerminator) Terminate(pid int) error {
	r.mu.Lock()
	r.pids = append(r.pids, pid)
	r.mu.Unlock()
	return terminator.Terminate(pid)
}

func (r *recordingTerminator) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.pids...)
}

func newTestSession(command string, opts Options) *Session {
	return New(Spec{ID: "test", Command: command, Timeout: 30 * time.Second}, opts)
}

func runAsync(s *Session) chan struct{} {
	ch := make(chan struct{})
	go func() {
		s.Run(nil)
		close(ch)
	}()
	return ch
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitStatus(t *testing.T, s *Session, want Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status %s never reached, last %s", want, s.Status())
}

func TestRunCompleted(t *testing.T) {
	requireUnix(t)
	var tee bytes.Buffer
	var transitions []Transition
	s := newTestSession("echo hello", Options{
		Stdout:       &tee,
		OnTransition: func(tr Transition) { transitions = append(transitions, tr) },
	})
	s.Run(nil)

	snap := s.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, stderr %q", snap.Status, snap.Stderr)
	}
	if snap.Stdout != "hello\n" {
		t.Fatalf("stdout = %q", snap.Stdout)
	}
	if snap.ExitCode == nil || *snap.ExitCode != 0 {
		t.Fatalf("exit code = %v", snap.ExitCode)
	}
	if snap.PID != 0 {
		t.Fatalf("pid must be released after exit, got %d", snap.PID)
	}
	if snap.StartedAt == nil || snap.FinishedAt == nil {
		t.Fatalf("timestamps missing: %+v", snap)
	}
	if tee.String() != "hello\n" {
		t.Fatalf("tee = %q", tee.String())
	}
	if len(transitions) != 2 ||
		transitions[0].From != StatusPending || transitions[0].To != StatusRunning ||
		transitions[1].From != StatusRunning || transitions[1].To != StatusCompleted {
		t.Fatalf("unexpected transitions %+v", transitions)
	}
	if transitions[1].PID <= 0 {
		t.Fatalf("finish transition should carry the spawned pid")
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("done not closed")
	}
}

func TestRunFailedExitCode(t *testing.T) {
	requireUnix(t)
	s := newTestSession("echo oops >&2; exit 3", Options{})
	s.Run(nil)
	snap := s.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s", snap.Status)
	}
	if snap.ExitCode == nil || *snap.ExitCode != 3 {
		t.Fatalf("exit code = %v", snap.ExitCode)
	}
	if snap.Stderr != "oops\n" {
		t.Fatalf("stderr = %q", snap.Stderr)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	s := newTestSession("echo never", Options{Shell: []string{"/definitely/not/a/shell"}})
	s.Run(nil)
	snap := s.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s", snap.Status)
	}
	if snap.ExitCode != nil {
		t.Fatalf("spawn failure must not carry an exit code, got %d", *snap.ExitCode)
	}
	if !strings.Contains(snap.Stderr, "spawn") || snap.Error == "" {
		t.Fatalf("spawn error not recorded: stderr %q error %q", snap.Stderr, snap.Error)
	}
	if snap.StartedAt != nil {
		t.Fatalf("started_at must stay unset")
	}
}

func TestSpawnErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := error(&SpawnError{Command: "x", Err: base})
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error")
	}
	var se *SpawnError
	if !errors.As(err, &se) || se.Command != "x" {
		t.Fatalf("errors.As failed")
	}
}

func TestExpireTerminatesRootPid(t *testing.T) {
	requireUnix(t)
	rec := &recordingTerminator{}
	s := newTestSession("echo started; sleep 30", Options{Terminator: rec})
	ran := runAsync(s)
	waitStatus(t, s, StatusRunning)
	pid := s.Snapshot().PID
	if pid <= 0 {
		t.Fatalf("running session must expose its pid")
	}

	ok, err := s.Expire()
	if !ok || err != nil {
		t.Fatalf("Expire = %v, %v", ok, err)
	}
	waitClosed(t, ran, "runner exit")

	snap := s.Snapshot()
	if snap.Status != StatusTimedOut {
		t.Fatalf("status = %s", snap.Status)
	}
	if snap.ExitCode != nil {
		t.Fatalf("timed out session must not have an exit code")
	}
	if calls := rec.calls(); len(calls) != 1 || calls[0] != pid {
		t.Fatalf("terminator calls = %v, want [%d]", calls, pid)
	}
	if snap.PID != 0 {
		t.Fatalf("pid not released")
	}

	// Terminal sessions reject further transitions.
	if ok, _ := s.Kill(); ok {
		t.Fatalf("Kill after TimedOut must be a no-op")
	}
	if ok, _ := s.Expire(); ok {
		t.Fatalf("second Expire must be a no-op")
	}
	if s.Status() != StatusTimedOut || len(rec.calls()) != 1 {
		t.Fatalf("terminal status changed or pid signalled twice")
	}
}

func TestKillRunning(t *testing.T) {
	requireUnix(t)
	rec := &recordingTerminator{}
	s := newTestSession("sleep 30", Options{Terminator: rec})
	ran := runAsync(s)
	waitStatus(t, s, StatusRunning)

	if ok, err := s.Kill(); !ok || err != nil {
		t.Fatalf("Kill = %v, %v", ok, err)
	}
	waitClosed(t, ran, "runner exit")
	if s.Status() != StatusKilled {
		t.Fatalf("status = %s", s.Status())
	}
	if ok, err := s.Kill(); ok || err != nil {
		t.Fatalf("second Kill = %v, %v", ok, err)
	}
}

func TestKillWhilePending(t *testing.T) {
	requireUnix(t)
	rec := &recordingTerminator{}
	s := newTestSession("sleep 30", Options{Terminator: rec})
	if ok, err := s.Kill(); !ok || err != nil {
		t.Fatalf("Kill = %v, %v", ok, err)
	}
	if s.Status() != StatusKilled {
		t.Fatalf("status = %s", s.Status())
	}
	waitClosed(t, s.Done(), "done")

	ran := runAsync(s)
	waitClosed(t, ran, "runner exit")
	if calls := rec.calls(); len(calls) != 1 || calls[0] <= 0 {
		t.Fatalf("spawned process must be terminated, calls %v", calls)
	}
	if s.Status() != StatusKilled {
		t.Fatalf("status changed to %s", s.Status())
	}
}

func TestTimerArmedAndStopped(t *testing.T) {
	requireUnix(t)
	var timer *time.Timer
	fired := make(chan struct{}, 1)
	s := newTestSession("true", Options{})
	s.Run(func() *time.Timer {
		timer = time.AfterFunc(time.Hour, func() { fired <- struct{}{} })
		return timer
	})
	if timer == nil {
		t.Fatalf("arm was not called")
	}
	if timer.Stop() {
		t.Fatalf("timer should already be stopped after exit")
	}
}

func TestOutputLimitTruncates(t *testing.T) {
	requireUnix(t)
	s := newTestSession("printf 'abcdefghij'", Options{OutputLimit: 4})
	s.Run(nil)
	snap := s.Snapshot()
	if snap.Stdout != "ghij" || !snap.Truncated {
		t.Fatalf("stdout %q truncated %v", snap.Stdout, snap.Truncated)
	}
}

func TestWorkDirAndEnv(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	s := New(Spec{
		ID:      "env",
		Command: "pwd; echo $GREETING",
		Timeout: time.Minute,
		WorkDir: dir,
		Env:     []string{"GREETING=hi", "PATH=/usr/bin:/bin"},
	}, Options{})
	s.Run(nil)
	snap := s.Snapshot()
	lines := strings.Split(strings.TrimSpace(snap.Stdout), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], strings.TrimPrefix(dir, "/private")) || lines[1] != "hi" {
		t.Fatalf("unexpected output %q", snap.Stdout)
	}
}

func TestOutputCollectedAfterRootExit(t *testing.T) {
	requireUnix(t)
	s := newTestSession("(sleep 1; echo late) & echo early; exit 0", Options{WaitDelay: 5 * time.Second})
	s.Run(nil)

	snap := s.Snapshot()
	if snap.Status != StatusCompleted || snap.ExitCode == nil || *snap.ExitCode != 0 {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
	if snap.Stdout != "early\nlate\n" {
		t.Fatalf("stdout = %q", snap.Stdout)
	}
	if d := snap.FinishedAt.Sub(*snap.StartedAt); d >= time.Second {
		t.Fatalf("exit recorded after %v, want it at root exit", d)
	}
}

func TestWaitDelayBoundsHeldPipes(t *testing.T) {
	requireUnix(t)
	s := newTestSession("sleep 30 & echo $! >&2; exit 0", Options{WaitDelay: 200 * time.Millisecond})
	begin := time.Now()
	s.Run(nil)
	elapsed := time.Since(begin)

	snap := s.Snapshot()
	if pid, err := strconv.Atoi(strings.TrimSpace(snap.Stderr)); err == nil {
		t.Cleanup(func() { _ = terminator.Terminate(pid) })
	}
	if elapsed > 5*time.Second {
		t.Fatalf("runner held for %v by a background child", elapsed)
	}
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s", snap.Status)
	}
	waitClosed(t, s.Done(), "done")
}

// failingTerminator kills the tree and still reports a failure.
type failingTerminator struct{}

func (failingTerminator) Terminate(pid int) error {
	_ = terminator.Terminate(pid)
	return errors.New("signal refused")
}

func TestTerminationFailureCarriedByTransition(t *testing.T) {
	requireUnix(t)
	for _, tc := range []struct {
		name string
		stop func(*Session) (bool, error)
		want Status
	}{
		{"expire", (*Session).Expire, StatusTimedOut},
		{"kill", (*Session).Kill, StatusKilled},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var mu sync.Mutex
			var last Transition
			s := newTestSession("sleep 30", Options{
				Terminator: failingTerminator{},
				OnTransition: func(tr Transition) {
					mu.Lock()
					last = tr
					mu.Unlock()
				},
			})
			ran := runAsync(s)
			waitStatus(t, s, StatusRunning)

			ok, err := tc.stop(s)
			if !ok || err == nil {
				t.Fatalf("stop = %v, %v", ok, err)
			}
			waitClosed(t, ran, "runner exit")

			snap := s.Snapshot()
			if snap.Status != tc.want || snap.Error != "signal refused" {
				t.Fatalf("unexpected final snapshot %+v", snap)
			}
			mu.Lock()
			defer mu.Unlock()
			if last.To != tc.want || last.Error != "signal refused" {
				t.Fatalf("terminal transition %+v lacks the termination error", last)
			}
		})
	}
}
