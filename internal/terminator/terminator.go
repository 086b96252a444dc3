// Package terminator kills whole process trees.
//
// Terminate discovers every descendant of a root process before delivering
// the most forceful signal the platform offers, so that no child outlives the
// root. It never waits for the processes to exit.
package terminator

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidTarget is returned for non-positive or non-numeric process ids.
// No signal is sent in that case.
var ErrInvalidTarget = errors.New("invalid termination target")

// Outcome classifies the result of a Terminate call.
type Outcome string

const (
	OutcomeTerminated    Outcome = "terminated"
	OutcomeInvalidTarget Outcome = "invalid_target"
	OutcomeFailed        Outcome = "termination_failed"
)

// TerminationError reports the processes of a tree that could not be signalled.
// Processes that were already gone are never listed here.
type TerminationError struct {
	Root   int
	Failed map[int]error
}

func (e *TerminationError) Error() string {
	pids := make([]int, 0, len(e.Failed))
	for pid := range e.Failed {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	parts := make([]string, 0, len(pids))
	for _, pid := range pids {
		parts = append(parts, fmt.Sprintf("pid %d: %v", pid, e.Failed[pid]))
	}
	return fmt.Sprintf("terminate tree %d: %s", e.Root, strings.Join(parts, "; "))
}

func (e *TerminationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// Classify maps an error returned by Terminate to its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeTerminated
	case errors.Is(err, ErrInvalidTarget):
		return OutcomeInvalidTarget
	default:
		return OutcomeFailed
	}
}

// ParseTarget converts user supplied text into a process id.
func ParseTarget(s string) (int, error) {
	pid, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
	}
	return pid, nil
}

// Terminate forcefully kills root and all of its descendants.
// A tree that is already gone counts as success.
func Terminate(root int) error {
	if root <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTarget, root)
	}
	// Snapshot before signalling: once the root dies its children are
	// re-parented and can no longer be found through it.
	descendants := Descendants(root)
	failed := killTree(root, descendants)
	if len(failed) > 0 {
		return &TerminationError{Root: root, Failed: failed}
	}
	return nil
}

// Tree is the default Terminator used by sessions.
type Tree struct{}

func (Tree) Terminate(pid int) error { return Terminate(pid) }
