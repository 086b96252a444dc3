//go:build !windows

package terminator

import (
	"errors"
	"syscall"
)

// sendKill is replaced in tests to simulate signal failures.
var sendKill = syscall.Kill

// killTree sends SIGKILL to the process group led by root, then to root and
// each descendant individually to reach processes that left the group
// (setsid, setpgid). ESRCH means the process is already gone.
func killTree(root int, descendants []int) map[int]error {
	failed := make(map[int]error)
	// Fails with ESRCH when root does not lead a group; the per-process
	// pass below still covers the snapshot.
	_ = sendKill(-root, syscall.SIGKILL)
	for _, pid := range append([]int{root}, descendants...) {
		if err := sendKill(pid, syscall.SIGKILL); err != nil && !gone(err) {
			failed[pid] = err
		}
	}
	return failed
}

func gone(err error) bool {
	return errors.Is(err, syscall.ESRCH)
}
