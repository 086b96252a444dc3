//go:build windows

package terminator

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// taskkill exit code when the target does not exist
const taskkillNotFound = 128

// killTree uses taskkill /T /F for a recursive forceful kill, falling back to
// killing every discovered process individually when taskkill fails.
func killTree(root int, descendants []int) map[int]error {
	failed := make(map[int]error)
	// #nosec G204
	cmd := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(root))
	out, err := cmd.CombinedOutput()
	if err == nil {
		return failed
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() == taskkillNotFound && len(descendants) == 0 {
		return failed
	}

	for _, pid := range append(descendants, root) {
		p, perr := gopsproc.NewProcess(int32(pid))
		if perr != nil {
			continue // already gone
		}
		if kerr := p.Kill(); kerr != nil {
			if running, _ := p.IsRunning(); running {
				failed[pid] = fmt.Errorf("%w (taskkill: %s)", kerr, strings.TrimSpace(string(out)))
			}
		}
	}
	return failed
}
