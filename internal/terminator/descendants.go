package terminator

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Descendants returns the pids of every process transitively spawned by root,
// breadth first. root itself is not included. The result is a point in time
// view of the process table; errors reading it yield an empty list.
func Descendants(root int) []int {
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil
	}
	children := make(map[int32][]int32, len(procs))
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil || ppid == p.Pid {
			continue
		}
		children[ppid] = append(children[ppid], p.Pid)
	}

	var out []int
	seen := map[int32]bool{int32(root): true}
	queue := []int32{int32(root)}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, int(c))
			queue = append(queue, c)
		}
	}
	return out
}

// Alive reports whether pid refers to a running, non-zombie process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	states, err := p.Status()
	if err != nil {
		// the process vanished between lookup and status read
		running, rerr := p.IsRunning()
		return rerr == nil && running
	}
	for _, st := range states {
		if st == gopsproc.Zombie {
			return false
		}
	}
	return true
}
