//go:build !windows

package session

// DefaultShell runs a command line through the POSIX shell.
var DefaultShell = []string{"/bin/sh", "-c"}
