//go:build windows

package session

// DefaultShell runs a command line through cmd.exe.
var DefaultShell = []string{"cmd", "/c"}
