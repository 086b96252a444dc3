package server

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// sanitizeBase normalizes a mount prefix to "" or "/seg[/seg...]".
func sanitizeBase(bp string) string {
	bp = strings.TrimFunc(bp, func(r rune) bool { return r == '/' || unicode.IsSpace(r) })
	if bp == "" {
		return ""
	}
	return "/" + bp
}

func isNameRune(r rune) bool {
	switch {
	case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		return true
	}
	return r == '.' || r == '_' || r == '-'
}

// isSafeName validates session ids and observer names, which also end up in
// log file names: [A-Za-z0-9._-]+ without "..".
func isSafeName(s string) bool {
	return s != "" && !strings.Contains(s, "..") && strings.IndexFunc(s, func(r rune) bool { return !isNameRune(r) }) < 0
}

// isSafeAbsPath accepts an empty work_dir or an absolute path that is
// already clean, ignoring trailing separators.
func isSafeAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	if clean == p {
		return true
	}
	trimmed := strings.TrimRight(p, string(filepath.Separator))
	return trimmed != "" && clean == trimmed
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
