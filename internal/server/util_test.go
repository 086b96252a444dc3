package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loykin/termexec/internal/registry"
	"github.com/loykin/termexec/internal/session"
)

func TestSanitizeBaseMountPrefixes(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"/":           "",
		"//":          "",
		" / ":         "",
		"//api/":      "/api",
		" /api/v1/ ":  "/api/v1",
		"termexec":    "/termexec",
		"\t/exec//\n": "/exec",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Errorf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSafeNameSessionIDsAndObservers(t *testing.T) {
	for i := 0; i < 8; i++ {
		if id := uuid.NewString(); !isSafeName(id) {
			t.Fatalf("generated session id %q rejected", id)
		}
	}
	ok := []string{"fixed-id", "dashboard_1", "ci.runner-7", "OBSERVER"}
	for _, s := range ok {
		if !isSafeName(s) {
			t.Errorf("expected %q to be accepted", s)
		}
	}
	bad := []string{
		"",
		"..",
		"../sessions",
		"job..1",
		"id/stdout",
		`id\stderr`,
		"id with space",
		"id;rm",
		"세션",
		uuid.NewString() + "?",
	}
	for _, s := range bad {
		if isSafeName(s) {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}

func TestIsSafeAbsPathWorkDirs(t *testing.T) {
	dir := t.TempDir()
	sep := string(filepath.Separator)
	ok := []string{"", dir, dir + sep, filepath.Join(dir, "build")}
	for _, p := range ok {
		if !isSafeAbsPath(p) {
			t.Errorf("work_dir %q should be accepted", p)
		}
	}
	bad := []string{
		"build",
		"." + sep + "build",
		".." + sep + "etc",
		dir + sep + ".." + sep + "etc",
		dir + sep + "." + sep + "build",
		dir + sep + sep + "build",
	}
	for _, p := range bad {
		if isSafeAbsPath(p) {
			t.Errorf("work_dir %q should be rejected", p)
		}
	}
}

func TestWriteJSONCancelResult(t *testing.T) {
	gin.SetMode(gin.TestMode)
	want := registry.CancelResult{SessionID: uuid.NewString(), Found: true, Cancelled: true, Status: session.StatusKilled}
	r := gin.New()
	r.DELETE("/sessions/:id", func(c *gin.Context) { writeJSON(c, http.StatusOK, want) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/"+want.SessionID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
	var got registry.CancelResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
