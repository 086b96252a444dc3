package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/loykin/termexec/internal/registry"
)

func FuzzIsSafeName(f *testing.F) {
	for _, seed := range []string{"sess-1", "", "..", "a/b", `a\b`, "v1.2_3", "한글", "id\x00", "id\n"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, name string) {
		ok := isSafeName(name)
		if !ok {
			return
		}
		if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, "/\\ \t\n\x00") {
			t.Fatalf("accepted unsafe name %q", name)
		}
		if filepath.Base(name) != name {
			t.Fatalf("accepted name that is not a single path element: %q", name)
		}
	})
}

func FuzzIsSafeAbsPath(f *testing.F) {
	for _, seed := range []string{"", "/", "/tmp/work", "rel/dir", "/a/../b", "/a/./b", "/a//b", "/a/b/", "/a\x00b"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, p string) {
		if !isSafeAbsPath(p) || p == "" {
			return
		}
		if !filepath.IsAbs(p) {
			t.Fatalf("accepted relative path %q", p)
		}
		if clean := filepath.Clean(p); clean != p && clean != strings.TrimRight(p, string(filepath.Separator)) {
			t.Fatalf("accepted uncleaned path %q (clean %q)", p, clean)
		}
	})
}

func FuzzSanitizeBase(f *testing.F) {
	for _, seed := range []string{"", "/", "api", "/api/", "  /api/v1/  ", "//x//", "/a/../b"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, bp string) {
		got := sanitizeBase(bp)
		if got == "" {
			return
		}
		if !strings.HasPrefix(got, "/") || strings.HasSuffix(got, "/") {
			t.Fatalf("sanitizeBase(%q) = %q", bp, got)
		}
		if again := sanitizeBase(got); again != got {
			t.Fatalf("not idempotent: %q -> %q -> %q", bp, got, again)
		}
	})
}

// FuzzStatusQuery drives the status endpoint with arbitrary query values.
// Every reply must be JSON in the StatusResponse shape and never a 5xx.
func FuzzStatusQuery(f *testing.F) {
	f.Add("observer-1", "0", "")
	f.Add("../bad", "5", "x")
	f.Add("good", "301", "")
	f.Add("", "-1", "abc")
	f.Add("o", "1e3", "id with space")

	h := setupRouter(f, "")
	f.Fuzz(func(t *testing.T, observer, timeout, id string) {
		if len(observer) > 100 || len(timeout) > 20 || len(id) > 100 {
			t.Skip("inputs too long")
		}
		if n, err := strconv.Atoi(timeout); err == nil && n > 0 && n <= registry.MaxTimeoutSeconds {
			timeout = "0"
		}
		q := url.Values{}
		q.Set("observer", observer)
		q.Set("timeout", timeout)
		q.Set("session_id", id)
		rec := doReq(t, h, http.MethodGet, "/status?"+q.Encode(), nil)
		if rec.Code >= 500 {
			t.Fatalf("status %d for %q", rec.Code, q.Encode())
		}
		var resp registry.StatusResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("non-JSON reply %q: %v", rec.Body.String(), err)
		}
		if resp.Terminals == nil {
			t.Fatalf("terminals must be present: %s", rec.Body.String())
		}
		if rec.Code == http.StatusBadRequest && resp.Error == "" {
			t.Fatalf("400 without error text")
		}
	})
}
