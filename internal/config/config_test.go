package config

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:8080" || cfg.Server.BasePath != "/api" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Registry.Retention != 10*time.Minute || cfg.Registry.OutputLimitBytes != 1<<20 {
		t.Fatalf("unexpected registry defaults: %+v", cfg.Registry)
	}
	if !cfg.Registry.UseOSEnv {
		t.Fatalf("use_os_env should default to true")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "termexec.toml", `
[server]
listen = ":9090"
base_path = "/v1"

[registry]
retention = "2m"
sweep_interval = "5s"
output_limit_bytes = 4096
shell = ["/bin/bash", "-c"]
env = ["A=1", "B=${A}-x"]
env_files = ["extra.env"]
use_os_env = false

[log.slog]
level = "debug"
format = "json"

[log.file]
dir = "logs"

[history]
enabled = true
dsn = ["sqlite://history.db"]
`)
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":9090" || cfg.Server.BasePath != "/v1" {
		t.Fatalf("server: %+v", cfg.Server)
	}
	if cfg.Registry.Retention != 2*time.Minute || cfg.Registry.SweepInterval != 5*time.Second {
		t.Fatalf("durations: %+v", cfg.Registry)
	}
	if cfg.Registry.OutputLimitBytes != 4096 {
		t.Fatalf("output limit: %d", cfg.Registry.OutputLimitBytes)
	}
	if !slices.Equal(cfg.Registry.Shell, []string{"/bin/bash", "-c"}) {
		t.Fatalf("shell: %v", cfg.Registry.Shell)
	}
	if cfg.Registry.EnvFiles[0] != filepath.Join(dir, "extra.env") {
		t.Fatalf("env file not resolved against config dir: %v", cfg.Registry.EnvFiles)
	}
	if cfg.Log.File.Dir != filepath.Join(dir, "logs") {
		t.Fatalf("log dir: %s", cfg.Log.File.Dir)
	}
	if cfg.Log.Slog.Level != "debug" || cfg.Log.Slog.Format != "json" {
		t.Fatalf("slog: %+v", cfg.Log.Slog)
	}
	if !cfg.History.Enabled || len(cfg.History.DSN) != 1 {
		t.Fatalf("history: %+v", cfg.History)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.toml", "[server]\nlisten = \":9090\"\n")
	t.Setenv("TERMEXEC_SERVER_LISTEN", ":7070")
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":7070" {
		t.Fatalf("expected env override, got %s", cfg.Server.Listen)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "bad.toml", "[server\nlisten=")
	if _, err := LoadConfig(p); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty listen", func(c *Config) { c.Server.Listen = " " }, "server.listen"},
		{"bad env", func(c *Config) { c.Registry.Env = []string{"NOEQUALS"} }, "registry.env"},
		{"bad format", func(c *Config) { c.Log.Slog.Format = "xml" }, "log.slog.format"},
		{"history without dsn", func(c *Config) { c.History.Enabled = true }, "history.dsn"},
		{"auth without accounts", func(c *Config) { c.Auth.Enabled = true }, "auth.users"},
		{"negative sweep", func(c *Config) { c.Registry.SweepInterval = -time.Second }, "sweep_interval"},
		{"tls half pair", func(c *Config) {
			c.Server.TLS = &TLSConfig{Enabled: true, CertFile: "c.pem"}
		}, "key_file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "a.env", "# comment\n\nFOO = bar\nEMPTY=\nURL=http://x?a=b\n")
	got, err := LoadEnvFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"FOO=bar", "EMPTY=", "URL=http://x?a=b"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	bad := writeFile(t, t.TempDir(), "bad.env", "JUSTKEY\n")
	if _, err := LoadEnvFile(bad); err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected line error, got %v", err)
	}
}

func TestGlobalEnvPriority(t *testing.T) {
	dir := t.TempDir()
	f1 := writeFile(t, dir, "1.env", "A=file1\nB=file1\n")
	f2 := writeFile(t, dir, "2.env", "B=file2\n")
	cfg := Default()
	cfg.Registry.UseOSEnv = false
	cfg.Registry.EnvFiles = []string{f1, f2}
	cfg.Registry.Env = []string{"C=${B}-inline"}

	e, err := cfg.GlobalEnv()
	if err != nil {
		t.Fatalf("global env: %v", err)
	}
	got := e.Merge([]string{"A=cmd"})
	want := []string{"A=cmd", "B=file2", "C=file2-inline"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestGlobalEnvMissingFile(t *testing.T) {
	cfg := Default()
	cfg.Registry.EnvFiles = []string{filepath.Join(t.TempDir(), "missing.env")}
	if _, err := cfg.GlobalEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriteTemplateRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Registry.Retention = 90 * time.Second
	if err := WriteTemplate(&buf, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "[registry]") {
		t.Fatalf("template missing registry section:\n%s", buf.String())
	}
	p := writeFile(t, t.TempDir(), "gen.toml", buf.String())
	got, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("reload: %v\n%s", err, buf.String())
	}
	if got.Registry.Retention != 90*time.Second || got.Server.Listen != cfg.Server.Listen {
		t.Fatalf("round trip mismatch: %+v", got.Registry)
	}
}

func TestLoadAuthSection(t *testing.T) {
	p := writeFile(t, t.TempDir(), "auth.toml", `
[auth]
enabled = true
jwt_secret = "s"
token_ttl = "1h"

[[auth.users]]
username = "alice"
password_hash = "$2a$10$abcdefghijklmnopqrstuv"
roles = ["viewer"]

[[auth.clients]]
client_id = "ci"
client_secret = "token"
scopes = ["operator"]
`)
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Auth.Enabled || cfg.Auth.TokenTTL != time.Hour {
		t.Fatalf("auth: %+v", cfg.Auth)
	}
	if len(cfg.Auth.Users) != 1 || cfg.Auth.Users[0].Roles[0] != "viewer" {
		t.Fatalf("users: %+v", cfg.Auth.Users)
	}
	if len(cfg.Auth.Clients) != 1 || cfg.Auth.Clients[0].ClientID != "ci" {
		t.Fatalf("clients: %+v", cfg.Auth.Clients)
	}
}
