// Package logger builds the application slog.Logger and the rotating
// per-session output files.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// SlogConfig controls the application logger.
type SlogConfig struct {
	Level      string `mapstructure:"level" toml:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" toml:"format"` // text or json
	Color      bool   `mapstructure:"color" toml:"color"`
	TimeStamps bool   `mapstructure:"timestamps" toml:"timestamps"`
	Source     bool   `mapstructure:"source" toml:"source"`
}

// FileConfig describes log file destinations.
// If StdoutPath/StderrPath are empty, and Dir is set, session output goes to
// Dir/<id>.stdout.log and Dir/<id>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `mapstructure:"dir" toml:"dir"`                 // base directory for logs
	StdoutPath string `mapstructure:"stdout_path" toml:"stdout_path"` // explicit stdout path overrides Dir
	StderrPath string `mapstructure:"stderr_path" toml:"stderr_path"` // explicit stderr path overrides Dir
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"` // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"` // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress"` // Gzip rotated files
}

// Config is the [log] section of the configuration file.
type Config struct {
	Slog SlogConfig `mapstructure:"slog" toml:"slog"`
	File FileConfig `mapstructure:"file" toml:"file"`
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogger builds the application logger writing to stderr, and also to
// Dir/termexec.log when a log directory is configured.
func (c Config) NewSlogger() *slog.Logger {
	var w io.Writer = os.Stderr
	if c.File.Dir != "" {
		_ = os.MkdirAll(c.File.Dir, 0o750)
		w = io.MultiWriter(os.Stderr, c.File.rotating(filepath.Join(c.File.Dir, "termexec.log")))
	}
	return c.newSlogger(w)
}

func (c Config) newSlogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(c.Slog.Level),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		}
	}
	var h slog.Handler
	switch {
	case strings.EqualFold(c.Slog.Format, "json"):
		h = slog.NewJSONHandler(w, opts)
	case c.Slog.Color:
		h = NewColorTextHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// SessionWriters returns io.WriteClosers for stdout and stderr of the given
// session. Either may be nil when no destination is configured.
func (c Config) SessionWriters(id string) (io.WriteCloser, io.WriteCloser, error) {
	return c.File.Writers(id)
}

// Writers returns rotating writers for name's stdout and stderr.
func (c FileConfig) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = c.rotating(stdout)
	}
	if stderr != "" {
		errW = c.rotating(stderr)
	}
	return outW, errW, nil
}

func (c FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
