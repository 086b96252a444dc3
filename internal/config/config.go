// Package config loads the termexec TOML configuration with viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/termexec/internal/auth"
	"github.com/loykin/termexec/internal/env"
	"github.com/loykin/termexec/internal/logger"
)

// EnvPrefix is the prefix of environment variables overriding file values,
// e.g. TERMEXEC_SERVER_LISTEN.
const EnvPrefix = "TERMEXEC"

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen,omitempty" mapstructure:"auto_gen"`
}

type ServerConfig struct {
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           *TLSConfig `toml:"tls,omitempty" mapstructure:"tls"`
}

type RegistryConfig struct {
	Retention        time.Duration `mapstructure:"retention"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	OutputLimitBytes int           `mapstructure:"output_limit_bytes"`
	WaitDelay        time.Duration `mapstructure:"wait_delay"`
	Shell            []string      `mapstructure:"shell"`
	Env              []string      `mapstructure:"env"`
	EnvFiles         []string      `mapstructure:"env_files"`
	UseOSEnv         bool          `mapstructure:"use_os_env"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"` // empty serves /metrics on the API listener
}

type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	DSN     []string `toml:"dsn" mapstructure:"dsn"`
}

// Config is the whole configuration file.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Registry RegistryConfig `mapstructure:"registry"`
	Log      logger.Config  `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	History  HistoryConfig  `mapstructure:"history"`
	Auth     auth.Config    `mapstructure:"auth"`

	// Path is the file the configuration was read from, if any.
	Path string `mapstructure:"-"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{Listen: "127.0.0.1:8080", BasePath: "/api"},
		Registry: RegistryConfig{
			Retention:        10 * time.Minute,
			SweepInterval:    30 * time.Second,
			OutputLimitBytes: 1 << 20,
			WaitDelay:        2 * time.Second,
			UseOSEnv:         true,
		},
		Log: logger.Config{
			Slog: logger.SlogConfig{Level: "info", Format: "text", TimeStamps: true},
			File: logger.FileConfig{
				MaxSizeMB:  logger.DefaultMaxSizeMB,
				MaxBackups: logger.DefaultMaxBackups,
				MaxAgeDays: logger.DefaultMaxAgeDays,
			},
		},
		Auth: auth.Config{TokenTTL: 24 * time.Hour},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.tls_min_version", "")
	v.SetDefault("server.tls_max_version", "")
	v.SetDefault("registry.retention", d.Registry.Retention)
	v.SetDefault("registry.sweep_interval", d.Registry.SweepInterval)
	v.SetDefault("registry.output_limit_bytes", d.Registry.OutputLimitBytes)
	v.SetDefault("registry.wait_delay", d.Registry.WaitDelay)
	v.SetDefault("registry.shell", []string{})
	v.SetDefault("registry.env", []string{})
	v.SetDefault("registry.env_files", []string{})
	v.SetDefault("registry.use_os_env", d.Registry.UseOSEnv)
	v.SetDefault("log.slog.level", d.Log.Slog.Level)
	v.SetDefault("log.slog.format", d.Log.Slog.Format)
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", d.Log.Slog.TimeStamps)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", []string{})
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
}

// LoadConfig reads path (TOML) over the defaults and applies TERMEXEC_*
// environment overrides. An empty path uses defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = path
	if path != "" {
		cfg.resolvePaths(filepath.Dir(path))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths makes file references relative to the config file's directory.
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i, p := range c.Registry.EnvFiles {
		c.Registry.EnvFiles[i] = abs(p)
	}
	c.Log.File.Dir = abs(c.Log.File.Dir)
	if c.Server.TLS != nil {
		c.Server.TLS.Dir = abs(c.Server.TLS.Dir)
		c.Server.TLS.CertFile = abs(c.Server.TLS.CertFile)
		c.Server.TLS.KeyFile = abs(c.Server.TLS.KeyFile)
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Registry.SweepInterval < 0 {
		errs = append(errs, errors.New("registry.sweep_interval must not be negative"))
	}
	if c.Registry.WaitDelay < 0 {
		errs = append(errs, errors.New("registry.wait_delay must not be negative"))
	}
	if err := env.Validate(c.Registry.Env); err != nil {
		errs = append(errs, fmt.Errorf("registry.env: %w", err))
	}
	switch strings.ToLower(c.Log.Slog.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.slog.format %q must be text or json", c.Log.Slog.Format))
	}
	if c.History.Enabled && len(c.History.DSN) == 0 {
		errs = append(errs, errors.New("history.enabled requires at least one history.dsn"))
	}
	if c.Auth.Enabled && len(c.Auth.Users) == 0 && len(c.Auth.Clients) == 0 {
		errs = append(errs, errors.New("auth.enabled requires at least one auth.users or auth.clients entry"))
	}
	if t := c.Server.TLS; t != nil && t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			errs = append(errs, errors.New("server.tls.cert_file and key_file must be set together"))
		}
		if t.CertFile == "" && t.Dir == "" {
			errs = append(errs, errors.New("server.tls requires cert_file/key_file or dir"))
		}
	}
	return errors.Join(errs...)
}

// GlobalEnv composes the environment base for commands: the OS environment
// when use_os_env is set, then env_files in order, then registry.env.
func (c *Config) GlobalEnv() (*env.Env, error) {
	e := env.New(c.Registry.UseOSEnv)
	for _, p := range c.Registry.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		e = e.WithPairs(pairs)
	}
	return e.WithPairs(c.Registry.Env), nil
}

// LoadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no
// quotes). Blank lines and lines starting with # are ignored. Entries are
// returned in file order.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for n, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := env.Split(line)
		if !ok {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", n+1)
		}
		out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
	}
	return out, nil
}
