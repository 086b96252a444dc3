package config

import (
	"io"

	"github.com/BurntSushi/toml"

	"github.com/loykin/termexec/internal/auth"
	"github.com/loykin/termexec/internal/logger"
)

// fileRegistry mirrors RegistryConfig with durations spelled as strings,
// the form LoadConfig accepts.
type fileRegistry struct {
	Retention        string   `toml:"retention"`
	SweepInterval    string   `toml:"sweep_interval"`
	OutputLimitBytes int      `toml:"output_limit_bytes"`
	WaitDelay        string   `toml:"wait_delay"`
	Shell            []string `toml:"shell"`
	Env              []string `toml:"env"`
	EnvFiles         []string `toml:"env_files"`
	UseOSEnv         bool     `toml:"use_os_env"`
}

type fileAuth struct {
	Enabled   bool          `toml:"enabled"`
	JWTSecret string        `toml:"jwt_secret"`
	TokenTTL  string        `toml:"token_ttl"`
	Users     []auth.User   `toml:"users"`
	Clients   []auth.Client `toml:"clients"`
}

type fileConfig struct {
	Server   ServerConfig  `toml:"server"`
	Registry fileRegistry  `toml:"registry"`
	Log      logger.Config `toml:"log"`
	Metrics  MetricsConfig `toml:"metrics"`
	History  HistoryConfig `toml:"history"`
	Auth     fileAuth      `toml:"auth"`
}

// WriteTemplate encodes cfg as a TOML document that LoadConfig reads back.
func WriteTemplate(w io.Writer, cfg Config) error {
	fc := fileConfig{
		Server: cfg.Server,
		Registry: fileRegistry{
			Retention:        cfg.Registry.Retention.String(),
			SweepInterval:    cfg.Registry.SweepInterval.String(),
			OutputLimitBytes: cfg.Registry.OutputLimitBytes,
			WaitDelay:        cfg.Registry.WaitDelay.String(),
			Shell:            nonNil(cfg.Registry.Shell),
			Env:              nonNil(cfg.Registry.Env),
			EnvFiles:         nonNil(cfg.Registry.EnvFiles),
			UseOSEnv:         cfg.Registry.UseOSEnv,
		},
		Log:     cfg.Log,
		Metrics: cfg.Metrics,
		History: HistoryConfig{Enabled: cfg.History.Enabled, DSN: nonNil(cfg.History.DSN)},
		Auth: fileAuth{
			Enabled:   cfg.Auth.Enabled,
			JWTSecret: cfg.Auth.JWTSecret,
			TokenTTL:  cfg.Auth.TokenTTL.String(),
			Users:     cfg.Auth.Users,
			Clients:   cfg.Auth.Clients,
		},
	}
	if _, err := io.WriteString(w, "# termexec configuration\n\n"); err != nil {
		return err
	}
	return toml.NewEncoder(w).Encode(fc)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
