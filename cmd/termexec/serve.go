package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/termexec"
)

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Listen       string
	ShutdownWait time.Duration
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the termexec daemon",
		Long: `Start the HTTP API. Configuration is read from the file given as argument
or --config, then overridden by TERMEXEC_* environment variables.

Examples:
  termexec serve
  termexec serve termexec.toml
  termexec serve --listen=0.0.0.0:9000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runServe(ctx, path, *f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "override server.listen")
	cmd.Flags().DurationVar(&f.ShutdownWait, "shutdown-wait", 10*time.Second, "how long to drain sessions on shutdown")
	return cmd
}

// runServe blocks until ctx is done, then kills every running session.
func runServe(ctx context.Context, path string, f ServeFlags) error {
	cfg, err := termexec.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	log := cfg.Log.NewSlogger()
	slog.SetDefault(log)

	if cfg.Metrics.Enabled {
		if err := termexec.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := termexec.ServeMetrics(ctx, cfg.Metrics.Listen); err != nil {
					log.Error("metrics server error", "error", err)
				}
			}()
		}
	}

	reg, err := termexec.NewFromConfig(cfg, log)
	if err != nil {
		return err
	}
	srv, err := termexec.NewHTTPServer(cfg, reg, log)
	if err != nil {
		_ = reg.Close(context.Background())
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- termexec.ListenAndServe(srv) }()
	protocol := "http"
	if srv.TLSConfig != nil {
		protocol = "https"
	}
	log.Info("termexec listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath, "protocol", protocol)

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), f.ShutdownWait)
	defer cancel()
	_ = srv.Shutdown(sctx)
	if err := reg.Close(sctx); err != nil {
		log.Warn("registry close incomplete", "error", err)
	}
	return serveErr
}
