package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/termexec"
	"github.com/loykin/termexec/pkg/client"
)

// command carries the global flags into subcommand handlers.
type command struct {
	flags *GlobalFlags
}

// exitError carries a child's exit code out of run.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("command exited with code %d", e.code) }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func (c command) apiClient() (*client.Client, error) {
	cfg := client.Config{
		BaseURL:  c.flags.APIUrl,
		Timeout:  c.flags.APITimeout,
		Insecure: c.flags.Insecure,
		Token:    c.flags.Token,
		Username: c.flags.User,
		Password: c.flags.Password,
	}
	if c.flags.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: c.flags.CACert}
	}
	return client.New(cfg)
}

func (c command) loadConfig() (*termexec.Config, error) {
	cfg, err := termexec.LoadConfig(c.flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func (c command) Run(cmd *cobra.Command, f SessionFlags, remote bool) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var res termexec.ExecResult
	if remote {
		api, err := c.apiClient()
		if err != nil {
			return err
		}
		r, err := api.Exec(ctx, f.request())
		if err != nil {
			return err
		}
		res = termexec.ExecResult{
			Status:        r.Status,
			SessionStatus: termexec.Status(r.SessionStatus),
			Stdout:        r.Stdout,
			Stderr:        r.Stderr,
			ExitCode:      r.ExitCode,
			Error:         r.Error,
			SessionID:     r.SessionID,
		}
	} else {
		cfg, err := c.loadConfig()
		if err != nil {
			return err
		}
		cfg.History.Enabled = false
		reg, err := termexec.NewFromConfig(cfg, cfg.Log.NewSlogger())
		if err != nil {
			return err
		}
		defer func() {
			cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer ccancel()
			_ = reg.Close(cctx)
		}()
		res, err = reg.Exec(ctx, termexec.StartRequest(f.request()))
		if err != nil && res.SessionID == "" {
			return err
		}
	}

	printJSON(cmd.OutOrStdout(), res)
	switch {
	case res.Status == "Success":
		return nil
	case res.ExitCode != nil && *res.ExitCode > 0:
		return &exitError{code: *res.ExitCode}
	default:
		return &exitError{code: 1}
	}
}

func (f SessionFlags) request() client.StartRequest {
	return client.StartRequest{Command: f.Command, Timeout: f.Timeout, WorkDir: f.WorkDir, Env: f.Env}
}

func (c command) Start(cmd *cobra.Command, f SessionFlags) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	id, err := api.Start(cmd.Context(), f.request())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
	return err
}

func (c command) Status(cmd *cobra.Command, id string, wait *int, observer string) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	resp, err := api.Status(cmd.Context(), client.StatusRequest{SessionID: id, Timeout: wait, Observer: observer})
	if resp.Error != "" || err == nil {
		printJSON(cmd.OutOrStdout(), resp)
	}
	return err
}

func (c command) Cancel(cmd *cobra.Command, id string) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	res, err := api.Cancel(cmd.Context(), id)
	if err != nil {
		return err
	}
	printJSON(cmd.OutOrStdout(), res)
	if !res.Found {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

func (c command) Remove(cmd *cobra.Command, id string) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	return api.Remove(cmd.Context(), id)
}

func printJSON(w io.Writer, v any) {
	if w == nil {
		w = os.Stdout
	}
	_ = writeJSON(w, v)
}
