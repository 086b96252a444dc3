package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
	CACert     string
	Token      string
	User       string
	Password   string
}

// SessionFlags holds flags for commands that create sessions
type SessionFlags struct {
	Command string
	Timeout int
	WorkDir string
	Env     []string
}

// StatusFlags holds flags for the status command
type StatusFlags struct {
	SessionID string
	Wait      int
	Observer  string
}

func buildRoot() *cobra.Command {
	g := &GlobalFlags{}
	c := command{flags: g}

	root := createRootCommand(g)
	root.AddCommand(
		createServeCommand(g),
		createRunCommand(c),
		createStartCommand(c),
		createStatusCommand(c),
		createCancelCommand(c),
		createRemoveCommand(c),
		createConfigCommand(g),
		createAuthCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "termexec",
		Short: "Run shell commands as pollable, cancellable sessions",
		Long: `termexec runs shell commands in the background, lets callers poll their
status and output, and kills the whole process tree on cancel or timeout.

Examples:
  termexec serve --config=termexec.toml
  termexec run --command="make test" --timeout=120
  termexec start --command="sleep 30" --timeout=60
  termexec status --id=<session> --wait=30
  termexec cancel --id=<session>`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.StringVar(&flags.APIUrl, "api-url", "http://127.0.0.1:8080/api", "daemon URL for client commands")
	pf.DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout on top of any server-side wait")
	pf.BoolVar(&flags.Insecure, "insecure", false, "skip TLS verification")
	pf.StringVar(&flags.CACert, "ca-cert", "", "CA certificate to trust, e.g. the daemon's tls_ca.crt")
	pf.StringVar(&flags.Token, "token", os.Getenv("TERMEXEC_TOKEN"), "bearer token for a daemon with auth enabled")
	pf.StringVar(&flags.User, "user", "", "username for HTTP basic auth")
	pf.StringVar(&flags.Password, "password", os.Getenv("TERMEXEC_PASSWORD"), "password for HTTP basic auth")
	return root
}

func addSessionFlags(cmd *cobra.Command, f *SessionFlags) {
	cmd.Flags().StringVar(&f.Command, "command", "", "shell command to run (required)")
	cmd.Flags().IntVar(&f.Timeout, "timeout", 60, "execution timeout in seconds (max 300)")
	cmd.Flags().StringVar(&f.WorkDir, "work-dir", "", "absolute working directory")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "extra KEY=VALUE environment (repeatable)")
	if err := cmd.MarkFlagRequired("command"); err != nil {
		panic(err)
	}
}

func createRunCommand(c command) *cobra.Command {
	f := &SessionFlags{}
	var remote bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a command and wait for its result",
		Long: `Run a command to completion and print the result as JSON. The process
exits with the command's exit code, or 1 when it did not complete.

Without --remote the command runs in-process using the configured registry
settings; with --remote it runs on the daemon at --api-url.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd, *f, remote)
		},
	}
	addSessionFlags(cmd, f)
	cmd.Flags().BoolVar(&remote, "remote", false, "run on the daemon instead of in-process")
	return cmd
}

func createStartCommand(c command) *cobra.Command {
	f := &SessionFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a command on the daemon and print its session id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd, *f)
		},
	}
	addSessionFlags(cmd, f)
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Poll session status",
		Long: `Poll one session (--id) or every session. With --wait the call blocks up
to that many seconds (max 300) until a session changes status relative to
what this --observer saw on its previous poll.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var wait *int
			if cmd.Flags().Changed("wait") {
				wait = &f.Wait
			}
			return c.Status(cmd, f.SessionID, wait, f.Observer)
		},
	}
	cmd.Flags().StringVar(&f.SessionID, "id", "", "session id (all sessions when empty)")
	cmd.Flags().IntVar(&f.Wait, "wait", 0, "seconds to wait for a status change")
	cmd.Flags().StringVar(&f.Observer, "observer", "cli", "observer name for change tracking")
	return cmd
}

func createCancelCommand(c command) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Kill a session's process tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Cancel(cmd, id)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "session id (required)")
	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}
	return cmd
}

func createRemoveCommand(c command) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Forget a finished session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Remove(cmd, id)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "session id (required)")
	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}
	return cmd
}
