package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/termexec/internal/config"
)

func createConfigCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check configuration files",
	}

	var out string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeConfigTemplate(cmd.OutOrStdout(), out, force)
		},
	}
	initCmd.Flags().StringVarP(&out, "output", "o", "", "file to write (stdout when empty)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate [config.toml]",
		Short: "Load a configuration file and report problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return errors.New("config file required: pass it as argument or with --config")
			}
			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}
			if _, err := cfg.GlobalEnv(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			return err
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func writeConfigTemplate(stdout io.Writer, path string, force bool) (err error) {
	if path == "" {
		return config.WriteTemplate(stdout, config.Default())
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, f.Close()) }()
	return config.WriteTemplate(f, config.Default())
}
