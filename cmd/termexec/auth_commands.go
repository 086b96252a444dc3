package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/termexec"
)

func createAuthCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage API credentials",
	}

	hashCmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for auth.users.password_hash",
		Long: `Print a bcrypt hash for auth.users.password_hash. The password is read
from the first line of stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordArg(cmd, args)
			if err != nil {
				return err
			}
			hash, err := termexec.HashPassword(pw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange --user and --password for a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Login(cmd)
		},
	}

	cmd.AddCommand(hashCmd, loginCmd)
	return cmd
}

func passwordArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", errors.New("empty password")
	}
	return line, nil
}

func (c command) Login(cmd *cobra.Command) error {
	if c.flags.User == "" {
		return errors.New("--user is required")
	}
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	tok, err := api.Login(cmd.Context(), c.flags.User, c.flags.Password)
	if err != nil {
		return err
	}
	printJSON(cmd.OutOrStdout(), tok)
	return nil
}
