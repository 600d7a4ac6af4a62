package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func loginCommand(a *app) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			if strings.TrimSpace(username) == "" {
				fmt.Fprint(a.errOut, "Username: ")
				line, err := readLine(in)
				if err != nil {
					return fmt.Errorf("read username: %w", err)
				}
				username = line
			}
			password, err := readPassword(cmd, in, a.errOut)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if err := a.session.Login(cmd.Context(), username, password); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "logged in as %s (profile %s)\n", strings.TrimSpace(username), a.cfg.Profile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	return cmd
}

func logoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "logged out")
			return nil
		},
	}
}

func statusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a stored session can be resumed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.session.Restore()
			if err != nil {
				return err
			}
			if a.json {
				return a.printJSON(map[string]any{
					"authenticated": ok,
					"profile":       a.cfg.Profile,
					"apiBaseURL":    a.cfg.APIBaseURL,
				})
			}
			if !ok {
				fmt.Fprintf(a.out, "not logged in (profile %s)\n", a.cfg.Profile)
				return nil
			}
			fmt.Fprintf(a.out, "logged in (profile %s, %s)\n", a.cfg.Profile, a.cfg.APIBaseURL)
			return nil
		},
	}
}

// readPassword masks input on a terminal and reads a plain line otherwise.
func readPassword(cmd *cobra.Command, in *bufio.Reader, prompt io.Writer) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return readRawLine(in)
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := readRawLine(in)
	return strings.TrimSpace(line), err
}

// readRawLine strips only the line terminator; passwords may carry spaces.
func readRawLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}
