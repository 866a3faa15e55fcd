package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"drivebyfix/pkg/auth"
	"drivebyfix/pkg/pipeline"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the Google Drive sign-in",
	}
	cmd.AddCommand(authLoginCmd(), authLogoutCmd(), authStatusCmd())
	return cmd
}

func authenticatorFromConfig() (*auth.Authenticator, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	return newAuthenticator(cfg, setupLogger(verbose))
}

func authLoginCmd() *cobra.Command {
	var manual bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Google Drive and cache the token",
		Long: `Login prints a consent URL to open in a browser. By default a local listener
receives the redirect. With --manual, paste the authorization code shown by
Google instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			authn, err := authenticatorFromConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if manual {
				return manualLogin(cmd, authn, cmd.InOrStdin(), out)
			}

			tok, err := authn.Login(cmd.Context(), func(url string) error {
				fmt.Fprintln(out, "Open this URL in your browser to sign in:")
				fmt.Fprintln(out, "  "+url)
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Signed in. Token valid until %s.\n", tok.Expiry.Local().Format(time.RFC1123))
			return nil
		},
	}

	cmd.Flags().BoolVar(&manual, "manual", false, "paste the authorization code instead of using a local redirect")
	return cmd
}

func manualLogin(cmd *cobra.Command, authn *auth.Authenticator, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Open this URL in your browser to sign in:")
	fmt.Fprintln(out, "  "+authn.AuthCodeURL(uuid.NewString()))
	fmt.Fprint(out, "Authorization code: ")

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("no authorization code given")
	}

	tok, err := authn.Exchange(cmd.Context(), code)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Signed in. Token valid until %s.\n", tok.Expiry.Local().Format(time.RFC1123))
	return nil
}

func authLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the cached token",
		RunE: func(cmd *cobra.Command, args []string) error {
			authn, err := authenticatorFromConfig()
			if err != nil {
				return err
			}
			if err := authn.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func authStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a token is cached",
		RunE: func(cmd *cobra.Command, args []string) error {
			authn, err := authenticatorFromConfig()
			if err != nil {
				return err
			}
			status, err := authn.Status()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderAuthStatus(status, time.Now()))
			return nil
		},
	}
}

func renderAuthStatus(status auth.Status, now time.Time) string {
	var lines []string
	if !status.SignedIn {
		lines = append(lines, stateStyles[pipeline.StateFailed].Render("Not signed in"))
	} else {
		lines = append(lines, stateStyles[pipeline.StateRepaired].Render("Signed in"))
		switch {
		case status.Expiry.IsZero():
			lines = append(lines, "Access token: no expiry")
		case status.Expiry.Before(now):
			lines = append(lines, "Access token: expired "+status.Expiry.Local().Format(time.RFC1123))
		default:
			lines = append(lines, "Access token: valid until "+status.Expiry.Local().Format(time.RFC1123))
		}
		if status.Refreshable {
			lines = append(lines, "Refresh token: present")
		} else {
			lines = append(lines, "Refresh token: missing, sign in again when the access token expires")
		}
	}
	lines = append(lines, mutedStyle.Render("Token file: "+status.TokenFile))
	return createPanel("Google Drive", strings.Join(lines, "\n")) + "\n"
}
