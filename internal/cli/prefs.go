package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/audio-check/internal/auth"
	"github.com/example/audio-check/internal/session"
)

func newPrefsCommand(a *app) *cobra.Command {
	prefs := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change saved preferences",
	}
	prefs.AddCommand(&cobra.Command{
		Use:   "theme [light|dark|system]",
		Short: "Show or set the theme used for exported images",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				theme, err := a.store.ResolveTheme(systemPrefersDark())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), theme)
				return nil
			}
			theme, err := session.ParseTheme(args[0])
			if err != nil {
				return err
			}
			return a.store.SetTheme(theme)
		},
	})
	return prefs
}

func newLoginCommand(a *app) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save a session token sent with uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return errors.New("--token is required")
			}
			if err := a.store.SignIn(token); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed in")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "session token")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.SignOut(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newTokenCommand(a *app) *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a token accepted by the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.IssueToken(a.cfg.Server.JWTSecret, user, a.cfg.Server.JWTAudience, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "subject the token is issued for")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
