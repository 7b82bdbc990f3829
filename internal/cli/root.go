// Package cli is the command line front end: one-shot submissions, local
// preferences and the HTTP server.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/audio-check/internal/config"
	"github.com/example/audio-check/internal/logging"
	"github.com/example/audio-check/internal/session"
)

// app holds what every command needs once flags are parsed.
type app struct {
	configPath string

	cfg    *config.Config
	logger *zap.Logger
	store  *session.Store
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFrom(a.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	store, err := session.Open(cfg.PreferencesPath)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.store = cfg, logger, store
	return nil
}

func (a *app) teardown(cmd *cobra.Command, args []string) error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return nil
}

// NewRootCommand builds the audiocheck command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:                "audiocheck",
		Short:              "Detect deepfaked audio with a remote classification service",
		Long:               "audiocheck uploads an audio file to the classification service, shows whether it sounds authentic and can export the result as an image.",
		Version:            "0.1.0",
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("AUDIOCHECK_CONFIG"), "YAML config file")

	root.AddCommand(
		newSubmitCommand(a),
		newPrefsCommand(a),
		newLoginCommand(a),
		newLogoutCommand(a),
		newTokenCommand(a),
		newServeCommand(a),
	)
	return root
}

// Execute runs the command tree until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		var printed *shownError
		if !errors.As(err, &printed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

// shownError marks an error whose user-facing message was already printed.
type shownError struct {
	err error
}

func (e *shownError) Error() string { return e.err.Error() }

func (e *shownError) Unwrap() error { return e.err }

func shown(err error) error {
	return &shownError{err: err}
}
