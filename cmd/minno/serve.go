package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/minno-ai/minno/internal/app"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath  string
		skipMigrate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, ingest workers and retention scheduler",
		Long: `Starts the Slack events endpoint, the OAuth callbacks and the admin API.

Pending schema migrations are applied before listening unless --skip-migrate
is set. The server refuses to start without a signing secret and a token
encryption key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, skipMigrate)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply pending migrations on startup")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, skipMigrate bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireServer(); err != nil {
		return err
	}

	log := newLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Opts{SkipMigrate: skipMigrate})
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer a.Close(context.Background())

	log.Info("minno: starting", "version", Version, "env", cfg.Env, "addr", cfg.Addr())
	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info("minno: stopped")
	return nil
}
