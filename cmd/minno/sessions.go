package main

import (
	"fmt"
	"time"

	"github.com/minno-ai/minno/internal/app"
	"github.com/minno-ai/minno/internal/config"
	"github.com/minno-ai/minno/internal/db"
	"github.com/minno-ai/minno/internal/retention"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session maintenance commands",
	}

	cmd.AddCommand(newSessionsPurgeCmd())
	return cmd
}

func newSessionsPurgeCmd() *cobra.Command {
	var (
		configPath    string
		archiveIdle   time.Duration
		purgeArchived time.Duration
		purgeEmpty    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Run the retention policy once",
		Long: `Archives idle sessions, deletes long-archived sessions and removes
sessions that never received a message. Durations default to the retention
section of the config; a zero duration skips that step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			policy := retention.Policy{
				ArchiveIdleAfter:   cfg.Retention.ArchiveIdleAfter,
				PurgeArchivedAfter: cfg.Retention.PurgeArchivedAfter,
				PurgeEmptyAfter:    cfg.Retention.PurgeEmptyAfter,
			}
			flags := cmd.Flags()
			if flags.Changed("archive-idle-after") {
				policy.ArchiveIdleAfter = archiveIdle
			}
			if flags.Changed("purge-archived-after") {
				policy.PurgeArchivedAfter = purgeArchived
			}
			if flags.Changed("purge-empty-after") {
				policy.PurgeEmptyAfter = purgeEmpty
			}
			return runSessionsPurge(cmd, cfg, policy)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().DurationVar(&archiveIdle, "archive-idle-after", 0, "archive active sessions idle this long")
	cmd.Flags().DurationVar(&purgeArchived, "purge-archived-after", 0, "delete archived sessions idle this long")
	cmd.Flags().DurationVar(&purgeEmpty, "purge-empty-after", 0, "delete sessions with no messages older than this")
	return cmd
}

func runSessionsPurge(cmd *cobra.Command, cfg *config.Config, policy retention.Policy) error {
	out := cmd.OutOrStdout()
	log := newLogger(cfg, cmd.ErrOrStderr())

	gdb, st, err := app.OpenStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	job := &retention.Job{Policy: policy, Store: st, Logger: log}
	res, err := job.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Archived %d session(s)\n", res.Archived)
	fmt.Fprintf(out, "Purged %d archived session(s)\n", res.Purged)
	fmt.Fprintf(out, "Removed %d empty session(s)\n", res.Emptied)
	return nil
}
