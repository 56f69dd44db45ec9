package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/minno-ai/minno/internal/app"
	"github.com/minno-ai/minno/internal/db"
	"github.com/minno-ai/minno/internal/models"
	"github.com/minno-ai/minno/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBStatusCmd())
	cmd.AddCommand(newDBResetCmd())
	cmd.AddCommand(newDBSeedCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gdb, err := db.Open(cmd.Context(), cfg.DatabaseURL, db.Opts{})
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	applied, err := db.Migrate(cmd.Context(), gdb)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "Schema is up to date.")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(out, "Applied %s\n", name)
	}
	fmt.Fprintf(out, "\n%d migration(s) applied.\n", len(applied))
	return nil
}

func newDBStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which migrations have been applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBStatus(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBStatus(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gdb, err := db.Open(cmd.Context(), cfg.DatabaseURL, db.Opts{})
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	statuses, err := db.Status(cmd.Context(), gdb)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Database: %s\n\n", db.Dialect(gdb))
	pending := 0
	for _, s := range statuses {
		if s.Applied && s.AppliedAt != nil {
			fmt.Fprintf(out, "  [applied] %s  %s\n", s.Name, s.AppliedAt.UTC().Format(time.RFC3339))
			continue
		}
		if s.Applied {
			fmt.Fprintf(out, "  [applied] %s\n", s.Name)
			continue
		}
		pending++
		fmt.Fprintf(out, "  [pending] %s\n", s.Name)
	}
	fmt.Fprintf(out, "\n%d pending\n", pending)
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every Minno table and re-apply migrations",
		Long: `Drops all Minno tables, including the migration history, then migrates
from scratch. Refused in production. Without --yes the command asks for
confirmation and refuses to run when stdin is not a terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes || force)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	cmd.Flags().BoolVar(&force, "force", false, "skip confirmation prompt (alias for --yes)")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		return fmt.Errorf("db reset is not allowed in production")
	}

	if !skipConfirm {
		if !stdinIsTerminal(cmd) {
			return fmt.Errorf("refusing to reset without a terminal; pass --yes to confirm")
		}
		if !confirmReset(cmd, cfg.DatabaseURL) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	gdb, err := db.Open(cmd.Context(), cfg.DatabaseURL, db.Opts{})
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	if err := db.Reset(cmd.Context(), gdb); err != nil {
		return err
	}
	fmt.Fprintln(out, "Dropped all tables")

	applied, err := db.Migrate(cmd.Context(), gdb)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Applied %d migration(s)\n", len(applied))
	fmt.Fprintln(out, "\nDatabase reset successfully.")
	return nil
}

// stdinIsTerminal reports whether the prompt can be answered. Input
// replaced with cmd.SetIn (as in tests) counts as interactive.
func stdinIsTerminal(cmd *cobra.Command) bool {
	in := cmd.InOrStdin()
	f, ok := in.(*os.File)
	if !ok {
		return true
	}
	return term.IsTerminal(int(f.Fd()))
}

// confirmReset prompts the user and returns true only if they type "yes".
func confirmReset(cmd *cobra.Command, target string) bool {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "WARNING: This will permanently delete all sessions, tokens and history in %s.\n", redactURL(target))
	fmt.Fprint(out, "Type 'yes' to confirm: ")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}

// redactURL hides the password of a database URL for display.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return raw
	}
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return raw
	}
	return scheme + "://" + user + ":***@" + host
}

func newDBSeedCmd() *cobra.Command {
	var (
		configPath string
		teamID     string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a demo workspace and session for local development",
		Long:  "Creates a demo workspace with one active session and a short conversation. Safe to run repeatedly. Refused in production.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBSeed(cmd, configPath, teamID)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&teamID, "team", "T0DEMO", "Slack team id for the demo workspace")
	return cmd
}

// Demo thread used by db seed.
const (
	seedChannel  = "C0DEMO"
	seedThreadTS = "1700000000.000100"
)

func runDBSeed(cmd *cobra.Command, configPath, teamID string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		return fmt.Errorf("db seed is not allowed in production")
	}

	ctx := cmd.Context()
	gdb, st, err := app.OpenStore(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	if _, err := db.Migrate(ctx, gdb); err != nil {
		return err
	}
	sess, created, err := seed(ctx, st, teamID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Workspace %s ready\n", teamID)
	fmt.Fprintf(out, "Session %s (%s/%s)\n", sess.ID, seedChannel, seedThreadTS)
	fmt.Fprintf(out, "Added %d message(s)\n", created)
	return nil
}

func seed(ctx context.Context, st *store.Store, teamID string) (*models.MinnoSession, int, error) {
	ws, err := st.UpsertWorkspace(ctx, teamID, "Minno Demo", nil)
	if err != nil {
		return nil, 0, err
	}
	sess, err := st.UpsertSession(ctx, ws.ID, seedChannel, seedThreadTS, store.SessionFields{
		Context: map[string]any{"topic": "demo"},
	})
	if err != nil {
		return nil, 0, err
	}

	turns := []struct {
		role    models.MessageRole
		ts      string
		content string
	}{
		{models.RoleUser, seedThreadTS, "Can you track the launch checklist for Friday?"},
		{models.RoleAssistant, "1700000001.000200", "Sure. I started a checklist for the Friday launch."},
		{models.RoleUser, "1700000002.000300", "Add a reminder to update the changelog."},
	}
	created := 0
	for _, turn := range turns {
		ts := turn.ts
		_, err := st.AppendMessage(ctx, sess.ID, store.MessageInput{
			Role:           turn.role,
			Content:        turn.content,
			Metadata:       map[string]any{"seed": true},
			SlackMessageTS: &ts,
		})
		if errors.Is(err, store.ErrDuplicateMessage) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		created++
	}
	return sess, created, nil
}
