package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minno-ai/minno/internal/app"
	"github.com/minno-ai/minno/internal/db"
	"github.com/minno-ai/minno/internal/models"
	"github.com/minno-ai/minno/internal/store"
	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect dead-lettered Slack deliveries",
		Long:  "Deliveries that were acknowledged but failed processing are kept as failed events. Replay them through POST /admin/failed-events/:id/replay on a running server.",
	}

	cmd.AddCommand(newEventsFailedCmd())
	cmd.AddCommand(newEventsResolveCmd())
	return cmd
}

func newEventsFailedCmd() *cobra.Command {
	var (
		configPath string
		all        bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List failed events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsFailed(cmd, configPath, all, limit)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include resolved events")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events to show")
	return cmd
}

func runEventsFailed(cmd *cobra.Command, configPath string, all bool, limit int) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gdb, st, err := app.OpenStore(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	list, err := st.ListFailedEvents(cmd.Context(), store.FailedEventFilter{IncludeResolved: all, Limit: limit})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No failed events.")
		return nil
	}
	printFailedEvents(out, list)
	return nil
}

func printFailedEvents(out io.Writer, list []models.FailedEvent) {
	fmt.Fprintf(out, "%-36s  %-11s  %-12s  %-16s  %-8s  %s\n", "ID", "KIND", "TEAM", "CREATED", "ATTEMPTS", "ERROR")
	for _, fe := range list {
		id := fe.ID
		if fe.ResolvedAt != nil {
			id += " *"
		}
		fmt.Fprintf(out, "%-36s  %-11s  %-12s  %-16s  %-8d  %s\n",
			id, fe.Kind, fe.TeamID, fe.CreatedAt.UTC().Format("2006-01-02 15:04"), fe.Attempts, truncate(fe.Error, 60))
	}
	fmt.Fprintf(out, "\n%d event(s)", len(list))
	if resolved := countResolved(list); resolved > 0 {
		fmt.Fprintf(out, ", %d resolved (*)", resolved)
	}
	fmt.Fprintln(out)
}

func countResolved(list []models.FailedEvent) int {
	n := 0
	for _, fe := range list {
		if fe.ResolvedAt != nil {
			n++
		}
	}
	return n
}

// truncate shortens s to max runes on a single line.
func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func newEventsResolveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a failed event as resolved without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsResolve(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runEventsResolve(cmd *cobra.Command, configPath, id string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gdb, st, err := app.OpenStore(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	fe, err := st.GetFailedEvent(cmd.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed event %s not found", id)
	}
	if err != nil {
		return err
	}
	if fe.ResolvedAt != nil {
		fmt.Fprintf(out, "Failed event %s was already resolved at %s\n", id, fe.ResolvedAt.UTC().Format(time.RFC3339))
		return nil
	}
	if err := st.ResolveFailedEvent(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Resolved failed event %s\n", id)
	return nil
}
