package main

import (
	"fmt"
	"path/filepath"

	"github.com/callpilot/callpilot/internal/eventlog"
	"github.com/spf13/cobra"
)

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "View swarm event logs",
		Long: `View swarm event logs.

Event logs are NDJSON files written during runs when paths.session_log or
--session-log is set. They record the swarm start, each session's start and
completion, errors, and the swarm completion.`,
	}

	cmd.AddCommand(newEventsListCommand())
	cmd.AddCommand(newEventsViewCommand())

	return cmd
}

func newEventsListCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded event logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return err
			}

			files, err := eventlog.ListLogs(absDir)
			if err != nil {
				return fmt.Errorf("listing event logs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No event logs found.")
				return nil
			}

			fmt.Fprintf(out, "%-40s %-8s %s\n", "File", "Events", "Modified")
			fmt.Fprintln(out, "─────────────────────────────────────────────────────────────────")
			for _, f := range files {
				fmt.Fprintf(out, "%-40s %-8d %s\n", f.Name, f.NumEvents, f.ModTime.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to search for event logs")

	return cmd
}

func newEventsViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view <event-log>",
		Short: "View a swarm timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := eventlog.ReadEvents(args[0])
			if err != nil {
				return fmt.Errorf("reading event log: %w", err)
			}

			eventlog.RenderTimeline(cmd.OutOrStdout(), events)
			return nil
		},
	}
}
