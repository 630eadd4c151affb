package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callpilot",
		Short: "CallPilot - negotiate appointment slots with many providers at once",
		Long: `CallPilot negotiates appointment slots on your behalf.

It opens one negotiation session per provider, lets an agent talk to each
provider's receptionist in parallel, extracts the slot each conversation
ended on and ranks them into a shortlist.

Settings are read from .callpilot.yaml, searched from the working directory
upwards.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", ".", "Directory to start the .callpilot.yaml search from")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newProvidersCommand())
	cmd.AddCommand(newEventsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CallPilot version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("callpilot version %s\n", version)
		},
	}
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
