package main

import (
	"fmt"
	"strings"

	"github.com/callpilot/callpilot/internal/catalog"
	"github.com/spf13/cobra"
)

func newProvidersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect the provider catalog",
	}

	cmd.AddCommand(newProvidersListCommand())
	cmd.AddCommand(newProvidersValidateCommand())

	return cmd
}

// catalogPath returns the catalog named on the command line, or the
// configured one.
func catalogPath(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return cfg.ResolvePath(cfg.Paths.Providers), nil
}

func newProvidersListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [catalog-file]",
		Short: "List the providers in the catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := catalogPath(cmd, args)
			if err != nil {
				return err
			}
			c, err := catalog.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if c.Len() == 0 {
				fmt.Fprintln(out, "No providers found.")
				return nil
			}

			fmt.Fprintf(out, "%s %s %-6s %-8s %-12s %s\n",
				padRight("ID", 12), padRight("Name", nameWidth), "Rating", "Km", "Style", "Hours")
			fmt.Fprintln(out, strings.Repeat("─", 86))
			for _, p := range c.Providers() {
				prof := p.AvailabilityProfile
				hours := fmt.Sprintf("%s-%s", prof.WeekdayOpen, prof.WeekdayClose)
				if prof.WeekendEnabled {
					hours += " +weekend"
				}
				printer.Fprintf(out, "%s %s %-6.1f %-8.1f %-12s %s\n",
					padRight(truncateName(p.ID, 12), 12), padRight(truncateName(p.Name, nameWidth), nameWidth),
					p.Rating, p.DistanceKM, p.ReceptionistStyle.Normalize(), hours)
			}
			printer.Fprintf(out, "\n%d providers\n", c.Len())
			return nil
		},
	}
}

func newProvidersValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [catalog-file]",
		Short: "Check every catalog entry and report the ones that would be skipped",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := catalogPath(cmd, args)
			if err != nil {
				return err
			}
			c, err := catalog.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			skipped := c.Skipped()
			for _, s := range skipped {
				id := s.ID
				if id == "" {
					id = "(no id)"
				}
				fmt.Fprintf(out, "✗ entry %d %s: %s\n", s.Index, id, s.Reason)
			}

			if len(skipped) > 0 {
				return &NoResultError{Message: fmt.Sprintf("%s: %d valid, %d invalid entries", path, c.Len(), len(skipped))}
			}
			fmt.Fprintf(out, "✓ %s: %d valid entries\n", path, c.Len())
			return nil
		},
	}
}
