package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/spinner"
	"github.com/callpilot/callpilot/internal/tasks"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// shutdownGrace bounds how long an interrupted run waits for its sessions to
// tear down.
const shutdownGrace = 10 * time.Second

type runOptions struct {
	mode          string
	providerID    string
	maxAgents     int
	workers       int
	providersPath string
	sessionLog    string
	outputPath    string
	confirm       bool

	availabilityWeight float64
	ratingWeight       float64
	distanceWeight     float64
}

// promptSlot is a test hook for replacing the slot picker. It returns the
// index of the chosen shortlist entry, or false when nothing was chosen.
var promptSlot = defaultPromptSlot

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Negotiate a slot for a request and print the shortlist",
		Long: `Negotiate an appointment slot for a free-text request.

In swarm mode (the default) one session is opened per provider, up to
--max-agents, and all of them run in parallel. In single mode only one
provider is contacted: --provider, or the first one in the catalog.

The offered slots are ranked by availability, rating and distance. Use the
weight flags to change how much each criterion counts, and --confirm to pick
and book one of the shortlisted slots interactively.`,
		Example: `  callpilot run "I need a dental cleaning next week"
  callpilot run --mode single --provider dent-002 "Checkup, mornings preferred"
  callpilot run --distance-weight 1 --rating-weight 0 --availability-weight 0 "closest dentist"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", string(models.ModeSwarm), "Negotiation mode: swarm or single")
	cmd.Flags().StringVar(&opts.providerID, "provider", "", "Provider to contact in single mode (default: first catalog entry)")
	cmd.Flags().IntVar(&opts.maxAgents, "max-agents", 0, "Maximum providers contacted in swarm mode (default from config)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Maximum sessions running at once (default from config)")
	cmd.Flags().StringVar(&opts.providersPath, "providers", "", "Provider catalog file (overrides paths.providers)")
	cmd.Flags().StringVar(&opts.sessionLog, "session-log", "", "Write NDJSON session events to this file or directory")
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "Write the finished task as JSON to this file")
	cmd.Flags().BoolVar(&opts.confirm, "confirm", false, "Pick and book a shortlisted slot interactively")
	cmd.Flags().Float64Var(&opts.availabilityWeight, "availability-weight", 0, "Weight of slot earliness in ranking, 0-1")
	cmd.Flags().Float64Var(&opts.ratingWeight, "rating-weight", 0, "Weight of provider rating in ranking, 0-1")
	cmd.Flags().Float64Var(&opts.distanceWeight, "distance-weight", 0, "Weight of provider proximity in ranking, 0-1")

	return cmd
}

func runRequest(cmd *cobra.Command, opts *runOptions, message string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if opts.providersPath != "" {
		cfg.Paths.Providers = absPath(opts.providersPath)
	}
	if opts.sessionLog != "" {
		cfg.Paths.SessionLog = absPath(opts.sessionLog)
	}
	if opts.workers > 0 {
		cfg.Swarm.Workers = opts.workers
	}
	maxAgents := cfg.Swarm.MaxAgents
	if opts.maxAgents > 0 {
		maxAgents = opts.maxAgents
	}

	req := models.UserRequest{
		Message:    strings.TrimSpace(message),
		Mode:       models.Mode(opts.mode),
		ProviderID: opts.providerID,
	}
	if weights, ok := requestWeights(cmd, opts, cfg.Weights()); ok {
		req.Preferences = &weights
	}

	a, err := newApp(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	names := make(map[string]string, a.catalog.Len())
	for _, p := range a.catalog.Providers() {
		names[p.ID] = p.Name
	}

	svc := tasks.NewService(tasks.NewMemoryStore(), a.coord, a.catalog, tasks.WithMaxAgents(maxAgents))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state, err := svc.Create(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Negotiating for %q (task %s)...\n\n", req.Message, state.TaskID)

	stopSpinner := func() {}
	if f, ok := cmd.ErrOrStderr().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		stopSpinner = spinner.Start(f, spinner.Elapsed("Negotiating...", time.Now()))
	}
	err = waitForTask(ctx, svc)
	stopSpinner()
	if err != nil {
		return err
	}

	final, err := svc.Get(context.Background(), state.TaskID)
	if err != nil {
		return err
	}
	if final.Status != models.TaskCompleted {
		return fmt.Errorf("task %s %s: %s", final.TaskID, final.Status, final.Error)
	}

	printTaskSummary(out, final, names)

	if opts.outputPath != "" {
		if err := saveTask(final, opts.outputPath); err != nil {
			return fmt.Errorf("failed to save output: %w", err)
		}
		fmt.Fprintf(out, "\nResults saved to: %s\n", opts.outputPath)
	}

	if len(final.Shortlist) == 0 {
		return &NoResultError{Message: "no provider offered a bookable slot"}
	}

	if !opts.confirm {
		return nil
	}

	idx, ok := promptSlot(cmd.InOrStdin(), out, final.Shortlist)
	if !ok {
		fmt.Fprintln(out, "\nNo slot booked.")
		return nil
	}
	chosen := final.Shortlist[idx]

	booking, err := svc.Confirm(ctx, tasks.ConfirmRequest{
		TaskID:     final.TaskID,
		ProviderID: chosen.ProviderID,
		Slot:       chosen.Slot,
	})
	if err != nil {
		return fmt.Errorf("booking %s: %w", slotLabel(chosen), err)
	}

	printBooking(out, booking, names)
	return nil
}

// waitForTask blocks until the service is idle. On interrupt the running
// task is cancelled and given shutdownGrace to wind down.
func waitForTask(ctx context.Context, svc *tasks.Service) error {
	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	slog.Info("Interrupted, cancelling sessions")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("sessions did not stop in time: %w", err)
	}
	return nil
}

// requestWeights returns the preferences for the request: the weight flags
// that were set, on top of the configured defaults. ok is false when neither
// flags nor config say anything, so the built-in defaults apply.
func requestWeights(cmd *cobra.Command, opts *runOptions, base models.PreferenceWeights) (models.PreferenceWeights, bool) {
	flags := cmd.Flags()
	changed := false

	if flags.Changed("availability-weight") {
		base.AvailabilityWeight = opts.availabilityWeight
		changed = true
	}
	if flags.Changed("rating-weight") {
		base.RatingWeight = opts.ratingWeight
		changed = true
	}
	if flags.Changed("distance-weight") {
		base.DistanceWeight = opts.distanceWeight
		changed = true
	}

	return base, changed || base != models.DefaultPreferenceWeights()
}

func saveTask(t *models.TaskState, path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func defaultPromptSlot(in io.Reader, out io.Writer, shortlist []models.RankedSlot) (int, bool) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(out, "\n--confirm needs an interactive terminal.")
		return 0, false
	}

	options := make([]huh.Option[int], 0, len(shortlist)+1)
	for i, r := range shortlist {
		options = append(options, huh.NewOption(slotLabel(r), i))
	}
	options = append(options, huh.NewOption("Don't book anything", -1))

	choice := -1
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Which slot should be booked?").
				Options(options...).
				Value(&choice),
		),
	).WithInput(in).WithOutput(out).Run()

	if err != nil || choice < 0 {
		return 0, false
	}
	return choice, true
}
