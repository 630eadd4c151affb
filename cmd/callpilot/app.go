package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/callpilot/callpilot/internal/catalog"
	"github.com/callpilot/callpilot/internal/channel"
	"github.com/callpilot/callpilot/internal/eventlog"
	"github.com/callpilot/callpilot/internal/negotiation"
	"github.com/callpilot/callpilot/internal/projectconfig"
	"github.com/callpilot/callpilot/internal/swarm"
	"github.com/callpilot/callpilot/internal/transcript"
	"github.com/spf13/cobra"
)

// app is the wired orchestration stack shared by run and serve.
type app struct {
	cfg     *projectconfig.ProjectConfig
	catalog *catalog.Catalog
	coord   *swarm.Coordinator
	events  eventlog.Logger
	logger  *slog.Logger

	closers []func() error
}

// loadConfig loads .callpilot.yaml starting at the --config-dir flag and
// validates it.
func loadConfig(cmd *cobra.Command) (*projectconfig.ProjectConfig, error) {
	dir := "."
	if f := cmd.Flag("config-dir"); f != nil && f.Value.String() != "" {
		dir = f.Value.String()
	}

	cfg, err := projectconfig.Load(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", projectconfig.FileName, err)
	}
	return cfg, nil
}

// newApp loads the provider catalog and wires the coordinator the config
// describes. Close must be called when done.
func newApp(cfg *projectconfig.ProjectConfig, logger *slog.Logger) (_ *app, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &app{cfg: cfg, logger: logger, events: eventlog.NopLogger{}}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	providers := cfg.ResolvePath(cfg.Paths.Providers)
	a.catalog, err = catalog.Load(providers)
	if err != nil {
		return nil, err
	}
	if a.catalog.Len() == 0 {
		logger.Warn("Provider catalog has no usable entries", "path", providers)
	}

	opts := []swarm.Option{
		swarm.WithLogger(logger),
		swarm.WithWorkers(cfg.Swarm.Workers),
		swarm.WithRunner(negotiation.NewRunner(negotiationConfig(cfg), negotiation.WithLogger(logger))),
	}

	var agents channel.Factory
	switch cfg.Engine.Type {
	case projectconfig.EngineCopilot:
		f := channel.NewCopilotFactory(cfg.Engine.Model, &channel.CopilotFactoryOptions{Logger: logger})
		a.closers = append(a.closers, f.Close)
		agents = f
		if cfg.Engine.Counterpart == projectconfig.CounterpartCopilot {
			opts = append(opts, swarm.WithCounterparts(f))
		}
	default:
		agents = channel.LocalFactory{}
	}

	sink, err := transcriptSink(cfg)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		opts = append(opts, swarm.WithTranscriptSink(sink))
	}

	if path := cfg.Paths.SessionLog; path != "" {
		isDir := strings.HasSuffix(path, "/")
		path = cfg.ResolvePath(path)
		if fi, statErr := os.Stat(path); (statErr == nil && fi.IsDir()) || isDir {
			path = eventlog.DefaultLogPath(path)
		}
		l, err := eventlog.NewJSONLogger(path)
		if err != nil {
			return nil, err
		}
		a.events = l
		a.closers = append(a.closers, l.Close)
		opts = append(opts, swarm.WithEventLog(l))
		logger.Info("Writing session event log", "path", l.Path())
	}

	a.coord = swarm.New(a.catalog, agents, opts...)
	return a, nil
}

// Close releases the engine and the event log.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func negotiationConfig(cfg *projectconfig.ProjectConfig) negotiation.Config {
	n := cfg.Negotiation
	return negotiation.Config{
		MaxTurns:        n.MaxTurns,
		TurnTimeout:     n.TurnTimeout(),
		PollInterval:    n.PollInterval(),
		WarmUp:          n.WarmUp(),
		Grace:           n.Grace(),
		DrainTimeout:    negotiation.DefaultDrainTimeout,
		DaysAhead:       n.DaysAhead,
		DurationMinutes: n.DurationMinutes,
		MaxOptions:      n.MaxOptions,
		Now:             time.Now,
	}
}

// transcriptSink returns nil when transcript storage is disabled.
func transcriptSink(cfg *projectconfig.ProjectConfig) (transcript.Sink, error) {
	st := cfg.Storage
	if st.Enabled != nil && !*st.Enabled {
		return nil, nil
	}
	compress := st.Compress != nil && *st.Compress

	if blob := st.AzureBlob; blob.AccountURL != "" {
		return transcript.NewBlobSink(blob.AccountURL, blob.Container, &transcript.BlobSinkOptions{
			Prefix:   blob.Prefix,
			Compress: compress,
		})
	}

	if cfg.Paths.Transcripts == "" {
		return nil, nil
	}
	return transcript.FileSink{Dir: cfg.ResolvePath(cfg.Paths.Transcripts), Compress: compress}, nil
}

// absPath makes a command-line path absolute so it is not resolved against
// the config file directory. A trailing separator is kept.
func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	if strings.HasSuffix(p, "/") {
		abs += "/"
	}
	return abs
}
