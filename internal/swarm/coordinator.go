// Package swarm runs negotiation sessions against one or many providers and
// ranks what they produced.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/callpilot/callpilot/internal/availability"
	"github.com/callpilot/callpilot/internal/channel"
	"github.com/callpilot/callpilot/internal/eventlog"
	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/negotiation"
	"github.com/callpilot/callpilot/internal/outcome"
	"github.com/callpilot/callpilot/internal/ranking"
	"github.com/callpilot/callpilot/internal/simulation"
	"github.com/callpilot/callpilot/internal/tools"
	"github.com/callpilot/callpilot/internal/transcript"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidRequest is returned when the user request is malformed.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrProviderNotFound is returned by RunSingle for an unknown provider.
	ErrProviderNotFound = errors.New("provider not found")
)

const (
	// DefaultMaxAgents is the swarm size when the caller does not choose one.
	DefaultMaxAgents = 15

	// fallbackScore is the score of the shortlist entry RunSingle synthesizes
	// when the session produced nothing rankable.
	fallbackScore = 0.5
)

// Catalog is the provider directory the coordinator draws from.
// *catalog.Catalog implements it.
type Catalog interface {
	Providers() []models.Provider
	Get(id string) (models.Provider, bool)
}

// SwarmResult is the aggregate of a swarm run. Outcomes keep provider order;
// sessions that could not run are missing from Outcomes and Sessions.
type SwarmResult struct {
	Outcomes  []models.NegotiationOutcome `json:"outcomes"`
	Shortlist []models.RankedSlot         `json:"shortlist"`
	ToolLog   []models.ToolInvocation     `json:"tool_log"`
	Sessions  []*negotiation.Result       `json:"sessions"`
	Skipped   []SkippedSession            `json:"skipped,omitempty"`
}

// SkippedSession names a provider whose session did not produce a result.
type SkippedSession struct {
	ProviderID string `json:"provider_id"`
	Error      string `json:"error"`
}

// SingleResult is the result of a single-provider run.
type SingleResult struct {
	Outcome    models.NegotiationOutcome `json:"outcome"`
	Shortlist  []models.RankedSlot       `json:"shortlist"`
	ToolLog    []models.ToolInvocation   `json:"tool_log"`
	Transcript []models.TranscriptTurn   `json:"transcript"`
	Session    *negotiation.Result       `json:"session,omitempty"`
}

// Coordinator fans sessions out over channels opened by its factories.
type Coordinator struct {
	catalog      Catalog
	agents       channel.Factory
	counterparts channel.Factory
	runner       *negotiation.Runner
	sink         transcript.Sink
	events       eventlog.Logger
	logger       *slog.Logger
	workers      int
	toolOpts     []tools.Option
}

type Option func(*Coordinator)

// WithCounterparts opens a live receptionist channel for every session. The
// simulated receptionist is used when this is not set, or when the channel
// cannot be opened.
func WithCounterparts(f channel.Factory) Option {
	return func(c *Coordinator) { c.counterparts = f }
}

func WithRunner(r *negotiation.Runner) Option {
	return func(c *Coordinator) { c.runner = r }
}

// WithTranscriptSink stores a transcript of every session. Storage failures
// are logged and do not affect the run.
func WithTranscriptSink(s transcript.Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

func WithEventLog(l eventlog.Logger) Option {
	return func(c *Coordinator) { c.events = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithWorkers caps how many sessions run at once. Zero or less runs every
// selected session at once.
func WithWorkers(n int) Option {
	return func(c *Coordinator) { c.workers = n }
}

// WithToolOptions configures each session's tool registry, for example to
// plug in a real calendar.
func WithToolOptions(opts ...tools.Option) Option {
	return func(c *Coordinator) { c.toolOpts = append(c.toolOpts, opts...) }
}

func New(catalog Catalog, agents channel.Factory, opts ...Option) *Coordinator {
	c := &Coordinator{
		catalog: catalog,
		agents:  agents,
		events:  eventlog.NopLogger{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runner == nil {
		c.runner = negotiation.NewRunner(negotiation.DefaultConfig(), negotiation.WithLogger(c.logger))
	}
	return c
}

type taskIDKey struct{}

// WithTaskID tags the sessions run with ctx with a task id, which is carried
// into transcripts and event logs.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

func taskIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}

// sessionRun is what one session contributes to the aggregate.
type sessionRun struct {
	result  *negotiation.Result
	outcome models.NegotiationOutcome
}

// RunSwarm negotiates with the first maxConcurrent catalog providers in
// parallel and ranks the outcomes. A session that fails to start, errors, or
// panics is logged and left out; only an invalid request fails the call.
func (c *Coordinator) RunSwarm(ctx context.Context, req models.UserRequest, maxConcurrent int) (*SwarmResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxAgents
	}

	providers := c.catalog.Providers()
	if len(providers) > maxConcurrent {
		providers = providers[:maxConcurrent]
	}

	taskID := taskIDFrom(ctx)
	started := time.Now()
	c.logEvent(eventlog.EventSwarmStart, eventlog.SwarmStartData(taskID, string(models.ModeSwarm), len(providers)))

	type indexed struct {
		index int
		run   *sessionRun
		err   error
	}

	results := make(chan indexed, len(providers))

	g := errgroup.Group{}
	if c.workers > 0 {
		g.SetLimit(c.workers)
	}

	for i, p := range providers {
		g.Go(func() error {
			c.logEvent(eventlog.EventSessionStart, eventlog.SessionStartData(p.ID, i+1, len(providers)))
			run, err := c.runSession(ctx, p, req.Message)
			results <- indexed{index: i, run: run, err: err}
			// Session errors are collected per provider; they never cancel
			// the siblings.
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	runs := make([]*sessionRun, len(providers))
	errs := make([]error, len(providers))
	for r := range results {
		runs[r.index] = r.run
		errs[r.index] = r.err
	}

	res := &SwarmResult{
		Outcomes:  []models.NegotiationOutcome{},
		Shortlist: []models.RankedSlot{},
		ToolLog:   []models.ToolInvocation{},
		Sessions:  []*negotiation.Result{},
	}

	for i, p := range providers {
		if errs[i] != nil {
			c.logger.Error("Session excluded from swarm", "provider", p.ID, "error", errs[i])
			c.logEvent(eventlog.EventError, eventlog.ErrorData(errs[i].Error(), map[string]any{"provider_id": p.ID}))
			res.Skipped = append(res.Skipped, SkippedSession{ProviderID: p.ID, Error: errs[i].Error()})
			continue
		}

		res.Outcomes = append(res.Outcomes, runs[i].outcome)
		res.Sessions = append(res.Sessions, runs[i].result)
		res.ToolLog = append(res.ToolLog, runs[i].result.ToolInvocations...)
	}

	res.Shortlist = ranking.Rank(res.Outcomes, c.catalog, req.Weights())

	c.logEvent(eventlog.EventSwarmComplete, eventlog.SwarmCompleteData(
		taskID, len(res.Sessions), len(res.Skipped), len(res.Shortlist), time.Since(started).Milliseconds()))
	c.logger.Info("Swarm finished",
		"providers", len(providers), "sessions", len(res.Sessions), "skipped", len(res.Skipped), "shortlisted", len(res.Shortlist))

	return res, nil
}

// RunSingle negotiates with one provider. When the session produced nothing
// rankable, the shortlist holds the provider's next generated slot instead,
// scored 0.5, so the user still gets a suggestion.
func (c *Coordinator) RunSingle(ctx context.Context, providerID string, req models.UserRequest) (*SingleResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	p, ok := c.catalog.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, providerID)
	}

	taskID := taskIDFrom(ctx)
	started := time.Now()
	c.logEvent(eventlog.EventSwarmStart, eventlog.SwarmStartData(taskID, string(models.ModeSingle), 1))
	c.logEvent(eventlog.EventSessionStart, eventlog.SessionStartData(p.ID, 1, 1))

	res := &SingleResult{
		Shortlist:  []models.RankedSlot{},
		ToolLog:    []models.ToolInvocation{},
		Transcript: []models.TranscriptTurn{},
	}

	run, err := c.runSession(ctx, p, req.Message)
	if err != nil {
		c.logger.Error("Single session failed", "provider", p.ID, "error", err)
		c.logEvent(eventlog.EventError, eventlog.ErrorData(err.Error(), map[string]any{"provider_id": p.ID}))
		res.Outcome = outcome.Extract(p.ID, nil, "", nil)
	} else {
		res.Outcome = run.outcome
		res.Session = run.result
		res.ToolLog = run.result.ToolInvocations
		res.Transcript = run.result.Transcript
	}

	res.Shortlist = ranking.Rank([]models.NegotiationOutcome{res.Outcome}, c.catalog, req.Weights())
	if len(res.Shortlist) == 0 {
		res.Shortlist = c.fallback(p)
	}

	sessions := 1
	if err != nil {
		sessions = 0
	}
	c.logEvent(eventlog.EventSwarmComplete, eventlog.SwarmCompleteData(
		taskID, sessions, 1-sessions, len(res.Shortlist), time.Since(started).Milliseconds()))

	return res, nil
}

func (c *Coordinator) fallback(p models.Provider) []models.RankedSlot {
	cfg := c.runner.Config()
	slot, ok := availability.Next(p, cfg.Now(), cfg.DaysAhead)
	if !ok {
		return []models.RankedSlot{}
	}
	return []models.RankedSlot{{
		ProviderID:   p.ID,
		ProviderName: p.Name,
		Slot:         slot,
		Score:        fallbackScore,
		Rank:         1,
	}}
}

// runSession runs one provider's session end to end. Panics are turned into
// errors so one broken session cannot take the swarm down.
func (c *Coordinator) runSession(ctx context.Context, p models.Provider, message string) (run *sessionRun, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("Session panic", "provider", p.ID, "stack", string(debug.Stack()))
			run, err = nil, fmt.Errorf("session for provider %s panicked: %v", p.ID, r)
		}
	}()

	cfg := c.runner.Config()
	logger := c.logger.With("provider", p.ID)

	toolOpts := append([]tools.Option{tools.WithClock(cfg.Now), tools.WithLogger(logger)}, c.toolOpts...)
	registry := tools.NewRegistry(c.catalog, toolOpts...)

	agent, err := c.agents.NewChannel(ctx, channel.Spec{
		Role:         channel.RoleAgent,
		Provider:     p,
		Tools:        registry,
		Instructions: AgentInstructions(p),
	})
	if err != nil {
		return nil, fmt.Errorf("opening agent channel for provider %s: %w", p.ID, err)
	}

	var counterpart channel.SessionChannel
	if c.counterparts != nil {
		cp, err := c.counterparts.NewChannel(ctx, channel.Spec{
			Role:         channel.RoleCounterpart,
			Provider:     p,
			Instructions: simulation.Persona(p),
		})
		if err != nil {
			logger.Warn("Counterpart channel unavailable, using simulated counterpart", "error", err)
		} else {
			counterpart = cp
		}
	}

	started := time.Now()
	res, err := c.runner.Run(ctx, negotiation.Session{
		Provider:    p,
		Message:     message,
		Agent:       agent,
		Counterpart: counterpart,
		Tools:       registry,
	})
	if err != nil {
		return nil, err
	}

	o := outcome.Extract(p.ID, res.ToolInvocations, res.LastAgentMessage, res.Transcript)

	slot := ""
	if o.ProposedSlot != nil {
		slot = models.FormatSlotTime(*o.ProposedSlot)
	}
	elapsed := time.Since(started)
	c.logEvent(eventlog.EventSessionComplete, eventlog.SessionCompleteData(
		p.ID, string(res.State), slot, o.Confidence, res.Turns, elapsed.Milliseconds()))

	c.storeTranscript(ctx, p, res, o, started, started.Add(elapsed))

	return &sessionRun{result: res, outcome: o}, nil
}

func (c *Coordinator) storeTranscript(ctx context.Context, p models.Provider, res *negotiation.Result, o models.NegotiationOutcome, started, completed time.Time) {
	if c.sink == nil {
		return
	}

	rec := transcript.Build(taskIDFrom(ctx), p, res, o, started, completed)
	loc, err := c.sink.Write(ctx, rec)
	if err != nil {
		c.logger.Warn("Failed to store transcript", "provider", p.ID, "error", err)
		return
	}
	c.logger.Debug("Transcript stored", "provider", p.ID, "location", loc)
}

func (c *Coordinator) logEvent(t eventlog.EventType, data map[string]any) {
	if err := c.events.Log(eventlog.NewEvent(t, data)); err != nil {
		c.logger.Warn("Failed to write event", "type", t, "error", err)
	}
}
