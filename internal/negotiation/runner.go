// Package negotiation runs the turn-taking loop of one session between the
// user's agent and a provider's counterpart.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/callpilot/callpilot/internal/channel"
	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/simulation"
	"github.com/callpilot/callpilot/internal/tools"
)

// ErrChannelStart is returned when the agent channel cannot be started. The
// session is skipped.
var ErrChannelStart = errors.New("session channel failed to start")

var errTurnTimeout = errors.New("turn timed out")

// Session is the input of one run.
type Session struct {
	Provider models.Provider
	Message  string

	Agent channel.SessionChannel

	// Counterpart, when set, is a live receptionist channel. If it fails to
	// start the session falls back to the simulated counterpart.
	Counterpart channel.SessionChannel

	// Tools is the registry serving the agent; its log becomes the session's
	// tool invocation log.
	Tools *tools.Registry
}

// Result is what a session produced. Transcripts of timed out and failed
// sessions are kept as far as they got.
type Result struct {
	ProviderID       string                  `json:"provider_id"`
	State            models.SessionState     `json:"state"`
	DualChannel      bool                    `json:"dual_channel"`
	Turns            int                     `json:"turns"`
	ToolInvocations  []models.ToolInvocation `json:"tool_invocations"`
	LastAgentMessage string                  `json:"last_agent_message"`
	Transcript       []models.TranscriptTurn `json:"transcript"`
	Error            string                  `json:"error,omitempty"`
}

// Runner runs sessions. It holds no per-session state and is safe for
// concurrent use.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

type RunnerOption func(*Runner)

func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

func NewRunner(cfg Config, opts ...RunnerOption) *Runner {
	r := &Runner{cfg: cfg.withDefaults(), logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// counterpart produces the reply to an agent message.
type counterpart interface {
	respond(ctx context.Context, agentText string) (string, error)
}

type simulatedCounterpart struct {
	provider models.Provider
	opts     simulation.ReplyOptions
}

func (s simulatedCounterpart) respond(_ context.Context, agentText string) (string, error) {
	return simulation.Reply(s.provider, agentText, s.opts), nil
}

type liveCounterpart struct {
	runner *Runner
	ch     channel.SessionChannel
	seen   int
}

func (l *liveCounterpart) respond(ctx context.Context, agentText string) (string, error) {
	if err := l.ch.Send(ctx, agentText); err != nil {
		return "", fmt.Errorf("sending to counterpart: %w", err)
	}

	msg, ok, err := l.runner.await(ctx, l.ch, &l.seen)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errTurnTimeout
	}
	return msg, nil
}

// session is the mutable state of one Run.
type session struct {
	Session
	res       *Result
	logger    *slog.Logger
	agentSeen int
}

func (s *session) transition(to models.SessionState, reason string) {
	s.logger.Debug("Session state change", "from", s.res.State, "to", to, "reason", reason)
	s.res.State = to
}

func (s *session) fail(err error) {
	s.res.Error = err.Error()
	s.transition(models.SessionFailed, err.Error())
}

func (s *session) appendTurn(role models.Role, text string) {
	s.res.Transcript = append(s.res.Transcript, models.TranscriptTurn{Role: role, Text: text})
}

// Run executes one session. It returns an error only when the agent channel
// cannot start; every other problem ends the session as TimedOut or Failed
// with its partial transcript. All channels are stopped and drained before
// Run returns, whatever the exit path.
func (r *Runner) Run(ctx context.Context, in Session) (*Result, error) {
	s := &session{
		Session: in,
		res: &Result{
			ProviderID: in.Provider.ID,
			State:      models.SessionNotStarted,
			Transcript: []models.TranscriptTurn{},
		},
		logger: r.logger.With("provider", in.Provider.ID),
	}

	if err := in.Agent.Start(ctx); err != nil {
		s.fail(err)
		if in.Counterpart != nil {
			r.teardown(in.Agent, in.Counterpart)
		} else {
			r.teardown(in.Agent)
		}
		s.res.ToolInvocations = s.toolLog()
		return s.res, fmt.Errorf("%w: provider %s: %w", ErrChannelStart, in.Provider.ID, err)
	}
	s.transition(models.SessionActive, "agent channel started")

	channels := []channel.SessionChannel{in.Agent}
	reply := r.counterpartFor(ctx, s, &channels)

	func() {
		defer r.teardown(channels...)
		r.exchange(ctx, s, reply)
	}()

	s.res.ToolInvocations = s.toolLog()
	s.logger.Info("Session finished", "state", s.res.State, "turns", s.res.Turns, "tool_calls", len(s.res.ToolInvocations))
	return s.res, nil
}

func (r *Runner) counterpartFor(ctx context.Context, s *session, channels *[]channel.SessionChannel) counterpart {
	simulated := simulatedCounterpart{
		provider: s.Provider,
		opts: simulation.ReplyOptions{
			From:            r.cfg.Now(),
			DaysAhead:       r.cfg.DaysAhead,
			DurationMinutes: r.cfg.DurationMinutes,
			MaxOptions:      r.cfg.MaxOptions,
		},
	}

	if s.Counterpart == nil {
		return simulated
	}

	if err := s.Counterpart.Start(ctx); err != nil {
		s.logger.Warn("Counterpart channel failed to start, using simulated counterpart", "error", err)
		r.teardown(s.Counterpart)
		return simulated
	}

	*channels = append(*channels, s.Counterpart)
	s.res.DualChannel = true
	return &liveCounterpart{runner: r, ch: s.Counterpart}
}

func (r *Runner) exchange(ctx context.Context, s *session, reply counterpart) {
	if !sleep(ctx, r.cfg.WarmUp) {
		s.fail(ctx.Err())
		return
	}

	opening := fmt.Sprintf("%s You are calling %s (provider %s).",
		strings.TrimSpace(s.Message), s.Provider.Name, s.Provider.ID)

	if err := s.Agent.Send(ctx, opening); err != nil {
		s.fail(fmt.Errorf("sending opening message: %w", err))
		return
	}
	s.appendTurn(models.RoleCounterpart, opening)

	for s.res.State == models.SessionActive && s.res.Turns < r.cfg.MaxTurns {
		r.turn(ctx, s, reply)
	}

	if s.res.State == models.SessionActive {
		s.transition(models.SessionCompleted, "max turns reached")
	}

	if s.res.State == models.SessionFailed {
		return
	}

	if sleep(ctx, r.cfg.Grace) {
		r.captureTrailing(s)
	}
}

// turn waits for one agent message and answers it.
func (r *Runner) turn(ctx context.Context, s *session, reply counterpart) {
	msg, ok, err := r.await(ctx, s.Agent, &s.agentSeen)
	switch {
	case err != nil:
		s.fail(err)
		return
	case !ok:
		s.transition(models.SessionTimedOut, "no agent message before turn timeout")
		return
	}

	s.res.Turns++

	if isBlank(msg) {
		s.transition(models.SessionCompleted, "agent ended the conversation")
		return
	}
	s.appendTurn(models.RoleAgent, msg)
	s.res.LastAgentMessage = msg

	answer, err := reply.respond(ctx, msg)
	switch {
	case errors.Is(err, errTurnTimeout):
		s.transition(models.SessionTimedOut, "no counterpart message before turn timeout")
		return
	case err != nil:
		s.fail(err)
		return
	}

	if isBlank(answer) {
		s.transition(models.SessionCompleted, "counterpart ended the conversation")
		return
	}
	s.appendTurn(models.RoleCounterpart, answer)

	if err := s.Agent.Send(ctx, answer); err != nil {
		s.fail(fmt.Errorf("sending to agent: %w", err))
	}
}

// captureTrailing records an agent message that arrived after the last turn.
// It always becomes LastAgentMessage, even when it is not added to the
// transcript.
func (r *Runner) captureTrailing(s *session) {
	msgs := s.Agent.Messages()
	if len(msgs) <= s.agentSeen {
		return
	}

	msg := joinMessages(msgs[s.agentSeen:])
	s.agentSeen = len(msgs)
	if isBlank(msg) {
		return
	}
	s.res.LastAgentMessage = msg

	// Two agent turns in a row would break the alternation of the transcript.
	if n := len(s.res.Transcript); n > 0 && s.res.Transcript[n-1].Role == models.RoleAgent {
		return
	}
	s.appendTurn(models.RoleAgent, msg)
}

// await polls ch until it has messages beyond *seen. New messages are joined
// into one. ok is false when the turn timeout passes first.
func (r *Runner) await(ctx context.Context, ch channel.SessionChannel, seen *int) (string, bool, error) {
	deadline := time.NewTimer(r.cfg.TurnTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	check := func() (string, bool) {
		msgs := ch.Messages()
		if len(msgs) <= *seen {
			return "", false
		}
		msg := joinMessages(msgs[*seen:])
		*seen = len(msgs)
		return msg, true
	}

	for {
		if msg, ok := check(); ok {
			return msg, true, nil
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-deadline.C:
			msg, ok := check()
			return msg, ok, nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) teardown(channels ...channel.SessionChannel) {
	for _, ch := range channels {
		if err := ch.Stop(); err != nil {
			r.logger.Warn("Stopping session channel", "error", err)
		}
	}

	for _, ch := range channels {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
		if err := ch.Wait(ctx); err != nil {
			r.logger.Warn("Draining session channel", "error", err)
		}
		cancel()
	}
}

func (s *session) toolLog() []models.ToolInvocation {
	if s.Tools == nil {
		return []models.ToolInvocation{}
	}
	return s.Tools.Log().Entries()
}

func joinMessages(msgs []string) string {
	var parts []string
	for _, m := range msgs {
		if m = strings.TrimSpace(m); m != "" {
			parts = append(parts, m)
		}
	}
	return strings.Join(parts, "\n")
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
