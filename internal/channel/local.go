package channel

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/tools"
)

// slotOption matches slots written like "Monday 2026-10-19 at 09:00".
var slotOption = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}) at (\d{2}:\d{2})`)

const (
	maxCandidateSlots = 3
	maxAskAttempts    = 2
)

type localPhase int

const (
	phaseGreeting localPhase = iota
	phaseNegotiating
	phaseDone
)

// LocalAgent is a rule-based booking agent that needs no network. It reads
// slot options out of the receptionist's replies, validates and confirms the
// first acceptable one through its tool registry, then ends the call by
// sending a blank message.
type LocalAgent struct {
	provider models.Provider
	tools    *tools.Registry
	delay    time.Duration

	mu       sync.Mutex
	started  bool
	stopped  bool
	phase    localPhase
	asked    int
	messages []string

	pending sync.WaitGroup
}

// NewLocalAgent returns an agent for p. When delay is positive, replies are
// appended asynchronously after delay, like a remote participant would.
func NewLocalAgent(p models.Provider, registry *tools.Registry, delay time.Duration) *LocalAgent {
	return &LocalAgent{provider: p, tools: registry, delay: delay}
}

func (a *LocalAgent) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrStopped
	}
	a.started = true
	return nil
}

func (a *LocalAgent) Send(ctx context.Context, text string) error {
	a.mu.Lock()
	switch {
	case !a.started:
		a.mu.Unlock()
		return ErrNotStarted
	case a.stopped:
		a.mu.Unlock()
		return ErrStopped
	}
	a.mu.Unlock()

	reply := a.respond(ctx, text)

	if a.delay <= 0 {
		a.deliver(reply)
		return nil
	}

	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		select {
		case <-time.After(a.delay):
			a.deliver(reply)
		case <-ctx.Done():
		}
	}()

	return nil
}

func (a *LocalAgent) deliver(reply string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.stopped {
		a.messages = append(a.messages, reply)
	}
}

func (a *LocalAgent) Messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

func (a *LocalAgent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	return nil
}

func (a *LocalAgent) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// respond decides the next utterance. Tool calls happen here, so they are
// logged in conversation order.
func (a *LocalAgent) respond(ctx context.Context, incoming string) string {
	a.mu.Lock()
	phase := a.phase
	a.mu.Unlock()

	switch phase {
	case phaseGreeting:
		a.setPhase(phaseNegotiating)
		a.invoke(ctx, tools.ProviderLookup, map[string]any{"provider_id": a.provider.ID})
		return fmt.Sprintf("Hello, I'm calling to book an appointment at %s. What times do you have available?", a.provider.Name)

	case phaseNegotiating:
		return a.negotiate(ctx, incoming)

	default:
		return ""
	}
}

func (a *LocalAgent) negotiate(ctx context.Context, incoming string) string {
	options := slotOption.FindAllStringSubmatch(incoming, -1)

	if len(options) == 0 {
		a.mu.Lock()
		a.asked++
		asked := a.asked
		a.mu.Unlock()

		if asked >= maxAskAttempts || looksUnavailable(incoming) {
			a.setPhase(phaseDone)
			return "I'm sorry, it sounds like nothing is available. Thank you for your time, goodbye."
		}
		return "Could you tell me which appointment times are available?"
	}

	if len(options) > maxCandidateSlots {
		options = options[:maxCandidateSlots]
	}

	a.setPhase(phaseDone)

	for _, opt := range options {
		slotISO := opt[1] + "T" + opt[2] + ":00"

		validated := a.invoke(ctx, tools.ValidateSlot, map[string]any{
			"provider_id": a.provider.ID,
			"slot_iso":    slotISO,
		})
		if valid, _ := validated["valid"].(bool); !valid {
			continue
		}

		confirmed := a.invoke(ctx, tools.ConfirmSlot, map[string]any{
			"provider_id": a.provider.ID,
			"slot_iso":    slotISO,
		})
		if ok, _ := confirmed["ok"].(bool); ok {
			return fmt.Sprintf("%s at %s works for me, please book it. Thank you, goodbye!", opt[1], opt[2])
		}
	}

	return "I'm sorry, none of those times work for me. Thank you anyway, goodbye."
}

func (a *LocalAgent) invoke(ctx context.Context, name tools.Name, params map[string]any) map[string]any {
	if a.tools == nil {
		return map[string]any{"ok": false, "error": "no tools available"}
	}
	return a.tools.Invoke(ctx, string(name), params)
}

func (a *LocalAgent) setPhase(p localPhase) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.phase = p
}

func looksUnavailable(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"no availability", "fully booked", "don't have any", "no appointments"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// LocalFactory opens LocalAgent channels. It only serves the agent role.
type LocalFactory struct {
	// Delay is passed to every agent; see NewLocalAgent.
	Delay time.Duration
}

func (f LocalFactory) NewChannel(_ context.Context, spec Spec) (SessionChannel, error) {
	if spec.Role != RoleAgent {
		return nil, fmt.Errorf("local channels only support the %s role, got %q", RoleAgent, spec.Role)
	}
	return NewLocalAgent(spec.Provider, spec.Tools, f.Delay), nil
}
