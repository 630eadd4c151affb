package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/callpilot/callpilot/internal/tools"
	copilot "github.com/github/copilot-sdk/go"
	"github.com/go-viper/mapstructure/v2"
)

const sessionFailedUnknown = "session failed with unknown error"

// CopilotFactory opens channels backed by GitHub Copilot SDK sessions. All
// channels share one client, which is started on first use.
type CopilotFactory struct {
	model  string
	client sdkClient
	logger *slog.Logger

	startOnce sync.Once
	startErr  error
}

type CopilotFactoryOptions struct {
	NewCopilotClient func(clientOptions *copilot.ClientOptions) sdkClient
	Logger           *slog.Logger
}

// NewCopilotFactory creates a factory. model may be blank, in which case the
// Copilot CLI picks its own default.
func NewCopilotFactory(model string, options *CopilotFactoryOptions) *CopilotFactory {
	clientOptions := &copilot.ClientOptions{
		LogLevel:  "error",
		AutoStart: copilot.Bool(false),
	}

	f := &CopilotFactory{model: model, logger: slog.Default()}

	if options != nil && options.Logger != nil {
		f.logger = options.Logger
	}

	if options == nil || options.NewCopilotClient == nil {
		f.client = newSDKClient(clientOptions)
	} else {
		f.client = options.NewCopilotClient(clientOptions)
	}

	return f
}

func (f *CopilotFactory) NewChannel(_ context.Context, spec Spec) (SessionChannel, error) {
	return &CopilotChannel{
		factory: f,
		spec:    spec,
		logger:  f.logger.With("provider", spec.Provider.ID, "role", spec.Role),
	}, nil
}

// Close stops the shared client.
func (f *CopilotFactory) Close() error {
	return f.client.Stop()
}

func (f *CopilotFactory) start(ctx context.Context) error {
	f.startOnce.Do(func() {
		// the client's own autostart misbehaves when sessions are created from
		// several goroutines at once
		f.startErr = f.client.Start(ctx)
	})
	return f.startErr
}

// CopilotChannel is a SessionChannel over one Copilot session. Each Send is
// delivered on its own goroutine; the assistant's messages are appended to the
// inbound log as the session emits them.
type CopilotChannel struct {
	factory *CopilotFactory
	spec    Spec
	logger  *slog.Logger

	mu          sync.Mutex
	session     sdkSession
	unsubscribe []func()
	messages    []string
	primed      bool
	stopped     bool
	err         error

	sendCtx    context.Context
	cancelSend context.CancelFunc
	inflight   sync.WaitGroup
}

func (c *CopilotChannel) Start(ctx context.Context) error {
	if err := c.factory.start(ctx); err != nil {
		return fmt.Errorf("copilot failed to start: %w", err)
	}

	session, err := c.factory.client.CreateSession(ctx, &copilot.SessionConfig{
		Model:               c.factory.model,
		OnPermissionRequest: allowAllTools,
		Tools:               copilotTools(c.spec.Tools),
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = session
	c.unsubscribe = append(c.unsubscribe, session.On(c.onEvent), session.On(c.logEvent))
	c.sendCtx, c.cancelSend = context.WithCancel(context.WithoutCancel(ctx))

	c.logger.Debug("Copilot session started", "session", session.SessionID())
	return nil
}

func (c *CopilotChannel) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.session == nil:
		return ErrNotStarted
	case c.stopped:
		return ErrStopped
	case c.err != nil:
		return c.err
	}

	prompt := text
	if !c.primed && c.spec.Instructions != "" {
		prompt = c.spec.Instructions + "\n\n" + text
	}
	c.primed = true

	session, ctx := c.session, c.sendCtx

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		_, err := session.SendAndWait(ctx, copilot.MessageOptions{Prompt: prompt})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.fail(err)
		}
	}()

	return nil
}

func (c *CopilotChannel) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func (c *CopilotChannel) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	if c.cancelSend != nil {
		c.cancelSend()
	}
	unsubscribers := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	// handlers take c.mu, so unsubscribe without holding it
	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}

	return nil
}

func (c *CopilotChannel) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// onEvent is passed to [copilot.Session.On].
func (c *CopilotChannel) onEvent(event copilot.SessionEvent) {
	switch event.Type {
	case copilot.AssistantMessage:
		if event.Data.Content == nil {
			return
		}
		content := strings.TrimSpace(*event.Data.Content)

		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.stopped {
			c.messages = append(c.messages, content)
		}

	case copilot.SessionError:
		msg := sessionFailedUnknown
		if event.Data.Message != nil && *event.Data.Message != "" {
			msg = *event.Data.Message
		}
		c.fail(errors.New(msg))
	}
}

func (c *CopilotChannel) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
		c.logger.Warn("Copilot session error", "error", err)
	}
}

// logEvent mirrors session events into the debug log.
func (c *CopilotChannel) logEvent(event copilot.SessionEvent) {
	if !c.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := []any{"type", event.Type}
	attrs = addIf(attrs, "content", event.Data.Content)
	attrs = addIf(attrs, "toolName", event.Data.ToolName)
	attrs = addIf(attrs, "toolCallID", event.Data.ToolCallID)
	attrs = addIf(attrs, "message", event.Data.Message)

	c.logger.Debug("Event received", attrs...)
}

func addIf[T any](attrs []any, name string, v *T) []any {
	if v != nil {
		attrs = append(attrs, name, *v)
	}
	return attrs
}

// copilotTools exposes a tool registry to the session. Every call goes
// through the registry, so it lands in the session's tool log.
func copilotTools(registry *tools.Registry) []copilot.Tool {
	if registry == nil {
		return nil
	}

	var out []copilot.Tool
	for _, def := range registry.Definitions() {
		name := string(def.Name)
		out = append(out, copilot.Tool{
			Name:        name,
			Description: def.Description,
			Parameters:  def.Parameters,
			Handler: func(invocation copilot.ToolInvocation) (copilot.ToolResult, error) {
				params := map[string]any{}
				if err := mapstructure.Decode(invocation.Arguments, &params); err != nil {
					params = map[string]any{}
				}

				result := registry.Invoke(context.Background(), name, params)

				text, err := json.Marshal(result)
				if err != nil {
					return copilot.ToolResult{}, err
				}
				return copilot.ToolResult{TextResultForLLM: string(text), ResultType: "success"}, nil
			},
		})
	}
	return out
}

func allowAllTools(request copilot.PermissionRequest, invocation copilot.PermissionInvocation) (copilot.PermissionRequestResult, error) {
	return copilot.PermissionRequestResult{Kind: "approved"}, nil
}
