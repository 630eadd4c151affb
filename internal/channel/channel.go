// Package channel defines the conversational transport a negotiation session
// runs over, together with a deterministic local agent and a GitHub Copilot
// backed implementation.
package channel

import (
	"context"
	"errors"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/tools"
)

var (
	// ErrNotStarted is returned by Send before a successful Start.
	ErrNotStarted = errors.New("channel not started")
	// ErrStopped is returned by Send after Stop.
	ErrStopped = errors.New("channel stopped")
)

// SessionChannel is one side of a live conversation. Inbound messages are
// exposed as an append-only log; callers detect new messages by comparing the
// log length with what they have already consumed.
type SessionChannel interface {
	Start(ctx context.Context) error

	// Send delivers text to the other party. It must not block waiting for a
	// reply; replies surface through Messages.
	Send(ctx context.Context, text string) error

	// Messages returns a snapshot of every inbound message so far.
	Messages() []string

	// Stop ends the conversation. It is safe to call more than once.
	Stop() error

	// Wait blocks until in-flight work has drained or ctx is done, and
	// returns the first transport error the channel saw.
	Wait(ctx context.Context) error
}

// Role is the part a channel plays in a session.
type Role string

const (
	// RoleAgent is the negotiating agent acting for the user.
	RoleAgent Role = "agent"
	// RoleCounterpart is the provider's receptionist.
	RoleCounterpart Role = "counterpart"
)

// Spec describes the channel to open.
type Spec struct {
	Role     Role
	Provider models.Provider

	// Tools serves the agent's tool calls and records them. Only used for
	// RoleAgent.
	Tools *tools.Registry

	// Instructions frame the conversation for a live participant, for
	// example the receptionist persona. They are sent with the first message.
	Instructions string
}

// Factory opens channels.
type Factory interface {
	NewChannel(ctx context.Context, spec Spec) (SessionChannel, error)
}
