package channel

import (
	"context"
	"testing"
	"time"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalAgent_BooksFirstValidOption(t *testing.T) {
	registry := testRegistry()
	agent := NewLocalAgent(testProvider, registry, 0)
	ctx := context.Background()

	require.ErrorIs(t, agent.Send(ctx, "hi"), ErrNotStarted)
	require.NoError(t, agent.Start(ctx))

	require.NoError(t, agent.Send(ctx, "You are calling Bright Smiles."))
	require.Len(t, agent.Messages(), 1)
	assert.Contains(t, agent.Messages()[0], "What times do you have available?")

	offer := simulation.Reply(testProvider, "", simulation.ReplyOptions{
		From: time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, agent.Send(ctx, offer))
	msgs := agent.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "2026-10-20 at 09:00 works for me, please book it. Thank you, goodbye!", msgs[1])

	require.NoError(t, agent.Send(ctx, offer))
	msgs = agent.Messages()
	require.Len(t, msgs, 3)
	assert.Empty(t, msgs[2], "agent hangs up with a blank message")

	entries := registry.Log().Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "provider_lookup", entries[0].ToolName)
	assert.Equal(t, "validate_slot", entries[1].ToolName)
	assert.Equal(t, "confirm_slot", entries[2].ToolName)
	assert.Equal(t, true, entries[2].Result["ok"])

	require.NoError(t, agent.Stop())
	require.ErrorIs(t, agent.Send(ctx, "x"), ErrStopped)
	require.NoError(t, agent.Wait(ctx))
}

func TestLocalAgent_SkipsInvalidOptions(t *testing.T) {
	registry := testRegistry()
	agent := NewLocalAgent(testProvider, registry, 0)
	ctx := context.Background()
	require.NoError(t, agent.Start(ctx))

	require.NoError(t, agent.Send(ctx, "opening"))
	// Saturday is closed, Tuesday 09:30 is open.
	require.NoError(t, agent.Send(ctx, "We have Saturday 2026-10-24 at 10:00 or Tuesday 2026-10-20 at 09:30."))

	msgs := agent.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "2026-10-20 at 09:30")

	var names []string
	for _, e := range registry.Log().Entries() {
		names = append(names, e.ToolName)
	}
	assert.Equal(t, []string{"provider_lookup", "validate_slot", "validate_slot", "confirm_slot"}, names)
}

func TestLocalAgent_NoAvailabilityApologises(t *testing.T) {
	agent := NewLocalAgent(testProvider, testRegistry(), 0)
	ctx := context.Background()
	require.NoError(t, agent.Start(ctx))

	require.NoError(t, agent.Send(ctx, "opening"))
	require.NoError(t, agent.Send(ctx, "No availability in the requested period."))

	msgs := agent.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "sorry")
}

func TestLocalAgent_AsksAgainThenGivesUp(t *testing.T) {
	agent := NewLocalAgent(testProvider, testRegistry(), 0)
	ctx := context.Background()
	require.NoError(t, agent.Start(ctx))

	require.NoError(t, agent.Send(ctx, "opening"))
	require.NoError(t, agent.Send(ctx, "Please hold."))
	require.NoError(t, agent.Send(ctx, "Still holding."))

	msgs := agent.Messages()
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[1], "Could you tell me")
	assert.Contains(t, msgs[2], "sorry")
}

func TestLocalAgent_DelayedDelivery(t *testing.T) {
	agent := NewLocalAgent(testProvider, testRegistry(), 20*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, agent.Start(ctx))

	require.NoError(t, agent.Send(ctx, "opening"))
	assert.Empty(t, agent.Messages())

	require.NoError(t, agent.Wait(ctx))
	assert.Len(t, agent.Messages(), 1)
}

func TestLocalFactory_AgentOnly(t *testing.T) {
	f := LocalFactory{}

	ch, err := f.NewChannel(context.Background(), Spec{Role: RoleAgent, Provider: testProvider})
	require.NoError(t, err)
	require.IsType(t, &LocalAgent{}, ch)

	_, err = f.NewChannel(context.Background(), Spec{Role: RoleCounterpart, Provider: models.Provider{ID: "x"}})
	require.Error(t, err)
}
