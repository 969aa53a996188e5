package daemon

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectra-assist/spectra/pkg/protocol"
)

func statusEnv(t *testing.T, agentID, status string) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypeStatusUpdate,
		protocol.StatusUpdatePayload{AgentID: agentID, Status: status})
	require.NoError(t, err)
	return env
}

func completeEnv(t *testing.T, agentID, result string) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypeComplete,
		protocol.CompletePayload{AgentID: agentID, Result: result})
	require.NoError(t, err)
	return env
}

func TestEventBufferPreservesCompleteOrder(t *testing.T) {
	b := &eventBuffer{}
	b.Add("a1", completeEnv(t, "a1", "first"))
	b.Add("a2", completeEnv(t, "a2", "second"))
	b.Add("a3", completeEnv(t, "a3", "third"))

	events := b.Drain()
	require.Len(t, events, 3)
	var payloads []protocol.CompletePayload
	for _, env := range events {
		var p protocol.CompletePayload
		require.NoError(t, env.ParsePayload(&p))
		payloads = append(payloads, p)
	}
	assert.Equal(t, "a1", payloads[0].AgentID)
	assert.Equal(t, "a2", payloads[1].AgentID)
	assert.Equal(t, "a3", payloads[2].AgentID)
}

func TestEventBufferCoalescesStatusPerAgent(t *testing.T) {
	b := &eventBuffer{}
	b.Add("a1", statusEnv(t, "a1", "running"))
	b.Add("a2", statusEnv(t, "a2", "running"))
	b.Add("a1", statusEnv(t, "a1", "working"))
	b.Add("a1", statusEnv(t, "a1", "awaiting_input"))

	events := b.Drain()
	require.Len(t, events, 2)

	var p protocol.StatusUpdatePayload
	require.NoError(t, events[0].ParsePayload(&p))
	assert.Equal(t, "a1", p.AgentID)
	assert.Equal(t, "awaiting_input", p.Status, "latest status should win")

	require.NoError(t, events[1].ParsePayload(&p))
	assert.Equal(t, "a2", p.AgentID)
}

func TestEventBufferStatusDoesNotCoalesceComplete(t *testing.T) {
	b := &eventBuffer{}
	b.Add("a1", completeEnv(t, "a1", "done"))
	b.Add("a1", statusEnv(t, "a1", "working"))

	assert.Equal(t, 2, b.Len())
}

func TestEventBufferCapDropsStatusFirst(t *testing.T) {
	b := &eventBuffer{}
	b.Add("s1", statusEnv(t, "s1", "working"))
	for i := 0; b.Len() < maxBufferedEvents; i++ {
		id := fmt.Sprintf("a%d", i)
		b.Add(id, completeEnv(t, id, "done"))
	}

	// At the cap a new complete evicts the oldest status update.
	b.Add("late", completeEnv(t, "late", "done"))
	assert.Equal(t, maxBufferedEvents, b.Len())
	for _, env := range b.Drain() {
		assert.Equal(t, protocol.TypeComplete, env.Type)
	}
}

func TestEventBufferCapNeverDropsCompletes(t *testing.T) {
	b := &eventBuffer{}
	for i := 0; i < maxBufferedEvents; i++ {
		id := fmt.Sprintf("a%d", i)
		b.Add(id, completeEnv(t, id, "done"))
	}

	// Nothing evictable, so an incoming status is dropped.
	b.Add("s1", statusEnv(t, "s1", "working"))
	assert.Equal(t, maxBufferedEvents, b.Len())

	// An incoming complete is still kept.
	b.Add("late", completeEnv(t, "late", "done"))
	assert.Equal(t, maxBufferedEvents+1, b.Len())
}

func TestEventBufferDrainEmpties(t *testing.T) {
	b := &eventBuffer{}
	b.Add("a1", completeEnv(t, "a1", "done"))
	require.Equal(t, 1, b.Len())

	b.Drain()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Drain())
}
