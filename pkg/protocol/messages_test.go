package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeSpawnAgent, SpawnAgentPayload{
		AgentID:          "agent-1",
		Goal:             "run the tests",
		WorkingDirectory: "/home/user/project",
		Options:          SpawnOptions{StreamLogs: true},
	})
	require.NoError(t, err)
	assert.Equal(t, Version, env.V)
	assert.False(t, env.Timestamp.IsZero())

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeSpawnAgent, decoded.Type)

	var p SpawnAgentPayload
	require.NoError(t, decoded.ParsePayload(&p))
	assert.Equal(t, "agent-1", p.AgentID)
	assert.Equal(t, "run the tests", p.Goal)
	assert.True(t, p.Options.StreamLogs)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"v":1,"payload":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing type")
}

func TestDecodePreservesUnknownTypes(t *testing.T) {
	// Unknown discriminators must decode fine; dropping them is the
	// receiver's call, not the codec's.
	env, err := Decode([]byte(`{"v":1,"type":"future_thing","payload":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageType("future_thing"), env.Type)
}

func TestParsePayloadEmptyIsNoop(t *testing.T) {
	env, err := NewEnvelope(TypePing, nil)
	require.NoError(t, err)

	var p HeartbeatPayload
	require.NoError(t, env.ParsePayload(&p))
	assert.Empty(t, p.RunningAgentIDs)
}
