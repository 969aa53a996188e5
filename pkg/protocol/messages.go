// Package protocol defines the versioned daemon ↔ server message schema.
// Every frame is a JSON envelope with a mandatory type discriminator;
// unknown types are logged and dropped by the receiver, never acted on.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the current protocol version carried in every envelope.
const Version = 1

// MessageType discriminates control-plane frames.
type MessageType string

// Server → daemon commands.
const (
	TypeSpawnAgent MessageType = "spawn_agent"
	TypeKillAgent  MessageType = "kill_agent"
	TypePing       MessageType = "ping"
)

// Daemon → server messages.
const (
	TypePong         MessageType = "pong"
	TypeHeartbeat    MessageType = "heartbeat"
	TypeStatusUpdate MessageType = "status_update"
	TypeLog          MessageType = "log"
	TypeComplete     MessageType = "complete"
)

// Envelope is the wire frame wrapping every message.
type Envelope struct {
	V         int             `json:"v"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SpawnOptions mirrors models.SpawnOptions on the wire.
type SpawnOptions struct {
	StreamLogs bool `json:"streamLogs,omitempty"`
}

// SpawnAgentPayload commands the daemon to start one terminal agent.
type SpawnAgentPayload struct {
	AgentID          string       `json:"agentId"`
	Goal             string       `json:"goal"`
	WorkingDirectory string       `json:"workingDirectory,omitempty"`
	Options          SpawnOptions `json:"options"`
}

// KillAgentPayload commands the daemon to terminate one agent.
type KillAgentPayload struct {
	AgentID string `json:"agentId"`
}

// HeartbeatPayload reports daemon liveness and load.
type HeartbeatPayload struct {
	RunningAgentIDs []string `json:"runningAgentIds"`
	Capacity        int      `json:"capacity"`
}

// StatusUpdatePayload reports a non-terminal agent state change.
type StatusUpdatePayload struct {
	AgentID     string `json:"agentId"`
	Status      string `json:"status"`
	Observation string `json:"observation,omitempty"`
}

// LogPayload carries one raw terminal line (when log streaming is on).
type LogPayload struct {
	AgentID string `json:"agentId"`
	Line    string `json:"line"`
	Stream  string `json:"stream"`
}

// CompletePayload reports an agent's terminal outcome. Exactly one of
// Result and Error is set.
type CompletePayload struct {
	AgentID string `json:"agentId"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewEnvelope wraps a payload value in a versioned envelope.
func NewEnvelope(t MessageType, payload any) (*Envelope, error) {
	env := &Envelope{
		V:         Version,
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", t, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Encode serializes the envelope to one wire frame.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses one wire frame into an envelope.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("protocol: frame missing type discriminator")
	}
	return &env, nil
}

// ParsePayload parses the envelope payload into the given struct.
func (e *Envelope) ParsePayload(v any) error {
	if e.Payload == nil {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
