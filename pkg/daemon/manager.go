// Package daemon implements the desktop-side process: it holds the
// control-plane connection to the server, runs terminal agents on demand
// and reports their state back.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spectra-assist/spectra/pkg/daemon/terminal"
	"github.com/spectra-assist/spectra/pkg/protocol"
)

// EventSink receives agent run events for delivery to the server.
type EventSink interface {
	StatusUpdate(agentID, status, observation string)
	Complete(agentID, result, errMsg string)
	Log(agentID, line, stream string)
}

// Manager runs terminal agents, bounded by the configured capacity.
type Manager struct {
	binary   string
	capacity int
	observer terminal.ObserverClient
	sink     EventSink

	mu     sync.Mutex
	agents map[string]*terminal.Agent
}

// NewManager creates a Manager.
func NewManager(binary string, capacity int, observer terminal.ObserverClient) *Manager {
	return &Manager{
		binary:   binary,
		capacity: capacity,
		observer: observer,
		agents:   make(map[string]*terminal.Agent),
	}
}

// SetSink wires the event destination. Must be called before Spawn.
func (m *Manager) SetSink(sink EventSink) {
	m.sink = sink
}

// Spawn starts one agent. Duplicate agentIds and capacity overruns are
// rejected without side effects.
func (m *Manager) Spawn(ctx context.Context, p protocol.SpawnAgentPayload) error {
	m.mu.Lock()
	if _, exists := m.agents[p.AgentID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("agent %s already running", p.AgentID)
	}
	if len(m.agents) >= m.capacity {
		m.mu.Unlock()
		return fmt.Errorf("at capacity (%d agents)", m.capacity)
	}
	// Reserve the slot before the slow start so concurrent spawns cannot
	// oversubscribe.
	m.agents[p.AgentID] = nil
	m.mu.Unlock()

	agentID := p.AgentID
	agent, err := terminal.Start(ctx, terminal.Config{
		AgentID:          agentID,
		Binary:           m.binary,
		Goal:             p.Goal,
		WorkingDirectory: p.WorkingDirectory,
		StreamLogs:       p.Options.StreamLogs,
	}, m.observer, terminal.Callbacks{
		OnStatus: func(status, observation string) {
			m.sink.StatusUpdate(agentID, status, observation)
		},
		OnComplete: func(result, errMsg string) {
			m.remove(agentID)
			m.sink.Complete(agentID, result, errMsg)
		},
		OnLog: func(line, stream string) {
			m.sink.Log(agentID, line, stream)
		},
	})
	if err != nil {
		m.remove(agentID)
		return err
	}

	m.mu.Lock()
	m.agents[agentID] = agent
	m.mu.Unlock()

	m.sink.StatusUpdate(agentID, "running", "agent process started")
	return nil
}

// Kill interrupts one agent. Unknown ids are a no-op; the server treats
// kill as idempotent.
func (m *Manager) Kill(agentID string) {
	m.mu.Lock()
	agent := m.agents[agentID]
	m.mu.Unlock()
	if agent == nil {
		slog.Debug("Kill for unknown agent", "agent_id", agentID)
		return
	}
	agent.Kill()
}

// Running lists ids of currently running agents.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	return ids
}

// Capacity is the configured concurrent-agent cap.
func (m *Manager) Capacity() int {
	return m.capacity
}

func (m *Manager) remove(agentID string) {
	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()
}
