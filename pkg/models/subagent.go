package models

import "time"

// AgentStatus is the server's view of a SubAgent's lifecycle state.
type AgentStatus string

const (
	AgentStatusSpawning      AgentStatus = "spawning"
	AgentStatusRunning       AgentStatus = "running"
	AgentStatusAwaitingInput AgentStatus = "awaiting_input"
	AgentStatusCompleted     AgentStatus = "completed"
	AgentStatusFailed        AgentStatus = "failed"
	AgentStatusKilled        AgentStatus = "killed"
)

// Terminal reports whether the status is final. A SubAgent never leaves a
// terminal status; later updates for the same agent are dropped.
func (s AgentStatus) Terminal() bool {
	switch s {
	case AgentStatusCompleted, AgentStatusFailed, AgentStatusKilled:
		return true
	}
	return false
}

// Valid reports whether s is a known agent status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusSpawning, AgentStatusRunning, AgentStatusAwaitingInput,
		AgentStatusCompleted, AgentStatusFailed, AgentStatusKilled:
		return true
	}
	return false
}

// SubAgent is the persisted record of one daemon-side terminal agent.
type SubAgent struct {
	AgentID          string      `bson:"agentId" json:"agentId"`
	UserID           string      `bson:"userId" json:"userId"`
	Status           AgentStatus `bson:"status" json:"status"`
	Goal             string      `bson:"goal" json:"goal"`
	WorkingDirectory string      `bson:"workingDirectory,omitempty" json:"workingDirectory,omitempty"`
	Result           string      `bson:"result,omitempty" json:"result,omitempty"`
	Error            string      `bson:"error,omitempty" json:"error,omitempty"`
	LastObservation  string      `bson:"lastObservation,omitempty" json:"lastObservation,omitempty"`
	CreatedAt        time.Time   `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time   `bson:"updatedAt" json:"updatedAt"`
	CompletedAt      *time.Time  `bson:"completedAt,omitempty" json:"completedAt,omitempty"`

	// Version backs optimistic concurrency control on writes.
	Version int64 `bson:"version" json:"-"`
}

// SpawnOptions carries per-spawn tunables from the server to the daemon.
type SpawnOptions struct {
	// StreamLogs asks the daemon to forward raw terminal lines (rate-capped).
	StreamLogs bool `bson:"streamLogs,omitempty" json:"streamLogs,omitempty"`
}
