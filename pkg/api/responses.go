package api

import (
	"github.com/spectra-assist/spectra/pkg/database"
)

// QueryResponse is returned by POST /api/master-agent/query. The client
// polls the task endpoint until the status is terminal.
type QueryResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// AckResponse acknowledges a daemon fallback call.
type AckResponse struct {
	Accepted bool `json:"accepted"`
}

// SpawnResponse is returned by POST /daemon-api/test/spawn.
type SpawnResponse struct {
	AgentID string `json:"agentId"`
}

// HealthResponse is returned by GET /api/master-agent/health.
type HealthResponse struct {
	Status           string                `json:"status"`
	Version          string                `json:"version"`
	ConnectedDaemons int                   `json:"connectedDaemons"`
	Database         database.HealthStatus `json:"database"`
}
