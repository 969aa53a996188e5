package api

// QueryRequest is the body of POST /api/master-agent/query.
type QueryRequest struct {
	UserID string `json:"userId"`
	Query  string `json:"query"`
}

// HeartbeatRequest is the body of POST /api/daemon/heartbeat.
type HeartbeatRequest struct {
	RunningAgentIDs []string `json:"runningAgentIds"`
	Capacity        int      `json:"capacity"`
}

// StatusUpdateRequest is the body of POST /api/subagent/:agentId/status.
type StatusUpdateRequest struct {
	Status      string `json:"status"`
	Observation string `json:"observation,omitempty"`
}

// CompleteRequest is the body of POST /api/subagent/:agentId/complete.
type CompleteRequest struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// LogRequest is the body of POST /api/subagent/:agentId/log.
type LogRequest struct {
	Line   string `json:"line"`
	Stream string `json:"stream"`
}

// TestSpawnRequest is the body of POST /daemon-api/test/spawn. Older
// clients send the user key as "email"; both spellings are accepted.
type TestSpawnRequest struct {
	UserID           string `json:"userId"`
	Email            string `json:"email"`
	Goal             string `json:"goal"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}
