package database

import (
	"context"
	"time"
)

// HealthStatus reports reachability of the persistence layer.
type HealthStatus struct {
	Reachable bool   `json:"reachable"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health pings the server and measures round-trip latency.
func (c *Client) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	if err := c.client.Ping(ctx, nil); err != nil {
		return HealthStatus{Reachable: false, Error: err.Error()}
	}
	return HealthStatus{
		Reachable: true,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}
