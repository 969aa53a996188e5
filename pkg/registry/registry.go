// Package registry maintains the server side of the daemon control plane
// and the authoritative projection of SubAgent state into persistence.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/spectra-assist/spectra/pkg/models"
	"github.com/spectra-assist/spectra/pkg/protocol"
	"github.com/spectra-assist/spectra/pkg/services"
)

// AgentStore is the slice of the SubAgent persistence the registry needs.
type AgentStore interface {
	Create(ctx context.Context, agentID, userID, goal, workingDirectory string) (*models.SubAgent, error)
	Get(ctx context.Context, agentID string) (*models.SubAgent, error)
	CountActive(ctx context.Context, userID string) (int64, error)
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.SubAgent, error)
	UpdateStatus(ctx context.Context, agentID string, status models.AgentStatus, observation string) (*models.SubAgent, error)
	Complete(ctx context.Context, agentID, result, errMsg string) (*models.SubAgent, error)
	MarkKilled(ctx context.Context, agentID, reason string) (*models.SubAgent, error)
}

// Config carries the registry tunables.
type Config struct {
	// HeartbeatPeriod is the expected daemon heartbeat interval. A daemon
	// is treated as absent after two missed windows.
	HeartbeatPeriod time.Duration

	// MaxAgentsPerUser caps concurrent non-terminal agents per user.
	MaxAgentsPerUser int

	// KillGrace is how long a kill waits for a terminal ack before the
	// record is force-marked killed.
	KillGrace time.Duration
}

// DaemonStatus is the connection summary exposed to tools and health checks.
type DaemonStatus struct {
	Connected          bool  `json:"connected"`
	LastHeartbeatAgeMs int64 `json:"lastHeartbeatAgeMs"`
}

// waitResult resolves one WaitForCompletion call.
type waitResult struct {
	agent *models.SubAgent
	err   error
}

// Registry owns live daemon handles, keyed by userId. All SubAgent state
// transitions flow through it into the SubAgentService.
type Registry struct {
	agents AgentStore
	cfg    Config

	mu         sync.RWMutex
	daemons    map[string]*daemonConn
	waiters    map[string][]chan waitResult
	killTimers map[string]*time.Timer
}

// New creates a Registry.
func New(agents AgentStore, cfg Config) *Registry {
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = 30 * time.Second
	}
	if cfg.MaxAgentsPerUser <= 0 {
		cfg.MaxAgentsPerUser = 3
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 15 * time.Second
	}
	return &Registry{
		agents:     agents,
		cfg:        cfg,
		daemons:    make(map[string]*daemonConn),
		waiters:    make(map[string][]chan waitResult),
		killTimers: make(map[string]*time.Timer),
	}
}

// HandleConnection registers a freshly upgraded daemon connection and
// blocks serving it until the socket closes. A newer connection for the
// same userId replaces the old one.
func (r *Registry) HandleConnection(ctx context.Context, userID string, conn *websocket.Conn) {
	dc := newDaemonConn(userID, conn)

	r.mu.Lock()
	if old, ok := r.daemons[userID]; ok {
		slog.Info("Replacing existing daemon connection", "user_id", userID)
		old.close()
	}
	r.daemons[userID] = dc
	r.mu.Unlock()

	slog.Info("Daemon connected", "user_id", userID)

	go dc.writeLoop(ctx)
	r.readLoop(ctx, dc)

	r.mu.Lock()
	// Only remove the handle if it is still ours; a replacement may have
	// raced in while the read loop was exiting.
	if cur, ok := r.daemons[userID]; ok && cur == dc {
		delete(r.daemons, userID)
	}
	r.mu.Unlock()
	dc.close()

	slog.Info("Daemon disconnected", "user_id", userID)
}

// readLoop consumes frames until the connection drops. Per-connection
// frames are FIFO, so events for any single agent arrive in order.
func (r *Registry) readLoop(ctx context.Context, dc *daemonConn) {
	for {
		_, data, err := dc.conn.Read(ctx)
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("Dropping malformed daemon frame", "user_id", dc.userID, "error", err)
			continue
		}
		r.dispatch(ctx, dc, env)
	}
}

func (r *Registry) dispatch(ctx context.Context, dc *daemonConn, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeHeartbeat:
		var p protocol.HeartbeatPayload
		if err := env.ParsePayload(&p); err != nil {
			slog.Warn("Bad heartbeat payload", "user_id", dc.userID, "error", err)
			return
		}
		dc.touchHeartbeat(p.Capacity, p.RunningAgentIDs)

	case protocol.TypePong:
		dc.touchHeartbeat(0, nil)

	case protocol.TypeStatusUpdate:
		var p protocol.StatusUpdatePayload
		if err := env.ParsePayload(&p); err != nil {
			slog.Warn("Bad status_update payload", "user_id", dc.userID, "error", err)
			return
		}
		r.ApplyStatusUpdate(ctx, p.AgentID, models.AgentStatus(p.Status), p.Observation)

	case protocol.TypeComplete:
		var p protocol.CompletePayload
		if err := env.ParsePayload(&p); err != nil {
			slog.Warn("Bad complete payload", "user_id", dc.userID, "error", err)
			return
		}
		r.ApplyComplete(ctx, p.AgentID, p.Result, p.Error)

	case protocol.TypeLog:
		var p protocol.LogPayload
		if err := env.ParsePayload(&p); err != nil {
			return
		}
		slog.Debug("Agent log line", "agent_id", p.AgentID, "stream", p.Stream, "line", p.Line)

	default:
		// Unknown discriminators are logged and dropped, never acted on.
		slog.Warn("Dropping unknown daemon message type",
			"user_id", dc.userID, "type", env.Type)
	}
}

// DaemonStatus reports connection state for one user.
func (r *Registry) DaemonStatus(userID string) DaemonStatus {
	r.mu.RLock()
	dc, ok := r.daemons[userID]
	r.mu.RUnlock()
	if !ok {
		return DaemonStatus{Connected: false, LastHeartbeatAgeMs: -1}
	}
	age := dc.heartbeatAge()
	return DaemonStatus{
		Connected:          age <= 2*r.cfg.HeartbeatPeriod,
		LastHeartbeatAgeMs: age.Milliseconds(),
	}
}

// ConnectedDaemons counts daemons currently holding a socket.
func (r *Registry) ConnectedDaemons() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.daemons)
}

// Heartbeat records liveness reported over the REST fallback.
func (r *Registry) Heartbeat(userID string, capacity int, runningAgentIDs []string) bool {
	r.mu.RLock()
	dc, ok := r.daemons[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	dc.touchHeartbeat(capacity, runningAgentIDs)
	return true
}

// SpawnAgent writes a SubAgent record in spawning state and sends the
// spawn command over the user's daemon connection. The record commits
// before the command goes out, and the command is sent at most once per
// agentId.
func (r *Registry) SpawnAgent(ctx context.Context, userID, goal, workingDirectory string, opts models.SpawnOptions) (string, error) {
	r.mu.RLock()
	dc, ok := r.daemons[userID]
	r.mu.RUnlock()
	if !ok || dc.heartbeatAge() > 2*r.cfg.HeartbeatPeriod {
		return "", services.ErrDaemonUnavailable
	}

	active, err := r.agents.CountActive(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to check agent quota: %w", err)
	}
	if active >= int64(r.cfg.MaxAgentsPerUser) {
		return "", services.ErrQuotaExceeded
	}

	agentID := uuid.New().String()
	if _, err := r.agents.Create(ctx, agentID, userID, goal, workingDirectory); err != nil {
		return "", err
	}

	err = dc.send(protocol.TypeSpawnAgent, protocol.SpawnAgentPayload{
		AgentID:          agentID,
		Goal:             goal,
		WorkingDirectory: workingDirectory,
		Options:          protocol.SpawnOptions{StreamLogs: opts.StreamLogs},
	})
	if err != nil {
		// The record stays in spawning state for audit; the caller sees the
		// daemon as unavailable.
		slog.Warn("Failed to send spawn command", "agent_id", agentID, "error", err)
		return "", services.ErrDaemonUnavailable
	}

	slog.Info("Spawned agent", "agent_id", agentID, "user_id", userID, "goal", goal)
	return agentID, nil
}

// WaitForCompletion suspends the caller until the agent reaches a terminal
// state or the timeout expires. Timeout yields services.ErrTimeout without
// killing the agent; context cancellation yields services.ErrCancelled.
func (r *Registry) WaitForCompletion(ctx context.Context, agentID string, timeout time.Duration) (*models.SubAgent, error) {
	ch := make(chan waitResult, 1)
	r.mu.Lock()
	r.waiters[agentID] = append(r.waiters[agentID], ch)
	r.mu.Unlock()
	defer r.removeWaiter(agentID, ch)

	// Check after registering so a terminal event between the read and the
	// registration cannot be missed.
	agent, err := r.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status.Terminal() {
		return agent, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.agent, res.err
	case <-timer.C:
		return nil, services.ErrTimeout
	case <-ctx.Done():
		return nil, services.ErrCancelled
	}
}

// KillAgent requests termination of one agent. Idempotent: terminal agents
// and agents with a kill already pending are left untouched. If no terminal
// event arrives within the grace period the record is marked killed with
// error=timeout_on_kill.
func (r *Registry) KillAgent(ctx context.Context, agentID string) error {
	agent, err := r.agents.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status.Terminal() {
		return nil
	}

	r.mu.Lock()
	if _, pending := r.killTimers[agentID]; pending {
		r.mu.Unlock()
		return nil
	}
	r.killTimers[agentID] = time.AfterFunc(r.cfg.KillGrace, func() {
		r.killGraceExpired(agentID)
	})
	dc := r.daemons[agent.UserID]
	r.mu.Unlock()

	if dc != nil {
		if err := dc.send(protocol.TypeKillAgent, protocol.KillAgentPayload{AgentID: agentID}); err != nil {
			slog.Warn("Failed to send kill command", "agent_id", agentID, "error", err)
		}
	}
	return nil
}

// killGraceExpired force-marks an agent killed when no terminal event
// arrived within the grace period.
func (r *Registry) killGraceExpired(agentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r.clearKillTimer(agentID)

	agent, err := r.agents.MarkKilled(ctx, agentID, "timeout_on_kill")
	if err != nil {
		if errors.Is(err, services.ErrTerminalState) {
			return
		}
		slog.Error("Failed to mark agent killed after grace period",
			"agent_id", agentID, "error", err)
		return
	}
	slog.Warn("Kill grace period expired", "agent_id", agentID)
	r.resolveWaiters(agentID, agent)
}

// ApplyStatusUpdate records a non-terminal transition reported by a daemon
// (websocket or REST fallback). Updates after a terminal state are dropped
// with a warning per the first-terminal-event-wins rule.
func (r *Registry) ApplyStatusUpdate(ctx context.Context, agentID string, status models.AgentStatus, observation string) {
	if !status.Valid() || status.Terminal() {
		slog.Warn("Dropping invalid status_update", "agent_id", agentID, "status", status)
		return
	}
	if _, err := r.agents.UpdateStatus(ctx, agentID, status, observation); err != nil {
		if errors.Is(err, services.ErrTerminalState) {
			slog.Warn("Dropping status_update for terminal agent", "agent_id", agentID, "status", status)
			return
		}
		slog.Error("Failed to apply status_update", "agent_id", agentID, "error", err)
	}
}

// ApplyComplete records an agent's terminal outcome and resolves waiters.
// Duplicate terminal events (e.g. a complete racing a kill) are dropped
// with a warning; the first terminal event wins. A terminal ack arriving
// while a kill is pending marks the agent killed, not failed.
func (r *Registry) ApplyComplete(ctx context.Context, agentID, result, errMsg string) {
	r.mu.Lock()
	_, killPending := r.killTimers[agentID]
	r.mu.Unlock()

	var agent *models.SubAgent
	var err error
	if killPending && result == "" {
		agent, err = r.agents.MarkKilled(ctx, agentID, errMsg)
	} else {
		agent, err = r.agents.Complete(ctx, agentID, result, errMsg)
	}
	if err != nil {
		if errors.Is(err, services.ErrTerminalState) {
			slog.Warn("Dropping duplicate terminal event", "agent_id", agentID)
			return
		}
		slog.Error("Failed to apply complete", "agent_id", agentID, "error", err)
		return
	}

	r.clearKillTimer(agentID)
	slog.Info("Agent reached terminal state",
		"agent_id", agentID, "status", agent.Status)
	r.resolveWaiters(agentID, agent)
}

// GetAgent is a read-through projection.
func (r *Registry) GetAgent(ctx context.Context, agentID string) (*models.SubAgent, error) {
	return r.agents.Get(ctx, agentID)
}

// ListAgents is a read-through projection of one user's agents.
func (r *Registry) ListAgents(ctx context.Context, userID string) ([]models.SubAgent, error) {
	return r.agents.ListByUser(ctx, userID, 50)
}

func (r *Registry) resolveWaiters(agentID string, agent *models.SubAgent) {
	r.mu.Lock()
	chans := r.waiters[agentID]
	delete(r.waiters, agentID)
	r.mu.Unlock()
	for _, ch := range chans {
		ch <- waitResult{agent: agent}
	}
}

func (r *Registry) removeWaiter(agentID string, ch chan waitResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chans := r.waiters[agentID]
	for i, c := range chans {
		if c == ch {
			r.waiters[agentID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(r.waiters[agentID]) == 0 {
		delete(r.waiters, agentID)
	}
}

func (r *Registry) clearKillTimer(agentID string) {
	r.mu.Lock()
	if t, ok := r.killTimers[agentID]; ok {
		t.Stop()
		delete(r.killTimers, agentID)
	}
	r.mu.Unlock()
}
