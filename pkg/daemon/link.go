package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/spectra-assist/spectra/pkg/protocol"
)

// Reconnect backoff: start at reconnectBase, multiply by reconnectFactor,
// cap at reconnectMax.
const (
	reconnectBase   = time.Second
	reconnectFactor = 1.5
	reconnectMax    = 30 * time.Second
)

// Link maintains the WebSocket to the server, falls back to REST when the
// socket is down, and buffers what neither path can deliver.
type Link struct {
	serverURL       string
	token           string
	heartbeatPeriod time.Duration
	manager         *Manager
	buffer          *eventBuffer
	httpClient      *http.Client

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewLink creates a Link. serverURL is the ws:// or wss:// base.
func NewLink(serverURL, token string, heartbeatPeriod time.Duration, manager *Manager) *Link {
	return &Link{
		serverURL:       strings.TrimRight(serverURL, "/"),
		token:           token,
		heartbeatPeriod: heartbeatPeriod,
		manager:         manager,
		buffer:          &eventBuffer{},
		httpClient:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Run connects and serves until ctx is cancelled, reconnecting with
// exponential backoff after every drop.
func (l *Link) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := l.dial(ctx)
		if err != nil {
			slog.Warn("Server connection failed",
				"backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(float64(backoff) * reconnectFactor)
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectBase

		l.setConn(conn)
		slog.Info("Connected to server")
		l.flushBuffer(ctx)

		l.serve(ctx, conn)
		l.setConn(nil)
		slog.Warn("Disconnected from server")
	}
}

func (l *Link) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	url := fmt.Sprintf("%s/ws/daemon?token=%s", l.serverURL, l.token)
	conn, _, err := websocket.Dial(ctx, url, nil)
	return conn, err
}

// serve runs the read loop and heartbeat ticker until the socket drops.
func (l *Link) serve(ctx context.Context, conn *websocket.Conn) {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go l.heartbeatLoop(serveCtx)

	for {
		_, data, err := conn.Read(serveCtx)
		if err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("Dropping malformed server frame", "error", err)
			continue
		}
		l.handleCommand(serveCtx, env)
	}
}

func (l *Link) handleCommand(ctx context.Context, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSpawnAgent:
		var p protocol.SpawnAgentPayload
		if err := env.ParsePayload(&p); err != nil {
			slog.Warn("Bad spawn_agent payload", "error", err)
			return
		}
		// Spawning detaches from the serve context; a reconnect must not
		// kill running agents.
		if err := l.manager.Spawn(context.Background(), p); err != nil {
			slog.Error("Spawn failed", "agent_id", p.AgentID, "error", err)
			l.Complete(p.AgentID, "", "spawn_failed: "+err.Error())
		}

	case protocol.TypeKillAgent:
		var p protocol.KillAgentPayload
		if err := env.ParsePayload(&p); err != nil {
			return
		}
		l.manager.Kill(p.AgentID)

	case protocol.TypePing:
		l.sendWS(ctx, protocol.TypePong, nil)

	default:
		slog.Warn("Dropping unknown server message type", "type", env.Type)
	}
}

// heartbeatLoop reports liveness on the configured period. The first beat
// goes out immediately so a reconnecting daemon is seen as present at once.
func (l *Link) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(l.heartbeatPeriod)
	defer ticker.Stop()
	for {
		l.sendHeartbeat(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Link) sendHeartbeat(ctx context.Context) {
	payload := protocol.HeartbeatPayload{
		RunningAgentIDs: l.manager.Running(),
		Capacity:        l.manager.Capacity(),
	}
	if l.sendWS(ctx, protocol.TypeHeartbeat, payload) {
		return
	}
	_ = l.postFallback(ctx, "/api/daemon/heartbeat", payload)
}

// StatusUpdate implements EventSink.
func (l *Link) StatusUpdate(agentID, status, observation string) {
	l.deliver(agentID, protocol.TypeStatusUpdate,
		protocol.StatusUpdatePayload{AgentID: agentID, Status: status, Observation: observation},
		fmt.Sprintf("/api/subagent/%s/status", agentID),
		map[string]string{"status": status, "observation": observation})
}

// Complete implements EventSink.
func (l *Link) Complete(agentID, result, errMsg string) {
	l.deliver(agentID, protocol.TypeComplete,
		protocol.CompletePayload{AgentID: agentID, Result: result, Error: errMsg},
		fmt.Sprintf("/api/subagent/%s/complete", agentID),
		map[string]string{"result": result, "error": errMsg})
}

// Log implements EventSink. Log lines are best effort: WebSocket only,
// never the fallback, never the buffer.
func (l *Link) Log(agentID, line, stream string) {
	l.sendWS(context.Background(),
		protocol.TypeLog, protocol.LogPayload{AgentID: agentID, Line: line, Stream: stream})
}

// deliver tries WebSocket, then the REST fallback, then the buffer.
func (l *Link) deliver(agentID string, t protocol.MessageType, payload any, fallbackPath string, fallbackBody map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if l.sendWS(ctx, t, payload) {
		return
	}
	if err := l.postFallback(ctx, fallbackPath, fallbackBody); err == nil {
		return
	}

	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		slog.Error("Failed to buffer event", "agent_id", agentID, "error", err)
		return
	}
	l.buffer.Add(agentID, env)
	slog.Info("Buffered event for later delivery",
		"agent_id", agentID, "type", t, "buffered", l.buffer.Len())
}

// flushBuffer replays buffered events in arrival order after a reconnect.
func (l *Link) flushBuffer(ctx context.Context) {
	events := l.buffer.Drain()
	if len(events) == 0 {
		return
	}
	slog.Info("Flushing buffered events", "count", len(events))
	for _, env := range events {
		if !l.writeEnvelope(ctx, env) {
			// Connection died mid-flush; requeue the remainder.
			var p struct {
				AgentID string `json:"agentId"`
			}
			_ = env.ParsePayload(&p)
			l.buffer.Add(p.AgentID, env)
		}
	}
}

func (l *Link) sendWS(ctx context.Context, t protocol.MessageType, payload any) bool {
	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		return false
	}
	return l.writeEnvelope(ctx, env)
}

func (l *Link) writeEnvelope(ctx context.Context, env *protocol.Envelope) bool {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return false
	}
	data, err := env.Encode()
	if err != nil {
		return false
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return false
	}
	return true
}

// postFallback posts one event to the REST fallback surface.
func (l *Link) postFallback(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := httpBase(l.serverURL) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.token)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("fallback %s: status %d: %s", path, resp.StatusCode, msg)
	}
	return nil
}

func (l *Link) setConn(conn *websocket.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

// httpBase rewrites a ws:// base to its http:// equivalent.
func httpBase(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "ws://"):
		return "http://" + strings.TrimPrefix(serverURL, "ws://")
	case strings.HasPrefix(serverURL, "wss://"):
		return "https://" + strings.TrimPrefix(serverURL, "wss://")
	}
	return serverURL
}
