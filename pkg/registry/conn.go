package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/spectra-assist/spectra/pkg/protocol"
)

// sendQueueSize bounds the per-connection outbound queue. The queue has a
// single writer goroutine; enqueueing blocks briefly under back-pressure
// and fails rather than stalling the caller indefinitely.
const sendQueueSize = 32

// enqueueTimeout is how long a send waits on a full queue before giving up.
const enqueueTimeout = 5 * time.Second

// daemonConn is the live handle for one connected daemon. Owned exclusively
// by the Registry; destroyed on disconnect and never persisted.
type daemonConn struct {
	userID string
	conn   *websocket.Conn
	sendCh chan *protocol.Envelope
	done   chan struct{}

	closeOnce sync.Once

	mu            sync.Mutex
	lastHeartbeat time.Time
	capacity      int
	runningAgents []string
}

func newDaemonConn(userID string, conn *websocket.Conn) *daemonConn {
	return &daemonConn{
		userID:        userID,
		conn:          conn,
		sendCh:        make(chan *protocol.Envelope, sendQueueSize),
		done:          make(chan struct{}),
		lastHeartbeat: time.Now(),
	}
}

// writeLoop drains the send queue. It is the connection's only writer.
func (dc *daemonConn) writeLoop(ctx context.Context) {
	for {
		select {
		case env, ok := <-dc.sendCh:
			if !ok {
				return
			}
			data, err := env.Encode()
			if err != nil {
				slog.Error("Failed to encode outbound frame",
					"user_id", dc.userID, "type", env.Type, "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = dc.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Warn("Daemon write failed, dropping connection",
					"user_id", dc.userID, "error", err)
				_ = dc.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-dc.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues one envelope for the writer goroutine.
func (dc *daemonConn) send(t protocol.MessageType, payload any) error {
	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	select {
	case dc.sendCh <- env:
		return nil
	case <-dc.done:
		return fmt.Errorf("daemon connection closed")
	case <-time.After(enqueueTimeout):
		return fmt.Errorf("daemon send queue full")
	}
}

// close tears the handle down. Both the replacing connection and the old
// handler's own exit path call this, so it must tolerate repeats.
func (dc *daemonConn) close() {
	dc.closeOnce.Do(func() {
		close(dc.done)
		if dc.conn != nil {
			_ = dc.conn.Close(websocket.StatusNormalClosure, "")
		}
	})
}

func (dc *daemonConn) touchHeartbeat(capacity int, running []string) {
	dc.mu.Lock()
	dc.lastHeartbeat = time.Now()
	if capacity > 0 {
		dc.capacity = capacity
	}
	dc.runningAgents = running
	dc.mu.Unlock()
}

func (dc *daemonConn) heartbeatAge() time.Duration {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return time.Since(dc.lastHeartbeat)
}
