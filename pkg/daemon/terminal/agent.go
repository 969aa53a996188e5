package terminal

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// PTY geometry the coding agent renders into.
const (
	ptyCols = 120
	ptyRows = 40
)

// killGraceDelay is how long a SIGINT gets before escalation to SIGKILL.
const killGraceDelay = 3 * time.Second

// logLineRateLimit caps streamed raw output lines per second. Beyond the
// cap lines are dropped; the observer still sees everything through the
// rolling window.
const logLineRateLimit = 50

// Config describes one agent run.
type Config struct {
	AgentID          string
	Binary           string
	Goal             string
	WorkingDirectory string
	StreamLogs       bool
}

// Callbacks surface run events. OnComplete fires exactly once, after the
// process has been reaped.
type Callbacks struct {
	OnStatus   func(status, observation string)
	OnComplete func(result, errMsg string)
	OnLog      func(line, stream string)
}

// Agent is one running terminal agent.
type Agent struct {
	cfg    Config
	cmd    *exec.Cmd
	ptmx   *os.File
	window *rollingWindow
	cb     Callbacks

	cancel context.CancelFunc

	// reaped closes once cmd.Wait has returned and the PTY is released.
	reaped chan struct{}

	mu        sync.Mutex
	killed    bool
	completed bool
}

// Start launches the CLI inside a PTY and begins observing it.
func Start(ctx context.Context, cfg Config, client ObserverClient, cb Callbacks) (*Agent, error) {
	cmd := exec.Command(cfg.Binary, cfg.Goal)
	if cfg.WorkingDirectory != "" {
		cmd.Dir = cfg.WorkingDirectory
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})
	if err != nil {
		return nil, fmt.Errorf("failed to start agent pty: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a := &Agent{
		cfg:    cfg,
		cmd:    cmd,
		ptmx:   ptmx,
		window: newRollingWindow(),
		cb:     cb,
		cancel: cancel,
		reaped: make(chan struct{}),
	}

	activity := make(chan struct{}, 1)
	obs := &observer{
		client:   client,
		goal:     cfg.Goal,
		window:   a.window,
		activity: activity,
		onState:  a.onObservation,
	}

	go a.readLoop(activity)
	go obs.run(runCtx)
	go a.reapLoop(runCtx)

	slog.Info("Agent started",
		"agent_id", cfg.AgentID, "binary", cfg.Binary, "dir", cfg.WorkingDirectory)
	return a, nil
}

// readLoop drains the PTY into the rolling window and streams raw lines.
func (a *Agent) readLoop(activity chan struct{}) {
	go a.streamLines()

	buf := make([]byte, 4096)
	for {
		n, err := a.ptmx.Read(buf)
		if n > 0 {
			a.window.Append(buf[:n])
			select {
			case activity <- struct{}{}:
			default:
			}
		}
		if err != nil {
			// EOF when the process exits or the PTY is closed.
			return
		}
	}
}

// streamLines forwards raw output lines when streaming is enabled,
// rate-limited per second.
func (a *Agent) streamLines() {
	if !a.cfg.StreamLogs || a.cb.OnLog == nil {
		return
	}

	// A second PTY reader would race the window; lines are reconstructed
	// from periodic window snapshots instead.
	var lastTotal int64
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		snapshot, total := a.window.Snapshot()
		newBytes := total - lastTotal
		if newBytes <= 0 {
			if a.done() {
				return
			}
			continue
		}
		lastTotal = total
		if newBytes > int64(len(snapshot)) {
			newBytes = int64(len(snapshot))
		}
		chunk := snapshot[int64(len(snapshot))-newBytes:]

		sc := bufio.NewScanner(strings.NewReader(chunk))
		sent := 0
		for sc.Scan() && sent < logLineRateLimit {
			line := sc.Text()
			if line == "" {
				continue
			}
			a.cb.OnLog(line, "pty")
			sent++
		}
		if a.done() {
			return
		}
	}
}

// reapLoop waits for process exit and emits the terminal event when the
// observer has not already spoken.
func (a *Agent) reapLoop(ctx context.Context) {
	waitErr := a.cmd.Wait()
	_ = a.ptmx.Close()
	a.cancel()
	close(a.reaped)

	a.mu.Lock()
	killed := a.killed
	alreadyDone := a.completed
	a.completed = true
	a.mu.Unlock()
	if alreadyDone {
		return
	}

	switch {
	case killed:
		a.cb.OnComplete("", "killed by request")
	case waitErr != nil:
		a.cb.OnComplete("", fmt.Sprintf("agent process exited: %v", waitErr))
	default:
		// Clean exit before the observer classified completion. Hand the
		// window tail over as the result.
		tail, _ := a.window.Snapshot()
		if len(tail) > 1024 {
			tail = tail[len(tail)-1024:]
		}
		a.cb.OnComplete(tail, "")
	}
	slog.Info("Agent exited", "agent_id", a.cfg.AgentID, "killed", killed)
}

// onObservation routes observer verdicts into callbacks. Terminal verdicts
// stop the process.
func (a *Agent) onObservation(obs observation) {
	switch obs.State {
	case stateCompleted:
		a.finish(obs.Result, "")
	case stateFailed:
		msg := obs.Result
		if msg == "" {
			msg = obs.Observation
		}
		a.finish("", msg)
	default:
		if a.cb.OnStatus != nil {
			a.cb.OnStatus(obs.State, obs.Observation)
		}
	}
}

// finish records the terminal outcome and tears the process down. The
// child is reaped and the PTY released before the event goes out.
func (a *Agent) finish(result, errMsg string) {
	a.mu.Lock()
	if a.completed {
		a.mu.Unlock()
		return
	}
	a.completed = true
	a.mu.Unlock()

	a.terminate()
	<-a.reaped
	a.cb.OnComplete(result, errMsg)
}

// Kill interrupts the agent. SIGINT first so the CLI can clean up, SIGKILL
// after the grace delay.
func (a *Agent) Kill() {
	a.mu.Lock()
	if a.killed || a.completed {
		a.mu.Unlock()
		return
	}
	a.killed = true
	a.mu.Unlock()

	a.terminate()
}

func (a *Agent) terminate() {
	if a.cmd.Process == nil {
		return
	}
	_ = a.cmd.Process.Signal(syscall.SIGINT)
	go func() {
		select {
		case <-a.reaped:
		case <-time.After(killGraceDelay):
			_ = a.cmd.Process.Kill()
		}
	}()
}

func (a *Agent) done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}
