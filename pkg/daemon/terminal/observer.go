package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spectra-assist/spectra/pkg/llm"
)

// Observer triggers. A classification runs when output has been quiet for
// quiescenceDelay after activity, when newOutputThreshold bytes arrived
// since the last classification, or on the idle tick when neither fired.
const (
	quiescenceDelay    = 500 * time.Millisecond
	newOutputThreshold = 2 * 1024
	idleTick           = 2 * time.Second

	// observerFailureLimit fails the run after this many consecutive
	// classification errors.
	observerFailureLimit = 3
)

// ObserverClient is the slice of an LLM client the observer needs.
type ObserverClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// observation is one classification of the output window.
type observation struct {
	State       string `json:"state"`
	Observation string `json:"observation"`
	Result      string `json:"result,omitempty"`
}

const (
	stateWorking       = "working"
	stateAwaitingInput = "awaiting_input"
	stateCompleted     = "completed"
	stateFailed        = "failed"
)

const observerSystemPrompt = `You watch the terminal output of a coding agent
working toward a goal. Classify the current state of the run.

States:
- working: the agent is actively making progress.
- awaiting_input: the agent stopped and is asking a question or waiting
  for the user to type something.
- completed: the agent finished the goal. Put a short summary of what was
  accomplished in "result".
- failed: the agent hit an unrecoverable error or gave up. Put what went
  wrong in "result".

Base the classification only on the visible output. Keep "observation" to
one sentence describing what the agent is doing right now.`

func observerSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"state": map[string]any{
				"type": "string",
				"enum": []string{stateWorking, stateAwaitingInput, stateCompleted, stateFailed},
			},
			"observation": map[string]any{"type": "string"},
			"result":      map[string]any{"type": "string"},
		},
		"required": []string{"state", "observation"},
	}
}

// observer drives the classification loop for one agent run.
type observer struct {
	client ObserverClient
	goal   string
	window *rollingWindow

	// activity is pulsed by the PTY reader on every chunk of output.
	activity chan struct{}

	onState func(obs observation)

	lastClassifiedTotal int64
	lastObservation     string
	failures            int
	terminalSent        bool
}

// run loops until ctx is cancelled or a terminal observation fires.
// The terminal observation is delivered exactly once.
func (o *observer) run(ctx context.Context) {
	idle := time.NewTicker(idleTick)
	defer idle.Stop()

	var quiescence *time.Timer
	var quiescenceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-o.activity:
			// Restart the quiescence clock on every burst of output, but
			// classify immediately once enough new output piled up.
			_, total := o.window.Snapshot()
			if total-o.lastClassifiedTotal >= newOutputThreshold {
				if o.classify(ctx) {
					return
				}
				continue
			}
			if quiescence == nil {
				quiescence = time.NewTimer(quiescenceDelay)
				quiescenceC = quiescence.C
			} else {
				if !quiescence.Stop() {
					select {
					case <-quiescence.C:
					default:
					}
				}
				quiescence.Reset(quiescenceDelay)
			}

		case <-quiescenceC:
			quiescence = nil
			quiescenceC = nil
			if o.classify(ctx) {
				return
			}

		case <-idle.C:
			_, total := o.window.Snapshot()
			if total == o.lastClassifiedTotal {
				continue
			}
			if o.classify(ctx) {
				return
			}
		}
	}
}

// classify runs one observation. Returns true when a terminal state was
// delivered and the loop should stop.
func (o *observer) classify(ctx context.Context) bool {
	output, total := o.window.Snapshot()
	if output == "" {
		return false
	}

	obs, err := o.classifyOnce(ctx, output)
	if err != nil {
		o.failures++
		slog.Warn("Observer classification failed",
			"attempt", o.failures, "error", err)
		if o.failures >= observerFailureLimit {
			o.deliver(observation{
				State:  stateFailed,
				Result: "observer could not classify terminal output: " + err.Error(),
			})
			return true
		}
		return false
	}
	o.failures = 0
	o.lastClassifiedTotal = total

	switch obs.State {
	case stateCompleted, stateFailed:
		o.deliver(*obs)
		return true
	case stateAwaitingInput:
		o.deliver(*obs)
		return false
	default:
		// Identical consecutive working observations carry no new
		// information; drop them.
		if obs.Observation == o.lastObservation {
			return false
		}
		o.lastObservation = obs.Observation
		o.deliver(*obs)
		return false
	}
}

func (o *observer) classifyOnce(ctx context.Context, output string) (*observation, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp, err := o.client.Chat(ctx, llm.ChatRequest{
		System: observerSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(
				"Goal: %s\n\nTerminal output (most recent last):\n%s", o.goal, output)},
		},
		ResponseSchema: observerSchema(),
	})
	if err != nil {
		return nil, err
	}

	var obs observation
	if err := json.Unmarshal([]byte(resp.Text), &obs); err != nil {
		return nil, fmt.Errorf("unparseable observation: %w", err)
	}
	if obs.State == "" {
		return nil, fmt.Errorf("observation missing state")
	}
	return &obs, nil
}

func (o *observer) deliver(obs observation) {
	if obs.State == stateCompleted || obs.State == stateFailed {
		if o.terminalSent {
			return
		}
		o.terminalSent = true
	}
	o.onState(obs)
}
