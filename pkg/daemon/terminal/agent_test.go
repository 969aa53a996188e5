package terminal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverCompletionReportedAfterReap(t *testing.T) {
	completed := make(chan string, 1)
	cb := Callbacks{
		OnStatus:   func(status, observation string) {},
		OnComplete: func(result, errMsg string) { completed <- result },
	}

	a, err := Start(context.Background(), Config{
		AgentID: "a1",
		Binary:  "/bin/sleep",
		Goal:    "30",
	}, &fakeObserverClient{t: t}, cb)
	require.NoError(t, err)

	a.onObservation(observation{State: stateCompleted, Result: "goal finished"})

	select {
	case got := <-completed:
		assert.Equal(t, "goal finished", got)
	case <-time.After(10 * time.Second):
		t.Fatal("terminal event never arrived")
	}

	// The child was reaped and the PTY released before the event fired.
	assert.NotNil(t, a.cmd.ProcessState)
	select {
	case <-a.reaped:
	default:
		t.Fatal("terminal event fired before the child was reaped")
	}
}

func TestKillReportsAfterReap(t *testing.T) {
	completed := make(chan string, 1)
	cb := Callbacks{
		OnComplete: func(result, errMsg string) { completed <- errMsg },
	}

	a, err := Start(context.Background(), Config{
		AgentID: "a2",
		Binary:  "/bin/sleep",
		Goal:    "30",
	}, &fakeObserverClient{t: t}, cb)
	require.NoError(t, err)

	a.Kill()

	select {
	case got := <-completed:
		assert.Equal(t, "killed by request", got)
	case <-time.After(10 * time.Second):
		t.Fatal("terminal event never arrived")
	}

	assert.NotNil(t, a.cmd.ProcessState)
}
