package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentStatusTerminal(t *testing.T) {
	terminal := []AgentStatus{AgentStatusCompleted, AgentStatusFailed, AgentStatusKilled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	live := []AgentStatus{AgentStatusSpawning, AgentStatusRunning, AgentStatusAwaitingInput}
	for _, s := range live {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestAgentStatusValid(t *testing.T) {
	assert.True(t, AgentStatusRunning.Valid())
	assert.False(t, AgentStatus("exploded").Valid())
	assert.False(t, AgentStatus("").Valid())
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, TaskStatusDone.Terminal())
	assert.True(t, TaskStatusError.Terminal())
	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusWaiting.Terminal())
	assert.False(t, TaskStatusSynthesizing.Terminal())
}

func TestRecentTurns(t *testing.T) {
	conv := &Conversation{}
	for i := 0; i < 30; i++ {
		conv.Turns = append(conv.Turns, Turn{
			Role:    RoleUser,
			Content: fmt.Sprintf("turn %d", i),
		})
	}

	recent := conv.RecentTurns(PlannerWindow)
	assert.Len(t, recent, PlannerWindow)
	assert.Equal(t, "turn 10", recent[0].Content)
	assert.Equal(t, "turn 29", recent[len(recent)-1].Content)

	short := &Conversation{Turns: conv.Turns[:5]}
	assert.Len(t, short.RecentTurns(PlannerWindow), 5)
}
