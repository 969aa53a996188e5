package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectra-assist/spectra/pkg/models"
)

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newTestClient(t))

	task, err := svc.Create(ctx, "user-1", "check my build")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.NotEmpty(t, task.TaskID)

	_, err = svc.SetStatus(ctx, task.TaskID, models.TaskStatusDeciding)
	require.NoError(t, err)

	_, err = svc.SetDecision(ctx, task.TaskID, models.TaskStatusSpawning, models.DecisionSpawnAgent)
	require.NoError(t, err)

	waiting, err := svc.SetSpawnedAgent(ctx, task.TaskID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusWaiting, waiting.Status)
	assert.Equal(t, "agent-1", waiting.SpawnedAgentID)

	_, err = svc.SetStatus(ctx, task.TaskID, models.TaskStatusSynthesizing)
	require.NoError(t, err)

	done, err := svc.SetResult(ctx, task.TaskID, models.TaskResult{
		GlassesDisplay: "Build is green",
		WebviewContent: "## Build\n\nAll checks passed.",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, models.DecisionSpawnAgent, done.Decision)
}

func TestTaskTerminalStateRejectsTransitions(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newTestClient(t))

	task, err := svc.Create(ctx, "user-1", "q")
	require.NoError(t, err)

	_, err = svc.SetError(ctx, task.TaskID, CodeTimeout, "budget exceeded", nil)
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, task.TaskID, models.TaskStatusSynthesizing)
	assert.ErrorIs(t, err, ErrTerminalState)

	_, err = svc.SetResult(ctx, task.TaskID, models.TaskResult{
		GlassesDisplay: "late", WebviewContent: "late",
	})
	assert.ErrorIs(t, err, ErrTerminalState)

	got, err := svc.Get(ctx, task.TaskID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusError, got.Status)
	assert.Equal(t, CodeTimeout, got.ErrorCode)
}

func TestTaskResultRequiresBothSurfaces(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newTestClient(t))

	task, err := svc.Create(ctx, "user-1", "q")
	require.NoError(t, err)

	_, err = svc.SetResult(ctx, task.TaskID, models.TaskResult{WebviewContent: "only webview"})
	assert.True(t, IsValidationError(err))

	_, err = svc.SetResult(ctx, task.TaskID, models.TaskResult{GlassesDisplay: "only glasses"})
	assert.True(t, IsValidationError(err))
}

func TestTaskCrossUserReadIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newTestClient(t))

	task, err := svc.Create(ctx, "user-1", "q")
	require.NoError(t, err)

	// Another user must not learn the task exists.
	_, err = svc.Get(ctx, task.TaskID, "user-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskConcurrentTransitionsSerialize(t *testing.T) {
	ctx := context.Background()
	svc := NewTaskService(newTestClient(t))

	task, err := svc.Create(ctx, "user-1", "q")
	require.NoError(t, err)

	// Concurrent non-terminal transitions on one task must all commit;
	// the per-task lock serializes them.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SetStatus(ctx, task.TaskID, models.TaskStatusDeciding)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, task.TaskID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDeciding, got.Status)
	assert.Equal(t, int64(6), got.Version)
}
