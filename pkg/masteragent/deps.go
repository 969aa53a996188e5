// Package masteragent implements the cloud-side orchestrator: it classifies
// each user query, answers directly or spawns a terminal agent through the
// daemon control plane, and synthesizes every outcome into the dual-surface
// result the glasses and webview render.
package masteragent

import (
	"context"
	"time"

	"github.com/spectra-assist/spectra/pkg/llm"
	"github.com/spectra-assist/spectra/pkg/models"
	"github.com/spectra-assist/spectra/pkg/registry"
)

// ChatClient is the slice of an LLM client the pipeline needs.
type ChatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// TaskStore persists task lifecycle state.
type TaskStore interface {
	Create(ctx context.Context, userID, query string) (*models.Task, error)
	Get(ctx context.Context, taskID, userID string) (*models.Task, error)
	ListRecent(ctx context.Context, userID string, limit int64) ([]models.Task, error)
	SetStatus(ctx context.Context, taskID string, status models.TaskStatus) (*models.Task, error)
	SetDecision(ctx context.Context, taskID string, status models.TaskStatus, decision models.DecisionType) (*models.Task, error)
	SetSpawnedAgent(ctx context.Context, taskID, agentID string) (*models.Task, error)
	SetResult(ctx context.Context, taskID string, result models.TaskResult) (*models.Task, error)
	SetError(ctx context.Context, taskID, code, message string, result *models.TaskResult) (*models.Task, error)
}

// ConversationStore persists the append-only dialog history.
type ConversationStore interface {
	GetOrCreateActive(ctx context.Context, userID string) (*models.Conversation, error)
	AppendTurn(ctx context.Context, conversationID string, role models.TurnRole, content, taskID string) error
	HistoryForPlanner(ctx context.Context, conversationID string) (string, error)
}

// AgentStore reads the persisted SubAgent projection.
type AgentStore interface {
	GetForUser(ctx context.Context, agentID, userID string) (*models.SubAgent, error)
	ListActive(ctx context.Context, userID string) ([]models.SubAgent, error)
}

// AgentRunner is the slice of the daemon registry the pipeline needs.
type AgentRunner interface {
	SpawnAgent(ctx context.Context, userID, goal, workingDirectory string, opts models.SpawnOptions) (string, error)
	WaitForCompletion(ctx context.Context, agentID string, timeout time.Duration) (*models.SubAgent, error)
	DaemonStatus(userID string) registry.DaemonStatus
}

// Budgets bounds the pipeline's wall-clock spend per task.
type Budgets struct {
	// Task is the overall budget from submission to terminal state.
	Task time.Duration

	// Planner bounds one planner call.
	Planner time.Duration

	// ToolCall bounds one tool execution inside the planner loop.
	ToolCall time.Duration

	// Synthesis bounds the synthesis call.
	Synthesis time.Duration
}

// DefaultBudgets mirrors the config defaults.
func DefaultBudgets() Budgets {
	return Budgets{
		Task:      120 * time.Second,
		Planner:   15 * time.Second,
		ToolCall:  5 * time.Second,
		Synthesis: 20 * time.Second,
	}
}
