package masteragent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spectra-assist/spectra/pkg/llm"
	"github.com/spectra-assist/spectra/pkg/models"
	"github.com/spectra-assist/spectra/pkg/services"
)

// toolbox executes the planner's read-only tools. Every call is scoped to
// the querying user; a lookup that would cross users fails the same way a
// missing record does, so the model never learns other users' ids.
type toolbox struct {
	userID        string
	tasks         TaskStore
	conversations ConversationStore
	agents        AgentStore
	runner        AgentRunner
}

// toolDefinitions is the fixed tool surface offered to the planner.
func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "get_recent_tasks",
			Description: "List the user's most recent tasks with status and results.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum tasks to return, default 5.",
					},
				},
			},
		},
		{
			Name:        "get_running_agents",
			Description: "List the user's currently running terminal agents.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "get_agent_status",
			Description: "Get status, latest observation and outcome of one agent.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agentId": map[string]any{
						"type":        "string",
						"description": "The agent to inspect.",
					},
				},
				"required": []string{"agentId"},
			},
		},
		{
			Name:        "get_daemon_status",
			Description: "Check whether the user's desktop daemon is connected.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "get_conversation_summary",
			Description: "Get the recent turns of the current conversation.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// execute runs one tool call and returns a JSON string for the model.
// Errors come back as tool output, never as pipeline failures.
func (t *toolbox) execute(ctx context.Context, timeout time.Duration, call llm.ToolCall) string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := t.dispatch(ctx, call)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

func (t *toolbox) dispatch(ctx context.Context, call llm.ToolCall) (any, error) {
	switch call.Name {
	case "get_recent_tasks":
		var in struct {
			Limit int64 `json:"limit"`
		}
		_ = json.Unmarshal(call.Input, &in)
		if in.Limit <= 0 || in.Limit > 20 {
			in.Limit = 5
		}
		tasks, err := t.tasks.ListRecent(ctx, t.userID, in.Limit)
		if err != nil {
			return nil, err
		}
		return summarizeTasks(tasks), nil

	case "get_running_agents":
		agents, err := t.agents.ListActive(ctx, t.userID)
		if err != nil {
			return nil, err
		}
		return summarizeAgents(agents), nil

	case "get_agent_status":
		var in struct {
			AgentID string `json:"agentId"`
		}
		if err := json.Unmarshal(call.Input, &in); err != nil || in.AgentID == "" {
			return nil, fmt.Errorf("agentId is required")
		}
		agent, err := t.agents.GetForUser(ctx, in.AgentID, t.userID)
		if err != nil {
			if err == services.ErrForbidden {
				return nil, fmt.Errorf("FORBIDDEN: agent %s not accessible", in.AgentID)
			}
			return nil, err
		}
		return summarizeAgent(*agent), nil

	case "get_daemon_status":
		return t.runner.DaemonStatus(t.userID), nil

	case "get_conversation_summary":
		conv, err := t.conversations.GetOrCreateActive(ctx, t.userID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"conversationId": conv.ConversationID,
			"turns":          services.FormatTurns(conv.RecentTurns(models.PlannerWindow)),
		}, nil

	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
}

func summarizeTasks(tasks []models.Task) []map[string]any {
	out := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		entry := map[string]any{
			"taskId":    task.TaskID,
			"query":     task.Query,
			"status":    string(task.Status),
			"createdAt": task.CreatedAt.Format(time.RFC3339),
		}
		if task.Result != nil {
			entry["result"] = truncateRunes(task.Result.WebviewContent, 400)
		}
		if task.ErrorCode != "" {
			entry["errorCode"] = task.ErrorCode
		}
		out = append(out, entry)
	}
	return out
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func summarizeAgents(agents []models.SubAgent) []map[string]any {
	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, summarizeAgent(a))
	}
	return out
}

func summarizeAgent(a models.SubAgent) map[string]any {
	entry := map[string]any{
		"agentId":   a.AgentID,
		"status":    string(a.Status),
		"goal":      a.Goal,
		"createdAt": a.CreatedAt.Format(time.RFC3339),
	}
	if a.LastObservation != "" {
		entry["lastObservation"] = a.LastObservation
	}
	if a.Result != "" {
		entry["result"] = a.Result
	}
	if a.Error != "" {
		entry["error"] = a.Error
	}
	return entry
}
