package masteragent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spectra-assist/spectra/pkg/llm"
	"github.com/spectra-assist/spectra/pkg/models"
)

// maxToolIterations bounds the planner's tool-use loop.
const maxToolIterations = 6

const plannerSystemPrompt = `You are the planning component of a hands-free assistant.
The user speaks through smart glasses; their desktop runs a daemon that can
launch a coding agent in a terminal on their machine.

Classify the query and respond with a single JSON object, no other text:

{"decision": "direct_response", "response": "<short answer>", "webviewContent": "<optional markdown detail>"}
  when you can answer from the conversation and tool results alone.

{"decision": "clarifying_question", "question": "<question>", "webviewContent": "<optional markdown detail>"}
  when the query is too ambiguous to act on.

{"decision": "spawn_agent", "goal": "<self-contained instruction for the coding agent>", "workingDirectory": "<path or empty>"}
  when the query requires running work on the user's machine.

Rules:
- Use the provided tools to check prior tasks, running agents and daemon
  connectivity before deciding. Do not guess about their state.
- A spawn_agent goal must stand alone: include every detail the coding
  agent needs, because it cannot see this conversation.
- Status questions about existing work are direct_response, not spawn_agent.`

// decision is the planner's parsed verdict.
type decision struct {
	Decision         models.DecisionType `json:"decision"`
	Response         string              `json:"response,omitempty"`
	Question         string              `json:"question,omitempty"`
	WebviewContent   string              `json:"webviewContent,omitempty"`
	Goal             string              `json:"goal,omitempty"`
	WorkingDirectory string              `json:"workingDirectory,omitempty"`
}

// surfaces returns the dual-surface text for a non-spawn decision. The
// webview falls back to the glasses text when the planner gave no detail.
func (d *decision) surfaces() (glasses, webview string) {
	glasses = d.Response
	if d.Decision == models.DecisionClarifyingQuestion {
		glasses = d.Question
	}
	webview = d.WebviewContent
	if webview == "" {
		webview = glasses
	}
	return glasses, webview
}

// plan runs the tool-use loop until the planner emits its decision JSON or
// the iteration cap forces a final answer.
func (m *MasterAgent) plan(ctx context.Context, tools *toolbox, history, query string) (*decision, error) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Conversation so far:\n%s\n\nNew query: %s", history, query)},
	}
	defs := toolDefinitions()

	for i := 0; i < maxToolIterations; i++ {
		callCtx, cancel := context.WithTimeout(ctx, m.budgets.Planner)
		resp, err := m.planner.Chat(callCtx, llm.ChatRequest{
			System:   plannerSystemPrompt,
			Messages: messages,
			Tools:    defs,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("planner call failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return parseDecision(resp.Text)
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := tools.execute(ctx, m.budgets.ToolCall, call)
			slog.Debug("Planner tool call",
				"tool", call.Name, "result_bytes", len(result))
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	// Iteration cap reached: demand the verdict without offering tools.
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: "Respond now with your decision JSON and nothing else.",
	})
	callCtx, cancel := context.WithTimeout(ctx, m.budgets.Planner)
	defer cancel()
	resp, err := m.planner.Chat(callCtx, llm.ChatRequest{
		System:   plannerSystemPrompt,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("planner call failed: %w", err)
	}
	return parseDecision(resp.Text)
}

// parseDecision extracts the decision JSON from model text, tolerating
// code fences and surrounding prose.
func parseDecision(text string) (*decision, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("planner returned no decision JSON")
	}

	var d decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("planner decision unparseable: %w", err)
	}

	switch d.Decision {
	case models.DecisionDirectResponse:
		if d.Response == "" {
			return nil, fmt.Errorf("direct_response decision missing response")
		}
	case models.DecisionClarifyingQuestion:
		if d.Question == "" {
			return nil, fmt.Errorf("clarifying_question decision missing question")
		}
	case models.DecisionSpawnAgent:
		if d.Goal == "" {
			return nil, fmt.Errorf("spawn_agent decision missing goal")
		}
	default:
		return nil, fmt.Errorf("unknown decision %q", d.Decision)
	}
	return &d, nil
}

// extractJSON returns the first balanced top-level JSON object in text.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
