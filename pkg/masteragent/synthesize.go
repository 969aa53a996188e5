package masteragent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spectra-assist/spectra/pkg/llm"
	"github.com/spectra-assist/spectra/pkg/models"
)

// glassesLimit is the maximum glasses-display length in Unicode scalar
// values. The glasses render a single short line; anything longer clips.
const glassesLimit = 100

const synthesizerSystemPrompt = `You summarize the outcome of a coding agent run
for a user wearing smart glasses.

Respond with a single JSON object, no other text:

{"glassesDisplay": "<one short sentence, max 100 characters, no newlines>",
 "webviewContent": "<full markdown report of what was done and any caveats>"}

The glasses line must stand alone; assume the user may never open the webview.
If the agent failed, say plainly what failed and what the user can do next.`

// synthesize turns an agent's terminal outcome into the dual-surface result.
func (m *MasterAgent) synthesize(ctx context.Context, query string, agent *models.SubAgent) (models.TaskResult, error) {
	outcome := agent.Result
	if agent.Error != "" {
		outcome = "The agent failed: " + agent.Error
	}

	ctx, cancel := context.WithTimeout(ctx, m.budgets.Synthesis)
	defer cancel()

	resp, err := m.synthesizer.Chat(ctx, llm.ChatRequest{
		System: synthesizerSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(
				"User request: %s\n\nAgent goal: %s\n\nAgent status: %s\n\nAgent outcome:\n%s",
				query, agent.Goal, agent.Status, outcome)},
		},
	})
	if err != nil {
		return models.TaskResult{}, fmt.Errorf("synthesis call failed: %w", err)
	}

	var out struct {
		GlassesDisplay string `json:"glassesDisplay"`
		WebviewContent string `json:"webviewContent"`
	}
	raw := extractJSON(resp.Text)
	if raw == "" {
		// A plain-text answer still beats an error surface.
		return makeResult(resp.Text, resp.Text), nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out.WebviewContent == "" {
		return makeResult(resp.Text, resp.Text), nil
	}
	return makeResult(out.GlassesDisplay, out.WebviewContent), nil
}

// makeResult builds a TaskResult with the glasses surface sanitized and
// both surfaces guaranteed non-empty.
func makeResult(glasses, webview string) models.TaskResult {
	if webview == "" {
		webview = glasses
	}
	if glasses == "" {
		glasses = webview
	}
	return models.TaskResult{
		GlassesDisplay: sanitizeGlasses(glasses),
		WebviewContent: webview,
	}
}

// sanitizeGlasses flattens the text to one line and truncates it to the
// glasses limit, counting Unicode scalar values rather than bytes.
func sanitizeGlasses(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= glassesLimit {
		return s
	}
	return string(runes[:glassesLimit-1]) + "…"
}
