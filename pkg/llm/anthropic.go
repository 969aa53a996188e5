package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPlannerModel     = "claude-3-5-haiku-20241022"
	defaultSynthesizerModel = "claude-sonnet-4-20250514"
	anthropicAPIBase        = "https://api.anthropic.com/v1"
	anthropicAPIVersion     = "2023-06-01"
)

// Anthropic talks to the Anthropic Messages API via net/http. One client
// serves both planner and synthesizer roles; the model is chosen per call
// site through options.
type Anthropic struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	client      *http.Client
	retryConfig RetryConfig
}

// AnthropicOption customizes an Anthropic client.
type AnthropicOption func(*Anthropic)

// WithAnthropicModel overrides the default model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(a *Anthropic) { a.model = model }
}

// WithAnthropicBaseURL overrides the API base, e.g. for tests.
func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(a *Anthropic) {
		if baseURL != "" {
			a.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithAnthropicMaxTokens overrides the default completion budget.
func WithAnthropicMaxTokens(n int) AnthropicOption {
	return func(a *Anthropic) { a.maxTokens = n }
}

// NewPlanner creates an Anthropic client tuned for fast decisions.
func NewPlanner(apiKey string, opts ...AnthropicOption) *Anthropic {
	return newAnthropic(apiKey, defaultPlannerModel, opts...)
}

// NewSynthesizer creates an Anthropic client tuned for final answers.
func NewSynthesizer(apiKey string, opts ...AnthropicOption) *Anthropic {
	return newAnthropic(apiKey, defaultSynthesizerModel, opts...)
}

func newAnthropic(apiKey, model string, opts ...AnthropicOption) *Anthropic {
	a := &Anthropic{
		apiKey:      apiKey,
		baseURL:     anthropicAPIBase,
		model:       model,
		maxTokens:   4096,
		client:      &http.Client{Timeout: 120 * time.Second},
		retryConfig: DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Chat sends a non-streaming messages request.
func (a *Anthropic) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := a.buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	return RetryDo(ctx, a.retryConfig, func() (*ChatResponse, error) {
		respBody, err := a.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp anthropicResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("anthropic: decode response: %w", err)
		}
		return parseAnthropicResponse(&resp), nil
	})
}

func (a *Anthropic) doRequest(ctx context.Context, body []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return resp.Body, nil
}

// anthropicContentBlock is one element of a message content array.
type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
}

func (a *Anthropic) buildRequestBody(req ChatRequest) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.maxTokens
	}

	out := anthropicRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		System:    req.System,
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool(t))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			// The Messages API carries system text in a dedicated field.
			if out.System == "" {
				out.System = m.Content
			} else {
				out.System += "\n\n" + m.Content
			}
		case RoleTool:
			out.Messages = append(out.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case RoleAssistant:
			blocks := []anthropicContentBlock{}
			if m.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Input,
				})
			}
			out.Messages = append(out.Messages, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			out.Messages = append(out.Messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContentBlock{{Type: "text", Text: m.Content}},
			})
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	return data, nil
}

func parseAnthropicResponse(resp *anthropicResponse) *ChatResponse {
	out := &ChatResponse{StopReason: resp.StopReason}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	out.Text = text.String()
	return out
}
