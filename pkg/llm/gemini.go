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
	defaultObserverModel = "gemini-2.0-flash"
	geminiAPIBase        = "https://generativelanguage.googleapis.com/v1beta"
)

// Gemini talks to the Google Gemini generateContent API via net/http.
// It serves the observer role: cheap, fast classification of terminal
// output, with a JSON response schema forcing the state alphabet.
type Gemini struct {
	apiKey      string
	baseURL     string
	model       string
	client      *http.Client
	retryConfig RetryConfig
}

// GeminiOption customizes a Gemini client.
type GeminiOption func(*Gemini)

// WithGeminiModel overrides the default model.
func WithGeminiModel(model string) GeminiOption {
	return func(g *Gemini) { g.model = model }
}

// WithGeminiBaseURL overrides the API base, e.g. for tests.
func WithGeminiBaseURL(baseURL string) GeminiOption {
	return func(g *Gemini) {
		if baseURL != "" {
			g.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewObserver creates a Gemini client for terminal-output classification.
func NewObserver(apiKey string, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		apiKey:      apiKey,
		baseURL:     geminiAPIBase,
		model:       defaultObserverModel,
		client:      &http.Client{Timeout: 30 * time.Second},
		retryConfig: DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64        `json:"temperature"`
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// Chat sends a generateContent request. When req.ResponseSchema is set the
// response is constrained to that JSON shape.
func (g *Gemini) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := geminiRequest{
		GenerationConfig: geminiGenerationConfig{Temperature: 0.1},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.ResponseSchema != nil {
		body.GenerationConfig.ResponseMimeType = "application/json"
		body.GenerationConfig.ResponseSchema = req.ResponseSchema
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)

	return RetryDo(ctx, g.retryConfig, func() (*ChatResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("gemini: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("gemini: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
		}

		var out geminiResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("gemini: decode response: %w", err)
		}
		if len(out.Candidates) == 0 {
			return nil, fmt.Errorf("gemini: empty candidate list")
		}

		var text strings.Builder
		for _, p := range out.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
		return &ChatResponse{
			Text:       text.String(),
			StopReason: out.Candidates[0].FinishReason,
		}, nil
	})
}
