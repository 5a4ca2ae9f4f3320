package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicMessagesPath   = "/v1/messages"
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultModel   = "claude-sonnet-4-20250514"
)

// AnthropicClient implements Client against the Anthropic Messages API,
// including tool use.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithAnthropicHTTPClient sets a custom HTTP client.
func WithAnthropicHTTPClient(c *http.Client) AnthropicOption {
	return func(a *AnthropicClient) { a.client = c }
}

// WithAnthropicModel overrides the default model id.
func WithAnthropicModel(model string) AnthropicOption {
	return func(a *AnthropicClient) { a.model = model }
}

// NewAnthropicClient creates a client for the Anthropic API.
func NewAnthropicClient(baseURL, apiKey string, opts ...AnthropicOption) *AnthropicClient {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	a := &AnthropicClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   anthropicDefaultModel,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// -- Anthropic wire types --

type anthRequest struct {
	Model     string     `json:"model"`
	System    string     `json:"system,omitempty"`
	Messages  []anthMsg  `json:"messages"`
	Tools     []anthTool `json:"tools,omitempty"`
	MaxTokens int        `json:"max_tokens"`
}

type anthMsg struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

type anthTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthUsage      `json:"usage"`
	Error      *anthError     `json:"error,omitempty"`
}

type anthUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Complete sends one non-streaming completion turn.
func (a *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(a.toWire(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+anthropicMessagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(httpReq)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: httpResp.StatusCode, Message: string(respBody)}
	}

	var wire anthResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("anthropic error [%s]: %s", wire.Error.Type, wire.Error.Message)
	}

	return &Response{
		ID:         wire.ID,
		Content:    wire.Content,
		StopReason: StopReason(wire.StopReason),
		Usage: Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
		},
	}, nil
}

func (a *AnthropicClient) toWire(req *Request) anthRequest {
	msgs := make([]anthMsg, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, anthMsg{Role: m.Role, Content: m.Content})
	}

	tools := make([]anthTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, anthTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	modelID := req.Model
	if modelID == "" {
		modelID = a.model
	}

	return anthRequest{
		Model:     modelID,
		System:    req.System,
		Messages:  msgs,
		Tools:     tools,
		MaxTokens: maxTokens,
	}
}

func (a *AnthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}
