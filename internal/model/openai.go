package model

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
	openAIDefaultBaseURL  = "https://api.openai.com/v1"
	openAICompletionsPath = "/chat/completions"
	openAIDefaultModel    = "gpt-4o"
)

// OpenAIClient implements Client against any OpenAI-compatible chat
// completions API (OpenAI, Azure, Ollama, vLLM, Groq, Together, etc.),
// including tool calls.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithOpenAIHTTPClient sets a custom HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAIClient) { o.client = c }
}

// WithOpenAIModel overrides the default model id.
func WithOpenAIModel(model string) OpenAIOption {
	return func(o *OpenAIClient) { o.model = model }
}

// NewOpenAIClient creates a client for any OpenAI-compatible endpoint.
func NewOpenAIClient(baseURL, apiKey string, opts ...OpenAIOption) *OpenAIClient {
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	o := &OpenAIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   openAIDefaultModel,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// -- OpenAI wire types --

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	Tools     []oaiTool    `json:"tools,omitempty"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiResponse struct {
	ID      string      `json:"id"`
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
	Error   *oaiError   `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Complete sends one completion turn.
func (o *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(o.toWire(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+openAICompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: httpResp.StatusCode, Message: string(respBody)}
	}

	var wire oaiResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("openai error [%s]: %s", wire.Error.Type, wire.Error.Message)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}
	return o.fromWire(&wire)
}

func (o *OpenAIClient) toWire(req *Request) oaiRequest {
	var msgs []oaiMessage
	if req.System != "" {
		msgs = append(msgs, oaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, splitMessage(m)...)
	}

	var tools []oaiTool
	for _, t := range req.Tools {
		tools = append(tools, oaiTool{
			Type:     "function",
			Function: oaiFunction{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
		})
	}

	modelID := req.Model
	if modelID == "" {
		modelID = o.model
	}
	return oaiRequest{Model: modelID, Messages: msgs, Tools: tools, MaxTokens: req.MaxTokens}
}

// splitMessage maps one conversation entry to its OpenAI form: tool
// results become separate role "tool" messages, tool uses become
// tool_calls on the assistant message.
func splitMessage(m Message) []oaiMessage {
	var out []oaiMessage
	msg := oaiMessage{Role: string(m.Role)}
	var hasContent bool

	for _, b := range m.Content {
		switch b.Type {
		case "text":
			if msg.Content != "" {
				msg.Content += "\n"
			}
			msg.Content += b.Text
			hasContent = true
		case "tool_use":
			args, err := json.Marshal(b.Input)
			if err != nil {
				args = []byte("{}")
			}
			call := oaiToolCall{ID: b.ID, Type: "function"}
			call.Function.Name = b.Name
			call.Function.Arguments = string(args)
			msg.ToolCalls = append(msg.ToolCalls, call)
			hasContent = true
		case "tool_result":
			out = append(out, oaiMessage{Role: "tool", ToolCallID: b.ToolUseID, Content: b.Content})
		}
	}
	if hasContent {
		out = append([]oaiMessage{msg}, out...)
	}
	return out
}

func (o *OpenAIClient) fromWire(wire *oaiResponse) (*Response, error) {
	choice := wire.Choices[0]

	var content []ContentBlock
	if choice.Message.Content != "" {
		content = append(content, ContentBlock{Type: "text", Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		var input map[string]any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
			return nil, fmt.Errorf("tool call %s arguments: %w", call.ID, err)
		}
		content = append(content, ContentBlock{
			Type: "tool_use", ID: call.ID, Name: call.Function.Name, Input: input,
		})
	}

	stop := StopEndTurn
	switch choice.FinishReason {
	case "tool_calls":
		stop = StopToolUse
	case "length":
		stop = StopMaxTokens
	}

	return &Response{
		ID:         wire.ID,
		Content:    content,
		StopReason: stop,
		Usage: Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
		},
	}, nil
}
