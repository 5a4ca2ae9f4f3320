// Package capability defines the provider contract shared by hosted
// integrations and remote MCP servers, and the static registry of
// accounts and the capabilities each one exposes.
package capability

import "context"

// ToolSchema describes one invocable tool: produced by a hosted
// capability or discovered from a remote server.
type ToolSchema struct {
	Name                   string         `json:"name"`
	Description            string         `json:"description,omitempty"`
	InputSchema            map[string]any `json:"inputSchema"`
	OutputSchema           map[string]any `json:"outputSchema,omitempty"`
	ApprovalRequiredFields []string       `json:"approvalRequiredFields,omitempty"`
}

// ContentBlock is one element of a tool result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolCallResult is the normalized outcome of a tool invocation.
// A provider-level failure sets IsError and still returns normally;
// only wire and configuration failures surface as Go errors.
type ToolCallResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// Text returns the concatenated text content of the result.
func (r *ToolCallResult) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// ErrorResult builds an IsError tool result with the given text.
func ErrorResult(text string) *ToolCallResult {
	return &ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

// TextResult builds a plain text tool result.
func TextResult(text string) *ToolCallResult {
	return &ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// Provider exposes a set of tools under one namespace. Hosted
// integrations implement it in-process; remote servers are adapted to
// it by the bridge.
type Provider interface {
	Name() string
	Description() string
	ListTools(ctx context.Context) ([]ToolSchema, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error)
}
