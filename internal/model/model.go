// Package model is the boundary to the driving model: message and
// tool-use types, the Client interface the agent loop consumes, and a
// concrete Anthropic Messages adapter. Inference itself is an external
// collaborator.
package model

import "context"

// Client drives one completion turn. Implementations must honor
// context cancellation.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StopReason reports why the model ended its turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ContentBlock is one element of a message: plain text, a tool-use
// request from the model, or a tool result fed back to it.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Message is one conversation entry.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage builds a single-block text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ToolResultMessage builds the user-role message that reports a tool
// outcome back to the model.
func ToolResultMessage(toolUseID, content string, isError bool) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{{
		Type:      "tool_result",
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
	}}}
}

// ToolDefinition advertises one callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request is one completion turn.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// ToolUse is one tool-use request extracted from a model reply.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// Usage reports token consumption for one turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the model's reply for one turn.
type Response struct {
	ID         string
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

// Text returns the concatenated text blocks of the reply.
func (r *Response) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += b.Text
	}
	return out
}

// ToolUses returns the tool-use requests in the order received.
func (r *Response) ToolUses() []ToolUse {
	var uses []ToolUse
	for _, b := range r.Content {
		if b.Type != "tool_use" {
			continue
		}
		uses = append(uses, ToolUse{ID: b.ID, Name: b.Name, Input: b.Input})
	}
	return uses
}

// AssistantMessage converts the reply into a conversation entry so the
// next turn carries it.
func (r *Response) AssistantMessage() Message {
	return Message{Role: RoleAssistant, Content: r.Content}
}
