package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shaneholloman/weft/internal/capability"
)

// ErrHostedClient is returned when a client configured for in-process
// capabilities is asked to send a wire request. Hosted dispatch happens
// via direct invocation, never over a transport.
var ErrHostedClient = errors.New("protocol: hosted client cannot send wire requests")

// Transport sends one call and returns the correlated response.
// Implementations must release connections and readers on every exit
// path, including timeout and cancellation.
type Transport interface {
	Send(ctx context.Context, call *Call) (*Response, error)
	// Notify posts a call that expects no reply.
	Notify(ctx context.Context, call *Call) error
	Close() error
}

// Client drives the MCP handshake, tool listing, and tool invocation
// over a configured transport. Request ids are sequential integers
// starting at 1 and are never reused within a client's lifetime.
type Client struct {
	transport Transport
	name      string
	nextID    int64
	hosted    bool
}

// NewClient returns a client for a remote server.
func NewClient(name string, t Transport) *Client {
	return &Client{transport: t, name: name, nextID: 1}
}

// NewHostedClient returns a client that refuses wire sends; it exists
// so hosted and remote code paths share one type at call sites.
func NewHostedClient(name string) *Client {
	return &Client{name: name, nextID: 1, hosted: true}
}

// Name returns the server name this client was configured for.
func (c *Client) Name() string { return c.name }

// Close releases the underlying transport.
func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

func (c *Client) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.hosted {
		return nil, ErrHostedClient
	}
	id := c.nextID
	c.nextID++

	resp, err := c.transport.Send(ctx, NewCall(id, method, params))
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, resp.Error)
	}
	return resp.Result, nil
}

// InitializeResult carries the peer's advertised capabilities.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// Initialize performs the handshake and fires the initialized
// notification. It must be called before ListTools or CallTool.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": Version,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "weft", "version": "1.0"},
	}
	raw, err := c.send(ctx, MethodInitialize, params)
	if err != nil {
		return nil, err
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("initialize: decode result: %w", err)
	}

	if err := c.transport.Notify(ctx, NewNotification(MethodInitialized, nil)); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}
	return &result, nil
}

// ListTools returns the tools the peer advertises. A missing tools
// field yields an empty slice.
func (c *Client) ListTools(ctx context.Context) ([]capability.ToolSchema, error) {
	raw, err := c.send(ctx, MethodListTools, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []capability.ToolSchema `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tools/list: decode result: %w", err)
	}
	if result.Tools == nil {
		return []capability.ToolSchema{}, nil
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the peer and returns the normalized result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*capability.ToolCallResult, error) {
	params := map[string]any{"name": name, "arguments": args}
	raw, err := c.send(ctx, MethodCallTool, params)
	if err != nil {
		return nil, err
	}
	var result capability.ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tools/call: decode result: %w", err)
	}
	return &result, nil
}
