// Package protocol implements the MCP JSON-RPC 2.0 client: call/response
// wire types, sequential request ids, and the initialize / tools/list /
// tools/call operations. Transports plug in behind the Transport interface.
package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// Version is the MCP protocol revision this client speaks.
	Version = "2025-03-26"

	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
)

// Call is a JSON-RPC 2.0 request. Notifications carry no ID.
type Call struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error
// is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the wire-level error object returned by a peer.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

// NewCall builds a request with the given id.
func NewCall(id int64, method string, params any) *Call {
	return &Call{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// NewNotification builds a request that expects no reply.
func NewNotification(method string, params any) *Call {
	return &Call{JSONRPC: "2.0", Method: method, Params: params}
}
