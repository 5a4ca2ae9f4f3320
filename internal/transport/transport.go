// Package transport provides the two MCP wire transports: a long-lived
// SSE subscription transport and a request-per-call streamable HTTP
// transport. Both share the frame decoder and expose the same
// send-and-await-correlated-reply contract.
package transport

import (
	"net/http"
	"time"
)

const (
	// DefaultConnectTimeout bounds subscription setup, through the
	// arrival of the endpoint bootstrap record.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultResponseTimeout bounds one full send, from posting the
	// call to the arrival of the matching reply.
	DefaultResponseTimeout = 30 * time.Second

	headerSessionID       = "Mcp-Session-Id"
	headerProtocolVersion = "MCP-Protocol-Version"

	contentTypeJSON   = "application/json"
	contentTypeStream = "text/event-stream"
)

// Config carries the settings both transports share.
type Config struct {
	Endpoint        string
	AuthToken       string // optional bearer token
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	HTTPClient      *http.Client
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

func (c Config) applyAuth(req *http.Request) {
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
}
