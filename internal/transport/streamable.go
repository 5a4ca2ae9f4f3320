package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shaneholloman/weft/internal/frame"
	"github.com/shaneholloman/weft/internal/protocol"
)

// StreamableTransport posts each call directly to the endpoint. The
// peer replies either with a direct JSON body or with an event stream,
// selected by content type. A session id returned by the peer is
// reused on subsequent calls.
type StreamableTransport struct {
	cfg Config

	mu        sync.Mutex
	sessionID string
}

// NewStreamable returns a streamable HTTP transport for the given config.
func NewStreamable(cfg Config) *StreamableTransport {
	return &StreamableTransport{cfg: cfg.withDefaults()}
}

// Close is a no-op: the transport holds no long-lived connection.
func (t *StreamableTransport) Close() error { return nil }

// SessionID returns the session id captured from the peer, if any.
func (t *StreamableTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Send posts call and decodes the matching reply.
func (t *StreamableTransport) Send(ctx context.Context, call *protocol.Call) (*protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ResponseTimeout)
	defer cancel()

	resp, err := t.post(ctx, call)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	t.captureSession(resp)

	if resp.StatusCode >= 300 {
		return nil, decodeHTTPError(resp)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, contentTypeStream) {
		return readStreamedResponse(ctx, resp.Body, call.ID, t.cfg.ResponseTimeout)
	}
	return decodeDirectResponse(resp.Body)
}

// Notify posts a no-reply call. Some peers answer 202 with an empty
// body, others 200; any non-error status is accepted.
func (t *StreamableTransport) Notify(ctx context.Context, call *protocol.Call) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ResponseTimeout)
	defer cancel()

	resp, err := t.post(ctx, call)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	t.captureSession(resp)

	if resp.StatusCode >= 300 {
		return &protocol.TransportError{Op: "post", Err: fmt.Errorf("notification status %d", resp.StatusCode)}
	}
	return nil
}

func (t *StreamableTransport) post(ctx context.Context, call *protocol.Call) (*http.Response, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return nil, &protocol.TransportError{Op: "post", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &protocol.TransportError{Op: "post", Err: err}
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON+", "+contentTypeStream)
	req.Header.Set(headerProtocolVersion, protocol.Version)
	if sid := t.SessionID(); sid != "" {
		req.Header.Set(headerSessionID, sid)
	}
	t.cfg.applyAuth(req)

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &protocol.TransportError{Op: "post", Err: err, Timeout: ctx.Err() == context.DeadlineExceeded}
	}
	return resp, nil
}

func (t *StreamableTransport) captureSession(resp *http.Response) {
	sid := resp.Header.Get(headerSessionID)
	if sid == "" {
		return
	}
	t.mu.Lock()
	t.sessionID = sid
	t.mu.Unlock()
}

// decodeHTTPError attempts a structured JSON-RPC error reply before
// falling back to a generic transport error.
func decodeHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var rpc protocol.Response
	if err := json.Unmarshal(body, &rpc); err == nil && rpc.Error != nil {
		return rpc.Error
	}
	return &protocol.TransportError{Op: "post", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
}

func decodeDirectResponse(body io.Reader) (*protocol.Response, error) {
	var resp protocol.Response
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, &protocol.TransportError{Op: "decode", Err: err}
	}
	return &resp, nil
}

// readStreamedResponse frame-parses the reply body for the message
// whose id matches callID.
func readStreamedResponse(ctx context.Context, body io.ReadCloser, callID int64, timeout time.Duration) (*protocol.Response, error) {
	records := make(chan frame.Record)
	errs := make(chan error, 1)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer body.Close()
		var parser frame.Parser
		buf := make([]byte, 4096)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				for _, rec := range parser.Feed(string(buf[:n])) {
					select {
					case records <- rec:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if rec, ok := parser.Flush(); ok {
					select {
					case records <- rec:
					case <-ctx.Done():
					}
				}
				errs <- io.ErrUnexpectedEOF
				return
			}
		}
	}()

	return awaitMessage(ctx, callID, records, errs, timeout)
}
