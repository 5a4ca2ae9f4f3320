package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaneholloman/weft/internal/frame"
	"github.com/shaneholloman/weft/internal/protocol"
)

// SSETransport opens a subscription per call, waits for the endpoint
// bootstrap record, posts the call to the advertised URL, and awaits
// the matching reply on the same subscription.
type SSETransport struct {
	cfg Config
}

// NewSSE returns an SSE transport for the given config.
func NewSSE(cfg Config) *SSETransport {
	return &SSETransport{cfg: cfg.withDefaults()}
}

// Close is a no-op: each call owns its own subscription.
func (t *SSETransport) Close() error { return nil }

// endpointInfo is the payload of the bootstrap record. Servers differ
// on the field name; a bare string body is accepted as the URL itself.
type endpointInfo struct {
	URI       string `json:"uri"`
	URL       string `json:"url"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

func (e endpointInfo) callURL() string {
	switch {
	case e.URI != "":
		return e.URI
	case e.URL != "":
		return e.URL
	default:
		return e.Endpoint
	}
}

// Send posts call and returns the response whose id matches. The
// subscription reader is released and the connection aborted on every
// exit path.
func (t *SSETransport) Send(ctx context.Context, call *protocol.Call) (*protocol.Response, error) {
	return t.roundTrip(ctx, call, true)
}

// Notify posts call without awaiting a reply.
func (t *SSETransport) Notify(ctx context.Context, call *protocol.Call) error {
	_, err := t.roundTrip(ctx, call, false)
	return err
}

func (t *SSETransport) roundTrip(ctx context.Context, call *protocol.Call, await bool) (*protocol.Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel() // aborts the subscription on every exit path

	// One connect timer bounds the whole bootstrap phase: opening the
	// subscription and waiting for the endpoint record. While the HTTP
	// round trip is pending only cancellation can unblock it, so a
	// watchdog stands in for the timer until headers arrive.
	connect := time.NewTimer(t.cfg.ConnectTimeout)
	defer connect.Stop()
	watchdog := time.AfterFunc(t.cfg.ConnectTimeout, cancel)
	records, errs, err := t.subscribe(ctx)
	watchdog.Stop()
	if err != nil {
		return nil, err
	}

	info, err := t.awaitEndpoint(ctx, records, errs, connect)
	if err != nil {
		return nil, err
	}

	callURL, err := t.resolveCallURL(info.callURL())
	if err != nil {
		return nil, &protocol.TransportError{Op: "connect", Err: err}
	}
	if err := t.post(ctx, callURL, info.SessionID, call); err != nil {
		return nil, err
	}
	if !await {
		return nil, nil
	}
	return awaitMessage(ctx, call.ID, records, errs, t.cfg.ResponseTimeout)
}

// subscribe opens the event stream and starts the single reader
// goroutine. The goroutine exits when the context is cancelled or the
// stream ends, closing the body either way.
func (t *SSETransport) subscribe(ctx context.Context) (<-chan frame.Record, <-chan error, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.Endpoint, nil)
	if err != nil {
		return nil, nil, &protocol.TransportError{Op: "connect", Err: err}
	}
	req.Header.Set("Accept", contentTypeStream)
	t.cfg.applyAuth(req)

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, &protocol.TransportError{Op: "connect", Err: err, Timeout: ctx.Err() != nil}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, nil, &protocol.TransportError{Op: "connect", Err: fmt.Errorf("subscription status %d", resp.StatusCode)}
	}

	records := make(chan frame.Record)
	errs := make(chan error, 1)
	go func() {
		defer resp.Body.Close()
		var parser frame.Parser
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
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
				if err != io.EOF {
					errs <- err
				} else {
					errs <- io.ErrUnexpectedEOF
				}
				return
			}
		}
	}()
	return records, errs, nil
}

// awaitEndpoint reads records until the bootstrap record arrives. The
// timer is shared with the subscription phase so the connect timeout
// covers both.
func (t *SSETransport) awaitEndpoint(ctx context.Context, records <-chan frame.Record, errs <-chan error, timer *time.Timer) (endpointInfo, error) {
	for {
		select {
		case rec := <-records:
			if rec.Type != "endpoint" && rec.Type != "handshake" {
				continue
			}
			var info endpointInfo
			if err := json.Unmarshal([]byte(rec.Data), &info); err != nil {
				// Plain string payload: the data is the URL itself.
				info = endpointInfo{URI: strings.TrimSpace(rec.Data)}
			}
			if info.callURL() == "" {
				return endpointInfo{}, &protocol.TransportError{Op: "connect", Err: fmt.Errorf("endpoint record has no call URL")}
			}
			return info, nil
		case err := <-errs:
			return endpointInfo{}, &protocol.TransportError{Op: "connect", Err: err}
		case <-timer.C:
			return endpointInfo{}, &protocol.TransportError{Op: "connect", Timeout: true, Err: fmt.Errorf("no endpoint record within %s", t.cfg.ConnectTimeout)}
		case <-ctx.Done():
			return endpointInfo{}, &protocol.TransportError{Op: "connect", Err: ctx.Err()}
		}
	}
}

// resolveCallURL resolves a possibly-relative call URL against the
// subscription endpoint.
func (t *SSETransport) resolveCallURL(raw string) (string, error) {
	base, err := url.Parse(t.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func (t *SSETransport) post(ctx context.Context, callURL, sessionID string, call *protocol.Call) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ResponseTimeout)
	defer cancel()

	body, err := json.Marshal(call)
	if err != nil {
		return &protocol.TransportError{Op: "post", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callURL, bytes.NewReader(body))
	if err != nil {
		return &protocol.TransportError{Op: "post", Err: err}
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	if sessionID != "" {
		req.Header.Set(headerSessionID, sessionID)
	}
	t.cfg.applyAuth(req)

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return &protocol.TransportError{Op: "post", Err: err, Timeout: ctx.Err() == context.DeadlineExceeded}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &protocol.TransportError{Op: "post", Err: fmt.Errorf("call post status %d", resp.StatusCode)}
	}
	return nil
}

// awaitMessage reads records until a "message" whose decoded payload id
// equals callID arrives. A response with a mismatched id is never
// returned.
func awaitMessage(ctx context.Context, callID int64, records <-chan frame.Record, errs <-chan error, timeout time.Duration) (*protocol.Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case rec := <-records:
			if rec.Type != "message" && rec.Type != "" {
				continue
			}
			var resp protocol.Response
			if err := json.Unmarshal([]byte(rec.Data), &resp); err != nil {
				continue // not a JSON-RPC payload; keep waiting
			}
			if resp.ID != callID {
				continue
			}
			return &resp, nil
		case err := <-errs:
			return nil, &protocol.TransportError{Op: "await", Err: err}
		case <-timer.C:
			return nil, &protocol.TransportError{Op: "await", Timeout: true, Err: fmt.Errorf("no matching response within %s", timeout)}
		case <-ctx.Done():
			return nil, &protocol.TransportError{Op: "await", Err: ctx.Err()}
		}
	}
}
