package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type fakeTransport struct {
	calls     []*Call
	notified  []*Call
	responses map[string]*Response
	err       error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(map[string]*Response)}
}

func (f *fakeTransport) respond(method, result string) {
	f.responses[method] = &Response{JSONRPC: "2.0", Result: json.RawMessage(result)}
}

func (f *fakeTransport) Send(_ context.Context, call *Call) (*Response, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	resp, ok := f.responses[call.Method]
	if !ok {
		return nil, errors.New("no canned response for " + call.Method)
	}
	out := *resp
	out.ID = call.ID
	return &out, nil
}

func (f *fakeTransport) Notify(_ context.Context, call *Call) error {
	f.notified = append(f.notified, call)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func TestSequentialIDs(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(MethodListTools, `{"tools":[]}`)
	c := NewClient("test", ft)

	for i := 0; i < 3; i++ {
		if _, err := c.ListTools(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	for i, call := range ft.calls {
		if call.ID != int64(i+1) {
			t.Errorf("call %d id = %d, want %d", i, call.ID, i+1)
		}
	}
}

func TestInitializeFiresNotification(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(MethodInitialize, `{"protocolVersion":"2025-03-26","capabilities":{"tools":{}},"serverInfo":{"name":"peer","version":"2.1"}}`)
	c := NewClient("test", ft)

	result, err := c.Initialize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.ServerInfo.Name != "peer" {
		t.Errorf("server name = %q", result.ServerInfo.Name)
	}
	if len(ft.notified) != 1 || ft.notified[0].Method != MethodInitialized {
		t.Errorf("notifications = %+v", ft.notified)
	}
	if ft.notified[0].ID != 0 {
		t.Error("notification carries an id")
	}
}

func TestListToolsMissingFieldYieldsEmpty(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(MethodListTools, `{}`)
	c := NewClient("test", ft)

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tools == nil || len(tools) != 0 {
		t.Errorf("tools = %#v, want empty slice", tools)
	}
}

func TestListToolsDecodesSchemas(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(MethodListTools, `{"tools":[{"name":"send","description":"Send a message","inputSchema":{"type":"object"}}]}`)
	c := NewClient("test", ft)

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 || tools[0].Name != "send" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestCallToolNormalizesResult(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(MethodCallTool, `{"content":[{"type":"text","text":"done"}],"structuredContent":{"url":"https://x/1"}}`)
	c := NewClient("test", ft)

	result, err := c.CallTool(context.Background(), "send", map[string]any{"to": "a"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text() != "done" {
		t.Errorf("text = %q", result.Text())
	}
	if result.StructuredContent["url"] != "https://x/1" {
		t.Errorf("structured = %v", result.StructuredContent)
	}

	var params map[string]any
	raw, _ := json.Marshal(ft.calls[0].Params)
	_ = json.Unmarshal(raw, &params)
	if params["name"] != "send" {
		t.Errorf("params = %v", params)
	}
}

func TestWireErrorConversion(t *testing.T) {
	ft := newFakeTransport()
	ft.responses[MethodCallTool] = &Response{
		JSONRPC: "2.0",
		Error:   &RPCError{Code: -32601, Message: "method not found"},
	}
	c := NewClient("test", ft)

	_, err := c.CallTool(context.Background(), "nope", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "method not found (code: -32601)") {
		t.Errorf("error = %q", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Error("RPCError not recoverable with errors.As")
	}
}

func TestHostedClientRefusesWireSends(t *testing.T) {
	c := NewHostedClient("hosted")
	if _, err := c.ListTools(context.Background()); !errors.Is(err, ErrHostedClient) {
		t.Errorf("err = %v, want ErrHostedClient", err)
	}
	if _, err := c.CallTool(context.Background(), "x", nil); !errors.Is(err, ErrHostedClient) {
		t.Errorf("err = %v, want ErrHostedClient", err)
	}
}
