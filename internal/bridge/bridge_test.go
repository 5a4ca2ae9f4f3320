package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shaneholloman/weft/internal/auth"
	"github.com/shaneholloman/weft/internal/capability"
	"github.com/shaneholloman/weft/internal/protocol"
	"github.com/shaneholloman/weft/internal/transport"
)

type memCreds struct {
	m    map[string]auth.Credentials
	puts int
}

func newMemCreds() *memCreds { return &memCreds{m: make(map[string]auth.Credentials)} }

func (s *memCreds) Get(id string) (auth.Credentials, bool) {
	c, ok := s.m[id]
	return c, ok
}

func (s *memCreds) Put(id string, c auth.Credentials) error {
	s.puts++
	s.m[id] = c
	return nil
}

// recordingProvider remembers how it was constructed and what it was
// asked to run.
type recordingProvider struct {
	creds  auth.Credentials
	env    map[string]string
	tools  []capability.ToolSchema
	calls  []string
	result *capability.ToolCallResult
}

func (p *recordingProvider) Name() string        { return "Mail" }
func (p *recordingProvider) Description() string { return "mail" }
func (p *recordingProvider) ListTools(context.Context) ([]capability.ToolSchema, error) {
	return p.tools, nil
}
func (p *recordingProvider) CallTool(_ context.Context, name string, _ map[string]any) (*capability.ToolCallResult, error) {
	p.calls = append(p.calls, name)
	if p.result != nil {
		return p.result, nil
	}
	return capability.TextResult("sent"), nil
}

type fixture struct {
	bridge    *Bridge
	creds     *memCreds
	provider  *recordingProvider
	refreshes int
	env       map[string]string
	now       time.Time
}

func newFixture(t *testing.T, acctMut func(*capability.AccountDefinition)) *fixture {
	t.Helper()

	f := &fixture{
		creds: newMemCreds(),
		provider: &recordingProvider{
			tools: []capability.ToolSchema{{
				Name: "send",
				InputSchema: map[string]any{
					"type":     "object",
					"required": []any{"to"},
					"properties": map[string]any{
						"to": map[string]any{"type": "string"},
					},
				},
				ApprovalRequiredFields: []string{"to", "subject"},
			}},
		},
		env: map[string]string{},
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	acct := capability.AccountDefinition{
		ID:             "mail-account",
		CredentialType: "google",
		AuthMode:       auth.ModeOAuth,
		Refresh: func(_ context.Context, creds auth.Credentials, _ auth.ClientConfig) (auth.Credentials, error) {
			f.refreshes++
			return auth.Credentials{
				AccessToken:  "fresh-token",
				RefreshToken: creds.RefreshToken,
				ExpiresAt:    f.now.Add(time.Hour),
			}, nil
		},
		Capabilities: []capability.Descriptor{{
			ID:         "mail",
			Name:       "Mail",
			ServerName: "Mail",
			New: func(creds auth.Credentials, env map[string]string) (capability.Provider, error) {
				f.provider.creds = creds
				f.provider.env = env
				return f.provider, nil
			},
		}},
	}
	if acctMut != nil {
		acctMut(&acct)
	}

	registry, err := capability.NewRegistry([]capability.AccountDefinition{acct})
	if err != nil {
		t.Fatal(err)
	}
	f.bridge = New(registry, f.creds, nil,
		WithEnv(func(k string) string { return f.env[k] }),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func TestMalformedQualifiedName(t *testing.T) {
	f := newFixture(t, nil)
	for _, name := range []string{"plainname", "Mail__send__extra", "__send", "Mail__"} {
		_, err := f.bridge.Execute(context.Background(), name, nil)
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("Execute(%q) err = %v, want NotFoundError", name, err)
		}
	}
}

func TestUnknownServer(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.bridge.Execute(context.Background(), "Unknown__method", nil)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if !strings.Contains(err.Error(), "unknown server") {
		t.Errorf("message = %q", err)
	}
}

func TestRefreshExactlyOnceWhenNearExpiry(t *testing.T) {
	f := newFixture(t, nil)
	f.env["GOOGLE_CLIENT_ID"] = "cid"
	f.env["GOOGLE_CLIENT_SECRET"] = "cs"
	f.creds.m["mail-account"] = auth.Credentials{
		AccessToken:  "stale",
		RefreshToken: "rt",
		ExpiresAt:    f.now.Add(3 * time.Minute),
	}

	if _, err := f.bridge.Execute(context.Background(), "Mail__send", map[string]any{"to": "a@b.c"}); err != nil {
		t.Fatal(err)
	}
	if f.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", f.refreshes)
	}
	if f.provider.creds.AccessToken != "fresh-token" {
		t.Errorf("provider saw token %q, want fresh-token", f.provider.creds.AccessToken)
	}
	stored, _ := f.creds.Get("mail-account")
	if stored.AccessToken != "fresh-token" {
		t.Errorf("stored token = %q, want fresh-token", stored.AccessToken)
	}
}

func TestNoRefreshWhenExpiryFar(t *testing.T) {
	f := newFixture(t, nil)
	f.creds.m["mail-account"] = auth.Credentials{
		AccessToken:  "good",
		RefreshToken: "rt",
		ExpiresAt:    f.now.Add(time.Hour),
	}

	if _, err := f.bridge.Execute(context.Background(), "Mail__send", map[string]any{"to": "a@b.c"}); err != nil {
		t.Fatal(err)
	}
	if f.refreshes != 0 {
		t.Errorf("refreshes = %d, want 0", f.refreshes)
	}
}

func TestRefreshMissingClientConfig(t *testing.T) {
	f := newFixture(t, nil)
	f.creds.m["mail-account"] = auth.Credentials{
		AccessToken:  "stale",
		RefreshToken: "rt",
		ExpiresAt:    f.now.Add(-time.Minute),
	}

	_, err := f.bridge.Execute(context.Background(), "Mail__send", map[string]any{"to": "a@b.c"})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestMissingEnvBinding(t *testing.T) {
	f := newFixture(t, func(a *capability.AccountDefinition) {
		a.AuthMode = auth.ModeEnvBinding
		a.RequiredEnvKeys = []string{"MAIL_BASE_URL"}
	})

	_, err := f.bridge.Execute(context.Background(), "Mail__send", map[string]any{"to": "a@b.c"})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if !strings.Contains(err.Error(), "MAIL_BASE_URL") {
		t.Errorf("message = %q", err)
	}
}

func TestGathersEnvAndExtraCredentialKeys(t *testing.T) {
	f := newFixture(t, func(a *capability.AccountDefinition) {
		a.AuthMode = auth.ModeEnvBinding
		a.RequiredEnvKeys = []string{"MAIL_BASE_URL"}
		a.ExtraCredentialKeys = []string{"workspace"}
	})
	f.env["MAIL_BASE_URL"] = "https://mail.internal"
	f.env["workspace"] = "acme"

	if _, err := f.bridge.Execute(context.Background(), "Mail__send", map[string]any{"to": "a@b.c"}); err != nil {
		t.Fatal(err)
	}
	if f.provider.env["MAIL_BASE_URL"] != "https://mail.internal" {
		t.Errorf("env = %v", f.provider.env)
	}
	if f.provider.creds.Extra["workspace"] != "acme" {
		t.Errorf("extra = %v", f.provider.creds.Extra)
	}
}

func TestToolErrorResultIsNotAnError(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.result = capability.ErrorResult("mailbox full")

	result, err := f.bridge.Execute(context.Background(), "Mail__send", map[string]any{"to": "a@b.c"})
	if err != nil {
		t.Fatalf("tool-level failure surfaced as error: %v", err)
	}
	if !result.IsError {
		t.Error("IsError not set")
	}
}

func TestSchemaValidationRejectsBadArgs(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.bridge.Execute(context.Background(), "Mail__send", map[string]any{"cc": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("invalid arguments accepted")
	}
	if !strings.Contains(result.Text(), "to") {
		t.Errorf("violation text = %q", result.Text())
	}
	if len(f.provider.calls) != 0 {
		t.Errorf("provider was called despite invalid args: %v", f.provider.calls)
	}
}

func TestCatalogueQualifiesNames(t *testing.T) {
	f := newFixture(t, nil)
	entries, err := f.bridge.Catalogue(context.Background(), []string{"Mail"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].QualifiedName() != "Mail__send" {
		t.Errorf("entries = %+v", entries)
	}
}

// mcpHandler is a minimal streamable MCP server for remote dispatch tests.
func mcpHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call protocol.Call
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("bad call body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		switch call.Method {
		case protocol.MethodInitialize:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-03-26","capabilities":{},"serverInfo":{"name":"remote","version":"1"}}}`, call.ID)
		case protocol.MethodInitialized:
			w.WriteHeader(http.StatusAccepted)
		case protocol.MethodCallTool:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"remote ok"}]}}`, call.ID)
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, call.ID)
		}
	})
}

func TestRemoteTransportTimeoutsApplied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var call protocol.Call
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("bad call body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		switch call.Method {
		case protocol.MethodInitialize:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-03-26","capabilities":{},"serverInfo":{"name":"slow","version":"1"}}}`, call.ID)
		case protocol.MethodInitialized:
			w.WriteHeader(http.StatusAccepted)
		default:
			<-r.Context().Done() // stalls every tool call
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newFixture(t, nil)
	remote := RemoteServer{Name: "Slow", Endpoint: srv.URL, Transport: TransportStreamable}
	registry, _ := capability.NewRegistry(nil)
	b := New(registry, f.creds, []RemoteServer{remote},
		WithTransportConfig(transport.Config{ResponseTimeout: 100 * time.Millisecond}))

	start := time.Now()
	_, err := b.Execute(context.Background(), "Slow__create", map[string]any{"title": "x"})
	elapsed := time.Since(start)

	if !protocol.IsTimeout(err) {
		t.Fatalf("err = %v, want transport timeout", err)
	}
	if elapsed > time.Second {
		t.Errorf("returned after %s, want ~100ms", elapsed)
	}
}

func TestRemoteServerDispatch(t *testing.T) {
	srv := httptest.NewServer(mcpHandler(t))
	defer srv.Close()

	f := newFixture(t, nil)
	remote := RemoteServer{
		Name:      "Tracker",
		Endpoint:  srv.URL,
		Transport: TransportStreamable,
	}
	registry, _ := capability.NewRegistry(nil)
	b := New(registry, f.creds, []RemoteServer{remote})

	result, err := b.Execute(context.Background(), "Tracker__create_issue", map[string]any{"title": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text() != "remote ok" {
		t.Errorf("text = %q", result.Text())
	}
}
