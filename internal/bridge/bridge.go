// Package bridge resolves qualified tool names to hosted capabilities
// or remotely configured MCP servers and executes the call, refreshing
// account credentials when they are near expiry.
package bridge

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/shaneholloman/weft/internal/auth"
	"github.com/shaneholloman/weft/internal/capability"
	"github.com/shaneholloman/weft/internal/protocol"
	"github.com/shaneholloman/weft/internal/transport"
)

// Separator splits a qualified tool name into provider and method.
const Separator = "__"

// TransportKind selects the wire transport for a remote server.
type TransportKind string

const (
	TransportSSE        TransportKind = "sse"
	TransportStreamable TransportKind = "streamable"
)

// RemoteServer is a server configured by the caller outside the static
// registry.
type RemoteServer struct {
	Name        string
	Endpoint    string
	Transport   TransportKind
	AuthMode    auth.Mode
	AccessToken string
}

// CredentialStore is the slice of the host's credential store the
// bridge needs: per-account get and replace.
type CredentialStore interface {
	Get(accountID string) (auth.Credentials, bool)
	Put(accountID string, c auth.Credentials) error
}

// SchemaSource returns cached tool schemas for a configured remote
// server, fetched and stored by the host.
type SchemaSource func(serverName string) []capability.ToolSchema

// Bridge dispatches qualified tool calls. One bridge serves one
// workflow instance; it is not safe for concurrent use, which is fine
// because a workflow executes turns strictly sequentially.
type Bridge struct {
	registry *capability.Registry
	creds    CredentialStore
	remotes  map[string]RemoteServer
	schemas  SchemaSource
	tcfg     transport.Config

	env func(string) string
	now func() time.Time
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithEnv overrides environment lookup (tests).
func WithEnv(env func(string) string) Option {
	return func(b *Bridge) { b.env = env }
}

// WithClock overrides the clock (tests).
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// WithSchemaSource supplies cached tool schemas for remote servers.
func WithSchemaSource(s SchemaSource) Option {
	return func(b *Bridge) { b.schemas = s }
}

// WithTransportConfig sets the template applied to every remote-call
// transport: timeouts and the HTTP client. Endpoint and auth are filled
// per server.
func WithTransportConfig(cfg transport.Config) Option {
	return func(b *Bridge) { b.tcfg = cfg }
}

// New builds a bridge over the registry, the workflow's credential
// store, and any remote servers configured for this workflow.
func New(registry *capability.Registry, creds CredentialStore, remotes []RemoteServer, opts ...Option) *Bridge {
	b := &Bridge{
		registry: registry,
		creds:    creds,
		remotes:  make(map[string]RemoteServer, len(remotes)),
		env:      os.Getenv,
		now:      time.Now,
	}
	for _, r := range remotes {
		b.remotes[r.Name] = r
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// CatalogueEntry is one tool the agent may call, with the namespace it
// is qualified under.
type CatalogueEntry struct {
	Server string
	Schema capability.ToolSchema
}

// QualifiedName returns the flat identifier presented to the model.
func (e CatalogueEntry) QualifiedName() string {
	return e.Server + Separator + e.Schema.Name
}

// Catalogue advertises every tool of the given active servers: hosted
// capabilities list in-process, remote servers come from the host's
// schema cache.
func (b *Bridge) Catalogue(ctx context.Context, serverNames []string) ([]CatalogueEntry, error) {
	var entries []CatalogueEntry
	for _, name := range serverNames {
		if _, desc, ok := b.registry.ByServerName(name); ok {
			provider, err := b.buildHosted(ctx, name, desc)
			if err != nil {
				return nil, err
			}
			schemas, err := provider.ListTools(ctx)
			if err != nil {
				return nil, fmt.Errorf("list tools for %s: %w", name, err)
			}
			for _, s := range schemas {
				entries = append(entries, CatalogueEntry{Server: name, Schema: s})
			}
			continue
		}
		if _, ok := b.remotes[name]; ok && b.schemas != nil {
			for _, s := range b.schemas(name) {
				entries = append(entries, CatalogueEntry{Server: name, Schema: s})
			}
		}
	}
	return entries, nil
}

// Execute resolves qualifiedName and runs the tool. Provider-level
// failures come back as a result with IsError set; only wire,
// resolution, and configuration failures return a Go error.
func (b *Bridge) Execute(ctx context.Context, qualifiedName string, args map[string]any) (*capability.ToolCallResult, error) {
	parts := strings.Split(qualifiedName, Separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, &NotFoundError{Name: qualifiedName}
	}
	providerName, method := parts[0], parts[1]

	if _, desc, ok := b.registry.ByServerName(providerName); ok {
		return b.executeHosted(ctx, providerName, desc, method, args)
	}
	if server, ok := b.remotes[providerName]; ok {
		return b.executeRemote(ctx, server, method, args)
	}
	return nil, &NotFoundError{Name: providerName}
}

func (b *Bridge) executeHosted(ctx context.Context, serverName string, desc *capability.Descriptor, method string, args map[string]any) (*capability.ToolCallResult, error) {
	provider, err := b.buildHosted(ctx, serverName, desc)
	if err != nil {
		return nil, err
	}

	if result := b.validateArgs(ctx, provider, method, args); result != nil {
		return result, nil
	}
	return provider.CallTool(ctx, method, args)
}

// buildHosted refreshes credentials if needed, gathers declared env
// bindings and extra credential keys, and constructs the provider.
func (b *Bridge) buildHosted(ctx context.Context, serverName string, desc *capability.Descriptor) (capability.Provider, error) {
	acct, _, _ := b.registry.ByServerName(serverName)

	creds, _ := b.creds.Get(acct.ID)
	if acct.AuthMode == auth.ModeOAuth && creds.NeedsRefresh(b.now()) {
		refreshed, err := b.refresh(ctx, acct, creds)
		if err != nil {
			return nil, err
		}
		creds = refreshed
	}

	env := make(map[string]string, len(acct.RequiredEnvKeys))
	for _, key := range acct.RequiredEnvKeys {
		val := b.env(key)
		if val == "" {
			return nil, &ConfigError{Reason: fmt.Sprintf("missing environment binding %s for account %s", key, acct.ID)}
		}
		env[key] = val
	}
	if len(acct.ExtraCredentialKeys) > 0 {
		if creds.Extra == nil {
			creds.Extra = make(map[string]string, len(acct.ExtraCredentialKeys))
		}
		for _, key := range acct.ExtraCredentialKeys {
			if _, have := creds.Extra[key]; !have {
				creds.Extra[key] = b.env(key)
			}
		}
	}

	provider, err := desc.New(creds, env)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", serverName, err)
	}
	return provider, nil
}

// refresh performs exactly one token refresh and persists the result.
func (b *Bridge) refresh(ctx context.Context, acct *capability.AccountDefinition, creds auth.Credentials) (auth.Credentials, error) {
	if acct.Refresh == nil {
		return auth.Credentials{}, &ConfigError{Reason: fmt.Sprintf("account %s has no refresh function", acct.ID)}
	}
	prefix := strings.ToUpper(strings.ReplaceAll(acct.CredentialType, "-", "_"))
	client := auth.ClientConfig{
		ID:     b.env(prefix + "_CLIENT_ID"),
		Secret: b.env(prefix + "_CLIENT_SECRET"),
	}
	if client.ID == "" || client.Secret == "" {
		return auth.Credentials{}, &ConfigError{Reason: fmt.Sprintf("missing %s_CLIENT_ID/%s_CLIENT_SECRET for account %s", prefix, prefix, acct.ID)}
	}

	refreshed, err := acct.Refresh(ctx, creds, client)
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("refresh credentials for %s: %w", acct.ID, err)
	}
	refreshed.Extra = creds.Extra
	refreshed.APIKey = creds.APIKey
	if err := b.creds.Put(acct.ID, refreshed); err != nil {
		return auth.Credentials{}, fmt.Errorf("store refreshed credentials for %s: %w", acct.ID, err)
	}
	log.Printf("bridge: refreshed credentials for account %s (%s)", acct.ID, refreshed.Masked())
	return refreshed, nil
}

// validateArgs checks args against the tool's declared input schema.
// A violation is a tool-level failure the model can react to, so it
// surfaces as an IsError result rather than an error return. Tools the
// provider does not advertise are left for the provider to reject.
func (b *Bridge) validateArgs(ctx context.Context, provider capability.Provider, method string, args map[string]any) *capability.ToolCallResult {
	schemas, err := provider.ListTools(ctx)
	if err != nil {
		return nil
	}
	for _, s := range schemas {
		if s.Name != method || len(s.InputSchema) == 0 {
			continue
		}
		result, err := gojsonschema.Validate(
			gojsonschema.NewGoLoader(s.InputSchema),
			gojsonschema.NewGoLoader(args),
		)
		if err != nil || result.Valid() {
			return nil
		}
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return capability.ErrorResult(fmt.Sprintf("invalid arguments for %s: %s", method, strings.Join(problems, "; ")))
	}
	return nil
}

func (b *Bridge) executeRemote(ctx context.Context, server RemoteServer, method string, args map[string]any) (*capability.ToolCallResult, error) {
	cfg := b.tcfg
	cfg.Endpoint = server.Endpoint
	if server.AuthMode == auth.ModeOAuth {
		cfg.AuthToken = server.AccessToken
	}

	var tr protocol.Transport
	switch server.Transport {
	case TransportSSE:
		tr = transport.NewSSE(cfg)
	default:
		tr = transport.NewStreamable(cfg)
	}

	client := protocol.NewClient(server.Name, tr)
	defer func() { _ = client.Close() }()

	if _, err := client.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", server.Name, err)
	}
	return client.CallTool(ctx, method, args)
}
