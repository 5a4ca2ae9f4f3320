package capability

import (
	"fmt"
	"strings"

	"github.com/shaneholloman/weft/internal/auth"
)

// ContentLocation classifies where a capability's artifacts live.
type ContentLocation string

const (
	ContentExternalLink ContentLocation = "external-link"
	ContentInline       ContentLocation = "inline"
)

// ArtifactClass tells the agent loop how to extract an artifact from a
// successful tool call.
type ArtifactClass struct {
	Type            string
	ContentLocation ContentLocation
}

// URLPattern recognizes links belonging to a capability, used for
// link-preview enrichment elsewhere in the product.
type URLPattern struct {
	Regex         string
	ResourceType  string
	FetchToolName string
}

// Constructor builds a provider instance from the account's credentials
// and any declared environment bindings.
type Constructor func(creds auth.Credentials, env map[string]string) (Provider, error)

// Descriptor is one capability owned by an account.
type Descriptor struct {
	ID          string
	Name        string
	ServerName  string // protocol-visible namespace; no separator characters
	Description string
	New         Constructor
	Artifact    *ArtifactClass
	URLPatterns []URLPattern
	Guidance    string // injected into the agent's instructions when active
}

// AccountDefinition is one credential owner and the capabilities it
// exposes. Definitions are process-wide static configuration.
type AccountDefinition struct {
	ID                  string
	CredentialType      string
	AuthMode            auth.Mode
	Capabilities        []Descriptor
	Refresh             auth.RefreshFunc
	RequiredEnvKeys     []string
	ExtraCredentialKeys []string
}

// Registry is the immutable directory of accounts and capabilities.
// The serverName index is the hot path used during tool dispatch.
type Registry struct {
	accounts []AccountDefinition
	byID     map[string]*AccountDefinition
	byServer map[string]registryEntry
}

type registryEntry struct {
	account    *AccountDefinition
	descriptor *Descriptor
}

// NewRegistry validates and indexes the given account definitions.
// Every capability's protocol-visible server name must be unique
// process-wide and usable as a namespace prefix.
func NewRegistry(accounts []AccountDefinition) (*Registry, error) {
	r := &Registry{
		accounts: accounts,
		byID:     make(map[string]*AccountDefinition),
		byServer: make(map[string]registryEntry),
	}
	for i := range r.accounts {
		acct := &r.accounts[i]
		if acct.ID == "" {
			return nil, fmt.Errorf("registry: account %d has no id", i)
		}
		if _, dup := r.byID[acct.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate account id %q", acct.ID)
		}
		r.byID[acct.ID] = acct

		for j := range acct.Capabilities {
			desc := &acct.Capabilities[j]
			if desc.ServerName == "" {
				return nil, fmt.Errorf("registry: capability %q has no server name", desc.ID)
			}
			if strings.Contains(desc.ServerName, "__") {
				return nil, fmt.Errorf("registry: server name %q contains namespace separator", desc.ServerName)
			}
			if _, dup := r.byServer[desc.ServerName]; dup {
				return nil, fmt.Errorf("registry: duplicate server name %q", desc.ServerName)
			}
			r.byServer[desc.ServerName] = registryEntry{account: acct, descriptor: desc}
		}
	}
	return r, nil
}

// Account returns an account definition by id.
func (r *Registry) Account(id string) (*AccountDefinition, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Accounts returns all account definitions.
func (r *Registry) Accounts() []AccountDefinition {
	return r.accounts
}

// ByCredentialType returns every account with the given credential type.
func (r *Registry) ByCredentialType(credType string) []*AccountDefinition {
	var out []*AccountDefinition
	for i := range r.accounts {
		if r.accounts[i].CredentialType == credType {
			out = append(out, &r.accounts[i])
		}
	}
	return out
}

// Capability returns a capability by id within an account.
func (r *Registry) Capability(accountID, capabilityID string) (*Descriptor, bool) {
	acct, ok := r.byID[accountID]
	if !ok {
		return nil, false
	}
	for i := range acct.Capabilities {
		if acct.Capabilities[i].ID == capabilityID {
			return &acct.Capabilities[i], true
		}
	}
	return nil, false
}

// ByServerName resolves a protocol-visible server name to its
// capability and owning account. This is the dispatch hot path.
func (r *Registry) ByServerName(serverName string) (*AccountDefinition, *Descriptor, bool) {
	e, ok := r.byServer[serverName]
	if !ok {
		return nil, nil, false
	}
	return e.account, e.descriptor, true
}

// RequiredKeys returns the union of required environment-binding keys
// and extra credential keys across the given active server names.
func (r *Registry) RequiredKeys(serverNames []string) (envKeys, credKeys []string) {
	seenEnv := make(map[string]bool)
	seenCred := make(map[string]bool)
	for _, name := range serverNames {
		e, ok := r.byServer[name]
		if !ok {
			continue
		}
		for _, k := range e.account.RequiredEnvKeys {
			if !seenEnv[k] {
				seenEnv[k] = true
				envKeys = append(envKeys, k)
			}
		}
		for _, k := range e.account.ExtraCredentialKeys {
			if !seenCred[k] {
				seenCred[k] = true
				credKeys = append(credKeys, k)
			}
		}
	}
	return envKeys, credKeys
}

// Guidance concatenates the guidance text of the given active server
// names, each capability's guidance included at most once.
func (r *Registry) Guidance(serverNames []string) string {
	seen := make(map[string]bool)
	var parts []string
	for _, name := range serverNames {
		e, ok := r.byServer[name]
		if !ok || e.descriptor.Guidance == "" {
			continue
		}
		if seen[e.descriptor.ID] {
			continue
		}
		seen[e.descriptor.ID] = true
		parts = append(parts, e.descriptor.Guidance)
	}
	return strings.Join(parts, "\n\n")
}
