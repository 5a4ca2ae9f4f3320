package capability

import (
	"context"
	"reflect"
	"testing"

	"github.com/shaneholloman/weft/internal/auth"
)

type staticProvider struct {
	name string
}

func (p *staticProvider) Name() string        { return p.name }
func (p *staticProvider) Description() string { return "static" }
func (p *staticProvider) ListTools(context.Context) ([]ToolSchema, error) {
	return nil, nil
}
func (p *staticProvider) CallTool(_ context.Context, name string, _ map[string]any) (*ToolCallResult, error) {
	return TextResult("ok: " + name), nil
}

func staticConstructor(name string) Constructor {
	return func(auth.Credentials, map[string]string) (Provider, error) {
		return &staticProvider{name: name}, nil
	}
}

func testAccounts() []AccountDefinition {
	return []AccountDefinition{
		{
			ID:                  "mail-account",
			CredentialType:      "google",
			AuthMode:            auth.ModeOAuth,
			RequiredEnvKeys:     []string{"GOOGLE_CLIENT_ID"},
			ExtraCredentialKeys: []string{"workspace"},
			Capabilities: []Descriptor{
				{
					ID:         "mail",
					Name:       "Mail",
					ServerName: "Mail",
					New:        staticConstructor("Mail"),
					Artifact:   &ArtifactClass{Type: "message", ContentLocation: ContentExternalLink},
					Guidance:   "Prefer drafts over direct sends.",
				},
				{
					ID:         "docs",
					Name:       "Docs",
					ServerName: "Docs",
					New:        staticConstructor("Docs"),
					Guidance:   "Link documents rather than pasting content.",
				},
			},
		},
		{
			ID:              "sandbox-account",
			CredentialType:  "sandbox",
			AuthMode:        auth.ModeEnvBinding,
			RequiredEnvKeys: []string{"SANDBOX_URL", "GOOGLE_CLIENT_ID"},
			Capabilities: []Descriptor{
				{ID: "sandbox", Name: "Sandbox", ServerName: "Sandbox", New: staticConstructor("Sandbox")},
			},
		},
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	accounts := testAccounts()
	accounts[1].Capabilities[0].ServerName = "Mail"
	if _, err := NewRegistry(accounts); err == nil {
		t.Error("duplicate server name accepted")
	}

	accounts = testAccounts()
	accounts[1].ID = "mail-account"
	if _, err := NewRegistry(accounts); err == nil {
		t.Error("duplicate account id accepted")
	}
}

func TestNewRegistryRejectsSeparatorInName(t *testing.T) {
	accounts := testAccounts()
	accounts[0].Capabilities[0].ServerName = "Mail__v2"
	if _, err := NewRegistry(accounts); err == nil {
		t.Error("server name with separator accepted")
	}
}

func TestLookups(t *testing.T) {
	r, err := NewRegistry(testAccounts())
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Account("mail-account"); !ok {
		t.Error("account lookup failed")
	}
	if accts := r.ByCredentialType("google"); len(accts) != 1 || accts[0].ID != "mail-account" {
		t.Errorf("ByCredentialType = %v", accts)
	}
	if desc, ok := r.Capability("mail-account", "docs"); !ok || desc.ServerName != "Docs" {
		t.Errorf("Capability = %+v, %v", desc, ok)
	}

	acct, desc, ok := r.ByServerName("Sandbox")
	if !ok || acct.ID != "sandbox-account" || desc.ID != "sandbox" {
		t.Errorf("ByServerName = %v %v %v", acct, desc, ok)
	}
	if _, _, ok := r.ByServerName("Nope"); ok {
		t.Error("unknown server name resolved")
	}
}

func TestRequiredKeysUnion(t *testing.T) {
	r, err := NewRegistry(testAccounts())
	if err != nil {
		t.Fatal(err)
	}

	envKeys, credKeys := r.RequiredKeys([]string{"Mail", "Docs", "Sandbox", "Missing"})
	wantEnv := []string{"GOOGLE_CLIENT_ID", "SANDBOX_URL"}
	if !reflect.DeepEqual(envKeys, wantEnv) {
		t.Errorf("envKeys = %v, want %v", envKeys, wantEnv)
	}
	if !reflect.DeepEqual(credKeys, []string{"workspace"}) {
		t.Errorf("credKeys = %v", credKeys)
	}
}

func TestGuidanceIncludedOnce(t *testing.T) {
	r, err := NewRegistry(testAccounts())
	if err != nil {
		t.Fatal(err)
	}

	got := r.Guidance([]string{"Mail", "Mail", "Docs", "Sandbox"})
	want := "Prefer drafts over direct sends.\n\nLink documents rather than pasting content."
	if got != want {
		t.Errorf("Guidance = %q, want %q", got, want)
	}
}

func TestToolCallResultText(t *testing.T) {
	r := &ToolCallResult{Content: []ContentBlock{
		{Type: "text", Text: "one"},
		{Type: "image", Data: "ignored"},
		{Type: "text", Text: "two"},
	}}
	if r.Text() != "one\ntwo" {
		t.Errorf("Text() = %q", r.Text())
	}
}
