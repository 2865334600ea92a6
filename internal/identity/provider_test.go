package identity

import (
	"os"
	"path/filepath"
	"testing"

	"segflow/pkg/models"
)

const directoryYAML = `
endpoints:
  - endpoint_id: host-1
    profile: engineering-laptop
    device_type: laptop
    groups: [engineering, vpn-users]
  - endpoint_id: host-2
    profile: build-server
    device_type: server
    groups: [ci]
  - endpoint_id: ""
    profile: ignored
`

func writeDirectory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "identities.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestFileProviderLookup(t *testing.T) {
	p, err := NewFileProvider(writeDirectory(t, directoryYAML))
	if err != nil {
		t.Fatalf("NewFileProvider failed: %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("loaded %d identities, want 2 (blank id skipped)", p.Len())
	}

	ctx, ok := p.Lookup("host-1")
	if !ok {
		t.Fatalf("host-1 not resolved")
	}
	if ctx.Profile != "engineering-laptop" || ctx.DeviceType != "laptop" || len(ctx.Groups) != 2 {
		t.Fatalf("unexpected context: %+v", ctx)
	}

	if _, ok := p.Lookup("host-unknown"); ok {
		t.Fatalf("unknown endpoint must not resolve")
	}
}

func TestFileProviderMissingFile(t *testing.T) {
	if _, err := NewFileProvider("/nonexistent/identities.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFileProviderReload(t *testing.T) {
	path := writeDirectory(t, directoryYAML)
	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatalf("NewFileProvider failed: %v", err)
	}

	updated := `
endpoints:
  - endpoint_id: host-3
    profile: printer
    device_type: printer
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("failed to rewrite fixture: %v", err)
	}
	if err := p.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if _, ok := p.Lookup("host-1"); ok {
		t.Fatalf("stale entry survived reload")
	}
	if _, ok := p.Lookup("host-3"); !ok {
		t.Fatalf("reloaded entry not resolved")
	}
}

type countingProvider struct {
	calls int
	known map[string]*models.IdentityContext
}

func (c *countingProvider) Lookup(id string) (*models.IdentityContext, bool) {
	c.calls++
	ctx, ok := c.known[id]
	return ctx, ok
}

func TestCachedProviderMemoizesHitsAndMisses(t *testing.T) {
	backing := &countingProvider{known: map[string]*models.IdentityContext{
		"host-1": {EndpointID: "host-1", Profile: "workstation"},
	}}
	cached, err := NewCachedProvider(backing, 16)
	if err != nil {
		t.Fatalf("NewCachedProvider failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, ok := cached.Lookup("host-1"); !ok {
			t.Fatalf("host-1 not resolved")
		}
		if _, ok := cached.Lookup("host-missing"); ok {
			t.Fatalf("unknown endpoint resolved")
		}
	}
	if backing.calls != 2 {
		t.Fatalf("backing called %d times, want 2 (one per distinct key)", backing.calls)
	}

	cached.Invalidate("host-1")
	cached.Lookup("host-1")
	if backing.calls != 3 {
		t.Fatalf("invalidated key did not hit backing provider")
	}
}

func TestResolveAllSkipsUnknown(t *testing.T) {
	backing := &countingProvider{known: map[string]*models.IdentityContext{
		"host-1": {EndpointID: "host-1"},
		"host-2": {EndpointID: "host-2"},
	}}
	got := ResolveAll(backing, []string{"host-1", "host-x", "host-2"})
	if len(got) != 2 {
		t.Fatalf("resolved %d, want 2", len(got))
	}
	if _, ok := got["host-x"]; ok {
		t.Fatalf("unknown endpoint present in result")
	}
}
