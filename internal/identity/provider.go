// Package identity resolves endpoint identifiers to directory context
// (profile, device type, group membership). Identity is an enrichment:
// endpoints with no resolvable context still cluster on behavior alone.
package identity

import (
	"fmt"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"segflow/pkg/models"
)

// Provider resolves an endpoint id to its identity context. A nil
// context with ok=false means the endpoint is unknown to the directory,
// which is not an error.
type Provider interface {
	Lookup(endpointID string) (*models.IdentityContext, bool)
}

// NoopProvider resolves nothing. Used when no identity source is
// configured.
type NoopProvider struct{}

func (NoopProvider) Lookup(string) (*models.IdentityContext, bool) { return nil, false }

type fileDocument struct {
	Endpoints []struct {
		EndpointID string   `yaml:"endpoint_id"`
		Profile    string   `yaml:"profile"`
		DeviceType string   `yaml:"device_type"`
		Groups     []string `yaml:"groups"`
	} `yaml:"endpoints"`
}

// FileProvider serves identity context from a YAML directory export
// loaded once at construction. Reload builds a fresh index and swaps it
// in atomically with respect to concurrent lookups.
type FileProvider struct {
	path string

	mu    sync.RWMutex
	index map[string]*models.IdentityContext
}

// NewFileProvider loads the directory export at path.
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the backing file and replaces the in-memory index.
func (p *FileProvider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read identity file %s: %w", p.path, err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse identity file %s: %w", p.path, err)
	}

	index := make(map[string]*models.IdentityContext, len(doc.Endpoints))
	for _, e := range doc.Endpoints {
		if e.EndpointID == "" {
			continue
		}
		index[e.EndpointID] = &models.IdentityContext{
			EndpointID: e.EndpointID,
			Profile:    e.Profile,
			DeviceType: e.DeviceType,
			Groups:     e.Groups,
		}
	}

	p.mu.Lock()
	p.index = index
	p.mu.Unlock()
	return nil
}

// Lookup resolves one endpoint against the loaded directory export.
func (p *FileProvider) Lookup(endpointID string) (*models.IdentityContext, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ctx, ok := p.index[endpointID]
	return ctx, ok
}

// Len reports the number of loaded identities.
func (p *FileProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.index)
}

type cacheEntry struct {
	ctx *models.IdentityContext
	ok  bool
}

// CachedProvider memoizes lookups against a slower backing provider.
// Negative results are cached too, so repeated lookups of unknown
// endpoints stay cheap.
type CachedProvider struct {
	backing Provider
	cache   *lru.Cache[string, cacheEntry]
}

// NewCachedProvider wraps backing with an LRU of the given capacity.
func NewCachedProvider(backing Provider, capacity int) (*CachedProvider, error) {
	cache, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}
	return &CachedProvider{backing: backing, cache: cache}, nil
}

// Lookup consults the cache first and falls through to the backing
// provider on miss.
func (c *CachedProvider) Lookup(endpointID string) (*models.IdentityContext, bool) {
	if e, hit := c.cache.Get(endpointID); hit {
		return e.ctx, e.ok
	}
	ctx, ok := c.backing.Lookup(endpointID)
	c.cache.Add(endpointID, cacheEntry{ctx: ctx, ok: ok})
	return ctx, ok
}

// Invalidate drops one endpoint from the cache, forcing the next lookup
// to hit the backing provider.
func (c *CachedProvider) Invalidate(endpointID string) {
	c.cache.Remove(endpointID)
}

// ResolveAll looks up a batch of endpoint ids and returns the contexts
// that resolved. Unknown endpoints are simply absent from the result.
func ResolveAll(p Provider, endpointIDs []string) map[string]*models.IdentityContext {
	out := make(map[string]*models.IdentityContext)
	for _, id := range endpointIDs {
		if ctx, ok := p.Lookup(id); ok && ctx != nil {
			out[id] = ctx
		}
	}
	return out
}
