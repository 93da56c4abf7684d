package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryMetadataCache implements MetadataCache in process memory
type MemoryMetadataCache struct {
	mu      sync.RWMutex
	entries map[string]CaseMetadata
}

// NewMemoryMetadataCache creates an empty in-memory cache
func NewMemoryMetadataCache() *MemoryMetadataCache {
	return &MemoryMetadataCache{entries: make(map[string]CaseMetadata)}
}

func (c *MemoryMetadataCache) Update(ctx context.Context, meta CaseMetadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[meta.CaseID]; ok && existing.Version > meta.Version {
		return nil
	}
	c.entries[meta.CaseID] = meta
	return nil
}

func (c *MemoryMetadataCache) Get(ctx context.Context, caseID string) (*CaseMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	meta, ok := c.entries[caseID]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

func (c *MemoryMetadataCache) ListAll(ctx context.Context) ([]CaseMetadata, error) {
	c.mu.RLock()
	out := make([]CaseMetadata, 0, len(c.entries))
	for _, meta := range c.entries {
		out = append(out, meta)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CaseID < out[j].CaseID })
	return out, nil
}
