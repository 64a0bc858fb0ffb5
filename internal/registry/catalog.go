// Package registry is the model catalogue: context windows per
// (provider, model) and the default used for unknown models.
package registry

import (
	"strings"
	"sync"

	"vramd/pkg/types"
)

// DefaultContextWindow applies when neither the request nor the catalogue
// names a window.
const DefaultContextWindow = 8192

// Catalog answers context-window lookups. It is safe for concurrent use.
type Catalog struct {
	mu            sync.RWMutex
	entries       []types.ModelEntry
	windows       map[string]int
	defaultWindow int
}

// New builds a catalogue. Entries with an empty provider match any provider.
func New(entries []types.ModelEntry, defaultWindow int) *Catalog {
	c := &Catalog{defaultWindow: defaultWindow}
	if c.defaultWindow <= 0 {
		c.defaultWindow = DefaultContextWindow
	}
	c.Replace(entries)
	return c
}

// Replace swaps the catalogue contents.
func (c *Catalog) Replace(entries []types.ModelEntry) {
	windows := make(map[string]int, len(entries))
	kept := make([]types.ModelEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Model) == "" || e.ContextWindow <= 0 {
			continue
		}
		windows[key(e.Provider, e.Model)] = e.ContextWindow
		kept = append(kept, e)
	}
	c.mu.Lock()
	c.entries, c.windows = kept, windows
	c.mu.Unlock()
}

// Entries returns a copy of the catalogue.
func (c *Catalog) Entries() []types.ModelEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.ModelEntry(nil), c.entries...)
}

// DefaultWindow is the window used for unknown models.
func (c *Catalog) DefaultWindow() int { return c.defaultWindow }

// ContextWindow returns the catalogue window for provider/model, trying the
// exact pair, then a provider-less entry, then both again with ":latest"
// appended to untagged ids. Unknown models get the default.
func (c *Catalog) ContextWindow(provider, model string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range candidates(model) {
		if w, ok := c.windows[key(provider, m)]; ok {
			return w
		}
		if w, ok := c.windows[key("", m)]; ok {
			return w
		}
	}
	return c.defaultWindow
}

// Resolve applies the lookup order: requested value, catalogue, default.
func (c *Catalog) Resolve(requested int, provider, model string) int {
	if requested > 0 {
		return requested
	}
	return c.ContextWindow(provider, model)
}

func candidates(model string) []string {
	model = strings.TrimSpace(model)
	if strings.Contains(model, ":") {
		return []string{model, strings.TrimSuffix(model, ":latest")}
	}
	return []string{model, model + ":latest"}
}

func key(provider, model string) string {
	p := strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(provider)))
	return p + "/" + strings.ToLower(strings.TrimSpace(model))
}
