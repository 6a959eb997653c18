// Package chains wires concrete chain adapters into the registry the
// multisig engine resolves them from.
package chains

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"walletcore/native/multisig"
)

// Registry is a closed set of chain adapters keyed by chain code.
// Registration happens at startup; lookups afterwards are read-only.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]multisig.ChainAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]multisig.ChainAdapter)}
}

// Register adds an adapter under its chain code. Registering the same code
// twice is a programming error and panics at startup rather than silently
// shadowing.
func (r *Registry) Register(adapter multisig.ChainAdapter) {
	code := strings.ToLower(strings.TrimSpace(adapter.ChainCode()))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[code]; ok {
		panic(fmt.Sprintf("chains: duplicate adapter for %q", code))
	}
	r.adapters[code] = adapter
}

// Adapter resolves the adapter for a chain code.
func (r *Registry) Adapter(chainCode string) (multisig.ChainAdapter, error) {
	code := strings.ToLower(strings.TrimSpace(chainCode))
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[code]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported chain %q", multisig.ErrValidation, chainCode)
	}
	return adapter, nil
}

// Codes lists the registered chain codes in sorted order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
