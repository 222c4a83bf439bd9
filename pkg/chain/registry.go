package chain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps chain slugs to their descriptor and month windows.
// It is safe for concurrent use.
type Registry struct {
	chains map[string]Descriptor
	months map[string][]MonthWindow
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		chains: make(map[string]Descriptor),
		months: make(map[string][]MonthWindow),
	}
}

// Register adds or replaces a chain descriptor.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[d.Slug] = d
}

// RegisterMonths replaces the month windows configured for a chain.
// Windows are kept in the order given.
func (r *Registry) RegisterMonths(slug string, windows ...MonthWindow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws := make([]MonthWindow, len(windows))
	copy(ws, windows)
	for i := range ws {
		ws[i].ChainSlug = slug
	}
	r.months[slug] = ws
}

// SetContract overrides the deployed NFT contract for one month of a chain.
func (r *Registry) SetContract(slug string, month Month, hexAddr string) error {
	if !common.IsHexAddress(hexAddr) {
		return fmt.Errorf("invalid contract address %q for %s/%s", hexAddr, slug, month)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.months[slug] {
		if w.Name == month {
			r.months[slug][i].Contract = common.HexToAddress(hexAddr)
			return nil
		}
	}
	return fmt.Errorf("month %s not configured for chain %s", month, slug)
}

// Resolve returns the descriptor for a slug. Unknown slugs are not found, never defaulted.
func (r *Registry) Resolve(slug string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.chains[slug]
	return d, ok
}

// Months returns the ordered month windows of a chain (empty when none are configured).
func (r *Registry) Months(slug string) []MonthWindow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws := r.months[slug]
	out := make([]MonthWindow, len(ws))
	copy(out, ws)
	return out
}

// Window returns a single month window of a chain.
func (r *Registry) Window(slug string, month Month) (MonthWindow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.months[slug] {
		if w.Name == month {
			return w, true
		}
	}
	return MonthWindow{}, false
}

// ContractAddress returns the NFT contract deployed for a chain's month.
func (r *Registry) ContractAddress(slug string, month Month) (common.Address, bool) {
	w, ok := r.Window(slug, month)
	if !ok || !w.HasContract() {
		return common.Address{}, false
	}
	return w.Contract, true
}

// All returns every registered chain ordered by slug.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.chains))
	for _, d := range r.chains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Active returns the chains the engine will operate on.
func (r *Registry) Active() []Descriptor {
	var out []Descriptor
	for _, d := range r.All() {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out
}

// ByID looks a chain up by its numeric chain id.
func (r *Registry) ByID(id uint64) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.chains {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// IsValidSlug reports whether the slug is registered.
func (r *Registry) IsValidSlug(slug string) bool {
	_, ok := r.Resolve(slug)
	return ok
}

// IsActive reports whether the chain is registered and active.
func (r *Registry) IsActive(slug string) bool {
	d, ok := r.Resolve(slug)
	return ok && d.IsActive
}
