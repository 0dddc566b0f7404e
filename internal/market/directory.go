package market

import (
	"sync"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// Directory is an in-memory domain.AssetDirectory. Replace swaps the whole
// listing atomically; readers see either the old or the new list.
type Directory struct {
	mu       sync.RWMutex
	assets   []domain.Asset
	bySymbol map[string]domain.Asset
}

// NewDirectory creates a Directory holding assets in the given order.
func NewDirectory(assets []domain.Asset) *Directory {
	d := &Directory{}
	d.Replace(assets)
	return d
}

// Replace swaps the listing.
func (d *Directory) Replace(assets []domain.Asset) {
	list := make([]domain.Asset, len(assets))
	copy(list, assets)
	idx := make(map[string]domain.Asset, len(list))
	for _, a := range list {
		idx[a.Symbol] = a
	}

	d.mu.Lock()
	d.assets = list
	d.bySymbol = idx
	d.mu.Unlock()
}

// Lookup returns the asset with the given symbol.
func (d *Directory) Lookup(symbol string) (domain.Asset, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.bySymbol[symbol]
	return a, ok
}

// List returns a copy of the listing.
func (d *Directory) List() []domain.Asset {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Asset, len(d.assets))
	copy(out, d.assets)
	return out
}

var _ domain.AssetDirectory = (*Directory)(nil)
