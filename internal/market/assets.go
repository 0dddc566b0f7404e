package market

import "github.com/alanyoungcy/optionsd/internal/domain"

// SelectableAssets returns the assets a market can be created on: every
// listed asset except the stable-value asset and inverted synths, in list
// order.
func SelectableAssets(assets []domain.Asset) []domain.Asset {
	out := make([]domain.Asset, 0, len(assets))
	for _, a := range assets {
		if a.Inverted || a.Symbol == domain.StableAsset {
			continue
		}
		out = append(out, a)
	}
	return out
}
