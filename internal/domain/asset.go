package domain

// StableAsset is the stable-value quote asset. It is never offered as an
// underlying for new markets.
const StableAsset = "sUSD"

// Asset describes a tradable synth as listed by the asset directory.
type Asset struct {
	Symbol      string `json:"symbol"`
	DisplayName string `json:"display_name"`
	Sign        string `json:"sign,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Inverted    bool   `json:"inverted"`
}

// AssetDirectory resolves display metadata by symbol and lists the
// tradable assets in their configured order.
type AssetDirectory interface {
	Lookup(symbol string) (Asset, bool)
	List() []Asset
}
