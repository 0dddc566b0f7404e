package service

import (
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"

	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/market"
)

// AssetService serves the asset directory and the list of assets a market
// can be created on.
type AssetService struct {
	dir    domain.AssetDirectory
	logger *slog.Logger

	mu          sync.Mutex
	fingerprint uint64
	selectable  []domain.Asset
}

// NewAssetService creates an AssetService over dir.
func NewAssetService(dir domain.AssetDirectory, logger *slog.Logger) *AssetService {
	return &AssetService{
		dir:    dir,
		logger: logger.With(slog.String("component", "asset_service")),
	}
}

// Directory returns the underlying directory.
func (s *AssetService) Directory() domain.AssetDirectory {
	return s.dir
}

// Lookup resolves a symbol against the directory.
func (s *AssetService) Lookup(symbol string) (domain.Asset, bool) {
	return s.dir.Lookup(symbol)
}

// Selectable returns the filtered asset list. The result is recomputed only
// when the directory listing changes.
func (s *AssetService) Selectable() []domain.Asset {
	all := s.dir.List()
	fp := fingerprint(all)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectable == nil || fp != s.fingerprint {
		s.selectable = market.SelectableAssets(all)
		s.fingerprint = fp
		s.logger.Debug("asset_service: selectable assets recomputed",
			slog.Int("listed", len(all)),
			slog.Int("selectable", len(s.selectable)),
		)
	}
	out := make([]domain.Asset, len(s.selectable))
	copy(out, s.selectable)
	return out
}

// IsSelectable reports whether symbol is in the selectable list.
func (s *AssetService) IsSelectable(symbol string) (domain.Asset, bool) {
	for _, a := range s.Selectable() {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return domain.Asset{}, false
}

// fingerprint hashes the fields SelectableAssets depends on, plus the
// display fields callers see.
func fingerprint(assets []domain.Asset) uint64 {
	h := fnv.New64a()
	for _, a := range assets {
		h.Write([]byte(a.Symbol))
		h.Write([]byte{0})
		h.Write([]byte(a.DisplayName))
		h.Write([]byte{0})
		h.Write([]byte(a.Sign))
		h.Write([]byte{0})
		h.Write([]byte(a.Icon))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatBool(a.Inverted)))
		h.Write([]byte{1})
	}
	return h.Sum64()
}
