package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// AssetLister returns the assets a market can be created on.
type AssetLister interface {
	Selectable() []domain.Asset
}

// AssetHandler serves the asset list.
type AssetHandler struct {
	assets AssetLister
	logger *slog.Logger
}

// NewAssetHandler creates an AssetHandler.
func NewAssetHandler(assets AssetLister, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{assets: assets, logger: logHandler(logger, "assets")}
}

// ListSelectable returns the selectable underlying assets.
// GET /api/assets
func (h *AssetHandler) ListSelectable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"assets": h.assets.Selectable()})
}
