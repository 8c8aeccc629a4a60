package handlers

import (
	"net/http"
	"slices"
	"strings"

	"github.com/shopaway/shopaway/internal/models"
)

type productView struct {
	*models.Product
	InStock bool `json:"in_stock"`
}

// Products lists the active catalog, sorted by SKU.
func (h *Handlers) Products(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	all, err := h.products.List(ctx)
	if err != nil {
		h.loggerFromContext(ctx).Error("failed to list products", "error", err)
		h.writeDetail(w, r, http.StatusInternalServerError, "Failed to load products")
		return
	}

	views := make([]productView, 0, len(all))
	for _, product := range all {
		if product.Active {
			views = append(views, productView{Product: product, InStock: product.InStock()})
		}
	}
	slices.SortFunc(views, func(a, b productView) int { return strings.Compare(a.SKU, b.SKU) })

	h.writeJSON(w, r, http.StatusOK, map[string]any{"products": views})
}
