package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shopaway/shopaway/internal/db"
	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/services"
	"github.com/shopaway/shopaway/internal/session"
)

type cartLineView struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type cartView struct {
	Items   []cartLineView  `json:"items"`
	Total   decimal.Decimal `json:"total"`
	Flashes []session.Flash `json:"flashes,omitempty"`
}

func (h *Handlers) Cart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := h.sessionManager.Load(ctx, r)

	flashes := data.PopFlashes()
	if len(flashes) > 0 {
		if err := h.sessionManager.Save(ctx, w, r, data); err != nil {
			h.loggerFromContext(ctx).Error("failed to save session after reading flashes", "error", err)
		}
	}

	view, err := h.buildCartView(ctx, data)
	if err != nil {
		h.loggerFromContext(ctx).Error("failed to price cart", "error", err)
		h.writeDetail(w, r, http.StatusInternalServerError, "Failed to load cart")
		return
	}
	view.Flashes = flashes
	h.writeJSON(w, r, http.StatusOK, view)
}

func (h *Handlers) CartAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Invalid form data")
		return
	}

	sku := strings.TrimSpace(r.FormValue("sku"))
	if sku == "" {
		h.writeDetail(w, r, http.StatusBadRequest, "SKU is required")
		return
	}
	qty := 1
	if raw := strings.TrimSpace(r.FormValue("qty")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > models.MaxLineQuantity {
			h.writeDetail(w, r, http.StatusBadRequest, fmt.Sprintf("Quantity must be between 1 and %d", models.MaxLineQuantity))
			return
		}
		qty = parsed
	}

	product, err := h.products.GetBySKU(ctx, sku)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeDetail(w, r, http.StatusNotFound, "Product not found")
			return
		}
		logger.Error("failed to look up product", "error", err, "sku", sku)
		h.writeDetail(w, r, http.StatusInternalServerError, "Failed to add to cart")
		return
	}
	if !product.Active {
		h.writeDetail(w, r, http.StatusNotFound, "Product not found")
		return
	}

	data := h.sessionManager.Load(ctx, r)
	data.AddToCart(product.SKU, qty)
	h.saveCart(w, r, data)
}

func (h *Handlers) CartRemove(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Invalid form data")
		return
	}
	sku := strings.TrimSpace(r.FormValue("sku"))
	if sku == "" {
		h.writeDetail(w, r, http.StatusBadRequest, "SKU is required")
		return
	}

	data := h.sessionManager.Load(r.Context(), r)
	data.RemoveFromCart(sku)
	h.saveCart(w, r, data)
}

func (h *Handlers) saveCart(w http.ResponseWriter, r *http.Request, data *session.Data) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.sessionManager.Save(ctx, w, r, data); err != nil {
		logger.Error("failed to save cart", "error", err)
		h.writeDetail(w, r, http.StatusInternalServerError, "Failed to update cart")
		return
	}

	view, err := h.buildCartView(ctx, data)
	if err != nil {
		logger.Error("failed to price cart", "error", err)
		h.writeDetail(w, r, http.StatusInternalServerError, "Failed to load cart")
		return
	}
	h.writeJSON(w, r, http.StatusOK, view)
}

// buildCartView prices the session cart at current prices. Lines whose product
// has disappeared are left out, the same way checkout skips them.
func (h *Handlers) buildCartView(ctx context.Context, data *session.Data) (cartView, error) {
	view := cartView{Items: []cartLineView{}, Total: decimal.Zero}
	lines := cartLines(data)
	if len(lines) == 0 {
		return view, nil
	}

	skus := make([]string, 0, len(lines))
	for _, line := range lines {
		skus = append(skus, line.SKU)
	}
	products, err := h.products.GetBySKUs(ctx, skus)
	if err != nil {
		return view, err
	}

	for _, line := range lines {
		product, ok := products[line.SKU]
		if !ok || product == nil {
			continue
		}
		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		view.Items = append(view.Items, cartLineView{
			SKU:       product.SKU,
			Name:      product.Name,
			Quantity:  line.Quantity,
			Price:     product.Price,
			LineTotal: lineTotal,
		})
		view.Total = view.Total.Add(lineTotal)
	}
	return view, nil
}

func cartLines(data *session.Data) []services.CartLine {
	if data == nil || len(data.Cart) == 0 {
		return nil
	}
	lines := make([]services.CartLine, 0, len(data.Cart))
	for sku, qty := range data.Cart {
		lines = append(lines, services.CartLine{SKU: sku, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].SKU < lines[j].SKU })
	return lines
}
