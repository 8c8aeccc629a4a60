package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/services"
	"github.com/shopaway/shopaway/internal/session"
)

const (
	defaultAdminListLimit = 50
	maxAdminListLimit     = 200
)

var errInvalidAdminInput = errors.New("invalid input")

type adminOrderView struct {
	Order   *models.Order       `json:"order"`
	Items   []models.OrderItem  `json:"items"`
	Logs    []models.CourierLog `json:"logs"`
	Flashes []session.Flash     `json:"flashes,omitempty"`
}

func (h *Handlers) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultAdminListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeDetail(w, r, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(parsed, maxAdminListLimit)
	}

	orders, err := h.fulfillment.ListRecentOrders(ctx, limit)
	if err != nil {
		h.loggerFromContext(ctx).Error("failed to list orders", "error", err)
		h.writeDetail(w, r, http.StatusInternalServerError, "Failed to load orders")
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handlers) AdminOrderDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := orderIDFromRequest(r)
	if err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Invalid order ID")
		return
	}

	detail, err := h.fulfillment.GetOrderDetail(ctx, orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			h.writeDetail(w, r, http.StatusNotFound, "Order not found")
			return
		}
		h.loggerFromContext(ctx).Error("failed to load order detail", "error", err, "order_id", orderID)
		h.writeDetail(w, r, http.StatusInternalServerError, "Failed to load order")
		return
	}

	data := h.sessionManager.Load(ctx, r)
	flashes := data.PopFlashes()
	if len(flashes) > 0 {
		if err := h.sessionManager.Save(ctx, w, r, data); err != nil {
			h.loggerFromContext(ctx).Error("failed to save session after reading flashes", "error", err)
		}
	}

	view := adminOrderView{
		Order:   detail.Order,
		Items:   detail.Items,
		Logs:    detail.Logs,
		Flashes: flashes,
	}
	if view.Items == nil {
		view.Items = []models.OrderItem{}
	}
	if view.Logs == nil {
		view.Logs = []models.CourierLog{}
	}
	h.writeJSON(w, r, http.StatusOK, view)
}

func (h *Handlers) AdminSendCourier(w http.ResponseWriter, r *http.Request) {
	h.dispatchOrder(w, r, false)
}

func (h *Handlers) AdminForceSend(w http.ResponseWriter, r *http.Request) {
	h.dispatchOrder(w, r, true)
}

func (h *Handlers) dispatchOrder(w http.ResponseWriter, r *http.Request, force bool) {
	h.runOrderAction(w, r, func(ctx context.Context, orderID int64, form url.Values) (string, error) {
		amount, err := parseAmount(form.Get("amount"))
		if err != nil {
			return "", err
		}
		result, err := h.fulfillment.DispatchToCourier(ctx, orderID, services.DispatchOptions{
			AmountOverride: amount,
			Force:          force,
		})
		if err != nil {
			return "", err
		}

		message := fmt.Sprintf("Order #%d sent to courier.", orderID)
		if result.ConsignmentID != "" {
			message = fmt.Sprintf("Order #%d sent to courier. Consignment: %s.", orderID, result.ConsignmentID)
		}
		if result.Mock {
			message += " (mock response)"
		}
		return message, nil
	})
}

func (h *Handlers) AdminRefreshStatus(w http.ResponseWriter, r *http.Request) {
	h.runOrderAction(w, r, func(ctx context.Context, orderID int64, _ url.Values) (string, error) {
		result, err := h.fulfillment.RefreshCourierStatus(ctx, orderID)
		if err != nil {
			return "", err
		}
		message := fmt.Sprintf("Courier status for order #%d: %s.", orderID, orDefault(result.CourierStatus, "unknown"))
		if result.Mock {
			message += " (mock response)"
		}
		return message, nil
	})
}

func (h *Handlers) AdminToggleFraud(w http.ResponseWriter, r *http.Request) {
	h.runOrderAction(w, r, func(ctx context.Context, orderID int64, form url.Values) (string, error) {
		flagged, err := h.fulfillment.ToggleFraud(ctx, orderID, strings.TrimSpace(form.Get("reason")))
		if err != nil {
			return "", err
		}
		if flagged {
			return fmt.Sprintf("Order #%d flagged as fraud.", orderID), nil
		}
		return fmt.Sprintf("Fraud flag cleared for order #%d.", orderID), nil
	})
}

func (h *Handlers) AdminGenerateInvoice(w http.ResponseWriter, r *http.Request) {
	h.runOrderAction(w, r, func(ctx context.Context, orderID int64, _ url.Values) (string, error) {
		invoiceURL, err := h.fulfillment.GenerateInvoice(ctx, orderID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Invoice generated for order #%d: %s", orderID, invoiceURL), nil
	})
}

func (h *Handlers) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	h.runOrderAction(w, r, func(ctx context.Context, orderID int64, form url.Values) (string, error) {
		status, err := models.ParseOrderStatus(form.Get("status"))
		if err != nil {
			return "", fmt.Errorf("%w: %v", errInvalidAdminInput, err)
		}
		if err := h.fulfillment.UpdateStatus(ctx, orderID, status); err != nil {
			return "", err
		}
		return fmt.Sprintf("Order #%d is now %s.", orderID, status), nil
	})
}

func (h *Handlers) AdminBulkSendCourier(w http.ResponseWriter, r *http.Request) {
	h.runBulkAction(w, r, "sent to courier", func(ctx context.Context, ids []int64) []services.BulkResult {
		return h.fulfillment.DispatchMany(ctx, ids, services.DispatchOptions{})
	})
}

func (h *Handlers) AdminBulkRefreshStatus(w http.ResponseWriter, r *http.Request) {
	h.runBulkAction(w, r, "refreshed", h.fulfillment.RefreshMany)
}

// runOrderAction parses the order id and form, runs action and reports its
// result as a flash message on the page the admin came from.
func (h *Handlers) runOrderAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, orderID int64, form url.Values) (string, error)) {
	ctx := r.Context()

	orderID, err := orderIDFromRequest(r)
	if err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Invalid order ID")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Invalid form data")
		return
	}

	message, err := action(ctx, orderID, r.PostForm)
	if errors.Is(err, services.ErrOrderNotFound) {
		h.writeDetail(w, r, http.StatusNotFound, "Order not found")
		return
	}

	flash := session.Flash{Level: session.FlashSuccess, Message: message}
	if err != nil {
		flash = h.flashForError(ctx, orderID, err)
	}
	h.flashAndRedirect(w, r, fmt.Sprintf("/admin/orders/%d", orderID), flash)
}

func (h *Handlers) runBulkAction(w http.ResponseWriter, r *http.Request, verb string, action func(ctx context.Context, ids []int64) []services.BulkResult) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Invalid form data")
		return
	}
	ids, err := parseOrderIDs(r.PostForm["ids"])
	if err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Invalid order IDs")
		return
	}
	if len(ids) == 0 {
		h.flashAndRedirect(w, r, "/admin/orders", session.Flash{Level: session.FlashWarning, Message: "Select at least one order."})
		return
	}

	results := action(ctx, ids)
	var failures []string
	for _, result := range results {
		if result.Err != nil {
			logger.Warn("bulk order action failed", "order_id", result.OrderID, "error", result.Err)
			failures = append(failures, fmt.Sprintf("#%d: %v", result.OrderID, result.Err))
		}
	}

	succeeded := len(results) - len(failures)
	flash := session.Flash{
		Level:   session.FlashSuccess,
		Message: fmt.Sprintf("%d of %d orders %s.", succeeded, len(results), verb),
	}
	if len(failures) > 0 {
		flash.Level = session.FlashWarning
		if succeeded == 0 {
			flash.Level = session.FlashError
		}
		flash.Message += " Failed: " + strings.Join(failures, "; ")
	}
	h.flashAndRedirect(w, r, "/admin/orders", flash)
}

func (h *Handlers) flashForError(ctx context.Context, orderID int64, err error) session.Flash {
	warn := func(format string) session.Flash {
		return session.Flash{Level: session.FlashWarning, Message: fmt.Sprintf(format, orderID)}
	}

	switch {
	case errors.Is(err, services.ErrAlreadySent):
		return warn("Order #%d was already sent to the courier.")
	case errors.Is(err, services.ErrDispatchInProgress):
		return warn("Order #%d is already being sent to the courier.")
	case errors.Is(err, services.ErrFlaggedFraud):
		return warn("Order #%d is flagged as fraud. Use force send to dispatch it anyway.")
	case errors.Is(err, services.ErrNotDispatched):
		return warn("Order #%d has not been sent to the courier yet.")
	case errors.Is(err, services.ErrInvoicePrecondition):
		return warn("Order #%d must be sent to the courier before an invoice can be generated.")
	case errors.Is(err, services.ErrInvalidStatusTransition):
		return session.Flash{Level: session.FlashError, Message: fmt.Sprintf("Order #%d cannot move to that status.", orderID)}
	case errors.Is(err, errInvalidAdminInput):
		return session.Flash{Level: session.FlashError, Message: strings.TrimPrefix(err.Error(), errInvalidAdminInput.Error()+": ")}
	default:
		h.loggerFromContext(ctx).Error("admin order action failed", "error", err, "order_id", orderID)
		return session.Flash{Level: session.FlashError, Message: fmt.Sprintf("Order #%d: %v", orderID, err)}
	}
}

// flashAndRedirect stores flash for the next page and sends the admin back to the
// referring page when it is on this site.
func (h *Handlers) flashAndRedirect(w http.ResponseWriter, r *http.Request, fallback string, flash session.Flash) {
	ctx := r.Context()

	data := h.sessionManager.Load(ctx, r)
	data.AddFlash(flash.Level, flash.Message)
	if err := h.sessionManager.Save(ctx, w, r, data); err != nil {
		h.loggerFromContext(ctx).Error("failed to store flash message", "error", err)
	}

	http.Redirect(w, r, h.redirectTarget(r, fallback), http.StatusSeeOther)
}

func (h *Handlers) redirectTarget(r *http.Request, fallback string) string {
	referer := strings.TrimSpace(r.Referer())
	if referer == "" {
		return fallback
	}
	if ok, err := h.headerMatchesAllowedHost(referer, r); err != nil || !ok {
		return fallback
	}
	parsed, err := url.Parse(referer)
	if err != nil || parsed.Path == "" {
		return fallback
	}
	return parsed.RequestURI()
}

func parseAmount(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil || amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must be a non-negative number", errInvalidAdminInput)
	}
	return &amount, nil
}

// parseOrderIDs accepts repeated ids fields as well as comma separated lists.
func parseOrderIDs(values []string) ([]int64, error) {
	seen := map[int64]struct{}{}
	var ids []int64
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid order id %q", part)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
