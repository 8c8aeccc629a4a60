package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/orderlink"
	"github.com/shopaway/shopaway/internal/services"
)

var formValidator = newFormValidator()

// newFormValidator reports fields by their JSON names.
func newFormValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		return name
	})
	return v
}

type checkoutForm struct {
	Name          string `json:"name" validate:"required,max=200"`
	Phone         string `json:"phone" validate:"required,max=32"`
	Address       string `json:"address" validate:"required,max=1000"`
	Email         string `json:"email" validate:"omitempty,email"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=cod online"`
}

type orderView struct {
	Order      *models.Order      `json:"order"`
	Items      []models.OrderItem `json:"items"`
	PaymentURL string             `json:"payment_url,omitempty"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	form, err := decodeCheckoutForm(w, r)
	if err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Checkout rejected: "+err.Error())
		return
	}
	method, err := models.ParsePaymentMethod(form.PaymentMethod)
	if err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Unknown payment method")
		return
	}

	data := h.sessionManager.Load(ctx, r)
	order, items, err := h.orders.CreateOrder(ctx, services.BuyerInfo{
		Name:    form.Name,
		Phone:   form.Phone,
		Address: form.Address,
		Email:   form.Email,
	}, cartLines(data), method)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyCart):
			h.writeDetail(w, r, http.StatusBadRequest, "Your cart is empty")
		case errors.Is(err, services.ErrDuplicateOrder):
			h.writeDetail(w, r, http.StatusConflict, "An identical order was placed recently")
		default:
			logger.Error("failed to create order", "error", err)
			h.writeDetail(w, r, http.StatusInternalServerError, "Failed to create order")
		}
		return
	}

	data.ClearCart()
	if err := h.sessionManager.Save(ctx, w, r, data); err != nil {
		logger.Error("failed to clear cart after checkout", "error", err, "order_id", order.ID)
	}

	view := orderView{Order: order, Items: items}
	if order.IsOnlinePayment() {
		view.PaymentURL = h.config.PublicURL(h.orderLinks.Path(order.ID, "/payment"))
	}
	w.Header().Set("Location", h.orderLinks.Path(order.ID, ""))
	h.writeJSON(w, r, http.StatusCreated, view)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, ok := h.linkedOrderID(w, r)
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			h.writeDetail(w, r, http.StatusNotFound, "Order not found")
			return
		}
		h.loggerFromContext(ctx).Error("failed to load order", "error", err, "order_id", orderID)
		h.writeDetail(w, r, http.StatusInternalServerError, "Failed to load order")
		return
	}

	view := orderView{Order: order, Items: items}
	if order.IsOnlinePayment() && order.PaymentStatus != models.PaymentPaid {
		view.PaymentURL = h.config.PublicURL(h.orderLinks.Path(order.ID, "/payment"))
	}
	h.writeJSON(w, r, http.StatusOK, view)
}

// linkedOrderID reads the order id from the route and checks the signed token
// that came with it. A missing or foreign token looks exactly like an unknown
// order so ids cannot be enumerated.
func (h *Handlers) linkedOrderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	orderID, err := orderIDFromRequest(r)
	if err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Invalid order ID")
		return 0, false
	}
	if !h.orderLinks.Verify(orderID, r.URL.Query().Get(orderlink.QueryParam)) {
		h.writeDetail(w, r, http.StatusNotFound, "Order not found")
		return 0, false
	}
	return orderID, true
}

// decodeCheckoutForm accepts either a JSON body or a regular form post.
func decodeCheckoutForm(w http.ResponseWriter, r *http.Request) (checkoutForm, error) {
	var form checkoutForm
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
			return form, errors.New("invalid json body")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return form, errors.New("invalid form data")
		}
		form = checkoutForm{
			Name:          r.PostFormValue("name"),
			Phone:         r.PostFormValue("phone"),
			Address:       r.PostFormValue("address"),
			Email:         r.PostFormValue("email"),
			PaymentMethod: r.PostFormValue("payment_method"),
		}
	}

	form.Name = strings.TrimSpace(form.Name)
	form.Phone = strings.TrimSpace(form.Phone)
	form.Address = strings.TrimSpace(form.Address)
	form.Email = strings.TrimSpace(form.Email)
	form.PaymentMethod = strings.ToLower(strings.TrimSpace(form.PaymentMethod))

	if err := formValidator.Struct(form); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			return form, fmt.Errorf("invalid %s", validationErrors[0].Field())
		}
		return form, errors.New("invalid checkout details")
	}
	return form, nil
}
