package handlers

import (
	"errors"
	"net/http"

	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/payment"
	"github.com/shopaway/shopaway/internal/services"
)

type paymentView struct {
	OrderID       int64                `json:"order_id"`
	Status        string               `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status,omitempty"`
	TransactionID string               `json:"transaction_id,omitempty"`
	Message       string               `json:"message,omitempty"`
	Form          *payment.InlineForm  `json:"form,omitempty"`
}

// StartPayment sends the buyer to the gateway. Gateways that cannot redirect get
// an inline form document; gateway failures are reported in a 200 error document
// so the storefront can offer a retry.
func (h *Handlers) StartPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	orderID, ok := h.linkedOrderID(w, r)
	if !ok {
		return
	}

	_, outcome, err := h.payments.StartPayment(ctx, orderID)
	if err != nil {
		h.writePaymentError(w, r, orderID, err)
		return
	}

	switch outcome.Kind {
	case payment.OutcomeRedirect:
		http.Redirect(w, r, outcome.RedirectURL, http.StatusSeeOther)
	case payment.OutcomeInlineForm:
		h.writeJSON(w, r, http.StatusOK, paymentView{
			OrderID:       orderID,
			Status:        string(payment.OutcomeInlineForm),
			TransactionID: outcome.TransactionID,
			Form:          outcome.Form,
		})
	default:
		logger.Warn("payment could not be started", "order_id", orderID, "message", outcome.Message)
		h.writeJSON(w, r, http.StatusOK, paymentView{
			OrderID: orderID,
			Status:  string(payment.OutcomeError),
			Message: outcome.Message,
		})
	}
}

func (h *Handlers) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	orderID, ok := h.linkedOrderID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Invalid callback data")
		return
	}

	outcome, err := h.payments.CompletePayment(ctx, orderID, r.Form)
	if err != nil {
		if errors.Is(err, services.ErrPaymentVerification) {
			logger.Warn("payment verification failed", "order_id", orderID, "error", err)
			h.writeJSON(w, r, http.StatusOK, paymentView{
				OrderID: orderID,
				Status:  string(payment.OutcomeError),
				Message: "Payment could not be verified",
			})
			return
		}
		h.writePaymentError(w, r, orderID, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, paymentView{
		OrderID:       orderID,
		Status:        string(payment.OutcomeVerified),
		PaymentStatus: models.PaymentPaid,
		TransactionID: outcome.TransactionID,
	})
}

func (h *Handlers) PaymentFail(w http.ResponseWriter, r *http.Request) {
	h.closePayment(w, r, models.PaymentFailed)
}

func (h *Handlers) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	h.closePayment(w, r, models.PaymentCancelled)
}

func (h *Handlers) closePayment(w http.ResponseWriter, r *http.Request, status models.PaymentStatus) {
	ctx := r.Context()

	orderID, ok := h.linkedOrderID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeDetail(w, r, http.StatusBadRequest, "Invalid callback data")
		return
	}

	var err error
	if status == models.PaymentCancelled {
		err = h.payments.CancelPayment(ctx, orderID, r.Form)
	} else {
		err = h.payments.FailPayment(ctx, orderID, r.Form)
	}
	if err != nil {
		h.writePaymentError(w, r, orderID, err)
		return
	}

	message := "Payment failed"
	if status == models.PaymentCancelled {
		message = "Payment cancelled"
	}
	h.writeJSON(w, r, http.StatusOK, paymentView{
		OrderID:       orderID,
		Status:        string(status),
		PaymentStatus: status,
		Message:       message,
	})
}

func (h *Handlers) writePaymentError(w http.ResponseWriter, r *http.Request, orderID int64, err error) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		h.writeDetail(w, r, http.StatusNotFound, "Order not found")
	case errors.Is(err, services.ErrPaymentNotOnline):
		h.writeDetail(w, r, http.StatusBadRequest, "Order is not paid online")
	default:
		h.loggerFromContext(r.Context()).Error("payment request failed", "error", err, "order_id", orderID)
		h.writeDetail(w, r, http.StatusInternalServerError, "Payment processing failed")
	}
}
