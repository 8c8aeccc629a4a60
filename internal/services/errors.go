package services

import (
	"errors"

	"github.com/shopaway/shopaway/internal/db"
)

var (
	ErrDuplicateOrder      = errors.New("an identical order was placed recently")
	ErrEmptyCart           = errors.New("cart has no orderable items")
	ErrOrderNotFound       = errors.New("order not found")
	ErrAlreadySent         = errors.New("order already sent to courier")
	ErrDispatchInProgress  = errors.New("courier dispatch already in progress")
	ErrFlaggedFraud        = errors.New("order is flagged as fraud")
	ErrNotDispatched       = errors.New("order has no consignment id")
	ErrInvoicePrecondition = errors.New("order must be sent to courier before generating an invoice")
	ErrWebhookForbidden    = errors.New("webhook token mismatch")
	ErrPaymentNotOnline    = errors.New("order does not use online payment")
	ErrPaymentVerification = errors.New("payment verification failed")
	ErrMalformedWebhook    = errors.New("webhook payload is not a JSON object")

	// ErrInvalidStatusTransition is shared with the store so conditional updates
	// and service-side checks match the same sentinel.
	ErrInvalidStatusTransition = db.ErrInvalidStatusTransition
)

func notFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrOrderNotFound
	}
	return err
}
