package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusShipped   OrderStatus = "shipped"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodOnline PaymentMethod = "online"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

type Order struct {
	ID                     int64           `json:"id"`
	Name                   string          `json:"name"`
	Phone                  string          `json:"phone"`
	Address                string          `json:"address"`
	Email                  string          `json:"email,omitempty"`
	Total                  decimal.Decimal `json:"total"`
	Status                 OrderStatus     `json:"status"`
	PaymentMethod          PaymentMethod   `json:"payment_method"`
	PaymentStatus          PaymentStatus   `json:"payment_status"`
	PaymentTransactionID   string          `json:"payment_transaction_id,omitempty"`
	PaymentGatewayResponse json.RawMessage `json:"payment_gateway_response,omitempty"`
	DoubleEntryHash        string          `json:"-"`
	IsFlaggedFraud         bool            `json:"is_flagged_fraud"`
	FraudReason            string          `json:"fraud_reason,omitempty"`
	ConsignmentID          string          `json:"consignment_id,omitempty"`
	CourierStatus          string          `json:"courier_status,omitempty"`
	CourierResponse        json.RawMessage `json:"courier_response,omitempty"`
	InvoiceURL             string          `json:"invoice_url,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// AlreadySentToCourier reports whether a consignment has been registered for the order.
func (o *Order) AlreadySentToCourier() bool {
	return o != nil && strings.TrimSpace(o.ConsignmentID) != ""
}

func (o *Order) IsOnlinePayment() bool {
	return o != nil && o.PaymentMethod == PaymentMethodOnline
}

var statusRank = map[OrderStatus]int{
	StatusPending:   0,
	StatusConfirmed: 1,
	StatusShipped:   2,
	StatusDelivered: 3,
}

func (s OrderStatus) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether an order may move from one lifecycle status to another.
// Forward moves may skip intermediate states; cancellation is allowed from any
// non-terminal state.
func CanTransition(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return statusRank[to] > statusRank[from]
}

func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return status, nil
}

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentMethodCOD, "":
		return PaymentMethodCOD, nil
	case PaymentMethodOnline:
		return PaymentMethodOnline, nil
	default:
		return "", fmt.Errorf("unknown payment method %q", raw)
	}
}

// LifecycleStatusForCourier maps a courier-reported status onto the order lifecycle.
func LifecycleStatusForCourier(courierStatus string) (OrderStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(courierStatus)) {
	case "delivered", "partial_delivered", "delivered_approval_pending":
		return StatusDelivered, true
	case "cancelled", "canceled", "cancelled_approval_pending":
		return StatusCancelled, true
	case "picked", "picked_up", "in_transit", "out_for_delivery", "shipped":
		return StatusShipped, true
	case "in_review", "processing", "accepted":
		return StatusConfirmed, true
	default:
		return "", false
	}
}

type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   *int64          `json:"product_id,omitempty"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type CourierAction string

const (
	CourierActionCreate  CourierAction = "create"
	CourierActionStatus  CourierAction = "status"
	CourierActionInvoice CourierAction = "invoice"
	CourierActionWebhook CourierAction = "webhook"
	CourierActionError   CourierAction = "error"
)

type CourierLog struct {
	ID         int64           `json:"id"`
	OrderID    *int64          `json:"order_id,omitempty"`
	Action     CourierAction   `json:"action"`
	RawPayload json.RawMessage `json:"raw_payload"`
	CreatedAt  time.Time       `json:"created_at"`
}
