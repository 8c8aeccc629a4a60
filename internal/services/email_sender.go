package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopaway/shopaway/internal/email"
	"github.com/shopaway/shopaway/internal/models"
)

type OrderEmailSender interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order, items []models.OrderItem) error
	SendOrderDispatched(ctx context.Context, order *models.Order) error
}

type ProviderOrderEmailSender struct {
	provider email.Provider
	renderer *email.Renderer
	shopName string
	orderURL func(orderID int64) string
}

// NewProviderOrderEmailSender renders order mails through provider. orderURL
// builds the buyer's link to the order; nil leaves the link out.
func NewProviderOrderEmailSender(provider email.Provider, shopName string, orderURL func(orderID int64) string) (*ProviderOrderEmailSender, error) {
	renderer, err := email.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to create email renderer: %w", err)
	}
	if shopName == "" {
		shopName = "ShopAway"
	}
	return &ProviderOrderEmailSender{
		provider: provider,
		renderer: renderer,
		shopName: shopName,
		orderURL: orderURL,
	}, nil
}

func (s *ProviderOrderEmailSender) SendOrderConfirmation(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	if strings.TrimSpace(order.Email) == "" {
		return nil
	}
	return email.Send(ctx, s.provider, s.renderer, email.TemplateOrderConfirmation, s.orderInfo(order, items))
}

func (s *ProviderOrderEmailSender) SendOrderDispatched(ctx context.Context, order *models.Order) error {
	if strings.TrimSpace(order.Email) == "" {
		return nil
	}
	return email.Send(ctx, s.provider, s.renderer, email.TemplateOrderDispatched, s.orderInfo(order, nil))
}

func (s *ProviderOrderEmailSender) orderInfo(order *models.Order, items []models.OrderItem) *email.OrderInfo {
	info := &email.OrderInfo{
		OrderNumber:   strconv.FormatInt(order.ID, 10),
		CustomerName:  order.Name,
		CustomerEmail: order.Email,
		ShopName:      s.shopName,
		Phone:         order.Phone,
		Address:       order.Address,
		PaymentMethod: strings.ToUpper(string(order.PaymentMethod)),
		PaymentStatus: string(order.PaymentStatus),
		OrderDate:     order.CreatedAt.Format("January 2, 2006"),
		Total:         order.Total.StringFixed(2),
		ConsignmentID: order.ConsignmentID,
		CourierStatus: order.CourierStatus,
	}
	if s.orderURL != nil {
		info.OrderURL = s.orderURL(order.ID)
	}
	for _, item := range items {
		info.Items = append(info.Items, email.OrderItem{
			Name:       item.ProductName,
			SKU:        item.SKU,
			Quantity:   item.Quantity,
			UnitPrice:  item.Price.StringFixed(2),
			TotalPrice: item.LineTotal().StringFixed(2),
		})
	}
	return info
}

type noopOrderEmailSender struct{}

func (noopOrderEmailSender) SendOrderConfirmation(context.Context, *models.Order, []models.OrderItem) error {
	return nil
}

func (noopOrderEmailSender) SendOrderDispatched(context.Context, *models.Order) error {
	return nil
}
