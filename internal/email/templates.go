package email

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// OrderInfo contains all the information needed for order email templates
type OrderInfo struct {
	OrderNumber   string
	OrderURL      string
	CustomerName  string
	CustomerEmail string
	ShopName      string
	Phone         string
	Address       string
	PaymentMethod string
	PaymentStatus string
	OrderDate     string
	Items         []OrderItem
	Total         string
	ConsignmentID string
	CourierStatus string
}

// OrderItem represents a single item in an order
type OrderItem struct {
	Name       string
	SKU        string
	Quantity   int
	UnitPrice  string
	TotalPrice string
}

const (
	TemplateOrderConfirmation = "order_confirmation"
	TemplateOrderDispatched   = "order_dispatched"
)

type emailTemplate struct {
	Subject string
	HTML    string
	Text    string
}

var templates = map[string]emailTemplate{
	TemplateOrderConfirmation: {
		Subject: "Order Confirmation #{{.OrderNumber}} - {{.ShopName}}",
		HTML:    orderConfirmationHTML,
		Text:    orderConfirmationText,
	},
	TemplateOrderDispatched: {
		Subject: "Order #{{.OrderNumber}} is on its way - {{.ShopName}}",
		HTML:    orderDispatchedHTML,
		Text:    orderDispatchedText,
	},
}

// Renderer renders the built-in order templates. Safe for concurrent use.
type Renderer struct {
	subjects *texttemplate.Template
	text     *texttemplate.Template
	html     *htmltemplate.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		subjects: texttemplate.New("subjects"),
		text:     texttemplate.New("text"),
		html:     htmltemplate.New("html"),
	}

	for name, t := range templates {
		if _, err := r.subjects.New(name).Parse(t.Subject); err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", name, err)
		}
		if _, err := r.text.New(name).Parse(t.Text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", name, err)
		}
		if _, err := r.html.New(name).Parse(t.HTML); err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", name, err)
		}
	}
	return r, nil
}

func (r *Renderer) Render(_ context.Context, templateName string, data *OrderInfo) (*Email, error) {
	if data == nil {
		return nil, fmt.Errorf("order info is required")
	}
	if _, ok := templates[templateName]; !ok {
		return nil, fmt.Errorf("unknown email template %q", templateName)
	}

	var subject, text, html bytes.Buffer
	if err := r.subjects.ExecuteTemplate(&subject, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := r.text.ExecuteTemplate(&text, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}
	if err := r.html.ExecuteTemplate(&html, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &Email{
		To:      data.CustomerEmail,
		Subject: subject.String(),
		Text:    text.String(),
		HTML:    html.String(),
		Tag:     templateName,
	}, nil
}

// Send renders templateName and hands it to p. A nil provider is a no-op.
func Send(ctx context.Context, p Provider, r *Renderer, templateName string, orderInfo *OrderInfo) error {
	if p == nil {
		return nil
	}
	if orderInfo == nil || orderInfo.CustomerEmail == "" {
		return fmt.Errorf("recipient email is required")
	}

	message, err := r.Render(ctx, templateName, orderInfo)
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}
	return p.SendEmail(ctx, message)
}

const orderConfirmationText = `Thanks for your order, {{.CustomerName}}!

Reference: #{{.OrderNumber}}
Order Date: {{.OrderDate}}
Payment: {{.PaymentMethod}} ({{.PaymentStatus}})

Items:
{{range .Items}}- {{.Name}} x{{.Quantity}} - {{.TotalPrice}}
{{end}}
Total: {{.Total}}

Delivery address:
{{.Address}}
{{if .OrderURL}}
Order details: {{.OrderURL}}
{{end}}
We'll let you know when your parcel is handed to the courier.

{{.ShopName}}
`

const orderConfirmationHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Order Confirmation</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #2563eb; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .items-table { width: 100%; border-collapse: collapse; margin: 15px 0; }
    .items-table th { text-align: left; padding: 10px; background: #f3f4f6; border-bottom: 2px solid #e5e7eb; }
    .items-table td { padding: 10px; border-bottom: 1px solid #e5e7eb; }
    .total { font-size: 18px; font-weight: bold; text-align: right; padding: 15px 0; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Order Confirmed</h1>
    <p>Thanks for your order, {{.CustomerName}}</p>
  </div>
  <div class="content">
    <p><strong>Reference:</strong> #{{.OrderNumber}}<br>
    <strong>Order Date:</strong> {{.OrderDate}}<br>
    <strong>Payment:</strong> {{.PaymentMethod}} ({{.PaymentStatus}})</p>
    <table class="items-table">
      <thead><tr><th>Item</th><th>Qty</th><th>Total</th></tr></thead>
      <tbody>
        {{range .Items}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.TotalPrice}}</td></tr>
        {{end}}
      </tbody>
    </table>
    <div class="total">Total: {{.Total}}</div>
    <p><strong>Delivery address:</strong><br>{{.Address}}</p>
    {{if .OrderURL}}<p><a href="{{.OrderURL}}">View your order</a></p>{{end}}
  </div>
</body>
</html>
`

const orderDispatchedText = `Good news, {{.CustomerName}}!

Order #{{.OrderNumber}} has been handed to our courier.
Consignment: {{.ConsignmentID}}
Courier status: {{.CourierStatus}}

Delivery address:
{{.Address}}

{{.ShopName}}
`

const orderDispatchedHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Order Dispatched</title>
</head>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1>Your order is on its way</h1>
  <p>Order #{{.OrderNumber}} has been handed to our courier.</p>
  <p><strong>Consignment:</strong> {{.ConsignmentID}}<br>
  <strong>Courier status:</strong> {{.CourierStatus}}</p>
  <p><strong>Delivery address:</strong><br>{{.Address}}</p>
  <p>{{.ShopName}}</p>
</body>
</html>
`
