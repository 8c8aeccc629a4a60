// Package invoice renders order invoices as A4 PDF documents.
package invoice

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/shopaway/shopaway/internal/models"
)

const (
	pageTop      = 50.0
	pageBottom   = 100.0
	marginLeft   = 40.0
	ruleRight    = 530.0
	colQtyRight  = 330.0
	colUnitRight = 410.0
	colSumRight  = 510.0
)

// Generator writes invoices to dir and reports them under urlPrefix.
type Generator struct {
	dir       string
	urlPrefix string
}

func NewGenerator(dir, urlPrefix string) *Generator {
	if urlPrefix == "" {
		urlPrefix = "/media/"
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &Generator{dir: dir, urlPrefix: urlPrefix}
}

func FileName(orderID int64) string {
	return fmt.Sprintf("order_%d.pdf", orderID)
}

// Generate renders the invoice for order and returns its public URL. The file is
// written to a temporary name first so readers never see a partial document.
func (g *Generator) Generate(ctx context.Context, order *models.Order, items []models.OrderItem) (string, error) {
	if order == nil {
		return "", fmt.Errorf("order is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create invoice directory: %w", err)
	}

	tmp, err := os.CreateTemp(g.dir, ".invoice-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create invoice file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Render(tmp, order, items); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close invoice file: %w", err)
	}

	name := FileName(order.ID)
	if err := os.Rename(tmpName, filepath.Join(g.dir, name)); err != nil {
		return "", fmt.Errorf("failed to store invoice: %w", err)
	}
	return g.urlPrefix + "invoices/" + name, nil
}

// Render writes the invoice PDF for order to w.
func Render(w io.Writer, order *models.Order, items []models.OrderItem) error {
	pdf := build(order, items)
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render invoice: %w", err)
	}
	return nil
}

func build(order *models.Order, items []models.OrderItem) *fpdf.Fpdf {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(fmt.Sprintf("Invoice - Order #%d", order.ID), true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	_, pageHeight := pdf.GetPageSize()

	text := func(x, y float64, s string) {
		pdf.Text(x, y, tr(s))
	}
	textRight := func(right, y float64, s string) {
		s = tr(s)
		pdf.Text(right-pdf.GetStringWidth(s), y, s)
	}

	pdf.AddPage()
	y := pageTop

	pdf.SetFont("Helvetica", "B", 16)
	text(marginLeft, y, fmt.Sprintf("Invoice - Order #%d", order.ID))
	y += 30

	pdf.SetFont("Helvetica", "", 11)
	text(marginLeft, y, "Name: "+order.Name)
	y += 18
	text(marginLeft, y, "Phone: "+order.Phone)
	y += 18
	text(marginLeft, y, "Address: "+order.Address)
	y += 28

	text(marginLeft, y, "Consignment: "+orDash(order.ConsignmentID))
	y += 18
	text(marginLeft, y, "Courier Status: "+orDash(order.CourierStatus))
	y += 28

	pdf.SetFont("Helvetica", "B", 12)
	text(marginLeft, y, "Items")
	y += 20
	pdf.SetFont("Helvetica", "", 11)
	text(marginLeft, y, "Product")
	text(300, y, "Qty")
	text(360, y, "Price")
	text(430, y, "Total")
	y += 15
	pdf.Line(marginLeft, y, ruleRight, y)
	y += 10

	for _, item := range items {
		if y > pageHeight-pageBottom {
			pdf.AddPage()
			pdf.SetFont("Helvetica", "", 11)
			y = pageTop
		}
		text(marginLeft, y, item.ProductName)
		textRight(colQtyRight, y, fmt.Sprintf("%d", item.Quantity))
		textRight(colUnitRight, y, item.Price.StringFixed(2))
		textRight(colSumRight, y, item.LineTotal().StringFixed(2))
		y += 16
	}

	y += 10
	pdf.Line(350, y, ruleRight, y)
	y += 20
	pdf.SetFont("Helvetica", "B", 12)
	textRight(colUnitRight, y, "Grand Total:")
	textRight(colSumRight, y, order.Total.StringFixed(2))

	return pdf
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
