// Package session keeps the shopper's cart and one-shot flash messages in a
// server-side store referenced by a cookie.
package session

import (
	"maps"

	"github.com/shopaway/shopaway/internal/models"
)

type FlashLevel string

const (
	FlashSuccess FlashLevel = "success"
	FlashWarning FlashLevel = "warning"
	FlashError   FlashLevel = "error"
)

// Flash is a message shown once on the next admin page render.
type Flash struct {
	Level   FlashLevel `json:"level"`
	Message string     `json:"message"`
}

// Data is what a session stores. Cart maps product SKU to quantity.
type Data struct {
	Cart      map[string]int `json:"cart,omitempty"`
	Flashes   []Flash        `json:"flashes,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// AddToCart adds qty of sku. A line whose total drops to zero or below is
// removed; a line never holds more than models.MaxLineQuantity.
func (d *Data) AddToCart(sku string, qty int) {
	if d.Cart == nil {
		d.Cart = make(map[string]int, 1)
	}
	if total := d.Cart[sku] + qty; total > 0 {
		d.Cart[sku] = min(total, models.MaxLineQuantity)
		return
	}
	delete(d.Cart, sku)
}

func (d *Data) RemoveFromCart(sku string) { delete(d.Cart, sku) }

func (d *Data) ClearCart() { d.Cart = nil }

func (d *Data) AddFlash(level FlashLevel, message string) {
	d.Flashes = append(d.Flashes, Flash{Level: level, Message: message})
}

// PopFlashes hands back pending flashes and forgets them.
func (d *Data) PopFlashes() []Flash {
	pending := d.Flashes
	d.Flashes = nil
	return pending
}

// clone returns a copy that shares no maps or slices with d.
func (d *Data) clone() *Data {
	if d == nil {
		return nil
	}
	out := &Data{CreatedAt: d.CreatedAt, Cart: maps.Clone(d.Cart)}
	if len(d.Flashes) > 0 {
		out.Flashes = append(make([]Flash, 0, len(d.Flashes)), d.Flashes...)
	}
	return out
}
