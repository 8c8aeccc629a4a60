package courier

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"
)

var defaultRandom io.Reader = rand.Reader

var mockStatuses = []string{"in_review", "processing", "in_transit", "out_for_delivery", "delivered"}

// MockConsignmentID returns "SF" + YYYYMMDD + 6 uppercase hex characters.
func (c *Client) MockConsignmentID() string {
	suffix := make([]byte, 3)
	if _, err := io.ReadFull(c.random, suffix); err != nil {
		suffix = []byte{0, 0, 0}
	}
	return "SF" + c.now().Format("20060102") + strings.ToUpper(hex.EncodeToString(suffix))
}

func (c *Client) mockCreateOrder(payload Payload) Response {
	id := c.MockConsignmentID()
	return Response{
		Mock: true,
		Body: map[string]any{
			"message":        "Mock order created",
			"status":         "in_review",
			"consignment_id": id,
			"tracking_code":  id,
			"cod_amount":     payload["cod_amount"],
			"invoice":        payload["invoice"],
		},
	}
}

func (c *Client) mockStatus(consignmentID string) Response {
	pick := make([]byte, 1)
	if _, err := io.ReadFull(c.random, pick); err != nil {
		pick[0] = 0
	}
	return Response{
		Mock: true,
		Body: map[string]any{
			"status":         mockStatuses[int(pick[0])%len(mockStatuses)],
			"consignment_id": consignmentID,
		},
	}
}
