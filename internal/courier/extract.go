package courier

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Rule is a path into a courier response body, e.g. {"data", "consignment_id"}.
type Rule []string

// Courier responses are not uniform across endpoints and API versions, so lookups walk
// an ordered list of candidate paths and keep the first non-empty value.
var (
	ConsignmentIDRules = []Rule{
		{"consignment_id"},
		{"tracking_code"},
		{"order_id"},
		{"data", "consignment_id"},
		{"data", "consignmentId"},
		{"data", "tracking_code"},
		{"data", "trackingCode"},
		{"consignment", "consignment_id"},
		{"consignment", "tracking_code"},
	}

	CreateStatusRules = []Rule{
		{"status"},
		{"data", "status"},
		{"message"},
	}

	StatusRules = []Rule{
		{"status"},
		{"data", "status"},
		{"delivery_status"},
	}

	WebhookOrderRules = []Rule{
		{"merchant_order_id"},
		{"data", "merchant_order_id"},
	}

	WebhookConsignmentRules = []Rule{
		{"order_id"},
		{"consignment_id"},
		{"data", "order_id"},
		{"data", "consignment_id"},
	}
)

// FirstValue returns the first non-empty string or number found by rules.
func FirstValue(body map[string]any, rules []Rule) string {
	return first(body, rules, true)
}

// FirstText is FirstValue restricted to string values. Numeric fields such as an HTTP
// style "status": 200 are skipped.
func FirstText(body map[string]any, rules []Rule) string {
	return first(body, rules, false)
}

func first(body map[string]any, rules []Rule, allowNumbers bool) string {
	for _, rule := range rules {
		value, ok := lookup(body, rule)
		if !ok {
			continue
		}
		if text := stringify(value, allowNumbers); text != "" {
			return text
		}
	}
	return ""
}

func lookup(body map[string]any, path Rule) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	var current any = body
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(value any, allowNumbers bool) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		if allowNumbers {
			return v.String()
		}
	case float64:
		if allowNumbers {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
