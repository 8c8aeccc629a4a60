package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopaway/shopaway/internal/models"
)

const testWebhookSecret = "s3cret-token"

func TestHandleWebhookRejectsBadToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{name: "missing token", secret: testWebhookSecret, token: ""},
		{name: "wrong token", secret: testWebhookSecret, token: "guess"},
		{name: "secret not configured", secret: "", token: ""},
		{name: "secret not configured with token", secret: "", token: "anything"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newFakeStore()
			seedOrder(store, nil)
			svc := NewWebhookService(store, store, tt.secret, testLogger())

			_, err := svc.HandleWebhook(context.Background(), tt.token, []byte(`{"merchant_order_id":42,"status":"delivered"}`))
			if !errors.Is(err, ErrWebhookForbidden) {
				t.Fatalf("expected ErrWebhookForbidden, got %v", err)
			}
			if len(store.mutations()) != 0 {
				t.Fatalf("expected no writes, got %v", store.mutations())
			}
			if logs := store.logsFor(42); len(logs) != 0 {
				t.Fatalf("expected no logs, got %+v", logs)
			}
			if got := store.order(42).Status; got != models.StatusPending {
				t.Fatalf("expected status unchanged, got %s", got)
			}
		})
	}
}

func TestHandleWebhookAppliesStatus(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedOrder(store, nil)
	svc := NewWebhookService(store, store, testWebhookSecret, testLogger())

	payload := []byte(`{"merchant_order_id":42,"status":"delivered"}`)
	result, err := svc.HandleWebhook(context.Background(), testWebhookSecret, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matched || result.OrderID != 42 || result.CourierStatus != "delivered" {
		t.Fatalf("unexpected result: %+v", result)
	}

	order := store.order(42)
	if order.Status != models.StatusDelivered || order.CourierStatus != "delivered" {
		t.Fatalf("expected delivered order, got %+v", order)
	}
	if string(order.CourierResponse) != string(payload) {
		t.Fatalf("expected raw payload to be stored, got %s", order.CourierResponse)
	}
	logs := store.logsFor(42)
	if len(logs) != 1 || logs[0].Action != models.CourierActionWebhook {
		t.Fatalf("expected one webhook log, got %+v", logs)
	}

	if _, err := svc.HandleWebhook(context.Background(), testWebhookSecret, payload); err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if logs := store.logsFor(42); len(logs) != 2 {
		t.Fatalf("expected redelivery to be logged again, got %d logs", len(logs))
	}
}

func TestHandleWebhookResolvesOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		existing        string
		payload         string
		wantMatched     bool
		wantConsignment string
		wantStatus      string
	}{
		{
			name:            "merchant id nested in data fills consignment",
			payload:         `{"data":{"merchant_order_id":"42","order_id":"CN-77","status":"picked_up"}}`,
			wantMatched:     true,
			wantConsignment: "CN-77",
			wantStatus:      "picked_up",
		},
		{
			name:            "existing consignment is kept",
			existing:        "CN-1",
			payload:         `{"merchant_order_id":42,"consignment_id":"CN-2","status":"in_transit"}`,
			wantMatched:     true,
			wantConsignment: "CN-1",
			wantStatus:      "in_transit",
		},
		{
			name:            "lookup by consignment id",
			existing:        "CN-1",
			payload:         `{"order_id":"CN-1","status":"out_for_delivery"}`,
			wantMatched:     true,
			wantConsignment: "CN-1",
			wantStatus:      "out_for_delivery",
		},
		{
			name:            "unknown merchant id falls back to consignment",
			existing:        "CN-1",
			payload:         `{"merchant_order_id":999,"data":{"consignment_id":"CN-1","status":"delivered"}}`,
			wantMatched:     true,
			wantConsignment: "CN-1",
			wantStatus:      "delivered",
		},
		{
			name:    "no match",
			payload: `{"merchant_order_id":999,"status":"delivered"}`,
		},
		{
			name:    "no identifiers",
			payload: `{"status":"delivered"}`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newFakeStore()
			seedOrder(store, func(o *models.Order) { o.ConsignmentID = tt.existing })
			svc := NewWebhookService(store, store, testWebhookSecret, testLogger())

			result, err := svc.HandleWebhook(context.Background(), testWebhookSecret, []byte(tt.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Matched != tt.wantMatched {
				t.Fatalf("expected matched=%v, got %+v", tt.wantMatched, result)
			}
			if !tt.wantMatched {
				if len(store.mutations()) != 0 || len(store.logsFor(42)) != 0 {
					t.Fatalf("expected no writes for unmatched webhook")
				}
				return
			}
			order := store.order(42)
			if order.ConsignmentID != tt.wantConsignment || order.CourierStatus != tt.wantStatus {
				t.Fatalf("unexpected order: consignment %q status %q", order.ConsignmentID, order.CourierStatus)
			}
		})
	}
}

func TestHandleWebhookMalformedPayload(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := NewWebhookService(store, store, testWebhookSecret, testLogger())

	for _, payload := range []string{`not json`, `[1,2]`, `null`} {
		if _, err := svc.HandleWebhook(context.Background(), testWebhookSecret, []byte(payload)); !errors.Is(err, ErrMalformedWebhook) {
			t.Fatalf("expected ErrMalformedWebhook for %q, got %v", payload, err)
		}
	}
}

func TestHandleWebhookConsignmentHeldByAnotherOrder(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedOrder(store, nil)
	seedOrder(store, func(o *models.Order) {
		o.ID = 43
		o.ConsignmentID = "CN-TAKEN"
	})
	svc := NewWebhookService(store, store, testWebhookSecret, testLogger())

	payload := []byte(`{"merchant_order_id":42,"consignment_id":"CN-TAKEN","status":"delivered"}`)
	result, err := svc.HandleWebhook(context.Background(), testWebhookSecret, payload)
	if err != nil {
		t.Fatalf("expected callback to be accepted, got %v", err)
	}
	if !result.Matched || result.OrderID != 42 {
		t.Fatalf("unexpected result: %+v", result)
	}

	order := store.order(42)
	if order.ConsignmentID != "" {
		t.Fatalf("expected consignment id to stay empty, got %q", order.ConsignmentID)
	}
	if order.CourierStatus != "delivered" || order.Status != models.StatusDelivered {
		t.Fatalf("expected status to be applied, got %+v", order)
	}
	if got := store.order(43).ConsignmentID; got != "CN-TAKEN" {
		t.Fatalf("expected other order to keep its consignment, got %q", got)
	}
	if logs := store.logsFor(42); len(logs) != 1 {
		t.Fatalf("expected webhook to be logged, got %+v", logs)
	}
}
