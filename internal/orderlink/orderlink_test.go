package orderlink

import (
	"net/url"
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewSignerRejectsShortSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewSigner("short"); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	signer, err := NewSigner(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other, err := NewSigner(strings.Repeat("z", 32))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token := signer.Token(42)
	tests := []struct {
		name    string
		orderID int64
		token   string
		want    bool
	}{
		{name: "own token", orderID: 42, token: token, want: true},
		{name: "token for another order", orderID: 43, token: token},
		{name: "token from another secret", orderID: 42, token: other.Token(42)},
		{name: "empty", orderID: 42, token: ""},
		{name: "not base64", orderID: 42, token: "%%%"},
		{name: "truncated", orderID: 42, token: token[:len(token)-2]},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := signer.Verify(tt.orderID, tt.token); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPath(t *testing.T) {
	t.Parallel()

	signer, err := NewSigner(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := url.Parse(signer.Path(42, "/payment"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Path != "/orders/42/payment" {
		t.Fatalf("unexpected path %q", parsed.Path)
	}
	if !signer.Verify(42, parsed.Query().Get(QueryParam)) {
		t.Fatalf("expected path token to verify")
	}
}
