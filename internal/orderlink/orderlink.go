// Package orderlink signs the buyer-facing order URLs. Order ids are sequential,
// so a link is only honoured when it carries the token minted for that id.
package orderlink

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
)

// QueryParam is the query parameter that carries the token.
const QueryParam = "token"

const (
	minSecretBytes = 32
	tokenBytes     = 16
	keyLabel       = "shopaway order links v1"
)

type Signer struct {
	key []byte
}

// NewSigner derives the link key from secret. The same secret also signs admin
// tokens, so the key is bound to a label and never used raw.
func NewSigner(secret string) (*Signer, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("order link secret must be at least %d bytes", minSecretBytes)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(keyLabel))
	return &Signer{key: mac.Sum(nil)}, nil
}

func (s *Signer) Token(orderID int64) string {
	return base64.RawURLEncoding.EncodeToString(s.sum(orderID))
}

func (s *Signer) Verify(orderID int64, token string) bool {
	if token == "" {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return hmac.Equal(raw, s.sum(orderID))
}

// Path returns "/orders/{id}" plus suffix with the token attached.
func (s *Signer) Path(orderID int64, suffix string) string {
	return fmt.Sprintf("/orders/%d%s?%s=%s", orderID, suffix, QueryParam, url.QueryEscape(s.Token(orderID)))
}

func (s *Signer) sum(orderID int64) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte("order:" + strconv.FormatInt(orderID, 10)))
	return mac.Sum(nil)[:tokenBytes]
}
