// Package email sends transactional order emails through Resend, Postmark or Mailgun.
package email

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
	ValidateAPIKey(ctx context.Context) error
}

// Email is a rendered message. Tag names the template it came from and is
// passed to providers that support message tagging.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
	Tag     string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
	Domain   string // For Mailgun
	BaseURL  string
}

// NewProvider builds the configured provider. An empty provider name disables email
// and returns a nil Provider.
func NewProvider(config Config, httpClient *http.Client) (Provider, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	switch strings.ToLower(strings.TrimSpace(config.Provider)) {
	case "":
		return nil, nil
	case "postmark":
		return NewPostmarkProvider(config.APIKey, config.From, config.BaseURL, httpClient), nil
	case "mailgun":
		return NewMailgunProvider(config.APIKey, config.Domain, config.From, config.BaseURL, httpClient), nil
	case "resend":
		return NewResendProvider(config.APIKey, config.From), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be either 'postmark', 'mailgun', or 'resend'")
	}
}
