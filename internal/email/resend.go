package email

import (
	"context"
	"errors"
	"fmt"

	resend "github.com/resend/resend-go/v3"
)

var errEmptyBody = errors.New("email body is empty")

// ResendProvider sends through the Resend SDK. Resend tag values only allow
// ASCII letters, digits, underscores and dashes, which template names satisfy.
type ResendProvider struct {
	from   string
	client *resend.Client
}

func NewResendProvider(apiKey, from string) *ResendProvider {
	return &ResendProvider{from: from, client: resend.NewClient(apiKey)}
}

func (r *ResendProvider) SendEmail(ctx context.Context, email *Email) error {
	req, err := r.request(email)
	if err != nil {
		return err
	}
	sent, err := r.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("resend rejected %q to %s: %w", email.Subject, email.To, err)
	}
	if sent == nil || sent.Id == "" {
		return fmt.Errorf("resend accepted %q without a message id", email.Subject)
	}
	return nil
}

func (r *ResendProvider) request(email *Email) (*resend.SendEmailRequest, error) {
	if email == nil {
		return nil, fmt.Errorf("email is required")
	}
	if email.HTML == "" && email.Text == "" {
		return nil, errEmptyBody
	}
	req := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
	}
	if email.Tag != "" {
		req.Tags = []resend.Tag{{Name: "template", Value: email.Tag}}
	}
	return req, nil
}

// ValidateAPIKey lists API keys, so it needs a full access key.
func (r *ResendProvider) ValidateAPIKey(ctx context.Context) error {
	if _, err := r.client.ApiKeys.ListWithContext(ctx); err != nil {
		return fmt.Errorf("invalid API key: %w", err)
	}
	return nil
}
