package email

import (
	"context"
	"fmt"
	"net/http"

	resend "github.com/resend/resend-go/v3"
)

// ResendProvider delivers through the Resend API. It is the fallback when no
// Microsoft 365 tenant is available.
type ResendProvider struct {
	from   string
	client *resend.Client
}

// NewResendProvider uses httpClient for API calls when it is non-nil.
func NewResendProvider(apiKey, from string, httpClient *http.Client) *ResendProvider {
	client := resend.NewClient(apiKey)
	if httpClient != nil {
		client = resend.NewCustomClient(httpClient, apiKey)
	}
	return &ResendProvider{from: from, client: client}
}

func (r *ResendProvider) Name() string { return "resend" }

func (r *ResendProvider) SendEmail(ctx context.Context, email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}
	if email.HTML == "" && email.Text == "" {
		return fmt.Errorf("%w: email body is empty", ErrDelivery)
	}

	req := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
	}
	if email.Kind != "" {
		req.Tags = []resend.Tag{{Name: "kind", Value: email.Kind}}
	}

	if _, err := r.client.Emails.SendWithContext(ctx, req); err != nil {
		return fmt.Errorf("%w: resend: %w", ErrDelivery, err)
	}
	return nil
}

// ValidateAPIKey lists API keys without sending mail. Sending-only keys are
// reported as invalid.
func (r *ResendProvider) ValidateAPIKey(ctx context.Context) error {
	if _, err := r.client.ApiKeys.ListWithContext(ctx); err != nil {
		return fmt.Errorf("%w: resend rejected API key: %w", ErrAuth, err)
	}
	return nil
}
