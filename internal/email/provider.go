// Package email sends the claim, welcome and diagnostic emails.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuth marks failures to obtain provider credentials.
	ErrAuth = errors.New("email provider authentication failed")
	// ErrDelivery marks messages the provider refused or could not accept.
	ErrDelivery = errors.New("email delivery failed")
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
	ValidateAPIKey(ctx context.Context) error
	Name() string
}

type Email struct {
	// Kind labels the message ("claim", "welcome", "test") for provider-side
	// filtering.
	Kind    string
	To      string
	Subject string
	Text    string
	HTML    string
}

type Config struct {
	Provider string
	From     string

	ResendAPIKey string

	MicrosoftTenantID     string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	TokenCache            TokenCache
	HTTPClient            *http.Client
}

func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "graph", "":
		return NewGraphProvider(GraphConfig{
			TenantID:     config.MicrosoftTenantID,
			ClientID:     config.MicrosoftClientID,
			ClientSecret: config.MicrosoftClientSecret,
			From:         config.From,
			Cache:        config.TokenCache,
			HTTPClient:   config.HTTPClient,
		})
	case "resend":
		return NewResendProvider(config.ResendAPIKey, config.From, config.HTTPClient), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be either 'graph' or 'resend'")
	}
}
