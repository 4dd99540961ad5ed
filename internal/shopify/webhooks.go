// Package shopify parses and authenticates Shopify order webhooks.
package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	HeaderHMAC      = "X-Shopify-Hmac-Sha256"
	HeaderTopic     = "X-Shopify-Topic"
	HeaderWebhookID = "X-Shopify-Webhook-Id"
	HeaderShop      = "X-Shopify-Shop-Domain"

	TopicOrdersCreate = "orders/create"
	TopicOrdersPaid   = "orders/paid"

	maxPayloadBytes = 2 << 20
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

func ValidateWebhookSignature(payload []byte, signature, secret string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("missing signature")
	}
	expected, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("invalid signature format")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(expected, mac.Sum(nil)) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// ReadWebhookPayload reads the body and, when secret is set, verifies its HMAC.
func ReadWebhookPayload(r *http.Request, secret string) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(payload) > maxPayloadBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxPayloadBytes)
	}

	if secret == "" {
		return payload, nil
	}
	if err := ValidateWebhookSignature(payload, r.Header.Get(HeaderHMAC), secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return payload, nil
}

// HandlesTopic reports whether topic carries an order we act on. An empty
// topic is treated as orders/create for manual and test deliveries.
func HandlesTopic(topic string) bool {
	switch strings.TrimSpace(topic) {
	case "", TopicOrdersCreate, TopicOrdersPaid:
		return true
	default:
		return false
	}
}
