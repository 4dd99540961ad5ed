package handlers

import (
	"errors"
	"net/http"

	"github.com/certmint/certmint/internal/services"
	"github.com/certmint/certmint/internal/shopify"
)

type webhookResponse struct {
	Received    bool   `json:"received"`
	OrderID     string `json:"orderId,omitempty"`
	NFTEligible bool   `json:"nftEligible"`
	Ignored     bool   `json:"ignored,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
}

// ShopifyWebhook acknowledges order deliveries. Anything past payload
// validation is answered 200 so Shopify does not redeliver.
func (h *Handlers) ShopifyWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	payload, err := shopify.ReadWebhookPayload(r, h.config.ShopifyWebhookSecret)
	if err != nil {
		if errors.Is(err, shopify.ErrInvalidSignature) {
			logger.Warn("rejected Shopify webhook with bad signature", "shop", r.Header.Get(shopify.HeaderShop))
			h.writeError(w, r, &services.AuthError{Err: err})
			return
		}
		logger.Error("failed to read Shopify webhook payload", "error", err)
		h.writeError(w, r, &services.ValidationError{Message: "invalid webhook payload"})
		return
	}

	result, err := h.intake.HandleOrderWebhook(ctx, services.WebhookInput{
		Topic:      r.Header.Get(shopify.HeaderTopic),
		DeliveryID: r.Header.Get(shopify.HeaderWebhookID),
		Payload:    payload,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, webhookResponse{
		Received:    true,
		OrderID:     result.OrderID,
		NFTEligible: result.NFTEligible,
		Ignored:     result.Ignored,
		Duplicate:   result.Duplicate,
	})
}
