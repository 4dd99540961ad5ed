package shopify

import (
	"strings"

	"github.com/certmint/certmint/internal/models"
)

const DefaultEligibleTag = "nft-eligible"

// Eligibility decides which line items earn a certificate NFT.
type Eligibility struct {
	Tag       string
	SKUPrefix string
}

func (e Eligibility) tag() string {
	if t := strings.TrimSpace(e.Tag); t != "" {
		return t
	}
	return DefaultEligibleTag
}

// Eligible matches the tag against the item's tags, its product's tags and
// product type, case-insensitively, or the SKU against the configured prefix.
func (e Eligibility) Eligible(item LineItem) bool {
	tag := e.tag()
	if item.Tags.Contains(tag) || strings.EqualFold(strings.TrimSpace(item.ProductType), tag) {
		return true
	}
	if item.Product != nil {
		if item.Product.Tags.Contains(tag) || strings.EqualFold(strings.TrimSpace(item.Product.ProductType), tag) {
			return true
		}
	}
	prefix := strings.TrimSpace(e.SKUPrefix)
	return prefix != "" && strings.HasPrefix(strings.ToUpper(item.SKU), strings.ToUpper(prefix))
}

// FirstEligible returns the first eligible line item.
func (e Eligibility) FirstEligible(items []LineItem) (LineItem, bool) {
	for _, item := range items {
		if e.Eligible(item) {
			return item, true
		}
	}
	return LineItem{}, false
}

// ToOrder projects the payload onto the stored order. The product shown on the
// certificate is the first eligible item, or the first item when none qualify.
func (e Eligibility) ToOrder(payload *OrderPayload, topic string) *models.Order {
	item, eligible := e.FirstEligible(payload.LineItems)
	if !eligible && len(payload.LineItems) > 0 {
		item = payload.LineItems[0]
	}

	metadata := map[string]any{
		"source":     "shopify",
		"topic":      topic,
		"line_items": payload.lineItemSummaries(),
		"item_count": payload.ItemCount(),
	}
	if len(payload.Tags) > 0 {
		metadata["tags"] = []string(payload.Tags)
	}
	if payload.FinancialStat != "" {
		metadata["financial_status"] = payload.FinancialStat
	}
	if payload.CreatedAt != "" {
		metadata["shopify_created_at"] = payload.CreatedAt
	}

	return &models.Order{
		ID:            string(payload.ID),
		OrderNumber:   payload.DisplayNumber(),
		CustomerEmail: payload.CustomerEmail(),
		CustomerName:  payload.CustomerName(),
		ProductName:   item.DisplayName(),
		SKU:           item.SKU,
		TotalAmount:   payload.Total(),
		Currency:      payload.Currency,
		NFTEligible:   eligible,
		Metadata:      metadata,
	}
}
