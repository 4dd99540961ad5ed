package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID            string          `json:"id"`
	OrderNumber   string          `json:"order_number"`
	CustomerEmail string          `json:"customer_email"`
	CustomerName  string          `json:"customer_name"`
	ProductName   string          `json:"product_name"`
	SKU           string          `json:"sku"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	NFTEligible   bool            `json:"nft_eligible"`
	Metadata      map[string]any  `json:"metadata"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DisplayNumber returns the customer-facing order number, falling back to the id.
func (o *Order) DisplayNumber() string {
	if o == nil {
		return ""
	}
	if o.OrderNumber != "" {
		return o.OrderNumber
	}
	return "#" + o.ID
}
