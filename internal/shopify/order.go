package shopify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FlexibleString decodes a JSON string or number into its string form.
type FlexibleString string

func (f *FlexibleString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = FlexibleString(n.String())
	return nil
}

// Tags decodes either a JSON array of strings or a comma separated string.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*t = normalizeTags(list)
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("expected tag list or string: %w", err)
	}
	*t = normalizeTags(strings.Split(joined, ","))
	return nil
}

func normalizeTags(values []string) Tags {
	tags := make(Tags, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			tags = append(tags, v)
		}
	}
	return tags
}

func (t Tags) Contains(tag string) bool {
	for _, v := range t {
		if strings.EqualFold(v, tag) {
			return true
		}
	}
	return false
}

type Customer struct {
	ID        FlexibleString `json:"id"`
	Email     string         `json:"email"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
}

type Product struct {
	Tags        Tags   `json:"tags"`
	ProductType string `json:"product_type"`
}

type LineItem struct {
	ID          FlexibleString `json:"id"`
	ProductID   FlexibleString `json:"product_id"`
	Title       string         `json:"title"`
	Name        string         `json:"name"`
	SKU         string         `json:"sku"`
	Quantity    int            `json:"quantity"`
	Price       FlexibleString `json:"price"`
	Vendor      string         `json:"vendor"`
	Tags        Tags           `json:"tags"`
	ProductType string         `json:"product_type"`
	Product     *Product       `json:"product,omitempty"`
}

func (l LineItem) DisplayName() string {
	if l.Title != "" {
		return l.Title
	}
	return l.Name
}

type OrderPayload struct {
	ID            FlexibleString `json:"id"`
	Name          string         `json:"name"`
	OrderNumber   FlexibleString `json:"order_number"`
	Email         string         `json:"email"`
	ContactEmail  string         `json:"contact_email"`
	Customer      *Customer      `json:"customer,omitempty"`
	TotalPrice    FlexibleString `json:"total_price"`
	Currency      string         `json:"currency"`
	Tags          Tags           `json:"tags"`
	FinancialStat string         `json:"financial_status"`
	LineItems     []LineItem     `json:"line_items"`
	CreatedAt     string         `json:"created_at"`
}

func ParseOrder(payload []byte) (*OrderPayload, error) {
	var order OrderPayload
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, fmt.Errorf("invalid order payload: %w", err)
	}
	return &order, nil
}

// CustomerEmail returns the first non-empty of email, customer.email and contact_email.
func (o *OrderPayload) CustomerEmail() string {
	if email := strings.TrimSpace(o.Email); email != "" {
		return email
	}
	if o.Customer != nil {
		if email := strings.TrimSpace(o.Customer.Email); email != "" {
			return email
		}
	}
	return strings.TrimSpace(o.ContactEmail)
}

func (o *OrderPayload) CustomerName() string {
	if o.Customer == nil {
		return ""
	}
	return strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName)
}

// DisplayNumber prefers Shopify's name ("#1001"), then order_number, then id.
func (o *OrderPayload) DisplayNumber() string {
	if o.Name != "" {
		return o.Name
	}
	if o.OrderNumber != "" {
		return "#" + string(o.OrderNumber)
	}
	if o.ID != "" {
		return "#" + string(o.ID)
	}
	return ""
}

// Total parses total_price; a missing or malformed total is zero.
func (o *OrderPayload) Total() decimal.Decimal {
	amount, err := decimal.NewFromString(strings.TrimSpace(string(o.TotalPrice)))
	if err != nil {
		return decimal.Zero
	}
	return amount
}

func (o *OrderPayload) ItemCount() int {
	count := 0
	for _, item := range o.LineItems {
		q := item.Quantity
		if q <= 0 {
			q = 1
		}
		count += q
	}
	return count
}

func (o *OrderPayload) lineItemSummaries() []map[string]any {
	items := make([]map[string]any, 0, len(o.LineItems))
	for _, item := range o.LineItems {
		items = append(items, map[string]any{
			"id":       string(item.ID),
			"title":    item.DisplayName(),
			"sku":      item.SKU,
			"quantity": strconv.Itoa(item.Quantity),
			"price":    string(item.Price),
		})
	}
	return items
}
