package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `
	id, order_number, customer_email, customer_name, product_name, sku,
	total_amount::text, currency, nft_eligible, metadata, created_at
`

// Upsert inserts the order, or on redelivery merges metadata into the stored row.
// The eligibility flag only ever moves from false to true.
func (s *OrderStore) Upsert(ctx context.Context, order *Order) error {
	metadata := order.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode order metadata: %w", err)
	}

	query := `
		INSERT INTO orders (
			id, order_number, customer_email, customer_name, product_name, sku,
			total_amount, currency, nft_eligible, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			metadata = orders.metadata || EXCLUDED.metadata,
			nft_eligible = orders.nft_eligible OR EXCLUDED.nft_eligible
		RETURNING created_at
	`
	return s.pool.QueryRow(ctx, query,
		order.ID,
		order.OrderNumber,
		order.CustomerEmail,
		order.CustomerName,
		order.ProductName,
		order.SKU,
		order.TotalAmount.String(),
		order.Currency,
		order.NFTEligible,
		metadataJSON,
	).Scan(&order.CreatedAt)
}

func (s *OrderStore) GetByID(ctx context.Context, orderID string) (*Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return nil, notFound(err)
	}
	return order, nil
}

func (s *OrderStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		order        Order
		totalAmount  string
		metadataJSON []byte
	)
	if err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.CustomerEmail,
		&order.CustomerName,
		&order.ProductName,
		&order.SKU,
		&totalAmount,
		&order.Currency,
		&order.NFTEligible,
		&metadataJSON,
		&order.CreatedAt,
	); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(totalAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid total_amount %q: %w", totalAmount, err)
	}
	order.TotalAmount = amount

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &order.Metadata); err != nil {
			return nil, fmt.Errorf("invalid order metadata: %w", err)
		}
	}
	return &order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
