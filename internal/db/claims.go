package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ClaimStore struct {
	pool *pgxpool.Pool
}

func NewClaimStore(pool *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

// WalletAttachment is the wallet and certificate bound to a pending claim before minting.
type WalletAttachment struct {
	WalletAddress       string
	EncryptedPrivateKey string
	EncryptedMnemonic   string
	CertificateID       string
	CertificateURL      string
}

// MintRecord is the on-chain result stored when a claim completes.
type MintRecord struct {
	TokenID         string
	TransactionHash string
	MintQueueID     string
}

const claimColumns = `
	id, order_id, token, email, status, expires_at, created_at,
	wallet_address, encrypted_private_key, encrypted_mnemonic,
	certificate_id, certificate_url, token_id, transaction_hash,
	mint_queue_id, last_error, completed_at
`

// CreateForOrder inserts a new pending claim. A per-order advisory lock serializes
// concurrent webhook deliveries; ErrClaimExists is returned when the order already
// has a completed claim or a pending claim that has not expired at claim.CreatedAt.
func (s *ClaimStore) CreateForOrder(ctx context.Context, claim *Claim) error {
	if claim.ID == uuid.Nil {
		claim.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, claim.OrderID); err != nil {
		return fmt.Errorf("failed to lock order %s: %w", claim.OrderID, err)
	}

	var open bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM claims
			WHERE order_id = $1
			  AND (status = 'completed' OR expires_at > $2 OR wallet_address <> '')
		)
	`, claim.OrderID, claim.CreatedAt).Scan(&open)
	if err != nil {
		return err
	}
	if open {
		return ErrClaimExists
	}

	query := `
		INSERT INTO claims (id, order_id, token, email, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, query,
		claim.ID,
		claim.OrderID,
		claim.Token,
		claim.Email,
		ClaimStatusPending,
		claim.ExpiresAt,
		claim.CreatedAt,
	); err != nil {
		return err
	}
	claim.Status = ClaimStatusPending

	return tx.Commit(ctx)
}

func (s *ClaimStore) GetByToken(ctx context.Context, token string) (*Claim, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE token = $1`, token)
	claim, err := scanClaim(row)
	if err != nil {
		return nil, notFound(err)
	}
	return claim, nil
}

func (s *ClaimStore) GetByID(ctx context.Context, claimID uuid.UUID) (*Claim, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, claimID)
	claim, err := scanClaim(row)
	if err != nil {
		return nil, notFound(err)
	}
	return claim, nil
}

// AttachWallet binds a wallet and certificate to a pending claim that has none yet.
// When another caller attached first, the stored attachment is returned instead.
func (s *ClaimStore) AttachWallet(ctx context.Context, claimID uuid.UUID, attachment WalletAttachment) (*Claim, error) {
	query := `
		UPDATE claims
		SET wallet_address = $2,
			encrypted_private_key = $3,
			encrypted_mnemonic = $4,
			certificate_id = $5,
			certificate_url = $6
		WHERE id = $1 AND status = 'pending' AND wallet_address = ''
		RETURNING ` + claimColumns
	row := s.pool.QueryRow(ctx, query,
		claimID,
		attachment.WalletAddress,
		attachment.EncryptedPrivateKey,
		attachment.EncryptedMnemonic,
		attachment.CertificateID,
		attachment.CertificateURL,
	)
	claim, err := scanClaim(row)
	if err == nil {
		return claim, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	existing, err := s.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if existing.Status != ClaimStatusPending {
		return nil, fmt.Errorf("%w: expected pending", ErrInvalidStatusTransition)
	}
	return existing, nil
}

// Complete moves a pending claim to completed exactly once.
func (s *ClaimStore) Complete(ctx context.Context, claimID uuid.UUID, record MintRecord, completedAt time.Time) (*Claim, error) {
	query := `
		UPDATE claims
		SET status = 'completed',
			token_id = $2,
			transaction_hash = $3,
			mint_queue_id = $4,
			completed_at = $5,
			last_error = ''
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + claimColumns
	row := s.pool.QueryRow(ctx, query, claimID, record.TokenID, record.TransactionHash, record.MintQueueID, completedAt)
	claim, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: expected pending", ErrInvalidStatusTransition)
		}
		return nil, err
	}
	return claim, nil
}

func (s *ClaimStore) RecordError(ctx context.Context, claimID uuid.UUID, message string) error {
	cmdTag, err := s.pool.Exec(ctx, `
		UPDATE claims
		SET last_error = $2
		WHERE id = $1 AND status = 'pending'
	`, claimID, message)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending", ErrInvalidStatusTransition)
	}
	return nil
}

func (s *ClaimStore) CountByStatus(ctx context.Context, now time.Time) (ClaimStatusCounts, error) {
	var counts ClaimStatusCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending' AND (expires_at > $1 OR wallet_address <> '')),
			count(*) FILTER (WHERE status = 'pending' AND expires_at <= $1 AND wallet_address = ''),
			count(*) FILTER (WHERE status = 'completed')
		FROM claims
	`, now).Scan(&counts.Pending, &counts.Expired, &counts.Completed)
	return counts, err
}

func (s *ClaimStore) ListRecent(ctx context.Context, limit int) ([]*Claim, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+claimColumns+` FROM claims ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []*Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}

func scanClaim(row rowScanner) (*Claim, error) {
	var (
		claim       Claim
		status      string
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&claim.ID,
		&claim.OrderID,
		&claim.Token,
		&claim.Email,
		&status,
		&claim.ExpiresAt,
		&claim.CreatedAt,
		&claim.WalletAddress,
		&claim.EncryptedPrivateKey,
		&claim.EncryptedMnemonic,
		&claim.CertificateID,
		&claim.CertificateURL,
		&claim.TokenID,
		&claim.TransactionHash,
		&claim.MintQueueID,
		&claim.LastError,
		&completedAt,
	); err != nil {
		return nil, err
	}
	claim.Status = ClaimStatus(status)
	if completedAt.Valid {
		claim.CompletedAt = completedAt.Time
	}
	return &claim, nil
}
