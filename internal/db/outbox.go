package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OutboxStore struct {
	pool *pgxpool.Pool
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

const outboxColumns = `
	id, kind, recipient, payload, status, attempts, next_attempt_at, last_error, created_at, sent_at
`

func (s *OutboxStore) Enqueue(ctx context.Context, msg *OutboxMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	query := `
		INSERT INTO outbox_messages (id, kind, recipient, payload, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING created_at
	`
	next := msg.NextAttemptAt
	if next.IsZero() {
		next = time.Now().UTC()
	}
	if err := s.pool.QueryRow(ctx, query, msg.ID, string(msg.Kind), msg.Recipient, []byte(msg.Payload), next).Scan(&msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", msg.Kind, err)
	}
	msg.Status = OutboxStatusPending
	msg.NextAttemptAt = next
	return nil
}

// ClaimDue leases up to limit due messages by pushing their next_attempt_at past
// the lease window. Concurrent dispatchers skip rows another one has locked.
func (s *OutboxStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*OutboxMessage, error) {
	query := `
		UPDATE outbox_messages
		SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns
	rows, err := s.pool.Query(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*OutboxMessage
	for rows.Next() {
		msg, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *OutboxStore) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	cmdTag, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET status = 'sent', sent_at = $2, attempts = attempts + 1, last_error = ''
		WHERE id = $1 AND status = 'pending'
	`, id, sentAt)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending", ErrInvalidStatusTransition)
	}
	return nil
}

func (s *OutboxStore) Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	cmdTag, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET attempts = $2, next_attempt_at = $3, last_error = $4
		WHERE id = $1 AND status = 'pending'
	`, id, attempts, nextAttemptAt, lastError)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending", ErrInvalidStatusTransition)
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	cmdTag, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET status = 'failed', attempts = $2, last_error = $3
		WHERE id = $1 AND status = 'pending'
	`, id, attempts, lastError)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending", ErrInvalidStatusTransition)
	}
	return nil
}

func (s *OutboxStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM outbox_messages GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func scanOutbox(row rowScanner) (*OutboxMessage, error) {
	var (
		msg     OutboxMessage
		kind    string
		status  string
		payload []byte
		sentAt  pgtype.Timestamptz
	)
	if err := row.Scan(
		&msg.ID,
		&kind,
		&msg.Recipient,
		&payload,
		&status,
		&msg.Attempts,
		&msg.NextAttemptAt,
		&msg.LastError,
		&msg.CreatedAt,
		&sentAt,
	); err != nil {
		return nil, err
	}
	msg.Kind = OutboxKind(kind)
	msg.Status = OutboxStatus(status)
	msg.Payload = payload
	if sentAt.Valid {
		msg.SentAt = sentAt.Time
	}
	return &msg, nil
}
