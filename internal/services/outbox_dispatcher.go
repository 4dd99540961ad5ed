package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/certmint/certmint/internal/email"
	"github.com/certmint/certmint/internal/models"
	"github.com/certmint/certmint/internal/observability"
)

const (
	DefaultOutboxPollInterval = 15 * time.Second
	DefaultOutboxMaxAttempts  = 8
	DefaultOutboxSendTimeout  = 30 * time.Second

	outboxBatchSize   = 20
	outboxLeaseSlack  = time.Minute
	outboxBaseBackoff = 30 * time.Second
	outboxMaxBackoff  = time.Hour
)

type EmailSender interface {
	SendClaimEmail(ctx context.Context, to, token string, expiresAt time.Time, order email.OrderSummary) error
	SendWelcomeEmail(ctx context.Context, to string, wallet email.WalletSummary, mint email.MintSummary, order email.OrderSummary) error
	SendTestEmail(ctx context.Context, to string) error
}

type OutboxDispatcherConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	// SendTimeout bounds a single provider call and sizes the batch lease.
	SendTimeout time.Duration
}

type DispatchStats struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
	// Deferred messages were leased but left for a later pass because the
	// lease was close to running out.
	Deferred int `json:"deferred"`
}

// OutboxDispatcher delivers queued emails with exponential backoff.
type OutboxDispatcher struct {
	outbox  OutboxRepository
	sender  EmailSender
	config  OutboxDispatcherConfig
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewOutboxDispatcher(outbox OutboxRepository, sender EmailSender, config OutboxDispatcherConfig, metrics *observability.Metrics, logger *slog.Logger) *OutboxDispatcher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultOutboxPollInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultOutboxMaxAttempts
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultOutboxSendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxDispatcher{
		outbox:  outbox,
		sender:  sender,
		config:  config,
		metrics: metrics,
		logger:  logger.With("component", "outbox_dispatcher"),
		now:     time.Now,
	}
}

// Run dispatches until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) error {
	d.logger.Info("outbox dispatcher started", "poll_interval", d.config.PollInterval, "max_attempts", d.config.MaxAttempts)
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox dispatch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce leases one batch of due messages and attempts each.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (DispatchStats, error) {
	var stats DispatchStats

	leasedAt := d.now().UTC()
	lease := d.Lease()
	messages, err := d.outbox.ClaimDue(ctx, leasedAt, lease, outboxBatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to lease outbox messages: %w", err)
	}
	stats.Claimed = len(messages)

	// Nothing is sent once a full send could outlast the lease; another
	// dispatcher may take the row as soon as it expires.
	lastStart := leasedAt.Add(lease - d.config.SendTimeout - outboxLeaseSlack)
	for i, msg := range messages {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if d.now().After(lastStart) {
			stats.Deferred = len(messages) - i
			d.logger.Warn("outbox lease nearly spent, deferring rest of batch", "deferred", stats.Deferred)
			break
		}
		switch d.deliver(ctx, msg) {
		case models.OutboxStatusSent:
			stats.Sent++
		case models.OutboxStatusFailed:
			stats.Failed++
		default:
			stats.Retried++
		}
	}
	return stats, nil
}

// Lease is how long a batch holds its rows: every message may use its full
// send timeout, plus slack for the status updates.
func (d *OutboxDispatcher) Lease() time.Duration {
	return time.Duration(outboxBatchSize)*d.config.SendTimeout + outboxLeaseSlack
}

func (d *OutboxDispatcher) deliver(ctx context.Context, msg *models.OutboxMessage) models.OutboxStatus {
	span := sentry.StartSpan(
		ctx,
		"service.outbox.deliver",
		sentry.WithOpName("service.outbox"),
		sentry.WithDescription(string(msg.Kind)),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := d.logger.With("outbox_id", msg.ID, "kind", msg.Kind, "attempt", msg.Attempts+1)
	meter := observability.MeterFromContext(ctx)

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	sendErr := d.send(sendCtx, msg)
	cancel()
	if sendErr == nil {
		if err := d.outbox.MarkSent(ctx, msg.ID, d.now().UTC()); err != nil {
			logger.Error("email sent but outbox update failed", "error", err)
		}
		d.metrics.Outbox(string(msg.Kind), "sent")
		meter.Count("outbox.sent", 1, sentry.WithAttributes(attribute.String("kind", string(msg.Kind))))
		logger.Info("outbox message delivered")
		return models.OutboxStatusSent
	}

	attempts := msg.Attempts + 1
	if attempts >= d.config.MaxAttempts {
		if err := d.outbox.MarkFailed(ctx, msg.ID, attempts, sendErr.Error()); err != nil {
			logger.Error("failed to mark outbox message failed", "error", err)
		}
		d.metrics.Outbox(string(msg.Kind), "failed")
		meter.Count("outbox.failed", 1, sentry.WithAttributes(attribute.String("kind", string(msg.Kind))))
		logger.Error("outbox message abandoned", "error", sendErr)
		return models.OutboxStatusFailed
	}

	next := d.now().UTC().Add(OutboxBackoff(msg.Attempts))
	if err := d.outbox.Reschedule(ctx, msg.ID, attempts, next, sendErr.Error()); err != nil {
		logger.Error("failed to reschedule outbox message", "error", err)
	}
	d.metrics.Outbox(string(msg.Kind), "retry")
	logger.Warn("outbox delivery failed, will retry", "error", sendErr, "next_attempt_at", next)
	return models.OutboxStatusPending
}

func (d *OutboxDispatcher) send(ctx context.Context, msg *models.OutboxMessage) error {
	switch msg.Kind {
	case models.OutboxKindClaimEmail:
		var payload claimEmailPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid claim email payload: %w", err)
		}
		return d.sender.SendClaimEmail(ctx, msg.Recipient, payload.Token, payload.ExpiresAt, payload.Order)
	case models.OutboxKindWelcomeEmail:
		var payload welcomeEmailPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid welcome email payload: %w", err)
		}
		return d.sender.SendWelcomeEmail(ctx, msg.Recipient, payload.Wallet, payload.Mint, payload.Order)
	default:
		return fmt.Errorf("unknown outbox kind %q", msg.Kind)
	}
}

// OutboxBackoff is the delay after a failure when attempts deliveries had
// already been tried: 30s doubling per attempt, capped at one hour.
func OutboxBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := outboxBaseBackoff
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= outboxMaxBackoff {
			return outboxMaxBackoff
		}
	}
	return delay
}
