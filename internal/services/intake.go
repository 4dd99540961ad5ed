package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/certmint/certmint/internal/cache"
	"github.com/certmint/certmint/internal/logging"
	"github.com/certmint/certmint/internal/models"
	"github.com/certmint/certmint/internal/observability"
	"github.com/certmint/certmint/internal/shopify"
)

const webhookDedupeTTL = 24 * time.Hour

type claimCreator interface {
	CreateClaim(ctx context.Context, orderID, email string) (*models.Claim, error)
}

type ClaimNotifier interface {
	EnqueueClaimEmail(ctx context.Context, claim *models.Claim, order *models.Order) error
}

// DeliveryDeduper remembers webhook delivery ids. cache.Provider satisfies it.
type DeliveryDeduper interface {
	SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
}

type WebhookInput struct {
	Topic      string
	DeliveryID string
	Payload    []byte
}

type IntakeResult struct {
	OrderID      string `json:"orderId"`
	NFTEligible  bool   `json:"nftEligible"`
	ClaimCreated bool   `json:"-"`
	Duplicate    bool   `json:"-"`
	Ignored      bool   `json:"-"`
}

type IntakeServiceConfig struct {
	Eligibility  shopify.Eligibility
	WriteTimeout time.Duration
}

// IntakeService turns Shopify order webhooks into stored orders and, for
// eligible orders, a claim plus a queued claim email.
type IntakeService struct {
	orders   OrderRepository
	claims   claimCreator
	notifier ClaimNotifier
	deduper  DeliveryDeduper
	config   IntakeServiceConfig
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewIntakeService(orders OrderRepository, claims claimCreator, notifier ClaimNotifier, deduper DeliveryDeduper, config IntakeServiceConfig, metrics *observability.Metrics, logger *slog.Logger) *IntakeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeService{
		orders:   orders,
		claims:   claims,
		notifier: notifier,
		deduper:  deduper,
		config:   config,
		metrics:  metrics,
		logger:   logger.With("component", "intake_service"),
	}
}

func (s *IntakeService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// HandleOrderWebhook accepts an order delivery. Only malformed payloads fail;
// storage, claim and email problems are logged so the delivery is still
// acknowledged.
func (s *IntakeService) HandleOrderWebhook(ctx context.Context, input WebhookInput) (*IntakeResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.intake.handle_order_webhook",
		sentry.WithOpName("service.intake"),
		sentry.WithDescription("HandleOrderWebhook"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	topic := strings.TrimSpace(input.Topic)
	logger := s.loggerFromContext(ctx).With("topic", topic, "delivery_id", input.DeliveryID)
	meter := observability.MeterFromContext(ctx)
	record := func(result string) {
		s.metrics.Webhook(topicLabel(topic), result)
		meter.Count("webhook.order", 1, sentry.WithAttributes(
			attribute.String("topic", topicLabel(topic)),
			attribute.String("result", result),
		))
	}

	if !shopify.HandlesTopic(topic) {
		record("ignored")
		logger.Info("webhook topic ignored")
		return &IntakeResult{Ignored: true}, nil
	}

	payload, err := shopify.ParseOrder(input.Payload)
	if err != nil {
		record("invalid")
		return nil, &ValidationError{Message: err.Error()}
	}
	if payload.ID == "" {
		record("invalid")
		return nil, &ValidationError{Field: "id", Message: "order id is required"}
	}
	if payload.CustomerEmail() == "" {
		record("invalid")
		return nil, &ValidationError{Field: "email", Message: "customer email is required"}
	}

	order := s.config.Eligibility.ToOrder(payload, topic)
	result := &IntakeResult{OrderID: order.ID, NFTEligible: order.NFTEligible}
	logger = logger.With("order_id", order.ID)

	if s.isDuplicateDelivery(ctx, logger, input.DeliveryID) {
		record("duplicate")
		result.Duplicate = true
		return result, nil
	}

	err = withWrite(ctx, "store order", s.config.WriteTimeout, func(ctx context.Context) error {
		return s.orders.Upsert(ctx, order)
	})
	if err != nil {
		// The in-memory projection still drives the claim below.
		meter.Count("webhook.order.persist_failed", 1)
		logger.Error("failed to persist order, continuing with in-memory order", "error", err)
		if order.CreatedAt.IsZero() {
			order.CreatedAt = time.Now().UTC()
		}
	}

	if !order.NFTEligible {
		record("accepted")
		logger.Info("order stored, not eligible for certificate")
		return result, nil
	}

	claim, err := s.claims.CreateClaim(ctx, order.ID, order.CustomerEmail)
	if err != nil {
		var duplicate *DuplicateClaimError
		if errors.As(err, &duplicate) {
			record("claim_exists")
			logger.Info("claim already exists for order")
			return result, nil
		}
		record("claim_failed")
		logger.Error("failed to create claim", "error", err)
		return result, nil
	}
	result.ClaimCreated = true

	if err := s.notifier.EnqueueClaimEmail(ctx, claim, order); err != nil {
		record("email_failed")
		logger.Error("failed to queue claim email", "error", err, "claim_id", claim.ID)
		return result, nil
	}

	record("accepted")
	logger.Info("order accepted, claim issued", "claim_id", claim.ID)
	return result, nil
}

func (s *IntakeService) isDuplicateDelivery(ctx context.Context, logger *slog.Logger, deliveryID string) bool {
	deliveryID = strings.TrimSpace(deliveryID)
	if s.deduper == nil || deliveryID == "" {
		return false
	}
	stored, err := s.deduper.SetIfAbsent(ctx, cache.WebhookKey("shopify", deliveryID), "1", webhookDedupeTTL)
	if err != nil {
		logger.Warn("webhook dedupe unavailable", "error", err)
		return false
	}
	if !stored {
		logger.Info("duplicate webhook delivery skipped")
	}
	return !stored
}

// topicLabel bounds metric label cardinality to the topics we handle.
func topicLabel(topic string) string {
	switch {
	case topic == "":
		return "unspecified"
	case shopify.HandlesTopic(topic):
		return topic
	default:
		return "other"
	}
}
