package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/certmint/certmint/internal/cache"
	"github.com/certmint/certmint/internal/certificate"
	"github.com/certmint/certmint/internal/config"
	"github.com/certmint/certmint/internal/crypto"
	"github.com/certmint/certmint/internal/db"
	"github.com/certmint/certmint/internal/email"
	"github.com/certmint/certmint/internal/handlers"
	"github.com/certmint/certmint/internal/logging"
	"github.com/certmint/certmint/internal/mint"
	"github.com/certmint/certmint/internal/observability"
	"github.com/certmint/certmint/internal/redisconn"
	"github.com/certmint/certmint/internal/services"
	"github.com/certmint/certmint/internal/session"
	"github.com/certmint/certmint/internal/shopify"
	"github.com/certmint/certmint/internal/wallet"
)

const emailHTTPTimeout = 30 * time.Second

var _ db.QueryObserver = (*observability.Metrics)(nil)

type App struct {
	Config         *config.Config
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	DB             *pgxpool.Pool
	CacheProvider  cache.Provider
	Redis          *redis.Client
	SessionManager *session.Manager
	Claims         *db.ClaimStore
	Sender         *email.Sender
	Dispatcher     *services.OutboxDispatcher
	Handlers       *handlers.Handlers

	stopDispatcher context.CancelFunc
	dispatcherDone sync.WaitGroup
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := NewLogger(cfg)
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.AppEnv,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			logger.Warn("failed to initialize sentry", "error", err)
		}
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	metrics := observability.NewMetrics()
	database, err := db.Connect(startupCtx, cfg.DatabaseURL, metrics)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if _, err := db.Migrate(startupCtx, database, logger.With("component", "migrate")); err != nil {
			database.Close()
			return nil, err
		}
	}

	var redisClient *redis.Client
	if cfg.CacheProvider == "redis" || cfg.SessionStoreProvider == "redis" {
		redisClient, err = redisconn.Open(startupCtx, cfg.RedisConnectionString)
		if err != nil {
			database.Close()
			return nil, err
		}
	}
	closeRedis := func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider: cfg.CacheProvider,
		Redis:    redisClient,
	})
	if err != nil {
		closeRedis()
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	sessionStore, err := session.NewStore(session.Config{
		Provider: cfg.SessionStoreProvider,
		Redis:    redisClient,
	})
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		closeRedis()
		database.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	sessionManager := session.NewManager(sessionStore, cfg.AdminSessionTTL)

	a := &App{
		Config:         cfg,
		Logger:         logger,
		Metrics:        metrics,
		DB:             database,
		CacheProvider:  cacheProvider,
		SessionManager: sessionManager,
		Redis:          redisClient,
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg, logger, metrics := a.Config, a.Logger, a.Metrics

	orderStore := db.NewOrderStore(a.DB)
	claimStore := db.NewClaimStore(a.DB)
	outboxStore := db.NewOutboxStore(a.DB)
	a.Claims = claimStore

	sender, emailProvider, err := NewEmailSender(cfg, a.CacheProvider, logger)
	if err != nil {
		return err
	}
	a.Sender = sender

	minter, err := mint.NewEngineClient(mint.Config{
		BaseURL:         cfg.MintAPIURL,
		APIKey:          cfg.MintAPIKey,
		BackendWallet:   cfg.MintBackendWallet,
		ContractAddress: cfg.NFTContractAddress,
		Chain:           cfg.NFTChain,
		HTTPClient:      observability.NewHTTPClient(cfg.MintTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize mint client: %w", err)
	}

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize sealer: %w", err)
	}

	layout, err := certificate.LoadLayout(cfg.CertificateLayoutPath)
	if err != nil {
		return err
	}
	renderer := certificate.NewRenderer(cfg.CertificateBaseURL, cfg.CertificateTemplateID, layout)

	claimService := services.NewClaimService(claimStore, orderStore, services.ClaimServiceConfig{
		Expiry:       cfg.ClaimExpiry,
		ReadTimeout:  cfg.DBReadTimeout,
		WriteTimeout: cfg.DBWriteTimeout,
	}, metrics, logger)
	notifier := services.NewNotifier(outboxStore, logger)
	intakeService := services.NewIntakeService(orderStore, claimService, notifier, a.CacheProvider, services.IntakeServiceConfig{
		Eligibility: shopify.Eligibility{
			Tag:       cfg.NFTEligibleTag,
			SKUPrefix: cfg.NFTSKUPrefix,
		},
		WriteTimeout: cfg.DBWriteTimeout,
	}, metrics, logger)

	mintService, err := services.NewMintService(services.MintServiceDeps{
		Claims:       claimService,
		Orders:       orderStore,
		Wallets:      wallet.NewIssuer(),
		Sealer:       sealer,
		Certificates: renderer,
		Minter:       minter,
		Notifier:     notifier,
		Metrics:      metrics,
		Logger:       logger,
	}, services.MintServiceConfig{
		BrandName:    cfg.BrandName,
		PortalURL:    cfg.ClaimPortalURL,
		MintTimeout:  cfg.MintTimeout,
		ReadTimeout:  cfg.DBReadTimeout,
		WriteTimeout: cfg.DBWriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize mint service: %w", err)
	}

	a.Dispatcher = services.NewOutboxDispatcher(outboxStore, sender, services.OutboxDispatcherConfig{
		PollInterval: cfg.OutboxPollInterval,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		SendTimeout:  emailHTTPTimeout,
	}, metrics, logger)

	adminDeps := services.AdminServiceDeps{
		Claims:       claimStore,
		Orders:       orderStore,
		Outbox:       outboxStore,
		Sessions:     a.SessionManager,
		Sender:       sender,
		Dispatcher:   a.Dispatcher,
		ProviderName: emailProvider.Name(),
		Environment:  cfg.Environment(),
		Logger:       logger,
	}
	if graph, ok := emailProvider.(*email.GraphProvider); ok {
		adminDeps.GraphTokens = graph
	}
	adminService, err := services.NewAdminService(adminDeps, services.AdminServiceConfig{
		AccessToken:      cfg.AdminAccessToken,
		DefaultRecipient: cfg.FromEmail,
		ReadTimeout:      cfg.DBReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize admin service: %w", err)
	}

	h, err := handlers.New(handlers.Dependencies{
		Config:       cfg,
		Health:       a.DB,
		Intake:       intakeService,
		Claims:       claimService,
		Mint:         mintService,
		Certificates: services.NewCertificateService(renderer),
		Admin:        adminService,
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize handlers: %w", err)
	}
	a.Handlers = h
	return nil
}

// NewEmailSender builds the configured email provider and the sender that
// renders messages for it.
func NewEmailSender(cfg *config.Config, tokenCache email.TokenCache, logger *slog.Logger) (*email.Sender, email.Provider, error) {
	provider, err := email.NewProvider(email.Config{
		Provider:              cfg.EmailProvider,
		From:                  cfg.FromEmail,
		ResendAPIKey:          cfg.ResendAPIKey,
		MicrosoftTenantID:     cfg.MicrosoftTenantID,
		MicrosoftClientID:     cfg.MicrosoftClientID,
		MicrosoftClientSecret: cfg.MicrosoftClientSecret,
		TokenCache:            tokenCache,
		HTTPClient:            observability.NewHTTPClient(emailHTTPTimeout),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	sender, err := email.NewSender(provider, cfg.BrandName, cfg.ClaimPortalURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize email sender: %w", err)
	}
	return sender, provider, nil
}

// StartDispatcher runs the outbox dispatcher until Close.
func (a *App) StartDispatcher() {
	if a == nil || a.Dispatcher == nil || a.stopDispatcher != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.stopDispatcher = cancel
	a.dispatcherDone.Add(1)
	go func() {
		defer a.dispatcherDone.Done()
		if err := a.Dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			a.Logger.Error("outbox dispatcher stopped", "error", err)
		}
	}()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.stopDispatcher != nil {
		a.stopDispatcher()
		a.dispatcherDone.Wait()
	}
	if a.SessionManager != nil {
		closeSessionManager(a.Logger, a.SessionManager)
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
	sentry.Flush(2 * time.Second)
}

// NewLogger builds the process logger. Error records are also reported to
// Sentry when a DSN is configured.
func NewLogger(cfg *config.Config) *slog.Logger {
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		base = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	default:
		base = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	var reporter slog.Handler
	if cfg.SentryDSN != "" {
		reporter = logging.NewSentryHandler(slog.LevelError)
	}
	return slog.New(logging.Fanout(base, reporter))
}

func closeSessionManager(logger *slog.Logger, manager *session.Manager) {
	if manager == nil {
		return
	}
	if err := manager.Close(); err != nil && logger != nil {
		logger.Warn("failed to close session manager", "error", err)
	}
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
