package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development" validate:"oneof=development staging production"`
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	EncryptionKey string `env:"ENCRYPTION_KEY,required" validate:"required,len=32"`

	MintAPIURL         string `env:"MINT_API_URL,required" validate:"required,url"`
	MintAPIKey         string `env:"MINT_API_KEY,required" validate:"required"`
	MintBackendWallet  string `env:"MINT_BACKEND_WALLET,required" validate:"required,eth_addr"`
	NFTContractAddress string `env:"NFT_CONTRACT_ADDRESS,required" validate:"required,eth_addr"`
	NFTChain           string `env:"NFT_CHAIN" envDefault:"polygon" validate:"required"`

	EmailProvider         string `env:"EMAIL_PROVIDER" envDefault:"graph" validate:"oneof=graph resend"`
	MicrosoftClientID     string `env:"MICROSOFT_CLIENT_ID" validate:"required_if=EmailProvider graph"`
	MicrosoftClientSecret string `env:"MICROSOFT_CLIENT_SECRET" validate:"required_if=EmailProvider graph"`
	MicrosoftTenantID     string `env:"MICROSOFT_TENANT_ID" validate:"required_if=EmailProvider graph"`
	ResendAPIKey          string `env:"RESEND_API_KEY" validate:"required_if=EmailProvider resend"`
	FromEmail             string `env:"FROM_EMAIL,required" validate:"required,email"`
	BrandName             string `env:"BRAND_NAME" envDefault:"Certmint"`

	ClaimPortalURL          string        `env:"CLAIM_PORTAL_URL,required" validate:"required,url"`
	ClaimExpiry             time.Duration `env:"CLAIM_EXPIRY" envDefault:"2160h" validate:"gt=0"`
	ClaimRateLimitPerMinute int           `env:"CLAIM_RATE_LIMIT_PER_MINUTE" envDefault:"30" validate:"gte=0"`
	NFTEligibleTag          string        `env:"NFT_ELIGIBLE_TAG" envDefault:"nft-eligible" validate:"required"`
	NFTSKUPrefix            string        `env:"NFT_SKU_PREFIX"`
	ShopifyWebhookSecret    string        `env:"SHOPIFY_WEBHOOK_SECRET"`

	CertificateBaseURL    string `env:"COA_BASE_URL,required" validate:"required,url"`
	CertificateTemplateID string `env:"COA_TEMPLATE_ID" envDefault:"coa_template.png" validate:"required"`
	CertificateLayoutPath string `env:"COA_LAYOUT_PATH"`

	AdminAccessToken string        `env:"ADMIN_ACCESS_TOKEN,required" validate:"required,min=16"`
	AdminSessionTTL  time.Duration `env:"ADMIN_SESSION_TTL" envDefault:"1h" validate:"gt=0"`
	AllowedOrigins   []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	TrustedProxies   []string      `env:"TRUSTED_PROXIES" envSeparator:","`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	SessionStoreProvider  string `env:"SESSION_STORE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis,required_if=SessionStoreProvider redis"`

	DBReadTimeout      time.Duration `env:"DB_READ_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	DBWriteTimeout     time.Duration `env:"DB_WRITE_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	MintTimeout        time.Duration `env:"MINT_TIMEOUT" envDefault:"60s" validate:"gt=0"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"15s" validate:"gt=0"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"8" validate:"gt=0"`

	SentryDSN string `env:"SENTRY_DSN"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == EnvProduction
}

// Environment reports which optional integrations are configured. Secret
// values are never included.
func (c *Config) Environment() map[string]any {
	return map[string]any{
		"appEnv":               c.AppEnv,
		"emailProvider":        c.EmailProvider,
		"fromEmail":            c.FromEmail,
		"claimPortalUrl":       c.ClaimPortalURL,
		"nftChain":             c.NFTChain,
		"nftContractAddress":   c.NFTContractAddress,
		"nftEligibleTag":       c.NFTEligibleTag,
		"cacheProvider":        c.CacheProvider,
		"sessionStoreProvider": c.SessionStoreProvider,
		"hasDatabaseUrl":       c.DatabaseURL != "",
		"hasMintApiKey":        c.MintAPIKey != "",
		"hasMicrosoftClientId": c.MicrosoftClientID != "",
		"hasMicrosoftSecret":   c.MicrosoftClientSecret != "",
		"hasMicrosoftTenantId": c.MicrosoftTenantID != "",
		"hasResendApiKey":      c.ResendAPIKey != "",
		"hasWebhookSecret":     c.ShopifyWebhookSecret != "",
		"hasSentryDsn":         c.SentryDSN != "",
		"allowedOrigins":       len(c.AllowedOrigins),
		"trustedProxies":       len(c.TrustedProxies),
	}
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	portalURL, err := url.Parse(strings.TrimSpace(c.ClaimPortalURL))
	if err != nil || portalURL.Hostname() == "" {
		return fmt.Errorf("CLAIM_PORTAL_URL must be a valid absolute URL")
	}
	if c.IsProduction() && !isLocalHost(portalURL.Hostname()) && !strings.EqualFold(portalURL.Scheme, "https") {
		return fmt.Errorf("CLAIM_PORTAL_URL must use https in production")
	}

	for _, origin := range c.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("ALLOWED_ORIGINS entry %q must be an origin like https://shop.example.com", origin)
		}
	}

	for _, proxy := range c.TrustedProxies {
		if _, err := ParseProxyPrefix(proxy); err != nil {
			return err
		}
	}

	return nil
}

// ParseProxyPrefix accepts a single address or a CIDR range.
func ParseProxyPrefix(value string) (netip.Prefix, error) {
	value = strings.TrimSpace(value)
	if prefix, err := netip.ParsePrefix(value); err == nil {
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("TRUSTED_PROXIES entry %q must be an IP address or CIDR range", value)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
