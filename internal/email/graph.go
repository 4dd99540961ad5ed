package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/certmint/certmint/internal/cache"
)

const (
	graphTokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	graphScope          = "https://graph.microsoft.com/.default"
	graphBaseURL        = "https://graph.microsoft.com/v1.0"

	// Cached tokens are dropped this long before the issuer's expiry.
	tokenRefreshMargin = 5 * time.Minute
	defaultTokenLife   = time.Hour
	maxErrorBodyBytes  = 4 << 10
)

// TokenCache is the subset of cache.Provider used to share access tokens.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	From         string
	Cache        TokenCache
	HTTPClient   *http.Client

	// TokenURL and BaseURL override the Microsoft endpoints.
	TokenURL string
	BaseURL  string
}

// AccessToken is a bearer token for the Graph API.
type AccessToken struct {
	Value     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
	Cached    bool      `json:"-"`
}

// GraphProvider sends mail as the configured mailbox through Microsoft Graph
// using an application (client-credentials) grant.
type GraphProvider struct {
	from       string
	baseURL    string
	cacheKey   string
	credential *clientcredentials.Config
	cache      TokenCache
	httpClient *http.Client
	now        func() time.Time
}

func NewGraphProvider(cfg GraphConfig) (*GraphProvider, error) {
	if strings.TrimSpace(cfg.TenantID) == "" || strings.TrimSpace(cfg.ClientID) == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("graph tenant, client id and client secret are required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("graph sender mailbox is required")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf(graphTokenURLFormat, url.PathEscape(cfg.TenantID))
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = graphBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	tokenCache := cfg.Cache
	if tokenCache == nil {
		memory, err := cache.NewMemoryProvider()
		if err != nil {
			return nil, err
		}
		tokenCache = memory
	}

	return &GraphProvider{
		from:     cfg.From,
		baseURL:  baseURL,
		cacheKey: cache.AccessTokenKey("graph:"+cfg.TenantID, cfg.ClientID),
		credential: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		cache:      tokenCache,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

func (g *GraphProvider) Name() string { return "graph" }

// AccessToken returns a cached token when one is still fresh, otherwise it runs
// the client-credentials exchange. Failed exchanges are never cached.
func (g *GraphProvider) AccessToken(ctx context.Context) (*AccessToken, error) {
	if cached, ok := g.cachedToken(ctx); ok {
		return cached, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	tok, err := g.credential.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: graph token exchange: %w", ErrAuth, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: graph token response had no access_token", ErrAuth)
	}

	now := g.now()
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultTokenLife)
	}
	token := &AccessToken{Value: tok.AccessToken, ExpiresAt: expiresAt}

	if ttl := expiresAt.Sub(now) - tokenRefreshMargin; ttl > 0 {
		if encoded, err := json.Marshal(token); err == nil {
			// A cache outage only costs an extra exchange next time.
			_ = g.cache.Set(ctx, g.cacheKey, string(encoded), ttl)
		}
	}
	return token, nil
}

func (g *GraphProvider) cachedToken(ctx context.Context) (*AccessToken, bool) {
	raw, err := g.cache.Get(ctx, g.cacheKey)
	if err != nil {
		return nil, false
	}
	var token AccessToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil || token.Value == "" {
		return nil, false
	}
	if !g.now().Before(token.ExpiresAt.Add(-tokenRefreshMargin)) {
		return nil, false
	}
	token.Cached = true
	return &token, true
}

// InvalidateToken drops the cached token so the next call re-authenticates.
func (g *GraphProvider) InvalidateToken(ctx context.Context) {
	_ = g.cache.Delete(ctx, g.cacheKey)
}

type graphMessage struct {
	Message         graphMessageBody `json:"message"`
	SaveToSentItems bool             `json:"saveToSentItems"`
}

type graphMessageBody struct {
	Subject      string           `json:"subject"`
	Body         graphItemBody    `json:"body"`
	ToRecipients []graphRecipient `json:"toRecipients"`
}

type graphItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Address string `json:"address"`
}

func (g *GraphProvider) SendEmail(ctx context.Context, email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}
	body := graphItemBody{ContentType: "HTML", Content: email.HTML}
	if email.HTML == "" {
		body = graphItemBody{ContentType: "Text", Content: email.Text}
	}
	if body.Content == "" {
		return fmt.Errorf("%w: email body is empty", ErrDelivery)
	}

	payload, err := json.Marshal(graphMessage{
		Message: graphMessageBody{
			Subject:      email.Subject,
			Body:         body,
			ToRecipients: []graphRecipient{{EmailAddress: graphEmailAddress{Address: email.To}}},
		},
		SaveToSentItems: true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal graph message: %w", err)
	}

	token, err := g.AccessToken(ctx)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", g.baseURL, url.PathEscape(g.from))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: graph sendMail: %w", ErrDelivery, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if resp.StatusCode == http.StatusUnauthorized {
		g.InvalidateToken(ctx)
	}
	return fmt.Errorf("%w: graph sendMail returned %d: %s", ErrDelivery, resp.StatusCode, strings.TrimSpace(string(detail)))
}

func (g *GraphProvider) ValidateAPIKey(ctx context.Context) error {
	_, err := g.AccessToken(ctx)
	return err
}
