// Package session manages short-lived admin sessions issued in exchange for
// the static admin access token.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var ErrSessionNotFound = errors.New("session not found or expired")

// Data represents the data stored in a session
type Data struct {
	Subject   string    `json:"subject"`
	RemoteIP  string    `json:"remote_ip"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store defines the interface for session storage
type Store interface {
	Get(ctx context.Context, key string) (*Data, bool)
	Set(ctx context.Context, key string, data *Data, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Close() error
}

// Manager handles session creation, validation, and storage
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *Manager) Close() error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Close()
}

// Create issues a new opaque session token.
func (m *Manager) Create(ctx context.Context, subject, remoteIP string) (string, *Data, error) {
	if ctx == nil {
		return "", nil, fmt.Errorf("context is required")
	}

	token, err := generateSessionToken()
	if err != nil {
		return "", nil, err
	}

	now := m.now()
	data := &Data{
		Subject:   subject,
		RemoteIP:  remoteIP,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.store.Set(ctx, storeKey(token), data, m.ttl)

	return token, cloneData(data), nil
}

// Validate returns the session for token if it is still live.
func (m *Manager) Validate(ctx context.Context, token string) (*Data, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	key := storeKey(token)
	data, ok := m.store.Get(ctx, key)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !m.now().Before(data.ExpiresAt) {
		m.store.Delete(ctx, key)
		return nil, ErrSessionNotFound
	}
	return data, nil
}

func (m *Manager) Revoke(ctx context.Context, token string) {
	if token == "" {
		return
	}
	m.store.Delete(ctx, storeKey(token))
}

// storeKey keeps raw bearer tokens out of the backing store.
func storeKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func cloneData(data *Data) *Data {
	if data == nil {
		return nil
	}
	cloned := *data
	return &cloned
}
