package spapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"sellersync/internal/credentials"
)

const (
	DefaultTokenURL = "https://api.amazon.com/auth/o2/token"

	// TokenExpiryMargin is shaved off expires_in to absorb clock skew and latency.
	TokenExpiryMargin = 60 * time.Second
)

type CachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenCache hands out LWA access tokens, exchanging the refresh token only on miss or expiry.
// Concurrent refreshes for the same credential are not coalesced; the last write wins.
type TokenCache struct {
	store      TokenStore
	httpClient *http.Client
	tokenURL   string
	clock      Clock
	logger     *zap.Logger
}

func NewTokenCache(store TokenStore, httpClient *http.Client, tokenURL string, clock Clock, logger *zap.Logger) *TokenCache {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if strings.TrimSpace(tokenURL) == "" {
		tokenURL = DefaultTokenURL
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCache{store: store, httpClient: httpClient, tokenURL: tokenURL, clock: clock, logger: logger}
}

// CacheKey identifies a credential without exposing its secrets.
func CacheKey(cred credentials.Credential) string {
	sum := sha256.Sum256([]byte(cred.ClientID + "|" + cred.RefreshToken))
	return hex.EncodeToString(sum[:])
}

func (c *TokenCache) GetToken(ctx context.Context, cred credentials.Credential) (string, error) {
	key := CacheKey(cred)

	cached, err := c.store.Get(ctx, key)
	if err != nil {
		// Read errors fall through to a fresh exchange.
		c.logger.Warn("token cache read failed", zap.String("tenant", cred.Tenant), zap.Error(err))
	}
	if cached != nil && c.clock.Now().Before(cached.ExpiresAt) {
		return cached.Token, nil
	}

	tok, err := c.exchange(ctx, cred)
	if err != nil {
		return "", err
	}
	if err := c.store.Put(ctx, key, *tok); err != nil {
		c.logger.Warn("token cache write failed", zap.String("tenant", cred.Tenant), zap.Error(err))
	}
	return tok.Token, nil
}

func (c *TokenCache) Invalidate(ctx context.Context, cred credentials.Credential) error {
	return c.store.Delete(ctx, CacheKey(cred))
}

type lwaTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *TokenCache) exchange(ctx context.Context, cred credentials.Credential) (*CachedToken, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", cred.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded;charset=UTF-8")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &AuthError{Status: res.StatusCode, Body: string(raw)}
	}

	var out lwaTokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &DecodeError{Format: "token response", Err: err}
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return nil, &AuthError{Status: res.StatusCode, Body: "missing access_token"}
	}

	now := c.clock.Now()
	c.logger.Debug("lwa token refreshed", zap.String("tenant", cred.Tenant), zap.Int64("expires_in", out.ExpiresIn))

	return &CachedToken{
		Token:     out.AccessToken,
		ExpiresAt: now.Add(time.Duration(out.ExpiresIn)*time.Second - TokenExpiryMargin),
	}, nil
}
