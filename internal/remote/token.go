package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/adminhub/sync-engine/internal/cache"
)

// tokenCacheKey is the fixed cache key the auth token is memoized under.
const tokenCacheKey = "sync:remote:token"

// tokenSafetyMargin is subtracted from the expiry when deciding whether a
// cached token is still usable, so a token never expires mid-request.
const tokenSafetyMargin = 30 * time.Second

// Token is the remote access token together with its validity window.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	BaseURL     string    `json:"base_url"`
}

// Valid reports whether the token is usable at the given time, safety margin
// included.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Add(tokenSafetyMargin).Before(t.ExpiresAt)
}

// TokenSource owns the auth token lifecycle. The cache is only a memo: a
// miss, a corrupt entry or a cache outage all degrade to calling authenticate
// again, never to a failure.
type TokenSource struct {
	cache        cache.Cache
	authenticate func(ctx context.Context) (Token, error)
	logger       *slog.Logger

	mu sync.Mutex
}

func NewTokenSource(c cache.Cache, authenticate func(ctx context.Context) (Token, error), logger *slog.Logger) *TokenSource {
	return &TokenSource{cache: c, authenticate: authenticate, logger: logger}
}

// Token returns a valid access token, authenticating when the cached one is
// missing, expired or about to expire. Serialized so concurrent workers do
// not stampede the auth endpoint.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now().UTC()

	if tok, ok := ts.cached(ctx); ok && tok.Valid(now) {
		return tok.AccessToken, nil
	}

	tok, err := ts.authenticate(ctx)
	if err != nil {
		return "", err
	}

	ts.store(ctx, tok)
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next call re-authenticates.
func (ts *TokenSource) Invalidate(ctx context.Context) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cache == nil {
		return
	}
	if err := ts.cache.Remove(ctx, tokenCacheKey); err != nil {
		ts.logger.Warn("failed to drop cached token", "error", err)
	}
}

func (ts *TokenSource) cached(ctx context.Context) (Token, bool) {
	if ts.cache == nil {
		return Token{}, false
	}

	raw, ok, err := ts.cache.Get(ctx, tokenCacheKey)
	if err != nil || !ok {
		return Token{}, false
	}

	var tok Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		ts.logger.Warn("corrupt cached token, re-authenticating", "error", err)
		return Token{}, false
	}
	return tok, true
}

func (ts *TokenSource) store(ctx context.Context, tok Token) {
	if ts.cache == nil {
		return
	}

	raw, err := json.Marshal(tok)
	if err != nil {
		return
	}

	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := ts.cache.Set(ctx, tokenCacheKey, string(raw), ttl); err != nil {
		ts.logger.Warn("failed to cache token", "error", err)
	}
}
