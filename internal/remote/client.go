// Package remote implements the client for the external system the engine
// synchronizes into. It owns the auth token (the cache only memoizes it) and
// classifies every response into the explicit delivery outcome the
// dispatcher branches on.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/adminhub/sync-engine/internal/cache"
	"github.com/adminhub/sync-engine/internal/domain"
)

const maxResponseBytes = 4096

// Client talks to the external sync endpoint over HTTPS.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	tokens       *TokenSource
	logger       *slog.Logger
}

// Config carries the remote system settings.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// NewClient builds a client with a fixed request timeout. The cache handle
// may be nil; every token read falls back to re-authenticating.
func NewClient(cfg Config, c cache.Cache, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      cfg.BaseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		logger:       logger,
	}
	client.tokens = NewTokenSource(c, client.requestToken, logger)
	return client
}

// Authenticate returns a valid access token, reusing the cached one while it
// is inside its validity window.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// syncEnvelope is the response body of the sync endpoint. A 2xx response may
// still carry a business-level rejection in Error.
type syncEnvelope struct {
	ExternalID string `json:"external_id"`
	Error      *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error,omitempty"`
}

// Submit delivers one payload under the given correlation id and classifies
// the result. An auth-expired response triggers one re-authentication and
// one resend within this same attempt; that inner retry is not counted
// against the queue item's retry budget.
func (c *Client) Submit(ctx context.Context, payload []byte, correlationID string) domain.Outcome {
	outcome, authExpired := c.submitOnce(ctx, payload, correlationID)
	if !authExpired {
		return outcome
	}

	c.logger.Info("remote token expired, re-authenticating", "correlation_id", correlationID)
	c.tokens.Invalidate(ctx)

	outcome, authExpired = c.submitOnce(ctx, payload, correlationID)
	if authExpired {
		return domain.Retriable("authentication rejected twice")
	}
	return outcome
}

func (c *Client) submitOnce(ctx context.Context, payload []byte, correlationID string) (outcome domain.Outcome, authExpired bool) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return domain.Retriable(fmt.Sprintf("authentication failed: %v", err)), false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sync/atividades", bytes.NewReader(payload))
	if err != nil {
		return domain.Permanent(fmt.Sprintf("building request: %v", err)), false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Correlation-ID", correlationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures and timeouts are always worth retrying.
		return domain.Retriable(fmt.Sprintf("request failed: %v", err)), false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	out := c.classify(resp.StatusCode, body)
	return out, resp.StatusCode == http.StatusUnauthorized
}

// classify maps an HTTP status and body into the delivery outcome.
// Transport errors never reach here. 408/429 and every 5xx are retriable;
// the remaining 4xx mean the remote rejected the payload and retrying only
// wastes attempts. A 2xx body may carry a business-error envelope that is
// classified by its own retryable flag.
func (c *Client) classify(status int, body []byte) domain.Outcome {
	switch {
	case status >= 200 && status < 300:
		var env syncEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return domain.Outcome{
				Kind:       domain.OutcomeRetriable,
				Reason:     fmt.Sprintf("unreadable response body: %v", err),
				HTTPStatus: status,
			}
		}
		if env.Error != nil {
			out := domain.Outcome{
				Kind:       domain.OutcomePermanent,
				Reason:     fmt.Sprintf("%s: %s", env.Error.Code, env.Error.Message),
				HTTPStatus: status,
			}
			if env.Error.Retryable {
				out.Kind = domain.OutcomeRetriable
			}
			return out
		}
		return domain.Outcome{Kind: domain.OutcomeSuccess, ExternalID: env.ExternalID, HTTPStatus: status}

	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return domain.Outcome{
			Kind:       domain.OutcomeRetriable,
			Reason:     fmt.Sprintf("remote returned %d: %s", status, truncate(body, 200)),
			HTTPStatus: status,
		}

	default:
		return domain.Outcome{
			Kind:       domain.OutcomePermanent,
			Reason:     fmt.Sprintf("remote rejected with %d: %s", status, truncate(body, 200)),
			HTTPStatus: status,
		}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// requestToken performs the actual authentication round trip.
func (c *Client) requestToken(ctx context.Context) (Token, error) {
	creds, err := json.Marshal(map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	})
	if err != nil {
		return Token{}, fmt.Errorf("encoding credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/token", bytes.NewReader(creds))
	if err != nil {
		return Token{}, fmt.Errorf("building auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return Token{}, fmt.Errorf("auth rejected with %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return Token{}, fmt.Errorf("decoding auth response: %w", err)
	}
	if payload.AccessToken == "" {
		return Token{}, fmt.Errorf("auth response missing access_token")
	}

	return Token{
		AccessToken: payload.AccessToken,
		ExpiresAt:   time.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second),
		BaseURL:     c.baseURL,
	}, nil
}
