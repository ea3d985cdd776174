package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adminhub/sync-engine/internal/cache"
	"github.com/adminhub/sync-engine/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRemote is an httptest server speaking the remote system's auth and sync
// endpoints.
type fakeRemote struct {
	server *httptest.Server

	authCalls atomic.Int32
	syncCalls atomic.Int32

	// syncHandler decides the response of the next sync call.
	syncHandler func(call int, w http.ResponseWriter, r *http.Request)
}

func newFakeRemote(t *testing.T, syncHandler func(call int, w http.ResponseWriter, r *http.Request)) *fakeRemote {
	t.Helper()

	f := &fakeRemote{syncHandler: syncHandler}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.authCalls.Add(1)
		var creds struct {
			ClientID     string `json:"client_id"`
			ClientSecret string `json:"client_secret"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.ClientID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("token-%d", n),
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api/sync/atividades", func(w http.ResponseWriter, r *http.Request) {
		f.syncHandler(int(f.syncCalls.Add(1)), w, r)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeRemote, c cache.Cache) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:      f.server.URL,
		ClientID:     "sync-engine",
		ClientSecret: "secret",
		Timeout:      2 * time.Second,
	}, c, testLogger())
}

func newMiniredisCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewRedisCache(client)
}

func writeSuccess(w http.ResponseWriter, externalID string) {
	json.NewEncoder(w).Encode(map[string]string{"external_id": externalID})
}

func TestClient_SubmitSuccess(t *testing.T) {
	f := newFakeRemote(t, func(call int, w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Correlation-ID") != "corr-1" {
			t.Errorf("correlation header = %q", r.Header.Get("X-Correlation-ID"))
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token-1" {
			t.Errorf("authorization header = %q", auth)
		}
		writeSuccess(w, "ext-99")
	})
	client := newTestClient(t, f, nil)

	out := client.Submit(context.Background(), []byte(`{"op":"create"}`), "corr-1")

	if out.Kind != domain.OutcomeSuccess {
		t.Fatalf("kind = %v, want success (%s)", out.Kind, out.Reason)
	}
	if out.ExternalID != "ext-99" {
		t.Errorf("external id = %q, want ext-99", out.ExternalID)
	}
}

func TestClient_ClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   domain.OutcomeKind
	}{
		{http.StatusInternalServerError, domain.OutcomeRetriable},
		{http.StatusServiceUnavailable, domain.OutcomeRetriable},
		{http.StatusRequestTimeout, domain.OutcomeRetriable},
		{http.StatusTooManyRequests, domain.OutcomeRetriable},
		{http.StatusBadRequest, domain.OutcomePermanent},
		{http.StatusNotFound, domain.OutcomePermanent},
		{http.StatusUnprocessableEntity, domain.OutcomePermanent},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := newFakeRemote(t, func(call int, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			client := newTestClient(t, f, nil)

			out := client.Submit(context.Background(), []byte(`{}`), "corr")
			if out.Kind != tt.want {
				t.Errorf("status %d classified as %v, want %v", tt.status, out.Kind, tt.want)
			}
			if out.HTTPStatus != tt.status {
				t.Errorf("outcome http status = %d, want %d", out.HTTPStatus, tt.status)
			}
		})
	}
}

func TestClient_BusinessErrorEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		retryable bool
		want      domain.OutcomeKind
	}{
		{"retryable business error", true, domain.OutcomeRetriable},
		{"final business error", false, domain.OutcomePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeRemote(t, func(call int, w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":      "SYNC_LOCKED",
						"message":   "entity locked by a running job",
						"retryable": tt.retryable,
					},
				})
			})
			client := newTestClient(t, f, nil)

			out := client.Submit(context.Background(), []byte(`{}`), "corr")
			if out.Kind != tt.want {
				t.Errorf("kind = %v, want %v", out.Kind, tt.want)
			}
			if out.Reason == "" {
				t.Error("business error must carry the envelope code and message")
			}
		})
	}
}

func TestClient_TransportFailureIsRetriable(t *testing.T) {
	f := newFakeRemote(t, func(call int, w http.ResponseWriter, r *http.Request) {})
	client := newTestClient(t, f, nil)
	f.server.Close()

	out := client.Submit(context.Background(), []byte(`{}`), "corr")
	if out.Kind != domain.OutcomeRetriable {
		t.Errorf("transport failure classified as %v, want retriable", out.Kind)
	}
}

func TestClient_ReauthenticatesOnceOn401(t *testing.T) {
	f := newFakeRemote(t, func(call int, w http.ResponseWriter, r *http.Request) {
		if call == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeSuccess(w, "ext-after-reauth")
	})
	client := newTestClient(t, f, newMiniredisCache(t))

	out := client.Submit(context.Background(), []byte(`{}`), "corr")

	if out.Kind != domain.OutcomeSuccess {
		t.Fatalf("kind = %v, want success after re-auth (%s)", out.Kind, out.Reason)
	}
	if out.ExternalID != "ext-after-reauth" {
		t.Errorf("external id = %q", out.ExternalID)
	}
	if n := f.syncCalls.Load(); n != 2 {
		t.Errorf("sync calls = %d, want 2 (one resend inside the same attempt)", n)
	}
	if n := f.authCalls.Load(); n != 2 {
		t.Errorf("auth calls = %d, want 2 (initial + after invalidation)", n)
	}
}

func TestClient_PersistentAuthRejectionIsRetriable(t *testing.T) {
	f := newFakeRemote(t, func(call int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, f, nil)

	out := client.Submit(context.Background(), []byte(`{}`), "corr")

	if out.Kind != domain.OutcomeRetriable {
		t.Errorf("kind = %v, want retriable", out.Kind)
	}
	if n := f.syncCalls.Load(); n != 2 {
		t.Errorf("sync calls = %d, want exactly 2 (no unbounded auth loop)", n)
	}
}

func TestClient_TokenReusedWhileValid(t *testing.T) {
	f := newFakeRemote(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, "ext")
	})
	client := newTestClient(t, f, newMiniredisCache(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if out := client.Submit(ctx, []byte(`{}`), "corr"); out.Kind != domain.OutcomeSuccess {
			t.Fatalf("submit %d failed: %s", i, out.Reason)
		}
	}

	if n := f.authCalls.Load(); n != 1 {
		t.Errorf("auth calls = %d, want 1 while the token is valid", n)
	}
}

func TestClient_NilCacheAuthenticatesPerTokenRead(t *testing.T) {
	f := newFakeRemote(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, "ext")
	})
	client := newTestClient(t, f, nil)
	ctx := context.Background()

	if out := client.Submit(ctx, []byte(`{}`), "corr"); out.Kind != domain.OutcomeSuccess {
		t.Fatalf("submit failed: %s", out.Reason)
	}
	if out := client.Submit(ctx, []byte(`{}`), "corr"); out.Kind != domain.OutcomeSuccess {
		t.Fatalf("submit failed: %s", out.Reason)
	}

	// Without a cache every submit re-authenticates; the client still works.
	if n := f.authCalls.Load(); n != 2 {
		t.Errorf("auth calls = %d, want 2", n)
	}
}

func TestToken_ValidHonorsSafetyMargin(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name  string
		token Token
		want  bool
	}{
		{"well inside window", Token{AccessToken: "t", ExpiresAt: now.Add(time.Hour)}, true},
		{"inside safety margin", Token{AccessToken: "t", ExpiresAt: now.Add(10 * time.Second)}, false},
		{"expired", Token{AccessToken: "t", ExpiresAt: now.Add(-time.Minute)}, false},
		{"empty token", Token{ExpiresAt: now.Add(time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.Valid(now); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenSource_SurvivesCorruptCacheEntry(t *testing.T) {
	c := newMiniredisCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "sync:remote:token", "{not json", time.Minute); err != nil {
		t.Fatal(err)
	}

	calls := 0
	ts := NewTokenSource(c, func(ctx context.Context) (Token, error) {
		calls++
		return Token{AccessToken: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}, testLogger())

	tok, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("corrupt cache entry must not fail token reads: %v", err)
	}
	if tok != "fresh" || calls != 1 {
		t.Errorf("tok=%q calls=%d, want fresh token via re-auth", tok, calls)
	}
}
