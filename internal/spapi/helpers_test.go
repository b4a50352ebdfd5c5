package spapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sellersync/internal/credentials"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func testCredential() credentials.Credential {
	return credentials.Credential{
		Tenant:        "tenant-1",
		ClientID:      "amzn1.application-oa2-client.abc",
		ClientSecret:  "secret",
		RefreshToken:  "Atzr|refresh",
		MarketplaceID: "ATVPDKIKX0DER",
	}
}

// testEnv serves the LWA token endpoint at /auth/o2/token and delegates every other
// path to api.
type testEnv struct {
	server     *httptest.Server
	clock      *fakeClock
	tokens     *TokenCache
	client     *Client
	tokenCalls atomic.Int32
	expiresIn  atomic.Int64
}

func newTestEnv(t *testing.T, api http.HandlerFunc) *testEnv {
	t.Helper()
	env := &testEnv{clock: newFakeClock()}
	env.expiresIn.Store(3600)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/o2/token", func(w http.ResponseWriter, r *http.Request) {
		n := env.tokenCalls.Add(1)
		w.Header().Set("content-type", "application/json")
		fmt.Fprintf(w, `{"access_token":"Atza|token-%d","token_type":"bearer","expires_in":%d}`, n, env.expiresIn.Load())
	})
	mux.HandleFunc("/", api)
	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)

	env.tokens = NewTokenCache(NewMemoryTokenStore(), env.server.Client(), env.server.URL+"/auth/o2/token", env.clock, nil)
	env.client = NewClient(env.server.URL, env.tokens, WithHTTPClient(env.server.Client()), WithClock(env.clock))
	return env
}
