package spapi

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sellersync/internal/credentials"
)

const (
	DefaultEndpoint = "https://sellingpartnerapi-na.amazon.com"

	DefaultMaxRetries = 5
	BaseBackoff       = 2 * time.Second
	MaxBackoff        = 60 * time.Second

	userAgent = "sellersync/1.0 (Language=Go)"
)

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Doer executes one Selling Partner API call for a credential.
type Doer interface {
	Do(ctx context.Context, cred credentials.Credential, req Request) (*Response, error)
}

// Client retries only on 429, with exponential backoff. Any other status, and every
// transport error, goes straight back to the caller.
type Client struct {
	Endpoint   string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	httpClient *http.Client
	tokens     *TokenCache
	clock      Clock
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption { return func(c *Client) { c.httpClient = hc } }
func WithClock(clock Clock) ClientOption         { return func(c *Client) { c.clock = clock } }
func WithLogger(l *zap.Logger) ClientOption      { return func(c *Client) { c.logger = l } }
func WithMaxRetries(n int) ClientOption          { return func(c *Client) { c.MaxRetries = n } }

// WithRequestsPerSecond paces outgoing calls client side. Zero disables pacing.
func WithRequestsPerSecond(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewClient(endpoint string, tokens *TokenCache, opts ...ClientOption) *Client {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  BaseBackoff,
		MaxDelay:   MaxBackoff,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		clock:      SystemClock{},
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BackoffDelay is min(base * 2^attempt, max).
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (c *Client) Do(ctx context.Context, cred credentials.Credential, r Request) (*Response, error) {
	var body []byte
	if r.Body != nil {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", r.Path, err)
		}
		body = b
	}

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.send(ctx, cred, r, body)
		if err != nil {
			return nil, err
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			if attempt >= c.MaxRetries {
				return nil, &RetryExhaustedError{Path: r.Path, Attempts: attempt + 1}
			}
			delay := BackoffDelay(attempt, c.BaseDelay, c.MaxDelay)
			c.logger.Info("spapi rate limited",
				zap.String("tenant", cred.Tenant),
				zap.String("path", r.Path),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			if err := c.clock.Sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		case http.StatusUnauthorized, http.StatusForbidden:
			// Not retried here; the next run exchanges a fresh token.
			if err := c.tokens.Invalidate(ctx, cred); err != nil {
				c.logger.Warn("token invalidate failed", zap.String("tenant", cred.Tenant), zap.Error(err))
			}
		}
		return resp, nil
	}
}

func (c *Client) send(ctx context.Context, cred credentials.Credential, r Request, body []byte) (*Response, error) {
	token, err := c.tokens.GetToken(ctx, cred)
	if err != nil {
		return nil, err
	}

	u := c.Endpoint + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, r.Path, err)
	}
	req.Header.Set("x-amz-access-token", token)
	req.Header.Set("user-agent", userAgent)
	req.Header.Set("accept", "application/json")
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, r.Path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, r.Path, err)
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: raw}, nil
}

// CheckStatus turns a non-2xx response into an *APIError.
func CheckStatus(resp *Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(resp.Body)}
}
