// Package robusthttp builds the retrying, traced HTTP client shared by the
// platform and notification clients.
package robusthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// slogAdapter demotes retryablehttp ERROR lines to WARN, since most of them
// are intermediate attempts that later succeed.
type slogAdapter struct {
	inner *slog.Logger
}

func (l slogAdapter) Error(msg string, keysAndValues ...any) { l.inner.Warn(msg, keysAndValues...) }
func (l slogAdapter) Warn(msg string, keysAndValues ...any)  { l.inner.Warn(msg, keysAndValues...) }
func (l slogAdapter) Info(msg string, keysAndValues ...any)  { l.inner.Debug(msg, keysAndValues...) }
func (l slogAdapter) Debug(msg string, keysAndValues ...any) { l.inner.Debug(msg, keysAndValues...) }

type settings struct {
	retry     *retryablehttp.Client
	timeout   time.Duration
	userAgent string
}

type Option func(*settings)

func WithMaxRetries(n int) Option {
	return func(s *settings) {
		s.retry.RetryMax = n
	}
}

// WithRetryWait bounds the backoff between attempts.
func WithRetryWait(min, max time.Duration) Option {
	return func(s *settings) {
		s.retry.RetryWaitMin = min
		s.retry.RetryWaitMax = max
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.retry.Logger = retryablehttp.LeveledLogger(slogAdapter{inner: logger})
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

func WithUserAgent(ua string) Option {
	return func(s *settings) {
		s.userAgent = ua
	}
}

func WithRetryPolicy(policy retryablehttp.CheckRetry) Option {
	return func(s *settings) {
		s.retry.CheckRetry = policy
	}
}

// NewClient returns a plain *http.Client backed by retryablehttp. It
// retries connection errors, 429 (honoring Retry-After) and 5xx other than
// 501, traces requests with otelhttp and sets a User-Agent.
func NewClient(options ...Option) *http.Client {
	s := &settings{
		retry:     retryablehttp.NewClient(),
		timeout:   30 * time.Second,
		userAgent: "skyengage/" + versioninfo.Short(),
	}
	s.retry.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	s.retry.RetryMax = 3
	s.retry.RetryWaitMin = 1 * time.Second
	s.retry.RetryWaitMax = 10 * time.Second
	s.retry.Logger = retryablehttp.LeveledLogger(slogAdapter{inner: slog.Default().With("subsystem", "robusthttp")})
	s.retry.CheckRetry = DefaultRetryPolicy

	for _, opt := range options {
		opt(s)
	}

	client := s.retry.StandardClient()
	client.Timeout = s.timeout
	client.Transport = &userAgentTransport{next: client.Transport, ua: s.userAgent}
	return client
}

type userAgentTransport struct {
	next http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.next.RoundTrip(req)
}

// DefaultRetryPolicy is retryablehttp's policy, except that a canceled
// caller context is never retried.
func DefaultRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
