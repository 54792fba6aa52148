package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/skyengage/skyengage/retry"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("llm")

var ErrEmptyResponse = errors.New("empty model response")

const DefaultModel = "claude-sonnet-4-20250514"

type Request struct {
	Prompt    string
	MaxTokens int64
}

// Completer sends a single-turn prompt to a language model and returns the
// text of its reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Config struct {
	APIKey string
	Model  string
	// overrides the API endpoint; used by tests
	BaseURL    string
	HTTPClient *http.Client
	Retry      retry.Policy
	Logger     *slog.Logger
}

// DefaultRetryPolicy retries rate limiting, overload and network failures
// with a 2s base delay.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 4,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Retryable:   IsRetryable,
	}
}

type AnthropicClient struct {
	client anthropic.Client
	model  string
	retry  retry.Policy
	logger *slog.Logger
}

func NewAnthropicClient(config Config) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm")

	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	policy := config.Retry
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			logger.Warn("model call failed, retrying", "attempt", attempt, "wait", wait, "err", err)
		}
	}

	// retries happen in our policy, not inside the SDK
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(config.HTTPClient))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
		retry:  policy,
		logger: logger,
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := tracer.Start(ctx, "Complete")
	defer span.End()
	span.SetAttributes(attribute.String("model", c.model))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}

	start := time.Now()
	text, err := retry.Do(ctx, c.retry, func(ctx context.Context) (string, error) {
		msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
			},
		})
		if err != nil {
			return "", err
		}

		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return "", ErrEmptyResponse
		}
		return sb.String(), nil
	})
	completionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		completionsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	completionsTotal.WithLabelValues("ok").Inc()
	return text, nil
}

// IsRetryable classifies transient failures: throttling, overload, server
// errors and network trouble. Client errors such as a bad request or an
// invalid key are not retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests,
			apierr.StatusCode == http.StatusRequestTimeout,
			apierr.StatusCode == http.StatusConflict,
			apierr.StatusCode >= 500:
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"rate limit", "too many requests", "timeout", "connection", "eof"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// ExtractJSON returns the text between the first '{' and the last '}', which
// tolerates prose or markdown fences around a JSON object.
func ExtractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return s[start : end+1], nil
}
