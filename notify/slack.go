package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/pkg/robusthttp"
	"github.com/skyengage/skyengage/platform"
)

const DefaultSlackAPI = "https://slack.com/api"

type SlackConfig struct {
	// incoming webhook; used when no bot token is configured
	WebhookURL string
	// chat.postMessage credentials; these return a message ts for threading
	BotToken string
	Channel  string
	APIBase  string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c SlackConfig) botMode() bool {
	return c.BotToken != "" && c.Channel != ""
}

// Slack delivers Block Kit messages through an incoming webhook or the
// chat.postMessage Web API.
type Slack struct {
	config SlackConfig
	client *http.Client
	logger *slog.Logger
}

// New returns a Slack notifier, or Nop when neither a webhook nor bot
// credentials are configured.
func New(config SlackConfig) Notifier {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notify")
	if config.WebhookURL == "" && !config.botMode() {
		logger.Warn("no slack webhook or bot token configured, notifications disabled")
		return Nop{}
	}
	return NewSlack(config)
}

func NewSlack(config SlackConfig) *Slack {
	if config.APIBase == "" {
		config.APIBase = DefaultSlackAPI
	}
	client := config.HTTPClient
	if client == nil {
		client = robusthttp.NewClient()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		config: config,
		client: client,
		logger: logger.With("component", "notify"),
	}
}

func (s *Slack) ApprovalRequest(ctx context.Context, req ApprovalRequest) (string, error) {
	return s.send(ctx, "approval_request", approvalRequestMessage(req))
}

func (s *Slack) IgnoredPost(ctx context.Context, post platform.Post, d decision.Decision) error {
	_, err := s.send(ctx, "ignored_post", ignoredPostMessage(post, d))
	return err
}

func (s *Slack) ApprovalResult(ctx context.Context, res ApprovalResult) error {
	_, err := s.send(ctx, "approval_result", approvalResultMessage(res))
	return err
}

func (s *Slack) ExecutionFailed(ctx context.Context, post platform.Post, action decision.Action, cause error) error {
	_, err := s.send(ctx, "execution_failed", executionFailedMessage(post, action, cause))
	return err
}

func (s *Slack) Notice(ctx context.Context, text string) error {
	_, err := s.send(ctx, "notice", Message{Text: text, Blocks: []Block{section(text)}})
	return err
}

func (s *Slack) send(ctx context.Context, kind string, msg Message) (string, error) {
	var ts string
	var err error
	if s.config.botMode() {
		ts, err = s.postMessage(ctx, msg)
	} else {
		err = s.postWebhook(ctx, msg)
	}
	if err != nil {
		notificationsSent.WithLabelValues(kind, "error").Inc()
		return "", fmt.Errorf("sending %s notification: %w", kind, err)
	}
	notificationsSent.WithLabelValues(kind, "ok").Inc()
	s.logger.Debug("sent slack notification", "kind", kind, "ts", ts)
	return ts, nil
}

// postWebhook sends to an incoming webhook. Slack replies with a bare "ok"
// body on success and provides no message ts.
func (s *Slack) postWebhook(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(respBody)) != "ok" {
		return fmt.Errorf("slack webhook POST failed. status=%d body=%q", resp.StatusCode, respBody)
	}
	return nil
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

func (s *Slack) postMessage(ctx context.Context, msg Message) (string, error) {
	msg.Channel = s.config.Channel
	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	u := strings.TrimSuffix(s.config.APIBase, "/") + "/chat.postMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.config.BotToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat.postMessage failed. status=%d", resp.StatusCode)
	}
	var out postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat.postMessage response: %w", err)
	}
	if !out.OK {
		return "", fmt.Errorf("chat.postMessage: %s", out.Error)
	}
	return out.TS, nil
}
