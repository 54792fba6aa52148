package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skyengage/skyengage/llm"
	"github.com/skyengage/skyengage/platform"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("decision")

const (
	DefaultMission  = "Engage with relevant posts based on the configured keywords and sentiment."
	DefaultMaxChars = 300

	defaultScore = 5
)

type Config struct {
	BotUsername string
	// the account's own handle, so the model can skip our own posts
	BotHandle  string
	WebsiteURL string
	Mission    string
	// single-stage action space: reply_casual and reply_with_cta become reply
	CollapseReplies bool
	Logger          *slog.Logger
}

// Engine makes the two-stage engagement decision and writes reply text.
// Every method degrades to a safe value instead of returning an error, so a
// single bad model answer never aborts a post.
type Engine struct {
	llm    llm.Completer
	config Config
	logger *slog.Logger
}

func New(c llm.Completer, config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Mission == "" {
		config.Mission = DefaultMission
	}
	return &Engine{
		llm:    c,
		config: config,
		logger: logger.With("component", "decision"),
	}
}

type engagementOutput struct {
	ShouldEngage *bool  `json:"should_engage"`
	Sentiment    string `json:"sentiment"`
	Reason       string `json:"reason"`
}

// DecideEngagement is stage one. It fails closed: any call or parse failure
// yields ShouldEngage=false with a diagnostic reason.
func (e *Engine) DecideEngagement(ctx context.Context, p platform.Post) Engagement {
	ctx, span := tracer.Start(ctx, "DecideEngagement")
	defer span.End()

	raw, err := e.llm.Complete(ctx, llm.Request{Prompt: e.engagementPrompt(p), MaxTokens: 300})
	if err != nil {
		e.logger.Error("engagement decision failed", "post", p.ID, "err", err)
		decisionsTotal.WithLabelValues("engagement", ReasonError).Inc()
		return Engagement{ShouldEngage: false, Sentiment: SentimentError, Reason: ReasonError}
	}

	var out engagementOutput
	if err := decodeJSON(raw, &out); err != nil || out.ShouldEngage == nil {
		e.logger.Error("could not parse engagement decision", "post", p.ID, "err", err, "raw", raw)
		decisionsTotal.WithLabelValues("engagement", ReasonParseError).Inc()
		return Engagement{ShouldEngage: false, Sentiment: SentimentError, Reason: ReasonParseError}
	}

	res := Engagement{
		ShouldEngage: *out.ShouldEngage,
		Sentiment:    ParseSentiment(out.Sentiment),
		Reason:       out.Reason,
	}
	span.SetAttributes(attribute.Bool("should_engage", res.ShouldEngage), attribute.String("sentiment", string(res.Sentiment)))
	decisionsTotal.WithLabelValues("engagement", "ok").Inc()
	e.logger.Debug("engagement decision", "author", p.AuthorHandle, "should_engage", res.ShouldEngage, "sentiment", res.Sentiment)
	return res
}

type engagementTypeOutput struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
	Score  *int   `json:"engagement_score"`
}

// DecideEngagementType is stage two. On failure it falls back to
// reply_with_cta, or reply when replies are collapsed, with a middling score.
func (e *Engine) DecideEngagementType(ctx context.Context, p platform.Post, sentiment Sentiment) EngagementType {
	ctx, span := tracer.Start(ctx, "DecideEngagementType")
	defer span.End()

	fallback := func(reason string) EngagementType {
		decisionsTotal.WithLabelValues("engagement_type", reason).Inc()
		action := ActionReplyWithCTA
		if e.config.CollapseReplies {
			action = ActionReply
		}
		return EngagementType{Action: action, Score: defaultScore, Reason: reason}
	}

	raw, err := e.llm.Complete(ctx, llm.Request{Prompt: e.engagementTypePrompt(p, sentiment), MaxTokens: 300})
	if err != nil {
		e.logger.Error("engagement type decision failed", "post", p.ID, "err", err)
		return fallback(ReasonError)
	}

	var out engagementTypeOutput
	if err := decodeJSON(raw, &out); err != nil {
		e.logger.Error("could not parse engagement type decision", "post", p.ID, "err", err, "raw", raw)
		return fallback(ReasonParseError)
	}
	action := Action(strings.ToLower(strings.TrimSpace(out.Action)))
	switch action {
	case ActionReshare, ActionReplyCasual, ActionReplyWithCTA:
	default:
		e.logger.Error("unknown engagement action", "post", p.ID, "action", out.Action)
		return fallback(ReasonParseError)
	}

	score := defaultScore
	if out.Score != nil {
		score = clampScore(*out.Score)
	}
	if e.config.CollapseReplies && action.IsReply() {
		action = ActionReply
	}

	span.SetAttributes(attribute.String("action", string(action)), attribute.Int("score", score))
	decisionsTotal.WithLabelValues("engagement_type", "ok").Inc()
	e.logger.Debug("engagement type decision", "author", p.AuthorHandle, "action", action, "score", score)
	return EngagementType{Action: action, Score: score, Reason: out.Reason}
}

// ShouldRespond runs stage one and, only if it approves, stage two.
func (e *Engine) ShouldRespond(ctx context.Context, p platform.Post) Decision {
	ctx, span := tracer.Start(ctx, "ShouldRespond")
	defer span.End()

	eng := e.DecideEngagement(ctx, p)
	if !eng.ShouldEngage {
		e.logger.Info("ignoring post", "author", p.AuthorHandle, "sentiment", eng.Sentiment, "reason", eng.Reason)
		return Decision{
			ShouldRespond: false,
			Action:        ActionIgnore,
			Sentiment:     eng.Sentiment,
			Reason:        eng.Reason,
			Score:         0,
		}
	}

	et := e.DecideEngagementType(ctx, p, eng.Sentiment)
	d := Decision{
		ShouldRespond: true,
		Action:        et.Action,
		Sentiment:     eng.Sentiment,
		Reason:        fmt.Sprintf("Stage1: %s | Stage2: %s", eng.Reason, et.Reason),
		Score:         et.Score,
	}
	e.logger.Info("engagement decided", "author", p.AuthorHandle, "action", d.Action, "sentiment", d.Sentiment, "score", d.Score)
	return d
}

// GenerateResponse writes reply text for a reply action, truncated to
// maxChars characters. Failures return a fixed fallback text.
func (e *Engine) GenerateResponse(ctx context.Context, p platform.Post, action Action, maxChars int) string {
	ctx, span := tracer.Start(ctx, "GenerateResponse")
	defer span.End()

	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	raw, err := e.llm.Complete(ctx, llm.Request{Prompt: e.responsePrompt(p, action, maxChars), MaxTokens: 200})
	text := strings.TrimSpace(raw)
	if err != nil || text == "" {
		e.logger.Error("response generation failed, using fallback", "post", p.ID, "action", action, "err", err)
		responsesTotal.WithLabelValues("fallback").Inc()
		return Truncate(e.Fallback(action), maxChars)
	}

	responsesTotal.WithLabelValues("generated").Inc()
	text = Truncate(text, maxChars)
	e.logger.Debug("generated response", "post", p.ID, "chars", len([]rune(text)))
	return text
}

// Fallback is the canned reply used when generation fails.
func (e *Engine) Fallback(action Action) string {
	if action == ActionReplyCasual {
		return "This is such an important topic. Thanks for speaking up about it."
	}
	return "You can help make a difference. Check out: " + e.config.WebsiteURL
}

// Truncate limits s to maxChars characters. Longer text keeps its first
// maxChars-3 characters followed by "...".
func Truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	if maxChars <= 3 {
		if maxChars < 0 {
			maxChars = 0
		}
		return string(runes[:maxChars])
	}
	return string(runes[:maxChars-3]) + "..."
}

func clampScore(s int) int {
	if s < 1 {
		return 1
	}
	if s > 10 {
		return 10
	}
	return s
}

func decodeJSON(raw string, out any) error {
	js, err := llm.ExtractJSON(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(js), out)
}
