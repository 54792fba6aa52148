// Package approval decides whether a proposed action runs now, waits for an
// operator, or is dropped, and resolves stored approvals exactly once.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/ledger"
	"github.com/skyengage/skyengage/notify"
	"github.com/skyengage/skyengage/platform"
)

var tracer = otel.Tracer("approval")

type Mode string

const (
	// queue in the ledger and wait for a button click
	ModeInteractive Mode = "interactive"
	// block on a terminal prompt
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeInteractive, ModeManual, ModeAuto:
		return m, nil
	}
	return "", fmt.Errorf("unknown approval mode %q", s)
}

type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, o ledger.Outcome) error
}

// Store is the slice of the ledger used for approvals.
type Store interface {
	OutcomeRecorder
	CreateApproval(ctx context.Context, na ledger.NewApproval) (int64, error)
	SetExternalRef(ctx context.Context, id int64, ref string) error
	GetApproval(ctx context.Context, id int64) (*ledger.Approval, error)
	ClaimApproval(ctx context.Context, id int64, from, to ledger.Status) (bool, error)
	CompleteApproval(ctx context.Context, id int64, o ledger.Outcome) error
}

// Disposition is what the gate did with a post.
type Disposition string

const (
	Ignored  Disposition = "ignored"
	Queued   Disposition = "queued"
	Declined Disposition = "declined"
	Executed Disposition = "executed"
	Failed   Disposition = "failed"
)

type Result struct {
	Disposition Disposition
	// set when Disposition is Queued
	ApprovalID int64
	// final text, after any operator edit
	ReplyText string
}

type GateConfig struct {
	Mode     Mode
	Store    Store
	Executor *Executor
	Notifier notify.Notifier
	// required in manual mode
	Reviewer Reviewer
	Logger   *slog.Logger
}

type Gate struct {
	config GateConfig
	logger *slog.Logger
}

func NewGate(config GateConfig) (*Gate, error) {
	if config.Mode == ModeManual && config.Reviewer == nil {
		return nil, fmt.Errorf("manual approval mode needs a reviewer")
	}
	if config.Notifier == nil {
		config.Notifier = notify.Nop{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{config: config, logger: logger.With("component", "approval", "mode", config.Mode)}, nil
}

func (g *Gate) Mode() Mode { return g.config.Mode }

// Handle routes a decided post. Notification failures are logged and never
// change the result. An execution failure is returned along with a Failed
// result and leaves no outcome in the ledger. An action that ran but could
// not be recorded returns an Executed result with ErrOutcomeNotRecorded.
func (g *Gate) Handle(ctx context.Context, post platform.Post, d decision.Decision, replyText string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Handle")
	defer span.End()
	span.SetAttributes(attribute.String("action", string(d.Action)), attribute.String("mode", string(g.config.Mode)))

	logger := g.logger.With("post", post.ID, "action", d.Action)
	n := g.config.Notifier

	if d.Action == decision.ActionIgnore || !d.ShouldRespond {
		if err := n.IgnoredPost(ctx, post, d); err != nil {
			logger.Warn("ignored-post notification failed", "err", err)
		}
		gateTotal.WithLabelValues(string(g.config.Mode), string(Ignored)).Inc()
		return Result{Disposition: Ignored}, nil
	}
	if !d.Action.IsReply() {
		replyText = ""
	}

	var res Result
	var err error
	switch g.config.Mode {
	case ModeInteractive:
		res, err = g.queue(ctx, logger, post, d, replyText)
	case ModeManual:
		res, err = g.review(ctx, logger, post, d, replyText)
	case ModeAuto:
		g.notifyRequest(ctx, logger, notify.ApprovalRequest{Post: post, Decision: d, ReplyText: replyText})
		res, err = g.execute(ctx, logger, post, d, replyText)
	default:
		err = fmt.Errorf("unknown approval mode %q", g.config.Mode)
	}
	if res.Disposition != "" {
		gateTotal.WithLabelValues(string(g.config.Mode), string(res.Disposition)).Inc()
	}
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

func (g *Gate) notifyRequest(ctx context.Context, logger *slog.Logger, req notify.ApprovalRequest) string {
	ref, err := g.config.Notifier.ApprovalRequest(ctx, req)
	if err != nil {
		logger.Warn("approval request notification failed", "err", err)
		return ""
	}
	return ref
}

func (g *Gate) queue(ctx context.Context, logger *slog.Logger, post platform.Post, d decision.Decision, replyText string) (Result, error) {
	id, err := g.config.Store.CreateApproval(ctx, ledger.NewApproval{
		PostID:    post.ID,
		Platform:  post.Platform,
		Action:    string(d.Action),
		PostData:  post,
		Decision:  d,
		ReplyText: replyText,
	})
	if err != nil {
		return Result{}, err
	}

	ref := g.notifyRequest(ctx, logger, notify.ApprovalRequest{
		ID:          id,
		Post:        post,
		Decision:    d,
		ReplyText:   replyText,
		Interactive: true,
	})
	if ref != "" {
		if err := g.config.Store.SetExternalRef(ctx, id, ref); err != nil {
			logger.Warn("could not store approval message ref", "approval", id, "err", err)
		}
	}
	logger.Info("approval queued", "approval", id)
	return Result{Disposition: Queued, ApprovalID: id, ReplyText: replyText}, nil
}

func (g *Gate) review(ctx context.Context, logger *slog.Logger, post platform.Post, d decision.Decision, replyText string) (Result, error) {
	g.notifyRequest(ctx, logger, notify.ApprovalRequest{Post: post, Decision: d, ReplyText: replyText})

	ok, text, err := g.config.Reviewer.Review(ctx, post, d, replyText)
	if err != nil {
		return Result{}, fmt.Errorf("reading operator review: %w", err)
	}
	if !ok {
		logger.Info("operator declined")
		return Result{Disposition: Declined, ReplyText: text}, nil
	}
	return g.execute(ctx, logger, post, d, text)
}

func (g *Gate) execute(ctx context.Context, logger *slog.Logger, post platform.Post, d decision.Decision, replyText string) (Result, error) {
	err := g.config.Executor.Execute(ctx, d.Action, post, replyText, d.Sentiment)
	switch {
	case err == nil:
		return Result{Disposition: Executed, ReplyText: replyText}, nil
	case errors.Is(err, ErrOutcomeNotRecorded):
		logger.Error("action is live but the ledger write failed", "err", err)
		msg := fmt.Sprintf("⚠️ %s on %s was posted but not recorded; rate limits will not count it: %s", d.Action, post.ID, err)
		if nerr := g.config.Notifier.Notice(ctx, msg); nerr != nil {
			logger.Warn("unrecorded-outcome notification failed", "err", nerr)
		}
		return Result{Disposition: Executed, ReplyText: replyText}, err
	default:
		logger.Error("execution failed", "err", err)
		if nerr := g.config.Notifier.ExecutionFailed(ctx, post, d.Action, err); nerr != nil {
			logger.Warn("failure notification failed", "err", nerr)
		}
		return Result{Disposition: Failed, ReplyText: replyText}, err
	}
}
