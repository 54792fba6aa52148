package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/ledger"
	"github.com/skyengage/skyengage/platform"
)

// ErrOutcomeNotRecorded means the action is live on the platform but the
// ledger does not know about it.
var ErrOutcomeNotRecorded = errors.New("action performed but outcome not recorded")

// Executor performs an approved action on the owning platform.
type Executor struct {
	adapters map[string]platform.Adapter
	outcomes OutcomeRecorder
	logger   *slog.Logger
}

func NewExecutor(outcomes OutcomeRecorder, logger *slog.Logger, adapters ...platform.Adapter) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	x := &Executor{
		adapters: make(map[string]platform.Adapter, len(adapters)),
		outcomes: outcomes,
		logger:   logger.With("component", "executor"),
	}
	for _, a := range adapters {
		x.adapters[a.Name()] = a
	}
	return x
}

// Perform calls the platform without recording anything. The adapter
// retries internally; Perform does not.
func (x *Executor) Perform(ctx context.Context, action decision.Action, post platform.Post, replyText string) error {
	ctx, span := tracer.Start(ctx, "Perform",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("action", string(action)), attribute.String("platform", post.Platform)),
	)
	defer span.End()

	a, ok := x.adapters[post.Platform]
	if !ok {
		return fmt.Errorf("no adapter for platform %q", post.Platform)
	}

	var err error
	switch {
	case action == decision.ActionReshare:
		err = a.Reshare(ctx, post.ID, post)
	case action.IsReply():
		if replyText == "" {
			return fmt.Errorf("empty reply text for post %s", post.ID)
		}
		err = a.PostReply(ctx, post.ID, replyText, post)
	default:
		return fmt.Errorf("action %q is not executable", action)
	}
	if err != nil {
		executionsTotal.WithLabelValues(string(action), "error").Inc()
		span.RecordError(err)
		return fmt.Errorf("%s on %s: %w", action, post.ID, err)
	}
	executionsTotal.WithLabelValues(string(action), "ok").Inc()
	return nil
}

// Execute performs the action and, only if it succeeded, records the
// outcome. A recording failure after a successful action wraps
// ErrOutcomeNotRecorded.
func (x *Executor) Execute(ctx context.Context, action decision.Action, post platform.Post, replyText string, sentiment decision.Sentiment) error {
	if err := x.Perform(ctx, action, post, replyText); err != nil {
		return err
	}
	if err := x.outcomes.RecordOutcome(ctx, Outcome(action, post, replyText, sentiment)); err != nil {
		executionsTotal.WithLabelValues(string(action), "unrecorded").Inc()
		return fmt.Errorf("%w: %s: %w", ErrOutcomeNotRecorded, post.ID, err)
	}
	x.logger.Info("action executed", "action", action, "post", post.ID, "author", post.AuthorHandle)
	return nil
}

// Outcome builds the ledger record for a completed action.
func Outcome(action decision.Action, post platform.Post, replyText string, sentiment decision.Sentiment) ledger.Outcome {
	text := replyText
	if action == decision.ActionReshare {
		text = ledger.ResharedText
	}
	return ledger.Outcome{
		PostID:       post.ID,
		Platform:     post.Platform,
		AuthorHandle: post.AuthorHandle,
		Sentiment:    string(sentiment),
		Text:         text,
	}
}
