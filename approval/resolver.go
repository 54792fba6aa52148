package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/ledger"
	"github.com/skyengage/skyengage/notify"
	"github.com/skyengage/skyengage/platform"
)

var ErrBadActionToken = errors.New("malformed approval action token")

// ParseActionToken splits a button value of the form "<verb>_<id>".
func ParseActionToken(tok string) (string, int64, error) {
	verb, rawID, ok := strings.Cut(tok, "_")
	if !ok || strings.Contains(rawID, "_") {
		return "", 0, fmt.Errorf("%w: %q", ErrBadActionToken, tok)
	}
	if verb != notify.VerbApprove && verb != notify.VerbReject {
		return "", 0, fmt.Errorf("%w: unknown verb %q", ErrBadActionToken, verb)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("%w: bad id %q", ErrBadActionToken, rawID)
	}
	return verb, id, nil
}

type ResolveRequest struct {
	Verb string
	ID   int64
	// message to thread the result under; defaults to the stored ref
	ThreadRef string
	User      string
}

type Resolution struct {
	ID     int64
	Action decision.Action
	Status ledger.Status
	// the approval had already left pending; nothing was done
	AlreadyProcessed bool
}

// Message is the operator-facing summary of a resolution.
func (r Resolution) Message() string {
	if r.AlreadyProcessed {
		return fmt.Sprintf("This approval has already been %s", r.Status)
	}
	switch r.Status {
	case ledger.StatusApproved:
		return "✅ APPROVED & POSTED"
	case ledger.StatusRejected:
		return "❌ REJECTED - Will not be posted"
	case ledger.StatusFailed:
		return "❌ FAILED TO POST - Check logs for details"
	}
	return string(r.Status)
}

// Resolver applies approve and reject decisions to stored approvals. The
// exit from pending is a ledger compare-and-swap, so concurrent deliveries
// of the same click execute the action at most once.
type Resolver struct {
	store    Store
	executor *Executor
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewResolver(store Store, executor *Executor, notifier notify.Notifier, logger *slog.Logger) *Resolver {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    store,
		executor: executor,
		notifier: notifier,
		logger:   logger.With("component", "resolver"),
	}
}

// Resolve returns ledger.ErrApprovalNotFound for unknown ids. Execution
// failures are not errors: they produce a Failed resolution.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (Resolution, error) {
	ctx, span := tracer.Start(ctx, "Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("verb", req.Verb), attribute.Int64("approval", req.ID))

	a, err := r.store.GetApproval(ctx, req.ID)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{ID: a.ID, Action: decision.Action(a.Action)}
	if a.Status != ledger.StatusPending {
		return r.already(res, a.Status), nil
	}

	logger := r.logger.With("approval", a.ID, "action", a.Action, "post", a.PostID)

	switch req.Verb {
	case notify.VerbReject:
		won, err := r.store.ClaimApproval(ctx, a.ID, ledger.StatusPending, ledger.StatusRejected)
		if err != nil {
			return res, err
		}
		if !won {
			return r.reread(ctx, res)
		}
		res.Status = ledger.StatusRejected
		logger.Info("approval rejected", "user", req.User)

	case notify.VerbApprove:
		won, err := r.store.ClaimApproval(ctx, a.ID, ledger.StatusPending, ledger.StatusProcessing)
		if err != nil {
			return res, err
		}
		if !won {
			return r.reread(ctx, res)
		}
		res.Status, err = r.approve(ctx, logger, a)
		if err != nil {
			return res, err
		}

	default:
		return res, fmt.Errorf("%w: unknown verb %q", ErrBadActionToken, req.Verb)
	}

	resolutionsTotal.WithLabelValues(req.Verb, string(res.Status)).Inc()

	thread := req.ThreadRef
	if thread == "" && a.ExternalMessageRef != nil {
		thread = *a.ExternalMessageRef
	}
	if err := r.notifier.ApprovalResult(ctx, notify.ApprovalResult{
		ID:        a.ID,
		Action:    res.Action,
		Status:    res.Status,
		ThreadRef: thread,
		User:      req.User,
	}); err != nil {
		logger.Warn("result notification failed", "err", err)
	}
	return res, nil
}

// approve runs a claimed (processing) approval to approved or failed.
func (r *Resolver) approve(ctx context.Context, logger *slog.Logger, a *ledger.Approval) (ledger.Status, error) {
	action := decision.Action(a.Action)

	post, d, err := decodeSnapshots(a)
	if err == nil {
		err = r.executor.Perform(ctx, action, post, a.Reply())
	}
	if err != nil {
		logger.Error("approved action failed", "err", err)
		if _, cerr := r.store.ClaimApproval(ctx, a.ID, ledger.StatusProcessing, ledger.StatusFailed); cerr != nil {
			return ledger.StatusProcessing, fmt.Errorf("marking approval %d failed: %w", a.ID, cerr)
		}
		if nerr := r.notifier.ExecutionFailed(ctx, post, action, err); nerr != nil {
			logger.Warn("failure notification failed", "err", nerr)
		}
		return ledger.StatusFailed, nil
	}

	if err := r.store.CompleteApproval(ctx, a.ID, Outcome(action, post, a.Reply(), d.Sentiment)); err != nil {
		// the action is live but the row stays in processing for an operator
		logger.Error("approved action is live but the ledger write failed", "err", err)
		msg := fmt.Sprintf("⚠️ approval #%d (%s on %s) was posted but not recorded; it stays in processing", a.ID, action, post.ID)
		if nerr := r.notifier.Notice(ctx, msg); nerr != nil {
			logger.Warn("unrecorded-outcome notification failed", "err", nerr)
		}
		return ledger.StatusProcessing, fmt.Errorf("%w: completing approval %d: %w", ErrOutcomeNotRecorded, a.ID, err)
	}
	logger.Info("approval executed")
	return ledger.StatusApproved, nil
}

func (r *Resolver) reread(ctx context.Context, res Resolution) (Resolution, error) {
	a, err := r.store.GetApproval(ctx, res.ID)
	if err != nil {
		return res, err
	}
	return r.already(res, a.Status), nil
}

func (r *Resolver) already(res Resolution, status ledger.Status) Resolution {
	res.Status = status
	res.AlreadyProcessed = true
	resolutionsTotal.WithLabelValues("duplicate", string(status)).Inc()
	return res
}

func decodeSnapshots(a *ledger.Approval) (platform.Post, decision.Decision, error) {
	var d decision.Decision
	post, err := platform.DecodePost(a.PostDataJSON)
	if err != nil {
		return post, d, err
	}
	if a.DecisionDataJSON != "" {
		if err := json.Unmarshal([]byte(a.DecisionDataJSON), &d); err != nil {
			return post, d, fmt.Errorf("decoding decision snapshot: %w", err)
		}
	}
	return post, d, nil
}
