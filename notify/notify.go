// Package notify sends operator notifications about engagement decisions
// and approvals. Delivery failures are returned to callers, which log them;
// a failed notification never blocks the pipeline.
package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/ledger"
	"github.com/skyengage/skyengage/platform"
)

// Verbs carried in approval action tokens.
const (
	VerbApprove = "approve"
	VerbReject  = "reject"
)

// ActionToken is the button value for an approval: "<verb>_<id>".
func ActionToken(verb string, id int64) string {
	return verb + "_" + strconv.FormatInt(id, 10)
}

// ApprovalRequest describes a proposed action awaiting (or bypassing)
// operator review. Buttons are rendered only when Interactive is set and ID
// refers to a stored approval.
type ApprovalRequest struct {
	ID          int64
	Post        platform.Post
	Decision    decision.Decision
	ReplyText   string
	Interactive bool
}

// ApprovalResult reports how an approval was resolved.
type ApprovalResult struct {
	ID        int64
	Action    decision.Action
	Status    ledger.Status
	ThreadRef string
	User      string
	Detail    string
}

type Notifier interface {
	// ApprovalRequest returns an external message reference when the
	// transport provides one, otherwise "".
	ApprovalRequest(ctx context.Context, req ApprovalRequest) (string, error)
	IgnoredPost(ctx context.Context, post platform.Post, d decision.Decision) error
	ApprovalResult(ctx context.Context, res ApprovalResult) error
	ExecutionFailed(ctx context.Context, post platform.Post, action decision.Action, cause error) error
	Notice(ctx context.Context, text string) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) ApprovalRequest(ctx context.Context, req ApprovalRequest) (string, error) { return "", nil }
func (Nop) IgnoredPost(ctx context.Context, post platform.Post, d decision.Decision) error {
	return nil
}
func (Nop) ApprovalResult(ctx context.Context, res ApprovalResult) error { return nil }
func (Nop) ExecutionFailed(ctx context.Context, post platform.Post, action decision.Action, cause error) error {
	return nil
}
func (Nop) Notice(ctx context.Context, text string) error { return nil }

func actionLabel(a decision.Action) (emoji, name string) {
	switch {
	case a == decision.ActionReshare:
		return "🔁", "RESHARE"
	case a.IsReply():
		return "💬", "REPLY"
	}
	return "⏭️", "IGNORE"
}

func postLink(p platform.Post) string {
	if p.URL == "" {
		return fmt.Sprintf("%s post `%s`", p.Platform, p.ID)
	}
	return fmt.Sprintf("<%s|View original post>", p.URL)
}
