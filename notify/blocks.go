package notify

import (
	"fmt"

	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/ledger"
	"github.com/skyengage/skyengage/platform"
)

// Block is a Slack Block Kit block.
type Block map[string]any

type Message struct {
	Channel  string  `json:"channel,omitempty"`
	Text     string  `json:"text"`
	Blocks   []Block `json:"blocks,omitempty"`
	ThreadTS string  `json:"thread_ts,omitempty"`
}

func plain(s string) map[string]any {
	return map[string]any{"type": "plain_text", "text": s}
}

func mrkdwn(s string) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": s}
}

func section(s string) Block {
	return Block{"type": "section", "text": mrkdwn(s)}
}

func contextBlock(s string) Block {
	return Block{"type": "context", "elements": []any{mrkdwn(s)}}
}

func excerpt(s string, n int) string {
	return decision.Truncate(s, n)
}

func approvalRequestMessage(req ApprovalRequest) Message {
	emoji, name := actionLabel(req.Decision.Action)
	header := fmt.Sprintf("%s %s REQUEST", emoji, name)
	if req.ID > 0 {
		header += fmt.Sprintf(" - Approval #%d", req.ID)
	}

	p := req.Post
	blocks := []Block{
		{"type": "header", "text": plain(header)},
		{"type": "section", "fields": []any{
			mrkdwn(fmt.Sprintf("*Author:* @%s", p.AuthorHandle)),
			mrkdwn(fmt.Sprintf("*Sentiment:* %s", req.Decision.Sentiment)),
			mrkdwn(fmt.Sprintf("*Platform:* %s", p.Platform)),
			mrkdwn(fmt.Sprintf("*Score:* %d/10", req.Decision.Score)),
		}},
		section("*Original Post:*\n> " + excerpt(p.Text, 500)),
	}
	if req.Decision.Action.IsReply() && req.ReplyText != "" {
		blocks = append(blocks, section("*Proposed Reply:*\n```"+req.ReplyText+"```"))
	}
	reason := req.Decision.Reason
	if reason == "" {
		reason = "No reasoning provided"
	}
	blocks = append(blocks, section("*Reasoning:*\n_"+reason+"_"))

	if req.Interactive && req.ID > 0 {
		blocks = append(blocks, Block{
			"type":     "actions",
			"block_id": fmt.Sprintf("approval_%d", req.ID),
			"elements": []any{
				map[string]any{
					"type":      "button",
					"text":      plain("✅ Approve"),
					"style":     "primary",
					"value":     ActionToken(VerbApprove, req.ID),
					"action_id": "approve_action",
				},
				map[string]any{
					"type":      "button",
					"text":      plain("❌ Reject"),
					"style":     "danger",
					"value":     ActionToken(VerbReject, req.ID),
					"action_id": "reject_action",
				},
			},
		})
	}
	blocks = append(blocks, contextBlock(postLink(p)))

	return Message{
		Text:   fmt.Sprintf("%s %s REQUEST - Approval needed", emoji, name),
		Blocks: blocks,
	}
}

func ignoredPostMessage(p platform.Post, d decision.Decision) Message {
	return Message{
		Text: fmt.Sprintf("⏭️ Ignored post from @%s", p.AuthorHandle),
		Blocks: []Block{
			section(fmt.Sprintf("⏭️ *Ignored post* from @%s (%s)", p.AuthorHandle, d.Sentiment)),
			section("> " + excerpt(p.Text, 300)),
			contextBlock(fmt.Sprintf("_%s_ · %s", d.Reason, postLink(p))),
		},
	}
}

func approvalResultMessage(res ApprovalResult) Message {
	_, name := actionLabel(res.Action)

	var line string
	switch res.Status {
	case ledger.StatusApproved:
		line = fmt.Sprintf("✅ *%s APPROVED & POSTED*", name)
	case ledger.StatusRejected:
		line = fmt.Sprintf("❌ *%s REJECTED* - will not be posted", name)
	case ledger.StatusFailed:
		line = fmt.Sprintf("❌ *%s FAILED TO POST* - check logs for details", name)
	default:
		line = fmt.Sprintf("ℹ️ *%s %s*", name, res.Status)
	}
	if res.User != "" {
		line += fmt.Sprintf(" (by @%s)", res.User)
	}
	blocks := []Block{section(line)}
	if res.Detail != "" {
		blocks = append(blocks, contextBlock(res.Detail))
	}
	return Message{
		Text:     fmt.Sprintf("Approval #%d %s", res.ID, res.Status),
		Blocks:   blocks,
		ThreadTS: res.ThreadRef,
	}
}

func executionFailedMessage(p platform.Post, action decision.Action, cause error) Message {
	_, name := actionLabel(action)
	return Message{
		Text: fmt.Sprintf("❌ %s failed for @%s", name, p.AuthorHandle),
		Blocks: []Block{
			section(fmt.Sprintf("❌ *%s FAILED* for @%s", name, p.AuthorHandle)),
			section(fmt.Sprintf("```%s```", cause)),
			contextBlock(postLink(p)),
		},
	}
}
