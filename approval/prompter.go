package approval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/platform"
)

// Reviewer asks an operator to confirm an action. It returns whether to
// proceed and the possibly edited reply text.
type Reviewer interface {
	Review(ctx context.Context, post platform.Post, d decision.Decision, replyText string) (bool, string, error)
}

// Prompter is a line-oriented terminal Reviewer.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

func (p *Prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Review shows the post and proposed action. A reshare accepts y/n. A reply
// also accepts e, which reads replacement text (an empty line keeps the
// current text) and then asks a final y/n. Any other answer, or end of
// input, declines.
func (p *Prompter) Review(ctx context.Context, post platform.Post, d decision.Decision, replyText string) (bool, string, error) {
	fmt.Fprintf(p.out, "\n@%s (%d followers) [%s, score %d/10]\n", post.AuthorHandle, post.AuthorFollowers, d.Sentiment, d.Score)
	fmt.Fprintf(p.out, "  %s\n", post.Text)
	if post.URL != "" {
		fmt.Fprintf(p.out, "  %s\n", post.URL)
	}
	fmt.Fprintf(p.out, "Reason: %s\n", d.Reason)

	if !d.Action.IsReply() {
		ans, err := p.ask("\nReshare this post? (y/n): ")
		if err != nil {
			return false, replyText, eofIsDecline(err)
		}
		return strings.EqualFold(ans, "y"), replyText, nil
	}

	fmt.Fprintf(p.out, "\nProposed reply:\n  %s\n", replyText)
	ans, err := p.ask("\nPost this reply? (y/n/e=edit): ")
	if err != nil {
		return false, replyText, eofIsDecline(err)
	}
	switch strings.ToLower(ans) {
	case "y":
		return true, replyText, nil
	case "e":
	default:
		return false, replyText, nil
	}

	edited, err := p.ask("Enter new reply (empty keeps current): ")
	if err != nil {
		return false, replyText, eofIsDecline(err)
	}
	if edited != "" {
		replyText = edited
	}
	fmt.Fprintf(p.out, "\nReply:\n  %s\n", replyText)
	ans, err = p.ask("Post this reply? (y/n): ")
	if err != nil {
		return false, replyText, eofIsDecline(err)
	}
	return strings.EqualFold(ans, "y"), replyText, nil
}

func eofIsDecline(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
