// Package notifytest provides an in-memory notify.Notifier for tests.
package notifytest

import (
	"context"
	"sync"

	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/notify"
	"github.com/skyengage/skyengage/platform"
)

// Recorder captures notifications. Ref is returned from every
// ApprovalRequest; Err fails every call.
type Recorder struct {
	mu       sync.Mutex
	Ref      string
	Err      error
	Requests []notify.ApprovalRequest
	Ignored  []platform.Post
	Results  []notify.ApprovalResult
	Failures []error
	Notices  []string
}

var _ notify.Notifier = (*Recorder)(nil)

func (n *Recorder) ApprovalRequest(ctx context.Context, req notify.ApprovalRequest) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Requests = append(n.Requests, req)
	if n.Err != nil {
		return "", n.Err
	}
	return n.Ref, nil
}

func (n *Recorder) IgnoredPost(ctx context.Context, post platform.Post, d decision.Decision) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Ignored = append(n.Ignored, post)
	return n.Err
}

func (n *Recorder) ApprovalResult(ctx context.Context, res notify.ApprovalResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Results = append(n.Results, res)
	return n.Err
}

func (n *Recorder) ExecutionFailed(ctx context.Context, post platform.Post, action decision.Action, cause error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Failures = append(n.Failures, cause)
	return n.Err
}

func (n *Recorder) Notice(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Notices = append(n.Notices, text)
	return n.Err
}

// Counts returns the number of requests, ignored posts, results, failures
// and notices recorded.
func (n *Recorder) Counts() (requests, ignored, results, failures, notices int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Requests), len(n.Ignored), len(n.Results), len(n.Failures), len(n.Notices)
}
