package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/skyengage/skyengage/llm"
	"github.com/skyengage/skyengage/platform"
)

type Reply struct {
	Text string
	Err  error
}

// ScriptedCompleter returns canned replies. Rules are matched by prompt
// substring first; otherwise replies are consumed in order.
type ScriptedCompleter struct {
	mu      sync.Mutex
	Rules   map[string]Reply
	Queue   []Reply
	Prompts []string
}

var ErrScriptExhausted = errors.New("scripted completer has no more replies")

func (s *ScriptedCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prompts = append(s.Prompts, req.Prompt)

	for substr, r := range s.Rules {
		if strings.Contains(req.Prompt, substr) {
			return r.Text, r.Err
		}
	}
	if len(s.Queue) == 0 {
		return "", ErrScriptExhausted
	}
	r := s.Queue[0]
	s.Queue = s.Queue[1:]
	return r.Text, r.Err
}

func (s *ScriptedCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Prompts)
}

type Call struct {
	Kind   string
	PostID string
	Text   string
}

// RecordingAdapter is an in-memory platform.Adapter.
type RecordingAdapter struct {
	mu         sync.Mutex
	Platform   string
	Posts      []platform.Post
	SearchErr  error
	ReplyErr   error
	ReshareErr error
	// held inside PostReply/Reshare, to widen race windows in tests
	Delay time.Duration
	calls []Call
}

func (a *RecordingAdapter) Name() string {
	if a.Platform == "" {
		return "bluesky"
	}
	return a.Platform
}

func (a *RecordingAdapter) SearchRecentPosts(ctx context.Context) ([]platform.Post, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SearchErr != nil {
		return nil, a.SearchErr
	}
	out := make([]platform.Post, len(a.Posts))
	copy(out, a.Posts)
	return out, nil
}

func (a *RecordingAdapter) PostReply(ctx context.Context, postID, text string, post platform.Post) error {
	time.Sleep(a.Delay)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ReplyErr != nil {
		return a.ReplyErr
	}
	a.calls = append(a.calls, Call{Kind: "reply", PostID: postID, Text: text})
	return nil
}

func (a *RecordingAdapter) Reshare(ctx context.Context, postID string, post platform.Post) error {
	time.Sleep(a.Delay)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ReshareErr != nil {
		return a.ReshareErr
	}
	a.calls = append(a.calls, Call{Kind: "reshare", PostID: postID})
	return nil
}

func (a *RecordingAdapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// TestPost returns a plausible Bluesky post.
func TestPost(id string) platform.Post {
	return platform.Post{
		ID:              id,
		Platform:        "bluesky",
		URI:             id,
		CID:             "bafyreib2rxk3rh6kzwq",
		AuthorDID:       "did:plc:ewvi7nxzyoun6zhxrhs64oiz",
		AuthorHandle:    "alice.test",
		AuthorFollowers: 120,
		Text:            "Our local river cleanup needs more volunteers this weekend. Anyone know how to help?",
		Likes:           4,
		Shares:          1,
		CreatedAt:       time.Date(2025, 3, 14, 14, 30, 0, 0, time.UTC),
	}
}
