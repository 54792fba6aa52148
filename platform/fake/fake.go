// Package fake is a dry-run platform.Adapter. It invents plausible posts and
// logs, rather than publishes, every action.
package fake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/skyengage/skyengage/platform"
)

// Name keeps dry-run rows apart from real platform rows in a shared ledger.
const Name = "fake"

type Config struct {
	Keywords      []string
	PostsPerCycle int
	// zero picks a random seed
	Seed   int64
	Logger *slog.Logger
	Clock  func() time.Time
}

type Action struct {
	Kind   string
	PostID string
	Text   string
}

type Adapter struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	faker   *gofakeit.Faker
	actions []Action
}

var _ platform.Adapter = (*Adapter)(nil)

func New(config Config) *Adapter {
	if config.PostsPerCycle <= 0 {
		config.PostsPerCycle = 3
	}
	if len(config.Keywords) == 0 {
		config.Keywords = []string{"community"}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		config: config,
		logger: logger.With("platform", Name, "dry_run", true),
		now:    now,
		faker:  gofakeit.New(config.Seed),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) SearchRecentPosts(ctx context.Context) ([]platform.Post, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f := a.faker
	posts := make([]platform.Post, 0, a.config.PostsPerCycle)
	for i := 0; i < a.config.PostsPerCycle; i++ {
		kw := a.config.Keywords[f.Number(0, len(a.config.Keywords)-1)]
		did := "did:plc:" + strings.ToLower(f.LetterN(24))
		rkey := strings.ToLower(f.LetterN(13))
		handle := strings.ToLower(f.Username()) + ".bsky.social"
		uri := fmt.Sprintf("at://%s/app.bsky.feed.post/%s", did, rkey)
		posts = append(posts, platform.Post{
			ID:              uri,
			Platform:        Name,
			URI:             uri,
			CID:             "bafyrei" + strings.ToLower(f.LetterN(20)),
			AuthorDID:       did,
			AuthorHandle:    handle,
			AuthorFollowers: int64(f.Number(0, 5000)),
			Text:            f.Sentence(12) + " #" + strings.ReplaceAll(kw, " ", ""),
			Likes:           int64(f.Number(0, 200)),
			Shares:          int64(f.Number(0, 50)),
			CreatedAt:       a.now().Add(-time.Duration(f.Number(1, 90)) * time.Minute).UTC(),
			URL:             fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, rkey),
		})
	}
	return posts, nil
}

func (a *Adapter) PostReply(ctx context.Context, postID, text string, post platform.Post) error {
	a.record(Action{Kind: "reply", PostID: postID, Text: text})
	a.logger.Info("dry run: would reply", "post", postID, "author", post.AuthorHandle, "text", text)
	return nil
}

func (a *Adapter) Reshare(ctx context.Context, postID string, post platform.Post) error {
	a.record(Action{Kind: "reshare", PostID: postID})
	a.logger.Info("dry run: would like and repost", "post", postID, "author", post.AuthorHandle)
	return nil
}

func (a *Adapter) record(act Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, act)
}

// Actions returns the actions taken so far.
func (a *Adapter) Actions() []Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Action, len(a.actions))
	copy(out, a.actions)
	return out
}
