// Package bluesky implements platform.Adapter against the Bluesky AppView
// and the account's PDS, authenticating with an app password.
package bluesky

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/go-querystring/query"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/skyengage/skyengage/pkg/robusthttp"
	"github.com/skyengage/skyengage/platform"
)

const (
	Name        = "bluesky"
	DefaultHost = "https://bsky.social"
)

var errNoSession = fmt.Errorf("bluesky: %w", platform.ErrNotAuthenticated)

// SeenChecker lets the adapter drop posts already recorded in the ledger.
type SeenChecker interface {
	HasSeen(ctx context.Context, postID, platform string) (bool, error)
}

type Config struct {
	Host        string
	Handle      string
	AppPassword string

	Keywords []string
	// results requested per keyword
	SearchLimit int
	// pause between keyword searches
	KeywordDelay time.Duration
	MaxPostAge   time.Duration
	// authors with 0 < followers < MinFollowers are skipped
	MinFollowers int64
	// occurrences in replies become link facets
	WebsiteURL string

	// client side pacing of XRPC calls; zero disables
	RequestsPerSecond float64
	ProfileCacheSize  int
	ProfileCacheTTL   time.Duration

	Seen       SeenChecker
	HTTPClient *http.Client
	Logger     *slog.Logger
	Clock      func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Host:              DefaultHost,
		SearchLimit:       10,
		KeywordDelay:      time.Second,
		MaxPostAge:        2 * time.Hour,
		MinFollowers:      10,
		RequestsPerSecond: 5,
		ProfileCacheSize:  10_000,
		ProfileCacheTTL:   6 * time.Hour,
	}
}

type Adapter struct {
	config   Config
	xrpc     *xrpcClient
	profiles *expirable.LRU[string, int64]
	logger   *slog.Logger
	now      func() time.Time
}

var _ platform.Adapter = (*Adapter)(nil)

// New creates a session with the configured app password. Login failure is
// returned so that startup can abort.
func New(ctx context.Context, config Config) (*Adapter, error) {
	if config.Handle == "" || config.AppPassword == "" {
		return nil, errors.New("bluesky handle and app password are required")
	}
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = 10
	}
	if config.ProfileCacheSize <= 0 {
		config.ProfileCacheSize = 10_000
	}
	client := config.HTTPClient
	if client == nil {
		client = robusthttp.NewClient()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	a := &Adapter{
		config: config,
		xrpc: &xrpcClient{
			host:    strings.TrimSuffix(config.Host, "/"),
			client:  client,
			limiter: limiter,
			now:     now,
		},
		profiles: expirable.NewLRU[string, int64](config.ProfileCacheSize, nil, config.ProfileCacheTTL),
		logger:   logger.With("platform", Name),
		now:      now,
	}
	if err := a.xrpc.login(ctx, config.Handle, config.AppPassword); err != nil {
		return nil, fmt.Errorf("logging in to bluesky as %s: %w", config.Handle, err)
	}
	a.logger.Info("logged in to bluesky", "handle", config.Handle, "did", a.xrpc.session().DID)
	return a, nil
}

func (a *Adapter) Name() string { return Name }

// SearchRecentPosts runs one search per keyword and returns the posts that
// pass the filters. A failed keyword search is logged and skipped.
func (a *Adapter) SearchRecentPosts(ctx context.Context) ([]platform.Post, error) {
	var results []platform.Post
	seenInBatch := make(map[string]bool)

	for i, kw := range a.config.Keywords {
		if i > 0 && a.config.KeywordDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(a.config.KeywordDelay):
			}
		}

		var out searchPostsOutput
		params, err := query.Values(searchPostsParams{Q: kw, Limit: a.config.SearchLimit})
		if err != nil {
			return results, fmt.Errorf("encoding search params: %w", err)
		}
		if err := a.xrpc.do(ctx, xrpcQuery, "app.bsky.feed.searchPosts", params, nil, &out); err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			a.logger.Error("keyword search failed", "keyword", kw, "err", err)
			continue
		}

		for _, pv := range out.Posts {
			if seenInBatch[pv.URI] {
				continue
			}
			post, ok := a.filter(ctx, pv)
			if !ok {
				continue
			}
			seenInBatch[pv.URI] = true
			results = append(results, post)
		}
	}

	a.logger.Info("search finished", "keywords", len(a.config.Keywords), "posts", len(results))
	return results, nil
}

func (a *Adapter) filter(ctx context.Context, pv postView) (platform.Post, bool) {
	logger := a.logger.With("uri", pv.URI, "author", pv.Author.Handle)

	if pv.Author.DID == a.xrpc.session().DID || strings.EqualFold(pv.Author.Handle, a.config.Handle) {
		postsFiltered.WithLabelValues("own").Inc()
		return platform.Post{}, false
	}
	if a.config.Seen != nil {
		seen, err := a.config.Seen.HasSeen(ctx, pv.URI, Name)
		if err != nil {
			logger.Warn("seen check failed", "err", err)
		} else if seen {
			postsFiltered.WithLabelValues("seen").Inc()
			return platform.Post{}, false
		}
	}
	// only top-level posts, to stay out of existing conversations
	if pv.Record.Reply != nil {
		postsFiltered.WithLabelValues("reply").Inc()
		return platform.Post{}, false
	}

	created, err := createdAt(pv)
	if err != nil {
		logger.Debug("unparseable timestamps", "createdAt", pv.Record.CreatedAt, "indexedAt", pv.IndexedAt)
		postsFiltered.WithLabelValues("bad_timestamp").Inc()
		return platform.Post{}, false
	}
	if a.config.MaxPostAge > 0 && a.now().Sub(created) > a.config.MaxPostAge {
		postsFiltered.WithLabelValues("too_old").Inc()
		return platform.Post{}, false
	}

	followers := a.followers(ctx, pv.Author.Handle)
	if followers > 0 && followers < a.config.MinFollowers {
		logger.Debug("author has too few followers", "followers", followers)
		postsFiltered.WithLabelValues("few_followers").Inc()
		return platform.Post{}, false
	}

	post := a.toPost(pv)
	post.AuthorFollowers = followers
	return post, true
}

// createdAt prefers the record's claimed creation time and falls back to
// the AppView's indexing time.
func createdAt(pv postView) (time.Time, error) {
	t, err := dateparse.ParseAny(pv.Record.CreatedAt)
	if err != nil {
		t, err = dateparse.ParseAny(pv.IndexedAt)
	}
	return t.UTC(), err
}

func (a *Adapter) toPost(pv postView) platform.Post {
	created, _ := createdAt(pv)
	return platform.Post{
		ID:           pv.URI,
		Platform:     Name,
		URI:          pv.URI,
		CID:          pv.CID,
		AuthorDID:    pv.Author.DID,
		AuthorHandle: pv.Author.Handle,
		Text:         pv.Record.Text,
		Likes:        pv.LikeCount,
		Shares:       pv.RepostCount,
		CreatedAt:    created,
		URL:          fmt.Sprintf("https://bsky.app/profile/%s/post/%s", pv.Author.Handle, rkey(pv.URI)),
	}
}

// followers returns the author's follower count, or 0 when the profile
// cannot be fetched, which disables the follower filter for that post.
func (a *Adapter) followers(ctx context.Context, actor string) int64 {
	if n, ok := a.profiles.Get(actor); ok {
		return n
	}
	var prof profileViewDetailed
	params, err := query.Values(getProfileParams{Actor: actor})
	if err != nil {
		return 0
	}
	if err := a.xrpc.do(ctx, xrpcQuery, "app.bsky.actor.getProfile", params, nil, &prof); err != nil {
		a.logger.Debug("could not fetch profile", "actor", actor, "err", err)
		return 0
	}
	a.profiles.Add(actor, prof.FollowersCount)
	return prof.FollowersCount
}

func (a *Adapter) createRecord(ctx context.Context, collection string, record any) (*createRecordOutput, error) {
	sess := a.xrpc.session()
	if sess == nil {
		return nil, errNoSession
	}
	var out createRecordOutput
	in := createRecordInput{Repo: sess.DID, Collection: collection, Record: record}
	if err := a.xrpc.do(ctx, xrpcProcedure, "com.atproto.repo.createRecord", nil, in, &out); err != nil {
		return nil, fmt.Errorf("creating %s record: %w", collection, err)
	}
	return &out, nil
}

func (a *Adapter) timestamp() string {
	return a.now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// PostReply publishes text as a direct reply to post. Text over the
// grapheme limit is truncated and the configured website URL is linked.
func (a *Adapter) PostReply(ctx context.Context, postID, text string, post platform.Post) error {
	if post.URI == "" || post.CID == "" {
		return fmt.Errorf("post %s is missing uri or cid", postID)
	}
	text = normalizeText(text)
	if n := graphemeLen(text); n > MaxPostGraphemes {
		a.logger.Warn("reply too long, truncating", "graphemes", n)
		text = truncateGraphemes(text, MaxPostGraphemes)
	}

	ref := strongRef{URI: post.URI, CID: post.CID}
	rec := postRecord{
		Type:      collectionPost,
		Text:      text,
		CreatedAt: a.timestamp(),
		Reply:     &replyRef{Root: ref, Parent: ref},
		Facets:    linkFacets(text, a.config.WebsiteURL),
	}
	out, err := a.createRecord(ctx, collectionPost, rec)
	if err != nil {
		return err
	}
	a.logger.Info("reply posted", "parent", post.URI, "uri", out.URI)
	return nil
}

// Reshare likes and reposts post.
func (a *Adapter) Reshare(ctx context.Context, postID string, post platform.Post) error {
	if post.URI == "" || post.CID == "" {
		return fmt.Errorf("post %s is missing uri or cid", postID)
	}
	subject := strongRef{URI: post.URI, CID: post.CID}
	if _, err := a.createRecord(ctx, collectionLike, subjectRecord{Type: collectionLike, Subject: subject, CreatedAt: a.timestamp()}); err != nil {
		return err
	}
	if _, err := a.createRecord(ctx, collectionRepost, subjectRecord{Type: collectionRepost, Subject: subject, CreatedAt: a.timestamp()}); err != nil {
		return err
	}
	a.logger.Info("post reshared", "uri", post.URI)
	return nil
}
