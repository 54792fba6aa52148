// Package engage runs the polling loop: search, dedup, rate limit, decide,
// then hand each post to the approval gate.
package engage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/skyengage/skyengage/approval"
	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/ledger"
	"github.com/skyengage/skyengage/notify"
	"github.com/skyengage/skyengage/platform"
	"github.com/skyengage/skyengage/ratelimit"
)

type Ledger interface {
	HasSeen(ctx context.Context, postID, platform string) (bool, error)
	MarkSeen(ctx context.Context, postID, platform, author string) error
	Stats(ctx context.Context, platform string) (ledger.Stats, error)
}

type Limiter interface {
	CanReply(ctx context.Context, platform string) (ratelimit.Verdict, error)
	Stats(ctx context.Context, platform string) (ratelimit.Stats, error)
}

type Decider interface {
	ShouldRespond(ctx context.Context, p platform.Post) decision.Decision
	GenerateResponse(ctx context.Context, p platform.Post, action decision.Action, maxChars int) string
}

type Gate interface {
	Handle(ctx context.Context, post platform.Post, d decision.Decision, replyText string) (approval.Result, error)
}

type Config struct {
	// pause between polling cycles
	Interval time.Duration
	// pause between posts within a cycle
	PostDelay time.Duration
	// pause after a failed cycle
	Cooldown      time.Duration
	MaxReplyChars int
	Notifier      notify.Notifier
	Logger        *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Minute,
		PostDelay:     2 * time.Second,
		Cooldown:      time.Minute,
		MaxReplyChars: decision.DefaultMaxChars,
	}
}

// Monitor is single threaded: each post is fully processed, including any
// blocking operator prompt, before the next one starts.
type Monitor struct {
	adapter  platform.Adapter
	ledger   Ledger
	limiter  Limiter
	decider  Decider
	gate     Gate
	notifier notify.Notifier
	config   Config
	logger   *slog.Logger
}

func NewMonitor(adapter platform.Adapter, l Ledger, limiter Limiter, decider Decider, gate Gate, config Config) *Monitor {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := config.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	if config.MaxReplyChars <= 0 {
		config.MaxReplyChars = decision.DefaultMaxChars
	}
	return &Monitor{
		adapter:  adapter,
		ledger:   l,
		limiter:  limiter,
		decider:  decider,
		gate:     gate,
		notifier: n,
		config:   config,
		logger:   logger.With("component", "monitor", "platform", adapter.Name()),
	}
}

// Outcome is what ProcessPost did with a post.
type Outcome string

const (
	OutcomeSeen        Outcome = "already_seen"
	OutcomeRateLimited Outcome = "rate_limited"

	OutcomeIgnored  = Outcome(approval.Ignored)
	OutcomeQueued   = Outcome(approval.Queued)
	OutcomeDeclined = Outcome(approval.Declined)
	OutcomeExecuted = Outcome(approval.Executed)
	OutcomeFailed   = Outcome(approval.Failed)
)

// Run polls until ctx is canceled, which is the only clean exit and returns
// nil. A failed cycle waits Cooldown and is retried.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("starting monitor", "interval", m.config.Interval)
	if st, err := m.ledger.Stats(ctx, m.adapter.Name()); err != nil {
		m.logger.Warn("could not read ledger stats", "err", err)
	} else {
		m.logger.Info("ledger stats", "seen", st.TotalSeen, "responses", st.TotalResponses, "today", st.ResponsesToday, "pending", st.Pending)
	}
	if err := m.notifier.Notice(ctx, fmt.Sprintf("🚀 %s monitor started (every %s)", m.adapter.Name(), m.config.Interval)); err != nil {
		m.logger.Warn("startup notification failed", "err", err)
	}

	for {
		_, err := m.RunOnce(ctx)
		if ctx.Err() != nil {
			m.logger.Info("monitor stopped")
			return nil
		}
		wait := m.config.Interval
		if err != nil {
			cyclesTotal.WithLabelValues("error").Inc()
			m.logger.Error("monitoring cycle failed", "err", err, "retry_in", m.config.Cooldown)
			wait = m.config.Cooldown
		} else {
			cyclesTotal.WithLabelValues("ok").Inc()
			m.logger.Info("cycle finished", "next_in", wait)
		}
		if !sleep(ctx, wait) {
			m.logger.Info("monitor stopped")
			return nil
		}
	}
}

type CycleStats struct {
	Found    int
	Outcomes map[Outcome]int
	Errors   int
}

// RunOnce runs a single polling cycle. Errors from individual posts are
// counted, not returned.
func (m *Monitor) RunOnce(ctx context.Context) (CycleStats, error) {
	cs := CycleStats{Outcomes: make(map[Outcome]int)}

	rs, err := m.limiter.Stats(ctx, m.adapter.Name())
	if err != nil {
		return cs, fmt.Errorf("reading rate limit stats: %w", err)
	}
	m.logger.Info("searching for posts", "replies_last_hour", rs.LastHour, "replies_last_day", rs.LastDay)

	posts, err := m.adapter.SearchRecentPosts(ctx)
	if err != nil {
		return cs, fmt.Errorf("searching posts: %w", err)
	}
	cs.Found = len(posts)
	postsFound.Add(float64(len(posts)))
	m.logger.Info("found posts to analyze", "count", len(posts))

	for i, post := range posts {
		if i > 0 && !sleep(ctx, m.config.PostDelay) {
			return cs, ctx.Err()
		}
		out, err := m.safeProcess(ctx, post)
		if err != nil {
			if ctx.Err() != nil {
				return cs, ctx.Err()
			}
			cs.Errors++
			postsProcessed.WithLabelValues("error").Inc()
			m.logger.Error("error processing post", "post", post.ID, "err", err)
			continue
		}
		cs.Outcomes[out]++
		postsProcessed.WithLabelValues(string(out)).Inc()
	}
	return cs, nil
}

var errPanic = errors.New("panic while processing post")

func (m *Monitor) safeProcess(ctx context.Context, post platform.Post) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("recovered panic", "post", post.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return m.ProcessPost(ctx, post)
}

// ProcessPost runs one post through dedup, rate limiting, the decision
// engine and the gate. The post is marked seen before any decision, so it
// is never evaluated twice even if a later step fails.
func (m *Monitor) ProcessPost(ctx context.Context, post platform.Post) (Outcome, error) {
	logger := m.logger.With("post", post.ID, "author", post.AuthorHandle)
	if post.Platform == "" {
		post.Platform = m.adapter.Name()
	}

	seen, err := m.ledger.HasSeen(ctx, post.ID, post.Platform)
	if err != nil {
		return "", err
	}
	if seen {
		logger.Debug("already seen")
		return OutcomeSeen, nil
	}
	if err := m.ledger.MarkSeen(ctx, post.ID, post.Platform, post.AuthorHandle); err != nil {
		return "", err
	}

	verdict, err := m.limiter.CanReply(ctx, post.Platform)
	if err != nil {
		return "", err
	}
	if !verdict.Allowed {
		logger.Warn("rate limited, skipping", "reason", verdict.Reason, "wait", verdict.Wait)
		return OutcomeRateLimited, nil
	}

	logger.Info("analyzing post")
	d := m.decider.ShouldRespond(ctx, post)
	logger.Info("decision", "action", d.Action, "sentiment", d.Sentiment, "score", d.Score, "reason", d.Reason)

	var replyText string
	if d.ShouldRespond && d.Action.IsReply() {
		replyText = m.decider.GenerateResponse(ctx, post, d.Action, m.config.MaxReplyChars)
	}

	res, err := m.gate.Handle(ctx, post, d, replyText)
	return Outcome(res.Disposition), err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
