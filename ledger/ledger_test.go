package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

func testLedger(t *testing.T) (*Ledger, *testClock) {
	t.Helper()
	db, err := OpenDB(DBConfig{URL: "sqlite://" + filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqldb, err := db.DB(); err == nil {
			sqldb.Close()
		}
	})

	clk := &testClock{cur: time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)}
	l, err := New(db, WithClock(clk.Now))
	require.NoError(t, err)
	return l, clk
}

func TestMarkSeenIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l, clk := testLedger(t)

	seen, err := l.HasSeen(ctx, "at://did:plc:abc/app.bsky.feed.post/1", "bluesky")
	assert.NoError(err)
	assert.False(seen)

	assert.NoError(l.MarkSeen(ctx, "at://did:plc:abc/app.bsky.feed.post/1", "bluesky", "alice.test"))
	seen, err = l.HasSeen(ctx, "at://did:plc:abc/app.bsky.feed.post/1", "bluesky")
	assert.NoError(err)
	assert.True(seen)

	clk.Advance(time.Minute)
	assert.NoError(l.MarkSeen(ctx, "at://did:plc:abc/app.bsky.feed.post/1", "bluesky", "alice.test"))
	seen, err = l.HasSeen(ctx, "at://did:plc:abc/app.bsky.feed.post/1", "bluesky")
	assert.NoError(err)
	assert.True(seen)

	var rows []SeenPost
	assert.NoError(l.db.Find(&rows).Error)
	assert.Len(rows, 1)
	assert.True(rows[0].SeenAt.Equal(clk.Now()))

	// same id on another platform is a different key
	seen, err = l.HasSeen(ctx, "at://did:plc:abc/app.bsky.feed.post/1", "mastodon")
	assert.NoError(err)
	assert.False(seen)
}

func TestMarkSeenKeepsResponded(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l, _ := testLedger(t)

	assert.NoError(l.MarkSeen(ctx, "p1", "bluesky", "alice.test"))
	assert.NoError(l.RecordOutcome(ctx, Outcome{PostID: "p1", Platform: "bluesky", AuthorHandle: "alice.test", Sentiment: "positive", Text: "hi"}))
	assert.NoError(l.MarkSeen(ctx, "p1", "bluesky", "alice.test"))

	var row SeenPost
	assert.NoError(l.db.Where("post_id = ?", "p1").Take(&row).Error)
	assert.True(row.Responded)
}

func TestRecordOutcome(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l, _ := testLedger(t)

	assert.NoError(l.MarkSeen(ctx, "p1", "bluesky", "alice.test"))
	assert.NoError(l.RecordOutcome(ctx, Outcome{
		PostID:       "p1",
		Platform:     "bluesky",
		AuthorHandle: "alice.test",
		Sentiment:    "advocacy",
		Text:         ResharedText,
	}))

	var seen SeenPost
	assert.NoError(l.db.Where("post_id = ? AND platform = ?", "p1", "bluesky").Take(&seen).Error)
	assert.True(seen.Responded)

	var log []ResponseLogEntry
	assert.NoError(l.db.Find(&log).Error)
	assert.Len(log, 1)
	assert.Equal("advocacy", log[0].Sentiment)
	assert.Equal(ResharedText, log[0].ResponseText)

	count, err := l.ReplyCount(ctx, "bluesky", time.Hour)
	assert.NoError(err)
	assert.Equal(1, count)
}

func TestRecordOutcomeRollsBack(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l, _ := testLedger(t)

	// break the last write of the transaction
	assert.NoError(l.db.Exec("DROP TABLE rate_limits").Error)

	err := l.RecordOutcome(ctx, Outcome{PostID: "p1", Platform: "bluesky", AuthorHandle: "alice.test", Text: "hi"})
	assert.Error(err)

	var seenCount, logCount int64
	assert.NoError(l.db.Model(&SeenPost{}).Count(&seenCount).Error)
	assert.NoError(l.db.Model(&ResponseLogEntry{}).Count(&logCount).Error)
	assert.Zero(seenCount)
	assert.Zero(logCount)
}

func TestReplyWindows(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l, clk := testLedger(t)

	record := func(id string) {
		assert.NoError(l.RecordOutcome(ctx, Outcome{PostID: id, Platform: "bluesky", AuthorHandle: "a.test", Text: "x"}))
	}

	record("old")
	clk.Advance(2 * time.Hour)
	record("mid")
	clk.Advance(30 * time.Minute)
	record("new")
	clk.Advance(time.Minute)

	hourly, err := l.ReplyCount(ctx, "bluesky", time.Hour)
	assert.NoError(err)
	assert.Equal(2, hourly)

	daily, err := l.ReplyCount(ctx, "bluesky", 24*time.Hour)
	assert.NoError(err)
	assert.Equal(3, daily)

	other, err := l.ReplyCount(ctx, "mastodon", 24*time.Hour)
	assert.NoError(err)
	assert.Zero(other)

	ts, err := l.ReplyTimestamps(ctx, "bluesky", time.Hour)
	assert.NoError(err)
	require.Len(t, ts, 2)
	assert.True(ts[0].After(ts[1]))
	assert.True(ts[0].Equal(clk.Now().Add(-time.Minute)))
}

func TestApprovalLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l, _ := testLedger(t)

	id, err := l.CreateApproval(ctx, NewApproval{
		PostID:    "p1",
		Platform:  "bluesky",
		Action:    "reply_with_cta",
		PostData:  map[string]any{"text": "hello"},
		Decision:  map[string]any{"score": 7},
		ReplyText: "check this out",
	})
	assert.NoError(err)
	assert.NotZero(id)

	a, err := l.GetApproval(ctx, id)
	assert.NoError(err)
	assert.Equal(StatusPending, a.Status)
	assert.Equal("check this out", a.Reply())
	assert.Nil(a.RespondedAt)
	assert.JSONEq(`{"text":"hello"}`, a.PostDataJSON)

	pending, err := l.ListPending(ctx, "bluesky")
	assert.NoError(err)
	assert.Len(pending, 1)

	assert.NoError(l.SetApprovalStatus(ctx, id, StatusApproved))
	a, err = l.GetApproval(ctx, id)
	assert.NoError(err)
	assert.Equal(StatusApproved, a.Status)
	assert.NotNil(a.RespondedAt)

	pending, err = l.ListPending(ctx, "")
	assert.NoError(err)
	assert.Empty(pending)

	_, err = l.GetApproval(ctx, id+100)
	assert.ErrorIs(err, ErrApprovalNotFound)
	assert.ErrorIs(l.SetApprovalStatus(ctx, id+100, StatusRejected), ErrApprovalNotFound)
}

func TestSetApprovalStatusRefusesResolved(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l, _ := testLedger(t)

	for _, final := range []Status{StatusApproved, StatusRejected, StatusFailed} {
		id, err := l.CreateApproval(ctx, NewApproval{PostID: "p-" + string(final), Platform: "bluesky", Action: "reply"})
		require.NoError(t, err)
		require.NoError(t, l.SetApprovalStatus(ctx, id, StatusProcessing))
		require.NoError(t, l.SetApprovalStatus(ctx, id, final))
		before, err := l.GetApproval(ctx, id)
		require.NoError(t, err)

		for _, next := range []Status{StatusPending, StatusProcessing, StatusApproved, StatusRejected} {
			assert.ErrorIs(l.SetApprovalStatus(ctx, id, next), ErrApprovalTerminal, "%s -> %s", final, next)
		}
		ok, err := l.ClaimApproval(ctx, id, StatusPending, StatusProcessing)
		assert.NoError(err)
		assert.False(ok)

		after, err := l.GetApproval(ctx, id)
		require.NoError(t, err)
		assert.Equal(final, after.Status)
		assert.Equal(before.RespondedAt, after.RespondedAt)
	}

	pending, err := l.ListPending(ctx, "")
	assert.NoError(err)
	assert.Empty(pending)
}

func TestClaimApprovalOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l, _ := testLedger(t)

	id, err := l.CreateApproval(ctx, NewApproval{PostID: "p1", Platform: "bluesky", Action: "reshare"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.ClaimApproval(ctx, id, StatusPending, StatusProcessing)
			assert.NoError(err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(1, wins)

	assert.NoError(l.CompleteApproval(ctx, id, Outcome{PostID: "p1", Platform: "bluesky", AuthorHandle: "a.test", Text: ResharedText}))
	a, err := l.GetApproval(ctx, id)
	assert.NoError(err)
	assert.Equal(StatusApproved, a.Status)
	assert.NotNil(a.RespondedAt)

	// a second completion must not write another outcome
	assert.ErrorIs(l.CompleteApproval(ctx, id, Outcome{PostID: "p1", Platform: "bluesky", Text: ResharedText}), ErrApprovalNotClaimed)
	count, err := l.ReplyCount(ctx, "bluesky", time.Hour)
	assert.NoError(err)
	assert.Equal(1, count)
}

func TestCleanup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l, clk := testLedger(t)

	assert.NoError(l.RecordOutcome(ctx, Outcome{PostID: "old", Platform: "bluesky", Text: "x"}))
	_, err := l.CreateApproval(ctx, NewApproval{PostID: "old", Platform: "bluesky", Action: "reshare"})
	assert.NoError(err)
	clk.Advance(40 * 24 * time.Hour)
	assert.NoError(l.MarkSeen(ctx, "new", "bluesky", "b.test"))

	res, err := l.Cleanup(ctx, 30)
	assert.NoError(err)
	assert.Equal(int64(1), res.SeenDeleted)
	assert.Equal(int64(1), res.RepliesDeleted)

	seen, err := l.HasSeen(ctx, "new", "bluesky")
	assert.NoError(err)
	assert.True(seen)

	st, err := l.Stats(ctx, "bluesky")
	assert.NoError(err)
	assert.Equal(int64(1), st.TotalSeen)
	assert.Equal(int64(1), st.TotalResponses)
	assert.Equal(int64(1), st.Pending)
}
