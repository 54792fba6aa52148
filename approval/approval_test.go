package approval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/internal/testutil"
	"github.com/skyengage/skyengage/ledger"
	"github.com/skyengage/skyengage/notify"
	"github.com/skyengage/skyengage/notify/notifytest"
)

type fixture struct {
	ledger   *ledger.Ledger
	adapter  *testutil.RecordingAdapter
	notifier *notifytest.Recorder
	executor *Executor
}

func newFixture(t *testing.T) *fixture {
	l := testutil.TestLedger(t, testutil.NewClock())
	a := &testutil.RecordingAdapter{}
	return &fixture{
		ledger:   l,
		adapter:  a,
		notifier: &notifytest.Recorder{},
		executor: NewExecutor(l, nil, a),
	}
}

func (f *fixture) gate(t *testing.T, mode Mode, reviewer Reviewer) *Gate {
	g, err := NewGate(GateConfig{
		Mode:     mode,
		Store:    f.ledger,
		Executor: f.executor,
		Notifier: f.notifier,
		Reviewer: reviewer,
	})
	require.NoError(t, err)
	return g
}

func replyDecision() decision.Decision {
	return decision.Decision{
		ShouldRespond: true,
		Action:        decision.ActionReplyWithCTA,
		Sentiment:     decision.SentimentAdvocacy,
		Reason:        "Stage1: relevant | Stage2: wants to help",
		Score:         8,
	}
}

func reshareDecision() decision.Decision {
	d := replyDecision()
	d.Action = decision.ActionReshare
	return d
}

func TestParseMode(t *testing.T) {
	assert := assert.New(t)

	m, err := ParseMode(" Interactive ")
	assert.NoError(err)
	assert.Equal(ModeInteractive, m)
	_, err = ParseMode("sometimes")
	assert.Error(err)
}

func TestParseActionToken(t *testing.T) {
	assert := assert.New(t)

	table := []struct {
		tok  string
		verb string
		id   int64
		ok   bool
	}{
		{"approve_12", "approve", 12, true},
		{"reject_7", "reject", 7, true},
		{"approve", "", 0, false},
		{"approve_", "", 0, false},
		{"approve_x", "", 0, false},
		{"approve_0", "", 0, false},
		{"publish_3", "", 0, false},
		{"approve_1_2", "", 0, false},
		{"", "", 0, false},
	}
	for _, row := range table {
		verb, id, err := ParseActionToken(row.tok)
		if row.ok {
			assert.NoError(err, row.tok)
		} else {
			assert.ErrorIs(err, ErrBadActionToken, row.tok)
		}
		assert.Equal(row.verb, verb, row.tok)
		assert.Equal(row.id, id, row.tok)
	}
}

func TestNewGateManualNeedsReviewer(t *testing.T) {
	_, err := NewGate(GateConfig{Mode: ModeManual})
	assert.Error(t, err)
}

func TestGateIgnore(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	res, err := f.gate(t, ModeAuto, nil).Handle(context.Background(), testutil.TestPost("p1"), decision.Decision{Action: decision.ActionIgnore}, "")
	assert.NoError(err)
	assert.Equal(Ignored, res.Disposition)
	assert.Len(f.notifier.Ignored, 1)
	assert.Empty(f.adapter.Calls())
}

func TestGateAutoExecutes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	post := testutil.TestPost("p1")
	res, err := f.gate(t, ModeAuto, nil).Handle(ctx, post, replyDecision(), "Join us")
	assert.NoError(err)
	assert.Equal(Executed, res.Disposition)
	assert.Equal([]testutil.Call{{Kind: "reply", PostID: "p1", Text: "Join us"}}, f.adapter.Calls())

	require.Len(t, f.notifier.Requests, 1)
	assert.False(f.notifier.Requests[0].Interactive)

	st, err := f.ledger.Stats(ctx, "")
	assert.NoError(err)
	assert.Equal(int64(1), st.TotalResponses)
	// auto mode leaves no approval row
	assert.Zero(st.Pending)
}

func TestGateAutoReshareRecordsSentinel(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.gate(t, ModeAuto, nil).Handle(ctx, testutil.TestPost("p1"), reshareDecision(), "not used")
	assert.NoError(err)
	assert.Equal(Executed, res.Disposition)
	assert.Equal([]testutil.Call{{Kind: "reshare", PostID: "p1"}}, f.adapter.Calls())
	assert.Equal(ledger.ResharedText, Outcome(decision.ActionReshare, testutil.TestPost("p1"), "", "").Text)
}

func TestGateAutoFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.ReplyErr = errors.New("upstream 500")

	res, err := f.gate(t, ModeAuto, nil).Handle(ctx, testutil.TestPost("p1"), replyDecision(), "Join us")
	assert.Error(err)
	assert.Equal(Failed, res.Disposition)
	assert.Len(f.notifier.Failures, 1)

	st, _ := f.ledger.Stats(ctx, "")
	assert.Zero(st.TotalResponses)
	seen, _ := f.ledger.HasSeen(ctx, "p1", "bluesky")
	assert.False(seen)
}

// brokenLedger fails outcome writes after the platform call succeeded.
type brokenLedger struct {
	*ledger.Ledger
	err error
}

func (b brokenLedger) RecordOutcome(ctx context.Context, o ledger.Outcome) error {
	return b.err
}

func (b brokenLedger) CompleteApproval(ctx context.Context, id int64, o ledger.Outcome) error {
	return b.err
}

func TestGateAutoUnrecordedOutcome(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	store := brokenLedger{Ledger: f.ledger, err: errors.New("database is locked")}
	f.executor = NewExecutor(store, nil, f.adapter)

	res, err := f.gate(t, ModeAuto, nil).Handle(ctx, testutil.TestPost("p1"), replyDecision(), "Join us")
	assert.ErrorIs(err, ErrOutcomeNotRecorded)
	assert.ErrorContains(err, "database is locked")
	assert.Equal(Executed, res.Disposition)
	assert.Equal([]testutil.Call{{Kind: "reply", PostID: "p1", Text: "Join us"}}, f.adapter.Calls())

	assert.Empty(f.notifier.Failures)
	require.Len(t, f.notifier.Notices, 1)
	assert.Contains(f.notifier.Notices[0], "posted but not recorded")
}

func TestGateManual(t *testing.T) {
	assert := assert.New(t)

	table := []struct {
		name  string
		input string
		d     decision.Decision
		disp  Disposition
		calls []testutil.Call
	}{
		{"approve", "y\n", replyDecision(), Executed, []testutil.Call{{Kind: "reply", PostID: "p1", Text: "Join us"}}},
		{"decline", "n\n", replyDecision(), Declined, nil},
		{"anything else declines", "maybe\n", replyDecision(), Declined, nil},
		{"end of input declines", "", replyDecision(), Declined, nil},
		{"edit then approve", "e\nCount me in\ny\n", replyDecision(), Executed, []testutil.Call{{Kind: "reply", PostID: "p1", Text: "Count me in"}}},
		{"empty edit keeps text", "e\n\ny\n", replyDecision(), Executed, []testutil.Call{{Kind: "reply", PostID: "p1", Text: "Join us"}}},
		{"edit then decline", "e\nCount me in\nn\n", replyDecision(), Declined, nil},
		{"reshare approve", "y\n", reshareDecision(), Executed, []testutil.Call{{Kind: "reshare", PostID: "p1"}}},
		// reshares have no edit option
		{"reshare edit declines", "e\n", reshareDecision(), Declined, nil},
	}

	for _, row := range table {
		f := newFixture(t)
		var out strings.Builder
		g := f.gate(t, ModeManual, NewPrompter(strings.NewReader(row.input), &out))

		res, err := g.Handle(context.Background(), testutil.TestPost("p1"), row.d, "Join us")
		assert.NoError(err, row.name)
		assert.Equal(row.disp, res.Disposition, row.name)
		calls := f.adapter.Calls()
		if row.calls == nil {
			assert.Empty(calls, row.name)
		} else {
			assert.Equal(row.calls, calls, row.name)
		}
		assert.Len(f.notifier.Requests, 1, row.name)
		assert.Contains(out.String(), "alice.test", row.name)
	}
}

func TestGateInteractiveQueues(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.Ref = "1710428400.000100"

	res, err := f.gate(t, ModeInteractive, nil).Handle(ctx, testutil.TestPost("p1"), replyDecision(), "Join us")
	assert.NoError(err)
	assert.Equal(Queued, res.Disposition)
	assert.NotZero(res.ApprovalID)
	assert.Empty(f.adapter.Calls())

	require.Len(t, f.notifier.Requests, 1)
	req := f.notifier.Requests[0]
	assert.True(req.Interactive)
	assert.Equal(res.ApprovalID, req.ID)

	a, err := f.ledger.GetApproval(ctx, res.ApprovalID)
	require.NoError(t, err)
	assert.Equal(ledger.StatusPending, a.Status)
	assert.Equal("Join us", a.Reply())
	require.NotNil(t, a.ExternalMessageRef)
	assert.Equal("1710428400.000100", *a.ExternalMessageRef)
}

func (f *fixture) queue(t *testing.T, d decision.Decision) int64 {
	res, err := f.gate(t, ModeInteractive, nil).Handle(context.Background(), testutil.TestPost("p1"), d, "Join us")
	require.NoError(t, err)
	return res.ApprovalID
}

func TestResolveApproveLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.Ref = "1710428400.000100"
	id := f.queue(t, replyDecision())

	r := NewResolver(f.ledger, f.executor, f.notifier, nil)
	res, err := r.Resolve(ctx, ResolveRequest{Verb: notify.VerbApprove, ID: id, User: "ops"})
	assert.NoError(err)
	assert.Equal(ledger.StatusApproved, res.Status)
	assert.False(res.AlreadyProcessed)
	assert.Equal("✅ APPROVED & POSTED", res.Message())
	assert.Equal([]testutil.Call{{Kind: "reply", PostID: "p1", Text: "Join us"}}, f.adapter.Calls())

	a, _ := f.ledger.GetApproval(ctx, id)
	assert.Equal(ledger.StatusApproved, a.Status)
	assert.NotNil(a.RespondedAt)
	st, _ := f.ledger.Stats(ctx, "")
	assert.Equal(int64(1), st.TotalResponses)

	// threaded under the stored message ref
	require.Len(t, f.notifier.Results, 1)
	assert.Equal("1710428400.000100", f.notifier.Results[0].ThreadRef)

	again, err := r.Resolve(ctx, ResolveRequest{Verb: notify.VerbApprove, ID: id})
	assert.NoError(err)
	assert.True(again.AlreadyProcessed)
	assert.Equal("This approval has already been approved", again.Message())
	assert.Len(f.adapter.Calls(), 1)
	assert.Len(f.notifier.Results, 1)
}

func TestResolveReject(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	id := f.queue(t, reshareDecision())

	r := NewResolver(f.ledger, f.executor, f.notifier, nil)
	res, err := r.Resolve(ctx, ResolveRequest{Verb: notify.VerbReject, ID: id, ThreadRef: "42.1"})
	assert.NoError(err)
	assert.Equal(ledger.StatusRejected, res.Status)
	assert.Empty(f.adapter.Calls())
	assert.Equal("42.1", f.notifier.Results[0].ThreadRef)

	res, err = r.Resolve(ctx, ResolveRequest{Verb: notify.VerbApprove, ID: id})
	assert.NoError(err)
	assert.True(res.AlreadyProcessed)
	assert.Equal(ledger.StatusRejected, res.Status)
	assert.Empty(f.adapter.Calls())
}

func TestResolveExecutionFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	id := f.queue(t, replyDecision())
	f.adapter.ReplyErr = errors.New("upstream 500")

	r := NewResolver(f.ledger, f.executor, f.notifier, nil)
	res, err := r.Resolve(ctx, ResolveRequest{Verb: notify.VerbApprove, ID: id})
	assert.NoError(err)
	assert.Equal(ledger.StatusFailed, res.Status)
	assert.Len(f.notifier.Failures, 1)

	st, _ := f.ledger.Stats(ctx, "")
	assert.Zero(st.TotalResponses)

	// failed is terminal: a retry click does nothing
	f.adapter.ReplyErr = nil
	res, err = r.Resolve(ctx, ResolveRequest{Verb: notify.VerbApprove, ID: id})
	assert.NoError(err)
	assert.True(res.AlreadyProcessed)
	assert.Equal(ledger.StatusFailed, res.Status)
	assert.Empty(f.adapter.Calls())
}

func TestResolveUnrecordedOutcome(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	id := f.queue(t, replyDecision())

	store := brokenLedger{Ledger: f.ledger, err: errors.New("database is locked")}
	r := NewResolver(store, f.executor, f.notifier, nil)
	res, err := r.Resolve(ctx, ResolveRequest{Verb: notify.VerbApprove, ID: id})
	assert.ErrorIs(err, ErrOutcomeNotRecorded)
	assert.Equal(ledger.StatusProcessing, res.Status)
	assert.Len(f.adapter.Calls(), 1)
	assert.Empty(f.notifier.Failures)
	assert.Len(f.notifier.Notices, 1)

	// the live action is never repeated
	again, err := r.Resolve(ctx, ResolveRequest{Verb: notify.VerbApprove, ID: id})
	assert.NoError(err)
	assert.True(again.AlreadyProcessed)
	assert.Len(f.adapter.Calls(), 1)
}

func TestResolvedApprovalCannotBeReopened(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	id := f.queue(t, replyDecision())

	r := NewResolver(f.ledger, f.executor, f.notifier, nil)
	res, err := r.Resolve(ctx, ResolveRequest{Verb: notify.VerbApprove, ID: id})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusApproved, res.Status)

	assert.ErrorIs(f.ledger.SetApprovalStatus(ctx, id, ledger.StatusPending), ledger.ErrApprovalTerminal)

	again, err := r.Resolve(ctx, ResolveRequest{Verb: notify.VerbApprove, ID: id})
	assert.NoError(err)
	assert.True(again.AlreadyProcessed)
	assert.Equal(ledger.StatusApproved, again.Status)
	assert.Len(f.adapter.Calls(), 1)
}

func TestResolveNotFound(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.ledger, f.executor, f.notifier, nil)
	_, err := r.Resolve(context.Background(), ResolveRequest{Verb: notify.VerbApprove, ID: 999})
	assert.ErrorIs(t, err, ledger.ErrApprovalNotFound)
}

func TestResolveConcurrentExactlyOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.Delay = 20 * time.Millisecond
	id := f.queue(t, replyDecision())

	r := NewResolver(f.ledger, f.executor, f.notifier, nil)

	const deliveries = 10
	results := make([]Resolution, deliveries)
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verb := notify.VerbApprove
			if i%3 == 2 {
				verb = notify.VerbReject
			}
			results[i], errs[i] = r.Resolve(ctx, ResolveRequest{Verb: verb, ID: id})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range results {
		assert.NoError(errs[i])
		if !results[i].AlreadyProcessed {
			winners++
		}
	}
	assert.Equal(1, winners)
	assert.LessOrEqual(len(f.adapter.Calls()), 1)

	a, _ := f.ledger.GetApproval(ctx, id)
	assert.True(a.Status.Terminal())
	st, _ := f.ledger.Stats(ctx, "")
	assert.Equal(int64(len(f.adapter.Calls())), st.TotalResponses)
}

func TestResolveConcurrentApprovesExecuteOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.Delay = 20 * time.Millisecond
	id := f.queue(t, replyDecision())

	r := NewResolver(f.ledger, f.executor, f.notifier, nil)

	const deliveries = 10
	results := make([]Resolution, deliveries)
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(ctx, ResolveRequest{Verb: notify.VerbApprove, ID: id})
		}(i)
	}
	wg.Wait()

	winners, duplicates := 0, 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].AlreadyProcessed {
			duplicates++
		} else {
			winners++
			assert.Equal(ledger.StatusApproved, results[i].Status)
		}
	}
	assert.Equal(1, winners)
	assert.Equal(deliveries-1, duplicates)
	assert.Equal(1, len(f.adapter.Calls()))
	assert.Len(f.notifier.Results, 1)

	a, err := f.ledger.GetApproval(ctx, id)
	require.NoError(t, err)
	assert.Equal(ledger.StatusApproved, a.Status)
	st, _ := f.ledger.Stats(ctx, "")
	assert.Equal(int64(1), st.TotalResponses)
}
