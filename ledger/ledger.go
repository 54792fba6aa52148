package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrApprovalNotFound   = errors.New("approval not found")
	ErrApprovalNotClaimed = errors.New("approval is not in processing state")
	ErrApprovalTerminal   = errors.New("approval already resolved")
)

// Ledger is the durable store for dedup records, the reply time series, the
// response log and pending approvals. It is the only state shared between
// the monitor and the approval callback receiver.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

type Option func(*Ledger)

// WithClock overrides the time source. Returned times are stored in UTC.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New wraps an open database and migrates the ledger tables.
func New(db *gorm.DB, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := db.AutoMigrate(&SeenPost{}, &ReplyEvent{}, &ResponseLogEntry{}, &Approval{}); err != nil {
		return nil, fmt.Errorf("migrating ledger tables: %w", err)
	}
	return l, nil
}

func (l *Ledger) clock() time.Time {
	return l.now().UTC()
}

func (l *Ledger) HasSeen(ctx context.Context, postID, platform string) (bool, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&SeenPost{}).Where("post_id = ? AND platform = ?", postID, platform).Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking seen post: %w", err)
	}
	return count > 0, nil
}

// MarkSeen records a sighting. A repeat sighting refreshes seen_at and the
// author but keeps the responded flag.
func (l *Ledger) MarkSeen(ctx context.Context, postID, platform, author string) error {
	row := SeenPost{
		PostID:       postID,
		Platform:     platform,
		AuthorHandle: author,
		SeenAt:       l.clock(),
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"author_handle", "seen_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("marking post seen: %w", err)
	}
	return nil
}

// RecordOutcome flips the seen record to responded and appends the response
// log and rate limit rows in a single transaction.
func (l *Ledger) RecordOutcome(ctx context.Context, o Outcome) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.recordOutcome(tx, o)
	})
}

func (l *Ledger) recordOutcome(tx *gorm.DB, o Outcome) error {
	now := l.clock()

	seen := SeenPost{
		PostID:       o.PostID,
		Platform:     o.Platform,
		AuthorHandle: o.AuthorHandle,
		SeenAt:       now,
		Responded:    true,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}, {Name: "platform"}},
		DoUpdates: clause.Assignments(map[string]any{"responded": true}),
	}).Create(&seen).Error; err != nil {
		return fmt.Errorf("marking post responded: %w", err)
	}

	entry := ResponseLogEntry{
		PostID:       o.PostID,
		Platform:     o.Platform,
		AuthorHandle: o.AuthorHandle,
		Sentiment:    o.Sentiment,
		ResponseText: o.Text,
		PostedAt:     now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("appending response log: %w", err)
	}

	if err := tx.Create(&ReplyEvent{Platform: o.Platform, ReplyTime: now}).Error; err != nil {
		return fmt.Errorf("appending reply event: %w", err)
	}
	return nil
}

// ReplyCount counts reply events for platform inside the trailing window.
func (l *Ledger) ReplyCount(ctx context.Context, platform string, window time.Duration) (int, error) {
	var count int64
	since := l.clock().Add(-window)
	if err := l.db.WithContext(ctx).Model(&ReplyEvent{}).Where("platform = ? AND reply_time > ?", platform, since).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting replies: %w", err)
	}
	return int(count), nil
}

// ReplyTimestamps returns reply times inside the trailing window, most
// recent first.
func (l *Ledger) ReplyTimestamps(ctx context.Context, platform string, window time.Duration) ([]time.Time, error) {
	var events []ReplyEvent
	since := l.clock().Add(-window)
	if err := l.db.WithContext(ctx).Where("platform = ? AND reply_time > ?", platform, since).Order("reply_time DESC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing reply timestamps: %w", err)
	}
	out := make([]time.Time, len(events))
	for i, ev := range events {
		out[i] = ev.ReplyTime
	}
	return out, nil
}

type NewApproval struct {
	PostID    string
	Platform  string
	Action    string
	PostData  any
	Decision  any
	ReplyText string
}

// CreateApproval persists a pending approval and returns its id.
func (l *Ledger) CreateApproval(ctx context.Context, na NewApproval) (int64, error) {
	postJSON, err := json.Marshal(na.PostData)
	if err != nil {
		return 0, fmt.Errorf("encoding post snapshot: %w", err)
	}
	decisionJSON, err := json.Marshal(na.Decision)
	if err != nil {
		return 0, fmt.Errorf("encoding decision snapshot: %w", err)
	}

	row := Approval{
		PostID:           na.PostID,
		Platform:         na.Platform,
		Action:           na.Action,
		PostDataJSON:     string(postJSON),
		DecisionDataJSON: string(decisionJSON),
		Status:           StatusPending,
		CreatedAt:        l.clock(),
	}
	if na.ReplyText != "" {
		txt := na.ReplyText
		row.ReplyText = &txt
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("creating approval: %w", err)
	}
	return row.ID, nil
}

func (l *Ledger) GetApproval(ctx context.Context, id int64) (*Approval, error) {
	var row Approval
	if err := l.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, fmt.Errorf("loading approval %d: %w", id, err)
	}
	return &row, nil
}

// SetApprovalStatus sets the status of an approval that has not yet been
// resolved. Approved, rejected and failed rows are left untouched and
// ErrApprovalTerminal is returned. Callers resolving a pending approval
// should use ClaimApproval instead.
func (l *Ledger) SetApprovalStatus(ctx context.Context, id int64, status Status) error {
	updates := map[string]any{"status": status}
	if status.Terminal() {
		updates["responded_at"] = l.clock()
	}
	terminal := []Status{StatusApproved, StatusRejected, StatusFailed}
	res := l.db.WithContext(ctx).Model(&Approval{}).Where("id = ? AND status NOT IN ?", id, terminal).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("updating approval %d: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := l.GetApproval(ctx, id); err != nil {
		return err
	}
	return ErrApprovalTerminal
}

// ClaimApproval moves an approval from one status to another only if it is
// currently in the from status. Exactly one of any number of concurrent
// callers gets true for the same (id, from).
func (l *Ledger) ClaimApproval(ctx context.Context, id int64, from, to Status) (bool, error) {
	return claim(l.db.WithContext(ctx), id, from, to, l.clock())
}

func claim(db *gorm.DB, id int64, from, to Status, now time.Time) (bool, error) {
	updates := map[string]any{"status": to}
	if to.Terminal() {
		updates["responded_at"] = now
	}
	res := db.Model(&Approval{}).Where("id = ? AND status = ?", id, from).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("claiming approval %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompleteApproval marks a claimed (processing) approval approved and records
// the action outcome in the same transaction.
func (l *Ledger) CompleteApproval(ctx context.Context, id int64, o Outcome) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := claim(tx, id, StatusProcessing, StatusApproved, l.clock())
		if err != nil {
			return err
		}
		if !ok {
			return ErrApprovalNotClaimed
		}
		return l.recordOutcome(tx, o)
	})
}

func (l *Ledger) SetExternalRef(ctx context.Context, id int64, ref string) error {
	res := l.db.WithContext(ctx).Model(&Approval{}).Where("id = ?", id).Update("external_message_ref", ref)
	if res.Error != nil {
		return fmt.Errorf("setting approval message ref: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrApprovalNotFound
	}
	return nil
}

// ListPending returns pending approvals, newest first. An empty platform
// matches all platforms.
func (l *Ledger) ListPending(ctx context.Context, platform string) ([]Approval, error) {
	q := l.db.WithContext(ctx).Where("status = ?", StatusPending)
	if platform != "" {
		q = q.Where("platform = ?", platform)
	}
	var rows []Approval
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing pending approvals: %w", err)
	}
	return rows, nil
}

// Cleanup deletes seen and reply rows older than the retention period. The
// response log and approvals are an audit trail and are never pruned here.
func (l *Ledger) Cleanup(ctx context.Context, olderThanDays int) (CleanupResult, error) {
	var res CleanupResult
	cutoff := l.clock().AddDate(0, 0, -olderThanDays)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := tx.Where("seen_at < ?", cutoff).Delete(&SeenPost{})
		if seen.Error != nil {
			return fmt.Errorf("deleting seen posts: %w", seen.Error)
		}
		replies := tx.Where("reply_time < ?", cutoff).Delete(&ReplyEvent{})
		if replies.Error != nil {
			return fmt.Errorf("deleting reply events: %w", replies.Error)
		}
		res.SeenDeleted = seen.RowsAffected
		res.RepliesDeleted = replies.RowsAffected
		return nil
	})
	return res, err
}

// Stats summarizes activity. An empty platform covers all platforms.
// "Today" starts at local midnight.
func (l *Ledger) Stats(ctx context.Context, platform string) (Stats, error) {
	var st Stats
	scoped := func(model any) *gorm.DB {
		q := l.db.WithContext(ctx).Model(model)
		if platform != "" {
			q = q.Where("platform = ?", platform)
		}
		return q
	}

	if err := scoped(&SeenPost{}).Count(&st.TotalSeen).Error; err != nil {
		return st, fmt.Errorf("counting seen posts: %w", err)
	}
	if err := scoped(&ResponseLogEntry{}).Count(&st.TotalResponses).Error; err != nil {
		return st, fmt.Errorf("counting responses: %w", err)
	}

	local := l.now().In(time.Local)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local).UTC()
	if err := scoped(&ResponseLogEntry{}).Where("posted_at > ?", midnight).Count(&st.ResponsesToday).Error; err != nil {
		return st, fmt.Errorf("counting responses today: %w", err)
	}
	if err := scoped(&Approval{}).Where("status = ?", StatusPending).Count(&st.Pending).Error; err != nil {
		return st, fmt.Errorf("counting pending approvals: %w", err)
	}
	return st, nil
}
