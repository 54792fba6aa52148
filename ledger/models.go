package ledger

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Sentinel written to the response log for reshares, which carry no text.
const ResharedText = "[RESHARED]"

type SeenPost struct {
	PostID       string    `gorm:"primaryKey"`
	Platform     string    `gorm:"primaryKey;index:idx_seen_posts_platform_seen_at,priority:1"`
	AuthorHandle string
	SeenAt       time.Time `gorm:"not null;index:idx_seen_posts_platform_seen_at,priority:2"`
	Responded    bool      `gorm:"not null"`
}

func (SeenPost) TableName() string { return "seen_posts" }

// ReplyEvent is one executed reply or reshare, used only for windowed counts.
type ReplyEvent struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Platform  string    `gorm:"not null;index:idx_rate_limits_platform_reply_time,priority:1"`
	ReplyTime time.Time `gorm:"not null;index:idx_rate_limits_platform_reply_time,priority:2"`
}

func (ReplyEvent) TableName() string { return "rate_limits" }

type ResponseLogEntry struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	PostID       string `gorm:"not null;index"`
	Platform     string `gorm:"not null"`
	AuthorHandle string
	Sentiment    string
	ResponseText string
	PostedAt     time.Time `gorm:"not null"`
}

func (ResponseLogEntry) TableName() string { return "response_log" }

type Approval struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement"`
	PostID             string `gorm:"not null"`
	Platform           string `gorm:"not null"`
	Action             string `gorm:"not null"`
	PostDataJSON       string `gorm:"column:post_data_json;type:text"`
	DecisionDataJSON   string `gorm:"column:decision_data_json;type:text"`
	ReplyText          *string
	ExternalMessageRef *string
	Status             Status     `gorm:"not null;index:idx_pending_approvals_status_created_at,priority:1"`
	CreatedAt          time.Time  `gorm:"not null;index:idx_pending_approvals_status_created_at,priority:2"`
	RespondedAt        *time.Time
}

func (Approval) TableName() string { return "pending_approvals" }

// Reply returns the proposed reply text, or "" for reshares.
func (a *Approval) Reply() string {
	if a.ReplyText == nil {
		return ""
	}
	return *a.ReplyText
}

// Outcome is a completed action, as written by RecordOutcome.
type Outcome struct {
	PostID       string
	Platform     string
	AuthorHandle string
	Sentiment    string
	// reply text, or ResharedText
	Text string
}

type Stats struct {
	TotalSeen      int64 `json:"total_seen"`
	TotalResponses int64 `json:"total_responses"`
	ResponsesToday int64 `json:"responses_today"`
	Pending        int64 `json:"pending"`
}

type CleanupResult struct {
	SeenDeleted    int64
	RepliesDeleted int64
}
