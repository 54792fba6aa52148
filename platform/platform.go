// Package platform defines the boundary between the engagement pipeline and
// a content platform: searching for candidate posts and acting on them.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotAuthenticated = errors.New("platform session not authenticated")

// Post is a candidate post as returned by a platform search. It is also the
// snapshot persisted with a pending approval, so it must carry everything an
// adapter needs to act on the post later.
type Post struct {
	ID              string    `json:"id"`
	Platform        string    `json:"platform"`
	URI             string    `json:"uri,omitempty"`
	CID             string    `json:"cid,omitempty"`
	AuthorDID       string    `json:"author_did,omitempty"`
	AuthorHandle    string    `json:"author_handle"`
	AuthorFollowers int64     `json:"author_followers"`
	Text            string    `json:"text"`
	Likes           int64     `json:"likes"`
	Shares          int64     `json:"shares"`
	CreatedAt       time.Time `json:"created_at"`
	URL             string    `json:"url,omitempty"`
}

// Adapter is implemented once per platform.
type Adapter interface {
	Name() string
	SearchRecentPosts(ctx context.Context) ([]Post, error)
	// A non-nil error means the attempt failed; callers do not retry.
	PostReply(ctx context.Context, postID, text string, post Post) error
	Reshare(ctx context.Context, postID string, post Post) error
}

// DecodePost parses a post snapshot previously stored as JSON.
func DecodePost(raw string) (Post, error) {
	var p Post
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("decoding post snapshot: %w", err)
	}
	return p, nil
}
