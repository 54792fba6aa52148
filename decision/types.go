package decision

import (
	"strings"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentUnclear  Sentiment = "unclear"
	SentimentNews     Sentiment = "news"
	SentimentAdvocacy Sentiment = "advocacy"
	// set only when the engagement stage itself failed
	SentimentError Sentiment = "error"
)

// ParseSentiment maps model output onto the closed sentiment set. Unknown
// labels become SentimentUnclear.
func ParseSentiment(s string) Sentiment {
	switch v := Sentiment(strings.ToLower(strings.TrimSpace(s))); v {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentUnclear, SentimentNews, SentimentAdvocacy, SentimentError:
		return v
	}
	return SentimentUnclear
}

type Action string

const (
	ActionIgnore       Action = "ignore"
	ActionReshare      Action = "reshare"
	ActionReplyCasual  Action = "reply_casual"
	ActionReplyWithCTA Action = "reply_with_cta"
	// single-stage variant of both reply actions
	ActionReply Action = "reply"
)

func (a Action) IsReply() bool {
	return a == ActionReplyCasual || a == ActionReplyWithCTA || a == ActionReply
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionIgnore, ActionReshare, ActionReplyCasual, ActionReplyWithCTA, ActionReply:
		return true
	}
	return false
}

// Diagnostic reasons used when a stage degrades to its safe default.
const (
	ReasonParseError = "parse_error"
	ReasonError      = "error"
)

// Engagement is the stage one result: engage at all or not.
type Engagement struct {
	ShouldEngage bool      `json:"should_engage"`
	Sentiment    Sentiment `json:"sentiment"`
	Reason       string    `json:"reason"`
}

// EngagementType is the stage two result: how to engage.
type EngagementType struct {
	Action Action `json:"action"`
	Score  int    `json:"engagement_score"`
	Reason string `json:"reason"`
}

// Decision is the combined result of both stages.
type Decision struct {
	ShouldRespond bool      `json:"should_respond"`
	Action        Action    `json:"action"`
	Sentiment     Sentiment `json:"sentiment"`
	Reason        string    `json:"reason"`
	Score         int       `json:"engagement_score"`
}
