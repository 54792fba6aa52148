package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReplyHistory is the subset of the ledger the limiter reads.
type ReplyHistory interface {
	ReplyCount(ctx context.Context, platform string, window time.Duration) (int, error)
	ReplyTimestamps(ctx context.Context, platform string, window time.Duration) ([]time.Time, error)
}

type Config struct {
	MaxPerHour        int
	MaxPerDay         int
	MinSecondsBetween int
	Logger            *slog.Logger
	// defaults to time.Now
	Clock func() time.Time
}

func DefaultConfig() Config {
	return Config{
		MaxPerHour:        20,
		MaxPerDay:         150,
		MinSecondsBetween: 120,
	}
}

const (
	ReasonAllowed     = "allowed"
	ReasonHourlyLimit = "hourly_limit"
	ReasonDailyLimit  = "daily_limit"
	ReasonTooSoon     = "too_soon"
)

type Verdict struct {
	Allowed bool
	Reason  string
	// populated for limit verdicts
	Count int
	Limit int
	// populated for ReasonTooSoon
	Wait time.Duration
}

// Limiter answers "may we act now" from the persisted reply history. It
// keeps no counters of its own, so verdicts hold across restarts and across
// processes sharing a ledger.
type Limiter struct {
	history ReplyHistory
	config  Config
	logger  *slog.Logger
	now     func() time.Time
}

func New(history ReplyHistory, config Config) *Limiter {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		history: history,
		config:  config,
		logger:  logger.With("component", "ratelimit"),
		now:     now,
	}
}

// CanReply checks, in order, the hourly cap, the daily cap and the minimum
// spacing since the last reply. It has no side effects.
func (l *Limiter) CanReply(ctx context.Context, platform string) (Verdict, error) {
	hourly, err := l.history.ReplyCount(ctx, platform, time.Hour)
	if err != nil {
		return Verdict{}, fmt.Errorf("hourly reply count: %w", err)
	}
	if hourly >= l.config.MaxPerHour {
		l.logger.Warn("hourly reply limit reached", "platform", platform, "count", hourly, "limit", l.config.MaxPerHour)
		return Verdict{Reason: ReasonHourlyLimit, Count: hourly, Limit: l.config.MaxPerHour}, nil
	}

	daily, err := l.history.ReplyCount(ctx, platform, 24*time.Hour)
	if err != nil {
		return Verdict{}, fmt.Errorf("daily reply count: %w", err)
	}
	if daily >= l.config.MaxPerDay {
		l.logger.Warn("daily reply limit reached", "platform", platform, "count", daily, "limit", l.config.MaxPerDay)
		return Verdict{Reason: ReasonDailyLimit, Count: daily, Limit: l.config.MaxPerDay}, nil
	}

	recent, err := l.history.ReplyTimestamps(ctx, platform, time.Hour)
	if err != nil {
		return Verdict{}, fmt.Errorf("recent reply timestamps: %w", err)
	}
	if len(recent) > 0 {
		minGap := time.Duration(l.config.MinSecondsBetween) * time.Second
		since := l.now().Sub(recent[0])
		if since < minGap {
			l.logger.Debug("too soon since last reply", "platform", platform, "since", since.Round(time.Second), "min", minGap)
			return Verdict{Reason: ReasonTooSoon, Wait: minGap - since}, nil
		}
	}

	return Verdict{Allowed: true, Reason: ReasonAllowed}, nil
}

type Stats struct {
	LastHour int
	LastDay  int
}

func (l *Limiter) Stats(ctx context.Context, platform string) (Stats, error) {
	hourly, err := l.history.ReplyCount(ctx, platform, time.Hour)
	if err != nil {
		return Stats{}, err
	}
	daily, err := l.history.ReplyCount(ctx, platform, 24*time.Hour)
	if err != nil {
		return Stats{}, err
	}
	return Stats{LastHour: hourly, LastDay: daily}, nil
}
