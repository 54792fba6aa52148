package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/skyengage/skyengage/approval"
	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/ledger"
	"github.com/skyengage/skyengage/llm"
	"github.com/skyengage/skyengage/notify"
	"github.com/skyengage/skyengage/platform/bluesky"
	"github.com/skyengage/skyengage/ratelimit"
)

func openLedger(cctx *cli.Context, tracing bool) (*ledger.Ledger, error) {
	db, err := ledger.OpenDB(ledger.DBConfig{
		URL:            cctx.String("database-url"),
		MaxConnections: cctx.Int("max-db-connections"),
		Tracing:        tracing,
	})
	if err != nil {
		return nil, err
	}
	return ledger.New(db)
}

func newNotifier(cctx *cli.Context, logger *slog.Logger) notify.Notifier {
	return notify.New(notify.SlackConfig{
		WebhookURL: cctx.String("slack-webhook-url"),
		BotToken:   cctx.String("slack-bot-token"),
		Channel:    cctx.String("slack-channel"),
		Logger:     logger,
	})
}

func newEngine(cctx *cli.Context, logger *slog.Logger) (*decision.Engine, error) {
	client, err := llm.NewAnthropicClient(llm.Config{
		APIKey: cctx.String("anthropic-api-key"),
		Model:  cctx.String("claude-model"),
		Retry:  llm.DefaultRetryPolicy(),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return decision.New(client, decision.Config{
		BotUsername:     cctx.String("bot-username"),
		BotHandle:       cctx.String("bluesky-handle"),
		WebsiteURL:      cctx.String("website-url"),
		Mission:         cctx.String("mission"),
		CollapseReplies: cctx.Bool("single-stage-replies"),
		Logger:          logger,
	}), nil
}

func newLimiter(cctx *cli.Context, history ratelimit.ReplyHistory, logger *slog.Logger) *ratelimit.Limiter {
	return ratelimit.New(history, ratelimit.Config{
		MaxPerHour:        cctx.Int("max-replies-per-hour"),
		MaxPerDay:         cctx.Int("max-replies-per-day"),
		MinSecondsBetween: cctx.Int("min-seconds-between-replies"),
		Logger:            logger,
	})
}

// newBluesky logs in; a bad handle or app password fails here.
func newBluesky(ctx context.Context, cctx *cli.Context, seen bluesky.SeenChecker, logger *slog.Logger) (*bluesky.Adapter, error) {
	config := bluesky.DefaultConfig()
	config.Host = cctx.String("bluesky-host")
	config.Handle = cctx.String("bluesky-handle")
	config.AppPassword = cctx.String("bluesky-app-password")
	config.Keywords = cctx.StringSlice("keywords")
	config.MinFollowers = int64(cctx.Int("min-followers"))
	config.MaxPostAge = time.Duration(cctx.Int("max-post-age-hours")) * time.Hour
	config.WebsiteURL = cctx.String("website-url")
	config.Seen = seen
	config.Logger = logger

	if config.Handle == "" || config.AppPassword == "" {
		return nil, errors.New("BLUESKY_HANDLE and BLUESKY_APP_PASSWORD are required")
	}
	return bluesky.New(ctx, config)
}

var errConflictingModes = errors.New("only one of --manual, --auto and --interactive may be given")

// resolveMode picks the gating mode. Command line overrides win; otherwise
// interactive mode takes precedence over manual approval.
func resolveMode(manual, auto, interactive, envInteractive, envManual bool) (approval.Mode, error) {
	set := 0
	for _, b := range []bool{manual, auto, interactive} {
		if b {
			set++
		}
	}
	switch {
	case set > 1:
		return "", errConflictingModes
	case interactive:
		return approval.ModeInteractive, nil
	case manual:
		return approval.ModeManual, nil
	case auto:
		return approval.ModeAuto, nil
	case envInteractive:
		return approval.ModeInteractive, nil
	case envManual:
		return approval.ModeManual, nil
	}
	return approval.ModeAuto, nil
}

func gatingMode(cctx *cli.Context) (approval.Mode, error) {
	return resolveMode(
		cctx.Bool("manual"),
		cctx.Bool("auto"),
		cctx.Bool("interactive"),
		cctx.Bool("slack-interactive-mode"),
		cctx.Bool("manual-approval"),
	)
}

func newGate(mode approval.Mode, l *ledger.Ledger, exec *approval.Executor, n notify.Notifier, logger *slog.Logger) (*approval.Gate, error) {
	if mode == approval.ModeInteractive {
		if _, ok := n.(notify.Nop); ok {
			return nil, fmt.Errorf("interactive approval requires a Slack webhook or bot token")
		}
	}
	config := approval.GateConfig{
		Mode:     mode,
		Store:    l,
		Executor: exec,
		Notifier: n,
		Logger:   logger,
	}
	if mode == approval.ModeManual {
		config.Reviewer = approval.NewPrompter(os.Stdin, os.Stdout)
	}
	return approval.NewGate(config)
}
