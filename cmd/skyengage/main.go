package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "skyengage",
		Usage:   "keyword engagement agent for Bluesky, with LLM decisions and Slack approvals",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"SKYENGAGE_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "ledger database: sqlite://<path> or postgres://<user>:<pass>@<host>/<db>",
			Value:   "sqlite://data/skyengage.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Usage:   "connection pool size for postgres ledgers",
			Value:   10,
			EnvVars: []string{"SKYENGAGE_MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "bluesky-host",
			Usage:   "PDS or entryway host to log in to",
			Value:   "https://bsky.social",
			EnvVars: []string{"BLUESKY_HOST"},
		},
		&cli.StringFlag{
			Name:    "bluesky-handle",
			Usage:   "account handle used for searching and posting",
			EnvVars: []string{"BLUESKY_HANDLE"},
		},
		&cli.StringFlag{
			Name:    "bluesky-app-password",
			Usage:   "app password for the account",
			EnvVars: []string{"BLUESKY_APP_PASSWORD"},
		},
		&cli.StringSliceFlag{
			Name:    "keywords",
			Usage:   "search keywords (comma separated in the environment)",
			EnvVars: []string{"KEYWORDS"},
		},
		&cli.IntFlag{
			Name:    "min-followers",
			Usage:   "skip authors with fewer followers (0 disables)",
			Value:   10,
			EnvVars: []string{"MIN_FOLLOWERS_TO_REPLY"},
		},
		&cli.IntFlag{
			Name:    "max-post-age-hours",
			Usage:   "skip posts older than this",
			Value:   2,
			EnvVars: []string{"MAX_POST_AGE_HOURS"},
		},
		&cli.StringFlag{
			Name:    "anthropic-api-key",
			Usage:   "API key for engagement decisions",
			EnvVars: []string{"ANTHROPIC_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "claude-model",
			Usage:   "model used for decisions and replies",
			EnvVars: []string{"CLAUDE_MODEL"},
		},
		&cli.StringFlag{
			Name:    "website-url",
			Usage:   "link included in call-to-action replies",
			Value:   "https://example.com",
			EnvVars: []string{"WEBSITE_URL"},
		},
		&cli.StringFlag{
			Name:    "bot-username",
			Usage:   "display name the model writes as",
			Value:   "BlueSkyBot",
			EnvVars: []string{"BOT_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "mission",
			Usage:   "one-line description of what the account engages with",
			EnvVars: []string{"SKYENGAGE_MISSION"},
		},
		&cli.BoolFlag{
			Name:    "single-stage-replies",
			Usage:   "collapse reply_casual and reply_with_cta into a single reply action",
			EnvVars: []string{"SKYENGAGE_SINGLE_STAGE_REPLIES"},
		},
		&cli.IntFlag{
			Name:    "max-replies-per-hour",
			Value:   20,
			EnvVars: []string{"MAX_REPLIES_PER_HOUR"},
		},
		&cli.IntFlag{
			Name:    "max-replies-per-day",
			Value:   150,
			EnvVars: []string{"MAX_REPLIES_PER_DAY"},
		},
		&cli.IntFlag{
			Name:    "min-seconds-between-replies",
			Value:   120,
			EnvVars: []string{"MIN_SECONDS_BETWEEN_REPLIES"},
		},
		&cli.BoolFlag{
			Name:    "manual-approval",
			Usage:   "ask on the terminal before each action",
			Value:   true,
			EnvVars: []string{"MANUAL_APPROVAL"},
		},
		&cli.BoolFlag{
			Name:    "slack-interactive-mode",
			Usage:   "queue actions for approval through Slack buttons",
			EnvVars: []string{"SLACK_INTERACTIVE_MODE"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "slack-bot-token",
			Usage:   "bot token for chat.postMessage; enables threaded results",
			EnvVars: []string{"SLACK_BOT_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "slack-channel",
			EnvVars: []string{"SLACK_CHANNEL"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"SKYENGAGE_METRICS_LISTEN"},
		},
	}

	app.Commands = []*cli.Command{
		monitorCmd,
		serveCmd,
		cleanupCmd,
		statsCmd,
		pendingCmd,
		checkCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
