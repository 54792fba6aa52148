package main

import (
	"fmt"
	"os"
	"strings"

	cli "github.com/urfave/cli/v2"

	"github.com/skyengage/skyengage/decision"
	"github.com/skyengage/skyengage/platform/bluesky"
)

var cleanupCmd = &cli.Command{
	Name:  "cleanup",
	Usage: "delete old seen posts and reply events from the ledger",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "days",
			Usage: "keep this many days of history",
			Value: 30,
		},
	},
	Action: func(cctx *cli.Context) error {
		configLogger(cctx, os.Stderr)
		days := cctx.Int("days")
		if days <= 0 {
			return fmt.Errorf("--days must be positive")
		}
		l, err := openLedger(cctx, false)
		if err != nil {
			return err
		}
		res, err := l.Cleanup(cctx.Context, days)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d seen posts and %d reply events older than %d days\n", res.SeenDeleted, res.RepliesDeleted, days)
		return nil
	},
}

var statsCmd = &cli.Command{
	Name:  "stats",
	Usage: "print ledger and rate limit statistics",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "platform",
			Usage: "restrict to one platform; empty means all",
			Value: bluesky.Name,
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := configLogger(cctx, os.Stderr)
		l, err := openLedger(cctx, false)
		if err != nil {
			return err
		}
		platform := cctx.String("platform")
		st, err := l.Stats(cctx.Context, platform)
		if err != nil {
			return err
		}
		rs, err := newLimiter(cctx, l, logger).Stats(cctx.Context, platform)
		if err != nil {
			return err
		}
		fmt.Printf("posts seen:        %d\n", st.TotalSeen)
		fmt.Printf("responses:         %d\n", st.TotalResponses)
		fmt.Printf("responses today:   %d\n", st.ResponsesToday)
		fmt.Printf("pending approvals: %d\n", st.Pending)
		fmt.Printf("replies last hour: %d/%d\n", rs.LastHour, cctx.Int("max-replies-per-hour"))
		fmt.Printf("replies last day:  %d/%d\n", rs.LastDay, cctx.Int("max-replies-per-day"))
		return nil
	},
}

var pendingCmd = &cli.Command{
	Name:  "pending",
	Usage: "list approvals waiting for a decision",
	Action: func(cctx *cli.Context) error {
		configLogger(cctx, os.Stderr)
		l, err := openLedger(cctx, false)
		if err != nil {
			return err
		}
		rows, err := l.ListPending(cctx.Context, "")
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("no pending approvals")
			return nil
		}
		for _, a := range rows {
			fmt.Printf("#%d\t%s\t%s\t%s\t%s\n", a.ID, a.CreatedAt.Format("2006-01-02 15:04"), a.Platform, a.Action, a.PostID)
			if text := a.Reply(); text != "" {
				fmt.Printf("\t%s\n", decision.Truncate(text, 100))
			}
		}
		return nil
	},
}

var checkCmd = &cli.Command{
	Name:  "check",
	Usage: "validate configuration and connectivity",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "login",
			Usage: "also log in to Bluesky",
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := configLogger(cctx, os.Stderr)

		required := []string{"bluesky-handle", "bluesky-app-password", "anthropic-api-key", "website-url", "keywords"}
		var missing []string
		for _, name := range required {
			if !cctx.IsSet(name) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			fmt.Printf("❌ missing configuration: %s\n", strings.Join(missing, ", "))
		} else {
			fmt.Println("✅ required configuration present")
		}

		if cctx.String("slack-webhook-url") == "" && cctx.String("slack-bot-token") == "" {
			fmt.Println("⚠️  no Slack webhook or bot token: notifications disabled")
		}
		if mode, err := gatingMode(cctx); err != nil {
			fmt.Printf("❌ %s\n", err)
			missing = append(missing, "mode")
		} else {
			fmt.Printf("✅ approval mode: %s\n", mode)
		}

		l, err := openLedger(cctx, false)
		if err != nil {
			fmt.Printf("❌ ledger: %s\n", err)
			return cli.Exit("configuration check failed", 1)
		}
		st, err := l.Stats(cctx.Context, "")
		if err != nil {
			fmt.Printf("❌ ledger: %s\n", err)
			return cli.Exit("configuration check failed", 1)
		}
		fmt.Printf("✅ ledger reachable (%d posts seen)\n", st.TotalSeen)

		if cctx.Bool("login") {
			if _, err := newBluesky(cctx.Context, cctx, l, logger); err != nil {
				fmt.Printf("❌ bluesky login: %s\n", err)
				return cli.Exit("configuration check failed", 1)
			}
			fmt.Printf("✅ logged in as %s\n", cctx.String("bluesky-handle"))
		}

		if len(missing) > 0 {
			return cli.Exit("configuration check failed", 1)
		}
		return nil
	},
}
