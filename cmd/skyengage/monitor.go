package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/skyengage/skyengage/approval"
	"github.com/skyengage/skyengage/engage"
	"github.com/skyengage/skyengage/pkg/metrics"
	"github.com/skyengage/skyengage/platform"
	"github.com/skyengage/skyengage/platform/fake"
)

var monitorCmd = &cli.Command{
	Name:      "monitor",
	Usage:     "poll for matching posts, decide, and gate engagement",
	ArgsUsage: "[interval-seconds]",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "interval",
			Usage:   "seconds between polling cycles",
			Value:   300,
			EnvVars: []string{"CHECK_INTERVAL_SECONDS"},
		},
		&cli.DurationFlag{
			Name:  "post-delay",
			Usage: "pause between posts within a cycle",
			Value: 2 * time.Second,
		},
		&cli.BoolFlag{
			Name:  "manual",
			Usage: "approve each action on the terminal",
		},
		&cli.BoolFlag{
			Name:  "auto",
			Usage: "execute actions without approval",
		},
		&cli.BoolFlag{
			Name:  "interactive",
			Usage: "queue actions for approval through Slack buttons",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "use generated posts and record actions instead of posting to Bluesky",
		},
	},
	Action: runMonitor,
}

func runMonitor(cctx *cli.Context) error {
	logger := configLogger(cctx, os.Stdout)
	ctx, stop := background(cctx)
	defer stop()

	tracing, shutdownOTEL, err := configOTEL(ctx, "skyengage")
	if err != nil {
		return err
	}
	defer shutdownOTEL()

	interval := cctx.Int("interval")
	if cctx.Args().Present() {
		interval, err = strconv.Atoi(cctx.Args().First())
		if err != nil || interval <= 0 {
			return fmt.Errorf("invalid interval %q", cctx.Args().First())
		}
	}

	mode, err := gatingMode(cctx)
	if err != nil {
		return err
	}

	l, err := openLedger(cctx, tracing)
	if err != nil {
		return err
	}
	notifier := newNotifier(cctx, logger)
	engine, err := newEngine(cctx, logger)
	if err != nil {
		return err
	}

	var adapter platform.Adapter
	if cctx.Bool("dry-run") {
		logger.Warn("dry run: posts are generated and nothing is published")
		adapter = fake.New(fake.Config{Keywords: cctx.StringSlice("keywords"), Logger: logger})
	} else {
		adapter, err = newBluesky(ctx, cctx, l, logger)
		if err != nil {
			return fmt.Errorf("bluesky login: %w", err)
		}
	}

	exec := approval.NewExecutor(l, logger, adapter)
	gate, err := newGate(mode, l, exec, notifier, logger)
	if err != nil {
		return err
	}

	config := engage.DefaultConfig()
	config.Interval = time.Duration(interval) * time.Second
	config.PostDelay = cctx.Duration("post-delay")
	config.Notifier = notifier
	config.Logger = logger
	monitor := engage.NewMonitor(adapter, l, newLimiter(cctx, l, logger), engine, gate, config)

	logger.Info("starting skyengage monitor",
		"handle", cctx.String("bluesky-handle"),
		"keywords", cctx.StringSlice("keywords"),
		"interval", config.Interval,
		"mode", mode,
		"max_per_hour", cctx.Int("max-replies-per-hour"),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runtime.SetBlockProfileRate(10)
		runtime.SetMutexProfileFraction(10)
		return metrics.RunServer(gctx, cctx.String("metrics-listen"))
	})
	g.Go(func() error {
		defer stop()
		return monitor.Run(gctx)
	})
	return g.Wait()
}

// background returns cctx's context with SIGINT and SIGTERM handling.
func background(cctx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
}
