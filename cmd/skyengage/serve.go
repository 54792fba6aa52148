package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/skyengage/skyengage/approval"
	"github.com/skyengage/skyengage/callback"
	"github.com/skyengage/skyengage/internal/ticker"
	"github.com/skyengage/skyengage/pkg/metrics"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the Slack approval callback receiver",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Usage:   "port for the callback HTTP server",
			Value:   3000,
			EnvVars: []string{"SLACK_SERVER_PORT"},
		},
		&cli.StringFlag{
			Name:    "slack-signing-secret",
			Usage:   "secret used to authenticate Slack callbacks",
			EnvVars: []string{"SLACK_SIGNING_SECRET"},
		},
		&cli.StringFlag{
			Name:    "serve-metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3990",
			EnvVars: []string{"SKYENGAGE_SERVE_METRICS_LISTEN"},
		},
		&cli.IntFlag{
			Name:    "retention-days",
			Usage:   "seen posts and reply events older than this are deleted",
			Value:   30,
			EnvVars: []string{"SKYENGAGE_RETENTION_DAYS"},
		},
		&cli.DurationFlag{
			Name:  "cleanup-interval",
			Usage: "how often retention cleanup runs",
			Value: 24 * time.Hour,
		},
	},
	Action: runServe,
}

func runServe(cctx *cli.Context) error {
	logger := configLogger(cctx, os.Stdout)
	ctx, stop := background(cctx)
	defer stop()

	tracing, shutdownOTEL, err := configOTEL(ctx, "skyengage-callback")
	if err != nil {
		return err
	}
	defer shutdownOTEL()

	secret := cctx.String("slack-signing-secret")
	if secret == "" {
		return errors.New("SLACK_SIGNING_SECRET is required to serve callbacks")
	}

	l, err := openLedger(cctx, tracing)
	if err != nil {
		return err
	}
	notifier := newNotifier(cctx, logger)
	adapter, err := newBluesky(ctx, cctx, l, logger)
	if err != nil {
		return fmt.Errorf("bluesky login: %w", err)
	}

	exec := approval.NewExecutor(l, logger, adapter)
	srv, err := callback.NewServer(approval.NewResolver(l, exec, notifier, logger), callback.Config{
		SigningSecret: secret,
		Bind:          fmt.Sprintf(":%d", cctx.Int("port")),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to construct server: %w", err)
	}

	days := cctx.Int("retention-days")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return srv.RunAPI(gctx)
	})
	g.Go(func() error {
		return metrics.RunServer(gctx, cctx.String("serve-metrics-listen"))
	})
	g.Go(func() error {
		return ticker.Periodically(gctx, "ledger_cleanup", cctx.Duration("cleanup-interval"), func(ctx context.Context) error {
			res, err := l.Cleanup(ctx, days)
			if err != nil {
				return err
			}
			logger.Info("ledger cleanup", "seen_deleted", res.SeenDeleted, "replies_deleted", res.RepliesDeleted, "days", days)
			return nil
		})
	})
	return g.Wait()
}
