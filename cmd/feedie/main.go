package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"feedie/internal/config"
	"feedie/internal/database"
	"feedie/internal/feed"
	"feedie/internal/prune"
	"feedie/internal/report"
	"feedie/internal/server"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Error("feedie exited with error")
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "feedie",
		Usage: "Crawl content feeds, deduplicate and persist their items, prune aged ones",
		Description: `Feedie ingests externally hosted content feeds, converts each
feed into a normalized item sequence, deduplicates against the feed's
ledger of previously seen items, sanitizes markup and persists new
items. A separate prune routine removes unclaimed items older than the
retention window and cascades removal from per-user read state.

Runs are externally triggered: one-shot via the sync-all, sync-one and
prune commands, or on demand through the trigger HTTP server.`,
		Commands: []*cli.Command{
			syncAllCmd(),
			syncOneCmd(),
			pruneCmd(),
			serverCmd(),
		},
	}
}

// services bundles the explicit handles every mode needs. Nothing here
// is process-global.
type services struct {
	cfg    config.Config
	db     *database.DB
	logger *logrus.Logger
}

func setup() (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := logrus.New()

	if err := report.Init(cfg); err != nil {
		logger.WithError(err).Warn("Error reporting disabled")
	}

	db, err := database.NewDB(cfg.DBPath, database.DefaultConfig())
	if err != nil {
		return nil, err
	}

	return &services{cfg: cfg, db: db, logger: logger}, nil
}

func (s *services) close() {
	s.db.Close()
	report.Flush()
}

// fatal reports an invocation-fatal error and hands it back to the CLI
// for a non-zero exit.
func fatal(err error) error {
	report.Error(err)
	return err
}

func syncAllCmd() *cli.Command {
	return &cli.Command{
		Name:  "sync-all",
		Usage: "Run the sync pipeline over every known feed, then exit",
		Action: func(ctx *cli.Context) error {
			svc, err := setup()
			if err != nil {
				return err
			}
			defer svc.close()

			syncer := feed.NewSyncer(svc.db, svc.logger)
			if _, err := syncer.SyncAll(ctx.Context); err != nil {
				return fatal(err)
			}
			return nil
		},
	}
}

func syncOneCmd() *cli.Command {
	return &cli.Command{
		Name:      "sync-one",
		Usage:     "Run the sync pipeline over exactly one feed, then exit",
		ArgsUsage: "<feedId>",
		Action: func(ctx *cli.Context) error {
			feedID := ctx.Args().First()
			if feedID == "" {
				return fmt.Errorf("feed id argument required")
			}

			svc, err := setup()
			if err != nil {
				return err
			}
			defer svc.close()

			syncer := feed.NewSyncer(svc.db, svc.logger)
			if _, err := syncer.SyncOne(ctx.Context, feedID); err != nil {
				return fatal(err)
			}
			return nil
		},
	}
}

func pruneCmd() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete unclaimed items past the retention window, then exit",
		Action: func(ctx *cli.Context) error {
			svc, err := setup()
			if err != nil {
				return err
			}
			defer svc.close()

			pruner := prune.NewPruner(svc.db, svc.logger)
			if _, err := pruner.Run(ctx.Context); err != nil {
				return fatal(err)
			}
			return nil
		},
	}
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Start the long-lived trigger HTTP listener",
		Action: func(ctx *cli.Context) error {
			svc, err := setup()
			if err != nil {
				return err
			}
			defer svc.close()

			if svc.cfg.Key == "" {
				return fmt.Errorf("FEEDIE_KEY must be set in server mode")
			}

			syncer := feed.NewSyncer(svc.db, svc.logger)
			pruner := prune.NewPruner(svc.db, svc.logger)
			srv := server.New(syncer, pruner, svc.cfg.Key, svc.logger)
			return srv.Start(svc.cfg.Address())
		},
	}
}
