// Command mark is the marketplace listing unfurler. It watches Discord
// channels for marketplace links, replaces each linking message with a card
// describing the listing, and keeps a log of every delivery.
//
// Usage:
//
//	mark                      # config from env (.env honoured)
//	mark -config mark.yaml    # YAML config, env overrides on top
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/igaboo/mark/admin"
	"github.com/igaboo/mark/browser"
	"github.com/igaboo/mark/channels"
	"github.com/igaboo/mark/config"
	"github.com/igaboo/mark/dbopen"
	"github.com/igaboo/mark/delivery"
	"github.com/igaboo/mark/listing"
	"github.com/igaboo/mark/observability"
	"github.com/igaboo/mark/router"
)

const workerName = "mark"

func main() {
	configPath := flag.String("config", "", "path to mark.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate(true)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "mark:", err)
		os.Exit(2)
	}

	logger, closer, err := observability.NewLogger(cfg.Logging())
	if err != nil {
		fmt.Fprintln(os.Stderr, "mark:", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, logger, cfg)
	stop()
	if err != nil {
		logger.Error("mark: fatal", "error", err)
		closer.Close()
		os.Exit(1)
	}
	closer.Close()
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	db, err := dbopen.Open(cfg.Database.Path, dbopen.WithMkdirAll(), dbopen.WithInit(observability.Init))
	if err != nil {
		return fmt.Errorf("open delivery log: %w", err)
	}
	defer db.Close()

	dlog := observability.NewDeliveryLog(db, 256, observability.WithDeliveryLogger(logger))
	defer dlog.Close()

	bc := cfg.BrowserLaunch()
	bc.Logger = logger
	launcher, err := browser.New(bc)
	if err != nil {
		return err
	}
	builder := listing.NewBuilder(launcher,
		listing.WithLocators(cfg.Locators()),
		listing.WithFieldTimeout(cfg.Extraction.FieldTimeout),
		listing.WithLogger(logger),
	)
	matcher, err := listing.NewMatcher(cfg.Extraction.URLPattern)
	if err != nil {
		return err
	}

	discord, err := channels.NewDiscord(cfg.Discord, logger)
	if err != nil {
		return err
	}
	if err := discord.Open(); err != nil {
		return err
	}
	defer discord.Close()

	policy := cfg.RetryPolicy()
	policy.Logger = logger
	pipeline := delivery.New(discord, builder,
		delivery.WithRetries(*cfg.Delivery.Retries),
		delivery.WithCaptions(cfg.Delivery.Captions),
		delivery.WithPolicy(policy),
		delivery.WithRecorder(dlog),
		delivery.WithLogger(logger),
	)
	rt := router.New(discord, pipeline, matcher,
		router.WithPolicy(policy),
		router.WithLogger(logger),
	)

	hb := observability.NewHeartbeat(db, workerName,
		observability.WithCounters(rt),
		observability.WithHeartbeatLogger(logger),
	)
	go hb.Run(ctx)

	go retention(ctx, logger, dlog, db, cfg.Database.RetentionDays)

	if cfg.Admin.Addr != "" {
		srv := &http.Server{
			Addr: cfg.Admin.Addr,
			Handler: admin.New(
				admin.WithPlatform(discord),
				admin.WithCounter(rt),
				admin.WithDeliveryLog(dlog),
				admin.WithExtractor(builder, matcher),
				admin.WithHeartbeats(db, workerName),
				admin.WithLogger(logger),
			).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("mark: admin listening", "addr", cfg.Admin.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("mark: admin server", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	logger.Info("mark: running", "self", discord.Self(), "driver", bc.Driver)
	err = rt.Run(ctx, discord.Listen(ctx))
	logger.Info("mark: stopped", "handled", rt.Handled())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// retention prunes old delivery rows and heartbeats once at startup and
// then daily.
func retention(ctx context.Context, logger *slog.Logger, dlog *observability.DeliveryLog, db *sql.DB, days int) {
	prune := func() {
		n, err := dlog.Cleanup(ctx, days)
		if err != nil {
			logger.Error("mark: prune delivery log", "error", err)
		} else if n > 0 {
			logger.Info("mark: pruned delivery log", "rows", n)
		}
		if _, err := observability.CleanupHeartbeats(ctx, db, days); err != nil {
			logger.Error("mark: prune heartbeats", "error", err)
		}
	}
	prune()
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			prune()
		}
	}
}
