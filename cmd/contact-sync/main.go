package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/contact-sync/internal/app"
	"github.com/ignite/contact-sync/internal/config"
	"github.com/ignite/contact-sync/internal/contactsync"
	"github.com/ignite/contact-sync/internal/pkg/distlock"
	"github.com/ignite/contact-sync/internal/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config.yaml")
	runID := flag.String("run-id", "", "resume the checkpointed run with this id, skipping source records it already handled")
	noLock := flag.Bool("no-lock", false, "run without taking the list lock")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 2
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())
	log := logger.Default().With("component", "contact-sync")

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := app.Build(ctx, cfg, *runID, app.Deps{}, log)
	if err != nil {
		log.Error("failed to start session", "error", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil {
			log.Error("failed to close session", "error", err)
		}
	}()
	log = log.With("run_id", sess.RunID)

	if !*noLock {
		release, lost, err := sess.Lock(ctx)
		switch {
		case errors.Is(err, distlock.ErrHeld):
			log.Error("another sync is running for this list", "list", cfg.Sync.ListName)
			return 1
		case errors.Is(err, distlock.ErrNoBackend):
			log.Warn("no lock backend configured, running unlocked")
		case err != nil:
			log.Error("failed to take run lock", "error", err)
			return 1
		default:
			defer release()
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(ctx)
			defer cancel()
			go func() {
				select {
				case err := <-lost:
					log.Error("run lock lost, stopping", "error", err)
					cancel()
				case <-ctx.Done():
				}
			}()
		}
	}

	src, err := sess.OpenSource(ctx)
	if err != nil {
		log.Error("failed to open source", "error", err)
		return 1
	}
	defer src.Close()

	start := time.Now()
	batches, err := sess.Run(ctx, src)
	state := sess.Engine.Checkpoint()
	fields := []interface{}{
		"batches", batches,
		"list_id", state.ListID,
		"processed", state.Processed,
		"succeeded", state.Succeeded,
		"failed", state.Failed,
		"lost_sub_batches", len(state.LostBatches),
		"duration", time.Since(start).Round(time.Millisecond).String(),
	}

	sumCtx, sumCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer sumCancel()
	if sum, serr := sess.StoredSummary(sumCtx); serr != nil {
		log.Warn("failed to summarize stored outcomes", "error", serr)
	} else if sum != nil {
		fields = append(fields,
			"stored_succeeded", sum.Succeeded,
			"stored_failed", sum.Failed,
			"stored_by_error_code", sum.ByErrorCode)
	}

	switch {
	case err == nil:
		log.Info("sync complete", fields...)
		return 0
	case contactsync.IsFatal(err):
		log.Error("sync aborted", append(fields, "error", err)...)
		return 1
	default:
		log.Error("sync failed", append(fields, "error", err)...)
		return 1
	}
}
