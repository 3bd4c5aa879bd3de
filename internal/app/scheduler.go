package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/syncengine"
)

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run is the daemon: it marks abandoned runs failed, then keeps every
// configured object type in sync, reconciles edits in both directions and
// sweeps expired locks until a signal arrives or ctx is cancelled.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "object_types", app.config.ObjectTypes)

	app.initSignalHandler(cancelFunc)

	if n, err := app.engine.DemoteStale(ctx, app.config.StaleLogAge); err != nil {
		app.logger.Error(ctx, "failed to demote stale runs", "error", err)
	} else if n > 0 {
		app.logger.Warn(ctx, "stale runs marked failed", "count", n)
	}

	var wg sync.WaitGroup

	if app.config.HealthAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.health.Run(ctx); err != nil {
				app.logger.Error(ctx, err.Error())
				cancelFunc()
			}
		}()
	}

	loops := []struct {
		interval time.Duration
		fn       func(context.Context)
	}{
		{app.config.SyncInterval, app.SyncAll},
		{app.config.ReconcileInterval, app.ReconcileAll},
		{app.config.LockSweepInterval, app.sweepLocks},
	}
	for _, l := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			every(ctx, l.interval, l.fn)
		}()
	}

	wg.Wait()
	app.logger.Info(ctx, "App stopped")
}

// every runs fn immediately and then on each tick. A non-positive interval
// disables the loop.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncAll runs one sync per object type, one after another. A type with a
// pending checkpoint resumes its interrupted full sync instead.
func (app *App) SyncAll(ctx context.Context) {
	for _, ot := range app.config.ObjectTypes {
		if ctx.Err() != nil {
			return
		}
		res, err := app.syncOne(ctx, ot)
		app.health.set(ServiceName(ot), err == nil)
		if err != nil {
			app.logger.Error(ctx, "sync failed", "object_type", ot, "error", err)
			continue
		}
		app.logger.Info(ctx, "sync finished", "object_type", ot,
			"processed", res.TotalProcessed, "errors", res.ErrorCount, "completed", res.IsCompleted)
	}
}

func (app *App) syncOne(ctx context.Context, objectType string) (*syncengine.Result, error) {
	cp, err := app.repos.Checkpoints(app.db).Get(ctx, objectType)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		return app.engine.RunFull(ctx, objectType, syncengine.FullOptions{Resume: true})
	}
	return app.engine.RunIncremental(ctx, objectType)
}

// ReconcileAll pushes queued local edits, then pulls remote changes, for
// every object type.
func (app *App) ReconcileAll(ctx context.Context) {
	for _, ot := range app.config.ObjectTypes {
		if ctx.Err() != nil {
			return
		}
		push, err := app.reconciler.SyncLocalToRemote(ctx, ot)
		if err != nil {
			app.logger.Error(ctx, "local to remote failed", "object_type", ot, "error", err)
		} else if push.Rows > 0 {
			app.logger.Info(ctx, "local edits pushed", "object_type", ot,
				"pushed", push.Pushed, "skipped", push.Skipped, "conflicts", push.Conflicts)
		}

		pull, err := app.reconciler.SyncRemoteToLocal(ctx, ot)
		if err != nil {
			app.logger.Error(ctx, "remote to local failed", "object_type", ot, "error", err)
		} else if pull.Fetched > 0 {
			app.logger.Info(ctx, "remote changes pulled", "object_type", ot,
				"inserted", pull.Inserted, "updated", pull.Updated, "conflicts", pull.Conflicts)
		}
	}
}

func (app *App) sweepLocks(ctx context.Context) {
	n, err := app.locks.CleanupExpiredLocks(ctx)
	if err != nil {
		app.logger.Error(ctx, "lock sweep failed", "error", err)
		return
	}
	if n > 0 {
		app.logger.Info(ctx, "expired locks released", "count", n)
	}
}
