package server

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/peerdash/peerdash/pkg/bandwidth"
	"github.com/peerdash/peerdash/pkg/config"
	"github.com/peerdash/peerdash/pkg/server/monitor"
	"github.com/peerdash/peerdash/pkg/storage"
	"github.com/peerdash/peerdash/pkg/storage/badger"
)

// StartRetentionSweep schedules the hourly retention sweep on the given
// cron and runs one sweep immediately so a long-stopped server catches up.
func StartRetentionSweep(
	sched *cron.Cron,
	engine *bandwidth.Engine,
	sweepMonitor *monitor.SweepMonitor,
	retention time.Duration,
) error {
	runSweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.CleanupTimeout)
		defer cancel()

		start := time.Now()
		removed, err := engine.Cleanup(ctx, retention)
		if err != nil {
			sweepMonitor.RecordFailure(err)
			zap.L().Error("retention sweep failed", zap.Error(err))
			return
		}
		sweepMonitor.RecordSuccess(removed)
		zap.L().Info("retention sweep completed",
			zap.Int("rows", removed),
			zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	}

	if _, err := sched.AddFunc(config.RetentionCronSpec, runSweep); err != nil {
		return err
	}

	go runSweep()
	return nil
}

// RunBadgerGC runs BadgerDB value log garbage collection periodically to
// reclaim disk space from swept samples.
func RunBadgerGC(store storage.Storage, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		zap.L().Info("storage is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	zap.L().Info("BadgerDB GC scheduler started", zap.Duration("interval", config.BadgerGCInterval))

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Reclaim space when at least half of a value log file is garbage.
			err := badgerStore.RunGC(0.5)
			if err != nil {
				zap.L().Debug("GC completed, no rewrite needed",
					zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
			} else {
				zap.L().Info("GC completed, disk space reclaimed",
					zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
			}
		case <-stop:
			zap.L().Info("stopping BadgerDB GC scheduler")
			return
		}
	}
}
