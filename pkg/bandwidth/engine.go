package bandwidth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/peerdash/peerdash/pkg/clients"
	"github.com/peerdash/peerdash/pkg/sample"
	"github.com/peerdash/peerdash/pkg/storage"
)

// Engine is the multi-instance bandwidth metrics engine: it records
// restart-corrected samples from every configured download-client instance
// and answers the time-bucketed aggregate queries behind the dashboard
// charts.
//
// Writers serialize on an internal mutex (one logical writer per tick);
// queries are read-only and run concurrently with ingestion.
type Engine struct {
	store   storage.Storage
	catalog *clients.Catalog

	writeMu sync.Mutex
}

// New creates an engine on top of a storage backend. The catalog is the
// client-type capability table; it decides which instances participate in
// restart correction and how traffic is grouped by network category.
func New(store storage.Storage, catalog *clients.Catalog) *Engine {
	return &Engine{store: store, catalog: catalog}
}

// RecordTick corrects and persists one ingestion tick. All samples and
// restart-state updates commit as a single atomic unit; re-recording the
// same tick overwrites the previous rows. Returns the corrected samples in
// input order.
//
// A malformed sample (missing IDs) is skipped with a warning and never
// blocks the rest of the batch.
func (e *Engine) RecordTick(ctx context.Context, ts int64, raws []sample.RawSample) ([]sample.Sample, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	valid := make([]sample.RawSample, 0, len(raws))
	for _, raw := range raws {
		if !raw.Valid() {
			zap.L().Warn("dropping malformed sample",
				zap.String("instance", raw.InstanceID),
				zap.String("client_type", raw.ClientType))
			continue
		}
		valid = append(valid, raw)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	// Corrections for distinct instances have no data dependency on each
	// other, so compute them concurrently and commit one batch.
	corrected := make([]sample.Sample, len(valid))
	metaParts := make([]map[string]string, len(valid))

	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range valid {
		i, raw := i, raw
		g.Go(func() error {
			sm, puts, err := e.correct(gctx, ts, raw)
			if err != nil {
				return err
			}
			corrected[i] = sm
			metaParts[i] = puts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("tick correction failed: %w", err)
	}

	tick := storage.TickWrite{
		Timestamp: ts,
		Samples:   corrected,
		MetaPuts:  make(map[string]string),
	}
	for _, puts := range metaParts {
		for k, v := range puts {
			tick.MetaPuts[k] = v
		}
	}

	if err := e.store.CommitTick(ctx, tick); err != nil {
		return nil, fmt.Errorf("tick commit failed: %w", err)
	}
	return corrected, nil
}

// Cleanup deletes samples older than the retention period and returns the
// number of rows removed.
func (e *Engine) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	removed, err := e.store.DeleteSamplesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep failed: %w", err)
	}
	if removed > 0 {
		zap.L().Info("retention sweep removed samples",
			zap.Int("rows", removed),
			zap.Int64("cutoff", cutoff))
	}
	return removed, nil
}
