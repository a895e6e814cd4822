package badger

import (
	"context"
	"os"
	"testing"

	"github.com/peerdash/peerdash/pkg/sample"
	"github.com/peerdash/peerdash/pkg/storage"
)

func newTestStore(t *testing.T) *Storage {
	t.Helper()
	// Use in-memory mode for tests
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testSample(ts int64, id string, total float64) sample.Sample {
	return sample.Sample{
		Timestamp:       ts,
		InstanceID:      id,
		ClientType:      "qbittorrent",
		UploadSpeed:     10,
		DownloadSpeed:   20,
		TotalUploaded:   total,
		TotalDownloaded: total * 2,
	}
}

func TestBadgerStorage_CommitAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tick := storage.TickWrite{
		Timestamp: 2000,
		Samples: []sample.Sample{
			testSample(2000, "bt-1", 100),
			testSample(2000, "bt-2", 200),
		},
		MetaPuts: map[string]string{"bt-1:pid": "4242"},
	}
	if err := store.CommitTick(ctx, tick); err != nil {
		t.Fatalf("CommitTick failed: %v", err)
	}

	results, err := store.QuerySamples(ctx, storage.QueryRequest{Start: 0, End: 10_000})
	if err != nil {
		t.Fatalf("QuerySamples failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 samples, got %d", len(results))
	}

	v, err := store.GetMeta(ctx, "bt-1:pid")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if v != "4242" {
		t.Errorf("Expected meta value 4242, got %q", v)
	}
}

func TestBadgerStorage_UpsertSameRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tick := storage.TickWrite{Samples: []sample.Sample{testSample(1000, "bt-1", float64(100 * (i + 1)))}}
		if err := store.CommitTick(ctx, tick); err != nil {
			t.Fatalf("CommitTick failed: %v", err)
		}
	}

	results, err := store.QuerySamples(ctx, storage.QueryRequest{Start: 0, End: 10_000})
	if err != nil {
		t.Fatalf("QuerySamples failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 sample after upserts, got %d", len(results))
	}
	if results[0].TotalUploaded != 300 {
		t.Errorf("Expected last write to win (300), got %v", results[0].TotalUploaded)
	}
}

func TestBadgerStorage_RangeAndFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tick := storage.TickWrite{
		Samples: []sample.Sample{
			testSample(1000, "bt-1", 1),
			testSample(2000, "bt-1", 2),
			testSample(3000, "bt-2", 3),
			testSample(9000, "bt-1", 4),
		},
	}
	if err := store.CommitTick(ctx, tick); err != nil {
		t.Fatalf("CommitTick failed: %v", err)
	}

	results, err := store.QuerySamples(ctx, storage.QueryRequest{Start: 2000, End: 3000})
	if err != nil {
		t.Fatalf("QuerySamples failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 samples in [2000,3000], got %d", len(results))
	}

	results, err = store.QuerySamples(ctx, storage.QueryRequest{
		Start:       0,
		End:         10_000,
		InstanceIDs: []string{"bt-2"},
	})
	if err != nil {
		t.Fatalf("QuerySamples failed: %v", err)
	}
	if len(results) != 1 || results[0].InstanceID != "bt-2" {
		t.Errorf("Instance filter returned wrong rows: %+v", results)
	}
}

func TestBadgerStorage_DeleteSamplesBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tick := storage.TickWrite{
		Samples: []sample.Sample{
			testSample(1000, "bt-1", 1),
			testSample(2000, "bt-1", 2),
			testSample(3000, "bt-1", 3),
		},
	}
	if err := store.CommitTick(ctx, tick); err != nil {
		t.Fatalf("CommitTick failed: %v", err)
	}

	removed, err := store.DeleteSamplesBefore(ctx, 3000)
	if err != nil {
		t.Fatalf("DeleteSamplesBefore failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}

	results, err := store.QuerySamples(ctx, storage.QueryRequest{Start: 0, End: 10_000})
	if err != nil {
		t.Fatalf("QuerySamples failed: %v", err)
	}
	if len(results) != 1 || results[0].Timestamp != 3000 {
		t.Errorf("Expected only the 3000 sample to survive, got %+v", results)
	}
}

func TestBadgerStorage_ReassignInstance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tick := storage.TickWrite{
		Samples: []sample.Sample{
			testSample(1000, "qbittorrent", 1),
			testSample(2000, "qbittorrent", 2),
			testSample(1000, "bt-other", 9),
		},
	}
	if err := store.CommitTick(ctx, tick); err != nil {
		t.Fatalf("CommitTick failed: %v", err)
	}

	moved, err := store.ReassignInstance(ctx, "qbittorrent", "bt-1")
	if err != nil {
		t.Fatalf("ReassignInstance failed: %v", err)
	}
	if moved != 2 {
		t.Errorf("Expected 2 moved, got %d", moved)
	}

	results, err := store.QuerySamples(ctx, storage.QueryRequest{
		Start:       0,
		End:         10_000,
		InstanceIDs: []string{"bt-1"},
	})
	if err != nil {
		t.Fatalf("QuerySamples failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 reassigned rows, got %d", len(results))
	}

	results, err = store.QuerySamples(ctx, storage.QueryRequest{
		Start:       0,
		End:         10_000,
		InstanceIDs: []string{"qbittorrent"},
	})
	if err != nil {
		t.Fatalf("QuerySamples failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no rows under old ID, got %d", len(results))
	}
}

func TestBadgerStorage_MetaScanAndApply(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.ApplyMeta(ctx, map[string]string{
		"ed2k-1:pid":                  "100",
		"ed2k-1:accumulated_uploaded": "500",
		"bt-1:pid":                    "200",
	}, nil)
	if err != nil {
		t.Fatalf("ApplyMeta failed: %v", err)
	}

	entries, err := store.ScanMeta(ctx, "ed2k-1:")
	if err != nil {
		t.Fatalf("ScanMeta failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries for prefix, got %d", len(entries))
	}
	if entries["ed2k-1:pid"] != "100" {
		t.Errorf("Unexpected scan value: %+v", entries)
	}

	err = store.ApplyMeta(ctx, map[string]string{"ed2k-1:pid": "300"}, []string{"ed2k-1:accumulated_uploaded"})
	if err != nil {
		t.Fatalf("ApplyMeta failed: %v", err)
	}

	v, err := store.GetMeta(ctx, "ed2k-1:pid")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if v != "300" {
		t.Errorf("Expected updated pid 300, got %q", v)
	}
	v, err = store.GetMeta(ctx, "ed2k-1:accumulated_uploaded")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if v != "" {
		t.Errorf("Expected deleted key to read empty, got %q", v)
	}
}

func TestBadgerStorage_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tick := storage.TickWrite{
		Samples: []sample.Sample{
			testSample(1000, "bt-1", 1),
			testSample(2000, "bt-2", 2),
		},
		MetaPuts: map[string]string{"bt-1:pid": "1"},
	}
	if err := store.CommitTick(ctx, tick); err != nil {
		t.Fatalf("CommitTick failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalSamples != 2 {
		t.Errorf("Expected 2 samples, got %d", stats.TotalSamples)
	}
	if stats.TotalInstances != 2 {
		t.Errorf("Expected 2 instances, got %d", stats.TotalInstances)
	}
	if stats.MetaEntries != 1 {
		t.Errorf("Expected 1 meta entry, got %d", stats.MetaEntries)
	}
	if stats.OldestSample != 1000 || stats.NewestSample != 2000 {
		t.Errorf("Unexpected span: oldest=%d newest=%d", stats.OldestSample, stats.NewestSample)
	}
}

func TestBadgerStorage_Persistence(t *testing.T) {
	// Use temp directory for persistence test
	tmpDir, err := os.MkdirTemp("", "badger-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()

	// Write with the first instance
	{
		store, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		tick := storage.TickWrite{
			Samples:  []sample.Sample{testSample(1000, "bt-1", 42)},
			MetaPuts: map[string]string{"bt-1:pid": "777"},
		}
		if err := store.CommitTick(ctx, tick); err != nil {
			t.Fatalf("CommitTick failed: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	// Reopen and verify both tables survived
	store, err := New(Config{Path: tmpDir})
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer store.Close()

	results, err := store.QuerySamples(ctx, storage.QueryRequest{Start: 0, End: 10_000})
	if err != nil {
		t.Fatalf("QuerySamples failed: %v", err)
	}
	if len(results) != 1 || results[0].TotalUploaded != 42 {
		t.Errorf("Expected persisted sample, got %+v", results)
	}

	v, err := store.GetMeta(ctx, "bt-1:pid")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if v != "777" {
		t.Errorf("Expected persisted meta 777, got %q", v)
	}
}

func TestBadgerStorage_ContextCancellation(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.CommitTick(ctx, storage.TickWrite{}); err == nil {
		t.Error("Expected error from cancelled CommitTick")
	}
	if _, err := store.QuerySamples(ctx, storage.QueryRequest{End: 1000}); err == nil {
		t.Error("Expected error from cancelled QuerySamples")
	}
	if _, err := store.DeleteSamplesBefore(ctx, 1000); err == nil {
		t.Error("Expected error from cancelled DeleteSamplesBefore")
	}
}
