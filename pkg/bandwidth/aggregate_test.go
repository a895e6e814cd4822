package bandwidth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerdash/peerdash/pkg/clients"
	"github.com/peerdash/peerdash/pkg/sample"
	"github.com/peerdash/peerdash/pkg/storage"
)

const bucketMs = int64(60_000)

// seed writes pre-corrected samples directly, bypassing the corrector, so
// aggregation tests control the stored totals exactly.
func seed(t *testing.T, store storage.Storage, samples ...sample.Sample) {
	t.Helper()
	err := store.CommitTick(context.Background(), storage.TickWrite{Samples: samples})
	require.NoError(t, err)
}

func btSample(ts int64, id string, speed, total float64) sample.Sample {
	return sample.Sample{
		Timestamp:       ts,
		InstanceID:      id,
		ClientType:      clients.TypeQBittorrent,
		UploadSpeed:     speed,
		DownloadSpeed:   speed * 2,
		TotalUploaded:   total,
		TotalDownloaded: total * 2,
	}
}

func TestAggregate_SpeedAveraging(t *testing.T) {
	engine, store := newTestEngine()
	seed(t, store,
		btSample(61_000, "bt-1", 10, 1000),
		btSample(61_000, "bt-2", 30, 5000),
		btSample(91_000, "bt-1", 20, 1200),
		btSample(91_000, "bt-2", 40, 5100),
	)

	buckets, err := engine.Aggregate(context.Background(), 0, 200_000, bucketMs, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 1)

	// Per-timestamp sums are 40 and 60; the bucket averages them.
	avg := buckets[0].Speeds[clients.TypeQBittorrent]
	require.Equal(t, float64(50), avg.AvgUploadSpeed)
	require.Equal(t, float64(100), avg.AvgDownloadSpeed)
}

func TestAggregate_ZeroBaselineDeltaPolicy(t *testing.T) {
	engine, store := newTestEngine()
	seed(t, store,
		btSample(61_000, "bt-1", 5, 0),
		btSample(71_000, "bt-1", 5, 0),
		btSample(81_000, "bt-1", 5, 300),
	)

	buckets, err := engine.Aggregate(context.Background(), 0, 200_000, bucketMs, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 1)

	// Minimum total in the bucket is 0, which means "no baseline yet":
	// the delta reports as 0, not 300.
	delta := buckets[0].Deltas[clients.TypeQBittorrent]
	require.Zero(t, delta.Uploaded)
	require.Zero(t, delta.Downloaded)
}

func TestAggregate_InstanceDisappearanceDoesNotCorruptDeltas(t *testing.T) {
	engine, store := newTestEngine()
	seed(t, store,
		// Bucket [60000, 120000): both instances report.
		btSample(61_000, "bt-1", 5, 1000),
		btSample(91_000, "bt-1", 5, 1500),
		btSample(61_000, "bt-2", 5, 5000),
		btSample(91_000, "bt-2", 5, 5200),
		// Bucket [120000, 180000): bt-2 has disconnected.
		btSample(121_000, "bt-1", 5, 1500),
		btSample(151_000, "bt-1", 5, 1800),
	)

	buckets, err := engine.Aggregate(context.Background(), 0, 200_000, bucketMs, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	require.Equal(t, int64(60_000), buckets[0].Start)
	require.Equal(t, float64(700), buckets[0].Deltas[clients.TypeQBittorrent].Uploaded)

	// bt-2's disappearance must not deflate the second bucket: only bt-1's
	// own delta counts.
	require.Equal(t, int64(120_000), buckets[1].Start)
	require.Equal(t, float64(300), buckets[1].Deltas[clients.TypeQBittorrent].Uploaded)
}

func TestAggregate_BucketGridIndependentOfQueryStart(t *testing.T) {
	engine, store := newTestEngine()
	seed(t, store,
		btSample(65_000, "bt-1", 10, 1000),
		btSample(95_000, "bt-1", 20, 1400),
	)

	a, err := engine.Aggregate(context.Background(), 60_000, 200_000, bucketMs, nil)
	require.NoError(t, err)
	b, err := engine.Aggregate(context.Background(), 63_000, 200_000, bucketMs, nil)
	require.NoError(t, err)

	// Same bucket grid regardless of where the range starts.
	require.Equal(t, a, b)
	require.Len(t, a, 1)
	require.Equal(t, int64(60_000), a[0].Start)
}

func TestAggregate_InstanceFilter(t *testing.T) {
	engine, store := newTestEngine()
	seed(t, store,
		btSample(61_000, "bt-1", 10, 1000),
		btSample(61_000, "bt-2", 90, 9000),
	)

	buckets, err := engine.Aggregate(context.Background(), 0, 200_000, bucketMs, []string{"bt-1"})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	require.Equal(t, float64(10), buckets[0].Speeds[clients.TypeQBittorrent].AvgUploadSpeed)
}

func TestAggregate_MixedClientTypesStaySeparate(t *testing.T) {
	engine, store := newTestEngine()
	seed(t, store,
		btSample(61_000, "bt-1", 10, 1000),
		btSample(91_000, "bt-1", 10, 1600),
		sample.Sample{
			Timestamp:       61_000,
			InstanceID:      "ed2k-1",
			ClientType:      clients.TypeAmule,
			UploadSpeed:     3,
			DownloadSpeed:   6,
			TotalUploaded:   200,
			TotalDownloaded: 400,
		},
		sample.Sample{
			Timestamp:       91_000,
			InstanceID:      "ed2k-1",
			ClientType:      clients.TypeAmule,
			UploadSpeed:     5,
			DownloadSpeed:   10,
			TotalUploaded:   260,
			TotalDownloaded: 520,
		},
	)

	buckets, err := engine.Aggregate(context.Background(), 0, 200_000, bucketMs, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 1)

	require.Equal(t, float64(600), buckets[0].Deltas[clients.TypeQBittorrent].Uploaded)
	require.Equal(t, float64(60), buckets[0].Deltas[clients.TypeAmule].Uploaded)
	require.Equal(t, float64(4), buckets[0].Speeds[clients.TypeAmule].AvgUploadSpeed)
}

func TestAggregate_EmptyRange(t *testing.T) {
	engine, _ := newTestEngine()

	buckets, err := engine.Aggregate(context.Background(), 0, 200_000, bucketMs, nil)
	require.NoError(t, err)
	require.Empty(t, buckets)
}

func TestAggregate_RejectsBadArguments(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.Aggregate(context.Background(), 0, 1000, 0, nil)
	require.Error(t, err)

	_, err = engine.Aggregate(context.Background(), 1000, 0, bucketMs, nil)
	require.Error(t, err)
}
