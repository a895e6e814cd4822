package bandwidth

import (
	"context"
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/peerdash/peerdash/pkg/storage"
)

// SpeedAvg holds per-client-type average speeds within one bucket.
type SpeedAvg struct {
	AvgUploadSpeed   float64 `json:"avg_upload_speed"`
	AvgDownloadSpeed float64 `json:"avg_download_speed"`
}

// TransferDelta holds per-client-type net bytes transferred within one
// bucket.
type TransferDelta struct {
	Uploaded   float64 `json:"uploaded"`
	Downloaded float64 `json:"downloaded"`
}

// Bucket is one fixed-width time window of aggregated samples, left-aligned
// to a multiple of the bucket size. Maps are keyed by client type; a type
// with no samples in the window is simply absent rather than zero-filled.
type Bucket struct {
	Start  int64                    `json:"start"`
	Speeds map[string]SpeedAvg      `json:"speeds"`
	Deltas map[string]TransferDelta `json:"deltas"`
}

// Aggregate answers the dashboard's chart query: per-bucket average speeds
// and net bytes transferred, grouped by client type, over [start, end].
// instanceIDs restricts the aggregation to a subset of instances; nil means
// all. Buckets come back ordered by start time.
//
// Net bytes cannot be computed from a cross-instance sum of cumulative
// totals: the moment one instance stops reporting, the sum drops and the
// apparent delta goes negative even though nothing was transferred. So the
// delta pass works per (instance, bucket) first and only then sums across
// instances of the same client type. An instance that disappears mid-range
// just stops contributing.
func (e *Engine) Aggregate(ctx context.Context, start, end, bucketMs int64, instanceIDs []string) ([]Bucket, error) {
	if bucketMs <= 0 {
		return nil, fmt.Errorf("bucket size must be positive, got %d", bucketMs)
	}
	if end < start {
		return nil, fmt.Errorf("invalid range: end %d before start %d", end, start)
	}

	samples, err := e.store.QuerySamples(ctx, storage.QueryRequest{
		Start:       start,
		End:         end,
		InstanceIDs: instanceIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate query failed: %w", err)
	}

	// Pass 1: instantaneous speeds. Sum across instances of a client type
	// at each timestamp (speed is not cumulative, so summing is safe),
	// then average those per-timestamp sums within each bucket.
	type tsGroup struct {
		ts int64
		ct string
	}
	type upDown struct {
		up, down float64
	}
	speedSums := make(map[tsGroup]*upDown)
	for _, sm := range samples {
		key := tsGroup{ts: sm.Timestamp, ct: sm.ClientType}
		sums, ok := speedSums[key]
		if !ok {
			sums = &upDown{}
			speedSums[key] = sums
		}
		sums.up += sm.UploadSpeed
		sums.down += sm.DownloadSpeed
	}

	type bucketGroup struct {
		bucket int64
		ct     string
	}
	speedSeries := make(map[bucketGroup]*upDownSeries)
	for key, sums := range speedSums {
		bkey := bucketGroup{bucket: bucketStart(key.ts, bucketMs), ct: key.ct}
		series, ok := speedSeries[bkey]
		if !ok {
			series = &upDownSeries{}
			speedSeries[bkey] = series
		}
		series.up = append(series.up, sums.up)
		series.down = append(series.down, sums.down)
	}

	// Pass 2: net bytes. Track min/max effective totals per
	// (instance, bucket), take each instance's own delta, then sum the
	// deltas per client type. A minimum of exactly zero means the instance
	// had no reliable baseline yet this bucket, so its delta reports as
	// zero rather than max-0.
	type instBucket struct {
		id     string
		bucket int64
	}
	type extremes struct {
		ct               string
		minUp, maxUp     float64
		minDown, maxDown float64
	}
	totalsRange := make(map[instBucket]*extremes)
	for _, sm := range samples {
		key := instBucket{id: sm.InstanceID, bucket: bucketStart(sm.Timestamp, bucketMs)}
		ex, ok := totalsRange[key]
		if !ok {
			totalsRange[key] = &extremes{
				ct:      sm.ClientType,
				minUp:   sm.TotalUploaded,
				maxUp:   sm.TotalUploaded,
				minDown: sm.TotalDownloaded,
				maxDown: sm.TotalDownloaded,
			}
			continue
		}
		if sm.TotalUploaded < ex.minUp {
			ex.minUp = sm.TotalUploaded
		}
		if sm.TotalUploaded > ex.maxUp {
			ex.maxUp = sm.TotalUploaded
		}
		if sm.TotalDownloaded < ex.minDown {
			ex.minDown = sm.TotalDownloaded
		}
		if sm.TotalDownloaded > ex.maxDown {
			ex.maxDown = sm.TotalDownloaded
		}
	}

	deltaSums := make(map[bucketGroup]*TransferDelta)
	for key, ex := range totalsRange {
		bkey := bucketGroup{bucket: key.bucket, ct: ex.ct}
		delta, ok := deltaSums[bkey]
		if !ok {
			delta = &TransferDelta{}
			deltaSums[bkey] = delta
		}
		if ex.minUp > 0 {
			delta.Uploaded += ex.maxUp - ex.minUp
		}
		if ex.minDown > 0 {
			delta.Downloaded += ex.maxDown - ex.minDown
		}
	}

	// Join on bucket start. Output buckets are driven by the speed pass: a
	// bucket with delta rows but no speed rows is dropped, matching the
	// documented inner-join behavior of the query.
	byStart := make(map[int64]*Bucket)
	for bkey, series := range speedSeries {
		b, ok := byStart[bkey.bucket]
		if !ok {
			b = &Bucket{
				Start:  bkey.bucket,
				Speeds: make(map[string]SpeedAvg),
				Deltas: make(map[string]TransferDelta),
			}
			byStart[bkey.bucket] = b
		}
		avgUp, _ := stats.Mean(series.up)
		avgDown, _ := stats.Mean(series.down)
		b.Speeds[bkey.ct] = SpeedAvg{AvgUploadSpeed: avgUp, AvgDownloadSpeed: avgDown}
	}
	for bkey, delta := range deltaSums {
		if b, ok := byStart[bkey.bucket]; ok {
			b.Deltas[bkey.ct] = *delta
		}
	}

	buckets := make([]Bucket, 0, len(byStart))
	for _, b := range byStart {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Start < buckets[j].Start })

	return buckets, nil
}

type upDownSeries struct {
	up, down []float64
}

// bucketStart aligns a timestamp to its bucket's left edge. Integer floor
// division keeps bucket boundaries on a fixed grid regardless of where the
// query range starts.
func bucketStart(ts, bucketMs int64) int64 {
	return (ts / bucketMs) * bucketMs
}
