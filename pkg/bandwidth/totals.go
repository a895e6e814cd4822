package bandwidth

import (
	"context"
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/peerdash/peerdash/pkg/sample"
	"github.com/peerdash/peerdash/pkg/storage"
)

// UpDown is a pair of byte counts.
type UpDown struct {
	Up   float64 `json:"up"`
	Down float64 `json:"down"`
}

// RangeTotals is the net bytes transferred over a range, grouped by network
// category, plus the actual span of data found.
type RangeTotals struct {
	FirstTimestamp int64             `json:"first_timestamp"`
	LastTimestamp  int64             `json:"last_timestamp"`
	Categories     map[string]UpDown `json:"categories"`
}

// Peak is the maximum instantaneous combined speed seen in a range.
type Peak struct {
	PeakUploadSpeed   float64 `json:"peak_upload_speed"`
	PeakDownloadSpeed float64 `json:"peak_download_speed"`
}

// PeakResult holds overall, per-category and per-client-type peaks.
type PeakResult struct {
	Overall     Peak            `json:"overall"`
	Categories  map[string]Peak `json:"categories"`
	ClientTypes map[string]Peak `json:"client_types"`
}

// Totals computes net bytes transferred per network category across
// [start, end] using only each instance's first and last sample. A counter
// that decreased between the two (an external reset the corrector never
// saw) contributes zero, never a negative.
//
// An empty range yields a zeroed result, not an error.
func (e *Engine) Totals(ctx context.Context, start, end int64, instanceIDs []string) (*RangeTotals, error) {
	samples, err := e.store.QuerySamples(ctx, storage.QueryRequest{
		Start:       start,
		End:         end,
		InstanceIDs: instanceIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("totals query failed: %w", err)
	}

	result := &RangeTotals{Categories: make(map[string]UpDown)}

	// Samples arrive ordered by timestamp, so the first one seen per
	// instance is its earliest and the latest overwrites as we go.
	type span struct {
		first, last sample.Sample
	}
	spans := make(map[string]*span)
	for _, sm := range samples {
		sp, ok := spans[sm.InstanceID]
		if !ok {
			spans[sm.InstanceID] = &span{first: sm, last: sm}
			continue
		}
		sp.last = sm
	}

	for _, sp := range spans {
		up := sp.last.TotalUploaded - sp.first.TotalUploaded
		if up < 0 {
			up = 0
		}
		down := sp.last.TotalDownloaded - sp.first.TotalDownloaded
		if down < 0 {
			down = 0
		}

		category := e.catalog.Category(sp.first.ClientType)
		totals := result.Categories[category]
		totals.Up += up
		totals.Down += down
		result.Categories[category] = totals

		if result.FirstTimestamp == 0 || sp.first.Timestamp < result.FirstTimestamp {
			result.FirstTimestamp = sp.first.Timestamp
		}
		if sp.last.Timestamp > result.LastTimestamp {
			result.LastTimestamp = sp.last.Timestamp
		}
	}

	return result, nil
}

// PeakSpeeds finds the maximum instantaneous combined speed in [start, end]:
// speeds are summed across reporting instances at each timestamp, grouped
// by client type, rolled up per network category and overall, and the
// maximum per-timestamp sum wins — independently for upload and download.
func (e *Engine) PeakSpeeds(ctx context.Context, start, end int64, instanceIDs []string) (*PeakResult, error) {
	samples, err := e.store.QuerySamples(ctx, storage.QueryRequest{
		Start:       start,
		End:         end,
		InstanceIDs: instanceIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("peak query failed: %w", err)
	}

	result := &PeakResult{
		Categories:  make(map[string]Peak),
		ClientTypes: make(map[string]Peak),
	}
	if len(samples) == 0 {
		return result, nil
	}

	// Per-timestamp sums per client type.
	type tsGroup struct {
		ts int64
		ct string
	}
	type upDown struct {
		up, down float64
	}
	perType := make(map[tsGroup]*upDown)
	for _, sm := range samples {
		key := tsGroup{ts: sm.Timestamp, ct: sm.ClientType}
		sums, ok := perType[key]
		if !ok {
			sums = &upDown{}
			perType[key] = sums
		}
		sums.up += sm.UploadSpeed
		sums.down += sm.DownloadSpeed
	}

	// Roll up into per-category and overall sums per timestamp, then take
	// the maximum of each series.
	series := make(map[string]*upDownSeries)
	perCategory := make(map[tsGroup]*upDown)
	overall := make(map[int64]*upDown)
	for key, sums := range perType {
		typeSeries, ok := series["type:"+key.ct]
		if !ok {
			typeSeries = &upDownSeries{}
			series["type:"+key.ct] = typeSeries
		}
		typeSeries.up = append(typeSeries.up, sums.up)
		typeSeries.down = append(typeSeries.down, sums.down)

		catKey := tsGroup{ts: key.ts, ct: e.catalog.Category(key.ct)}
		catSums, ok := perCategory[catKey]
		if !ok {
			catSums = &upDown{}
			perCategory[catKey] = catSums
		}
		catSums.up += sums.up
		catSums.down += sums.down

		all, ok := overall[key.ts]
		if !ok {
			all = &upDown{}
			overall[key.ts] = all
		}
		all.up += sums.up
		all.down += sums.down
	}

	for key, sums := range perCategory {
		catSeries, ok := series["cat:"+key.ct]
		if !ok {
			catSeries = &upDownSeries{}
			series["cat:"+key.ct] = catSeries
		}
		catSeries.up = append(catSeries.up, sums.up)
		catSeries.down = append(catSeries.down, sums.down)
	}

	overallSeries := &upDownSeries{}
	for _, sums := range overall {
		overallSeries.up = append(overallSeries.up, sums.up)
		overallSeries.down = append(overallSeries.down, sums.down)
	}

	result.Overall = maxPeak(overallSeries)
	for name, s := range series {
		peak := maxPeak(s)
		switch {
		case len(name) > 5 && name[:5] == "type:":
			result.ClientTypes[name[5:]] = peak
		case len(name) > 4 && name[:4] == "cat:":
			result.Categories[name[4:]] = peak
		}
	}

	return result, nil
}

func maxPeak(s *upDownSeries) Peak {
	up, _ := stats.Max(s.up)
	down, _ := stats.Max(s.down)
	return Peak{PeakUploadSpeed: up, PeakDownloadSpeed: down}
}
