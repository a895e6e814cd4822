package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/peerdash/peerdash/pkg/sample"
	"github.com/peerdash/peerdash/pkg/storage"
)

// rowKey identifies one sample row.
type rowKey struct {
	ts int64
	id string
}

// Storage stores samples and metadata in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	samples map[rowKey]sample.Sample
	meta    map[string]string
	mu      sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		samples: make(map[rowKey]sample.Sample, 4096),
		meta:    make(map[string]string),
	}
}

// CommitTick upserts the tick's samples and metadata under one lock
func (s *Storage) CommitTick(ctx context.Context, tick storage.TickWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sm := range tick.Samples {
		s.samples[rowKey{ts: sm.Timestamp, id: sm.InstanceID}] = sm
	}
	for k, v := range tick.MetaPuts {
		s.meta[k] = v
	}
	return nil
}

// QuerySamples retrieves samples matching the request, ordered by
// timestamp then instance ID
func (s *Storage) QuerySamples(ctx context.Context, req storage.QueryRequest) ([]sample.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []sample.Sample
	for key, sm := range s.samples {
		if key.ts < req.Start || key.ts > req.End {
			continue
		}
		if !req.WantsInstance(sm.InstanceID) {
			continue
		}
		if !req.WantsClientType(sm.ClientType) {
			continue
		}
		results = append(results, sm)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Timestamp != results[j].Timestamp {
			return results[i].Timestamp < results[j].Timestamp
		}
		return results[i].InstanceID < results[j].InstanceID
	})

	return results, nil
}

// DeleteSamplesBefore removes samples older than cutoff
func (s *Storage) DeleteSamplesBefore(ctx context.Context, cutoff int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.samples {
		if key.ts < cutoff {
			delete(s.samples, key)
			removed++
		}
	}
	return removed, nil
}

// ReassignInstance moves all rows recorded under oldID to newID
func (s *Storage) ReassignInstance(ctx context.Context, oldID, newID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	for key, sm := range s.samples {
		if key.id != oldID {
			continue
		}
		delete(s.samples, key)
		sm.InstanceID = newID
		s.samples[rowKey{ts: key.ts, id: newID}] = sm
		moved++
	}
	return moved, nil
}

// GetMeta returns the value for a metadata key, or "" if absent
func (s *Storage) GetMeta(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta[key], nil
}

// ScanMeta returns all metadata entries with the given key prefix
func (s *Storage) ScanMeta(ctx context.Context, prefix string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	for k, v := range s.meta {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

// ApplyMeta applies metadata puts and deletes under one lock
func (s *Storage) ApplyMeta(ctx context.Context, puts map[string]string, deletes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range puts {
		s.meta[k] = v
	}
	for _, k := range deletes {
		delete(s.meta, k)
	}
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalSamples: uint64(len(s.samples)),
		MetaEntries:  uint64(len(s.meta)),
	}
	if len(s.samples) == 0 {
		return stats, nil
	}

	instances := make(map[string]bool)
	first := true
	for key := range s.samples {
		instances[key.id] = true
		if first {
			stats.OldestSample = key.ts
			stats.NewestSample = key.ts
			first = false
			continue
		}
		if key.ts < stats.OldestSample {
			stats.OldestSample = key.ts
		}
		if key.ts > stats.NewestSample {
			stats.NewestSample = key.ts
		}
	}
	stats.TotalInstances = uint64(len(instances))

	return stats, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}
