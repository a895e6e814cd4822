package storage

import (
	"context"

	"github.com/peerdash/peerdash/pkg/sample"
)

// Storage defines the interface for bandwidth storage backends.
// Implementations: memory (testing), badger (production).
//
// Two logical tables live behind one interface: the sample table keyed by
// (timestamp, instance) and a small string-keyed metadata table holding
// restart-tracking state and other persistent flags. Keeping both behind
// one handle lets CommitTick apply a whole ingestion tick atomically.
type Storage interface {
	// CommitTick upserts a tick's samples and metadata updates as one
	// atomic unit. Re-committing the same tick overwrites rather than
	// duplicates.
	CommitTick(ctx context.Context, tick TickWrite) error

	// QuerySamples retrieves samples within a time range, ordered by
	// timestamp ascending (ties broken by instance ID).
	QuerySamples(ctx context.Context, req QueryRequest) ([]sample.Sample, error)

	// DeleteSamplesBefore removes samples older than cutoff (ms epoch)
	// and returns the number of rows removed.
	DeleteSamplesBefore(ctx context.Context, cutoff int64) (int, error)

	// ReassignInstance rewrites all samples recorded under oldID to carry
	// newID, returning the number of rows moved. Used by the legacy
	// adoption bridge; a no-op when no rows match.
	ReassignInstance(ctx context.Context, oldID, newID string) (int, error)

	// GetMeta returns the value for a metadata key, or "" if absent.
	GetMeta(ctx context.Context, key string) (string, error)

	// ScanMeta returns all metadata entries whose key starts with prefix.
	ScanMeta(ctx context.Context, prefix string) (map[string]string, error)

	// ApplyMeta atomically applies metadata puts and deletes.
	ApplyMeta(ctx context.Context, puts map[string]string, deletes []string) error

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage.
	Close() error
}

// TickWrite is one ingestion tick's worth of writes.
type TickWrite struct {
	// Timestamp of the tick in ms epoch. Every sample carries it too;
	// it is duplicated here for logging and validation.
	Timestamp int64

	// Samples to upsert, one per instance, already restart-corrected.
	Samples []sample.Sample

	// MetaPuts are the restart-state updates that belong to this tick.
	MetaPuts map[string]string
}

// QueryRequest specifies which samples to retrieve.
type QueryRequest struct {
	// Time range in ms epoch, inclusive on both ends.
	Start int64
	End   int64

	// Restrict to these instance IDs (optional, nil = all).
	InstanceIDs []string

	// Restrict to these client types (optional, nil = all).
	ClientTypes []string
}

// WantsInstance reports whether the request's instance filter admits id.
func (r QueryRequest) WantsInstance(id string) bool {
	if len(r.InstanceIDs) == 0 {
		return true
	}
	for _, want := range r.InstanceIDs {
		if want == id {
			return true
		}
	}
	return false
}

// WantsClientType reports whether the request's type filter admits ct.
func (r QueryRequest) WantsClientType(ct string) bool {
	if len(r.ClientTypes) == 0 {
		return true
	}
	for _, want := range r.ClientTypes {
		if want == ct {
			return true
		}
	}
	return false
}

// Stats provides storage health and usage info.
type Stats struct {
	// Total samples stored
	TotalSamples uint64

	// Distinct instance IDs observed
	TotalInstances uint64

	// Metadata entries stored
	MetaEntries uint64

	// Oldest and newest sample timestamps (ms epoch, 0 when empty)
	OldestSample int64
	NewestSample int64
}
