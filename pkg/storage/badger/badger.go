package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/peerdash/peerdash/pkg/sample"
	"github.com/peerdash/peerdash/pkg/storage"
)

// Key prefixes for the two logical tables sharing one DB.
var (
	samplePrefix = []byte{'s'}
	metaPrefix   = []byte{'m'}
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly
	// defaults). Recommended: 64-128 MB for local dev.
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// BadgerDB defaults are sized for servers (320+ MB). A bandwidth
	// dashboard on a NAS or laptop needs far less; 16 MB memtable is the
	// floor below which flushes get excessive.
	var memTableSize int64
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	} else {
		memTableSize = 16 * 1024 * 1024
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// CommitTick applies a tick's samples and metadata in one transaction.
// Readers either see the whole tick or none of it.
func (s *Storage) CommitTick(ctx context.Context, tick storage.TickWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for _, sm := range tick.Samples {
				value, err := encodeSample(sm)
				if err != nil {
					return fmt.Errorf("failed to encode sample: %w", err)
				}
				if err := txn.Set(sampleKey(sm.Timestamp, sm.InstanceID), value); err != nil {
					return fmt.Errorf("failed to write sample: %w", err)
				}
			}
			for k, v := range tick.MetaPuts {
				if err := txn.Set(metaKey(k), []byte(v)); err != nil {
					return fmt.Errorf("failed to write meta: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("tick commit cancelled: %w", ctx.Err())
	}
}

// QuerySamples retrieves samples matching the request.
// Sample keys sort by timestamp, so the scan seeks to Start and stops past
// End instead of walking the whole table.
func (s *Storage) QuerySamples(ctx context.Context, req storage.QueryRequest) ([]sample.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		results []sample.Sample
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			opts.Prefix = samplePrefix

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			seek := sampleKeyLowerBound(req.Start)

			for it.Seek(seek); it.ValidForPrefix(samplePrefix); it.Next() {
				iterCount++
				// Check for cancellation every 1000 iterations so large
				// range scans stay abandonable.
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				ts := timestampFromKey(item.Key())
				if ts > req.End {
					break
				}

				err := item.Value(func(val []byte) error {
					sm, err := decodeSample(val)
					if err != nil {
						return err
					}
					if !req.WantsInstance(sm.InstanceID) || !req.WantsClientType(sm.ClientType) {
						return nil
					}
					res.results = append(res.results, sm)
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.results, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query cancelled: %w", ctx.Err())
	}
}

// DeleteSamplesBefore removes samples older than cutoff and returns the
// count removed. Keys are time-ordered, so the scan ends at the cutoff.
func (s *Storage) DeleteSamplesBefore(ctx context.Context, cutoff int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	type deleteResult struct {
		removed int
		err     error
	}
	done := make(chan deleteResult, 1)

	go func() {
		var res deleteResult
		res.err = s.db.Update(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.PrefetchValues = false
			iterOpts.Prefix = samplePrefix

			it := txn.NewIterator(iterOpts)
			defer it.Close()

			var keysToDelete [][]byte
			var iterCount int

			for it.Rewind(); it.ValidForPrefix(samplePrefix); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				if timestampFromKey(item.Key()) >= cutoff {
					break
				}
				keysToDelete = append(keysToDelete, item.KeyCopy(nil))
			}

			for _, key := range keysToDelete {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			res.removed = len(keysToDelete)
			return nil
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.removed, res.err
	case <-ctx.Done():
		return 0, fmt.Errorf("delete cancelled: %w", ctx.Err())
	}
}

// ReassignInstance rewrites rows recorded under oldID to carry newID.
// The instance hash is part of the key, so each row is rewritten under a
// new key and the old key dropped.
func (s *Storage) ReassignInstance(ctx context.Context, oldID, newID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	type moveResult struct {
		moved int
		err   error
	}
	done := make(chan moveResult, 1)

	go func() {
		var res moveResult
		res.err = s.db.Update(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = samplePrefix

			it := txn.NewIterator(opts)
			defer it.Close()

			type rewrite struct {
				oldKey []byte
				sm     sample.Sample
			}
			var rewrites []rewrite
			var iterCount int

			for it.Rewind(); it.ValidForPrefix(samplePrefix); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				err := item.Value(func(val []byte) error {
					sm, err := decodeSample(val)
					if err != nil {
						return err
					}
					if sm.InstanceID != oldID {
						return nil
					}
					rewrites = append(rewrites, rewrite{oldKey: item.KeyCopy(nil), sm: sm})
					return nil
				})
				if err != nil {
					return err
				}
			}

			for _, rw := range rewrites {
				rw.sm.InstanceID = newID
				value, err := encodeSample(rw.sm)
				if err != nil {
					return err
				}
				if err := txn.Set(sampleKey(rw.sm.Timestamp, newID), value); err != nil {
					return err
				}
				if err := txn.Delete(rw.oldKey); err != nil {
					return err
				}
			}
			res.moved = len(rewrites)
			return nil
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.moved, res.err
	case <-ctx.Done():
		return 0, fmt.Errorf("reassign cancelled: %w", ctx.Err())
	}
}

// GetMeta returns the value for a metadata key, or "" if absent
func (s *Storage) GetMeta(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to read meta %q: %w", key, err)
	}
	return value, nil
}

// ScanMeta returns all metadata entries with the given key prefix
func (s *Storage) ScanMeta(ctx context.Context, prefix string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]string)
	fullPrefix := metaKey(prefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = fullPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(fullPrefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(metaPrefix):])
			err := item.Value(func(val []byte) error {
				out[key] = string(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan meta: %w", err)
	}
	return out, nil
}

// ApplyMeta atomically applies metadata puts and deletes
func (s *Storage) ApplyMeta(ctx context.Context, puts map[string]string, deletes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for k, v := range puts {
			if err := txn.Set(metaKey(k), []byte(v)); err != nil {
				return err
			}
		}
		for _, k := range deletes {
			if err := txn.Delete(metaKey(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}
	instances := make(map[string]bool)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = samplePrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.ValidForPrefix(samplePrefix); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			item := it.Item()
			ts := timestampFromKey(item.Key())
			if stats.TotalSamples == 0 || ts < stats.OldestSample {
				stats.OldestSample = ts
			}
			if ts > stats.NewestSample {
				stats.NewestSample = ts
			}
			stats.TotalSamples++

			err := item.Value(func(val []byte) error {
				sm, err := decodeSample(val)
				if err != nil {
					return err
				}
				instances[sm.InstanceID] = true
				return nil
			})
			if err != nil {
				return err
			}
		}

		metaOpts := badger.DefaultIteratorOptions
		metaOpts.PrefetchValues = false
		metaOpts.Prefix = metaPrefix

		mit := txn.NewIterator(metaOpts)
		defer mit.Close()
		for mit.Rewind(); mit.ValidForPrefix(metaPrefix); mit.Next() {
			stats.MetaEntries++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stats failed: %w", err)
	}

	stats.TotalInstances = uint64(len(instances))
	return stats, nil
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection to reclaim disk space
// from deleted samples. Returns badger's error when no rewrite was needed.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// sampleKey creates a time-ordered key: prefix + timestamp + instance hash.
// Format: ['s'][timestamp ms (8 bytes BE)][xxhash(instanceID) (8 bytes)]
func sampleKey(ts int64, instanceID string) []byte {
	key := make([]byte, 17)
	key[0] = 's'
	binary.BigEndian.PutUint64(key[1:9], uint64(ts))
	binary.BigEndian.PutUint64(key[9:17], xxhash.Sum64String(instanceID))
	return key
}

// sampleKeyLowerBound returns the smallest possible key at timestamp ts.
func sampleKeyLowerBound(ts int64) []byte {
	key := make([]byte, 9)
	key[0] = 's'
	binary.BigEndian.PutUint64(key[1:9], uint64(ts))
	return key
}

// timestampFromKey extracts the ms timestamp from a sample key.
func timestampFromKey(key []byte) int64 {
	if len(key) < 9 || !bytes.HasPrefix(key, samplePrefix) {
		return 0
	}
	return int64(binary.BigEndian.Uint64(key[1:9]))
}

func metaKey(key string) []byte {
	return append([]byte{'m'}, key...)
}

// encodeSample serializes a sample to bytes
func encodeSample(sm sample.Sample) ([]byte, error) {
	return json.Marshal(sm)
}

// decodeSample deserializes bytes to a sample
func decodeSample(data []byte) (sample.Sample, error) {
	var sm sample.Sample
	err := json.Unmarshal(data, &sm)
	return sm, err
}
