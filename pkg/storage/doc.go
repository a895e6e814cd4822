/*
Package storage provides the pluggable storage abstraction for peerdash
bandwidth samples and restart-tracking metadata.

Two backends implement the Storage interface:

  - memory: in-memory storage for testing and development
  - badger: BadgerDB (LSM tree + Snappy compression) for production

# Atomic ticks

An ingestion tick writes one sample per instance plus a handful of
restart-state metadata entries. Concurrent readers must never observe half
of a tick, so the interface exposes CommitTick rather than separate
sample/metadata writes: the badger backend applies the whole tick in a
single transaction, the memory backend under a single lock.

# Key layout (badger)

Sample keys are ordered by time so retention sweeps scan a prefix and stop
at the cutoff:

	's' | timestamp (8 bytes, big endian) | xxhash(instanceID) (8 bytes)

Metadata keys are plain strings under an 'm' prefix:

	'm' | "<instanceID>:<field>"

# Usage

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	err = store.CommitTick(ctx, storage.TickWrite{
	    Timestamp: now,
	    Samples:   corrected,
	    MetaPuts:  restartState,
	})

	samples, err := store.QuerySamples(ctx, storage.QueryRequest{
	    Start: now - 3600_000,
	    End:   now,
	})
*/
package storage
