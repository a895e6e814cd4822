package config

import (
	"os"
	"time"

	"github.com/spf13/cast"
)

// Server defaults
const (
	DefaultPort          = "8090"
	DefaultDataDir       = "./data/peerdash"
	DefaultMaxMemoryMB   = 48
	DefaultMaxStorageGB  = 1
	DefaultRetentionDays = 30
)

// Query timeouts and limits
const (
	QueryTimeout       = 30 * time.Second
	IngestTimeout      = 5 * time.Second
	AdoptTimeout       = 30 * time.Second
	CleanupTimeout     = 2 * time.Minute
	DefaultBucketMs    = int64(60 * 1000)
	MinBucketMs        = int64(1000)
	MaxSamplesPerTick  = 256
	DefaultQueryWindow = time.Hour
	MaxQueryWindow     = 90 * 24 * time.Hour
)

// Background task schedules
const (
	RetentionCronSpec = "@hourly"
	BadgerGCInterval  = 10 * time.Minute
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
)

// GetEnvString reads a string environment variable with a default.
func GetEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvInt64 reads an int64 environment variable with a default. Values
// that fail to parse fall back to the default.
func GetEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := cast.ToInt64E(v)
	if err != nil {
		return def
	}
	return parsed
}

// GetEnvBool reads a boolean environment variable with a default.
func GetEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return parsed
}
