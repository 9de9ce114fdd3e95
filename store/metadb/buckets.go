package metadb

import (
	"encoding/binary"
	"time"
)

// Bucket names for bbolt storage.
var (
	bucketEntries       = []byte("entries")         // key -> Entry JSON
	bucketEntriesByTime = []byte("entries_by_time") // timestamp+key -> key
	bucketRejections    = []byte("rejections")      // key -> Rejection JSON
)

// encodeTimestamp converts a time.Time to a fixed-width big-endian byte slice.
// This ensures correct lexicographic ordering for time-based indexes.
// Uses an offset to handle negative nanosecond values (pre-1970 dates).
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	ns := t.UnixNano()
	binary.BigEndian.PutUint64(buf, uint64(ns-(-1<<63))) //nolint:gosec // intentional signed->unsigned shift
	return buf
}

// makeTimeKey creates a key for the entries_by_time index.
// Format: [8-byte timestamp][key]
func makeTimeKey(t time.Time, key string) []byte {
	ts := encodeTimestamp(t)
	result := make([]byte, 8+len(key))
	copy(result[:8], ts)
	copy(result[8:], key)
	return result
}
