package metadb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("metadb: not found")

// BoltDB is the bbolt backed entry index.
type BoltDB struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
	noSync bool // disables fsync per transaction (for testing only)
}

// BoltDBOption configures a BoltDB instance.
type BoltDBOption func(*BoltDB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) BoltDBOption {
	return func(b *BoltDB) {
		b.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) BoltDBOption {
	return func(b *BoltDB) {
		b.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) BoltDBOption {
	return func(b *BoltDB) {
		b.noSync = noSync
	}
}

// NewBoltDB creates a new BoltDB instance with options.
func NewBoltDB(opts ...BoltDBOption) *BoltDB {
	b := &BoltDB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database at the given path.
func (b *BoltDB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	if err := b.createBuckets(); err != nil {
		_ = db.Close()
		return err
	}

	b.logger.Debug("opened metadb", "path", path, "noSync", b.noSync)
	return nil
}

func (b *BoltDB) createBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketEntriesByTime, bucketRejections} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database and releases resources.
func (b *BoltDB) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// PutEntry records a published file, replacing any previous record for
// the key. Hits carry over from the previous record.
func (b *BoltDB) PutEntry(_ context.Context, entry *Entry) error {
	if entry.Key == "" {
		return fmt.Errorf("entry key required")
	}
	now := b.now()
	if entry.CachedAt.IsZero() {
		entry.CachedAt = now
	}
	if entry.LastAccess.IsZero() {
		entry.LastAccess = entry.CachedAt
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		byTime := tx.Bucket(bucketEntriesByTime)

		if prev := entries.Get([]byte(entry.Key)); prev != nil {
			var old Entry
			if err := json.Unmarshal(prev, &old); err == nil {
				entry.Hits += old.Hits
				if err := byTime.Delete(makeTimeKey(old.CachedAt, old.Key)); err != nil {
					return fmt.Errorf("removing time index: %w", err)
				}
			}
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		if err := entries.Put([]byte(entry.Key), data); err != nil {
			return fmt.Errorf("putting entry: %w", err)
		}
		if err := byTime.Put(makeTimeKey(entry.CachedAt, entry.Key), []byte(entry.Key)); err != nil {
			return fmt.Errorf("putting time index: %w", err)
		}
		return nil
	})
}

// GetEntry returns the record for key.
func (b *BoltDB) GetEntry(_ context.Context, key string) (*Entry, error) {
	var entry Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketEntries).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// TouchEntry updates the last access time and increments the hit counter.
// It returns the new hit count, or ErrNotFound for unknown keys.
func (b *BoltDB) TouchEntry(_ context.Context, key string) (int64, error) {
	var hits int64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		val := bucket.Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}

		var entry Entry
		if err := json.Unmarshal(val, &entry); err != nil {
			return fmt.Errorf("unmarshaling entry: %w", err)
		}
		entry.LastAccess = b.now()
		entry.Hits++
		hits = entry.Hits

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
	return hits, err
}

// RecordRejection records that content for key failed verification.
// Repeated rejections for a key increment its count.
func (b *BoltDB) RecordRejection(_ context.Context, rej *Rejection) error {
	if rej.Key == "" {
		return fmt.Errorf("rejection key required")
	}
	if rej.At.IsZero() {
		rej.At = b.now()
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRejections)
		rej.Count = 1
		if prev := bucket.Get([]byte(rej.Key)); prev != nil {
			var old Rejection
			if err := json.Unmarshal(prev, &old); err == nil {
				rej.Count = old.Count + 1
			}
		}
		data, err := json.Marshal(rej)
		if err != nil {
			return fmt.Errorf("marshaling rejection: %w", err)
		}
		return bucket.Put([]byte(rej.Key), data)
	})
}

// GetRejection returns the latest rejection recorded for key.
func (b *BoltDB) GetRejection(_ context.Context, key string) (*Rejection, error) {
	var rej Rejection
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketRejections).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &rej)
	})
	if err != nil {
		return nil, err
	}
	return &rej, nil
}

// ListEntries returns entries whose key starts with prefix, ordered by key.
// A limit of zero or less returns every match.
func (b *BoltDB) ListEntries(_ context.Context, prefix string, limit int) ([]Entry, error) {
	var entries []Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue // Skip invalid entries
			}
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	return entries, err
}

// Recent returns up to limit entries, most recently cached first.
func (b *BoltDB) Recent(_ context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		byTime := tx.Bucket(bucketEntriesByTime)
		all := tx.Bucket(bucketEntries)
		c := byTime.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			val := all.Get(v)
			if val == nil {
				continue
			}
			var entry Entry
			if err := json.Unmarshal(val, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	return entries, err
}

// Stats returns aggregate counts over the index.
func (b *BoltDB) Stats(_ context.Context) (*Stats, error) {
	stats := &Stats{ByPolicy: make(map[string]int64)}
	err := b.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil // Skip invalid entries
			}
			stats.Entries++
			stats.TotalSize += entry.Size
			stats.Hits += entry.Hits
			stats.ByPolicy[policyOf(entry)]++
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRejections).ForEach(func(_, v []byte) error {
			var rej Rejection
			if err := json.Unmarshal(v, &rej); err != nil {
				return nil
			}
			stats.Rejections += rej.Count
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func policyOf(e Entry) string {
	if e.Policy != "" {
		return e.Policy
	}
	policy, _, _ := strings.Cut(e.Key, "/")
	return policy
}
