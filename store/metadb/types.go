// Package metadb records published artifacts, cache hits and hash
// rejections in a bbolt database. The store's files remain the source of
// truth; the index only feeds statistics and diagnostics.
package metadb

import "time"

// Entry describes a published store file.
type Entry struct {
	Key        string    `json:"key"`
	Policy     string    `json:"policy"`
	Repository string    `json:"repository"`
	Size       int64     `json:"size"`
	SHA1       string    `json:"sha1,omitempty"`
	BLAKE3     string    `json:"blake3,omitempty"`
	CachedAt   time.Time `json:"cached_at"`
	LastAccess time.Time `json:"last_access"`
	Hits       int64     `json:"hits"`
}

// Rejection describes content that failed verification and was not
// published.
type Rejection struct {
	Key        string    `json:"key"`
	Policy     string    `json:"policy"`
	Repository string    `json:"repository"`
	Expected   string    `json:"expected"`
	Actual     string    `json:"actual"`
	At         time.Time `json:"at"`
	Count      int64     `json:"count"`
}

// Stats summarises the index.
type Stats struct {
	Entries    int64            `json:"entries"`
	TotalSize  int64            `json:"total_size"`
	Hits       int64            `json:"hits"`
	Rejections int64            `json:"rejections"`
	ByPolicy   map[string]int64 `json:"by_policy"`
}
