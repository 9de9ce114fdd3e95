// Package telemetry records request tags, metrics and upstream timings
// for the artifact cache.
package telemetry

import (
	"context"
	"net/http"
)

type tagsKey struct{}

// CacheResult is the outcome reported for a request.
type CacheResult string

const (
	CacheHit      CacheResult = "hit"
	CacheMiss     CacheResult = "miss"
	CacheRejected CacheResult = "rejected"
	CacheBypass   CacheResult = "bypass"
)

// RequestTags is filled in by handlers and read by the logging middleware
// once the request completes.
type RequestTags struct {
	Policy      string
	CacheResult CacheResult
	Endpoint    string
	Repository  string
}

// InjectTags returns r carrying a fresh RequestTags. Requests that never
// reach a repository handler report CacheBypass.
func InjectTags(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), tagsKey{}, &RequestTags{CacheResult: CacheBypass}))
}

// GetTags returns the tags injected into r, or nil.
func GetTags(r *http.Request) *RequestTags {
	tags, _ := r.Context().Value(tagsKey{}).(*RequestTags)
	return tags
}

func update(r *http.Request, fn func(*RequestTags)) {
	if tags := GetTags(r); tags != nil {
		fn(tags)
	}
}

func SetCacheResult(r *http.Request, result CacheResult) {
	update(r, func(t *RequestTags) { t.CacheResult = result })
}

func SetPolicy(r *http.Request, policy string) {
	update(r, func(t *RequestTags) { t.Policy = policy })
}

// SetEndpoint names the kind of request: artifact, metadata or deploy.
func SetEndpoint(r *http.Request, endpoint string) {
	update(r, func(t *RequestTags) { t.Endpoint = endpoint })
}

// SetRepository records the repository that served the content.
func SetRepository(r *http.Request, repository string) {
	update(r, func(t *RequestTags) { t.Repository = repository })
}
