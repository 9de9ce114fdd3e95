package artifactcache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPolicy is returned when a request names a build policy that
	// is not configured.
	ErrUnknownPolicy = errors.New("unknown build policy")

	// ErrInvalidCoordinate is returned for coordinates that cannot be mapped
	// to a store path.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrTransport matches any RepositoryError.
	ErrTransport = errors.New("repository transport failure")
)

// RepositoryError reports a repository client failure other than an
// ordinary not-found. Fallback stops at the failing repository.
type RepositoryError struct {
	Repository string
	Err        error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Repository, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) true for every RepositoryError.
func (e *RepositoryError) Is(target error) bool {
	return target == ErrTransport
}

// HashMismatchError describes content that failed verification. It is
// logged and recorded but never returned to a caller, who still receives
// the fetched bytes.
type HashMismatchError struct {
	Key      string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: expected %s, got %s", e.Key, e.Expected, e.Actual)
}
