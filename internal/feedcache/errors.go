package feedcache

import "errors"

var (
	// ErrUnauthenticated is returned before any cache write when no viewer
	// session is open.
	ErrUnauthenticated = errors.New("feedcache: unauthenticated")
	// ErrNotFound reports that the target entity no longer exists server-side.
	ErrNotFound = errors.New("feedcache: not found")
	// ErrMutationInFlight rejects a second mutation on a key whose first one
	// has not settled.
	ErrMutationInFlight = errors.New("feedcache: mutation already in flight")
	// ErrNotCached is returned when a mutation targets a key with no snapshot.
	ErrNotCached = errors.New("feedcache: no snapshot cached")
)
