package feedcache

import (
	"context"
	"sync"

	"social-feed/server/internal/model"
	"social-feed/server/internal/pagination"
)

// Cache is the per-session store behind FeedCache and InfoCache. It is
// created once, opened for a viewer at login and cleared at logout. All
// reads and writes take one lock, so every next state is derived from the
// snapshot read in the same critical section.
type Cache struct {
	mu     sync.Mutex
	viewer string
	feeds  map[Key]*feedEntry
	infos  map[Key]*infoEntry
}

func New() *Cache {
	return &Cache{
		feeds: make(map[Key]*feedEntry),
		infos: make(map[Key]*infoEntry),
	}
}

// Open binds the cache to viewerID. Switching viewers drops everything
// cached for the previous one.
func (c *Cache) Open(viewerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.viewer != viewerID {
		c.resetLocked()
	}
	c.viewer = viewerID
}

// Clear drops every partition, cancels in-flight reads and forgets the viewer.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.viewer = ""
}

func (c *Cache) Viewer() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewer, c.viewer != ""
}

// CancelReads aborts in-flight fetches of matched partitions. Their
// responses are discarded when they arrive.
func (c *Cache) CancelReads(match Matcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelReadsLocked(match)
}

func (c *Cache) cancelReadsLocked(match Matcher) {
	for key, entry := range c.feeds {
		if match(key) {
			entry.reads.cancel()
		}
	}
	for key, entry := range c.infos {
		if match(key) {
			entry.reads.cancel()
		}
	}
}

func (c *Cache) resetLocked() {
	for _, entry := range c.feeds {
		entry.reads.cancel()
	}
	for _, entry := range c.infos {
		entry.reads.cancel()
	}
	c.feeds = make(map[Key]*feedEntry)
	c.infos = make(map[Key]*infoEntry)
}

// flight is one outstanding fetch. done closes once its result has been
// applied or discarded. joined counts the callers waiting on it; abandoned
// is set when the caller that started it went away before a response.
type flight struct {
	cancel    context.CancelFunc
	done      chan struct{}
	joined    int
	abandoned bool
}

// reads tracks fetches for one entry. generation changes whenever a fetch is
// cancelled, so a response started under an older generation is dropped.
type reads struct {
	generation uint64
	inflight   *flight
}

func (r *reads) start(ctx context.Context) (context.Context, *flight, uint64) {
	fetchCtx, cancel := context.WithCancel(ctx)
	f := &flight{cancel: cancel, done: make(chan struct{})}
	r.inflight = f
	return fetchCtx, f, r.generation
}

func (r *reads) cancel() {
	r.generation++
	if r.inflight != nil {
		r.inflight.cancel()
		r.inflight = nil
	}
}

func (r *reads) finish(f *flight, generation uint64) bool {
	if r.generation != generation {
		return false
	}
	if r.inflight == f {
		r.inflight = nil
	}
	return true
}

type feedEntry struct {
	pages      []pagination.Page[model.Post]
	pageParams []string
	stale      bool
	err        error
	reads      reads
}

type infoEntry struct {
	value  model.RelationInfo
	loaded bool
	stale  bool
	reads  reads
}
