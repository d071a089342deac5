package feedcache

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"social-feed/server/internal/model"
	"social-feed/server/internal/pagination"
)

// PageFetcher loads one page of a feed. An empty cursor requests the first
// page.
type PageFetcher func(ctx context.Context, key Key, cursor string) (pagination.Page[model.Post], error)

type Status int

const (
	// StatusPending: nothing fetched yet.
	StatusPending Status = iota
	// StatusError: the first page failed to load.
	StatusError
	// StatusEmpty: loaded, and there is nothing to show.
	StatusEmpty
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusError:
		return "error"
	case StatusEmpty:
		return "empty"
	case StatusReady:
		return "ready"
	}
	return "unknown"
}

// Snapshot is a copy of one paginated collection. PageParams[i] is the
// cursor Pages[i] was fetched with ("" for the first page). Err holds the
// last fetch failure; with pages loaded it concerns the next page only.
type Snapshot struct {
	Key         Key
	Pages       []pagination.Page[model.Post]
	PageParams  []string
	Status      Status
	Err         error
	HasNextPage bool
	Stale       bool
}

// Items concatenates all pages in order.
func (s Snapshot) Items() []model.Post {
	var out []model.Post
	for _, page := range s.Pages {
		out = append(out, page.Items...)
	}
	return out
}

// FeedCache holds paginated post collections keyed by post-feed keys.
type FeedCache struct {
	cache *Cache
	fetch PageFetcher
}

func NewFeedCache(cache *Cache, fetch PageFetcher) *FeedCache {
	return &FeedCache{cache: cache, fetch: fetch}
}

// Snapshot returns the collection for key. A key never fetched reports
// StatusPending.
func (f *FeedCache) Snapshot(key Key) Snapshot {
	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	return f.snapshotLocked(key)
}

func (f *FeedCache) snapshotLocked(key Key) Snapshot {
	entry := f.cache.feeds[key]
	if entry == nil {
		return Snapshot{Key: key, Status: StatusPending}
	}
	snap := Snapshot{
		Key:        key,
		Pages:      make([]pagination.Page[model.Post], len(entry.pages)),
		PageParams: slices.Clone(entry.pageParams),
		Err:        entry.err,
		Stale:      entry.stale,
	}
	items := 0
	for i, page := range entry.pages {
		snap.Pages[i] = pagination.Page[model.Post]{Items: slices.Clone(page.Items), NextCursor: page.NextCursor}
		items += len(page.Items)
	}
	switch {
	case len(entry.pages) == 0 && entry.err != nil:
		snap.Status = StatusError
	case len(entry.pages) == 0:
		snap.Status = StatusPending
	case items == 0:
		snap.Status = StatusEmpty
	default:
		snap.Status = StatusReady
	}
	if n := len(entry.pages); n > 0 {
		snap.HasNextPage = entry.pages[n-1].HasMore()
	}
	return snap
}

// FetchNextPage loads the page after the last one held for key, or the
// first page when nothing is held or the collection was invalidated. A
// collection whose last page has no cursor is complete and is returned
// without a request. Concurrent callers share one request.
//
// A response that arrives after its read was cancelled, or after the
// collection was dropped, is discarded without error; the returned snapshot
// is whatever the cache holds then.
func (f *FeedCache) FetchNextPage(ctx context.Context, key Key) (Snapshot, error) {
	if !key.IsFeed() {
		return Snapshot{}, fmt.Errorf("feedcache: %s is not a feed key", key)
	}
	c := f.cache
	c.mu.Lock()
	entry := c.feeds[key]
	if entry == nil {
		entry = &feedEntry{}
		c.feeds[key] = entry
	}
	if pending := entry.reads.inflight; pending != nil {
		pending.joined++
		c.mu.Unlock()
		select {
		case <-pending.done:
		case <-ctx.Done():
			return f.Snapshot(key), ctx.Err()
		}
		if pending.abandoned {
			return f.FetchNextPage(ctx, key)
		}
		snap := f.Snapshot(key)
		return snap, snap.Err
	}
	cursor := ""
	if n := len(entry.pages); n > 0 && !entry.stale {
		last := entry.pages[n-1]
		if !last.HasMore() {
			snap := f.snapshotLocked(key)
			c.mu.Unlock()
			return snap, nil
		}
		cursor = *last.NextCursor
	}
	fetchCtx, pending, generation := entry.reads.start(ctx)
	c.mu.Unlock()

	page, err := f.fetch(fetchCtx, key, cursor)
	pending.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(pending.done)
	if c.feeds[key] != entry || !entry.reads.finish(pending, generation) {
		return f.snapshotLocked(key), nil
	}
	if err != nil {
		if ctx.Err() != nil {
			pending.abandoned = true
		} else {
			entry.err = err
		}
		return f.snapshotLocked(key), err
	}
	if page.Items == nil {
		page.Items = []model.Post{}
	}
	if cursor == "" {
		entry.pages = []pagination.Page[model.Post]{page}
		entry.pageParams = []string{""}
	} else {
		entry.pages = append(entry.pages, page)
		entry.pageParams = append(entry.pageParams, cursor)
	}
	entry.stale = false
	entry.err = nil
	return f.snapshotLocked(key), nil
}

// Invalidate marks matched collections stale and cancels their reads. The
// next FetchNextPage on them starts again from the first page.
func (f *FeedCache) Invalidate(match Matcher) {
	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	for key, entry := range f.cache.feeds {
		if match(key) {
			entry.reads.cancel()
			entry.stale = true
		}
	}
}

// sharing reports how many callers are waiting on the fetch in flight for key.
func (f *FeedCache) sharing(key Key) int {
	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	if entry := f.cache.feeds[key]; entry != nil && entry.reads.inflight != nil {
		return entry.reads.inflight.joined
	}
	return 0
}

// Keys lists the cached collections matched by match.
func (f *FeedCache) Keys(match Matcher) []Key {
	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	var keys []Key
	for key := range f.cache.feeds {
		if match(key) {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(a, b Key) int { return strings.Compare(a.String(), b.String()) })
	return keys
}
