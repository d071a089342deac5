package feedcache

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"social-feed/server/internal/model"
)

// InfoFetcher loads the relation state of one entity for the current viewer.
type InfoFetcher func(ctx context.Context, key Key) (model.RelationInfo, error)

// InfoCache holds follower, like and bookmark snapshots. Entries never
// expire on their own; only Invalidate makes Query go back to the server.
type InfoCache struct {
	cache *Cache
	fetch InfoFetcher
}

func NewInfoCache(cache *Cache, fetch InfoFetcher) *InfoCache {
	return &InfoCache{cache: cache, fetch: fetch}
}

// Seed installs a snapshot delivered alongside other data, such as the like
// state embedded in a feed item. It does nothing if the key already holds a
// snapshot, so it never overwrites optimistic or fresher state.
func (i *InfoCache) Seed(key Key, info model.RelationInfo) bool {
	if !key.IsInfo() {
		return false
	}
	i.cache.mu.Lock()
	defer i.cache.mu.Unlock()
	entry := i.cache.infos[key]
	if entry != nil && entry.loaded {
		return false
	}
	if entry == nil {
		entry = &infoEntry{}
		i.cache.infos[key] = entry
	}
	entry.value = info
	entry.loaded = true
	return true
}

// Get returns the most recently written snapshot without blocking.
func (i *InfoCache) Get(key Key) (model.RelationInfo, bool) {
	i.cache.mu.Lock()
	defer i.cache.mu.Unlock()
	entry := i.cache.infos[key]
	if entry == nil || !entry.loaded {
		return model.RelationInfo{}, false
	}
	return entry.value, true
}

// Set overwrites the snapshot for key. Last writer wins.
func (i *InfoCache) Set(key Key, info model.RelationInfo) {
	i.cache.mu.Lock()
	defer i.cache.mu.Unlock()
	i.setLocked(key, info)
}

func (i *InfoCache) setLocked(key Key, info model.RelationInfo) {
	entry := i.cache.infos[key]
	if entry == nil {
		entry = &infoEntry{}
		i.cache.infos[key] = entry
	}
	entry.value = info
	entry.loaded = true
	entry.stale = false
}

// Invalidate marks matched snapshots stale. They stay readable through Get
// until a Query or Refresh replaces them.
func (i *InfoCache) Invalidate(match Matcher) {
	i.cache.mu.Lock()
	defer i.cache.mu.Unlock()
	for key, entry := range i.cache.infos {
		if match(key) {
			entry.reads.cancel()
			entry.stale = true
		}
	}
}

// Forget drops matched snapshots. Responses still in flight for them are
// discarded.
func (i *InfoCache) Forget(match Matcher) {
	i.cache.mu.Lock()
	defer i.cache.mu.Unlock()
	for key, entry := range i.cache.infos {
		if match(key) {
			entry.reads.cancel()
			delete(i.cache.infos, key)
		}
	}
}

// Query returns the cached snapshot, fetching it when absent or stale.
// A response whose read was cancelled meanwhile (a mutation began, or the
// entry was forgotten) is not written; the caller gets what the cache holds,
// or the response itself when the cache holds nothing.
func (i *InfoCache) Query(ctx context.Context, key Key) (model.RelationInfo, error) {
	if !key.IsInfo() {
		return model.RelationInfo{}, fmt.Errorf("feedcache: %s is not a relation key", key)
	}
	c := i.cache
	c.mu.Lock()
	entry := c.infos[key]
	if entry == nil {
		entry = &infoEntry{}
		c.infos[key] = entry
	}
	if entry.loaded && !entry.stale {
		value := entry.value
		c.mu.Unlock()
		return value, nil
	}
	if pending := entry.reads.inflight; pending != nil {
		c.mu.Unlock()
		select {
		case <-pending.done:
		case <-ctx.Done():
			return model.RelationInfo{}, ctx.Err()
		}
		if value, ok := i.Get(key); ok {
			return value, nil
		}
		return i.Query(ctx, key)
	}
	fetchCtx, pending, generation := entry.reads.start(ctx)
	c.mu.Unlock()

	info, err := i.fetch(fetchCtx, key)
	pending.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(pending.done)
	if c.infos[key] != entry || !entry.reads.finish(pending, generation) {
		if current := c.infos[key]; current != nil && current.loaded {
			return current.value, nil
		}
		return info, err
	}
	if err != nil {
		if !entry.loaded {
			delete(c.infos, key)
		}
		return model.RelationInfo{}, err
	}
	entry.value = info
	entry.loaded = true
	entry.stale = false
	return info, nil
}

// Refresh refetches the given keys concurrently. It stops at the first
// failure; snapshots already refreshed keep their new value.
func (i *InfoCache) Refresh(ctx context.Context, keys ...Key) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, key := range keys {
		group.Go(func() error {
			i.Invalidate(MatchExact(key))
			_, err := i.Query(groupCtx, key)
			return err
		})
	}
	return group.Wait()
}

// toggle runs the optimistic step for one key under the cache lock: cancel
// reads, read the snapshot, write its inverse. Counts move by one with the
// flag; an uncounted relation stays uncounted.
func (i *InfoCache) toggle(key Key) (previous model.RelationInfo, next model.RelationInfo, err error) {
	i.cache.mu.Lock()
	defer i.cache.mu.Unlock()
	entry := i.cache.infos[key]
	if entry == nil || !entry.loaded {
		return previous, next, fmt.Errorf("%w: %s", ErrNotCached, key)
	}
	entry.reads.cancel()
	previous = entry.value
	next = model.RelationInfo{Flag: !previous.Flag}
	if previous.Count != nil {
		count := *previous.Count
		if next.Flag {
			count++
		} else {
			count--
		}
		next.Count = &count
	}
	entry.value = next
	entry.stale = false
	return previous, next, nil
}

// restore writes previous back if the entry still exists. An entry dropped
// while the mutation was in flight stays dropped.
func (i *InfoCache) restore(key Key, previous model.RelationInfo) bool {
	i.cache.mu.Lock()
	defer i.cache.mu.Unlock()
	entry := i.cache.infos[key]
	if entry == nil {
		return false
	}
	entry.reads.cancel()
	entry.value = previous
	entry.loaded = true
	return true
}
