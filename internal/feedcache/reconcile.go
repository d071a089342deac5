package feedcache

import (
	"social-feed/server/internal/model"
	"social-feed/server/internal/pagination"
)

// PrependToFeeds puts a newly created post at the head of the first page of
// every matched collection. Cursors and later pages are left alone, so no
// page boundary moves. A matched collection holding no page is marked stale
// instead; partitions that were never cached are not created. In-flight
// reads of matched collections are cancelled first so they cannot overwrite
// the insert. It returns how many collections received the post.
func (f *FeedCache) PrependToFeeds(match Matcher, post model.Post) int {
	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	patched := 0
	for key, entry := range f.cache.feeds {
		if !match(key) {
			continue
		}
		entry.reads.cancel()
		if len(entry.pages) == 0 {
			entry.stale = true
			continue
		}
		if containsPost(entry.pages, post.ID) {
			continue
		}
		first := entry.pages[0]
		items := make([]model.Post, 0, len(first.Items)+1)
		items = append(items, post)
		items = append(items, first.Items...)
		entry.pages[0] = pagination.Page[model.Post]{Items: items, NextCursor: first.NextCursor}
		patched++
	}
	return patched
}

// RemoveFromFeeds filters postID out of every page of every matched
// collection. Cursors stay as fetched, leaving a short page where the post
// was. It returns how many collections held the post.
func (f *FeedCache) RemoveFromFeeds(match Matcher, postID string) int {
	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	removed := 0
	for key, entry := range f.cache.feeds {
		if !match(key) {
			continue
		}
		entry.reads.cancel()
		found := false
		for i, page := range entry.pages {
			kept := make([]model.Post, 0, len(page.Items))
			for _, post := range page.Items {
				if post.ID == postID {
					found = true
					continue
				}
				kept = append(kept, post)
			}
			entry.pages[i] = pagination.Page[model.Post]{Items: kept, NextCursor: page.NextCursor}
		}
		if found {
			removed++
		}
	}
	return removed
}

// RewriteAuthor replaces the embedded author of every cached post written by
// author.ID.
func (f *FeedCache) RewriteAuthor(match Matcher, author model.Author) int {
	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	rewritten := 0
	for key, entry := range f.cache.feeds {
		if !match(key) {
			continue
		}
		for i, page := range entry.pages {
			var items []model.Post
			for j, post := range page.Items {
				if post.User.ID != author.ID {
					continue
				}
				if items == nil {
					items = append([]model.Post(nil), page.Items...)
				}
				items[j].User = author
				rewritten++
			}
			if items != nil {
				entry.pages[i] = pagination.Page[model.Post]{Items: items, NextCursor: page.NextCursor}
			}
		}
	}
	return rewritten
}

func containsPost(pages []pagination.Page[model.Post], postID string) bool {
	for _, page := range pages {
		for _, post := range page.Items {
			if post.ID == postID {
				return true
			}
		}
	}
	return false
}
