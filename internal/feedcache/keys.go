// Package feedcache keeps a viewer's paginated feeds and per-entity relation
// state consistent with the server while mutations are applied optimistically.
package feedcache

import "strings"

// Scope is the first tag of a cache key.
type Scope string

const (
	ScopePostFeed     Scope = "post-feed"
	ScopeFollowerInfo Scope = "follower-info"
	ScopeLikeInfo     Scope = "like-info"
	ScopeBookmarkInfo Scope = "bookmark-info"
)

// FeedKind is the second tag of a post-feed key.
type FeedKind string

const (
	FeedForYou    FeedKind = "for-you"
	FeedFollowing FeedKind = "following"
	FeedBookmarks FeedKind = "bookmarks"
	FeedUserPosts FeedKind = "user-posts"
)

// Key names one cache partition. It is the typed form of a tag sequence such
// as ["post-feed","user-posts",<userId>] or ["like-info",<postId>]: Feed is
// only set for post-feed keys, Subject holds the trailing entity id.
type Key struct {
	Scope   Scope
	Feed    FeedKind
	Subject string
}

func FeedKey(feed FeedKind) Key {
	return Key{Scope: ScopePostFeed, Feed: feed}
}

func UserPostsKey(userID string) Key {
	return Key{Scope: ScopePostFeed, Feed: FeedUserPosts, Subject: userID}
}

func FollowerInfoKey(userID string) Key {
	return Key{Scope: ScopeFollowerInfo, Subject: userID}
}

func LikeInfoKey(postID string) Key {
	return Key{Scope: ScopeLikeInfo, Subject: postID}
}

func BookmarkInfoKey(postID string) Key {
	return Key{Scope: ScopeBookmarkInfo, Subject: postID}
}

// Tags returns the hierarchical tag sequence of the key.
func (k Key) Tags() []string {
	tags := []string{string(k.Scope)}
	if k.Feed != "" {
		tags = append(tags, string(k.Feed))
	}
	if k.Subject != "" {
		tags = append(tags, k.Subject)
	}
	return tags
}

func (k Key) String() string {
	return strings.Join(k.Tags(), "/")
}

func (k Key) IsFeed() bool {
	return k.Scope == ScopePostFeed && k.Feed != ""
}

func (k Key) IsInfo() bool {
	switch k.Scope {
	case ScopeFollowerInfo, ScopeLikeInfo, ScopeBookmarkInfo:
		return k.Subject != ""
	}
	return false
}
