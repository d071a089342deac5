package feedcache

// Matcher selects cache partitions.
type Matcher func(Key) bool

func MatchExact(key Key) Matcher {
	return func(k Key) bool { return k == key }
}

func MatchScope(scope Scope) Matcher {
	return func(k Key) bool { return k.Scope == scope }
}

// MatchAllFeeds matches every post-feed partition, whatever its feed kind or
// subject.
func MatchAllFeeds() Matcher {
	return MatchScope(ScopePostFeed)
}

// MatchFeed matches post-feed partitions of one kind, for any subject.
func MatchFeed(feed FeedKind) Matcher {
	return func(k Key) bool { return k.Scope == ScopePostFeed && k.Feed == feed }
}

func MatchUserPosts(userID string) Matcher {
	return MatchExact(UserPostsKey(userID))
}

func AnyOf(matchers ...Matcher) Matcher {
	return func(k Key) bool {
		for _, m := range matchers {
			if m(k) {
				return true
			}
		}
		return false
	}
}

type MutationKind int

const (
	MutationCreatePost MutationKind = iota + 1
	MutationDeletePost
	MutationProfileUpdate
	MutationFollow
	MutationLike
	MutationBookmark
)

func (k MutationKind) String() string {
	switch k {
	case MutationCreatePost:
		return "create-post"
	case MutationDeletePost:
		return "delete-post"
	case MutationProfileUpdate:
		return "profile-update"
	case MutationFollow:
		return "follow"
	case MutationLike:
		return "like"
	case MutationBookmark:
		return "bookmark"
	}
	return "unknown"
}

// MutationContext carries what a mutation touched. ActorID is the viewer
// performing it; EntityID is the post or user it targets.
type MutationContext struct {
	ActorID  string
	EntityID string
}

// AffectedPartitions returns the partitions a mutation must patch or
// invalidate. Creation is narrow: only feeds the author can see the post in
// right away. Deletion is broad: the post must not survive in any feed.
func AffectedPartitions(kind MutationKind, mc MutationContext) Matcher {
	switch kind {
	case MutationCreatePost:
		return AnyOf(MatchFeed(FeedForYou), MatchUserPosts(mc.ActorID))
	case MutationDeletePost, MutationProfileUpdate:
		return MatchAllFeeds()
	case MutationFollow:
		return MatchExact(FollowerInfoKey(mc.EntityID))
	case MutationLike:
		return MatchExact(LikeInfoKey(mc.EntityID))
	case MutationBookmark:
		return MatchExact(BookmarkInfoKey(mc.EntityID))
	}
	return func(Key) bool { return false }
}

func mutationForScope(scope Scope) MutationKind {
	switch scope {
	case ScopeFollowerInfo:
		return MutationFollow
	case ScopeLikeInfo:
		return MutationLike
	case ScopeBookmarkInfo:
		return MutationBookmark
	}
	return 0
}
