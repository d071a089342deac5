package feedcache

import (
	"context"

	"go.uber.org/zap"

	"social-feed/server/internal/model"
	"social-feed/server/internal/pagination"
	"social-feed/server/internal/validation"
)

// Transport is the server side of the cache: list, relation and post
// endpoints.
type Transport interface {
	FetchPage(ctx context.Context, key Key, cursor string) (pagination.Page[model.Post], error)
	FetchInfo(ctx context.Context, key Key) (model.RelationInfo, error)
	SetRelation(ctx context.Context, key Key, active bool) error
	CreatePost(ctx context.Context, input validation.CreatePostInput) (model.Post, error)
	DeletePost(ctx context.Context, postID string) (model.DeletedPost, error)
	UpdateProfile(ctx context.Context, input validation.ProfileInput) (model.User, error)
}

// Client ties one session's cache to a Transport. Views read Feeds and
// Infos; every mutation goes through Client so the affected partitions are
// patched or invalidated consistently.
type Client struct {
	Feeds *FeedCache
	Infos *InfoCache

	cache     *Cache
	engine    *Engine
	transport Transport
	notifier  Notifier
	logger    *zap.Logger
}

func NewClient(transport Transport, notifier Notifier, logger *zap.Logger) *Client {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := New()
	infos := NewInfoCache(cache, transport.FetchInfo)
	return &Client{
		Feeds:     NewFeedCache(cache, transport.FetchPage),
		Infos:     infos,
		cache:     cache,
		engine:    NewEngine(infos, transport.SetRelation, notifier, logger),
		transport: transport,
		notifier:  notifier,
		logger:    logger,
	}
}

// Start opens the cache for user. A different user than before starts from
// an empty cache.
func (c *Client) Start(user model.User) {
	c.cache.Open(user.ID)
	c.Infos.Seed(FollowerInfoKey(user.ID), user.Followers)
}

// Logout discards everything cached for the session.
func (c *Client) Logout() {
	c.cache.Clear()
}

func (c *Client) Engine() *Engine {
	return c.engine
}

// FetchNextPage loads the next page of a feed and seeds the like and
// bookmark state of its posts.
func (c *Client) FetchNextPage(ctx context.Context, key Key) (Snapshot, error) {
	snap, err := c.Feeds.FetchNextPage(ctx, key)
	for _, post := range snap.Items() {
		c.seedPost(post)
	}
	return snap, err
}

// SeedProfile installs the follower state that came with a profile.
func (c *Client) SeedProfile(user model.User) {
	c.Infos.Seed(FollowerInfoKey(user.ID), user.Followers)
}

func (c *Client) ToggleFollow(ctx context.Context, userID string) (model.RelationInfo, error) {
	return c.toggle(ctx, FollowerInfoKey(userID))
}

func (c *Client) ToggleLike(ctx context.Context, postID string) (model.RelationInfo, error) {
	return c.toggle(ctx, LikeInfoKey(postID))
}

func (c *Client) ToggleBookmark(ctx context.Context, postID string) (model.RelationInfo, error) {
	return c.toggle(ctx, BookmarkInfoKey(postID))
}

func (c *Client) toggle(ctx context.Context, key Key) (model.RelationInfo, error) {
	if _, ok := c.cache.Viewer(); !ok {
		return model.RelationInfo{}, ErrUnauthenticated
	}
	if _, ok := c.Infos.Get(key); !ok {
		if _, err := c.Infos.Query(ctx, key); err != nil {
			return model.RelationInfo{}, err
		}
	}
	return c.engine.Toggle(ctx, key)
}

// CreatePost validates input, sends it and inserts the created post into the
// feeds the author sees it in.
func (c *Client) CreatePost(ctx context.Context, input validation.CreatePostInput) (model.Post, error) {
	if err := validation.Check(&input); err != nil {
		return model.Post{}, err
	}
	viewer, ok := c.cache.Viewer()
	if !ok {
		return model.Post{}, ErrUnauthenticated
	}
	post, err := c.transport.CreatePost(context.WithoutCancel(ctx), input)
	if err != nil {
		c.failed(MutationCreatePost, Key{}, err)
		return model.Post{}, err
	}
	match := AffectedPartitions(MutationCreatePost, MutationContext{ActorID: viewer, EntityID: post.ID})
	patched := c.Feeds.PrependToFeeds(match, post)
	c.seedPost(post)
	c.logger.Debug("post created", zap.String("post_id", post.ID), zap.Int("feeds_patched", patched))
	c.notifier.Notify(Notification{Kind: MutationCreatePost})
	return post, nil
}

// DeletePost deletes a post and removes it from every cached feed.
func (c *Client) DeletePost(ctx context.Context, postID string) (model.DeletedPost, error) {
	viewer, ok := c.cache.Viewer()
	if !ok {
		return model.DeletedPost{}, ErrUnauthenticated
	}
	deleted, err := c.transport.DeletePost(context.WithoutCancel(ctx), postID)
	if err != nil {
		c.failed(MutationDeletePost, Key{}, err)
		return model.DeletedPost{}, err
	}
	match := AffectedPartitions(MutationDeletePost, MutationContext{ActorID: viewer, EntityID: deleted.ID})
	removed := c.Feeds.RemoveFromFeeds(match, deleted.ID)
	c.Infos.Forget(AnyOf(MatchExact(LikeInfoKey(deleted.ID)), MatchExact(BookmarkInfoKey(deleted.ID))))
	c.logger.Debug("post deleted", zap.String("post_id", deleted.ID), zap.Int("feeds_patched", removed))
	c.notifier.Notify(Notification{Kind: MutationDeletePost})
	return deleted, nil
}

// UpdateProfile saves the viewer's profile and rewrites their author data in
// every cached feed.
func (c *Client) UpdateProfile(ctx context.Context, input validation.ProfileInput) (model.User, error) {
	if err := validation.Check(&input); err != nil {
		return model.User{}, err
	}
	viewer, ok := c.cache.Viewer()
	if !ok {
		return model.User{}, ErrUnauthenticated
	}
	user, err := c.transport.UpdateProfile(context.WithoutCancel(ctx), input)
	if err != nil {
		c.failed(MutationProfileUpdate, Key{}, err)
		return model.User{}, err
	}
	c.Feeds.RewriteAuthor(AffectedPartitions(MutationProfileUpdate, MutationContext{ActorID: viewer}), user.Author)
	c.notifier.Notify(Notification{Kind: MutationProfileUpdate})
	return user, nil
}

// AvatarChanged rewrites cached author data after an avatar upload, which
// does not go through Transport.
func (c *Client) AvatarChanged(author model.Author) {
	c.Feeds.RewriteAuthor(AffectedPartitions(MutationProfileUpdate, MutationContext{ActorID: author.ID}), author)
}

func (c *Client) seedPost(post model.Post) {
	c.Infos.Seed(LikeInfoKey(post.ID), post.Likes)
	c.Infos.Seed(BookmarkInfoKey(post.ID), post.Bookmark)
}

func (c *Client) failed(kind MutationKind, key Key, err error) {
	c.logger.Warn("mutation failed", zap.Stringer("kind", kind), zap.Error(err))
	c.notifier.Notify(Notification{Kind: kind, Key: key, Err: err})
}
