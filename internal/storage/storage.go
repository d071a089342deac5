package storage

import (
	"context"
	"time"

	"social-feed/server/internal/model"
	"social-feed/server/internal/pagination"
)

// Store defines the persistence contract for the social feed.
//
// Why this exists:
//   - HTTP handlers should express feed and relation behavior, not SQL details.
//   - Keyset pagination needs one definition of cursor semantics shared by every
//     list endpoint, so clients can rely on cursors staying stable under inserts.
//   - Tests can validate pagination and relation behavior via this abstraction.
type Store interface {
	// Init prepares schema/connection state needed before serving requests.
	Init(ctx context.Context) error

	// Close releases resources held by the storage backend.
	Close() error

	// CreateUser inserts a password account. Returns ErrConflict when the
	// username or email is already taken (case-insensitive).
	CreateUser(ctx context.Context, user NewUser) (model.User, error)

	// CredentialsByUsername returns the password hash for login.
	CredentialsByUsername(ctx context.Context, username string) (Credentials, error)

	// UserBySubject maps an OIDC subject to a local user, creating one with a
	// generated username on first login.
	UserBySubject(ctx context.Context, subject string, preferredUsername string) (model.User, error)

	// GetUser returns a profile with follower info scoped to viewerID.
	GetUser(ctx context.Context, viewerID string, userID string) (model.User, error)

	// GetUserByUsername is GetUser keyed by case-insensitive username.
	GetUserByUsername(ctx context.Context, viewerID string, username string) (model.User, error)

	// UpdateProfile changes display name and bio of userID.
	UpdateProfile(ctx context.Context, userID string, displayName string, bio string) (model.User, error)

	// SetAvatar stores a new avatar url and returns the one it replaced.
	SetAvatar(ctx context.Context, userID string, avatarURL string) (string, error)

	// CreatePost inserts a post, links its attachments and returns it hydrated
	// exactly as list endpoints would, so clients can insert it into cached feeds
	// without refetching.
	//
	// Why: the post id doubles as its keyset position, so it is generated here.
	CreatePost(ctx context.Context, post NewPost) (model.Post, error)

	// GetPost returns one hydrated post.
	GetPost(ctx context.Context, viewerID string, postID string) (model.Post, error)

	// DeletePost removes a post owned by userID. Returns ErrNotFound when the
	// post is absent and ErrForbidden when it belongs to someone else.
	DeletePost(ctx context.Context, userID string, postID string) (model.DeletedPost, error)

	// ListPosts returns one page of a feed in (created_at desc, id desc) order,
	// starting at the cursor item inclusive.
	//
	// Why: the cursor handed out is the first item of the next page, so
	// inclusive resumption yields every item exactly once. A cursor whose item
	// was deleted resumes at the position that item held.
	ListPosts(ctx context.Context, query FeedQuery) (pagination.Page[model.Post], error)

	// RelationInfo returns the viewer's flag and, for follows and likes, the
	// total count for the target entity. Returns ErrNotFound when the entity is
	// absent.
	RelationInfo(ctx context.Context, relation Relation, viewerID string, targetID string) (model.RelationInfo, error)

	// SetRelation activates or deactivates a relation. Both directions are
	// idempotent. Activating a relation on an absent entity returns ErrNotFound.
	SetRelation(ctx context.Context, relation Relation, viewerID string, targetID string, active bool) error

	// CreateMedia records an uploaded file not yet attached to a post.
	CreateMedia(ctx context.Context, media NewMedia) (model.Media, error)

	// OrphanedMedia lists media never attached to a post (or detached by post
	// deletion) created before the cutoff.
	OrphanedMedia(ctx context.Context, createdBefore time.Time) ([]StoredMedia, error)

	// DeleteMedia removes the given media rows that are still unattached and
	// returns the ids it removed. Rows linked to a post meanwhile are kept.
	DeleteMedia(ctx context.Context, ids []string) ([]string, error)
}
