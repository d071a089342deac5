package storage

import (
	"errors"
	"time"

	"social-feed/server/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")
)

// Feed selects which posts a list query walks.
type Feed string

const (
	FeedForYou    Feed = "for-you"
	FeedFollowing Feed = "following"
	FeedUserPosts Feed = "user-posts"
	FeedBookmarks Feed = "bookmarks"
)

// FeedQuery is one page request. Cursor is the id of the first item to
// return (posts, or bookmarks for FeedBookmarks); empty means first page.
type FeedQuery struct {
	Feed     Feed
	ViewerID string
	AuthorID string
	Cursor   string
	PageSize int
}

type NewUser struct {
	Username     string
	DisplayName  string
	Email        string
	PasswordHash string
}

// Credentials is what login needs to verify a password.
type Credentials struct {
	UserID       string
	PasswordHash string
}

type NewPost struct {
	AuthorID      string
	Content       string
	AttachmentIDs []string
}

type NewMedia struct {
	OwnerID string
	Type    model.MediaType
	URL     string
	Path    string
}

// StoredMedia is a media row including its on-disk location.
type StoredMedia struct {
	model.Media
	OwnerID string
	Path    string
}

// Relation names one viewer-to-entity relation table.
type Relation string

const (
	RelationFollow   Relation = "follow"
	RelationLike     Relation = "like"
	RelationBookmark Relation = "bookmark"
)

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
