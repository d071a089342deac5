// Package model holds the JSON shapes exchanged between the HTTP API and its
// clients.
package model

import "time"

type MediaType string

const (
	MediaImage MediaType = "IMAGE"
	MediaVideo MediaType = "VIDEO"
)

// Author is the subset of a user embedded in every post.
type Author struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type User struct {
	Author
	Bio       string       `json:"bio"`
	CreatedAt time.Time    `json:"createdAt"`
	Posts     int          `json:"posts"`
	Followers RelationInfo `json:"followers"`
}

type Media struct {
	ID        string    `json:"id"`
	Type      MediaType `json:"type"`
	URL       string    `json:"url"`
	PostID    string    `json:"postId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RelationInfo is the viewer-scoped state of one relation on one entity:
// whether the viewer holds it and, for counted relations, how many users do.
type RelationInfo struct {
	Flag  bool `json:"flag"`
	Count *int `json:"count,omitempty"`
}

// Counted builds a RelationInfo carrying a count.
func Counted(flag bool, count int) RelationInfo {
	return RelationInfo{Flag: flag, Count: &count}
}

// CountValue returns the count or zero when the relation is not counted.
func (r RelationInfo) CountValue() int {
	if r.Count == nil {
		return 0
	}
	return *r.Count
}

type Post struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"createdAt"`
	User        Author       `json:"user"`
	Attachments []Media      `json:"attachments"`
	Likes       RelationInfo `json:"likes"`
	Bookmark    RelationInfo `json:"bookmark"`
}

type DeletedPost struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

// Session is what the API reports about the caller; User is nil when there is
// no valid session.
type Session struct {
	User *User `json:"user"`
}
