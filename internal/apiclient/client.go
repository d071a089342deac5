// Package apiclient talks to the social feed HTTP API. It implements
// feedcache.Transport and the account calls a client needs around it.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"social-feed/server/internal/feedcache"
	"social-feed/server/internal/model"
	"social-feed/server/internal/pagination"
	"social-feed/server/internal/validation"
)

// StatusError is a non-2xx response. It unwraps to feedcache.ErrUnauthenticated
// for 401 and feedcache.ErrNotFound for 404.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return feedcache.ErrUnauthenticated
	case http.StatusNotFound:
		return feedcache.ErrNotFound
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the API at baseURL. The session cookie is kept in
// a cookie jar, so one Client is one session.
func New(baseURL string) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Jar: jar, Timeout: 30 * time.Second},
	}, nil
}

var _ feedcache.Transport = (*Client)(nil)

func (c *Client) Signup(ctx context.Context, input validation.SignupInput) (model.User, error) {
	var user model.User
	err := c.do(ctx, http.MethodPost, "/api/auth/signup", input, &user)
	return user, err
}

func (c *Client) Login(ctx context.Context, input validation.LoginInput) (model.User, error) {
	var user model.User
	err := c.do(ctx, http.MethodPost, "/api/auth/login", input, &user)
	return user, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func (c *Client) Session(ctx context.Context) (model.Session, error) {
	var session model.Session
	err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, &session)
	return session, err
}

func (c *Client) UserByUsername(ctx context.Context, username string) (model.User, error) {
	var user model.User
	err := c.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(username), nil, &user)
	return user, err
}

func (c *Client) UpdateProfile(ctx context.Context, input validation.ProfileInput) (model.User, error) {
	var user model.User
	err := c.do(ctx, http.MethodPatch, "/api/users/me", input, &user)
	return user, err
}

func (c *Client) GetPost(ctx context.Context, postID string) (model.Post, error) {
	var post model.Post
	err := c.do(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(postID), nil, &post)
	return post, err
}

func (c *Client) CreatePost(ctx context.Context, input validation.CreatePostInput) (model.Post, error) {
	var post model.Post
	err := c.do(ctx, http.MethodPost, "/api/posts", input, &post)
	return post, err
}

func (c *Client) DeletePost(ctx context.Context, postID string) (model.DeletedPost, error) {
	var deleted model.DeletedPost
	err := c.do(ctx, http.MethodDelete, "/api/posts/"+url.PathEscape(postID), nil, &deleted)
	return deleted, err
}

func (c *Client) FetchPage(ctx context.Context, key feedcache.Key, cursor string) (pagination.Page[model.Post], error) {
	path, err := feedPath(key)
	if err != nil {
		return pagination.Page[model.Post]{}, err
	}
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	var page pagination.Page[model.Post]
	err = c.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

func (c *Client) FetchInfo(ctx context.Context, key feedcache.Key) (model.RelationInfo, error) {
	path, err := relationPath(key)
	if err != nil {
		return model.RelationInfo{}, err
	}
	var info model.RelationInfo
	err = c.do(ctx, http.MethodGet, path, nil, &info)
	return info, err
}

func (c *Client) SetRelation(ctx context.Context, key feedcache.Key, active bool) error {
	path, err := relationPath(key)
	if err != nil {
		return err
	}
	method := http.MethodPost
	if !active {
		method = http.MethodDelete
	}
	return c.do(ctx, method, path, nil, nil)
}

// UploadAttachments sends files as one multipart request and returns the
// media ids to reference from CreatePost.
func (c *Client) UploadAttachments(ctx context.Context, files map[string]io.Reader) ([]string, error) {
	var payload struct {
		MediaIDs []string `json:"mediaIds"`
	}
	err := c.upload(ctx, "/api/uploads/attachments", "files", files, &payload)
	return payload.MediaIDs, err
}

func (c *Client) UploadAvatar(ctx context.Context, name string, file io.Reader) (string, error) {
	var payload struct {
		AvatarURL string `json:"avatarUrl"`
	}
	err := c.upload(ctx, "/api/uploads/avatar", "file", map[string]io.Reader{name: file}, &payload)
	return payload.AvatarURL, err
}

func feedPath(key feedcache.Key) (string, error) {
	switch {
	case key.Scope != feedcache.ScopePostFeed:
	case key.Feed == feedcache.FeedUserPosts && key.Subject != "":
		return "/api/users/" + url.PathEscape(key.Subject) + "/posts", nil
	case key.Feed == feedcache.FeedForYou, key.Feed == feedcache.FeedFollowing, key.Feed == feedcache.FeedBookmarks:
		return "/api/posts/" + string(key.Feed), nil
	}
	return "", fmt.Errorf("api: no list endpoint for %s", key)
}

func relationPath(key feedcache.Key) (string, error) {
	subject := url.PathEscape(key.Subject)
	switch {
	case key.Subject == "":
	case key.Scope == feedcache.ScopeFollowerInfo:
		return "/api/users/" + subject + "/followers", nil
	case key.Scope == feedcache.ScopeLikeInfo:
		return "/api/posts/" + subject + "/likes", nil
	case key.Scope == feedcache.ScopeBookmarkInfo:
		return "/api/posts/" + subject + "/bookmarks", nil
	}
	return "", fmt.Errorf("api: no relation endpoint for %s", key)
}

func (c *Client) do(ctx context.Context, method string, path string, body any, target any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.send(req, target)
}

func (c *Client) upload(ctx context.Context, path string, field string, files map[string]io.Reader, target any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, file := range files {
		part, err := writer.CreateFormFile(field, name)
		if err != nil {
			return fmt.Errorf("create form file: %w", err)
		}
		if _, err := io.Copy(part, file); err != nil {
			return fmt.Errorf("copy form file: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.send(req, target)
}

func (c *Client) send(req *http.Request, target any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &StatusError{Status: resp.StatusCode, Message: payload.Error}
	}
	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
