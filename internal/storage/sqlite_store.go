package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"social-feed/server/internal/model"
	"social-feed/server/internal/pagination"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	display_name TEXT NOT NULL,
	email TEXT,
	password_hash TEXT,
	oidc_subject TEXT,
	bio TEXT NOT NULL DEFAULT '',
	avatar_url TEXT,
	created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(username COLLATE NOCASE);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email COLLATE NOCASE);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_oidc_subject ON users(oidc_subject);

CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_feed ON posts(created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_posts_user ON posts(user_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS media (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	post_id TEXT REFERENCES posts(id) ON DELETE SET NULL,
	type TEXT NOT NULL,
	url TEXT NOT NULL,
	path TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_post ON media(post_id);

CREATE TABLE IF NOT EXISTS follows (
	follower_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	following_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (follower_id, following_id)
);

CREATE INDEX IF NOT EXISTS idx_follows_following ON follows(following_id);

CREATE TABLE IF NOT EXISTS likes (
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, post_id)
);

CREATE INDEX IF NOT EXISTS idx_likes_post ON likes(post_id);

CREATE TABLE IF NOT EXISTS bookmarks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	UNIQUE (user_id, post_id)
);

CREATE INDEX IF NOT EXISTS idx_bookmarks_user ON bookmarks(user_id, created_at DESC, id DESC);
`

const postColumns = `
	p.id, p.content, p.created_at,
	u.id, u.username, u.display_name, COALESCE(u.avatar_url, ''),
	(SELECT COUNT(*) FROM likes l WHERE l.post_id = p.id),
	EXISTS(SELECT 1 FROM likes l WHERE l.post_id = p.id AND l.user_id = ?),
	EXISTS(SELECT 1 FROM bookmarks b WHERE b.post_id = p.id AND b.user_id = ?)`

const userColumns = `
	u.id, u.username, u.display_name, COALESCE(u.avatar_url, ''), u.bio, u.created_at,
	(SELECT COUNT(*) FROM posts p WHERE p.user_id = u.id),
	(SELECT COUNT(*) FROM follows f WHERE f.following_id = u.id),
	EXISTS(SELECT 1 FROM follows f WHERE f.following_id = u.id AND f.follower_id = ?)`

var usernameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// newID returns a UUIDv7 and the millisecond timestamp embedded in it. Rows
// store that timestamp as created_at, so ordering by (created_at, id) and
// ordering by id alone agree. Keyset cursors rely on this.
func newID() (string, int64, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", 0, fmt.Errorf("generate id: %w", err)
	}
	ms := int64(binary.BigEndian.Uint64(id[:8]) >> 16)
	return id.String(), ms, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user NewUser) (model.User, error) {
	if user.Username == "" || user.PasswordHash == "" {
		return model.User{}, errors.New("username and password hash are required")
	}
	id, createdAt, err := newID()
	if err != nil {
		return model.User{}, err
	}
	displayName := user.DisplayName
	if displayName == "" {
		displayName = user.Username
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, user.Username, displayName, nullString(user.Email), user.PasswordHash, createdAt)
	if isUniqueViolation(err) {
		return model.User{}, fmt.Errorf("username or email already taken: %w", ErrConflict)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUser(ctx, id, id)
}

func (s *SQLiteStore) CredentialsByUsername(ctx context.Context, username string) (Credentials, error) {
	var creds Credentials
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, password_hash FROM users WHERE username = ? COLLATE NOCASE
	`, username).Scan(&creds.UserID, &hash)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !hash.Valid) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("query credentials: %w", err)
	}
	creds.PasswordHash = hash.String
	return creds, nil
}

func (s *SQLiteStore) UserBySubject(ctx context.Context, subject string, preferredUsername string) (model.User, error) {
	if subject == "" {
		return model.User{}, errors.New("subject is required")
	}
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE oidc_subject = ?`, subject).Scan(&id)
	if err == nil {
		return s.GetUser(ctx, id, id)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("query subject: %w", err)
	}
	id, createdAt, err := newID()
	if err != nil {
		return model.User{}, err
	}
	username := usernameSanitizer.ReplaceAllString(preferredUsername, "")
	if username == "" {
		username = "user_" + strings.ReplaceAll(id, "-", "")[20:]
	}
	insert := `INSERT INTO users (id, username, display_name, oidc_subject, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, insert, id, username, username, subject, createdAt)
	if isUniqueViolation(err) {
		username = username + "_" + strings.ReplaceAll(id, "-", "")[24:]
		_, err = s.db.ExecContext(ctx, insert, id, username, username, subject, createdAt)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("insert oidc user: %w", err)
	}
	return s.GetUser(ctx, id, id)
}

func (s *SQLiteStore) GetUser(ctx context.Context, viewerID string, userID string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = ?`, viewerID, userID)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, viewerID string, username string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.username = ? COLLATE NOCASE`, viewerID, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (model.User, error) {
	var user model.User
	var createdAt int64
	var posts, followers int
	var followed bool
	err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &user.AvatarURL, &user.Bio, &createdAt, &posts, &followers, &followed)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	user.CreatedAt = timeFromMillis(createdAt)
	user.Posts = posts
	user.Followers = model.Counted(followed, followers)
	return user, nil
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, userID string, displayName string, bio string) (model.User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET display_name = ?, bio = ? WHERE id = ?`, displayName, bio, userID)
	if err != nil {
		return model.User{}, fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.User{}, ErrNotFound
	}
	return s.GetUser(ctx, userID, userID)
}

func (s *SQLiteStore) SetAvatar(ctx context.Context, userID string, avatarURL string) (string, error) {
	transaction, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	var previous sql.NullString
	err = transaction.QueryRowContext(ctx, `SELECT avatar_url FROM users WHERE id = ?`, userID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		_ = transaction.Rollback()
		return "", ErrNotFound
	}
	if err != nil {
		_ = transaction.Rollback()
		return "", fmt.Errorf("query avatar: %w", err)
	}
	if _, err := transaction.ExecContext(ctx, `UPDATE users SET avatar_url = ? WHERE id = ?`, avatarURL, userID); err != nil {
		_ = transaction.Rollback()
		return "", fmt.Errorf("update avatar: %w", err)
	}
	if err := transaction.Commit(); err != nil {
		return "", fmt.Errorf("commit avatar: %w", err)
	}
	return previous.String, nil
}

func (s *SQLiteStore) CreatePost(ctx context.Context, post NewPost) (model.Post, error) {
	if post.AuthorID == "" || post.Content == "" {
		return model.Post{}, errors.New("author and content are required")
	}
	id, createdAt, err := newID()
	if err != nil {
		return model.Post{}, err
	}
	transaction, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Post{}, fmt.Errorf("begin tx: %w", err)
	}
	if _, err := transaction.ExecContext(ctx, `
		INSERT INTO posts (id, user_id, content, created_at) VALUES (?, ?, ?, ?)
	`, id, post.AuthorID, post.Content, createdAt); err != nil {
		_ = transaction.Rollback()
		return model.Post{}, fmt.Errorf("insert post: %w", err)
	}
	for _, mediaID := range post.AttachmentIDs {
		res, err := transaction.ExecContext(ctx, `
			UPDATE media SET post_id = ? WHERE id = ? AND owner_id = ? AND post_id IS NULL
		`, id, mediaID, post.AuthorID)
		if err != nil {
			_ = transaction.Rollback()
			return model.Post{}, fmt.Errorf("attach media: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_ = transaction.Rollback()
			return model.Post{}, fmt.Errorf("attachment %s: %w", mediaID, ErrNotFound)
		}
	}
	if err := transaction.Commit(); err != nil {
		return model.Post{}, fmt.Errorf("commit post: %w", err)
	}
	return s.GetPost(ctx, post.AuthorID, id)
}

func (s *SQLiteStore) GetPost(ctx context.Context, viewerID string, postID string) (model.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		JOIN users u ON u.id = p.user_id
		WHERE p.id = ?
	`, viewerID, viewerID, postID)
	if err != nil {
		return model.Post{}, fmt.Errorf("query post: %w", err)
	}
	posts, err := collectPosts(rows, nil)
	if err != nil {
		return model.Post{}, err
	}
	if len(posts) == 0 {
		return model.Post{}, ErrNotFound
	}
	if err := s.loadAttachments(ctx, posts); err != nil {
		return model.Post{}, err
	}
	return posts[0], nil
}

func (s *SQLiteStore) DeletePost(ctx context.Context, userID string, postID string) (model.DeletedPost, error) {
	transaction, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DeletedPost{}, fmt.Errorf("begin tx: %w", err)
	}
	var ownerID string
	err = transaction.QueryRowContext(ctx, `SELECT user_id FROM posts WHERE id = ?`, postID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		_ = transaction.Rollback()
		return model.DeletedPost{}, ErrNotFound
	}
	if err != nil {
		_ = transaction.Rollback()
		return model.DeletedPost{}, fmt.Errorf("query post owner: %w", err)
	}
	if ownerID != userID {
		_ = transaction.Rollback()
		return model.DeletedPost{}, ErrForbidden
	}
	if _, err := transaction.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, postID); err != nil {
		_ = transaction.Rollback()
		return model.DeletedPost{}, fmt.Errorf("delete post: %w", err)
	}
	if err := transaction.Commit(); err != nil {
		return model.DeletedPost{}, fmt.Errorf("commit delete: %w", err)
	}
	return model.DeletedPost{ID: postID, UserID: ownerID}, nil
}

func (s *SQLiteStore) ListPosts(ctx context.Context, query FeedQuery) (pagination.Page[model.Post], error) {
	if query.Feed == FeedBookmarks {
		return s.listBookmarks(ctx, query)
	}
	args := []any{query.ViewerID, query.ViewerID}
	var where []string
	switch query.Feed {
	case FeedForYou:
	case FeedFollowing:
		where = append(where, "(p.user_id = ? OR p.user_id IN (SELECT following_id FROM follows WHERE follower_id = ?))")
		args = append(args, query.ViewerID, query.ViewerID)
	case FeedUserPosts:
		if query.AuthorID == "" {
			return pagination.Page[model.Post]{}, errors.New("author id is required for user feed")
		}
		where = append(where, "p.user_id = ?")
		args = append(args, query.AuthorID)
	default:
		return pagination.Page[model.Post]{}, fmt.Errorf("unknown feed %q", query.Feed)
	}
	if query.Cursor != "" {
		where = append(where, "p.id <= ?")
		args = append(args, query.Cursor)
	}
	statement := `SELECT ` + postColumns + ` FROM posts p JOIN users u ON u.id = p.user_id`
	if len(where) > 0 {
		statement += " WHERE " + strings.Join(where, " AND ")
	}
	statement += " ORDER BY p.created_at DESC, p.id DESC LIMIT ?"
	args = append(args, pagination.Limit(query.PageSize))

	rows, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return pagination.Page[model.Post]{}, fmt.Errorf("query feed %s: %w", query.Feed, err)
	}
	posts, err := collectPosts(rows, nil)
	if err != nil {
		return pagination.Page[model.Post]{}, err
	}
	page := pagination.FromOverfetch(posts, query.PageSize, func(p model.Post) string { return p.ID })
	if err := s.loadAttachments(ctx, page.Items); err != nil {
		return pagination.Page[model.Post]{}, err
	}
	return page, nil
}

type bookmarkedPost struct {
	bookmarkID string
	post       model.Post
}

func (s *SQLiteStore) listBookmarks(ctx context.Context, query FeedQuery) (pagination.Page[model.Post], error) {
	args := []any{query.ViewerID, query.ViewerID, query.ViewerID}
	statement := `
		SELECT bm.id, ` + postColumns + `
		FROM bookmarks bm
		JOIN posts p ON p.id = bm.post_id
		JOIN users u ON u.id = p.user_id
		WHERE bm.user_id = ?`
	if query.Cursor != "" {
		statement += " AND bm.id <= ?"
		args = append(args, query.Cursor)
	}
	statement += " ORDER BY bm.created_at DESC, bm.id DESC LIMIT ?"
	args = append(args, pagination.Limit(query.PageSize))

	rows, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return pagination.Page[model.Post]{}, fmt.Errorf("query bookmarks: %w", err)
	}
	var bookmarkIDs []string
	posts, err := collectPosts(rows, func() []any {
		bookmarkIDs = append(bookmarkIDs, "")
		return []any{&bookmarkIDs[len(bookmarkIDs)-1]}
	})
	if err != nil {
		return pagination.Page[model.Post]{}, err
	}
	joined := make([]bookmarkedPost, len(posts))
	for i := range posts {
		joined[i] = bookmarkedPost{bookmarkID: bookmarkIDs[i], post: posts[i]}
	}
	page := pagination.FromOverfetch(joined, query.PageSize, func(b bookmarkedPost) string { return b.bookmarkID })
	out := pagination.Map(page, func(b bookmarkedPost) model.Post { return b.post })
	if err := s.loadAttachments(ctx, out.Items); err != nil {
		return pagination.Page[model.Post]{}, err
	}
	return out, nil
}

// collectPosts scans rows selected with postColumns. prefix, when set, returns
// destinations for columns selected ahead of postColumns.
func collectPosts(rows *sql.Rows, prefix func() []any) ([]model.Post, error) {
	defer rows.Close()
	posts := make([]model.Post, 0)
	for rows.Next() {
		var post model.Post
		var createdAt int64
		var likes int
		var liked, bookmarked bool
		dest := []any{}
		if prefix != nil {
			dest = append(dest, prefix()...)
		}
		dest = append(dest,
			&post.ID, &post.Content, &createdAt,
			&post.User.ID, &post.User.Username, &post.User.DisplayName, &post.User.AvatarURL,
			&likes, &liked, &bookmarked,
		)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		post.CreatedAt = timeFromMillis(createdAt)
		post.Likes = model.Counted(liked, likes)
		post.Bookmark = model.RelationInfo{Flag: bookmarked}
		post.Attachments = []model.Media{}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

func (s *SQLiteStore) loadAttachments(ctx context.Context, posts []model.Post) error {
	if len(posts) == 0 {
		return nil
	}
	index := make(map[string]int, len(posts))
	args := make([]any, 0, len(posts))
	for i, post := range posts {
		index[post.ID] = i
		args = append(args, post.ID)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, type, url, created_at
		FROM media
		WHERE post_id IN (`+placeholders(len(args))+`)
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var media model.Media
		var createdAt int64
		if err := rows.Scan(&media.ID, &media.PostID, &media.Type, &media.URL, &createdAt); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		media.CreatedAt = timeFromMillis(createdAt)
		i := index[media.PostID]
		posts[i].Attachments = append(posts[i].Attachments, media)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate attachments: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RelationInfo(ctx context.Context, relation Relation, viewerID string, targetID string) (model.RelationInfo, error) {
	var count int
	var flag bool
	var err error
	switch relation {
	case RelationFollow:
		err = s.db.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM follows WHERE following_id = u.id),
				EXISTS(SELECT 1 FROM follows WHERE following_id = u.id AND follower_id = ?)
			FROM users u WHERE u.id = ?
		`, viewerID, targetID).Scan(&count, &flag)
	case RelationLike:
		err = s.db.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM likes WHERE post_id = p.id),
				EXISTS(SELECT 1 FROM likes WHERE post_id = p.id AND user_id = ?)
			FROM posts p WHERE p.id = ?
		`, viewerID, targetID).Scan(&count, &flag)
	case RelationBookmark:
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM bookmarks WHERE post_id = p.id AND user_id = ?)
			FROM posts p WHERE p.id = ?
		`, viewerID, targetID).Scan(&flag)
		if err == nil {
			return model.RelationInfo{Flag: flag}, nil
		}
	default:
		return model.RelationInfo{}, fmt.Errorf("unknown relation %q", relation)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.RelationInfo{}, ErrNotFound
	}
	if err != nil {
		return model.RelationInfo{}, fmt.Errorf("query %s info: %w", relation, err)
	}
	return model.Counted(flag, count), nil
}

func (s *SQLiteStore) SetRelation(ctx context.Context, relation Relation, viewerID string, targetID string, active bool) error {
	if viewerID == "" || targetID == "" {
		return errors.New("viewer and target are required")
	}
	if !active {
		var statement string
		switch relation {
		case RelationFollow:
			statement = `DELETE FROM follows WHERE follower_id = ? AND following_id = ?`
		case RelationLike:
			statement = `DELETE FROM likes WHERE user_id = ? AND post_id = ?`
		case RelationBookmark:
			statement = `DELETE FROM bookmarks WHERE user_id = ? AND post_id = ?`
		default:
			return fmt.Errorf("unknown relation %q", relation)
		}
		if _, err := s.db.ExecContext(ctx, statement, viewerID, targetID); err != nil {
			return fmt.Errorf("delete %s: %w", relation, err)
		}
		return nil
	}

	target := "posts"
	if relation == RelationFollow {
		target = "users"
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+target+` WHERE id = ?)`, targetID).Scan(&exists); err != nil {
		return fmt.Errorf("check %s target: %w", relation, err)
	}
	if !exists {
		return ErrNotFound
	}
	id, createdAt, err := newID()
	if err != nil {
		return err
	}
	switch relation {
	case RelationFollow:
		_, err = s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO follows (follower_id, following_id, created_at) VALUES (?, ?, ?)
		`, viewerID, targetID, createdAt)
	case RelationLike:
		_, err = s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO likes (user_id, post_id, created_at) VALUES (?, ?, ?)
		`, viewerID, targetID, createdAt)
	case RelationBookmark:
		_, err = s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO bookmarks (id, user_id, post_id, created_at) VALUES (?, ?, ?, ?)
		`, id, viewerID, targetID, createdAt)
	default:
		return fmt.Errorf("unknown relation %q", relation)
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", relation, err)
	}
	return nil
}

func (s *SQLiteStore) CreateMedia(ctx context.Context, media NewMedia) (model.Media, error) {
	if media.OwnerID == "" || media.URL == "" || media.Path == "" {
		return model.Media{}, fmt.Errorf("invalid media metadata: owner=%q url=%q path=%q", media.OwnerID, media.URL, media.Path)
	}
	id, createdAt, err := newID()
	if err != nil {
		return model.Media{}, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO media (id, owner_id, type, url, path, created_at) VALUES (?, ?, ?, ?, ?, ?)
	`, id, media.OwnerID, string(media.Type), media.URL, media.Path, createdAt); err != nil {
		return model.Media{}, fmt.Errorf("insert media: %w", err)
	}
	return model.Media{ID: id, Type: media.Type, URL: media.URL, CreatedAt: timeFromMillis(createdAt)}, nil
}

func (s *SQLiteStore) OrphanedMedia(ctx context.Context, createdBefore time.Time) ([]StoredMedia, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, type, url, path, created_at
		FROM media
		WHERE post_id IS NULL AND created_at < ?
		ORDER BY created_at ASC
	`, createdBefore.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query orphaned media: %w", err)
	}
	defer rows.Close()
	out := make([]StoredMedia, 0)
	for rows.Next() {
		var media StoredMedia
		var createdAt int64
		if err := rows.Scan(&media.ID, &media.OwnerID, &media.Type, &media.URL, &media.Path, &createdAt); err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		media.CreatedAt = timeFromMillis(createdAt)
		out = append(out, media)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteMedia(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM media WHERE id IN (`+placeholders(len(ids))+`) AND post_id IS NULL RETURNING id`, args...)
	if err != nil {
		return nil, fmt.Errorf("delete media: %w", err)
	}
	defer rows.Close()
	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted media: %w", err)
		}
		deleted = append(deleted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete media: %w", err)
	}
	return deleted, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
