// Package media stores uploaded attachments and avatars on disk and removes
// attachments that were never linked to a post.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-feed/server/internal/model"
	"social-feed/server/internal/storage"
)

const (
	MaxAttachments = 5
	AvatarSize     = 512

	attachmentsDir = "attachments"
	avatarsDir     = "avatars"
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooManyFiles    = errors.New("too many files")
)

// Store is the slice of storage.Store the library needs.
type Store interface {
	CreateMedia(ctx context.Context, media storage.NewMedia) (model.Media, error)
	SetAvatar(ctx context.Context, userID string, avatarURL string) (string, error)
	OrphanedMedia(ctx context.Context, createdBefore time.Time) ([]storage.StoredMedia, error)
	DeleteMedia(ctx context.Context, ids []string) ([]string, error)
}

type Limits struct {
	MaxImage  int64
	MaxVideo  int64
	MaxAvatar int64
	// OrphanMaxAge is how long an unlinked attachment survives.
	OrphanMaxAge time.Duration
}

type Library struct {
	dir       string
	urlPrefix string
	store     Store
	limits    Limits
	logger    *zap.Logger

	cleanupMu sync.Mutex
}

func New(dir string, urlPrefix string, store Store, limits Limits, logger *zap.Logger) (*Library, error) {
	if dir == "" {
		return nil, errors.New("media dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, sub := range []string{attachmentsDir, avatarsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create media dir: %w", err)
		}
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &Library{dir: dir, urlPrefix: urlPrefix, store: store, limits: limits, logger: logger}, nil
}

func (l *Library) Dir() string {
	return l.dir
}

func (l *Library) URLPrefix() string {
	return l.urlPrefix
}

func (l *Library) Limits() Limits {
	return l.limits
}

// SaveAttachments stores each upload and records it as unlinked media owned
// by ownerID. Files already written stay behind as orphans if a later one
// fails; the cleanup job removes them.
func (l *Library) SaveAttachments(ctx context.Context, ownerID string, files []io.Reader) ([]model.Media, error) {
	if len(files) == 0 {
		return nil, errors.New("no files uploaded")
	}
	if len(files) > MaxAttachments {
		return nil, fmt.Errorf("%w: at most %d per upload", ErrTooManyFiles, MaxAttachments)
	}
	out := make([]model.Media, 0, len(files))
	for _, file := range files {
		media, err := l.saveAttachment(ctx, ownerID, file)
		if err != nil {
			return nil, err
		}
		out = append(out, media)
	}
	return out, nil
}

func (l *Library) saveAttachment(ctx context.Context, ownerID string, file io.Reader) (model.Media, error) {
	largest := max(l.limits.MaxImage, l.limits.MaxVideo)
	data, err := readLimited(file, largest)
	if err != nil {
		return model.Media{}, err
	}
	detected := mimetype.Detect(data)
	var mediaType model.MediaType
	var limit int64
	switch {
	case strings.HasPrefix(detected.String(), "image/"):
		mediaType, limit = model.MediaImage, l.limits.MaxImage
	case strings.HasPrefix(detected.String(), "video/"):
		mediaType, limit = model.MediaVideo, l.limits.MaxVideo
	default:
		return model.Media{}, fmt.Errorf("%w: %s", ErrUnsupportedType, detected.String())
	}
	if int64(len(data)) > limit {
		return model.Media{}, fmt.Errorf("%w: %s %s exceeds %s", ErrTooLarge, strings.ToLower(string(mediaType)),
			humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(limit)))
	}

	rel := path.Join(attachmentsDir, uuid.NewString()+detected.Extension())
	if err := l.writeFile(rel, data); err != nil {
		return model.Media{}, err
	}
	media, err := l.store.CreateMedia(ctx, storage.NewMedia{
		OwnerID: ownerID,
		Type:    mediaType,
		URL:     l.urlPrefix + rel,
		Path:    rel,
	})
	if err != nil {
		l.removeFile(rel)
		return model.Media{}, err
	}
	l.logger.Debug("attachment stored",
		zap.String("media_id", media.ID),
		zap.String("type", detected.String()),
		zap.String("size", humanize.IBytes(uint64(len(data)))))
	return media, nil
}

// ReplaceAvatar crops the upload to an AvatarSize square JPEG, points the
// user's profile at it and deletes the file it replaced.
func (l *Library) ReplaceAvatar(ctx context.Context, userID string, file io.Reader) (string, error) {
	data, err := readLimited(file, l.limits.MaxAvatar)
	if err != nil {
		return "", err
	}
	if detected := mimetype.Detect(data); !strings.HasPrefix(detected.String(), "image/") {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, detected.String())
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	square := imaging.Fill(img, AvatarSize, AvatarSize, imaging.Center, imaging.Lanczos)
	var encoded bytes.Buffer
	if err := imaging.Encode(&encoded, square, imaging.JPEG, imaging.JPEGQuality(jpeg.DefaultQuality)); err != nil {
		return "", fmt.Errorf("encode avatar: %w", err)
	}

	rel := path.Join(avatarsDir, userID+"-"+uuid.NewString()+".jpg")
	if err := l.writeFile(rel, encoded.Bytes()); err != nil {
		return "", err
	}
	url := l.urlPrefix + rel
	previous, err := l.store.SetAvatar(ctx, userID, url)
	if err != nil {
		l.removeFile(rel)
		return "", err
	}
	if old, ok := strings.CutPrefix(previous, l.urlPrefix); ok && strings.HasPrefix(old, avatarsDir+"/") {
		l.removeFile(old)
	}
	return url, nil
}

// Cleanup deletes attachments that are still unlinked OrphanMaxAge after
// upload. It returns how many were removed.
func (l *Library) Cleanup(ctx context.Context, now time.Time) (int, error) {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	orphans, err := l.store.OrphanedMedia(ctx, now.Add(-l.limits.OrphanMaxAge))
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(orphans))
	paths := make(map[string]string, len(orphans))
	for _, media := range orphans {
		ids = append(ids, media.ID)
		paths[media.ID] = media.Path
	}
	deleted, err := l.store.DeleteMedia(ctx, ids)
	if err != nil {
		return 0, err
	}
	for _, id := range deleted {
		l.removeFile(paths[id])
	}
	l.logger.Info("orphaned media removed", zap.Int("count", len(deleted)), zap.Int("reattached", len(ids)-len(deleted)))
	return len(deleted), nil
}

func (l *Library) writeFile(rel string, data []byte) error {
	full := filepath.Join(l.dir, filepath.FromSlash(rel))
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write media file: %w", err)
	}
	return nil
}

func (l *Library) removeFile(rel string) {
	full := filepath.Join(l.dir, filepath.FromSlash(path.Clean("/" + rel)))
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("remove media file failed", zap.String("path", rel), zap.Error(err))
	}
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit is %s", ErrTooLarge, humanize.IBytes(uint64(limit)))
	}
	return data, nil
}
