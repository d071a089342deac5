package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"social-feed/server/internal/auth"
	"social-feed/server/internal/media"
	"social-feed/server/internal/model"
	"social-feed/server/internal/pagination"
	"social-feed/server/internal/storage"
	"social-feed/server/internal/validation"
)

type jsonResponse map[string]any

type errorResponse struct {
	Error  string                  `json:"error"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

const multipartMemory = 8 << 20

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/signup", s.limited(s.handleSignup))
	mux.HandleFunc("POST /api/auth/login", s.limited(s.handleLogin))
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/session", s.handleSession)
	if s.auth.OIDCEnabled() {
		mux.Handle("GET /auth/oidc/login", s.auth.OIDCLoginHandler())
		mux.Handle("GET /auth/oidc/callback", s.auth.CallbackHandler())
	}

	mux.HandleFunc("GET /api/posts/for-you", s.handleFeed(storage.FeedForYou))
	mux.HandleFunc("GET /api/posts/following", s.handleFeed(storage.FeedFollowing))
	mux.HandleFunc("GET /api/posts/bookmarks", s.handleFeed(storage.FeedBookmarks))
	mux.HandleFunc("GET /api/users/{userId}/posts", s.handleFeed(storage.FeedUserPosts))

	mux.HandleFunc("POST /api/posts", s.limited(s.handleCreatePost))
	mux.HandleFunc("GET /api/posts/{postId}", s.handleGetPost)
	mux.HandleFunc("DELETE /api/posts/{postId}", s.limited(s.handleDeletePost))

	s.registerRelation(mux, "/api/posts/{postId}/likes", "postId", storage.RelationLike)
	s.registerRelation(mux, "/api/posts/{postId}/bookmarks", "postId", storage.RelationBookmark)
	s.registerRelation(mux, "/api/users/{userId}/followers", "userId", storage.RelationFollow)

	mux.HandleFunc("GET /api/profiles/{username}", s.handleProfile)
	mux.HandleFunc("PATCH /api/users/me", s.limited(s.handleUpdateProfile))

	mux.HandleFunc("POST /api/uploads/attachments", s.limited(s.handleUploadAttachments))
	mux.HandleFunc("POST /api/uploads/avatar", s.limited(s.handleUploadAvatar))
	mux.HandleFunc("GET /api/clear-uploads", s.handleClearUploads)
	prefix := s.media.URLPrefix()
	mux.Handle("GET "+prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(s.media.Dir()))))

	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

func (s *Server) registerRelation(mux *http.ServeMux, pattern string, param string, relation storage.Relation) {
	mux.HandleFunc("GET "+pattern, func(w http.ResponseWriter, r *http.Request) {
		viewerID, ok := requireUser(w, r)
		if !ok {
			return
		}
		info, err := s.store.RelationInfo(r.Context(), relation, viewerID, r.PathValue(param))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	})
	set := func(active bool) http.HandlerFunc {
		return s.limited(func(w http.ResponseWriter, r *http.Request) {
			viewerID, ok := requireUser(w, r)
			if !ok {
				return
			}
			if err := s.store.SetRelation(r.Context(), relation, viewerID, r.PathValue(param), active); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, nil)
		})
	}
	mux.HandleFunc("POST "+pattern, set(true))
	mux.HandleFunc("DELETE "+pattern, set(false))
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var input validation.SignupInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validation.Check(&input); err != nil {
		s.fail(w, r, err)
		return
	}
	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.store.CreateUser(r.Context(), storage.NewUser{
		Username:     input.Username,
		DisplayName:  input.Username,
		Email:        input.Email,
		PasswordHash: hash,
	})
	if errors.Is(err, storage.ErrConflict) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "username or email already taken"})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.auth.Login(w, r, user.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("user signed up", zap.String("user_id", user.ID), zap.String("username", user.Username))
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var input validation.LoginInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validation.Check(&input); err != nil {
		s.fail(w, r, err)
		return
	}
	creds, err := s.store.CredentialsByUsername(r.Context(), input.Username)
	if err == nil {
		err = auth.VerifyPassword(creds.PasswordHash, input.Password)
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, auth.ErrPasswordMismatch) || errors.Is(err, auth.ErrInvalidHash) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid username or password"})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.auth.Login(w, r, creds.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.store.GetUser(r.Context(), creds.UserID, creds.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(w, r); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, model.Session{})
		return
	}
	user, err := s.store.GetUser(r.Context(), userID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusOK, model.Session{})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Session{User: &user})
}

func (s *Server) handleFeed(feed storage.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewerID, ok := requireUser(w, r)
		if !ok {
			return
		}
		page, err := s.store.ListPosts(r.Context(), storage.FeedQuery{
			Feed:     feed,
			ViewerID: viewerID,
			AuthorID: r.PathValue("userId"),
			Cursor:   r.URL.Query().Get("cursor"),
			PageSize: pagination.DefaultPageSize,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var input validation.CreatePostInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validation.Check(&input); err != nil {
		s.fail(w, r, err)
		return
	}
	post, err := s.store.CreatePost(r.Context(), storage.NewPost{
		AuthorID:      userID,
		Content:       input.Content,
		AttachmentIDs: input.AttachmentIDs,
	})
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown or already used attachment"})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	post, err := s.store.GetPost(r.Context(), viewerID, r.PathValue("postId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	deleted, err := s.store.DeletePost(r.Context(), userID, r.PathValue("postId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), viewerID, r.PathValue("username"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var input validation.ProfileInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validation.Check(&input); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.store.UpdateProfile(r.Context(), userID, input.DisplayName, input.Bio)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUploadAttachments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limits := s.media.Limits()
	headers, ok := s.parseUpload(w, r, "files", media.MaxAttachments*limits.MaxVideo)
	if !ok {
		return
	}
	files, closeAll, err := openAll(headers)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer closeAll()
	saved, err := s.media.SaveAttachments(r.Context(), userID, files)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ids := make([]string, 0, len(saved))
	for _, m := range saved {
		ids = append(ids, m.ID)
	}
	writeJSON(w, http.StatusOK, jsonResponse{"mediaIds": ids})
}

func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	headers, ok := s.parseUpload(w, r, "file", s.media.Limits().MaxAvatar)
	if !ok {
		return
	}
	if len(headers) != 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "exactly one file is required"})
		return
	}
	file, err := headers[0].Open()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer file.Close()
	url, err := s.media.ReplaceAvatar(r.Context(), userID, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"avatarUrl": url})
}

// parseUpload reads a multipart body of at most payload bytes plus form
// overhead and returns the files under field.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request, field string, payload int64) ([]*multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, payload+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large"})
			return nil, false
		}
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no files uploaded"})
		return nil, false
	}
	return headers, true
}

func openAll(headers []*multipart.FileHeader) ([]io.Reader, func(), error) {
	files := make([]io.Reader, 0, len(headers))
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opened = append(opened, file)
		files = append(files, file)
	}
	return files, closeAll, nil
}

func (s *Server) handleClearUploads(w http.ResponseWriter, r *http.Request) {
	if s.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid cron secret"})
		return
	}
	removed, err := s.media.Cleanup(r.Context(), time.Now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"deleted": removed})
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jsonResponse{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return "", false
	}
	return userID, true
}

// fail maps domain errors onto status codes. Anything unrecognised is logged
// and reported as a bare 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *validation.Error
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid input", Fields: invalid.Fields})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, storage.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
	case errors.Is(err, storage.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "conflict"})
	case errors.Is(err, media.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, media.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, err)
	case errors.Is(err, media.ErrTooManyFiles):
		writeError(w, http.StatusBadRequest, err)
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(payload)
}
