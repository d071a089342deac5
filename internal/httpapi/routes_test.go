package httpapi

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"social-feed/server/internal/auth"
	"social-feed/server/internal/media"
	"social-feed/server/internal/model"
	"social-feed/server/internal/pagination"
	"social-feed/server/internal/storage"
)

type testOptions struct {
	cronSecret string
	rps        float64
	burst      int
}

func newTestServer(t *testing.T, opts testOptions) *httptest.Server {
	t.Helper()
	store := newTestStore(t)
	manager, err := auth.NewManager(auth.Config{}, nil)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	library, err := media.New(t.TempDir(), "/media/", store, media.Limits{
		MaxImage:     1 << 20,
		MaxVideo:     2 << 20,
		MaxAvatar:    1 << 20,
		OrphanMaxAge: time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("media library: %v", err)
	}
	if opts.rps == 0 {
		opts.rps, opts.burst = 1000, 1000
	}
	server, err := NewServer(Options{
		Store:         store,
		Auth:          manager,
		Media:         library,
		CronSecret:    opts.cronSecret,
		MutationRPS:   opts.rps,
		MutationBurst: opts.burst,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	store, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Init(t.Context()); err != nil {
		t.Fatalf("init sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type session struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newSession(t *testing.T, ts *httptest.Server) *session {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &session{t: t, base: ts.URL, client: &http.Client{Jar: jar}}
}

// do sends body as JSON and decodes the response into target when the
// status is 2xx. It returns the status code.
func (s *session) do(method string, path string, body any, target any) int {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("encode: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(s.t.Context(), method, s.base+path, reader)
	if err != nil {
		s.t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if target != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			s.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *session) signup(username string) model.User {
	s.t.Helper()
	var user model.User
	status := s.do(http.MethodPost, "/api/auth/signup", jsonResponse{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct horse",
	}, &user)
	if status != http.StatusCreated {
		s.t.Fatalf("signup %s: status %d", username, status)
	}
	return user
}

func (s *session) post(content string) model.Post {
	s.t.Helper()
	var post model.Post
	if status := s.do(http.MethodPost, "/api/posts", jsonResponse{"content": content}, &post); status != http.StatusCreated {
		s.t.Fatalf("create post: status %d", status)
	}
	return post
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("status field: got %q", payload.Status)
	}
}

func TestSignupSessionLogoutLogin(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	alice := newSession(t, ts)

	var before model.Session
	if status := alice.do(http.MethodGet, "/api/auth/session", nil, &before); status != http.StatusOK || before.User != nil {
		t.Fatalf("anonymous session: status %d user %+v", status, before.User)
	}

	user := alice.signup("alice")
	var current model.Session
	alice.do(http.MethodGet, "/api/auth/session", nil, &current)
	if current.User == nil || current.User.ID != user.ID {
		t.Fatalf("session after signup: got %+v", current.User)
	}

	if status := alice.do(http.MethodPost, "/api/auth/logout", nil, nil); status != http.StatusNoContent {
		t.Fatalf("logout: status %d", status)
	}
	if status := alice.do(http.MethodGet, "/api/posts/for-you", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("feed after logout: status %d", status)
	}

	bad := jsonResponse{"username": "alice", "password": "wrong password"}
	if status := alice.do(http.MethodPost, "/api/auth/login", bad, nil); status != http.StatusUnauthorized {
		t.Fatalf("login with wrong password: status %d", status)
	}
	var loggedIn model.User
	good := jsonResponse{"username": "ALICE", "password": "correct horse"}
	if status := alice.do(http.MethodPost, "/api/auth/login", good, &loggedIn); status != http.StatusOK {
		t.Fatalf("login: status %d", status)
	}
	if loggedIn.ID != user.ID {
		t.Fatalf("login user: got %s want %s", loggedIn.ID, user.ID)
	}
}

func TestSignupRejectsDuplicatesAndBadInput(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	newSession(t, ts).signup("alice")

	other := newSession(t, ts)
	dup := jsonResponse{"username": "Alice", "email": "other@example.com", "password": "correct horse"}
	if status := other.do(http.MethodPost, "/api/auth/signup", dup, nil); status != http.StatusConflict {
		t.Fatalf("duplicate username: status %d", status)
	}
	invalid := jsonResponse{"username": "has space", "email": "nope", "password": "short"}
	if status := other.do(http.MethodPost, "/api/auth/signup", invalid, nil); status != http.StatusBadRequest {
		t.Fatalf("invalid signup: status %d", status)
	}
}

func TestFeedPagesOverHTTP(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	alice := newSession(t, ts)
	alice.signup("alice")
	for i := 0; i < 23; i++ {
		alice.post("post")
	}

	var sizes []int
	seen := map[string]bool{}
	cursor := ""
	for {
		path := "/api/posts/for-you"
		if cursor != "" {
			path += "?cursor=" + cursor
		}
		var page pagination.Page[model.Post]
		if status := alice.do(http.MethodGet, path, nil, &page); status != http.StatusOK {
			t.Fatalf("page: status %d", status)
		}
		sizes = append(sizes, len(page.Items))
		for _, post := range page.Items {
			if seen[post.ID] {
				t.Fatalf("post %s delivered twice", post.ID)
			}
			seen[post.ID] = true
		}
		if page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}
	if len(sizes) != 3 || sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 3 {
		t.Fatalf("page sizes: got %v", sizes)
	}
}

func TestEmptyFeedHasNullCursor(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	alice := newSession(t, ts)
	alice.signup("alice")

	req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, ts.URL+"/api/posts/following", nil)
	resp, err := alice.client.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw["items"]) != "[]" || string(raw["nextCursor"]) != "null" {
		t.Fatalf("empty page: items=%s nextCursor=%s", raw["items"], raw["nextCursor"])
	}
}

func TestRelationEndpoints(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	alice := newSession(t, ts)
	aliceUser := alice.signup("alice")
	post := alice.post("hello")
	bob := newSession(t, ts)
	bob.signup("bob")

	likes := "/api/posts/" + post.ID + "/likes"
	for i := 0; i < 2; i++ {
		if status := bob.do(http.MethodPost, likes, nil, nil); status != http.StatusOK {
			t.Fatalf("like: status %d", status)
		}
	}
	var info model.RelationInfo
	bob.do(http.MethodGet, likes, nil, &info)
	if !info.Flag || info.CountValue() != 1 {
		t.Fatalf("like info: got flag=%v count=%d", info.Flag, info.CountValue())
	}
	var aliceView model.RelationInfo
	alice.do(http.MethodGet, likes, nil, &aliceView)
	if aliceView.Flag || aliceView.CountValue() != 1 {
		t.Fatalf("author view of likes: got flag=%v count=%d", aliceView.Flag, aliceView.CountValue())
	}

	bookmarks := "/api/posts/" + post.ID + "/bookmarks"
	bob.do(http.MethodPost, bookmarks, nil, nil)
	var bookmark model.RelationInfo
	bob.do(http.MethodGet, bookmarks, nil, &bookmark)
	if !bookmark.Flag || bookmark.Count != nil {
		t.Fatalf("bookmark info: got %+v", bookmark)
	}

	followers := "/api/users/" + aliceUser.ID + "/followers"
	bob.do(http.MethodPost, followers, nil, nil)
	bob.do(http.MethodDelete, followers, nil, nil)
	var follow model.RelationInfo
	bob.do(http.MethodGet, followers, nil, &follow)
	if follow.Flag || follow.CountValue() != 0 {
		t.Fatalf("follower info after unfollow: got flag=%v count=%d", follow.Flag, follow.CountValue())
	}

	if status := bob.do(http.MethodPost, "/api/posts/missing/likes", nil, nil); status != http.StatusNotFound {
		t.Fatalf("like missing post: status %d", status)
	}
}

func TestDeletePostOwnership(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	alice := newSession(t, ts)
	aliceUser := alice.signup("alice")
	post := alice.post("mine")
	bob := newSession(t, ts)
	bob.signup("bob")

	if status := bob.do(http.MethodDelete, "/api/posts/"+post.ID, nil, nil); status != http.StatusForbidden {
		t.Fatalf("foreign delete: status %d", status)
	}
	var deleted model.DeletedPost
	if status := alice.do(http.MethodDelete, "/api/posts/"+post.ID, nil, &deleted); status != http.StatusOK {
		t.Fatalf("own delete: status %d", status)
	}
	if deleted.ID != post.ID || deleted.UserID != aliceUser.ID {
		t.Fatalf("deleted payload: got %+v", deleted)
	}
	if status := alice.do(http.MethodDelete, "/api/posts/"+post.ID, nil, nil); status != http.StatusNotFound {
		t.Fatalf("second delete: status %d", status)
	}
}

func TestCreatePostValidation(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	alice := newSession(t, ts)
	alice.signup("alice")

	req, _ := http.NewRequestWithContext(t.Context(), http.MethodPost, ts.URL+"/api/posts", strings.NewReader(`{"content":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := alice.client.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Fields) != 1 || payload.Fields[0].Field != "content" {
		t.Fatalf("fields: got %+v", payload.Fields)
	}
}

func TestProfileLookupAndUpdate(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	alice := newSession(t, ts)
	user := alice.signup("alice")

	var updated model.User
	body := jsonResponse{"displayName": "Alice A.", "bio": "hi"}
	if status := alice.do(http.MethodPatch, "/api/users/me", body, &updated); status != http.StatusOK {
		t.Fatalf("update profile: status %d", status)
	}
	var found model.User
	if status := alice.do(http.MethodGet, "/api/profiles/ALICE", nil, &found); status != http.StatusOK {
		t.Fatalf("lookup: status %d", status)
	}
	if found.ID != user.ID || found.DisplayName != "Alice A." || found.Bio != "hi" {
		t.Fatalf("profile: got %+v", found)
	}
	if status := alice.do(http.MethodGet, "/api/profiles/nobody", nil, nil); status != http.StatusNotFound {
		t.Fatalf("missing profile: status %d", status)
	}
}

func pngBytes(t *testing.T, w int, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func (s *session) upload(path string, field string, files ...[]byte) (*http.Response, []byte) {
	s.t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for i, data := range files {
		part, err := writer.CreateFormFile(field, "file"+string(rune('a'+i))+".png")
		if err != nil {
			s.t.Fatalf("form file: %v", err)
		}
		_, _ = part.Write(data)
	}
	_ = writer.Close()
	req, _ := http.NewRequestWithContext(s.t.Context(), http.MethodPost, s.base+path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := s.client.Do(req)
	if err != nil {
		s.t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestUploadAttachmentAndServeIt(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	alice := newSession(t, ts)
	alice.signup("alice")

	resp, data := alice.upload("/api/uploads/attachments", "files", pngBytes(t, 8, 8))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: status %d body %s", resp.StatusCode, data)
	}
	var uploaded struct {
		MediaIDs []string `json:"mediaIds"`
	}
	if err := json.Unmarshal(data, &uploaded); err != nil || len(uploaded.MediaIDs) != 1 {
		t.Fatalf("upload payload: %s (%v)", data, err)
	}

	var post model.Post
	body := jsonResponse{"content": "with picture", "attachmentIds": uploaded.MediaIDs}
	if status := alice.do(http.MethodPost, "/api/posts", body, &post); status != http.StatusCreated {
		t.Fatalf("create post: status %d", status)
	}
	if len(post.Attachments) != 1 || post.Attachments[0].Type != model.MediaImage {
		t.Fatalf("attachments: got %+v", post.Attachments)
	}
	if status := alice.do(http.MethodGet, post.Attachments[0].URL, nil, nil); status != http.StatusOK {
		t.Fatalf("serve media: status %d", status)
	}

	body = jsonResponse{"content": "reuse", "attachmentIds": uploaded.MediaIDs}
	if status := alice.do(http.MethodPost, "/api/posts", body, nil); status != http.StatusBadRequest {
		t.Fatalf("reused attachment: status %d", status)
	}
}

func TestUploadRejectsText(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	alice := newSession(t, ts)
	alice.signup("alice")

	resp, _ := alice.upload("/api/uploads/attachments", "files", []byte("just some text"))
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
}

func TestAvatarUpload(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	alice := newSession(t, ts)
	alice.signup("alice")

	resp, data := alice.upload("/api/uploads/avatar", "file", pngBytes(t, 40, 20))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("avatar: status %d body %s", resp.StatusCode, data)
	}
	var payload struct {
		AvatarURL string `json:"avatarUrl"`
	}
	_ = json.Unmarshal(data, &payload)
	if !strings.HasPrefix(payload.AvatarURL, "/media/avatars/") {
		t.Fatalf("avatar url: got %q", payload.AvatarURL)
	}
	var current model.Session
	alice.do(http.MethodGet, "/api/auth/session", nil, &current)
	if current.User == nil || current.User.AvatarURL != payload.AvatarURL {
		t.Fatalf("session avatar: got %+v", current.User)
	}
}

func TestClearUploadsRequiresSecret(t *testing.T) {
	ts := newTestServer(t, testOptions{cronSecret: "s3cret"})
	anon := newSession(t, ts)

	if status := anon.do(http.MethodGet, "/api/clear-uploads", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("without secret: status %d", status)
	}
	req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, ts.URL+"/api/clear-uploads", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with secret: status %d", resp.StatusCode)
	}
}

func TestClearUploadsDisabledWithoutSecret(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	if status := newSession(t, ts).do(http.MethodGet, "/api/clear-uploads", nil, nil); status != http.StatusNotFound {
		t.Fatalf("status: got %d", status)
	}
}

func TestMutationsAreRateLimited(t *testing.T) {
	ts := newTestServer(t, testOptions{rps: 0.001, burst: 1})
	alice := newSession(t, ts)
	alice.signup("alice")

	alice.post("one")
	if status := alice.do(http.MethodPost, "/api/posts", jsonResponse{"content": "two"}, nil); status != http.StatusTooManyRequests {
		t.Fatalf("status: got %d", status)
	}
	if status := alice.do(http.MethodGet, "/api/posts/for-you", nil, nil); status != http.StatusOK {
		t.Fatalf("reads stay unthrottled: status %d", status)
	}
}

func TestMetricsCountRequestsByRoute(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	anon := newSession(t, ts)
	anon.do(http.MethodGet, "/healthz", nil, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	want := `social_http_requests_total{code="200",route="GET /healthz"} 1`
	if !strings.Contains(string(data), want) {
		t.Fatalf("metrics missing %q:\n%s", want, data)
	}
}
