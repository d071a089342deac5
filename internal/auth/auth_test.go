package auth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=19456,t=2,p=1$") {
		t.Fatalf("unexpected hash format: %s", hash)
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(hash, "wrong horse"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("wrong password: got %v", err)
	}
}

func TestPasswordHashesAreSalted(t *testing.T) {
	first, err := HashPassword("secret-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := HashPassword("secret-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first == second {
		t.Fatalf("hashes should differ")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{"", "plain", "$argon2i$v=19$m=1,t=1,p=1$c2FsdA$a2V5", "$argon2id$v=19$m=x$c2FsdA$a2V5"} {
		if err := VerifyPassword(encoded, "pw"); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("%q: got %v", encoded, err)
		}
	}
}

func TestParseSessionKey(t *testing.T) {
	if _, err := parseSessionKey("short"); err == nil {
		t.Fatalf("short key should be rejected")
	}
	key, err := parseSessionKey(strings.Repeat("k", 40))
	if err != nil || len(key) != 40 {
		t.Fatalf("raw key: len=%d err=%v", len(key), err)
	}
	generated, err := parseSessionKey("")
	if err != nil || len(generated) != 32 {
		t.Fatalf("generated key: len=%d err=%v", len(generated), err)
	}
}

func TestLoginLogoutSession(t *testing.T) {
	manager, err := NewManager(Config{SessionKey: strings.Repeat("s", 32)}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if manager.OIDCEnabled() {
		t.Fatalf("oidc should be disabled without an issuer")
	}

	login := httptest.NewRecorder()
	if err := manager.Login(login, httptest.NewRequest(http.MethodPost, "/", nil), "user-1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	cookies := login.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("login should set a cookie")
	}

	var seen string
	handler := manager.WithUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
	}))
	request := requestWithCookies(cookies)
	handler.ServeHTTP(httptest.NewRecorder(), request)
	if seen != "user-1" {
		t.Fatalf("user from session: got %q", seen)
	}

	logout := httptest.NewRecorder()
	if err := manager.Logout(logout, request); err != nil {
		t.Fatalf("logout: %v", err)
	}
	expired := logout.Result().Cookies()
	if len(expired) == 0 || expired[0].MaxAge >= 0 {
		t.Fatalf("logout should expire the cookie: %+v", expired)
	}
}

func TestOIDCRequiresResolver(t *testing.T) {
	_, err := NewManager(Config{
		IssuerURL:   "https://issuer.example.com",
		ClientID:    "client",
		RedirectURL: "https://app.example.com/auth/callback",
		SessionKey:  strings.Repeat("s", 32),
	}, nil)
	if err == nil {
		t.Fatalf("expected error without resolver")
	}
}

func TestDevUserMiddleware(t *testing.T) {
	var seen string
	handler := DevUserMiddleware("dev")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if seen != "dev" {
		t.Fatalf("dev user: got %q", seen)
	}
}

func TestParseSessionKeyAcceptsBase64(t *testing.T) {
	raw := make([]byte, 48)
	for i := range raw {
		raw[i] = byte(i)
	}
	key, err := parseSessionKey(base64.StdEncoding.EncodeToString(raw))
	if err != nil || len(key) != 48 || key[47] != 47 {
		t.Fatalf("base64 key: len=%d err=%v", len(key), err)
	}
}

func TestSessionCookieIsBoundToKey(t *testing.T) {
	first, err := NewManager(Config{SessionKey: strings.Repeat("a", 32)}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	second, err := NewManager(Config{SessionKey: strings.Repeat("b", 32)}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	login := httptest.NewRecorder()
	if err := first.Login(login, httptest.NewRequest(http.MethodPost, "/", nil), "user-1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	cookies := login.Result().Cookies()
	if !first.IsAuthenticated(requestWithCookies(cookies)) {
		t.Fatalf("cookie should authenticate with its own key")
	}
	if second.IsAuthenticated(requestWithCookies(cookies)) {
		t.Fatalf("cookie should not authenticate with another key")
	}
}

// requestWithCookies builds a fresh request, since sessions decoded for one
// request are cached on it.
func requestWithCookies(cookies []*http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, cookie := range cookies {
		r.AddCookie(cookie)
	}
	return r
}
