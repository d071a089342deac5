// Package auth owns the login session. Password login and the optional OIDC
// login both end in the same encrypted cookie holding the local user id.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	baseliboidc "github.com/aggregat4/go-baselib-services/v4/oidc"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"
)

type contextKey string

const (
	userIDContextKey contextKey = "auth.user_id"
	sessionUserKey              = "user_id"

	minSessionKeyLen  = 32
	defaultSessionTTL = 30 * 24 * time.Hour
)

// ErrNoSession is returned when a request carries no valid session.
var ErrNoSession = errors.New("no session")

type Config struct {
	IssuerURL      string
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	SessionKey     string
	SessionTTL     time.Duration
	CookieSecure   bool
	CookieSameSite http.SameSite
	CookieDomain   string
	// FallbackURL is where browsers land after an OIDC round trip.
	FallbackURL string
}

// OIDCEnabled reports whether enough is configured to offer OIDC login.
func (c Config) OIDCEnabled() bool {
	return c.IssuerURL != "" && c.ClientID != "" && c.RedirectURL != ""
}

type Manager struct {
	cookies     *sessions.CookieStore
	options     sessions.Options
	oidc        *baseliboidc.OidcConfiguration
	resolve     SubjectResolver
	fallbackURL string
}

// NewManager builds the session cookie store. An empty SessionKey yields a
// random one, so sessions then end with the process. resolve is only
// consulted for OIDC logins and may be nil when OIDC is not configured.
func NewManager(cfg Config, resolve SubjectResolver) (*Manager, error) {
	master, err := parseSessionKey(cfg.SessionKey)
	if err != nil {
		return nil, err
	}
	hashKey, blockKey, err := cookieKeys(master)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cookies:     sessions.NewCookieStore(hashKey, blockKey),
		options:     cookieOptions(cfg),
		resolve:     resolve,
		fallbackURL: cfg.FallbackURL,
	}
	if m.fallbackURL == "" {
		m.fallbackURL = "/"
	}
	m.cookies.Options = m.newOptions()
	m.cookies.MaxAge(m.options.MaxAge)
	if err := m.configureOIDC(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

func cookieOptions(cfg Config) sessions.Options {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	sameSite := cfg.CookieSameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	return sessions.Options{
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   int(ttl.Seconds()),
		Secure:   cfg.CookieSecure,
		HttpOnly: true,
		SameSite: sameSite,
	}
}

func (m *Manager) newOptions() *sessions.Options {
	options := m.options
	return &options
}

// Login starts a session for userID, replacing any previous one.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, userID string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	session, _ := m.cookies.Get(r, baseliboidc.STDSessionCookieName)
	session.Options = m.newOptions()
	session.Values = map[any]any{sessionUserKey: userID}
	return session.Save(r, w)
}

// Logout expires the session cookie. It is safe to call without a session.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	session, _ := m.cookies.Get(r, baseliboidc.STDSessionCookieName)
	session.Options = m.newOptions()
	session.Options.MaxAge = -1
	session.Values = map[any]any{}
	return session.Save(r, w)
}

// WithUser puts the session's user id, if any, into the request context.
// Requests without a session pass through unchanged.
func (m *Manager) WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, err := m.sessionUser(r); err == nil {
			r = r.WithContext(ContextWithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Manager) IsAuthenticated(r *http.Request) bool {
	_, err := m.sessionUser(r)
	return err == nil
}

func (m *Manager) sessionUser(r *http.Request) (string, error) {
	session, err := m.cookies.Get(r, baseliboidc.STDSessionCookieName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	userID, _ := session.Values[sessionUserKey].(string)
	if userID == "" {
		return "", ErrNoSession
	}
	return userID, nil
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, _ := ctx.Value(userIDContextKey).(string)
	return userID, userID != ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// DevUserMiddleware authenticates every request without a session as
// userID. Local use only.
func DevUserMiddleware(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UserIDFromContext(r.Context()); !ok && userID != "" {
				r = r.WithContext(ContextWithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseSessionKey accepts base64 of at least 32 bytes or a raw string of at
// least 32 characters.
func parseSessionKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		key := make([]byte, minSessionKeyLen)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
		return key, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) >= minSessionKeyLen {
		return decoded, nil
	}
	if len(raw) >= minSessionKeyLen {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("session key must be at least %d bytes, raw or base64", minSessionKeyLen)
}

// cookieKeys expands the master key into the cookie signing and encryption
// keys.
func cookieKeys(master []byte) (hashKey []byte, blockKey []byte, err error) {
	stream := hkdf.New(sha256.New, master, nil, []byte("social-feed session cookie"))
	hashKey = make([]byte, 32)
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(stream, hashKey); err != nil {
		return nil, nil, fmt.Errorf("derive cookie keys: %w", err)
	}
	if _, err := io.ReadFull(stream, blockKey); err != nil {
		return nil, nil, fmt.Errorf("derive cookie keys: %w", err)
	}
	return hashKey, blockKey, nil
}
