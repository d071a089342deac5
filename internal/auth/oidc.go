package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	baseliboidc "github.com/aggregat4/go-baselib-services/v4/oidc"
	"github.com/coreos/go-oidc/v3/oidc"
)

// SubjectResolver maps a verified OIDC subject to a local user id.
type SubjectResolver func(ctx context.Context, subject string, preferredUsername string) (string, error)

func (m *Manager) configureOIDC(cfg Config) error {
	if !cfg.OIDCEnabled() {
		return nil
	}
	if m.resolve == nil {
		return errors.New("oidc login requires a subject resolver")
	}
	m.oidc = baseliboidc.CreateOidcConfiguration(cfg.IssuerURL, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL)
	return nil
}

func (m *Manager) OIDCEnabled() bool {
	return m.oidc != nil
}

// OIDCLoginHandler sends browsers without a session to the identity provider
// and everyone else to the fallback url.
func (m *Manager) OIDCLoginHandler() http.Handler {
	landing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, m.fallbackURL, http.StatusFound)
	})
	never := func(*http.Request) bool { return false }
	return m.oidc.CreateOidcAuthenticationMiddleware(m.IsAuthenticated, never)(landing)
}

// CallbackHandler completes the OIDC code flow and starts a local session.
func (m *Manager) CallbackHandler() http.Handler {
	delegate := baseliboidc.CreateSTDSessionBasedOidcDelegate(m.loginWithIDToken, m.fallbackURL)
	return m.oidc.CreateOidcCallbackHandler(delegate)
}

func (m *Manager) loginWithIDToken(w http.ResponseWriter, r *http.Request, idToken *oidc.IDToken) error {
	var claims struct {
		Subject           string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return fmt.Errorf("read id token claims: %w", err)
	}
	if claims.Subject == "" {
		return errors.New("id token missing sub claim")
	}
	userID, err := m.resolve(r.Context(), claims.Subject, claims.PreferredUsername)
	if err != nil {
		return fmt.Errorf("resolve oidc subject: %w", err)
	}
	return m.Login(w, r, userID)
}
