package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
)

// OAuthErrorResponse is the standard OAuth error body shape (RFC 6749
// §5.2), surfaced verbatim per spec.md §7 "where an upstream OAuth error
// is present its error/error_description/error_uri fields are preserved
// verbatim."
type OAuthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

func (e OAuthErrorResponse) String(httpStatus int) string {
	if e.Error == "" {
		return fmt.Sprintf("HTTP %d", httpStatus)
	}
	if e.ErrorDescription != "" {
		return fmt.Sprintf("%s: %s", e.Error, e.ErrorDescription)
	}
	return e.Error
}

// TokenManager holds the current token set for one authorization
// context and implements the get-or-refresh policy of spec.md §4.4
// "Token lifecycle".
type TokenManager struct {
	mu           sync.Mutex
	token        *oauth2.Token
	tokenURL     string
	clientID     string
	clientSecret string
	resource     string
	httpClient   *http.Client
}

// NewTokenManager builds a manager that refreshes against tokenURL using
// clientID/clientSecret (clientSecret may be empty for public clients).
func NewTokenManager(httpClient *http.Client, tokenURL, clientID, clientSecret, resource string) *TokenManager {
	return &TokenManager{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		resource:     resource,
		httpClient:   httpClient,
	}
}

// SetToken installs tok as the current token (e.g. after the initial
// authorization-code exchange).
func (m *TokenManager) SetToken(tok *oauth2.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = tok
}

// Valid reports whether the current token is set and, if it carries an
// expiry, not yet expired.
func (m *TokenManager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validLocked()
}

func (m *TokenManager) validLocked() bool {
	if m.token == nil || m.token.AccessToken == "" {
		return false
	}
	if m.token.Expiry.IsZero() {
		return true
	}
	return time.Now().Before(m.token.Expiry)
}

// AccessToken returns the current access token, or "" if none is set.
func (m *TokenManager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return ""
	}
	return m.token.AccessToken
}

// Logout clears the current token set, per spec.md §4.4 "logout clears
// all tokens and cached metadata".
func (m *TokenManager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
}

// GetOrRefresh returns the current token if valid; otherwise it exchanges
// the stored refresh token for a new one and atomically installs it.
// A refresh failure carrying OAuth error "invalid_grant" clears the
// refresh token per spec.md §4.4.
func (m *TokenManager) GetOrRefresh(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	if m.validLocked() {
		tok := m.token
		m.mu.Unlock()
		return tok, nil
	}
	refreshToken := ""
	if m.token != nil {
		refreshToken = m.token.RefreshToken
	}
	m.mu.Unlock()

	if refreshToken == "" {
		return nil, mcperr.New(mcperr.KindAuth, "no refresh token available")
	}

	tok, err := m.refresh(ctx, refreshToken)
	if err != nil {
		if isInvalidGrant(err) {
			m.mu.Lock()
			if m.token != nil {
				m.token.RefreshToken = ""
			}
			m.mu.Unlock()
		}
		return nil, err
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()
	return tok, nil
}

func (m *TokenManager) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	cfg := &oauth2.Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: m.tokenURL},
	}

	src := cfg.TokenSource(oauthHTTPContext(ctx, m.httpClient), &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Minute)})
	tok, err := src.Token()
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindAuth, err, "refreshing access token")
	}
	return tok, nil
}

func isInvalidGrant(err error) bool {
	return strings.Contains(err.Error(), "invalid_grant")
}
