package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWWWAuthenticateExtractsResourceMetadata(t *testing.T) {
	got := ParseWWWAuthenticate(`Bearer realm="mcp", resource_metadata="https://res.example.com/.well-known/oauth-protected-resource"`)
	assert.Equal(t, "https://res.example.com/.well-known/oauth-protected-resource", got)
}

func TestParseWWWAuthenticateNoHeader(t *testing.T) {
	assert.Equal(t, "", ParseWWWAuthenticate(`Basic realm="x"`))
	assert.Equal(t, "", ParseWWWAuthenticate(`Bearer realm="mcp"`))
}

func TestPKCERFC7636Vector(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge, err := Challenge(verifier, "S256")
	require.NoError(t, err)
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", challenge)
	assert.True(t, VerifyChallenge(verifier, challenge, "S256"))
	assert.False(t, VerifyChallenge("wrong-verifier-000000000000000000000000000", challenge, "S256"))
}

func TestGenerateVerifierLengthAndRoundTrip(t *testing.T) {
	v, err := GenerateVerifier()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(v), 43)
	assert.LessOrEqual(t, len(v), 128)

	challenge, err := Challenge(v, "S256")
	require.NoError(t, err)
	assert.True(t, VerifyChallenge(v, challenge, "S256"))
}

func TestDiscoveryCandidatesPathOrder(t *testing.T) {
	candidates, err := DiscoveryCandidates("https://auth.example.com/tenant1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://auth.example.com/.well-known/oauth-authorization-server/tenant1",
		"https://auth.example.com/.well-known/openid-configuration/tenant1",
		"https://auth.example.com/tenant1/.well-known/openid-configuration",
	}, candidates)
}

func TestDiscoveryCandidatesNoPath(t *testing.T) {
	candidates, err := DiscoveryCandidates("https://auth.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://auth.example.com/.well-known/oauth-authorization-server",
		"https://auth.example.com/.well-known/openid-configuration",
	}, candidates)
}

// TestDiscoverAuthServerFallsBackPastMismatchedIssuer exercises P8: the
// first candidate's issuer doesn't match, the second 404s, and the
// third (path-append OIDC form) succeeds.
func TestDiscoverAuthServerFallsBackPastMismatchedIssuer(t *testing.T) {
	mux := http.NewServeMux()
	var issuer string
	mux.HandleFunc("/.well-known/oauth-authorization-server/tenant1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OAuthMetadata{Issuer: "https://wrong-issuer.example.com"})
	})
	mux.HandleFunc("/.well-known/openid-configuration/tenant1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/tenant1/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OAuthMetadata{
			Issuer:                        issuer,
			AuthorizationEndpoint:         issuer + "/authorize",
			TokenEndpoint:                 issuer + "/token",
			CodeChallengeMethodsSupported: []string{"S256"},
			ResponseTypesSupported:        []string{"code"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	issuer = srv.URL + "/tenant1"

	meta, err := DiscoverAuthServer(context.Background(), srv.Client(), issuer)
	require.NoError(t, err)
	assert.Equal(t, issuer+"/authorize", meta.AuthorizationEndpoint)
}

func TestDiscoverAuthServerRejectsMissingPKCE(t *testing.T) {
	mux := http.NewServeMux()
	var issuer string
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OAuthMetadata{Issuer: issuer})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	issuer = srv.URL

	_, err := DiscoverAuthServer(context.Background(), srv.Client(), issuer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PkceNotSupported")
}

func TestTokenManagerGetOrRefreshReturnsValidTokenWithoutNetworkCall(t *testing.T) {
	tm := NewTokenManager(http.DefaultClient, "http://unused.invalid/token", "client-id", "", "")
	tm.SetToken(&oauth2.Token{AccessToken: "valid-access-token", Expiry: time.Now().Add(time.Hour)})

	tok, err := tm.GetOrRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "valid-access-token", tok.AccessToken)
}

func TestTokenManagerRefreshesExpiredToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access-token",
			"refresh_token": "new-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tm := NewTokenManager(srv.Client(), srv.URL+"/token", "client-id", "", "")
	tm.SetToken(&oauth2.Token{
		AccessToken:  "stale-access-token",
		RefreshToken: "refresh-token",
		Expiry:       time.Now().Add(-time.Hour),
	})

	tok, err := tm.GetOrRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access-token", tok.AccessToken)
}

func TestTokenManagerClearsRefreshTokenOnInvalidGrant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tm := NewTokenManager(srv.Client(), srv.URL+"/token", "client-id", "", "")
	tm.SetToken(&oauth2.Token{
		AccessToken:  "stale-access-token",
		RefreshToken: "refresh-token",
		Expiry:       time.Now().Add(-time.Hour),
	})

	_, err := tm.GetOrRefresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, "", tm.token.RefreshToken)
}

func TestClientDiscoverFromChallengeAndBuildAuthorizationURL(t *testing.T) {
	var authServerURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ResourceMetadata{
			Resource:             "https://res.example.com",
			AuthorizationServers: []string{authServerURL},
		})
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OAuthMetadata{
			Issuer:                        authServerURL,
			AuthorizationEndpoint:         authServerURL + "/authorize",
			TokenEndpoint:                 authServerURL + "/token",
			CodeChallengeMethodsSupported: []string{"S256"},
			ResponseTypesSupported:        []string{"code"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	authServerURL = srv.URL

	client := NewClient(ClientConfig{
		ClientID:    "test-client",
		RedirectURI: "http://localhost:8080/callback",
		HTTPClient:  srv.Client(),
	})

	wwwAuth := `Bearer resource_metadata="` + srv.URL + `/.well-known/oauth-protected-resource"`
	require.NoError(t, client.DiscoverFromChallenge(context.Background(), wwwAuth))

	authURL, state, err := client.BuildAuthorizationURL(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, authURL, srv.URL+"/authorize?")
	assert.Contains(t, authURL, "code_challenge_method=S256")
	assert.Contains(t, authURL, "state="+state)
}

func TestClientExchangeCodeRejectsStateMismatch(t *testing.T) {
	client := NewClient(ClientConfig{ClientID: "c", HTTPClient: http.DefaultClient})
	_, err := client.ExchangeCode(context.Background(), CallbackParams{Code: "abc", State: "unknown-state"})
	require.Error(t, err)
}
