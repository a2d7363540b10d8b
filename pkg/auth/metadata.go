// Package auth implements the OAuth 2.1 authorization client: RFC 9728
// resource-metadata discovery, RFC 8414/OIDC authorization-server
// discovery, PKCE, RFC 7591 dynamic client registration, and the token
// lifecycle that backs an authorized HTTP transport.
//
// Grounded on mutablelogic-go-llm/pkg/httpclient/oauth.go's discovery
// and flow shape and pkg/schema/oauth.go's metadata types, adapted from
// its root-then-path-relative Keycloak-style walk to the exact
// three-candidate fallback chain and RFC 9728 trigger this runtime
// requires.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
)

// ResourceMetadata is an RFC 9728 Protected Resource Metadata document.
type ResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// OAuthMetadata is an RFC 8414 Authorization Server Metadata document
// (also satisfied by an OIDC discovery document's overlapping fields).
type OAuthMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
	GrantTypesSupported           []string `json:"grant_types_supported,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
}

// SupportsS256 reports whether the server advertises the S256 PKCE method.
func (m *OAuthMetadata) SupportsS256() bool {
	for _, v := range m.CodeChallengeMethodsSupported {
		if v == "S256" {
			return true
		}
	}
	return false
}

// SupportsPlainPKCE reports whether the server advertises the plain PKCE method.
func (m *OAuthMetadata) SupportsPlainPKCE() bool {
	for _, v := range m.CodeChallengeMethodsSupported {
		if v == "plain" {
			return true
		}
	}
	return false
}

// SupportsCodeFlow reports whether response_types_supported contains an
// entry granting the authorization_code flow ("code" or "code id_token").
func (m *OAuthMetadata) SupportsCodeFlow() bool {
	for _, v := range m.ResponseTypesSupported {
		if v == "code" || v == "code id_token" {
			return true
		}
	}
	return false
}

// SupportsRegistration reports whether dynamic client registration (RFC
// 7591) is available.
func (m *OAuthMetadata) SupportsRegistration() bool {
	return m.RegistrationEndpoint != ""
}

var wwwAuthResourceMetadataRe = regexp.MustCompile(`resource_metadata="?([^",]+)"?`)

// ParseWWWAuthenticate extracts the resource_metadata URL from a
// `WWW-Authenticate: Bearer ...` header value, per RFC 9728. Returns ""
// if the header does not carry one.
func ParseWWWAuthenticate(header string) string {
	if !strings.HasPrefix(strings.ToLower(header), "bearer") {
		return ""
	}
	m := wwwAuthResourceMetadataRe.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return m[1]
}

// FetchResourceMetadata GETs url and decodes it as RFC 9728 Protected
// Resource Metadata.
func FetchResourceMetadata(ctx context.Context, client *http.Client, metadataURL string) (*ResourceMetadata, error) {
	var meta ResourceMetadata
	if err := getJSON(ctx, client, metadataURL, &meta); err != nil {
		return nil, mcperr.Wrap(mcperr.KindAuth, err, "fetching protected resource metadata")
	}
	if len(meta.AuthorizationServers) == 0 {
		return nil, mcperr.New(mcperr.KindAuth, "resource metadata lists no authorization_servers")
	}
	return &meta, nil
}

// DiscoveryCandidates builds the exact three-form fallback chain from
// spec.md §4.4 scenario 6 for issuer. For an issuer with no path the
// chain is the no-path RFC 8414 form followed by the OIDC form, two URLs
// in all.
func DiscoveryCandidates(issuer string) ([]string, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindAuth, err, "parsing issuer URL")
	}
	u.RawQuery = ""
	u.Fragment = ""

	base := fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	issuerPath := strings.TrimSuffix(u.Path, "/")

	if issuerPath == "" {
		return []string{
			base + "/.well-known/oauth-authorization-server",
			base + "/.well-known/openid-configuration",
		}, nil
	}

	return []string{
		base + "/.well-known/oauth-authorization-server" + issuerPath,
		base + "/.well-known/openid-configuration" + issuerPath,
		base + issuerPath + "/.well-known/openid-configuration",
	}, nil
}

// DiscoverAuthServer walks DiscoveryCandidates(issuer) in order, rejects
// any response whose issuer field does not match, and validates that the
// final metadata advertises PKCE and a usable code flow (P8, scenario 6).
func DiscoverAuthServer(ctx context.Context, client *http.Client, issuer string) (*OAuthMetadata, error) {
	candidates, err := DiscoveryCandidates(issuer)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, candidateURL := range candidates {
		var meta OAuthMetadata
		if err := getJSON(ctx, client, candidateURL, &meta); err != nil {
			lastErr = err
			continue
		}
		if meta.Issuer != "" && meta.Issuer != issuer {
			lastErr = mcperr.Newf(mcperr.KindAuth, "discovery document at %s has issuer %q, expected %q", candidateURL, meta.Issuer, issuer)
			continue
		}
		if !meta.SupportsS256() && !meta.SupportsPlainPKCE() {
			return nil, mcperr.New(mcperr.KindAuth, "PkceNotSupported: server advertises no PKCE code_challenge_methods")
		}
		if !meta.SupportsCodeFlow() {
			return nil, mcperr.New(mcperr.KindAuth, "InsufficientCodeFlow: server does not advertise the authorization_code response type")
		}
		return &meta, nil
	}

	if lastErr == nil {
		lastErr = mcperr.New(mcperr.KindAuth, "no discovery candidates produced")
	}
	return nil, mcperr.Wrap(mcperr.KindAuth, lastErr, fmt.Sprintf("OAuth discovery exhausted all candidates for issuer %s", issuer))
}

func getJSON(ctx context.Context, client *http.Client, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", target, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
