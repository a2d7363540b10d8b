package auth

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/oauth2"

	"github.com/google/uuid"
	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
)

func oauthHTTPContext(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// ClientConfig configures a Client's identity and optional dynamic
// registration behaviour.
type ClientConfig struct {
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	Scopes          []string
	SoftwareID      string
	SoftwareVersion string
	// DynamicRegistration enables RFC 7591 auto-registration when
	// ClientID is empty.
	DynamicRegistration bool
	ClientName          string
	HTTPClient          *http.Client
}

// pendingAuthorization tracks the verifier/state pair for one
// in-flight authorization-code flow awaiting its callback.
type pendingAuthorization struct {
	verifier string
	method   string
	resource string
}

// Client drives the end-to-end OAuth 2.1 authorization flow described in
// spec.md §4.4: 401-triggered RFC 9728 discovery, RFC 8414/OIDC
// authorization-server discovery, optional RFC 7591 registration, PKCE
// authorization-code exchange, and token refresh.
//
// Grounded on mutablelogic-go-llm/pkg/httpclient/oauth.go's Login/
// interactiveFlow shape, split here into discrete steps so a caller can
// drive the redirect/callback across a real browser round trip instead
// of a local loopback listener.
type Client struct {
	cfg ClientConfig

	mu             sync.Mutex
	resourceMeta   *ResourceMetadata
	authServerMeta *OAuthMetadata
	pending        map[string]pendingAuthorization
	tokens         *TokenManager
}

// NewClient builds a Client. cfg.HTTPClient defaults to http.DefaultClient.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{
		cfg:     cfg,
		pending: make(map[string]pendingAuthorization),
	}
}

// DiscoverFromChallenge runs the RFC 9728 + RFC 8414/OIDC discovery
// chain triggered by a 401's WWW-Authenticate header value, per
// spec.md §4.4 "Trigger"/"Discovery". It caches the result on the
// Client for subsequent authorization-URL building.
func (c *Client) DiscoverFromChallenge(ctx context.Context, wwwAuthenticate string) error {
	resourceMetaURL := ParseWWWAuthenticate(wwwAuthenticate)
	if resourceMetaURL == "" {
		return mcperr.New(mcperr.KindAuth, "WWW-Authenticate header carries no resource_metadata parameter")
	}

	resourceMeta, err := FetchResourceMetadata(ctx, c.cfg.HTTPClient, resourceMetaURL)
	if err != nil {
		return err
	}

	authServerMeta, err := DiscoverAuthServer(ctx, c.cfg.HTTPClient, resourceMeta.AuthorizationServers[0])
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.resourceMeta = resourceMeta
	c.authServerMeta = authServerMeta
	c.mu.Unlock()
	return nil
}

// BuildAuthorizationURL generates a fresh PKCE verifier/state pair,
// registers the client dynamically if configured to and no client-id is
// set, and returns the URL for the caller to present to the user
// (spec.md §4.4 "Authorization flow"). The returned state must be
// presented back to ExchangeCode unchanged.
func (c *Client) BuildAuthorizationURL(ctx context.Context) (authURL string, state string, err error) {
	c.mu.Lock()
	meta := c.authServerMeta
	resource := ""
	if c.resourceMeta != nil {
		resource = c.resourceMeta.Resource
	}
	c.mu.Unlock()

	if meta == nil {
		return "", "", mcperr.New(mcperr.KindAuth, "no authorization server metadata discovered yet")
	}

	if c.cfg.ClientID == "" && c.cfg.DynamicRegistration {
		reg, err := RegisterClient(ctx, c.cfg.HTTPClient, meta, ClientRegistrationRequest{
			ClientName:              c.cfg.ClientName,
			RedirectURIs:            []string{c.cfg.RedirectURI},
			GrantTypes:              []string{"authorization_code", "refresh_token"},
			ResponseTypes:           []string{"code"},
			TokenEndpointAuthMethod: "none",
			SoftwareID:              c.cfg.SoftwareID,
			SoftwareVersion:         c.cfg.SoftwareVersion,
		})
		if err != nil {
			return "", "", err
		}
		c.cfg.ClientID = reg.ClientID
		c.cfg.ClientSecret = reg.ClientSecret
	}

	verifier, err := GenerateVerifier()
	if err != nil {
		return "", "", err
	}
	method := PreferredMethod(meta)
	challenge, err := Challenge(verifier, method)
	if err != nil {
		return "", "", err
	}
	stateVal := uuid.NewString()

	c.mu.Lock()
	c.pending[stateVal] = pendingAuthorization{verifier: verifier, method: method, resource: resource}
	c.mu.Unlock()

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("state", stateVal)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", method)
	if resource != "" {
		q.Set("resource", resource)
	}
	if len(c.cfg.Scopes) > 0 {
		q.Set("scope", joinScopes(c.cfg.Scopes))
	}

	return meta.AuthorizationEndpoint + "?" + q.Encode(), stateVal, nil
}

// CallbackParams is the query-string payload an OAuth redirect delivers,
// per spec.md §6 "OAuth callback".
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	ErrorURI         string
}

// ExchangeCode verifies params.State against the stored pending
// authorization, surfaces any upstream error verbatim, and exchanges the
// authorization code for tokens, installing them into the Client's
// TokenManager (spec.md §4.4 "Authorization flow").
func (c *Client) ExchangeCode(ctx context.Context, params CallbackParams) (*oauth2.Token, error) {
	if params.Error != "" {
		return nil, mcperr.Newf(mcperr.KindAuth, "authorization server returned error: %s",
			OAuthErrorResponse{Error: params.Error, ErrorDescription: params.ErrorDescription, ErrorURI: params.ErrorURI}.String(0))
	}

	c.mu.Lock()
	pending, ok := c.pending[params.State]
	if ok {
		delete(c.pending, params.State)
	}
	meta := c.authServerMeta
	c.mu.Unlock()

	if !ok {
		return nil, mcperr.New(mcperr.KindStateMismatch, "callback state does not match any pending authorization request")
	}
	if meta == nil {
		return nil, mcperr.New(mcperr.KindAuth, "no authorization server metadata discovered yet")
	}
	if params.Code == "" {
		return nil, mcperr.New(mcperr.KindAuth, "callback carries no authorization code")
	}

	cfg := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  meta.AuthorizationEndpoint,
			TokenURL: meta.TokenEndpoint,
		},
	}

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(pending.verifier)}
	if pending.resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", pending.resource))
	}

	tok, err := cfg.Exchange(oauthHTTPContext(ctx, c.cfg.HTTPClient), params.Code, opts...)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindAuth, err, "exchanging authorization code for tokens")
	}

	c.mu.Lock()
	c.tokens = NewTokenManager(c.cfg.HTTPClient, meta.TokenEndpoint, c.cfg.ClientID, c.cfg.ClientSecret, pending.resource)
	c.tokens.SetToken(tok)
	c.mu.Unlock()

	return tok, nil
}

// Tokens returns the Client's TokenManager, or nil if no exchange has
// completed yet.
func (c *Client) Tokens() *TokenManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// Logout clears all tokens and cached discovery metadata (spec.md §4.4).
func (c *Client) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens != nil {
		c.tokens.Logout()
	}
	c.resourceMeta = nil
	c.authServerMeta = nil
	c.pending = make(map[string]pendingAuthorization)
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
