package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
)

// Authorizer is installed on an HTTPSSEClientTransport or
// StreamingHTTPClientTransport via transport.WithAuthorize, satisfying
// transport.AuthorizeFunc. It attaches the current bearer token to every
// request and, on a forced refresh, exchanges the refresh token exactly
// once before retrying (spec.md §4.4 "Integration with HTTP transport",
// P11).
type Authorizer struct {
	tokens *TokenManager
}

// NewAuthorizer wraps tokens for use as a transport.AuthorizeFunc.
func NewAuthorizer(tokens *TokenManager) *Authorizer {
	return &Authorizer{tokens: tokens}
}

// Authorize implements the transport.AuthorizeFunc signature
// (func(ctx, *http.Request, refresh bool) error) without importing
// pkg/transport, avoiding an import cycle: transport.WithAuthorize
// accepts any matching function value.
func (a *Authorizer) Authorize(ctx context.Context, req *http.Request, refresh bool) error {
	if a.tokens == nil {
		return mcperr.New(mcperr.KindAuth, "no token manager installed")
	}

	var tok string
	if !refresh && a.tokens.Valid() {
		tok = a.tokens.AccessToken()
	} else {
		if refresh {
			// The server rejected the current access token: mark it
			// expired so GetOrRefresh exchanges the refresh token.
			a.tokens.mu.Lock()
			if a.tokens.token != nil {
				expired := *a.tokens.token
				expired.Expiry = time.Now().Add(-time.Minute)
				a.tokens.token = &expired
			}
			a.tokens.mu.Unlock()
		}
		t, err := a.tokens.GetOrRefresh(ctx)
		if err != nil {
			return err
		}
		tok = t.AccessToken
	}

	if tok == "" {
		return mcperr.New(mcperr.KindAuth, "no access token available to authorize request")
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}
