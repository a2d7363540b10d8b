package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
)

// ClientRegistrationRequest is an RFC 7591 dynamic client registration
// request body.
type ClientRegistrationRequest struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	SoftwareID              string   `json:"software_id,omitempty"`
	SoftwareVersion         string   `json:"software_version,omitempty"`
}

// ClientRegistrationResponse is the registration_endpoint's response.
type ClientRegistrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// RegisterClient POSTs req to meta.RegistrationEndpoint per spec.md
// §4.4 "Registration" and returns the assigned client-id/secret, to be
// persisted in the caller's authorization context.
func RegisterClient(ctx context.Context, client *http.Client, meta *OAuthMetadata, req ClientRegistrationRequest) (*ClientRegistrationResponse, error) {
	if !meta.SupportsRegistration() {
		return nil, mcperr.New(mcperr.KindAuth, "authorization server does not advertise a registration_endpoint")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindSerialization, err, "marshaling client registration request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindAuth, err, "building client registration request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindAuth, err, "sending client registration request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var oauthErr OAuthErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&oauthErr)
		return nil, mcperr.Newf(mcperr.KindAuth, "dynamic client registration failed: %s", oauthErr.String(resp.StatusCode))
	}

	var out ClientRegistrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, mcperr.Wrap(mcperr.KindSerialization, err, "decoding client registration response")
	}
	return &out, nil
}
