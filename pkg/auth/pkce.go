package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/richard-senior/go-mcp-runtime/pkg/mcperr"
)

const pkceUnreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// GenerateVerifier returns a cryptographically random 43-128 char code
// verifier drawn from RFC 7636's unreserved character set.
func GenerateVerifier() (string, error) {
	const length = 64
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", mcperr.Wrap(mcperr.KindAuth, err, "generating PKCE verifier")
	}
	out := make([]byte, length)
	for i, b := range raw {
		out[i] = pkceUnreserved[int(b)%len(pkceUnreserved)]
	}
	return string(out), nil
}

// Challenge derives the code_challenge for verifier under method ("S256"
// or "plain").
func Challenge(verifier, method string) (string, error) {
	switch method {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case "plain":
		return verifier, nil
	default:
		return "", mcperr.Newf(mcperr.KindAuth, "unsupported PKCE method %q", method)
	}
}

// VerifyChallenge reports whether verifier produces challenge under
// method, comparing in constant time with respect to the compared bytes
// (spec.md §4.4 "Constant-time comparisons MUST be used").
func VerifyChallenge(verifier, challenge, method string) bool {
	want, err := Challenge(verifier, method)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(challenge)) == 1
}

// PreferredMethod picks S256 over plain when both are offered, per
// spec.md §4.4 "Prefer S256 where offered".
func PreferredMethod(meta *OAuthMetadata) string {
	if meta.SupportsS256() {
		return "S256"
	}
	if meta.SupportsPlainPKCE() {
		return "plain"
	}
	return "S256"
}
