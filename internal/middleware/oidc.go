// Package middleware provides HTTP middleware for the watchbridge
// server, including OIDC-based authentication.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/authn"
	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/otterscale/watchbridge/internal/core"
)

// accessTokenParam carries the bearer token on WebSocket upgrades,
// where browsers cannot set an Authorization header.
const accessTokenParam = "access_token"

// groupClaims holds the custom claims extracted from an ID token. The
// "groups" claim contains the user's identity-provider groups.
type groupClaims struct {
	Groups []string `json:"groups"`
}

// NewOIDC creates an authentication middleware that verifies incoming
// bearer tokens against the given OIDC issuer and client ID. It
// returns nil when issuer is empty, which disables authentication.
//
// On success, the subject and groups are stored in the request
// context as core.UserInfo. Identity-provider groups are prefixed
// with "oidc:" and "system:authenticated" is always included.
func NewOIDC(issuer, clientID string) (*authn.Middleware, error) {
	if issuer == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init oidc provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	authenticate := func(ctx context.Context, r *http.Request) (any, error) {
		token, found := bearerToken(r)
		if !found {
			return nil, authn.Errorf("missing or invalid bearer token")
		}

		idToken, err := verifier.Verify(ctx, token)
		if err != nil {
			return nil, authn.Errorf("invalid token: %s", err)
		}

		var claims groupClaims
		if err := idToken.Claims(&claims); err != nil {
			return nil, authn.Errorf("parse token claims: %s", err)
		}

		return userInfo(idToken.Subject, claims.Groups), nil
	}

	return authn.NewMiddleware(authenticate), nil
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter.
func bearerToken(r *http.Request) (string, bool) {
	if token, found := authn.BearerToken(r); found && token != "" {
		return token, true
	}
	if token := r.URL.Query().Get(accessTokenParam); token != "" {
		return token, true
	}
	return "", false
}

func userInfo(subject string, groups []string) core.UserInfo {
	out := make([]string, 0, len(groups)+1)
	out = append(out, "system:authenticated")
	for _, g := range groups {
		// Prefix with "oidc:" to avoid collisions with
		// Kubernetes built-in groups (e.g. "system:masters").
		out = append(out, "oidc:"+g)
	}
	return core.UserInfo{Subject: subject, Groups: out}
}
