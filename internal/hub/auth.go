package hub

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenProvider adapts an oauth2.TokenSource to the AuthProvider contract.
// How the credential is discovered (env var, keychain, CLI login) is the
// caller's concern; the core only ever sees the bearer string.
type TokenProvider struct {
	source oauth2.TokenSource
}

// NewStaticTokenProvider wraps a fixed bearer token. An empty token yields a
// provider that grants anonymous access.
func NewStaticTokenProvider(token string) *TokenProvider {
	if token == "" {
		return &TokenProvider{}
	}

	return &TokenProvider{
		source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
	}
}

// NewTokenProvider wraps an arbitrary token source, cached so refreshable
// sources aren't hit on every request.
func NewTokenProvider(source oauth2.TokenSource) *TokenProvider {
	return &TokenProvider{source: oauth2.ReuseTokenSource(nil, source)}
}

// Token implements download.AuthProvider. Empty string means anonymous.
func (p *TokenProvider) Token(_ context.Context) (string, error) {
	if p == nil || p.source == nil {
		return "", nil
	}

	tok, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to obtain bearer token: %w", err)
	}

	return tok.AccessToken, nil
}
