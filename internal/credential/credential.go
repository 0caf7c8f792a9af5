package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"carealert/internal/config"

	"golang.org/x/oauth2/clientcredentials"
)

// ErrEmptyToken reports a provider that returned no usable token.
var ErrEmptyToken = errors.New("empty bearer token")

// Subject identifies the authenticated user driving reconnection.
// An empty subject means nobody is signed in.
type Subject string

// Empty reports whether subject is absent.
func (s Subject) Empty() bool {
	return strings.TrimSpace(string(s)) == ""
}

// TokenSource supplies a short-lived bearer token on demand.
// Params: every call may hit the identity provider; callers must not cache.
// Returns: bearer token or provider error.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticTokenSource always returns the same token.
type StaticTokenSource struct {
	value string
}

// NewStaticTokenSource builds a fixed-token source.
// Params: token value.
// Returns: static source.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{value: strings.TrimSpace(token)}
}

// Token returns configured token.
// Params: context (unused).
// Returns: token or ErrEmptyToken.
func (s *StaticTokenSource) Token(context.Context) (string, error) {
	if s.value == "" {
		return "", ErrEmptyToken
	}
	return s.value, nil
}

// FileTokenSource reads the token from disk on every call so rotated
// tokens are picked up by the next connection attempt.
type FileTokenSource struct {
	path string
}

// NewFileTokenSource builds a file-backed source.
// Params: token file path.
// Returns: file source.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

// Token reads and trims token file contents.
// Params: context checked before reading.
// Returns: token, read error, or ErrEmptyToken.
func (s *FileTokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("read token file %q: %w", s.path, err)
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("token file %q: %w", s.path, ErrEmptyToken)
	}
	return token, nil
}

// OAuth2TokenSource fetches tokens with the client-credentials grant.
// Each call performs a fresh exchange; nothing is reused across attempts.
type OAuth2TokenSource struct {
	cfg clientcredentials.Config
}

// NewOAuth2TokenSource builds client-credentials source.
// Params: token endpoint, client id/secret and scopes.
// Returns: oauth2 source.
func NewOAuth2TokenSource(tokenURL, clientID, clientSecret string, scopes []string) *OAuth2TokenSource {
	return &OAuth2TokenSource{cfg: clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       append([]string(nil), scopes...),
	}}
}

// Token exchanges client credentials for an access token.
// Params: context bounding the exchange.
// Returns: access token or exchange error.
func (s *OAuth2TokenSource) Token(ctx context.Context) (string, error) {
	token, err := s.cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("oauth2 token exchange: %w", err)
	}
	if token.AccessToken == "" {
		return "", ErrEmptyToken
	}
	return token.AccessToken, nil
}

// FromConfig builds configured token source.
// Params: auth section.
// Returns: token source or unsupported type error.
func FromConfig(cfg config.AuthConfig) (TokenSource, error) {
	switch cfg.Type {
	case config.AuthTypeStatic:
		return NewStaticTokenSource(cfg.Token), nil
	case config.AuthTypeFile:
		return NewFileTokenSource(cfg.TokenFile), nil
	case config.AuthTypeOAuth2:
		return NewOAuth2TokenSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scopes), nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Type)
	}
}
