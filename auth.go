package kurirgo

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"

	"github.com/ambiyansyah-risyal/kurirgo/internal/singleflight"
)

const refreshKey = "token-refresh"

// authCoordinator injects bearer tokens into outbound requests and
// coordinates 401-triggered refreshes. Concurrent 401 handlers share a
// single in-flight refresh through the singleflight group; the group's
// deferred cleanup keeps the settled handle observable for stragglers
// before the key becomes reusable.
type authCoordinator struct {
	provider       TokenProvider
	onUnauthorized UnauthorizedHandler
	locale         string
	refresh        *singleflight.Group[string]
}

func newAuthCoordinator(provider TokenProvider, handler UnauthorizedHandler, locale string) *authCoordinator {
	return &authCoordinator{
		provider:       provider,
		onUnauthorized: handler,
		locale:         locale,
		refresh:        singleflight.New[string](singleflight.DefaultGrace),
	}
}

// decorate adds the Authorization header (and locale header, when
// configured) to the request. Missing or invalid tokens are skipped
// silently; decoration is best effort, not an error condition.
func (a *authCoordinator) decorate(ctx context.Context, req *http.Request) {
	if a == nil || a.provider == nil {
		return
	}
	if a.locale != "" {
		req.Header.Set("Accept-Language", a.locale)
	}
	if !a.provider.HasValidToken(ctx) {
		return
	}
	token, err := a.provider.AccessToken(ctx)
	if err != nil || token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

// refreshToken runs a single-flight token refresh. Every concurrent caller
// receives the same outcome; a failed refresh resolves uniformly with ""
// rather than an error so all waiters observe the same negative result.
func (a *authCoordinator) refreshToken(ctx context.Context) string {
	token, err := a.refresh.Do(ctx, refreshKey, func() (string, error) {
		fresh, refreshErr := a.provider.RefreshToken(context.WithoutCancel(ctx))
		if refreshErr != nil {
			return "", nil
		}
		return fresh, nil
	})
	if err != nil {
		return ""
	}
	return token
}

// notifyUnauthorized fires the unauthorized handler once per request.
func (a *authCoordinator) notifyUnauthorized(rc *requestContext) {
	if a.onUnauthorized == nil || rc.unauthorizedFired {
		return
	}
	rc.unauthorizedFired = true
	go a.onUnauthorized()
}

// StaticTokenProvider serves a fixed token that can be swapped at runtime.
// When the token looks like a JWT its exp claim is checked, so an expired
// token is reported invalid without a round trip. It has no refresh
// capability unless a refresh function is supplied.
type StaticTokenProvider struct {
	mu      sync.RWMutex
	token   string
	refresh func(ctx context.Context) (string, error)
}

// NewStaticTokenProvider creates a provider around a fixed token. The
// optional refresh function is invoked on 401-triggered refreshes; pass nil
// for tokens that cannot be renewed.
func NewStaticTokenProvider(token string, refresh func(ctx context.Context) (string, error)) *StaticTokenProvider {
	return &StaticTokenProvider{token: token, refresh: refresh}
}

// AccessToken returns the current token.
func (p *StaticTokenProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token, nil
}

// SetToken replaces the current token.
func (p *StaticTokenProvider) SetToken(token string) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
}

// HasValidToken reports whether a token is present and, for JWTs, not
// expired. Opaque tokens are assumed valid.
func (p *StaticTokenProvider) HasValidToken(ctx context.Context) bool {
	p.mu.RLock()
	token := p.token
	p.mu.RUnlock()

	if token == "" {
		return false
	}
	if strings.Count(token, ".") != 2 {
		return true
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Not parseable as a JWT; treat as opaque.
		return true
	}
	return claims.VerifyExpiresAt(time.Now().Unix(), false)
}

// RefreshToken invokes the configured refresh function and stores its
// result. Without a refresh function it reports no new token.
func (p *StaticTokenProvider) RefreshToken(ctx context.Context) (string, error) {
	if p.refresh == nil {
		return "", nil
	}
	token, err := p.refresh(ctx)
	if err != nil {
		return "", err
	}
	p.SetToken(token)
	return token, nil
}

// OAuth2TokenProvider adapts an oauth2.TokenSource to the TokenProvider
// interface. Wrap the source with oauth2.ReuseTokenSource to get cached
// access tokens with automatic renewal on expiry.
type OAuth2TokenProvider struct {
	source oauth2.TokenSource
}

// NewOAuth2TokenProvider creates a provider backed by the given source.
func NewOAuth2TokenProvider(source oauth2.TokenSource) *OAuth2TokenProvider {
	return &OAuth2TokenProvider{source: source}
}

// AccessToken returns the source's current access token.
func (p *OAuth2TokenProvider) AccessToken(ctx context.Context) (string, error) {
	token, err := p.source.Token()
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// HasValidToken reports whether the source can produce a valid token.
func (p *OAuth2TokenProvider) HasValidToken(ctx context.Context) bool {
	token, err := p.source.Token()
	return err == nil && token.Valid()
}

// RefreshToken asks the source for a token again. Reuse-style sources
// renew expired tokens transparently on this call.
func (p *OAuth2TokenProvider) RefreshToken(ctx context.Context) (string, error) {
	token, err := p.source.Token()
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}
