package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/kis-data/internal/metrics"
)

// TokenPath is the access token issuance endpoint.
const TokenPath = "/oauth2/tokenP"

// DefaultExpiryMargin is how long before the upstream expiry a token is
// considered due for refresh. The effective margin is capped at half the
// token lifetime.
const DefaultExpiryMargin = 60 * time.Second

// Forced refreshes get their own flight so they never reuse a result that
// started before the force was requested.
const (
	refreshKey      = "access_token"
	forceRefreshKey = "access_token/force"
)

// Token is an issued bearer token.
type Token struct {
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the upstream expiry has been reached at now.
func (t Token) Expired(now time.Time) bool {
	return t.AccessToken == "" || !now.Before(t.ExpiresAt)
}

type heldToken struct {
	Token
	refreshAt time.Time
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   seconds `json:"expires_in"`
}

// seconds decodes both 86400 and "86400".
type seconds int64

func (s *seconds) UnmarshalJSON(b []byte) error {
	str := strings.Trim(string(b), `"`)
	if str == "" || str == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return fmt.Errorf("parse seconds %q: %w", str, err)
	}
	*s = seconds(n)
	return nil
}

// TokenManager owns the REST bearer token. Token is safe for concurrent use;
// callers racing an expired token share a single refresh.
type TokenManager struct {
	creds      Credentials
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	margin     time.Duration
	metrics    *metrics.Metrics

	held  atomic.Pointer[heldToken]
	group singleflight.Group
}

// NewTokenManager creates a TokenManager issuing tokens from baseURL.
func NewTokenManager(baseURL string, creds Credentials, opts ...Option) *TokenManager {
	o := newOptions(opts)
	return &TokenManager{
		creds:      creds,
		url:        joinURL(baseURL, TokenPath),
		httpClient: o.httpClient,
		logger:     o.logger.With("component", "token_manager"),
		now:        o.now,
		margin:     o.margin,
		metrics:    o.metrics,
	}
}

// Token returns a token that is not due for refresh, issuing a new one if needed.
// On failure it returns an *AuthError.
func (m *TokenManager) Token(ctx context.Context) (Token, error) {
	if h := m.held.Load(); h != nil && m.now().Before(h.refreshAt) {
		return h.Token, nil
	}
	return m.refresh(ctx, false)
}

// ForceRefresh issues a new token regardless of the held one.
func (m *TokenManager) ForceRefresh(ctx context.Context) (Token, error) {
	return m.refresh(ctx, true)
}

// Current returns the held token without refreshing it.
func (m *TokenManager) Current() (Token, bool) {
	h := m.held.Load()
	if h == nil {
		return Token{}, false
	}
	return h.Token, true
}

func (m *TokenManager) refresh(ctx context.Context, force bool) (Token, error) {
	key := refreshKey
	if force {
		key = forceRefreshKey
	}
	ch := m.group.DoChan(key, func() (any, error) {
		// A refresh may have completed between the fast path and joining the group.
		if h := m.held.Load(); !force && h != nil && m.now().Before(h.refreshAt) {
			return h.Token, nil
		}
		// The refresh outlives any single waiter; the HTTP client timeout bounds it.
		return m.issue(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(Token), nil
		}
		if h := m.held.Load(); !force && h != nil && !h.Expired(m.now()) {
			m.logger.Warn("token refresh failed, using held token until expiry",
				"expires_at", h.ExpiresAt,
				"error", res.Err,
			)
			return h.Token, nil
		}
		return Token{}, res.Err
	}
}

// issue performs one token request and stores the result.
func (m *TokenManager) issue(ctx context.Context) (Token, error) {
	issuedAt := m.now()

	tok, err := m.request(ctx, issuedAt)
	m.metrics.TokenRefresh(err)
	if err != nil {
		m.logger.Error("token issuance failed", "error", err)
		return Token{}, err
	}

	lifetime := tok.ExpiresAt.Sub(tok.IssuedAt)
	margin := m.margin
	if margin > lifetime/2 {
		margin = lifetime / 2
	}

	m.held.Store(&heldToken{
		Token:     tok,
		refreshAt: tok.ExpiresAt.Add(-margin),
	})

	m.logger.Info("access token issued",
		"token", Redact(tok.AccessToken),
		"expires_at", tok.ExpiresAt,
		"refresh_margin", margin,
	)

	return tok, nil
}

func (m *TokenManager) request(ctx context.Context, issuedAt time.Time) (Token, error) {
	status, body, err := postJSON(ctx, m.httpClient, m.url, tokenRequest{
		GrantType: GrantType,
		AppKey:    m.creds.AppKey,
		AppSecret: m.creds.AppSecret,
	})
	if err != nil {
		return Token{}, &AuthError{StatusCode: status, Message: "token request failed", Body: body, Err: err}
	}

	if status < 200 || status >= 300 {
		return Token{}, &AuthError{StatusCode: status, Message: http.StatusText(status), Body: body}
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Token{}, &AuthError{StatusCode: status, Message: "invalid token response", Body: body, Err: err}
	}
	if resp.AccessToken == "" {
		return Token{}, &AuthError{StatusCode: status, Message: "response has no access_token", Body: body}
	}
	if resp.ExpiresIn <= 0 {
		return Token{}, &AuthError{StatusCode: status, Message: "response has no usable expires_in", Body: body}
	}

	return Token{
		AccessToken: resp.AccessToken,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}
