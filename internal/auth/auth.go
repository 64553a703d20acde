// Package auth obtains and caches the two credentials issued by the KIS Open API:
// the REST bearer token (TokenManager) and the websocket approval key (ApprovalIssuer).
// Both are derived from the same application key/secret but have independent lifecycles.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/kis-data/internal/metrics"
	"github.com/rickgao/kis-data/internal/version"
)

// GrantType is the only grant the issuing endpoints accept.
const GrantType = "client_credentials"

// Credentials holds the static application identity.
type Credentials struct {
	AppKey    string
	AppSecret string
}

// Validate checks that both halves of the identity are present.
func (c Credentials) Validate() error {
	if c.AppKey == "" {
		return errors.New("app key is required")
	}
	if c.AppSecret == "" {
		return errors.New("app secret is required")
	}
	return nil
}

// Redact shortens a secret for logging.
func Redact(s string) string {
	if len(s) <= 6 {
		return "***"
	}
	return s[:6] + "***"
}

// AuthError reports a failed access token issuance.
type AuthError struct {
	StatusCode int // 0 for transport failures
	Message    string
	Body       []byte
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kis token error: %s: %v", e.Message, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("kis token error %d: %s", e.StatusCode, e.Message)
	}
	return "kis token error: " + e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Option configures a TokenManager or ApprovalIssuer.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	margin     time.Duration
	metrics    *metrics.Metrics
}

func newOptions(opts []Option) options {
	o := options{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		now:        time.Now,
		margin:     DefaultExpiryMargin,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithExpiryMargin sets how long before the upstream expiry a token is refreshed.
func WithExpiryMargin(d time.Duration) Option {
	return func(o *options) {
		o.margin = d
	}
}

// WithMetrics records refresh outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// postJSON sends payload to url and returns the status code and raw body.
func postJSON(ctx context.Context, hc *http.Client, url string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, body, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
