package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rickgao/kis-data/internal/version"
)

// APIError represents a failed KIS API data query.
type APIError struct {
	StatusCode int // 0 for transport failures
	Message    string
	Body       []byte
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kis api error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("kis api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a caller may reasonably retry the query.
// The client itself never retries.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}

// waitError makes a limiter refusal match the context error it stands for.
// The limiter refuses early when the next slot falls after the deadline.
func waitError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

// Call issues one authenticated GET to endpoint with the given transaction id.
// A token failure is returned as the *auth.AuthError it is; every other failure
// is an *APIError.
func (c *Client) Call(ctx context.Context, endpoint string, query url.Values, trID string) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &APIError{Message: "rate limited", Err: waitError(ctx, err)}
		}
	}

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	fullURL := c.baseURL + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &APIError{Message: "create request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("appkey", c.creds.AppKey)
	req.Header.Set("appsecret", c.creds.AppSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", c.custType)
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.APIRequest(trID, 0, time.Since(start))
		c.logger.Warn("api request failed", "endpoint", endpoint, "tr_id", trID, "error", err)
		return nil, &APIError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.metrics.APIRequest(trID, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("api request rejected",
			"endpoint", endpoint,
			"tr_id", trID,
			"status", resp.StatusCode,
		)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	if !json.Valid(body) {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    "invalid JSON response",
			Body:       body,
		}
	}

	return json.RawMessage(body), nil
}
