package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ApprovalPath is the websocket approval key issuance endpoint.
const ApprovalPath = "/oauth2/Approval"

// ApprovalKey authorizes a single websocket session.
type ApprovalKey struct {
	Key      string
	IssuedAt time.Time
}

// StreamAuthError reports a failed approval key issuance.
type StreamAuthError struct {
	StatusCode int // 0 for transport failures
	Message    string
	Body       []byte
	Err        error
}

func (e *StreamAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kis approval error: %s: %v", e.Message, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("kis approval error %d: %s", e.StatusCode, e.Message)
	}
	return "kis approval error: " + e.Message
}

func (e *StreamAuthError) Unwrap() error {
	return e.Err
}

type approvalRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// ApprovalIssuer requests approval keys. It never caches: every call to Issue
// hits the upstream endpoint.
type ApprovalIssuer struct {
	creds      Credentials
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewApprovalIssuer creates an ApprovalIssuer for baseURL.
func NewApprovalIssuer(baseURL string, creds Credentials, opts ...Option) *ApprovalIssuer {
	o := newOptions(opts)
	return &ApprovalIssuer{
		creds:      creds,
		url:        joinURL(baseURL, ApprovalPath),
		httpClient: o.httpClient,
		logger:     o.logger.With("component", "approval_issuer"),
		now:        o.now,
	}
}

// Issue requests a fresh approval key. On failure it returns a *StreamAuthError.
func (a *ApprovalIssuer) Issue(ctx context.Context) (ApprovalKey, error) {
	status, body, err := postJSON(ctx, a.httpClient, a.url, approvalRequest{
		GrantType: GrantType,
		AppKey:    a.creds.AppKey,
		SecretKey: a.creds.AppSecret,
	})
	if err != nil {
		return ApprovalKey{}, &StreamAuthError{StatusCode: status, Message: "approval request failed", Body: body, Err: err}
	}

	if status < 200 || status >= 300 {
		a.logger.Error("approval key request rejected", "status", status, "body", string(body))
		return ApprovalKey{}, &StreamAuthError{StatusCode: status, Message: http.StatusText(status), Body: body}
	}

	var resp approvalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ApprovalKey{}, &StreamAuthError{StatusCode: status, Message: "invalid approval response", Body: body, Err: err}
	}
	if resp.ApprovalKey == "" {
		a.logger.Error("approval response has no approval_key", "body", string(body))
		return ApprovalKey{}, &StreamAuthError{StatusCode: status, Message: "response has no approval_key", Body: body}
	}

	a.logger.Info("approval key issued", "approval_key", Redact(resp.ApprovalKey))

	return ApprovalKey{
		Key:      resp.ApprovalKey,
		IssuedAt: a.now(),
	}, nil
}
