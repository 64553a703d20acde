package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// tokenServer issues "tok-<n>" tokens with the given lifetime. Setting
// fail to true makes it answer 500.
type tokenServer struct {
	*httptest.Server
	calls     atomic.Int32
	fail      atomic.Bool
	delay     atomic.Int64
	expiresIn int
}

func newTokenServer(t *testing.T, expiresIn int) *tokenServer {
	t.Helper()
	ts := &tokenServer{expiresIn: expiresIn}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)

		if r.Method != http.MethodPost || r.URL.Path != TokenPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}

		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode token request: %v", err)
		}
		if req.GrantType != "client_credentials" || req.AppKey != "app-key" || req.AppSecret != "app-secret" {
			t.Errorf("token request = %+v", req)
		}

		if d := time.Duration(ts.delay.Load()); d > 0 {
			time.Sleep(d)
		}

		if ts.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error_description":"server error"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"Bearer","expires_in":%d}`, n, ts.expiresIn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

var testCreds = Credentials{AppKey: "app-key", AppSecret: "app-secret"}

func TestTokenManager_IssuesOnFirstUse(t *testing.T) {
	ts := newTokenServer(t, 86400)
	clock := newFakeClock()
	m := NewTokenManager(ts.URL, testCreds, WithClock(clock.Now))

	if _, ok := m.Current(); ok {
		t.Fatal("Current() should report no token before first use")
	}

	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok.AccessToken != "tok-1" {
		t.Errorf("AccessToken = %q, want tok-1", tok.AccessToken)
	}
	if want := clock.Now().Add(86400 * time.Second); !tok.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, want)
	}

	// Cached on the second call.
	tok2, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok2.AccessToken != "tok-1" {
		t.Errorf("second AccessToken = %q, want tok-1", tok2.AccessToken)
	}
	if got := ts.calls.Load(); got != 1 {
		t.Errorf("token endpoint calls = %d, want 1", got)
	}
}

func TestTokenManager_ConcurrentCallersShareOneRefresh(t *testing.T) {
	ts := newTokenServer(t, 100)
	clock := newFakeClock()
	m := NewTokenManager(ts.URL, testCreds, WithClock(clock.Now), WithExpiryMargin(10*time.Second))

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("initial Token failed: %v", err)
	}

	// Move past expiry and make the refresh slow enough for callers to pile up.
	clock.Advance(200 * time.Second)
	ts.delay.Store(int64(50 * time.Millisecond))

	const callers = 50
	var wg sync.WaitGroup
	start := make(chan struct{})
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tok, err := m.Token(context.Background())
			tokens[i] = tok.AccessToken
			errs[i] = err
		}(i)
	}
	close(start)
	wg.Wait()

	if got := ts.calls.Load(); got != 2 {
		t.Errorf("token endpoint calls = %d, want 2 (initial + one refresh)", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d: unexpected error %v", i, errs[i])
		}
		if tokens[i] != "tok-2" {
			t.Errorf("caller %d: token = %q, want tok-2", i, tokens[i])
		}
	}
}

func TestTokenManager_ConcurrentFirstUse(t *testing.T) {
	ts := newTokenServer(t, 86400)
	ts.delay.Store(int64(30 * time.Millisecond))
	m := NewTokenManager(ts.URL, testCreds)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Token(context.Background()); err != nil {
				t.Errorf("Token failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := ts.calls.Load(); got != 1 {
		t.Errorf("token endpoint calls = %d, want 1", got)
	}
}

func TestTokenManager_RefreshesAfterMargin(t *testing.T) {
	ts := newTokenServer(t, 120)
	clock := newFakeClock()
	m := NewTokenManager(ts.URL, testCreds, WithClock(clock.Now), WithExpiryMargin(10*time.Second))

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	// 11s before expiry: still outside the margin.
	clock.Advance(109 * time.Second)
	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok.AccessToken != "tok-1" || ts.calls.Load() != 1 {
		t.Fatalf("refreshed too early: token %q, calls %d", tok.AccessToken, ts.calls.Load())
	}

	// 9s before expiry: inside the margin, refresh exactly once.
	clock.Advance(2 * time.Second)
	for i := 0; i < 3; i++ {
		tok, err = m.Token(context.Background())
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
	}
	if tok.AccessToken != "tok-2" {
		t.Errorf("AccessToken = %q, want tok-2", tok.AccessToken)
	}
	if got := ts.calls.Load(); got != 2 {
		t.Errorf("token endpoint calls = %d, want 2", got)
	}
}

func TestTokenManager_MarginClampedForShortLivedTokens(t *testing.T) {
	// A one second token with the default 60s margin must still be usable
	// for the first half of its life.
	ts := newTokenServer(t, 1)
	clock := newFakeClock()
	m := NewTokenManager(ts.URL, testCreds, WithClock(clock.Now))

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	clock.Advance(400 * time.Millisecond)
	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got := ts.calls.Load(); got != 1 {
		t.Fatalf("token endpoint calls = %d, want 1 before the clamped margin", got)
	}

	clock.Advance(200 * time.Millisecond)
	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok.AccessToken != "tok-2" {
		t.Errorf("AccessToken = %q, want tok-2", tok.AccessToken)
	}
	if got := ts.calls.Load(); got != 2 {
		t.Errorf("token endpoint calls = %d, want 2", got)
	}
}

func TestTokenManager_ServerErrorReturnsAuthError(t *testing.T) {
	ts := newTokenServer(t, 86400)
	ts.fail.Store(true)
	m := NewTokenManager(ts.URL, testCreds)

	_, err := m.Token(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T", err)
	}
	if authErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", authErr.StatusCode)
	}
	if _, ok := m.Current(); ok {
		t.Error("no token should be held after a failed first issuance")
	}

	// The next call retries.
	ts.fail.Store(false)
	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if tok.AccessToken != "tok-2" {
		t.Errorf("AccessToken = %q, want tok-2", tok.AccessToken)
	}
	if got := ts.calls.Load(); got != 2 {
		t.Errorf("token endpoint calls = %d, want 2", got)
	}
}

func TestTokenManager_FailedRefreshWithinMarginKeepsHeldToken(t *testing.T) {
	ts := newTokenServer(t, 100)
	clock := newFakeClock()
	m := NewTokenManager(ts.URL, testCreds, WithClock(clock.Now), WithExpiryMargin(10*time.Second))

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	ts.fail.Store(true)

	// Inside the margin but before expiry: the held token is still served.
	clock.Advance(95 * time.Second)
	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token inside margin failed: %v", err)
	}
	if tok.AccessToken != "tok-1" {
		t.Errorf("AccessToken = %q, want held tok-1", tok.AccessToken)
	}

	// Past expiry: the failure is surfaced and the held token is never served.
	clock.Advance(10 * time.Second)
	_, err = m.Token(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError past expiry, got %v", err)
	}

	held, ok := m.Current()
	if !ok || held.AccessToken != "tok-1" {
		t.Errorf("held token = %q, %v; failed refresh must leave it untouched", held.AccessToken, ok)
	}
}

func TestTokenManager_InvalidResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"missing access_token", 200, `{"expires_in":86400}`, "response has no access_token"},
		{"empty access_token", 200, `{"access_token":"","expires_in":86400}`, "response has no access_token"},
		{"missing expires_in", 200, `{"access_token":"tok"}`, "response has no usable expires_in"},
		{"not json", 200, `<html>`, "invalid token response"},
		{"forbidden", 403, `{"error_code":"EGW00103"}`, "Forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			m := NewTokenManager(server.URL, testCreds)
			_, err := m.Token(context.Background())

			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected *AuthError, got %v", err)
			}
			if authErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", authErr.Message, tt.wantMsg)
			}
			if string(authErr.Body) != tt.body {
				t.Errorf("Body = %q, want %q", authErr.Body, tt.body)
			}
		})
	}
}

func TestTokenManager_ExpiresInAsString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok","expires_in":"3600"}`))
	}))
	defer server.Close()

	clock := newFakeClock()
	m := NewTokenManager(server.URL, testCreds, WithClock(clock.Now))
	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if want := clock.Now().Add(time.Hour); !tok.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, want)
	}
}

func TestTokenManager_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	m := NewTokenManager(url, testCreds, WithHTTPClient(&http.Client{Timeout: time.Second}))
	_, err := m.Token(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if authErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for transport failure", authErr.StatusCode)
	}
	if authErr.Err == nil {
		t.Error("transport cause should be wrapped")
	}
}

func TestTokenManager_ForceRefresh(t *testing.T) {
	ts := newTokenServer(t, 86400)
	m := NewTokenManager(ts.URL, testCreds)

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	tok, err := m.ForceRefresh(context.Background())
	if err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}
	if tok.AccessToken != "tok-2" {
		t.Errorf("AccessToken = %q, want tok-2", tok.AccessToken)
	}

	current, ok := m.Current()
	if !ok || current.AccessToken != "tok-2" {
		t.Errorf("Current() = %q, %v, want tok-2", current.AccessToken, ok)
	}
}

func TestTokenManager_ForceRefreshDoesNotJoinPendingRefresh(t *testing.T) {
	ts := newTokenServer(t, 86400)
	ts.delay.Store(int64(200 * time.Millisecond))
	m := NewTokenManager(ts.URL, testCreds)

	done := make(chan error, 1)
	go func() {
		_, err := m.Token(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	tok, err := m.ForceRefresh(context.Background())
	if err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}
	if tok.AccessToken != "tok-2" {
		t.Errorf("AccessToken = %q, want tok-2", tok.AccessToken)
	}

	if err := <-done; err != nil {
		t.Errorf("Token error = %v", err)
	}
	if got := ts.calls.Load(); got != 2 {
		t.Errorf("token endpoint calls = %d, want 2", got)
	}
}

func TestTokenManager_WaiterCancellation(t *testing.T) {
	ts := newTokenServer(t, 86400)
	ts.delay.Store(int64(200 * time.Millisecond))
	m := NewTokenManager(ts.URL, testCreds)

	// A patient caller starts the refresh.
	done := make(chan error, 1)
	go func() {
		_, err := m.Token(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// An impatient caller gives up without cancelling the shared refresh.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Token(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("impatient caller error = %v, want deadline exceeded", err)
	}

	if err := <-done; err != nil {
		t.Errorf("patient caller error = %v", err)
	}
	if got := ts.calls.Load(); got != 1 {
		t.Errorf("token endpoint calls = %d, want 1", got)
	}
}

func TestToken_Expired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		tok  Token
		want bool
	}{
		{"empty", Token{}, true},
		{"future", Token{AccessToken: "a", ExpiresAt: now.Add(time.Second)}, false},
		{"exactly now", Token{AccessToken: "a", ExpiresAt: now}, true},
		{"past", Token{AccessToken: "a", ExpiresAt: now.Add(-time.Second)}, true},
	}

	for _, tt := range tests {
		if got := tt.tok.Expired(now); got != tt.want {
			t.Errorf("%s: Expired() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
