package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestCredentials_Validate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr string
	}{
		{"valid", Credentials{AppKey: "key", AppSecret: "secret"}, ""},
		{"missing key", Credentials{AppSecret: "secret"}, "app key is required"},
		{"missing secret", Credentials{AppKey: "key"}, "app secret is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("abc"); got != "***" {
		t.Errorf("Redact(short) = %q, want ***", got)
	}
	if got := Redact("PS6M6OZYHPcFUdMDi6w5"); got != "PS6M6O***" {
		t.Errorf("Redact(long) = %q, want PS6M6O***", got)
	}
}

func TestAuthError(t *testing.T) {
	t.Run("status error", func(t *testing.T) {
		err := &AuthError{StatusCode: 500, Message: "Internal Server Error"}
		if err.Error() != "kis token error 500: Internal Server Error" {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("wrapped transport error", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := &AuthError{Message: "token request failed", Err: cause}
		if !errors.Is(err, cause) {
			t.Error("errors.Is should find the wrapped cause")
		}
		if !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("Error() = %q, should contain cause", err.Error())
		}
	})

	t.Run("field error", func(t *testing.T) {
		err := &AuthError{Message: "response has no access_token"}
		if err.Error() != "kis token error: response has no access_token" {
			t.Errorf("Error() = %q", err.Error())
		}
	})
}

func TestSeconds_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    seconds
		wantErr bool
	}{
		{`86400`, 86400, false},
		{`"86400"`, 86400, false},
		{`null`, 0, false},
		{`""`, 0, false},
		{`"soon"`, 0, true},
	}

	for _, tt := range tests {
		var s seconds
		err := s.UnmarshalJSON([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("UnmarshalJSON(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && s != tt.want {
			t.Errorf("UnmarshalJSON(%s) = %d, want %d", tt.in, s, tt.want)
		}
	}
}
