// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package identity

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

const testSecret = "0123456789abcdef0123456789abcdef"

func signed(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWTResolver_Resolve(t *testing.T) {
	r, err := NewJWTResolver(testSecret, "host-app")
	if err != nil {
		t.Fatalf("NewJWTResolver: %v", err)
	}
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "host-app",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"
	noSubject := valid
	noSubject.Subject = ""

	tests := []struct {
		name     string
		header   string
		query    string
		wantUser string
		wantErr  error
	}{
		{"bearer header", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte(testSecret), valid), "", "alice", nil},
		{"query token", "", signed(t, jwt.SigningMethodHS256, []byte(testSecret), valid), "alice", nil},
		{"missing", "", "", "", ErrNoCredentials},
		{"not bearer", "Basic abc", "", "", ErrNoCredentials},
		{"expired", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte(testSecret), expired), "", "", ErrExpiredCredentials},
		{"wrong secret", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), valid), "", "", ErrInvalidCredentials},
		{"wrong algorithm", "Bearer " + signed(t, jwt.SigningMethodHS512, []byte(testSecret), valid), "", "", ErrInvalidCredentials},
		{"wrong issuer", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer), "", "", ErrInvalidCredentials},
		{"no subject", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject), "", "", ErrInvalidCredentials},
		{"garbage", "Bearer not.a.token", "", "", ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/ws"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			user, err := r.Resolve(req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if user != tt.wantUser {
				t.Errorf("Resolve() = %q, want %q", user, tt.wantUser)
			}
		})
	}
}

func TestJWTResolver_IssueTokenRoundTrip(t *testing.T) {
	r, err := NewJWTResolver(testSecret, "")
	if err != nil {
		t.Fatalf("NewJWTResolver: %v", err)
	}
	token, err := r.IssueToken("bob", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	user, err := r.Verify(token)
	if err != nil || user != "bob" {
		t.Errorf("Verify() = %q, %v; want bob", user, err)
	}
}

func TestHeaderResolver(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		value   string
		want    string
		wantErr error
	}{
		{"default header", "", "alice", "alice", nil},
		{"custom header", "X-Forwarded-User", "bob", "bob", nil},
		{"blank value", "", "   ", "", ErrNoCredentials},
		{"absent", "", "", "", ErrNoCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewHeaderResolver(tt.header)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.value != "" {
				name := tt.header
				if name == "" {
					name = "X-User-ID"
				}
				req.Header.Set(name, tt.value)
			}
			got, err := r.Resolve(req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.IdentityConfig
		wantMode string
		wantErr  bool
	}{
		{"jwt", config.IdentityConfig{Mode: config.IdentityJWT, JWTSecret: testSecret}, config.IdentityJWT, false},
		{"jwt without secret", config.IdentityConfig{Mode: config.IdentityJWT}, "", true},
		{"header", config.IdentityConfig{Mode: config.IdentityHeader}, config.IdentityHeader, false},
		{"unknown", config.IdentityConfig{Mode: "oauth"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && r.Mode() != tt.wantMode {
				t.Errorf("Mode() = %q, want %q", r.Mode(), tt.wantMode)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	var gotUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	var rejected error
	reject := func(w http.ResponseWriter, _ *http.Request, err error) {
		rejected = err
		w.WriteHeader(http.StatusUnauthorized)
	}
	h := Middleware(NewHeaderResolver(""), reject)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || gotUser != "alice" {
		t.Errorf("resolved request: code=%d user=%q", rec.Code, gotUser)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized || !errors.Is(rejected, ErrNoCredentials) {
		t.Errorf("unresolved request: code=%d err=%v", rec.Code, rejected)
	}
}
