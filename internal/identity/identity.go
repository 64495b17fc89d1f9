// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package identity resolves the calling user of a request.
//
// Roomsync does not authenticate users itself. It either verifies an HMAC
// JWT minted by the host application (mode "jwt") or trusts a header set by
// an authenticating proxy in front of it (mode "header").
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
)

var (
	// ErrNoCredentials means the request carried nothing to resolve.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidCredentials means the credentials did not verify.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrExpiredCredentials means the token verified but has expired.
	ErrExpiredCredentials = errors.New("credentials expired")
)

// Resolver extracts the user id from a request.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
	Mode() string
}

// New builds the resolver selected by cfg.Mode.
func New(cfg config.IdentityConfig) (Resolver, error) {
	switch cfg.Mode {
	case config.IdentityJWT:
		return NewJWTResolver(cfg.JWTSecret, cfg.Issuer)
	case config.IdentityHeader:
		return NewHeaderResolver(cfg.Header), nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Mode)
	}
}

// JWTResolver verifies HS256 tokens. The sub claim is the user id.
type JWTResolver struct {
	secret []byte
	issuer string
}

// NewJWTResolver creates a resolver. issuer is checked when non-empty.
func NewJWTResolver(secret, issuer string) (*JWTResolver, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but was empty")
	}
	return &JWTResolver{secret: []byte(secret), issuer: issuer}, nil
}

func (j *JWTResolver) Mode() string {
	return config.IdentityJWT
}

// Resolve reads a bearer token from the Authorization header or, for
// browser websocket upgrades that cannot set headers, the token query
// parameter.
func (j *JWTResolver) Resolve(r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", ErrNoCredentials
	}
	return j.Verify(raw)
}

// Verify checks a raw token and returns its subject.
func (j *JWTResolver) Verify(raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredCredentials
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidCredentials)
	}
	return claims.Subject, nil
}

// IssueToken signs a token for userID valid for ttl. The host application
// normally mints tokens; this exists for tooling and tests.
func (j *JWTResolver) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    j.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// HeaderResolver trusts a header set by an upstream proxy.
type HeaderResolver struct {
	header string
}

// NewHeaderResolver reads header, defaulting to X-User-ID.
func NewHeaderResolver(header string) *HeaderResolver {
	if header == "" {
		header = "X-User-ID"
	}
	return &HeaderResolver{header: header}
}

func (h *HeaderResolver) Mode() string {
	return config.IdentityHeader
}

func (h *HeaderResolver) Resolve(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get(h.header))
	if userID == "" {
		return "", ErrNoCredentials
	}
	return userID, nil
}

type contextKey struct{}

// ContextWithUser stores the resolved user id.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext returns the resolved user id, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}

// Middleware resolves the caller and stores it in the request context.
// Requests that fail to resolve are passed to reject.
func Middleware(resolver Resolver, reject func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolver.Resolve(r)
			if err != nil {
				logging.Ctx(r.Context()).Debug().Err(err).Str("mode", resolver.Mode()).Msg("identity not resolved")
				reject(w, r, err)
				return
			}
			ctx := ContextWithUser(r.Context(), userID)
			ctx = logging.ContextWithUserID(ctx, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
