// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenValidator validates bearer tokens and returns the caller's claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
	Close()
}

// JWTValidatorConfig configures a JWTValidator.
type JWTValidatorConfig struct {
	// JWKSURL is the provider's key set endpoint. Required.
	JWKSURL string

	// Issuer is the expected iss claim. Tokens from other issuers fail.
	Issuer string

	// Audience is the expected aud claim.
	Audience string

	// RefreshInterval is the minimum interval between JWKS refreshes.
	// Default: 15m
	RefreshInterval time.Duration
}

// JWTValidator validates JWT tokens against a provider's JWKS. Keys are
// cached and refreshed in the background to survive provider key rotation.
type JWTValidator struct {
	cfg    JWTValidatorConfig
	cache  *jwk.Cache
	cancel context.CancelFunc
}

var _ TokenValidator = (*JWTValidator)(nil)

// NewJWTValidator builds a validator and performs an initial JWKS fetch so
// misconfiguration surfaces at startup rather than on the first request.
func NewJWTValidator(cfg JWTValidatorConfig) (*JWTValidator, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("jwks_url is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{
		cfg:    cfg,
		cache:  cache,
		cancel: cancel,
	}, nil
}

// ValidateToken verifies the token's signature against the cached JWKS and
// checks expiration, issuer, and audience. On success the extracted claims
// are returned.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.cfg.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	options := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
	}
	if v.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.Parse([]byte(tokenString), options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return claimsFromToken(ctx, token), nil
}

// claimsFromToken maps the token's payload onto Claims. Registered claims
// consumed by validation are not duplicated into Custom.
func claimsFromToken(ctx context.Context, token jwt.Token) *Claims {
	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}

	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			claims.Email = s
		}
	}
	if role, ok := token.Get("role"); ok {
		if s, ok := role.(string); ok {
			claims.Role = s
		}
	}
	if tenantID, ok := token.Get("tenant_id"); ok {
		if s, ok := tenantID.(string); ok {
			claims.TenantID = s
		}
	}

	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		key, ok := pair.Key.(string)
		if !ok {
			continue
		}
		switch key {
		case "sub", "email", "role", "tenant_id", "iss", "aud", "exp", "iat", "nbf":
		default:
			claims.Custom[key] = pair.Value
		}
	}

	return claims
}

// Close stops the background JWKS refresh. Cached keys remain usable, so
// in-flight validation keeps working.
func (v *JWTValidator) Close() {
	v.cancel()
}
