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

// Package auth provides JWT authentication for the admission API.
//
// The package validates bearer tokens against a provider's JWKS (JSON Web
// Key Set) and exposes the caller's identity as Claims on the request
// context. It is provider-agnostic: any issuer that publishes a JWKS
// endpoint (Auth0, Okta, Keycloak, ...) works unchanged.
//
// Configure authentication under the server section:
//
//	server:
//	  auth:
//	    enabled: true
//	    jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	    issuer: "https://auth.example.com"
//	    audience: "quotagate"
//
// Tokens are passed in the Authorization header as "Bearer <token>".
package auth

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsContextKey is the context key for storing validated claims.
	ClaimsContextKey contextKey = "quotagate_auth_claims"
)

// Claims represents the validated claims from a JWT token.
// The structure covers what common identity providers emit while keeping
// everything else reachable through Custom.
type Claims struct {
	// Subject is the unique identifier for the caller (sub claim).
	Subject string `json:"sub"`

	// Email is the caller's email address (if provided).
	Email string `json:"email,omitempty"`

	// Role is the caller's role for authorization decisions.
	Role string `json:"role,omitempty"`

	// TenantID supports multi-tenant deployments.
	TenantID string `json:"tenant_id,omitempty"`

	// Custom contains any additional claims not mapped to struct fields.
	Custom map[string]any `json:"-"`
}

// GetClaim retrieves a custom claim by key.
func (c *Claims) GetClaim(key string) (any, bool) {
	if c.Custom == nil {
		return nil, false
	}
	val, ok := c.Custom[key]
	return val, ok
}

// GetStringClaim retrieves a custom claim as a string.
func (c *Claims) GetStringClaim(key string) string {
	if val, ok := c.GetClaim(key); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// HasRole checks if the caller has a specific role.
func (c *Claims) HasRole(role string) bool {
	return c.Role == role
}

// HasAnyRole checks if the caller has any of the specified roles.
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

// ClaimsFromContext extracts claims from a context.
// Returns nil if no claims are present.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(ClaimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// ContextWithClaims returns a new context with the given claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}
