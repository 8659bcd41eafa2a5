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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Middleware creates an HTTP middleware that validates JWT tokens.
// Requests without valid tokens receive 401 Unauthorized.
//
// The middleware extracts the token from the Authorization header:
//   - "Bearer <token>" format (preferred)
//   - Raw token (fallback)
//
// Valid claims are stored in the request context and can be retrieved
// using ClaimsFromContext().
func Middleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "Missing Authorization header", http.StatusUnauthorized)
				return
			}

			tokenString := extractToken(authHeader)
			if tokenString == "" {
				writeAuthError(w, "Invalid Authorization format, expected: Bearer <token>", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(r.Context(), tokenString)
			if err != nil {
				writeAuthError(w, fmt.Sprintf("Invalid token: %s", err.Error()), http.StatusUnauthorized)
				return
			}

			ctx := ContextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MiddlewareWithExclusions creates a middleware that skips auth for certain
// paths. Useful for health checks and scrape endpoints.
func MiddlewareWithExclusions(validator TokenValidator, excludedPaths []string) func(http.Handler) http.Handler {
	excludeSet := make(map[string]bool, len(excludedPaths))
	for _, path := range excludedPaths {
		excludeSet[path] = true
	}

	return func(next http.Handler) http.Handler {
		authed := Middleware(validator)(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excludeSet[r.URL.Path] ||
				excludeSet[strings.TrimSuffix(r.URL.Path, "/")] ||
				excludeSet[r.URL.Path+"/"] {
				next.ServeHTTP(w, r)
				return
			}

			authed.ServeHTTP(w, r)
		})
	}
}

// OptionalMiddleware validates tokens if present but doesn't require them.
// If a valid token is present, claims are added to the context.
// If no token is present, the request proceeds without claims.
// If an invalid token is present, the request is rejected.
func OptionalMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			tokenString := extractToken(authHeader)
			if tokenString == "" {
				writeAuthError(w, "Invalid Authorization format", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(r.Context(), tokenString)
			if err != nil {
				writeAuthError(w, fmt.Sprintf("Invalid token: %s", err.Error()), http.StatusUnauthorized)
				return
			}

			ctx := ContextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole creates a middleware that requires one of the given roles.
// Must be used after Middleware() in the chain.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeAuthError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !claims.HasAnyRole(roles...) {
				writeAuthError(w, "Forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireTenant creates a middleware that requires membership in one of the
// given tenants. Must be used after Middleware() in the chain.
func RequireTenant(tenants ...string) func(http.Handler) http.Handler {
	tenantSet := make(map[string]bool, len(tenants))
	for _, t := range tenants {
		tenantSet[t] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeAuthError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !tenantSet[claims.TenantID] {
				writeAuthError(w, "Forbidden: access denied for this tenant", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken extracts the token from an Authorization header.
// Supports "Bearer <token>" and raw token formats.
func extractToken(authHeader string) string {
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return authHeader
}

// writeAuthError writes a JSON error response.
func writeAuthError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
