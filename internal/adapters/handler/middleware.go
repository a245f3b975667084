// Package handler implements HTTP request handlers
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/ports"
)

type contextKey string

const (
	principalKey  contextKey = "principal"
	credentialKey contextKey = "credential"
)

// AuthMiddleware verifies the Bearer token and loads the principal into the
// request context. Inactive principals are rejected like missing ones.
type AuthMiddleware struct {
	verifier  ports.CredentialVerifier
	directory ports.PrincipalDirectory
}

// NewAuthMiddleware creates the middleware
func NewAuthMiddleware(verifier ports.CredentialVerifier, directory ports.PrincipalDirectory) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, directory: directory}
}

// Wrap returns next guarded by the authentication check
func (m *AuthMiddleware) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			WriteError(w, http.StatusUnauthorized, "Access token required")
			return
		}

		cred, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, "Invalid access token")
			return
		}

		principal, err := m.directory.GetPrincipal(r.Context(), cred.PrincipalID)
		if err != nil || !principal.IsActive {
			slog.Warn("Rejected request from unknown or inactive principal",
				"principal_id", cred.PrincipalID,
			)
			WriteError(w, http.StatusUnauthorized, "Invalid user")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		ctx = context.WithValue(ctx, credentialKey, cred)
		next(w, r.WithContext(ctx))
	}
}

// RequireRole further restricts a wrapped handler to the given roles
func (m *AuthMiddleware) RequireRole(next http.HandlerFunc, roles ...domain.Role) http.HandlerFunc {
	return m.Wrap(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFrom(r.Context())
		for _, role := range roles {
			if p.Role == role {
				next(w, r)
				return
			}
		}
		WriteError(w, http.StatusForbidden, "Insufficient permissions")
	})
}

// PrincipalFrom returns the authenticated principal stored by the middleware
func PrincipalFrom(ctx context.Context) *domain.Principal {
	p, _ := ctx.Value(principalKey).(*domain.Principal)
	return p
}

// CredentialFrom returns the verified credential stored by the middleware
func CredentialFrom(ctx context.Context) *domain.Credential {
	c, _ := ctx.Value(credentialKey).(*domain.Credential)
	return c
}
