// Package auth implements credential verification
// Following Hexagonal Architecture: Adapters implement ports defined in core
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/ports"
)

// Ensure JWTVerifier implements CredentialVerifier
var _ ports.CredentialVerifier = (*JWTVerifier)(nil)

// JWTVerifier validates HS256 access tokens issued by the auth layer. This
// core only verifies credentials, it never issues or refreshes them.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier with the shared signing secret
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token, returning the decoded credential.
// Any parse or signature failure maps to the same opaque error: callers
// treat all invalid tokens alike.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*domain.Credential, error) {
	claims := &accessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return &domain.Credential{
		PrincipalID: claims.Subject,
		Role:        domain.Role(claims.Role),
		ExpiresAt:   expiresAt,
	}, nil
}
