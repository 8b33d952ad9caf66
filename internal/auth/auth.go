// Package auth provides JWT-based workspace authentication for promptdeck.
//
// Tokens are signed with HMAC-SHA256. Every claim set carries the
// workspace the caller belongs to; all data access is scoped to it.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims extends jwt.RegisteredClaims with the workspace binding.
type Claims struct {
	jwt.RegisteredClaims
	WorkspaceID uuid.UUID `json:"workspace_id"`
}

// JWTManager handles JWT creation and validation.
type JWTManager struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTManager creates a JWTManager from a shared secret.
// If the secret is empty, an ephemeral one is generated (for development;
// tokens do not survive a restart).
func NewJWTManager(secret string, expiration time.Duration) (*JWTManager, error) {
	if secret == "" {
		slog.Warn("auth: no JWT secret configured, generating ephemeral secret (not for production)")
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("auth: generate secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
	}
	return &JWTManager{secret: []byte(secret), expiration: expiration}, nil
}

// IssueToken creates a signed JWT bound to a workspace.
func (m *JWTManager) IssueToken(workspaceID uuid.UUID, subject string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "promptdeck",
			Audience:  jwt.ClaimStrings{"promptdeck"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		WorkspaceID: workspaceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and verifies a JWT, returning its claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer("promptdeck"),
		jwt.WithAudience("promptdeck"),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if claims.WorkspaceID == uuid.Nil {
		return nil, fmt.Errorf("auth: token has no workspace")
	}
	return claims, nil
}
