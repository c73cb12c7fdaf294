// Package auth validates the signed bearer token presented during the
// connection handshake. Tokens are HMAC-SHA256 JWTs carrying the user id,
// role and display name; verification failure is terminal for the
// connection attempt.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"coachline/pkg/types"
)

// minSecretLen is the minimum HS256 secret length accepted at construction.
const minSecretLen = 32

// Claims are the JWT claims carried by a connection token.
type Claims struct {
	Role        string `json:"role"`
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier implements interfaces.TokenVerifier over HS256 JWTs signed
// with a shared secret.
type Verifier struct {
	secret   []byte
	tokenTTL time.Duration
}

// NewVerifier constructs a Verifier. The secret must be at least 32 bytes.
func NewVerifier(secret string, tokenTTL time.Duration) (*Verifier, error) {
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	return &Verifier{secret: []byte(secret), tokenTTL: tokenTTL}, nil
}

// Verify checks the token's signature, expiry and claims and returns the
// identity to attach to the connection.
func (v *Verifier) Verify(token string) (types.Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return types.Identity{}, ErrInvalidToken
	}

	if !types.IsValidID(claims.Subject) {
		return types.Identity{}, ErrMissingSubject
	}
	if !types.IsValidRole(claims.Role) {
		return types.Identity{}, ErrInvalidRoleClaim
	}

	name := claims.DisplayName
	if name == "" {
		name = claims.Subject
	}

	return types.Identity{
		UserID:      claims.Subject,
		Role:        claims.Role,
		DisplayName: name,
	}, nil
}

// Issue mints a signed token for an identity, valid for the configured
// TTL. Used by the platform's session layer and by tests.
func (v *Verifier) Issue(identity types.Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role:        identity.Role,
		DisplayName: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
