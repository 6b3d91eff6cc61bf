package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomTokenAudience is the aud every custom token must carry.
const CustomTokenAudience = "authstate/custom-token"

// CustomClaims are minted by a trusted application server and exchanged by the
// client for an ID token.
type CustomClaims struct {
	jwt.RegisteredClaims

	UID    string         `json:"uid"`
	Claims map[string]any `json:"claims,omitempty"`
}

// SignCustomToken signs a custom token for uid with the shared HS256 secret.
func SignCustomToken(secret []byte, issuer, uid string, ttl time.Duration, now time.Time) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("%w: empty uid", ErrInvalidClaim)
	}
	c := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{CustomTokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID: uid,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}

// VerifyCustomToken checks a custom token's signature, audience and expiry
// against now and returns its claims.
func VerifyCustomToken(secret []byte, token string, now time.Time) (*CustomClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(CustomTokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var claims CustomClaims
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return nil, ErrAudience
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrInvalidSig
	default:
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if claims.UID == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrInvalidClaim)
	}
	return &claims, nil
}
